package security

import (
	"testing"
	"time"
)

func TestValidateBaseURL_AllowsPublicHTTPS(t *testing.T) {
	g := NewOutboundGuard()

	if err := g.ValidateBaseURL("https://market.example.com/api"); err != nil {
		t.Errorf("公開HTTPSのURLは許可されるべき: %v", err)
	}
}

func TestValidateBaseURL_RejectsEmptyURL(t *testing.T) {
	g := NewOutboundGuard()

	if err := g.ValidateBaseURL(""); err == nil {
		t.Error("空のURLは拒否されるべき")
	}
}

func TestValidateBaseURL_RejectsDisallowedScheme(t *testing.T) {
	g := NewOutboundGuard()

	cases := []string{
		"ftp://market.example.com",
		"file:///etc/passwd",
		"javascript:alert(1)",
	}
	for _, raw := range cases {
		if err := g.ValidateBaseURL(raw); err == nil {
			t.Errorf("スキーム %q は拒否されるべき", raw)
		}
	}
}

func TestValidateBaseURL_RejectsPrivateIPs(t *testing.T) {
	g := NewOutboundGuard()

	cases := []string{
		"http://10.0.0.5",
		"http://172.16.0.1",
		"http://192.168.1.1",
		"http://127.0.0.1:8080",
		"http://169.254.169.254",
		"http://[::1]",
	}
	for _, raw := range cases {
		if err := g.ValidateBaseURL(raw); err == nil {
			t.Errorf("プライベート/ループバックIPのURL %q は拒否されるべき", raw)
		}
	}
}

func TestValidateBaseURL_RejectsLocalhost(t *testing.T) {
	g := NewOutboundGuard()

	if err := g.ValidateBaseURL("http://localhost:8080"); err == nil {
		t.Error("localhostは拒否されるべき")
	}
}

func TestNewSafeClient_ReturnsClientWithTimeout(t *testing.T) {
	g := NewOutboundGuard()

	client := g.NewSafeClient(10 * time.Second)
	if client == nil {
		t.Fatal("NewSafeClient は nil を返してはならない")
	}
}
