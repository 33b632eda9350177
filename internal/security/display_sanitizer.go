// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// DisplaySanitizerService は相場サービス由来の表示文字列のサニタイズ機能の
// インターフェースを定義する。出品者名やアイテム表示名はリモート入力のため、
// UIに渡す前にタグやスクリプトを除去する。
type DisplaySanitizerService interface {
	// Sanitize は表示文字列からHTMLタグを全て除去しプレーンテキストを返す。
	// HTMLエンティティはデコードし、前後の空白を取り除く。
	// 空文字列の入力には空文字列を返す。同一入力に対して常に同一出力を返す。
	Sanitize(raw string) string
}

// displaySanitizer はDisplaySanitizerServiceの実装。
// bluemondayのStrictPolicyを保持し、スレッドセーフにサニタイズ処理を行う。
type displaySanitizer struct {
	policy *bluemonday.Policy
}

// NewDisplaySanitizer はDisplaySanitizerServiceの新しいインスタンスを生成する。
// StrictPolicyは全てのタグと属性を除去し、テキストのみを通過させる。
func NewDisplaySanitizer() *displaySanitizer {
	return &displaySanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は表示文字列をサニタイズしてプレーンテキストを返す。
func (s *displaySanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	// StrictPolicyの出力はエンティティエンコードされるため、表示用にデコードする
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(raw)))
}
