// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind は相場サービス呼び出し失敗の分類を表す。
type ErrorKind string

const (
	// ErrorKindRateLimited は一時的なレート制限による失敗。
	// 該当アイテムのみバックオフ後に再試行される。
	ErrorKindRateLimited ErrorKind = "rate_limited"
	// ErrorKindLockout はエスカレートしたロックアウトによる失敗。
	// 期限が切れるまで全アイテムのリフレッシュが停止する。
	ErrorKindLockout ErrorKind = "lockout"
	// ErrorKindNetwork はネットワーク障害またはタイムアウトによる失敗。
	ErrorKindNetwork ErrorKind = "network"
	// ErrorKindParse は相場サービスのレスポンスが不正な場合の失敗。
	ErrorKindParse ErrorKind = "parse"
)

// MarketError は相場サービス呼び出しの分類済みエラーを表す。
// 検索結果0件はエラーではなく、空のDealsを持つ成功として扱う。
type MarketError struct {
	Kind    ErrorKind
	Message string
	// RetryAfter はレート制限時にサービスが提示した再試行までの待機時間。
	// 提示がない場合は0。
	RetryAfter time.Duration
	// LockedUntil はロックアウト時にサービスが提示した解除時刻。
	// 提示がない場合はゼロ値。
	LockedUntil time.Time
}

// Error はerrorインターフェースを実装する。
func (e *MarketError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// NewRateLimitedError はレート制限エラーを生成する。
// retryAfterはサービスが提示した待機時間（不明な場合は0）。
func NewRateLimitedError(retryAfter time.Duration) *MarketError {
	return &MarketError{
		Kind:       ErrorKindRateLimited,
		Message:    "相場サービスのレート制限に達しました",
		RetryAfter: retryAfter,
	}
}

// NewLockoutError はロックアウトエラーを生成する。
// untilはサービスが提示した解除時刻（不明な場合はゼロ値）。
func NewLockoutError(until time.Time) *MarketError {
	return &MarketError{
		Kind:        ErrorKindLockout,
		Message:     "相場サービスからロックアウトされました",
		LockedUntil: until,
	}
}

// NewNetworkError はネットワーク障害エラーを生成する。
func NewNetworkError(cause error) *MarketError {
	return &MarketError{
		Kind:    ErrorKindNetwork,
		Message: fmt.Sprintf("相場サービスへのリクエストに失敗しました: %s", cause),
	}
}

// NewParseError はレスポンス解析失敗エラーを生成する。
func NewParseError(cause error) *MarketError {
	return &MarketError{
		Kind:    ErrorKindParse,
		Message: fmt.Sprintf("相場サービスのレスポンスの解析に失敗しました: %s", cause),
	}
}

// AsMarketError はエラーチェーンからMarketErrorを取り出す。
// MarketErrorでない場合はネットワーク障害として分類する。
func AsMarketError(err error) *MarketError {
	var me *MarketError
	if errors.As(err, &me) {
		return me
	}
	return NewNetworkError(err)
}
