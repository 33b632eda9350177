package notifier

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
)

// TelegramSink はTelegram Bot APIに通知を送信するシンク。
type TelegramSink struct {
	bot    *bot.Bot
	chatID int64
}

// NewTelegramSink はTelegramSinkの新しいインスタンスを生成する。
// tokenはBotFatherが発行するボットトークン、chatIDは送信先チャットを指定する。
func NewTelegramSink(token string, chatID int64) (*TelegramSink, error) {
	b, err := bot.New(token)
	if err != nil {
		return nil, fmt.Errorf("Telegramボットの初期化に失敗しました: %w", err)
	}
	return &TelegramSink{bot: b, chatID: chatID}, nil
}

// Send は通知メッセージをチャットに送信する。
func (s *TelegramSink) Send(ctx context.Context, text string) error {
	_, err := s.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: s.chatID,
		Text:   text,
	})
	if err != nil {
		return fmt.Errorf("Telegramメッセージの送信に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ Sink = (*TelegramSink)(nil)
