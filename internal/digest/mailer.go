package digest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/resendlabs/resend-go"
)

// Message は配信するメール1通。
type Message struct {
	To      []string
	Subject string
	Text    string
	HTML    string
}

// Mailer はダイジェストを配信する。
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// ErrNoRecipients は宛先がないことを表す。
var ErrNoRecipients = errors.New("digest has no recipients")

// ResendMailer はResend APIでメールを送る。
type ResendMailer struct {
	client *resend.Client
	from   string
}

// NewResendMailer はResendMailerを生成する。APIキーが空の場合はエラー。
func NewResendMailer(apiKey, from string) (*ResendMailer, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("RESEND_API_KEY is required for e-mail delivery")
	}
	return &ResendMailer{client: resend.NewClient(apiKey), from: from}, nil
}

// Send はメールを送る。resend-goはcontextを受け取らないため、送信前にキャンセルだけ確認する。
func (m *ResendMailer) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return ErrNoRecipients
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := m.client.Emails.Send(&resend.SendEmailRequest{
		From:    m.from,
		To:      msg.To,
		Subject: msg.Subject,
		Html:    msg.HTML,
		Text:    msg.Text,
	})
	if err != nil {
		return fmt.Errorf("send digest via Resend: %w", err)
	}
	return nil
}

// LogMailer はメールを送らずにログへ出力する。APIキー未設定時の配信先。
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer はLogMailerを生成する。
func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

// Send はメッセージの概要をINFOで記録する。
func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	m.logger.Info("ダイジェストを配信しました（ログ出力のみ）",
		slog.Any("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.Int("text_bytes", len(msg.Text)),
	)
	return nil
}
