// Package mail delivers queued mail jobs.
package mail

import (
	"context"
	"fmt"
	"log/slog"

	gomail "github.com/wneessen/go-mail"

	"github.com/flicky/storefront-api/internal/model"
)

type Sender interface {
	Send(ctx context.Context, job model.MailJob) error
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type SMTPSender struct {
	cfg  SMTPConfig
	opts []gomail.Option
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}
	return &SMTPSender{cfg: cfg, opts: opts}
}

func (s *SMTPSender) Send(ctx context.Context, job model.MailJob) error {
	msg, err := buildMessage(s.cfg.From, job)
	if err != nil {
		return err
	}

	client, err := gomail.NewClient(s.cfg.Host, s.opts...)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

func buildMessage(from string, job model.MailJob) (*gomail.Msg, error) {
	msg := gomail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("set from: %w", err)
	}
	if err := msg.To(job.To); err != nil {
		return nil, fmt.Errorf("set to: %w", err)
	}
	msg.Subject(job.Subject)
	msg.SetBodyString(gomail.TypeTextPlain, job.Body)
	return msg, nil
}

// LogSender only logs jobs. It stands in for SMTP when no host is configured.
type LogSender struct {
	log *slog.Logger
}

func NewLogSender(log *slog.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) Send(_ context.Context, job model.MailJob) error {
	s.log.Info("mail delivery skipped, no smtp host", "mail_id", job.ID, "to", job.To, "subject", job.Subject)
	return nil
}
