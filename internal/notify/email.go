package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	mail "github.com/wneessen/go-mail"
)

// TLSMode determines how the SMTP client should negotiate TLS.
type TLSMode string

const (
	TLSModeAuto     TLSMode = "auto"
	TLSModeDisabled TLSMode = "disabled"
	TLSModeStartTLS TLSMode = "starttls"
	TLSModeImplicit TLSMode = "implicit"
)

type EmailOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	TLSMode  string
	From     string
	To       []string
}

// EmailSender mails each item as a plain text message.
type EmailSender struct {
	opts EmailOptions
	mode TLSMode
}

func NewEmailSender(opts EmailOptions) (*EmailSender, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if len(opts.To) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}
	if opts.Port <= 0 {
		opts.Port = 587
	}
	if opts.From == "" {
		opts.From = opts.Username
	}
	mode, err := ParseTLSMode(opts.TLSMode)
	if err != nil {
		return nil, err
	}
	if mode == TLSModeAuto {
		if opts.Port == 465 {
			mode = TLSModeImplicit
		} else {
			mode = TLSModeStartTLS
		}
	}
	return &EmailSender{opts: opts, mode: mode}, nil
}

// ParseTLSMode normalizes the TLS mode string.
func ParseTLSMode(mode string) (TLSMode, error) {
	switch strings.TrimSpace(strings.ToLower(mode)) {
	case "", "auto":
		return TLSModeAuto, nil
	case "disabled", "off", "none":
		return TLSModeDisabled, nil
	case "starttls", "start_tls":
		return TLSModeStartTLS, nil
	case "implicit", "ssl", "smtps":
		return TLSModeImplicit, nil
	default:
		return "", fmt.Errorf("invalid smtp tls mode %q", mode)
	}
}

func (s *EmailSender) buildMessage(msg Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(s.opts.From); err != nil {
		return nil, fmt.Errorf("invalid from address %q: %w", s.opts.From, err)
	}
	if err := m.To(s.opts.To...); err != nil {
		return nil, fmt.Errorf("invalid to address(es) %v: %w", s.opts.To, err)
	}
	m.Subject(msg.Title)

	body := msg.Body
	if msg.URL != "" {
		body += "\n\n" + msg.URL
	}
	m.SetBodyString(mail.TypeTextPlain, body)
	return m, nil
}

func (s *EmailSender) clientOptions() []mail.Option {
	opts := []mail.Option{
		mail.WithPort(s.opts.Port),
		mail.WithTLSConfig(&tls.Config{
			ServerName: s.opts.Host,
			MinVersion: tls.VersionTLS12,
		}),
	}
	switch s.mode {
	case TLSModeDisabled:
		opts = append(opts, mail.WithTLSPortPolicy(mail.NoTLS))
	case TLSModeImplicit:
		opts = append(opts, mail.WithSSL())
	default:
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSMandatory))
	}
	if s.opts.Username != "" {
		opts = append(opts,
			mail.WithUsername(s.opts.Username),
			mail.WithPassword(s.opts.Password),
			mail.WithSMTPAuth(mail.SMTPAuthAutoDiscover),
		)
	}
	return opts
}

func (s *EmailSender) Send(ctx context.Context, msg Message) error {
	m, err := s.buildMessage(msg)
	if err != nil {
		return err
	}
	client, err := mail.NewClient(s.opts.Host, s.clientOptions()...)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}
