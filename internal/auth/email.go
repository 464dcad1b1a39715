package auth

import (
	"context"
	"fmt"
	"io"
	"net/smtp"
	"os"
	"strings"
	"time"
)

type CodeMailer interface {
	SendCode(ctx context.Context, email, code string) error
}

type SMTPMailer struct {
	host    string
	port    int
	user    string
	pass    string
	from    string
	codeTTL time.Duration
}

type SMTPConfig struct {
	Host    string
	Port    int
	User    string
	Pass    string
	From    string
	CodeTTL time.Duration
}

// NewSMTPMailer returns nil when SMTP is not configured.
func NewSMTPMailer(cfg SMTPConfig) CodeMailer {
	if strings.TrimSpace(cfg.Host) == "" || cfg.Port <= 0 || strings.TrimSpace(cfg.From) == "" {
		return nil
	}
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = 10 * time.Minute
	}
	return &SMTPMailer{
		host:    strings.TrimSpace(cfg.Host),
		port:    cfg.Port,
		user:    strings.TrimSpace(cfg.User),
		pass:    cfg.Pass,
		from:    strings.TrimSpace(cfg.From),
		codeTTL: cfg.CodeTTL,
	}
}

func (m *SMTPMailer) SendCode(ctx context.Context, email, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	addr := fmt.Sprintf("%s:%d", m.host, m.port)

	subject := "Your AEP Blueprint sign-in code"
	body := fmt.Sprintf("Your sign-in code is %s.\nIt expires in %d minutes. Do not share it.", code, int(m.codeTTL.Minutes()))
	msg := "From: " + m.from + "\r\n" +
		"To: " + email + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n\r\n" +
		body + "\r\n"

	var auth smtp.Auth
	if m.user != "" {
		auth = smtp.PlainAuth("", m.user, m.pass, m.host)
	}

	if err := smtp.SendMail(addr, auth, m.from, []string{email}, []byte(msg)); err != nil {
		return fmt.Errorf("smtp send login code: %w", err)
	}
	return nil
}

// LogMailer prints codes instead of mailing them. Development only.
type LogMailer struct {
	w io.Writer
}

func NewLogMailer(w io.Writer) *LogMailer {
	if w == nil {
		w = os.Stdout
	}
	return &LogMailer{w: w}
}

func (m *LogMailer) SendCode(_ context.Context, email, code string) error {
	_, err := fmt.Fprintf(m.w, "[DEV-LOGIN-CODE] email=%s code=%s\n", email, code)
	return err
}
