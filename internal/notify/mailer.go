// Package notify renders and delivers request workflow emails.
package notify

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Message is one email with plain text and HTML alternatives.
type Message struct {
	From    string
	To      []string
	Subject string
	Text    string
	HTML    string
}

// Mailer delivers a message.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig holds SMTP server settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

// SMTPMailer sends through an SMTP relay, using PLAIN auth when a username
// is configured.
type SMTPMailer struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPMailer returns a mailer for cfg.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPMailer{cfg: cfg, send: smtp.SendMail}
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(msg.To) == 0 {
		return nil
	}
	if m.cfg.Host == "" {
		return fmt.Errorf("smtp host not configured")
	}
	body, err := Encode(msg, time.Now())
	if err != nil {
		return err
	}
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	from, to := bareAddress(msg.From), make([]string, len(msg.To))
	for i, a := range msg.To {
		to[i] = bareAddress(a)
	}
	if err := m.send(addr, auth, from, to, body); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// Encode renders msg as a multipart/alternative RFC 5322 message. Addresses
// must parse as RFC 5322 mailboxes; the subject is folded onto one line and
// Q-encoded when it is not plain ASCII.
func Encode(msg Message, date time.Time) ([]byte, error) {
	from, err := formatAddress(msg.From)
	if err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}
	to := make([]string, 0, len(msg.To))
	for _, a := range msg.To {
		addr, err := formatAddress(a)
		if err != nil {
			return nil, fmt.Errorf("to: %w", err)
		}
		to = append(to, addr)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	boundary := mw.Boundary()

	var head bytes.Buffer
	fmt.Fprintf(&head, "From: %s\r\n", from)
	fmt.Fprintf(&head, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&head, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", HeaderText(msg.Subject)))
	fmt.Fprintf(&head, "Date: %s\r\n", date.Format(time.RFC1123Z))
	fmt.Fprintf(&head, "Message-ID: <%s@strainboard>\r\n", messageID())
	head.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&head, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary)

	parts := []struct{ ctype, body string }{
		{"text/plain; charset=utf-8", msg.Text},
		{"text/html; charset=utf-8", msg.HTML},
	}
	for _, p := range parts {
		if p.body == "" {
			continue
		}
		h := textproto.MIMEHeader{}
		h.Set("Content-Type", p.ctype)
		h.Set("Content-Transfer-Encoding", "quoted-printable")
		w, err := mw.CreatePart(h)
		if err != nil {
			return nil, err
		}
		qp := quotedprintable.NewWriter(w)
		if _, err := qp.Write([]byte(p.body)); err != nil {
			return nil, err
		}
		if err := qp.Close(); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return append(head.Bytes(), buf.Bytes()...), nil
}

// HeaderText collapses whitespace runs, line breaks included, to single
// spaces so s fits on one header line.
func HeaderText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// formatAddress validates a mailbox and renders it with a Q-encoded
// display name when one is present.
func formatAddress(s string) (string, error) {
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return "", fmt.Errorf("invalid address %q: %w", s, err)
	}
	if addr.Name == "" {
		return addr.Address, nil
	}
	return addr.String(), nil
}

// bareAddress strips the display name for the SMTP envelope. Callers have
// already validated s through Encode.
func bareAddress(s string) string {
	if addr, err := mail.ParseAddress(s); err == nil {
		return addr.Address
	}
	return s
}

func messageID() string {
	var b [12]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// LogMailer writes messages to the log instead of sending them.
type LogMailer struct {
	Logger *zap.Logger
}

func (m LogMailer) Send(_ context.Context, msg Message) error {
	logger := m.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("email",
		zap.String("from", msg.From),
		zap.Strings("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("text", msg.Text))
	return nil
}
