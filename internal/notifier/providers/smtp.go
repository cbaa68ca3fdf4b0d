package providers

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"net/smtp"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/ibeckermayer/renew4me/internal/report"
	"github.com/ibeckermayer/renew4me/internal/types"
)

const (
	mixedBoundary = "renew4me-mixed"
	altBoundary   = "renew4me-alt"
	screenshotCID = "screenshot"
)

// SMTPSender sends emails via SMTP
type SMTPSender struct {
	host     string
	port     int
	username string
	password string
	from     string
	to       string

	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	now  func() time.Time
}

// NewSMTPSender creates a new SMTP sender
func NewSMTPSender(host string, port int, username, password, from, to string) *SMTPSender {
	return &SMTPSender{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		to:       to,
		send:     smtp.SendMail,
		now:      time.Now,
	}
}

func (s *SMTPSender) Name() string { return "email" }

// Send mails the message with the screenshot, if any, attached inline.
// net/smtp has no context support; ctx is only checked before dialing.
func (s *SMTPSender) Send(ctx context.Context, msg types.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// An unreadable screenshot still leaves the text worth sending
	var image []byte
	if msg.Screenshot != "" {
		if b, err := os.ReadFile(msg.Screenshot); err == nil {
			image = b
		}
	}

	cid := ""
	if image != nil {
		cid = screenshotCID
	}
	mail, err := report.Email(msg.Text, cid, s.now())
	if err != nil {
		return err
	}

	body := s.build(mail, filepath.Base(msg.Screenshot), image)

	var auth smtp.Auth
	if s.username != "" {
		auth = smtp.PlainAuth("", s.username, s.password, s.host)
	}

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	if err := s.send(addr, auth, s.from, []string{s.to}, body); err != nil {
		return errors.Wrap(err, "failed to send email")
	}
	return nil
}

// build assembles a multipart/mixed message: an alternative text/html part
// followed by the optional PNG attachment.
func (s *SMTPSender) build(mail *report.Mail, filename string, image []byte) []byte {
	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s\r\n", s.from))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", s.to))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.BEncoding.Encode("utf-8", mail.Subject)))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString(fmt.Sprintf("Content-Type: multipart/mixed; boundary=%q\r\n", mixedBoundary))
	msg.WriteString("\r\n")

	msg.WriteString("--" + mixedBoundary + "\r\n")
	msg.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=%q\r\n", altBoundary))
	msg.WriteString("\r\n")

	// Plain text part
	msg.WriteString("--" + altBoundary + "\r\n")
	msg.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(mail.PlainBody)
	msg.WriteString("\r\n")

	// HTML part
	msg.WriteString("--" + altBoundary + "\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(mail.HTMLBody)
	msg.WriteString("\r\n")
	msg.WriteString("--" + altBoundary + "--\r\n")

	if image != nil {
		msg.WriteString("--" + mixedBoundary + "\r\n")
		msg.WriteString("Content-Type: image/png\r\n")
		msg.WriteString("Content-Transfer-Encoding: base64\r\n")
		msg.WriteString(fmt.Sprintf("Content-ID: <%s>\r\n", screenshotCID))
		msg.WriteString(fmt.Sprintf("Content-Disposition: inline; filename=%q\r\n", filename))
		msg.WriteString("\r\n")
		writeBase64Lines(&msg, image)
	}

	msg.WriteString("--" + mixedBoundary + "--\r\n")
	return []byte(msg.String())
}

// writeBase64Lines wraps the encoding at 76 columns as RFC 2045 requires.
func writeBase64Lines(b *strings.Builder, data []byte) {
	enc := base64.StdEncoding.EncodeToString(data)
	for len(enc) > 76 {
		b.WriteString(enc[:76])
		b.WriteString("\r\n")
		enc = enc[76:]
	}
	b.WriteString(enc)
	b.WriteString("\r\n")
}
