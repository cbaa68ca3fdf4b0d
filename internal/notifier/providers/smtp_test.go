package providers

import (
	"context"
	"net/smtp"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/renew4me/internal/types"
)

type sentMail struct {
	addr string
	auth smtp.Auth
	from string
	to   []string
	body string
}

func newTestSMTP(user string) (*SMTPSender, *[]sentMail) {
	var sent []sentMail
	s := NewSMTPSender("mail.example.com", 587, user, "pw", "bot@example.com", "me@example.com")
	s.now = func() time.Time { return time.Date(2026, 10, 15, 6, 0, 0, 0, time.UTC) }
	s.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		sent = append(sent, sentMail{addr: addr, auth: a, from: from, to: to, body: string(msg)})
		return nil
	}
	return s, &sent
}

func TestSMTP_TextOnly(t *testing.T) {
	s, sent := newTestSMTP("bot")

	require.NoError(t, s.Send(context.Background(), types.Message{Text: "✅ Renewal completed: https://x.test/server/1"}))

	require.Len(t, *sent, 1)
	m := (*sent)[0]
	assert.Equal(t, "mail.example.com:587", m.addr)
	assert.NotNil(t, m.auth)
	assert.Equal(t, "bot@example.com", m.from)
	assert.Equal(t, []string{"me@example.com"}, m.to)
	assert.Contains(t, m.body, "Subject: =?utf-8?b?")
	assert.Contains(t, m.body, "text/plain")
	assert.Contains(t, m.body, "https://x.test/server/1")
	assert.NotContains(t, m.body, "image/png")
}

func TestSMTP_AttachesScreenshot(t *testing.T) {
	s, sent := newTestSMTP("")
	shot := filepath.Join(t.TempDir(), "error_screenshot.png")
	require.NoError(t, os.WriteFile(shot, []byte("png"), 0644))

	require.NoError(t, s.Send(context.Background(), types.Message{Text: "❌ boom", Screenshot: shot}))

	require.Len(t, *sent, 1)
	m := (*sent)[0]
	assert.Nil(t, m.auth, "no auth without a username")
	assert.Contains(t, m.body, "Content-Type: image/png")
	assert.Contains(t, m.body, `filename="error_screenshot.png"`)
	assert.Contains(t, m.body, "cG5n") // base64 of "png"
	assert.Contains(t, m.body, `src="cid:screenshot"`)
}

func TestSMTP_CancelledContext(t *testing.T) {
	s, sent := newTestSMTP("bot")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.Send(ctx, types.Message{Text: "x"}), context.Canceled)
	assert.Empty(t, *sent)
}

func TestWriteBase64Lines(t *testing.T) {
	var b strings.Builder
	writeBase64Lines(&b, make([]byte, 120))

	lines := strings.Split(strings.TrimSuffix(b.String(), "\r\n"), "\r\n")
	require.Len(t, lines, 3)
	for _, line := range lines {
		assert.LessOrEqual(t, len(line), 76)
	}
}
