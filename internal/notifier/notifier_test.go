package notifier

import (
	"bytes"
	"context"
	"os"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/renew4me/internal/config"
	"github.com/ibeckermayer/renew4me/internal/logging"
	"github.com/ibeckermayer/renew4me/internal/types"
)

type recordingSender struct {
	name string
	err  error

	mu   sync.Mutex
	sent []types.Message
}

func (s *recordingSender) Name() string { return s.name }

func (s *recordingSender) Send(_ context.Context, msg types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return s.err
}

func TestNotify_FansOut(t *testing.T) {
	a := &recordingSender{name: "a"}
	b := &recordingSender{name: "b", err: errors.New("smtp down")}
	n := New(a, b)

	msg := types.Message{Outcome: types.OutcomeSuccess, Text: "✅"}
	assert.NotPanics(t, func() { n.Notify(context.Background(), msg) })

	assert.Equal(t, []types.Message{msg}, a.sent)
	assert.Equal(t, []types.Message{msg}, b.sent, "a failing channel still got its one attempt")
}

func TestNotify_LogsFailedChannels(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, logging.Set(logging.Output(&buf)))
	defer func() { _ = logging.Set(logging.Output(os.Stderr)) }()

	ok := &recordingSender{name: "telegram"}
	down := &recordingSender{name: "email", err: errors.New("smtp down")}
	New(ok, down).Notify(context.Background(), types.Message{Outcome: types.OutcomeFailure, Text: "❌"})

	out := buf.String()
	assert.Contains(t, out, "notification not delivered on every channel")
	assert.Contains(t, out, "email: smtp down")
	assert.Len(t, ok.sent, 1)

	buf.Reset()
	New(ok).Notify(context.Background(), types.Message{Outcome: types.OutcomeSuccess, Text: "✅"})
	assert.NotContains(t, buf.String(), "not delivered")
}

func TestNotify_NoSenders(t *testing.T) {
	n := New()
	assert.Empty(t, n.Senders())
	assert.NotPanics(t, func() { n.Notify(context.Background(), types.Message{Text: "x"}) })
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.Default()
	assert.Empty(t, NewFromConfig(cfg).Senders())

	cfg.Telegram.Token = "t"
	cfg.Telegram.ChatID = "1"
	assert.Equal(t, []string{"telegram"}, NewFromConfig(cfg).Senders())

	cfg.Email.SMTPHost = "mail.example.com"
	cfg.Email.FromAddr = "bot@example.com"
	cfg.Email.ToAddr = "me@example.com"
	assert.Equal(t, []string{"telegram", "email"}, NewFromConfig(cfg).Senders())
}
