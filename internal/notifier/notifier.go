package notifier

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/ibeckermayer/renew4me/internal/config"
	"github.com/ibeckermayer/renew4me/internal/logging"
	"github.com/ibeckermayer/renew4me/internal/notifier/providers"
	"github.com/ibeckermayer/renew4me/internal/types"
)

// Notifier fans outcome messages out to every configured channel
type Notifier struct {
	senders []Sender
	log     logging.Logger
}

// Sender delivers one message over a single channel
type Sender interface {
	Name() string
	Send(ctx context.Context, msg types.Message) error
}

// New creates a new notifier with the given senders
func New(senders ...Sender) *Notifier {
	return &Notifier{senders: senders, log: logging.New("notifier")}
}

// NewFromConfig creates a notifier for every channel the configuration enables
func NewFromConfig(cfg *config.Config) *Notifier {
	var senders []Sender

	if cfg.Telegram.Enabled() {
		senders = append(senders, providers.NewTelegram(
			cfg.Telegram.APIBase,
			cfg.Telegram.Token,
			cfg.Telegram.ChatID,
			nil,
		))
	}
	if cfg.Email.Enabled() {
		senders = append(senders, providers.NewSMTPSender(
			cfg.Email.SMTPHost,
			cfg.Email.SMTPPort,
			cfg.Email.SMTPUser,
			cfg.Email.SMTPPass,
			cfg.Email.FromAddr,
			cfg.Email.ToAddr,
		))
	}

	return New(senders...)
}

// Senders returns the names of the active channels
func (n *Notifier) Senders() []string {
	names := make([]string, 0, len(n.senders))
	for _, s := range n.senders {
		names = append(names, s.Name())
	}
	return names
}

// Notify delivers msg on all channels concurrently. A failing channel never
// stops the others; failures are logged and not returned, since the run's
// outcome is already decided.
func (n *Notifier) Notify(ctx context.Context, msg types.Message) {
	if len(n.senders) == 0 {
		n.log.WithField("outcome", msg.Outcome).Warn("no notification channel configured, skipping message")
		return
	}

	var g errgroup.Group
	for _, s := range n.senders {
		g.Go(func() error {
			log := n.log.WithField("channel", s.Name())
			if err := s.Send(ctx, msg); err != nil {
				log.WithError(err).Warn("failed to send notification")
				return errors.Wrap(err, s.Name())
			}
			log.WithField("outcome", msg.Outcome).Info("notification sent")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		n.log.WithField("outcome", msg.Outcome).WithError(err).Error("notification not delivered on every channel")
	}
}
