package providers

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"

	"github.com/ibeckermayer/renew4me/internal/types"
)

// Telegram limits photo captions to 1024 characters.
const captionLimit = 1024

// Telegram sends messages through the Bot API
type Telegram struct {
	endpoint string
	token    string
	chatID   string
	client   *http.Client
}

// NewTelegram creates a Telegram sender. An empty apiBase means the public
// Bot API; a nil client uses a 30s timeout.
func NewTelegram(apiBase, token, chatID string, client *http.Client) *Telegram {
	endpoint := tgbotapi.APIEndpoint
	if apiBase != "" {
		endpoint = strings.TrimRight(apiBase, "/") + "/bot%s/%s"
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Telegram{
		endpoint: endpoint,
		token:    token,
		chatID:   chatID,
		client:   client,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Send posts the screenshot with the text as caption when there is one,
// then the text on its own. A failed photo does not stop the text.
func (t *Telegram) Send(ctx context.Context, msg types.Message) error {
	bot, err := tgbotapi.NewBotAPIWithClient(t.token, t.endpoint, ctxClient{ctx: ctx, client: t.client})
	if err != nil {
		return errors.Wrap(t.redact(err), "connect bot")
	}

	var photoErr error
	if msg.Screenshot != "" {
		photoErr = t.sendPhoto(bot, msg.Screenshot, msg.Text)
	}

	if err := t.sendMessage(bot, msg.Text); err != nil {
		if photoErr != nil {
			return errors.Wrapf(err, "photo also failed (%v)", photoErr)
		}
		return err
	}
	return photoErr
}

func (t *Telegram) sendMessage(bot *tgbotapi.BotAPI, text string) error {
	id, channel := t.chat()
	m := tgbotapi.NewMessage(id, text)
	m.ChannelUsername = channel

	_, err := bot.Send(m)
	return errors.Wrap(t.redact(err), "sendMessage")
}

func (t *Telegram) sendPhoto(bot *tgbotapi.BotAPI, path, caption string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "open screenshot")
	}

	id, channel := t.chat()
	p := tgbotapi.NewPhoto(id, tgbotapi.FileBytes{Name: filepath.Base(path), Bytes: data})
	p.ChannelUsername = channel
	p.Caption = truncateRunes(caption, captionLimit)

	_, err = bot.Send(p)
	return errors.Wrap(t.redact(err), "sendPhoto")
}

// chat splits the configured chat into a numeric id or an @channel name.
func (t *Telegram) chat() (int64, string) {
	if id, err := strconv.ParseInt(t.chatID, 10, 64); err == nil {
		return id, ""
	}
	return 0, t.chatID
}

// redact strips the bot token, which transport errors carry in the URL.
func (t *Telegram) redact(err error) error {
	if err == nil || t.token == "" || !strings.Contains(err.Error(), t.token) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), t.token, "<token>"))
}

// ctxClient binds the bot's requests to one notification's context.
type ctxClient struct {
	ctx    context.Context
	client *http.Client
}

func (c ctxClient) Do(req *http.Request) (*http.Response, error) {
	return c.client.Do(req.WithContext(c.ctx))
}

func truncateRunes(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen])
}
