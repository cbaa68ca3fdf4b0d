package app

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/renew4me/internal/agent"
	"github.com/ibeckermayer/renew4me/internal/browser"
	"github.com/ibeckermayer/renew4me/internal/config"
	"github.com/ibeckermayer/renew4me/internal/panel"
	"github.com/ibeckermayer/renew4me/internal/store"
	"github.com/ibeckermayer/renew4me/internal/types"
)

// panelPage is a login form followed by a server page with an "Add Time"
// button.
type panelPage struct {
	mu     sync.Mutex
	closed int
}

func (p *panelPage) Navigate(context.Context, string) error { return nil }
func (p *panelPage) WaitVisible(context.Context, string) error { return nil }
func (p *panelPage) CountQuery(context.Context, string) (int, error) { return 2, nil }
func (p *panelPage) FillNth(context.Context, string, int, string) error {
	return nil
}
func (p *panelPage) CheckConsent(context.Context) (bool, error) { return true, nil }
func (p *panelPage) Click(context.Context, string) error { return nil }
func (p *panelPage) WaitURL(context.Context, string) error { return nil }
func (p *panelPage) WaitNetworkIdle(context.Context) error { return nil }
func (p *panelPage) Screenshot(context.Context, string) error { return nil }
func (p *panelPage) ClickMatch(context.Context, panel.Matcher, int) error {
	return nil
}

func (p *panelPage) Count(_ context.Context, m panel.Matcher) (int, error) {
	if m.Label == panel.LabelEnglish && m.Kind == panel.KindButton {
		return 1, nil
	}
	return 0, nil
}

func (p *panelPage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

type captureNotifier struct {
	mu   sync.Mutex
	sent []types.Message
	ch   chan types.Message
}

func (n *captureNotifier) Notify(_ context.Context, msg types.Message) {
	n.mu.Lock()
	n.sent = append(n.sent, msg)
	n.mu.Unlock()
	if n.ch != nil {
		n.ch <- msg
	}
}

type fixture struct {
	page      *panelPage
	notifier  *captureNotifier
	browsers  int
	lastBConf browser.Config
}

func (f *fixture) options() []Option {
	return []Option{
		WithBrowser(func(c browser.Config) agent.Browser {
			f.browsers++
			f.lastBConf = c
			return agent.BrowserFunc(func(context.Context) (agent.Page, error) { return f.page, nil })
		}),
		WithNotifier(func(*config.Config) agent.Notifier { return f.notifier }),
	}
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Credentials = config.Credentials{Email: "user@example.com", Password: "pw"}
	cfg.Screenshots.Dir = t.TempDir()
	cfg.Timeouts.Settle = config.Duration{}
	return cfg
}

func newFixture() *fixture {
	return &fixture{page: &panelPage{}, notifier: &captureNotifier{}}
}

func TestRunOnce_RecordsHistory(t *testing.T) {
	f := newFixture()
	s, err := store.New(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)

	a := New(testConfig(t), "", s, f.options()...)
	defer a.Close()

	run := a.RunOnce(context.Background())

	assert.Equal(t, types.OutcomeSuccess, run.Outcome)
	assert.Equal(t, "english-button", run.Matcher)
	assert.NotZero(t, run.ID)
	assert.Equal(t, 1, f.page.closed)
	assert.True(t, f.lastBConf.Headless)
	require.Len(t, f.notifier.sent, 1)
	assert.Contains(t, f.notifier.sent[0].Text, panel.DefaultServerURL)

	runs, err := a.History(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)

	summary, err := a.Summary()
	require.NoError(t, err)
	assert.Equal(t, map[types.Outcome]int{types.OutcomeSuccess: 1}, summary)

	last, err := a.LastSuccess()
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, run.ID, last.ID)
}

func TestRunOnce_PrunesHistory(t *testing.T) {
	f := newFixture()
	s, err := store.New(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)

	cfg := testConfig(t)
	cfg.History.Keep = 2
	a := New(cfg, "", s, f.options()...)
	defer a.Close()

	var ids []int64
	for i := 0; i < 4; i++ {
		ids = append(ids, a.RunOnce(context.Background()).ID)
	}

	runs, err := a.History(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[3], runs[0].ID)
	assert.Equal(t, ids[2], runs[1].ID)
}

func TestRunOnce_MissingCredentials(t *testing.T) {
	f := newFixture()
	cfg := testConfig(t)
	cfg.Credentials.Password = ""
	a := New(cfg, "", nil, f.options()...)

	run := a.RunOnce(context.Background())

	assert.Equal(t, types.OutcomeConfigError, run.Outcome)
	require.Len(t, f.notifier.sent, 1)
	assert.Contains(t, f.notifier.sent[0].Text, config.EnvPassword)
	assert.NotContains(t, f.notifier.sent[0].Text, config.EnvEmail)
	assert.Zero(t, f.page.closed)
}

func TestRunOnce_InvalidLabels(t *testing.T) {
	f := newFixture()
	cfg := testConfig(t)
	cfg.Labels = []config.LabelConfig{{Kind: "link", Label: "Add Time"}}
	a := New(cfg, "", nil, f.options()...)

	run := a.RunOnce(context.Background())

	assert.Equal(t, types.OutcomeConfigError, run.Outcome)
	assert.Zero(t, f.browsers)
	require.Len(t, f.notifier.sent, 1)
	assert.Contains(t, f.notifier.sent[0].Text, "Invalid configuration")
}

func TestHistoryDisabled(t *testing.T) {
	a := New(testConfig(t), "", nil)

	_, err := a.History(5)
	assert.ErrorIs(t, err, ErrHistoryDisabled)
	_, err = a.Summary()
	assert.ErrorIs(t, err, ErrHistoryDisabled)
	assert.NoError(t, a.Close())
}

func TestOpen_WithHistory(t *testing.T) {
	cfg := testConfig(t)
	cfg.History.DBPath = filepath.Join(t.TempDir(), "runs", "history.db")

	a := Open(cfg, "")
	defer a.Close()

	runs, err := a.History(1)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestOpen_UnusableHistoryStillNotifies(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0600))

	f := newFixture()
	cfg := testConfig(t)
	cfg.History.DBPath = filepath.Join(blocker, "history.db")
	cfg.Credentials.Email = ""

	a := Open(cfg, "", f.options()...)
	defer a.Close()

	run := a.RunOnce(context.Background())
	assert.Equal(t, types.OutcomeConfigError, run.Outcome)
	require.Len(t, f.notifier.sent, 1)
	assert.Zero(t, run.ID)

	_, err := a.History(1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open history")
	assert.NotErrorIs(t, err, ErrHistoryDisabled)
}

func TestReloadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[target]
server_url = "https://panel.test/server/abc"

[log]
level = "debug"
`), 0600))

	a := New(testConfig(t), path, nil)
	require.NoError(t, a.ReloadConfig())
	assert.Equal(t, "https://panel.test/server/abc", a.Config().Target.ServerURL)

	require.NoError(t, os.WriteFile(path, []byte(`
[[labels]]
kind = "link"
label = "x"
`), 0600))
	assert.Error(t, a.ReloadConfig())
	assert.Equal(t, "https://panel.test/server/abc", a.Config().Target.ServerURL, "bad reload keeps the old config")
}

func TestLatestScreenshot(t *testing.T) {
	cfg := testConfig(t)
	a := New(cfg, "", nil)

	_, err := a.LatestScreenshot()
	assert.Error(t, err)

	older := filepath.Join(cfg.Screenshots.Dir, panel.ShotError)
	newer := filepath.Join(cfg.Screenshots.Dir, panel.ShotNoButton)
	require.NoError(t, os.WriteFile(older, []byte("png"), 0644))
	require.NoError(t, os.WriteFile(newer, []byte("png"), 0644))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(older, past, past))

	path, err := a.LatestScreenshot()
	require.NoError(t, err)
	assert.Equal(t, newer, path)
}

func TestSchedule_RunNowThenStop(t *testing.T) {
	f := newFixture()
	f.notifier.ch = make(chan types.Message, 1)
	a := New(testConfig(t), "", nil, f.options()...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Schedule(ctx, true) }()

	select {
	case msg := <-f.notifier.ch:
		assert.Equal(t, types.OutcomeSuccess, msg.Outcome)
	case <-time.After(10 * time.Second):
		t.Fatal("initial run never reported")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Equal(t, 1, f.page.closed)
}

func TestSchedule_BadCron(t *testing.T) {
	cfg := testConfig(t)
	cfg.Schedule.Cron = "whenever"
	a := New(cfg, "", nil)

	assert.Error(t, a.Schedule(context.Background(), false))
}
