package app

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	webbrowser "github.com/pkg/browser"

	"github.com/ibeckermayer/renew4me/internal/agent"
	"github.com/ibeckermayer/renew4me/internal/browser"
	"github.com/ibeckermayer/renew4me/internal/config"
	"github.com/ibeckermayer/renew4me/internal/logging"
	"github.com/ibeckermayer/renew4me/internal/notifier"
	"github.com/ibeckermayer/renew4me/internal/panel"
	"github.com/ibeckermayer/renew4me/internal/report"
	"github.com/ibeckermayer/renew4me/internal/scheduler"
	"github.com/ibeckermayer/renew4me/internal/store"
	"github.com/ibeckermayer/renew4me/internal/types"
)

// ErrHistoryDisabled is returned by history queries when no database is configured.
var ErrHistoryDisabled = errors.New("run history is disabled; set history.db_path or " + config.EnvHistoryDB)

// App holds the application state.
type App struct {
	mu         sync.RWMutex
	configPath string       // immutable after creation
	history    *store.Store // immutable after creation, nil when disabled
	historyErr error        // why a configured history could not be opened

	// Mutable fields - use getSnapshot() for concurrent access.
	config *config.Config

	newBrowser  func(browser.Config) agent.Browser
	newNotifier func(*config.Config) agent.Notifier
	log         logging.Logger
}

// snapshot holds fields that may be replaced by ReloadConfig.
// Use getSnapshot() to obtain a consistent, point-in-time copy.
type snapshot struct {
	config *config.Config
}

// getSnapshot returns a snapshot of mutable fields under read lock.
func (a *App) getSnapshot() snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return snapshot{config: a.config}
}

// Option customizes an App.
type Option func(*App)

// WithBrowser replaces how the per-run browser is created.
func WithBrowser(fn func(browser.Config) agent.Browser) Option {
	return func(a *App) { a.newBrowser = fn }
}

// WithNotifier replaces how the per-run notifier is created.
func WithNotifier(fn func(*config.Config) agent.Notifier) Option {
	return func(a *App) { a.newNotifier = fn }
}

// New creates a new App instance. configPath is remembered for
// ReloadConfig; history may be nil.
func New(cfg *config.Config, configPath string, history *store.Store, opts ...Option) *App {
	a := &App{
		configPath:  configPath,
		history:     history,
		config:      cfg,
		newBrowser:  chromeBrowser,
		newNotifier: func(c *config.Config) agent.Notifier { return notifier.NewFromConfig(c) },
		log:         logging.New("app"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Open opens the history store named by cfg, if any, and builds the App
// around it. A history that cannot be opened is logged and left disabled;
// runs and their notifications go ahead without it.
func Open(cfg *config.Config, configPath string, opts ...Option) *App {
	var history *store.Store
	var historyErr error
	if cfg.History.DBPath != "" {
		s, err := store.New(cfg.History.DBPath)
		if err != nil {
			historyErr = errors.Wrapf(err, "open history %s", cfg.History.DBPath)
		} else {
			history = s
		}
	}

	a := New(cfg, configPath, history, opts...)
	if historyErr != nil {
		a.historyErr = historyErr
		a.log.WithError(historyErr).Warn("run history unavailable, continuing without it")
	}
	return a
}

// historyUnavailable explains why history queries cannot be served.
func (a *App) historyUnavailable() error {
	if a.historyErr != nil {
		return a.historyErr
	}
	return ErrHistoryDisabled
}

// Close releases the history store.
func (a *App) Close() error {
	if a.history == nil {
		return nil
	}
	return a.history.Close()
}

// Config returns the current configuration.
func (a *App) Config() *config.Config {
	return a.getSnapshot().config
}

func chromeBrowser(cfg browser.Config) agent.Browser {
	l := browser.NewLauncher(cfg)
	return agent.BrowserFunc(func(ctx context.Context) (agent.Page, error) {
		s, err := l.Open(ctx)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}

// RunOnce performs one renewal attempt and records it when history is on.
func (a *App) RunOnce(ctx context.Context) types.Run {
	s := a.getSnapshot()
	n := a.newNotifier(s.config)

	var run types.Run
	matchers, err := s.config.Matchers()
	if err != nil {
		a.log.WithError(err).Error("invalid label configuration")
		msg := types.Message{Outcome: types.OutcomeConfigError, Text: report.InvalidConfig(err)}
		n.Notify(context.WithoutCancel(ctx), msg)
		run = types.Run{
			Target:  s.config.Target.ServerURL,
			Outcome: msg.Outcome,
			Message: msg.Text,
			Error:   err.Error(),
		}
	} else {
		b := a.newBrowser(browser.Config{
			Headless:  s.config.Browser.Headless,
			UserAgent: s.config.Browser.UserAgent,
			NoSandbox: s.config.Browser.NoSandbox,
		})
		run = agent.New(agentConfig(s.config, matchers), b, n).Run(ctx)
	}

	a.record(&run)
	return run
}

func (a *App) record(run *types.Run) {
	if a.history == nil {
		return
	}
	if err := a.history.SaveRun(run); err != nil {
		a.log.WithError(err).Warn("failed to record run history")
		return
	}

	keep := a.getSnapshot().config.History.Keep
	if keep <= 0 {
		return
	}
	if n, err := a.history.Prune(keep); err != nil {
		a.log.WithError(err).Warn("failed to prune run history")
	} else if n > 0 {
		a.log.WithField("removed", n).Debug("pruned run history")
	}
}

func agentConfig(cfg *config.Config, matchers []panel.Matcher) agent.Config {
	t := cfg.Timeouts
	return agent.Config{
		Target:        cfg.Target.ServerURL,
		LoginURL:      cfg.Target.LoginURL,
		PostLoginGlob: cfg.Target.PostLoginURLGlob,
		Credentials: agent.Credentials{
			Email:    cfg.Credentials.Email,
			Password: cfg.Credentials.Password,
		},
		EmailVar:    config.EnvEmail,
		PasswordVar: config.EnvPassword,
		Matchers:    matchers,
		Timeouts: agent.Timeouts{
			Action:         t.Action.Duration,
			LoginNavigate:  t.LoginNavigate.Duration,
			LoginInputs:    t.LoginInputs.Duration,
			PostLoginURL:   t.PostLoginURL.Duration,
			PostLoginIdle:  t.PostLoginIdle.Duration,
			ServerNavigate: t.ServerNavigate.Duration,
			ServerIdle:     t.ServerIdle.Duration,
			Settle:         t.Settle.Duration,
		},
		ScreenshotDir: cfg.Screenshots.Dir,
	}
}

// Schedule runs the renewal on the configured cron schedule until ctx is
// done. With runNow the first attempt starts immediately.
func (a *App) Schedule(ctx context.Context, runNow bool) error {
	cfg := a.getSnapshot().config

	sched, err := scheduler.New(cfg.Schedule.Timezone, cfg.Schedule.Timeout.Duration)
	if err != nil {
		return err
	}

	job := func(jobCtx context.Context) error {
		// Shutdown cancels a run in flight; its outcome is still reported
		c, cancel := context.WithCancel(jobCtx)
		defer cancel()
		stop := context.AfterFunc(ctx, cancel)
		defer stop()

		run := a.RunOnce(c)
		if run.Outcome != types.OutcomeSuccess {
			return errors.Errorf("run ended with %s", run.Outcome)
		}
		return nil
	}
	if err := sched.AddRenewJob(cfg.Schedule.Cron, job); err != nil {
		return err
	}

	sched.Start()
	for _, j := range sched.ListJobs() {
		a.log.WithField("job", j.Name).WithField("next", j.NextRun).Info("scheduled")
	}

	var initial sync.WaitGroup
	if runNow {
		initial.Add(1)
		go func() {
			defer initial.Done()
			if err := sched.RunNow(ctx, scheduler.RenewJobName); err != nil {
				a.log.WithError(err).Warn("initial run did not succeed")
			}
		}()
	}

	<-ctx.Done()
	<-sched.Stop().Done()
	initial.Wait()
	a.log.Info("scheduler stopped")
	return nil
}

// History returns up to n recent runs, newest first.
func (a *App) History(n int) ([]types.Run, error) {
	if a.history == nil {
		return nil, a.historyUnavailable()
	}
	return a.history.RecentRuns(n)
}

// Summary tallies recorded runs by outcome.
func (a *App) Summary() (map[types.Outcome]int, error) {
	if a.history == nil {
		return nil, a.historyUnavailable()
	}
	return a.history.OutcomeCounts()
}

// LastSuccess returns the most recent successful run, or nil if none.
func (a *App) LastSuccess() (*types.Run, error) {
	if a.history == nil {
		return nil, a.historyUnavailable()
	}
	return a.history.LastRun(types.OutcomeSuccess)
}

// LatestScreenshot returns the newest screenshot the workflow left in the
// configured directory.
func (a *App) LatestScreenshot() (string, error) {
	dir := a.getSnapshot().config.Screenshots.Dir

	var latest string
	var latestInfo os.FileInfo
	for _, name := range []string{panel.ShotError, panel.ShotNoButton, panel.ShotLoginInputs} {
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if latestInfo == nil || info.ModTime().After(latestInfo.ModTime()) {
			latest, latestInfo = path, info
		}
	}
	if latest == "" {
		return "", errors.Errorf("no screenshot in %s", dir)
	}
	return latest, nil
}

// ViewLatestScreenshot opens the newest screenshot in the desktop viewer.
func (a *App) ViewLatestScreenshot() error {
	path, err := a.LatestScreenshot()
	if err != nil {
		a.log.WithError(err).Warn("no screenshot found")
		return err
	}

	a.log.WithField("path", path).Info("opening screenshot")
	return webbrowser.OpenFile(path)
}

// ViewConfig opens the config file in the desktop handler, writing the
// defaults first when it does not exist yet.
func (a *App) ViewConfig() error {
	path := a.configPath
	if path == "" {
		p, err := config.ConfigPath()
		if err != nil {
			return err
		}
		path = p
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if _, err := config.Default().Save(path); err != nil {
			return errors.Wrap(err, "write default config")
		}
		a.log.WithField("path", path).Info("created default config")
	}

	return webbrowser.OpenFile(path)
}

// ReloadConfig reloads the configuration from disk.
func (a *App) ReloadConfig() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if _, err := cfg.Matchers(); err != nil {
		return errors.Wrap(err, "reload config")
	}

	if err := logging.Set(
		logging.Level(cfg.Log.Level),
		logging.Format(cfg.Log.Format),
		logging.Redact(cfg.Secrets()...),
	); err != nil {
		return errors.Wrap(err, "reload config")
	}

	a.mu.Lock()
	a.config = cfg
	a.mu.Unlock()

	a.log.Info("configuration reloaded")
	return nil
}
