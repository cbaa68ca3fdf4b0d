// Package agent implements the renewal workflow: log into the control
// panel, open the server page, press the renew control and report exactly
// one outcome.
package agent

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/ibeckermayer/renew4me/internal/logging"
	"github.com/ibeckermayer/renew4me/internal/panel"
	"github.com/ibeckermayer/renew4me/internal/report"
	"github.com/ibeckermayer/renew4me/internal/types"
)

// notifyTimeout bounds delivery of the outcome message. It is detached from
// the run context so a cancelled run still reports.
const notifyTimeout = 60 * time.Second

// Page is the browser surface the workflow needs.
type Page interface {
	panel.Counter

	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, sel string) error
	CountQuery(ctx context.Context, sel string) (int, error)
	FillNth(ctx context.Context, sel string, n int, value string) error
	CheckConsent(ctx context.Context) (bool, error)
	Click(ctx context.Context, sel string) error
	WaitURL(ctx context.Context, glob string) error
	WaitNetworkIdle(ctx context.Context) error
	ClickMatch(ctx context.Context, m panel.Matcher, n int) error
	Screenshot(ctx context.Context, path string) error
	Close() error
}

// Browser opens one page per run.
type Browser interface {
	Open(ctx context.Context) (Page, error)
}

// BrowserFunc adapts a function to Browser.
type BrowserFunc func(ctx context.Context) (Page, error)

func (f BrowserFunc) Open(ctx context.Context) (Page, error) { return f(ctx) }

// Notifier delivers the outcome message. Delivery failures are its own
// concern; it never reports them back.
type Notifier interface {
	Notify(ctx context.Context, msg types.Message)
}

// Credentials are the panel login.
type Credentials struct {
	Email    string
	Password string
}

// Missing lists which credential variables are absent.
func (c Credentials) Missing(emailVar, passwordVar string) []string {
	var missing []string
	if c.Email == "" {
		missing = append(missing, emailVar)
	}
	if c.Password == "" {
		missing = append(missing, passwordVar)
	}
	return missing
}

// Timeouts bound each step. Zero means no step-level bound.
type Timeouts struct {
	Action         time.Duration
	LoginNavigate  time.Duration
	LoginInputs    time.Duration
	PostLoginURL   time.Duration
	PostLoginIdle  time.Duration
	ServerNavigate time.Duration
	ServerIdle     time.Duration
	Settle         time.Duration
}

// Config is everything one run needs.
type Config struct {
	Target        string
	LoginURL      string
	PostLoginGlob string
	Credentials   Credentials
	// Names of the credential variables, used in the config error message
	EmailVar      string
	PasswordVar   string
	Matchers      []panel.Matcher
	Timeouts      Timeouts
	ScreenshotDir string
}

// Agent runs the renewal workflow.
type Agent struct {
	cfg      Config
	browser  Browser
	notifier Notifier
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
	log      logging.Logger
}

// Option customizes an Agent.
type Option func(*Agent)

// WithSleep replaces the settle wait.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(a *Agent) { a.sleep = fn }
}

// WithClock replaces the timestamp source for run records.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

// New creates an agent. Missing matchers fall back to the built-in variants.
func New(cfg Config, b Browser, n Notifier, opts ...Option) *Agent {
	if len(cfg.Matchers) == 0 {
		cfg.Matchers = panel.DefaultMatchers()
	}
	if cfg.PostLoginGlob == "" {
		cfg.PostLoginGlob = panel.ServerAreaGlob
	}
	if cfg.ScreenshotDir == "" {
		cfg.ScreenshotDir = "."
	}
	if cfg.EmailVar == "" {
		cfg.EmailVar = "email"
	}
	if cfg.PasswordVar == "" {
		cfg.PasswordVar = "password"
	}

	a := &Agent{
		cfg:      cfg,
		browser:  b,
		notifier: n,
		sleep:    sleep,
		now:      time.Now,
		log:      logging.New("agent"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run performs one renewal attempt and sends exactly one notification.
// It never returns an error; the outcome is in the returned record.
func (a *Agent) Run(ctx context.Context) types.Run {
	run := types.Run{Target: a.cfg.Target, StartedAt: a.now()}
	log := a.log.WithField("target", a.cfg.Target)

	if missing := a.cfg.Credentials.Missing(a.cfg.EmailVar, a.cfg.PasswordVar); len(missing) > 0 {
		err := &Error{Op: "check credentials", Kind: KindConfig, Err: errors.Errorf("missing %s", strings.Join(missing, ", "))}
		log.WithError(err).Error("configuration error")
		return a.finish(ctx, run, types.Message{Outcome: types.OutcomeConfigError, Text: report.ConfigError(missing)}, err)
	}

	var page Page
	defer func() {
		if page == nil {
			return
		}
		if cerr := page.Close(); cerr != nil {
			log.WithError(cerr).Warn("close browser session")
		}
	}()

	msg, matcher, err := guard(func() (types.Message, string, error) {
		log.Info("starting browser, preparing to log in")
		p, err := a.browser.Open(ctx)
		if err != nil {
			return types.Message{}, "", &Error{Op: "open browser", Kind: KindRuntime, Err: err}
		}
		page = p
		return a.renew(ctx, p)
	})
	run.Matcher = matcher

	switch {
	case err == nil:
		log.WithField("matcher", matcher).Info(msg.Text)
	case IsKind(err, KindNotFound):
		log.WithError(err).Warn(msg.Text)
	default:
		log.WithError(err).Error("renewal failed")
		msg = types.Message{Outcome: types.OutcomeFailure, Text: report.Failure(err)}
		if page != nil {
			msg.Screenshot = a.screenshot(ctx, page, panel.ShotError)
		}
	}

	return a.finish(ctx, run, msg, err)
}

// guard runs the browser part of the workflow and converts panics,
// including one raised while the browser starts, into runtime errors.
func guard(fn func() (types.Message, string, error)) (msg types.Message, matcher string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &Error{Op: "renew", Kind: KindRuntime, Err: errors.Errorf("panic: %v", r)}
		}
	}()
	return fn()
}

func (a *Agent) renew(ctx context.Context, page Page) (types.Message, string, error) {
	t := a.cfg.Timeouts

	// Login
	if err := a.step(ctx, t.LoginNavigate, "open login page", func(c context.Context) error {
		return page.Navigate(c, a.cfg.LoginURL)
	}); err != nil {
		return types.Message{}, "", err
	}
	if err := a.step(ctx, t.LoginInputs, "wait for login inputs", func(c context.Context) error {
		return page.WaitVisible(c, panel.LoginInput)
	}); err != nil {
		return types.Message{}, "", err
	}

	var inputs int
	if err := a.step(ctx, t.Action, "count login inputs", func(c context.Context) (err error) {
		inputs, err = page.CountQuery(c, panel.LoginInput)
		return err
	}); err != nil {
		return types.Message{}, "", err
	}
	if inputs < 2 {
		msg := types.Message{
			Outcome:    types.OutcomeNotFound,
			Text:       report.LoginFormIncomplete(inputs),
			Screenshot: a.screenshot(ctx, page, panel.ShotLoginInputs),
		}
		return msg, "", &Error{Op: "find login inputs", Kind: KindNotFound, Err: errors.Errorf("found %d inputs, need 2", inputs)}
	}

	if err := a.step(ctx, t.Action, "fill email", func(c context.Context) error {
		return page.FillNth(c, panel.LoginInput, 0, a.cfg.Credentials.Email)
	}); err != nil {
		return types.Message{}, "", err
	}
	if err := a.step(ctx, t.Action, "fill password", func(c context.Context) error {
		return page.FillNth(c, panel.LoginInput, 1, a.cfg.Credentials.Password)
	}); err != nil {
		return types.Message{}, "", err
	}

	// The consent box is optional; trouble with it never stops the login.
	if err := a.step(ctx, t.Action, "tick consent", func(c context.Context) error {
		present, err := page.CheckConsent(c)
		if err == nil && !present {
			a.log.Debug("no consent checkbox on login page")
		}
		return err
	}); err != nil {
		a.log.WithError(err).Warn("consent checkbox not found or not tickable, continuing login")
	}

	if err := a.step(ctx, t.Action, "submit login", func(c context.Context) error {
		return page.Click(c, panel.SubmitButton)
	}); err != nil {
		return types.Message{}, "", err
	}

	// Post-login settling: URL first, network idle as the single fallback
	if err := a.step(ctx, t.PostLoginURL, "wait for server area", func(c context.Context) error {
		return page.WaitURL(c, a.cfg.PostLoginGlob)
	}); err != nil {
		if !errors.Is(err, context.DeadlineExceeded) {
			return types.Message{}, "", err
		}
		a.log.WithError(err).Info("server area not reached, waiting for network idle instead")
		if err := a.step(ctx, t.PostLoginIdle, "wait for network idle after login", page.WaitNetworkIdle); err != nil {
			return types.Message{}, "", err
		}
	}

	// Server page
	if err := a.step(ctx, t.ServerNavigate, "open server page", func(c context.Context) error {
		return page.Navigate(c, a.cfg.Target)
	}); err != nil {
		return types.Message{}, "", err
	}
	if err := a.step(ctx, t.ServerIdle, "wait for server page idle", page.WaitNetworkIdle); err != nil {
		return types.Message{}, "", err
	}

	// Control discovery
	var (
		m     panel.Matcher
		count int
		found bool
	)
	if err := a.step(ctx, t.Action, "find renew control", func(c context.Context) (err error) {
		m, count, found, err = panel.Find(c, page, a.cfg.Matchers)
		return err
	}); err != nil {
		return types.Message{}, "", err
	}
	if !found {
		msg := types.Message{
			Outcome:    types.OutcomeNotFound,
			Text:       report.NotFound(panel.Labels(a.cfg.Matchers)),
			Screenshot: a.screenshot(ctx, page, panel.ShotNoButton),
		}
		return msg, "", &Error{Op: "find renew control", Kind: KindNotFound, Err: errors.Errorf("no match for %d label variants", len(a.cfg.Matchers))}
	}
	a.log.WithField("matcher", m.String()).WithField("count", count).Info("renew control located")

	// Activation and settle wait
	if err := a.step(ctx, t.Action, "click renew control", func(c context.Context) error {
		return page.ClickMatch(c, m, 0)
	}); err != nil {
		return types.Message{}, m.Name, err
	}
	if err := a.step(ctx, 0, "settle", func(c context.Context) error {
		return a.sleep(c, t.Settle)
	}); err != nil {
		return types.Message{}, m.Name, err
	}

	return types.Message{Outcome: types.OutcomeSuccess, Text: report.Success(a.cfg.Target)}, m.Name, nil
}

// step runs fn under its own timeout and tags failures with op.
func (a *Agent) step(ctx context.Context, timeout time.Duration, op string, fn func(context.Context) error) error {
	c, cancel := withTimeout(ctx, timeout)
	defer cancel()

	a.log.WithField("step", op).Debug("step started")
	if err := fn(c); err != nil {
		return &Error{Op: op, Kind: KindRuntime, Err: err}
	}
	return nil
}

// screenshot is best effort: it returns the path on success and "" when the
// page could not be captured.
func (a *Agent) screenshot(ctx context.Context, page Page, name string) string {
	path := filepath.Join(a.cfg.ScreenshotDir, name)

	c, cancel := withTimeout(ctx, a.cfg.Timeouts.Action)
	defer cancel()

	if err := page.Screenshot(c, path); err != nil {
		a.log.WithError(err).Warn("could not save screenshot")
		return ""
	}
	return path
}

func (a *Agent) finish(ctx context.Context, run types.Run, msg types.Message, err error) types.Run {
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	a.notifier.Notify(nctx, msg)

	run.Outcome = msg.Outcome
	run.Message = msg.Text
	run.Screenshot = msg.Screenshot
	if err != nil {
		run.Error = err.Error()
	}
	run.FinishedAt = a.now()
	return run
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
