package browser

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/pkg/errors"

	"github.com/ibeckermayer/renew4me/internal/logging"
	"github.com/ibeckermayer/renew4me/internal/panel"
)

const (
	urlPollInterval  = 250 * time.Millisecond
	idlePollInterval = 100 * time.Millisecond
)

// Launcher starts browser sessions.
type Launcher struct {
	cfg Config
	log logging.Logger
}

// NewLauncher creates a launcher using the shared allocator options.
func NewLauncher(cfg Config) *Launcher {
	return &Launcher{cfg: cfg, log: logging.New("browser")}
}

// Session is one browser process with a single tab.
type Session struct {
	ctx         context.Context // tab context; every action runs beneath it
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	idle        *idleTracker
	closeOnce   sync.Once
	closeErr    error
	log         logging.Logger
}

// Open starts the browser and enables the network domain. The returned
// session must be closed by the caller.
func (l *Launcher) Open(ctx context.Context) (*Session, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, Options(l.cfg)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	s := &Session{
		ctx:         tabCtx,
		cancelTab:   tabCancel,
		cancelAlloc: allocCancel,
		idle:        newIdleTracker(nil),
		log:         l.log,
	}

	chromedp.ListenTarget(tabCtx, func(ev any) {
		s.idle.handle(ev)

		// Accept alert/confirm so they never block the flow
		if _, ok := ev.(*page.EventJavascriptDialogOpening); ok {
			go func() {
				if err := chromedp.Run(tabCtx, page.HandleJavaScriptDialog(true)); err != nil {
					s.log.WithError(err).Debug("dismiss javascript dialog")
				}
			}()
		}
	})

	// The first Run allocates the browser.
	if err := chromedp.Run(tabCtx, network.Enable()); err != nil {
		tabCancel()
		allocCancel()
		return nil, errors.Wrap(err, "start browser")
	}

	l.log.WithField("headless", l.cfg.Headless).Info("browser session opened")
	return s, nil
}

// scope derives an action context from the tab that ends when the caller's
// context does, carrying the caller's cause so a step deadline stays a
// context.DeadlineExceeded.
func (s *Session) scope(ctx context.Context) (context.Context, context.CancelFunc) {
	c, cancel := context.WithCancelCause(s.ctx)
	stop := context.AfterFunc(ctx, func() { cancel(context.Cause(ctx)) })
	return c, func() {
		stop()
		cancel(nil)
	}
}

// ended returns why c finished in place of the plain context.Canceled
// chromedp reports, or err when c is still live.
func ended(c context.Context, err error) error {
	if err != nil && c.Err() != nil {
		return context.Cause(c)
	}
	return err
}

func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	c, cancel := s.scope(ctx)
	defer cancel()
	return ended(c, chromedp.Run(c, actions...))
}

// nodes queries without waiting; zero matches is not an error.
func (s *Session) nodes(ctx context.Context, sel string, by chromedp.QueryOption) ([]*cdp.Node, error) {
	var nodes []*cdp.Node
	err := s.run(ctx, chromedp.Nodes(sel, &nodes, by, chromedp.AtLeast(0)))
	return nodes, err
}

// Navigate loads url and waits for the load event.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.idle.reset()
	s.log.WithField("url", url).Debug("navigate")
	if err := s.run(ctx, chromedp.Navigate(url)); err != nil {
		return errors.Wrapf(err, "navigate to %s", url)
	}
	return nil
}

// WaitVisible blocks until sel matches a visible element.
func (s *Session) WaitVisible(ctx context.Context, sel string) error {
	if err := s.run(ctx, chromedp.WaitVisible(sel, chromedp.ByQuery)); err != nil {
		return errors.Wrapf(err, "wait for %s", sel)
	}
	return nil
}

// CountQuery returns how many elements match the CSS selector right now.
func (s *Session) CountQuery(ctx context.Context, sel string) (int, error) {
	nodes, err := s.nodes(ctx, sel, chromedp.ByQueryAll)
	if err != nil {
		return 0, errors.Wrapf(err, "query %s", sel)
	}
	return len(nodes), nil
}

// FillNth replaces the value of the n-th element matching sel.
func (s *Session) FillNth(ctx context.Context, sel string, n int, value string) error {
	nodes, err := s.nodes(ctx, sel, chromedp.ByQueryAll)
	if err != nil {
		return errors.Wrapf(err, "query %s", sel)
	}
	if n >= len(nodes) {
		return errors.Errorf("fill %s[%d]: only %d elements", sel, n, len(nodes))
	}

	ids := []cdp.NodeID{nodes[n].NodeID}
	if err := s.run(ctx,
		chromedp.SetValue(ids, "", chromedp.ByNodeID),
		chromedp.SendKeys(ids, value, chromedp.ByNodeID),
	); err != nil {
		return errors.Wrapf(err, "fill %s[%d]", sel, n)
	}
	return nil
}

// CheckConsent ticks the first checkbox if there is one and it is not
// already ticked. It reports whether a checkbox was present.
func (s *Session) CheckConsent(ctx context.Context) (bool, error) {
	nodes, err := s.nodes(ctx, panel.ConsentCheckbox, chromedp.ByQueryAll)
	if err != nil {
		return false, errors.Wrap(err, "query consent checkbox")
	}
	if len(nodes) == 0 {
		return false, nil
	}

	ids := []cdp.NodeID{nodes[0].NodeID}
	var checked bool
	if err := s.run(ctx, chromedp.JavascriptAttribute(ids, "checked", &checked, chromedp.ByNodeID)); err != nil {
		return true, errors.Wrap(err, "read consent checkbox")
	}
	if checked {
		return true, nil
	}
	if err := s.run(ctx, chromedp.MouseClickNode(nodes[0])); err != nil {
		return true, errors.Wrap(err, "tick consent checkbox")
	}
	return true, nil
}

// Click clicks the first visible element matching sel.
func (s *Session) Click(ctx context.Context, sel string) error {
	if err := s.run(ctx, chromedp.Click(sel, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return errors.Wrapf(err, "click %s", sel)
	}
	return nil
}

// WaitURL polls the current location until it matches glob.
func (s *Session) WaitURL(ctx context.Context, glob string) error {
	re, err := CompileGlob(glob)
	if err != nil {
		return err
	}

	c, cancel := s.scope(ctx)
	defer cancel()

	ticker := time.NewTicker(urlPollInterval)
	defer ticker.Stop()

	var last string
	for {
		if err := chromedp.Run(c, chromedp.Location(&last)); err == nil && re.MatchString(last) {
			return nil
		}

		select {
		case <-c.Done():
			return errors.Wrapf(context.Cause(c), "wait for url %s (at %s)", glob, last)
		case <-ticker.C:
		}
	}
}

// WaitNetworkIdle blocks until no request has been in flight for IdleWindow.
func (s *Session) WaitNetworkIdle(ctx context.Context) error {
	c, cancel := s.scope(ctx)
	defer cancel()

	ticker := time.NewTicker(idlePollInterval)
	defer ticker.Stop()

	for {
		if s.idle.idle() {
			return nil
		}

		select {
		case <-c.Done():
			return errors.Wrapf(context.Cause(c), "wait for network idle (%d requests pending)", s.idle.pending())
		case <-ticker.C:
		}
	}
}

// Count returns how many elements m selects right now.
func (s *Session) Count(ctx context.Context, m panel.Matcher) (int, error) {
	nodes, err := s.nodes(ctx, m.XPath(), chromedp.BySearch)
	if err != nil {
		return 0, errors.Wrapf(err, "search %s", m)
	}
	return len(nodes), nil
}

// ClickMatch clicks the n-th element selected by m.
func (s *Session) ClickMatch(ctx context.Context, m panel.Matcher, n int) error {
	nodes, err := s.nodes(ctx, m.XPath(), chromedp.BySearch)
	if err != nil {
		return errors.Wrapf(err, "search %s", m)
	}
	if n >= len(nodes) {
		return errors.Errorf("click %s[%d]: only %d matches", m, n, len(nodes))
	}
	if err := s.run(ctx, chromedp.MouseClickNode(nodes[n])); err != nil {
		return errors.Wrapf(err, "click %s[%d]", m, n)
	}
	return nil
}

// Screenshot writes a full-page PNG to path.
func (s *Session) Screenshot(ctx context.Context, path string) error {
	var buf []byte
	if err := s.run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return errors.Wrap(err, "capture screenshot")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "create screenshot dir")
	}
	if err := os.WriteFile(path, buf, 0644); err != nil {
		return errors.Wrap(err, "write screenshot")
	}

	s.log.WithField("path", path).Info("saved screenshot")
	return nil
}

// Close shuts the tab and the browser. Later calls return the first result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = chromedp.Cancel(s.ctx)
		s.cancelTab()
		s.cancelAlloc()
		s.log.Info("browser session closed")
	})
	return s.closeErr
}
