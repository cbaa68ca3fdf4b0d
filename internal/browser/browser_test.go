package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/renew4me/internal/logging"
	"github.com/ibeckermayer/renew4me/internal/panel"
)

func TestCompileGlob(t *testing.T) {
	tests := []struct {
		glob  string
		url   string
		match bool
	}{
		{"**/server/**", "https://hub.weirdhost.xyz/server/d341874c", true},
		{"**/server/**", "https://hub.weirdhost.xyz/auth/login", false},
		{"**/server/**", "https://hub.weirdhost.xyz/server/", true},
		{"https://*/server/*", "https://hub.weirdhost.xyz/server/abc", true},
		{"https://*/server/*", "https://hub.weirdhost.xyz/server/abc/def", false},
		{"**/page?.html", "https://x.test/page1.html", true},
		{"**/a.b", "https://x.test/aXb", false},
	}

	for _, tt := range tests {
		t.Run(tt.glob+" "+tt.url, func(t *testing.T) {
			re, err := CompileGlob(tt.glob)
			require.NoError(t, err)
			assert.Equal(t, tt.match, re.MatchString(tt.url))
		})
	}

	_, err := CompileGlob("")
	assert.Error(t, err)
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestIdleTracker(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	tr := newIdleTracker(clk.now)

	assert.False(t, tr.idle(), "fresh tracker has not been quiet long enough")
	clk.advance(IdleWindow)
	assert.True(t, tr.idle())

	tr.handle(&network.EventRequestWillBeSent{RequestID: "1"})
	tr.handle(&network.EventRequestWillBeSent{RequestID: "2"})
	clk.advance(time.Second)
	assert.False(t, tr.idle())
	assert.Equal(t, 2, tr.pending())

	tr.handle(&network.EventLoadingFinished{RequestID: "1"})
	tr.handle(&network.EventLoadingFailed{RequestID: "2"})
	assert.False(t, tr.idle(), "window restarts when the last request ends")

	clk.advance(IdleWindow - time.Millisecond)
	assert.False(t, tr.idle())
	clk.advance(time.Millisecond)
	assert.True(t, tr.idle())

	// Unknown completions do not reset the window
	tr.handle(&network.EventLoadingFinished{RequestID: "99"})
	assert.True(t, tr.idle())

	tr.handle(&network.EventRequestWillBeSent{RequestID: "3"})
	tr.reset()
	assert.Zero(t, tr.pending())
}

// A session detached from Chrome still has to report a step deadline as
// such; the login fallback depends on it.
func detachedSession() *Session {
	return &Session{
		ctx:  context.Background(),
		idle: newIdleTracker(nil),
		log:  logging.New("browser"),
	}
}

func TestSession_WaitURLDeadline(t *testing.T) {
	s := detachedSession()

	for i := 0; i < 50; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		err := s.WaitURL(ctx, panel.ServerAreaGlob)
		cancel()

		require.Error(t, err)
		require.True(t, errors.Is(err, context.DeadlineExceeded), "attempt %d: %v", i, err)
	}
}

func TestSession_WaitNetworkIdleDeadline(t *testing.T) {
	s := detachedSession()
	s.idle.start("pending")

	var wg sync.WaitGroup
	errs := make([]error, 100)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
			defer cancel()
			errs[i] = s.WaitNetworkIdle(ctx)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.True(t, errors.Is(err, context.DeadlineExceeded), "call %d: %v", i, err)
	}
}

func TestSession_CallerCancelIsCanceled(t *testing.T) {
	s := detachedSession()
	s.idle.start("pending")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.WaitNetworkIdle(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, context.DeadlineExceeded))
}

func TestOptions(t *testing.T) {
	headless := Options(Config{Headless: true, NoSandbox: true})
	headful := Options(Config{Headless: false})
	assert.Greater(t, len(headless), len(headful))
}

// TestSession_RenewalPage drives a real Chrome against a local page. It needs
// a Chrome binary and is skipped unless RENEW_BROWSER_TESTS=1.
func TestSession_RenewalPage(t *testing.T) {
	if os.Getenv("RENEW_BROWSER_TESTS") != "1" {
		t.Skip("set RENEW_BROWSER_TESTS=1 to run browser tests")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<!DOCTYPE html><html><body>
			<input id="email"><input id="password" type="password">
			<input type="checkbox" id="agree">
			<button type="submit" onclick="document.title='submitted'">Login</button>
			<div><button id="renew" onclick="this.dataset.clicked='1'">Add Time</button></div>
		</body></html>`)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	s, err := NewLauncher(Config{Headless: true, NoSandbox: true}).Open(ctx)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Navigate(ctx, srv.URL+"/server/abc"))
	require.NoError(t, s.WaitNetworkIdle(ctx))
	require.NoError(t, s.WaitURL(ctx, panel.ServerAreaGlob))

	n, err := s.CountQuery(ctx, panel.LoginInput)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, s.FillNth(ctx, panel.LoginInput, 0, "user@example.com"))
	present, err := s.CheckConsent(ctx)
	require.NoError(t, err)
	assert.True(t, present)

	m, cnt, ok, err := panel.Find(ctx, s, panel.DefaultMatchers())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "english-button", m.Name)
	assert.Equal(t, 1, cnt)
	require.NoError(t, s.ClickMatch(ctx, m, 0))

	shot := filepath.Join(t.TempDir(), "page.png")
	require.NoError(t, s.Screenshot(ctx, shot))
	assert.FileExists(t, shot)

	require.NoError(t, s.Close())
	assert.NoError(t, s.Close(), "second close returns the first result")
}

func TestSession_MatchesLikePlaywright(t *testing.T) {
	if os.Getenv("RENEW_BROWSER_TESTS") != "1" {
		t.Skip("set RENEW_BROWSER_TESTS=1 to run browser tests")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<!DOCTYPE html><html><body>
			<button>ADD <span>TIME</span></button>
			<section><div><span>시간</span> <span>추가</span></div></section>
		</body></html>`)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	s, err := NewLauncher(Config{Headless: true, NoSandbox: true}).Open(ctx)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Navigate(ctx, srv.URL))

	n, err := s.Count(ctx, panel.Matcher{Kind: panel.KindButton, Label: panel.LabelEnglish})
	require.NoError(t, err)
	assert.Equal(t, 1, n, "upper-case label split across a span")

	n, err = s.Count(ctx, panel.Matcher{Kind: panel.KindText, Label: panel.LabelLocalized})
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the innermost element carrying the whole label")
}
