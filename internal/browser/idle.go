package browser

import (
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
)

// IdleWindow is how long the network must stay quiet to count as idle.
const IdleWindow = 500 * time.Millisecond

// idleTracker follows in-flight requests from network domain events.
type idleTracker struct {
	mu       sync.Mutex
	inflight map[network.RequestID]struct{}
	lastBusy time.Time
	now      func() time.Time
}

func newIdleTracker(now func() time.Time) *idleTracker {
	if now == nil {
		now = time.Now
	}
	return &idleTracker{
		inflight: make(map[network.RequestID]struct{}),
		lastBusy: now(),
		now:      now,
	}
}

// handle is registered with chromedp.ListenTarget.
func (t *idleTracker) handle(ev any) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		t.start(e.RequestID)
	case *network.EventLoadingFinished:
		t.finish(e.RequestID)
	case *network.EventLoadingFailed:
		t.finish(e.RequestID)
	}
}

func (t *idleTracker) start(id network.RequestID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inflight[id] = struct{}{}
	t.lastBusy = t.now()
}

func (t *idleTracker) finish(id network.RequestID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.inflight[id]; !ok {
		return
	}
	delete(t.inflight, id)
	t.lastBusy = t.now()
}

// reset forgets requests of the previous document; a navigation abandons them.
func (t *idleTracker) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inflight = make(map[network.RequestID]struct{})
	t.lastBusy = t.now()
}

// idle reports whether nothing has been in flight for the idle window.
func (t *idleTracker) idle() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight) == 0 && t.now().Sub(t.lastBusy) >= IdleWindow
}

func (t *idleTracker) pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight)
}
