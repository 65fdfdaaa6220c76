package automation

import (
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
)

// networkTracker counts in-flight requests from CDP network events
type networkTracker struct {
	mu         sync.Mutex
	inflight   map[network.RequestID]struct{}
	lastChange time.Time
}

func newNetworkTracker() *networkTracker {
	return &networkTracker{
		inflight:   make(map[network.RequestID]struct{}),
		lastChange: time.Now(),
	}
}

// handle is registered with chromedp.ListenTarget
func (t *networkTracker) handle(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		t.started(e.RequestID)
	case *network.EventLoadingFinished:
		t.finished(e.RequestID)
	case *network.EventLoadingFailed:
		t.finished(e.RequestID)
	}
}

func (t *networkTracker) started(id network.RequestID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inflight[id] = struct{}{}
	t.lastChange = time.Now()
}

func (t *networkTracker) finished(id network.RequestID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.inflight[id]; ok {
		delete(t.inflight, id)
		t.lastChange = time.Now()
	}
}

// idleFor reports whether nothing has been in flight for at least d
func (t *networkTracker) idleFor(d time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight) == 0 && time.Since(t.lastChange) >= d
}

// reset forgets requests from a previous page; a navigation abandons them without events
func (t *networkTracker) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inflight = make(map[network.RequestID]struct{})
	t.lastChange = time.Now()
}
