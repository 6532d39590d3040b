// Package delivery is the delivery surface: an SSE stream and a
// cursor poll endpoint backed by the same activity log, plus the gin
// router that exposes them. The SSE handler uses a header-set-then-flush
// idiom over a raw http.Flusher.
package delivery

import (
	"sync"

	"github.com/replicatedhq/chartsmith/pkg/domain"
)

// bufferSize is the bounded per-subscriber queue; a subscriber that falls
// this far behind is dropped rather than blocking the executor.
const bufferSize = 256

type subscriber struct {
	ch chan domain.Activity
}

// Hub fans out appended activities to per-run subscriber sets. It never
// blocks the appending goroutine: a full subscriber buffer causes that
// subscriber alone to be dropped.
type Hub struct {
	mu   sync.Mutex
	runs map[string]map[*subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{runs: map[string]map[*subscriber]struct{}{}}
}

// Subscribe registers a new listener for runID and returns a channel of
// activities plus an unsubscribe func.
func (h *Hub) Subscribe(runID string) (<-chan domain.Activity, func()) {
	sub := &subscriber{ch: make(chan domain.Activity, bufferSize)}

	h.mu.Lock()
	if h.runs[runID] == nil {
		h.runs[runID] = map[*subscriber]struct{}{}
	}
	h.runs[runID][sub] = struct{}{}
	h.mu.Unlock()

	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.runs[runID], sub)
		if len(h.runs[runID]) == 0 {
			delete(h.runs, runID)
		}
	}

	return sub.ch, unsubscribe
}

// Publish fans activity out to every current subscriber of its run. A
// subscriber whose buffer is full is dropped: its oldest buffered activity
// is discarded to make room for a final stream.degraded marker and its
// channel is closed. It never blocks on a slow reader.
func (h *Hub) Publish(runID string, activity domain.Activity) {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.runs[runID]))
	for s := range h.runs[runID] {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- activity:
		default:
			h.dropSlow(runID, s)
		}
	}
}

func (h *Hub) dropSlow(runID string, s *subscriber) {
	h.mu.Lock()
	delete(h.runs[runID], s)
	h.mu.Unlock()

	degraded := domain.Activity{RunID: runID, Kind: "stream.degraded"}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- degraded:
	default:
	}
	close(s.ch)
}
