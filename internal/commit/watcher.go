package commit

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/quarry-search/quarry/config"
	"github.com/quarry-search/quarry/internal/index"
)

// Watcher commits pending writer batches in the background: immediately
// once a handle's opstamp reaches the threshold, and at most one
// interval after the first staged operation otherwise. Commits still
// serialize through each handle's writer mutex, so search-visible
// ordering is unchanged.
type Watcher struct {
	catalog   *index.Catalog
	interval  time.Duration
	threshold uint64

	mutex      sync.Mutex
	lastCommit map[string]time.Time
}

// NewWatcher creates a watcher for every handle in the catalog.
func NewWatcher(catalog *index.Catalog, cfg config.CommitConfig) *Watcher {
	interval := time.Duration(cfg.Interval) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}
	threshold := uint64(cfg.Threshold)
	if threshold == 0 {
		threshold = 512
	}
	return &Watcher{
		catalog:    catalog,
		interval:   interval,
		threshold:  threshold,
		lastCommit: make(map[string]time.Time),
	}
}

// Start runs the watcher until the context is canceled.
func (w *Watcher) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				w.sweep(now)
			}
		}
	}()
}

func (w *Watcher) sweep(now time.Time) {
	w.catalog.Handles(func(h *index.LocalIndex) bool {
		if h.Staged() == 0 {
			w.touch(h.Name(), now)
			return true
		}
		if h.Opstamp() < w.threshold && now.Sub(w.last(h.Name(), now)) < w.interval {
			return true
		}
		if err := h.Commit(); err != nil {
			log.Printf("Auto-commit of %s failed: %v", h.Name(), err)
			return true
		}
		w.touch(h.Name(), now)
		return true
	})
}

func (w *Watcher) last(name string, now time.Time) time.Time {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	t, ok := w.lastCommit[name]
	if !ok {
		w.lastCommit[name] = now
		return now
	}
	return t
}

func (w *Watcher) touch(name string, now time.Time) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.lastCommit[name] = now
}
