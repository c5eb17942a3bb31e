package factory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ammpool-backend/internal/pool"
)

// NoticeKind classifies a lifecycle notice.
type NoticeKind string

const (
	NoticeAwaitingResolution NoticeKind = "awaiting_resolution"
	NoticeDisputed           NoticeKind = "disputed"
	NoticeFinalized          NoticeKind = "finalized"
)

// Notice reports that a pool needs attention from an operator.
type Notice struct {
	PoolID uint64
	Kind   NoticeKind
}

// Watcher periodically scans the registry and reports each pool once per
// lifecycle milestone. It never mutates pools: resolution stays an explicit
// operator call.
type Watcher struct {
	registry *Registry
	interval time.Duration
	clock    func() time.Time
	logger   *slog.Logger
	notify   func(Notice)

	mu   sync.Mutex
	seen map[Notice]bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWatcher creates a watcher. notify may be nil.
func NewWatcher(r *Registry, interval time.Duration, logger *slog.Logger, notify func(Notice)) *Watcher {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		registry: r,
		interval: interval,
		clock:    r.cfg.Clock,
		logger:   logger.With(slog.String("component", "watcher")),
		notify:   notify,
		seen:     make(map[Notice]bool),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the watch loop
func (w *Watcher) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop stops the watcher and waits for the loop to exit. It is safe to call
// more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			for _, n := range w.Check() {
				w.logger.InfoContext(ctx, "watcher: pool milestone",
					slog.Uint64("pool_id", n.PoolID),
					slog.String("kind", string(n.Kind)),
				)
				if w.notify != nil {
					w.notify(n)
				}
			}
		}
	}
}

// Check scans every pool and returns the notices not reported before.
func (w *Watcher) Check() []Notice {
	now := w.clock()

	var out []Notice
	for _, p := range w.registry.List() {
		kind, ok := milestone(p.Summary(), now)
		if !ok {
			continue
		}
		n := Notice{PoolID: p.ID(), Kind: kind}

		w.mu.Lock()
		fresh := !w.seen[n]
		w.seen[n] = true
		w.mu.Unlock()

		if fresh {
			out = append(out, n)
		}
	}
	return out
}

func milestone(s pool.Summary, now time.Time) (NoticeKind, bool) {
	switch s.State {
	case pool.StateOpen:
		if !now.Before(s.EndTime) {
			return NoticeAwaitingResolution, true
		}
	case pool.StateDisputed:
		return NoticeDisputed, true
	case pool.StateFinalized:
		return NoticeFinalized, true
	}
	return "", false
}
