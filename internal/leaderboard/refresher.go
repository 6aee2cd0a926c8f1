package leaderboard

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Teresaloving/PlantQuest/internal/models"
	"github.com/Teresaloving/PlantQuest/internal/transport"
)

// Refresher keeps the latest leaderboard, rebuilding it on demand and on
// a fixed interval. A failed rebuild keeps the previous board.
type Refresher struct {
	builder  Builder
	interval time.Duration

	mu       sync.RWMutex
	board    models.Loadable[models.Leaderboard]
	onUpdate []func(models.Leaderboard)
	onError  []func(error)

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewRefresher creates a refresher. interval <= 0 uses the default.
func NewRefresher(b Builder, interval time.Duration) *Refresher {
	if interval <= 0 {
		interval = transport.DefaultRefreshInterval
	}
	return &Refresher{builder: b, interval: interval}
}

// OnUpdate registers fn to run after every successful rebuild.
func (r *Refresher) OnUpdate(fn func(models.Leaderboard)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onUpdate = append(r.onUpdate, fn)
}

// OnError registers fn to run after every failed rebuild.
func (r *Refresher) OnError(fn func(error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onError = append(r.onError, fn)
}

// Board returns the latest board and how the last rebuild went.
func (r *Refresher) Board() models.Loadable[models.Leaderboard] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.board
}

// Prime seeds the board with b until the first rebuild, e.g. from a
// published snapshot. It does nothing once a board exists.
func (r *Refresher) Prime(b models.Leaderboard) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.board.HasValue {
		return false
	}
	r.board = models.Load(b)
	return true
}

// Refresh rebuilds the board now. A call made while a rebuild is running
// returns the current board without starting another.
func (r *Refresher) Refresh(ctx context.Context) (models.Loadable[models.Leaderboard], error) {
	if !r.running.CompareAndSwap(false, true) {
		return r.Board(), nil
	}
	defer r.running.Store(false)

	board, err := r.builder.Build(ctx)

	r.mu.Lock()
	if err != nil {
		r.board = r.board.Fail(err)
	} else {
		r.board = models.Load(board)
	}
	current := r.board
	updates := append([]func(models.Leaderboard){}, r.onUpdate...)
	errs := append([]func(error){}, r.onError...)
	r.mu.Unlock()

	if err != nil {
		slog.Warn("leaderboard refresh failed", "error", err)
		for _, fn := range errs {
			fn(err)
		}
		return current, err
	}
	slog.Debug("leaderboard refreshed", "chain_id", board.ChainID, "participants", board.Stats.TotalParticipants)
	for _, fn := range updates {
		fn(board)
	}
	return current, nil
}

// Start refreshes once and then on every tick until ctx is done or Stop
// is called.
func (r *Refresher) Start(ctx context.Context) {
	r.mu.Lock()
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	r.mu.Unlock()

	go func() {
		defer close(r.done)
		_, _ = r.Refresh(ctx)

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = r.Refresh(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for it to exit.
func (r *Refresher) Stop() {
	r.mu.RLock()
	cancel := r.cancel
	done := r.done
	r.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}
