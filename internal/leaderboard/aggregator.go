// Package leaderboard rebuilds the community leaderboard from contract
// events, either by replaying the whole history or from a local index.
package leaderboard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/Teresaloving/PlantQuest/internal/contract"
	"github.com/Teresaloving/PlantQuest/internal/models"
	"github.com/Teresaloving/PlantQuest/internal/transport"
)

// Source is the read-only contract surface a leaderboard is built from.
// *contract.PlantQuest satisfies it.
type Source interface {
	Address() common.Address
	QuestConfig(ctx context.Context) (models.QuestConfig, error)
	QuestStatus(ctx context.Context, user common.Address) (models.QuestStatus, error)
	UserProgress(ctx context.Context, user common.Address) (models.Handle, error)
	LatestBlock(ctx context.Context) (uint64, error)
	ScanEvents(ctx context.Context, from, to, span uint64) (contract.Events, error)
}

// Builder produces a fresh leaderboard.
type Builder interface {
	Build(ctx context.Context) (models.Leaderboard, error)
}

// Options tunes how a leaderboard is built.
type Options struct {
	ChainID     uint64
	FromBlock   uint64 // first block to scan, usually the deployment block
	BlockSpan   uint64 // max blocks per log query, 0 for a single query
	Concurrency int    // max concurrent per-participant reads
	ReorgDepth  uint64 // blocks behind the index watermark rescanned per sync
}

func (o Options) concurrency() int {
	if o.Concurrency <= 0 {
		return transport.DefaultDetailConcurrency
	}
	return o.Concurrency
}

// Aggregator replays the full event history on every build.
type Aggregator struct {
	src  Source
	opts Options
}

func NewAggregator(src Source, opts Options) *Aggregator {
	return &Aggregator{src: src, opts: opts}
}

func (a *Aggregator) Build(ctx context.Context) (models.Leaderboard, error) {
	board, cfg, err := begin(ctx, a.src, a.opts)
	if err != nil || !cfg.IsActive {
		return board, err
	}

	latest, err := a.src.LatestBlock(ctx)
	if err != nil {
		return board, fmt.Errorf("latest block: %w", err)
	}
	ev, err := a.src.ScanEvents(ctx, a.opts.FromBlock, latest, a.opts.BlockSpan)
	if err != nil {
		return board, fmt.Errorf("scan events: %w", err)
	}
	return finish(ctx, a.src, a.opts, board, cfg, ev)
}

func begin(ctx context.Context, src Source, opts Options) (models.Leaderboard, models.QuestConfig, error) {
	board := models.Leaderboard{
		ChainID:   opts.ChainID,
		Contract:  src.Address(),
		Entries:   []models.LeaderboardEntry{},
		UpdatedAt: time.Now().UTC(),
	}
	cfg, err := src.QuestConfig(ctx)
	if err != nil {
		return board, cfg, fmt.Errorf("quest config: %w", err)
	}
	board.Quest = cfg
	return board, cfg, nil
}

func finish(ctx context.Context, src Source, opts Options, board models.Leaderboard, cfg models.QuestConfig, ev contract.Events) (models.Leaderboard, error) {
	entries, err := assemble(ctx, src, cfg, ev, opts.concurrency())
	if err != nil {
		return board, err
	}
	board.Entries = entries
	board.Stats = ComputeStats(entries)
	return board, nil
}

// assemble turns the tally into ranked entries, enriching each with a
// best-effort status and progress read.
func assemble(ctx context.Context, src Source, cfg models.QuestConfig, ev contract.Events, limit int) ([]models.LeaderboardEntry, error) {
	t := tallyEvents(cfg, ev)
	entries := make([]models.LeaderboardEntry, len(t.order))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, addr := range t.order {
		g.Go(func() error {
			entries[i] = detail(gctx, src, t, addr)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	Rank(entries)
	return entries, nil
}

func detail(ctx context.Context, src Source, t tally, addr common.Address) models.LeaderboardEntry {
	e := t.eventEntry(addr)
	status, err := src.QuestStatus(ctx, addr)
	if err != nil {
		slog.Debug("participant status read failed, using events only", "address", addr.Hex(), "error", err)
		return e
	}
	e.QuestCompleted = status.QuestCompleted || e.QuestCompleted
	e.BadgeMinted = status.BadgeMinted || e.BadgeMinted
	e.LastRecordTime = status.LastRecordTime

	h, err := src.UserProgress(ctx, addr)
	if err == nil && h != models.ZeroHandle {
		e.EncDaysHandle = &h
	}
	return e
}
