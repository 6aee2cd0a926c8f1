package leaderboard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Teresaloving/PlantQuest/internal/contract"
	"github.com/Teresaloving/PlantQuest/internal/models"
)

// EventIndex persists scanned events and the scan watermark.
// *store.EventStore satisfies it.
type EventIndex interface {
	Watermark(ctx context.Context, chainID uint64, addr common.Address) (uint64, bool, error)
	Append(ctx context.Context, chainID uint64, addr common.Address, ev contract.Events, upTo uint64) error
	Events(ctx context.Context, chainID uint64, addr common.Address) (contract.Events, error)
	Reset(ctx context.Context, chainID uint64, addr common.Address) error
	Rewind(ctx context.Context, chainID uint64, addr common.Address, block uint64) error
}

// Indexer builds the same leaderboard as Aggregator but only scans blocks
// added since the previous build.
type Indexer struct {
	src   Source
	index EventIndex
	opts  Options
	mu    sync.Mutex
}

func NewIndexer(src Source, index EventIndex, opts Options) *Indexer {
	return &Indexer{src: src, index: index, opts: opts}
}

// Sync scans (watermark, latest] into the index. A head below the
// watermark means the chain was reset, so the index is rebuilt. With a
// ReorgDepth the last blocks before the watermark are dropped and scanned
// again, so a reorg shallower than that depth is repaired.
func (ix *Indexer) Sync(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	addr := ix.src.Address()
	latest, err := ix.src.LatestBlock(ctx)
	if err != nil {
		return fmt.Errorf("latest block: %w", err)
	}
	wm, ok, err := ix.index.Watermark(ctx, ix.opts.ChainID, addr)
	if err != nil {
		return err
	}

	from := ix.opts.FromBlock
	if ok {
		depth := ix.opts.ReorgDepth
		switch {
		case wm > latest:
			slog.Warn("chain head behind index watermark, rebuilding", "chain_id", ix.opts.ChainID, "watermark", wm, "head", latest)
			if err := ix.index.Reset(ctx, ix.opts.ChainID, addr); err != nil {
				return err
			}
		case depth == 0 && wm == latest:
			return nil
		case depth == 0:
			from = wm + 1
		default:
			var back uint64
			if wm > depth {
				back = wm - depth
			}
			if err := ix.index.Rewind(ctx, ix.opts.ChainID, addr, back); err != nil {
				return err
			}
			from = max(from, back+1)
		}
	}

	ev, err := ix.src.ScanEvents(ctx, from, latest, ix.opts.BlockSpan)
	if err != nil {
		return fmt.Errorf("scan events: %w", err)
	}
	if err := ix.index.Append(ctx, ix.opts.ChainID, addr, ev, latest); err != nil {
		return err
	}
	slog.Debug("leaderboard index synced", "chain_id", ix.opts.ChainID, "from", from, "to", latest,
		"progress", len(ev.Progress), "completed", len(ev.Completed), "badges", len(ev.Badges))
	return nil
}

func (ix *Indexer) Build(ctx context.Context) (models.Leaderboard, error) {
	board, cfg, err := begin(ctx, ix.src, ix.opts)
	if err != nil {
		return board, err
	}
	if err := ix.Sync(ctx); err != nil {
		return board, err
	}
	if !cfg.IsActive {
		return board, nil
	}
	ev, err := ix.index.Events(ctx, ix.opts.ChainID, ix.src.Address())
	if err != nil {
		return board, err
	}
	return finish(ctx, ix.src, ix.opts, board, cfg, ev)
}
