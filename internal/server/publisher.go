package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Teresaloving/PlantQuest/internal/models"
)

// Publisher writes every rebuilt board to a BlobStore as
// leaderboard/<chainId>/<contract>/latest.json, plus up to history older
// snapshots under history/.
type Publisher struct {
	store   BlobStore
	prefix  string
	history int

	mu sync.Mutex
}

func NewPublisher(store BlobStore, chainID uint64, contract common.Address, history int) *Publisher {
	return &Publisher{
		store:   store,
		prefix:  fmt.Sprintf("leaderboard/%d/%s", chainID, strings.ToLower(contract.Hex())),
		history: history,
	}
}

// LatestKey is the key of the most recent snapshot.
func (p *Publisher) LatestKey() string {
	return p.prefix + "/latest.json"
}

func (p *Publisher) historyPrefix() string {
	return p.prefix + "/history/"
}

func (p *Publisher) historyKey(b models.Leaderboard) string {
	return fmt.Sprintf("%s%d.json", p.historyPrefix(), b.UpdatedAt.UnixNano())
}

// Publish stores b as the latest snapshot and rotates history.
func (p *Publisher) Publish(ctx context.Context, b models.Leaderboard) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := p.store.Save(ctx, p.LatestKey(), data); err != nil {
		return fmt.Errorf("save %s: %w", p.LatestKey(), err)
	}
	if p.history <= 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	key := p.historyKey(b)
	if err := p.store.Save(ctx, key, data); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return p.rotate(ctx)
}

// rotate deletes the oldest history snapshots beyond the configured count.
// It lists the store so snapshots left by earlier processes count too.
func (p *Publisher) rotate(ctx context.Context) error {
	keys, err := p.store.List(ctx, p.historyPrefix())
	if err != nil {
		return fmt.Errorf("list history: %w", err)
	}
	type snapshot struct {
		key string
		at  int64
	}
	var snaps []snapshot
	for _, k := range keys {
		name := strings.TrimSuffix(strings.TrimPrefix(k, p.historyPrefix()), ".json")
		at, err := strconv.ParseInt(name, 10, 64)
		if err != nil {
			continue
		}
		snaps = append(snaps, snapshot{key: k, at: at})
	}
	if len(snaps) <= p.history {
		return nil
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].at < snaps[j].at })

	var errs []error
	for _, s := range snaps[:len(snaps)-p.history] {
		if err := p.store.Delete(ctx, s.key); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", s.key, err))
		}
	}
	return errors.Join(errs...)
}

// Latest reads the most recent snapshot. ok is false when none exists.
func (p *Publisher) Latest(ctx context.Context) (b models.Leaderboard, ok bool, err error) {
	data, err := p.store.Get(ctx, p.LatestKey())
	if errors.Is(err, ErrBlobNotFound) {
		return b, false, nil
	}
	if err != nil {
		return b, false, fmt.Errorf("get %s: %w", p.LatestKey(), err)
	}
	if err := json.Unmarshal(data, &b); err != nil {
		return b, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return b, true, nil
}
