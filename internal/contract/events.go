package contract

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// LogBackend is the slice of an RPC client needed to scan contract logs.
type LogBackend interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// ProgressLogged is a DailyProgressLogged event.
type ProgressLogged struct {
	User        common.Address
	Timestamp   uint64
	BlockNumber uint64
	LogIndex    uint
}

// QuestCompleted is a QuestCompleted event.
type QuestCompleted struct {
	User          common.Address
	CompletedTime uint64
	BlockNumber   uint64
	LogIndex      uint
}

// BadgeMinted is a BadgeMinted event.
type BadgeMinted struct {
	User        common.Address
	TokenID     *big.Int
	BlockNumber uint64
	LogIndex    uint
}

// Events groups the three leaderboard event categories from one scan.
type Events struct {
	Progress  []ProgressLogged
	Completed []QuestCompleted
	Badges    []BadgeMinted
}

// LatestBlock returns the current head block number.
func (c *PlantQuest) LatestBlock(ctx context.Context) (uint64, error) {
	if c.logs == nil {
		return 0, fmt.Errorf("no log backend configured")
	}
	return c.logs.BlockNumber(ctx)
}

// ScanEvents fetches leaderboard events in [from, to], splitting the range
// into spans of at most span blocks (0 means one query).
func (c *PlantQuest) ScanEvents(ctx context.Context, from, to, span uint64) (Events, error) {
	var ev Events
	if c.logs == nil {
		return ev, fmt.Errorf("no log backend configured")
	}
	if from > to {
		return ev, nil
	}

	topics := []common.Hash{
		c.abi.Events["DailyProgressLogged"].ID,
		c.abi.Events["QuestCompleted"].ID,
		c.abi.Events["BadgeMinted"].ID,
	}

	for start := from; start <= to; {
		end := to
		if span > 0 && to-start >= span {
			end = start + span - 1
		}
		logs, err := c.logs.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(start),
			ToBlock:   new(big.Int).SetUint64(end),
			Addresses: []common.Address{c.address},
			Topics:    [][]common.Hash{topics},
		})
		if err != nil {
			return ev, fmt.Errorf("filter logs %d-%d: %w", start, end, err)
		}
		for _, l := range logs {
			if err := c.dispatch(&ev, l); err != nil {
				return ev, err
			}
		}
		if end == to {
			break
		}
		start = end + 1
	}
	return ev, nil
}

func (c *PlantQuest) dispatch(ev *Events, l types.Log) error {
	if len(l.Topics) < 2 || l.Removed {
		return nil
	}
	user := common.BytesToAddress(l.Topics[1].Bytes())

	switch l.Topics[0] {
	case c.abi.Events["DailyProgressLogged"].ID:
		ts, err := c.unpackUint(&l, "DailyProgressLogged")
		if err != nil {
			return err
		}
		ev.Progress = append(ev.Progress, ProgressLogged{User: user, Timestamp: ts.Uint64(), BlockNumber: l.BlockNumber, LogIndex: l.Index})
	case c.abi.Events["QuestCompleted"].ID:
		ts, err := c.unpackUint(&l, "QuestCompleted")
		if err != nil {
			return err
		}
		ev.Completed = append(ev.Completed, QuestCompleted{User: user, CompletedTime: ts.Uint64(), BlockNumber: l.BlockNumber, LogIndex: l.Index})
	case c.abi.Events["BadgeMinted"].ID:
		id, err := c.unpackUint(&l, "BadgeMinted")
		if err != nil {
			return err
		}
		ev.Badges = append(ev.Badges, BadgeMinted{User: user, TokenID: id, BlockNumber: l.BlockNumber, LogIndex: l.Index})
	}
	return nil
}

func (c *PlantQuest) unpackUint(l *types.Log, event string) (*big.Int, error) {
	out, err := c.abi.Unpack(event, l.Data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s at block %d: %w", event, l.BlockNumber, err)
	}
	if len(out) == 0 {
		return new(big.Int), nil
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unpack %s: %w", event, errUnexpectedOutput)
	}
	return v, nil
}
