package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Teresaloving/PlantQuest/internal/contract"
)

const (
	kindProgress  = "progress"
	kindCompleted = "completed"
	kindBadge     = "badge"
)

// EventStore is the incremental leaderboard index: raw quest events per
// (chain, contract) plus the last block that has been scanned.
type EventStore struct {
	db *sql.DB
}

func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

func contractKey(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

// Watermark returns the last scanned block. ok is false when nothing has
// been indexed for the contract yet.
func (s *EventStore) Watermark(ctx context.Context, chainID uint64, addr common.Address) (block uint64, ok bool, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT last_block FROM index_watermarks WHERE chain_id = ? AND contract = ?`,
		chainID, contractKey(addr),
	).Scan(&block)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get watermark: %w", err)
	}
	return block, true, nil
}

// Append stores ev and advances the watermark to upTo in one transaction.
// Events already indexed are ignored.
func (s *EventStore) Append(ctx context.Context, chainID uint64, addr common.Address, ev contract.Events, upTo uint64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO quest_events (chain_id, contract, kind, user, value, block_number, log_index)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	c := contractKey(addr)
	insert := func(kind string, user common.Address, value string, block uint64, index uint) error {
		if _, err := stmt.ExecContext(ctx, chainID, c, kind, user.Hex(), value, block, index); err != nil {
			return fmt.Errorf("insert %s event: %w", kind, err)
		}
		return nil
	}
	for _, e := range ev.Progress {
		if err := insert(kindProgress, e.User, strconv.FormatUint(e.Timestamp, 10), e.BlockNumber, e.LogIndex); err != nil {
			return err
		}
	}
	for _, e := range ev.Completed {
		if err := insert(kindCompleted, e.User, strconv.FormatUint(e.CompletedTime, 10), e.BlockNumber, e.LogIndex); err != nil {
			return err
		}
	}
	for _, e := range ev.Badges {
		id := "0"
		if e.TokenID != nil {
			id = e.TokenID.String()
		}
		if err := insert(kindBadge, e.User, id, e.BlockNumber, e.LogIndex); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO index_watermarks (chain_id, contract, last_block, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(chain_id, contract) DO UPDATE SET last_block = excluded.last_block, updated_at = excluded.updated_at`,
		chainID, c, upTo, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set watermark: %w", err)
	}
	return tx.Commit()
}

// Events returns every indexed event for the contract in chain order.
func (s *EventStore) Events(ctx context.Context, chainID uint64, addr common.Address) (contract.Events, error) {
	var ev contract.Events
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, user, value, block_number, log_index FROM quest_events
		 WHERE chain_id = ? AND contract = ? ORDER BY block_number, log_index`,
		chainID, contractKey(addr),
	)
	if err != nil {
		return ev, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			kind, user, value string
			block             uint64
			index             uint
		)
		if err := rows.Scan(&kind, &user, &value, &block, &index); err != nil {
			return ev, fmt.Errorf("scan event: %w", err)
		}
		u := common.HexToAddress(user)
		switch kind {
		case kindProgress:
			ts, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				return ev, fmt.Errorf("parse progress timestamp: %w", err)
			}
			ev.Progress = append(ev.Progress, contract.ProgressLogged{User: u, Timestamp: ts, BlockNumber: block, LogIndex: index})
		case kindCompleted:
			ts, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				return ev, fmt.Errorf("parse completion time: %w", err)
			}
			ev.Completed = append(ev.Completed, contract.QuestCompleted{User: u, CompletedTime: ts, BlockNumber: block, LogIndex: index})
		case kindBadge:
			id, ok := new(big.Int).SetString(value, 10)
			if !ok {
				return ev, fmt.Errorf("parse token id %q", value)
			}
			ev.Badges = append(ev.Badges, contract.BadgeMinted{User: u, TokenID: id, BlockNumber: block, LogIndex: index})
		}
	}
	return ev, rows.Err()
}

// Rewind drops events after block and moves the watermark back to it.
func (s *EventStore) Rewind(ctx context.Context, chainID uint64, addr common.Address, block uint64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	c := contractKey(addr)
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM quest_events WHERE chain_id = ? AND contract = ? AND block_number > ?`,
		chainID, c, block,
	); err != nil {
		return fmt.Errorf("rewind events: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE index_watermarks SET last_block = ?, updated_at = ? WHERE chain_id = ? AND contract = ? AND last_block > ?`,
		block, time.Now().UTC(), chainID, c, block,
	); err != nil {
		return fmt.Errorf("rewind watermark: %w", err)
	}
	return tx.Commit()
}

// Reset drops everything indexed for the contract.
func (s *EventStore) Reset(ctx context.Context, chainID uint64, addr common.Address) error {
	c := contractKey(addr)
	if _, err := s.db.ExecContext(ctx, `DELETE FROM quest_events WHERE chain_id = ? AND contract = ?`, chainID, c); err != nil {
		return fmt.Errorf("reset events: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM index_watermarks WHERE chain_id = ? AND contract = ?`, chainID, c); err != nil {
		return fmt.Errorf("reset watermark: %w", err)
	}
	return nil
}
