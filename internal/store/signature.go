package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SignatureStore keeps serialized decryption signatures in sqlite. It
// satisfies fhe.StringStorage.
type SignatureStore struct {
	db *sql.DB
}

func NewSignatureStore(db *sql.DB) *SignatureStore {
	return &SignatureStore{db: db}
}

func (s *SignatureStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM decryption_signatures WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get signature %q: %w", key, err)
	}
	return value, true, nil
}

func (s *SignatureStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO decryption_signatures (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set signature %q: %w", key, err)
	}
	return nil
}

func (s *SignatureStore) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM decryption_signatures WHERE key = ?`, key); err != nil {
		return fmt.Errorf("remove signature %q: %w", key, err)
	}
	return nil
}
