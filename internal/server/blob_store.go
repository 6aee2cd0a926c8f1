package server

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrBlobNotFound is returned by Get for a missing key.
var ErrBlobNotFound = errors.New("blob not found")

// BlobStore defines where leaderboard snapshots are published.
type BlobStore interface {
	Save(ctx context.Context, key string, content []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// List returns the keys under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// LocalBlobStore implements BlobStore using the local filesystem.
type LocalBlobStore struct {
	BaseDir string
}

func NewLocalBlobStore(baseDir string) *LocalBlobStore {
	return &LocalBlobStore{BaseDir: baseDir}
}

func (s *LocalBlobStore) path(key string) string {
	return filepath.Join(s.BaseDir, filepath.FromSlash(key))
}

func (s *LocalBlobStore) Save(_ context.Context, key string, content []byte) error {
	p := s.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return err
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, content, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

func (s *LocalBlobStore) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrBlobNotFound
	}
	return data, err
}

func (s *LocalBlobStore) Delete(_ context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *LocalBlobStore) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.path(prefix), func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(p, ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(s.BaseDir, p)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	sort.Strings(keys)
	return keys, err
}
