package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"

	"github.com/Teresaloving/PlantQuest/internal/chain"
	"github.com/Teresaloving/PlantQuest/internal/contract"
	"github.com/Teresaloving/PlantQuest/internal/database"
	"github.com/Teresaloving/PlantQuest/internal/deploy"
	"github.com/Teresaloving/PlantQuest/internal/leaderboard"
	"github.com/Teresaloving/PlantQuest/internal/metrics"
	"github.com/Teresaloving/PlantQuest/internal/models"
	"github.com/Teresaloving/PlantQuest/internal/store"
)

const publishTimeout = 10 * time.Second

// Server represents the questboard HTTP service.
type Server struct {
	Config    Config
	Handler   *Handler
	Refresher *leaderboard.Refresher
	Metrics   *metrics.Metrics
	Publisher *Publisher // nil when snapshots are not published
	Server    *http.Server

	closers []func() error
}

// NewServer dials the chain, resolves the deployment and assembles the service.
func NewServer(ctx context.Context, cfg Config) (_ *Server, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	blobs, err := newBlobStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	w, err := chain.Dial(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			w.Close()
		}
	}()
	chainID := w.ChainID()
	if cfg.Chain.ChainID != 0 && cfg.Chain.ChainID != chainID {
		return nil, fmt.Errorf("node reports chain %d, config expects %d", chainID, cfg.Chain.ChainID)
	}

	book, err := deploy.Load(cfg.Chain.Deployments)
	if err != nil {
		return nil, err
	}
	rec, err := book.ForChain(chainID)
	if err != nil {
		return nil, fmt.Errorf("chain %d: %w", chainID, err)
	}
	client := w.Client()
	quest, err := contract.New(rec.Address, rec.ABI, client, nil, client)
	if err != nil {
		return nil, err
	}
	slog.Info("PlantQuest contract resolved", "chain_id", chainID, "contract", rec.Address.Hex())

	s, err := Assemble(cfg, quest, chainID, blobs)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, func() error { w.Close(); return nil })
	return s, nil
}

func newBlobStore(ctx context.Context, cfg StorageConfig) (BlobStore, error) {
	switch cfg.Type {
	case StorageS3:
		if cfg.Bucket == "" {
			return nil, errors.New("AWS_BUCKET required for s3 storage")
		}
		slog.Info("Publishing snapshots to S3", "bucket", cfg.Bucket)
		s, err := NewS3BlobStore(ctx, cfg.Bucket, cfg.Region)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 blob store: %w", err)
		}
		return s, nil
	case StorageLocal:
		dir := cfg.Dir
		if dir == "" {
			dir = "server_data"
		}
		slog.Info("Publishing snapshots locally", "dir", dir)
		return NewLocalBlobStore(dir), nil
	default:
		return nil, nil
	}
}

// Assemble wires the builder, refresher, publisher and router around src.
// blobs may be nil.
func Assemble(cfg Config, src leaderboard.Source, chainID uint64, blobs BlobStore) (*Server, error) {
	s := &Server{Config: cfg, Metrics: metrics.New()}

	opts := leaderboard.Options{
		ChainID:     chainID,
		FromBlock:   cfg.Chain.FromBlock,
		BlockSpan:   cfg.Chain.BlockSpan,
		Concurrency: cfg.Leaderboard.Concurrency,
		ReorgDepth:  cfg.Leaderboard.ReorgDepth,
	}
	var builder leaderboard.Builder
	switch cfg.Leaderboard.Mode {
	case ModeIndex:
		if dir := filepath.Dir(cfg.Leaderboard.IndexPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create index dir: %w", err)
			}
		}
		db, err := database.Open(cfg.Leaderboard.IndexPath)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, db.Close)
		builder = leaderboard.NewIndexer(src, store.NewEventStore(db), opts)
		slog.Info("Using indexed leaderboard", "path", cfg.Leaderboard.IndexPath)
	default:
		builder = leaderboard.NewAggregator(src, opts)
		slog.Info("Using full-replay leaderboard")
	}

	s.Refresher = leaderboard.NewRefresher(timedBuilder{builder, s.Metrics}, cfg.Leaderboard.RefreshInterval.Duration)
	s.Refresher.OnUpdate(s.Metrics.SetBoard)
	if blobs != nil {
		s.Publisher = NewPublisher(blobs, chainID, src.Address(), cfg.Storage.History)
		s.Refresher.OnUpdate(s.publish)
	}

	s.Handler = NewHandler(s.Refresher)
	if cfg.Server.RefreshToken != "" {
		s.Handler.SetRefreshToken(cfg.Server.RefreshToken)
		slog.Info("Refresh token enabled")
	}

	s.Server = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           NewRouter(s.Handler, s.Metrics),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// NewRouter registers the questboard routes.
func NewRouter(h *Handler, m *metrics.Metrics) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ping", h.Ping).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/leaderboard", h.Leaderboard).Methods(http.MethodGet)
	api.HandleFunc("/leaderboard/{address}", h.Entry).Methods(http.MethodGet)
	api.HandleFunc("/stats", h.Stats).Methods(http.MethodGet)
	api.HandleFunc("/quest", h.Quest).Methods(http.MethodGet)
	api.HandleFunc("/refresh", h.AuthMiddleware(h.Refresh)).Methods(http.MethodPost)

	if m != nil {
		r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	}
	r.Use(LoggerMiddleware(m))
	return r
}

func (s *Server) publish(b models.Leaderboard) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := s.Publisher.Publish(ctx, b); err != nil {
		slog.Warn("failed to publish leaderboard snapshot", "error", err)
		return
	}
	slog.Debug("leaderboard snapshot published", "key", s.Publisher.LatestKey())
}

// restore serves the last published snapshot until the first rebuild lands.
func (s *Server) restore(ctx context.Context) {
	if s.Publisher == nil {
		return
	}
	b, ok, err := s.Publisher.Latest(ctx)
	if err != nil {
		slog.Warn("failed to read leaderboard snapshot", "error", err)
		return
	}
	if ok && s.Refresher.Prime(b) {
		slog.Info("Restored leaderboard snapshot", "updated_at", b.UpdatedAt, "participants", b.Stats.TotalParticipants)
	}
}

// Start restores the last snapshot, starts the refresher and serves until
// the listener is shut down.
func (s *Server) Start(ctx context.Context) error {
	s.restore(ctx)
	s.Refresher.Start(ctx)
	slog.Info("Server starting", "addr", s.Server.Addr)
	if err := s.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.Refresher.Stop()
		return err
	}
	return nil
}

// Shutdown stops the listener and the refresher and releases the index.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.Server.Shutdown(ctx)
	s.Refresher.Stop()
	return errors.Join(err, s.Close())
}

// Close releases resources held outside the HTTP server.
func (s *Server) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c())
	}
	s.closers = nil
	return errors.Join(errs...)
}

// timedBuilder records every build in the metrics.
type timedBuilder struct {
	leaderboard.Builder
	m *metrics.Metrics
}

func (b timedBuilder) Build(ctx context.Context) (models.Leaderboard, error) {
	start := time.Now()
	board, err := b.Builder.Build(ctx)
	b.m.ObserveRefresh(time.Since(start), err)
	return board, err
}
