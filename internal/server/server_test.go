package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Teresaloving/PlantQuest/internal/contract"
	"github.com/Teresaloving/PlantQuest/internal/models"
)

var (
	questAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	alice     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob       = common.HexToAddress("0x00000000000000000000000000000000000000b0")
)

// fakeSource is a two-participant quest: alice finished, bob logged twice.
type fakeSource struct {
	fail error
}

func (f *fakeSource) Address() common.Address { return questAddr }

func (f *fakeSource) QuestConfig(context.Context) (models.QuestConfig, error) {
	if f.fail != nil {
		return models.QuestConfig{}, f.fail
	}
	return models.QuestConfig{Duration: 3, StartTime: 1_700_000_000, IsActive: true}, nil
}

func (f *fakeSource) QuestStatus(_ context.Context, user common.Address) (models.QuestStatus, error) {
	if user == alice {
		return models.QuestStatus{QuestCompleted: true, LastRecordTime: 1_700_000_300}, nil
	}
	return models.QuestStatus{LastRecordTime: 1_700_000_200}, nil
}

func (f *fakeSource) UserProgress(context.Context, common.Address) (models.Handle, error) {
	return models.ZeroHandle, nil
}

func (f *fakeSource) LatestBlock(context.Context) (uint64, error) { return 10, nil }

func (f *fakeSource) ScanEvents(_ context.Context, from, to, _ uint64) (contract.Events, error) {
	ev := contract.Events{
		Progress: []contract.ProgressLogged{
			{User: bob, Timestamp: 1_700_000_100, BlockNumber: 2},
			{User: alice, Timestamp: 1_700_000_150, BlockNumber: 3},
			{User: bob, Timestamp: 1_700_000_200, BlockNumber: 4},
			{User: alice, Timestamp: 1_700_000_300, BlockNumber: 5},
		},
		Completed: []contract.QuestCompleted{{User: alice, CompletedTime: 1_700_000_300, BlockNumber: 5, LogIndex: 1}},
	}
	var out contract.Events
	for _, e := range ev.Progress {
		if e.BlockNumber >= from && e.BlockNumber <= to {
			out.Progress = append(out.Progress, e)
		}
	}
	for _, e := range ev.Completed {
		if e.BlockNumber >= from && e.BlockNumber <= to {
			out.Completed = append(out.Completed, e)
		}
	}
	return out, nil
}

func clearEnv(t *testing.T) {
	for _, k := range []string{
		"QUESTBOARD_LOG_LEVEL", "QUESTBOARD_LOG_FORMAT", "QUESTBOARD_RPC_URL", "QUESTBOARD_DEPLOYMENTS",
		"QUESTBOARD_MODE", "QUESTBOARD_INDEX_PATH", "QUESTBOARD_PORT", "PORT", "QUESTBOARD_REFRESH_TOKEN",
		"STORAGE_TYPE", "DATA_DIR", "AWS_BUCKET", "AWS_REGION", "QUESTBOARD_CHAIN_ID", "QUESTBOARD_REFRESH_INTERVAL",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Leaderboard.Mode != ModeReplay {
		t.Errorf("mode = %q, want replay", cfg.Leaderboard.Mode)
	}
	if cfg.Leaderboard.RefreshInterval.Duration != 30*time.Second {
		t.Errorf("interval = %v, want 30s", cfg.Leaderboard.RefreshInterval)
	}
	if cfg.Server.Addr() != ":8082" {
		t.Errorf("addr = %q", cfg.Server.Addr())
	}
	if cfg.Leaderboard.ReorgDepth != 12 {
		t.Errorf("reorg depth = %d, want 12", cfg.Leaderboard.ReorgDepth)
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "questboard.toml")
	content := `
[log]
level = "debug"
format = "json"

[chain]
rpc_url = "http://node:8545"
deployments = "deployments.json"
block_span = 500

[leaderboard]
mode = "index"
refresh_interval = "45s"
concurrency = 4
index_path = "/tmp/qb.db"

[storage]
type = "s3"
history = 5

[server]
port = "9090"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("AWS_BUCKET", "snapshots")
	t.Setenv("QUESTBOARD_CHAIN_ID", "11155111")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("log = %+v", cfg.Log)
	}
	if cfg.Chain.RPCURL != "http://node:8545" || cfg.Chain.BlockSpan != 500 || cfg.Chain.ChainID != 11155111 {
		t.Errorf("chain = %+v", cfg.Chain)
	}
	if cfg.Leaderboard.RefreshInterval.Duration != 45*time.Second || cfg.Leaderboard.Concurrency != 4 {
		t.Errorf("leaderboard = %+v", cfg.Leaderboard)
	}
	if cfg.Storage.Bucket != "snapshots" || cfg.Storage.History != 5 {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Server.Addr() != ":9090" {
		t.Errorf("addr = %q", cfg.Server.Addr())
	}
}

func TestLoadConfigRejectsS3WithoutBucket(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORAGE_TYPE", "s3")
	if _, err := LoadConfig(""); err == nil || !strings.Contains(err.Error(), "AWS_BUCKET") {
		t.Errorf("expected AWS_BUCKET error, got %v", err)
	}
}

func TestNewServerValidatesBeforeDialing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Type = StorageS3
	cfg.Chain.RPCURL = "http://127.0.0.1:1"
	if _, err := NewServer(context.Background(), cfg); err == nil || !strings.Contains(err.Error(), "AWS_BUCKET") {
		t.Errorf("expected AWS_BUCKET error, got %v", err)
	}
}

// stubBoard serves a fixed Loadable.
type stubBoard struct {
	lb         models.Loadable[models.Leaderboard]
	refreshErr error
	refreshes  int
}

func (s *stubBoard) Board() models.Loadable[models.Leaderboard] { return s.lb }

func (s *stubBoard) Refresh(context.Context) (models.Loadable[models.Leaderboard], error) {
	s.refreshes++
	if s.refreshErr != nil {
		s.lb = s.lb.Fail(s.refreshErr)
		return s.lb, s.refreshErr
	}
	return s.lb, nil
}

func sampleBoard() models.Leaderboard {
	return models.Leaderboard{
		ChainID:  31337,
		Contract: questAddr,
		Entries: []models.LeaderboardEntry{
			{Address: alice, QuestCompleted: true, RecordCount: 2},
			{Address: bob, RecordCount: 2},
		},
		Stats: models.LeaderboardStats{TotalParticipants: 2, Champions: 1, SuccessRate: 50},
		Quest: models.QuestConfig{Duration: 3, StartTime: 1_700_000_000, IsActive: true},
	}
}

func get(t *testing.T, h http.Handler, method, path string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRoutes(t *testing.T) {
	board := &stubBoard{lb: models.Load(sampleBoard())}
	h := NewHandler(board)
	h.now = func() time.Time { return time.Unix(1_700_000_000+models.SecondsPerDay+5, 0) }
	r := NewRouter(h, nil)

	rec := get(t, r, http.MethodGet, "/ping", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "pong" {
		t.Errorf("ping = %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("missing request id header")
	}

	rec = get(t, r, http.MethodGet, "/api/leaderboard?limit=1", nil)
	var lb models.Leaderboard
	if err := json.NewDecoder(rec.Body).Decode(&lb); err != nil {
		t.Fatalf("decode leaderboard: %v", err)
	}
	if len(lb.Entries) != 1 || lb.Entries[0].Address != alice {
		t.Errorf("limited entries = %+v", lb.Entries)
	}

	rec = get(t, r, http.MethodGet, "/api/leaderboard?limit=x", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit = %d", rec.Code)
	}

	rec = get(t, r, http.MethodGet, "/api/leaderboard/"+bob.Hex(), nil)
	var entry models.RankedEntry
	if err := json.NewDecoder(rec.Body).Decode(&entry); err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	if entry.Rank != 2 || entry.Address != bob {
		t.Errorf("entry = %+v", entry)
	}
	if rec := get(t, r, http.MethodGet, "/api/leaderboard/0x0000000000000000000000000000000000000001", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown participant = %d", rec.Code)
	}
	if rec := get(t, r, http.MethodGet, "/api/leaderboard/nope", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad address = %d", rec.Code)
	}

	rec = get(t, r, http.MethodGet, "/api/stats", nil)
	var stats models.LeaderboardStats
	_ = json.NewDecoder(rec.Body).Decode(&stats)
	if stats.SuccessRate != 50 || stats.Champions != 1 {
		t.Errorf("stats = %+v", stats)
	}

	rec = get(t, r, http.MethodGet, "/api/quest", nil)
	var info models.QuestInfo
	_ = json.NewDecoder(rec.Body).Decode(&info)
	if info.CurrentDay != 2 || info.EndTime != 1_700_000_000+3*models.SecondsPerDay {
		t.Errorf("quest = %+v", info)
	}
}

func TestLeaderboardNotLoaded(t *testing.T) {
	r := NewRouter(NewHandler(&stubBoard{}), nil)
	if rec := get(t, r, http.MethodGet, "/api/leaderboard", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestRefreshFailureServesStaleBoard(t *testing.T) {
	board := &stubBoard{lb: models.Load(sampleBoard()), refreshErr: errors.New("rpc down")}
	r := NewRouter(NewHandler(board), nil)

	rec := get(t, r, http.MethodPost, "/api/refresh", nil)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("refresh = %d, want 502", rec.Code)
	}

	rec = get(t, r, http.MethodGet, "/api/leaderboard", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("leaderboard = %d", rec.Code)
	}
	if rec.Header().Get(StaleHeader) != "true" {
		t.Error("expected stale header after failed refresh")
	}
}

func TestRefreshRequiresToken(t *testing.T) {
	board := &stubBoard{lb: models.Load(sampleBoard())}
	h := NewHandler(board)
	h.SetRefreshToken("s3cret")
	r := NewRouter(h, nil)

	if rec := get(t, r, http.MethodPost, "/api/refresh", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d", rec.Code)
	}
	if rec := get(t, r, http.MethodPost, "/api/refresh", http.Header{"Authorization": {"Bearer wrong"}}); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d", rec.Code)
	}
	if rec := get(t, r, http.MethodPost, "/api/refresh", http.Header{"Authorization": {"Bearer s3cret"}}); rec.Code != http.StatusOK {
		t.Errorf("valid token = %d", rec.Code)
	}
	if board.refreshes != 1 {
		t.Errorf("refreshes = %d, want 1", board.refreshes)
	}
}

func TestAssembleServesAndPublishes(t *testing.T) {
	for _, mode := range []string{ModeReplay, ModeIndex} {
		t.Run(mode, func(t *testing.T) {
			dir := t.TempDir()
			cfg := DefaultConfig()
			cfg.Leaderboard.Mode = mode
			cfg.Leaderboard.IndexPath = filepath.Join(dir, "index", "questboard.db")
			cfg.Storage.History = 1

			srv, err := Assemble(cfg, &fakeSource{}, 31337, NewLocalBlobStore(dir))
			if err != nil {
				t.Fatalf("Assemble failed: %v", err)
			}
			defer func() { _ = srv.Close() }()

			if _, err := srv.Refresher.Refresh(context.Background()); err != nil {
				t.Fatalf("Refresh failed: %v", err)
			}

			ts := httptest.NewServer(srv.Server.Handler)
			defer ts.Close()

			resp, err := http.Get(ts.URL + "/api/leaderboard")
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			var lb models.Leaderboard
			if err := json.NewDecoder(resp.Body).Decode(&lb); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(lb.Entries) != 2 || lb.Entries[0].Address != alice || !lb.Entries[0].QuestCompleted {
				t.Errorf("entries = %+v", lb.Entries)
			}
			if lb.Stats.SuccessRate != 50 {
				t.Errorf("success rate = %d", lb.Stats.SuccessRate)
			}

			if _, ok, err := srv.Publisher.Latest(context.Background()); err != nil || !ok {
				t.Errorf("snapshot not published: %v %v", ok, err)
			}

			resp, err = http.Get(ts.URL + "/metrics")
			if err != nil {
				t.Fatal(err)
			}
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			if !strings.Contains(string(body), "questboard_leaderboard_participants 2") {
				t.Errorf("metrics missing participants gauge")
			}
		})
	}
}

func TestRestoreFromSnapshot(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	blobs := NewLocalBlobStore(dir)

	seed := sampleBoard()
	if err := NewPublisher(blobs, 31337, questAddr, 0).Publish(context.Background(), seed); err != nil {
		t.Fatal(err)
	}

	srv, err := Assemble(cfg, &fakeSource{fail: errors.New("rpc down")}, 31337, blobs)
	if err != nil {
		t.Fatal(err)
	}
	srv.restore(context.Background())

	got, ok := srv.Refresher.Board().Get()
	if !ok || len(got.Entries) != 2 {
		t.Fatalf("board not restored: %v %+v", ok, got)
	}
	if _, err := srv.Refresher.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}
	if got, ok := srv.Refresher.Board().Get(); !ok || len(got.Entries) != 2 {
		t.Errorf("restored board lost after failed refresh")
	}
}

type countingSource struct {
	fakeSource
	reads atomic.Int32
}

func (c *countingSource) QuestConfig(ctx context.Context) (models.QuestConfig, error) {
	c.reads.Add(1)
	return c.fakeSource.QuestConfig(ctx)
}

func TestStartStopsRefresherWhenListenFails(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer busy.Close()

	cfg := DefaultConfig()
	cfg.Leaderboard.RefreshInterval = Duration{5 * time.Millisecond}
	src := &countingSource{}
	srv, err := Assemble(cfg, src, 31337, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = srv.Close() }()
	srv.Server.Addr = busy.Addr().String()

	if err := srv.Start(context.Background()); err == nil {
		t.Fatal("expected listen error on a busy port")
	}
	reads := src.reads.Load()
	time.Sleep(50 * time.Millisecond)
	if got := src.reads.Load(); got != reads {
		t.Errorf("refresher kept running after Start failed: %d reads, then %d", reads, got)
	}
}
