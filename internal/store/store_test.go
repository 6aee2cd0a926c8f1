package store

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Teresaloving/PlantQuest/internal/contract"
	"github.com/Teresaloving/PlantQuest/internal/database"
)

var (
	questAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	alice     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob       = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func setupTestDB(t *testing.T) (*SignatureStore, *EventStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSignatureStore(db), NewEventStore(db)
}

func TestSignatureStoreRoundTrip(t *testing.T) {
	sigs, _ := setupTestDB(t)
	ctx := context.Background()

	if _, ok, err := sigs.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("get missing: ok=%v err=%v", ok, err)
	}

	if err := sigs.Set(ctx, "k", "v1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := sigs.Set(ctx, "k", "v2"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	v, ok, err := sigs.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if v != "v2" {
		t.Errorf("value = %q, want %q", v, "v2")
	}

	if err := sigs.Remove(ctx, "k"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok, _ := sigs.Get(ctx, "k"); ok {
		t.Error("expected key to be removed")
	}
}

func TestEventStoreAppendAndWatermark(t *testing.T) {
	_, events := setupTestDB(t)
	ctx := context.Background()

	if _, ok, err := events.Watermark(ctx, 31337, questAddr); err != nil || ok {
		t.Fatalf("fresh watermark: ok=%v err=%v", ok, err)
	}

	first := contract.Events{
		Progress: []contract.ProgressLogged{
			{User: alice, Timestamp: 100, BlockNumber: 3, LogIndex: 0},
			{User: bob, Timestamp: 110, BlockNumber: 4, LogIndex: 1},
		},
		Badges: []contract.BadgeMinted{{User: alice, TokenID: big.NewInt(7), BlockNumber: 3, LogIndex: 1}},
	}
	if err := events.Append(ctx, 31337, questAddr, first, 10); err != nil {
		t.Fatalf("append: %v", err)
	}

	second := contract.Events{
		Progress: []contract.ProgressLogged{
			{User: bob, Timestamp: 110, BlockNumber: 4, LogIndex: 1}, // replayed, ignored
			{User: alice, Timestamp: 200, BlockNumber: 12, LogIndex: 0},
		},
		Completed: []contract.QuestCompleted{{User: alice, CompletedTime: 200, BlockNumber: 12, LogIndex: 1}},
	}
	if err := events.Append(ctx, 31337, questAddr, second, 20); err != nil {
		t.Fatalf("append second: %v", err)
	}

	block, ok, err := events.Watermark(ctx, 31337, questAddr)
	if err != nil || !ok {
		t.Fatalf("watermark: ok=%v err=%v", ok, err)
	}
	if block != 20 {
		t.Errorf("watermark = %d, want 20", block)
	}

	got, err := events.Events(ctx, 31337, questAddr)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(got.Progress) != 3 {
		t.Fatalf("progress events = %d, want 3", len(got.Progress))
	}
	if got.Progress[2].User != alice || got.Progress[2].Timestamp != 200 {
		t.Errorf("last progress = %+v", got.Progress[2])
	}
	if len(got.Completed) != 1 || got.Completed[0].CompletedTime != 200 {
		t.Errorf("completed = %+v", got.Completed)
	}
	if len(got.Badges) != 1 || got.Badges[0].TokenID.Int64() != 7 {
		t.Errorf("badges = %+v", got.Badges)
	}

	other, err := events.Events(ctx, 1, questAddr)
	if err != nil {
		t.Fatalf("events other chain: %v", err)
	}
	if len(other.Progress) != 0 {
		t.Errorf("other chain leaked %d events", len(other.Progress))
	}
}

func TestEventStoreRewind(t *testing.T) {
	_, events := setupTestDB(t)
	ctx := context.Background()

	ev := contract.Events{Progress: []contract.ProgressLogged{
		{User: alice, Timestamp: 1, BlockNumber: 4},
		{User: bob, Timestamp: 2, BlockNumber: 8},
	}}
	if err := events.Append(ctx, 31337, questAddr, ev, 10); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := events.Rewind(ctx, 31337, questAddr, 6); err != nil {
		t.Fatalf("rewind: %v", err)
	}

	block, ok, err := events.Watermark(ctx, 31337, questAddr)
	if err != nil || !ok || block != 6 {
		t.Fatalf("watermark = %d ok=%v err=%v, want 6", block, ok, err)
	}
	got, err := events.Events(ctx, 31337, questAddr)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(got.Progress) != 1 || got.Progress[0].User != alice {
		t.Errorf("events after rewind = %+v", got.Progress)
	}
}

func TestEventStoreReset(t *testing.T) {
	_, events := setupTestDB(t)
	ctx := context.Background()

	ev := contract.Events{Progress: []contract.ProgressLogged{{User: alice, Timestamp: 1, BlockNumber: 1}}}
	if err := events.Append(ctx, 31337, questAddr, ev, 5); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := events.Reset(ctx, 31337, questAddr); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, ok, _ := events.Watermark(ctx, 31337, questAddr); ok {
		t.Error("watermark survived reset")
	}
	got, _ := events.Events(ctx, 31337, questAddr)
	if len(got.Progress) != 0 {
		t.Errorf("events survived reset: %d", len(got.Progress))
	}
}
