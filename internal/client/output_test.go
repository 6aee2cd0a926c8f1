package client

import (
	"bytes"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Teresaloving/PlantQuest/internal/models"
	"github.com/Teresaloving/PlantQuest/internal/quest"
)

func TestPrintSnapshot(t *testing.T) {
	start := uint64(1_700_000_000)
	h := models.Handle(common.HexToHash("0x07"))
	snap := quest.Snapshot{
		ChainID:   31337,
		Account:   common.HexToAddress("0x00000000000000000000000000000000000000a1"),
		Contract:  common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
		Config:    models.Load(models.QuestConfig{Duration: 7, StartTime: start, IsActive: true}),
		Status:    models.Load(models.QuestStatus{LastRecordTime: start + 100}),
		EncDays:   models.Load(h),
		Decrypted: &models.DecryptedValue{Handle: h, Clear: big.NewInt(3)},
		Message:   "Encrypted days clear value is 3",
	}

	var buf bytes.Buffer
	printSnapshot(&buf, snap, time.Unix(int64(start)+2*models.SecondsPerDay, 0))
	out := buf.String()

	for _, want := range []string{
		"Chain:     31337",
		"active, 7 days, day 3",
		"Progress:  3 days done, 4 remaining (43%)",
		"Message:   Encrypted days clear value is 3",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestPrintSnapshotEncryptedOnly(t *testing.T) {
	h := models.Handle(common.HexToHash("0x08"))
	snap := quest.Snapshot{
		Config:  models.Load(models.QuestConfig{Duration: 7, StartTime: 1, IsActive: true}),
		EncDays: models.Load(h),
		// decrypted value belongs to an older handle
		Decrypted: &models.DecryptedValue{Handle: common.HexToHash("0x07"), Clear: big.NewInt(3)},
	}
	var buf bytes.Buffer
	printSnapshot(&buf, snap, time.Now())
	if !strings.Contains(buf.String(), "encrypted "+h.Hex()) {
		t.Errorf("expected encrypted handle line, got:\n%s", buf.String())
	}
	if !strings.Contains(buf.String(), "not connected") {
		t.Errorf("expected not connected account, got:\n%s", buf.String())
	}
}

func TestPrintSnapshotNotDeployed(t *testing.T) {
	snap := quest.Snapshot{ChainID: 5, NotDeployed: true, Message: "PlantQuest deployment not found for chainId=5."}
	var buf bytes.Buffer
	printSnapshot(&buf, snap, time.Now())
	if !strings.Contains(buf.String(), "deployment not found for chainId=5") {
		t.Errorf("unexpected output:\n%s", buf.String())
	}
	if strings.Contains(buf.String(), "Contract:") {
		t.Error("contract line printed for missing deployment")
	}
}

func TestPrintLeaderboard(t *testing.T) {
	me := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	other := common.HexToAddress("0x00000000000000000000000000000000000000b0")
	b := models.Leaderboard{
		ChainID:  31337,
		Contract: common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
		Entries: []models.LeaderboardEntry{
			{Address: me, QuestCompleted: true, RecordCount: 7},
			{Address: other, RecordCount: 2},
		},
		Stats: models.LeaderboardStats{TotalParticipants: 2, Champions: 1, SuccessRate: 50},
	}
	days := uint64(7)

	var buf bytes.Buffer
	printLeaderboard(&buf, b, me, &days)
	out := buf.String()
	if !strings.Contains(out, "(you, 7 days)") {
		t.Errorf("missing own marker:\n%s", out)
	}
	if !strings.Contains(out, "Success rate: 50%") {
		t.Errorf("missing stats:\n%s", out)
	}
	if strings.Index(out, me.Hex()) > strings.Index(out, other.Hex()) {
		t.Errorf("rows out of order:\n%s", out)
	}

	buf.Reset()
	printLeaderboard(&buf, models.Leaderboard{}, me, nil)
	if !strings.Contains(buf.String(), "No participants yet.") {
		t.Errorf("unexpected empty output:\n%s", buf.String())
	}
}
