package models

import (
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SecondsPerDay is the length of one quest day as the contract counts it.
const SecondsPerDay = 24 * 60 * 60

// Handle is an opaque reference to a ciphertext held by the FHE co-processor.
type Handle = common.Hash

// ZeroHandle means the contract holds no encrypted value yet.
var ZeroHandle Handle

// QuestConfig mirrors the contract's quest configuration at the last read.
type QuestConfig struct {
	Duration  uint64         `json:"duration"`   // days
	StartTime uint64         `json:"start_time"` // unix seconds
	IsActive  bool           `json:"is_active"`
	Organizer common.Address `json:"organizer"`
}

// EndTime is the last second of the quest window.
func (c QuestConfig) EndTime() uint64 {
	return c.StartTime + c.Duration*SecondsPerDay
}

// InWindow reports whether ts falls inside [StartTime, EndTime].
func (c QuestConfig) InWindow(ts uint64) bool {
	return ts >= c.StartTime && ts <= c.EndTime()
}

// CurrentDay returns the 1-based quest day at now, capped at Duration.
// Before the start it returns 0.
func (c QuestConfig) CurrentDay(now time.Time) uint64 {
	n := now.Unix()
	if c.StartTime == 0 || n < int64(c.StartTime) {
		return 0
	}
	day := uint64(n-int64(c.StartTime))/SecondsPerDay + 1
	if day > c.Duration {
		return c.Duration
	}
	return day
}

// QuestStatus is the per-user quest state.
type QuestStatus struct {
	QuestCompleted          bool   `json:"quest_completed"`
	BadgeMinted             bool   `json:"badge_minted"`
	LastRecordTime          uint64 `json:"last_record_time"`
	FirstCheckInBadgeMinted bool   `json:"first_check_in_badge_minted"`
}

// HasRecorded reports whether the user logged progress at least once.
func (s QuestStatus) HasRecorded() bool {
	return s.LastRecordTime > 0
}

// DecryptedValue is a clear value tied to the handle it was decrypted from.
type DecryptedValue struct {
	Handle Handle   `json:"handle"`
	Clear  *big.Int `json:"clear"`
}

// CurrentFor reports whether the value still belongs to the latest handle.
func (v *DecryptedValue) CurrentFor(h *Handle) bool {
	return v != nil && h != nil && v.Handle == *h
}

// Progress is the derived view of completed days against a quest.
type Progress struct {
	CompletedDays uint64 `json:"completed_days"`
	RemainingDays uint64 `json:"remaining_days"`
	Percent       int    `json:"percent"`
}

// NewProgress derives remaining days and percent complete.
func NewProgress(completed, duration uint64) Progress {
	p := Progress{CompletedDays: completed}
	if duration > completed {
		p.RemainingDays = duration - completed
	}
	if duration > 0 {
		p.Percent = int(math.Round(100 * float64(completed) / float64(duration)))
	}
	return p
}

// LeaderboardEntry is one participant's row, rebuilt from events.
type LeaderboardEntry struct {
	Address        common.Address `json:"address"`
	QuestCompleted bool           `json:"quest_completed"`
	BadgeMinted    bool           `json:"badge_minted"`
	LastRecordTime uint64         `json:"last_record_time"`
	RecordCount    int            `json:"record_count"`
	EncDaysHandle  *Handle        `json:"enc_days_handle,omitempty"`
}

// LeaderboardStats aggregates a leaderboard.
type LeaderboardStats struct {
	TotalParticipants int `json:"total_participants"`
	Champions         int `json:"champions"`
	SuccessRate       int `json:"success_rate"` // percent
}

// Leaderboard is a ranked snapshot.
type Leaderboard struct {
	ChainID   uint64             `json:"chain_id"`
	Contract  common.Address     `json:"contract"`
	Entries   []LeaderboardEntry `json:"entries"`
	Stats     LeaderboardStats   `json:"stats"`
	Quest     QuestConfig        `json:"quest"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Rank returns the 1-based position of addr on the board.
func (b Leaderboard) Rank(addr common.Address) (RankedEntry, bool) {
	for i, e := range b.Entries {
		if e.Address == addr {
			return RankedEntry{Rank: i + 1, LeaderboardEntry: e}, true
		}
	}
	return RankedEntry{}, false
}

// RankedEntry is a leaderboard row with its position.
type RankedEntry struct {
	Rank int `json:"rank"`
	LeaderboardEntry
}

// QuestInfo is the public view of the quest served by questboard.
type QuestInfo struct {
	ChainID    uint64         `json:"chain_id"`
	Contract   common.Address `json:"contract"`
	Quest      QuestConfig    `json:"quest"`
	EndTime    uint64         `json:"end_time"`
	CurrentDay uint64         `json:"current_day"`
}

// NewQuestInfo derives the public quest view from a board at now.
func NewQuestInfo(b Leaderboard, now time.Time) QuestInfo {
	return QuestInfo{
		ChainID:    b.ChainID,
		Contract:   b.Contract,
		Quest:      b.Quest,
		EndTime:    b.Quest.EndTime(),
		CurrentDay: b.Quest.CurrentDay(now),
	}
}
