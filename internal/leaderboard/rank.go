package leaderboard

import (
	"bytes"
	"math"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Teresaloving/PlantQuest/internal/contract"
	"github.com/Teresaloving/PlantQuest/internal/models"
)

// tally is what the event logs alone say about a quest.
type tally struct {
	order     []common.Address // participants in first-seen order
	counts    map[common.Address]int
	completed map[common.Address]bool
	badges    map[common.Address]bool
}

// tallyEvents counts progress and completions inside the quest window.
// Badges are counted regardless of when they were minted.
func tallyEvents(cfg models.QuestConfig, ev contract.Events) tally {
	t := tally{
		counts:    make(map[common.Address]int),
		completed: make(map[common.Address]bool),
		badges:    make(map[common.Address]bool),
	}
	for _, e := range ev.Progress {
		if !cfg.InWindow(e.Timestamp) {
			continue
		}
		if _, seen := t.counts[e.User]; !seen {
			t.order = append(t.order, e.User)
		}
		t.counts[e.User]++
	}
	for _, e := range ev.Completed {
		if cfg.InWindow(e.CompletedTime) {
			t.completed[e.User] = true
		}
	}
	for _, e := range ev.Badges {
		t.badges[e.User] = true
	}
	return t
}

// eventEntry is the row for addr built from events only.
func (t tally) eventEntry(addr common.Address) models.LeaderboardEntry {
	return models.LeaderboardEntry{
		Address:        addr,
		QuestCompleted: t.completed[addr],
		BadgeMinted:    t.badges[addr],
		RecordCount:    t.counts[addr],
	}
}

// Rank sorts entries: completed first, then more records, then the most
// recent record, then by address so the order is total.
func Rank(entries []models.LeaderboardEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.QuestCompleted != b.QuestCompleted {
			return a.QuestCompleted
		}
		if a.RecordCount != b.RecordCount {
			return a.RecordCount > b.RecordCount
		}
		if a.LastRecordTime != b.LastRecordTime {
			return a.LastRecordTime > b.LastRecordTime
		}
		return bytes.Compare(a.Address[:], b.Address[:]) < 0
	})
}

// ComputeStats summarizes entries. SuccessRate is 0 with no participants.
func ComputeStats(entries []models.LeaderboardEntry) models.LeaderboardStats {
	stats := models.LeaderboardStats{TotalParticipants: len(entries)}
	for _, e := range entries {
		if e.QuestCompleted {
			stats.Champions++
		}
	}
	if stats.TotalParticipants > 0 {
		stats.SuccessRate = int(math.Round(100 * float64(stats.Champions) / float64(stats.TotalParticipants)))
	}
	return stats
}
