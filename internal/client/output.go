package client

import (
	"fmt"
	"io"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"

	"github.com/Teresaloving/PlantQuest/internal/models"
	"github.com/Teresaloving/PlantQuest/internal/quest"
)

var (
	heading = color.New(color.FgCyan, color.Bold)
	success = color.New(color.FgGreen)
	warning = color.New(color.FgYellow)
	failure = color.New(color.FgRed)
	faint   = color.New(color.Faint)
)

func printError(msg string, err error) {
	failure.Printf("%s: %v\n", msg, err)
}

func formatTime(ts uint64) string {
	if ts == 0 {
		return "never"
	}
	return time.Unix(int64(ts), 0).UTC().Format(time.RFC822)
}

func short(a common.Address) string {
	h := a.Hex()
	return h[:6] + "…" + h[len(h)-4:]
}

// printSnapshot renders the session state the way `status` shows it.
func printSnapshot(w io.Writer, snap quest.Snapshot, now time.Time) {
	heading.Fprintln(w, "PlantQuest")
	fmt.Fprintf(w, "Chain:     %d\n", snap.ChainID)
	if snap.Account == (common.Address{}) {
		warning.Fprintln(w, "Account:   not connected (run 'plantquest wallet new' or 'wallet import')")
	} else {
		fmt.Fprintf(w, "Account:   %s\n", snap.Account.Hex())
	}
	if snap.NotDeployed {
		warning.Fprintln(w, snap.Message)
		return
	}
	fmt.Fprintf(w, "Contract:  %s\n", snap.Contract.Hex())

	if c, ok := snap.Config.Get(); ok {
		state := "inactive"
		if c.IsActive {
			state = "active"
		}
		fmt.Fprintf(w, "Quest:     %s, %d days, day %d (starts %s, ends %s)\n",
			state, c.Duration, c.CurrentDay(now), formatTime(c.StartTime), formatTime(c.EndTime()))
		fmt.Fprintf(w, "Organizer: %s\n", c.Organizer.Hex())
	} else {
		faint.Fprintln(w, "Quest:     not loaded")
	}

	if s, ok := snap.Status.Get(); ok {
		fmt.Fprintf(w, "Completed: %s\n", yesNo(s.QuestCompleted))
		fmt.Fprintf(w, "Badges:    completion %s, first check-in %s\n", yesNo(s.BadgeMinted), yesNo(s.FirstCheckInBadgeMinted))
		fmt.Fprintf(w, "Last log:  %s\n", formatTime(s.LastRecordTime))
	}

	if p, ok := snap.Progress(); ok {
		success.Fprintf(w, "Progress:  %d days done, %d remaining (%d%%)\n", p.CompletedDays, p.RemainingDays, p.Percent)
	} else if h, ok := snap.EncDays.Get(); ok {
		fmt.Fprintf(w, "Progress:  encrypted %s (run 'plantquest decrypt')\n", h.Hex())
	}

	if snap.Message != "" {
		faint.Fprintf(w, "Message:   %s\n", snap.Message)
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// printLeaderboard renders a board as a ranked table. mine, when set, is
// the caller's decrypted day count.
func printLeaderboard(w io.Writer, b models.Leaderboard, me common.Address, mine *uint64) {
	heading.Fprintf(w, "Leaderboard (chain %d, %s)\n", b.ChainID, short(b.Contract))
	fmt.Fprintf(w, "Participants: %d  Champions: %d  Success rate: %d%%\n",
		b.Stats.TotalParticipants, b.Stats.Champions, b.Stats.SuccessRate)
	if len(b.Entries) == 0 {
		faint.Fprintln(w, "No participants yet.")
		return
	}

	fmt.Fprintf(w, "%-4s  %-42s  %-9s  %-5s  %-7s  %s\n", "RANK", "ADDRESS", "COMPLETED", "BADGE", "RECORDS", "LAST LOG")
	for i, e := range b.Entries {
		line := fmt.Sprintf("%-4d  %-42s  %-9s  %-5s  %-7d  %s",
			i+1, e.Address.Hex(), yesNo(e.QuestCompleted), yesNo(e.BadgeMinted), e.RecordCount, formatTime(e.LastRecordTime))
		switch {
		case e.Address == me:
			if mine != nil {
				line += fmt.Sprintf("  (you, %d days)", *mine)
			} else {
				line += "  (you)"
			}
			success.Fprintln(w, line)
		default:
			fmt.Fprintln(w, line)
		}
	}
	fmt.Fprintf(w, "Updated %s\n", b.UpdatedAt.UTC().Format(time.RFC822))
}
