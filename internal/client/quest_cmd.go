package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Teresaloving/PlantQuest/internal/chain"
	"github.com/Teresaloving/PlantQuest/internal/quest"
)

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(startQuestCmd)
	rootCmd.AddCommand(logProgressCmd)
	rootCmd.AddCommand(decryptCmd)
	rootCmd.AddCommand(claimBadgeCmd)

	statusCmd.Flags().Bool("decrypt", false, "Also decrypt completed days")
	startQuestCmd.Flags().Uint64("days", 0, "Quest duration in days")
	logProgressCmd.Flags().Bool("completed", false, "Whether today's goal was completed")
}

// withSession opens a quest session from the config, runs fn and reports
// its error.
func withSession(cmd *cobra.Command, withRelayer bool, fn func(ctx context.Context, env *questEnv) error) {
	ctx := commandContext(cmd)
	env, err := openSession(ctx, cfg, cfgFile, withRelayer)
	if err != nil {
		printError("Error connecting", err)
		return
	}
	defer func() { _ = env.Close() }()

	if err := fn(ctx, env); err != nil {
		if msg := env.Session.Snapshot().Message; msg != "" {
			failure.Println(msg)
		}
		switch {
		case errors.Is(err, chain.ErrNoSigner):
			warning.Println("No wallet configured. Use 'plantquest wallet new' or 'wallet import'.")
		case errors.Is(err, quest.ErrBusy):
			warning.Println("Another transaction or refresh is still running.")
		default:
			printError("Error", err)
		}
	}
}

func requireDeployed(env *questEnv) error {
	if snap := env.Session.Snapshot(); snap.NotDeployed {
		return errors.New(snap.Message)
	}
	return nil
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show quest configuration, your status and progress",
	Run: func(cmd *cobra.Command, args []string) {
		decrypt, _ := cmd.Flags().GetBool("decrypt")
		withSession(cmd, decrypt, func(ctx context.Context, env *questEnv) error {
			if err := env.Session.Refresh(ctx); err != nil && !errors.Is(err, chain.ErrNoSigner) {
				warning.Printf("Some reads failed: %v\n", err)
			}
			if decrypt {
				if err := env.Session.DecryptEncDays(ctx); err != nil {
					warning.Printf("Decrypt failed: %v\n", err)
				}
			}
			printSnapshot(os.Stdout, env.Session.Snapshot(), time.Now())
			return nil
		})
	},
}

var startQuestCmd = &cobra.Command{
	Use:   "start-quest",
	Short: "Start a quest of --days days (organizer)",
	Run: func(cmd *cobra.Command, args []string) {
		days, _ := cmd.Flags().GetUint64("days")
		if days == 0 {
			fmt.Println("Duration required: --days N")
			return
		}
		withSession(cmd, false, func(ctx context.Context, env *questEnv) error {
			if err := requireDeployed(env); err != nil {
				return err
			}
			if err := env.Session.InitiateQuest(ctx, days); err != nil {
				return err
			}
			success.Printf("Quest started for %d days\n", days)
			return nil
		})
	},
}

var logProgressCmd = &cobra.Command{
	Use:   "log-progress",
	Short: "Record today's encrypted progress",
	Run: func(cmd *cobra.Command, args []string) {
		completed, _ := cmd.Flags().GetBool("completed")
		withSession(cmd, false, func(ctx context.Context, env *questEnv) error {
			if err := requireDeployed(env); err != nil {
				return err
			}
			if err := env.Session.LogDailyProgress(ctx, completed); err != nil {
				return err
			}
			snap := env.Session.Snapshot()
			success.Printf("Progress recorded (completed: %t)\n", completed)
			if h, ok := snap.EncDays.Get(); ok {
				fmt.Printf("Encrypted days handle: %s\n", h.Hex())
			}
			return nil
		})
	},
}

var decryptCmd = &cobra.Command{
	Use:   "decrypt",
	Short: "Decrypt your completed days through the FHE relayer",
	Run: func(cmd *cobra.Command, args []string) {
		withSession(cmd, true, func(ctx context.Context, env *questEnv) error {
			if err := requireDeployed(env); err != nil {
				return err
			}
			s := env.Session
			if err := s.RefreshQuestConfig(ctx); err != nil {
				return err
			}
			if err := s.RefreshEncDays(ctx); err != nil {
				return err
			}
			if _, ok := s.Snapshot().EncDays.Get(); !ok {
				fmt.Println("No progress recorded yet.")
				return nil
			}
			if err := s.DecryptEncDays(ctx); err != nil {
				return err
			}
			snap := s.Snapshot()
			days, ok := snap.ClearDays()
			if !ok {
				return errors.New(snap.Message)
			}
			success.Printf("Completed days: %s\n", days)
			if p, ok := snap.Progress(); ok {
				fmt.Printf("Remaining: %d days (%d%% done)\n", p.RemainingDays, p.Percent)
			}
			return nil
		})
	},
}

var claimBadgeCmd = &cobra.Command{
	Use:   "claim-badge",
	Short: "Claim the first check-in badge",
	Run: func(cmd *cobra.Command, args []string) {
		withSession(cmd, false, func(ctx context.Context, env *questEnv) error {
			if err := requireDeployed(env); err != nil {
				return err
			}
			if err := env.Session.ClaimFirstCheckInBadge(ctx); err != nil {
				return err
			}
			success.Println("First check-in badge claimed!")
			return nil
		})
	},
}
