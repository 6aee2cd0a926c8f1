package client

import (
	"context"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/Teresaloving/PlantQuest/internal/crypto"
)

func init() {
	rootCmd.AddCommand(leaderboardCmd)
	leaderboardCmd.Flags().Bool("decrypt-mine", false, "Decrypt your own completed days through the FHE relayer")
	leaderboardCmd.Flags().Int("limit", 0, "Show at most N entries")
}

var leaderboardCmd = &cobra.Command{
	Use:   "leaderboard",
	Short: "Show the community leaderboard from questboard",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := commandContext(cmd)
		limit, _ := cmd.Flags().GetInt("limit")
		board, stale, err := FetchLeaderboard(ctx, cfg.ServerURL, limit)
		if err != nil {
			printError("Error", err)
			return
		}

		var me common.Address
		if key, err := crypto.ParseWalletKey(cfg.PrivateKey); err == nil {
			me = key.Address
		}

		var mine *uint64
		if decryptMine, _ := cmd.Flags().GetBool("decrypt-mine"); decryptMine {
			days, err := decryptOwnDays(ctx)
			if err != nil {
				printError("Decrypt failed", err)
			} else {
				mine = &days
			}
		}

		printLeaderboard(os.Stdout, board, me, mine)
		if stale {
			warning.Println("questboard could not refresh recently; this board may be out of date.")
		}
	},
}

func decryptOwnDays(ctx context.Context) (uint64, error) {
	env, err := openSession(ctx, cfg, cfgFile, true)
	if err != nil {
		return 0, err
	}
	defer func() { _ = env.Close() }()

	if err := requireDeployed(env); err != nil {
		return 0, err
	}
	if err := env.Session.RefreshEncDays(ctx); err != nil {
		return 0, err
	}
	if err := env.Session.DecryptEncDays(ctx); err != nil {
		return 0, err
	}
	snap := env.Session.Snapshot()
	days, ok := snap.ClearDays()
	if !ok {
		return 0, fmt.Errorf("no decrypted value: %s", snap.Message)
	}
	return days.Uint64(), nil
}
