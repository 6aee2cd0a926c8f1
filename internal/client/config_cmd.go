package client

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Teresaloving/PlantQuest/internal/crypto"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(setRPCCmd)
	rootCmd.AddCommand(setRelayerCmd)
	rootCmd.AddCommand(setServerCmd)
	rootCmd.AddCommand(setDeploymentsCmd)

	configInitCmd.Flags().String("rpc", "", "JSON-RPC URL")
	configInitCmd.Flags().String("relayer", "", "FHE relayer URL")
	configInitCmd.Flags().String("server", "", "questboard URL")
	configInitCmd.Flags().String("deployments", "", "Deployments file or directory")
	configInitCmd.Flags().String("signature-store", "", "Where decryption signatures are kept: file, sqlite, lru or memory")
	configInitCmd.Flags().Uint64("chain-id", 0, "Expected chain id")
	configInitCmd.Flags().Bool("generate-key", false, "Generate a new wallet key")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	Run: func(cmd *cobra.Command, args []string) {
		for flag, dst := range map[string]*string{
			"rpc":             &cfg.RPCURL,
			"relayer":         &cfg.RelayerURL,
			"server":          &cfg.ServerURL,
			"deployments":     &cfg.Deployments,
			"signature-store": &cfg.SignatureStore,
		} {
			if v, _ := cmd.Flags().GetString(flag); v != "" {
				*dst = v
			}
		}
		if id, _ := cmd.Flags().GetUint64("chain-id"); id != 0 {
			cfg.ChainID = id
		}

		if gen, _ := cmd.Flags().GetBool("generate-key"); gen {
			key, err := crypto.GenerateWalletKey()
			if err != nil {
				fmt.Println("Error generating wallet key:", err)
				return
			}
			cfg.PrivateKey = key.Hex()
		}

		if err := SaveConfigGlobal(); err != nil {
			fmt.Println("Error saving config:", err)
			return
		}
		success.Printf("Initialized %s\n", cfgFile)
		fmt.Printf("RPC:         %s\n", cfg.RPCURL)
		fmt.Printf("Relayer:     %s\n", cfg.RelayerURL)
		fmt.Printf("Server URL:  %s\n", cfg.ServerURL)
		fmt.Printf("Deployments: %s\n", cfg.Deployments)
		if key, err := crypto.ParseWalletKey(cfg.PrivateKey); err == nil {
			fmt.Printf("Address:     %s\n", key.Address.Hex())
		}
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(cfgFile)
	},
}

// setter builds a set-<name> command that stores its argument in dst.
func setter(use, short, label string, dst func() *string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			*dst() = args[0]
			if err := SaveConfigGlobal(); err != nil {
				fmt.Println("Error saving config:", err)
				return
			}
			fmt.Printf("%s set to %s\n", label, args[0])
		},
	}
}

var (
	setRPCCmd         = setter("set-rpc <url>", "Set the JSON-RPC URL", "RPC URL", func() *string { return &cfg.RPCURL })
	setRelayerCmd     = setter("set-relayer <url>", "Set the FHE relayer URL", "Relayer URL", func() *string { return &cfg.RelayerURL })
	setServerCmd      = setter("set-server <url>", "Set the questboard URL", "Server URL", func() *string { return &cfg.ServerURL })
	setDeploymentsCmd = setter("set-deployments <path>", "Set the deployments file or directory", "Deployments", func() *string { return &cfg.Deployments })
)
