package client

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Teresaloving/PlantQuest/internal/crypto"
)

func init() {
	rootCmd.AddCommand(walletCmd)
	walletCmd.AddCommand(walletNewCmd)
	walletCmd.AddCommand(walletImportCmd)
	walletCmd.AddCommand(walletAddressCmd)

	walletNewCmd.Flags().Bool("force", false, "Replace an existing key")
	walletImportCmd.Flags().Bool("force", false, "Replace an existing key")
}

var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Manage the local wallet key",
}

func storeKey(cmd *cobra.Command, key *crypto.WalletKey) {
	if force, _ := cmd.Flags().GetBool("force"); cfg.PrivateKey != "" && !force {
		warning.Println("A wallet key is already configured. Use --force to replace it.")
		return
	}
	cfg.PrivateKey = key.Hex()
	if err := SaveConfigGlobal(); err != nil {
		fmt.Println("Error saving config:", err)
		return
	}
	success.Printf("Wallet address: %s\n", key.Address.Hex())
}

var walletNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Generate a new wallet key",
	Run: func(cmd *cobra.Command, args []string) {
		key, err := crypto.GenerateWalletKey()
		if err != nil {
			fmt.Println("Error generating wallet key:", err)
			return
		}
		storeKey(cmd, key)
	},
}

var walletImportCmd = &cobra.Command{
	Use:   "import <hex-private-key>",
	Short: "Import an existing wallet key",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		key, err := crypto.ParseWalletKey(args[0])
		if err != nil {
			fmt.Println("Error:", err)
			return
		}
		storeKey(cmd, key)
	},
}

var walletAddressCmd = &cobra.Command{
	Use:   "address",
	Short: "Show the wallet address",
	Run: func(cmd *cobra.Command, args []string) {
		if cfg.PrivateKey == "" {
			fmt.Println("No wallet configured. Use 'wallet new' or 'wallet import'.")
			return
		}
		key, err := crypto.ParseWalletKey(cfg.PrivateKey)
		if err != nil {
			fmt.Println("Error:", err)
			return
		}
		fmt.Println(key.Address.Hex())
	},
}
