package client

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/Teresaloving/PlantQuest/internal/logging"
)

var (
	cfgFile string
	cfg     *Config
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "plantquest",
	Short: "Grow a daily habit with encrypted progress on-chain",
}

func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/plantquest/config.json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log session activity to stderr")
}

func initConfig() {
	level := "warn"
	if verbose {
		level = "debug"
	}
	logging.Setup(level, "text")

	var err error
	if cfgFile == "" {
		cfgFile, err = GetConfigPath()
		if err != nil {
			fmt.Println("Error getting config path:", err)
			os.Exit(1)
		}
	}

	cfg, err = LoadConfig(cfgFile)
	if err != nil {
		fmt.Println("Error loading config:", err)
		os.Exit(1)
	}
}

func GetRootCmd() *cobra.Command {
	return rootCmd
}

func GetConfig() *Config {
	return cfg
}

func SaveConfigGlobal() error {
	path := cfgFile
	if path == "" {
		var err error
		path, err = GetConfigPath()
		if err != nil {
			return err
		}
	}
	return SaveConfig(path, cfg)
}

// commandContext returns the command's context, or Background when the
// command runs outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
