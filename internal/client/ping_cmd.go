package client

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(pingCmd)
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check connection to questboard",
	Run: func(cmd *cobra.Command, args []string) {
		url := cfg.ServerURL
		if url == "" {
			fmt.Println("Server URL not set in config")
			return
		}

		fmt.Printf("Pinging %s...\n", url)
		d, err := Ping(commandContext(cmd), url)
		if err != nil {
			printError("Ping failed", err)
			return
		}
		success.Printf("Pong! Server is reachable (Latency: %v)\n", d)
	},
}
