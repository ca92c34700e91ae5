package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var serverURL string

var rootCmd = &cobra.Command{
	Use:   "cmux",
	Short: "Sandbox supervisor for AI coding agents",
	Long:  `cmux manages isolated sandboxes: local bubblewrap containers or remote Proxmox LXC, fronted by a single daemon.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOrDefault("CMUX_SERVER_URL", "http://127.0.0.1:39373"), "cmuxd base URL")
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
