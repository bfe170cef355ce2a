package main

import (
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	envFile string
)

var rootCmd = &cobra.Command{
	Use:          "relay",
	Short:        "Streaming chat relay with API key rotation",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default ./config.yaml or ./config/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "dotenv file merged into the configuration")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
}
