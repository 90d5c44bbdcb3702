package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	logPretty  bool

	rootCmd = &cobra.Command{
		Use:   "econfetch",
		Short: "Yearly economic data downloader",
		Long: `econfetch downloads yearly observations for a catalog of economic
datasets (FRED, BLS, CoinGecko, OECD, ECB, Census, IMF) and writes one
JSON payload per dataset and year, a summary per dataset, and an
aggregate report per full run under data/raw_json/.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default econfetch.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&logPretty, "pretty", false, "human-readable log output instead of JSON")
}

func main() {
	// Local development convenience; never overrides variables already
	// set by the runtime environment.
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
