// Package cli implements the cloudlog command line.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/cloudlog/internal/config"
	"github.com/telhawk-systems/cloudlog/internal/logging"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "cloudlog",
	Short: "GCP Cloud Logging normalizer",
	Long: `cloudlog normalizes Google Cloud Logging entries (audit, BigQuery and
Cloud Armor) into a flat, source-independent event document.

Run it as a service with "cloudlog serve" or normalize files locally with
"cloudlog normalize".`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml or /etc/cloudlog/config.yaml)")
}

func initConfig() error {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return err
	}
	logging.SetDefault(logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format))
	return nil
}
