package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/cloudlog/internal/logging"
	natsclient "github.com/telhawk-systems/cloudlog/internal/messaging/nats"
	"github.com/telhawk-systems/cloudlog/internal/schema"
	"github.com/telhawk-systems/cloudlog/internal/seeder"
)

var (
	seedSources string
	seedCount   int
	seedValue   int64
	seedProject string
	seedPublish bool
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Generate synthetic LogEntry JSON",
	Long: `Generates synthetic Cloud Logging entries. Entries are written to stdout
as newline-delimited JSON, or published to cloudlog.raw.<source> with --publish.

Examples:
  cloudlog seed --source audit --count 5 | cloudlog normalize --source audit
  cloudlog seed --count 1000 --publish`,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().StringVarP(&seedSources, "source", "s", "", "comma-separated sources (default: all)")
	seedCmd.Flags().IntVarP(&seedCount, "count", "n", 10, "entries per source")
	seedCmd.Flags().Int64Var(&seedValue, "seed", 0, "random seed (0 picks one)")
	seedCmd.Flags().StringVar(&seedProject, "project", "cloudlog-dev", "GCP project id used in entries")
	seedCmd.Flags().BoolVar(&seedPublish, "publish", false, "publish to NATS instead of writing to stdout")
	rootCmd.AddCommand(seedCmd)
}

func parseSources(list string) ([]schema.Source, error) {
	if strings.TrimSpace(list) == "" {
		return schema.Sources(), nil
	}
	var out []schema.Source
	for _, name := range strings.Split(list, ",") {
		s, err := schema.ParseSource(name)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	sources, err := parseSources(seedSources)
	if err != nil {
		return err
	}
	if seedCount <= 0 {
		return fmt.Errorf("--count must be positive")
	}
	gen := seeder.NewGenerator(seedValue, seedProject)

	if seedPublish {
		logger := logging.Default()
		client, err := natsclient.NewClient(natsclient.Config{
			URL:           cfg.NATS.URL,
			Name:          cfg.NATS.Name + "-seeder",
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait,
		}, logger)
		if err != nil {
			return err
		}
		defer client.Drain()

		sent, err := seeder.Publish(cmd.Context(), gen, client, sources, seedCount)
		logger.Info("seed complete", "published", sent)
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, source := range sources {
		for i := 0; i < seedCount; i++ {
			entry, err := gen.Generate(source)
			if err != nil {
				return err
			}
			if err := enc.Encode(entry); err != nil {
				return err
			}
		}
	}
	return nil
}
