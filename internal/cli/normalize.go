package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/telhawk-systems/cloudlog/internal/pipeline"
	"github.com/telhawk-systems/cloudlog/internal/schema"
)

const maxLineBytes = 8 << 20

var (
	normalizeSource       string
	normalizeKeepOriginal bool
	normalizeOutput       string
	normalizeFailFast     bool
	normalizeReceivedAt   string
)

var normalizeCmd = &cobra.Command{
	Use:   "normalize [file...]",
	Short: "Normalize newline-delimited LogEntry JSON",
	Long: `Reads one LogEntry JSON object per line from the given files (or stdin)
and writes the normalized events to stdout. Files ending in .gz are
decompressed.

Examples:
  # Normalize an export of audit logs
  cloudlog normalize --source audit audit.json

  # Read from stdin and render YAML
  gcloud logging read --format=json ... | jq -c '.[]' | cloudlog normalize --source bigquery --output yaml`,
	RunE: runNormalize,
}

func init() {
	normalizeCmd.Flags().StringVarP(&normalizeSource, "source", "s", "", "log source: audit, bigquery, cloud_armor")
	normalizeCmd.Flags().BoolVar(&normalizeKeepOriginal, "keep-original", false, "keep the raw entry at event.original")
	normalizeCmd.Flags().StringVarP(&normalizeOutput, "output", "o", "json", "output format: json, yaml")
	normalizeCmd.Flags().BoolVar(&normalizeFailFast, "fail-fast", false, "stop at the first entry that fails")
	normalizeCmd.Flags().StringVar(&normalizeReceivedAt, "received-at", "", "ingestion time (RFC 3339) for entries without a usable timestamp; defaults to now")
	_ = normalizeCmd.MarkFlagRequired("source")
	rootCmd.AddCommand(normalizeCmd)
}

func runNormalize(cmd *cobra.Command, args []string) error {
	source, err := schema.ParseSource(normalizeSource)
	if err != nil {
		return err
	}
	sc, err := schema.For(source)
	if err != nil {
		return err
	}
	var opts []pipeline.Option
	if normalizeReceivedAt != "" {
		receivedAt, err := time.Parse(time.RFC3339Nano, normalizeReceivedAt)
		if err != nil {
			return fmt.Errorf("invalid --received-at: %w", err)
		}
		opts = append(opts, pipeline.WithClock(func() time.Time { return receivedAt }))
	}
	sourceCfg := cfg.Sources.For(source)
	p, err := pipeline.New(sc, pipeline.Config{
		KeepOriginalMessage: normalizeKeepOriginal || sourceCfg.KeepOriginalMessage,
		Debug:               sourceCfg.Debug,
	}, opts...)
	if err != nil {
		return err
	}

	w := &normalizeWriter{
		pipeline: p,
		in:       cmd.InOrStdin(),
		out:      cmd.OutOrStdout(),
		errOut:   cmd.ErrOrStderr(),
		format:   normalizeOutput,
		failFast: normalizeFailFast,
	}

	if len(args) == 0 {
		args = []string{"-"}
	}
	for _, path := range args {
		if err := w.file(cmd.Context(), path); err != nil {
			return err
		}
	}

	if w.failed > 0 {
		return fmt.Errorf("%d of %d entries failed", w.failed, w.failed+w.ok)
	}
	return nil
}

type normalizeWriter struct {
	pipeline *pipeline.Pipeline
	in       io.Reader
	out      io.Writer
	errOut   io.Writer
	format   string
	failFast bool

	ok     int
	failed int
}

func (n *normalizeWriter) file(ctx context.Context, path string) error {
	r := n.in
	name := "stdin"
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r, name = f, path
	}
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		defer gz.Close()
		r = gz
	}
	return n.stream(ctx, name, r)
}

func (n *normalizeWriter) stream(ctx context.Context, name string, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		rec, err := n.pipeline.Normalize(ctx, text)
		if err != nil {
			n.failed++
			var stageErr *pipeline.StageError
			if errors.As(err, &stageErr) {
				fmt.Fprintf(n.errOut, "%s:%d: %s: %v\n", name, line, stageErr.Stage, stageErr.Err)
			} else {
				fmt.Fprintf(n.errOut, "%s:%d: %v\n", name, line, err)
			}
			if n.failFast {
				return fmt.Errorf("%s:%d: %w", name, line, err)
			}
			continue
		}

		if err := n.write(rec.Map()); err != nil {
			return err
		}
		n.ok++
	}
	return scanner.Err()
}

func (n *normalizeWriter) write(doc map[string]interface{}) error {
	switch n.format {
	case "yaml":
		data, err := yaml.Marshal(doc)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(n.out, "---\n%s", data)
		return err
	case "json":
		data, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(n.out, "%s\n", data)
		return err
	default:
		return fmt.Errorf("unknown output format %q", n.format)
	}
}
