// Package pipeline runs the ordered normalization stages for one log source.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/telhawk-systems/cloudlog/internal/event"
	"github.com/telhawk-systems/cloudlog/internal/logging"
	"github.com/telhawk-systems/cloudlog/internal/mapper"
	"github.com/telhawk-systems/cloudlog/internal/schema"
)

var (
	// ErrDecode is returned when the raw message is not a JSON object.
	ErrDecode = errors.New("message is not a JSON object")
	// ErrNilRecord is returned when Run is called without a record.
	ErrNilRecord = errors.New("nil record")
)

// Stage is one step of a pipeline. Stages must not retain the record.
type Stage interface {
	Name() string
	Run(*event.Record) error
}

// StageError reports the stage that aborted a run.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Config is fixed for the lifetime of a pipeline.
type Config struct {
	// KeepOriginalMessage preserves the raw message at event.original.
	KeepOriginalMessage bool
	// Debug logs every stage at debug level. It never changes the output.
	Debug bool
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger used for debug and soft-failure logging.
func WithLogger(l *logging.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithClock overrides the ingestion clock used by Normalize.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// Pipeline is an immutable, ordered list of stages. Run is safe for concurrent use.
type Pipeline struct {
	source schema.Source
	config Config
	stages []Stage
	logger *logging.Logger
	now    func() time.Time
}

// New builds the stage list for sc.
func New(sc schema.Schema, cfg Config, opts ...Option) (*Pipeline, error) {
	if sc.Payload == "" {
		return nil, fmt.Errorf("schema %s has no payload field", sc.Source)
	}

	p := &Pipeline{
		source: sc.Source,
		config: cfg,
		logger: logging.Discard(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(logging.Source(sc.Source.String()))

	stages := []Stage{
		&decodeJSON{from: event.MessageField, to: stagingRoot},
		&timestamp{field: stagingRoot + ".timestamp", logger: p.logger},
	}
	if cfg.KeepOriginalMessage {
		stages = append(stages, mapper.FromRules("save_original_message",
			mapper.Rule{From: event.MessageField, To: "event.original", Mode: mapper.Rename, IgnoreMissing: true}))
	}
	stages = append(stages,
		drop{name: "drop_pubsub_fields", field: event.MessageField},
		mapper.New("save_metadata", mapper.Options{IgnoreMissing: true},
			mapper.Field{From: stagingRoot + ".logName", To: "log.logger"},
			mapper.Field{From: stagingRoot + ".insertId", To: "event.id"},
		),
		mapper.New("set_cloud_metadata", mapper.Options{IgnoreMissing: true}, sc.Cloud...),
	)
	if len(sc.Entry) > 0 {
		stages = append(stages, mapper.New("convert_log_entry_fields",
			mapper.Options{Mode: mapper.Rename, IgnoreMissing: true}, sc.Entry...))
	}
	stages = appendExtractors(stages, sc.PreExtractors)
	stages = append(stages,
		mapper.FromRules("promote_payload",
			mapper.Rule{From: stagingRoot + "." + sc.Payload, To: stagingRoot, Mode: mapper.Rename}),
		mapper.New("convert_payload", mapper.Options{Mode: mapper.Rename, IgnoreMissing: true}, sc.PayloadRules...),
		mapper.New("copy_common_fields", mapper.Options{IgnoreMissing: true}, sc.Common...),
	)
	stages = appendExtractors(stages, sc.PostExtractors)

	// convert_payload leaves an unconvertible status code in the staging root. Park it outside
	// so the categorizer still treats the status as present.
	categorizer := sc.Categorizer
	if raw := sc.RawStatusField(); raw != "" {
		stages = append(stages, mapper.New("retain_unconverted_status",
			mapper.Options{Mode: mapper.Rename, IgnoreMissing: true},
			mapper.Field{From: sc.StatusCode, To: raw}))
		categorizer.RawStatusField = raw
	}
	stages = append(stages,
		drop{name: "drop_extra_fields", field: stagingRoot},
		categorizer,
	)
	p.stages = stages

	return p, nil
}

func appendExtractors(stages []Stage, extractors []schema.Extractor) []Stage {
	for _, e := range extractors {
		stages = append(stages, e)
	}
	return stages
}

// Source returns the log source this pipeline normalizes.
func (p *Pipeline) Source() schema.Source {
	return p.source
}

// Config returns the configuration the pipeline was built with.
func (p *Pipeline) Config() Config {
	return p.config
}

// StageNames lists the stages in execution order.
func (p *Pipeline) StageNames() []string {
	names := make([]string, 0, len(p.stages))
	for _, s := range p.stages {
		names = append(names, s.Name())
	}
	return names
}

// Normalize wraps a raw message in a record stamped with the current time and runs it.
func (p *Pipeline) Normalize(ctx context.Context, message string) (*event.Record, error) {
	return p.Run(ctx, event.New(message, p.now()))
}

// Run transforms rec in place and returns it. The first hard error aborts the run and is
// returned as a *StageError; rec is then partially transformed and should be discarded.
func (p *Pipeline) Run(ctx context.Context, rec *event.Record) (*event.Record, error) {
	if p == nil {
		return nil, fmt.Errorf("pipeline not configured")
	}
	if rec == nil {
		return nil, ErrNilRecord
	}

	for _, stage := range p.stages {
		if err := stage.Run(rec); err != nil {
			if p.config.Debug {
				p.logger.DebugContext(ctx, "stage failed", logging.Stage(stage.Name()), logging.Error(err))
			}
			return rec, &StageError{Stage: stage.Name(), Err: err}
		}
		if p.config.Debug {
			p.logger.DebugContext(ctx, "stage complete", logging.Stage(stage.Name()))
		}
	}
	return rec, nil
}
