// Package service dispatches raw log entries to their source pipeline and delivers the
// results to the configured sinks.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/telhawk-systems/cloudlog/internal/config"
	"github.com/telhawk-systems/cloudlog/internal/dedup"
	"github.com/telhawk-systems/cloudlog/internal/dlq"
	"github.com/telhawk-systems/cloudlog/internal/event"
	"github.com/telhawk-systems/cloudlog/internal/logging"
	"github.com/telhawk-systems/cloudlog/internal/messaging"
	"github.com/telhawk-systems/cloudlog/internal/metrics"
	"github.com/telhawk-systems/cloudlog/internal/model"
	"github.com/telhawk-systems/cloudlog/internal/pipeline"
	"github.com/telhawk-systems/cloudlog/internal/schema"
	"github.com/telhawk-systems/cloudlog/internal/storage"
)

var (
	// ErrUnknownSource is returned for envelopes naming no enabled source.
	ErrUnknownSource = errors.New("unknown or disabled source")
	// ErrDuplicate is returned when an event id was already processed within the dedup window.
	ErrDuplicate = errors.New("duplicate event")
)

// BuildPipelines constructs one pipeline per enabled source.
func BuildPipelines(sources config.SourcesConfig, logger *logging.Logger) (map[schema.Source]*pipeline.Pipeline, error) {
	pipelines := make(map[schema.Source]*pipeline.Pipeline)
	for _, source := range sources.Enabled() {
		sc, err := schema.For(source)
		if err != nil {
			return nil, err
		}
		sourceCfg := sources.For(source)
		p, err := pipeline.New(sc, pipeline.Config{
			KeepOriginalMessage: sourceCfg.KeepOriginalMessage,
			Debug:               sourceCfg.Debug,
		}, pipeline.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("build %s pipeline: %w", source, err)
		}
		pipelines[source] = p
	}
	return pipelines, nil
}

// Option customizes a Processor.
type Option func(*Processor)

// WithDLQ stores envelopes that fail with a hard error.
func WithDLQ(w dlq.Writer) Option {
	return func(p *Processor) { p.dlq = w }
}

// WithDedup drops events whose id was already seen.
func WithDedup(s dedup.Store) Option {
	return func(p *Processor) { p.dedup = s }
}

// WithSink indexes every normalized event.
func WithSink(s storage.Sink) Option {
	return func(p *Processor) { p.sink = s }
}

// WithPublisher publishes every normalized event to cloudlog.normalized.<source>.
func WithPublisher(pub messaging.Publisher) Option {
	return func(p *Processor) { p.publisher = pub }
}

// WithLogger sets the processor logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// Processor wraps the source pipelines and captures basic telemetry.
type Processor struct {
	pipelines map[schema.Source]*pipeline.Pipeline
	dlq       dlq.Writer
	dedup     dedup.Store
	sink      storage.Sink
	publisher messaging.Publisher
	logger    *logging.Logger

	startedAt  time.Time
	processed  atomic.Uint64
	failed     atomic.Uint64
	duplicates atomic.Uint64
}

// NewProcessor creates a new Processor instance.
func NewProcessor(pipelines map[schema.Source]*pipeline.Pipeline, opts ...Option) *Processor {
	p := &Processor{
		pipelines: pipelines,
		logger:    logging.Discard(),
		startedAt: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Sources lists the sources this processor accepts.
func (p *Processor) Sources() []schema.Source {
	var out []schema.Source
	for _, s := range schema.Sources() {
		if _, ok := p.pipelines[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Process normalizes one envelope. A hard pipeline error is returned as a
// *pipeline.StageError after the envelope has been written to the DLQ.
func (p *Processor) Process(ctx context.Context, envelope *model.Envelope) (*event.Record, error) {
	source, err := schema.ParseSource(envelope.Source)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, envelope.Source)
	}
	pipe, ok := p.pipelines[source]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, envelope.Source)
	}
	name := source.String()
	metrics.EventBytesTotal.WithLabelValues(name).Add(float64(len(envelope.Payload)))

	start := time.Now()
	rec, err := pipe.Run(ctx, event.New(envelope.Payload, envelope.ReceivedAt))
	metrics.NormalizationDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		p.fail(ctx, name, envelope, err)
		return nil, err
	}

	id, _ := rec.Fields.GetString("event.id")
	if p.dedup != nil {
		seen, err := p.dedup.Seen(ctx, name, id)
		if err != nil {
			p.logger.WarnContext(ctx, "dedup check failed", logging.Source(name), logging.Error(err))
		} else if seen {
			p.duplicates.Add(1)
			metrics.EventsTotal.WithLabelValues(name, metrics.StatusDuplicate).Inc()
			return nil, fmt.Errorf("%w: %s", ErrDuplicate, id)
		}
	}

	if err := p.deliver(ctx, name, rec); err != nil && p.dedup != nil && id != "" {
		// The event never reached the index, so a redelivery must not be dropped as a duplicate.
		if err := p.dedup.Forget(ctx, name, id); err != nil {
			p.logger.WarnContext(ctx, "dedup forget failed", logging.Source(name), logging.Error(err))
		}
	}
	p.processed.Add(1)
	metrics.EventsTotal.WithLabelValues(name, metrics.StatusSuccess).Inc()
	return rec, nil
}

func (p *Processor) fail(ctx context.Context, source string, envelope *model.Envelope, err error) {
	p.failed.Add(1)
	metrics.EventsTotal.WithLabelValues(source, metrics.StatusFailed).Inc()

	stage := "unknown"
	var stageErr *pipeline.StageError
	if errors.As(err, &stageErr) {
		stage = stageErr.Stage
	}
	metrics.StageErrors.WithLabelValues(source, stage).Inc()
	p.logger.WarnContext(ctx, "normalization failed",
		logging.Source(source), logging.Stage(stage), logging.Error(err))

	if p.dlq == nil {
		return
	}
	if dlqErr := p.dlq.Write(ctx, envelope, err, "normalization_failed"); dlqErr != nil {
		metrics.DLQWrites.WithLabelValues("failure").Inc()
		p.logger.ErrorContext(ctx, "failed to write to dlq", logging.Source(source), logging.Error(dlqErr))
		return
	}
	metrics.DLQWrites.WithLabelValues("success").Inc()
}

// deliver hands rec to the sink and publisher. Delivery failures are logged; the event
// itself was normalized successfully. The returned error is the index failure, if any.
func (p *Processor) deliver(ctx context.Context, source string, rec *event.Record) error {
	var indexErr error
	if p.sink != nil {
		if indexErr = p.sink.Index(ctx, source, rec); indexErr != nil {
			metrics.IndexedTotal.WithLabelValues("failure").Inc()
			p.logger.ErrorContext(ctx, "failed to index event", logging.Source(source), logging.Error(indexErr))
		}
	}
	if p.publisher == nil {
		return indexErr
	}
	data, err := json.Marshal(rec)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to encode event", logging.Source(source), logging.Error(err))
		return indexErr
	}
	if err := p.publisher.Publish(ctx, messaging.NormalizedSubject(source), data); err != nil {
		metrics.PublishedTotal.WithLabelValues(source, "failure").Inc()
		p.logger.ErrorContext(ctx, "failed to publish event", logging.Source(source), logging.Error(err))
		return indexErr
	}
	metrics.PublishedTotal.WithLabelValues(source, "success").Inc()
	return indexErr
}

// Stats returns a snapshot of processor metrics.
type Stats struct {
	UptimeSeconds int64    `json:"uptime_seconds"`
	Sources       []string `json:"sources"`
	Processed     uint64   `json:"processed"`
	Failed        uint64   `json:"failed"`
	Duplicates    uint64   `json:"duplicates"`
}

// Health returns live status for health checks.
func (p *Processor) Health() Stats {
	sources := make([]string, 0, len(p.pipelines))
	for _, s := range p.Sources() {
		sources = append(sources, s.String())
	}
	return Stats{
		UptimeSeconds: int64(time.Since(p.startedAt).Seconds()),
		Sources:       sources,
		Processed:     p.processed.Load(),
		Failed:        p.failed.Load(),
		Duplicates:    p.duplicates.Load(),
	}
}
