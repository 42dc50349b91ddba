package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/telhawk-systems/cloudlog/internal/logging"
	"github.com/telhawk-systems/cloudlog/internal/messaging"
	"github.com/telhawk-systems/cloudlog/internal/messaging/nats"
	"github.com/telhawk-systems/cloudlog/internal/model"
)

// StreamPublisher is the subset of a JetStream client the queue needs.
type StreamPublisher interface {
	CreateOrUpdateStream(ctx context.Context, cfg nats.StreamConfig) (jetstream.Stream, error)
	PublishSync(ctx context.Context, subject string, data []byte) (*jetstream.PubAck, error)
}

// JetStreamQueue publishes failed events to a JetStream stream so that every normalizer
// instance shares one DLQ.
type JetStreamQueue struct {
	js      StreamPublisher
	stream  jetstream.Stream
	logger  *logging.Logger
	written uint64
}

// NewJetStreamQueue ensures the DLQ stream exists.
func NewJetStreamQueue(ctx context.Context, js StreamPublisher, streamName string, logger *logging.Logger) (*JetStreamQueue, error) {
	if js == nil {
		return nil, fmt.Errorf("jetstream client is nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	stream, err := js.CreateOrUpdateStream(ctx, nats.DLQStream(streamName))
	if err != nil {
		return nil, fmt.Errorf("create dlq stream: %w", err)
	}
	logger.InfoContext(ctx, "dlq stream ready", "stream", streamName)

	return &JetStreamQueue{js: js, stream: stream, logger: logger}, nil
}

// Write publishes a failed event to cloudlog.dlq.<source>.
func (q *JetStreamQueue) Write(ctx context.Context, envelope *model.Envelope, err error, reason string) error {
	if q == nil {
		return nil
	}

	failed := newFailedEvent(envelope, err, reason)
	data, marshalErr := json.Marshal(failed)
	if marshalErr != nil {
		return fmt.Errorf("marshal dlq entry: %w", marshalErr)
	}

	source := "unknown"
	if envelope != nil && envelope.Source != "" {
		source = envelope.Source
	}
	subject := messaging.DLQSubject(source)
	if _, pubErr := q.js.PublishSync(ctx, subject, data); pubErr != nil {
		return fmt.Errorf("publish dlq entry: %w", pubErr)
	}

	atomic.AddUint64(&q.written, 1)
	q.logger.InfoContext(ctx, "dlq entry published", logging.Subject(subject), "reason", reason)
	return nil
}

// Stats returns DLQ metrics from JetStream.
func (q *JetStreamQueue) Stats(ctx context.Context) map[string]interface{} {
	if q == nil {
		return map[string]interface{}{"enabled": false, "backend": "jetstream"}
	}

	stats := map[string]interface{}{
		"enabled":       true,
		"backend":       "jetstream",
		"written_local": atomic.LoadUint64(&q.written),
	}
	if q.stream == nil {
		return stats
	}
	info, err := q.stream.Info(ctx)
	if err != nil {
		stats["error"] = err.Error()
		return stats
	}
	stats["total_messages"] = info.State.Msgs
	stats["total_bytes"] = info.State.Bytes
	return stats
}
