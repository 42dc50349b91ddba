// Package subscriber consumes raw log entries from NATS and feeds them to the processor.
package subscriber

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/telhawk-systems/cloudlog/internal/logging"
	"github.com/telhawk-systems/cloudlog/internal/messaging"
	"github.com/telhawk-systems/cloudlog/internal/middleware"
	"github.com/telhawk-systems/cloudlog/internal/model"
	"github.com/telhawk-systems/cloudlog/internal/pipeline"
	"github.com/telhawk-systems/cloudlog/internal/service"
)

// Handler subscribes to cloudlog.raw.<source> for every source the processor accepts.
type Handler struct {
	client     messaging.Subscriber
	processor  *service.Processor
	queueGroup string
	subs       []messaging.Subscription
	logger     *logging.Logger
}

// NewHandler creates a new NATS handler.
func NewHandler(client messaging.Subscriber, processor *service.Processor, queueGroup string, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		client:     client,
		processor:  processor,
		queueGroup: queueGroup,
		logger:     logger.With("component", "nats-subscriber"),
	}
}

// Start subscribes to the raw subject of every enabled source.
func (h *Handler) Start(ctx context.Context) error {
	for _, source := range h.processor.Sources() {
		subject := messaging.RawSubject(source.String())
		sub, err := h.client.QueueSubscribe(subject, h.queueGroup, h.handleEntry)
		if err != nil {
			h.Stop()
			return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		h.subs = append(h.subs, sub)
		h.logger.InfoContext(ctx, "subscribed", logging.Subject(subject), "queue_group", h.queueGroup)
	}
	return nil
}

// Stop unsubscribes from all subjects.
func (h *Handler) Stop() error {
	var errs []error
	for _, sub := range h.subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}
	h.subs = nil
	return errors.Join(errs...)
}

// handleEntry normalizes one message. Hard errors and duplicates are handled by the
// processor and not reported back to the broker.
func (h *Handler) handleEntry(ctx context.Context, msg *messaging.Message) error {
	source, ok := messaging.SourceFromSubject(msg.Subject)
	if !ok {
		return fmt.Errorf("unexpected subject %q", msg.Subject)
	}

	data, err := decodeData(msg)
	if err != nil {
		return fmt.Errorf("decode message on %s: %w", msg.Subject, err)
	}

	envelope := model.NewEnvelope(source, string(data), msg.Metadata)
	if !msg.Timestamp.IsZero() {
		envelope.ReceivedAt = msg.Timestamp.UTC()
	}
	ctx = middleware.WithRequestID(ctx, envelope.ID)

	_, err = h.processor.Process(ctx, envelope)
	var stageErr *pipeline.StageError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &stageErr), errors.Is(err, service.ErrDuplicate):
		h.logger.DebugContext(ctx, "entry not delivered", logging.Subject(msg.Subject), logging.Error(err))
		return nil
	default:
		return err
	}
}

func decodeData(msg *messaging.Message) ([]byte, error) {
	if !strings.EqualFold(msg.Metadata["Content-Encoding"], "gzip") {
		return msg.Data, nil
	}
	gz, err := gzip.NewReader(bytes.NewReader(msg.Data))
	if err != nil {
		return nil, err
	}
	defer gz.Close()
	return io.ReadAll(gz)
}
