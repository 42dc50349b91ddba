package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/telhawk-systems/cloudlog/internal/dlq"
	"github.com/telhawk-systems/cloudlog/internal/logging"
	"github.com/telhawk-systems/cloudlog/internal/middleware"
	"github.com/telhawk-systems/cloudlog/internal/model"
	"github.com/telhawk-systems/cloudlog/internal/pipeline"
	"github.com/telhawk-systems/cloudlog/internal/service"
)

// DefaultMaxBodyBytes bounds a single request body after decompression.
const DefaultMaxBodyBytes = 4 << 20

// DLQBrowser is implemented by DLQ backends that can be inspected over HTTP.
type DLQBrowser interface {
	List(ctx context.Context, limit int) ([]dlq.FailedEvent, error)
	Delete(ctx context.Context, id string) error
	Purge(ctx context.Context) (int, error)
}

// ProcessorHandler manages normalization HTTP endpoints.
type ProcessorHandler struct {
	processor    *service.Processor
	dlq          DLQBrowser
	logger       *logging.Logger
	maxBodyBytes int64
}

// NewProcessorHandler constructs a new handler. browser may be nil.
func NewProcessorHandler(p *service.Processor, browser DLQBrowser, logger *logging.Logger, maxBodyBytes int64) *ProcessorHandler {
	if logger == nil {
		logger = logging.Discard()
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &ProcessorHandler{processor: p, dlq: browser, logger: logger, maxBodyBytes: maxBodyBytes}
}

// NormalizationResponse returns the normalized event.
type NormalizationResponse struct {
	Event json.RawMessage `json:"event"`
}

// Normalize handles POST /api/v1/normalize/{source}. The body is one LogEntry, optionally
// gzip encoded.
func (h *ProcessorHandler) Normalize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	body, err := h.readBody(r)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	attrs := map[string]string{"remote_addr": r.RemoteAddr}
	envelope := model.NewEnvelope(r.PathValue("source"), string(body), attrs)
	if id := middleware.GetRequestID(r.Context()); id != "" {
		envelope.ID = id
	}

	rec, err := h.processor.Process(r.Context(), envelope)
	if err != nil {
		h.writeProcessError(w, r, err)
		return
	}

	serialized, err := json.Marshal(rec)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "serialization_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, NormalizationResponse{Event: serialized})
}

func (h *ProcessorHandler) readBody(r *http.Request) ([]byte, error) {
	var reader io.Reader = r.Body
	if strings.EqualFold(r.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(r.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		reader = gz
	}
	return io.ReadAll(http.MaxBytesReader(nil, io.NopCloser(reader), h.maxBodyBytes))
}

func (h *ProcessorHandler) writeProcessError(w http.ResponseWriter, r *http.Request, err error) {
	var stageErr *pipeline.StageError
	switch {
	case errors.Is(err, service.ErrUnknownSource):
		writeError(w, http.StatusNotFound, "unknown_source", err.Error())
	case errors.Is(err, service.ErrDuplicate):
		writeError(w, http.StatusConflict, "duplicate_event", err.Error())
	case errors.As(err, &stageErr):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{
			Code:    "normalization_failed",
			Message: stageErr.Err.Error(),
			Stage:   stageErr.Stage,
		})
	default:
		h.logger.ErrorContext(r.Context(), "normalize failed", logging.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

// Health handles GET /healthz.
func (h *ProcessorHandler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, h.processor.Health())
}

// DLQ handles GET and DELETE /api/v1/dlq, plus DELETE /api/v1/dlq/{id}.
func (h *ProcessorHandler) DLQ(w http.ResponseWriter, r *http.Request) {
	if h.dlq == nil {
		writeError(w, http.StatusNotFound, "dlq_disabled", "dlq is not browsable")
		return
	}

	id := r.PathValue("id")
	switch {
	case r.Method == http.MethodGet && id == "":
		limit := 100
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
				return
			}
			limit = n
		}
		events, err := h.dlq.List(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "dlq_error", err.Error())
			return
		}
		if events == nil {
			events = []dlq.FailedEvent{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"events": events, "count": len(events)})
	case r.Method == http.MethodDelete && id == "":
		n, err := h.dlq.Purge(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "dlq_error", err.Error())
			return
		}
		h.logger.InfoContext(r.Context(), "dlq purged", "count", n)
		writeJSON(w, http.StatusOK, map[string]int{"purged": n})
	case r.Method == http.MethodDelete:
		if err := h.dlq.Delete(r.Context(), id); err != nil {
			if errors.Is(err, dlq.ErrNotFound) {
				writeError(w, http.StatusNotFound, "not_found", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "dlq_error", err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodDelete)
	}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Stage   string `json:"stage,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Code: code, Message: message})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method is not allowed")
}
