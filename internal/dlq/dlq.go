// Package dlq stores log entries that failed normalization for later inspection or replay.
package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/telhawk-systems/cloudlog/internal/logging"
	"github.com/telhawk-systems/cloudlog/internal/model"
)

// ErrNotFound is returned when a failed event id is not in the queue.
var ErrNotFound = errors.New("event not found")

// FailedEvent captures normalization failure details for replay.
type FailedEvent struct {
	ID          string          `json:"id"`
	Timestamp   time.Time       `json:"timestamp"`
	Envelope    *model.Envelope `json:"envelope"`
	Error       string          `json:"error"`
	Reason      string          `json:"reason"`
	Attempts    int             `json:"attempts"`
	LastAttempt time.Time       `json:"last_attempt"`
}

func newFailedEvent(envelope *model.Envelope, err error, reason string) FailedEvent {
	now := time.Now().UTC()
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return FailedEvent{
		ID:          uuid.NewString(),
		Timestamp:   now,
		Envelope:    envelope,
		Error:       msg,
		Reason:      reason,
		Attempts:    1,
		LastAttempt: now,
	}
}

// Writer accepts failed events.
type Writer interface {
	Write(ctx context.Context, envelope *model.Envelope, err error, reason string) error
}

// Queue writes failed events as JSON files in a directory.
type Queue struct {
	basePath string
	logger   *logging.Logger
	mu       sync.Mutex
	written  uint64
}

// NewQueue creates a DLQ that writes to basePath.
func NewQueue(basePath string, logger *logging.Logger) (*Queue, error) {
	if basePath == "" {
		return nil, fmt.Errorf("dlq path is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create dlq directory: %w", err)
	}
	return &Queue{basePath: basePath, logger: logger}, nil
}

// Write records a failed event.
func (q *Queue) Write(ctx context.Context, envelope *model.Envelope, err error, reason string) error {
	if q == nil {
		return nil
	}

	failed := newFailedEvent(envelope, err, reason)
	data, marshalErr := json.MarshalIndent(failed, "", "  ")
	if marshalErr != nil {
		return fmt.Errorf("marshal dlq entry: %w", marshalErr)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	filename := fmt.Sprintf("failed_%d_%s.json", failed.Timestamp.UnixNano(), failed.ID)
	if err := os.WriteFile(filepath.Join(q.basePath, filename), data, 0o644); err != nil {
		return fmt.Errorf("write dlq entry: %w", err)
	}

	q.written++
	q.logger.InfoContext(ctx, "dlq entry written", "file", filename, "reason", reason)
	return nil
}

// Stats returns DLQ metrics.
func (q *Queue) Stats() map[string]interface{} {
	if q == nil {
		return map[string]interface{}{"enabled": false}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	files, err := q.entries()
	if err != nil {
		return map[string]interface{}{
			"enabled": true,
			"backend": "file",
			"written": q.written,
			"error":   err.Error(),
		}
	}
	return map[string]interface{}{
		"enabled":       true,
		"backend":       "file",
		"written":       q.written,
		"pending_files": len(files),
		"base_path":     q.basePath,
	}
}

// List returns up to limit failed events, oldest first. A limit of 0 returns everything.
func (q *Queue) List(ctx context.Context, limit int) ([]FailedEvent, error) {
	if q == nil {
		return nil, fmt.Errorf("dlq not enabled")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	files, err := q.entries()
	if err != nil {
		return nil, err
	}

	var events []FailedEvent
	for _, name := range files {
		if limit > 0 && len(events) >= limit {
			break
		}
		data, err := os.ReadFile(filepath.Join(q.basePath, name))
		if err != nil {
			q.logger.WarnContext(ctx, "failed to read dlq file", "file", name, logging.Error(err))
			continue
		}
		var failed FailedEvent
		if err := json.Unmarshal(data, &failed); err != nil {
			q.logger.WarnContext(ctx, "failed to parse dlq file", "file", name, logging.Error(err))
			continue
		}
		events = append(events, failed)
	}
	return events, nil
}

// Delete removes the failed event with id.
func (q *Queue) Delete(ctx context.Context, id string) error {
	if q == nil {
		return fmt.Errorf("dlq not enabled")
	}
	if id == "" || strings.ContainsAny(id, `/\*?[`) {
		return ErrNotFound
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	matches, err := filepath.Glob(filepath.Join(q.basePath, "failed_*_"+id+".json"))
	if err != nil {
		return fmt.Errorf("search dlq files: %w", err)
	}
	if len(matches) == 0 {
		return ErrNotFound
	}
	for _, match := range matches {
		if err := os.Remove(match); err != nil {
			return fmt.Errorf("delete dlq file: %w", err)
		}
	}
	return nil
}

// Purge removes every failed event and returns how many were deleted.
func (q *Queue) Purge(ctx context.Context) (int, error) {
	if q == nil {
		return 0, fmt.Errorf("dlq not enabled")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	files, err := q.entries()
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, name := range files {
		if err := os.Remove(filepath.Join(q.basePath, name)); err != nil {
			q.logger.WarnContext(ctx, "failed to delete dlq file", "file", name, logging.Error(err))
			continue
		}
		deleted++
	}
	q.logger.InfoContext(ctx, "dlq purged", "deleted", deleted)
	return deleted, nil
}

// entries lists queue files sorted by name, which orders them by write time.
func (q *Queue) entries() ([]string, error) {
	dirEntries, err := os.ReadDir(q.basePath)
	if err != nil {
		return nil, fmt.Errorf("read dlq directory: %w", err)
	}
	var names []string
	for _, e := range dirEntries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "failed_") || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
