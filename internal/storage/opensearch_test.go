package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/cloudlog/internal/event"
	"github.com/telhawk-systems/cloudlog/internal/logging"
)

type bulkServer struct {
	mu      sync.Mutex
	actions []map[string]map[string]interface{}
	docs    []map[string]interface{}
	status  int
}

func (b *bulkServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.URL.Path != "/_bulk" {
		w.Write([]byte(`{"version":{"number":"2.11.0","distribution":"opensearch"}}`))
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var items []map[string]interface{}
	scanner := bufio.NewScanner(r.Body)
	scanner.Buffer(make([]byte, 1<<20), 1<<20)
	for scanner.Scan() {
		var action map[string]map[string]interface{}
		if err := json.Unmarshal(scanner.Bytes(), &action); err != nil {
			continue
		}
		if !scanner.Scan() {
			break
		}
		var doc map[string]interface{}
		_ = json.Unmarshal(scanner.Bytes(), &doc)
		b.actions = append(b.actions, action)
		b.docs = append(b.docs, doc)

		result := map[string]interface{}{"_index": action["index"]["_index"], "status": b.status}
		if b.status >= 300 {
			result["error"] = map[string]interface{}{"type": "mapper_parsing_exception", "reason": "bad field"}
		}
		items = append(items, map[string]interface{}{"index": result})
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"took":   1,
		"errors": b.status >= 300,
		"items":  items,
	})
}

func newTestClient(t *testing.T, status int) (*Client, *bulkServer) {
	t.Helper()
	srv := &bulkServer{status: status}
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	cfg := DefaultConfig()
	cfg.URL = ts.URL
	cfg.FlushInterval = time.Hour
	cfg.NumWorkers = 1

	c, err := NewClient(cfg, logging.Discard())
	require.NoError(t, err)
	return c, srv
}

func TestIndexName(t *testing.T) {
	c := &Client{config: Config{IndexPrefix: "cloudlog"}}
	ts := time.Date(2024, 3, 9, 23, 30, 0, 0, time.FixedZone("X", -2*3600))
	assert.Equal(t, "cloudlog-audit-2024.03.10", c.IndexName("audit", ts))
}

func TestIndexTemplate(t *testing.T) {
	tmpl := IndexTemplate("cloudlog")
	assert.Equal(t, []string{"cloudlog-*"}, tmpl["index_patterns"])

	data, err := json.Marshal(tmpl)
	require.NoError(t, err)

	var decoded struct {
		Template struct {
			Mappings struct {
				Properties map[string]struct {
					Type       string                            `json:"type"`
					Properties map[string]map[string]interface{} `json:"properties"`
				} `json:"properties"`
			} `json:"mappings"`
		} `json:"template"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	props := decoded.Template.Mappings.Properties
	assert.Equal(t, "date", props["@timestamp"].Type)
	assert.Equal(t, "ip", props["source"].Properties["ip"]["type"])
	assert.Equal(t, "keyword", props["event"].Properties["outcome"]["type"])
}

func TestIndex(t *testing.T) {
	c, srv := newTestClient(t, http.StatusCreated)
	ctx := context.Background()

	rec := &event.Record{
		Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Fields:    event.Fields{},
	}
	rec.Put("event.id", "insert-1")
	rec.Put("event.outcome", "success")

	anonymous := &event.Record{Timestamp: rec.Timestamp, Fields: event.Fields{}}
	anonymous.Put("event.kind", "event")

	require.NoError(t, c.Index(ctx, "audit", rec))
	require.NoError(t, c.Index(ctx, "cloud_armor", anonymous))
	require.NoError(t, c.Close(ctx))

	srv.mu.Lock()
	defer srv.mu.Unlock()
	require.Len(t, srv.actions, 2)

	assert.Equal(t, "cloudlog-audit-2024.01.02", srv.actions[0]["index"]["_index"])
	assert.Equal(t, "insert-1", srv.actions[0]["index"]["_id"])
	assert.Equal(t, "2024-01-02T03:04:05Z", srv.docs[0]["@timestamp"])

	assert.Equal(t, "cloudlog-cloud_armor-2024.01.02", srv.actions[1]["index"]["_index"])
	_, hasID := srv.actions[1]["index"]["_id"]
	assert.False(t, hasID)

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats["added"])
	assert.Equal(t, uint64(0), stats["failed"])
}

func TestIndexRejected(t *testing.T) {
	c, _ := newTestClient(t, http.StatusBadRequest)
	ctx := context.Background()

	rec := &event.Record{Timestamp: time.Now(), Fields: event.Fields{}}
	rec.Put("event.id", "bad")
	require.NoError(t, c.Index(ctx, "audit", rec))
	require.NoError(t, c.Close(ctx))

	assert.Equal(t, uint64(1), c.Stats()["failed"])
}
