package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/cloudlog/internal/logging"
	"github.com/telhawk-systems/cloudlog/internal/messaging/nats"
	"github.com/telhawk-systems/cloudlog/internal/model"
)

func newQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := NewQueue(t.TempDir(), logging.Discard())
	require.NoError(t, err)
	return q
}

func TestQueue_WriteAndList(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	env := &model.Envelope{ID: "env-1", Source: "audit", Payload: "not json"}
	require.NoError(t, q.Write(ctx, env, errors.New("stage decode_json: message is not a JSON object"), "decode_json"))
	require.NoError(t, q.Write(ctx, &model.Envelope{ID: "env-2", Source: "bigquery"}, errors.New("boom"), "query_job"))

	events, err := q.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "env-1", events[0].Envelope.ID)
	assert.Equal(t, "decode_json", events[0].Reason)
	assert.Equal(t, 1, events[0].Attempts)
	assert.NotEmpty(t, events[0].ID)
	assert.Equal(t, "query_job", events[1].Reason)

	limited, err := q.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	stats := q.Stats()
	assert.Equal(t, true, stats["enabled"])
	assert.Equal(t, uint64(2), stats["written"])
	assert.Equal(t, 2, stats["pending_files"])
}

func TestQueue_IgnoresForeignFiles(t *testing.T) {
	q := newQueue(t)
	require.NoError(t, os.WriteFile(filepath.Join(q.basePath, "README"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(q.basePath, "failed_1_bad.json"), []byte("{"), 0o644))

	events, err := q.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestQueue_Delete(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Write(ctx, &model.Envelope{ID: "env-1"}, errors.New("x"), "r"))

	events, err := q.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)

	require.NoError(t, q.Delete(ctx, events[0].ID))
	assert.ErrorIs(t, q.Delete(ctx, events[0].ID), ErrNotFound)
	assert.ErrorIs(t, q.Delete(ctx, "*"), ErrNotFound)

	events, err = q.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestQueue_Purge(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Write(ctx, &model.Envelope{}, errors.New("x"), "r"))
	}

	deleted, err := q.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	events, err := q.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestQueue_ConcurrentWrites(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, q.Write(ctx, &model.Envelope{Source: "audit"}, errors.New("x"), "r"))
		}()
	}
	wg.Wait()

	events, err := q.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, events, 20)
}

func TestQueue_Nil(t *testing.T) {
	var q *Queue
	assert.NoError(t, q.Write(context.Background(), nil, errors.New("x"), "r"))
	assert.Equal(t, false, q.Stats()["enabled"])
	_, err := q.List(context.Background(), 0)
	assert.Error(t, err)
	_, err = q.Purge(context.Background())
	assert.Error(t, err)
}

func TestNewQueue_RequiresPath(t *testing.T) {
	_, err := NewQueue("", nil)
	assert.Error(t, err)
}

type fakeStream struct {
	mu        sync.Mutex
	streamCfg nats.StreamConfig
	published map[string][][]byte
	err       error
}

func (f *fakeStream) CreateOrUpdateStream(ctx context.Context, cfg nats.StreamConfig) (jetstream.Stream, error) {
	f.streamCfg = cfg
	return nil, nil
}

func (f *fakeStream) PublishSync(ctx context.Context, subject string, data []byte) (*jetstream.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.published == nil {
		f.published = make(map[string][][]byte)
	}
	f.published[subject] = append(f.published[subject], data)
	return &jetstream.PubAck{Stream: f.streamCfg.Name}, nil
}

func TestJetStreamQueue_Write(t *testing.T) {
	js := &fakeStream{}
	ctx := context.Background()

	q, err := NewJetStreamQueue(ctx, js, "CLOUDLOG_DLQ", logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, "CLOUDLOG_DLQ", js.streamCfg.Name)

	require.NoError(t, q.Write(ctx, &model.Envelope{ID: "e1", Source: "cloud_armor"}, errors.New("bad"), "decode_json"))
	require.NoError(t, q.Write(ctx, nil, errors.New("bad"), "unknown_source"))

	require.Len(t, js.published["cloudlog.dlq.cloud_armor"], 1)
	require.Len(t, js.published["cloudlog.dlq.unknown"], 1)

	var failed FailedEvent
	require.NoError(t, json.Unmarshal(js.published["cloudlog.dlq.cloud_armor"][0], &failed))
	assert.Equal(t, "e1", failed.Envelope.ID)
	assert.Equal(t, "bad", failed.Error)

	stats := q.Stats(ctx)
	assert.Equal(t, uint64(2), stats["written_local"])
}

func TestJetStreamQueue_PublishError(t *testing.T) {
	js := &fakeStream{err: errors.New("no responders")}
	q, err := NewJetStreamQueue(context.Background(), js, "DLQ", logging.Discard())
	require.NoError(t, err)

	err = q.Write(context.Background(), &model.Envelope{Source: "audit"}, errors.New("x"), "r")
	assert.ErrorContains(t, err, "no responders")
}

func TestNewJetStreamQueue_NilClient(t *testing.T) {
	_, err := NewJetStreamQueue(context.Background(), nil, "DLQ", nil)
	assert.Error(t, err)
}
