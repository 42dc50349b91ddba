package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelope(t *testing.T) {
	before := time.Now().UTC()
	env := NewEnvelope("audit", `{"insertId":"1"}`, map[string]string{"subscription": "audit-sub"})

	_, err := uuid.Parse(env.ID)
	require.NoError(t, err)
	assert.Equal(t, "audit", env.Source)
	assert.False(t, env.ReceivedAt.Before(before))
	assert.NotEqual(t, env.ID, NewEnvelope("audit", "", nil).ID)
}

func TestEnvelope_JSON(t *testing.T) {
	env := &Envelope{ID: "id-1", Source: "bigquery", Payload: `{"a":1}`}
	data, err := json.Marshal(env)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"payload":"{\"a\":1}"`)
	assert.NotContains(t, string(data), "attributes")
}
