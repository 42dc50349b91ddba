package model

import (
	"time"

	"github.com/google/uuid"
)

// Envelope carries one raw LogEntry message as delivered by the transport.
type Envelope struct {
	ID         string            `json:"id"`
	Source     string            `json:"source"`
	Payload    string            `json:"payload"`
	Attributes map[string]string `json:"attributes,omitempty"`
	ReceivedAt time.Time         `json:"received_at"`
}

// NewEnvelope wraps payload with a fresh id and the current time.
func NewEnvelope(source, payload string, attributes map[string]string) *Envelope {
	return &Envelope{
		ID:         uuid.NewString(),
		Source:     source,
		Payload:    payload,
		Attributes: attributes,
		ReceivedAt: time.Now().UTC(),
	}
}
