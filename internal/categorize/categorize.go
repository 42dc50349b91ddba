// Package categorize derives the event kind and outcome of a normalized record.
package categorize

import (
	"strings"

	"github.com/telhawk-systems/cloudlog/internal/event"
)

// Outcome values written to event.outcome.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeUnknown = "unknown"
)

// KindEvent is the only classification this pipeline emits.
const KindEvent = "event"

// Categorizer sets event.kind and event.outcome. A status code, when present, always decides
// the outcome; otherwise a single authorization decision does.
type Categorizer struct {
	StatusField        string
	AuthorizationField string
	// RawStatusField holds a status code that was present but failed conversion. It counts as
	// a status for the outcome and is removed by Run.
	RawStatusField string
}

func (c Categorizer) Name() string { return "categorize" }

func (c Categorizer) Run(r *event.Record) error {
	r.Put("event.kind", KindEvent)
	r.Put("event.outcome", c.Outcome(r.Fields))
	if c.RawStatusField != "" {
		deleteWithEmptyParents(r, c.RawStatusField)
	}
	return nil
}

// Outcome computes the outcome without modifying fields.
func (c Categorizer) Outcome(fields event.Fields) string {
	for _, field := range []string{c.StatusField, c.RawStatusField} {
		if field == "" {
			continue
		}
		if status, ok := fields.GetValue(field); ok && status != nil {
			if isZero(status) {
				return OutcomeSuccess
			}
			return OutcomeFailure
		}
	}

	if c.AuthorizationField == "" {
		return OutcomeUnknown
	}
	decisions, ok := fields.GetSlice(c.AuthorizationField)
	if !ok || len(decisions) != 1 {
		return OutcomeUnknown
	}
	decision, ok := decisions[0].(map[string]interface{})
	if !ok {
		return OutcomeUnknown
	}
	switch decision["granted"] {
	case true:
		return OutcomeSuccess
	case false:
		return OutcomeFailure
	default:
		return OutcomeUnknown
	}
}

// isZero reports whether a status value is the numeric OK code. Non-numeric values are never
// OK.
func isZero(v interface{}) bool {
	switch n := v.(type) {
	case int:
		return n == 0
	case int32:
		return n == 0
	case int64:
		return n == 0
	case uint64:
		return n == 0
	case float64:
		return n == 0
	default:
		return false
	}
}

// deleteWithEmptyParents removes path and then any ancestor it leaves empty.
func deleteWithEmptyParents(r *event.Record, path string) {
	r.Delete(path)
	for i := strings.LastIndex(path, "."); i > 0; i = strings.LastIndex(path, ".") {
		path = path[:i]
		parent, ok := r.Fields.GetMap(path)
		if !ok || len(parent) > 0 {
			return
		}
		r.Delete(path)
	}
}
