// Package schema holds the static per-source mapping tables consumed by the pipeline.
package schema

import (
	"fmt"
	"strings"

	"github.com/telhawk-systems/cloudlog/internal/categorize"
	"github.com/telhawk-systems/cloudlog/internal/event"
	"github.com/telhawk-systems/cloudlog/internal/extract"
	"github.com/telhawk-systems/cloudlog/internal/mapper"
)

// Source identifies a log source.
type Source int

const (
	Audit Source = iota + 1
	BigQuery
	CloudArmor
)

// Sources lists every supported source in a stable order.
func Sources() []Source {
	return []Source{Audit, BigQuery, CloudArmor}
}

func (s Source) String() string {
	switch s {
	case Audit:
		return "audit"
	case BigQuery:
		return "bigquery"
	case CloudArmor:
		return "cloud_armor"
	default:
		return fmt.Sprintf("source(%d)", int(s))
	}
}

// ParseSource accepts the configuration name of a source. Hyphens are accepted in place of
// underscores.
func ParseSource(name string) (Source, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_") {
	case "audit":
		return Audit, nil
	case "bigquery":
		return BigQuery, nil
	case "cloud_armor", "cloudarmor":
		return CloudArmor, nil
	default:
		return 0, fmt.Errorf("unknown source %q", name)
	}
}

// Extractor is a procedural stage that cannot be expressed as a mapping table.
type Extractor interface {
	Name() string
	Run(*event.Record) error
}

// Schema is the complete, read-only description of how one source is normalized.
type Schema struct {
	Source Source
	// Payload is the LogEntry member promoted to the staging root, e.g. "protoPayload".
	Payload string
	// Namespace is the source-specific output prefix, e.g. "gcp.audit".
	Namespace string
	// StatusCode is the staged path of the payload status code, if the source has one.
	StatusCode string

	Cloud          []mapper.Field
	Entry          []mapper.Field
	PayloadRules   []mapper.Field
	Common         []mapper.Field
	PreExtractors  []Extractor
	PostExtractors []Extractor
	Categorizer    categorize.Categorizer
}

// RawStatusField is where a status code that failed conversion is kept for the categorizer.
// It is empty for sources without a status code.
func (s Schema) RawStatusField() string {
	if s.StatusCode == "" || s.Namespace == "" {
		return ""
	}
	return s.Namespace + ".status_temp"
}

// For returns the schema of s.
func For(s Source) (Schema, error) {
	switch s {
	case Audit:
		return auditSchema(), nil
	case BigQuery:
		return bigQuerySchema(), nil
	case CloudArmor:
		return cloudArmorSchema(), nil
	default:
		return Schema{}, fmt.Errorf("no schema for %s", s)
	}
}

// orchestrator is shared by the protoPayload sources. It runs before promotion, so it reads
// the payload through its LogEntry path.
func orchestrator() Extractor {
	return extract.NewOrchestrator("json.resource.type", extract.KubernetesClusterType,
		mapper.Field{From: "json.resource.labels.cluster_name", To: "orchestrator.cluster.name", Type: mapper.String},
		mapper.Field{From: "json.protoPayload.resourceName", To: "orchestrator.resource.type_temp", Type: mapper.String},
	)
}
