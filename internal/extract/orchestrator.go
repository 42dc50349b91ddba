// Package extract holds the source-specific procedural stages that cannot be written as
// flat mapping tables.
package extract

import (
	"github.com/telhawk-systems/cloudlog/internal/event"
	"github.com/telhawk-systems/cloudlog/internal/mapper"
)

// KubernetesClusterType is the monitored resource type of GKE cluster audit entries.
const KubernetesClusterType = "k8s_cluster"

// Orchestrator marks cluster-scoped entries as kubernetes and copies cluster metadata.
type Orchestrator struct {
	resourceTypeField string
	clusterType       string
	convert           *mapper.Convert
}

// NewOrchestrator builds the extractor. fields are copied with missing values and
// conversion failures tolerated.
func NewOrchestrator(resourceTypeField, clusterType string, fields ...mapper.Field) *Orchestrator {
	return &Orchestrator{
		resourceTypeField: resourceTypeField,
		clusterType:       clusterType,
		convert:           mapper.New("orchestrator_metadata", mapper.Options{IgnoreMissing: true}, fields...),
	}
}

func (o *Orchestrator) Name() string { return "orchestrator_metadata" }

func (o *Orchestrator) Run(r *event.Record) error {
	resourceType, ok := r.Fields.GetString(o.resourceTypeField)
	if !ok || resourceType != o.clusterType {
		return nil
	}
	r.Put("orchestrator.type", "kubernetes")
	return o.convert.Run(r)
}
