// Package seeder generates synthetic Cloud Logging entries for local testing.
package seeder

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/telhawk-systems/cloudlog/internal/messaging"
	"github.com/telhawk-systems/cloudlog/internal/schema"
)

// Generator builds LogEntry documents. It is not safe for concurrent use.
type Generator struct {
	faker   *gofakeit.Faker
	project string
	now     func() time.Time
}

// NewGenerator returns a generator. A zero seed picks a random one.
func NewGenerator(seed int64, project string) *Generator {
	if project == "" {
		project = "cloudlog-dev"
	}
	return &Generator{faker: gofakeit.New(seed), project: project, now: time.Now}
}

// Generate creates one entry for source.
func (g *Generator) Generate(source schema.Source) (map[string]interface{}, error) {
	entry := map[string]interface{}{
		"insertId":  g.faker.LetterN(12),
		"timestamp": g.now().UTC().Add(-time.Duration(g.faker.Number(0, 3600)) * time.Second).Format(time.RFC3339Nano),
		"severity":  g.faker.RandomString([]string{"INFO", "NOTICE", "WARNING", "ERROR"}),
	}

	switch source {
	case schema.Audit:
		g.audit(entry)
	case schema.BigQuery:
		g.bigQuery(entry)
	case schema.CloudArmor:
		g.cloudArmor(entry)
	default:
		return nil, fmt.Errorf("no generator for %s", source)
	}
	return entry, nil
}

func (g *Generator) status() map[string]interface{} {
	if g.faker.Number(1, 10) > 8 {
		return map[string]interface{}{"code": 7, "message": "PERMISSION_DENIED"}
	}
	return map[string]interface{}{}
}

func (g *Generator) audit(entry map[string]interface{}) {
	resourceType := g.faker.RandomString([]string{"gce_instance", "k8s_cluster", "gcs_bucket"})
	labels := map[string]interface{}{"project_id": g.project}
	if resourceType == "k8s_cluster" {
		labels["cluster_name"] = "gke-" + g.faker.Word()
	} else {
		labels["instance_id"] = fmt.Sprintf("%d", g.faker.Number(1000000, 9999999))
	}

	method := g.faker.RandomString([]string{
		"v1.compute.instances.insert",
		"v1.compute.instances.delete",
		"storage.objects.get",
		"io.k8s.core.v1.pods.create",
	})
	entry["logName"] = fmt.Sprintf("projects/%s/logs/cloudaudit.googleapis.com%%2Factivity", g.project)
	entry["resource"] = map[string]interface{}{"type": resourceType, "labels": labels}
	entry["protoPayload"] = map[string]interface{}{
		"@type":       "type.googleapis.com/google.cloud.audit.AuditLog",
		"methodName":  method,
		"serviceName": g.faker.RandomString([]string{"compute.googleapis.com", "storage.googleapis.com", "k8s.io"}),
		"resourceName": fmt.Sprintf("projects/%s/zones/us-central1-a/instances/%s",
			g.project, g.faker.Word()),
		"authenticationInfo": map[string]interface{}{"principalEmail": g.faker.Email()},
		"authorizationInfo": []interface{}{
			map[string]interface{}{"permission": method, "granted": g.faker.Bool()},
		},
		"requestMetadata": map[string]interface{}{
			"callerIp":                g.faker.IPv4Address(),
			"callerSuppliedUserAgent": g.faker.UserAgent(),
		},
		"status": g.status(),
	}
}

func (g *Generator) bigQuery(entry map[string]interface{}) {
	dataset := g.faker.Word() + "_ds"
	table := g.faker.Word()
	entry["logName"] = fmt.Sprintf("projects/%s/logs/cloudaudit.googleapis.com%%2Fdata_access", g.project)
	entry["resource"] = map[string]interface{}{
		"type":   "bigquery_resource",
		"labels": map[string]interface{}{"project_id": g.project},
	}
	entry["protoPayload"] = map[string]interface{}{
		"@type":              "type.googleapis.com/google.cloud.audit.AuditLog",
		"methodName":         "jobservice.jobcompleted",
		"serviceName":        "bigquery.googleapis.com",
		"resourceName":       fmt.Sprintf("projects/%s/jobs/%s", g.project, g.faker.UUID()),
		"authenticationInfo": map[string]interface{}{"principalEmail": g.faker.Email()},
		"requestMetadata":    map[string]interface{}{"callerIp": g.faker.IPv4Address()},
		"metadata": map[string]interface{}{
			"jobChange": map[string]interface{}{
				"job": map[string]interface{}{
					"jobConfig": map[string]interface{}{
						"queryConfig": map[string]interface{}{
							"query": fmt.Sprintf("SELECT * FROM `%s.%s` LIMIT %d", dataset, table, g.faker.Number(1, 1000)),
						},
					},
				},
			},
		},
		"serviceData": map[string]interface{}{
			"jobGetQueryResultsResponse": map[string]interface{}{
				"job": map[string]interface{}{
					"jobStatistics": map[string]interface{}{
						"referencedTables":    []interface{}{map[string]interface{}{"projectId": g.project, "datasetId": dataset, "tableId": table}},
						"queryOutputRowCount": fmt.Sprintf("%d", g.faker.Number(0, 100000)),
					},
				},
			},
		},
		"status": g.status(),
	}
}

func (g *Generator) cloudArmor(entry map[string]interface{}) {
	outcome := g.faker.RandomString([]string{"ACCEPT", "DENY"})
	status := 200
	if outcome == "DENY" {
		status = 403
	}
	entry["logName"] = fmt.Sprintf("projects/%s/logs/requests", g.project)
	entry["resource"] = map[string]interface{}{
		"type": "http_load_balancer",
		"labels": map[string]interface{}{
			"project_id":           g.project,
			"backend_service_name": g.faker.Word() + "-backend",
		},
	}
	entry["httpRequest"] = map[string]interface{}{
		"requestMethod": g.faker.HTTPMethod(),
		"requestUrl":    g.faker.URL(),
		"status":        status,
		"userAgent":     g.faker.UserAgent(),
		"remoteIp":      g.faker.IPv4Address(),
		"serverIp":      g.faker.IPv4Address(),
	}
	entry["jsonPayload"] = map[string]interface{}{
		"@type": "type.googleapis.com/google.cloud.loadbalancing.type.LoadBalancerLogEntry",
		"enforcedSecurityPolicy": map[string]interface{}{
			"name":             "policy-" + g.faker.Word(),
			"configuredAction": outcome,
			"outcome":          outcome,
			"priority":         g.faker.Number(1, 1000),
		},
	}
}

// Publish generates count entries per source and publishes each to cloudlog.raw.<source>.
func Publish(ctx context.Context, g *Generator, pub messaging.Publisher, sources []schema.Source, count int) (int, error) {
	sent := 0
	for _, source := range sources {
		for i := 0; i < count; i++ {
			if err := ctx.Err(); err != nil {
				return sent, err
			}
			entry, err := g.Generate(source)
			if err != nil {
				return sent, err
			}
			data, err := json.Marshal(entry)
			if err != nil {
				return sent, err
			}
			if err := pub.Publish(ctx, messaging.RawSubject(source.String()), data); err != nil {
				return sent, fmt.Errorf("publish %s entry: %w", source, err)
			}
			sent++
		}
	}
	return sent, nil
}
