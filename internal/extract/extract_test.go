package extract_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/telhawk-systems/cloudlog/internal/event"
	"github.com/telhawk-systems/cloudlog/internal/extract"
	"github.com/telhawk-systems/cloudlog/internal/mapper"
)

func newRecord(fields event.Fields) *event.Record {
	return &event.Record{Timestamp: time.Unix(0, 0).UTC(), Fields: fields}
}

func TestQuotedSubstring(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		want  string
		found bool
	}{
		{name: "single quoted", in: "reason: 'myimage:latest' failed", want: "myimage:latest", found: true},
		{name: "first of several", in: "'gcr.io/p/a@sha256:1' and 'b'", want: "gcr.io/p/a@sha256:1", found: true},
		{name: "no quotes", in: "Image gcr.io/p/a denied", found: false},
		{name: "unterminated", in: "reason: 'oops", found: false},
		{name: "empty", in: "", found: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := extract.QuotedSubstring(tt.in)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExportURI(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
		found bool
	}{
		{
			name:  "single quoted uri",
			query: "EXPORT DATA OPTIONS (uri='gs://bucket/file-*.csv', format='CSV') AS SELECT 1",
			want:  "gs://bucket/file-*.csv",
			found: true,
		},
		{
			name:  "double quoted uri lower-case marker",
			query: `export data options(format="CSV", uri="gs://b/out-*.json") as select * from t`,
			want:  "gs://b/out-*.json",
			found: true,
		},
		{
			name:  "spaces around equals",
			query: "EXPORT DATA OPTIONS (uri = 'gs://b/x-*.avro') AS SELECT 1",
			want:  "gs://b/x-*.avro",
			found: true,
		},
		{name: "marker without uri", query: "EXPORT DATA OPTIONS (format='CSV') AS SELECT 1", found: false},
		{name: "uri without marker", query: "SELECT 'uri=\"gs://x\"'", found: false},
		{name: "plain select", query: "SELECT * FROM t", found: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := extract.ExportURI(tt.query)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseTableResource(t *testing.T) {
	dataset, table, err := extract.ParseTableResource("projects/p1/datasets/ds/tables/tbl")
	require.NoError(t, err)
	assert.Equal(t, "ds", dataset)
	assert.Equal(t, "tbl", table)

	for _, bad := range []string{
		"",
		"projects/p1/datasets/ds",
		"projects/p1/tables/ds/datasets/tbl",
		"projects/p1/datasets//tables/tbl",
		"projects/p1/datasets/ds/tables/tbl/extra",
		"p1.ds.tbl",
	} {
		_, _, err := extract.ParseTableResource(bad)
		assert.ErrorIs(t, err, extract.ErrMalformedResourceName, bad)
	}
}

func TestOrchestrator(t *testing.T) {
	o := extract.NewOrchestrator("json.resource.type", extract.KubernetesClusterType,
		mapper.Field{From: "json.resource.labels.cluster_name", To: "orchestrator.cluster.name", Type: mapper.String},
		mapper.Field{From: "json.protoPayload.resourceName", To: "orchestrator.resource.type_temp", Type: mapper.String},
	)

	t.Run("cluster entry", func(t *testing.T) {
		r := newRecord(event.Fields{"json": map[string]interface{}{
			"resource": map[string]interface{}{
				"type":   "k8s_cluster",
				"labels": map[string]interface{}{"cluster_name": "prod"},
			},
			"protoPayload": map[string]interface{}{"resourceName": map[string]interface{}{"odd": "shape"}},
		}})

		require.NoError(t, o.Run(r))
		assert.Equal(t, "kubernetes", r.Fields["orchestrator"].(map[string]interface{})["type"])
		name, _ := r.Fields.GetString("orchestrator.cluster.name")
		assert.Equal(t, "prod", name)
		assert.False(t, r.Has("orchestrator.resource.type_temp"), "unconvertible value is skipped")
	})

	t.Run("other resource type", func(t *testing.T) {
		r := newRecord(event.Fields{"json": map[string]interface{}{
			"resource": map[string]interface{}{"type": "gce_instance"},
		}})
		require.NoError(t, o.Run(r))
		assert.False(t, r.Has("orchestrator"))
	})

	t.Run("missing resource", func(t *testing.T) {
		r := newRecord(event.Fields{})
		require.NoError(t, o.Run(r))
		assert.Empty(t, r.Fields)
	})
}

func TestBinaryAuthLabels(t *testing.T) {
	b := extract.BinaryAuthLabels{LabelsField: "json.labels", Prefix: "gcp.audit.binary_auth"}

	t.Run("all labels", func(t *testing.T) {
		r := newRecord(event.Fields{"json": map[string]interface{}{"labels": map[string]interface{}{
			extract.LabelDryRun:                 "true",
			extract.LabelBreakGlass:             "",
			extract.LabelOverriddenVerification: "reason: 'myimage:latest' failed",
		}}})

		require.NoError(t, b.Run(r))
		v, _ := r.GetValue("gcp.audit.binary_auth.dry_run_denied")
		assert.Equal(t, true, v)
		v, _ = r.GetValue("gcp.audit.binary_auth.breakglass_used")
		assert.Equal(t, true, v)
		v, _ = r.GetValue("gcp.audit.binary_auth.image")
		assert.Equal(t, "myimage:latest", v)
	})

	t.Run("absent flags stay unset", func(t *testing.T) {
		r := newRecord(event.Fields{"json": map[string]interface{}{"labels": map[string]interface{}{
			"authorization.k8s.io/decision": "allow",
		}}})
		require.NoError(t, b.Run(r))
		assert.False(t, r.Has("gcp.audit.binary_auth"))
	})

	t.Run("non-conforming verification result", func(t *testing.T) {
		r := newRecord(event.Fields{"json": map[string]interface{}{"labels": map[string]interface{}{
			extract.LabelOverriddenVerification: "no quotes here",
		}}})
		require.NoError(t, b.Run(r))
		assert.False(t, r.Has("gcp.audit.binary_auth.image"))
	})

	t.Run("labels not an object", func(t *testing.T) {
		r := newRecord(event.Fields{"json": map[string]interface{}{"labels": "dry-run"}})
		require.NoError(t, b.Run(r))
		assert.False(t, r.Has("gcp"))
	})
}

func TestRenameNestedKeys(t *testing.T) {
	n := extract.RenameNestedKeys{ArrayField: "gcp.audit.authorization_info", From: "resourceAttributes", To: "resource_attributes"}

	attrs := map[string]interface{}{"service": "storage.googleapis.com"}
	r := newRecord(event.Fields{})
	r.Put("gcp.audit.authorization_info", []interface{}{
		map[string]interface{}{"granted": true, "resourceAttributes": attrs},
		map[string]interface{}{"granted": false},
		"not-an-object",
	})

	require.NoError(t, n.Run(r))
	items, ok := r.Fields.GetSlice("gcp.audit.authorization_info")
	require.True(t, ok)
	first := items[0].(map[string]interface{})
	assert.Equal(t, attrs, first["resource_attributes"])
	assert.NotContains(t, first, "resourceAttributes")
	assert.Equal(t, map[string]interface{}{"granted": false}, items[1])

	t.Run("non-array is a no-op", func(t *testing.T) {
		r := newRecord(event.Fields{})
		r.Put("gcp.audit.authorization_info", map[string]interface{}{"resourceAttributes": 1})
		require.NoError(t, n.Run(r))
		v, _ := r.Fields.GetMap("gcp.audit.authorization_info")
		assert.Contains(t, v, "resourceAttributes")
	})
}

func bigQueryExtractor() extract.QueryJob {
	return extract.QueryJob{
		QueryField:            "json.metadata.jobChange.job.jobConfig.queryConfig.query",
		ReferencedTablesField: "json.serviceData.jobGetQueryResultsResponse.job.jobStatistics.referencedTables",
		DestinationTableField: "json.serviceData.jobGetQueryResultsResponse.job.jobConfiguration.query.destinationTable",
		OutputRowCountField:   "json.serviceData.jobGetQueryResultsResponse.job.jobStatistics.queryOutputRowCount",
		ExtractConfigField:    "gcp.bigquery.job_insertion.job.jobConfig.extractConfig",
		Prefix:                "gcp.bigquery",
	}
}

func TestQueryJob_Query(t *testing.T) {
	q := bigQueryExtractor()
	query := "EXPORT DATA OPTIONS (uri='gs://bucket/file-*.csv') AS SELECT * FROM ds.t"
	r := newRecord(event.Fields{})
	r.Put("json.metadata.jobChange.job.jobConfig.queryConfig.query", query)

	require.NoError(t, q.Run(r))
	v, _ := r.Fields.GetString("gcp.bigquery.query")
	assert.Equal(t, query, v)
	v, _ = r.Fields.GetString("gcp.bigquery.export_destination")
	assert.Equal(t, "gs://bucket/file-*.csv", v)
}

func TestQueryJob_QueryResults(t *testing.T) {
	q := bigQueryExtractor()
	r := newRecord(event.Fields{})
	r.Put("json.serviceData.jobGetQueryResultsResponse.job", map[string]interface{}{
		"jobStatistics": map[string]interface{}{
			"referencedTables": []interface{}{
				map[string]interface{}{"projectId": "p", "datasetId": "sales", "tableId": "orders"},
				map[string]interface{}{"projectId": "p", "datasetId": "other", "tableId": "x"},
			},
			"queryOutputRowCount": "1250",
		},
		"jobConfiguration": map[string]interface{}{
			"query": map[string]interface{}{
				"destinationTable": map[string]interface{}{"datasetId": "_anon", "tableId": "anon123"},
			},
		},
	})

	require.NoError(t, q.Run(r))
	expect := map[string]interface{}{
		"gcp.bigquery.dataset_id":       "sales",
		"gcp.bigquery.table_id":         "orders",
		"gcp.bigquery.tmp_dataset_id":   "_anon",
		"gcp.bigquery.tmp_table_id":     "anon123",
		"gcp.bigquery.output_row_count": int64(1250),
	}
	for path, want := range expect {
		got, ok := r.GetValue(path)
		require.True(t, ok, path)
		assert.Equal(t, want, got, path)
	}
	assert.False(t, r.Has("gcp.bigquery.query"))
}

func TestQueryJob_EmptyReferencedTables(t *testing.T) {
	q := bigQueryExtractor()
	r := newRecord(event.Fields{})
	r.Put("json.serviceData.jobGetQueryResultsResponse.job.jobStatistics.referencedTables", []interface{}{})

	require.NoError(t, q.Run(r))
	assert.False(t, r.Has("gcp.bigquery.dataset_id"))
}

func TestQueryJob_ExtractJob(t *testing.T) {
	q := bigQueryExtractor()

	t.Run("destination and source table", func(t *testing.T) {
		r := newRecord(event.Fields{})
		r.Put("gcp.bigquery.job_insertion.job.jobConfig.extractConfig", map[string]interface{}{
			"destinationUris": []interface{}{"gs://exports/a-*.csv", "gs://exports/b-*.csv"},
			"sourceTable":     "projects/p1/datasets/tmp_ds/tables/tmp_tbl",
		})

		require.NoError(t, q.Run(r))
		v, _ := r.Fields.GetString("gcp.bigquery.export_destination")
		assert.Equal(t, "gs://exports/a-*.csv", v)
		v, _ = r.Fields.GetString("gcp.bigquery.tmp_dataset_id")
		assert.Equal(t, "tmp_ds", v)
		v, _ = r.Fields.GetString("gcp.bigquery.tmp_table_id")
		assert.Equal(t, "tmp_tbl", v)
	})

	t.Run("empty destination list", func(t *testing.T) {
		r := newRecord(event.Fields{})
		r.Put("gcp.bigquery.job_insertion.job.jobConfig.extractConfig", map[string]interface{}{
			"destinationUris": []interface{}{},
			"sourceTable":     "garbage",
		})
		require.NoError(t, q.Run(r))
		assert.False(t, r.Has("gcp.bigquery.export_destination"))
	})

	t.Run("malformed source table is a hard error", func(t *testing.T) {
		r := newRecord(event.Fields{})
		r.Put("gcp.bigquery.job_insertion.job.jobConfig.extractConfig", map[string]interface{}{
			"destinationUris": []interface{}{"gs://exports/a-*.csv"},
			"sourceTable":     "p1:tmp_ds.tmp_tbl",
		})
		err := q.Run(r)
		require.Error(t, err)
		assert.ErrorIs(t, err, extract.ErrMalformedResourceName)
		assert.False(t, r.Has("gcp.bigquery.tmp_dataset_id"))
	})
}
