package extract

import (
	"fmt"

	"github.com/telhawk-systems/cloudlog/internal/event"
	"github.com/telhawk-systems/cloudlog/internal/mapper"
)

// QueryJob pulls query text, export destinations and table identifiers out of BigQuery job
// metadata. Every path is optional; an empty path disables that part.
type QueryJob struct {
	QueryField            string
	ReferencedTablesField string
	DestinationTableField string
	OutputRowCountField   string
	ExtractConfigField    string
	Prefix                string
}

func (q QueryJob) Name() string { return "query_job" }

func (q QueryJob) Run(r *event.Record) error {
	q.query(r)
	q.referencedTables(r)
	q.destinationTable(r)
	q.outputRowCount(r)
	return q.extractJob(r)
}

func (q QueryJob) query(r *event.Record) {
	if q.QueryField == "" {
		return
	}
	query, ok := r.Fields.GetString(q.QueryField)
	if !ok {
		return
	}
	r.Put(q.Prefix+".query", query)
	if uri, ok := ExportURI(query); ok {
		r.Put(q.Prefix+".export_destination", uri)
	}
}

func (q QueryJob) referencedTables(r *event.Record) {
	if q.ReferencedTablesField == "" {
		return
	}
	tables, ok := r.Fields.GetSlice(q.ReferencedTablesField)
	if !ok || len(tables) == 0 {
		return
	}
	first, ok := tables[0].(map[string]interface{})
	if !ok {
		return
	}
	if v, ok := first["datasetId"].(string); ok {
		r.Put(q.Prefix+".dataset_id", v)
	}
	if v, ok := first["tableId"].(string); ok {
		r.Put(q.Prefix+".table_id", v)
	}
}

func (q QueryJob) destinationTable(r *event.Record) {
	if q.DestinationTableField == "" {
		return
	}
	dest, ok := r.Fields.GetMap(q.DestinationTableField)
	if !ok {
		return
	}
	if v, ok := dest["datasetId"].(string); ok {
		r.Put(q.Prefix+".tmp_dataset_id", v)
	}
	if v, ok := dest["tableId"].(string); ok {
		r.Put(q.Prefix+".tmp_table_id", v)
	}
}

func (q QueryJob) outputRowCount(r *event.Record) {
	if q.OutputRowCountField == "" {
		return
	}
	v, ok := r.GetValue(q.OutputRowCountField)
	if !ok {
		return
	}
	// int64 statistics arrive as JSON strings.
	if n, err := mapper.Coerce(v, mapper.Long); err == nil {
		r.Put(q.Prefix+".output_row_count", n)
	}
}

func (q QueryJob) extractJob(r *event.Record) error {
	if q.ExtractConfigField == "" {
		return nil
	}
	config, ok := r.Fields.GetMap(q.ExtractConfigField)
	if !ok {
		return nil
	}
	uris, ok := config["destinationUris"].([]interface{})
	if !ok || len(uris) == 0 {
		return nil
	}
	if uri, ok := uris[0].(string); ok {
		r.Put(q.Prefix+".export_destination", uri)
	}

	source, ok := config["sourceTable"].(string)
	if !ok {
		return nil
	}
	dataset, table, err := ParseTableResource(source)
	if err != nil {
		return fmt.Errorf("extract job source table: %w", err)
	}
	r.Put(q.Prefix+".tmp_dataset_id", dataset)
	r.Put(q.Prefix+".tmp_table_id", table)
	return nil
}
