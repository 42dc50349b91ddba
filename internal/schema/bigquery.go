package schema

import (
	"github.com/telhawk-systems/cloudlog/internal/categorize"
	"github.com/telhawk-systems/cloudlog/internal/extract"
	"github.com/telhawk-systems/cloudlog/internal/mapper"
)

func bigQuerySchema() Schema {
	return Schema{
		Source:     BigQuery,
		Payload:    "protoPayload",
		Namespace:  "gcp.bigquery",
		StatusCode: "json.status.code",
		Cloud: []mapper.Field{
			{From: "json.resource.labels.project_id", To: "cloud.project.id", Type: mapper.String},
		},
		PreExtractors: []Extractor{
			orchestrator(),
		},
		PayloadRules: []mapper.Field{
			{From: "json.@type", To: "gcp.bigquery.type", Type: mapper.String},
			{From: "json.authenticationInfo.principalEmail", To: "gcp.bigquery.authentication_info.principal_email", Type: mapper.String},
			{From: "json.authorizationInfo", To: "gcp.bigquery.authorization_info"},
			{From: "json.metadata.jobInsertion", To: "gcp.bigquery.job_insertion"},
			{From: "json.methodName", To: "gcp.bigquery.method_name", Type: mapper.String},
			{From: "json.requestMetadata.callerIp", To: "gcp.bigquery.request_metadata.caller_ip", Type: mapper.IP},
			{From: "json.requestMetadata.callerSuppliedUserAgent", To: "gcp.bigquery.request_metadata.caller_supplied_user_agent", Type: mapper.String},
			{From: "json.resourceName", To: "gcp.bigquery.resource_name", Type: mapper.String},
			{From: "json.serviceName", To: "gcp.bigquery.service_name", Type: mapper.String},
			{From: "json.status.code", To: "gcp.bigquery.status.code", Type: mapper.Integer},
			{From: "json.status.message", To: "gcp.bigquery.status.message", Type: mapper.String},
		},
		Common: []mapper.Field{
			{From: "gcp.bigquery.request_metadata.caller_ip", To: "source.ip", Type: mapper.IP},
			{From: "gcp.bigquery.authentication_info.principal_email", To: "user.email", Type: mapper.String},
			{From: "gcp.bigquery.service_name", To: "service.name", Type: mapper.String},
			{From: "gcp.bigquery.request_metadata.caller_supplied_user_agent", To: "user_agent.original", Type: mapper.String},
			{From: "gcp.bigquery.method_name", To: "event.action", Type: mapper.String},
		},
		PostExtractors: []Extractor{
			extract.QueryJob{
				QueryField:            "json.metadata.jobChange.job.jobConfig.queryConfig.query",
				ReferencedTablesField: "json.serviceData.jobGetQueryResultsResponse.job.jobStatistics.referencedTables",
				DestinationTableField: "json.serviceData.jobGetQueryResultsResponse.job.jobConfiguration.query.destinationTable",
				OutputRowCountField:   "json.serviceData.jobGetQueryResultsResponse.job.jobStatistics.queryOutputRowCount",
				ExtractConfigField:    "gcp.bigquery.job_insertion.job.jobConfig.extractConfig",
				Prefix:                "gcp.bigquery",
			},
			extract.RenameNestedKeys{ArrayField: "gcp.bigquery.authorization_info", From: "resourceAttributes", To: "resource_attributes"},
		},
		Categorizer: categorize.Categorizer{
			StatusField:        "gcp.bigquery.status.code",
			AuthorizationField: "gcp.bigquery.authorization_info",
		},
	}
}
