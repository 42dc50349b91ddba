package schema

import (
	"github.com/telhawk-systems/cloudlog/internal/categorize"
	"github.com/telhawk-systems/cloudlog/internal/extract"
	"github.com/telhawk-systems/cloudlog/internal/mapper"
)

func auditSchema() Schema {
	return Schema{
		Source:     Audit,
		Payload:    "protoPayload",
		Namespace:  "gcp.audit",
		StatusCode: "json.status.code",
		Cloud: []mapper.Field{
			{From: "json.resource.labels.project_id", To: "cloud.project.id", Type: mapper.String},
			{From: "json.resource.labels.instance_id", To: "cloud.instance.id", Type: mapper.String},
		},
		PreExtractors: []Extractor{
			orchestrator(),
			extract.BinaryAuthLabels{LabelsField: "json.labels", Prefix: "gcp.audit.binary_auth"},
		},
		PayloadRules: []mapper.Field{
			{From: "json.@type", To: "gcp.audit.type", Type: mapper.String},
			{From: "json.authenticationInfo.principalEmail", To: "gcp.audit.authentication_info.principal_email", Type: mapper.String},
			{From: "json.authenticationInfo.authoritySelector", To: "gcp.audit.authentication_info.authority_selector", Type: mapper.String},
			{From: "json.authorizationInfo", To: "gcp.audit.authorization_info"},
			{From: "json.methodName", To: "gcp.audit.method_name", Type: mapper.String},
			{From: "json.numResponseItems", To: "gcp.audit.num_response_items", Type: mapper.Long},
			{From: "json.request.@type", To: "gcp.audit.request.proto_name", Type: mapper.String},
			{From: "json.request.filter", To: "gcp.audit.request.filter", Type: mapper.String},
			{From: "json.request.name", To: "gcp.audit.request.name", Type: mapper.String},
			{From: "json.request.resourceName", To: "gcp.audit.request.resource_name", Type: mapper.String},
			{From: "json.requestMetadata.callerIp", To: "gcp.audit.request_metadata.caller_ip", Type: mapper.IP},
			{From: "json.requestMetadata.callerSuppliedUserAgent", To: "gcp.audit.request_metadata.caller_supplied_user_agent", Type: mapper.String},
			{From: "json.response.@type", To: "gcp.audit.response.proto_name", Type: mapper.String},
			{From: "json.response.status", To: "gcp.audit.response.status", Type: mapper.String},
			{From: "json.response.reason", To: "event.reason", Type: mapper.String},
			{From: "json.response.details.group", To: "gcp.audit.response.details.group", Type: mapper.String},
			{From: "json.response.details.kind", To: "gcp.audit.response.details.kind", Type: mapper.String},
			{From: "json.response.details.name", To: "gcp.audit.response.details.name", Type: mapper.String},
			{From: "json.response.details.uid", To: "gcp.audit.response.details.uid", Type: mapper.String},
			{From: "json.resourceName", To: "gcp.audit.resource_name", Type: mapper.String},
			{From: "json.resourceLocation.currentLocations", To: "gcp.audit.resource_location.current_locations"},
			{From: "json.serviceData.policyDelta.auditConfigDeltas", To: "gcp.audit.policy_delta.audit_config_deltas"},
			{From: "json.serviceData.policyDelta.bindingDeltas", To: "gcp.audit.policy_delta.binding_deltas"},
			{From: "json.requestMetadata.requestAttributes.host", To: "gcp.audit.iap.host", Type: mapper.String},
			{From: "json.requestMetadata.requestAttributes.path", To: "gcp.audit.iap.path", Type: mapper.String},
			{From: "json.serviceName", To: "gcp.audit.service_name", Type: mapper.String},
			{From: "json.status.code", To: "gcp.audit.status.code", Type: mapper.Integer},
			{From: "json.status.message", To: "gcp.audit.status.message", Type: mapper.String},
		},
		Common: []mapper.Field{
			{From: "gcp.audit.request_metadata.caller_ip", To: "source.ip", Type: mapper.IP},
			{From: "gcp.audit.authentication_info.principal_email", To: "user.email", Type: mapper.String},
			{From: "gcp.audit.service_name", To: "service.name", Type: mapper.String},
			{From: "gcp.audit.request_metadata.caller_supplied_user_agent", To: "user_agent.original", Type: mapper.String},
			{From: "gcp.audit.method_name", To: "event.action", Type: mapper.String},
		},
		PostExtractors: []Extractor{
			extract.RenameNestedKeys{ArrayField: "gcp.audit.authorization_info", From: "resourceAttributes", To: "resource_attributes"},
		},
		Categorizer: categorize.Categorizer{
			StatusField:        "gcp.audit.status.code",
			AuthorizationField: "gcp.audit.authorization_info",
		},
	}
}
