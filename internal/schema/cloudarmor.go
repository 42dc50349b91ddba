package schema

import (
	"github.com/telhawk-systems/cloudlog/internal/categorize"
	"github.com/telhawk-systems/cloudlog/internal/mapper"
)

// Cloud Armor entries carry no status code or authorization decisions, so their outcome is
// always unknown.
func cloudArmorSchema() Schema {
	return Schema{
		Source:    CloudArmor,
		Payload:   "jsonPayload",
		Namespace: "gcp.cloud_armor",
		Cloud: []mapper.Field{
			{From: "json.resource.labels.project_id", To: "cloud.project.id", Type: mapper.String},
			{From: "json.resource.labels.backend_service_name", To: "cloud.backend.name", Type: mapper.String},
		},
		Entry: []mapper.Field{
			{From: "json.httpRequest.requestMethod", To: "gcp.cloud_armor.http_request.method", Type: mapper.String},
			{From: "json.httpRequest.requestUrl", To: "gcp.cloud_armor.http_request.url", Type: mapper.String},
			{From: "json.httpRequest.requestSize", To: "gcp.cloud_armor.http_request.request_size", Type: mapper.String},
			{From: "json.httpRequest.status", To: "gcp.cloud_armor.http_request.status_code", Type: mapper.Integer},
			{From: "json.httpRequest.responseSize", To: "gcp.cloud_armor.http_request.response_size", Type: mapper.String},
			{From: "json.httpRequest.userAgent", To: "gcp.cloud_armor.http_request.user_agent", Type: mapper.String},
			{From: "json.httpRequest.remoteIp", To: "gcp.cloud_armor.http_request.remote_ip", Type: mapper.IP},
			{From: "json.httpRequest.serverIp", To: "gcp.cloud_armor.http_request.server_ip", Type: mapper.IP},
			{From: "json.httpRequest.referer", To: "gcp.cloud_armor.http_request.referer", Type: mapper.String},
		},
		PayloadRules: []mapper.Field{
			{From: "json.@type", To: "gcp.cloud_armor.type", Type: mapper.String},
			{From: "json.enforcedSecurityPolicy.configuredAction", To: "gcp.cloud_armor.enforced_security_policy.action", Type: mapper.String},
			{From: "json.enforcedSecurityPolicy.outcome", To: "gcp.cloud_armor.enforced_security_policy.outcome", Type: mapper.String},
			{From: "json.enforcedSecurityPolicy.preconfiguredExprIds", To: "gcp.cloud_armor.enforced_security_policy.signature_ids"},
			{From: "json.enforcedSecurityPolicy.priority", To: "gcp.cloud_armor.enforced_security_policy.priority", Type: mapper.Integer},
			{From: "json.enforcedSecurityPolicy.name", To: "gcp.cloud_armor.enforced_security_policy.name", Type: mapper.String},
			{From: "json.previewSecurityPolicy.configuredAction", To: "gcp.cloud_armor.preview_security_policy.action", Type: mapper.String},
			{From: "json.previewSecurityPolicy.outcome", To: "gcp.cloud_armor.preview_security_policy.outcome", Type: mapper.String},
			{From: "json.previewSecurityPolicy.preconfiguredExprIds", To: "gcp.cloud_armor.preview_security_policy.signature_ids"},
			{From: "json.previewSecurityPolicy.priority", To: "gcp.cloud_armor.preview_security_policy.priority", Type: mapper.Integer},
			{From: "json.previewSecurityPolicy.name", To: "gcp.cloud_armor.preview_security_policy.name", Type: mapper.String},
		},
		Common: []mapper.Field{
			{From: "gcp.cloud_armor.http_request.remote_ip", To: "source.ip", Type: mapper.IP},
			{From: "cloud.backend.name", To: "service.name", Type: mapper.String},
			{From: "gcp.cloud_armor.http_request.user_agent", To: "user_agent.original", Type: mapper.String},
		},
		Categorizer: categorize.Categorizer{},
	}
}
