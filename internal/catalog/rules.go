package catalog

import (
	"github.com/nelssec/atoguard/internal/inventory"
	"github.com/nelssec/atoguard/internal/models"
)

// Rule is a tagged-variant check record evaluated generically by the
// RuleScanner: which resource types it applies to, which controls it
// maps to, and a single property predicate.
type Rule struct {
	ID                 string
	ControlIDs         []string
	ResourceTypes      []string
	Violated           func(r inventory.Resource) bool
	Severity           models.Severity
	FindingType        string
	Title              string
	Description        string
	RemediationActions []string
	AutoRemediable     bool
}

func (r Rule) appliesTo(resourceType string) bool {
	if len(r.ResourceTypes) == 0 {
		return true
	}
	for _, t := range r.ResourceTypes {
		if t == resourceType {
			return true
		}
	}
	return false
}

func boolProp(r inventory.Resource, key string, def bool) bool {
	if v, ok := r.Properties[key].(bool); ok {
		return v
	}
	return def
}

func stringProp(r inventory.Resource, key string) string {
	if v, ok := r.Properties[key].(string); ok {
		return v
	}
	return ""
}

// DefaultRules is the built-in rule table. Rules are data, not code: adding
// a check means adding a record here, not a method.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:            "storage-encryption-at-rest",
			ControlIDs:    []string{"SC-28", "SC-13"},
			ResourceTypes: []string{"storage_account", "s3_bucket", "gcs_bucket"},
			Violated: func(r inventory.Resource) bool {
				return !boolProp(r, "encryption_enabled", true)
			},
			Severity:    models.SeverityHigh,
			FindingType: "storage_encryption_disabled",
			Title:       "Storage is not encrypted at rest",
			Description: "The storage resource does not have server-side encryption enabled.",
			RemediationActions: []string{
				"Enable server-side encryption on the storage resource",
				"Re-encrypt existing data under the new configuration",
			},
			AutoRemediable: true,
		},
		{
			ID:            "storage-public-access",
			ControlIDs:    []string{"AC-3", "AC-4"},
			ResourceTypes: []string{"storage_account", "s3_bucket", "gcs_bucket"},
			Violated: func(r inventory.Resource) bool {
				return boolProp(r, "public_access", false)
			},
			Severity:    models.SeverityCritical,
			FindingType: "public_access_enabled",
			Title:       "Storage allows public network access",
			Description: "The storage resource is reachable without authentication.",
			RemediationActions: []string{
				"Block public access at the resource level",
				"Review access logs for unauthorized reads",
			},
			AutoRemediable: true,
		},
		{
			ID:            "access-logging",
			ControlIDs:    []string{"AU-2", "AU-12"},
			ResourceTypes: []string{"storage_account", "s3_bucket", "gcs_bucket"},
			Violated: func(r inventory.Resource) bool {
				return !boolProp(r, "logging_enabled", false)
			},
			Severity:    models.SeverityMedium,
			FindingType: "logging_disabled",
			Title:       "Access logging is disabled",
			Description: "The resource does not emit access logs, leaving no audit trail.",
			RemediationActions: []string{
				"Enable access logging with a central log destination",
			},
			AutoRemediable: true,
		},
		{
			ID:            "versioning",
			ControlIDs:    []string{"CP-9"},
			ResourceTypes: []string{"storage_account", "s3_bucket", "gcs_bucket"},
			Violated: func(r inventory.Resource) bool {
				return !boolProp(r, "versioning_enabled", false)
			},
			Severity:    models.SeverityLow,
			FindingType: "versioning_disabled",
			Title:       "Object versioning is disabled",
			Description: "Deleted or overwritten objects cannot be recovered.",
			RemediationActions: []string{
				"Enable versioning on the storage resource",
			},
			AutoRemediable: true,
		},
		{
			ID:            "kms-rotation",
			ControlIDs:    []string{"SC-12"},
			ResourceTypes: []string{"kms_key", "key_vault_key"},
			Violated: func(r inventory.Resource) bool {
				return !boolProp(r, "rotation_enabled", false)
			},
			Severity:    models.SeverityMedium,
			FindingType: "kms_rotation_disabled",
			Title:       "Key rotation is not enabled",
			Description: "The encryption key does not rotate automatically.",
			RemediationActions: []string{
				"Enable automatic annual key rotation",
			},
			AutoRemediable: true,
		},
		{
			ID:            "tls-minimum-version",
			ControlIDs:    []string{"SC-8"},
			ResourceTypes: []string{"storage_account", "s3_bucket"},
			Violated: func(r inventory.Resource) bool {
				v := stringProp(r, "min_tls_version")
				return v != "" && v != "TLS1_2" && v != "TLS1_3"
			},
			Severity:    models.SeverityMedium,
			FindingType: "tls_outdated",
			Title:       "Outdated minimum TLS version",
			Description: "The resource accepts TLS versions older than 1.2.",
			RemediationActions: []string{
				"Raise the minimum TLS version to 1.2",
			},
			AutoRemediable: true,
		},
		{
			ID:            "mfa-enforcement",
			ControlIDs:    []string{"IA-2"},
			ResourceTypes: []string{"iam_user"},
			Violated: func(r inventory.Resource) bool {
				return !boolProp(r, "mfa_enabled", false)
			},
			Severity:    models.SeverityHigh,
			FindingType: "mfa_not_enforced",
			Title:       "User account lacks multi-factor authentication",
			Description: "The identity can authenticate with a single factor.",
			RemediationActions: []string{
				"Require MFA enrollment for the account",
			},
		},
		{
			ID:            "least-privilege",
			ControlIDs:    []string{"AC-6", "AC-2"},
			ResourceTypes: []string{"iam_policy", "role_assignment"},
			Violated: func(r inventory.Resource) bool {
				return boolProp(r, "overly_permissive", false)
			},
			Severity:    models.SeverityHigh,
			FindingType: "overly_permissive_policy",
			Title:       "Policy grants broader access than required",
			Description: "The policy contains wildcard or administrative grants.",
			RemediationActions: []string{
				"Scope the policy to the specific actions and resources required",
				"Review principals attached to the policy",
			},
		},
		{
			ID:            "monitoring",
			ControlIDs:    []string{"SI-4", "AU-6"},
			ResourceTypes: nil, // applies to every resource type
			Violated: func(r inventory.Resource) bool {
				return !boolProp(r, "monitoring_enabled", true)
			},
			Severity:    models.SeverityLow,
			FindingType: "monitoring_disabled",
			Title:       "Resource monitoring is disabled",
			Description: "No diagnostic or metric stream is configured for the resource.",
			RemediationActions: []string{
				"Enable diagnostic settings for the resource",
			},
		},
		{
			ID:            "backup",
			ControlIDs:    []string{"CP-6", "CP-10"},
			ResourceTypes: []string{"sql_database", "rds_instance", "storage_account"},
			Violated: func(r inventory.Resource) bool {
				return !boolProp(r, "backup_enabled", true)
			},
			Severity:    models.SeverityMedium,
			FindingType: "backup_disabled",
			Title:       "No backup configured",
			Description: "The data store has no recovery point configured.",
			RemediationActions: []string{
				"Configure scheduled backups with retention",
				"Verify restore procedure against the latest recovery point",
			},
		},
	}
}
