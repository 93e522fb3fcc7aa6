package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// StringArray is an alias for pq.StringArray to handle PostgreSQL arrays
type StringArray = pq.StringArray

type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFORMATIONAL"
)

// SeverityRank orders severities for comparison; higher is more severe.
func SeverityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

type ComplianceStatus string

const (
	StatusCompliant     ComplianceStatus = "COMPLIANT"
	StatusNonCompliant  ComplianceStatus = "NON_COMPLIANT"
	StatusNotApplicable ComplianceStatus = "NOT_APPLICABLE"
	StatusUnknown       ComplianceStatus = "UNKNOWN"
)

type RiskLevel string

const (
	RiskCritical RiskLevel = "Critical"
	RiskHigh     RiskLevel = "High"
	RiskMedium   RiskLevel = "Medium"
	RiskLow      RiskLevel = "Low"
)

type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, j)
}

// Scope narrows an assessment to one subscription and optionally one
// resource group within it.
type Scope struct {
	SubscriptionID string `json:"subscription_id"`
	ResourceGroup  string `json:"resource_group,omitempty"`
}

func (s Scope) Validate() error {
	if s.SubscriptionID == "" {
		return errors.New("subscription id is required")
	}
	return nil
}

// ResourceRef identifies the cloud resource a finding is attached to.
type ResourceRef struct {
	ID       string `json:"id" db:"resource_id"`
	Type     string `json:"type" db:"resource_type"`
	Name     string `json:"name" db:"resource_name"`
	Location string `json:"location" db:"resource_location"`
}

// Finding is a detected deviation from a control on one resource.
// Findings are immutable once created; resolution happens externally.
type Finding struct {
	ID                 uuid.UUID        `json:"id" db:"id"`
	FindingType        string           `json:"finding_type" db:"finding_type"`
	ControlIDs         StringArray      `json:"control_ids" db:"control_ids"`
	Severity           Severity         `json:"severity" db:"severity"`
	Status             ComplianceStatus `json:"status" db:"status"`
	Title              string           `json:"title" db:"title"`
	Description        string           `json:"description" db:"description"`
	Resource           ResourceRef      `json:"resource"`
	RemediationActions StringArray      `json:"remediation_actions" db:"remediation_actions"`
	AutoRemediable     bool             `json:"auto_remediable" db:"auto_remediable"`
	DetectedAt         time.Time        `json:"detected_at" db:"detected_at"`
	ResolvedAt         *time.Time       `json:"resolved_at,omitempty" db:"resolved_at"`
}

// ControlFamilyAssessment is the per-family outcome of one assessment run.
type ControlFamilyAssessment struct {
	FamilyCode     string    `json:"family_code"`
	FamilyName     string    `json:"family_name"`
	Findings       []Finding `json:"findings"`
	TotalControls  int       `json:"total_controls"`
	PassedControls int       `json:"passed_controls"`
	Score          float64   `json:"score"`
}

// ComplianceAssessment aggregates all family assessments for one scope at
// one point in time.
type ComplianceAssessment struct {
	ID                uuid.UUID                 `json:"id" db:"id"`
	SubscriptionID    string                    `json:"subscription_id" db:"subscription_id"`
	ResourceGroup     string                    `json:"resource_group,omitempty" db:"resource_group"`
	FamilyAssessments []ControlFamilyAssessment `json:"family_assessments"`
	SeverityCounts    map[Severity]int          `json:"severity_counts"`
	OverallScore      float64                   `json:"overall_score" db:"overall_score"`
	RiskLevel         RiskLevel                 `json:"risk_level" db:"risk_level"`
	RiskScore         float64                   `json:"risk_score" db:"risk_score"`
	Summary           string                    `json:"summary" db:"summary"`
	Error             string                    `json:"error,omitempty" db:"error"`
	StartedAt         time.Time                 `json:"started_at" db:"started_at"`
	CompletedAt       time.Time                 `json:"completed_at" db:"completed_at"`
}

type EvidenceType string

const (
	EvidenceConfiguration EvidenceType = "CONFIGURATION"
	EvidenceLogs          EvidenceType = "LOGS"
	EvidenceMetrics       EvidenceType = "METRICS"
	EvidencePolicies      EvidenceType = "POLICIES"
	EvidenceAccessControl EvidenceType = "ACCESS_CONTROL"
)

type EvidenceItem struct {
	Type        EvidenceType `json:"type"`
	Name        string       `json:"name"`
	Data        JSONB        `json:"data,omitempty"`
	CollectedAt time.Time    `json:"collected_at"`
}

// EvidencePackage holds the typed evidence collected for one control family.
type EvidencePackage struct {
	ID           uuid.UUID      `json:"id" db:"id"`
	FamilyCode   string         `json:"family_code" db:"family_code"`
	Items        []EvidenceItem `json:"items"`
	Completeness float64        `json:"completeness" db:"completeness"`
	Attestation  string         `json:"attestation" db:"attestation"`
	CollectedAt  time.Time      `json:"collected_at" db:"collected_at"`
}

type RollbackPlan struct {
	Steps         []string      `json:"steps"`
	EstimatedTime time.Duration `json:"estimated_time"`
}

// RemediationItem is one prioritized unit of remediation work.
type RemediationItem struct {
	FindingID       uuid.UUID     `json:"finding_id"`
	ResourceID      string        `json:"resource_id"`
	Priority        string        `json:"priority"`
	Automated       bool          `json:"automated"`
	EstimatedEffort time.Duration `json:"estimated_effort"`
	Steps           []string      `json:"steps"`
	ValidationSteps []string      `json:"validation_steps"`
	Rollback        RollbackPlan  `json:"rollback"`
	DependsOn       []uuid.UUID   `json:"depends_on"`
}

type RemediationPhase struct {
	Name     string        `json:"name"`
	Priority string        `json:"priority"`
	ItemIDs  []uuid.UUID   `json:"item_ids"`
	StartAt  time.Time     `json:"start_at"`
	Duration time.Duration `json:"duration"`
}

type RemediationPlan struct {
	ID                     uuid.UUID          `json:"id" db:"id"`
	SubscriptionID         string             `json:"subscription_id" db:"subscription_id"`
	Items                  []RemediationItem  `json:"items"`
	EstimatedEffort        time.Duration      `json:"estimated_effort"`
	Timeline               []RemediationPhase `json:"timeline"`
	ProjectedRiskReduction float64            `json:"projected_risk_reduction"`
	ResidualRiskRating     RiskLevel          `json:"residual_risk_rating"`
	CreatedAt              time.Time          `json:"created_at" db:"created_at"`
}

type ExecutionStatus string

const (
	ExecutionPending    ExecutionStatus = "PENDING"
	ExecutionApproved   ExecutionStatus = "APPROVED"
	ExecutionRejected   ExecutionStatus = "REJECTED"
	ExecutionInProgress ExecutionStatus = "IN_PROGRESS"
	ExecutionValidating ExecutionStatus = "VALIDATING"
	ExecutionCompleted  ExecutionStatus = "COMPLETED"
	ExecutionFailed     ExecutionStatus = "FAILED"
	ExecutionRolledBack ExecutionStatus = "ROLLED_BACK"
)

type ValidationResult struct {
	Valid   bool     `json:"valid"`
	Checks  []string `json:"checks"`
	Message string   `json:"message,omitempty"`
}

// RemediationExecution records one pass of the executor state machine over
// a single finding.
type RemediationExecution struct {
	ID             uuid.UUID         `json:"id" db:"id"`
	FindingID      uuid.UUID         `json:"finding_id" db:"finding_id"`
	ResourceID     string            `json:"resource_id" db:"resource_id"`
	Status         ExecutionStatus   `json:"status" db:"status"`
	DryRun         bool              `json:"dry_run" db:"dry_run"`
	Success        bool              `json:"success" db:"success"`
	BeforeSnapshot JSONB             `json:"before_snapshot,omitempty" db:"before_snapshot"`
	AfterSnapshot  JSONB             `json:"after_snapshot,omitempty" db:"after_snapshot"`
	BackupRef      string            `json:"backup_ref,omitempty" db:"backup_ref"`
	ChangesApplied StringArray       `json:"changes_applied" db:"changes_applied"`
	Validation     *ValidationResult `json:"validation,omitempty"`
	Error          string            `json:"error,omitempty" db:"error"`
	ApprovedBy     string            `json:"approved_by,omitempty" db:"approved_by"`
	ApprovedAt     *time.Time        `json:"approved_at,omitempty" db:"approved_at"`
	StartedAt      time.Time         `json:"started_at" db:"started_at"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty" db:"completed_at"`
	Duration       time.Duration     `json:"duration" db:"duration"`
}

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

// ApprovalWorkflow tracks a request for human sign-off before a gated
// action proceeds. Terminal once decided.
type ApprovalWorkflow struct {
	ID                uuid.UUID      `json:"id" db:"id"`
	RequestID         uuid.UUID      `json:"request_id" db:"request_id"`
	RequestAction     string         `json:"request_action" db:"request_action"`
	RequiredApprovers StringArray    `json:"required_approvers" db:"required_approvers"`
	Priority          int            `json:"priority" db:"priority"`
	Status            ApprovalStatus `json:"status" db:"status"`
	Justification     string         `json:"justification" db:"justification"`
	DecidedBy         string         `json:"decided_by,omitempty" db:"decided_by"`
	DecisionComment   string         `json:"decision_comment,omitempty" db:"decision_comment"`
	CreatedAt         time.Time      `json:"created_at" db:"created_at"`
	DecidedAt         *time.Time     `json:"decided_at,omitempty" db:"decided_at"`
}

type PolicyEffect string

const (
	EffectDeny              PolicyEffect = "Deny"
	EffectDeployIfNotExists PolicyEffect = "DeployIfNotExists"
	EffectModify            PolicyEffect = "Modify"
	EffectAudit             PolicyEffect = "Audit"
	EffectAuditIfNotExists  PolicyEffect = "AuditIfNotExists"
)

// PolicyState is one external policy compliance record for a resource.
type PolicyState struct {
	PolicyID        string       `json:"policy_id"`
	PolicyName      string       `json:"policy_name"`
	AssignmentID    string       `json:"assignment_id"`
	ComplianceState string       `json:"compliance_state"`
	Effect          PolicyEffect `json:"effect"`
	Timestamp       time.Time    `json:"timestamp"`
}

type PolicyViolation struct {
	PolicyID          string   `json:"policy_id"`
	PolicyName        string   `json:"policy_name"`
	Severity          Severity `json:"severity"`
	Description       string   `json:"description"`
	RecommendedAction string   `json:"recommended_action"`
}

type GovernanceDecision string

const (
	DecisionAllow            GovernanceDecision = "ALLOW"
	DecisionDeny             GovernanceDecision = "DENY"
	DecisionRequiresApproval GovernanceDecision = "REQUIRES_APPROVAL"
	DecisionAuditOnly        GovernanceDecision = "AUDIT_ONLY"
)

// ActionRequest describes a risky operation submitted for a governance
// verdict before it runs.
type ActionRequest struct {
	ID           uuid.UUID `json:"id"`
	Action       string    `json:"action"`
	ResourceID   string    `json:"resource_id,omitempty"`
	ResourceType string    `json:"resource_type,omitempty"`
	Requestor    string    `json:"requestor"`
	Parameters   JSONB     `json:"parameters,omitempty"`
	RequestedAt  time.Time `json:"requested_at"`
}

// ActionResult is the observed outcome of an action, fed back for
// post-flight evaluation.
type ActionResult struct {
	Success        bool     `json:"success"`
	Error          string   `json:"error,omitempty"`
	ChangesApplied []string `json:"changes_applied,omitempty"`
}
