package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/nelssec/atoguard/internal/models"
)

// Store is the Postgres-backed durable store for assessments, findings,
// executions, evidence packages, and approval workflows.
type Store struct {
	db *sqlx.DB
}

type Config struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

func New(cfg Config) (*Store, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) DB() *sqlx.DB {
	return s.db
}

// assessmentRow flattens a ComplianceAssessment for storage; family
// assessments and severity counts ride along as JSON documents.
type assessmentRow struct {
	ID             uuid.UUID `db:"id"`
	SubscriptionID string    `db:"subscription_id"`
	ResourceGroup  string    `db:"resource_group"`
	OverallScore   float64   `db:"overall_score"`
	RiskLevel      string    `db:"risk_level"`
	RiskScore      float64   `db:"risk_score"`
	Summary        string    `db:"summary"`
	Error          string    `db:"error"`
	Families       []byte    `db:"families"`
	SeverityCounts []byte    `db:"severity_counts"`
	StartedAt      time.Time `db:"started_at"`
	CompletedAt    time.Time `db:"completed_at"`
}

func (s *Store) SaveAssessment(ctx context.Context, a *models.ComplianceAssessment) error {
	families, err := json.Marshal(a.FamilyAssessments)
	if err != nil {
		return fmt.Errorf("marshaling family assessments: %w", err)
	}
	counts, err := json.Marshal(a.SeverityCounts)
	if err != nil {
		return fmt.Errorf("marshaling severity counts: %w", err)
	}

	query := `
		INSERT INTO assessments (
			id, subscription_id, resource_group, overall_score, risk_level,
			risk_score, summary, error, families, severity_counts,
			started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = s.db.ExecContext(ctx, query,
		a.ID, a.SubscriptionID, a.ResourceGroup, a.OverallScore, a.RiskLevel,
		a.RiskScore, a.Summary, a.Error, families, counts,
		a.StartedAt, a.CompletedAt,
	)
	if err != nil {
		return err
	}

	for _, fa := range a.FamilyAssessments {
		for _, f := range fa.Findings {
			if err := s.SaveFinding(ctx, a.ID, &f); err != nil {
				return fmt.Errorf("saving finding %s: %w", f.ID, err)
			}
		}
	}
	return nil
}

func (s *Store) GetAssessment(ctx context.Context, id uuid.UUID) (*models.ComplianceAssessment, error) {
	var row assessmentRow
	query := `SELECT * FROM assessments WHERE id = $1`
	err := s.db.GetContext(ctx, &row, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rowToAssessment(&row)
}

// ListAssessments queries assessments for a subscription within an
// optional date range, newest first.
func (s *Store) ListAssessments(ctx context.Context, subscriptionID string, from, to *time.Time, limit int) ([]models.ComplianceAssessment, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT * FROM assessments WHERE subscription_id = $1`
	args := []interface{}{subscriptionID}
	argIdx := 2

	if from != nil {
		query += fmt.Sprintf(" AND completed_at >= $%d", argIdx)
		args = append(args, *from)
		argIdx++
	}
	if to != nil {
		query += fmt.Sprintf(" AND completed_at <= $%d", argIdx)
		args = append(args, *to)
		argIdx++
	}
	query += fmt.Sprintf(" ORDER BY completed_at DESC LIMIT $%d", argIdx)
	args = append(args, limit)

	var rows []assessmentRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	out := make([]models.ComplianceAssessment, 0, len(rows))
	for i := range rows {
		a, err := rowToAssessment(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, nil
}

// ListSubscriptionIDs returns every subscription with at least one
// stored assessment.
func (s *Store) ListSubscriptionIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids,
		`SELECT DISTINCT subscription_id FROM assessments ORDER BY subscription_id`)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// DeleteAssessmentsBefore removes assessments completed before the cutoff
// together with their findings.
func (s *Store) DeleteAssessmentsBefore(ctx context.Context, cutoff time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM findings WHERE assessment_id IN (SELECT id FROM assessments WHERE completed_at < $1)`,
		cutoff)
	if err != nil {
		return fmt.Errorf("deleting findings: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM assessments WHERE completed_at < $1`, cutoff)
	return err
}

func rowToAssessment(row *assessmentRow) (*models.ComplianceAssessment, error) {
	a := &models.ComplianceAssessment{
		ID:             row.ID,
		SubscriptionID: row.SubscriptionID,
		ResourceGroup:  row.ResourceGroup,
		OverallScore:   row.OverallScore,
		RiskLevel:      models.RiskLevel(row.RiskLevel),
		RiskScore:      row.RiskScore,
		Summary:        row.Summary,
		Error:          row.Error,
		StartedAt:      row.StartedAt,
		CompletedAt:    row.CompletedAt,
	}
	if len(row.Families) > 0 {
		if err := json.Unmarshal(row.Families, &a.FamilyAssessments); err != nil {
			return nil, fmt.Errorf("unmarshaling family assessments: %w", err)
		}
	}
	if len(row.SeverityCounts) > 0 {
		if err := json.Unmarshal(row.SeverityCounts, &a.SeverityCounts); err != nil {
			return nil, fmt.Errorf("unmarshaling severity counts: %w", err)
		}
	}
	return a, nil
}

func (s *Store) SaveFinding(ctx context.Context, assessmentID uuid.UUID, f *models.Finding) error {
	query := `
		INSERT INTO findings (
			id, assessment_id, finding_type, control_ids, severity, status,
			title, description, resource_id, resource_type, resource_name,
			resource_location, remediation_actions, auto_remediable,
			detected_at, resolved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		f.ID, assessmentID, f.FindingType, f.ControlIDs, f.Severity, f.Status,
		f.Title, f.Description, f.Resource.ID, f.Resource.Type, f.Resource.Name,
		f.Resource.Location, f.RemediationActions, f.AutoRemediable,
		f.DetectedAt, f.ResolvedAt,
	)
	return err
}

type findingRow struct {
	ID                 uuid.UUID               `db:"id"`
	AssessmentID       uuid.UUID               `db:"assessment_id"`
	FindingType        string                  `db:"finding_type"`
	ControlIDs         models.StringArray      `db:"control_ids"`
	Severity           models.Severity         `db:"severity"`
	Status             models.ComplianceStatus `db:"status"`
	Title              string                  `db:"title"`
	Description        string                  `db:"description"`
	ResourceID         string                  `db:"resource_id"`
	ResourceType       string                  `db:"resource_type"`
	ResourceName       string                  `db:"resource_name"`
	ResourceLocation   string                  `db:"resource_location"`
	RemediationActions models.StringArray      `db:"remediation_actions"`
	AutoRemediable     bool                    `db:"auto_remediable"`
	DetectedAt         time.Time               `db:"detected_at"`
	ResolvedAt         *time.Time              `db:"resolved_at"`
}

func (s *Store) ListFindings(ctx context.Context, assessmentID uuid.UUID, severity *models.Severity) ([]models.Finding, error) {
	query := `SELECT * FROM findings WHERE assessment_id = $1`
	args := []interface{}{assessmentID}
	if severity != nil {
		query += ` AND severity = $2`
		args = append(args, *severity)
	}
	query += ` ORDER BY detected_at DESC`

	var rows []findingRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	out := make([]models.Finding, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.Finding{
			ID:          r.ID,
			FindingType: r.FindingType,
			ControlIDs:  r.ControlIDs,
			Severity:    r.Severity,
			Status:      r.Status,
			Title:       r.Title,
			Description: r.Description,
			Resource: models.ResourceRef{
				ID:       r.ResourceID,
				Type:     r.ResourceType,
				Name:     r.ResourceName,
				Location: r.ResourceLocation,
			},
			RemediationActions: r.RemediationActions,
			AutoRemediable:     r.AutoRemediable,
			DetectedAt:         r.DetectedAt,
			ResolvedAt:         r.ResolvedAt,
		})
	}
	return out, nil
}

func (s *Store) SaveExecution(ctx context.Context, exec *models.RemediationExecution) error {
	var validation []byte
	if exec.Validation != nil {
		var err error
		validation, err = json.Marshal(exec.Validation)
		if err != nil {
			return fmt.Errorf("marshaling validation result: %w", err)
		}
	}

	query := `
		INSERT INTO remediation_executions (
			id, finding_id, resource_id, status, dry_run, success,
			before_snapshot, after_snapshot, backup_ref, changes_applied,
			validation, error, approved_by, approved_at, started_at,
			completed_at, duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			success = EXCLUDED.success,
			after_snapshot = EXCLUDED.after_snapshot,
			changes_applied = EXCLUDED.changes_applied,
			validation = EXCLUDED.validation,
			error = EXCLUDED.error,
			approved_by = EXCLUDED.approved_by,
			approved_at = EXCLUDED.approved_at,
			completed_at = EXCLUDED.completed_at,
			duration_ms = EXCLUDED.duration_ms
	`
	_, err := s.db.ExecContext(ctx, query,
		exec.ID, exec.FindingID, exec.ResourceID, exec.Status, exec.DryRun,
		exec.Success, exec.BeforeSnapshot, exec.AfterSnapshot, exec.BackupRef,
		exec.ChangesApplied, validation, exec.Error, exec.ApprovedBy,
		exec.ApprovedAt, exec.StartedAt, exec.CompletedAt,
		exec.Duration.Milliseconds(),
	)
	return err
}

func (s *Store) SaveEvidencePackage(ctx context.Context, pkg *models.EvidencePackage) error {
	items, err := json.Marshal(pkg.Items)
	if err != nil {
		return fmt.Errorf("marshaling evidence items: %w", err)
	}

	query := `
		INSERT INTO evidence_packages (id, family_code, items, completeness, attestation, collected_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = s.db.ExecContext(ctx, query,
		pkg.ID, pkg.FamilyCode, items, pkg.Completeness, pkg.Attestation, pkg.CollectedAt,
	)
	return err
}

func (s *Store) SaveApprovalWorkflow(ctx context.Context, wf *models.ApprovalWorkflow) error {
	query := `
		INSERT INTO approval_workflows (
			id, request_id, request_action, required_approvers, priority,
			status, justification, decided_by, decision_comment, created_at, decided_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			decided_by = EXCLUDED.decided_by,
			decision_comment = EXCLUDED.decision_comment,
			decided_at = EXCLUDED.decided_at
	`
	_, err := s.db.ExecContext(ctx, query,
		wf.ID, wf.RequestID, wf.RequestAction, wf.RequiredApprovers, wf.Priority,
		wf.Status, wf.Justification, wf.DecidedBy, wf.DecisionComment,
		wf.CreatedAt, wf.DecidedAt,
	)
	return err
}
