package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nelssec/atoguard/internal/auth"
	"github.com/nelssec/atoguard/internal/batch"
	"github.com/nelssec/atoguard/internal/executor"
	"github.com/nelssec/atoguard/internal/governance"
	"github.com/nelssec/atoguard/internal/models"
	"github.com/nelssec/atoguard/internal/planner"
	"github.com/nelssec/atoguard/internal/queue"
	"github.com/nelssec/atoguard/internal/scheduler"
)

// ---- auth ----

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	tokens, err := s.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password")
		return
	}

	respondJSON(w, http.StatusOK, tokens)
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	tokens, err := s.authService.RefreshTokens(r.Context(), req.RefreshToken)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid_token", "Invalid or expired refresh token")
		return
	}

	respondJSON(w, http.StatusOK, tokens)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetUserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Not authenticated")
		return
	}

	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	if req.RefreshToken != "" {
		_ = s.authService.Logout(r.Context(), claims.UserID, req.RefreshToken)
	} else {
		_ = s.authService.LogoutAll(r.Context(), claims.UserID)
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

func (s *Server) getCurrentUser(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetUserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Not authenticated")
		return
	}
	respondJSON(w, http.StatusOK, claims)
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.userStore.ListUsers(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "list_failed", "Failed to list users")
		return
	}
	respondJSON(w, http.StatusOK, users)
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string    `json:"email"`
		Name     string    `json:"name"`
		Password string    `json:"password"`
		Role     auth.Role `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "Email and password are required")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "hash_failed", "Failed to process password")
		return
	}

	user := &auth.User{
		Email:    req.Email,
		Name:     req.Name,
		Password: hash,
		Role:     req.Role,
	}
	if user.Role == "" {
		user.Role = auth.RoleViewer
	}

	if err := s.userStore.CreateUser(r.Context(), user); err != nil {
		respondError(w, http.StatusInternalServerError, "create_failed", "Failed to create user")
		return
	}

	respondJSON(w, http.StatusCreated, user)
}

// ---- assessments ----

type scopeRequest struct {
	SubscriptionID string `json:"subscription_id"`
	ResourceGroup  string `json:"resource_group,omitempty"`
}

func (r scopeRequest) toScope() models.Scope {
	return models.Scope{
		SubscriptionID: r.SubscriptionID,
		ResourceGroup:  r.ResourceGroup,
	}
}

func (s *Server) runAssessment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		scopeRequest
		Async    bool `json:"async,omitempty"`
		Priority int  `json:"priority,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	if req.Async {
		if s.jobQueue == nil {
			respondError(w, http.StatusServiceUnavailable, "queue_unavailable", "Job queue is not configured")
			return
		}
		job := &queue.Job{
			Type:     queue.JobAssessment,
			Scope:    req.toScope(),
			Priority: req.Priority,
		}
		if err := s.jobQueue.EnqueueJob(r.Context(), job); err != nil {
			respondError(w, http.StatusInternalServerError, "enqueue_failed", err.Error())
			return
		}
		respondJSON(w, http.StatusAccepted, map[string]interface{}{
			"job_id": job.ID,
			"status": queue.JobStatusPending,
		})
		return
	}

	ctx := r.Context()
	if s.cfg.Assessment.ScanTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Assessment.ScanTimeout)
		defer cancel()
	}

	result, err := s.orchestrator.RunAssessment(ctx, req.toScope(), nil)
	if err != nil {
		respondError(w, http.StatusBadRequest, "assessment_failed", err.Error())
		return
	}

	if result.SeverityCounts[models.SeverityCritical] > 0 {
		s.notificationService.NotifyAssessment(r.Context(), result)
	}

	respondJSON(w, http.StatusOK, result)
}

func (s *Server) listAssessments(w http.ResponseWriter, r *http.Request) {
	subscriptionID := r.URL.Query().Get("subscription_id")
	if subscriptionID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "subscription_id is required")
		return
	}

	var from, to *time.Time
	if raw := r.URL.Query().Get("from"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			from = &t
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			to = &t
		}
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	assessments, err := s.store.ListAssessments(r.Context(), subscriptionID, from, to, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "list_failed", "Failed to list assessments")
		return
	}

	respondJSON(w, http.StatusOK, assessments)
}

func (s *Server) getAssessment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "assessmentID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid assessment ID")
		return
	}

	a, err := s.store.GetAssessment(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "get_failed", "Failed to get assessment")
		return
	}
	if a == nil {
		respondError(w, http.StatusNotFound, "not_found", "Assessment not found")
		return
	}

	respondJSON(w, http.StatusOK, a)
}

func (s *Server) listAssessmentFindings(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "assessmentID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid assessment ID")
		return
	}

	var severity *models.Severity
	if raw := r.URL.Query().Get("severity"); raw != "" {
		sev := models.Severity(raw)
		severity = &sev
	}

	findings, err := s.store.ListFindings(r.Context(), id, severity)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "list_failed", "Failed to list findings")
		return
	}

	respondJSON(w, http.StatusOK, findings)
}

func (s *Server) getQueuedAssessment(w http.ResponseWriter, r *http.Request) {
	if s.jobQueue == nil {
		respondError(w, http.StatusServiceUnavailable, "queue_unavailable", "Job queue is not configured")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "queueJobID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid job ID")
		return
	}

	progress, err := s.jobQueue.GetProgress(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "progress_failed", "Failed to load job progress")
		return
	}
	if progress == nil {
		respondError(w, http.StatusNotFound, "not_found", "No queued job with that ID")
		return
	}

	respondJSON(w, http.StatusOK, progress)
}

func (s *Server) queueStats(w http.ResponseWriter, r *http.Request) {
	if s.jobQueue == nil {
		respondError(w, http.StatusServiceUnavailable, "queue_unavailable", "Job queue is not configured")
		return
	}

	stats, err := s.jobQueue.GetQueueStats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "stats_failed", "Failed to load queue stats")
		return
	}

	workers, _ := s.jobQueue.GetActiveWorkers(r.Context(), time.Minute)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":    stats,
		"workers": workers,
	})
}

// ---- evidence ----

func (s *Server) collectEvidence(w http.ResponseWriter, r *http.Request) {
	var req struct {
		scopeRequest
		FamilyCode string `json:"family_code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if req.FamilyCode == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "family_code is required")
		return
	}

	pkg, err := s.evidenceSvc.CollectEvidence(r.Context(), req.toScope(), req.FamilyCode, nil)
	if err != nil {
		respondError(w, http.StatusBadRequest, "collection_failed", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, pkg)
}

// ---- remediation plans ----

func (s *Server) generatePlan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		scopeRequest
		AssessmentID    uuid.UUID `json:"assessment_id"`
		MinSeverity     string    `json:"min_severity,omitempty"`
		IncludeFamilies []string  `json:"include_families,omitempty"`
		ExcludeFamilies []string  `json:"exclude_families,omitempty"`
		AutomatableOnly bool      `json:"automatable_only,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	findings, err := s.store.ListFindings(r.Context(), req.AssessmentID, nil)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "list_failed", "Failed to load findings")
		return
	}

	opts := planner.Options{
		IncludeFamilies: req.IncludeFamilies,
		ExcludeFamilies: req.ExcludeFamilies,
		AutomatableOnly: req.AutomatableOnly,
	}
	if req.MinSeverity != "" {
		opts.MinSeverity = models.Severity(req.MinSeverity)
	}

	plan, err := planner.GeneratePlan(req.toScope(), findings, opts)
	if err != nil {
		respondError(w, http.StatusBadRequest, "plan_failed", err.Error())
		return
	}

	if s.graph != nil {
		if err := s.graph.SyncPlan(r.Context(), plan, findings); err != nil {
			s.logger.Warn("projecting plan to dependency graph failed",
				"plan_id", plan.ID, "error", err)
		}
	}

	respondJSON(w, http.StatusOK, plan)
}

func (s *Server) planBlockingChains(w http.ResponseWriter, r *http.Request) {
	if s.graph == nil {
		respondError(w, http.StatusServiceUnavailable, "graph_unavailable", "Dependency graph is not configured")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "planID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid plan ID")
		return
	}

	depth, _ := strconv.Atoi(r.URL.Query().Get("max_depth"))
	if depth <= 0 {
		depth = 5
	}

	chains, err := s.graph.BlockingChains(r.Context(), id, depth)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "query_failed", "Failed to query blocking chains")
		return
	}

	respondJSON(w, http.StatusOK, chains)
}

func (s *Server) planSharedResources(w http.ResponseWriter, r *http.Request) {
	if s.graph == nil {
		respondError(w, http.StatusServiceUnavailable, "graph_unavailable", "Dependency graph is not configured")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "planID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid plan ID")
		return
	}

	shared, err := s.graph.SharedResourceFindings(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "query_failed", "Failed to query shared resources")
		return
	}

	respondJSON(w, http.StatusOK, shared)
}

// ---- remediation execution ----

func (s *Server) executeRemediations(w http.ResponseWriter, r *http.Request) {
	var req struct {
		scopeRequest
		AssessmentID   uuid.UUID   `json:"assessment_id"`
		FindingIDs     []uuid.UUID `json:"finding_ids,omitempty"`
		DryRun         bool        `json:"dry_run"`
		MaxConcurrency int         `json:"max_concurrency,omitempty"`
		FailFast       bool        `json:"fail_fast"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	findings, err := s.store.ListFindings(r.Context(), req.AssessmentID, nil)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "list_failed", "Failed to load findings")
		return
	}

	if len(req.FindingIDs) > 0 {
		wanted := make(map[uuid.UUID]bool, len(req.FindingIDs))
		for _, id := range req.FindingIDs {
			wanted[id] = true
		}
		filtered := findings[:0]
		for _, f := range findings {
			if wanted[f.ID] {
				filtered = append(filtered, f)
			}
		}
		findings = filtered
	}

	execOpts := executor.Options{
		DryRun:                req.DryRun,
		RequireApproval:       s.cfg.Remediation.RequireApproval && !req.DryRun,
		CaptureSnapshots:      s.cfg.Remediation.CaptureSnapshots,
		AutoValidate:          s.cfg.Remediation.AutoValidate,
		AutoRollbackOnFailure: s.cfg.Remediation.AutoRollbackOnFailure,
	}

	maxConcurrency := req.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = s.cfg.Remediation.MaxConcurrency
	}

	scope := req.toScope()
	result, err := s.coordinator.ExecuteBatch(r.Context(), scope, findings, batch.Options{
		MaxConcurrency: maxConcurrency,
		FailFast:       req.FailFast,
		Execution:      execOpts,
	})
	if err != nil {
		respondError(w, http.StatusBadRequest, "batch_failed", err.Error())
		return
	}

	byID := make(map[uuid.UUID]models.Finding, len(findings))
	for _, f := range findings {
		byID[f.ID] = f
	}
	for _, exec := range result.Executions {
		if exec.Status == models.ExecutionPending {
			s.trackPending(exec, byID[exec.FindingID], scope, execOpts)
		}
		_ = s.store.SaveExecution(r.Context(), exec)
	}

	respondJSON(w, http.StatusOK, result)
}

func (s *Server) trackPending(exec *models.RemediationExecution, finding models.Finding, scope models.Scope, opts executor.Options) {
	s.pendingMu.Lock()
	s.pending[exec.ID] = &pendingExecution{
		exec:    exec,
		finding: finding,
		scope:   scope,
		opts:    opts,
	}
	s.pendingMu.Unlock()
}

func (s *Server) takePending(id uuid.UUID) (*pendingExecution, bool) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	p, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	return p, ok
}

func (s *Server) approveRemediation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "executionID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid execution ID")
		return
	}

	claims, _ := auth.GetUserFromContext(r.Context())
	approver := "unknown"
	if claims != nil {
		approver = claims.Email
	}

	p, ok := s.takePending(id)
	if !ok {
		respondError(w, http.StatusNotFound, "not_found", "No pending execution with that ID")
		return
	}

	if err := s.executor.Approve(p.exec, approver); err != nil {
		respondError(w, http.StatusConflict, "approve_failed", err.Error())
		return
	}

	// Approval alone does not run anything; continue explicitly.
	opts := p.opts
	opts.RequireApproval = false
	if err := s.executor.Resume(r.Context(), p.exec, p.finding, opts); err != nil {
		respondError(w, http.StatusConflict, "resume_failed", err.Error())
		return
	}

	_ = s.store.SaveExecution(r.Context(), p.exec)
	respondJSON(w, http.StatusOK, p.exec)
}

func (s *Server) rejectRemediation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "executionID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid execution ID")
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	claims, _ := auth.GetUserFromContext(r.Context())
	approver := "unknown"
	if claims != nil {
		approver = claims.Email
	}

	p, ok := s.takePending(id)
	if !ok {
		respondError(w, http.StatusNotFound, "not_found", "No pending execution with that ID")
		return
	}

	if err := s.executor.Reject(p.exec, approver, req.Reason); err != nil {
		respondError(w, http.StatusConflict, "reject_failed", err.Error())
		return
	}

	_ = s.store.SaveExecution(r.Context(), p.exec)
	respondJSON(w, http.StatusOK, p.exec)
}

func (s *Server) remediationHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 50
	}
	respondJSON(w, http.StatusOK, s.history.Recent(limit))
}

// ---- governance ----

func (s *Server) evaluateAction(w http.ResponseWriter, r *http.Request) {
	var req models.ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}

	result := s.govEngine.Evaluate(r.Context(), req)
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) postFlightCheck(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Request models.ActionRequest `json:"request"`
		Result  models.ActionResult  `json:"result"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	result := s.govEngine.PostFlight(r.Context(), req.Request, req.Result)
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) listWorkflows(w http.ResponseWriter, r *http.Request) {
	var status *models.ApprovalStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		st := models.ApprovalStatus(raw)
		status = &st
	}
	respondJSON(w, http.StatusOK, s.govEngine.Workflows().List(status))
}

func (s *Server) getWorkflow(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "workflowID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid workflow ID")
		return
	}

	wf, err := s.govEngine.Workflows().Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "not_found", "Workflow not found")
		return
	}
	respondJSON(w, http.StatusOK, wf)
}

func (s *Server) approveWorkflow(w http.ResponseWriter, r *http.Request) {
	s.decideWorkflow(w, r, true)
}

func (s *Server) rejectWorkflow(w http.ResponseWriter, r *http.Request) {
	s.decideWorkflow(w, r, false)
}

func (s *Server) decideWorkflow(w http.ResponseWriter, r *http.Request, approve bool) {
	id, err := uuid.Parse(chi.URLParam(r, "workflowID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid workflow ID")
		return
	}

	var req struct {
		Comment string `json:"comment"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	claims, _ := auth.GetUserFromContext(r.Context())
	approver := "unknown"
	if claims != nil {
		approver = claims.Email
	}

	var wf *models.ApprovalWorkflow
	if approve {
		wf, err = s.govEngine.Workflows().Approve(id, approver, req.Comment)
	} else {
		wf, err = s.govEngine.Workflows().Reject(id, approver, req.Comment)
	}
	if err != nil {
		switch {
		case errors.Is(err, governance.ErrWorkflowNotFound):
			respondError(w, http.StatusNotFound, "not_found", "Workflow not found")
		case errors.Is(err, governance.ErrWorkflowDecided):
			respondError(w, http.StatusConflict, "already_decided", "Workflow already decided")
		default:
			respondError(w, http.StatusInternalServerError, "decide_failed", err.Error())
		}
		return
	}

	_ = s.store.SaveApprovalWorkflow(r.Context(), wf)
	respondJSON(w, http.StatusOK, wf)
}

// ---- scheduled jobs ----

func (s *Server) listScheduledJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.schedulerStore.ListJobs(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "list_failed", "Failed to list jobs")
		return
	}
	respondJSON(w, http.StatusOK, jobs)
}

func (s *Server) createScheduledJob(w http.ResponseWriter, r *http.Request) {
	var job scheduler.Job
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	if err := s.scheduler.AddJob(r.Context(), &job); err != nil {
		respondError(w, http.StatusBadRequest, "create_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, job)
}

func (s *Server) getScheduledJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.schedulerStore.GetJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		respondError(w, http.StatusNotFound, "not_found", "Job not found")
		return
	}
	respondJSON(w, http.StatusOK, job)
}

func (s *Server) updateScheduledJob(w http.ResponseWriter, r *http.Request) {
	var job scheduler.Job
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	job.ID = chi.URLParam(r, "jobID")

	if err := s.scheduler.UpdateJob(r.Context(), &job); err != nil {
		respondError(w, http.StatusBadRequest, "update_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, job)
}

func (s *Server) deleteScheduledJob(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.DeleteJob(r.Context(), chi.URLParam(r, "jobID")); err != nil {
		respondError(w, http.StatusInternalServerError, "delete_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) runScheduledJobNow(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.RunJobNow(r.Context(), chi.URLParam(r, "jobID")); err != nil {
		respondError(w, http.StatusBadRequest, "run_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

func (s *Server) getJobExecutions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 20
	}

	execs, err := s.schedulerStore.GetJobExecutions(r.Context(), chi.URLParam(r, "jobID"), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "list_failed", "Failed to list executions")
		return
	}
	respondJSON(w, http.StatusOK, execs)
}

// ---- reports ----

func (s *Server) generateAssessmentReport(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "assessmentID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid assessment ID")
		return
	}

	pdf, err := s.reportGenerator.AssessmentReport(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "report_failed", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="assessment-report.pdf"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}
