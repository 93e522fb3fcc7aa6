package queue

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nelssec/atoguard/internal/assessment"
	"github.com/nelssec/atoguard/internal/evidence"
)

// Worker pulls queued jobs and runs them through the assessment
// orchestrator and evidence service.
type Worker struct {
	id           string
	queue        *Queue
	orchestrator *assessment.Orchestrator
	evidence     *evidence.Service
	logger       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	running bool
	mu      sync.Mutex
}

type WorkerConfig struct {
	Queue        *Queue
	Orchestrator *assessment.Orchestrator
	Evidence     *evidence.Service
	Logger       *slog.Logger
}

func NewWorker(cfg WorkerConfig) *Worker {
	hostname, _ := os.Hostname()
	workerID := fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8])

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		id:           workerID,
		queue:        cfg.Queue,
		orchestrator: cfg.Orchestrator,
		evidence:     cfg.Evidence,
		logger:       logger.With("worker_id", workerID),
	}
}

func (w *Worker) ID() string {
	return w.id
}

func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("worker already running")
	}
	w.running = true
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	w.logger.Info("worker starting")

	w.wg.Add(1)
	go w.heartbeatLoop()

	w.wg.Add(1)
	go w.processLoop()

	w.wg.Add(1)
	go w.cleanupLoop()

	return nil
}

func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.logger.Info("worker stopping")
	w.cancel()
	w.wg.Wait()
	w.logger.Info("worker stopped")
}

func (w *Worker) heartbeatLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.queue.WorkerHeartbeat(w.ctx, w.id)
		}
	}
}

func (w *Worker) processLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
			job, err := w.queue.DequeueJob(w.ctx, w.id)
			if err != nil {
				w.logger.Error("dequeuing job failed", "error", err)
				time.Sleep(5 * time.Second)
				continue
			}

			if job == nil {
				time.Sleep(1 * time.Second)
				continue
			}

			w.logger.Info("processing job",
				"job_id", job.ID,
				"type", job.Type,
				"subscription_id", job.Scope.SubscriptionID)

			if err := w.processJob(job); err != nil {
				w.logger.Error("job failed", "job_id", job.ID, "error", err)
				w.queue.RequeueJob(w.ctx, job, err.Error())
			} else {
				w.logger.Info("job completed", "job_id", job.ID)
				w.queue.CompleteJob(w.ctx, job, true)
			}
		}
	}
}

func (w *Worker) processJob(job *Job) error {
	switch job.Type {
	case JobAssessment:
		return w.runAssessment(job)
	case JobEvidence:
		return w.runEvidenceCollection(job)
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

func (w *Worker) runAssessment(job *Job) error {
	result, err := w.orchestrator.RunAssessment(w.ctx, job.Scope, func(p assessment.Progress) {
		_ = w.queue.UpdateProgress(w.ctx, &JobProgress{
			JobID:            job.ID,
			Status:           JobStatusRunning,
			TotalFamilies:    p.TotalFamilies,
			AssessedFamilies: p.CompletedFamilies,
			CurrentFamily:    p.FamilyCode,
			WorkerID:         w.id,
		})
	})
	if err != nil {
		return fmt.Errorf("running assessment: %w", err)
	}
	if result.Error != "" {
		return fmt.Errorf("assessment finished with error: %s", result.Error)
	}
	return nil
}

func (w *Worker) runEvidenceCollection(job *Job) error {
	if len(job.FamilyCodes) == 0 {
		return fmt.Errorf("evidence job has no family codes")
	}

	for _, code := range job.FamilyCodes {
		if _, err := w.evidence.CollectEvidence(w.ctx, job.Scope, code, nil); err != nil {
			return fmt.Errorf("collecting evidence for %s: %w", code, err)
		}
	}
	return nil
}

func (w *Worker) cleanupLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			cleaned, err := w.queue.CleanupStaleJobs(w.ctx, 30*time.Minute)
			if err != nil {
				w.logger.Error("cleaning stale jobs failed", "error", err)
			} else if cleaned > 0 {
				w.logger.Info("cleaned stale jobs", "count", cleaned)
			}
		}
	}
}
