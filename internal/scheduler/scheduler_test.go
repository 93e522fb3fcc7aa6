package scheduler

import (
	"context"
	"strings"
	"testing"
	"time"
)

type fakeJobStore struct {
	jobs       map[string]*Job
	executions map[string]*JobExecution
	lastRuns   map[string]time.Time
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{
		jobs:       make(map[string]*Job),
		executions: make(map[string]*JobExecution),
		lastRuns:   make(map[string]time.Time),
	}
}

func (s *fakeJobStore) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.jobs[id], nil
}

func (s *fakeJobStore) ListJobs(ctx context.Context) ([]*Job, error) {
	var out []*Job
	for _, job := range s.jobs {
		out = append(out, job)
	}
	return out, nil
}

func (s *fakeJobStore) CreateJob(ctx context.Context, job *Job) error {
	s.jobs[job.ID] = job
	return nil
}

func (s *fakeJobStore) UpdateJob(ctx context.Context, job *Job) error {
	s.jobs[job.ID] = job
	return nil
}

func (s *fakeJobStore) DeleteJob(ctx context.Context, id string) error {
	delete(s.jobs, id)
	return nil
}

func (s *fakeJobStore) UpdateLastRun(ctx context.Context, id string, lastRun time.Time) error {
	s.lastRuns[id] = lastRun
	return nil
}

func (s *fakeJobStore) CreateExecution(ctx context.Context, exec *JobExecution) error {
	s.executions[exec.ID] = exec
	return nil
}

func (s *fakeJobStore) UpdateExecution(ctx context.Context, exec *JobExecution) error {
	s.executions[exec.ID] = exec
	return nil
}

func (s *fakeJobStore) GetJobExecutions(ctx context.Context, jobID string, limit int) ([]*JobExecution, error) {
	var out []*JobExecution
	for _, exec := range s.executions {
		if exec.JobID == jobID {
			out = append(out, exec)
		}
	}
	return out, nil
}

func (s *fakeJobStore) lastExecution(t *testing.T, jobID string) *JobExecution {
	t.Helper()
	execs, _ := s.GetJobExecutions(context.Background(), jobID, 1)
	if len(execs) == 0 {
		t.Fatal("expected an execution record")
	}
	return execs[len(execs)-1]
}

func TestExecuteJobWithoutHandlerFails(t *testing.T) {
	store := newFakeJobStore()
	s := NewScheduler(store, nil)

	job := &Job{ID: "job-1", Name: "nightly", JobType: JobTypeAssessScope}
	s.executeJob(job)

	exec := store.lastExecution(t, "job-1")
	if exec.Status != StatusFailed {
		t.Errorf("expected status %s, got %s", StatusFailed, exec.Status)
	}
	if !strings.Contains(exec.Error, "no handler registered") {
		t.Errorf("expected a missing-handler error, got %q", exec.Error)
	}
}

func TestDefaultHandlersAssessScope(t *testing.T) {
	store := newFakeJobStore()
	s := NewScheduler(store, nil)

	var gotSubscription, gotGroup string
	(&DefaultHandlers{
		AssessFunc: func(ctx context.Context, subscriptionID, resourceGroup string) error {
			gotSubscription = subscriptionID
			gotGroup = resourceGroup
			return nil
		},
	}).Register(s)

	job := &Job{
		ID:      "job-1",
		Name:    "nightly assessment",
		JobType: JobTypeAssessScope,
		Config: map[string]string{
			"subscription_id": "sub-1",
			"resource_group":  "prod",
		},
	}
	s.executeJob(job)

	if gotSubscription != "sub-1" || gotGroup != "prod" {
		t.Errorf("expected scope sub-1/prod, got %s/%s", gotSubscription, gotGroup)
	}
	exec := store.lastExecution(t, "job-1")
	if exec.Status != StatusCompleted {
		t.Errorf("expected status %s, got %s: %s", StatusCompleted, exec.Status, exec.Error)
	}
	if _, ok := store.lastRuns["job-1"]; !ok {
		t.Errorf("expected last run to be recorded")
	}
}

func TestDefaultHandlersAssessScopeRequiresSubscription(t *testing.T) {
	store := newFakeJobStore()
	s := NewScheduler(store, nil)

	called := false
	(&DefaultHandlers{
		AssessFunc: func(ctx context.Context, subscriptionID, resourceGroup string) error {
			called = true
			return nil
		},
	}).Register(s)

	s.executeJob(&Job{ID: "job-1", JobType: JobTypeAssessScope, Config: map[string]string{}})

	if called {
		t.Errorf("handler must not run without a subscription id")
	}
	exec := store.lastExecution(t, "job-1")
	if exec.Status != StatusFailed {
		t.Errorf("expected status %s, got %s", StatusFailed, exec.Status)
	}
}

func TestDefaultHandlersEvidenceFamilies(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{name: "comma separated list", raw: "AC,SC", want: []string{"AC", "SC"}},
		{name: "empty means all families", raw: "", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeJobStore()
			s := NewScheduler(store, nil)

			var got []string
			(&DefaultHandlers{
				EvidenceFunc: func(ctx context.Context, subscriptionID string, familyCodes []string) error {
					got = familyCodes
					return nil
				},
			}).Register(s)

			s.executeJob(&Job{
				ID:      "job-1",
				JobType: JobTypeCollectEvidence,
				Config: map[string]string{
					"subscription_id": "sub-1",
					"families":        tt.raw,
				},
			})

			if len(got) != len(tt.want) {
				t.Fatalf("expected %d families, got %d", len(tt.want), len(got))
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("family %d: expected %s, got %s", i, tt.want[i], got[i])
				}
			}
		})
	}
}

func TestDefaultHandlersCleanupRetention(t *testing.T) {
	tests := []struct {
		name   string
		config map[string]string
		want   time.Duration
	}{
		{name: "configured retention", config: map[string]string{"retention_days": "7"}, want: 7 * 24 * time.Hour},
		{name: "default retention", config: map[string]string{}, want: 30 * 24 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeJobStore()
			s := NewScheduler(store, nil)

			var got time.Duration
			(&DefaultHandlers{
				CleanupFunc: func(ctx context.Context, olderThan time.Duration) error {
					got = olderThan
					return nil
				},
			}).Register(s)

			s.executeJob(&Job{ID: "job-1", JobType: JobTypeCleanupOld, Config: tt.config})

			if got != tt.want {
				t.Errorf("expected retention %v, got %v", tt.want, got)
			}
		})
	}
}
