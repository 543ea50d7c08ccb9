// Package jobs tracks long-running commands (summarize, analyze, index) as
// jobs with identifiers so external orchestrators can poll status. The
// registry is in-memory only: jobs are lost on process restart and do not
// resume automatically.
package jobs

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bradylowe/paranoid-coder/internal/util"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Job is one tracked long-running operation.
type Job struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Status     Status    `json:"status"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`

	cancel context.CancelFunc
	done   chan struct{}
}

// Registry holds the process's jobs.
type Registry struct {
	jobs   *util.SafeMap[*Job]
	logger *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		jobs:   util.NewSafeMap[*Job](),
		logger: logger,
	}
}

// Start launches fn as a job and returns it immediately. fn runs on its
// own goroutine with a context derived from ctx; cancelling ctx (as a user
// interrupt does) or calling Cancel stops it, and committed progress stays
// valid.
func (r *Registry) Start(ctx context.Context, name string, fn func(ctx context.Context) error) *Job {
	jobCtx, cancel := context.WithCancel(ctx)
	job := &Job{
		ID:        uuid.NewString(),
		Name:      name,
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	r.jobs.Set(job.ID, job)

	r.logger.Info("Job started", zap.String("id", job.ID), zap.String("name", name))

	go func() {
		defer close(job.done)
		defer cancel()

		err := fn(jobCtx)
		job.FinishedAt = time.Now().UTC()
		if err != nil {
			job.Status = StatusFailed
			job.Error = err.Error()
			r.logger.Error("Job failed", zap.String("id", job.ID), zap.Error(err))
			return
		}
		job.Status = StatusCompleted
		r.logger.Info("Job completed", zap.String("id", job.ID))
	}()

	return job
}

// Get returns the job with the given id, or nil.
func (r *Registry) Get(id string) *Job {
	job, ok := r.jobs.Get(id)
	if !ok {
		return nil
	}
	return job
}

// List returns all known jobs, newest first.
func (r *Registry) List() []*Job {
	keys := r.jobs.Keys()
	out := make([]*Job, 0, len(keys))
	for _, key := range keys {
		if job, ok := r.jobs.Get(key); ok {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Cancel aborts a running job. In-flight model-host calls see their
// context cancelled; uncommitted transactions roll back.
func (r *Registry) Cancel(id string) bool {
	job := r.Get(id)
	if job == nil || job.Status != StatusRunning {
		return false
	}
	job.cancel()
	return true
}

// Wait blocks until the job finishes.
func (j *Job) Wait() {
	<-j.done
}
