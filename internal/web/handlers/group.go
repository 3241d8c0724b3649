package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kozaktomas/face-grouper/internal/collector"
	"github.com/kozaktomas/face-grouper/internal/constants"
	"github.com/kozaktomas/face-grouper/internal/distribute"
	"github.com/kozaktomas/face-grouper/internal/grouper"
	"github.com/kozaktomas/face-grouper/internal/plan"
)

// Runner builds and distributes plans. *grouper.Grouper implements it.
type Runner interface {
	BuildPlan(ctx context.Context, root string, opts grouper.Options) (*plan.Plan, error)
	DistributeResult(ctx context.Context, p *plan.Plan, baseDir string) (*distribute.Result, error)
}

// JobDefaults fill request fields left at zero.
type JobDefaults struct {
	ScoreThreshold float64
	MinClusterSize int
	Workers        int
	Providers      []string
}

// GroupHandler handles grouping job endpoints
type GroupHandler struct {
	runner     Runner
	defaults   JobDefaults
	jobManager *JobManager
	queue      *Queue
	logger     *zap.Logger
}

// NewGroupHandler creates a group handler and starts its job queue.
func NewGroupHandler(runner Runner, defaults JobDefaults, jm *JobManager, logger *zap.Logger) *GroupHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &GroupHandler{
		runner:     runner,
		defaults:   defaults,
		jobManager: jm,
		logger:     logger,
	}
	h.queue = NewQueue(constants.JobQueueSize, h.runJob)
	return h
}

// Close stops the job queue, waiting for the running job until ctx ends.
func (h *GroupHandler) Close(ctx context.Context) error {
	for _, job := range h.jobManager.ListJobs() {
		if job.GetStatus() == JobStatusPending {
			job.Cancel()
		}
	}
	return h.queue.Close(ctx)
}

// StartRequest represents a grouping request
type StartRequest struct {
	Root           string   `json:"root"`
	BaseDir        string   `json:"base_dir"`
	Distribute     bool     `json:"distribute"`
	ScoreThreshold *float64 `json:"score_threshold"` // omitted keeps the default, 0 keeps every face
	MinClusterSize int      `json:"min_cluster_size"`
}

// Start enqueues a grouping job
func (h *GroupHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	if req.Root == "" {
		respondError(w, http.StatusBadRequest, "root is required")
		return
	}
	if s := req.ScoreThreshold; s != nil && (*s < 0 || *s > 1) {
		respondError(w, http.StatusBadRequest, "score_threshold must be within [0, 1]")
		return
	}
	if req.MinClusterSize < 0 || req.MinClusterSize == 1 {
		respondError(w, http.StatusBadRequest, "min_cluster_size must be at least 2")
		return
	}
	if err := grouper.CheckRoot(req.Root); err != nil {
		respondError(w, http.StatusBadRequest, "root not found")
		return
	}
	if req.BaseDir == "" {
		req.BaseDir = req.Root
	}
	score := h.defaults.ScoreThreshold
	if req.ScoreThreshold != nil {
		score = *req.ScoreThreshold
	}
	if req.MinClusterSize == 0 {
		req.MinClusterSize = h.defaults.MinClusterSize
	}

	jobID := uuid.New().String()
	job := h.jobManager.CreateJob(jobID, req.Root, req.BaseDir, GroupJobOptions{
		Distribute:     req.Distribute,
		ScoreThreshold: score,
		MinClusterSize: req.MinClusterSize,
	})

	if err := h.queue.Enqueue(job); err != nil {
		h.jobManager.DeleteJob(jobID)
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	h.logger.Info("job queued", zap.String("job_id", jobID), zap.String("root", sanitizeForLog(req.Root)))

	respondJSON(w, http.StatusAccepted, map[string]any{
		"job_id":   jobID,
		"root":     req.Root,
		"status":   string(JobStatusPending),
		"position": h.queue.Pending(),
	})
}

// List returns all jobs in submission order
func (h *GroupHandler) List(w http.ResponseWriter, r *http.Request) {
	jobs := h.jobManager.ListJobs()
	out := make([]GroupJobSnapshot, len(jobs))
	for i, job := range jobs {
		out[i] = job.Snapshot()
	}
	respondJSON(w, http.StatusOK, out)
}

// Status returns the status of a job
func (h *GroupHandler) Status(w http.ResponseWriter, r *http.Request) {
	job := h.lookup(w, r)
	if job == nil {
		return
	}
	respondJSON(w, http.StatusOK, job.Snapshot())
}

// Events streams job events via SSE
func (h *GroupHandler) Events(w http.ResponseWriter, r *http.Request) {
	job := h.lookup(w, r)
	if job == nil {
		return
	}
	streamJob(w, r, job, func() any { return job.Snapshot() })
}

// Cancel cancels a job
func (h *GroupHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	job := h.lookup(w, r)
	if job == nil {
		return
	}

	if isJobTerminal(job.GetStatus()) {
		respondError(w, http.StatusConflict, "job already finished")
		return
	}

	job.Cancel()
	respondJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

func (h *GroupHandler) lookup(w http.ResponseWriter, r *http.Request) *GroupJob {
	jobID := chi.URLParam(r, "jobId")
	if jobID == "" {
		respondError(w, http.StatusBadRequest, "missing job ID")
		return nil
	}

	job := h.jobManager.GetJob(jobID)
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return nil
	}
	return job
}

// runJob runs a grouping job on the queue worker
func (h *GroupHandler) runJob(job *GroupJob) {
	ctx := job.ctx
	logger := h.logger.With(zap.String("job_id", job.ID))

	now := time.Now()
	job.mu.Lock()
	if job.Status != JobStatusPending {
		job.mu.Unlock()
		return
	}
	job.Status = JobStatusRunning
	job.StartedAt = &now
	job.mu.Unlock()
	job.SendEvent(JobEvent{Type: "started", Message: "Grouping started"})

	p, err := h.runner.BuildPlan(ctx, job.Root, grouper.Options{
		ScoreThreshold: grouper.Threshold(job.Options.ScoreThreshold),
		MinClusterSize: job.Options.MinClusterSize,
		Providers:      h.defaults.Providers,
		Workers:        h.defaults.Workers,
		Progress: func(p collector.Progress) {
			job.mu.Lock()
			job.ProcessedImages = p.Current
			job.TotalImages = p.Total
			job.Progress = p.Percent
			job.mu.Unlock()
			job.SendEvent(JobEvent{
				Type: "progress",
				Data: map[string]any{
					"current": p.Current,
					"total":   p.Total,
					"percent": p.Percent,
					"path":    p.Path,
				},
			})
		},
	})
	if err != nil {
		h.finishWithError(ctx, job, logger, fmt.Errorf("building plan: %w", err))
		return
	}

	result := &GroupJobResult{
		Images:          job.Snapshot().TotalImages,
		Clusters:        len(p.ClusterIDs()),
		Entries:         len(p.Entries()),
		UnreadableCount: len(p.Unreadable()),
		Unreadable:      truncate(p.Unreadable(), constants.ReportListLimit),
		NoFacesCount:    len(p.NoFaces()),
		NoFaces:         truncate(p.NoFaces(), constants.ReportListLimit),
	}
	job.SendEvent(JobEvent{Type: "plan_built", Data: map[string]int{"clusters": result.Clusters, "entries": result.Entries}})

	if job.Options.Distribute {
		res, err := h.runner.DistributeResult(ctx, p, job.BaseDir)
		if err != nil {
			h.finishWithError(ctx, job, logger, fmt.Errorf("distributing: %w", err))
			return
		}
		result.Moved, result.Copied = res.Counts()
		for _, f := range res.Failures {
			result.Failures = append(result.Failures, f.Error())
		}
	}

	if ctx.Err() != nil {
		job.Cancel()
		logger.Info("job cancelled")
		return
	}

	completed := time.Now()
	job.mu.Lock()
	if job.Status != JobStatusRunning {
		job.mu.Unlock()
		return
	}
	job.Status = JobStatusCompleted
	job.CompletedAt = &completed
	job.Progress = 100
	job.Result = result
	job.mu.Unlock()

	logger.Info("job completed", zap.Int("moved", result.Moved), zap.Int("copied", result.Copied))
	job.SendEvent(JobEvent{Type: "completed", Data: result})
}

func (h *GroupHandler) finishWithError(ctx context.Context, job *GroupJob, logger *zap.Logger, err error) {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		job.Cancel()
		logger.Info("job cancelled")
		return
	}

	now := time.Now()
	job.mu.Lock()
	job.Status = JobStatusFailed
	job.Error = err.Error()
	job.CompletedAt = &now
	job.mu.Unlock()

	logger.Warn("job failed", zap.Error(err))
	job.SendEvent(JobEvent{Type: "job_error", Message: err.Error()})
}

func truncate(paths []string, limit int) []string {
	if len(paths) > limit {
		return paths[:limit]
	}
	return paths
}
