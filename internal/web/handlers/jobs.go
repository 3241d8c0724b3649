package handlers

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/kozaktomas/face-grouper/internal/constants"
)

// JobStatus represents the status of an async job.
type JobStatus string

// JobStatus constants define the lifecycle states of an async job.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// ErrQueueFull is returned when no more jobs can wait in the queue.
var ErrQueueFull = errors.New("job queue is full")

// ErrQueueClosed is returned when enqueueing after shutdown.
var ErrQueueClosed = errors.New("job queue is closed")

// GroupJobOptions are the per-job grouping parameters.
type GroupJobOptions struct {
	Distribute     bool    `json:"distribute"`
	ScoreThreshold float64 `json:"score_threshold"`
	MinClusterSize int     `json:"min_cluster_size"`
}

// GroupJobResult is reported when a job completes. Path lists are truncated.
type GroupJobResult struct {
	Images          int      `json:"images"`
	Clusters        int      `json:"clusters"`
	Entries         int      `json:"entries"`
	Moved           int      `json:"moved"`
	Copied          int      `json:"copied"`
	Failures        []string `json:"failures,omitempty"`
	UnreadableCount int      `json:"unreadable_count"`
	Unreadable      []string `json:"unreadable,omitempty"`
	NoFacesCount    int      `json:"no_faces_count"`
	NoFaces         []string `json:"no_faces,omitempty"`
}

// GroupJob is one root waiting in or processed by the queue.
type GroupJob struct {
	EventBroadcaster

	ID              string          `json:"id"`
	Root            string          `json:"root"`
	BaseDir         string          `json:"base_dir"`
	Options         GroupJobOptions `json:"options"`
	Status          JobStatus       `json:"status"`
	Progress        int             `json:"progress"`
	TotalImages     int             `json:"total_images"`
	ProcessedImages int             `json:"processed_images"`
	Error           string          `json:"error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	Result          *GroupJobResult `json:"result,omitempty"`

	ctx context.Context
}

// GetStatus returns the current job status (implements SSEJob).
func (j *GroupJob) GetStatus() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// Snapshot returns a copy of the job's public fields that is safe to encode.
func (j *GroupJob) Snapshot() GroupJobSnapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return GroupJobSnapshot{
		ID:              j.ID,
		Root:            j.Root,
		BaseDir:         j.BaseDir,
		Options:         j.Options,
		Status:          j.Status,
		Progress:        j.Progress,
		TotalImages:     j.TotalImages,
		ProcessedImages: j.ProcessedImages,
		Error:           j.Error,
		CreatedAt:       j.CreatedAt,
		StartedAt:       j.StartedAt,
		CompletedAt:     j.CompletedAt,
		Result:          j.Result,
	}
}

// GroupJobSnapshot is the JSON view of a GroupJob.
type GroupJobSnapshot struct {
	ID              string          `json:"id"`
	Root            string          `json:"root"`
	BaseDir         string          `json:"base_dir"`
	Options         GroupJobOptions `json:"options"`
	Status          JobStatus       `json:"status"`
	Progress        int             `json:"progress"`
	TotalImages     int             `json:"total_images"`
	ProcessedImages int             `json:"processed_images"`
	Error           string          `json:"error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	Result          *GroupJobResult `json:"result,omitempty"`
}

// Cancel cancels the job. A pending job is skipped when its turn comes.
func (j *GroupJob) Cancel() {
	j.mu.Lock()
	terminal := isJobTerminal(j.Status)
	if !terminal {
		j.Status = JobStatusCancelled
		now := time.Now()
		j.CompletedAt = &now
	}
	j.mu.Unlock()

	if !terminal {
		j.EventBroadcaster.Cancel()
	}
}

// JobEvent represents an event from a job.
type JobEvent struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// EventBroadcaster provides listener management and event broadcasting for async jobs.
// Embed this in job structs to get AddListener, RemoveListener, and SendEvent methods.
type EventBroadcaster struct {
	cancel    context.CancelFunc
	listeners []chan JobEvent
	mu        sync.RWMutex
}

// AddListener adds an event listener.
func (b *EventBroadcaster) AddListener() chan JobEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan JobEvent, constants.EventChannelBuffer)
	b.listeners = append(b.listeners, ch)
	return ch
}

// RemoveListener removes an event listener.
func (b *EventBroadcaster) RemoveListener(ch chan JobEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// SendEvent sends an event to all listeners.
func (b *EventBroadcaster) SendEvent(event JobEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- event:
		default:
			// Listener buffer full, skip.
		}
	}
}

// Cancel cancels the job via context and sends a cancelled event.
func (b *EventBroadcaster) Cancel() {
	if b.cancel != nil {
		b.cancel()
	}
	b.SendEvent(JobEvent{Type: "cancelled", Message: "Job cancelled by user"})
}

// SSEJob is what streamJob needs from a job.
type SSEJob interface {
	AddListener() chan JobEvent
	RemoveListener(ch chan JobEvent)
	GetStatus() JobStatus
}

// JobManager keeps every job submitted since startup.
type JobManager struct {
	jobs map[string]*GroupJob
	mu   sync.RWMutex
}

// NewJobManager creates a new job manager.
func NewJobManager() *JobManager {
	return &JobManager{
		jobs: make(map[string]*GroupJob),
	}
}

// CreateJob registers a new pending job.
func (m *JobManager) CreateJob(id, root, baseDir string, options GroupJobOptions) *GroupJob {
	ctx, cancel := context.WithCancel(context.Background())
	job := &GroupJob{
		ID:        id,
		Root:      root,
		BaseDir:   baseDir,
		Options:   options,
		Status:    JobStatusPending,
		CreatedAt: time.Now(),
		ctx:       ctx,
	}
	job.cancel = cancel

	m.mu.Lock()
	m.jobs[id] = job
	m.mu.Unlock()

	return job
}

// GetJob retrieves a job by ID.
func (m *JobManager) GetJob(id string) *GroupJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[id]
}

// DeleteJob removes a job.
func (m *JobManager) DeleteJob(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
}

// ListJobs returns all jobs in submission order.
func (m *JobManager) ListJobs() []*GroupJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	jobs := make([]*GroupJob, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	slices.SortFunc(jobs, func(a, b *GroupJob) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return jobs
}

// Queue runs jobs one at a time in submission order.
type Queue struct {
	jobs   chan *GroupJob
	run    func(*GroupJob)
	done   chan struct{}
	mu     sync.Mutex
	closed bool
}

// NewQueue starts the worker that hands each job to run.
func NewQueue(size int, run func(*GroupJob)) *Queue {
	if size <= 0 {
		size = constants.JobQueueSize
	}
	q := &Queue{
		jobs: make(chan *GroupJob, size),
		run:  run,
		done: make(chan struct{}),
	}
	go q.loop()
	return q
}

func (q *Queue) loop() {
	defer close(q.done)
	for job := range q.jobs {
		if job.GetStatus() == JobStatusCancelled {
			continue
		}
		q.run(job)
	}
}

// Enqueue adds a job without blocking.
func (q *Queue) Enqueue(job *GroupJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending returns the number of jobs waiting to start.
func (q *Queue) Pending() int {
	return len(q.jobs)
}

// Close stops accepting jobs and waits for queued ones to finish or ctx to end.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
