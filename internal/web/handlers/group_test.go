package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func startJob(t *testing.T, h *GroupHandler, body map[string]any) *GroupJob {
	t.Helper()
	recorder := httptest.NewRecorder()
	h.Start(recorder, jsonRequest(t, http.MethodPost, "/api/v1/jobs", body))
	assertStatusCode(t, recorder, http.StatusAccepted)

	var resp map[string]any
	parseJSONResponse(t, recorder, &resp)
	id, _ := resp["job_id"].(string)
	job := h.jobManager.GetJob(id)
	if job == nil {
		t.Fatalf("job %q not registered", id)
	}
	return job
}

func makeRoots(t *testing.T, names ...string) []string {
	t.Helper()
	base := t.TempDir()
	roots := make([]string, len(names))
	for i, name := range names {
		roots[i] = filepath.Join(base, name)
		if err := os.Mkdir(roots[i], 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return roots
}

func TestGroupHandler_Start_Validation(t *testing.T) {
	h := newTestGroupHandler(t, &fakeRunner{})
	root := t.TempDir()

	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{"invalid json", "{", errInvalidRequestBody},
		{"missing root", `{}`, "root is required"},
		{"root not found", `{"root":"` + filepath.Join(root, "missing") + `"}`, "root not found"},
		{"threshold too high", `{"root":"` + root + `","score_threshold":1.5}`, "score_threshold must be within [0, 1]"},
		{"negative threshold", `{"root":"` + root + `","score_threshold":-0.1}`, "score_threshold must be within [0, 1]"},
		{"cluster size one", `{"root":"` + root + `","min_cluster_size":1}`, "min_cluster_size must be at least 2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(tt.body))
			recorder := httptest.NewRecorder()
			h.Start(recorder, req)

			assertStatusCode(t, recorder, http.StatusBadRequest)
			assertJSONError(t, recorder, tt.wantMsg)
		})
	}

	if n := len(h.jobManager.ListJobs()); n != 0 {
		t.Errorf("expected no jobs after rejected requests, got %d", n)
	}
}

func TestGroupHandler_Start_Completes(t *testing.T) {
	h := newTestGroupHandler(t, &fakeRunner{})
	root := makeRoots(t, "photos")[0]

	job := startJob(t, h, map[string]any{"root": root, "distribute": true})
	waitForStatus(t, job, JobStatusCompleted)

	snap := job.Snapshot()
	if snap.BaseDir != root {
		t.Errorf("expected base dir to default to root %q, got %q", root, snap.BaseDir)
	}
	if snap.Options.ScoreThreshold != 0.5 || snap.Options.MinClusterSize != 2 {
		t.Errorf("expected defaults to be applied, got %+v", snap.Options)
	}
	if snap.Progress != 100 {
		t.Errorf("expected progress 100, got %d", snap.Progress)
	}
	if snap.Result == nil {
		t.Fatal("expected result")
	}
	if snap.Result.Clusters != 1 || snap.Result.Entries != 2 {
		t.Errorf("expected 1 cluster and 2 entries, got %+v", snap.Result)
	}
	if snap.Result.Moved != 2 {
		t.Errorf("expected 2 moved, got %d", snap.Result.Moved)
	}
	if snap.Result.UnreadableCount != 1 || len(snap.Result.Unreadable) != 1 {
		t.Errorf("expected one unreadable path, got %+v", snap.Result)
	}
}

func TestGroupHandler_Start_ZeroThreshold(t *testing.T) {
	runner := &fakeRunner{}
	h := newTestGroupHandler(t, runner)
	roots := makeRoots(t, "explicit", "omitted")

	job := startJob(t, h, map[string]any{"root": roots[0], "score_threshold": 0})
	waitForStatus(t, job, JobStatusCompleted)
	if s := job.Snapshot().Options.ScoreThreshold; s != 0 {
		t.Errorf("expected explicit threshold 0 to be kept, got %v", s)
	}

	job = startJob(t, h, map[string]any{"root": roots[1]})
	waitForStatus(t, job, JobStatusCompleted)

	got := runner.thresholds()
	if len(got) != 2 || got[0] != 0 || got[1] != 0.5 {
		t.Errorf("expected thresholds [0 0.5], got %v", got)
	}
}

func TestGroupHandler_Start_Failure(t *testing.T) {
	h := newTestGroupHandler(t, &fakeRunner{buildErr: errors.New("analyzer down")})
	root := makeRoots(t, "photos")[0]

	job := startJob(t, h, map[string]any{"root": root})
	waitForStatus(t, job, JobStatusFailed)

	if !strings.Contains(job.Snapshot().Error, "analyzer down") {
		t.Errorf("expected error to mention cause, got %q", job.Snapshot().Error)
	}
}

func TestGroupHandler_QueueRunsInOrder(t *testing.T) {
	runner := &fakeRunner{gate: make(chan struct{}), started: make(chan string, 10)}
	h := newTestGroupHandler(t, runner)
	roots := makeRoots(t, "a", "b", "c")

	jobs := make([]*GroupJob, len(roots))
	for i, root := range roots {
		jobs[i] = startJob(t, h, map[string]any{"root": root})
	}

	<-runner.started
	if got := jobs[1].GetStatus(); got != JobStatusPending {
		t.Errorf("expected second job to wait, got %s", got)
	}
	close(runner.gate)

	for _, job := range jobs {
		waitForStatus(t, job, JobStatusCompleted)
	}

	calls := runner.calls()
	if len(calls) != len(roots) {
		t.Fatalf("expected %d runs, got %d", len(roots), len(calls))
	}
	for i := range roots {
		if calls[i] != roots[i] {
			t.Errorf("run %d: expected %s, got %s", i, roots[i], calls[i])
		}
	}
}

func TestGroupHandler_CancelPending(t *testing.T) {
	runner := &fakeRunner{gate: make(chan struct{}), started: make(chan string, 10)}
	h := newTestGroupHandler(t, runner)
	roots := makeRoots(t, "a", "b")

	first := startJob(t, h, map[string]any{"root": roots[0]})
	second := startJob(t, h, map[string]any{"root": roots[1]})
	<-runner.started

	recorder := httptest.NewRecorder()
	req := requestWithChiParams(httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/"+second.ID, nil),
		map[string]string{"jobId": second.ID})
	h.Cancel(recorder, req)
	assertStatusCode(t, recorder, http.StatusOK)

	close(runner.gate)
	waitForStatus(t, first, JobStatusCompleted)

	if got := second.GetStatus(); got != JobStatusCancelled {
		t.Errorf("expected cancelled, got %s", got)
	}

	// Let the queue drain so the cancelled job is observed and skipped.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if calls := runner.calls(); len(calls) != 1 {
		t.Errorf("expected the cancelled job to never run, got runs %v", calls)
	}
}

func TestGroupHandler_CancelRunning(t *testing.T) {
	runner := &fakeRunner{gate: make(chan struct{}), started: make(chan string, 10)}
	h := newTestGroupHandler(t, runner)
	root := makeRoots(t, "a")[0]

	job := startJob(t, h, map[string]any{"root": root})
	<-runner.started
	job.Cancel()

	waitForStatus(t, job, JobStatusCancelled)
	if job.Snapshot().Result != nil {
		t.Error("expected no result for a cancelled job")
	}
}

func TestGroupHandler_Status(t *testing.T) {
	h := newTestGroupHandler(t, &fakeRunner{})
	root := makeRoots(t, "a")[0]
	job := startJob(t, h, map[string]any{"root": root})
	waitForStatus(t, job, JobStatusCompleted)

	t.Run("found", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		req := requestWithChiParams(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID, nil),
			map[string]string{"jobId": job.ID})
		h.Status(recorder, req)

		assertStatusCode(t, recorder, http.StatusOK)
		assertContentType(t, recorder, "application/json")
		var snap GroupJobSnapshot
		parseJSONResponse(t, recorder, &snap)
		if snap.ID != job.ID || snap.Status != JobStatusCompleted {
			t.Errorf("unexpected snapshot %+v", snap)
		}
	})

	t.Run("not found", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		req := requestWithChiParams(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/nope", nil),
			map[string]string{"jobId": "nope"})
		h.Status(recorder, req)

		assertStatusCode(t, recorder, http.StatusNotFound)
		assertJSONError(t, recorder, "job not found")
	})
}

func TestGroupHandler_List(t *testing.T) {
	h := newTestGroupHandler(t, &fakeRunner{})
	roots := makeRoots(t, "a", "b")
	first := startJob(t, h, map[string]any{"root": roots[0]})
	second := startJob(t, h, map[string]any{"root": roots[1]})
	waitForStatus(t, second, JobStatusCompleted)

	recorder := httptest.NewRecorder()
	h.List(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil))
	assertStatusCode(t, recorder, http.StatusOK)

	var jobs []GroupJobSnapshot
	parseJSONResponse(t, recorder, &jobs)
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].ID != first.ID || jobs[1].ID != second.ID {
		t.Errorf("expected submission order, got %s, %s", jobs[0].ID, jobs[1].ID)
	}
}

func TestGroupHandler_Events_TerminalJob(t *testing.T) {
	h := newTestGroupHandler(t, &fakeRunner{})
	root := makeRoots(t, "a")[0]
	job := startJob(t, h, map[string]any{"root": root})
	waitForStatus(t, job, JobStatusCompleted)

	recorder := httptest.NewRecorder()
	req := requestWithChiParams(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID+"/events", nil),
		map[string]string{"jobId": job.ID})
	h.Events(recorder, req)

	assertContentType(t, recorder, "text/event-stream")
	body := recorder.Body.String()
	if !strings.HasPrefix(body, "id: 1\nevent: status\n") {
		t.Errorf("expected initial status event, got %q", body)
	}
	if !strings.Contains(body, `"status":"completed"`) {
		t.Errorf("expected completed status in stream, got %q", body)
	}
}

func TestQueue_Full(t *testing.T) {
	block := make(chan struct{})
	q := NewQueue(1, func(*GroupJob) { <-block })
	jm := NewJobManager()

	running := jm.CreateJob("1", "/a", "/a", GroupJobOptions{})
	if err := q.Enqueue(running); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	// Wait for the worker to pick up the first job so the buffer is free.
	deadline := time.Now().Add(5 * time.Second)
	for q.Pending() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if err := q.Enqueue(jm.CreateJob("2", "/b", "/b", GroupJobOptions{})); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(jm.CreateJob("3", "/c", "/c", GroupJobOptions{})); !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}

	close(block)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := q.Enqueue(jm.CreateJob("4", "/d", "/d", GroupJobOptions{})); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("expected ErrQueueClosed, got %v", err)
	}
}

func TestGroupHandler_Start_RejectsUnknownFields(t *testing.T) {
	h := newTestGroupHandler(t, &fakeRunner{})
	root := t.TempDir()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(`{"root":"`+root+`","rooot":"x"}`))
	recorder := httptest.NewRecorder()
	h.Start(recorder, req)

	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, errInvalidRequestBody)
}

func TestSanitizeForLog(t *testing.T) {
	if got := sanitizeForLog("a\nb\rc"); got != `a\nb\rc` {
		t.Errorf("expected escaped line breaks, got %q", got)
	}
}

func TestGroupHandler_Events_StreamsUntilCompleted(t *testing.T) {
	runner := &fakeRunner{gate: make(chan struct{}), started: make(chan string, 10)}
	h := newTestGroupHandler(t, runner)
	root := makeRoots(t, "a")[0]

	job := startJob(t, h, map[string]any{"root": root})
	<-runner.started

	recorder := httptest.NewRecorder()
	req := requestWithChiParams(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID+"/events", nil),
		map[string]string{"jobId": job.ID})
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Events(recorder, req)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		job.mu.RLock()
		n := len(job.listeners)
		job.mu.RUnlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("listener was never registered")
		}
		time.Sleep(time.Millisecond)
	}
	close(runner.gate)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not end after the job completed")
	}

	body := recorder.Body.String()
	for _, want := range []string{"event: status\n", "event: plan_built\n", "event: completed\n"} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in stream, got %q", want, body)
		}
	}
}

func TestGroupHandler_Cancel_FinishedJob(t *testing.T) {
	h := newTestGroupHandler(t, &fakeRunner{})
	root := makeRoots(t, "a")[0]
	job := startJob(t, h, map[string]any{"root": root})
	waitForStatus(t, job, JobStatusCompleted)

	recorder := httptest.NewRecorder()
	req := requestWithChiParams(httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/"+job.ID, nil),
		map[string]string{"jobId": job.ID})
	h.Cancel(recorder, req)

	assertStatusCode(t, recorder, http.StatusConflict)
	if got := job.GetStatus(); got != JobStatusCompleted {
		t.Errorf("expected status to stay completed, got %s", got)
	}
}
