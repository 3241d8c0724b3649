package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-grouper/internal/cluster"
	"github.com/kozaktomas/face-grouper/internal/collector"
	"github.com/kozaktomas/face-grouper/internal/distribute"
	"github.com/kozaktomas/face-grouper/internal/grouper"
	"github.com/kozaktomas/face-grouper/internal/plan"
)

// fakeRunner records the roots it is asked to group. When gate is set,
// BuildPlan waits on it (or on cancellation) before returning.
type fakeRunner struct {
	mu       sync.Mutex
	roots    []string
	scores   []float64
	gate     chan struct{}
	started  chan string
	buildErr error
}

func (f *fakeRunner) BuildPlan(ctx context.Context, root string, opts grouper.Options) (*plan.Plan, error) {
	f.mu.Lock()
	f.roots = append(f.roots, root)
	if opts.ScoreThreshold != nil {
		f.scores = append(f.scores, *opts.ScoreThreshold)
	}
	f.mu.Unlock()

	if f.started != nil {
		f.started <- root
	}
	if opts.Progress != nil {
		opts.Progress(collector.Progress{Current: 1, Total: 2, Percent: 50, Path: root + "/a.jpg"})
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	if opts.Progress != nil {
		opts.Progress(collector.Progress{Current: 2, Total: 2, Percent: 100, Path: root + "/b.jpg"})
	}

	idx := cluster.NewIndex()
	idx.Add(0, root+"/a.jpg")
	idx.Add(0, root+"/b.jpg")
	return plan.Build(root, []string{root + "/a.jpg", root + "/b.jpg"}, idx,
		map[string]int{root + "/a.jpg": 1, root + "/b.jpg": 1}, []string{root + "/broken.jpg"}, nil), nil
}

func (f *fakeRunner) DistributeResult(ctx context.Context, p *plan.Plan, baseDir string) (*distribute.Result, error) {
	if err := p.Consume(); err != nil {
		return nil, err
	}
	return &distribute.Result{Moved: len(p.Entries())}, nil
}

func (f *fakeRunner) thresholds() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]float64(nil), f.scores...)
}

func (f *fakeRunner) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.roots...)
}

func newTestGroupHandler(t *testing.T, runner Runner) *GroupHandler {
	t.Helper()
	h := NewGroupHandler(runner, JobDefaults{ScoreThreshold: 0.5, MinClusterSize: 2, Workers: 1}, NewJobManager(), nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.Close(ctx)
	})
	return h
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// jsonRequest builds a request with a JSON encoded body
func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// waitForStatus polls a job until it reaches the wanted status
func waitForStatus(t *testing.T, job *GroupJob, want JobStatus) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if job.GetStatus() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s: expected status %s, got %s", job.ID, want, job.GetStatus())
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}
