package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kozaktomas/face-grouper/internal/config"
	"github.com/kozaktomas/face-grouper/internal/distribute"
	"github.com/kozaktomas/face-grouper/internal/grouper"
	"github.com/kozaktomas/face-grouper/internal/plan"
)

type emptyRunner struct{}

func (emptyRunner) BuildPlan(ctx context.Context, root string, opts grouper.Options) (*plan.Plan, error) {
	return plan.Build(root, nil, nil, nil, nil, nil), nil
}

func (emptyRunner) DistributeResult(ctx context.Context, p *plan.Plan, baseDir string) (*distribute.Result, error) {
	return &distribute.Result{}, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{}
	cfg.Web.Host = "127.0.0.1"
	cfg.Web.Port = 0
	cfg.Collect.MinScore = 0.5
	cfg.Clustering.MinClusterSize = 2

	s := NewServer(cfg, emptyRunner{}, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

func TestServer_Health(t *testing.T) {
	s := newTestServer(t)

	recorder := httptest.NewRecorder()
	s.Router().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", recorder.Code)
	}
	if got := recorder.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("expected JSON content type, got %q", got)
	}
}

func TestServer_JobLifecycle(t *testing.T) {
	s := newTestServer(t)
	root := t.TempDir()

	body := `{"root":"` + root + `"}`
	recorder := httptest.NewRecorder()
	s.Router().ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(body)))
	if recorder.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", recorder.Code, recorder.Body.String())
	}

	var started struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &started); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	var status struct {
		Status string `json:"status"`
		Result *struct {
			Clusters int `json:"clusters"`
		} `json:"result"`
	}
	for time.Now().Before(deadline) {
		recorder = httptest.NewRecorder()
		s.Router().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+started.JobID, nil))
		if recorder.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", recorder.Code)
		}
		if err := json.Unmarshal(recorder.Body.Bytes(), &status); err != nil {
			t.Fatalf("failed to parse status: %v", err)
		}
		if status.Status == "completed" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if status.Status != "completed" {
		t.Fatalf("expected job to complete, got %q", status.Status)
	}
	if status.Result == nil || status.Result.Clusters != 0 {
		t.Errorf("expected an empty result, got %+v", status.Result)
	}
}

func TestServer_UnknownJob(t *testing.T) {
	s := newTestServer(t)

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		recorder := httptest.NewRecorder()
		s.Router().ServeHTTP(recorder, httptest.NewRequest(method, "/api/v1/jobs/missing", nil))
		if recorder.Code != http.StatusNotFound {
			t.Errorf("%s: expected status 404, got %d", method, recorder.Code)
		}
	}
}

func TestServer_CORS(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	recorder := httptest.NewRecorder()
	s.Router().ServeHTTP(recorder, req)

	if got := recorder.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("expected localhost origin to be allowed, got %q", got)
	}
}
