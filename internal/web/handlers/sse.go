package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// sseHeartbeat is the interval of keep-alive comments on an idle stream.
const sseHeartbeat = 15 * time.Second

// isJobTerminal returns true if the job status is a terminal state
func isJobTerminal(status JobStatus) bool {
	return status == JobStatusCompleted || status == JobStatusFailed || status == JobStatusCancelled
}

// isTerminalEvent reports whether an event is the last one a job emits.
func isTerminalEvent(eventType string) bool {
	return eventType == "completed" || eventType == "job_error" || eventType == "cancelled"
}

// sseStream writes server-sent events with increasing ids.
type sseStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	nextID  int
}

func newSSEStream(w http.ResponseWriter) (*sseStream, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	return &sseStream{w: w, flusher: flusher}, true
}

func (s *sseStream) send(eventType string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", eventType, err)
	}
	s.nextID++
	if _, err := fmt.Fprintf(s.w, "id: %d\nevent: %s\ndata: %s\n\n", s.nextID, eventType, payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseStream) heartbeat() error {
	if _, err := fmt.Fprint(s.w, ": ping\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// streamJob sends a "status" event built from initial, then relays job events
// until the job emits its final event or the client goes away.
func streamJob(w http.ResponseWriter, r *http.Request, job SSEJob, initial func() any) {
	eventCh := job.AddListener()
	defer job.RemoveListener(eventCh)

	stream, ok := newSSEStream(w)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	if err := stream.send("status", initial()); err != nil || isJobTerminal(job.GetStatus()) {
		return
	}

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := stream.heartbeat(); err != nil {
				return
			}
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			if err := stream.send(event.Type, event); err != nil || isTerminalEvent(event.Type) {
				return
			}
		}
	}
}
