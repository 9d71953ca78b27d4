package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/importer/internal/core"
	"github.com/JonMunkholm/importer/internal/logging"
)

// keepAliveInterval spaces comment lines on idle event streams so proxies
// do not close them.
var keepAliveInterval = 15 * time.Second

// handleExecute starts an import job for a validated session.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	im, ok := s.importer(w, r)
	if !ok {
		return
	}

	var req core.ExecuteRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
		respondErrorStatus(w, r, fmt.Errorf("invalid request body: %w", err), http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		respondErrorStatus(w, r, errors.New("sessionId is required"), http.StatusBadRequest)
		return
	}

	resp, err := im.ExecuteImport(r.Context(), req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// handleJobStatus returns a snapshot of a job.
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	im, ok := s.importer(w, r)
	if !ok {
		return
	}

	job, err := im.GetJobStatus(chi.URLParam(r, "jobID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleCancelJob cancels a pending or processing job.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	im, ok := s.importer(w, r)
	if !ok {
		return
	}

	job, err := im.CancelJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleJobEvents streams job snapshots via Server-Sent Events.
//
// Each snapshot is sent as a "progress" event whose id is the progress
// percentage. The stream ends with a "complete" event carrying the terminal
// snapshot. A reconnecting client may pass Last-Event-ID (or ?lastEventId)
// to skip progress it has already seen.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	im, ok := s.importer(w, r)
	if !ok {
		return
	}

	lastEventID := -1
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		lastEventID, _ = strconv.Atoi(v)
	} else if v := r.URL.Query().Get("lastEventId"); v != "" {
		lastEventID, _ = strconv.Atoi(v)
	}

	jobID := chi.URLParam(r, "jobID")
	updates, stop, err := im.SubscribeJob(jobID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	defer stop()

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		logging.FromContext(r.Context()).Error("event stream: flushing unsupported", "error", err)
		return
	}

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	var last core.Job
	for {
		select {
		case job, ok := <-updates:
			if !ok {
				writeEvent(w, "complete", last.Progress, last)
				rc.Flush()
				return
			}
			last = job
			if job.Status.Terminal() {
				continue
			}
			if job.Progress <= lastEventID {
				continue
			}
			lastEventID = job.Progress
			writeEvent(w, "progress", job.Progress, job)
			rc.Flush()

		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			rc.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(w io.Writer, event string, id int, job core.Job) {
	data, err := json.Marshal(job)
	if err != nil {
		data = []byte("{}")
	}
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
}
