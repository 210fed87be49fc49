package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/pricesync/internal/logging"
)

// handleJobStatus returns a job snapshot with progress and, once finished,
// its result or coded error.
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.service.JobStatus(chi.URLParam(r, "jobID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, job)
}

// handleCancelJob cancels a queued or running job. Cancelling a finished or
// unknown job is not an error; the response says whether anything changed.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	cancelled := s.service.CancelJob(jobID)
	if cancelled {
		logging.FromContext(r.Context()).Info("job cancel requested", "job_id", jobID)
	}
	writeJSON(w, map[string]bool{"cancelled": cancelled})
}

func (s *Server) handleQueueHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.service.QueueHealth())
}
