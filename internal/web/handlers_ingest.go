package web

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/pricesync/internal/core"
	"github.com/JonMunkholm/pricesync/internal/logging"
)

// submitResponse acknowledges a queued ingestion.
type submitResponse struct {
	JobID    string         `json:"jobId"`
	UploadID string         `json:"uploadId"`
	Status   core.JobStatus `json:"status"`
}

// importRequest queues a file already in storage.
type importRequest struct {
	FileRef  string `json:"fileRef"`
	FileName string `json:"fileName,omitempty"`
	Priority int    `json:"priority,omitempty"`
	Force    bool   `json:"force,omitempty"`
}

// syncResponse reports a synchronous ingestion. Error is set when the job
// did not complete; Result still carries the partial counts.
type syncResponse struct {
	Status core.JobStatus   `json:"status"`
	Error  *core.JobFailure `json:"error,omitempty"`
	Result *core.JobResult  `json:"result"`
}

// handleSubmitPricelist queues a multipart upload.
// Form fields: file (required), priority, force.
func (s *Server) handleSubmitPricelist(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	job, err := s.service.SubmitIngestion(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	logging.ForJob(r.Context(), job.ID, job.UploadID, job.SupplierID).Info("pricelist queued",
		"file", req.FileName,
		"bytes", len(req.Data),
		"priority", req.Priority,
	)
	writeJSONStatus(w, http.StatusAccepted, submitResponse{JobID: job.ID, UploadID: job.UploadID, Status: job.Status})
}

// handleImportPricelist queues a file by reference, e.g. s3://bucket/key.
func (s *Server) handleImportPricelist(w http.ResponseWriter, r *http.Request) {
	var body importRequest
	if err := decodeJSON(w, r, &body); err != nil {
		s.badRequest(w, r, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(body.FileRef) == "" {
		s.respondError(w, r, &core.RequestError{Msg: "no file provided"}, http.StatusBadRequest)
		return
	}

	job, err := s.service.SubmitIngestion(r.Context(), core.IngestRequest{
		SupplierID: chi.URLParam(r, "supplierID"),
		FileRef:    body.FileRef,
		FileName:   body.FileName,
		Priority:   body.Priority,
		Force:      body.Force,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	logging.ForJob(r.Context(), job.ID, job.UploadID, job.SupplierID).Info("pricelist import queued", "file_ref", body.FileRef)
	writeJSONStatus(w, http.StatusAccepted, submitResponse{JobID: job.ID, UploadID: job.UploadID, Status: job.Status})
}

// handleIngestSync runs the whole pipeline inside the request.
func (s *Server) handleIngestSync(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	res, err := s.service.IngestSync(r.Context(), req)
	if res == nil {
		if err == nil {
			err = errors.New("ingestion returned no result")
		}
		s.fail(w, r, err)
		return
	}

	if err == nil {
		writeJSON(w, syncResponse{Status: core.JobCompleted, Result: res})
		return
	}

	status, failure := failureOf(err)
	code := statusFor(err)
	logging.FromContext(r.Context()).Warn("sync ingestion did not complete",
		"supplier_id", req.SupplierID,
		"upload_id", res.UploadID,
		"code", failure.Code,
		"rows_applied", res.RowsApplied,
		"error", err,
	)
	writeJSONStatus(w, code, syncResponse{Status: status, Error: &failure, Result: res})
}

// handleInferPricelist returns the column mapping a file would get without
// ingesting it.
func (s *Server) handleInferPricelist(w http.ResponseWriter, r *http.Request) {
	name, data, ok := s.readFile(w, r)
	if !ok {
		return
	}

	mapping, err := s.service.InferFile(name, data)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, mapping)
}

// readUpload parses the multipart form of an upload route.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (core.IngestRequest, bool) {
	name, data, ok := s.readFile(w, r)
	if !ok {
		return core.IngestRequest{}, false
	}

	priority := 0
	if v := r.FormValue("priority"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			s.badRequest(w, r, "priority must be an integer")
			return core.IngestRequest{}, false
		}
		priority = p
	}

	return core.IngestRequest{
		SupplierID: chi.URLParam(r, "supplierID"),
		FileName:   name,
		Data:       data,
		Priority:   priority,
		Force:      parseBool(r.FormValue("force")),
	}, true
}

// readFile reads the "file" form field, enforcing the ingest size limit.
func (s *Server) readFile(w http.ResponseWriter, r *http.Request) (string, []byte, bool) {
	maxSize := s.service.Options().MaxFileSize
	// Leave room for the multipart envelope; the file itself is checked below.
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartMemory)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.fail(w, r, fileTooLarge(maxSize))
			return "", nil, false
		}
		s.badRequest(w, r, "invalid multipart form")
		return "", nil, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, &core.RequestError{Msg: "no file provided"}, http.StatusBadRequest)
		return "", nil, false
	}
	defer file.Close()

	if header.Size > maxSize {
		s.fail(w, r, fileTooLarge(maxSize))
		return "", nil, false
	}
	data, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, r, fmt.Errorf("read upload: %w", err), http.StatusInternalServerError)
		return "", nil, false
	}
	return header.Filename, data, true
}

func fileTooLarge(limit int64) error {
	return &core.JobError{Code: core.CodeFileTooLarge, Message: fmt.Sprintf("file too large: exceeds %d bytes", limit)}
}

// failureOf classifies a pipeline error the way the job registry does.
func failureOf(err error) (core.JobStatus, core.JobFailure) {
	code := core.CodeOf(err)
	switch code {
	case core.CodeCancelled:
		return core.JobCancelled, core.JobFailure{Code: code, Message: err.Error()}
	case "":
		code = core.CodeInternal
	}
	return core.JobFailed, core.JobFailure{Code: code, Message: err.Error()}
}
