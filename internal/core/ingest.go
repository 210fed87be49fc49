package core

// ingest.go is the end-to-end pipeline run by every job:
//
//	read -> checksum/duplicate check -> header detection -> inference
//	     -> parallel normalization -> chunked reconciliation
//
// Input errors end the job before any write. The upload record follows the
// job and is finalized exactly once.

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// runJob is the queue's JobRunner.
func (s *Service) runJob(ctx context.Context, job ExtractionJob) (*JobResult, error) {
	return s.ingest(ctx, job, nil)
}

// ingest runs the pipeline. data, when non-nil, is used instead of reading
// job.FileRef. The returned result is non-nil even on failure.
func (s *Service) ingest(ctx context.Context, job ExtractionJob, data []byte) (res *JobResult, err error) {
	log := slog.With("job_id", job.ID, "upload_id", job.UploadID, "supplier_id", job.SupplierID)
	res = &JobResult{UploadID: job.UploadID, SupplierID: job.SupplierID, FileName: job.FileName}

	uploadID, _ := uuid.Parse(job.UploadID)
	upload := Upload{
		ID:         uploadID,
		FileName:   job.FileName,
		SupplierID: job.SupplierID,
		Status:     UploadParsing,
	}
	// Upload bookkeeping must survive a cancelled job context.
	bookCtx := context.WithoutCancel(ctx)
	if uerr := s.catalog.UpdateUpload(bookCtx, upload); uerr != nil {
		log.Warn("upload status update failed", "status", upload.Status, "error", uerr)
	}
	defer func() {
		upload.Checksum = res.Checksum
		upload.RowCount = res.TotalRows
		upload.Errors = res.Diagnostics
		upload.Status = UploadCompleted
		if err != nil {
			upload.Status = UploadFailed
		}
		if uerr := s.catalog.UpdateUpload(bookCtx, upload); uerr != nil {
			log.Warn("upload status update failed", "status", upload.Status, "error", uerr)
		}
	}()

	s.phase(job.ID, PhaseReading)
	if data == nil {
		if data, err = s.readFile(ctx, job.FileRef); err != nil {
			return res, err
		}
	}
	if int64(len(data)) > s.opts.MaxFileSize {
		return res, newJobError(CodeFileTooLarge, "file too large: %d bytes exceeds %d", len(data), s.opts.MaxFileSize)
	}

	res.Checksum = Checksum(data)
	if !job.Force {
		prev, ferr := s.catalog.FindCompletedUpload(bookCtx, job.SupplierID, res.Checksum)
		if ferr != nil {
			return res, fmt.Errorf("duplicate check: %w", ferr)
		}
		if prev != nil && prev.ID != uploadID {
			return res, newJobError(CodeDuplicateFile, "identical file already ingested as upload %s", prev.ID)
		}
	}

	s.phase(job.ID, PhaseInferring)
	sheet, mapping, raw, err := s.prepare(job.FileName, data)
	res.Mapping = mapping
	if err != nil {
		return res, err
	}
	res.TotalRows = len(raw)
	log.Info("column mapping inferred",
		"sheet", sheet.Name,
		"header_row", mapping.HeaderRow,
		"fields", len(mapping.Fields),
		"confidence", mapping.Confidence,
		"rows", len(raw),
	)

	s.phase(job.ID, PhaseNormalizing)
	normalized, err := s.normalizer.NormalizeAll(ctx, raw, mapping, s.PolicyFor(job.SupplierID))
	if err != nil {
		if berr := boundaryError(ctx, &ReconcileResult{}); berr != nil {
			return res, berr
		}
		return res, err
	}

	var diags []Diagnostic
	rows := make([]ParsedProductRow, 0, len(normalized))
	for _, n := range normalized {
		diags = append(diags, n.Diagnostics...)
		if n.Skipped() {
			res.Skipped++
			continue
		}
		rows = append(rows, *n.Row)
	}

	chunkSize := s.opts.ChunkSize
	s.registry.UpdateProgress(job.ID, func(p *JobProgress) {
		p.Phase = PhaseWriting
		p.RowsTotal = len(rows)
		p.ChunksTotal = (len(rows) + chunkSize - 1) / chunkSize
	})

	rr, err := s.writer.Reconcile(ctx, job.SupplierID, rows, ReconcileOptions{
		JobID:           job.ID,
		ChunkSize:       chunkSize,
		ChunkRetries:    s.opts.ChunkRetries,
		RetryBackoff:    s.opts.RetryBackoff,
		DefaultCurrency: s.opts.DefaultCurrency,
		OnChunk: func(applied, committed, total int) {
			s.registry.UpdateProgress(job.ID, func(p *JobProgress) {
				p.RowsApplied = applied
				p.ChunksCommitted = committed
				p.ChunksTotal = total
			})
		},
	})
	if rr != nil {
		res.Created = rr.Created
		res.Updated = rr.Updated
		res.Unchanged = rr.Unchanged
		res.Errored = rr.Errored
		res.PriceChanges = rr.PriceChanges
		res.RowsApplied = rr.RowsApplied
		res.ChunksCommitted = rr.ChunksCommitted
		for _, o := range rr.Outcomes {
			if o.Status == RowError {
				diags = append(diags, Diagnostic{
					Line:     o.Line,
					Code:     o.Code,
					Severity: SeverityError,
					Message:  o.Message,
					Value:    o.SupplierSKU,
				})
			}
		}
	}
	s.finishDiagnostics(res, diags)
	return res, err
}

// prepare reads the sheet, finds the header, infers the mapping, and
// collects the data rows. The mapping is computed exactly once per file.
func (s *Service) prepare(fileName string, data []byte) (*Sheet, *ColumnMapping, []RawRow, error) {
	sheet, err := ReadSheet(fileName, data)
	if err != nil {
		return nil, nil, nil, err
	}

	headerRow, err := s.engine.DetectHeaderRow(sheet.Rows)
	if err != nil {
		return sheet, nil, nil, err
	}
	headers := make([]string, len(sheet.Rows[headerRow]))
	for i, h := range sheet.Rows[headerRow] {
		headers[i] = CleanCell(h)
	}

	var raw []RawRow
	for i := headerRow + 1; i < len(sheet.Rows); i++ {
		if !isEmptyRow(sheet.Rows[i]) {
			raw = append(raw, RawRow{Line: i + 1, Cells: sheet.Rows[i]})
		}
	}
	if len(raw) == 0 {
		return sheet, nil, nil, newJobError(CodeEmptyFile, "no data rows below the header")
	}

	mapping, err := s.engine.Infer(headers, Sample(sheet.Rows, headerRow, s.opts.SampleRows))
	if mapping != nil {
		mapping.HeaderRow = headerRow
		mapping.Sheet = sheet.Name
	}
	if err != nil {
		return sheet, mapping, nil, err
	}
	return sheet, mapping, raw, nil
}

func (s *Service) readFile(ctx context.Context, ref string) ([]byte, error) {
	if s.files == nil {
		return nil, errors.New("no file store configured")
	}
	rc, err := s.files.Open(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", ref, err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(rc, s.opts.MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ref, err)
	}
	if n > s.opts.MaxFileSize {
		return nil, newJobError(CodeFileTooLarge, "file too large: exceeds %d bytes", s.opts.MaxFileSize)
	}
	return buf.Bytes(), nil
}

// finishDiagnostics orders diagnostics by line, counts warnings, and keeps
// the first MaxDiagnostics.
func (s *Service) finishDiagnostics(res *JobResult, diags []Diagnostic) {
	sort.SliceStable(diags, func(i, j int) bool { return diags[i].Line < diags[j].Line })
	for _, d := range diags {
		if d.Severity == SeverityWarning {
			res.Warnings++
		}
	}
	if len(diags) > s.opts.MaxDiagnostics {
		res.Truncated = len(diags) - s.opts.MaxDiagnostics
		diags = diags[:s.opts.MaxDiagnostics]
	}
	res.Diagnostics = diags
}

func (s *Service) phase(jobID string, phase JobPhase) {
	s.registry.UpdateProgress(jobID, func(p *JobProgress) { p.Phase = phase })
}

// Checksum returns the hex xxhash64 of data.
func Checksum(data []byte) string {
	digest := xxhash.New()
	digest.Write(data)
	return hex.EncodeToString(digest.Sum(nil))
}
