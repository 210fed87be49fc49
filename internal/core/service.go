package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxFileSize is the largest file accepted for ingestion (50MB).
const DefaultMaxFileSize int64 = 50 * 1024 * 1024

// DefaultMaxDiagnostics bounds the diagnostics kept on a job result.
const DefaultMaxDiagnostics = 200

// Options configures a Service. Zero values select defaults.
type Options struct {
	MaxFileSize      int64
	MaxConcurrent    int
	MaxWaitTime      time.Duration
	JobTimeout       time.Duration
	JobRetention     time.Duration
	SweepInterval    time.Duration
	ChunkSize        int
	ChunkRetries     int // negative disables retries
	RetryBackoff     time.Duration
	SampleRows       int
	NormalizeWorkers int
	MaxDiagnostics   int
	DefaultCurrency  string
	// StrictSuppliers reject rows with unparseable numbers instead of
	// nulling the field.
	StrictSuppliers []string
}

func (o *Options) applyDefaults() {
	if o.MaxFileSize <= 0 {
		o.MaxFileSize = DefaultMaxFileSize
	}
	if o.JobTimeout <= 0 {
		o.JobTimeout = DefaultJobTimeout
	}
	if o.JobRetention <= 0 {
		o.JobRetention = DefaultJobRetention
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = time.Minute
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.ChunkRetries == 0 {
		o.ChunkRetries = DefaultChunkRetries
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = DefaultRetryBackoff
	}
	if o.SampleRows <= 0 {
		o.SampleRows = DefaultSampleRows
	}
	if o.MaxDiagnostics <= 0 {
		o.MaxDiagnostics = DefaultMaxDiagnostics
	}
	if o.DefaultCurrency == "" {
		o.DefaultCurrency = DefaultCurrency
	}
}

// FileStore stages uploaded files and resolves file references.
type FileStore interface {
	Save(ctx context.Context, name string, r io.Reader) (ref string, err error)
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

// IngestRequest asks for one file to be ingested for one supplier.
// Exactly one of FileRef or Data should be set.
type IngestRequest struct {
	SupplierID string
	FileName   string
	FileRef    string
	Data       []byte
	Priority   int
	// Force re-ingests a file already completed for this supplier.
	Force bool
}

// Service is the entry point used by the HTTP layer and the CLI.
type Service struct {
	catalog    Catalog
	files      FileStore
	opts       Options
	engine     *InferenceEngine
	normalizer *Normalizer
	writer     *Reconciler
	adjuster   *StockAdjuster
	registry   *JobRegistry
	limiter    *UploadLimiter
	queue      *Queue
	observer   Observer
	strict     map[string]bool
}

// NewService wires the pipeline. observer may be nil.
func NewService(catalog Catalog, files FileStore, opts Options, observer Observer) *Service {
	opts.applyDefaults()
	if observer == nil {
		observer = NopObserver{}
	}

	s := &Service{
		catalog:    catalog,
		files:      files,
		opts:       opts,
		engine:     NewInferenceEngine(nil, ScoreWeights{}),
		normalizer: NewNormalizer(opts.NormalizeWorkers),
		writer:     NewReconciler(catalog),
		adjuster:   NewStockAdjuster(catalog),
		registry:   NewJobRegistry(opts.JobRetention),
		limiter:    NewUploadLimiter(opts.MaxConcurrent, opts.MaxWaitTime),
		observer:   observer,
		strict:     make(map[string]bool),
	}
	for _, id := range opts.StrictSuppliers {
		if id = strings.TrimSpace(id); id != "" {
			s.strict[id] = true
		}
	}
	s.queue = NewQueue(s.registry, s.limiter, s.runJob, opts.JobTimeout, observer)
	return s
}

// Start begins dispatching queued jobs and sweeping expired ones.
func (s *Service) Start(ctx context.Context) {
	s.queue.Start(ctx)
	go s.StartRetentionSweeper(ctx, s.opts.SweepInterval)
}

// Shutdown stops the queue, cancelling queued jobs and draining running ones.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.queue.Shutdown(ctx)
}

// Options returns the effective options.
func (s *Service) Options() Options { return s.opts }

// PolicyFor returns the numeric policy of a supplier.
func (s *Service) PolicyFor(supplierID string) NumericPolicy {
	if s.strict[supplierID] {
		return PolicyStrict
	}
	return PolicySoft
}

func (s *Service) validate(req *IngestRequest) error {
	req.SupplierID = strings.TrimSpace(req.SupplierID)
	if req.SupplierID == "" {
		return &RequestError{Msg: "supplier id is required"}
	}
	if req.FileRef == "" && len(req.Data) == 0 {
		return &RequestError{Msg: "no file provided"}
	}
	if req.FileName == "" {
		req.FileName = req.FileRef
	}
	return nil
}

// SubmitIngestion stages the file, records the upload, and queues a job.
func (s *Service) SubmitIngestion(ctx context.Context, req IngestRequest) (ExtractionJob, error) {
	if err := s.validate(&req); err != nil {
		return ExtractionJob{}, err
	}
	if int64(len(req.Data)) > s.opts.MaxFileSize {
		return ExtractionJob{}, newJobError(CodeFileTooLarge, "file too large: %d bytes exceeds %d", len(req.Data), s.opts.MaxFileSize)
	}

	if len(req.Data) > 0 {
		if s.files == nil {
			return ExtractionJob{}, errors.New("no file store configured")
		}
		ref, err := s.files.Save(ctx, req.FileName, bytes.NewReader(req.Data))
		if err != nil {
			return ExtractionJob{}, fmt.Errorf("stage upload: %w", err)
		}
		req.FileRef = ref
	}

	upload := Upload{
		ID:         uuid.New(),
		FileName:   req.FileName,
		SupplierID: req.SupplierID,
		ReceivedAt: time.Now().UTC(),
		Status:     UploadReceived,
	}
	if err := s.catalog.CreateUpload(ctx, upload); err != nil {
		return ExtractionJob{}, fmt.Errorf("record upload: %w", err)
	}

	return s.queue.Submit(ExtractionJob{
		UploadID:   upload.ID.String(),
		SupplierID: req.SupplierID,
		FileRef:    req.FileRef,
		FileName:   req.FileName,
		Priority:   req.Priority,
		Force:      req.Force,
	})
}

// IngestSync runs the pipeline on the caller's goroutine. It shares the
// worker limit with the queue and returns ErrTooManyUploads when no slot
// frees up in time.
func (s *Service) IngestSync(ctx context.Context, req IngestRequest) (*JobResult, error) {
	if err := s.validate(&req); err != nil {
		return nil, err
	}
	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	upload := Upload{
		ID:         uuid.New(),
		FileName:   req.FileName,
		SupplierID: req.SupplierID,
		ReceivedAt: time.Now().UTC(),
		Status:     UploadReceived,
	}
	if err := s.catalog.CreateUpload(ctx, upload); err != nil {
		return nil, fmt.Errorf("record upload: %w", err)
	}

	jobCtx, cancel := context.WithTimeout(ctx, s.opts.JobTimeout)
	defer cancel()

	start := time.Now()
	job := ExtractionJob{
		ID:         uuid.NewString(),
		UploadID:   upload.ID.String(),
		SupplierID: req.SupplierID,
		FileRef:    req.FileRef,
		FileName:   req.FileName,
		Force:      req.Force,
	}
	res, err := s.ingest(jobCtx, job, req.Data)
	if res != nil {
		res.Duration = time.Since(start)
		s.observer.RowOutcomes(res)
	}
	return res, err
}

// JobStatus returns a snapshot of a job.
func (s *Service) JobStatus(jobID string) (ExtractionJob, error) {
	return s.registry.Get(jobID)
}

// CancelJob cancels a queued or running job.
func (s *Service) CancelJob(jobID string) bool {
	return s.queue.Cancel(jobID)
}

// QueueHealth reports queue depth and worker usage.
func (s *Service) QueueHealth() QueueHealth {
	return s.queue.Health()
}

// AdjustStock applies a manual stock delta.
func (s *Service) AdjustStock(ctx context.Context, adj StockAdjustment) (AdjustmentResult, error) {
	res, err := s.adjuster.Adjust(ctx, adj)
	s.observer.StockAdjusted(CodeOf(err))
	return res, err
}

// PriceHistory returns a product's price entries, most recent first.
func (s *Service) PriceHistory(ctx context.Context, productID uuid.UUID, limit int) ([]PriceHistory, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	return s.catalog.PriceHistory(ctx, productID, limit)
}

// InferFile reads a file and returns the mapping the pipeline would use,
// without writing anything.
func (s *Service) InferFile(fileName string, data []byte) (*ColumnMapping, error) {
	_, mapping, _, err := s.prepare(fileName, data)
	return mapping, err
}
