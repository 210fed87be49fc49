package web

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/pricesync/internal/config"
	"github.com/JonMunkholm/pricesync/internal/core"
	"github.com/JonMunkholm/pricesync/internal/filestore"
	"github.com/JonMunkholm/pricesync/internal/metrics"
)

const pricelistCSV = `SKU,Desc,Cost,Qty
A1,Cordless drill,1299.00,5
A2,Impact driver,899.50,3
`

type testEnv struct {
	server  *Server
	service *core.Service
	catalog *core.MemoryCatalog
	store   *filestore.LocalStore
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			RequestTimeout: 10 * time.Second,
			SyncTimeout:    10 * time.Second,
		},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	store, err := filestore.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	cat := core.NewMemoryCatalog()
	svc := core.NewService(cat, store, core.Options{MaxConcurrent: 2, MaxFileSize: 1 << 20}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	svc.Start(ctx)
	t.Cleanup(func() {
		cancel()
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer scancel()
		_ = svc.Shutdown(sctx)
	})

	srv := NewServer(svc, testConfig(), opts...)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &testEnv{server: srv, service: svc, catalog: cat, store: store}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)
	return rec
}

func multipartRequest(t *testing.T, target, fileName, content string, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if fileName != "" {
		fw, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jsonRequest(t *testing.T, method, target string, v any) *http.Request {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	req := httptest.NewRequest(method, target, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (e *testEnv) waitJob(t *testing.T, jobID string) core.ExtractionJob {
	t.Helper()
	var job core.ExtractionJob
	require.Eventually(t, func() bool {
		rec := e.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs/"+jobID, nil))
		if rec.Code != http.StatusOK {
			return false
		}
		job = decode[core.ExtractionJob](t, rec)
		return job.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestSubmitPricelist(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, multipartRequest(t, "/api/suppliers/acme/pricelists", "acme.csv", pricelistCSV, map[string]string{"priority": "5"}))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	ack := decode[submitResponse](t, rec)
	assert.NotEmpty(t, ack.JobID)
	assert.NotEmpty(t, ack.UploadID)
	assert.Equal(t, core.JobQueued, ack.Status)

	job := env.waitJob(t, ack.JobID)
	assert.Equal(t, core.JobCompleted, job.Status)
	assert.Equal(t, 5, job.Priority)
	require.NotNil(t, job.Result)
	assert.Equal(t, 2, job.Result.Created)
	assert.True(t, strings.HasPrefix(job.FileRef, "local:"))

	_, ok := env.catalog.Product("acme", "A1")
	assert.True(t, ok)
}

func TestSubmitPricelist_BadRequests(t *testing.T) {
	env := newTestEnv(t)

	t.Run("no file", func(t *testing.T) {
		rec := env.do(t, multipartRequest(t, "/api/suppliers/acme/pricelists", "", "", map[string]string{"force": "true"}))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "REQ001", decode[ErrorResponse](t, rec).Code)
	})

	t.Run("bad priority", func(t *testing.T) {
		rec := env.do(t, multipartRequest(t, "/api/suppliers/acme/pricelists", "a.csv", pricelistCSV, map[string]string{"priority": "high"}))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("not multipart", func(t *testing.T) {
		rec := env.do(t, jsonRequest(t, http.MethodPost, "/api/suppliers/acme/pricelists", map[string]string{}))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSubmitPricelist_TooLarge(t *testing.T) {
	env := newTestEnv(t)
	big := pricelistCSV + strings.Repeat("A9,filler,1.00,1\n", 80_000)

	rec := env.do(t, multipartRequest(t, "/api/suppliers/acme/pricelists", "big.csv", big, nil))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, string(core.CodeFileTooLarge), decode[ErrorResponse](t, rec).Code)
}

func TestImportPricelist(t *testing.T) {
	env := newTestEnv(t)
	ref, err := env.store.Save(context.Background(), "acme.csv", strings.NewReader(pricelistCSV))
	require.NoError(t, err)

	rec := env.do(t, jsonRequest(t, http.MethodPost, "/api/suppliers/acme/pricelists/import", importRequest{FileRef: ref}))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	job := env.waitJob(t, decode[submitResponse](t, rec).JobID)
	assert.Equal(t, core.JobCompleted, job.Status)
	assert.Equal(t, ref, job.FileRef)
}

func TestImportPricelist_Validation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, jsonRequest(t, http.MethodPost, "/api/suppliers/acme/pricelists/import", importRequest{}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, jsonRequest(t, http.MethodPost, "/api/suppliers/acme/pricelists/import", map[string]string{"path": "x"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestSync(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, multipartRequest(t, "/api/suppliers/acme/pricelists/sync", "acme.csv", pricelistCSV, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[syncResponse](t, rec)
	assert.Equal(t, core.JobCompleted, got.Status)
	assert.Nil(t, got.Error)
	require.NotNil(t, got.Result)
	assert.Equal(t, 2, got.Result.Created)

	// Identical file again: rejected before any write.
	rec = env.do(t, multipartRequest(t, "/api/suppliers/acme/pricelists/sync", "acme.csv", pricelistCSV, nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	dup := decode[syncResponse](t, rec)
	assert.Equal(t, core.JobFailed, dup.Status)
	require.NotNil(t, dup.Error)
	assert.Equal(t, core.CodeDuplicateFile, dup.Error.Code)

	// Forced re-ingest is idempotent.
	rec = env.do(t, multipartRequest(t, "/api/suppliers/acme/pricelists/sync", "acme.csv", pricelistCSV, map[string]string{"force": "1"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	again := decode[syncResponse](t, rec)
	assert.Equal(t, 0, again.Result.Created)
	assert.Equal(t, 2, again.Result.Unchanged)
}

func TestIngestSync_InputError(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, multipartRequest(t, "/api/suppliers/acme/pricelists/sync", "notes.csv", "SKU,Desc\n", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	got := decode[syncResponse](t, rec)
	require.NotNil(t, got.Error)
	assert.Equal(t, core.CodeEmptyFile, got.Error.Code)
}

func TestInferPricelist(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, multipartRequest(t, "/api/pricelists/infer", "acme.csv", pricelistCSV, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	mapping := decode[core.ColumnMapping](t, rec)
	assert.Equal(t, 0, mapping.Fields[core.FieldSKU].Column)
	assert.Equal(t, 1, mapping.Fields[core.FieldName].Column)
	assert.Equal(t, 2, mapping.Fields[core.FieldCost].Column)
	assert.Equal(t, 3, mapping.Fields[core.FieldStock].Column)
	assert.Empty(t, env.catalog.Products())
}

func TestJobEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "REQ004", decode[ErrorResponse](t, rec).Code)

	rec = env.do(t, httptest.NewRequest(http.MethodPost, "/api/jobs/nope/cancel", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]bool{"cancelled": false}, decode[map[string]bool](t, rec))

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/queue/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[core.QueueHealth](t, rec)
	assert.True(t, health.Accepting)
	assert.Equal(t, 2, health.MaxWorkers)
	assert.Equal(t, 2, health.AvailableWorkers)
	assert.NotNil(t, health.Jobs)
}

func seedInventory(t *testing.T, env *testEnv) core.InventoryItem {
	t.Helper()
	rec := env.do(t, multipartRequest(t, "/api/suppliers/acme/pricelists/sync", "acme.csv", pricelistCSV, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	p, ok := env.catalog.Product("acme", "A1")
	require.True(t, ok)
	item, ok := env.catalog.InventoryFor(p.ID)
	require.True(t, ok)
	return item
}

func TestAdjustStock(t *testing.T) {
	env := newTestEnv(t)
	item := seedInventory(t, env)
	target := "/api/inventory/" + item.ID.String() + "/adjustments"

	rec := env.do(t, jsonRequest(t, http.MethodPost, target, adjustmentRequest{Delta: 3, Reason: "recount"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[core.AdjustmentResult](t, rec)
	assert.Equal(t, int64(5), res.QuantityBefore)
	assert.Equal(t, int64(8), res.QuantityOnHand)

	rec = env.do(t, jsonRequest(t, http.MethodPost, target, adjustmentRequest{Delta: -10, Reason: "damaged"}))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(core.CodeNegativeStock), decode[ErrorResponse](t, rec).Code)

	after, _ := env.catalog.InventoryFor(item.SupplierProductID)
	assert.Equal(t, int64(8), after.QuantityOnHand)
}

func TestAdjustStock_BadRequests(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, jsonRequest(t, http.MethodPost, "/api/inventory/not-a-uuid/adjustments", adjustmentRequest{Delta: 1, Reason: "x"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	target := "/api/inventory/" + uuid.NewString() + "/adjustments"
	rec = env.do(t, jsonRequest(t, http.MethodPost, target, adjustmentRequest{Delta: 0, Reason: "x"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, jsonRequest(t, http.MethodPost, target, adjustmentRequest{Delta: 1, Reason: "x"}))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPriceHistory(t *testing.T) {
	env := newTestEnv(t)
	item := seedInventory(t, env)
	target := "/api/products/" + item.SupplierProductID.String() + "/price-history?limit=5"

	rec := env.do(t, httptest.NewRequest(http.MethodGet, target, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[struct {
		ProductID uuid.UUID           `json:"productId"`
		Prices    []core.PriceHistory `json:"prices"`
	}](t, rec)
	assert.Equal(t, item.SupplierProductID, body.ProductID)
	require.Len(t, body.Prices, 1)
	assert.True(t, body.Prices[0].IsCurrent)
	assert.True(t, decimal.RequireFromString("1299").Equal(body.Prices[0].Price), body.Prices[0].Price.String())

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/products/"+uuid.NewString()+"/price-history", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndReadiness(t *testing.T) {
	env := newTestEnv(t, WithReadiness(func(context.Context) error { return nil }))

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	failing := newTestEnv(t, WithReadiness(func(context.Context) error { return context.DeadlineExceeded }))
	rec = failing.do(t, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New(metrics.Config{Namespace: "pricesync", ServiceName: "test", Environment: "test"})
	env := newTestEnv(t, WithMetrics(m))

	env.do(t, httptest.NewRequest(http.MethodGet, "/api/queue/health", nil))

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pricesync_http_requests_total")
	assert.Contains(t, rec.Body.String(), `route="/api/queue/health"`)
}

func TestRateLimitedRoutes(t *testing.T) {
	store, err := filestore.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	svc := core.NewService(core.NewMemoryCatalog(), store, core.Options{}, nil)

	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 100, UploadLimit: 1}
	srv := NewServer(svc, cfg)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	send := func() int {
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, multipartRequest(t, "/api/pricelists/infer", "acme.csv", pricelistCSV, nil))
		return rec.Code
	}
	assert.Equal(t, http.StatusOK, send())
	assert.Equal(t, http.StatusTooManyRequests, send())

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/queue/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"job not found", core.ErrJobNotFound, http.StatusNotFound},
		{"busy", core.ErrTooManyUploads, http.StatusServiceUnavailable},
		{"closed", core.ErrQueueClosed, http.StatusServiceUnavailable},
		{"request", &core.RequestError{Msg: "no file provided"}, http.StatusBadRequest},
		{"bad ref", filestore.ErrInvalidRef, http.StatusBadRequest},
		{"invariant", &core.InvariantError{Code: core.CodeNegativeStock}, http.StatusConflict},
		{"too large", &core.JobError{Code: core.CodeFileTooLarge}, http.StatusRequestEntityTooLarge},
		{"no header", &core.JobError{Code: core.CodeNoHeader}, http.StatusUnprocessableEntity},
		{"timeout", &core.JobError{Code: core.CodeTimeout}, http.StatusGatewayTimeout},
		{"tx failed", &core.JobError{Code: core.CodeTxFailed}, http.StatusInternalServerError},
		{"unknown", assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
