package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/ledger"
	ledgermem "github.com/odyssey-erp/stockledger/internal/ledger/memstore"
	"github.com/odyssey-erp/stockledger/internal/observability"
	"github.com/odyssey-erp/stockledger/internal/posting"
	"github.com/odyssey-erp/stockledger/internal/repost"
	"github.com/odyssey-erp/stockledger/internal/repost/memstore"
	"github.com/odyssey-erp/stockledger/internal/shared"
	"github.com/odyssey-erp/stockledger/internal/valuation"
	"github.com/odyssey-erp/stockledger/jobs"
)

func newTestRouter(t *testing.T) (http.Handler, *observability.Metrics) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ledgerStore := ledgermem.New()
	ledgerStore.PutItem(ledger.Item{Code: "ITEM-A", ValuationMethod: valuation.MethodFIFO, IsStockItem: true})
	engine := posting.NewEngine(posting.Config{}, nil, logger)
	repostSvc := repost.NewService(memstore.New(ledgerStore), engine, repost.Config{}, logger, nil)
	postingSvc := posting.NewService(ledgerStore, engine, repostSvc, logger, nil)
	metrics := observability.NewMetrics()

	return NewRouter(RouterParams{
		Logger:         logger,
		Config:         &Config{AppEnv: "production"},
		PostingHandler: posting.NewHandler(logger, postingSvc),
		RepostHandler:  repost.NewHandler(logger, repostSvc),
		JobHandler:     jobs.NewHandler(nil, logger),
		Metrics:        metrics,
	}), metrics
}

func request(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouterServesHealthAndSecurityHeaders(t *testing.T) {
	h, _ := newTestRouter(t)

	rec := request(t, h, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestRouterMountsAPI(t *testing.T) {
	h, _ := newTestRouter(t)

	rec := request(t, h, http.MethodPost, "/api/v1/movements", `{
		"voucher_type": "Purchase Receipt",
		"voucher_no": "PR-1",
		"company": "ACME",
		"entries": [{"item_code": "ITEM-A", "warehouse": "Stores", "posted_at": "2024-03-01T09:00:00Z", "actual_qty": 4, "incoming_rate": 3}]
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = request(t, h, http.MethodGet, "/api/v1/bins/ITEM-A/Stores", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"stock_value":12`)

	rec = request(t, h, http.MethodGet, "/api/v1/reposts?status=Queued", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = request(t, h, http.MethodGet, "/api/v1/jobs/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"queue":"repost","size":0,"pending":0,"active":0,"scheduled":0,"retry":0,"archived":0,"failed_today":0,"paused":false}`, rec.Body.String())

	rec = request(t, h, http.MethodGet, "/api/v1/unknown", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouterRecordsMetrics(t *testing.T) {
	h, _ := newTestRouter(t)
	require.Equal(t, http.StatusOK, request(t, h, http.MethodGet, "/healthz", "").Code)

	rec := request(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `stockledger_http_requests_total{code="200",method="GET",route="/healthz"} 1`)
}

func TestActorMiddleware(t *testing.T) {
	var (
		got shared.Actor
		ok  bool
	)
	h := ActorMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok = shared.ActorFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderUserID, "u-7")
	req.Header.Set(HeaderUserRoles, "Stock Manager, accounts manager ,")
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.True(t, ok)
	require.Equal(t, "u-7", got.ID)
	require.Equal(t, []string{"Stock Manager", "accounts manager"}, got.Roles)
	require.True(t, got.HasRole("Accounts Manager"))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.False(t, ok)
}

func TestNewLoggerHonoursFormatAndLevel(t *testing.T) {
	var buf strings.Builder
	logger := newLogger(&buf, &Config{LogFormat: "json", LogLevel: "warn", AppEnv: "staging"})
	logger.Info("hidden")
	logger.Warn("shown", slog.String("job_id", "J-1"))

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, `"msg":"shown"`)
	require.Contains(t, out, `"env":"staging"`)
	require.Contains(t, out, `"job_id":"J-1"`)

	require.Equal(t, slog.LevelInfo, parseLevel(&Config{LogLevel: "loud"}))
}
