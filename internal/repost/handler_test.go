package repost_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/repost"
)

func newRouter(f *fixture) http.Handler {
	r := chi.NewRouter()
	repost.NewHandler(nil, f.svc).MountRoutes(r)
	return r
}

func serve(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerScheduleAndGet(t *testing.T) {
	f := newFixture(t, repost.Config{})
	f.record(t, voucher(ledger.VoucherPurchaseReceipt, "PR-1"), move(stores, day, 10, 10))
	h := newRouter(f)

	rec := serve(t, h, http.MethodPost, "/reposts", `{
		"voucher_type": "Purchase Receipt",
		"voucher_no": "PR-1",
		"posted_at": "2024-03-01T09:00:00Z",
		"company": "ACME"
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var job repost.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	require.Equal(t, repost.StatusQueued, job.Status)
	require.Equal(t, repost.BasedOnTransaction, job.BasedOn)

	rec = serve(t, h, http.MethodGet, "/reposts/"+job.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, h, http.MethodPost, "/reposts/run", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var summary repost.RunSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	require.Equal(t, 1, summary.Completed)

	rec = serve(t, h, http.MethodGet, "/reposts?status=Completed&voucher_type=Purchase%20Receipt&voucher_no=PR-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Jobs []repost.Job `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Jobs, 1)
	require.Equal(t, job.ID, list.Jobs[0].ID)
}

func TestHandlerErrors(t *testing.T) {
	f := newFixture(t, repost.Config{Guard: repost.GuardConfig{FrozenUpto: day}})
	f.store.PutFiscalYearClosing("ACME", day.AddDate(0, 0, -10))
	h := newRouter(f)

	problem := func(rec *httptest.ResponseRecorder) httpx.ProblemDetail {
		var p httpx.ProblemDetail
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
		return p
	}

	rec := serve(t, h, http.MethodPost, "/reposts", `{"voucher_type":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, h, http.MethodPost, "/reposts", `{"voucher_type":"Purchase Receipt","voucher_no":"PR-1","posted_at":"2024-02-20T09:00:00Z","company":"ACME"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "Period Closed", problem(rec).Title)
	require.Equal(t, "Due to period closing, you cannot repost item valuation before 2024-02-20", problem(rec).Detail)

	rec = serve(t, h, http.MethodPost, "/reposts", `{"voucher_type":"Purchase Receipt","voucher_no":"PR-1","posted_at":"2024-03-01T09:00:00Z","company":"ACME"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "Accounts Frozen", problem(rec).Title)

	rec = serve(t, h, http.MethodPost, "/reposts", `{"based_on":"Item and Warehouse","item_code":"ITEM-A","posted_at":"2024-03-05T09:00:00Z"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = serve(t, h, http.MethodGet, "/reposts/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(t, h, http.MethodGet, "/reposts?voucher_type=Journal", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerRestartAndCancel(t *testing.T) {
	f := newFixture(t, repost.Config{})
	job := f.backdate(t)
	h := newRouter(f)

	rec := serve(t, h, http.MethodPost, "/reposts/"+job.ID+"/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var cancelled repost.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cancelled))
	require.Equal(t, repost.StatusSkipped, cancelled.Status)
	require.True(t, cancelled.Cancelled)

	rec = serve(t, h, http.MethodPost, "/reposts/"+job.ID+"/restart", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	other, err := f.svc.Schedule(context.Background(), repost.ScheduleRequest{
		BasedOn:   repost.BasedOnItemWarehouse,
		ItemCode:  stores.ItemCode,
		Warehouse: stores.Warehouse,
		PostedAt:  day.Add(time.Hour),
		Company:   "ACME",
	})
	require.NoError(t, err)
	f.gl.fail = func(int) error { return errors.New("boom") }
	f.runDue(t)
	require.Equal(t, repost.StatusFailed, f.job(t, other.ID).Status)

	rec = serve(t, h, http.MethodPost, "/reposts/"+other.ID+"/restart", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var restarted repost.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &restarted))
	require.Equal(t, repost.StatusQueued, restarted.Status)
}
