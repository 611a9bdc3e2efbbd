package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProblemWritesProblemDocument(t *testing.T) {
	rec := httptest.NewRecorder()
	Problem(rec, http.StatusConflict, "Conflict", "job already running")

	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	var p ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	require.Equal(t, ProblemDetail{Type: "about:blank", Title: "Conflict", Status: http.StatusConflict, Detail: "job already running"}, p)
}

func TestRespondErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, errors.New("connect dsn=postgres://user:pw@db"))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "dsn")
}

func TestRespondErrorMapsSentinels(t *testing.T) {
	for _, tc := range []struct {
		err  error
		code int
	}{
		{fmt.Errorf("job 7: %w", ErrNotFound), http.StatusNotFound},
		{ErrDuplicate, http.StatusConflict},
		{ErrConflict, http.StatusConflict},
		{ErrValidation, http.StatusUnprocessableEntity},
		{ErrForbidden, http.StatusForbidden},
		{ErrUnauthorized, http.StatusUnauthorized},
		{fmt.Errorf("repost: %w", context.DeadlineExceeded), http.StatusServiceUnavailable},
	} {
		rec := httptest.NewRecorder()
		RespondError(rec, tc.err)
		require.Equal(t, tc.code, rec.Code, tc.err.Error())
	}
}

func TestDecodeJSON(t *testing.T) {
	var v struct {
		Item string `json:"item"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"item":"WIDGET"}`))
	require.NoError(t, DecodeJSON(req, &v))
	require.Equal(t, "WIDGET", v.Item)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"item":"A"}{"item":"B"}`))
	require.ErrorIs(t, DecodeJSON(req, &v), ErrValidation)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"item":`))
	require.ErrorIs(t, DecodeJSON(req, &v), ErrValidation)

	big := `{"item":"` + strings.Repeat("x", MaxBodyBytes) + `"}`
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(big))
	require.ErrorIs(t, DecodeJSON(req, &v), ErrValidation)
}
