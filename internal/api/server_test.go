package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantryproject/gantry/internal/report"
)

type fakeProvider struct {
	latest    *report.Report
	reloadErr error
	reloads   int
}

func (p *fakeProvider) Latest() *report.Report { return p.latest }

func (p *fakeProvider) Reload(_ context.Context) (*report.Report, error) {
	p.reloads++
	if p.reloadErr != nil {
		return nil, p.reloadErr
	}
	return p.latest, nil
}

func testReport() *report.Report {
	return &report.Report{
		RunID:       uuid.New(),
		GeneratedAt: time.Now().UTC(),
		Admitted:    1,
		Entries: []report.Entry{
			{Name: "alpha", Status: report.StatusAdmitted, Source: "local", Path: "/local/alpha"},
		},
	}
}

func doRequest(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s := NewServer(&fakeProvider{}, nil, zerolog.Nop())

	w := doRequest(t, s, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestGetReport(t *testing.T) {
	provider := &fakeProvider{latest: testReport()}
	s := NewServer(provider, nil, zerolog.Nop())

	w := doRequest(t, s, http.MethodGet, "/api/v1/report")
	require.Equal(t, http.StatusOK, w.Code)

	var got report.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, provider.latest.RunID, got.RunID)
	assert.Equal(t, 1, got.Admitted)
}

func TestGetReportBeforeFirstLoad(t *testing.T) {
	s := NewServer(&fakeProvider{}, nil, zerolog.Nop())

	w := doRequest(t, s, http.MethodGet, "/api/v1/report")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetDecision(t *testing.T) {
	s := NewServer(&fakeProvider{latest: testReport()}, nil, zerolog.Nop())

	w := doRequest(t, s, http.MethodGet, "/api/v1/decisions/alpha")
	require.Equal(t, http.StatusOK, w.Code)

	var entry report.Entry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entry))
	assert.Equal(t, "alpha", entry.Name)
	assert.Equal(t, report.StatusAdmitted, entry.Status)
}

func TestGetDecisionUnknownName(t *testing.T) {
	s := NewServer(&fakeProvider{latest: testReport()}, nil, zerolog.Nop())

	w := doRequest(t, s, http.MethodGet, "/api/v1/decisions/nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReload(t *testing.T) {
	provider := &fakeProvider{latest: testReport()}
	s := NewServer(provider, nil, zerolog.Nop())

	w := doRequest(t, s, http.MethodPost, "/api/v1/reload")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, provider.reloads)
}

func TestReloadFailure(t *testing.T) {
	provider := &fakeProvider{reloadErr: errors.New("discovery failed")}
	s := NewServer(provider, nil, zerolog.Nop())

	w := doRequest(t, s, http.MethodPost, "/api/v1/reload")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestMetricsMountedOnlyWithHandler(t *testing.T) {
	without := NewServer(&fakeProvider{}, nil, zerolog.Nop())
	w := doRequest(t, without, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusNotFound, w.Code)

	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	with := NewServer(&fakeProvider{}, metricsHandler, zerolog.Nop())
	w = doRequest(t, with, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
}
