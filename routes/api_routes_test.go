package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LilVoxy/coursework_dwh/ETL/catalog"
	"github.com/LilVoxy/coursework_dwh/ETL/fraud"
	"github.com/LilVoxy/coursework_dwh/ETL/load"
	"github.com/LilVoxy/coursework_dwh/ETL/metrics"
	"github.com/LilVoxy/coursework_dwh/ETL/models"
	"github.com/LilVoxy/coursework_dwh/ETL/pipeline"
	"github.com/LilVoxy/coursework_dwh/ETL/testutil"
	"github.com/LilVoxy/coursework_dwh/ETL/utils"
)

type apiFixture struct {
	router     *mux.Router
	sink       *fraud.EventSink
	watermarks *load.WatermarkTracker
	runs       *models.SQLETLLogRepository
	triggered  chan struct{}
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	w := testutil.NewWarehouse(t)
	logger := utils.NewNopLogger()

	sink, err := fraud.NewEventSink(w.DB, w.Dialect, w.Catalog)
	require.NoError(t, err)
	runsTable, err := w.Catalog.Meta.Lookup(catalog.EntityRuns)
	require.NoError(t, err)
	runs, err := models.NewSQLETLLogRepository(w.DB, w.Dialect, runsTable)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	f := &apiFixture{
		router:     mux.NewRouter(),
		sink:       sink,
		watermarks: load.NewWatermarkTracker(w.DB, w.Dialect, w.Catalog, logger, m),
		runs:       runs,
		triggered:  make(chan struct{}, 1),
	}
	SetupRoutes(f.router, Deps{
		Events:     sink,
		Runs:       runs,
		Watermarks: f.watermarks,
		Gatherer:   reg,
		Trigger: func() error {
			f.triggered <- struct{}{}
			return nil
		},
		Logger: logger,
	})
	return f
}

func (f *apiFixture) get(t *testing.T, url string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func TestGetFraud(t *testing.T) {
	f := newAPI(t)
	report := testutil.Date(2021, time.March, 5)
	require.NoError(t, f.sink.Append(context.Background(), []models.FraudEvent{
		{EventDt: testutil.At(2021, time.March, 1, 10, 0), Passport: "1", EventType: fraud.EventCrossCity, ReportDt: report},
		{EventDt: testutil.At(2021, time.March, 1, 11, 0), Passport: "2", EventType: fraud.EventInvalidContract, ReportDt: report},
		{EventDt: testutil.At(2021, time.March, 2, 9, 0), Passport: "3", EventType: fraud.EventInvalidContract, ReportDt: testutil.Date(2021, time.March, 6)},
	}))

	var all FraudResponse
	decode(t, f.get(t, "/api/fraud"), &all)
	require.Len(t, all.Events, 3)
	assert.Equal(t, "3", all.Events[0].Passport, "новые события первыми")

	var filtered FraudResponse
	decode(t, f.get(t, "/api/fraud?report_date=2021-03-05&type="+url.QueryEscape(fraud.EventInvalidContract)), &filtered)
	require.Len(t, filtered.Events, 1)
	assert.Equal(t, "2", filtered.Events[0].Passport)

	var limited FraudResponse
	decode(t, f.get(t, "/api/fraud?limit=1"), &limited)
	assert.Len(t, limited.Events, 1)

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/api/fraud?report_date=05.03.2021").Code)
	assert.Equal(t, http.StatusBadRequest, f.get(t, "/api/fraud?limit=0").Code)
}

func TestGetFraudEmpty(t *testing.T) {
	f := newAPI(t)
	rec := f.get(t, "/api/fraud")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"events":[]}`, rec.Body.String())
}

type failingEvents struct{}

func (failingEvents) List(context.Context, fraud.EventFilter) ([]models.FraudEvent, error) {
	return nil, errors.New("connection refused")
}

func TestGetFraudError(t *testing.T) {
	rec := httptest.NewRecorder()
	GetFraudHandler(failingEvents{}, utils.NewNopLogger()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/fraud", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetRunsAndState(t *testing.T) {
	f := newAPI(t)
	ctx := context.Background()
	start := time.Now().Add(-time.Hour).UTC()

	require.NoError(t, f.runs.CreateLogEntry(ctx, "run-1", start))
	require.NoError(t, f.runs.UpdateLogEntrySuccess(ctx, "run-1", start.Add(time.Minute), models.RunStats{
		BatchesProcessed: 3, RowsStaged: 10, FraudEvents: 2, LastBusinessDate: testutil.Date(2021, time.March, 1),
	}))
	require.NoError(t, f.runs.CreateLogEntry(ctx, "run-2", start.Add(10*time.Minute)))
	require.NoError(t, f.runs.UpdateLogEntryFailure(ctx, "run-2", start.Add(11*time.Minute), "нет соединения"))

	var runs RunsResponse
	decode(t, f.get(t, "/api/runs"), &runs)
	require.Len(t, runs.Runs, 2)
	assert.Equal(t, "run-2", runs.Runs[0].RunID)

	var state models.ETLStateMonitor
	decode(t, f.get(t, "/api/runs/state?days=1"), &state)
	assert.Equal(t, 1, state.TotalSuccessfulRuns)
	assert.Equal(t, 1, state.TotalFailedRuns)
	assert.Equal(t, 2, state.TotalFraudEvents)
	require.NotNil(t, state.LastFailedRun)
	assert.Equal(t, "нет соединения", state.LastFailedRun.ErrorMessage)

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/api/runs?days=-1").Code)
}

func TestGetWatermarks(t *testing.T) {
	f := newAPI(t)
	require.NoError(t, f.watermarks.Advance(context.Background(), catalog.EntityTransactions, testutil.Date(2021, time.March, 1)))

	var resp WatermarksResponse
	decode(t, f.get(t, "/api/watermarks"), &resp)
	require.Len(t, resp.Watermarks, 1)
	assert.Equal(t, "stg_transactions", resp.Watermarks[0].TableName)
}

func TestTriggerRun(t *testing.T) {
	f := newAPI(t)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/runs", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case <-f.triggered:
	case <-time.After(2 * time.Second):
		t.Fatal("синхронизация не запущена")
	}
}

func TestTriggerRunConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "run in progress", err: fmt.Errorf("запуск: %w", pipeline.ErrRunInProgress), want: http.StatusConflict},
		{name: "start failed", err: errors.New("connection refused"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := TriggerRunHandler(func() error { return tt.err }, utils.NewNopLogger())
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/runs", nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestMetricsAndCORS(t *testing.T) {
	f := newAPI(t)

	rec := f.get(t, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "dwh_sync_run_duration_seconds")

	opts := httptest.NewRecorder()
	f.router.ServeHTTP(opts, httptest.NewRequest(http.MethodOptions, "/api/fraud", nil))
	assert.Equal(t, http.StatusOK, opts.Code)
	assert.Equal(t, "*", opts.Header().Get("Access-Control-Allow-Origin"))
}
