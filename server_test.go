package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"campaign-tracker/config"
	"campaign-tracker/models"
	"campaign-tracker/store"
	"campaign-tracker/tracker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, metricsEnabled bool) (*Server, *store.MemoryGrid) {
	t.Helper()

	cfg := &config.Config{}
	cfg.App.Env = "test"
	cfg.App.BaseURL = "https://track.example.com"
	cfg.Store.Backend = "xlsx"
	cfg.Metrics.Enabled = metricsEnabled
	cfg.Metrics.Path = "/metrics"

	st, grid := store.NewMemoryStore(map[string][][]string{
		"Nana_Mails": {
			{"Name", "Email ID", "Subject", "Message", "Schedule Date & Time", "Status", "Timestamp", "Open?", "Open Timestamp"},
			{"Asha", "asha@example.com", "Hello", "x", "01/01/2024 10:00:00", "Mail Sent Successfully", "01-01-2024 10:00:00", "", ""},
		},
	})
	tr := tracker.NewTracker(st, nil, nil, tracker.Options{Location: time.UTC})
	tr.SetClock(func() time.Time { return time.Date(2024, 1, 1, 10, 5, 0, 0, time.UTC) })

	return NewServer(cfg, tr), grid
}

func TestHealthCheck(t *testing.T) {
	s, _ := newTestServer(t, false)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "campaign-tracker", body["service"])
	assert.Equal(t, "https://track.example.com", body["base_url"])
	assert.Equal(t, "xlsx", body["store"])
}

func TestTrackRoute(t *testing.T) {
	s, grid := newTestServer(t, false)
	const target = "/track?sheet=Nana_Mails&row=2&email=asha%40example.com"

	// HEAD answers with the pixel headers but never records
	head := httptest.NewRequest(http.MethodHead, target, nil)
	head.Header.Set("User-Agent", "Mozilla/5.0 Thunderbird/115.0")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, head)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/gif", rec.Header().Get("Content-Type"))
	assert.Equal(t, 0, grid.Writes())

	get := httptest.NewRequest(http.MethodGet, target, nil)
	get.Header.Set("User-Agent", "Mozilla/5.0 Thunderbird/115.0")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, get)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, tracker.Pixel(), rec.Body.Bytes())
	assert.Equal(t, 1, grid.Writes())
	assert.Equal(t, "Yes", grid.Cell("Nana_Mails", 2, 8))
}

func TestMetricsRoute(t *testing.T) {
	s, _ := newTestServer(t, true)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")

	s, _ = newTestServer(t, false)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitOK, exitCode(nil))
	assert.Equal(t, exitConfig, exitCode(fmt.Errorf("load: %w", config.ErrInvalidConfig)))
	assert.Equal(t, exitConfig, exitCode(fmt.Errorf("%w: no password", models.ErrMissingCredentials)))
	assert.Equal(t, exitConfig, exitCode(fmt.Errorf("%w: dial tcp", errStoreUnavailable)))
	assert.Equal(t, exitError, exitCode(errors.New("boom")))
	assert.Equal(t, exitError, exitCode(fmt.Errorf("batch A: %w", models.ErrSheetNotFound)))
}

func TestRootCommandFlags(t *testing.T) {
	root := newRootCmd()

	flag := root.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
	assert.Equal(t, "config.yaml", flag.DefValue)

	dispatch, _, err := root.Find([]string{"dispatch"})
	require.NoError(t, err)
	assert.NotNil(t, dispatch.Flags().Lookup("manual"))
	assert.NotNil(t, dispatch.Flags().Lookup("batch"))

	serve, _, err := root.Find([]string{"serve"})
	require.NoError(t, err)
	assert.Equal(t, "serve", serve.Name())
}
