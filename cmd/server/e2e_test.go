package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wadjakorntonsri/go-scanlink/pkg/adapters/handler"
	"github.com/wadjakorntonsri/go-scanlink/pkg/app"
	"github.com/wadjakorntonsri/go-scanlink/pkg/config"
	"github.com/wadjakorntonsri/go-scanlink/pkg/core/domain"
)

func TestIntegration(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := &config.Config{
		DatabaseURL:        "file:e2e?mode=memory&cache=shared",
		JWTSecret:          "e2e-secret",
		Timezone:           "UTC",
		ResolveTimeout:     5 * time.Second,
		RecordTimeout:      5 * time.Second,
		RecordWorkers:      2,
		RedirectGraceDelay: 1200 * time.Millisecond,
		DashboardCacheTTL:  time.Minute,
	}
	a, err := app.New(context.Background(), cfg, logger)
	require.NoError(t, err)
	defer a.Close(context.Background())

	server := httptest.NewServer(a.Router)
	defer server.Close()

	client := server.Client()
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	token, _, err := handler.SignToken([]byte(cfg.JWTSecret), "owner@example.com", time.Hour)
	require.NoError(t, err)

	call := func(method, path string, body interface{}) *http.Response {
		t.Helper()
		var buf bytes.Buffer
		if body != nil {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
		req, err := http.NewRequest(method, server.URL+path, &buf)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	// Create
	resp := call(http.MethodPost, "/api/v1/links", map[string]string{
		"name":       "Spring menu",
		"target_url": "https://example.com/menu",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created domain.Link
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.NotEmpty(t, created.ShortCode)
	assert.True(t, created.Active)

	// Scan twice through the direct redirect
	for i := 0; i < 2; i++ {
		resp = call(http.MethodGet, "/open/"+created.ShortCode, nil)
		require.Equal(t, http.StatusFound, resp.StatusCode)
		assert.Equal(t, "https://example.com/menu", resp.Header.Get("Location"))
	}

	// And once through the interstitial page
	resp = call(http.MethodGet, created.TrackingPath(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(page), "https://example.com/menu")

	require.Eventually(t, func() bool {
		counts, err := a.Gateway.GetScanCountsByLinkIDs(context.Background(), []int64{created.ID})
		return err == nil && counts[created.ID] == 3
	}, 5*time.Second, 20*time.Millisecond)

	// Dashboard
	resp = call(http.MethodPost, "/api/v1/dashboard/refresh", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap domain.AggregatedSnapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.False(t, snap.UsingDemoData)
	assert.EqualValues(t, 3, snap.Summary.TotalScans)
	assert.Equal(t, 1, snap.Summary.TotalLinks)

	// Deactivate, then the code stops resolving
	resp = call(http.MethodPatch, "/api/v1/links/"+strconv.FormatInt(created.ID, 10)+"/active", map[string]bool{"active": false})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = call(http.MethodGet, "/open/"+created.ShortCode, nil)
	assert.Equal(t, http.StatusGone, resp.StatusCode)

	// Export
	links, err := a.Gateway.Dump(context.Background())
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, created.ShortCode, links[0].ShortCode)
	assert.False(t, links[0].Active)
}
