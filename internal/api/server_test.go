package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"lockdown/internal/analytics"
	"lockdown/internal/config"
	"lockdown/internal/detect"
	"lockdown/internal/ingest"
	"lockdown/internal/parse"
	"lockdown/internal/storage"
)

const sampleLog = `Dec 29 12:00:00 server sshd[123]: Failed password for root from 203.0.113.10 port 5555 ssh2
Dec 29 12:00:05 server sshd[123]: Failed password for root from 203.0.113.10 port 5556 ssh2
Dec 29 12:00:10 server sshd[123]: Failed password for root from 203.0.113.10 port 5557 ssh2
noise line
`

func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewSQLite("file:" + filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init store: %v", err)
	}
	now := func() time.Time {
		return time.Date(2026, time.December, 29, 12, 1, 0, 0, time.UTC)
	}
	cfg := config.DefaultConfig()
	cfg.Ingest.Dir = dir
	mgr := config.NewStaticManager(cfg)
	parser := parse.NewParser(now)
	pipeline := ingest.NewPipeline(store, parser, cfg.Ingest, nil)
	server := NewServer(mgr, pipeline, detect.NewDetector(store, now), analytics.NewAggregator(store, now), nil, "test")
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts, dir
}

func postIngest(t *testing.T, ts *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(ts.URL+"/ingest", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestIngestEndpoint(t *testing.T) {
	ts, dir := newTestServer(t)
	if err := os.WriteFile(filepath.Join(dir, "auth.log"), []byte(sampleLog), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	resp := postIngest(t, ts, `{"file":"auth.log"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	var res ingest.Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Inserted != 3 || res.Skipped != 1 {
		t.Fatalf("result: %+v", res)
	}
}

func TestIngestEndpointErrorMapping(t *testing.T) {
	ts, _ := newTestServer(t)

	if resp := postIngest(t, ts, `{"file":"../etc/passwd"}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("traversal status: %d", resp.StatusCode)
	}
	if resp := postIngest(t, ts, `{"file":"absent.log"}`); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing status: %d", resp.StatusCode)
	}
}

func TestDetectionsEndpoint(t *testing.T) {
	ts, dir := newTestServer(t)
	if err := os.WriteFile(filepath.Join(dir, "auth.log"), []byte(sampleLog), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	postIngest(t, ts, `{"file":"auth.log"}`)

	resp, err := http.Get(ts.URL + "/detections?threshold=3&window=2m")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	var body struct {
		Count      int `json:"count"`
		Detections []struct {
			IP    string `json:"ip"`
			Count int    `json:"count"`
		} `json:"detections"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 1 || body.Detections[0].IP != "203.0.113.10" || body.Detections[0].Count != 3 {
		t.Fatalf("body: %+v", body)
	}
}

func TestSummaryEndpoint(t *testing.T) {
	ts, dir := newTestServer(t)
	if err := os.WriteFile(filepath.Join(dir, "auth.log"), []byte(sampleLog), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	postIngest(t, ts, `{"file":"auth.log"}`)

	resp, err := http.Get(ts.URL + "/analytics/ssh/summary?window=24h&thresholds=2,5")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	var body struct {
		TotalFailedAttempts int            `json:"total_failed_attempts"`
		AlertsByThreshold   map[string]int `json:"alerts_by_threshold"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.TotalFailedAttempts != 3 {
		t.Fatalf("total: %d", body.TotalFailedAttempts)
	}
	if body.AlertsByThreshold["2"] != 1 || body.AlertsByThreshold["5"] != 0 {
		t.Fatalf("alerts: %v", body.AlertsByThreshold)
	}
}

func TestBadWindowRejected(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/analytics/ssh/kpis?window=bogus")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status: %d", resp.StatusCode)
	}
}
