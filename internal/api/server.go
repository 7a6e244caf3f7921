package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"lockdown/internal/analytics"
	"lockdown/internal/config"
	"lockdown/internal/detect"
	"lockdown/internal/ingest"
	"lockdown/internal/storage"
)

type Server struct {
	cfg        *config.Manager
	pipeline   *ingest.Pipeline
	detector   *detect.Detector
	aggregator *analytics.Aggregator
	logger     *slog.Logger
	version    string
}

type statusResponse struct {
	Status     string `json:"status"`
	Time       string `json:"time"`
	Version    string `json:"version"`
	ConfigPath string `json:"config_path"`
	Storage    string `json:"storage"`
	Detection  struct {
		Threshold int    `json:"threshold"`
		Window    string `json:"window"`
	} `json:"detection"`
	IngestRuns int `json:"ingest_runs"`
}

func Start(ctx context.Context, cfg *config.Manager, pipeline *ingest.Pipeline, detector *detect.Detector, aggregator *analytics.Aggregator, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := NewServer(cfg, pipeline, detector, aggregator, logger, version)
	httpServer := &http.Server{Addr: current.Addr, Handler: server.Handler()}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func NewServer(cfg *config.Manager, pipeline *ingest.Pipeline, detector *detect.Detector, aggregator *analytics.Aggregator, logger *slog.Logger, version string) *Server {
	return &Server{
		cfg:        cfg,
		pipeline:   pipeline,
		detector:   detector,
		aggregator: aggregator,
		logger:     logger,
		version:    version,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/ingest", s.handleIngest)
	mux.HandleFunc("/ingest/runs", s.handleIngestRuns)
	mux.HandleFunc("/detections", s.handleDetections)
	mux.HandleFunc("/analytics/ssh/summary", s.handleSummary)
	mux.HandleFunc("/analytics/ssh/kpis", s.handleKPIs)
	mux.HandleFunc("/analytics/ssh/trends", s.handleTrends)
	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	var resp statusResponse
	resp.Status = "ok"
	resp.Time = time.Now().UTC().Format(time.RFC3339Nano)
	resp.Version = s.version
	resp.ConfigPath = s.cfg.Path()
	resp.Storage = cfg.Storage.Driver
	resp.Detection.Threshold = cfg.Detection.Threshold
	resp.Detection.Window = cfg.Detection.Window.String()
	resp.IngestRuns = len(s.pipeline.Runs().List(0))
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var req struct {
		File     string `json:"file"`
		MaxLines int    `json:"max_lines"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	res, err := s.pipeline.IngestFile(r.Context(), req.File, req.MaxLines)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleIngestRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	runs := s.pipeline.Runs().List(limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

func (s *Server) handleDetections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	threshold := cfg.Detection.Threshold
	window := time.Duration(cfg.Detection.Window)
	if v := r.URL.Query().Get("threshold"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		threshold = n
	}
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		window = d
	}
	results, err := s.detector.BruteForce(r.Context(), threshold, window)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"detections": results,
		"count":      len(results),
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	window, ok := queryWindow(w, r, time.Duration(cfg.Analytics.Window))
	if !ok {
		return
	}
	topN := cfg.Analytics.TopN
	if v := r.URL.Query().Get("top_n"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		topN = n
	}
	thresholds := cfg.Analytics.Thresholds
	if v := r.URL.Query().Get("thresholds"); v != "" {
		parsed, err := parseThresholds(v)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		thresholds = parsed
	}
	rep, err := s.aggregator.Summary(r.Context(), window, topN, thresholds)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleKPIs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	window, ok := queryWindow(w, r, time.Duration(s.cfg.Get().Analytics.Window))
	if !ok {
		return
	}
	rep, err := s.aggregator.BusinessKPIs(r.Context(), window)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleTrends(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	window, ok := queryWindow(w, r, time.Duration(s.cfg.Get().Analytics.Window))
	if !ok {
		return
	}
	rep, err := s.aggregator.Trends(r.Context(), window)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func queryWindow(w http.ResponseWriter, r *http.Request, fallback time.Duration) (time.Duration, bool) {
	v := r.URL.Query().Get("window")
	if v == "" {
		return fallback, true
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		w.WriteHeader(http.StatusBadRequest)
		return 0, false
	}
	return d, true
}

func parseThresholds(v string) ([]int, error) {
	parts := strings.Split(v, ",")
	out := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n <= 0 {
			return nil, errors.New("invalid threshold")
		}
		out = append(out, n)
	}
	return out, nil
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ingest.ErrInvalidPath):
		status = http.StatusBadRequest
	case errors.Is(err, ingest.ErrMissingSource):
		status = http.StatusNotFound
	case errors.Is(err, storage.ErrUnavailable):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
