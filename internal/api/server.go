package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"telemetry-dashboard/internal/models"
	"telemetry-dashboard/internal/parser"
	"telemetry-dashboard/internal/source"
	"telemetry-dashboard/internal/telemetry"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// ExportFilename is the attachment name used by the CSV export endpoint
const ExportFilename = "automotive_data_filtered.csv"

// Server represents the API server
type Server struct {
	source     *source.Holder
	thresholds models.Thresholds
	router     *mux.Router
}

// NewServer creates a new API server
func NewServer(src *source.Holder, thresholds models.Thresholds) *Server {
	s := &Server{
		source:     src,
		thresholds: thresholds,
		router:     mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	s.router.HandleFunc("/api/v1/vehicles", s.handleListVehicles).Methods("GET")
	s.router.HandleFunc("/api/v1/vehicles/stats", s.handleVehicleStats).Methods("GET")
	s.router.HandleFunc("/api/v1/locations", s.handleListLocations).Methods("GET")

	s.router.HandleFunc("/api/v1/readings", s.handleReadings).Methods("GET")
	s.router.HandleFunc("/api/v1/summary", s.handleSummary).Methods("GET")
	s.router.HandleFunc("/api/v1/aggregates", s.handleAggregates).Methods("GET")
	s.router.HandleFunc("/api/v1/efficiency", s.handleEfficiency).Methods("GET")
	s.router.HandleFunc("/api/v1/anomalies", s.handleAnomalies).Methods("GET")
	s.router.HandleFunc("/api/v1/load-report", s.handleLoadReport).Methods("GET")
	s.router.HandleFunc("/api/v1/export", s.handleExport).Methods("GET")

	s.router.Use(loggingMiddleware)
	s.router.Use(jsonMiddleware)
}

// Router returns the configured router
func (s *Server) Router() *mux.Router {
	return s.router
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		event := log.Info()
		switch {
		case rec.status >= http.StatusInternalServerError:
			event = log.Error()
		case rec.status >= http.StatusBadRequest:
			event = log.Warn()
		}
		event.
			Int("status", rec.status).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("latency", time.Since(start).String()).
			Msg("HTTP Request")
	})
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Response helpers
type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Meta    *meta       `json:"meta,omitempty"`
}

type meta struct {
	Total   int   `json:"total"`
	Limit   int   `json:"limit,omitempty"`
	Offset  int   `json:"offset,omitempty"`
	QueryMs int64 `json:"query_ms"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	writeResponse(w, status, apiResponse{Success: true, Data: data})
}

func respondError(w http.ResponseWriter, status int, message string) {
	writeResponse(w, status, apiResponse{Success: false, Error: message})
}

func respondWithMeta(w http.ResponseWriter, data interface{}, m *meta) {
	writeResponse(w, http.StatusOK, apiResponse{Success: true, Data: data, Meta: m})
}

// writeResponse encodes before writing the status so an unencodable payload becomes a 500
func writeResponse(w http.ResponseWriter, status int, resp apiResponse) {
	body, err := json.Marshal(resp)
	if err != nil {
		log.Error().Err(err).Int("status", status).Msg("Failed to encode response")
		status = http.StatusInternalServerError
		body, _ = json.Marshal(apiResponse{Success: false, Error: "failed to encode response"})
	}
	w.WriteHeader(status)
	if _, err := w.Write(append(body, '\n')); err != nil {
		log.Error().Err(err).Msg("Failed to write response")
	}
}

// criteriaFromRequest builds filter criteria from query parameters.
// vehicle and location may repeat or hold comma separated lists.
func criteriaFromRequest(r *http.Request) (models.FilterCriteria, error) {
	q := r.URL.Query()
	c := models.FilterCriteria{
		VehicleIDs: splitValues(q["vehicle"]),
		Locations:  splitValues(q["location"]),
	}

	var err error
	if c.Start, err = parser.ParseBound(q.Get("start"), false); err != nil {
		return c, fmt.Errorf("invalid start: %w", err)
	}
	if c.End, err = parser.ParseBound(q.Get("end"), true); err != nil {
		return c, fmt.Errorf("invalid end: %w", err)
	}
	return c, nil
}

func splitValues(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func sortedCopy(values []string) []string {
	out := append([]string{}, values...)
	sort.Strings(out)
	return out
}

// filtered applies the request's criteria to the current snapshot
func (s *Server) filtered(w http.ResponseWriter, r *http.Request) (models.Dataset, bool) {
	c, err := criteriaFromRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}

	data, err := telemetry.Filter(s.source.Current().Data, c)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, telemetry.ErrInvalidRange) {
			status = http.StatusBadRequest
		}
		respondError(w, status, err.Error())
		return nil, false
	}
	return data, true
}

// Handlers
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.source.Current()
	body := map[string]interface{}{
		"status":    "healthy",
		"readings":  len(snap.Data),
		"loaded_at": snap.LoadedAt,
	}
	if source.IsSnapshot(s.source.Path()) {
		stats, err := source.SnapshotStats(s.source.Path())
		if err != nil {
			respondError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		body["snapshot"] = stats
	}
	respondJSON(w, http.StatusOK, body)
}

func (s *Server) handleListVehicles(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, sortedCopy(s.source.Current().Data.VehicleIDs()))
}

func (s *Server) handleListLocations(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, sortedCopy(s.source.Current().Data.Locations()))
}

func (s *Server) handleReadings(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	data, ok := s.filtered(w, r)
	if !ok {
		return
	}

	limit, offset := 0, 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		offset = n
	}

	page := data
	if offset >= len(page) {
		page = models.Dataset{}
	} else {
		page = page[offset:]
	}
	if limit > 0 && limit < len(page) {
		page = page[:limit]
	}

	respondWithMeta(w, page, &meta{
		Total:   len(data),
		Limit:   limit,
		Offset:  offset,
		QueryMs: time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	data, ok := s.filtered(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, telemetry.Summarize(data))
}

func (s *Server) handleAggregates(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	data, ok := s.filtered(w, r)
	if !ok {
		return
	}

	g := models.Hourly
	if v := r.URL.Query().Get("granularity"); v != "" {
		var err error
		if g, err = telemetry.ParseGranularity(v); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	aggregate := telemetry.Aggregate
	if perVehicle, _ := strconv.ParseBool(r.URL.Query().Get("per_vehicle")); perVehicle {
		aggregate = telemetry.AggregatePerVehicle
	}

	buckets, err := aggregate(data, g)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondWithMeta(w, buckets, &meta{Total: len(buckets), QueryMs: time.Since(start).Milliseconds()})
}

func (s *Server) handleVehicleStats(w http.ResponseWriter, r *http.Request) {
	data, ok := s.filtered(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, telemetry.AggregateByVehicle(data))
}

func (s *Server) handleEfficiency(w http.ResponseWriter, r *http.Request) {
	data, ok := s.filtered(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, telemetry.EfficiencyScores(data))
}

type anomalyResponse struct {
	Flags  []models.AnomalyFlag         `json:"flags"`
	Counts map[models.AnomalyReason]int `json:"counts"`
}

func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	data, ok := s.filtered(w, r)
	if !ok {
		return
	}

	flags := telemetry.DetectAnomalies(data, s.thresholds)
	respondWithMeta(w, anomalyResponse{
		Flags:  flags,
		Counts: telemetry.CountByReason(flags),
	}, &meta{Total: len(flags), QueryMs: time.Since(start).Milliseconds()})
}

func (s *Server) handleLoadReport(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.source.Current().Report)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	data, ok := s.filtered(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := parser.Write(&buf, data); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", ExportFilename))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}
