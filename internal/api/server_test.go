package api

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"telemetry-dashboard/internal/db"
	"telemetry-dashboard/internal/models"
	"telemetry-dashboard/internal/parser"
	"telemetry-dashboard/internal/source"
	"telemetry-dashboard/internal/telemetry"
)

const fixture = `timestamp,vehicle_id,speed_mph,fuel_consumption_mpg,engine_temp_f,rpm,distance_miles,location,status
2024-01-01 08:00:00,V1,50,30,180,2000,10,NYC,normal
2024-01-01 08:15:00,V2,45,31,200,1900,8,LA,normal
2024-01-01 08:30:00,V1,55,29,260,2100,12,NYC,normal
2024-01-01 09:00:00,V1,52,30,190,2050,15,NYC,normal
`

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Meta    *meta           `json:"meta"`
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fleet.csv")
	if err := os.WriteFile(path, []byte(fixture), 0o644); err != nil {
		t.Fatal(err)
	}
	holder, err := source.NewHolder(path)
	if err != nil {
		t.Fatal(err)
	}
	return NewServer(holder, telemetry.DefaultThresholds())
}

func do(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, data interface{}) envelope {
	t.Helper()
	var env envelope
	if err := json.NewDecoder(rr.Body).Decode(&env); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if data != nil && env.Success {
		if err := json.Unmarshal(env.Data, data); err != nil {
			t.Fatalf("invalid data payload: %v", err)
		}
	}
	return env
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rr := do(t, s, "/health")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
	var body map[string]interface{}
	decode(t, rr, &body)
	if body["readings"] != float64(4) {
		t.Fatalf("expected 4 readings, got %v", body["readings"])
	}
}

func TestListVehiclesAndLocations(t *testing.T) {
	s := newTestServer(t)

	var vehicles []string
	decode(t, do(t, s, "/api/v1/vehicles"), &vehicles)
	if strings.Join(vehicles, ",") != "V1,V2" {
		t.Fatalf("unexpected vehicles %v", vehicles)
	}

	var locations []string
	decode(t, do(t, s, "/api/v1/locations"), &locations)
	if strings.Join(locations, ",") != "LA,NYC" {
		t.Fatalf("unexpected locations %v", locations)
	}
}

func TestReadingsFilterAndPaging(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		target string
		total  int
		page   int
	}{
		{"all", "/api/v1/readings", 4, 4},
		{"vehicle", "/api/v1/readings?vehicle=V1", 3, 3},
		{"comma list", "/api/v1/readings?vehicle=V1,V2", 4, 4},
		{"repeated", "/api/v1/readings?vehicle=V1&vehicle=V2&location=LA", 1, 1},
		{"time range", "/api/v1/readings?start=2024-01-01T08:15:00Z&end=2024-01-01T08:30:00Z", 2, 2},
		{"limit", "/api/v1/readings?limit=1&offset=1", 4, 1},
		{"offset past end", "/api/v1/readings?offset=10", 4, 0},
		{"unknown vehicle", "/api/v1/readings?vehicle=V9", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, s, tt.target)
			if rr.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
			}
			var page []models.Reading
			env := decode(t, rr, &page)
			if env.Meta == nil || env.Meta.Total != tt.total {
				t.Fatalf("expected total %d, got %+v", tt.total, env.Meta)
			}
			if len(page) != tt.page {
				t.Fatalf("expected page of %d, got %d", tt.page, len(page))
			}
		})
	}
}

func TestBadRequests(t *testing.T) {
	s := newTestServer(t)

	for _, target := range []string{
		"/api/v1/readings?start=2024-01-02&end=2024-01-01",
		"/api/v1/readings?start=yesterday",
		"/api/v1/readings?limit=-1",
		"/api/v1/aggregates?granularity=weekly",
		"/api/v1/summary?end=nope",
	} {
		rr := do(t, s, target)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", target, rr.Code)
			continue
		}
		if env := decode(t, rr, nil); env.Success || env.Error == "" {
			t.Errorf("%s: expected error envelope, got %+v", target, env)
		}
	}
}

func TestAggregates(t *testing.T) {
	s := newTestServer(t)

	var buckets []models.AggregateBucket
	env := decode(t, do(t, s, "/api/v1/aggregates?vehicle=V1&granularity=hourly"), &buckets)
	if env.Meta.Total != 2 || len(buckets) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(buckets))
	}
	if buckets[0].Count != 2 || buckets[0].EngineTempF.Mean != 220 || buckets[0].EngineTempF.Max != 260 {
		t.Fatalf("unexpected first bucket %+v", buckets[0])
	}
	if buckets[1].Count != 1 || buckets[1].EngineTempF.Mean != 190 {
		t.Fatalf("unexpected second bucket %+v", buckets[1])
	}

	buckets = nil
	decode(t, do(t, s, "/api/v1/aggregates?granularity=daily"), &buckets)
	if len(buckets) != 1 || buckets[0].Count != 4 {
		t.Fatalf("expected one daily bucket of 4, got %+v", buckets)
	}

	buckets = nil
	decode(t, do(t, s, "/api/v1/aggregates?per_vehicle=true"), &buckets)
	if len(buckets) != 3 {
		t.Fatalf("expected 3 per-vehicle buckets, got %d", len(buckets))
	}
	if buckets[0].VehicleID != "V1" || buckets[2].VehicleID != "V2" {
		t.Fatalf("unexpected per-vehicle order %+v", buckets)
	}
}

func TestSummaryAndVehicleStats(t *testing.T) {
	s := newTestServer(t)

	var summary models.SummaryStats
	decode(t, do(t, s, "/api/v1/summary"), &summary)
	if summary.TotalRecords != 4 || summary.UniqueVehicles != 2 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	var stats []models.VehicleAggregate
	decode(t, do(t, s, "/api/v1/vehicles/stats?location=NYC"), &stats)
	if len(stats) != 1 || stats[0].VehicleID != "V1" || stats[0].Count != 3 {
		t.Fatalf("unexpected vehicle stats %+v", stats)
	}
}

func TestEfficiency(t *testing.T) {
	s := newTestServer(t)

	var scores []models.EfficiencyScore
	decode(t, do(t, s, "/api/v1/efficiency?vehicle=V2"), &scores)
	if len(scores) != 1 || scores[0].VehicleID != "V2" {
		t.Fatalf("unexpected scores %+v", scores)
	}
}

func TestAnomalies(t *testing.T) {
	s := newTestServer(t)

	var body anomalyResponse
	env := decode(t, do(t, s, "/api/v1/anomalies"), &body)
	if env.Meta.Total != 1 || len(body.Flags) != 1 {
		t.Fatalf("expected one flag, got %+v", body.Flags)
	}
	flag := body.Flags[0]
	if flag.Index != 2 || flag.Reason != models.ReasonEngineTempHigh || flag.Value != 260 {
		t.Fatalf("unexpected flag %+v", flag)
	}
	if body.Counts[models.ReasonEngineTempHigh] != 1 {
		t.Fatalf("unexpected counts %v", body.Counts)
	}

	body = anomalyResponse{}
	decode(t, do(t, s, "/api/v1/anomalies?vehicle=V2"), &body)
	if len(body.Flags) != 0 {
		t.Fatalf("expected no flags for V2, got %+v", body.Flags)
	}
}

func TestLoadReport(t *testing.T) {
	s := newTestServer(t)

	var report models.LoadReport
	decode(t, do(t, s, "/api/v1/load-report"), &report)
	if report.Rows != 4 || report.Loaded != 4 || len(report.Dropped) != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestExport(t *testing.T) {
	s := newTestServer(t)

	rr := do(t, s, "/api/v1/export?vehicle=V1")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, ExportFilename) {
		t.Fatalf("unexpected content disposition %q", cd)
	}

	data, report, err := parser.Load(rr.Body)
	if err != nil {
		t.Fatalf("exported CSV did not load: %v", err)
	}
	if len(data) != 3 || len(report.Dropped) != 0 {
		t.Fatalf("expected 3 clean rows, got %d (dropped %v)", len(data), report.Dropped)
	}
	for _, r := range data {
		if r.VehicleID != "V1" {
			t.Fatalf("unexpected vehicle %q in export", r.VehicleID)
		}
	}
}

func TestSummaryEmptyFilter(t *testing.T) {
	s := newTestServer(t)

	rr := do(t, s, "/api/v1/summary?vehicle=V9")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var summary models.SummaryStats
	env := decode(t, rr, &summary)
	if !env.Success || summary != (models.SummaryStats{}) {
		t.Fatalf("expected zero summary, got %+v", summary)
	}
}

func TestHealthReportsSnapshotStats(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "fleet.csv")
	if err := os.WriteFile(csvPath, []byte(fixture), 0o644); err != nil {
		t.Fatal(err)
	}
	data, report, err := parser.LoadFile(csvPath)
	if err != nil {
		t.Fatal(err)
	}

	dbPath := filepath.Join(dir, "fleet.db")
	database, err := db.New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := database.ReplaceDataset(data, report); err != nil {
		t.Fatal(err)
	}
	database.Close()

	holder, err := source.NewHolder(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	s := NewServer(holder, telemetry.DefaultThresholds())

	var body struct {
		Readings int              `json:"readings"`
		Snapshot map[string]int64 `json:"snapshot"`
	}
	decode(t, do(t, s, "/health"), &body)
	if body.Readings != 4 {
		t.Fatalf("expected 4 readings, got %d", body.Readings)
	}
	if body.Snapshot["total_readings"] != 4 || body.Snapshot["total_vehicles"] != 2 {
		t.Fatalf("unexpected snapshot stats %v", body.Snapshot)
	}
}

func TestWriteResponseEncodeFailure(t *testing.T) {
	rr := httptest.NewRecorder()
	respondJSON(rr, http.StatusOK, map[string]float64{"bad": math.NaN()})

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	env := decode(t, rr, nil)
	if env.Success || env.Error == "" {
		t.Fatalf("expected error envelope, got %+v", env)
	}
}
