package main

import (
	"bytes"
	"math/rand"
	"testing"
	"time"

	"telemetry-dashboard/internal/parser"
)

func TestGenerateReadings(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	data := generateReadings(rand.New(rand.NewSource(1)), 30, 3, base)

	if len(data) != 30 {
		t.Fatalf("expected 30 readings, got %d", len(data))
	}
	if ids := data.VehicleIDs(); len(ids) != 3 {
		t.Fatalf("expected 3 vehicles, got %v", ids)
	}

	lastDistance := map[string]float64{}
	for i, r := range data {
		if !r.Status.Valid() {
			t.Fatalf("reading %d has invalid status %q", i, r.Status)
		}
		if r.DistanceMi < lastDistance[r.VehicleID] {
			t.Fatalf("reading %d: distance went backwards for %s", i, r.VehicleID)
		}
		lastDistance[r.VehicleID] = r.DistanceMi
	}

	var buf bytes.Buffer
	if err := parser.Write(&buf, data); err != nil {
		t.Fatal(err)
	}
	loaded, report, err := parser.Load(&buf)
	if err != nil {
		t.Fatalf("generated CSV did not load: %v", err)
	}
	if len(loaded) != 30 || len(report.Dropped) != 0 {
		t.Fatalf("expected 30 clean readings, got %d (dropped %v)", len(loaded), report.Dropped)
	}
}

func TestCheckGenerateArgs(t *testing.T) {
	tests := []struct {
		count, vehicles int
		wantErr         bool
	}{
		{100, 5, false},
		{0, 1, false},
		{-1, 5, true},
		{10, 0, true},
	}
	for _, tt := range tests {
		err := checkGenerateArgs(tt.count, tt.vehicles)
		if (err != nil) != tt.wantErr {
			t.Errorf("checkGenerateArgs(%d, %d) error = %v, wantErr %v", tt.count, tt.vehicles, err, tt.wantErr)
		}
	}
}

func TestFilterFlagsCriteria(t *testing.T) {
	f := filterFlags{
		vehicles: []string{"V1"},
		start:    "2024-01-01",
		end:      "2024-01-01",
	}
	c, err := f.criteria()
	if err != nil {
		t.Fatal(err)
	}
	if !c.Start.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start %v", c.Start)
	}
	if !c.End.Equal(time.Date(2024, 1, 1, 23, 59, 59, 999999999, time.UTC)) {
		t.Fatalf("unexpected end %v", c.End)
	}

	f.end = "not a time"
	if _, err := f.criteria(); err == nil {
		t.Fatal("expected error for invalid end")
	}
}
