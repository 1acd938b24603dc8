package parser

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"telemetry-dashboard/internal/models"

	"github.com/gocarina/gocsv"
	"github.com/rs/zerolog/log"
)

// ErrSchema is returned when the CSV header does not match the expected columns
var ErrSchema = errors.New("csv schema mismatch")

// ExportTimeLayout is the timestamp layout written by Write
const ExportTimeLayout = "2006-01-02 15:04:05.999999999"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// csvRow mirrors one CSV line before validation
type csvRow struct {
	Timestamp   string `csv:"timestamp"`
	VehicleID   string `csv:"vehicle_id"`
	SpeedMPH    string `csv:"speed_mph"`
	FuelMPG     string `csv:"fuel_consumption_mpg"`
	EngineTempF string `csv:"engine_temp_f"`
	RPM         string `csv:"rpm"`
	DistanceMi  string `csv:"distance_miles"`
	Location    string `csv:"location"`
	Status      string `csv:"status"`
}

// LoadFile reads a telemetry CSV file into a dataset
func LoadFile(filename string) (models.Dataset, models.LoadReport, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, models.LoadReport{Source: filename}, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	data, report, err := Load(file)
	report.Source = filename
	return data, report, err
}

// Load reads telemetry CSV from r. Rows that fail validation are dropped
// and listed in the report; a bad header is fatal.
func Load(r io.Reader) (models.Dataset, models.LoadReport, error) {
	var report models.LoadReport

	body, err := io.ReadAll(r)
	if err != nil {
		return nil, report, fmt.Errorf("failed to read input: %w", err)
	}
	body = bytes.TrimPrefix(body, utf8BOM)

	header, err := csv.NewReader(bytes.NewReader(body)).Read()
	if err != nil {
		return nil, report, fmt.Errorf("failed to read header: %w", err)
	}
	if err := validateHeader(header); err != nil {
		return nil, report, err
	}

	shapes, err := recordShapes(body)
	if err != nil {
		return nil, report, fmt.Errorf("failed to parse csv: %w", err)
	}

	var rows []csvRow
	if err := gocsv.UnmarshalCSV(newReader(body), &rows); err != nil {
		return nil, report, fmt.Errorf("failed to parse csv: %w", err)
	}
	if len(rows) != len(shapes) {
		return nil, report, fmt.Errorf("failed to parse csv: decoded %d rows, read %d records", len(rows), len(shapes))
	}

	data := make(models.Dataset, 0, len(rows))
	for i, row := range rows {
		shape := shapes[i]
		reading, err := row.toReading()
		if shape.fields != len(header) {
			err = fmt.Errorf("expected %d fields, got %d", len(header), shape.fields)
		}
		if err != nil {
			log.Warn().Int("line", shape.line).Err(err).Msg("Dropping malformed row")
			report.Dropped = append(report.Dropped, models.RowError{Line: shape.line, Reason: err.Error()})
			continue
		}
		data = append(data, reading)
	}

	report.Rows = len(rows)
	report.Loaded = len(data)
	return data, report, nil
}

// newReader tolerates ragged rows and stray quotes so they reach row validation
func newReader(body []byte) *csv.Reader {
	reader := csv.NewReader(bytes.NewReader(body))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	return reader
}

type recordShape struct {
	line   int
	fields int
}

// recordShapes returns the starting line and field count of every data record
func recordShapes(body []byte) ([]recordShape, error) {
	reader := newReader(body)
	if _, err := reader.Read(); err != nil {
		return nil, err
	}

	var shapes []recordShape
	for {
		record, err := reader.Read()
		if err == io.EOF {
			return shapes, nil
		}
		if err != nil {
			return nil, err
		}
		line, _ := reader.FieldPos(0)
		shapes = append(shapes, recordShape{line: line, fields: len(record)})
	}
}

func validateHeader(header []string) error {
	want := make(map[string]bool, len(models.Columns))
	for _, c := range models.Columns {
		want[c] = true
	}

	var problems []string
	seen := make(map[string]bool, len(header))
	for _, h := range header {
		if !want[h] {
			problems = append(problems, fmt.Sprintf("unexpected column %q", h))
			continue
		}
		if seen[h] {
			problems = append(problems, fmt.Sprintf("duplicate column %q", h))
		}
		seen[h] = true
	}
	for _, c := range models.Columns {
		if !seen[c] {
			problems = append(problems, fmt.Sprintf("missing column %q", c))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrSchema, strings.Join(problems, ", "))
	}
	return nil
}

// toReading validates a raw row and converts it to a typed reading
func (row csvRow) toReading() (models.Reading, error) {
	var t models.Reading
	var err error

	tsStr := strings.TrimSpace(row.Timestamp)
	if tsStr == "" {
		return t, fmt.Errorf("missing timestamp")
	}
	t.Timestamp, err = ParseTimestamp(tsStr)
	if err != nil {
		return t, fmt.Errorf("invalid timestamp: %w", err)
	}

	t.VehicleID = strings.TrimSpace(row.VehicleID)
	if t.VehicleID == "" {
		return t, fmt.Errorf("missing vehicle_id")
	}

	if t.SpeedMPH, err = parseNonNegative("speed_mph", row.SpeedMPH); err != nil {
		return t, err
	}
	if t.FuelMPG, err = parseNonNegative("fuel_consumption_mpg", row.FuelMPG); err != nil {
		return t, err
	}
	if t.EngineTempF, err = parseNumber("engine_temp_f", row.EngineTempF); err != nil {
		return t, err
	}
	if t.DistanceMi, err = parseNonNegative("distance_miles", row.DistanceMi); err != nil {
		return t, err
	}

	rpm, err := parseNonNegative("rpm", row.RPM)
	if err != nil {
		return t, err
	}
	if rpm != math.Trunc(rpm) || rpm > math.MaxInt32 {
		return t, fmt.Errorf("rpm must be a whole number: %s", row.RPM)
	}
	t.RPM = int(rpm)

	t.Location = strings.TrimSpace(row.Location)
	t.Status = models.Status(strings.ToLower(strings.TrimSpace(row.Status)))
	if !t.Status.Valid() {
		return t, fmt.Errorf("unknown status: %q", row.Status)
	}

	return t, nil
}

func parseNumber(field, s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("missing %s", field)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%s is not a number: %s", field, s)
	}
	return v, nil
}

func parseNonNegative(field, s string) (float64, error) {
	v, err := parseNumber(field, s)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, fmt.Errorf("%s cannot be negative: %s", field, s)
	}
	return v, nil
}

// ParseTimestamp tries multiple timestamp formats and returns the time in UTC.
// Timestamps without a zone are read as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"2006/01/02 15:04:05",
		"01/02/2006 15:04:05",
		"2006-01-02",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t.UTC(), nil
		}
	}

	// Try Unix timestamp
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(ts, 0).UTC(), nil
	}

	return time.Time{}, fmt.Errorf("unable to parse timestamp: %s", s)
}

// ParseBound parses a filter range bound. A plain date as an end bound
// covers the whole day.
func ParseBound(s string, end bool) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if d, err := time.Parse("2006-01-02", s); err == nil {
		if end {
			return d.Add(24*time.Hour - time.Nanosecond), nil
		}
		return d, nil
	}
	return ParseTimestamp(s)
}

// Write encodes the dataset as CSV in canonical column order
func Write(w io.Writer, data models.Dataset) error {
	rows := make([]csvRow, 0, len(data))
	for _, r := range data {
		rows = append(rows, fromReading(r))
	}
	if err := gocsv.Marshal(&rows, w); err != nil {
		return fmt.Errorf("failed to write csv: %w", err)
	}
	return nil
}

// WriteFile writes the dataset to a CSV file
func WriteFile(filename string, data models.Dataset) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("error creating output file: %w", err)
	}
	if err := Write(file, data); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func fromReading(r models.Reading) csvRow {
	return csvRow{
		Timestamp:   r.Timestamp.UTC().Format(ExportTimeLayout),
		VehicleID:   r.VehicleID,
		SpeedMPH:    formatFloat(r.SpeedMPH),
		FuelMPG:     formatFloat(r.FuelMPG),
		EngineTempF: formatFloat(r.EngineTempF),
		RPM:         strconv.Itoa(r.RPM),
		DistanceMi:  formatFloat(r.DistanceMi),
		Location:    r.Location,
		Status:      string(r.Status),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
