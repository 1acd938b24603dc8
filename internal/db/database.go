package db

import (
	"database/sql"
	"fmt"
	"time"

	"telemetry-dashboard/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

// Database wraps the SQLite connection holding dataset snapshots
type Database struct {
	conn *sql.DB
}

// New creates a new database connection
func New(dbPath string) (*Database, error) {
	// Enable WAL mode and other optimizations via connection string
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=10000", dbPath)

	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(1) // SQLite works best with single writer
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	db := &Database{conn: conn}

	if err := db.initialize(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return db, nil
}

// initialize creates tables and indexes
func (db *Database) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS readings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp_ns INTEGER NOT NULL,
		vehicle_id TEXT NOT NULL,
		speed_mph REAL NOT NULL,
		fuel_consumption_mpg REAL NOT NULL,
		engine_temp_f REAL NOT NULL,
		rpm INTEGER NOT NULL,
		distance_miles REAL NOT NULL,
		location TEXT NOT NULL,
		status TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS load_errors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source TEXT NOT NULL,
		line INTEGER NOT NULL,
		reason TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_readings_vehicle_id ON readings(vehicle_id);
	CREATE INDEX IF NOT EXISTS idx_readings_timestamp ON readings(timestamp_ns);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// Close closes the database connection
func (db *Database) Close() error {
	return db.conn.Close()
}

// ReplaceDataset swaps the stored snapshot for data and its load report.
// Readings keep their source order through the autoincrement id.
func (db *Database) ReplaceDataset(data models.Dataset, report models.LoadReport) (int64, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM readings`); err != nil {
		return 0, err
	}
	if _, err := tx.Exec(`DELETE FROM load_errors`); err != nil {
		return 0, err
	}

	stmt, err := tx.Prepare(`
		INSERT INTO readings
		(timestamp_ns, vehicle_id, speed_mph, fuel_consumption_mpg, engine_temp_f,
		 rpm, distance_miles, location, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	var count int64
	for _, r := range data {
		_, err := stmt.Exec(
			r.Timestamp.UnixNano(), r.VehicleID, r.SpeedMPH, r.FuelMPG, r.EngineTempF,
			r.RPM, r.DistanceMi, r.Location, string(r.Status),
		)
		if err != nil {
			return count, err
		}
		count++
	}

	for _, e := range report.Dropped {
		if _, err := tx.Exec(`INSERT INTO load_errors (source, line, reason) VALUES (?, ?, ?)`,
			report.Source, e.Line, e.Reason); err != nil {
			return count, err
		}
	}

	return count, tx.Commit()
}

// LoadDataset returns the stored snapshot in insertion order
func (db *Database) LoadDataset() (models.Dataset, error) {
	rows, err := db.conn.Query(`
		SELECT timestamp_ns, vehicle_id, speed_mph, fuel_consumption_mpg, engine_temp_f,
		       rpm, distance_miles, location, status
		FROM readings
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	data := models.Dataset{}
	for rows.Next() {
		var r models.Reading
		var ts int64
		var status string
		err := rows.Scan(
			&ts, &r.VehicleID, &r.SpeedMPH, &r.FuelMPG, &r.EngineTempF,
			&r.RPM, &r.DistanceMi, &r.Location, &status,
		)
		if err != nil {
			return nil, err
		}
		r.Timestamp = time.Unix(0, ts).UTC()
		r.Status = models.Status(status)
		data = append(data, r)
	}

	return data, rows.Err()
}

// LoadErrors returns the rows dropped when the snapshot was taken
func (db *Database) LoadErrors() ([]models.RowError, error) {
	rows, err := db.conn.Query(`SELECT line, reason FROM load_errors ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.RowError
	for rows.Next() {
		var e models.RowError
		if err := rows.Scan(&e.Line, &e.Reason); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetStats returns database statistics
func (db *Database) GetStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var totalRecords int64
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM readings").Scan(&totalRecords); err != nil {
		return nil, err
	}
	stats["total_readings"] = totalRecords

	var totalVehicles int64
	if err := db.conn.QueryRow("SELECT COUNT(DISTINCT vehicle_id) FROM readings").Scan(&totalVehicles); err != nil {
		return nil, err
	}
	stats["total_vehicles"] = totalVehicles

	var dropped int64
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM load_errors").Scan(&dropped); err != nil {
		return nil, err
	}
	stats["dropped_rows"] = dropped

	return stats, nil
}
