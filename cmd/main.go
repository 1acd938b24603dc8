package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"telemetry-dashboard/internal/api"
	"telemetry-dashboard/internal/config"
	"telemetry-dashboard/internal/db"
	"telemetry-dashboard/internal/models"
	"telemetry-dashboard/internal/parser"
	"telemetry-dashboard/internal/source"
	"telemetry-dashboard/internal/telemetry"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	cfg      config.Config
	dataPath string
	dbPath   string
)

func main() {
	setupLogging()

	var err error
	if cfg, err = config.Load(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	rootCmd := &cobra.Command{
		Use:   "telemetry-dashboard",
		Short: "Automotive telemetry dashboard - load, filter, aggregate and inspect vehicle data",
		Long: `A CLI tool for exploring automotive telemetry exported as CSV.
Filters readings by vehicle, location and time, builds hourly or daily
aggregates, flags readings that break operating thresholds and serves
the same views over a REST API.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&dataPath, "data", cfg.DataPath, "Path to telemetry CSV")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", cfg.DBPath, "Path to SQLite snapshot (read instead of --data when set)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(queryCmd())
	rootCmd.AddCommand(aggregateCmd())
	rootCmd.AddCommand(anomaliesCmd())
	rootCmd.AddCommand(summaryCmd())
	rootCmd.AddCommand(vehiclesCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(generateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogging() {
	if os.Getenv("DASHBOARD_LOG_FORMAT") != "JSON" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DASHBOARD_DEBUG") == "YES" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// sourcePath returns the snapshot when one is configured, otherwise the CSV
func sourcePath() string {
	if dbPath != "" {
		return dbPath
	}
	return dataPath
}

func loadDataset() (models.Dataset, models.LoadReport, error) {
	data, report, err := source.Load(sourcePath())
	if err != nil {
		return nil, report, fmt.Errorf("load error: %w", err)
	}
	return data, report, nil
}

type filterFlags struct {
	vehicles  []string
	locations []string
	start     string
	end       string
}

func (f *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&f.vehicles, "vehicle", "V", nil, "Filter by vehicle ID (repeatable or comma separated)")
	cmd.Flags().StringSliceVarP(&f.locations, "location", "L", nil, "Filter by location (repeatable or comma separated)")
	cmd.Flags().StringVarP(&f.start, "start", "s", "", "Start time, inclusive")
	cmd.Flags().StringVarP(&f.end, "end", "e", "", "End time, inclusive")
}

func (f *filterFlags) criteria() (models.FilterCriteria, error) {
	c := models.FilterCriteria{VehicleIDs: f.vehicles, Locations: f.locations}

	var err error
	if c.Start, err = parser.ParseBound(f.start, false); err != nil {
		return c, fmt.Errorf("invalid start: %w", err)
	}
	if c.End, err = parser.ParseBound(f.end, true); err != nil {
		return c, fmt.Errorf("invalid end: %w", err)
	}
	return c, nil
}

// filtered loads the dataset and applies the command's filter flags
func (f *filterFlags) filtered() (models.Dataset, error) {
	c, err := f.criteria()
	if err != nil {
		return nil, err
	}
	data, _, err := loadDataset()
	if err != nil {
		return nil, err
	}
	return telemetry.Filter(data, c)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// serveCmd starts the REST API server
func serveCmd() *cobra.Command {
	var port int
	var watch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the REST API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			holder, err := source.NewHolder(sourcePath())
			if err != nil {
				return fmt.Errorf("load error: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if watch {
				if err := holder.Watch(ctx); err != nil {
					return fmt.Errorf("watch error: %w", err)
				}
			}

			server := api.NewServer(holder, cfg.Thresholds)
			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", port),
				Handler:           server.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()

			log.Info().
				Str("addr", srv.Addr).
				Str("source", holder.Path()).
				Bool("watch", watch).
				Msg("Telemetry dashboard API listening")

			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			log.Info().Msg("Server stopped")
			return nil
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", cfg.HTTPPort, "Server port")
	cmd.Flags().BoolVarP(&watch, "watch", "w", cfg.Watch, "Reload the dataset when the source file changes")
	return cmd
}

// ingestCmd loads a CSV and stores it as a SQLite snapshot
func ingestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Load a telemetry CSV into the SQLite snapshot",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				return fmt.Errorf("--db is required for ingest")
			}
			file := dataPath
			if len(args) == 1 {
				file = args[0]
			}

			start := time.Now()
			data, report, err := parser.LoadFile(file)
			if err != nil {
				return fmt.Errorf("load error: %w", err)
			}

			database, err := db.New(dbPath)
			if err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			count, err := database.ReplaceDataset(data, report)
			if err != nil {
				return fmt.Errorf("database error: %w", err)
			}

			elapsed := time.Since(start)
			fmt.Printf("✓ Stored %d readings from %s in %v", count, file, elapsed)
			if len(report.Dropped) > 0 {
				fmt.Printf(", %d rows dropped", len(report.Dropped))
			}
			fmt.Println()
			return nil
		},
	}
	return cmd
}

// queryCmd prints filtered readings
func queryCmd() *cobra.Command {
	var filter filterFlags
	var limit int
	var outputFormat string

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query telemetry readings",
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			results, err := filter.filtered()
			if err != nil {
				return err
			}
			elapsed := time.Since(start)

			total := len(results)
			if limit > 0 && limit < len(results) {
				results = results[:limit]
			}

			switch outputFormat {
			case "json":
				return printJSON(results)
			default:
				fmt.Printf("Found %d records (query time: %v)\n\n", total, elapsed)
				for _, r := range results {
					fmt.Printf("[%s] Vehicle: %s | %s | Speed: %.1f mph | Fuel: %.1f mpg | Temp: %.1f°F | RPM: %d | Dist: %.1f mi | %s\n",
						r.Timestamp.Format("2006-01-02 15:04:05"),
						r.VehicleID, r.Location, r.SpeedMPH, r.FuelMPG,
						r.EngineTempF, r.RPM, r.DistanceMi, r.Status)
				}
			}
			return nil
		},
	}

	filter.register(cmd)
	cmd.Flags().IntVarP(&limit, "limit", "l", 100, "Maximum records to print (0 for all)")
	cmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json)")
	return cmd
}

// aggregateCmd prints time bucketed statistics
func aggregateCmd() *cobra.Command {
	var filter filterFlags
	var granularity string
	var perVehicle bool
	var outputFormat string

	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Aggregate readings into hourly or daily buckets",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := telemetry.ParseGranularity(granularity)
			if err != nil {
				return err
			}
			data, err := filter.filtered()
			if err != nil {
				return err
			}

			aggregate := telemetry.Aggregate
			if perVehicle {
				aggregate = telemetry.AggregatePerVehicle
			}
			buckets, err := aggregate(data, g)
			if err != nil {
				return err
			}

			if outputFormat == "json" {
				return printJSON(buckets)
			}

			fmt.Printf("%-20s %-10s %6s %10s %10s %10s %10s %10s\n",
				"Bucket", "Vehicle", "Count", "Speed", "Fuel", "TempMean", "TempMax", "RPM")
			fmt.Println(strings.Repeat("-", 92))
			for _, b := range buckets {
				vehicle := b.VehicleID
				if vehicle == "" {
					vehicle = "*"
				}
				fmt.Printf("%-20s %-10s %6d %10.1f %10.1f %10.1f %10.1f %10.0f\n",
					b.Start.Format("2006-01-02 15:04"), vehicle, b.Count,
					b.SpeedMPH.Mean, b.FuelMPG.Mean, b.EngineTempF.Mean,
					b.EngineTempF.Max, b.RPM.Mean)
			}
			return nil
		},
	}

	filter.register(cmd)
	cmd.Flags().StringVarP(&granularity, "granularity", "g", string(models.Hourly), "Bucket width (hourly, daily)")
	cmd.Flags().BoolVar(&perVehicle, "per-vehicle", false, "Bucket each vehicle separately")
	cmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json)")
	return cmd
}

// anomaliesCmd prints readings that break operating thresholds
func anomaliesCmd() *cobra.Command {
	var filter filterFlags
	var thresholdsPath string
	var outputFormat string

	cmd := &cobra.Command{
		Use:   "anomalies",
		Short: "Flag readings that break operating thresholds",
		RunE: func(cmd *cobra.Command, args []string) error {
			th := cfg.Thresholds
			if thresholdsPath != "" {
				var err error
				if th, err = config.LoadThresholds(thresholdsPath, th); err != nil {
					return err
				}
			}

			data, err := filter.filtered()
			if err != nil {
				return err
			}
			flags := telemetry.DetectAnomalies(data, th)

			if outputFormat == "json" {
				return printJSON(flags)
			}

			fmt.Printf("⚠️  %d anomalies in %d readings\n\n", len(flags), len(data))
			for _, f := range flags {
				fmt.Printf("[%s] Vehicle: %s | %-20s value %.1f (threshold %.1f)\n",
					f.Reading.Timestamp.Format("2006-01-02 15:04:05"),
					f.Reading.VehicleID, f.Reason, f.Value, f.Threshold)
			}
			if len(flags) > 0 {
				fmt.Println()
				counts := telemetry.CountByReason(flags)
				for _, reason := range []models.AnomalyReason{
					models.ReasonEngineTempHigh,
					models.ReasonEngineTempOutlier,
					models.ReasonRPMOutOfRange,
					models.ReasonSpeedHigh,
					models.ReasonFuelEfficiencyLow,
				} {
					if counts[reason] > 0 {
						fmt.Printf("  %-22s %d\n", reason, counts[reason])
					}
				}
			}
			return nil
		},
	}

	filter.register(cmd)
	cmd.Flags().StringVarP(&thresholdsPath, "thresholds", "t", "", "YAML file overriding anomaly thresholds")
	cmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json)")
	return cmd
}

// summaryCmd shows headline statistics
func summaryCmd() *cobra.Command {
	var filter filterFlags

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show headline statistics for the filtered dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := filter.criteria()
			if err != nil {
				return err
			}
			all, report, err := loadDataset()
			if err != nil {
				return err
			}
			data, err := telemetry.Filter(all, c)
			if err != nil {
				return err
			}
			s := telemetry.Summarize(data)

			fmt.Println("📊 Telemetry Summary")
			fmt.Println("====================")
			fmt.Printf("  Source:           %s\n", report.Source)
			fmt.Printf("  Rows Loaded:      %d of %d (%d dropped)\n", report.Loaded, report.Rows, len(report.Dropped))
			fmt.Printf("  Total Records:    %d\n", s.TotalRecords)
			fmt.Printf("  Unique Vehicles:  %d\n", s.UniqueVehicles)
			fmt.Printf("  Average Speed:    %.1f mph\n", s.AvgSpeed)
			fmt.Printf("  Avg Fuel:         %.1f mpg\n", s.AvgFuelConsumption)
			fmt.Printf("  Avg Engine Temp:  %.1f°F\n", s.AvgEngineTemp)
			fmt.Printf("  Total Distance:   %.1f mi\n", s.TotalDistance)

			if first, last, ok := data.TimeSpan(); ok {
				fmt.Printf("  Time Span:        %s - %s\n",
					first.Format("2006-01-02 15:04:05"), last.Format("2006-01-02 15:04:05"))
			}

			if dbPath != "" {
				stats, err := source.SnapshotStats(dbPath)
				if err != nil {
					return fmt.Errorf("error getting snapshot stats: %w", err)
				}
				fmt.Println()
				fmt.Printf("  Snapshot:         %s\n", dbPath)
				fmt.Printf("  Stored Readings:  %v\n", stats["total_readings"])
				fmt.Printf("  Stored Vehicles:  %v\n", stats["total_vehicles"])
				fmt.Printf("  Dropped Rows:     %v\n", stats["dropped_rows"])
			}
			return nil
		},
	}

	filter.register(cmd)
	return cmd
}

// vehiclesCmd lists vehicles with their statistics
func vehiclesCmd() *cobra.Command {
	var filter filterFlags

	cmd := &cobra.Command{
		Use:   "vehicles",
		Short: "List vehicles with per-vehicle statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := filter.filtered()
			if err != nil {
				return err
			}

			stats := telemetry.AggregateByVehicle(data)
			if len(stats) == 0 {
				fmt.Println("No vehicles found. Use 'telemetry-dashboard generate' to create sample data.")
				return nil
			}

			fmt.Printf("%-10s %8s %10s %10s %10s %10s %12s %-12s\n",
				"ID", "Records", "AvgSpeed", "MaxSpeed", "AvgFuel", "AvgTemp", "MaxDistance", "Location")
			fmt.Println(strings.Repeat("-", 90))
			for _, v := range stats {
				fmt.Printf("%-10s %8d %10.1f %10.1f %10.1f %10.1f %12.1f %-12s\n",
					v.VehicleID, v.Count, v.SpeedMean, v.SpeedMax, v.FuelMean,
					v.EngineTempMean, v.DistanceMax, v.FirstLocation)
			}
			return nil
		},
	}

	filter.register(cmd)
	return cmd
}

// exportCmd writes the filtered dataset as CSV
func exportCmd() *cobra.Command {
	var filter filterFlags
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export filtered readings as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := filter.filtered()
			if err != nil {
				return err
			}

			if output == "-" {
				return parser.Write(os.Stdout, data)
			}
			if err := parser.WriteFile(output, data); err != nil {
				return err
			}
			fmt.Printf("✓ Exported %d readings to %s\n", len(data), output)
			return nil
		},
	}

	filter.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", api.ExportFilename, "Output file (- for stdout)")
	return cmd
}

// generateCmd writes a synthetic telemetry CSV
func generateCmd() *cobra.Command {
	var count int
	var vehicleCount int
	var seed int64
	var output string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate sample telemetry data",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkGenerateArgs(count, vehicleCount); err != nil {
				return err
			}
			if output == "" {
				output = dataPath
			}

			rng := rand.New(rand.NewSource(seed))
			data := generateReadings(rng, count, vehicleCount, time.Now().UTC().Add(-24*time.Hour).Truncate(time.Hour))

			start := time.Now()
			if err := parser.WriteFile(output, data); err != nil {
				return err
			}
			fmt.Printf("✓ Generated %d readings for %d vehicles in %v -> %s\n",
				len(data), vehicleCount, time.Since(start), output)
			return nil
		},
	}

	cmd.Flags().IntVarP(&count, "count", "c", 1000, "Number of readings to generate")
	cmd.Flags().IntVarP(&vehicleCount, "vehicles", "n", 5, "Number of vehicles")
	cmd.Flags().Int64Var(&seed, "seed", time.Now().UnixNano(), "Random seed")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output CSV (defaults to --data)")
	return cmd
}

func checkGenerateArgs(count, vehicleCount int) error {
	if vehicleCount < 1 {
		return fmt.Errorf("--vehicles must be at least 1")
	}
	if count < 0 {
		return fmt.Errorf("--count cannot be negative")
	}
	return nil
}

// generateReadings produces round-robin readings one minute apart per vehicle
func generateReadings(rng *rand.Rand, count, vehicleCount int, base time.Time) models.Dataset {
	locations := []string{"New York", "Los Angeles", "Chicago", "Houston", "Phoenix"}

	type vehicleState struct {
		id       string
		location string
		distance float64
	}
	vehicles := make([]*vehicleState, vehicleCount)
	for i := range vehicles {
		vehicles[i] = &vehicleState{
			id:       fmt.Sprintf("V%03d", i+1),
			location: locations[rng.Intn(len(locations))],
		}
	}

	data := make(models.Dataset, 0, count)
	for i := 0; i < count; i++ {
		v := vehicles[i%vehicleCount]
		ts := base.Add(time.Duration(i/vehicleCount) * time.Minute)

		r := models.Reading{
			Timestamp: ts,
			VehicleID: v.id,
			Location:  v.location,
			Status:    models.StatusNormal,
		}
		if rng.Float64() < 0.1 {
			r.Status = models.StatusIdle
			r.RPM = 650 + rng.Intn(150)
			r.EngineTempF = round1(170 + rng.Float64()*15)
			r.FuelMPG = round1(20 + rng.Float64()*5)
		} else {
			r.SpeedMPH = round1(25 + rng.Float64()*45)
			r.RPM = 1500 + rng.Intn(2000)
			r.EngineTempF = round1(185 + rng.Float64()*25)
			r.FuelMPG = round1(22 + rng.Float64()*12)
			v.distance += r.SpeedMPH / 60
		}
		r.DistanceMi = round1(v.distance)
		data = append(data, r)
	}
	return data
}

func round1(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}
