package config

import (
	"fmt"
	"os"
	"strconv"

	"telemetry-dashboard/internal/models"
	"telemetry-dashboard/internal/telemetry"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config holds all environment-driven settings
type Config struct {
	DataPath       string
	DBPath         string
	HTTPPort       int
	ThresholdsPath string
	Watch          bool
	Thresholds     models.Thresholds
}

// thresholdsFile uses pointers so keys left out of the YAML keep their defaults
type thresholdsFile struct {
	EngineTempMax    *float64 `yaml:"engine_temp_max"`
	EngineTempZScore *float64 `yaml:"engine_temp_zscore"`
	RPMMax           *float64 `yaml:"rpm_max"`
	SpeedMax         *float64 `yaml:"speed_max"`
	FuelMPGMin       *float64 `yaml:"fuel_mpg_min"`
}

// Load reads configuration from environment and optional .env file
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		DataPath:       getenv("DASHBOARD_DATA", "data/automotive_data.csv"),
		DBPath:         getenv("DASHBOARD_DB", ""),
		HTTPPort:       clampInt(getenvInt("DASHBOARD_PORT", 8080), 1, 65535),
		ThresholdsPath: getenv("DASHBOARD_THRESHOLDS", ""),
		Watch:          getenvBool("DASHBOARD_WATCH", false),
		Thresholds:     telemetry.DefaultThresholds(),
	}

	if cfg.ThresholdsPath != "" {
		th, err := LoadThresholds(cfg.ThresholdsPath, cfg.Thresholds)
		if err != nil {
			return cfg, err
		}
		cfg.Thresholds = th
	}

	log.Debug().
		Str("data", cfg.DataPath).
		Str("db", cfg.DBPath).
		Int("port", cfg.HTTPPort).
		Str("thresholds", cfg.ThresholdsPath).
		Msg("Loaded config")
	return cfg, nil
}

// LoadThresholds overlays the YAML file at path onto base
func LoadThresholds(path string, base models.Thresholds) (models.Thresholds, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read thresholds: %w", err)
	}

	var f thresholdsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return base, fmt.Errorf("parse thresholds %s: %w", path, err)
	}

	th := base
	overlay(&th.EngineTempMax, f.EngineTempMax)
	overlay(&th.EngineTempZScore, f.EngineTempZScore)
	overlay(&th.RPMMax, f.RPMMax)
	overlay(&th.SpeedMax, f.SpeedMax)
	overlay(&th.FuelMPGMin, f.FuelMPGMin)

	for name, v := range map[string]float64{
		"engine_temp_max":    th.EngineTempMax,
		"engine_temp_zscore": th.EngineTempZScore,
		"rpm_max":            th.RPMMax,
		"speed_max":          th.SpeedMax,
		"fuel_mpg_min":       th.FuelMPGMin,
	} {
		if v < 0 {
			return base, fmt.Errorf("threshold %s cannot be negative", name)
		}
	}
	return th, nil
}

func overlay(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
