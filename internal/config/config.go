// Package config loads and hot-reloads the core's tunables (§6's
// configuration table) from a YAML file, publishing atomically-swapped
// snapshots to anything holding a Watcher.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config mirrors every item in §6's configuration table.
type Config struct {
	SafetyBufferM             float64 `yaml:"safety_buffer_m"`
	UpdateHz                  float64 `yaml:"update_hz"`
	TrajectoryRetentionS      int     `yaml:"trajectory_retention_s"`
	TrajectorySlackMs         int     `yaml:"trajectory_slack_ms"`
	ProjectionHorizonS        float64 `yaml:"projection_horizon_s"`
	DedupReminderS            float64 `yaml:"dedup_reminder_s"`
	DedupClearS               float64 `yaml:"dedup_clear_s"`
	DeconflictResolutionS     float64 `yaml:"deconflict_resolution_s"`
	MaxCruiseSpeedMps         float64 `yaml:"max_cruise_speed_mps"`
	AltitudeFloorM            float64 `yaml:"altitude_floor_m"`
	DriverCommandTimeoutS     float64 `yaml:"driver_command_timeout_s"`
	MaxDrones                 int     `yaml:"max_drones"`
	LiveStalenessS            float64 `yaml:"live_staleness_s"`
	PersistenceWriteDeadlineS float64 `yaml:"persistence_write_deadline_s"`
	ShutdownDeadlineS         float64 `yaml:"shutdown_deadline_s"`
}

// Defaults returns the spec-mandated default configuration.
func Defaults() Config {
	return Config{
		SafetyBufferM:             10.0,
		UpdateHz:                  2.0,
		TrajectoryRetentionS:      3600,
		TrajectorySlackMs:         100,
		ProjectionHorizonS:        30.0,
		DedupReminderS:            5.0,
		DedupClearS:               3.0,
		DeconflictResolutionS:     0.5,
		MaxCruiseSpeedMps:         20.0,
		AltitudeFloorM:            2.0,
		DriverCommandTimeoutS:     15.0,
		MaxDrones:                 10,
		LiveStalenessS:            2.0,
		PersistenceWriteDeadlineS: 2.0,
		ShutdownDeadlineS:         5.0,
	}
}

// TickInterval returns the broadcaster/monitor tick period derived from
// UpdateHz.
func (c Config) TickInterval() time.Duration {
	if c.UpdateHz <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(float64(time.Second) / c.UpdateHz)
}

// Validate rejects configuration outside sane, non-negative bounds. A
// zero value for a field that has a meaningful positive default is
// treated as "unset, take the default" by Load, not as invalid, so
// Validate only rejects values that are actively nonsensical.
func (c Config) Validate() error {
	switch {
	case c.SafetyBufferM <= 0:
		return fmt.Errorf("config: safety_buffer_m must be positive")
	case c.UpdateHz <= 0:
		return fmt.Errorf("config: update_hz must be positive")
	case c.TrajectoryRetentionS <= 0:
		return fmt.Errorf("config: trajectory_retention_s must be positive")
	case c.ProjectionHorizonS <= 0:
		return fmt.Errorf("config: projection_horizon_s must be positive")
	case c.DeconflictResolutionS <= 0:
		return fmt.Errorf("config: deconflict_resolution_s must be positive")
	case c.MaxCruiseSpeedMps <= 0:
		return fmt.Errorf("config: max_cruise_speed_mps must be positive")
	case c.MaxDrones <= 0:
		return fmt.Errorf("config: max_drones must be positive")
	case c.DedupClearS <= 0:
		return fmt.Errorf("config: dedup_clear_s must be positive")
	case c.DedupReminderS <= 0:
		return fmt.Errorf("config: dedup_reminder_s must be positive")
	}
	return nil
}

// mergeDefaults fills any zero-valued field with the corresponding
// default, so a YAML file only needs to mention the fields it wants to
// override.
func mergeDefaults(c Config) Config {
	d := Defaults()
	if c.SafetyBufferM == 0 {
		c.SafetyBufferM = d.SafetyBufferM
	}
	if c.UpdateHz == 0 {
		c.UpdateHz = d.UpdateHz
	}
	if c.TrajectoryRetentionS == 0 {
		c.TrajectoryRetentionS = d.TrajectoryRetentionS
	}
	if c.TrajectorySlackMs == 0 {
		c.TrajectorySlackMs = d.TrajectorySlackMs
	}
	if c.ProjectionHorizonS == 0 {
		c.ProjectionHorizonS = d.ProjectionHorizonS
	}
	if c.DedupReminderS == 0 {
		c.DedupReminderS = d.DedupReminderS
	}
	if c.DedupClearS == 0 {
		c.DedupClearS = d.DedupClearS
	}
	if c.DeconflictResolutionS == 0 {
		c.DeconflictResolutionS = d.DeconflictResolutionS
	}
	if c.MaxCruiseSpeedMps == 0 {
		c.MaxCruiseSpeedMps = d.MaxCruiseSpeedMps
	}
	if c.AltitudeFloorM == 0 {
		c.AltitudeFloorM = d.AltitudeFloorM
	}
	if c.DriverCommandTimeoutS == 0 {
		c.DriverCommandTimeoutS = d.DriverCommandTimeoutS
	}
	if c.MaxDrones == 0 {
		c.MaxDrones = d.MaxDrones
	}
	if c.LiveStalenessS == 0 {
		c.LiveStalenessS = d.LiveStalenessS
	}
	if c.PersistenceWriteDeadlineS == 0 {
		c.PersistenceWriteDeadlineS = d.PersistenceWriteDeadlineS
	}
	if c.ShutdownDeadlineS == 0 {
		c.ShutdownDeadlineS = d.ShutdownDeadlineS
	}
	return c
}

// Load reads and validates a YAML config file, defaulting any field the
// file does not set. A missing file is not an error: Defaults() is
// returned as-is, letting the process run with no config file present.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Defaults(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg = mergeDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
