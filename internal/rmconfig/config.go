// Package rmconfig loads the matchmaking engine's tuning parameters (§6 of
// the spec) from a YAML file, the way the teacher repo's cmd/* binaries read
// deployment knobs from the environment — except here the knobs are
// numerous and structured enough to warrant a file, with os.Getenv reserved
// for the handful of per-process deployment settings (listen address, node
// id, coordinator address) that genuinely vary per invocation.
package rmconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dreamware/rankmatch/internal/backpressure"
	"github.com/dreamware/rankmatch/internal/widen"
)

// Config holds every tunable named in the spec's configuration table.
// Load decodes the YAML file over Defaults(), so fields absent from the file
// keep their default values and a minimal or empty YAML file is always valid.
type Config struct {
	RankMin                   int   `yaml:"rank_min"`
	RankMax                   int   `yaml:"rank_max"`
	PartitionCount            int   `yaml:"partition_count"`
	UserIndexShardCount       int   `yaml:"user_index_shard_count"`
	ImmediateMatchAllowedDiff int   `yaml:"immediate_match_allowed_diff"`
	WideningStepMS            int64 `yaml:"widening_step_ms"`
	WideningStepDiff          int   `yaml:"widening_step_diff"`
	WideningCap               int   `yaml:"widening_cap"`
	TickIntervalMS            int64 `yaml:"tick_interval_ms"`
	MaxTickAttempts           int   `yaml:"max_tick_attempts"`
	MaxScanRanks              int   `yaml:"max_scan_ranks"`
	RPCTimeoutMS              int64 `yaml:"rpc_timeout_ms"`
	EnqueueTimeoutMS          int64 `yaml:"enqueue_timeout_ms"`
	Backpressure              struct {
		MessageQueueLimit int `yaml:"message_queue_limit"`
		QueuedCountLimit  int `yaml:"queued_count_limit"`
	} `yaml:"backpressure"`
	Epoch int64 `yaml:"epoch"`
}

// Defaults returns a Config with production-reasonable defaults for every
// field, suitable as a baseline before applying a YAML overlay.
func Defaults() Config {
	c := Config{
		RankMin:                   0,
		RankMax:                   9999,
		PartitionCount:            4,
		UserIndexShardCount:       16,
		ImmediateMatchAllowedDiff: 50,
		WideningStepMS:            200,
		WideningStepDiff:          25,
		WideningCap:               1000,
		TickIntervalMS:            100,
		MaxTickAttempts:           8,
		MaxScanRanks:              64,
		RPCTimeoutMS:              500,
		EnqueueTimeoutMS:          1000,
		Epoch:                     1,
	}
	c.Backpressure.MessageQueueLimit = 1000
	c.Backpressure.QueuedCountLimit = 5000
	return c
}

// Load reads a YAML file at path and overlays it onto Defaults(). A missing
// file is not an error — it yields the defaults, matching the teacher's
// "getenv with fallback" philosophy extended to whole-file configuration.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("rmconfig: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("rmconfig: parse %s: %w", path, err)
	}
	return cfg, nil
}

// WideningConfig projects the widening-related fields into widen.Config.
func (c Config) WideningConfig() widen.Config {
	return widen.Config{StepMS: c.WideningStepMS, StepDiff: c.WideningStepDiff, Cap: c.WideningCap}
}

// BackpressureConfig projects the backpressure-related fields into
// backpressure.Config.
func (c Config) BackpressureConfig() backpressure.Config {
	return backpressure.Config{
		MessageQueueLimit: c.Backpressure.MessageQueueLimit,
		QueuedCountLimit:  c.Backpressure.QueuedCountLimit,
	}
}

// Getenv retrieves an environment variable with a default fallback,
// matching the teacher repo's cmd/node and cmd/coordinator helper of the
// same name/behavior.
func Getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
