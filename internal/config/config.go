// Package config loads orchestrator configuration from environment
// variables: a viper instance populated with every variable in
// os.Environ() (keys lowercased, no prefix filter), then unmarshalled into
// a struct.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the environment variable prefix this process reads under.
const EnvPrefix = "" // spec §6 names the bare variable names, no prefix

// Config holds every environment input named in spec §6, plus the
// operational knobs spec §5 describes as defaults (timeouts, backoff).
type Config struct {
	EnvironmentName   string `mapstructure:"environment_name"`
	CuratedBucket     string `mapstructure:"curated_bucket"`
	GlueDatabase      string `mapstructure:"glue_database"`
	GlueTable         string `mapstructure:"glue_table"`
	AthenaWorkgroup   string `mapstructure:"athena_workgroup"`
	RedshiftWorkgroup string `mapstructure:"redshift_workgroup"`
	RedshiftDatabase  string `mapstructure:"redshift_database"`
	RequestsTable     string `mapstructure:"requests_table"`

	// Operational knobs. None of these are required by spec §6; they have
	// defaults matching spec §5.
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	QueryEngineTimeout time.Duration `mapstructure:"-"`
	WarehouseTimeout   time.Duration `mapstructure:"-"`
	RequestDeadline    time.Duration `mapstructure:"-"`
	PollInterval       time.Duration `mapstructure:"-"`
	WorkerCount        int           `mapstructure:"worker_count"`
	DeadLetterDSN      string        `mapstructure:"deadletter_dsn"`

	// Wiring knobs needed to start the process but not named by spec §6:
	// the stream to consume, the staging catalog, and Redshift cluster
	// auth. REDSHIFT_WORKGROUP is required and warehouse.Client uses the
	// workgroup whenever one is set, so RedshiftClusterID/RedshiftDBUser
	// are passed through but have no effect on a process started via Load.
	RequestsStreamArn string `mapstructure:"requests_stream_arn"`
	StagingDatabase   string `mapstructure:"staging_database"`
	RedshiftClusterID string `mapstructure:"redshift_cluster_id"`
	RedshiftDBUser    string `mapstructure:"redshift_db_user"`

	// WarehouseTable is the warehouse's vitals table (spec §4.5), a
	// distinct identifier from GlueTable — the curated dataset and the
	// warehouse's pre-aggregated table are different things with
	// different names. Required: an operator who forgets it must not
	// silently end up deleting from the wrong table.
	WarehouseTable string `mapstructure:"warehouse_table"`
}

// requiredFields lists the struct fields that spec §6 says are fatal to
// start without, paired with the env var name for the error message.
var requiredFields = []struct {
	name  string
	value func(*Config) string
}{
	{"ENVIRONMENT_NAME", func(c *Config) string { return c.EnvironmentName }},
	{"CURATED_BUCKET", func(c *Config) string { return c.CuratedBucket }},
	{"GLUE_DATABASE", func(c *Config) string { return c.GlueDatabase }},
	{"GLUE_TABLE", func(c *Config) string { return c.GlueTable }},
	{"ATHENA_WORKGROUP", func(c *Config) string { return c.AthenaWorkgroup }},
	{"REDSHIFT_WORKGROUP", func(c *Config) string { return c.RedshiftWorkgroup }},
	{"REDSHIFT_DATABASE", func(c *Config) string { return c.RedshiftDatabase }},
	{"REQUESTS_TABLE", func(c *Config) string { return c.RequestsTable }},
	{"WAREHOUSE_TABLE", func(c *Config) string { return c.WarehouseTable }},
}

// Load reads the required variables (plus optional operational knobs) from
// the process environment and validates presence of every required one.
// Absence of any required variable is a startup-time fatal error, per §6.
func Load() (*Config, error) {
	v := viper.New()
	v.SetDefault("log_level", "INFO")
	v.SetDefault("log_format", "json")
	v.SetDefault("worker_count", 4)

	for _, envStr := range os.Environ() {
		pair := strings.SplitN(envStr, "=", 2)
		if len(pair) != 2 {
			continue
		}
		key := strings.ToLower(pair[0])
		v.Set(key, pair[1])
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.QueryEngineTimeout = durationOrDefault(os.Getenv("QUERY_ENGINE_TIMEOUT_SECONDS"), 300*time.Second)
	cfg.WarehouseTimeout = durationOrDefault(os.Getenv("WAREHOUSE_TIMEOUT_SECONDS"), 120*time.Second)
	cfg.RequestDeadline = durationOrDefault(os.Getenv("REQUEST_DEADLINE_SECONDS"), 900*time.Second)
	cfg.PollInterval = durationOrDefault(os.Getenv("POLL_INTERVAL_SECONDS"), 2*time.Second)

	if cfg.StagingDatabase == "" {
		cfg.StagingDatabase = cfg.GlueDatabase + "_staging"
	}

	var missing []string
	for _, f := range requiredFields {
		if f.value(cfg) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variable(s): %s", strings.Join(missing, ", "))
	}

	return cfg, nil
}

func durationOrDefault(raw string, def time.Duration) time.Duration {
	if raw == "" {
		return def
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return def
	}
	return time.Duration(secs) * time.Second
}
