package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// Config adds beacon-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	ClaudeAPIKey          string
	ClaudeModel           string
	DatabaseURL           string
	GeocoderEndpoint      string
	SlackWebhookURL       string
	IngestToken           string
	ClusterWindowMinutes  int
	ClusterProximityDeg   float64
	ClusterMinSignals     int
	ClusterIntervalSecs   int
	ClusterConcurrency    int
	CacheTTLSeconds       int
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for accessing the Claude LLM provider")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.GeocoderEndpoint, "geocoder-endpoint", "https://nominatim.openstreetmap.org", "reverse-geocoding service base URL (empty = disabled)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for incident notifications")
	fs.StringVar(&c.IngestToken, "ingest-token", "", "bearer token required on signal ingestion endpoints (empty = no auth)")
	fs.IntVar(&c.ClusterWindowMinutes, "cluster-window-minutes", 30, "how far back a clustering pass looks for pending signals (1..1440)")
	fs.Float64Var(&c.ClusterProximityDeg, "cluster-proximity-deg", 0.05, "absolute lat/lng degree delta for bucket membership")
	fs.IntVar(&c.ClusterMinSignals, "cluster-min-signals", 2, "minimum signals for a bucket to be considered (>= 1)")
	fs.IntVar(&c.ClusterIntervalSecs, "cluster-interval-seconds", 60, "seconds between clustering passes (1..3600)")
	fs.IntVar(&c.ClusterConcurrency, "cluster-concurrency", 3, "maximum buckets reasoned over simultaneously (1..32)")
	fs.IntVar(&c.CacheTTLSeconds, "cache-ttl-seconds", 300, "reasoning cache entry TTL in seconds (1..86400)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// Claude API key is required for LLM access
	if c.ClaudeAPIKey == "" {
		errs = append(errs, errors.New("CLAUDE_API_KEY is required"))
	}

	// Claude model is required for LLM access
	if c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required"))
	}

	if c.ClusterWindowMinutes <= 0 || c.ClusterWindowMinutes > 1440 {
		errs = append(errs, fmt.Errorf("invalid CLUSTER_WINDOW_MINUTES %d (must be 1..1440)", c.ClusterWindowMinutes))
	}
	if c.ClusterProximityDeg <= 0 || c.ClusterProximityDeg > 5 {
		errs = append(errs, fmt.Errorf("invalid CLUSTER_PROXIMITY_DEG %g (must be in (0, 5])", c.ClusterProximityDeg))
	}
	if c.ClusterMinSignals < 1 {
		errs = append(errs, fmt.Errorf("invalid CLUSTER_MIN_SIGNALS %d (must be >= 1)", c.ClusterMinSignals))
	}
	if c.ClusterIntervalSecs <= 0 || c.ClusterIntervalSecs > 3600 {
		errs = append(errs, fmt.Errorf("invalid CLUSTER_INTERVAL_SECONDS %d (must be 1..3600)", c.ClusterIntervalSecs))
	}
	if c.ClusterConcurrency <= 0 || c.ClusterConcurrency > 32 {
		errs = append(errs, fmt.Errorf("invalid CLUSTER_CONCURRENCY %d (must be 1..32)", c.ClusterConcurrency))
	}
	if c.CacheTTLSeconds <= 0 || c.CacheTTLSeconds > 86400 {
		errs = append(errs, fmt.Errorf("invalid CACHE_TTL_SECONDS %d (must be 1..86400)", c.CacheTTLSeconds))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
