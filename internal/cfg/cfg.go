package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// Alert source kinds accepted by -alert-source.
const (
	SourceSimulated   = "simulated"
	SourceFeed        = "feed"
	SourceOpenWeather = "openweather"
)

// Config holds the application flags. It satisfies the go-core
// cfg.Registerable and cfg.Validatable interfaces.
type Config struct {
	DrainSeconds               int
	ShutdownBudgetSeconds      int
	APIPort                    int
	PollIntervalSeconds        int
	CollaboratorTimeoutSeconds int
	AlertSource                string
	FeedURL                    string
	OpenWeatherAPIKey          string
	GoogleMapsAPIKey           string
	ClaudeAPIKey               string
	ClaudeModel                string
	DatabaseURL                string
	SlackWebhookURL            string
	RegionsFile                string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.IntVar(&c.PollIntervalSeconds, "poll-interval-seconds", 10, "seconds between alert source polls (1..3600)")
	fs.IntVar(&c.CollaboratorTimeoutSeconds, "collaborator-timeout-seconds", 10, "per-call timeout for external collaborators (1..120)")
	fs.StringVar(&c.AlertSource, "alert-source", SourceSimulated, "alert source: simulated, feed or openweather")
	fs.StringVar(&c.FeedURL, "feed-url", "", "JSON alert feed URL (required for -alert-source=feed)")
	fs.StringVar(&c.OpenWeatherAPIKey, "openweather-api-key", "", "OpenWeather API key (required for -alert-source=openweather)")
	fs.StringVar(&c.GoogleMapsAPIKey, "google-maps-api-key", "", "Google Maps API key (empty = static gazetteer and shelters)")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for the Claude LLM provider (empty = heuristic planning)")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for plan notifications")
	fs.StringVar(&c.RegionsFile, "regions-file", "", "YAML region catalog (empty = built-in catalog)")
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

	if c.PollIntervalSeconds <= 0 || c.PollIntervalSeconds > 3600 {
		errs = append(errs, fmt.Errorf("invalid POLL_INTERVAL_SECONDS %d (must be 1..3600)", c.PollIntervalSeconds))
	}
	if c.CollaboratorTimeoutSeconds <= 0 || c.CollaboratorTimeoutSeconds > 120 {
		errs = append(errs, fmt.Errorf("invalid COLLABORATOR_TIMEOUT_SECONDS %d (must be 1..120)", c.CollaboratorTimeoutSeconds))
	}

	// Source-specific settings
	switch c.AlertSource {
	case SourceSimulated:
	case SourceFeed:
		if c.FeedURL == "" {
			errs = append(errs, errors.New("FEED_URL is required when ALERT_SOURCE is feed"))
		}
	case SourceOpenWeather:
		if c.OpenWeatherAPIKey == "" {
			errs = append(errs, errors.New("OPENWEATHER_API_KEY is required when ALERT_SOURCE is openweather"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid ALERT_SOURCE %q (must be simulated, feed or openweather)", c.AlertSource))
	}

	// A key without a model would leave the agents unusable
	if c.ClaudeAPIKey != "" && c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required when CLAUDE_API_KEY is set"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
