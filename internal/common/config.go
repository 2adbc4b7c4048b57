package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production" - controls test URL validation
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Logging     LoggingConfig   `toml:"logging"`
	Crawler     CrawlerConfig   `toml:"crawler"`
	Retention   RetentionConfig `toml:"retention"`
	WebSocket   WebSocketConfig `toml:"websocket"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Format     string   `toml:"format"`      // "json" or "text"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05.000")
}

// CrawlerConfig contains server-side crawler settings. Per-job limits
// (max_pages, max_depth, delays) live in the job options and are snapshotted
// onto each job at creation time.
type CrawlerConfig struct {
	UserAgent   string        `toml:"user_agent"`    // User agent sent with every fetch, includes contact URL
	MaxBodySize int           `toml:"max_body_size"` // Maximum response body size in bytes
	JobDeadline time.Duration `toml:"job_deadline"`  // Wall-clock limit for a whole job
}

// RetentionConfig controls the background sweeper that purges old jobs.
type RetentionConfig struct {
	Enabled    bool   `toml:"enabled"`
	Schedule   string `toml:"schedule"`    // Cron schedule or "@every <duration>"
	JobTTL     string `toml:"job_ttl"`     // e.g. "168h" - terminal jobs older than this are purged
	DedupGrace string `toml:"dedup_grace"` // e.g. "10m" - dedup sets cleared this long after a job turns terminal
}

// WebSocketConfig contains configuration for WebSocket event streaming
type WebSocketConfig struct {
	MinLevel        string   `toml:"min_level"`        // Minimum log level to broadcast ("debug", "info", "warn", "error")
	ExcludePatterns []string `toml:"exclude_patterns"` // Log message patterns to exclude from broadcasting
	// Throttle intervals for high-frequency events. Map of event type to duration string.
	// Example: {"progress": "1s", "time_update": "1s"}
	ThrottleIntervals map[string]string `toml:"throttle_intervals"`
}

// NewDefaultConfig creates a configuration with default values
// Technical parameters are hardcoded here for production stability.
// Only user-facing settings should be exposed in colligo.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development", // Default to development mode - allows test URLs
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",                     // Info level for production (debug|info|warn|error)
			Format: "text",                     // Human-readable text format (text|json)
			Output: []string{"stdout", "file"}, // Log to both console and file
		},
		Crawler: CrawlerConfig{
			UserAgent:   "colligo/1.0 (+https://github.com/ternarybob/colligo)",
			MaxBodySize: 10 * 1024 * 1024, // 10MB
			JobDeadline: 5 * time.Minute,
		},
		Retention: RetentionConfig{
			Enabled:    true,
			Schedule:   "@every 1h",
			JobTTL:     "168h", // One week
			DedupGrace: "10m",
		},
		WebSocket: WebSocketConfig{
			MinLevel: "info", // Default: info level and above
			ExcludePatterns: []string{
				"WebSocket client connected",
				"WebSocket client disconnected",
				"HTTP request",
				"HTTP response",
			},
			// Throttle high-frequency events to prevent WebSocket flooding during large crawls
			ThrottleIntervals: map[string]string{
				"progress":    "1s", // Max 1 progress update per second per job
				"time_update": "1s",
			},
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env -> CLI
// Priority system: CLI flags > Environment variables > Config file > Defaults
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env -> CLI
// Later files override earlier files. Priority system: CLI flags > Environment variables > Last config file > ... > First config file > Defaults
// Example: LoadFromFiles("base.toml", "override.toml") - override.toml settings take precedence over base.toml
func LoadFromFiles(paths ...string) (*Config, error) {
	// Start with defaults
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier files)
	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		// Unmarshal into config (merges with existing values, later values override)
		err = toml.Unmarshal(data, config)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	// Apply environment variables (overrides all file configs)
	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	// Environment configuration (highest priority: COLLIGO_ENV, fallback: GO_ENV)
	if env := os.Getenv("COLLIGO_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("COLLIGO_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("COLLIGO_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage configuration
	if badgerPath := os.Getenv("COLLIGO_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if reset := os.Getenv("COLLIGO_BADGER_RESET_ON_STARTUP"); reset != "" {
		if r, err := strconv.ParseBool(reset); err == nil {
			config.Storage.Badger.ResetOnStartup = r
		}
	}

	// Logging configuration
	if level := os.Getenv("COLLIGO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("COLLIGO_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("COLLIGO_LOG_OUTPUT"); output != "" {
		// Split comma-separated output types
		outputs := []string{}
		for _, o := range splitString(output, ",") {
			trimmed := trimSpace(o)
			if trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Crawler configuration
	if userAgent := os.Getenv("COLLIGO_CRAWLER_USER_AGENT"); userAgent != "" {
		config.Crawler.UserAgent = userAgent
	}
	if maxBodySize := os.Getenv("COLLIGO_CRAWLER_MAX_BODY_SIZE"); maxBodySize != "" {
		if mbs, err := strconv.Atoi(maxBodySize); err == nil {
			config.Crawler.MaxBodySize = mbs
		}
	}
	if jobDeadline := os.Getenv("COLLIGO_CRAWLER_JOB_DEADLINE"); jobDeadline != "" {
		if jd, err := time.ParseDuration(jobDeadline); err == nil {
			config.Crawler.JobDeadline = jd
		}
	}

	// Retention configuration
	if enabled := os.Getenv("COLLIGO_RETENTION_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Retention.Enabled = e
		}
	}
	if schedule := os.Getenv("COLLIGO_RETENTION_SCHEDULE"); schedule != "" {
		config.Retention.Schedule = schedule
	}
	if jobTTL := os.Getenv("COLLIGO_RETENTION_JOB_TTL"); jobTTL != "" {
		if _, err := time.ParseDuration(jobTTL); err == nil {
			config.Retention.JobTTL = jobTTL
		}
	}
	if dedupGrace := os.Getenv("COLLIGO_RETENTION_DEDUP_GRACE"); dedupGrace != "" {
		if _, err := time.ParseDuration(dedupGrace); err == nil {
			config.Retention.DedupGrace = dedupGrace
		}
	}

	// WebSocket configuration
	if minLevel := os.Getenv("COLLIGO_WEBSOCKET_MIN_LEVEL"); minLevel != "" {
		config.WebSocket.MinLevel = minLevel
	}
	if excludePatterns := os.Getenv("COLLIGO_WEBSOCKET_EXCLUDE_PATTERNS"); excludePatterns != "" {
		// Split comma-separated patterns
		patterns := []string{}
		for _, p := range splitString(excludePatterns, ",") {
			trimmed := trimSpace(p)
			if trimmed != "" {
				patterns = append(patterns, trimmed)
			}
		}
		if len(patterns) > 0 {
			config.WebSocket.ExcludePatterns = patterns
		}
	}
	if progressThrottle := os.Getenv("COLLIGO_WEBSOCKET_THROTTLE_PROGRESS"); progressThrottle != "" {
		// Parse duration string (e.g., "2s", "1500ms")
		if _, err := time.ParseDuration(progressThrottle); err == nil {
			if config.WebSocket.ThrottleIntervals == nil {
				config.WebSocket.ThrottleIntervals = make(map[string]string)
			}
			config.WebSocket.ThrottleIntervals["progress"] = progressThrottle
		}
	}
	if timeUpdateThrottle := os.Getenv("COLLIGO_WEBSOCKET_THROTTLE_TIME_UPDATE"); timeUpdateThrottle != "" {
		if _, err := time.ParseDuration(timeUpdateThrottle); err == nil {
			if config.WebSocket.ThrottleIntervals == nil {
				config.WebSocket.ThrottleIntervals = make(map[string]string)
			}
			config.WebSocket.ThrottleIntervals["time_update"] = timeUpdateThrottle
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	// Command-line flags have highest priority
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// JobTTLDuration parses the retention job TTL, falling back to one week.
func (c *Config) JobTTLDuration() time.Duration {
	if d, err := time.ParseDuration(c.Retention.JobTTL); err == nil && d > 0 {
		return d
	}
	return 168 * time.Hour
}

// DedupGraceDuration parses the dedup grace period, falling back to ten minutes.
func (c *Config) DedupGraceDuration() time.Duration {
	if d, err := time.ParseDuration(c.Retention.DedupGrace); err == nil && d > 0 {
		return d
	}
	return 10 * time.Minute
}

// Helper functions for string manipulation
func splitString(s, sep string) []string {
	result := []string{}
	start := 0
	for i := 0; i < len(s); i++ {
		if i+len(sep) <= len(s) && s[i:i+len(sep)] == sep {
			result = append(result, s[start:i])
			start = i + len(sep)
			i = start - 1
		}
	}
	result = append(result, s[start:])
	return result
}

func trimSpace(s string) string {
	start := 0
	end := len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t' || s[start] == '\n' || s[start] == '\r') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t' || s[end-1] == '\n' || s[end-1] == '\r') {
		end--
	}
	return s[start:end]
}

// ValidateSchedule validates a retention schedule expression. Accepts the
// cron "@every <duration>" shorthand or a standard 5-field cron expression
// with a minimum 5-minute interval.
func ValidateSchedule(schedule string) error {
	if strings.HasPrefix(schedule, "@") {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		if _, err := parser.Parse(schedule); err != nil {
			return fmt.Errorf("invalid schedule descriptor: %w", err)
		}
		return nil
	}

	// Parse the cron expression
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser.Parse(schedule)
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	// Check for minimum 5-minute interval
	// Validate minute field (first field in standard cron)
	parts := strings.Fields(schedule)
	if len(parts) < 5 {
		return fmt.Errorf("invalid cron format: expected 5 fields")
	}

	minuteField := parts[0]

	// Check for patterns that violate 5-minute minimum
	if minuteField == "*" {
		return fmt.Errorf("schedule must have minimum 5-minute interval (every minute is not allowed)")
	}

	// Check for */n patterns where n < 5
	if strings.HasPrefix(minuteField, "*/") {
		intervalStr := strings.TrimPrefix(minuteField, "*/")
		interval, err := strconv.Atoi(intervalStr)
		if err == nil && interval < 5 {
			return fmt.Errorf("schedule interval must be at least 5 minutes, got %d", interval)
		}
	}

	return nil
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// AllowTestURLs returns true if test URLs (localhost, 127.0.0.1, etc.) are allowed
// Test URLs are only allowed in development mode
func (c *Config) AllowTestURLs() bool {
	return !c.IsProduction()
}

// DeepCloneConfig creates a deep copy of the Config struct
// This prevents handlers from mutating the shared application config.
func DeepCloneConfig(c *Config) *Config {
	if c == nil {
		return nil
	}

	// Clone the config struct (shallow copy first)
	clone := *c

	// Deep clone slice fields to prevent shared memory
	if len(c.Logging.Output) > 0 {
		clone.Logging.Output = make([]string, len(c.Logging.Output))
		copy(clone.Logging.Output, c.Logging.Output)
	}

	if len(c.WebSocket.ExcludePatterns) > 0 {
		clone.WebSocket.ExcludePatterns = make([]string, len(c.WebSocket.ExcludePatterns))
		copy(clone.WebSocket.ExcludePatterns, c.WebSocket.ExcludePatterns)
	}

	if len(c.WebSocket.ThrottleIntervals) > 0 {
		clone.WebSocket.ThrottleIntervals = make(map[string]string, len(c.WebSocket.ThrottleIntervals))
		for k, v := range c.WebSocket.ThrottleIntervals {
			clone.WebSocket.ThrottleIntervals[k] = v
		}
	}

	return &clone
}
