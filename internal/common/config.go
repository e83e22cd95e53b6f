package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment  string             `toml:"environment"` // "development" or "production"
	Server       ServerConfig       `toml:"server"`
	Storage      StorageConfig      `toml:"storage"`
	Logging      LoggingConfig      `toml:"logging"`
	Auth         AuthConfig         `toml:"auth"`
	GitHub       GitHubConfig       `toml:"github"`
	Gemini       GeminiConfig       `toml:"gemini"`
	Claude       ClaudeConfig       `toml:"claude"`
	LLM          LLMConfig          `toml:"llm"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Scheduler    SchedulerConfig    `toml:"scheduler"`
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
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05")
}

// AuthConfig configures the API key identity check. An empty key list
// leaves the API open, which is the expected posture for local development.
type AuthConfig struct {
	APIKeys []string `toml:"api_keys"`
}

// GitHubConfig configures the hosting client
type GitHubConfig struct {
	Token            string   `toml:"token"`             // Personal access token
	RequestTimeout   string   `toml:"request_timeout"`   // e.g., "30s"
	RequestsPerSec   float64  `toml:"requests_per_sec"`  // Client-side rate limit
	MaxFileBytes     int      `toml:"max_file_bytes"`    // Per-file content cap, excess is truncated and flagged
	MaxFiles         int      `toml:"max_files"`         // Repository scan file limit
	MaxDepth         int      `toml:"max_depth"`         // Repository scan path depth limit
	SourceExtensions []string `toml:"source_extensions"` // Extensions included in repository scans
}

// GeminiConfig configures the Gemini analysis provider
type GeminiConfig struct {
	APIKey         string  `toml:"api_key"`
	Model          string  `toml:"model"`
	Timeout        string  `toml:"timeout"` // e.g., "120s"
	Temperature    float32 `toml:"temperature"`
	RequestsPerSec float64 `toml:"requests_per_sec"`
}

// ClaudeConfig configures the Claude analysis provider
type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	MaxTokens   int     `toml:"max_tokens"`
	Timeout     string  `toml:"timeout"`
	Temperature float32 `toml:"temperature"`
}

// LLMConfig selects the analysis provider
type LLMConfig struct {
	Provider string `toml:"provider"` // "gemini" (default) or "claude"
}

// OrchestratorConfig holds the retry policy parameters applied to
// hosting and analysis calls.
type OrchestratorConfig struct {
	MaxAttempts            int     `toml:"max_attempts"`             // Total attempts for retryable failures
	BaseDelay              string  `toml:"base_delay"`               // e.g., "1s"
	BackoffFactor          float64 `toml:"backoff_factor"`           // Exponential growth factor
	MaxDelay               string  `toml:"max_delay"`                // Backoff ceiling, e.g., "30s"
	InvalidResponseRetries int     `toml:"invalid_response_retries"` // Retries for malformed provider output
}

// SchedulerConfig configures the stale job sweeper
type SchedulerConfig struct {
	Enabled    bool   `toml:"enabled"`
	Schedule   string `toml:"schedule"`    // Cron schedule format
	StaleAfter string `toml:"stale_after"` // Non-terminal jobs older than this are failed
}

// NewDefaultConfig returns a Config populated with defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8085,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path:           "./data/repolens",
				ResetOnStartup: false,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05",
		},
		Auth: AuthConfig{
			APIKeys: nil,
		},
		GitHub: GitHubConfig{
			RequestTimeout: "30s",
			RequestsPerSec: 5,
			MaxFileBytes:   50000,
			MaxFiles:       100,
			MaxDepth:       10,
			SourceExtensions: []string{
				".py", ".js", ".java", ".cpp", ".c", ".go", ".rs", ".ts", ".jsx", ".tsx",
			},
		},
		Gemini: GeminiConfig{
			Model:          "gemini-2.0-flash",
			Timeout:        "120s",
			Temperature:    0.2,
			RequestsPerSec: 1,
		},
		Claude: ClaudeConfig{
			Model:       "claude-sonnet-4-20250514",
			MaxTokens:   8192,
			Timeout:     "120s",
			Temperature: 0.2,
		},
		LLM: LLMConfig{
			Provider: "gemini",
		},
		Orchestrator: OrchestratorConfig{
			MaxAttempts:            5,
			BaseDelay:              "1s",
			BackoffFactor:          2.0,
			MaxDelay:               "30s",
			InvalidResponseRetries: 2,
		},
		Scheduler: SchedulerConfig{
			Enabled:    true,
			Schedule:   "*/5 * * * *",
			StaleAfter: "30m",
		},
	}
}

// LoadFromFile loads configuration from a single TOML file on top of defaults
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		// Unmarshal into config (merges with existing values, later values override)
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	// Environment configuration (highest priority: REPOLENS_ENV, fallback: GO_ENV)
	if env := os.Getenv("REPOLENS_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("REPOLENS_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("REPOLENS_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage configuration
	if badgerPath := os.Getenv("REPOLENS_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Logging configuration
	if level := os.Getenv("REPOLENS_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("REPOLENS_LOG_OUTPUT"); output != "" {
		config.Logging.Output = strings.Split(output, ",")
	}

	// Auth configuration
	if keys := os.Getenv("REPOLENS_API_KEYS"); keys != "" {
		config.Auth.APIKeys = strings.Split(keys, ",")
	}

	// GitHub configuration
	if token := os.Getenv("REPOLENS_GITHUB_TOKEN"); token != "" {
		config.GitHub.Token = token
	} else if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		config.GitHub.Token = token
	}
	if timeout := os.Getenv("REPOLENS_GITHUB_REQUEST_TIMEOUT"); timeout != "" {
		config.GitHub.RequestTimeout = timeout
	}
	if maxFiles := os.Getenv("REPOLENS_GITHUB_MAX_FILES"); maxFiles != "" {
		if n, err := strconv.Atoi(maxFiles); err == nil {
			config.GitHub.MaxFiles = n
		}
	}

	// Gemini configuration
	if apiKey := os.Getenv("REPOLENS_GEMINI_API_KEY"); apiKey != "" {
		config.Gemini.APIKey = apiKey
	} else if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		config.Gemini.APIKey = apiKey
	}
	if model := os.Getenv("REPOLENS_GEMINI_MODEL"); model != "" {
		config.Gemini.Model = model
	}

	// Claude configuration
	if apiKey := os.Getenv("REPOLENS_CLAUDE_API_KEY"); apiKey != "" {
		config.Claude.APIKey = apiKey
	} else if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		config.Claude.APIKey = apiKey
	}

	// LLM provider selection
	if provider := os.Getenv("REPOLENS_LLM_PROVIDER"); provider != "" {
		config.LLM.Provider = provider
	}

	// Orchestrator configuration
	if maxAttempts := os.Getenv("REPOLENS_ORCHESTRATOR_MAX_ATTEMPTS"); maxAttempts != "" {
		if n, err := strconv.Atoi(maxAttempts); err == nil {
			config.Orchestrator.MaxAttempts = n
		}
	}
	if baseDelay := os.Getenv("REPOLENS_ORCHESTRATOR_BASE_DELAY"); baseDelay != "" {
		config.Orchestrator.BaseDelay = baseDelay
	}

	// Scheduler configuration
	if enabled := os.Getenv("REPOLENS_SCHEDULER_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			config.Scheduler.Enabled = b
		}
	}
	if schedule := os.Getenv("REPOLENS_SCHEDULER_SCHEDULE"); schedule != "" {
		config.Scheduler.Schedule = schedule
	}
	if staleAfter := os.Getenv("REPOLENS_SCHEDULER_STALE_AFTER"); staleAfter != "" {
		config.Scheduler.StaleAfter = staleAfter
	}
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}
