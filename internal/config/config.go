package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dgnsrekt/apiscope/internal/capture"
)

// Config holds all configuration for the apiscope server and CLI.
type Config struct {
	// Listeners
	BindAddr         string
	TunnelBindAddr   string
	PortAutoFallback bool
	PublicURL        string
	TunnelPublicURL  string

	// Storage settings
	DataDir       string
	DBPath        string
	Archive       bool
	MaxFileSizeMB int
	BufferSize    int

	// Capture limits
	Limits capture.Limits

	// Gateway
	UpstreamTimeoutMS int

	// Analysis
	AnalysisMaxCalls int

	// Client capture ingress guard
	IngressRate   float64
	IngressBurst  int
	DedupWindowMS int
	DedupSize     int

	// Destination policy
	AllowPrivate bool
	PolicyFile   string

	// Description service
	DescribeURL       string
	DescribeTimeoutMS int

	DocsRetainHistory bool

	// Observability
	OTelEndpoint string
	LogLevel     string
	LogFile      string
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	defaults := capture.DefaultLimits()
	dataDir := getEnvOrDefault("APISCOPE_DATA_DIR", "./apiscope_data")
	cfg := &Config{
		BindAddr:         getEnvOrDefault("APISCOPE_BIND_ADDR", "127.0.0.1:8190"),
		TunnelBindAddr:   getEnvOrDefault("APISCOPE_TUNNEL_BIND_ADDR", "127.0.0.1:8191"),
		PortAutoFallback: getEnvBoolOrDefault("APISCOPE_PORT_AUTO_FALLBACK", true),
		PublicURL:        strings.TrimRight(getEnvOrDefault("APISCOPE_PUBLIC_URL", "http://127.0.0.1:8190"), "/"),
		TunnelPublicURL:  strings.TrimRight(getEnvOrDefault("APISCOPE_TUNNEL_PUBLIC_URL", "ws://127.0.0.1:8191"), "/"),
		DataDir:          dataDir,
		DBPath:           getEnvOrDefault("APISCOPE_DB_PATH", filepath.Join(dataDir, "apiscope.db")),
		Archive:          getEnvBoolOrDefault("APISCOPE_ARCHIVE", true),
		MaxFileSizeMB:    getEnvIntOrDefault("APISCOPE_MAX_FILE_SIZE_MB", 200),
		BufferSize:       getEnvIntOrDefault("APISCOPE_BUFFER_SIZE", 5000),
		Limits: capture.Limits{
			MaxURLChars:        getEnvIntOrDefault("APISCOPE_MAX_URL_CHARS", defaults.MaxURLChars),
			ClientMaxBodyBytes: getEnvIntOrDefault("APISCOPE_CLIENT_MAX_BODY_BYTES", defaults.ClientMaxBodyBytes),
			ServerMaxBodyBytes: getEnvIntOrDefault("APISCOPE_SERVER_MAX_BODY_BYTES", defaults.ServerMaxBodyBytes),
			MaxHeaderBytes:     getEnvIntOrDefault("APISCOPE_MAX_HEADER_BYTES", defaults.MaxHeaderBytes),
		},
		UpstreamTimeoutMS: getEnvIntOrDefault("APISCOPE_UPSTREAM_TIMEOUT_MS", 30000),
		AnalysisMaxCalls:  getEnvIntOrDefault("APISCOPE_ANALYSIS_MAX_CALLS", 1000),
		IngressRate:       getEnvFloatOrDefault("APISCOPE_INGRESS_RATE", 10),
		IngressBurst:      getEnvIntOrDefault("APISCOPE_INGRESS_BURST", 20),
		DedupWindowMS:     getEnvIntOrDefault("APISCOPE_DEDUP_WINDOW_MS", 5000),
		DedupSize:         getEnvIntOrDefault("APISCOPE_DEDUP_SIZE", 1000),
		AllowPrivate:      getEnvBoolOrDefault("APISCOPE_ALLOW_PRIVATE", false),
		PolicyFile:        getEnvOrDefault("APISCOPE_POLICY_FILE", "./config/destination_policy.yaml"),
		DescribeURL:       getEnvOrDefault("APISCOPE_DESCRIBE_URL", ""),
		DescribeTimeoutMS: getEnvIntOrDefault("APISCOPE_DESCRIBE_TIMEOUT_MS", 8000),
		DocsRetainHistory: getEnvBoolOrDefault("APISCOPE_DOCS_RETAIN_HISTORY", true),
		OTelEndpoint:      getEnvOrDefault("APISCOPE_OTEL_ENDPOINT", ""),
		LogLevel:          strings.ToLower(getEnvOrDefault("APISCOPE_LOG_LEVEL", "info")),
		LogFile:           getEnvOrDefault("APISCOPE_LOG_FILE", "logs/apiscope.log"),
	}
	if cfg.UpstreamTimeoutMS < 1000 {
		cfg.UpstreamTimeoutMS = 1000
	}
	if cfg.IngressRate <= 0 {
		cfg.IngressRate = 10
	}
	return cfg, nil
}

// UpstreamTimeout returns the gateway's per-request upstream timeout.
func (c *Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.UpstreamTimeoutMS) * time.Millisecond
}

func (c *Config) DedupWindow() time.Duration {
	return time.Duration(c.DedupWindowMS) * time.Millisecond
}

func (c *Config) DescribeTimeout() time.Duration {
	return time.Duration(c.DescribeTimeoutMS) * time.Millisecond
}

// LogEndpoint is the absolute client capture ingress URL handed to the
// injected script.
func (c *Config) LogEndpoint() string {
	return c.PublicURL + "/api/v1/capture/log"
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloatOrDefault(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
