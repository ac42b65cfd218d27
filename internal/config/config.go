package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/wilsonzlin/filerelay/internal/origin"
)

const (
	EnvListenAddr            = "LISTEN_ADDR"
	EnvProjectName           = "PROJECT_NAME"
	EnvAllowedOrigins        = "ALLOWED_ORIGINS"
	EnvLogFormat             = "LOG_FORMAT"
	EnvLogLevel              = "LOG_LEVEL"
	EnvShutdownTimeout       = "SHUTDOWN_TIMEOUT"
	EnvMode                  = "MODE"
	EnvMaxSessions           = "MAX_SESSIONS"
	EnvMaxFileSize           = "MAX_FILE_SIZE"
	EnvSessionTimeoutMinutes = "SESSION_TIMEOUT"
	EnvPingIntervalSeconds   = "PING_INTERVAL"
	EnvChunkSize             = "CHUNK_SIZE"
	EnvMaxMessageLength      = "MAX_MESSAGE_LENGTH"
	EnvMaxConnsPerUser       = "MAX_CONNECTIONS_PER_USER"
	EnvSweepInterval         = "SWEEP_INTERVAL"

	DefaultListenAddr            = "127.0.0.1:8080"
	DefaultProjectName           = "filerelay"
	DefaultShutdown              = 15 * time.Second
	DefaultMode             Mode = ModeDev
	DefaultMaxSessions           = 200
	DefaultMaxFileSize     int64 = 5 * 1024 * 1024 * 1024 // 5GiB
	DefaultSessionTimeout        = 30 * time.Minute
	DefaultPingInterval          = 30 * time.Second
	DefaultChunkSize             = 128 * 1024
	DefaultMaxMessageLength      = 5000
	DefaultMaxConnsPerUser       = 5
	DefaultSweepInterval         = 60 * time.Second
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// Config holds every tunable this relay reads at startup: the ambient
// concerns (listen address, origin hardening, logging, graceful shutdown)
// alongside the domain tunables (session capacity, file size/chunking
// limits, idle timeout, chat message length, per-user connection ceiling).
type Config struct {
	ListenAddr      string
	ProjectName     string
	AllowedOrigins  []string
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration
	Mode            Mode

	MaxSessions           int
	MaxFileSize           int64
	SessionTimeout        time.Duration
	PingInterval          time.Duration
	ChunkSize             int
	MaxMessageLength      int
	MaxConnectionsPerUser int
	SweepInterval         time.Duration
}

func Load(args []string) (Config, error) {
	// Mirrors the original service's load_dotenv(): populate the process
	// environment from a local .env file (if present) before consulting it.
	// Values already set in the environment are never overridden.
	_ = godotenv.Load()
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode, _ := lookup(EnvMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	envLogFormat, envLogFormatOK := lookup(EnvLogFormat)
	envLogFormatSet := envLogFormatOK && envLogFormat != ""
	logFormatDefault := envLogFormat
	if !envLogFormatSet {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, envLogLevelOK := lookup(EnvLogLevel)
	envLogLevelSet := envLogLevelOK && envLogLevel != ""
	logLevelDefault := envLogLevel
	if !envLogLevelSet {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	listenAddr := envOrDefault(lookup, EnvListenAddr, DefaultListenAddr)
	projectName := envOrDefault(lookup, EnvProjectName, DefaultProjectName)
	allowedOriginsStr := envOrDefault(lookup, EnvAllowedOrigins, "")

	shutdownTimeout := DefaultShutdown
	if raw, ok := lookup(EnvShutdownTimeout); ok && strings.TrimSpace(raw) != "" {
		d, err := parseDurationSecondsOrGo(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", EnvShutdownTimeout, raw, err)
		}
		shutdownTimeout = d
	}

	maxSessions, err := envIntOrDefault(lookup, EnvMaxSessions, DefaultMaxSessions)
	if err != nil {
		return Config{}, err
	}
	maxFileSize, err := envInt64OrDefault(lookup, EnvMaxFileSize, DefaultMaxFileSize)
	if err != nil {
		return Config{}, err
	}

	sessionTimeout := DefaultSessionTimeout
	if raw, ok := lookup(EnvSessionTimeoutMinutes); ok && strings.TrimSpace(raw) != "" {
		minutes, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", EnvSessionTimeoutMinutes, raw, err)
		}
		sessionTimeout = time.Duration(minutes) * time.Minute
	}

	pingInterval := DefaultPingInterval
	if raw, ok := lookup(EnvPingIntervalSeconds); ok && strings.TrimSpace(raw) != "" {
		seconds, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", EnvPingIntervalSeconds, raw, err)
		}
		pingInterval = time.Duration(seconds) * time.Second
	}

	chunkSize, err := envIntOrDefault(lookup, EnvChunkSize, DefaultChunkSize)
	if err != nil {
		return Config{}, err
	}
	maxMessageLength, err := envIntOrDefault(lookup, EnvMaxMessageLength, DefaultMaxMessageLength)
	if err != nil {
		return Config{}, err
	}
	maxConnsPerUser, err := envIntOrDefault(lookup, EnvMaxConnsPerUser, DefaultMaxConnsPerUser)
	if err != nil {
		return Config{}, err
	}

	sweepInterval := DefaultSweepInterval
	if raw, ok := lookup(EnvSweepInterval); ok && strings.TrimSpace(raw) != "" {
		d, err := parseDurationSecondsOrGo(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", EnvSweepInterval, raw, err)
		}
		sweepInterval = d
	}

	fs := flag.NewFlagSet("filerelay", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
	)

	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port)")
	fs.StringVar(&projectName, "project-name", projectName, "Project name reported by /version and logs (env "+EnvProjectName+")")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated list of allowed browser origins (env "+EnvAllowedOrigins+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (e.g. 15s)")
	fs.IntVar(&maxSessions, "max-sessions", maxSessions, "Maximum concurrent sessions (0 = unlimited; env "+EnvMaxSessions+")")
	fs.Int64Var(&maxFileSize, "max-file-size", maxFileSize, "Maximum advertised transfer size in bytes (env "+EnvMaxFileSize+")")
	fs.DurationVar(&sessionTimeout, "session-timeout", sessionTimeout, "Idle session eviction timeout (env "+EnvSessionTimeoutMinutes+", in minutes)")
	fs.DurationVar(&pingInterval, "ping-interval", pingInterval, "Keepalive ping interval; <=0 disables (env "+EnvPingIntervalSeconds+", in seconds)")
	fs.IntVar(&chunkSize, "chunk-size", chunkSize, "Advertised chunk size in bytes (env "+EnvChunkSize+")")
	fs.IntVar(&maxMessageLength, "max-message-length", maxMessageLength, "Maximum chat message length in characters (env "+EnvMaxMessageLength+")")
	fs.IntVar(&maxConnsPerUser, "max-connections-per-user", maxConnsPerUser, "Maximum concurrent connections per user id (env "+EnvMaxConnsPerUser+")")
	fs.DurationVar(&sweepInterval, "sweep-interval", sweepInterval, "Idle-session sweeper tick interval (env "+EnvSweepInterval+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}

	if !envLogFormatSet && !setFlags["log-format"] {
		logFormatStr = defaultLogFormatForMode(string(mode))
	}
	if !envLogLevelSet && !setFlags["log-level"] {
		logLevelStr = defaultLogLevelForMode(string(mode))
	}

	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}

	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	if listenAddr == "" {
		return Config{}, fmt.Errorf("listen address must not be empty")
	}
	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("shutdown timeout must be > 0")
	}
	if maxFileSize <= 0 {
		return Config{}, fmt.Errorf("%s/--max-file-size must be > 0", EnvMaxFileSize)
	}
	if chunkSize <= 0 {
		return Config{}, fmt.Errorf("%s/--chunk-size must be > 0", EnvChunkSize)
	}
	if maxMessageLength <= 0 {
		return Config{}, fmt.Errorf("%s/--max-message-length must be > 0", EnvMaxMessageLength)
	}
	if sessionTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--session-timeout must be > 0", EnvSessionTimeoutMinutes)
	}

	allowedOrigins, err := parseAllowedOrigins(allowedOriginsStr)
	if err != nil {
		return Config{}, fmt.Errorf("%s/%s: %w", EnvAllowedOrigins, "--allowed-origins", err)
	}

	return Config{
		ListenAddr:            listenAddr,
		ProjectName:           projectName,
		AllowedOrigins:        allowedOrigins,
		LogFormat:             logFormat,
		LogLevel:              level,
		ShutdownTimeout:       shutdownTimeout,
		Mode:                  mode,
		MaxSessions:           maxSessions,
		MaxFileSize:           maxFileSize,
		SessionTimeout:        sessionTimeout,
		PingInterval:          pingInterval,
		ChunkSize:             chunkSize,
		MaxMessageLength:      maxMessageLength,
		MaxConnectionsPerUser: maxConnsPerUser,
		SweepInterval:         sweepInterval,
	}, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envInt64OrDefault(lookup func(string) (string, bool), key string, fallback int64) (int64, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

// parseDurationSecondsOrGo parses raw as a bare integer number of seconds, or
// (if that fails) as a Go duration string like "15s".
func parseDurationSecondsOrGo(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if seconds, err := strconv.Atoi(raw); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	return time.ParseDuration(raw)
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func parseAllowedOrigins(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if entry == "*" {
			out = append(out, entry)
			continue
		}

		normalizedOrigin, _, ok := origin.NormalizeHeader(entry)
		if !ok {
			return nil, fmt.Errorf("invalid origin %q (expected full origin like https://example.com)", entry)
		}
		out = append(out, normalizedOrigin)
	}

	return out, nil
}
