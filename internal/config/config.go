package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken  string        `yaml:"discord_token"`
	DatabaseURL   string        `yaml:"database_url"`
	LogLevel      string        `yaml:"log_level"`
	LogFile       string        `yaml:"log_file"`
	LogWebhookURL string        `yaml:"log_webhook_url"`
	IPInfoToken   string        `yaml:"ipinfo_token"`
	RetentionDays int           `yaml:"retention_days"`
	Health        HealthConfig  `yaml:"health"`
	Tickets       TicketConfig  `yaml:"tickets"`
	Tools         ToolsConfig   `yaml:"tools"`
	LogSink       LogSinkConfig `yaml:"log_sink"`
	EmbedColors   EmbedColors   `yaml:"embed_colors"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type TicketConfig struct {
	Prefix           string `yaml:"prefix"`
	TranscriptsDir   string `yaml:"transcripts_dir"`
	GraceSeconds     int    `yaml:"grace_seconds"`
	CategoryID       string `yaml:"category_id"`
	ReconcileOnStart bool   `yaml:"reconcile_on_start"`
}

type ToolsConfig struct {
	AutoDeleteSeconds    int `yaml:"auto_delete_seconds"`
	LookupTimeoutSeconds int `yaml:"lookup_timeout_seconds"`
	CooldownLimit        int `yaml:"cooldown_limit"`
	CooldownSeconds      int `yaml:"cooldown_seconds"`
}

type LogSinkConfig struct {
	QueueSize int     `yaml:"queue_size"`
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

type EmbedColors struct {
	Info    int `yaml:"info"`
	Success int `yaml:"success"`
	Warning int `yaml:"warning"`
	Error   int `yaml:"error"`
}

func DefaultConfig() Config {
	return Config{
		LogLevel:      "info",
		LogFile:       "log/bot.log",
		RetentionDays: 30,
		Health:        HealthConfig{Enabled: false, Addr: ":8080"},
		Tickets: TicketConfig{
			Prefix:           "ticket-",
			TranscriptsDir:   "log/transcripts",
			GraceSeconds:     5,
			ReconcileOnStart: true,
		},
		Tools:   ToolsConfig{AutoDeleteSeconds: 25, LookupTimeoutSeconds: 10, CooldownLimit: 3, CooldownSeconds: 30},
		LogSink: LogSinkConfig{QueueSize: 256, PerSecond: 0.5, Burst: 5},
		EmbedColors: EmbedColors{
			Info:    0x3498DB,
			Success: 0x2ECC71,
			Warning: 0xF1C40F,
			Error:   0xE74C3C,
		},
	}
}

func Load() (Config, error) {
	_ = godotenv.Load()
	cfg := DefaultConfig()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.DiscordToken == "" {
		return errors.New("DISCORD_TOKEN is required")
	}
	if c.Tickets.Prefix == "" {
		return errors.New("tickets.prefix must not be empty")
	}
	if c.Tickets.GraceSeconds <= 0 {
		return errors.New("tickets.grace_seconds must be positive")
	}
	return nil
}

func (c Config) TicketGrace() time.Duration {
	return time.Duration(c.Tickets.GraceSeconds) * time.Second
}

func (c Config) LookupTimeout() time.Duration {
	if c.Tools.LookupTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Tools.LookupTimeoutSeconds) * time.Second
}

func (c Config) AutoDelete() time.Duration {
	return time.Duration(c.Tools.AutoDeleteSeconds) * time.Second
}

// A zero limit disables the cooldown.
func (c Config) Cooldown() (int, time.Duration) {
	return c.Tools.CooldownLimit, time.Duration(c.Tools.CooldownSeconds) * time.Second
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.DatabaseURL = envString("DATABASE_URL", cfg.DatabaseURL)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile = envString("LOG_FILE", cfg.LogFile)
	cfg.LogWebhookURL = envString("LOG_WEBHOOK_URL", cfg.LogWebhookURL)
	cfg.IPInfoToken = envString("IPINFO_TOKEN", cfg.IPInfoToken)
	cfg.RetentionDays = envInt("RETENTION_DAYS", cfg.RetentionDays)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.Tickets.Prefix = envString("TICKET_PREFIX", cfg.Tickets.Prefix)
	cfg.Tickets.TranscriptsDir = envString("TRANSCRIPTS_DIR", cfg.Tickets.TranscriptsDir)
	cfg.Tickets.GraceSeconds = envInt("TICKET_GRACE_SECONDS", cfg.Tickets.GraceSeconds)
	cfg.Tickets.CategoryID = envString("TICKET_CATEGORY_ID", cfg.Tickets.CategoryID)
	cfg.Tickets.ReconcileOnStart = envBool("TICKET_RECONCILE_ON_START", cfg.Tickets.ReconcileOnStart)
	cfg.Tools.AutoDeleteSeconds = envInt("TOOLS_AUTO_DELETE_SECONDS", cfg.Tools.AutoDeleteSeconds)
	cfg.Tools.LookupTimeoutSeconds = envInt("TOOLS_LOOKUP_TIMEOUT_SECONDS", cfg.Tools.LookupTimeoutSeconds)
	cfg.Tools.CooldownLimit = envInt("TOOLS_COOLDOWN_LIMIT", cfg.Tools.CooldownLimit)
	cfg.Tools.CooldownSeconds = envInt("TOOLS_COOLDOWN_SECONDS", cfg.Tools.CooldownSeconds)
	cfg.LogSink.QueueSize = envInt("LOG_SINK_QUEUE_SIZE", cfg.LogSink.QueueSize)
	cfg.LogSink.PerSecond = envFloat("LOG_SINK_PER_SECOND", cfg.LogSink.PerSecond)
	cfg.LogSink.Burst = envInt("LOG_SINK_BURST", cfg.LogSink.Burst)
	cfg.EmbedColors.Info = envInt("EMBED_COLOR_INFO", cfg.EmbedColors.Info)
	cfg.EmbedColors.Success = envInt("EMBED_COLOR_SUCCESS", cfg.EmbedColors.Success)
	cfg.EmbedColors.Warning = envInt("EMBED_COLOR_WARNING", cfg.EmbedColors.Warning)
	cfg.EmbedColors.Error = envInt("EMBED_COLOR_ERROR", cfg.EmbedColors.Error)
}

func BuildLogger(level, file string) (*zap.Logger, error) {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "time"
	cfg.MessageKey = "message"
	cfg.LevelKey = "level"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl := zap.NewAtomicLevelAt(parseLevel(strings.ToLower(level)))
	encoder := zapcore.NewJSONEncoder(cfg)
	cores := []zapcore.Core{zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), lvl)}
	if file != "" {
		rotating := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    10,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotating), lvl))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 0, 64); err == nil {
			return int(parsed)
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}
