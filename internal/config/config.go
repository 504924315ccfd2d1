package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken        string       `yaml:"discord_token"`
	DatabasePath        string       `yaml:"database_path"`
	LogLevel            string       `yaml:"log_level"`
	WebhookURL          string       `yaml:"webhook_url"`
	LoginTimeoutSeconds int          `yaml:"login_timeout_seconds"`
	RunTimeoutMinutes   int          `yaml:"run_timeout_minutes"`
	Backup              BackupConfig `yaml:"backup"`
}

type BackupConfig struct {
	DownloadAttempts       int  `yaml:"download_attempts"`
	DownloadBackoffSeconds int  `yaml:"download_backoff_seconds"`
	DownloadConcurrency    int  `yaml:"download_concurrency"`
	CompactExport          bool `yaml:"compact_export"`
}

// Job is the per-run invocation file handed to the backup binary by the
// surrounding panel: which guild, where to write, and who asked.
type Job struct {
	GuildID    string `json:"guild_id"`
	BackupDir  string `json:"backup_dir"`
	Creator    string `json:"creator"`
	CreatorID  string `json:"creator_id"`
	ServerName string `json:"server_name"`
}

func DefaultConfig() Config {
	return Config{
		DatabasePath:        "",
		LogLevel:            "info",
		LoginTimeoutSeconds: 30,
		RunTimeoutMinutes:   10,
		Backup: BackupConfig{
			DownloadAttempts:       3,
			DownloadBackoffSeconds: 1,
			DownloadConcurrency:    4,
			CompactExport:          false,
		},
	}
}

func Load() (Config, error) {
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
	if cfg.DiscordToken == "" {
		return Config{}, errors.New("DISCORD_TOKEN is required")
	}
	return cfg, nil
}

// LoadJob reads and checks the invocation file. A missing file or a job
// without guild and output directory is a fatal configuration error.
func LoadJob(path string) (Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Job{}, fmt.Errorf("read job file: %w", err)
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return Job{}, fmt.Errorf("parse job file: %w", err)
	}
	if job.GuildID == "" || job.BackupDir == "" {
		return Job{}, errors.New("job file must set guild_id and backup_dir")
	}
	if job.Creator == "" {
		job.Creator = "SYSTEM"
	}
	return job, nil
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.DatabasePath = envString("DATABASE_PATH", cfg.DatabasePath)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.WebhookURL = envString("WEBHOOK_URL", cfg.WebhookURL)
	cfg.LoginTimeoutSeconds = envInt("LOGIN_TIMEOUT_SECONDS", cfg.LoginTimeoutSeconds)
	cfg.RunTimeoutMinutes = envInt("RUN_TIMEOUT_MINUTES", cfg.RunTimeoutMinutes)
	cfg.Backup.DownloadAttempts = envInt("DOWNLOAD_ATTEMPTS", cfg.Backup.DownloadAttempts)
	cfg.Backup.DownloadBackoffSeconds = envInt("DOWNLOAD_BACKOFF_SECONDS", cfg.Backup.DownloadBackoffSeconds)
	cfg.Backup.DownloadConcurrency = envInt("DOWNLOAD_CONCURRENCY", cfg.Backup.DownloadConcurrency)
	cfg.Backup.CompactExport = envBool("COMPACT_EXPORT", cfg.Backup.CompactExport)
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl := strings.ToLower(level)
	switch lvl {
	case "debug", "info", "warn", "error":
		cfg.Level = zap.NewAtomicLevelAt(parseLevel(lvl))
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	return cfg.Build()
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
		if parsed, err := strconv.Atoi(value); err == nil {
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
