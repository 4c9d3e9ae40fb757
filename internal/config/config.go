package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the namespace prefix for all Ghost Dictate environment variables.
const EnvPrefix = "GHOST_DICTATE_"

const (
	defaultConnectTimeout = 10 * time.Second
	defaultIdleTimeout    = 2 * time.Minute
	defaultChunkInterval  = 250 * time.Millisecond
)

// Config holds all application configuration. Secrets (tokens and API keys)
// are loaded exclusively from environment variables and never appear in the
// config file.
type Config struct {
	RealtimeURL           string `yaml:"realtime_url"`
	ConnectTimeout        string `yaml:"connect_timeout"`
	HTTPAddr              string `yaml:"http_addr"`
	DBPath                string `yaml:"db_path"`
	AudioDir              string `yaml:"audio_dir"`
	RecordAudio           bool   `yaml:"record_audio"`
	TranscriptsDir        string `yaml:"transcripts_dir"`
	IdleTimeout           string `yaml:"idle_timeout"`
	ChunkInterval         string `yaml:"chunk_interval"`
	MicSampleRate         int    `yaml:"mic_sample_rate"`
	LogLevel              string `yaml:"log_level"`
	LogFormat             string `yaml:"log_format"`
	SummaryModel          string `yaml:"summary_model"`
	GDriveFolderID        string `yaml:"gdrive_folder_id"`
	GoogleCredentialsFile string `yaml:"google_credentials_file"`

	// Secrets, env vars only.
	RealtimeToken   string `yaml:"-"`
	OpenAIAPIKey    string `yaml:"-"`
	AnthropicAPIKey string `yaml:"-"`
	GeminiAPIKey    string `yaml:"-"`
}

func defaults() Config {
	return Config{
		ConnectTimeout:        defaultConnectTimeout.String(),
		HTTPAddr:              "127.0.0.1:8080",
		DBPath:                "data/ghost-dictate.db",
		AudioDir:              "data/audio",
		RecordAudio:           true,
		TranscriptsDir:        "data/transcripts",
		IdleTimeout:           defaultIdleTimeout.String(),
		ChunkInterval:         defaultChunkInterval.String(),
		MicSampleRate:         16000,
		LogLevel:              "info",
		LogFormat:             "text",
		SummaryModel:          "openai/gpt-4o-mini",
		GoogleCredentialsFile: "./service-account.json",
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the result.
// It returns the config, any validation warnings, and an error if the file
// exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

// ParsedConnectTimeout returns the handshake deadline. Zero disables it.
func (c *Config) ParsedConnectTimeout() time.Duration {
	return parseDuration(c.ConnectTimeout, defaultConnectTimeout)
}

// ParsedIdleTimeout returns how long recording may go without a final
// transcript before it is stopped. Zero disables the idle stop.
func (c *Config) ParsedIdleTimeout() time.Duration {
	return parseDuration(c.IdleTimeout, defaultIdleTimeout)
}

func (c *Config) ParsedChunkInterval() time.Duration {
	d := parseDuration(c.ChunkInterval, defaultChunkInterval)
	if d <= 0 {
		return defaultChunkInterval
	}
	return d
}

// SummaryAPIKey returns the key for the provider named in SummaryModel.
func (c *Config) SummaryAPIKey() string {
	provider, _, _ := strings.Cut(c.SummaryModel, "/")
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "openai":
		return c.OpenAIAPIKey
	case "anthropic":
		return c.AnthropicAPIKey
	case "gemini", "google":
		return c.GeminiAPIKey
	default:
		return ""
	}
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

func applyEnvOverrides(cfg *Config) {
	strs := map[string]*string{
		"REALTIME_URL":            &cfg.RealtimeURL,
		"CONNECT_TIMEOUT":         &cfg.ConnectTimeout,
		"HTTP_ADDR":               &cfg.HTTPAddr,
		"DB_PATH":                 &cfg.DBPath,
		"AUDIO_DIR":               &cfg.AudioDir,
		"TRANSCRIPTS_DIR":         &cfg.TranscriptsDir,
		"IDLE_TIMEOUT":            &cfg.IdleTimeout,
		"CHUNK_INTERVAL":          &cfg.ChunkInterval,
		"LOG_LEVEL":               &cfg.LogLevel,
		"LOG_FORMAT":              &cfg.LogFormat,
		"SUMMARY_MODEL":           &cfg.SummaryModel,
		"GDRIVE_FOLDER_ID":        &cfg.GDriveFolderID,
		"GOOGLE_CREDENTIALS_FILE": &cfg.GoogleCredentialsFile,
	}
	for key, dst := range strs {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv(EnvPrefix + "RECORD_AUDIO"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.RecordAudio = b
		}
	}
	if v := os.Getenv(EnvPrefix + "MIC_SAMPLE_RATE"); v != "" {
		if rate, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && rate > 0 {
			cfg.MicSampleRate = rate
		}
	}
}

func loadSecrets(cfg *Config) {
	cfg.RealtimeToken = os.Getenv(EnvPrefix + "REALTIME_TOKEN")
	cfg.OpenAIAPIKey = os.Getenv(EnvPrefix + "OPENAI_API_KEY")
	cfg.AnthropicAPIKey = os.Getenv(EnvPrefix + "ANTHROPIC_API_KEY")
	cfg.GeminiAPIKey = os.Getenv(EnvPrefix + "GEMINI_API_KEY")
}

func validate(cfg *Config) []string {
	var warnings []string

	if strings.TrimSpace(cfg.RealtimeURL) == "" {
		warnings = append(warnings, "Realtime URL not configured; recording cannot start. Set realtime_url or "+EnvPrefix+"REALTIME_URL.")
	}
	if cfg.RealtimeToken == "" {
		warnings = append(warnings, "Realtime token not configured; recording cannot start. Set "+EnvPrefix+"REALTIME_TOKEN.")
	}
	if cfg.SummaryModel != "" && cfg.SummaryAPIKey() == "" {
		warnings = append(warnings, fmt.Sprintf("No API key for summary model %q; dictation summaries are disabled.", cfg.SummaryModel))
	}
	if cfg.MicSampleRate <= 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid mic_sample_rate %d; using 16000.", cfg.MicSampleRate))
		cfg.MicSampleRate = 16000
	}

	durations := []struct {
		key, raw string
		fallback time.Duration
	}{
		{"connect_timeout", cfg.ConnectTimeout, defaultConnectTimeout},
		{"idle_timeout", cfg.IdleTimeout, defaultIdleTimeout},
		{"chunk_interval", cfg.ChunkInterval, defaultChunkInterval},
	}
	for _, d := range durations {
		if v, err := time.ParseDuration(strings.TrimSpace(d.raw)); err != nil || v < 0 {
			warnings = append(warnings, fmt.Sprintf("Invalid %s %q; using default %s.", d.key, d.raw, d.fallback))
		}
	}

	return warnings
}
