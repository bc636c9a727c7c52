package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/andresmejia3/cameo/internal/export"
	"github.com/andresmejia3/cameo/internal/worker"
	"gopkg.in/yaml.v3"
)

type contextKey string

const configKey contextKey = "config"

// Config holds all application configuration
type Config struct {
	// Which combinations of gap, scale and pad to export
	Variants export.Variants `yaml:"variants"`

	// Detection log settings
	LogExtensions []string `yaml:"log_extensions"`

	Export   ExportConfig   `yaml:"export"`
	FFmpeg   FFmpegConfig   `yaml:"ffmpeg"`
	Recorder RecorderConfig `yaml:"recorder"`
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
}

type ExportConfig struct {
	OutputDir      string `yaml:"output_dir"`
	MaxDimension   int    `yaml:"max_dimension"`
	FingerprintLen int    `yaml:"fingerprint_len"`
	Jobs           int    `yaml:"jobs"`
}

type FFmpegConfig struct {
	BinaryPath   string `yaml:"binary_path"`
	ProbePath    string `yaml:"probe_path"`
	VideoCodec   string `yaml:"video_codec"`
	Preset       string `yaml:"preset"`
	CRF          int    `yaml:"crf"`
	Threads      int    `yaml:"threads"`
	SkipExisting bool   `yaml:"skip_existing"`
}

type RecorderConfig struct {
	Python     string  `yaml:"python"`
	Script     string  `yaml:"script"`
	RefsDir    string  `yaml:"refs_dir"`
	Tolerance  float64 `yaml:"tolerance"`
	SkipFrames int     `yaml:"skip_frames"`
	MissStride int     `yaml:"miss_stride"`
	Downscale  int     `yaml:"downscale"`
}

// DatabaseConfig is filled from POSTGRES_* variables. An empty Host disables the store.
type DatabaseConfig struct {
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// KafkaConfig is filled from KAFKA_* variables. Empty BootstrapServers disables publishing.
type KafkaConfig struct {
	BootstrapServers string `yaml:"bootstrap_servers"`
	Topic            string `yaml:"topic"`
	ClientID         string `yaml:"client_id"`
	SecurityProtocol string `yaml:"security_protocol"`
	SASLMechanism    string `yaml:"sasl_mechanism"`
	SASLUsername     string `yaml:"sasl_username"`
	SASLPassword     string `yaml:"sasl_password"`
	FlushTimeoutMs   int    `yaml:"flush_timeout_ms"`
}

// Load reads configuration from file or returns defaults, then applies the environment.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = findConfigFile()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	if err := cfg.Variants.Validate(); err != nil {
		return nil, fmt.Errorf("invalid variants: %w", err)
	}
	return cfg, nil
}

// Save writes configuration to file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// DatabaseURL returns the connection string, or "" when no database is configured.
func (c *Config) DatabaseURL() string {
	db := c.Database
	if db.URL != "" {
		return db.URL
	}
	if db.Host == "" {
		return ""
	}
	port := db.Port
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", db.User, db.Password, db.Host, port, db.Name)
}

func defaultConfig() *Config {
	return &Config{
		Variants: export.Variants{
			Gaps:   []float64{0.2, 0.5, 1.0},
			Scales: []export.ScalePair{{W: 1, H: 1}, {W: 1.5, H: 1.5}, {W: 2, H: 2}},
			Pads:   []float64{0, 1},
		},
		LogExtensions: []string{".tsv", ".log"},
		Export: ExportConfig{
			OutputDir:      "./clips",
			MaxDimension:   export.DefaultMaxDimension,
			FingerprintLen: export.DefaultFingerprintLen,
			Jobs:           1,
		},
		FFmpeg: FFmpegConfig{
			BinaryPath: "ffmpeg",
			ProbePath:  "ffprobe",
			VideoCodec: "libx264",
			Preset:     "medium",
			CRF:        23,
		},
		Recorder: RecorderConfig{
			Python:     "python3",
			Script:     worker.DefaultScript,
			RefsDir:    "./refs",
			Tolerance:  0.6,
			MissStride: 2,
			Downscale:  4,
		},
		Kafka: KafkaConfig{
			Topic:          "cameo.extractions",
			ClientID:       "cameo",
			FlushTimeoutMs: 15000,
		},
	}
}

// applyEnv lets the environment override file values.
func (c *Config) applyEnv() {
	setString(&c.Recorder.RefsDir, "CAMEO_REFS_DIR")
	setString(&c.Database.Host, "POSTGRES_HOST")
	setString(&c.Database.Port, "POSTGRES_PORT")
	setString(&c.Database.User, "POSTGRES_USER")
	setString(&c.Database.Password, "POSTGRES_PASSWORD")
	setString(&c.Database.Name, "POSTGRES_DB")
	setString(&c.Kafka.BootstrapServers, "KAFKA_BOOTSTRAP_SERVERS")
	setString(&c.Kafka.Topic, "KAFKA_TOPIC")
	setString(&c.Kafka.ClientID, "KAFKA_CLIENT_ID")
	setString(&c.Kafka.SecurityProtocol, "KAFKA_SECURITY_PROTOCOL")
	setString(&c.Kafka.SASLMechanism, "KAFKA_SASL_MECHANISM")
	setString(&c.Kafka.SASLUsername, "KAFKA_SASL_USERNAME")
	setString(&c.Kafka.SASLPassword, "KAFKA_SASL_PASSWORD")
	if v := os.Getenv("KAFKA_FLUSH_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Kafka.FlushTimeoutMs = n
		}
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func findConfigFile() string {
	candidates := []string{
		"./cameo.yaml",
		"./cameo.yml",
		filepath.Join(os.Getenv("HOME"), ".cameo", "config.yaml"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// WithConfig stores config in context
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// FromContext retrieves config from context
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(configKey).(*Config); ok {
		return cfg
	}
	return defaultConfig()
}
