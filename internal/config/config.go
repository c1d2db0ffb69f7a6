package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/michaelbrown/crucible/internal/sandbox"
)

type WorkerConfig struct {
	BatchSize    int           `mapstructure:"batch_size"`
	WaitTime     time.Duration `mapstructure:"wait_time"`
	ErrorBackoff time.Duration `mapstructure:"error_backoff"`
	ScratchDir   string        `mapstructure:"scratch_dir"`
}

type QueueConfig struct {
	Driver   string `mapstructure:"driver"` // redis or memory
	RedisURL string `mapstructure:"redis_url"`
	Stream   string `mapstructure:"stream"`
	Group    string `mapstructure:"group"`
	Consumer string `mapstructure:"consumer"`
	// ClaimIdle is how long a delivered entry may stay unacknowledged before
	// another consumer claims it. Zero disables claiming.
	ClaimIdle time.Duration `mapstructure:"claim_idle"`
}

type BlobConfig struct {
	Driver   string `mapstructure:"driver"` // fs or redis
	Dir      string `mapstructure:"dir"`
	RedisURL string `mapstructure:"redis_url"`
	Prefix   string `mapstructure:"prefix"`
}

type StorageConfig struct {
	Driver      string `mapstructure:"driver"` // sqlite or postgres
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
	MaxConns    int32  `mapstructure:"max_conns"`
}

type SandboxConfig struct {
	Docker       string            `mapstructure:"docker"`
	DefaultImage string            `mapstructure:"default_image"`
	Images       map[string]string `mapstructure:"images"`
	Memory       string            `mapstructure:"memory"`
	CPUs         string            `mapstructure:"cpus"`
	PidsLimit    int               `mapstructure:"pids_limit"`
	Timeout      time.Duration     `mapstructure:"timeout"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text or json
}

type Config struct {
	Worker  WorkerConfig  `mapstructure:"worker"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Blob    BlobConfig    `mapstructure:"blob"`
	Storage StorageConfig `mapstructure:"storage"`
	Sandbox SandboxConfig `mapstructure:"sandbox"`
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
}

// Load reads crucible.yaml from path, or from the working directory and
// $HOME/.crucible when path is empty. A missing search-path file is not an
// error. CRUCIBLE_* environment variables override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("crucible")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.crucible")
	}

	v.SetEnvPrefix("crucible")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	home := os.Getenv("HOME")
	v.SetDefault("worker.batch_size", 5)
	v.SetDefault("worker.wait_time", 20*time.Second)
	v.SetDefault("worker.error_backoff", time.Second)
	v.SetDefault("worker.scratch_dir", os.TempDir())
	v.SetDefault("queue.driver", "redis")
	v.SetDefault("queue.redis_url", "redis://localhost:6379/0")
	v.SetDefault("queue.stream", "crucible:jobs")
	v.SetDefault("queue.group", "crucible-workers")
	v.SetDefault("queue.consumer", "")
	v.SetDefault("queue.claim_idle", 5*time.Minute)
	v.SetDefault("blob.driver", "fs")
	v.SetDefault("blob.dir", filepath.Join(home, ".crucible", "blobs"))
	v.SetDefault("blob.redis_url", "redis://localhost:6379/0")
	v.SetDefault("blob.prefix", "crucible:blob:")
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite_path", filepath.Join(home, ".crucible", "crucible.db"))
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.max_conns", 10)
	v.SetDefault("sandbox.docker", "docker")
	v.SetDefault("sandbox.default_image", "code-executor-image")
	v.SetDefault("sandbox.memory", "100m")
	v.SetDefault("sandbox.cpus", "0.5")
	v.SetDefault("sandbox.pids_limit", 50)
	v.SetDefault("sandbox.timeout", 30*time.Second)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Expand environment variables in secrets
	cfg.Queue.RedisURL = expandEnv(cfg.Queue.RedisURL)
	cfg.Blob.RedisURL = expandEnv(cfg.Blob.RedisURL)
	cfg.Storage.PostgresDSN = expandEnv(cfg.Storage.PostgresDSN)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(s[2 : len(s)-1])
	}
	return s
}

func (c *Config) validate() error {
	if c.Worker.BatchSize < 1 {
		return fmt.Errorf("worker.batch_size must be at least 1, got %d", c.Worker.BatchSize)
	}
	if c.Sandbox.Timeout < 0 {
		return fmt.Errorf("sandbox.timeout must not be negative")
	}
	if !slices.Contains([]string{"redis", "memory"}, c.Queue.Driver) {
		return fmt.Errorf("unknown queue driver %q", c.Queue.Driver)
	}
	if !slices.Contains([]string{"fs", "redis"}, c.Blob.Driver) {
		return fmt.Errorf("unknown blob driver %q", c.Blob.Driver)
	}
	if !slices.Contains([]string{"sqlite", "postgres"}, c.Storage.Driver) {
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Queue.ClaimIdle < 0 {
		return fmt.Errorf("queue.claim_idle must not be negative")
	}
	// A running job must not be claimed by another worker.
	if c.Queue.ClaimIdle > 0 && c.Sandbox.Timeout > 0 && c.Queue.ClaimIdle < 2*c.Sandbox.Timeout {
		c.Queue.ClaimIdle = 2 * c.Sandbox.Timeout
	}
	// Every job in a batch may hold a connection at once.
	if c.Storage.MaxConns < int32(c.Worker.BatchSize) {
		c.Storage.MaxConns = int32(c.Worker.BatchSize)
	}
	return nil
}

// Image returns the sandbox image for a language.
func (s SandboxConfig) Image(language string) string {
	if img, ok := s.Images[language]; ok && img != "" {
		return img
	}
	return s.DefaultImage
}

// Policy builds the sandbox policy. The allowlist is every configured image.
func (s SandboxConfig) Policy() sandbox.Policy {
	p := sandbox.DefaultPolicy()
	p.Memory = s.Memory
	p.CPUs = s.CPUs
	p.PidsLimit = s.PidsLimit
	p.Timeout = s.Timeout

	p.Images = []string{s.DefaultImage}
	for _, img := range s.Images {
		if img != "" && !slices.Contains(p.Images, img) {
			p.Images = append(p.Images, img)
		}
	}
	return p
}
