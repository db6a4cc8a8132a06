// Package config loads the scenekit service configuration.
//
// Values come from, in increasing priority: built-in defaults, a YAML config
// file (SCENEKIT_CONFIG or ./scenekit.yaml), a .env file in the working
// directory and SCENEKIT_* environment variables. Nested keys map to
// environment names by replacing dots with underscores, so bridge.port is
// SCENEKIT_BRIDGE_PORT.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/kingrea/scenekit/internal/jobs"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "SCENEKIT"
	// EnvConfigPath names the variable that points at the config file.
	EnvConfigPath = "SCENEKIT_CONFIG"

	defaultConfigName = "scenekit"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMongo  = "mongo"
)

// Config holds the runtime configuration for scenekit.
type Config struct {
	// Scenes is a definition file or a directory of them.
	Scenes       string          `mapstructure:"scenes"`
	DefaultScene string          `mapstructure:"default_scene"`
	Timezone     string          `mapstructure:"timezone"`
	Log          LogConfig       `mapstructure:"log"`
	Store        StoreConfig     `mapstructure:"store"`
	Writer       WriterConfig    `mapstructure:"writer"`
	Telegram     TelegramConfig  `mapstructure:"telegram"`
	Bridge       BridgeConfig    `mapstructure:"bridge"`
	Jobs         []jobs.Schedule `mapstructure:"jobs"`
	Refresh      []RefreshConfig `mapstructure:"refresh"`
}

// LogConfig selects level, encoding and destination of the service log.
type LogConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Backend         string        `mapstructure:"backend"`
	Path            string        `mapstructure:"path"`
	RedisURL        string        `mapstructure:"redis_url"`
	RedisPrefix     string        `mapstructure:"redis_prefix"`
	TTL             time.Duration `mapstructure:"ttl"`
	MongoURI        string        `mapstructure:"mongo_uri"`
	MongoDatabase   string        `mapstructure:"mongo_database"`
	MongoCollection string        `mapstructure:"mongo_collection"`
}

// WriterConfig tunes the asynchronous persistence writer.
type WriterConfig struct {
	Shards    int           `mapstructure:"shards"`
	QueueSize int           `mapstructure:"queue_size"`
	OpTimeout time.Duration `mapstructure:"op_timeout"`
}

// TelegramConfig enables the Telegram transport when Token is set.
type TelegramConfig struct {
	Token         string        `mapstructure:"token"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
	PollTimeout   time.Duration `mapstructure:"poll_timeout"`
}

// Enabled reports whether a bot token is configured.
func (t TelegramConfig) Enabled() bool {
	return strings.TrimSpace(t.Token) != ""
}

// BridgeConfig configures the HTTP inbound event bridge.
type BridgeConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	DedupeWindow int           `mapstructure:"dedupe_window"`
}

// RefreshConfig re-renders every session of Scene showing Page on Cron.
type RefreshConfig struct {
	Scene string `mapstructure:"scene"`
	Page  string `mapstructure:"page"`
	Cron  string `mapstructure:"cron"`
}

// JobKey returns the job registry key for the refresh entry.
func (r RefreshConfig) JobKey() string {
	return "refresh:" + r.Scene + ":" + r.Page
}

// Load reads configuration from path (or the default locations when empty),
// .env and the environment.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")

	explicit := strings.TrimSpace(path)
	if explicit == "" {
		explicit = strings.TrimSpace(os.Getenv(EnvConfigPath))
	}
	if explicit != "" {
		v.SetConfigFile(explicit)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName(defaultConfigName)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("config: read: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	c.normalize()
	if err := c.validate(); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return c, nil
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var c Config
	_ = v.Unmarshal(&c)
	c.normalize()
	return c
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("scenes", "scenes")
	v.SetDefault("default_scene", "")
	v.SetDefault("timezone", "UTC")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stderr")
	v.SetDefault("log.file_path", "logs/scenekit.log")

	v.SetDefault("store.backend", BackendMemory)
	v.SetDefault("store.path", "scenekit.db")
	v.SetDefault("store.redis_url", "redis://127.0.0.1:6379/0")
	v.SetDefault("store.redis_prefix", "scenekit")
	v.SetDefault("store.ttl", "0s")
	v.SetDefault("store.mongo_uri", "mongodb://127.0.0.1:27017")
	v.SetDefault("store.mongo_database", "scenekit")
	v.SetDefault("store.mongo_collection", "scene_sessions")

	v.SetDefault("writer.shards", 4)
	v.SetDefault("writer.queue_size", 256)
	v.SetDefault("writer.op_timeout", "5s")

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.rate_per_second", 25.0)
	v.SetDefault("telegram.burst", 5)
	v.SetDefault("telegram.poll_timeout", "30s")

	v.SetDefault("bridge.enabled", false)
	v.SetDefault("bridge.host", "127.0.0.1")
	v.SetDefault("bridge.port", 8765)
	v.SetDefault("bridge.max_body_bytes", 1<<20)
	v.SetDefault("bridge.read_timeout", "15s")
	v.SetDefault("bridge.write_timeout", "15s")
	v.SetDefault("bridge.idle_timeout", "60s")
	v.SetDefault("bridge.dedupe_window", 1024)

	v.SetDefault("jobs", []map[string]string{{"key": "reconcile", "cron": "*/5 * * * *"}})
	v.SetDefault("refresh", []map[string]string{})
}

// Location resolves the configured timezone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func (c *Config) normalize() {
	c.Scenes = strings.TrimSpace(c.Scenes)
	c.DefaultScene = strings.TrimSpace(c.DefaultScene)
	c.Timezone = strings.TrimSpace(c.Timezone)
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	c.Log.Level = normalizeName(c.Log.Level)
	c.Log.Format = normalizeName(c.Log.Format)
	c.Log.Output = normalizeName(c.Log.Output)
	c.Store.Backend = normalizeName(c.Store.Backend)
	c.Telegram.Token = strings.TrimSpace(c.Telegram.Token)
	c.Bridge.Host = strings.TrimSpace(c.Bridge.Host)
	for i := range c.Jobs {
		c.Jobs[i].Key = strings.TrimSpace(c.Jobs[i].Key)
		c.Jobs[i].Cron = strings.TrimSpace(c.Jobs[i].Cron)
	}
	for i := range c.Refresh {
		c.Refresh[i].Scene = strings.TrimSpace(c.Refresh[i].Scene)
		c.Refresh[i].Page = strings.TrimSpace(c.Refresh[i].Page)
		c.Refresh[i].Cron = strings.TrimSpace(c.Refresh[i].Cron)
	}
}

func (c Config) validate() error {
	if c.Scenes == "" {
		return errors.New("scenes path is required")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if err := c.Log.validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if err := c.Store.validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if c.Writer.Shards < 1 {
		return errors.New("writer.shards must be >= 1")
	}
	if c.Writer.QueueSize < 1 {
		return errors.New("writer.queue_size must be >= 1")
	}
	if c.Telegram.Enabled() && c.Telegram.RatePerSecond <= 0 {
		return errors.New("telegram.rate_per_second must be > 0")
	}
	if c.Bridge.Enabled && (c.Bridge.Port < 0 || c.Bridge.Port > 65535) {
		return fmt.Errorf("bridge.port %d out of range", c.Bridge.Port)
	}
	for i, job := range c.Jobs {
		if job.Key == "" || job.Cron == "" {
			return fmt.Errorf("jobs[%d]: key and cron are required", i)
		}
	}
	for i, r := range c.Refresh {
		if r.Scene == "" || r.Page == "" || r.Cron == "" {
			return fmt.Errorf("refresh[%d]: scene, page and cron are required", i)
		}
	}
	return nil
}

func (l LogConfig) validate() error {
	if _, err := zerolog.ParseLevel(l.Level); err != nil {
		return fmt.Errorf("level %q: %w", l.Level, err)
	}
	switch l.Format {
	case "json", "console":
	default:
		return fmt.Errorf("format must be 'json' or 'console'")
	}
	switch l.Output {
	case "stdout", "stderr":
	case "file":
		if strings.TrimSpace(l.FilePath) == "" {
			return errors.New("file_path is required for file output")
		}
	default:
		return fmt.Errorf("output must be 'stdout', 'stderr' or 'file'")
	}
	return nil
}

func (s StoreConfig) validate() error {
	switch s.Backend {
	case BackendMemory:
	case BackendSQLite:
		if strings.TrimSpace(s.Path) == "" {
			return errors.New("path is required for sqlite")
		}
	case BackendRedis:
		if strings.TrimSpace(s.RedisURL) == "" {
			return errors.New("redis_url is required for redis")
		}
	case BackendMongo:
		if strings.TrimSpace(s.MongoURI) == "" || strings.TrimSpace(s.MongoDatabase) == "" {
			return errors.New("mongo_uri and mongo_database are required for mongo")
		}
	default:
		return fmt.Errorf("backend must be one of memory, sqlite, redis, mongo (got %q)", s.Backend)
	}
	return nil
}

func normalizeName(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
