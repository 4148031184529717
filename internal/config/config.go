// Package config provides unified configuration for all bookinglake services.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Mode represents the service mode to run.
type Mode string

const (
	ModeAll     Mode = "all"
	ModeHTTP    Mode = "http"
	ModeQueue   Mode = "queue"
	ModeCompact Mode = "compact"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "BOOKINGLAKE_"

// Config holds the unified configuration for all bookinglake services.
type Config struct {
	// Mode specifies which services to run: all, http, queue, compact
	Mode Mode `json:"mode" yaml:"mode"`

	// DataDir is the base directory for local storage and scratch files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	HTTP       HTTPConfig       `json:"http" yaml:"http"`
	Pipeline   PipelineConfig   `json:"pipeline" yaml:"pipeline"`
	Partition  PartitionConfig  `json:"partition" yaml:"partition"`
	Queue      QueueConfig      `json:"queue" yaml:"queue"`
	Compaction CompactionConfig `json:"compaction" yaml:"compaction"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	Log        LogConfig        `json:"log" yaml:"log"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Addr         string        `json:"addr" yaml:"addr"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout"`

	// AllowedOrigins lists the CORS origins; empty allows all
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`

	// MaxBodyBytes caps request bodies
	MaxBodyBytes int64 `json:"max_body_bytes" yaml:"max_body_bytes"`
}

// PipelineConfig holds ingestion pipeline configuration.
type PipelineConfig struct {
	// MaxConflictRetries bounds re-merges after a lost conditional write
	MaxConflictRetries int `json:"max_conflict_retries" yaml:"max_conflict_retries"`

	// ConflictBackoff is the base jittered wait between conflict retries
	ConflictBackoff time.Duration `json:"conflict_backoff" yaml:"conflict_backoff"`

	// ScratchDir is the parent of per-invocation scratch directories
	ScratchDir string `json:"scratch_dir" yaml:"scratch_dir"`

	// Unconditional disables conditional writes. Only for demonstrating
	// the lost-update race.
	Unconditional bool `json:"unconditional" yaml:"unconditional"`

	// BatchPolicy is best_effort or fail_fast
	BatchPolicy string `json:"batch_policy" yaml:"batch_policy"`
}

// PartitionConfig holds key and timestamp settings.
type PartitionConfig struct {
	// KeyPrefix is prepended to daily keys, e.g. "bookings/"
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`

	// EventKeyPrefix is prepended to per-event and compacted keys
	EventKeyPrefix string `json:"event_key_prefix" yaml:"event_key_prefix"`

	// TimeZone labels booking timestamps; empty stores them naive
	TimeZone string `json:"time_zone" yaml:"time_zone"`

	// UTCOffsetSeconds is the fixed offset of TimeZone
	UTCOffsetSeconds int `json:"utc_offset_seconds" yaml:"utc_offset_seconds"`
}

// QueueConfig holds Redis queue consumer configuration.
type QueueConfig struct {
	RedisAddr     string        `json:"redis_addr" yaml:"redis_addr"`
	RedisPassword string        `json:"redis_password" yaml:"redis_password"`
	RedisDB       int           `json:"redis_db" yaml:"redis_db"`
	List          string        `json:"list" yaml:"list"`
	DeadLetter    string        `json:"dead_letter" yaml:"dead_letter"`
	BatchSize     int           `json:"batch_size" yaml:"batch_size"`
	PollTimeout   time.Duration `json:"poll_timeout" yaml:"poll_timeout"`
}

// CompactionConfig holds compaction service configuration.
type CompactionConfig struct {
	WorkDir             string        `json:"work_dir" yaml:"work_dir"`
	CheckInterval       time.Duration `json:"check_interval" yaml:"check_interval"`
	LookbackDays        int           `json:"lookback_days" yaml:"lookback_days"`
	DownloadConcurrency int           `json:"download_concurrency" yaml:"download_concurrency"`
}

// StorageConfig holds storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	Bucket       string `json:"bucket" yaml:"bucket"`
	Region       string `json:"region" yaml:"region"`
	Endpoint     string `json:"endpoint" yaml:"endpoint"`
	UsePathStyle bool   `json:"use_path_style" yaml:"use_path_style"`
	MaxRetries   int    `json:"max_retries" yaml:"max_retries"`
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level    string `json:"level" yaml:"level"`
	Encoding string `json:"encoding" yaml:"encoding"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		Mode:    ModeHTTP,
		DataDir: "./data/bookinglake",
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
			MaxBodyBytes: 1 << 20,
		},
		Pipeline: PipelineConfig{
			MaxConflictRetries: 5,
			ConflictBackoff:    20 * time.Millisecond,
			BatchPolicy:        "best_effort",
		},
		Partition: PartitionConfig{
			TimeZone:         "America/Lima",
			UTCOffsetSeconds: -5 * 60 * 60,
		},
		Queue: QueueConfig{
			RedisAddr:   "localhost:6379",
			List:        "bookinglake:events",
			DeadLetter:  "bookinglake:events:dead",
			BatchSize:   10,
			PollTimeout: 5 * time.Second,
		},
		Compaction: CompactionConfig{
			CheckInterval:       time.Hour,
			LookbackDays:        1,
			DownloadConcurrency: 16,
		},
		Storage: StorageConfig{
			Type: "local",
			S3: S3Config{
				Bucket:     "analytics-bucket-s3",
				Region:     "us-east-1",
				MaxRetries: 3,
			},
		},
		Log: LogConfig{
			Level:    "info",
			Encoding: "json",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/bookinglake"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}
	if c.Pipeline.ScratchDir == "" {
		c.Pipeline.ScratchDir = filepath.Join(c.DataDir, "scratch")
	}
	if c.Compaction.WorkDir == "" {
		c.Compaction.WorkDir = filepath.Join(c.DataDir, "compaction")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeAll, ModeHTTP, ModeQueue, ModeCompact:
	default:
		return fmt.Errorf("invalid mode: %s (must be all, http, queue, or compact)", c.Mode)
	}

	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}
	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	if c.Pipeline.MaxConflictRetries < 0 {
		return fmt.Errorf("pipeline.max_conflict_retries must be >= 0, got %d", c.Pipeline.MaxConflictRetries)
	}
	switch c.Pipeline.BatchPolicy {
	case "best_effort", "fail_fast":
	default:
		return fmt.Errorf("invalid pipeline.batch_policy: %s (must be best_effort or fail_fast)", c.Pipeline.BatchPolicy)
	}

	if c.ShouldRunQueue() {
		if c.Queue.List == "" {
			return fmt.Errorf("queue.list is required in queue mode")
		}
		if c.Queue.BatchSize <= 0 {
			return fmt.Errorf("queue.batch_size must be positive, got %d", c.Queue.BatchSize)
		}
	}

	return nil
}

// ShouldRunHTTP returns true if the HTTP adapter should run.
func (c *Config) ShouldRunHTTP() bool {
	return c.Mode == ModeAll || c.Mode == ModeHTTP
}

// ShouldRunQueue returns true if the queue consumer should run.
func (c *Config) ShouldRunQueue() bool {
	return c.Mode == ModeAll || c.Mode == ModeQueue
}

// ShouldRunCompact returns true if the compaction daemon should run.
func (c *Config) ShouldRunCompact() bool {
	return c.Mode == ModeAll || c.Mode == ModeCompact
}

// LoadFromFile loads configuration from a YAML or JSON file over the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// LoadFromEnv overrides cfg from BOOKINGLAKE_* environment variables.
// Malformed numeric values are reported rather than ignored.
func LoadFromEnv(cfg *Config) error {
	e := envReader{}

	e.str("MODE", (*string)(&cfg.Mode))
	e.str("DATA_DIR", &cfg.DataDir)

	e.str("HTTP_ADDR", &cfg.HTTP.Addr)
	e.duration("HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout)
	e.duration("HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout)
	e.list("HTTP_ALLOWED_ORIGINS", &cfg.HTTP.AllowedOrigins)

	e.integer("MAX_CONFLICT_RETRIES", &cfg.Pipeline.MaxConflictRetries)
	e.duration("CONFLICT_BACKOFF", &cfg.Pipeline.ConflictBackoff)
	e.str("SCRATCH_DIR", &cfg.Pipeline.ScratchDir)
	e.boolean("UNCONDITIONAL_WRITES", &cfg.Pipeline.Unconditional)
	e.str("BATCH_POLICY", &cfg.Pipeline.BatchPolicy)

	e.str("KEY_PREFIX", &cfg.Partition.KeyPrefix)
	e.str("EVENT_KEY_PREFIX", &cfg.Partition.EventKeyPrefix)
	e.str("TIME_ZONE", &cfg.Partition.TimeZone)
	e.integer("UTC_OFFSET_SECONDS", &cfg.Partition.UTCOffsetSeconds)

	e.str("REDIS_ADDR", &cfg.Queue.RedisAddr)
	e.str("REDIS_PASSWORD", &cfg.Queue.RedisPassword)
	e.integer("REDIS_DB", &cfg.Queue.RedisDB)
	e.str("QUEUE_LIST", &cfg.Queue.List)
	e.str("QUEUE_DEAD_LETTER", &cfg.Queue.DeadLetter)
	e.integer("QUEUE_BATCH_SIZE", &cfg.Queue.BatchSize)
	e.duration("QUEUE_POLL_TIMEOUT", &cfg.Queue.PollTimeout)

	e.duration("COMPACTION_CHECK_INTERVAL", &cfg.Compaction.CheckInterval)
	e.integer("COMPACTION_LOOKBACK_DAYS", &cfg.Compaction.LookbackDays)

	e.str("STORAGE_TYPE", &cfg.Storage.Type)
	e.str("STORAGE_PATH", &cfg.Storage.Path)
	e.str("S3_BUCKET", &cfg.Storage.S3.Bucket)
	e.str("S3_REGION", &cfg.Storage.S3.Region)
	e.str("S3_ENDPOINT", &cfg.Storage.S3.Endpoint)
	e.boolean("S3_USE_PATH_STYLE", &cfg.Storage.S3.UsePathStyle)

	e.str("LOG_LEVEL", &cfg.Log.Level)
	e.str("LOG_ENCODING", &cfg.Log.Encoding)

	if len(e.errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(e.errs, "; "))
	}
	return nil
}

// Load builds the configuration in precedence order: defaults, then the
// optional file, then .env, then the environment.
func Load(path string, dotenv ...string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := LoadDotEnv(dotenv...); err != nil {
		return nil, err
	}
	if err := LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir, c.Pipeline.ScratchDir, c.Compaction.WorkDir}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

type envReader struct {
	errs []string
}

func (e *envReader) lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + name)
	return v, ok && v != ""
}

func (e *envReader) str(name string, dst *string) {
	if v, ok := e.lookup(name); ok {
		*dst = v
	}
}

func (e *envReader) list(name string, dst *[]string) {
	if v, ok := e.lookup(name); ok {
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		*dst = out
	}
}

func (e *envReader) integer(name string, dst *int) {
	if v, ok := e.lookup(name); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Sprintf("%s%s=%q is not an integer", EnvPrefix, name, v))
			return
		}
		*dst = n
	}
}

func (e *envReader) boolean(name string, dst *bool) {
	if v, ok := e.lookup(name); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Sprintf("%s%s=%q is not a boolean", EnvPrefix, name, v))
			return
		}
		*dst = b
	}
}

func (e *envReader) duration(name string, dst *time.Duration) {
	if v, ok := e.lookup(name); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Sprintf("%s%s=%q is not a duration", EnvPrefix, name, v))
			return
		}
		*dst = d
	}
}
