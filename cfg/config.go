package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// WriteMode selects how counter mutations reach the durable store
type WriteMode string

const (
	WriteThrough WriteMode = "write_through" // Cache and durable store updated on every mutation
	WriteBack    WriteMode = "write_back"    // Cache only, durable store caught up by reconciliation
)

// StoreDriver selects the durable counter backend
type StoreDriver string

const (
	StoreSQLite StoreDriver = "sqlite"
	StoreMySQL  StoreDriver = "mysql"
	StorePebble StoreDriver = "pebble"
	StoreMemory StoreDriver = "memory"
)

// QueueConfiguration controls the event ring
type QueueConfiguration struct {
	Capacity     int    `toml:"capacity"`      // Must be a power of two
	Producer     string `toml:"producer"`      // "single" or "multi"
	WaitStrategy string `toml:"wait_strategy"` // "blocking" or "yielding"
}

// WorkerConfiguration controls the consumer pool
type WorkerConfiguration struct {
	Count             int `toml:"count"`
	ShutdownTimeoutMS int `toml:"shutdown_timeout_ms"`
}

// CounterConfiguration controls the dual-store counter repository
type CounterConfiguration struct {
	WriteMode           WriteMode `toml:"write_mode"`
	SyncIntervalSeconds int       `toml:"sync_interval_seconds"`
	CacheIdleTTLSeconds int       `toml:"cache_idle_ttl_seconds"` // 0 keeps entries forever
	DecrementFloor      int64     `toml:"decrement_floor"`
	NegativeCacheSize   int       `toml:"negative_cache_size"`
	BatchSize           int       `toml:"batch_size"`
	BatchWaitMS         int       `toml:"batch_wait_ms"`
	WarmOnStart         bool      `toml:"warm_on_start"`
	WarmEntities        []string  `toml:"warm_entities"` // empty warms every entity type
	WarmLimit           int       `toml:"warm_limit"`    // most recently updated keys per entity type
}

// StoreConfiguration selects and addresses the durable store
type StoreConfiguration struct {
	Driver StoreDriver `toml:"driver"`
	DSN    string      `toml:"dsn"`   // SQL DSN, ignored by pebble/memory
	Table  string      `toml:"table"` // SQL table name
	Path   string      `toml:"path"`  // Pebble directory, relative to data_dir when not absolute
}

// SinkConfiguration describes one notification delivery target
type SinkConfiguration struct {
	Name            string   `toml:"name"`
	Type            string   `toml:"type"`   // "kafka" or "nats"
	Format          string   `toml:"format"` // "json" or "msgpack"
	FilterTypes     []string `toml:"filter_types"`
	Brokers         []string `toml:"brokers"`
	NatsURL         string   `toml:"nats_url"`
	TopicPrefix     string   `toml:"topic_prefix"`
	BatchSize       int      `toml:"batch_size"`
	PollIntervalMS  int      `toml:"poll_interval_ms"`
	RetryInitialMS  int      `toml:"retry_initial_ms"`
	RetryMaxMS      int      `toml:"retry_max_ms"`
	RetryMultiplier float64  `toml:"retry_multiplier"`
}

// NotifyConfiguration controls notification delivery
type NotifyConfiguration struct {
	Enabled             bool                `toml:"enabled"`
	ContentMaxRunes     int                 `toml:"content_max_runes"`
	CompressThreshold   int                 `toml:"compress_threshold_bytes"`
	RetentionHours      int                 `toml:"retention_hours"`
	CleanupIntervalSecs int                 `toml:"cleanup_interval_seconds"`
	Sinks               []SinkConfiguration `toml:"sinks"`
}

// AdminConfiguration for the admin HTTP surface
type AdminConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
	Secret  string `toml:"secret"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// Configuration is the main configuration structure
type Configuration struct {
	NodeID  uint64 `toml:"node_id"`
	DataDir string `toml:"data_dir"`

	Queue      QueueConfiguration      `toml:"queue"`
	Workers    WorkerConfiguration     `toml:"workers"`
	Counter    CounterConfiguration    `toml:"counter"`
	Store      StoreConfiguration      `toml:"store"`
	Notify     NotifyConfiguration     `toml:"notify"`
	Admin      AdminConfiguration      `toml:"admin"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
}

// Command line flags
var (
	ConfigPathFlag    = flag.String("config", "", "Path to configuration file")
	DataDirFlag       = flag.String("data-dir", "", "Data directory override")
	NodeIDFlag        = flag.Uint64("node-id", 0, "Node ID override (0 = auto-generate)")
	WorkersFlag       = flag.Int("workers", 0, "Worker count override")
	QueueCapacityFlag = flag.Int("queue-capacity", 0, "Event queue capacity override (power of two)")
)

// Config is the global configuration instance
var Config = &Configuration{
	NodeID:  0,
	DataDir: "./engage-data",

	Queue: QueueConfiguration{
		Capacity:     1024,
		Producer:     "multi",
		WaitStrategy: "blocking",
	},

	Workers: WorkerConfiguration{
		Count:             4,
		ShutdownTimeoutMS: 10000,
	},

	Counter: CounterConfiguration{
		WriteMode:           WriteThrough,
		SyncIntervalSeconds: 300,
		CacheIdleTTLSeconds: 7 * 24 * 3600,
		DecrementFloor:      0,
		NegativeCacheSize:   4096,
		BatchSize:           128,
		BatchWaitMS:         2,
		WarmOnStart:         false,
		WarmLimit:           10000,
	},

	Store: StoreConfiguration{
		Driver: StoreSQLite,
		DSN:    "file:engage.db?_journal_mode=WAL&_busy_timeout=5000",
		Table:  "counters",
		Path:   "counters",
	},

	Notify: NotifyConfiguration{
		Enabled:             true,
		ContentMaxRunes:     50,
		CompressThreshold:   1024,
		RetentionHours:      24,
		CleanupIntervalSecs: 60,
	},

	Admin: AdminConfiguration{
		Enabled: false,
		Address: "127.0.0.1",
		Port:    8480,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: true,
	},
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	if *DataDirFlag != "" {
		Config.DataDir = *DataDirFlag
	}
	if *NodeIDFlag != 0 {
		Config.NodeID = *NodeIDFlag
	}
	if *WorkersFlag != 0 {
		Config.Workers.Count = *WorkersFlag
	}
	if *QueueCapacityFlag != 0 {
		Config.Queue.Capacity = *QueueCapacityFlag
	}

	if Config.NodeID == 0 {
		var err error
		Config.NodeID, err = generateNodeID()
		if err != nil {
			return fmt.Errorf("failed to generate node ID: %w", err)
		}
		log.Info().Uint64("node_id", Config.NodeID).Msg("Auto-generated node ID")
	}

	if err := os.MkdirAll(Config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	return nil
}

// generateNodeID creates a stable node ID based on machine ID
func generateNodeID() (uint64, error) {
	id, err := machineid.ProtectedID("engage")
	if err != nil {
		return 0, err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64(), nil
}

// Validate checks configuration for errors
func Validate() error {
	c := Config.Queue.Capacity
	if c < 1 || c&(c-1) != 0 {
		return fmt.Errorf("queue capacity must be a power of two, got %d", c)
	}

	if Config.Queue.Producer != "single" && Config.Queue.Producer != "multi" {
		return fmt.Errorf("invalid queue producer mode: %s", Config.Queue.Producer)
	}

	if Config.Queue.WaitStrategy != "blocking" && Config.Queue.WaitStrategy != "yielding" {
		return fmt.Errorf("invalid queue wait strategy: %s", Config.Queue.WaitStrategy)
	}

	if Config.Workers.Count < 1 {
		return fmt.Errorf("worker count must be >= 1")
	}

	if Config.Workers.ShutdownTimeoutMS < 0 {
		return fmt.Errorf("worker shutdown timeout must be >= 0")
	}

	if Config.Counter.WriteMode != WriteThrough && Config.Counter.WriteMode != WriteBack {
		return fmt.Errorf("invalid counter write mode: %s", Config.Counter.WriteMode)
	}

	if Config.Counter.SyncIntervalSeconds < 1 {
		return fmt.Errorf("counter sync interval must be >= 1 second")
	}

	if Config.Counter.CacheIdleTTLSeconds < 0 {
		return fmt.Errorf("counter cache idle TTL must be >= 0")
	}

	if Config.Counter.DecrementFloor < 0 {
		return fmt.Errorf("counter decrement floor must be >= 0")
	}

	if Config.Counter.BatchSize < 1 {
		return fmt.Errorf("counter batch size must be >= 1")
	}

	if Config.Counter.WarmOnStart && Config.Counter.WarmLimit < 1 {
		return fmt.Errorf("counter warm limit must be >= 1")
	}

	switch Config.Store.Driver {
	case StoreSQLite, StoreMySQL:
		if Config.Store.DSN == "" {
			return fmt.Errorf("store DSN is required for driver %s", Config.Store.Driver)
		}
		if Config.Store.Table == "" {
			return fmt.Errorf("store table is required for driver %s", Config.Store.Driver)
		}
	case StorePebble:
		if Config.Store.Path == "" {
			return fmt.Errorf("store path is required for pebble")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("invalid store driver: %s", Config.Store.Driver)
	}

	if Config.Admin.Enabled && (Config.Admin.Port < 1 || Config.Admin.Port > 65535) {
		return fmt.Errorf("invalid admin port: %d", Config.Admin.Port)
	}

	if Config.Notify.Enabled {
		seen := make(map[string]bool)
		for _, s := range Config.Notify.Sinks {
			if s.Name == "" {
				return fmt.Errorf("notification sink name is required")
			}
			if seen[s.Name] {
				return fmt.Errorf("duplicate notification sink: %s", s.Name)
			}
			seen[s.Name] = true

			switch s.Type {
			case "kafka":
				if len(s.Brokers) == 0 {
					return fmt.Errorf("sink %s: kafka requires brokers", s.Name)
				}
			case "nats":
				if s.NatsURL == "" {
					return fmt.Errorf("sink %s: nats requires nats_url", s.Name)
				}
			default:
				return fmt.Errorf("sink %s: unknown type %q", s.Name, s.Type)
			}
		}
	}

	return nil
}

// SyncInterval returns the reconciliation period
func (c *CounterConfiguration) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalSeconds) * time.Second
}

// IdleTTL returns the cache idle eviction period, zero when disabled
func (c *CounterConfiguration) IdleTTL() time.Duration {
	return time.Duration(c.CacheIdleTTLSeconds) * time.Second
}

// ShutdownTimeout returns the drain budget for Stop
func (w *WorkerConfiguration) ShutdownTimeout() time.Duration {
	return time.Duration(w.ShutdownTimeoutMS) * time.Millisecond
}

// IsAdminAuthEnabled reports whether admin requests need the shared secret
func IsAdminAuthEnabled() bool {
	return Config.Admin.Secret != ""
}
