package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all engine configuration
type Config struct {
	App       AppConfig
	Log       LogConfig
	Database  DatabaseConfig
	Transport TransportConfig
	Realtime  RealtimeConfig
	Queue     QueueConfig
	Sync      SyncConfig
	Scheduler SchedulerConfig
	Cache     CacheConfig
	Telemetry TelemetryConfig
	Analytics AnalyticsConfig
	HTTP      HTTPConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name     string
	Env      string
	DeviceID string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level    string // debug, info, warn, error
	Format   string // json, console
	Output   string // stdout, stderr, or file path
	SQLLevel string // silent, error, warn, info
}

// DatabaseConfig selects and configures the local store database.
// Driver "sqlite" uses Path; "postgres" uses the connection fields.
type DatabaseConfig struct {
	Driver          string
	Path            string
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// TransportConfig holds the ERP server client settings
type TransportConfig struct {
	BaseURL    string
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
	MaxDelay   time.Duration
	Backoff    string // fixed, exponential
	Jitter     bool
	HealthPath string
	AuthToken  string
	RateLimit  float64 // requests per second, 0 disables
	RateBurst  int
}

// RealtimeConfig holds the websocket channel settings
type RealtimeConfig struct {
	Enabled           bool
	URL               string
	HeartbeatInterval time.Duration
	ReconnectInitial  time.Duration
	ReconnectMax      time.Duration
	SendBuffer        int
}

// QueueConfig holds offline action queue settings
type QueueConfig struct {
	MaxRetries          int
	BaseBackoff         time.Duration
	MaxBackoff          time.Duration
	HealthCheckInterval time.Duration
}

// SyncConfig holds sync orchestrator settings
type SyncConfig struct {
	HistoryRetention int
	UploadRetries    int
}

// SchedulerConfig holds cron schedules for periodic engine work
type SchedulerConfig struct {
	Enabled            bool
	AutoSyncSchedule   string
	QueueDrainSchedule string
	CacheSweepSchedule string
	JobTimeout         time.Duration
}

// CacheConfig selects the backend of the advisory cache
type CacheConfig struct {
	Backend       string // store, redis
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int
	KeyPrefix     string
}

// TelemetryConfig holds OpenTelemetry metrics and tracing configuration
type TelemetryConfig struct {
	Enabled           bool
	CollectorEndpoint string
	ServiceName       string
	Insecure          bool
	ExportInterval    time.Duration
	SamplingRatio     float64 // 0.0-1.0, 1.0 traces every session
	DBTraceEnabled    bool    // otelgorm spans for store queries
	LogsEnabled       bool    // export zap logs through the OTLP log bridge
}

// AnalyticsConfig holds ML analytics service settings
type AnalyticsConfig struct {
	BaseURL  string
	Timeout  time.Duration
	CacheTTL time.Duration
}

// HTTPConfig holds the local control API settings
type HTTPConfig struct {
	Enabled      bool
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BodyLimit    int64   // bytes
	RateLimit    float64 // requests per second per client, 0 disables
	RateBurst    int
	CORSOrigins  []string
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with MOBILESYNC_ prefix (e.g., MOBILESYNC_TRANSPORT_BASE_URL)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/mobilesync")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("MOBILESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name:     v.GetString("app.name"),
			Env:      v.GetString("app.env"),
			DeviceID: v.GetString("app.device_id"),
		},
		Log: LogConfig{
			Level:    v.GetString("log.level"),
			Format:   v.GetString("log.format"),
			Output:   v.GetString("log.output"),
			SQLLevel: v.GetString("log.sql_level"),
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("database.driver"),
			Path:            v.GetString("database.path"),
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Transport: TransportConfig{
			BaseURL:    v.GetString("transport.base_url"),
			Timeout:    v.GetDuration("transport.timeout"),
			Retries:    v.GetInt("transport.retries"),
			RetryDelay: v.GetDuration("transport.retry_delay"),
			MaxDelay:   v.GetDuration("transport.max_delay"),
			Backoff:    v.GetString("transport.backoff"),
			Jitter:     !v.IsSet("transport.jitter") || v.GetBool("transport.jitter"),
			HealthPath: v.GetString("transport.health_path"),
			AuthToken:  v.GetString("transport.auth_token"),
			RateLimit:  v.GetFloat64("transport.rate_limit"),
			RateBurst:  v.GetInt("transport.rate_burst"),
		},
		Realtime: RealtimeConfig{
			Enabled:           v.GetBool("realtime.enabled"),
			URL:               v.GetString("realtime.url"),
			HeartbeatInterval: v.GetDuration("realtime.heartbeat_interval"),
			ReconnectInitial:  v.GetDuration("realtime.reconnect_initial"),
			ReconnectMax:      v.GetDuration("realtime.reconnect_max"),
			SendBuffer:        v.GetInt("realtime.send_buffer"),
		},
		Queue: QueueConfig{
			MaxRetries:          v.GetInt("queue.max_retries"),
			BaseBackoff:         v.GetDuration("queue.base_backoff"),
			MaxBackoff:          v.GetDuration("queue.max_backoff"),
			HealthCheckInterval: v.GetDuration("queue.health_check_interval"),
		},
		Sync: SyncConfig{
			HistoryRetention: v.GetInt("sync.history_retention"),
			UploadRetries:    v.GetInt("sync.upload_retries"),
		},
		Scheduler: SchedulerConfig{
			Enabled:            v.GetBool("scheduler.enabled"),
			AutoSyncSchedule:   v.GetString("scheduler.auto_sync_schedule"),
			QueueDrainSchedule: v.GetString("scheduler.queue_drain_schedule"),
			CacheSweepSchedule: v.GetString("scheduler.cache_sweep_schedule"),
			JobTimeout:         v.GetDuration("scheduler.job_timeout"),
		},
		Cache: CacheConfig{
			Backend:       v.GetString("cache.backend"),
			RedisHost:     v.GetString("cache.redis_host"),
			RedisPort:     v.GetInt("cache.redis_port"),
			RedisPassword: v.GetString("cache.redis_password"),
			RedisDB:       v.GetInt("cache.redis_db"),
			KeyPrefix:     v.GetString("cache.key_prefix"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			ExportInterval:    v.GetDuration("telemetry.export_interval"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
		},
		Analytics: AnalyticsConfig{
			BaseURL:  v.GetString("analytics.base_url"),
			Timeout:  v.GetDuration("analytics.timeout"),
			CacheTTL: v.GetDuration("analytics.cache_ttl"),
		},
		HTTP: HTTPConfig{
			Enabled:      v.GetBool("http.enabled"),
			Addr:         v.GetString("http.addr"),
			ReadTimeout:  v.GetDuration("http.read_timeout"),
			WriteTimeout: v.GetDuration("http.write_timeout"),
			BodyLimit:    v.GetInt64("http.body_limit"),
			RateLimit:    v.GetFloat64("http.rate_limit"),
			RateBurst:    v.GetInt("http.rate_burst"),
			CORSOrigins:  v.GetStringSlice("http.cors_origins"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "mobilesync"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.Log.SQLLevel == "" {
		cfg.Log.SQLLevel = "warn"
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "mobilesync.db"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "mobilesync"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		// sqlite serializes writers; one connection avoids SQLITE_BUSY
		if cfg.Database.Driver == "sqlite" {
			cfg.Database.MaxOpenConns = 1
		} else {
			cfg.Database.MaxOpenConns = 10
		}
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = cfg.Database.MaxOpenConns
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}

	if cfg.Transport.BaseURL == "" {
		cfg.Transport.BaseURL = "http://localhost:8080/api/v1"
	}
	if cfg.Transport.Timeout == 0 {
		cfg.Transport.Timeout = 30 * time.Second
	}
	if cfg.Transport.Retries == 0 {
		cfg.Transport.Retries = 3
	}
	if cfg.Transport.RetryDelay == 0 {
		cfg.Transport.RetryDelay = time.Second
	}
	if cfg.Transport.MaxDelay == 0 {
		cfg.Transport.MaxDelay = 30 * time.Second
	}
	if cfg.Transport.Backoff == "" {
		cfg.Transport.Backoff = "exponential"
	}
	if cfg.Transport.HealthPath == "" {
		cfg.Transport.HealthPath = "/health"
	}
	if cfg.Transport.RateBurst == 0 {
		cfg.Transport.RateBurst = 10
	}

	if cfg.Realtime.URL == "" {
		cfg.Realtime.URL = "ws://localhost:8080/ws"
	}
	if cfg.Realtime.HeartbeatInterval == 0 {
		cfg.Realtime.HeartbeatInterval = 25 * time.Second
	}
	if cfg.Realtime.ReconnectInitial == 0 {
		cfg.Realtime.ReconnectInitial = time.Second
	}
	if cfg.Realtime.ReconnectMax == 0 {
		cfg.Realtime.ReconnectMax = 30 * time.Second
	}
	if cfg.Realtime.SendBuffer == 0 {
		cfg.Realtime.SendBuffer = 64
	}

	if cfg.Queue.MaxRetries == 0 {
		cfg.Queue.MaxRetries = 3
	}
	if cfg.Queue.BaseBackoff == 0 {
		cfg.Queue.BaseBackoff = time.Second
	}
	if cfg.Queue.MaxBackoff == 0 {
		cfg.Queue.MaxBackoff = 5 * time.Minute
	}
	if cfg.Queue.HealthCheckInterval == 0 {
		cfg.Queue.HealthCheckInterval = 15 * time.Second
	}

	if cfg.Sync.HistoryRetention == 0 {
		cfg.Sync.HistoryRetention = 50
	}
	if cfg.Sync.UploadRetries == 0 {
		cfg.Sync.UploadRetries = 5
	}

	if cfg.Scheduler.AutoSyncSchedule == "" {
		cfg.Scheduler.AutoSyncSchedule = "@every 15m"
	}
	if cfg.Scheduler.QueueDrainSchedule == "" {
		cfg.Scheduler.QueueDrainSchedule = "@every 1m"
	}
	if cfg.Scheduler.CacheSweepSchedule == "" {
		cfg.Scheduler.CacheSweepSchedule = "@hourly"
	}
	if cfg.Scheduler.JobTimeout == 0 {
		cfg.Scheduler.JobTimeout = 10 * time.Minute
	}

	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "store"
	}
	if cfg.Cache.RedisHost == "" {
		cfg.Cache.RedisHost = "localhost"
	}
	if cfg.Cache.RedisPort == 0 {
		cfg.Cache.RedisPort = 6379
	}
	if cfg.Cache.KeyPrefix == "" {
		cfg.Cache.KeyPrefix = "mobilesync:cache:"
	}

	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "mobilesync"
	}
	if cfg.Telemetry.ExportInterval == 0 {
		cfg.Telemetry.ExportInterval = 30 * time.Second
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}

	if cfg.Analytics.BaseURL == "" {
		cfg.Analytics.BaseURL = "http://localhost:8000/api/v1"
	}
	if cfg.Analytics.Timeout == 0 {
		cfg.Analytics.Timeout = 10 * time.Second
	}
	if cfg.Analytics.CacheTTL == 0 {
		cfg.Analytics.CacheTTL = 30 * time.Minute
	}

	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = "127.0.0.1:8765"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		// StartSync blocks until the session ends
		cfg.HTTP.WriteTimeout = 10 * time.Minute
	}
	if cfg.HTTP.BodyLimit == 0 {
		cfg.HTTP.BodyLimit = 1 << 20
	}
	if cfg.HTTP.RateLimit > 0 && cfg.HTTP.RateBurst == 0 {
		cfg.HTTP.RateBurst = int(cfg.HTTP.RateLimit) + 1
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if _, err := url.ParseRequestURI(c.Transport.BaseURL); err != nil {
		return fmt.Errorf("transport.base_url is invalid: %w", err)
	}
	if c.Transport.Retries < 0 {
		return fmt.Errorf("transport.retries cannot be negative")
	}
	if c.Transport.Backoff != "fixed" && c.Transport.Backoff != "exponential" {
		return fmt.Errorf("transport.backoff must be fixed or exponential, got %q", c.Transport.Backoff)
	}
	if c.Transport.RateLimit < 0 {
		return fmt.Errorf("transport.rate_limit cannot be negative")
	}

	if c.Realtime.Enabled {
		u, err := url.Parse(c.Realtime.URL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			return fmt.Errorf("realtime.url must be a ws:// or wss:// URL, got %q", c.Realtime.URL)
		}
	}

	if c.Queue.MaxRetries <= 0 {
		return fmt.Errorf("queue.max_retries must be positive")
	}
	if c.Sync.HistoryRetention <= 0 {
		return fmt.Errorf("sync.history_retention must be positive")
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	if c.Cache.Backend != "store" && c.Cache.Backend != "redis" {
		return fmt.Errorf("cache.backend must be store or redis, got %q", c.Cache.Backend)
	}

	if c.App.Env == "production" {
		if strings.HasPrefix(c.Transport.BaseURL, "http://") {
			return fmt.Errorf("transport.base_url must use https in production")
		}
		if c.Database.Driver == "postgres" && c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
	}

	return nil
}

// DSN returns the postgres connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// RedisAddr returns host:port of the redis cache backend
func (c *CacheConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}
