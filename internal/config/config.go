// Package config loads the daemon's configuration from built-in defaults,
// an optional YAML file, and environment variables (CLUSTERD_* prefix), in
// that increasing order of precedence, via viper.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the daemon's full configuration tree.
type Config struct {
	Server    ServerConfig
	Pool      PoolConfig
	Scheduler SchedulerConfig
	Auth      AuthConfig
	Metrics   MetricsConfig
	Events    EventsConfig
	LogLevel  string
}

// ServerConfig tunes the HTTP API and admin surfaces.
type ServerConfig struct {
	Host         string
	Port         int
	AdminPort    int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	RateLimitRPS int
}

// PoolConfig tunes the OS-process worker pool. WorkerTaskLimit recycles a
// persistent worker after it has completed that many tasks (0 disables
// recycling); only idle, already-exited workers are replaced, so the
// scheduler never sees a pid change under a running task.
type PoolConfig struct {
	WorkerBinPath       string
	MaxWorkerCount      int
	MaxTempWorkers      int
	WorkerTaskLimit     int
	WorkerStopTimeout   time.Duration
	InboxSize           int
	CommandManifestPath string
}

// SchedulerConfig tunes the control loop's timing and timeout thresholds.
type SchedulerConfig struct {
	TickInterval             time.Duration
	DeadlockThresholdTimeout time.Duration
	TaskUnresponsiveTimeout  time.Duration
	TaskAbandonedTimeout     time.Duration
	DeleteAfterTerminal      time.Duration
}

// AuthConfig tunes JWT validation and the privileged-group name that
// cmd/clusterd's permission policy checks (scheduler.DefaultPermissions
// itself always uses "admin").
type AuthConfig struct {
	Enabled         bool
	JWTSecret       string
	APIKeys         []string
	PrivilegedGroup string
}

// MetricsConfig tunes the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// EventsConfig tunes the optional Redis Pub/Sub fan-out of task lifecycle
// events, additive to the websocket hub every daemon instance always runs.
type EventsConfig struct {
	RedisEnabled bool
	RedisAddr    string
	RedisChannel string
}

// Load reads configuration from (in increasing precedence) built-in
// defaults, an optional config.yaml, and CLUSTERD_-prefixed environment
// variables.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/clusterd")

	setDefaults()

	viper.SetEnvPrefix("CLUSTERD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.adminport", 8081)
	viper.SetDefault("server.readtimeout", 30*time.Second)
	viper.SetDefault("server.writetimeout", 30*time.Second)
	viper.SetDefault("server.idletimeout", 120*time.Second)
	viper.SetDefault("server.ratelimitrps", 100)

	// Pool defaults
	viper.SetDefault("pool.workerbinpath", "clusterd-worker")
	viper.SetDefault("pool.maxworkercount", 8)
	viper.SetDefault("pool.maxtempworkers", 4)
	viper.SetDefault("pool.workertasklimit", 0)
	viper.SetDefault("pool.workerstoptimeout", 10*time.Second)
	viper.SetDefault("pool.inboxsize", 256)
	viper.SetDefault("pool.commandmanifestpath", "")

	// Scheduler defaults
	viper.SetDefault("scheduler.tickinterval", 500*time.Millisecond)
	viper.SetDefault("scheduler.deadlockthresholdtimeout", 30*time.Second)
	viper.SetDefault("scheduler.taskunresponsivetimeout", 120*time.Second)
	viper.SetDefault("scheduler.taskabandonedtimeout", 24*time.Hour)
	viper.SetDefault("scheduler.deleteafterterminal", 10*time.Minute)

	// Auth defaults
	viper.SetDefault("auth.enabled", false)
	viper.SetDefault("auth.jwtsecret", "")
	viper.SetDefault("auth.apikeys", []string{})
	viper.SetDefault("auth.privilegedgroup", "admin")

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	// Events defaults
	viper.SetDefault("events.redisenabled", false)
	viper.SetDefault("events.redisaddr", "localhost:6379")
	viper.SetDefault("events.redischannel", "clusterd:tasks")

	// Logging defaults
	viper.SetDefault("loglevel", "info")
}
