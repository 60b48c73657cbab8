package config

import (
	"time"

	"github.com/spf13/pflag"
)

// Config holds runtime settings for the vaultsync client.
type Config struct {
	ServerEndpointAddr string
	ServerHTTPAddr     string
	DBPath             string
	Namespace          string
	TimeSlotWidth      time.Duration
	WriteTimeout       time.Duration
	BackoffMin         time.Duration
	BackoffMax         time.Duration
	PushInterval       time.Duration
	PushBatchSize      int
	LogLevel           string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "127.0.0.1:50051"
	c.ServerHTTPAddr = "http://127.0.0.1:8080"
	c.DBPath = "vaultsync.db"
	c.Namespace = "default"
	c.TimeSlotWidth = 24 * time.Hour
	c.WriteTimeout = 10 * time.Second
	c.BackoffMin = time.Second
	c.BackoffMax = time.Minute
	c.PushInterval = 5 * time.Second
	c.PushBatchSize = 50
	c.LogLevel = "warn"
}

// LoadConfig constructs a Config from defaults and the optional config file.
// Flags are applied later, when cobra parses the command line registered
// through BindFlags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseFile(cfg)
	return cfg
}

// BindFlags registers persistent flags whose defaults are the current cfg
// values, so flags override both defaults and file values.
func BindFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringP("config", "c", "", "path to a JSON or YAML config file")
	fs.StringVarP(&cfg.ServerEndpointAddr, "addr", "a", cfg.ServerEndpointAddr, "gRPC address of the sync server")
	fs.StringVar(&cfg.ServerHTTPAddr, "http", cfg.ServerHTTPAddr, "base URL of the vault HTTP API")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "path of the local database")
	fs.StringVarP(&cfg.Namespace, "namespace", "n", cfg.Namespace, "sync namespace")
	fs.DurationVar(&cfg.TimeSlotWidth, "slot-width", cfg.TimeSlotWidth, "encryption time slot width")
	fs.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "how long a write waits for acknowledgement")
	fs.DurationVar(&cfg.BackoffMin, "backoff-min", cfg.BackoffMin, "initial reconnect delay")
	fs.DurationVar(&cfg.BackoffMax, "backoff-max", cfg.BackoffMax, "maximum reconnect delay")
	fs.DurationVar(&cfg.PushInterval, "push-interval", cfg.PushInterval, "how often pending entries are pushed")
	fs.IntVar(&cfg.PushBatchSize, "push-batch", cfg.PushBatchSize, "entries per write frame")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
}
