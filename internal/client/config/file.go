package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/vaultsync/internal/flagx"
	"github.com/dmitrijs2005/vaultsync/internal/timex"
	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk form of Config. Zero values are ignored.
type FileConfig struct {
	ServerEndpointAddr string         `json:"server_endpoint_addr" yaml:"server_endpoint_addr"`
	ServerHTTPAddr     string         `json:"server_http_addr" yaml:"server_http_addr"`
	DBPath             string         `json:"db_path" yaml:"db_path"`
	Namespace          string         `json:"namespace" yaml:"namespace"`
	TimeSlotWidth      timex.Duration `json:"time_slot_width" yaml:"time_slot_width"`
	WriteTimeout       timex.Duration `json:"write_timeout" yaml:"write_timeout"`
	BackoffMin         timex.Duration `json:"backoff_min" yaml:"backoff_min"`
	BackoffMax         timex.Duration `json:"backoff_max" yaml:"backoff_max"`
	PushInterval       timex.Duration `json:"push_interval" yaml:"push_interval"`
	PushBatchSize      int            `json:"push_batch_size" yaml:"push_batch_size"`
	LogLevel           string         `json:"log_level" yaml:"log_level"`
}

// parseFile overlays cfg with the file named by -c/--config or
// VAULTSYNC_CONFIG. It panics on read or decode errors.
func parseFile(cfg *Config) {
	path := flagx.ConfigFileFlag()
	if path == "" {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	var fc FileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	default:
		err = json.Unmarshal(data, &fc)
	}
	if err != nil {
		panic(err)
	}

	fc.apply(cfg)
}

func (fc *FileConfig) apply(cfg *Config) {
	for dst, v := range map[*string]string{
		&cfg.ServerEndpointAddr: fc.ServerEndpointAddr,
		&cfg.ServerHTTPAddr:     fc.ServerHTTPAddr,
		&cfg.DBPath:             fc.DBPath,
		&cfg.Namespace:          fc.Namespace,
		&cfg.LogLevel:           fc.LogLevel,
	} {
		if v != "" {
			*dst = v
		}
	}

	for dst, v := range map[*time.Duration]timex.Duration{
		&cfg.TimeSlotWidth: fc.TimeSlotWidth,
		&cfg.WriteTimeout:  fc.WriteTimeout,
		&cfg.BackoffMin:    fc.BackoffMin,
		&cfg.BackoffMax:    fc.BackoffMax,
		&cfg.PushInterval:  fc.PushInterval,
	} {
		if v.Duration > 0 {
			*dst = v.Duration
		}
	}

	if fc.PushBatchSize > 0 {
		cfg.PushBatchSize = fc.PushBatchSize
	}
}
