package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/vaultsync/internal/flagx"
	"github.com/dmitrijs2005/vaultsync/internal/timex"
	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk form of Config. Durations accept both "90s"
// strings and integer nanoseconds. Zero values leave the current setting
// untouched.
type FileConfig struct {
	EndpointAddrGRPC             string         `json:"endpoint_addr_grpc" yaml:"endpoint_addr_grpc"`
	EndpointAddrHTTP             string         `json:"endpoint_addr_http" yaml:"endpoint_addr_http"`
	DatabaseDSN                  string         `json:"database_dsn" yaml:"database_dsn"`
	SecretKey                    string         `json:"secret_key" yaml:"secret_key"`
	AccessTokenValidityDuration  timex.Duration `json:"access_token_validity_duration" yaml:"access_token_validity_duration"`
	RefreshTokenValidityDuration timex.Duration `json:"refresh_token_validity_duration" yaml:"refresh_token_validity_duration"`
	S3RootUser                   string         `json:"s3_root_user" yaml:"s3_root_user"`
	S3RootPassword               string         `json:"s3_root_password" yaml:"s3_root_password"`
	S3Bucket                     string         `json:"s3_bucket" yaml:"s3_bucket"`
	S3Region                     string         `json:"s3_region" yaml:"s3_region"`
	S3BaseEndpoint               string         `json:"s3_base_endpoint" yaml:"s3_base_endpoint"`
	S3OffloadThreshold           int64          `json:"s3_offload_threshold" yaml:"s3_offload_threshold"`
	SchedulerInterval            timex.Duration `json:"scheduler_interval" yaml:"scheduler_interval"`
	WriteRate                    float64        `json:"write_rate" yaml:"write_rate"`
	WriteBurst                   int            `json:"write_burst" yaml:"write_burst"`
	HTTPRate                     float64        `json:"http_rate" yaml:"http_rate"`
	HTTPBurst                    int            `json:"http_burst" yaml:"http_burst"`
	WriteBatchLimit              int            `json:"write_batch_limit" yaml:"write_batch_limit"`
	ReadBatchLimit               int            `json:"read_batch_limit" yaml:"read_batch_limit"`
	LogLevel                     string         `json:"log_level" yaml:"log_level"`
}

// parseFile overlays values from the file named by -c/-config (or the
// VAULTSYNC_CONFIG environment variable). Files ending in .yaml or .yml are
// decoded as YAML, anything else as JSON. Unreadable or invalid files panic,
// since the server cannot start with a half-applied configuration.
func parseFile(config *Config) {
	path := flagx.ConfigFileFlag()
	if path == "" {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	c := &FileConfig{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	default:
		err = json.Unmarshal(data, c)
	}
	if err != nil {
		panic(err)
	}

	c.apply(config)
}

func (c *FileConfig) apply(config *Config) {
	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.LogLevel, c.LogLevel)

	if c.AccessTokenValidityDuration.Duration > 0 {
		config.AccessTokenValidityDuration = c.AccessTokenValidityDuration.Duration
	}
	if c.RefreshTokenValidityDuration.Duration > 0 {
		config.RefreshTokenValidityDuration = c.RefreshTokenValidityDuration.Duration
	}
	if c.SchedulerInterval.Duration > 0 {
		config.SchedulerInterval = c.SchedulerInterval.Duration
	}
	if c.S3OffloadThreshold > 0 {
		config.S3OffloadThreshold = c.S3OffloadThreshold
	}
	if c.WriteRate > 0 {
		config.WriteRate = c.WriteRate
	}
	if c.WriteBurst > 0 {
		config.WriteBurst = c.WriteBurst
	}
	if c.HTTPRate > 0 {
		config.HTTPRate = c.HTTPRate
	}
	if c.HTTPBurst > 0 {
		config.HTTPBurst = c.HTTPBurst
	}
	if c.WriteBatchLimit > 0 {
		config.WriteBatchLimit = c.WriteBatchLimit
	}
	if c.ReadBatchLimit > 0 {
		config.ReadBatchLimit = c.ReadBatchLimit
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
