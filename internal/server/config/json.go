package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/cfghost/internal/flagx"
	"github.com/dmitrijs2005/cfghost/internal/timex"
)

// JsonConfig is the on-disk form of Config. Durations go through
// timex.Duration so the file may say "30s" or a number of nanoseconds.
type JsonConfig struct {
	EndpointAddrHTTP string         `json:"endpoint_addr_http"`
	EndpointAddrGRPC string         `json:"endpoint_addr_grpc"`
	DatabaseDriver   string         `json:"database_driver"`
	DatabaseDSN      string         `json:"database_dsn"`
	StorageBackend   string         `json:"storage_backend"`
	StoreDir         string         `json:"store_dir"`
	StagingDir       string         `json:"staging_dir"`
	MaxUploadBytes   int64          `json:"max_upload_bytes"`
	MaxConfigChars   int            `json:"max_config_chars"`
	MaxLineLength    int            `json:"max_line_length"`
	OperationTimeout timex.Duration `json:"operation_timeout"`
	StagingTTL       timex.Duration `json:"staging_ttl"`
	SweepInterval    timex.Duration `json:"sweep_interval"`
	UploadRate       *float64       `json:"upload_rate"`
	UploadBurst      int            `json:"upload_burst"`
	SecretKey        string         `json:"secret_key"`
	S3RootUser       string         `json:"s3_root_user"`
	S3RootPassword   string         `json:"s3_root_password"`
	S3Bucket         string         `json:"s3_bucket"`
	S3Region         string         `json:"s3_region"`
	S3BaseEndpoint   string         `json:"s3_base_endpoint"`
	S3Prefix         string         `json:"s3_prefix"`
	LogLevel         string         `json:"log_level"`
}

// parseJson overlays the file named by -c/-config onto config. A missing
// flag loads nothing; an unreadable or malformed file panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	if err := LoadFile(jsonConfigFile, config); err != nil {
		panic(err)
	}
}

// LoadFile overlays a JSON config file onto config. Only fields present in
// the file change.
func LoadFile(path string, config *Config) error {
	file, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setString(&config.DatabaseDriver, c.DatabaseDriver)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.StorageBackend, c.StorageBackend)
	setString(&config.StoreDir, c.StoreDir)
	setString(&config.StagingDir, c.StagingDir)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.S3Prefix, c.S3Prefix)
	setString(&config.LogLevel, c.LogLevel)

	if c.MaxUploadBytes > 0 {
		config.MaxUploadBytes = c.MaxUploadBytes
	}
	if c.MaxConfigChars > 0 {
		config.MaxConfigChars = c.MaxConfigChars
	}
	if c.MaxLineLength > 0 {
		config.MaxLineLength = c.MaxLineLength
	}
	if c.OperationTimeout.Duration > 0 {
		config.OperationTimeout = c.OperationTimeout.Duration
	}
	if c.StagingTTL.Duration > 0 {
		config.StagingTTL = c.StagingTTL.Duration
	}
	if c.SweepInterval.Duration > 0 {
		config.SweepInterval = c.SweepInterval.Duration
	}
	if c.UploadRate != nil {
		config.UploadRate = *c.UploadRate
	}
	if c.UploadBurst > 0 {
		config.UploadBurst = c.UploadBurst
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
