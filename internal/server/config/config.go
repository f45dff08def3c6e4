// Package config handles configuration for the server component,
// including defaults, JSON overlay, environment and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dmitrijs2005/cfghost/internal/common"
)

const (
	BackendFS = "fs"
	BackendS3 = "s3"
)

// Config holds runtime settings for the cfghost server.
//
// Fields:
//   - EndpointAddrHTTP / EndpointAddrGRPC: bind addresses of the HTTP API and
//     the gRPC health endpoint.
//   - DatabaseDriver / DatabaseDSN: catalog connection ("sqlite" or "postgres").
//   - StorageBackend: "fs" keeps artifacts in StoreDir, "s3" in S3Bucket.
//   - StagingDir: local scratch space for uploads in flight.
//   - MaxUploadBytes / MaxConfigChars / MaxLineLength: size ceilings.
//   - StagingTTL / SweepInterval: the staging janitor.
//   - UploadRate / UploadBurst: per-client upload limit, 0 disables it.
//   - SecretKey: HMAC secret for owner tokens (HS256). Empty disables them.
type Config struct {
	EndpointAddrHTTP string
	EndpointAddrGRPC string
	DatabaseDriver   string
	DatabaseDSN      string
	StorageBackend   string
	StoreDir         string
	StagingDir       string
	MaxUploadBytes   int64
	MaxConfigChars   int
	MaxLineLength    int
	OperationTimeout time.Duration
	StagingTTL       time.Duration
	SweepInterval    time.Duration
	UploadRate       float64
	UploadBurst      int
	SecretKey        string
	S3RootUser       string
	S3RootPassword   string
	S3Bucket         string
	S3Region         string
	S3BaseEndpoint   string
	S3Prefix         string
	LogLevel         string
}

// LoadDefaults populates Config with development defaults: a local SQLite
// catalog and artifacts on disk.
func (c *Config) LoadDefaults() {
	c.EndpointAddrHTTP = ":3000"
	c.EndpointAddrGRPC = ":50051"
	c.DatabaseDriver = "sqlite"
	c.DatabaseDSN = "file:cfghost.db?_pragma=busy_timeout(5000)"
	c.StorageBackend = BackendFS
	c.StoreDir = "configs"
	c.StagingDir = "staging"
	c.MaxUploadBytes = common.MaxUploadBytes
	c.MaxConfigChars = common.MaxConfigChars
	c.MaxLineLength = common.MaxLineLength
	c.OperationTimeout = 30 * time.Second
	c.StagingTTL = time.Hour
	c.SweepInterval = 10 * time.Minute
	c.UploadRate = 5
	c.UploadBurst = 10
	c.S3Region = "us-east-1"
	c.S3Prefix = "configs"
	c.LogLevel = "info"
}

// Validate rejects combinations the server cannot start with.
func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown database driver %q", c.DatabaseDriver)
	}
	switch c.StorageBackend {
	case BackendFS:
		if c.StoreDir == "" {
			return errors.New("store directory is required for the fs backend")
		}
	case BackendS3:
		if c.S3Bucket == "" {
			return errors.New("s3 bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.StorageBackend)
	}
	if c.StagingDir == "" {
		return errors.New("staging directory is required")
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("upload limit must be positive")
	}
	return nil
}

// parseEnv applies PORT, which overrides the HTTP port.
func parseEnv(config *Config) {
	port := os.Getenv("PORT")
	if port == "" {
		return
	}
	if n, err := strconv.Atoi(port); err == nil && n > 0 && n < 65536 {
		config.EndpointAddrHTTP = ":" + port
	}
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file, the environment and finally command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseEnv(cfg)
	parseFlags(cfg)
	return cfg
}
