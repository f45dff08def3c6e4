package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/cfghost/internal/flagx"
)

var serverFlags = []string{
	"-a", "-grpc", "-driver", "-d", "-backend", "-store", "-staging", "-timeout",
	"-rate", "-burst", "-s", "-l", "-u", "-p", "-b", "-g", "-e", "-prefix",
}

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags:
//
//	-a string         HTTP bind address (e.g., ":3000")
//	-grpc string      gRPC health bind address
//	-driver string    catalog driver: sqlite or postgres
//	-d string         catalog DSN
//	-backend string   artifact backend: fs or s3
//	-store string     artifact directory (fs backend)
//	-staging string   staging directory
//	-timeout duration per-operation timeout
//	-rate float       uploads per second per client, 0 disables
//	-burst int        upload burst per client
//	-s string         JWT HMAC secret for owner tokens
//	-l string         log level
//	-u, -p string     S3 access key and secret
//	-b, -g, -e string S3 bucket, region and endpoint
//	-prefix string    S3 key prefix
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with -c/-config.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], serverFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "HTTP address and port")
	fs.StringVar(&config.EndpointAddrGRPC, "grpc", config.EndpointAddrGRPC, "gRPC health address and port")
	fs.StringVar(&config.DatabaseDriver, "driver", config.DatabaseDriver, "catalog driver")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "catalog DSN")
	fs.StringVar(&config.StorageBackend, "backend", config.StorageBackend, "artifact backend")
	fs.StringVar(&config.StoreDir, "store", config.StoreDir, "artifact directory")
	fs.StringVar(&config.StagingDir, "staging", config.StagingDir, "staging directory")
	fs.DurationVar(&config.OperationTimeout, "timeout", config.OperationTimeout, "operation timeout")
	fs.Float64Var(&config.UploadRate, "rate", config.UploadRate, "uploads per second per client")
	fs.IntVar(&config.UploadBurst, "burst", config.UploadBurst, "upload burst per client")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 root bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 root region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.S3Prefix, "prefix", config.S3Prefix, "S3 key prefix")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
