// Package common defines shared constants and sentinel errors used across
// the cfghost server, its storage backends and the admin CLI. Callers should
// use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal = errors.New("internal error")

	// Validation errors. Always caused by the client and never retried.
	ErrInvalidName   = errors.New("invalid config name")
	ErrInvalidConfig = errors.New("invalid config")

	// ErrAlreadyExists reports that a config with the same canonical name
	// has already been published.
	ErrAlreadyExists = errors.New("already exists")

	// ErrTooLarge reports that an upload exceeded one of the size ceilings.
	ErrTooLarge = errors.New("config too large")

	// ErrStorage wraps I/O failures while staging or committing an artifact.
	ErrStorage = errors.New("storage failure")

	// ErrCatalogInconsistent marks a catalog entry without a matching
	// artifact (or an artifact whose checksum disagrees with its entry).
	ErrCatalogInconsistent = errors.New("catalog inconsistent")

	// ErrMigration is fatal at startup.
	ErrMigration = errors.New("migration failed")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)
