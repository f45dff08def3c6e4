// Package logging is the structured logger every cfghost component takes.
// SlogLogger is the production implementation.
package logging

import "context"

// Logger is a context-aware, structured logger.
//
// The variadic args are interpreted as alternating keys and values:
//
//	log.Info(ctx, "config published", "name", name, "key", key)
type Logger interface {
	// Debug logs verbose diagnostics, normally disabled in production.
	Debug(ctx context.Context, msg string, args ...any)

	// Info logs an informational message.
	Info(ctx context.Context, msg string, args ...any)

	// Warn logs a warning message for unusual but non-fatal conditions,
	// such as a detected catalog inconsistency.
	Warn(ctx context.Context, msg string, args ...any)

	// Error logs an error message for failures.
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger carrying the given pairs on every record.
	With(args ...any) Logger
}

// Nop is a Logger that discards everything. Handy in tests and for
// components constructed without a logger.
type Nop struct{}

func (Nop) Debug(context.Context, string, ...any) {}
func (Nop) Info(context.Context, string, ...any)  {}
func (Nop) Warn(context.Context, string, ...any)  {}
func (Nop) Error(context.Context, string, ...any) {}
func (n Nop) With(...any) Logger                  { return n }
