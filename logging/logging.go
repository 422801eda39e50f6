// Package logging builds the zap loggers used across the engine.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a production JSON logger at the given level ("debug",
// "info", "warn", "error").
func New(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Sampling = nil
	return cfg.Build()
}

// NewDevelopment returns a console logger at debug level.
func NewDevelopment() (*zap.Logger, error) {
	return zap.NewDevelopment()
}

// Redacted stands in for secret bytes: only the length is logged.
func Redacted(key string, b []byte) zap.Field {
	return zap.String(key, fmt.Sprintf("<redacted:%d>", len(b)))
}

// CeremonyID formats a ceremony id the way it appears in logs, scoped by
// the scheme so that ids of different chains are not confused.
func CeremonyID(scheme string, id uint64) string {
	return fmt.Sprintf("%s(%d)", scheme, id)
}

// ForCeremony derives the logger carried by a single ceremony.
func ForCeremony(base *zap.Logger, scheme, ceremonyType string, id uint64) *zap.Logger {
	if base == nil {
		base = zap.NewNop()
	}
	return base.With(
		zap.String("ceremony_id", CeremonyID(scheme, id)),
		zap.String("ceremony_type", ceremonyType),
	)
}
