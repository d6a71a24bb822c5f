// Package logging contains zap logging helpers shared by the proxy.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Component returns the well-known "component" zap field.
func Component(name string) zap.Field {
	return zap.String("component", name)
}

// New builds the process-wide logger. Debug builds use a human-readable
// development encoder; otherwise a JSON production encoder is used.
func New(debug bool) (*zap.Logger, error) {
	var cfg zap.Config

	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}

	if debug {
		cfg.Level.SetLevel(zap.DebugLevel)
	} else {
		cfg.Level.SetLevel(zap.InfoLevel)
	}

	return cfg.Build(zap.AddStacktrace(zapcore.FatalLevel))
}
