package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Builds the logger for the log-level and dev flags: console output in
// development mode, JSON otherwise.
func newLogger(cc *cli.Context) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cc.String("log-level"))
	if err != nil {
		return nil, fmt.Errorf("parsing log-level: %w", err)
	}

	var cfg zap.Config
	if cc.Bool("dev") {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.DisableStacktrace = true
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service", "icverify")), nil
}
