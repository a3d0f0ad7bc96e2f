package core

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the zap logger described by cfg.
//
// Logs go to stderr so stdout stays free for command output. An empty level
// means info in production and debug in development.
func NewLogger(cfg LoggingConfig) (*zap.Logger, error) {
	var config zap.Config
	if cfg.Development {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, NewImpressionError("NewLogger", fmt.Errorf("%w: %v", ErrInvalidConfig, err))
		}
		config.Level = zap.NewAtomicLevelAt(level)
	}

	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}

	logger, err := config.Build(zap.AddStacktrace(zap.ErrorLevel))
	if err != nil {
		return nil, NewImpressionError("NewLogger", err)
	}
	return logger, nil
}
