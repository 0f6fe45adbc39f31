package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// New builds the process-wide logger. Production encoding for env=prod,
// human-readable development encoding otherwise.
func New(env string) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)

	if env == "prod" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	return logger, nil
}
