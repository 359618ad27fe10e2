package health

import (
	"log/slog"
)

type (
	Handler struct {
		logLevel *slog.LevelVar
		logger   *slog.Logger
		readers  []string
	}

	HealthResponse struct {
		Status   string   `json:"status"`
		LogLevel string   `json:"log_level"`
		Readers  []string `json:"readers"`
	}

	LogLevelRequest struct {
		LogLevel string `json:"log_level"`
	}
)
