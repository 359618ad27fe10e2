package health

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/KyleBrandon/hydro-exporter/pkg/utils"
)

// NewHandler serves the health endpoint. readers lists the enabled readers
// and is reported as is.
func NewHandler(logLevel *slog.LevelVar, logger *slog.Logger, readers []string) *Handler {
	if readers == nil {
		readers = []string{}
	}

	return &Handler{
		logLevel: logLevel,
		logger:   logger,
		readers:  readers,
	}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/health", h.handlerHealthGet)
	mux.HandleFunc("PUT /v1/health/loglevel", h.handlerLogLevelPut)
}

func (h *Handler) handlerHealthGet(w http.ResponseWriter, r *http.Request) {
	h.logger.Debug("handlerHealthGet")

	utils.RespondWithJSON(w, http.StatusOK, HealthResponse{
		Status:   "ok",
		LogLevel: h.logLevel.Level().String(),
		Readers:  h.readers,
	})
}

func (h *Handler) handlerLogLevelPut(w http.ResponseWriter, r *http.Request) {
	h.logger.Debug(">>handlerLogLevelPut")
	defer h.logger.Debug("<<handlerLogLevelPut")

	defer r.Body.Close()

	var req LogLevelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid body for log level", err)
		return
	}

	level, err := utils.ParseLogLevel(req.LogLevel)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid log level", err)
		return
	}

	h.logLevel.Set(level)
	h.logger.Info("log level changed", "log_level", level)

	utils.RespondWithNoContent(w, http.StatusNoContent)
}
