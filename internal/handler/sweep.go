package handler

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/outlet-reservation/internal/service"
)

// SweepHandler exposes the sweep to external schedulers.
type SweepHandler struct {
	Sweeper *service.Sweeper
	Logger  *slog.Logger
}

func NewSweepHandler(sweeper *service.Sweeper, logger *slog.Logger) *SweepHandler {
	if sweeper == nil {
		panic("nil sweeper passed to NewSweepHandler")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SweepHandler{Sweeper: sweeper, Logger: logger}
}

// Sweep handles POST /v1/admin/sweep.
func (h *SweepHandler) Sweep(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	report, err := h.Sweeper.SweepExpired(ctx)
	if err != nil {
		return writeError(c, h.Logger, err)
	}
	return respond(c, http.StatusOK, report)
}
