package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/magiclink-auth/internal/service"
)

// MaintenanceRunner runs a named purge task.
type MaintenanceRunner interface {
	Run(ctx context.Context, task string) (service.PurgeReport, error)
}

// MaintenanceHandler exposes purge tasks to internal callers and admins.
type MaintenanceHandler struct {
	Runner MaintenanceRunner
	Log    *zap.Logger
}

func NewMaintenanceHandler(r MaintenanceRunner, log *zap.Logger) *MaintenanceHandler {
	return &MaintenanceHandler{Runner: r, Log: log}
}

// Purge runs the task named by the "task" query parameter (default "all").
func (h *MaintenanceHandler) Purge(c echo.Context) error {
	task := c.QueryParam("task")
	if task == "" {
		task = service.TaskAll
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 60*time.Second)
	defer cancel()

	rep, err := h.Runner.Run(ctx, task)
	if errors.Is(err, service.ErrUnknownTask) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	if err != nil {
		h.Log.Error("maintenance failed", zap.String("task", task), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	return c.JSON(http.StatusOK, rep)
}
