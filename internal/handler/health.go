package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Health reports liveness and whether the database answers a ping.
func (h *Handler) Health(c echo.Context) error {
	ctx, cancel := h.readCtx(c)
	defer cancel()
	status := echo.Map{"status": "ok", "env": h.cfg.Env, "database": "up"}
	db, err := h.db()
	if err == nil {
		err = db.PingContext(ctx)
	}
	if err != nil {
		status["status"] = "degraded"
		status["database"] = "down"
		return c.JSON(http.StatusServiceUnavailable, envelope{Success: false, Error: "unavailable", Data: status})
	}
	return ok(c, http.StatusOK, status)
}
