package api

import (
	"net/http"
	"time"

	"github.com/dyet92k/morph/internal/run"
	"github.com/dyet92k/morph/pkg/log"
	"github.com/labstack/echo/v4"
)

var startedAt = time.Now()

// HealthResponse is the body served on /health.
type HealthResponse struct {
	Status   Status        `json:"status"`
	Database Status        `json:"database"`
	Uptime   time.Duration `json:"uptime"`
}

// Status is a coarse health verdict.
type Status string

const (
	Healthy Status = "healthy"
	// Degraded means the API is up but runs cannot be recorded.
	Degraded Status = "degraded"
)

// health reports whether runs can be served, which needs a
// reachable database. A degraded morph answers 503.
func health(store *run.Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		res := HealthResponse{
			Status:   Healthy,
			Database: Healthy,
			Uptime:   time.Since(startedAt),
		}

		if err := ping(c, store); err != nil {
			log.Warn("database health check failed", "error", err)
			res.Status, res.Database = Degraded, Degraded
			return c.JSON(http.StatusServiceUnavailable, res)
		}

		return c.JSON(http.StatusOK, res)
	}
}

func ping(c echo.Context, store *run.Store) error {
	if store == nil {
		return nil
	}
	sqlDB, err := store.DB().DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(c.Request().Context())
}
