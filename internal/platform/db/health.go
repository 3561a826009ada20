package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
	Healthy         bool   `json:"healthy"`
}

// GetPoolStats returns connection pool statistics.
func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
		Healthy:         stat.TotalConns() > 0,
	}
}

// HealthReport is the payload of the /health/db endpoint. A pharmacy
// that cannot reach its database cannot register movements, so the
// report carries the ping latency alongside the pool state.
type HealthReport struct {
	Service  string     `json:"service"`
	Status   string     `json:"status"`
	Database string     `json:"database"`
	PingMS   int64      `json:"ping_ms"`
	Error    string     `json:"error,omitempty"`
	Pool     *PoolStats `json:"pool"`
}

// buildHealthReport assembles the report and the HTTP status to return
// it with.
func buildHealthReport(stats *PoolStats, pingErr error, pingMS int64) (*HealthReport, int) {
	report := &HealthReport{
		Service:  "sngpc",
		Status:   "healthy",
		Database: "up",
		PingMS:   pingMS,
		Pool:     stats,
	}
	if pingErr != nil {
		stats.Healthy = false
		report.Status = "unhealthy"
		report.Database = "down"
		report.Error = pingErr.Error()
		return report, http.StatusServiceUnavailable
	}
	return report, http.StatusOK
}

// HealthHandler returns the /health/db handler.
func HealthHandler(pool *pgxpool.Pool) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		started := time.Now()
		err := pool.Ping(ctx)
		pingMS := time.Since(started).Milliseconds()

		report, code := buildHealthReport(GetPoolStats(pool), err, pingMS)
		return c.JSON(code, report)
	}
}
