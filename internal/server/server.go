// Package server exposes the station over HTTP.
package server

import (
	"errors"
	"net/http"
	"path/filepath"

	"github.com/Uranury/mprls-station/internal/hub"
	"github.com/Uranury/mprls-station/internal/metrics"
	"github.com/Uranury/mprls-station/internal/station"
	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
)

// sensorStatus is a station.State with a human friendly age.
type sensorStatus struct {
	station.State
	LastReadAgo string `json:"last_read_ago"`
}

// New builds the router. m may be nil, in which case /metrics is not served.
func New(st *station.Station, h *hub.Hub, m *metrics.Metrics, staticDir string) *gin.Engine {
	r := gin.Default()

	// Serve static files from the static directory
	r.Static("/static", staticDir)

	// Serve index.html at root
	r.GET("/", func(c *gin.Context) {
		c.File(filepath.Join(staticDir, "index.html"))
	})

	// WebSocket endpoint
	r.GET("/ws", gin.WrapF(h.ServeWS))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	api.GET("/readings", func(c *gin.Context) {
		c.JSON(http.StatusOK, st.Latest())
	})
	api.GET("/sensors", func(c *gin.Context) {
		states := st.States()
		out := make([]sensorStatus, 0, len(states))
		for _, s := range states {
			ago := "never"
			if !s.LastRead.IsZero() {
				ago = humanize.Time(s.LastRead)
			}
			out = append(out, sensorStatus{State: s, LastReadAgo: ago})
		}
		c.JSON(http.StatusOK, out)
	})
	api.POST("/sensors/:name/measure", func(c *gin.Context) {
		data, err := st.Measure(c.Param("name"))
		switch {
		case errors.Is(err, station.ErrUnknownSensor):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, station.ErrRateLimited):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
		case err != nil:
			reason := metrics.Reason(err)
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "reason": reason})
		default:
			c.JSON(http.StatusOK, data)
		}
	})

	if m != nil {
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}
	return r
}
