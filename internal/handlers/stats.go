package handlers

import (
	"net/http"
	"time"
)

// StatsResponse represents the response from the stats endpoint.
type StatsResponse struct {
	ActiveRooms int    `json:"active_rooms"`
	Uptime      string `json:"uptime"`
}

var startedAt = time.Now()

// Stats reports what this instance's hub is serving.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, StatsResponse{
		ActiveRooms: h.hub.Rooms(),
		Uptime:      formatUptime(time.Since(startedAt)),
	})
}

// formatUptime renders d coarsely, e.g. "3h12m".
func formatUptime(d time.Duration) string {
	if d < time.Minute {
		return d.Truncate(time.Second).String()
	}
	return d.Truncate(time.Minute).String()
}
