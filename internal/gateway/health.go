package gateway

import (
	"encoding/json"
	"net/http"
	"time"
)

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status string  `json:"status"`
	Uptime float64 `json:"uptime_seconds"`

	// Icons is the size of the loaded icon capability set, when the
	// assistant module is running.
	Icons int `json:"icons,omitempty"`
}

// iconCounter is the slice of the icon cache the gateway cares about.
type iconCounter interface {
	Len() int
}

// handleHealth returns an http.HandlerFunc for GET /health.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := HealthResponse{
			Status: "ok",
			Uptime: time.Since(g.startedAt).Truncate(time.Second).Seconds(),
		}
		if g.icons != nil {
			resp.Icons = g.icons.Len()
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}
