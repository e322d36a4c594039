// Package status serves a lightweight JSON snapshot of the running pool:
// network difficulty, connected miner count, and the current job's
// height, grounded directly on the orchestrator's in-memory state rather
// than a persisted store.
package status

import (
	"encoding/json"
	"net/http"
	"time"

	"solopool/internal/pool"
)

// Handler serves the status snapshot as JSON.
type Handler struct {
	pool *pool.Orchestrator
}

// New returns a status handler reporting on orc.
func New(orc *pool.Orchestrator) http.Handler {
	return &Handler{pool: orc}
}

type response struct {
	GeneratedAt       time.Time `json:"generated_at"`
	NetworkDifficulty float64   `json:"network_difficulty"`
	ConnectedMiners   int       `json:"connected_miners"`
	Height            int64     `json:"height,omitempty"`
	JobDifficulty     float64   `json:"job_difficulty,omitempty"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := response{
		GeneratedAt:       time.Now().UTC(),
		NetworkDifficulty: h.pool.NetworkDifficulty(),
		ConnectedMiners:   h.pool.ConnectedMiners(),
	}
	if tpl := h.pool.CurrentJob(); tpl != nil {
		resp.Height = tpl.Height
		resp.JobDifficulty = tpl.Difficulty
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
