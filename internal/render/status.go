package render

import (
	"net/http"
	"time"

	"github.com/banshee-data/csimotion/internal/csi"
	"github.com/banshee-data/csimotion/internal/httputil"
	"github.com/banshee-data/csimotion/internal/version"
)

// Status is the /api/status response body.
type Status struct {
	RunID       string       `json:"run_id"`
	Version     string       `json:"version"`
	Ready       bool         `json:"ready"`
	Mode        string       `json:"mode,omitempty"`
	WindowLen   int          `json:"window_len"`
	Total       uint64       `json:"total"`
	Threshold   float64      `json:"threshold"`
	Active      bool         `json:"active"`
	ActiveCount int          `json:"active_count"`
	Regions     []csi.Region `json:"regions"`
	Taken       *time.Time   `json:"taken,omitempty"`
}

// NewStatus summarises a Tick. ok is false before the first Tick.
func NewStatus(t csi.Tick, ok bool, runID string) Status {
	s := Status{RunID: runID, Version: version.Version, Ready: ok, Regions: []csi.Region{}}
	if !ok {
		return s
	}
	taken := t.Taken
	s.Mode = t.ModeName
	s.WindowLen = t.WindowLen
	s.Total = t.Total
	s.Threshold = t.Result.Threshold
	s.Active = t.Result.Active()
	s.ActiveCount = t.Result.ActiveCount()
	s.Taken = &taken
	if t.Regions != nil {
		s.Regions = t.Regions
	}
	return s
}

// StatusHandler serves a JSON summary of the latest Tick.
func StatusHandler(latest *Latest, runID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w, http.MethodGet)
			return
		}
		t, ok := latest.Get()
		httputil.WriteJSONOK(w, NewStatus(t, ok, runID))
	}
}
