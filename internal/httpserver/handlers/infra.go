package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/sitewatch/internal/httpserver/deps"
	"github.com/MrSnakeDoc/sitewatch/internal/scheduler"
)

type componentStatus struct {
	OK     bool   `json:"ok"`
	Mode   string `json:"mode,omitempty"`
	Impact string `json:"impact,omitempty"`
	Error  string `json:"error,omitempty"`
}

type backendStatus struct {
	componentStatus
	URL         string     `json:"url"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
	LastFailure *time.Time `json:"last_failure,omitempty"`
}

type eventsStatus struct {
	Subscribers int    `json:"subscribers"`
	Dropped     uint64 `json:"dropped"`
}

type infraResponse struct {
	Mode       string          `json:"mode"`
	Sites      int             `json:"sites"`
	Seq        uint64          `json:"seq"`
	LastMerge  *time.Time      `json:"last_merge,omitempty"`
	StaleAfter string          `json:"stale_after"`
	Backend    backendStatus   `json:"backend"`
	Redis      componentStatus `json:"redis"`
	Poller     scheduler.Stats `json:"poller"`
	Events     eventsStatus    `json:"events"`
}

// Infra reports the state of every moving part.
func Infra(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := d.Poller.Stats()
		store := d.Monitor.StoreInfo()

		resp := infraResponse{
			Sites:      store.Sites,
			Seq:        store.Seq,
			StaleAfter: d.Monitor.Window().String(),
			Backend:    checkBackend(d.BackendURL, stats),
			Redis:      checkRedis(r.Context(), d),
			Poller:     stats,
		}
		if !store.LastMerge.IsZero() {
			resp.LastMerge = &store.LastMerge
		}
		if d.Events != nil {
			resp.Events = eventsStatus{
				Subscribers: d.Events.Subscribers(),
				Dropped:     d.Events.Dropped(),
			}
		}
		resp.Mode = determineMode(resp)

		writeJSON(w, http.StatusOK, resp)
	}
}

func determineMode(resp infraResponse) string {
	// Never reached the backend = critical
	if !resp.Backend.OK && resp.Backend.LastSuccess == nil {
		return "critical"
	}

	// Stale data or no mirror - degraded
	if !resp.Backend.OK || !resp.Redis.OK {
		return "degraded"
	}

	return "operational"
}

func checkBackend(url string, stats scheduler.Stats) backendStatus {
	bs := backendStatus{URL: url}
	if !stats.LastSuccess.IsZero() {
		t := stats.LastSuccess
		bs.LastSuccess = &t
	}
	if !stats.LastFailure.IsZero() {
		t := stats.LastFailure
		bs.LastFailure = &t
	}

	if stats.ConsecutiveFailures == 0 && bs.LastSuccess != nil {
		bs.OK = true
		bs.Mode = "polling"
		return bs
	}

	bs.Mode = "failing"
	bs.Impact = "showing-last-good-snapshot"
	if stats.LastErrorKind != "" {
		bs.Error = string(stats.LastErrorKind)
	}
	if bs.LastSuccess == nil && bs.LastFailure == nil {
		bs.Mode = "starting"
		bs.Impact = "no-data-yet"
	}
	return bs
}

func checkRedis(ctx context.Context, d deps.Deps) componentStatus {
	if d.Redis == nil {
		return componentStatus{
			OK:     false,
			Mode:   "disabled",
			Impact: "no-restore-on-restart",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	if err := d.Redis.Ping(ctx); err != nil {
		return componentStatus{
			OK:     false,
			Mode:   "degraded",
			Impact: "snapshot-mirror-paused",
			Error:  err.Error(),
		}
	}

	return componentStatus{
		OK:     true,
		Mode:   "mirroring",
		Impact: "restore-on-restart",
	}
}
