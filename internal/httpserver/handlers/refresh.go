package handlers

import (
	"errors"
	"net/http"

	"github.com/MrSnakeDoc/sitewatch/internal/httpserver/deps"
	"github.com/MrSnakeDoc/sitewatch/internal/logger"
	"github.com/MrSnakeDoc/sitewatch/internal/scheduler"
)

type refreshResponse struct {
	Triggered bool   `json:"triggered"`
	Message   string `json:"message"`
}

// Refresh triggers an out-of-band poll. It follows the poller's overlap
// policy: while a fetch is in flight the request is refused with 429.
func Refresh(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := d.Poller.Trigger()
		switch {
		case err == nil:
			d.Logger.Info("manual refresh triggered via endpoint",
				logger.String("remote_ip", r.RemoteAddr))
			writeJSON(w, http.StatusAccepted, refreshResponse{Triggered: true, Message: "refresh triggered"})
		case errors.Is(err, scheduler.ErrFetchInFlight):
			d.Logger.Debug("refresh refused, fetch in flight",
				logger.String("remote_ip", r.RemoteAddr))
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, refreshResponse{Message: "fetch already in flight, please wait"})
		default:
			writeJSON(w, http.StatusServiceUnavailable, refreshResponse{Message: err.Error()})
		}
	}
}
