package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/sitewatch/internal/domain"
	"github.com/MrSnakeDoc/sitewatch/internal/httpserver/deps"
	"github.com/MrSnakeDoc/sitewatch/internal/logger"
	"github.com/MrSnakeDoc/sitewatch/internal/monitor"
)

const maxRegisterBody = 4 << 10

type registerRequest struct {
	URL string `json:"url"`
}

// ListSites returns the full UI view: every site with its display status and
// staleness, plus the "last update failed" indicator.
func ListSites(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Monitor.View())
	}
}

// GetSite returns one site.
func GetSite(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		site, err := d.Monitor.Site(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusNotFound, "site not found")
			return
		}
		writeJSON(w, http.StatusOK, site)
	}
}

// SiteStaleness answers whether one site's data is stale.
func SiteStaleness(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := d.Monitor.Staleness(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusNotFound, "site not found")
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

// RegisterSite creates a site on the backend and starts tracking it.
func RegisterSite(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		dec := json.NewDecoder(io.LimitReader(r.Body, maxRegisterBody))
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "body must be {\"url\": \"...\"}")
			return
		}

		site, err := d.Monitor.Register(r.Context(), req.URL)
		if err != nil {
			status, msg := registerErrorStatus(err)
			d.Logger.Info("site registration rejected",
				logger.String("url", req.URL),
				logger.Int("status", status),
				logger.Error(err))
			writeError(w, status, msg)
			return
		}

		writeJSON(w, http.StatusCreated, site)
	}
}

// registerErrorStatus maps a registration failure to an HTTP answer. Backend
// validation errors (4xx) are passed through as 422 with their message.
func registerErrorStatus(err error) (int, string) {
	if errors.Is(err, monitor.ErrInvalidURL) {
		return http.StatusBadRequest, err.Error()
	}
	if errors.Is(err, domain.ErrSiteExists) {
		return http.StatusConflict, "site already registered"
	}

	var fe *domain.FetchError
	if errors.As(err, &fe) {
		switch {
		case fe.Kind == domain.ErrHTTP && fe.StatusCode >= 400 && fe.StatusCode < 500:
			msg := "rejected by backend"
			if fe.Err != nil {
				msg = fe.Err.Error()
			}
			return http.StatusUnprocessableEntity, msg
		case fe.Kind == domain.ErrTimeout:
			return http.StatusGatewayTimeout, "backend timeout"
		}
	}
	return http.StatusBadGateway, "backend unavailable"
}

// UnregisterSite stops tracking a site.
func UnregisterSite(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := d.Monitor.Unregister(r.Context(), id); err != nil {
			if errors.Is(err, domain.ErrSiteNotFound) {
				writeError(w, http.StatusNotFound, "site not found")
				return
			}
			d.Logger.Error("failed to unregister site",
				logger.String("site_id", id),
				logger.Error(err))
			writeError(w, http.StatusInternalServerError, "unregister failed")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
