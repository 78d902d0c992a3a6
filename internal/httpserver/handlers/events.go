package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/sitewatch/internal/httpserver/deps"
	"github.com/MrSnakeDoc/sitewatch/internal/logger"
	"github.com/MrSnakeDoc/sitewatch/internal/monitor"
)

// Events streams update, error and stale notifications as server-sent
// events. The current view is sent first so a new client never starts blank.
func Events(d deps.Deps) http.HandlerFunc {
	heartbeat := d.SSEHeartbeat
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if d.Events == nil {
			writeError(w, http.StatusServiceUnavailable, "event stream not available")
			return
		}

		// The stream outlives the server's write timeout.
		_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		flusher, _ := w.(http.Flusher)
		flush := func() {
			if flusher != nil {
				flusher.Flush()
			}
		}

		ctx := r.Context()
		events := d.Events.Subscribe(ctx)

		if err := writeEvent(w, monitor.Event{Type: monitor.EventUpdate, Data: d.Monitor.View()}); err != nil {
			return
		}
		flush()

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
					return
				}
				flush()
			case ev, ok := <-events:
				if !ok {
					return
				}
				if err := writeEvent(w, ev); err != nil {
					d.Logger.Debug("event stream: write failed", logger.Error(err))
					return
				}
				flush()
			}
		}
	}
}

func writeEvent(w io.Writer, ev monitor.Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
