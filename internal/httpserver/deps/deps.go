package deps

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/sitewatch/internal/logger"
	"github.com/MrSnakeDoc/sitewatch/internal/monitor"
	"github.com/MrSnakeDoc/sitewatch/internal/scheduler"
)

// PollControl is the part of the poller exposed over HTTP
type PollControl interface {
	Trigger() error
	Stats() scheduler.Stats
}

// Pinger checks a backing store
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Logger           logger.Logger
	StartTime        time.Time
	Version          string
	Commit           string
	BuildDate        string
	GoVersion        string
	TimeNow          func() time.Time // for testing, defaults to time.Now
	AllowedCIDRS     []string         // IPs allowed to reach admin routes (delete, refresh, infra)
	TrustProxy       bool             // true if running behind a trusted reverse proxy (e.g., cloudflared)
	CORSOrigins      []string         // browser origins allowed to call the API
	RateLimitBurst   int              // POST /api/sites burst per client IP
	RateLimitPerMin  int              // POST /api/sites refill per client IP
	RateLimitMaxKeys int              // max tracked client IPs
	SSEHeartbeat     time.Duration    // keepalive interval on /api/events
	BackendURL       string           // sites endpoint being polled
	Monitor          *monitor.Monitor // snapshot, classification and staleness
	Poller           PollControl      // manual refresh + stats
	Events           *monitor.Hub     // update/error/stale fan-out
	Redis            Pinger           // nil when the mirror is disabled
}

// Now returns the configured clock
func (d Deps) Now() time.Time {
	if d.TimeNow != nil {
		return d.TimeNow()
	}
	return time.Now()
}
