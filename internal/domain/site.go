package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status is the last known status reported by the monitoring backend.
type Status string

const (
	StatusUp      Status = "UP"
	StatusDown    Status = "DOWN"
	StatusWarning Status = "WARNING"
	StatusUnknown Status = "UNKNOWN"
)

// ParseStatus maps a raw backend status string onto the Status enum.
// Empty means the backend has no verdict yet and maps to UNKNOWN.
func ParseStatus(raw string) (Status, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "UP":
		return StatusUp, nil
	case "DOWN":
		return StatusDown, nil
	case "WARNING", "DEGRADED", "PERFORMANCE_DEGRADED":
		return StatusWarning, nil
	case "UNKNOWN", "":
		return StatusUnknown, nil
	default:
		return "", fmt.Errorf("unknown status %q", raw)
	}
}

// SiteRecord is the canonical client-side view of one monitored site.
//
// Records are owned by the snapshot store; everything handed out is a copy.
type SiteRecord struct {
	// ─────────────────────────────
	// Identity (immutable)
	// ─────────────────────────────

	// ID is assigned by the backend and never changes.
	ID string `json:"id"`

	// URL is the monitored address.
	URL string `json:"url"`

	// ─────────────────────────────
	// Last observation (overwritten on merge)
	// ─────────────────────────────

	Status         Status     `json:"status"`
	ResponseTimeMS *float64   `json:"response_time_ms"`
	StatusCode     *int       `json:"status_code"`
	CheckedAt      *time.Time `json:"checked_at"`

	// ConsecutiveFailures counts back-to-back DOWN checks.
	ConsecutiveFailures int `json:"consecutive_failures"`

	// ─────────────────────────────
	// Bookkeeping
	// ─────────────────────────────

	RegisteredAt time.Time `json:"registered_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Clone returns a deep copy so callers never alias store memory.
func (r SiteRecord) Clone() SiteRecord {
	out := r
	if r.ResponseTimeMS != nil {
		v := *r.ResponseTimeMS
		out.ResponseTimeMS = &v
	}
	if r.StatusCode != nil {
		v := *r.StatusCode
		out.StatusCode = &v
	}
	if r.CheckedAt != nil {
		v := *r.CheckedAt
		out.CheckedAt = &v
	}
	return out
}

// SiteUpdate is one record of a (possibly partial) backend payload.
// Nil fields were absent from the payload and must not overwrite stored values.
type SiteUpdate struct {
	ID             string
	URL            *string
	Status         *string
	ResponseTimeMS *float64
	StatusCode     *int
	CheckedAt      *time.Time
}

// Snapshot is the full ordered set of records at a given merge sequence.
type Snapshot struct {
	Seq     uint64       `json:"seq"`
	Sites   []SiteRecord `json:"sites"`
	TakenAt time.Time    `json:"taken_at"`
}

// MirrorState is what the persistence mirror hands back at startup.
type MirrorState struct {
	Sites   []SiteRecord
	Seq     uint64
	TakenAt time.Time
	// Removed lists sites unregistered locally that the backend may still report.
	Removed []string
}
