package backend

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrSnakeDoc/sitewatch/internal/domain"
)

// wireSite is one site record as the backend serialises it. Older backends
// use last_checked and response_time_ms; both spellings are accepted.
type wireSite struct {
	ID             flexID    `json:"id"`
	URL            *string   `json:"url"`
	Status         *string   `json:"status"`
	ResponseTime   *float64  `json:"response_time"`
	ResponseTimeMS *float64  `json:"response_time_ms"`
	StatusCode     *int      `json:"status_code"`
	CheckedAt      *flexTime `json:"checked_at"`
	LastChecked    *flexTime `json:"last_checked"`
}

// update converts a site that carries its own id.
func (w wireSite) update() domain.SiteUpdate {
	u := domain.SiteUpdate{
		ID:             string(w.ID),
		URL:            w.URL,
		Status:         w.Status,
		ResponseTimeMS: w.ResponseTime,
		StatusCode:     w.StatusCode,
	}
	if u.ResponseTimeMS == nil {
		u.ResponseTimeMS = w.ResponseTimeMS
	}
	switch {
	case w.CheckedAt != nil:
		t := time.Time(*w.CheckedAt)
		u.CheckedAt = &t
	case w.LastChecked != nil:
		t := time.Time(*w.LastChecked)
		u.CheckedAt = &t
	}
	return u
}

// keyedUpdate converts a site found under key in an object payload. A missing
// id is taken from the key; a different one is rejected.
func (w wireSite) keyedUpdate(key string) (domain.SiteUpdate, error) {
	u := w.update()
	switch {
	case u.ID == "":
		u.ID = key
	case u.ID != key:
		return domain.SiteUpdate{}, fmt.Errorf("site keyed %q carries id %q", key, u.ID)
	}
	return u, nil
}

// decodeSites accepts either a JSON list of sites or an object keyed by id.
// Object key order is kept so new sites are appended in payload order.
func decodeSites(body []byte) ([]domain.SiteUpdate, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("empty body")
	}

	switch body[0] {
	case '[':
		var list []wireSite
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, err
		}
		out := make([]domain.SiteUpdate, 0, len(list))
		for _, w := range list {
			out = append(out, w.update())
		}
		return out, nil
	case '{':
		return decodeKeyed(body)
	default:
		return nil, fmt.Errorf("expected a JSON list or object, got %q", body[0])
	}
}

func decodeKeyed(body []byte) ([]domain.SiteUpdate, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	if _, err := dec.Token(); err != nil {
		return nil, err
	}

	var out []domain.SiteUpdate
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := tok.(string)

		var w wireSite
		if err := dec.Decode(&w); err != nil {
			return nil, fmt.Errorf("site %q: %w", key, err)
		}
		u, err := w.keyedUpdate(key)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return out, nil
}

// flexID accepts string or numeric ids.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*f = flexID(n.String())
	return nil
}

// flexTime accepts RFC 3339 timestamps as well as naive ISO timestamps,
// which are taken as UTC.
type flexTime time.Time

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func (f *flexTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		*f = flexTime(t)
		return nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			*f = flexTime(t)
			return nil
		}
	}
	return fmt.Errorf("unrecognised timestamp %q", s)
}
