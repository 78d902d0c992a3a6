package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks a whole payload before any of it is applied.
// A single bad record rejects the payload with ErrMalformedPayload.
func Validate(updates []SiteUpdate) error {
	seen := make(map[string]struct{}, len(updates))
	for i, u := range updates {
		if err := validateOne(u); err != nil {
			return NewFetchError(ErrMalformedPayload, fmt.Errorf("record %d: %w", i, err))
		}
		if _, dup := seen[u.ID]; dup {
			return NewFetchError(ErrMalformedPayload, fmt.Errorf("record %d: duplicate id %q", i, u.ID))
		}
		seen[u.ID] = struct{}{}
	}
	return nil
}

func validateOne(u SiteUpdate) error {
	if strings.TrimSpace(u.ID) == "" {
		return errors.New("missing id")
	}
	if u.Status != nil {
		if _, err := ParseStatus(*u.Status); err != nil {
			return err
		}
	}
	if u.ResponseTimeMS != nil && *u.ResponseTimeMS < 0 {
		return fmt.Errorf("negative response_time %v", *u.ResponseTimeMS)
	}
	if u.StatusCode != nil && (*u.StatusCode < 100 || *u.StatusCode > 599) {
		return fmt.Errorf("status_code %d out of range", *u.StatusCode)
	}
	if u.URL != nil && *u.URL != "" {
		if _, err := url.ParseRequestURI(*u.URL); err != nil {
			return fmt.Errorf("invalid url %q", *u.URL)
		}
	}
	return nil
}
