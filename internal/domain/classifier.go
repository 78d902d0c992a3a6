package domain

import "time"

// DisplayStatus is the UI-facing health state of a site.
type DisplayStatus string

const (
	DisplayUp      DisplayStatus = "UP"
	DisplayDown    DisplayStatus = "DOWN"
	DisplayWarning DisplayStatus = "WARNING"
	DisplayUnknown DisplayStatus = "UNKNOWN"
)

// DefaultWarningThreshold is the response time above which a healthy site is
// shown as WARNING.
const DefaultWarningThreshold = 500 * time.Millisecond

// Classifier derives a DisplayStatus from a record. It holds configuration only.
type Classifier struct {
	WarningThreshold time.Duration
}

// NewClassifier returns a classifier; a non-positive threshold selects the default.
func NewClassifier(warningThreshold time.Duration) Classifier {
	if warningThreshold <= 0 {
		warningThreshold = DefaultWarningThreshold
	}
	return Classifier{WarningThreshold: warningThreshold}
}

// Classify applies the decision table, first match wins:
//
//	no successful check                    -> UNKNOWN
//	status code outside [200,399]          -> DOWN
//	no status code and backend says DOWN   -> DOWN
//	response time > warning threshold      -> WARNING
//	otherwise                              -> UP
func (c Classifier) Classify(r SiteRecord) DisplayStatus {
	if r.CheckedAt == nil {
		return DisplayUnknown
	}
	if r.StatusCode != nil {
		if code := *r.StatusCode; code < 200 || code > 399 {
			return DisplayDown
		}
	} else if r.Status == StatusDown {
		return DisplayDown
	}
	if r.ResponseTimeMS != nil && *r.ResponseTimeMS > thresholdMS(c.WarningThreshold) {
		return DisplayWarning
	}
	return DisplayUp
}

func thresholdMS(d time.Duration) float64 {
	if d <= 0 {
		d = DefaultWarningThreshold
	}
	return float64(d) / float64(time.Millisecond)
}
