package models

import "time"

// Feature names an optional subsystem probed by the feature detector.
type Feature string

const (
	FeatureOnline       Feature = "online"
	FeatureDatabase     Feature = "database"
	FeatureLocalStorage Feature = "local_storage"
	FeatureHubService   Feature = "hub_service"
	FeatureIndexedDB    Feature = "indexed_db"
)

// Features lists all probed features in report order.
var Features = []Feature{FeatureOnline, FeatureDatabase, FeatureLocalStorage, FeatureHubService, FeatureIndexedDB}

// FeatureSnapshot is a point-in-time availability map. It is never mutated after capture.
type FeatureSnapshot struct {
	Features   map[Feature]bool `json:"features"`
	CapturedAt time.Time        `json:"captured_at"`
}

// Has reports availability; unknown features are unavailable.
func (s FeatureSnapshot) Has(f Feature) bool {
	return s.Features[f]
}

// Stale reports whether the snapshot is older than ttl at now.
func (s FeatureSnapshot) Stale(now time.Time, ttl time.Duration) bool {
	if s.CapturedAt.IsZero() {
		return true
	}
	return now.Sub(s.CapturedAt) >= ttl
}
