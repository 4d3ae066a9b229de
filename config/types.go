package config

import "time"

// RouteSlot binds a time window to the query parameters it activates:
// departure stop, optional destination stop, and direction. Windows
// are half-open [Start, End) in minutes of day, service timezone.
type RouteSlot struct {
	ID                  string `yaml:"id"`
	Start               string `yaml:"start" validate:"required"`
	End                 string `yaml:"end" validate:"required"`
	DepartureStopID     string `yaml:"departure_stop_id" validate:"required"`
	DepartureStopName   string `yaml:"departure_stop_name"`
	DestinationStopID   string `yaml:"destination_stop_id"`
	DestinationStopName string `yaml:"destination_stop_name"`
	DirectionID         int    `yaml:"direction_id" validate:"gte=0,lte=1"`
}

// RouteConfiguration selects the monitored line and its slots. Zero
// slots is a valid-but-empty state that yields no departures.
//
// The legacy single-slot schema (stop/direction at the top level, no
// slots list) is still accepted and migrated on load.
type RouteConfiguration struct {
	LineID    string      `yaml:"line_id" validate:"required"`
	MaxTrains int         `yaml:"max_trains" validate:"gt=0"`
	Slots     []RouteSlot `yaml:"slots"`

	// Legacy schema fields, consumed by migration only.
	LegacyStopID      string `yaml:"stop_id"`
	LegacyStopName    string `yaml:"stop_name"`
	LegacyDirectionID int    `yaml:"direction_id"`
}

// EndpointsConfig points at the upstream provider.
type EndpointsConfig struct {
	FeedURL    string `yaml:"feedURL" validate:"omitempty,url"`
	VersionURL string `yaml:"versionURL" validate:"omitempty,url"`
	ArchiveURL string `yaml:"archiveURL" validate:"omitempty,url"`
}

// AppConfig is the root configuration structure.
//
// Timezone is the fixed service timezone every date and time
// computation uses, independent of the host clock's zone. The dataset
// is assumed to be issued in this same timezone.
type AppConfig struct {
	Timezone          string             `yaml:"timezone" validate:"required"`
	CacheDir          string             `yaml:"cacheDir"`
	TimeoutMS         int                `yaml:"timeoutMS" validate:"gte=0"`
	RefreshIntervalMS int                `yaml:"refreshIntervalMS" validate:"gte=0"`
	Endpoints         EndpointsConfig    `yaml:"endpoints"`
	Route             RouteConfiguration `yaml:"route"`
}

// Timeout is the per-network-call deadline.
func (c *AppConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// RefreshInterval is the periodic refresh cadence.
func (c *AppConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalMS) * time.Millisecond
}

// Location resolves the configured service timezone.
func (c *AppConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}
