// Package board holds the departure model shared between the static
// schedule store, the realtime feed client and the reconciler.
package board

import "time"

// Departure is a single upcoming departure from the configured stop.
// Instances are built fresh on every refresh cycle and never mutated.
type Departure struct {
	// ID identifies the departure within its source: the feed entity id
	// for realtime departures, the trip id for scheduled ones.
	ID            string
	TripID        string
	ScheduledTime time.Time
	DelaySeconds  int
	IsRealTime    bool
}

// EffectiveTime is the scheduled time shifted by the known delay.
func (d Departure) EffectiveTime() time.Time {
	return d.ScheduledTime.Add(time.Duration(d.DelaySeconds) * time.Second)
}

// MinutesUntil reports full minutes between now and the effective
// departure time, never negative.
func (d Departure) MinutesUntil(now time.Time) int {
	m := int(d.EffectiveTime().Sub(now) / time.Minute)
	if m < 0 {
		return 0
	}
	return m
}

// Query selects departures for one (line, stop, direction) triple.
// A non-empty DestinationStopID restricts results to trips that call
// at the destination after the departure stop; direction matching is
// skipped in that case since the destination already implies it.
type Query struct {
	LineID            string
	StopID            string
	DestinationStopID string
	DirectionID       int
	MaxTrains         int
	Now               time.Time
}
