// Package schedule answers departure queries from the offline tabular
// dataset: which services run today under the weekday+exception
// calendar, and which trips leave the configured stop after now.
package schedule

import (
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/theoremus-urban-solutions/departure-board/board"
)

// ErrNotLoaded reports that no dataset snapshot is loaded (or the
// loaded one has been invalidated). The owner is expected to run a
// cache sync and call Load before querying again.
var ErrNotLoaded = errors.New("schedule: dataset not loaded")

// Trip is one scheduled run of a line.
type Trip struct {
	ID          string
	RouteID     string
	ServiceID   string
	DirectionID int
}

// StopTime is one stop call within a trip, departure time as the raw
// "HH:MM:SS" string. Hours may exceed 24 for overnight trips.
type StopTime struct {
	StopID    string
	Departure string
}

// Calendar is the weekday service pattern of one service id, valid
// between StartDate and EndDate (YYYYMMDD, compared lexicographically).
type Calendar struct {
	ServiceID string
	Weekdays  [7]bool // indexed by time.Weekday (0 = Sunday)
	StartDate string
	EndDate   string
}

// ExceptionType is a per-date override of the weekday calendar.
type ExceptionType int

const (
	// ServiceAdded runs the service on a date its calendar excludes.
	ServiceAdded ExceptionType = 1
	// ServiceRemoved cancels the service on a date its calendar includes.
	ServiceRemoved ExceptionType = 2
)

// Stop is a boardable stop.
type Stop struct {
	ID   string
	Name string
}

// Line is a route with its display name.
type Line struct {
	ID   string
	Name string
}

// dataset holds one fully parsed snapshot. It is built wholesale per
// load and never mutated afterwards, so readers may hold it without
// locking once obtained.
type dataset struct {
	trips        map[string]Trip
	tripsByRoute map[string][]string
	stopTimes    map[string][]StopTime // file order per trip
	calendars    map[string]Calendar
	exceptions   map[string]map[string]ExceptionType // service -> date -> type
	stops        map[string]Stop
	lines        map[string]Line
}

// Store is the schedule query engine. The dataset pointer is swapped
// atomically under the lock; a load in progress never exposes a
// partially built snapshot.
type Store struct {
	loc *time.Location
	log zerolog.Logger

	mu sync.RWMutex
	ds *dataset
}

// New creates an empty store computing all dates and times in loc,
// the fixed service timezone.
func New(loc *time.Location, logger zerolog.Logger) *Store {
	return &Store{loc: loc, log: logger}
}

// Load parses the six required tables from dir and publishes the new
// snapshot. On error the previous snapshot stays queryable.
func (s *Store) Load(dir string) error {
	ds, err := loadDataset(dir)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ds = ds
	s.mu.Unlock()
	s.log.Info().
		Int("trips", len(ds.trips)).
		Int("stops", len(ds.stops)).
		Int("lines", len(ds.lines)).
		Msg("schedule dataset loaded")
	return nil
}

// Loaded reports whether a usable snapshot is available.
func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ds != nil
}

// Invalidate drops the in-memory snapshot so the next query forces a
// reload through the cache sync layer.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.ds = nil
	s.mu.Unlock()
}

func (s *Store) snapshot() (*dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ds == nil {
		return nil, ErrNotLoaded
	}
	return s.ds, nil
}

// AvailableLines lists all lines in the dataset sorted by display name.
func (s *Store) AvailableLines() ([]Line, error) {
	ds, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	out := make([]Line, 0, len(ds.lines))
	for _, l := range ds.lines {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// StopsForLine lists every stop appearing in the line's stop-time
// records, sorted by name.
func (s *Store) StopsForLine(lineID string) ([]Stop, error) {
	ds, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	var out []Stop
	for _, tripID := range ds.tripsByRoute[lineID] {
		for _, st := range ds.stopTimes[tripID] {
			if _, ok := seen[st.StopID]; ok {
				continue
			}
			seen[st.StopID] = struct{}{}
			stop, ok := ds.stops[st.StopID]
			if !ok {
				stop = Stop{ID: st.StopID, Name: st.StopID}
			}
			out = append(out, stop)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ActiveServices resolves the set of service ids running on the given
// date (YYYYMMDD). The weekday calendar decides first, then exceptions
// override in both directions.
func (s *Store) ActiveServices(date string, weekday time.Weekday) (map[string]bool, error) {
	ds, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	return ds.activeServices(date, weekday), nil
}

func (ds *dataset) activeServices(date string, weekday time.Weekday) map[string]bool {
	active := map[string]bool{}
	for id, cal := range ds.calendars {
		if date < cal.StartDate || date > cal.EndDate {
			continue
		}
		if cal.Weekdays[weekday] {
			active[id] = true
		}
	}
	for id, byDate := range ds.exceptions {
		switch byDate[date] {
		case ServiceAdded:
			active[id] = true
		case ServiceRemoved:
			delete(active, id)
		}
	}
	return active
}

// Departures projects upcoming scheduled departures for the query.
// Results are sorted by departure instant and truncated to MaxTrains;
// every entry is tagged as non-realtime.
func (s *Store) Departures(q board.Query) ([]board.Departure, error) {
	ds, err := s.snapshot()
	if err != nil {
		return nil, err
	}

	now := q.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.In(s.loc)
	today := now.Format("20060102")
	clock := now.Format("15:04:05")
	active := ds.activeServices(today, now.Weekday())

	var out []board.Departure
	for _, tripID := range ds.tripsByRoute[q.LineID] {
		trip := ds.trips[tripID]
		// A destination filter implies the direction.
		if q.DestinationStopID == "" && trip.DirectionID != q.DirectionID {
			continue
		}
		if !active[trip.ServiceID] {
			continue
		}
		seq := ds.stopTimes[tripID]
		depIdx := -1
		for i, st := range seq {
			if st.StopID == q.StopID {
				depIdx = i
				break
			}
		}
		if depIdx < 0 {
			continue
		}
		if q.DestinationStopID != "" {
			destIdx := -1
			for i, st := range seq {
				if st.StopID == q.DestinationStopID {
					destIdx = i
					break
				}
			}
			// The destination must come strictly after the boarding
			// stop, otherwise this trip runs the wrong way or skips it.
			if destIdx <= depIdx {
				continue
			}
		}
		dep := seq[depIdx].Departure
		if dep == "" || dep < clock {
			continue
		}
		at, ok := timeOfDayToInstant(dep, now, s.loc)
		if !ok {
			continue
		}
		out = append(out, board.Departure{
			ID:            tripID,
			TripID:        tripID,
			ScheduledTime: at,
			IsRealTime:    false,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledTime.Equal(out[j].ScheduledTime) {
			return out[i].ScheduledTime.Before(out[j].ScheduledTime)
		}
		return out[i].TripID < out[j].TripID
	})
	if q.MaxTrains > 0 && len(out) > q.MaxTrains {
		out = out[:q.MaxTrains]
	}
	return out, nil
}

// timeOfDayToInstant anchors an "HH:MM:SS" string on ref's calendar
// day. Hours of 24 and above roll into the following day(s).
func timeOfDayToInstant(hms string, ref time.Time, loc *time.Location) (time.Time, bool) {
	parts := strings.Split(hms, ":")
	if len(parts) != 3 {
		return time.Time{}, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	sec, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil || h < 0 || m < 0 || m > 59 || sec < 0 || sec > 59 {
		return time.Time{}, false
	}
	days := h / 24
	at := time.Date(ref.Year(), ref.Month(), ref.Day(), h%24, m, sec, 0, loc)
	if days > 0 {
		at = at.AddDate(0, 0, days)
	}
	return at, true
}
