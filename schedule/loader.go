package schedule

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// The six tables every dataset snapshot must carry.
var RequiredFiles = []string{
	"trips.txt",
	"stop_times.txt",
	"calendar.txt",
	"calendar_dates.txt",
	"stops.txt",
	"routes.txt",
}

// MissingColumnsError reports that a table's header lacks columns the
// loader depends on, which means the upstream export schema changed.
type MissingColumnsError struct {
	Table   string
	Columns []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("schedule: table %s missing columns %s", e.Table, strings.Join(e.Columns, ", "))
}

// table is one parsed tabular file: data rows plus a header index.
type table struct {
	name string
	cols map[string]int
	rows [][]string
}

// col returns the row's value for a named column, empty when the
// column is absent or the row is too short.
func (t *table) col(row []string, name string) string {
	i, ok := t.cols[name]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}

// readTable parses one CSV file. The first line may carry a UTF-8
// byte-order mark; fields follow RFC 4180 quoting. Required columns
// are checked against the header, nothing else is validated here.
func readTable(dir, name string, required ...string) (*table, error) {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("schedule: read %s: %w", name, err)
	}
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	recs, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("schedule: parse %s: %w", name, err)
	}
	if len(recs) == 0 {
		return nil, &MissingColumnsError{Table: name, Columns: required}
	}

	t := &table{name: name, cols: map[string]int{}}
	for i, h := range recs[0] {
		t.cols[strings.TrimSpace(h)] = i
	}
	var missing []string
	for _, c := range required {
		if _, ok := t.cols[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingColumnsError{Table: name, Columns: missing}
	}
	t.rows = recs[1:]
	return t, nil
}

func loadDataset(dir string) (*dataset, error) {
	ds := &dataset{
		trips:        map[string]Trip{},
		tripsByRoute: map[string][]string{},
		stopTimes:    map[string][]StopTime{},
		calendars:    map[string]Calendar{},
		exceptions:   map[string]map[string]ExceptionType{},
		stops:        map[string]Stop{},
		lines:        map[string]Line{},
	}

	trips, err := readTable(dir, "trips.txt", "trip_id", "route_id", "service_id")
	if err != nil {
		return nil, err
	}
	for _, row := range trips.rows {
		id := trips.col(row, "trip_id")
		if id == "" {
			continue
		}
		dir := 0
		if v := trips.col(row, "direction_id"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				dir = n
			}
		}
		t := Trip{
			ID:          id,
			RouteID:     trips.col(row, "route_id"),
			ServiceID:   trips.col(row, "service_id"),
			DirectionID: dir,
		}
		ds.trips[id] = t
		ds.tripsByRoute[t.RouteID] = append(ds.tripsByRoute[t.RouteID], id)
	}

	stopTimes, err := readTable(dir, "stop_times.txt", "trip_id", "stop_id", "departure_time")
	if err != nil {
		return nil, err
	}
	// File order per trip is the timetable stop order; it backs the
	// "destination comes after boarding stop" check, so no re-sort.
	for _, row := range stopTimes.rows {
		tripID := stopTimes.col(row, "trip_id")
		stopID := stopTimes.col(row, "stop_id")
		if tripID == "" || stopID == "" {
			continue
		}
		ds.stopTimes[tripID] = append(ds.stopTimes[tripID], StopTime{
			StopID:    stopID,
			Departure: stopTimes.col(row, "departure_time"),
		})
	}

	calendar, err := readTable(dir, "calendar.txt",
		"service_id", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
		"start_date", "end_date")
	if err != nil {
		return nil, err
	}
	weekdayCols := [7]string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}
	for _, row := range calendar.rows {
		id := calendar.col(row, "service_id")
		if id == "" {
			continue
		}
		cal := Calendar{
			ServiceID: id,
			StartDate: calendar.col(row, "start_date"),
			EndDate:   calendar.col(row, "end_date"),
		}
		for i, c := range weekdayCols {
			cal.Weekdays[i] = calendar.col(row, c) == "1"
		}
		ds.calendars[id] = cal
	}

	exceptions, err := readTable(dir, "calendar_dates.txt", "service_id", "date", "exception_type")
	if err != nil {
		return nil, err
	}
	for _, row := range exceptions.rows {
		id := exceptions.col(row, "service_id")
		date := exceptions.col(row, "date")
		if id == "" || date == "" {
			continue
		}
		var typ ExceptionType
		switch exceptions.col(row, "exception_type") {
		case "1":
			typ = ServiceAdded
		case "2":
			typ = ServiceRemoved
		default:
			continue
		}
		if ds.exceptions[id] == nil {
			ds.exceptions[id] = map[string]ExceptionType{}
		}
		ds.exceptions[id][date] = typ
	}

	stops, err := readTable(dir, "stops.txt", "stop_id", "stop_name")
	if err != nil {
		return nil, err
	}
	for _, row := range stops.rows {
		id := stops.col(row, "stop_id")
		if id == "" {
			continue
		}
		ds.stops[id] = Stop{ID: id, Name: stops.col(row, "stop_name")}
	}

	routes, err := readTable(dir, "routes.txt", "route_id")
	if err != nil {
		return nil, err
	}
	for _, row := range routes.rows {
		id := routes.col(row, "route_id")
		if id == "" {
			continue
		}
		name := routes.col(row, "route_short_name")
		if name == "" {
			name = routes.col(row, "route_long_name")
		}
		if name == "" {
			name = id
		}
		ds.lines[id] = Line{ID: id, Name: name}
	}

	return ds, nil
}
