package schedule

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/theoremus-urban-solutions/departure-board/board"
)

// writeDataset lays out a dataset directory from literal file contents.
func writeDataset(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

// fixtureFiles is a small but complete dataset: line L1 over stops
// A, B, C with a weekday service, a Sunday service, and two services
// governed purely by calendar exceptions.
func fixtureFiles() map[string]string {
	return map[string]string{
		"trips.txt": "trip_id,route_id,service_id,direction_id\n" +
			"T1,L1,WK,0\n" +
			"T2,L1,WK,0\n" +
			"T3,L1,WK,1\n" +
			"T4,L1,SUN,0\n" +
			"T5,L1,WK,0\n" +
			"T6,L1,ADD,0\n" +
			"T7,L1,REM,0\n" +
			",L1,WK,0\n", // empty key, skipped
		"stop_times.txt": "trip_id,stop_id,departure_time\n" +
			"T1,A,08:10:00\nT1,B,08:15:00\nT1,C,08:25:00\n" +
			"T2,A,08:00:00\nT2,B,08:05:00\nT2,C,08:20:00\n" +
			"T3,C,08:02:00\nT3,B,08:12:00\nT3,A,08:22:00\n" +
			"T4,A,08:01:00\nT4,B,08:06:00\nT4,C,08:11:00\n" +
			"T5,A,25:00:00\nT5,B,25:10:00\nT5,C,25:20:00\n" +
			"T6,A,08:30:00\nT6,B,08:35:00\nT6,C,08:45:00\n" +
			"T7,A,08:40:00\nT7,B,08:50:00\nT7,C,09:00:00\n",
		"calendar.txt": "service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date\n" +
			"WK,1,1,1,1,1,0,0,20250101,20261231\n" +
			"SUN,0,0,0,0,0,0,1,20250101,20261231\n" +
			"ADD,0,0,0,0,0,0,0,20250101,20261231\n" +
			"REM,1,1,1,1,1,1,1,20250101,20261231\n",
		"calendar_dates.txt": "service_id,date,exception_type\n" +
			"ADD,20260105,1\n" +
			"REM,20260105,2\n",
		"stops.txt": "stop_id,stop_name\n" +
			"A,Alpha\n" +
			"B,\"Bravo, Central\"\n" +
			"C,Charlie\n",
		"routes.txt": "route_id,route_short_name,route_long_name\n" +
			"L1,S1,Airport Line\n" +
			"L2,,Harbour Line\n",
	}
}

func loadedStore(t *testing.T, files map[string]string) *Store {
	t.Helper()
	dir := writeDataset(t, files)
	s := New(time.UTC, zerolog.Nop())
	if err := s.Load(dir); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return s
}

// A fixed Monday morning inside every fixture calendar window.
var monday0800 = time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)

func TestLoad_MissingColumns(t *testing.T) {
	files := fixtureFiles()
	files["calendar.txt"] = "service_id,monday,start_date,end_date\nWK,1,20250101,20261231\n"
	dir := writeDataset(t, files)

	s := New(time.UTC, zerolog.Nop())
	err := s.Load(dir)
	var mc *MissingColumnsError
	if !errors.As(err, &mc) {
		t.Fatalf("err = %v, want MissingColumnsError", err)
	}
	if mc.Table != "calendar.txt" {
		t.Errorf("table = %q, want calendar.txt", mc.Table)
	}
	if s.Loaded() {
		t.Error("failed load must not publish a snapshot")
	}
}

func TestLoad_BOMAndQuotedFields(t *testing.T) {
	files := fixtureFiles()
	files["stops.txt"] = "\xEF\xBB\xBF" + files["stops.txt"]
	s := loadedStore(t, files)

	stops, err := s.StopsForLine("L1")
	if err != nil {
		t.Fatalf("StopsForLine: %v", err)
	}
	var names []string
	for _, st := range stops {
		names = append(names, st.Name)
	}
	want := []string{"Alpha", "Bravo, Central", "Charlie"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestAvailableLines_SortedByName(t *testing.T) {
	s := loadedStore(t, fixtureFiles())
	lines, err := s.AvailableLines()
	if err != nil {
		t.Fatalf("AvailableLines: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	// "Harbour Line" (long-name fallback) sorts before short name "S1".
	if lines[0].ID != "L2" || lines[1].ID != "L1" {
		t.Errorf("order = %s, %s; want L2, L1", lines[0].ID, lines[1].ID)
	}
}

func TestDepartures_WeekdayAndExceptions(t *testing.T) {
	s := loadedStore(t, fixtureFiles())
	got, err := s.Departures(board.Query{
		LineID: "L1", StopID: "B", DirectionID: 0, MaxTrains: 10, Now: monday0800,
	})
	if err != nil {
		t.Fatalf("Departures: %v", err)
	}

	// T2 08:05, T1 08:15, T6 08:35 (exception-added), T5 overnight.
	// T7 is exception-removed, T3 runs the other direction, T4 only
	// runs Sundays.
	wantIDs := []string{"T2", "T1", "T6", "T5"}
	if len(got) != len(wantIDs) {
		t.Fatalf("got %d departures %v, want %v", len(got), got, wantIDs)
	}
	for i, want := range wantIDs {
		if got[i].TripID != want {
			t.Errorf("departure[%d] = %s, want %s", i, got[i].TripID, want)
		}
		if got[i].IsRealTime {
			t.Errorf("departure[%d] tagged realtime", i)
		}
	}
}

func TestDepartures_OvernightRollover(t *testing.T) {
	s := loadedStore(t, fixtureFiles())
	got, err := s.Departures(board.Query{
		LineID: "L1", StopID: "B", DirectionID: 0, MaxTrains: 10, Now: monday0800,
	})
	if err != nil {
		t.Fatalf("Departures: %v", err)
	}
	last := got[len(got)-1]
	if last.TripID != "T5" {
		t.Fatalf("last departure = %s, want overnight trip T5", last.TripID)
	}
	want := time.Date(2026, 1, 6, 1, 10, 0, 0, time.UTC)
	if !last.ScheduledTime.Equal(want) {
		t.Errorf("T5 scheduled = %v, want %v (25:10:00 rolled into tomorrow)", last.ScheduledTime, want)
	}
}

func TestDepartures_DestinationFilter(t *testing.T) {
	s := loadedStore(t, fixtureFiles())

	tests := []struct {
		name        string
		destination string
		wantTrip    string
		wantAny     bool
	}{
		{"destination after boarding stop", "C", "T2", true},
		{"destination before boarding stop", "A", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Departures(board.Query{
				LineID: "L1", StopID: "B", DestinationStopID: tt.destination,
				DirectionID: 0, MaxTrains: 1, Now: monday0800,
			})
			if err != nil {
				t.Fatalf("Departures: %v", err)
			}
			if tt.wantAny {
				if len(got) != 1 || got[0].TripID != tt.wantTrip {
					t.Fatalf("got %v, want single %s", got, tt.wantTrip)
				}
				return
			}
			for _, d := range got {
				if d.TripID == "T2" || d.TripID == "T1" {
					t.Fatalf("trip %s matched with destination %s preceding stop B", d.TripID, tt.destination)
				}
			}
		})
	}
}

func TestDepartures_DestinationImpliesDirection(t *testing.T) {
	s := loadedStore(t, fixtureFiles())
	// T3 runs C -> B -> A; with destination A and boarding B, the
	// direction filter (0) must be ignored and T3 selected.
	got, err := s.Departures(board.Query{
		LineID: "L1", StopID: "B", DestinationStopID: "A",
		DirectionID: 0, MaxTrains: 5, Now: monday0800,
	})
	if err != nil {
		t.Fatalf("Departures: %v", err)
	}
	if len(got) != 1 || got[0].TripID != "T3" {
		t.Fatalf("got %v, want only T3", got)
	}
}

func TestDepartures_CutoffAndTruncation(t *testing.T) {
	s := loadedStore(t, fixtureFiles())
	later := time.Date(2026, 1, 5, 8, 10, 0, 0, time.UTC)
	got, err := s.Departures(board.Query{
		LineID: "L1", StopID: "B", DirectionID: 0, MaxTrains: 2, Now: later,
	})
	if err != nil {
		t.Fatalf("Departures: %v", err)
	}
	// 08:05 has passed; the next two are T1 08:15 and T6 08:35.
	if len(got) != 2 || got[0].TripID != "T1" || got[1].TripID != "T6" {
		t.Fatalf("got %v, want [T1 T6]", got)
	}
}

func TestDepartures_Idempotent(t *testing.T) {
	s := loadedStore(t, fixtureFiles())
	q := board.Query{LineID: "L1", StopID: "B", DirectionID: 0, MaxTrains: 10, Now: monday0800}
	first, err := s.Departures(q)
	if err != nil {
		t.Fatalf("Departures: %v", err)
	}
	second, err := s.Departures(q)
	if err != nil {
		t.Fatalf("Departures: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("departure[%d] differs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestInvalidate(t *testing.T) {
	s := loadedStore(t, fixtureFiles())
	s.Invalidate()
	if s.Loaded() {
		t.Fatal("store still loaded after Invalidate")
	}
	_, err := s.Departures(board.Query{LineID: "L1", StopID: "B", MaxTrains: 1, Now: monday0800})
	if !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("err = %v, want ErrNotLoaded", err)
	}
}

func TestTimeStringOrdering(t *testing.T) {
	// Lexicographic comparison of zero-padded HH:MM:SS strings agrees
	// with chronological order, including hours beyond 24.
	ordered := []string{"00:00:00", "06:30:15", "12:00:00", "23:59:59", "24:00:00", "25:10:00", "27:45:01"}
	for i := 0; i < len(ordered)-1; i++ {
		if !(ordered[i] < ordered[i+1]) {
			t.Errorf("%q should sort before %q", ordered[i], ordered[i+1])
		}
	}
}

func TestTimeOfDayToInstant(t *testing.T) {
	ref := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	tests := []struct {
		in     string
		want   time.Time
		wantOK bool
	}{
		{"08:05:00", time.Date(2026, 1, 5, 8, 5, 0, 0, time.UTC), true},
		{"24:00:00", time.Date(2026, 1, 6, 0, 0, 0, 0, time.UTC), true},
		{"49:30:00", time.Date(2026, 1, 7, 1, 30, 0, 0, time.UTC), true},
		{"notatime", time.Time{}, false},
		{"08:05", time.Time{}, false},
	}
	for _, tt := range tests {
		got, ok := timeOfDayToInstant(tt.in, ref, time.UTC)
		if ok != tt.wantOK {
			t.Errorf("timeOfDayToInstant(%q) ok = %v, want %v", tt.in, ok, tt.wantOK)
			continue
		}
		if ok && !got.Equal(tt.want) {
			t.Errorf("timeOfDayToInstant(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
