package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// window parses the slot's HH:MM bounds into minutes of day. "24:00"
// is a valid end bound meaning end of day.
func (s *RouteSlot) window() (start, end int, err error) {
	start, err = parseMinutes(s.Start)
	if err != nil {
		return 0, 0, fmt.Errorf("config: slot %q start: %w", s.ID, err)
	}
	end, err = parseMinutes(s.End)
	if err != nil {
		return 0, 0, fmt.Errorf("config: slot %q end: %w", s.ID, err)
	}
	return start, end, nil
}

func parseMinutes(hhmm string) (int, error) {
	parts := strings.Split(hhmm, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q", hhmm)
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 24 || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid time %q", hhmm)
	}
	return h*60 + m, nil
}

// ActiveSlot picks the slot to query at the given moment. A manual
// override wins when it names an existing slot. Otherwise the first
// slot whose window contains now is used; failing that, the slot whose
// window ended most recently; failing that, the first configured slot
// (before the earliest window has started). Nil when no slots exist.
func (r *RouteConfiguration) ActiveSlot(overrideID string, now time.Time) *RouteSlot {
	if len(r.Slots) == 0 {
		return nil
	}
	if overrideID != "" {
		for i := range r.Slots {
			if r.Slots[i].ID == overrideID {
				return &r.Slots[i]
			}
		}
	}

	minute := now.Hour()*60 + now.Minute()
	for i := range r.Slots {
		start, end, err := r.Slots[i].window()
		if err != nil {
			continue
		}
		if minute >= start && minute < end {
			return &r.Slots[i]
		}
	}

	latest := -1
	latestEnd := -1
	for i := range r.Slots {
		_, end, err := r.Slots[i].window()
		if err != nil {
			continue
		}
		if end <= minute && end > latestEnd {
			latest = i
			latestEnd = end
		}
	}
	if latest >= 0 {
		return &r.Slots[latest]
	}
	return &r.Slots[0]
}
