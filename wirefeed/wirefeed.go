// Package wirefeed decodes the realtime feed's binary wire format
// without generated bindings. The feed is a length-delimited,
// tag/varint encoding; only the fields the departure board needs are
// extracted and everything else is skipped by wire type. A malformed
// entity is dropped on its own, the rest of the feed survives.
package wirefeed

import (
	"errors"
	"fmt"
)

// ErrDecoding reports that the feed framing itself could not be read.
// Per-entity damage is absorbed and never produces this error.
var ErrDecoding = errors.New("wirefeed: malformed feed")

// Wire types of the tag/value framing.
const (
	wireVarint  = 0
	wireFixed64 = 1
	wireBytes   = 2
	wireFixed32 = 5
)

// Field numbers, fixed by contract with the upstream provider.
const (
	fieldFeedEntity = 2

	fieldEntityID         = 1
	fieldEntityTripUpdate = 3

	fieldTripUpdateTrip     = 1
	fieldTripUpdateStopTime = 2
	fieldTripUpdateDelay    = 5

	fieldTripDescTripID      = 1
	fieldTripDescRouteID     = 5
	fieldTripDescDirectionID = 6

	fieldStopTimeStopSequence = 1
	fieldStopTimeArrival      = 2
	fieldStopTimeDeparture    = 3
	fieldStopTimeStopID       = 4

	fieldEventDelay = 1
	fieldEventTime  = 2
)

// Feed is the decoded realtime feed, entities in input order.
type Feed struct {
	Entities []Entity
}

// Entity is one feed record. TripUpdate is nil for entity kinds the
// board does not consume (vehicle positions, alerts).
type Entity struct {
	ID         string
	TripUpdate *TripUpdate
}

// TripUpdate carries the trip descriptor and the ordered per-stop
// predictions of one monitored trip.
type TripUpdate struct {
	TripID          string
	RouteID         string
	DirectionID     int
	DelaySeconds    int
	StopTimeUpdates []StopTimeUpdate
}

// StopTimeUpdate is the prediction for a single stop of a trip.
type StopTimeUpdate struct {
	StopID       string
	StopSequence int
	Arrival      *StopTimeEvent
	Departure    *StopTimeEvent
}

// StopTimeEvent is a predicted arrival or departure: an absolute Unix
// timestamp and/or a delay relative to the static schedule.
type StopTimeEvent struct {
	DelaySeconds int
	Time         int64
}

// Decode parses a feed buffer. Unknown fields are skipped according
// to their wire type; a truncated or otherwise corrupt entity is
// dropped and decoding continues with the next one.
func Decode(buf []byte) (*Feed, error) {
	d := &decoder{buf: buf}
	feed := &Feed{}
	for !d.done() {
		field, wt, err := d.tag()
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrDecoding, err)
		}
		if field == fieldFeedEntity && wt == wireBytes {
			raw, err := d.bytes()
			if err != nil {
				return nil, fmt.Errorf("%w: entity framing: %s", ErrDecoding, err)
			}
			if ent, ok := decodeEntity(raw); ok {
				feed.Entities = append(feed.Entities, ent)
			}
			continue
		}
		if err := d.skip(wt); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrDecoding, err)
		}
	}
	return feed, nil
}

func decodeEntity(buf []byte) (Entity, bool) {
	d := &decoder{buf: buf}
	var ent Entity
	for !d.done() {
		field, wt, err := d.tag()
		if err != nil {
			return Entity{}, false
		}
		switch {
		case field == fieldEntityID && wt == wireBytes:
			s, err := d.bytes()
			if err != nil {
				return Entity{}, false
			}
			ent.ID = string(s)
		case field == fieldEntityTripUpdate && wt == wireBytes:
			raw, err := d.bytes()
			if err != nil {
				return Entity{}, false
			}
			tu, err := decodeTripUpdate(raw)
			if err != nil {
				return Entity{}, false
			}
			ent.TripUpdate = tu
		default:
			if err := d.skip(wt); err != nil {
				return Entity{}, false
			}
		}
	}
	return ent, true
}

func decodeTripUpdate(buf []byte) (*TripUpdate, error) {
	d := &decoder{buf: buf}
	tu := &TripUpdate{}
	for !d.done() {
		field, wt, err := d.tag()
		if err != nil {
			return nil, err
		}
		switch {
		case field == fieldTripUpdateTrip && wt == wireBytes:
			raw, err := d.bytes()
			if err != nil {
				return nil, err
			}
			if err := decodeTripDescriptor(raw, tu); err != nil {
				return nil, err
			}
		case field == fieldTripUpdateStopTime && wt == wireBytes:
			raw, err := d.bytes()
			if err != nil {
				return nil, err
			}
			stu, err := decodeStopTimeUpdate(raw)
			if err != nil {
				return nil, err
			}
			tu.StopTimeUpdates = append(tu.StopTimeUpdates, stu)
		case field == fieldTripUpdateDelay && wt == wireVarint:
			u, err := d.uvarint()
			if err != nil {
				return nil, err
			}
			tu.DelaySeconds = signedInt32(u)
		default:
			if err := d.skip(wt); err != nil {
				return nil, err
			}
		}
	}
	return tu, nil
}

func decodeTripDescriptor(buf []byte, tu *TripUpdate) error {
	d := &decoder{buf: buf}
	for !d.done() {
		field, wt, err := d.tag()
		if err != nil {
			return err
		}
		switch {
		case field == fieldTripDescTripID && wt == wireBytes:
			s, err := d.bytes()
			if err != nil {
				return err
			}
			tu.TripID = string(s)
		case field == fieldTripDescRouteID && wt == wireBytes:
			s, err := d.bytes()
			if err != nil {
				return err
			}
			tu.RouteID = string(s)
		case field == fieldTripDescDirectionID && wt == wireVarint:
			u, err := d.uvarint()
			if err != nil {
				return err
			}
			tu.DirectionID = int(u)
		default:
			if err := d.skip(wt); err != nil {
				return err
			}
		}
	}
	return nil
}

func decodeStopTimeUpdate(buf []byte) (StopTimeUpdate, error) {
	d := &decoder{buf: buf}
	var stu StopTimeUpdate
	for !d.done() {
		field, wt, err := d.tag()
		if err != nil {
			return StopTimeUpdate{}, err
		}
		switch {
		case field == fieldStopTimeStopSequence && wt == wireVarint:
			u, err := d.uvarint()
			if err != nil {
				return StopTimeUpdate{}, err
			}
			stu.StopSequence = int(u)
		case field == fieldStopTimeStopID && wt == wireBytes:
			s, err := d.bytes()
			if err != nil {
				return StopTimeUpdate{}, err
			}
			stu.StopID = string(s)
		case field == fieldStopTimeArrival && wt == wireBytes:
			ev, err := decodeEventField(d)
			if err != nil {
				return StopTimeUpdate{}, err
			}
			stu.Arrival = ev
		case field == fieldStopTimeDeparture && wt == wireBytes:
			ev, err := decodeEventField(d)
			if err != nil {
				return StopTimeUpdate{}, err
			}
			stu.Departure = ev
		default:
			if err := d.skip(wt); err != nil {
				return StopTimeUpdate{}, err
			}
		}
	}
	return stu, nil
}

func decodeEventField(d *decoder) (*StopTimeEvent, error) {
	raw, err := d.bytes()
	if err != nil {
		return nil, err
	}
	ed := &decoder{buf: raw}
	ev := &StopTimeEvent{}
	for !ed.done() {
		field, wt, err := ed.tag()
		if err != nil {
			return nil, err
		}
		switch {
		case field == fieldEventDelay && wt == wireVarint:
			u, err := ed.uvarint()
			if err != nil {
				return nil, err
			}
			ev.DelaySeconds = signedInt32(u)
		case field == fieldEventTime && wt == wireVarint:
			u, err := ed.uvarint()
			if err != nil {
				return nil, err
			}
			ev.Time = int64(u)
		default:
			if err := ed.skip(wt); err != nil {
				return nil, err
			}
		}
	}
	return ev, nil
}

// signedInt32 reinterprets a decoded unsigned varint as a signed
// 32-bit value. The wire format sign-extends negative int32 fields to
// 64 bits instead of zig-zag encoding them.
func signedInt32(u uint64) int {
	return int(int32(uint32(u)))
}
