// Package realtime fetches the live binary feed and maps it into
// ranked departures for the configured route. All failures here are
// recoverable: the reconciler falls back to the static schedule.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/theoremus-urban-solutions/departure-board/board"
	"github.com/theoremus-urban-solutions/departure-board/wirefeed"
)

// ErrNoToken means no credential is configured. This is the expected
// steady state for a fresh install, not a fault, and callers suppress
// it from user-facing error display.
var ErrNoToken = errors.New("realtime: no token configured")

// HTTPError reports a non-2xx response from the feed endpoint.
type HTTPError struct {
	Status int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("realtime: feed returned status %d", e.Status)
}

// Departures already slightly in the past are kept: a train shown as
// leaving "now" may still be boardable.
const graceWindow = 60 * time.Second

// Client fetches and filters the live feed.
type Client struct {
	endpoint string
	http     *http.Client
	log      zerolog.Logger
}

// New creates a client for the fixed feed endpoint. The credential is
// supplied per call so the client itself never holds it.
func New(endpoint string, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
		log:      logger,
	}
}

// Departures fetches the feed with the given credential and returns
// upcoming departures matching the query, ranked by effective time
// and truncated to MaxTrains. Entries are tagged realtime; ID is the
// feed entity id, distinct from the trip id.
func (c *Client) Departures(ctx context.Context, token string, q board.Query) ([]board.Departure, error) {
	if token == "" {
		return nil, ErrNoToken
	}

	body, err := c.fetch(ctx, token)
	if err != nil {
		return nil, err
	}
	feed, err := wirefeed.Decode(body)
	if err != nil {
		return nil, err
	}

	now := q.Now
	if now.IsZero() {
		now = time.Now()
	}
	cutoff := now.Add(-graceWindow).Unix()

	var out []board.Departure
	for _, ent := range feed.Entities {
		tu := ent.TripUpdate
		if tu == nil || tu.RouteID != q.LineID {
			continue
		}
		if q.DestinationStopID == "" && tu.DirectionID != q.DirectionID {
			continue
		}
		depIdx := -1
		for i, stu := range tu.StopTimeUpdates {
			if stu.StopID == q.StopID {
				depIdx = i
				break
			}
		}
		if depIdx < 0 {
			continue
		}
		if q.DestinationStopID != "" {
			destIdx := -1
			for i, stu := range tu.StopTimeUpdates {
				if stu.StopID == q.DestinationStopID {
					destIdx = i
					break
				}
			}
			if destIdx <= depIdx {
				continue
			}
		}

		stu := tu.StopTimeUpdates[depIdx]
		when, delay := eventTime(stu, tu.DelaySeconds)
		if when == 0 || when < cutoff {
			continue
		}
		out = append(out, board.Departure{
			ID:            ent.ID,
			TripID:        tu.TripID,
			ScheduledTime: time.Unix(when-int64(delay), 0),
			DelaySeconds:  delay,
			IsRealTime:    true,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].EffectiveTime().Before(out[j].EffectiveTime())
	})
	if q.MaxTrains > 0 && len(out) > q.MaxTrains {
		out = out[:q.MaxTrains]
	}
	c.log.Debug().Int("count", len(out)).Str("stop", q.StopID).Msg("realtime departures")
	return out, nil
}

// eventTime picks the predicted epoch and delay for a stop update:
// departure event first, then arrival, then the trip-level delay when
// the event carries none.
func eventTime(stu wirefeed.StopTimeUpdate, tripDelay int) (int64, int) {
	ev := stu.Departure
	if ev == nil || ev.Time == 0 {
		ev = stu.Arrival
	}
	if ev == nil || ev.Time == 0 {
		return 0, 0
	}
	delay := ev.DelaySeconds
	if delay == 0 {
		delay = tripDelay
	}
	return ev.Time, delay
}

func (c *Client) fetch(ctx context.Context, token string) ([]byte, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("realtime: bad endpoint: %w", err)
	}
	query := u.Query()
	query.Set("key", token)
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("realtime: fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{Status: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}
