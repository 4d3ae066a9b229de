// Package departureboard reconciles live and scheduled data into the
// single ranked departure list handed to the presentation layer.
//
// The policy is realtime-first with static fallback and padding: live
// departures win per trip, the static schedule fills the remaining
// places, and a total realtime failure degrades to schedule-only
// results rather than an empty board.
package departureboard

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/theoremus-urban-solutions/departure-board/board"
	"github.com/theoremus-urban-solutions/departure-board/config"
	"github.com/theoremus-urban-solutions/departure-board/credentials"
)

// ScheduleSource is the static schedule query engine.
type ScheduleSource interface {
	Loaded() bool
	Load(dir string) error
	Invalidate()
	Departures(q board.Query) ([]board.Departure, error)
}

// DatasetEnsurer guarantees a dataset snapshot on disk before static
// queries run.
type DatasetEnsurer interface {
	Ensure(ctx context.Context) (dir string, updated bool, err error)
}

// LiveSource is the realtime feed client.
type LiveSource interface {
	Departures(ctx context.Context, token string, q board.Query) ([]board.Departure, error)
}

// Snapshot is the immutable result of one refresh cycle. Err carries
// a human-readable message when a source failed; an absent credential
// is expected and never reported here.
type Snapshot struct {
	Departures []board.Departure
	IsLive     bool
	SlotID     string
	LastUpdate time.Time
	Err        string
}

// Reconciler orchestrates refresh cycles. All state mutation happens
// inside the serialized refresh path; readers get snapshot copies.
type Reconciler struct {
	cfg   *config.AppConfig
	loc   *time.Location
	store ScheduleSource
	sync  DatasetEnsurer
	live  LiveSource
	creds credentials.Store
	log   zerolog.Logger
	clock func() time.Time

	group singleflight.Group

	mu        sync.RWMutex
	current   Snapshot
	hasResult bool
	lastAuto  string
	override  string
	subs      []chan Snapshot
}

func New(cfg *config.AppConfig, loc *time.Location, store ScheduleSource, sync DatasetEnsurer, live LiveSource, creds credentials.Store, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		cfg:   cfg,
		loc:   loc,
		store: store,
		sync:  sync,
		live:  live,
		creds: creds,
		log:   logger,
		clock: time.Now,
	}
}

// SetOverride pins slot selection to the given slot id until the
// natural time window moves on, which clears it again. An empty id
// clears it immediately.
func (r *Reconciler) SetOverride(slotID string) {
	r.mu.Lock()
	r.override = slotID
	r.mu.Unlock()
}

// Refresh runs one reconciliation cycle and returns the resulting
// snapshot. Concurrent callers share a single in-flight cycle.
func (r *Reconciler) Refresh(ctx context.Context) Snapshot {
	v, _, _ := r.group.Do("refresh", func() (interface{}, error) {
		return r.refresh(ctx), nil
	})
	return v.(Snapshot)
}

// Snapshot returns the last published result.
func (r *Reconciler) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copySnapshot(r.current)
}

// Subscribe returns a channel receiving a snapshot after every
// refresh. Slow consumers miss intermediate snapshots rather than
// blocking the refresh path.
func (r *Reconciler) Subscribe() <-chan Snapshot {
	ch := make(chan Snapshot, 1)
	r.mu.Lock()
	r.subs = append(r.subs, ch)
	r.mu.Unlock()
	return ch
}

// Run refreshes immediately and then on every interval tick until the
// context is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	r.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Refresh(ctx)
		}
	}
}

func (r *Reconciler) refresh(ctx context.Context) Snapshot {
	now := r.clock().In(r.loc)

	// Track the natural time-window choice: when it moves to a new
	// slot, a stale manual override expires with it.
	r.mu.Lock()
	if auto := r.cfg.Route.ActiveSlot("", now); auto != nil {
		if r.lastAuto != "" && r.lastAuto != auto.ID {
			r.override = ""
		}
		r.lastAuto = auto.ID
	}
	override := r.override
	r.mu.Unlock()

	slot := r.cfg.Route.ActiveSlot(override, now)
	if slot == nil {
		return r.publish(Snapshot{LastUpdate: now})
	}
	q := board.Query{
		LineID:            r.cfg.Route.LineID,
		StopID:            slot.DepartureStopID,
		DestinationStopID: slot.DestinationStopID,
		DirectionID:       slot.DirectionID,
		MaxTrains:         r.cfg.Route.MaxTrains,
		Now:               now,
	}

	var live []board.Departure
	var liveErr error
	token, tokenErr := r.creds.Load()
	switch {
	case tokenErr == nil:
		live, liveErr = r.live.Departures(ctx, token, q)
		if liveErr == nil && len(live) >= q.MaxTrains {
			// Full realtime coverage; no static lookup needed.
			return r.publish(Snapshot{
				Departures: live, IsLive: true, SlotID: slot.ID, LastUpdate: now,
			})
		}
		if liveErr != nil {
			r.log.Warn().Err(liveErr).Msg("realtime fetch failed, falling back to schedule")
			live = nil
		}
	case errors.Is(tokenErr, credentials.ErrNoToken):
		// Expected steady state; schedule only, no warning.
	default:
		liveErr = tokenErr
	}

	static, staticErr := r.scheduled(ctx, q)
	if staticErr != nil {
		r.log.Error().Err(staticErr).Msg("schedule lookup failed")
		if len(live) == 0 {
			return r.publish(r.degraded(slot.ID, now, staticErr))
		}
	}

	merged, isLive := merge(live, static, q.MaxTrains)
	snap := Snapshot{
		Departures: merged, IsLive: isLive, SlotID: slot.ID, LastUpdate: now,
	}
	if liveErr != nil {
		snap.Err = liveErr.Error()
	} else if staticErr != nil {
		snap.Err = staticErr.Error()
	}
	return r.publish(snap)
}

// degraded keeps the previously shown list when both sources came up
// empty-handed this cycle; only a first-ever failure leaves the board
// blank.
func (r *Reconciler) degraded(slotID string, now time.Time, cause error) Snapshot {
	r.mu.RLock()
	prev := r.current
	hasPrev := r.hasResult && len(prev.Departures) > 0
	r.mu.RUnlock()
	if hasPrev {
		snap := copySnapshot(prev)
		snap.Err = cause.Error()
		return snap
	}
	return Snapshot{SlotID: slotID, LastUpdate: now, Err: cause.Error()}
}

func (r *Reconciler) scheduled(ctx context.Context, q board.Query) ([]board.Departure, error) {
	dir, updated, err := r.sync.Ensure(ctx)
	if err != nil {
		return nil, err
	}
	if updated || !r.store.Loaded() {
		if err := r.store.Load(dir); err != nil {
			return nil, err
		}
	}
	return r.store.Departures(q)
}

func (r *Reconciler) publish(snap Snapshot) Snapshot {
	r.mu.Lock()
	r.current = snap
	r.hasResult = true
	subs := r.subs
	r.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- copySnapshot(snap):
		default:
		}
	}
	return copySnapshot(snap)
}

func copySnapshot(s Snapshot) Snapshot {
	out := s
	out.Departures = append([]board.Departure(nil), s.Departures...)
	return out
}

// merge unions live departures with static ones for trips realtime
// does not cover yet, re-sorted by effective time. Any live entry
// marks the whole list live; entries keep their individual tags.
func merge(live, static []board.Departure, max int) ([]board.Departure, bool) {
	if len(live) == 0 {
		return truncate(static, max), false
	}
	seen := make(map[string]bool, len(live))
	for _, d := range live {
		seen[d.TripID] = true
	}
	out := make([]board.Departure, 0, len(live)+len(static))
	out = append(out, live...)
	for _, d := range static {
		if !seen[d.TripID] {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].EffectiveTime(), out[j].EffectiveTime()
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return out[i].TripID < out[j].TripID
	})
	return truncate(out, max), true
}

func truncate(list []board.Departure, max int) []board.Departure {
	if max > 0 && len(list) > max {
		return list[:max]
	}
	return list
}
