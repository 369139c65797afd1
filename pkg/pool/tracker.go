package pool

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vitrinehq/vitrine/pkg/events"
	"github.com/vitrinehq/vitrine/pkg/log"
	"github.com/vitrinehq/vitrine/pkg/metrics"
	"github.com/vitrinehq/vitrine/pkg/storage"
	"github.com/vitrinehq/vitrine/pkg/types"
)

// Tracker follows the casts running on pool devices. At most one cast
// runs per device; the tracker enforces that and keeps the activity and
// error counters the monitor sweeps.
type Tracker struct {
	mu     sync.RWMutex
	casts  map[string]*types.Cast // keyed by device address
	store  storage.Store          // optional, persists finished casts
	broker *events.Broker
	logger zerolog.Logger
}

// NewTracker creates a cast tracker. Both store and broker may be nil.
func NewTracker(store storage.Store, broker *events.Broker) *Tracker {
	return &Tracker{
		casts:  make(map[string]*types.Cast),
		store:  store,
		broker: broker,
		logger: log.WithComponent("tracker"),
	}
}

// Start registers a new cast on a device
func (t *Tracker) Start(address, target string, skipHealthCheck bool) (*types.Cast, error) {
	t.mu.Lock()
	if existing, ok := t.casts[address]; ok {
		t.mu.Unlock()
		return nil, fmt.Errorf("cast %s already active on device %s", existing.ID, address)
	}

	now := time.Now()
	cast := &types.Cast{
		ID:              uuid.New().String(),
		DeviceAddr:      address,
		Target:          target,
		SkipHealthCheck: skipHealthCheck,
		StartedAt:       now,
		LastActivity:    now,
	}
	t.casts[address] = cast
	t.mu.Unlock()

	t.logger.Info().
		Str("device", address).
		Str("cast_id", cast.ID).
		Str("target", target).
		Msg("Cast started")

	if t.broker != nil {
		t.broker.Publish(&events.Event{
			Type:       events.EventCastStarted,
			DeviceAddr: address,
			CastID:     cast.ID,
			Message:    target,
		})
	}

	copied := *cast
	return &copied, nil
}

// Stop ends the cast on a device and persists its history row. Calling
// Stop on a device with no cast is a no-op, so release paths and recovery
// can both call it without coordinating.
func (t *Tracker) Stop(address string, outcome types.CastOutcome) *types.Cast {
	t.mu.Lock()
	cast, ok := t.casts[address]
	if !ok {
		t.mu.Unlock()
		return nil
	}
	delete(t.casts, address)
	t.mu.Unlock()

	ended := time.Now()
	t.logger.Info().
		Str("device", address).
		Str("cast_id", cast.ID).
		Str("outcome", string(outcome)).
		Msg("Cast ended")
	metrics.CastsTotal.WithLabelValues(string(outcome)).Inc()

	if t.store != nil {
		record := &types.CastRecord{
			ID:         cast.ID,
			DeviceAddr: cast.DeviceAddr,
			Target:     cast.Target,
			StartedAt:  cast.StartedAt,
			EndedAt:    ended,
			Outcome:    outcome,
			ErrorCount: cast.ErrorCount,
		}
		if err := t.store.SaveCastRecord(record); err != nil {
			t.logger.Warn().Err(err).Str("cast_id", cast.ID).Msg("Failed to persist cast record")
		}
	}

	if t.broker != nil {
		eventType := events.EventCastEnded
		if outcome == types.CastOutcomeAborted {
			eventType = events.EventCastAborted
		}
		t.broker.Publish(&events.Event{
			Type:       eventType,
			DeviceAddr: address,
			CastID:     cast.ID,
			Message:    string(outcome),
		})
	}

	copied := *cast
	return &copied
}

// RecordActivity freshens the cast's activity timestamp and resets the
// error counter. Called on confirmed forward progress, so the flag
// thresholds count consecutive trouble only.
func (t *Tracker) RecordActivity(address string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	cast, ok := t.casts[address]
	if !ok {
		return false
	}
	cast.LastActivity = time.Now()
	cast.ErrorCount = 0
	return true
}

// RecordError bumps the cast's error counter and returns the new count.
// The second return value is false when the device has no cast.
func (t *Tracker) RecordError(address string) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cast, ok := t.casts[address]
	if !ok {
		return 0, false
	}
	cast.ErrorCount++
	return cast.ErrorCount, true
}

// Get returns a copy of the cast running on a device
func (t *Tracker) Get(address string) (*types.Cast, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	cast, ok := t.casts[address]
	if !ok {
		return nil, false
	}
	copied := *cast
	return &copied, true
}

// ActiveCount returns the number of running casts
func (t *Tracker) ActiveCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.casts)
}

// SkipHealthCheck reports whether the device's cast opted out of
// responsiveness probes
func (t *Tracker) SkipHealthCheck(address string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	cast, ok := t.casts[address]
	return ok && cast.SkipHealthCheck
}

// Flagged reports whether the device's cast has crossed the error or
// inactivity limit. The reason string is empty when the cast is fine or
// the device has no cast.
func (t *Tracker) Flagged(address string, maxErrors int, maxInactivity time.Duration) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	cast, ok := t.casts[address]
	if !ok {
		return "", false
	}
	if maxErrors > 0 && cast.ErrorCount >= maxErrors {
		return fmt.Sprintf("cast error count reached %d", cast.ErrorCount), true
	}
	if maxInactivity > 0 {
		if idle := time.Since(cast.LastActivity); idle > maxInactivity {
			return fmt.Sprintf("cast inactive for %s", idle.Round(time.Second)), true
		}
	}
	return "", false
}
