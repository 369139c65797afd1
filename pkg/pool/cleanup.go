package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/vitrinehq/vitrine/pkg/renderer"
	"github.com/vitrinehq/vitrine/pkg/types"
)

// ReleaseDevice ends the device's cast and re-pools it behind a fresh
// idle session. The re-pool is synchronous: when ReleaseDevice returns
// nil the device is idle again. On failure the device parks in active,
// never idle, and waits for the health cycle.
func (p *Pool) ReleaseDevice(ctx context.Context, address string) error {
	if _, ok := p.registry.Get(address); !ok {
		return ErrUnknownDevice
	}

	// An in-flight recovery owns the session and has already aborted the
	// cast; there is nothing left to release
	if p.recovery.InFlight(address) {
		return nil
	}

	if !p.registry.BeginRecycle(address, types.DeviceStateActive) {
		return ErrNotActive
	}

	p.tracker.Stop(address, types.CastOutcomeCompleted)

	if err := p.recycle(ctx, address); err != nil {
		return fmt.Errorf("failed to re-pool device %s: %w", address, err)
	}
	return nil
}

// recycle tears down the device's current session and relaunches the
// idle page. The caller must have moved the device to closing first.
func (p *Pool) recycle(ctx context.Context, address string) error {
	device, ok := p.registry.Get(address)
	if !ok {
		return ErrUnknownDevice
	}

	session := p.registry.RemoveSession(address)
	if session != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), p.opts.CloseTimeout)
		closeErr := session.Close(closeCtx)
		cancel()
		if closeErr != nil {
			p.logger.Warn().Err(closeErr).Str("device", address).Msg("Graceful close failed")
			// The close path could not finish cleanly; sweep whatever
			// is still holding the profile dir
			if dir := p.launcher.ProfileDir(device); dir != "" {
				if pids, reapErr := renderer.ReapOrphans(dir); reapErr == nil && len(pids) > 0 {
					p.logger.Warn().Ints("pids", pids).Str("device", address).Msg("Killed orphaned renderer processes")
				}
			}
		}
	}

	sleepCtx(ctx, p.opts.SettleDelay)

	fresh, err := p.recovery.launchSession(ctx, device)
	if err != nil {
		// Park in active so the broken slot can never be acquired; the
		// monitor recovers it later
		p.registry.ForceActive(address)
		p.logger.Error().Err(err).Str("device", address).Msg("Re-pool failed, parking device")
		return err
	}

	p.registry.SwapSession(address, fresh)
	p.registry.SetHealth(address, types.HealthRecord{
		Healthy:   true,
		Message:   "re-pooled",
		CheckedAt: time.Now(),
	})
	p.registry.MarkIdle(address)
	p.watchSession(address, fresh)

	p.logger.Info().Str("device", address).Msg("Device re-pooled")
	return nil
}

// restartIdleSessions preventively recycles idle sessions while the pool
// is quiet. Long-lived renderer processes accumulate leaked state, so
// they get replaced right after a recovery while no casts are running.
// The pass stops as soon as a cast shows up.
func (p *Pool) restartIdleSessions(except string) {
	for _, device := range p.registry.Devices() {
		address := device.Address
		if address == except {
			continue
		}
		if p.stopped() {
			return
		}
		if p.tracker.ActiveCount() > 0 {
			return
		}
		if p.recovery.InFlight(address) {
			continue
		}

		// Freshly launched sessions have nothing to leak yet
		if snap, ok := p.registry.snapshot(address); ok && time.Since(snap.launchedAt) < time.Minute {
			continue
		}

		if !p.registry.BeginRecycle(address, types.DeviceStateIdle) {
			continue
		}
		if err := p.recycle(context.Background(), address); err != nil {
			p.logger.Warn().Err(err).Str("device", address).Msg("Preventive restart failed")
		}
	}
}
