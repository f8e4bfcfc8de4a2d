// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package platform implements the location service of a Linux desktop: a file based permission
// store in front of the geolocation bus and its providers.
package platform

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/wneessen/waybar-location/internal/geobus"
	"github.com/wneessen/waybar-location/internal/location"
	"github.com/wneessen/waybar-location/internal/logger"
)

const subscriptionSize = 32

// Tracker runs the geolocation providers for key until ctx is cancelled.
type Tracker interface {
	Track(ctx context.Context, key string)
}

// Platform delivers location events to a single delegate. Providers only run while the user
// granted location access, so no reading is delivered in any other state.
type Platform struct {
	store        *PermissionStore
	bus          *geobus.GeoBus
	tracker      Tracker
	logger       *logger.Logger
	key          string
	pollInterval time.Duration

	mu             sync.Mutex
	state          location.AuthorizationState
	stateLoaded    bool
	delegate       location.Delegate
	ctx            context.Context
	stopTracking   context.CancelFunc
	trackingActive bool

	wg sync.WaitGroup
}

// New returns a Platform. The permission file is checked for external changes every
// pollInterval.
func New(store *PermissionStore, bus *geobus.GeoBus, tracker Tracker, log *logger.Logger, key string,
	pollInterval time.Duration,
) (*Platform, error) {
	switch {
	case store == nil:
		return nil, errors.New("permission store is required")
	case bus == nil:
		return nil, errors.New("geobus is required")
	case tracker == nil:
		return nil, errors.New("location tracker is required")
	case log == nil:
		return nil, errors.New("logger is required")
	case pollInterval <= 0:
		return nil, errors.New("permission poll interval must be positive")
	}
	return &Platform{
		store:        store,
		bus:          bus,
		tracker:      tracker,
		logger:       log,
		key:          key,
		pollInterval: pollInterval,
		state:        location.StateUndetermined,
	}, nil
}

// AuthorizationStatus returns the stored authorization state without prompting.
func (p *Platform) AuthorizationStatus() location.AuthorizationState {
	state := p.readStore()
	p.mu.Lock()
	p.state = state
	p.stateLoaded = true
	p.mu.Unlock()
	return state
}

// RequestWhenInUseAuthorization grants when-in-use access if the user has not decided yet.
// A decided state is left alone; changing it requires editing the permission file.
func (p *Platform) RequestWhenInUseAuthorization() {
	if current := p.readStore(); current != location.StateUndetermined {
		p.logger.Debug("location permission already determined, ignoring request",
			slog.String("authorization", current.String()))
		return
	}
	if err := p.store.Write(location.StateAuthorizedWhileInUse); err != nil {
		p.logger.Error("failed to store location permission", logger.Err(err))
		return
	}
	p.logger.Info("location permission granted", slog.String("authorization",
		location.StateAuthorizedWhileInUse.String()))
	p.apply(location.StateAuthorizedWhileInUse)
}

// StartUpdatingLocation registers delegate and starts delivering events until ctx is cancelled.
// The permission file is read first if AuthorizationStatus was never called.
func (p *Platform) StartUpdatingLocation(ctx context.Context, delegate location.Delegate) {
	p.mu.Lock()
	loaded := p.stateLoaded
	p.mu.Unlock()
	if !loaded {
		state := p.readStore()
		p.mu.Lock()
		if !p.stateLoaded {
			p.state = state
			p.stateLoaded = true
		}
		p.mu.Unlock()
	}

	p.mu.Lock()
	p.ctx = ctx
	p.delegate = delegate
	if p.state.IsAuthorized() {
		p.startTrackingLocked()
	}
	p.mu.Unlock()

	sub, unsub := p.bus.Subscribe(p.key, subscriptionSize)
	p.wg.Go(func() {
		defer unsub()
		p.deliverReadings(ctx, sub)
	})
	p.wg.Go(func() {
		p.watchPermission(ctx)
	})
}

// Wait blocks until all goroutines started by StartUpdatingLocation have returned.
func (p *Platform) Wait() {
	p.wg.Wait()
}

// deliverReadings forwards bus results to the delegate. Results that queued up while the
// delegate was busy are handed over as one batch.
func (p *Platform) deliverReadings(ctx context.Context, sub <-chan geobus.Result) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-sub:
			if !ok {
				return
			}
			batch := []location.Reading{location.ReadingFromResult(r)}
		drain:
			for {
				select {
				case next, ok := <-sub:
					if !ok {
						break drain
					}
					batch = append(batch, location.ReadingFromResult(next))
				default:
					break drain
				}
			}

			p.mu.Lock()
			authorized := p.state.IsAuthorized()
			delegate := p.delegate
			p.mu.Unlock()
			if !authorized {
				p.logger.Debug("dropping location update without authorization", slog.Int("readings", len(batch)))
				continue
			}
			p.logger.Debug("received geolocation update", slog.Float64("lat", r.Lat),
				slog.Float64("lon", r.Lon), slog.String("source", r.Source), slog.Int("batch", len(batch)))
			delegate.DidUpdateLocations(batch)
		}
	}
}

// watchPermission picks up changes to the permission file made outside the module.
func (p *Platform) watchPermission(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.stopTrackingLocked()
			p.mu.Unlock()
			return
		case <-ticker.C:
			p.apply(p.readStore())
		}
	}
}

// apply stores state, starts or stops the providers accordingly and informs the delegate.
func (p *Platform) apply(state location.AuthorizationState) {
	p.mu.Lock()
	if state == p.state {
		p.mu.Unlock()
		return
	}
	p.state = state
	p.stateLoaded = true
	delegate := p.delegate
	if state.IsAuthorized() {
		p.startTrackingLocked()
	} else {
		p.stopTrackingLocked()
	}
	p.mu.Unlock()

	p.logger.Debug("location authorization changed", slog.String("authorization", state.String()))
	if delegate != nil {
		delegate.DidChangeAuthorization(state)
	}
}

func (p *Platform) startTrackingLocked() {
	if p.trackingActive || p.ctx == nil || p.ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithCancel(p.ctx)
	p.stopTracking = cancel
	p.trackingActive = true
	p.logger.Debug("starting geolocation providers")
	p.wg.Go(func() {
		p.tracker.Track(ctx, p.key)
	})
}

func (p *Platform) stopTrackingLocked() {
	if !p.trackingActive {
		return
	}
	p.stopTracking()
	p.stopTracking = nil
	p.trackingActive = false
	p.logger.Debug("stopped geolocation providers")
}

func (p *Platform) readStore() location.AuthorizationState {
	state, err := p.store.Read()
	if err != nil {
		p.logger.Warn("failed to read location permission", logger.Err(err))
	}
	return state
}
