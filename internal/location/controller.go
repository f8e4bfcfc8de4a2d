// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package location

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wneessen/waybar-location/internal/geocode"
	"github.com/wneessen/waybar-location/internal/logger"
	"github.com/wneessen/waybar-location/internal/observability"
	"github.com/wneessen/waybar-location/internal/vartype"
)

// Snapshot is a copy of the controller state at one point in time.
type Snapshot struct {
	State     AuthorizationState
	Reading   vartype.Variable[Reading]
	Placemark vartype.Variable[Placemark]
}

// Controller bridges a Platform and a Geocoder to a small observable state. It owns the
// authorization state, the latest reading and the latest placemark.
type Controller struct {
	platform Platform
	geocoder geocode.Geocoder
	logger   *logger.Logger
	metrics  *observability.Metrics

	mu         sync.RWMutex
	ctx        context.Context
	state      AuthorizationState
	reading    vartype.Variable[Reading]
	placemark  vartype.Variable[Placemark]
	generation uint64

	listenerLock sync.RWMutex
	listeners    map[uint64]func(Snapshot)
	nextListener uint64

	lookups sync.WaitGroup
}

// NewController returns a Controller for the given platform and geocoder. metrics may be nil.
func NewController(platform Platform, geocoder geocode.Geocoder, log *logger.Logger,
	metrics *observability.Metrics,
) (*Controller, error) {
	if platform == nil {
		return nil, errors.New("location platform is required")
	}
	if geocoder == nil {
		return nil, errors.New("geocoder is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	return &Controller{
		platform:  platform,
		geocoder:  geocoder,
		logger:    log,
		metrics:   metrics,
		ctx:       context.Background(),
		state:     StateUndetermined,
		listeners: make(map[uint64]func(Snapshot)),
	}, nil
}

// Initialize reads the current authorization state without prompting and starts receiving
// platform events. Reverse geocoding lookups are bound to ctx.
func (c *Controller) Initialize(ctx context.Context) {
	state := c.platform.AuthorizationStatus()
	c.mu.Lock()
	c.ctx = ctx
	c.state = state
	c.mu.Unlock()
	c.observeState(state)
	c.logger.Debug("location controller initialized", slog.String("authorization", state.String()))

	c.platform.StartUpdatingLocation(ctx, c)
	c.notify()
}

// RequestPermission asks the platform for when-in-use authorization. The result arrives
// through DidChangeAuthorization.
func (c *Controller) RequestPermission() {
	c.logger.Debug("requesting location permission")
	c.platform.RequestWhenInUseAuthorization()
}

// DidChangeAuthorization replaces the stored authorization state.
func (c *Controller) DidChangeAuthorization(state AuthorizationState) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
	c.observeState(state)
	c.logger.Debug("location authorization changed", slog.String("authorization", state.String()))

	c.notify()
}

// DidUpdateLocations stores the most recent reading of the batch and starts a reverse geocoding
// lookup for it. Older readings of the same batch are discarded.
func (c *Controller) DidUpdateLocations(readings []Reading) {
	if len(readings) == 0 {
		return
	}
	latest := readings[0]
	for _, r := range readings[1:] {
		if r.Timestamp.After(latest.Timestamp) {
			latest = r
		}
	}

	c.mu.Lock()
	c.reading.Set(latest)
	c.generation++
	generation := c.generation
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.LocationUpdates.Inc()
	}
	c.logger.Debug("location reading updated", slog.Float64("lat", latest.Latitude),
		slog.Float64("lon", latest.Longitude), slog.String("source", latest.Source))

	c.notify()
	c.lookupPlacemark(latest, generation)
}

// Refresh issues a new reverse geocoding lookup for the current reading, if any.
func (c *Controller) Refresh() {
	c.mu.Lock()
	if !c.reading.IsSet() {
		c.mu.Unlock()
		return
	}
	reading := c.reading.Value()
	c.generation++
	generation := c.generation
	c.mu.Unlock()

	c.lookupPlacemark(reading, generation)
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		State:     c.state,
		Reading:   c.reading,
		Placemark: c.placemark,
	}
}

// Subscribe registers fn to be called with a fresh Snapshot after every state change. fn is
// called synchronously on the goroutine that changed the state. The returned function removes
// the listener.
func (c *Controller) Subscribe(fn func(Snapshot)) func() {
	c.listenerLock.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn
	c.listenerLock.Unlock()

	return func() {
		c.listenerLock.Lock()
		delete(c.listeners, id)
		c.listenerLock.Unlock()
	}
}

// Wait blocks until all started reverse geocoding lookups have finished.
func (c *Controller) Wait() {
	c.lookups.Wait()
}

// lookupPlacemark resolves the coordinate of reading in the background.
func (c *Controller) lookupPlacemark(reading Reading, generation uint64) {
	coords := reading.Coordinate()
	if !coords.Valid() {
		c.logger.Debug("skipping reverse geocoding of invalid coordinate", slog.Float64("lat", coords.Lat),
			slog.Float64("lon", coords.Lon))
		return
	}

	c.mu.RLock()
	ctx := c.ctx
	c.mu.RUnlock()

	c.lookups.Go(func() {
		address, err := c.geocoder.Reverse(ctx, coords)
		if err == nil && !address.AddressFound {
			err = fmt.Errorf("no address found for %f,%f", coords.Lat, coords.Lon)
		}
		c.applyPlacemark(generation, address, err)
	})
}

// applyPlacemark stores the result of a lookup. Failed lookups and lookups for superseded
// readings leave the stored placemark untouched.
func (c *Controller) applyPlacemark(generation uint64, address geocode.Address, err error) {
	if err != nil {
		c.countGeocode(observability.OutcomeError)
		c.logger.Debug("reverse geocoding failed, keeping previous placemark", logger.Err(err),
			slog.String("geocoder", c.geocoder.Name()))
		return
	}

	c.mu.Lock()
	if generation != c.generation {
		c.mu.Unlock()
		c.countGeocode(observability.OutcomeStale)
		c.logger.Debug("discarding reverse geocoding result of superseded reading",
			slog.Uint64("generation", generation))
		return
	}
	c.placemark.Set(Placemark{
		Country:     address.Country,
		Area:        address.State,
		City:        address.City,
		DisplayName: address.DisplayName,
	})
	c.mu.Unlock()
	c.countGeocode(observability.OutcomeSuccess)
	c.logger.Debug("placemark updated", slog.String("country", address.Country),
		slog.String("area", address.State))

	c.notify()
}

func (c *Controller) notify() {
	snap := c.Snapshot()
	c.listenerLock.RLock()
	listeners := make([]func(Snapshot), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.listenerLock.RUnlock()

	for _, fn := range listeners {
		fn(snap)
	}
}

func (c *Controller) observeState(state AuthorizationState) {
	if c.metrics == nil {
		return
	}
	c.metrics.SetAuthorizationState(state.String(), States())
}

func (c *Controller) countGeocode(outcome string) {
	if c.metrics == nil {
		return
	}
	c.metrics.GeocodeRequests.WithLabelValues(outcome).Inc()
}
