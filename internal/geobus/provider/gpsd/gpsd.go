// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package gpsd

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/stratoberry/go-gpsd"

	"github.com/wneessen/waybar-location/internal/geobus"
	"github.com/wneessen/waybar-location/internal/logger"
)

const (
	name = "gpsd"

	fallbackAccuracy3DFix = 10 // typical consumer GPS in open sky
	fallbackAccuracy2DFix = 25
)

// GeolocationGPSDProvider streams TPV reports of a gpsd daemon. Next to the position, gpsd
// reports altitude and ground speed, which are passed on unchanged.
type GeolocationGPSDProvider struct {
	name     string
	addr     string
	logger   *logger.Logger
	period   time.Duration
	interval time.Duration
	ttl      time.Duration
}

// NewGeolocationGPSDProvider returns a provider for the gpsd daemon listening on addr
// (host:port).
func NewGeolocationGPSDProvider(addr string, log *logger.Logger) *GeolocationGPSDProvider {
	return &GeolocationGPSDProvider{
		name:     name,
		addr:     addr,
		logger:   log,
		period:   time.Second * 30,
		interval: time.Second * 10,
		ttl:      time.Minute * 2,
	}
}

func (p *GeolocationGPSDProvider) Name() string {
	return p.name
}

func (p *GeolocationGPSDProvider) LookupStream(ctx context.Context, key string) <-chan geobus.Result {
	out := make(chan geobus.Result)

	go func() {
		defer close(out)
		tracker := newTPVTracker(key, p)

		for {
			if ctx.Err() != nil {
				return
			}

			session, err := gpsd.Dial(p.addr)
			if err != nil {
				p.logger.Debug("failed to connect to gpsd", slog.String("addr", p.addr), logger.Err(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(p.period):
					continue
				}
			}

			session.AddFilter("TPV", func(r interface{}) {
				tpv, ok := r.(*gpsd.TPVReport)
				if !ok {
					return
				}
				res, ok := tracker.handle(tpv)
				if !ok {
					return
				}
				select {
				case <-ctx.Done():
				case out <- res:
				}
			})

			// the channel closes when the connection is lost
			done := session.Watch()
			select {
			case <-ctx.Done():
				return
			case <-done:
				p.logger.Debug("gpsd connection lost, reconnecting", slog.String("addr", p.addr))
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(p.period):
			}
		}
	}()

	return out
}

// tpvTracker turns TPV reports into results. A result is produced for the first fix, for every
// significant position change and otherwise at most once per interval.
type tpvTracker struct {
	mu       sync.Mutex
	key      string
	provider *GeolocationGPSDProvider
	state    geobus.GeolocationState
	lastEmit time.Time
}

func newTPVTracker(key string, provider *GeolocationGPSDProvider) *tpvTracker {
	return &tpvTracker{key: key, provider: provider}
}

func (t *tpvTracker) handle(tpv *gpsd.TPVReport) (geobus.Result, bool) {
	if tpv.Mode < gpsd.Mode2D {
		return geobus.Result{}, false
	}
	coord := geobus.Coordinate{
		Lat: geobus.Truncate(tpv.Lat, geobus.TruncPrecision),
		Lon: geobus.Truncate(tpv.Lon, geobus.TruncPrecision),
		Acc: geobus.Truncate(horizontalAccuracy(tpv), geobus.TruncPrecision),
	}
	if !coord.Valid() {
		return geobus.Result{}, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	if !t.state.HasChanged(coord) && now.Sub(t.lastEmit) < t.provider.interval {
		return geobus.Result{}, false
	}
	t.state.Update(coord)
	t.lastEmit = now

	alt := 0.0
	if tpv.Mode == gpsd.Mode3D {
		alt = tpv.Alt
	}
	return geobus.Result{
		Key:            t.key,
		Lat:            coord.Lat,
		Lon:            coord.Lon,
		Alt:            alt,
		Speed:          math.Max(tpv.Speed, 0),
		AccuracyMeters: coord.Acc,
		Source:         t.provider.name,
		At:             now,
		TTL:            t.provider.ttl,
	}, true
}

// horizontalAccuracy estimates the horizontal error in meters from the longitude and latitude
// error estimates, falling back to typical values per fix mode.
func horizontalAccuracy(tpv *gpsd.TPVReport) float64 {
	if tpv.Epx > 0 && tpv.Epy > 0 {
		return math.Hypot(tpv.Epx, tpv.Epy)
	}
	if tpv.Mode == gpsd.Mode3D {
		return fallbackAccuracy3DFix
	}
	return fallbackAccuracy2DFix
}
