// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package nmea_serial

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/adrianmo/go-nmea"
	"github.com/tarm/serial"

	"github.com/wneessen/waybar-location/internal/geobus"
	"github.com/wneessen/waybar-location/internal/logger"
)

const (
	name = "nmea"

	// knotsToMetersPerSecond converts the RMC speed over ground into m/s.
	knotsToMetersPerSecond = 0.514444
	// userEquivalentRangeError approximates the horizontal error of one HDOP unit in meters.
	userEquivalentRangeError = 5.0
	fallbackAccuracy         = 25
)

// GeolocationNMEAProvider reads NMEA 0183 sentences from a serial GPS receiver. GGA sentences
// provide the position, altitude and HDOP, RMC sentences the speed over ground.
type GeolocationNMEAProvider struct {
	name     string
	device   string
	logger   *logger.Logger
	period   time.Duration
	interval time.Duration
	ttl      time.Duration
	openFn   func() (io.ReadCloser, error)
}

// NewGeolocationNMEAProvider returns a provider reading from the serial device at the given
// baud rate.
func NewGeolocationNMEAProvider(device string, baud int, log *logger.Logger) *GeolocationNMEAProvider {
	provider := &GeolocationNMEAProvider{
		name:     name,
		device:   device,
		logger:   log,
		period:   time.Second * 30,
		interval: time.Second * 10,
		ttl:      time.Minute * 2,
	}
	provider.openFn = func() (io.ReadCloser, error) {
		return serial.OpenPort(&serial.Config{Name: device, Baud: baud, ReadTimeout: time.Second * 5})
	}
	return provider
}

func (p *GeolocationNMEAProvider) Name() string {
	return p.name
}

func (p *GeolocationNMEAProvider) LookupStream(ctx context.Context, key string) <-chan geobus.Result {
	out := make(chan geobus.Result)

	go func() {
		defer close(out)
		tracker := newSentenceTracker(key, p)

		for {
			if ctx.Err() != nil {
				return
			}

			port, err := p.openFn()
			if err != nil {
				p.logger.Debug("failed to open NMEA device", slog.String("device", p.device), logger.Err(err))
			} else {
				if !p.read(ctx, port, tracker, out) {
					return
				}
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

// read consumes sentences from port until it fails or ctx is cancelled. It reports false if
// the stream should stop.
func (p *GeolocationNMEAProvider) read(ctx context.Context, port io.ReadCloser, tracker *sentenceTracker,
	out chan<- geobus.Result,
) bool {
	var closeOnce sync.Once
	closePort := func() {
		closeOnce.Do(func() {
			if err := port.Close(); err != nil {
				p.logger.Debug("failed to close NMEA device", slog.String("device", p.device), logger.Err(err))
			}
		})
	}
	stop := context.AfterFunc(ctx, closePort)
	defer stop()
	defer closePort()

	scanner := bufio.NewScanner(port)
	for scanner.Scan() {
		res, ok := tracker.handle(scanner.Text())
		if !ok {
			continue
		}
		select {
		case <-ctx.Done():
			return false
		case out <- res:
		}
	}
	if ctx.Err() != nil {
		return false
	}
	if err := scanner.Err(); err != nil {
		p.logger.Debug("reading from NMEA device failed", slog.String("device", p.device), logger.Err(err))
	}
	return true
}

// sentenceTracker keeps the receiver state across sentences and produces a result per GGA
// sentence with a valid fix, throttled like the gpsd provider.
type sentenceTracker struct {
	key      string
	provider *GeolocationNMEAProvider
	state    geobus.GeolocationState
	lastEmit time.Time
	speed    float64
}

func newSentenceTracker(key string, provider *GeolocationNMEAProvider) *sentenceTracker {
	return &sentenceTracker{key: key, provider: provider}
}

func (t *sentenceTracker) handle(line string) (geobus.Result, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return geobus.Result{}, false
	}
	sentence, err := nmea.Parse(line)
	if err != nil {
		return geobus.Result{}, false
	}

	switch s := sentence.(type) {
	case nmea.RMC:
		if s.Validity == nmea.ValidRMC {
			t.speed = s.Speed * knotsToMetersPerSecond
		}
		return geobus.Result{}, false
	case nmea.GGA:
		return t.handleGGA(s)
	default:
		return geobus.Result{}, false
	}
}

func (t *sentenceTracker) handleGGA(gga nmea.GGA) (geobus.Result, bool) {
	if gga.FixQuality == nmea.Invalid || gga.FixQuality == "" {
		return geobus.Result{}, false
	}
	acc := fallbackAccuracy * 1.0
	if gga.HDOP > 0 {
		acc = gga.HDOP * userEquivalentRangeError
	}
	coord := geobus.Coordinate{
		Lat: geobus.Truncate(gga.Latitude, geobus.TruncPrecision),
		Lon: geobus.Truncate(gga.Longitude, geobus.TruncPrecision),
		Acc: acc,
	}
	if !coord.Valid() {
		return geobus.Result{}, false
	}

	now := time.Now()
	if !t.state.HasChanged(coord) && now.Sub(t.lastEmit) < t.provider.interval {
		return geobus.Result{}, false
	}
	t.state.Update(coord)
	t.lastEmit = now

	return geobus.Result{
		Key:            t.key,
		Lat:            coord.Lat,
		Lon:            coord.Lon,
		Alt:            gga.Altitude,
		Speed:          t.speed,
		AccuracyMeters: coord.Acc,
		Source:         t.provider.name,
		At:             now,
		TTL:            t.provider.ttl,
	}, true
}
