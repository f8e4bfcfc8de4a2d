// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geolocation_file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/wneessen/waybar-location/internal/geobus"
)

const (
	name = "geolocation_file"

	// Accuracy is the accuracy in meters assumed for a coordinate entered by hand.
	Accuracy = 10
)

var ErrNoCoordinates = errors.New("no valid coordinates found in geolocation file")

// GeolocationFileProvider periodically reads a fixed position from a file and emits it whenever
// it changes. The first line of the form "lat,lon" or "lat,lon,alt" is used; lines starting
// with "#" are comments.
type GeolocationFileProvider struct {
	name     string
	path     string
	period   time.Duration
	ttl      time.Duration
	locateFn func() (fix, error)
}

type fix struct {
	lat, lon, alt float64
}

func NewGeolocationFileProvider(path string) *GeolocationFileProvider {
	provider := &GeolocationFileProvider{
		name:   name,
		path:   path,
		period: time.Minute * 2,
		ttl:    time.Hour * 1,
	}
	provider.locateFn = provider.readFile
	return provider
}

func (p *GeolocationFileProvider) Name() string {
	return p.name
}

// LookupStream emits the file position on the first read and after every change until ctx
// is cancelled.
func (p *GeolocationFileProvider) LookupStream(ctx context.Context, key string) <-chan geobus.Result {
	out := make(chan geobus.Result)
	go func() {
		defer close(out)
		state := geobus.GeolocationState{}
		lastAlt := 0.0
		firstRun := true

		for {
			if !firstRun {
				select {
				case <-ctx.Done():
					return
				case <-time.After(p.period):
				}
			}
			firstRun = false

			pos, err := p.locateFn()
			if err != nil {
				continue
			}
			coord := geobus.Coordinate{Lat: pos.lat, Lon: pos.lon, Acc: Accuracy}
			if !coord.Valid() {
				continue
			}
			if !state.HasChanged(coord) && pos.alt == lastAlt {
				continue
			}
			state.Update(coord)
			lastAlt = pos.alt

			select {
			case <-ctx.Done():
				return
			case out <- p.createResult(key, coord, pos.alt):
			}
		}
	}()
	return out
}

func (p *GeolocationFileProvider) createResult(key string, coord geobus.Coordinate, alt float64) geobus.Result {
	return geobus.Result{
		Key:            key,
		Lat:            coord.Lat,
		Lon:            coord.Lon,
		Alt:            alt,
		AccuracyMeters: coord.Acc,
		Source:         p.name,
		At:             time.Now(),
		TTL:            p.ttl,
	}
}

func (p *GeolocationFileProvider) readFile() (fix, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fix{}, fmt.Errorf("failed to read geolocation file %q: %w", p.path, err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) != 2 && len(fields) != 3 {
			continue
		}
		values := make([]float64, len(fields))
		valid := true
		for i, field := range fields {
			if values[i], err = strconv.ParseFloat(strings.TrimSpace(field), 64); err != nil {
				valid = false
				break
			}
		}
		if !valid {
			continue
		}
		pos := fix{lat: values[0], lon: values[1]}
		if len(values) == 3 {
			pos.alt = values[2]
		}
		return pos, nil
	}
	return fix{}, ErrNoCoordinates
}
