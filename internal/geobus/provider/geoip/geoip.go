// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geoip

import (
	"context"
	"fmt"
	"time"

	"github.com/wneessen/waybar-location/internal/geobus"
	"github.com/wneessen/waybar-location/internal/http"
)

const (
	APIEndpoint   = "https://reallyfreegeoip.org/json/"
	LookupTimeout = time.Second * 5
	name          = "geoip"
)

// GeolocationGeoIPProvider locates the device by the public IP address. The accuracy is
// derived from the most specific place the API knows for the address.
type GeolocationGeoIPProvider struct {
	name     string
	http     *http.Client
	period   time.Duration
	ttl      time.Duration
	locateFn func(ctx context.Context) (geobus.Coordinate, error)
}

type APIResult struct {
	IP          string  `json:"ip"`
	CountryCode string  `json:"country_code"`
	Country     string  `json:"country_name"`
	RegionCode  string  `json:"region_code,omitempty"`
	Region      string  `json:"region_name,omitempty"`
	City        string  `json:"city,omitempty"`
	ZipCode     string  `json:"zip_code,omitempty"`
	TimeZone    string  `json:"time_zone"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
}

func NewGeolocationGeoIPProvider(http *http.Client) *GeolocationGeoIPProvider {
	provider := &GeolocationGeoIPProvider{
		name:   name,
		http:   http,
		period: 30 * time.Minute,
		ttl:    60 * time.Minute,
	}
	provider.locateFn = provider.locate
	return provider
}

func (p *GeolocationGeoIPProvider) Name() string {
	return p.name
}

// LookupStream queries the GeoIP API periodically and emits every significant position change
// until ctx is cancelled.
func (p *GeolocationGeoIPProvider) LookupStream(ctx context.Context, key string) <-chan geobus.Result {
	out := make(chan geobus.Result)
	go func() {
		defer close(out)
		state := geobus.GeolocationState{}
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

			coord, err := p.locateFn(ctx)
			if err != nil {
				continue
			}
			if !state.HasChanged(coord) {
				continue
			}
			state.Update(coord)

			select {
			case <-ctx.Done():
				return
			case out <- p.createResult(key, coord):
			}
		}
	}()
	return out
}

func (p *GeolocationGeoIPProvider) createResult(key string, coord geobus.Coordinate) geobus.Result {
	return geobus.Result{
		Key:            key,
		Lat:            coord.Lat,
		Lon:            coord.Lon,
		AccuracyMeters: coord.Acc,
		Source:         p.name,
		At:             time.Now(),
		TTL:            p.ttl,
	}
}

func (p *GeolocationGeoIPProvider) locate(ctx context.Context) (geobus.Coordinate, error) {
	result := new(APIResult)
	status, err := p.http.GetWithTimeout(ctx, APIEndpoint, result, nil, nil, LookupTimeout)
	if err != nil {
		return geobus.Coordinate{}, fmt.Errorf("failed to get geolocation data from API: %w", err)
	}
	if status != 200 {
		return geobus.Coordinate{}, fmt.Errorf("GeoIP API returned non-OK status: %d", status)
	}
	if result.CountryCode == "" {
		return geobus.Coordinate{}, fmt.Errorf("no location known for IP address %q", result.IP)
	}

	acc := float64(geobus.AccuracyCountry)
	if result.RegionCode != "" {
		acc = geobus.AccuracyRegion
	}
	if result.City != "" {
		acc = geobus.AccuracyCity
	}
	if result.ZipCode != "" {
		acc = geobus.AccuracyZip
	}

	return geobus.Coordinate{
		Lat: geobus.Truncate(result.Latitude, geobus.TruncPrecision),
		Lon: geobus.Truncate(result.Longitude, geobus.TruncPrecision),
		Acc: acc,
	}, nil
}
