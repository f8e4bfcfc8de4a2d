// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geoapi

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/wneessen/waybar-location/internal/geobus"
	"github.com/wneessen/waybar-location/internal/http"
)

const (
	APIEndpoint   = "https://geoapi.info/api/geo"
	LookupTimeout = time.Second * 5
	name          = "geoapi"
)

// GeolocationGeoAPIProvider is a second IP based provider. The API reports coordinates as strings.
type GeolocationGeoAPIProvider struct {
	name     string
	http     *http.Client
	period   time.Duration
	ttl      time.Duration
	locateFn func(ctx context.Context) (geobus.Coordinate, error)
}

type APIResult struct {
	IP       string `json:"ip"`
	Location struct {
		CountryCode string `json:"country,omitempty"`
		Country     string `json:"countryName,omitempty"`
		Region      string `json:"region,omitempty"`
		City        string `json:"city,omitempty"`
		ZipCode     string `json:"postalCode,omitempty"`
		TimeZone    string `json:"timezone"`
		Coordinates struct {
			Latitude  string `json:"latitude"`
			Longitude string `json:"longitude"`
		} `json:"coordinates"`
	} `json:"location"`
}

func NewGeolocationGeoAPIProvider(client *http.Client) (*GeolocationGeoAPIProvider, error) {
	if client == nil {
		return nil, errors.New("http client is required")
	}
	provider := &GeolocationGeoAPIProvider{
		name:   name,
		http:   client,
		period: time.Minute * 10,
		ttl:    time.Hour * 2,
	}
	provider.locateFn = provider.locate
	return provider, nil
}

func (p *GeolocationGeoAPIProvider) Name() string {
	return p.name
}

// LookupStream queries the API every period and emits a result whenever the position changed.
func (p *GeolocationGeoAPIProvider) LookupStream(ctx context.Context, key string) <-chan geobus.Result {
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

func (p *GeolocationGeoAPIProvider) createResult(key string, coord geobus.Coordinate) geobus.Result {
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

func (p *GeolocationGeoAPIProvider) locate(ctx context.Context) (geobus.Coordinate, error) {
	result := new(APIResult)
	status, err := p.http.GetWithTimeout(ctx, APIEndpoint, result, nil, nil, LookupTimeout)
	if err != nil {
		return geobus.Coordinate{}, fmt.Errorf("failed to get geolocation data from API: %w", err)
	}
	if status != 200 {
		return geobus.Coordinate{}, fmt.Errorf("GeoAPI returned non-OK status: %d", status)
	}

	acc := float64(geobus.AccuracyUnknown)
	if result.Location.CountryCode != "" {
		acc = geobus.AccuracyCountry
	}
	if result.Location.Region != "" {
		acc = geobus.AccuracyRegion
	}
	if result.Location.City != "" {
		acc = geobus.AccuracyCity
	}
	if result.Location.ZipCode != "" {
		acc = geobus.AccuracyZip
	}

	lat, err := strconv.ParseFloat(result.Location.Coordinates.Latitude, 64)
	if err != nil {
		return geobus.Coordinate{}, fmt.Errorf("failed to parse latitude from API response: %w", err)
	}
	lon, err := strconv.ParseFloat(result.Location.Coordinates.Longitude, 64)
	if err != nil {
		return geobus.Coordinate{}, fmt.Errorf("failed to parse longitude from API response: %w", err)
	}

	return geobus.Coordinate{
		Lat: geobus.Truncate(lat, geobus.TruncPrecision),
		Lon: geobus.Truncate(lon, geobus.TruncPrecision),
		Acc: acc,
	}, nil
}
