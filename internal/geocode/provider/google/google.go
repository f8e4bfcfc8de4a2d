// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package google

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/language"
	"googlemaps.github.io/maps"

	"github.com/wneessen/waybar-location/internal/geobus"
	"github.com/wneessen/waybar-location/internal/geocode"
	"github.com/wneessen/waybar-location/internal/http"
)

const (
	APITimeout = time.Second * 10
	name       = "google"

	statusZeroResults = "ZERO_RESULTS"
)

type Google struct {
	client *maps.Client
	lang   language.Tag
}

// New returns a Google Geocoding API client that sends its requests through client.
func New(client *http.Client, lang language.Tag, apikey string) (*Google, error) {
	mapsClient, err := maps.NewClient(maps.WithAPIKey(apikey), maps.WithHTTPClient(client.Client))
	if err != nil {
		return nil, fmt.Errorf("failed to create Google Maps client: %w", err)
	}
	return &Google{
		client: mapsClient,
		lang:   lang,
	}, nil
}

func (g *Google) Name() string {
	return name
}

func (g *Google) Reverse(ctx context.Context, coords geobus.Coordinate) (geocode.Address, error) {
	ctx, cancel := context.WithTimeout(ctx, APITimeout)
	defer cancel()

	request := &maps.GeocodingRequest{
		LatLng:   &maps.LatLng{Lat: coords.Lat, Lng: coords.Lon},
		Language: g.lang.String(),
	}
	results, err := g.client.ReverseGeocode(ctx, request)
	if err != nil {
		if strings.Contains(err.Error(), statusZeroResults) {
			return geocode.Address{AddressFound: false}, nil
		}
		return geocode.Address{}, fmt.Errorf("failed to retrieve address details from Google Geocoding API: %w", err)
	}
	if len(results) == 0 {
		return geocode.Address{AddressFound: false}, nil
	}

	// results are ordered from most to least specific
	result := results[0]
	address := geocode.Address{
		AddressFound: true,
		Latitude:     result.Geometry.Location.Lat,
		Longitude:    result.Geometry.Location.Lng,
		DisplayName:  result.FormattedAddress,
	}
	for _, component := range result.AddressComponents {
		for _, kind := range component.Types {
			switch kind {
			case "country":
				address.Country = component.LongName
			case "administrative_area_level_1":
				address.State = component.LongName
			case "locality":
				address.City = component.LongName
			case "postal_town":
				if address.City == "" {
					address.City = component.LongName
				}
			case "postal_code":
				address.Postcode = component.LongName
			}
		}
	}

	return address, nil
}
