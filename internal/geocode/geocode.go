// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geocode

import (
	"context"

	"github.com/wneessen/waybar-location/internal/geobus"
)

// Address is the result of a reverse geocoding lookup. AddressFound is false if the provider
// answered but could not resolve the coordinate to a place.
type Address struct {
	AddressFound bool
	Latitude     float64
	Longitude    float64
	DisplayName  string
	Country      string
	State        string
	City         string
	Postcode     string
}

// Geocoder resolves coordinates to addresses.
type Geocoder interface {
	Name() string
	Reverse(ctx context.Context, coords geobus.Coordinate) (Address, error)
}
