// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geocodeearth

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/text/language"

	"github.com/wneessen/waybar-location/internal/geobus"
	"github.com/wneessen/waybar-location/internal/geocode"
	"github.com/wneessen/waybar-location/internal/http"
)

const (
	APIEndpoint = "https://api.geocode.earth/v1/reverse"
	APITimeout  = time.Second * 10
	name        = "geocode-earth"
)

type GeocodeEarth struct {
	apikey string
	http   *http.Client
	lang   language.Tag
}

type Response struct {
	Features []Feature `json:"features"`
	Type     string    `json:"type"`
}

type Feature struct {
	Geometry   Geometry   `json:"geometry"`
	Properties Properties `json:"properties"`
}

// Geometry holds a GeoJSON point, longitude first.
type Geometry struct {
	Coordinates []float64 `json:"coordinates"`
}

type Properties struct {
	DisplayName  string `json:"label"`
	Locality     string `json:"locality"`
	LocalAdmin   string `json:"localadmin"`
	County       string `json:"county"`
	Country      string `json:"country"`
	CountryCode  string `json:"country_code"`
	Postcode     string `json:"postalcode"`
	State        string `json:"region"`
	Neighborhood string `json:"neighbourhood"`
}

func New(client *http.Client, lang language.Tag, apikey string) *GeocodeEarth {
	return &GeocodeEarth{
		apikey: apikey,
		lang:   lang,
		http:   client,
	}
}

func (g *GeocodeEarth) Name() string {
	return name
}

func (g *GeocodeEarth) Reverse(ctx context.Context, coords geobus.Coordinate) (geocode.Address, error) {
	var response Response

	query := url.Values{}
	query.Set("api_key", g.apikey)
	query.Set("point.lat", strconv.FormatFloat(coords.Lat, 'f', -1, 64))
	query.Set("point.lon", strconv.FormatFloat(coords.Lon, 'f', -1, 64))
	query.Set("size", "1")
	query.Set("lang", g.lang.String())

	code, err := g.http.GetWithTimeout(ctx, APIEndpoint, &response, query, nil, APITimeout)
	if err != nil {
		return geocode.Address{}, fmt.Errorf("failed to retrieve address details from geocode.earth API: %w", err)
	}
	if code != 200 {
		return geocode.Address{}, fmt.Errorf("received non-positive response code from geocode.earth API: %d", code)
	}
	if len(response.Features) == 0 {
		return geocode.Address{AddressFound: false}, nil
	}

	feature := response.Features[0]
	props := feature.Properties
	address := geocode.Address{
		AddressFound: true,
		Latitude:     coords.Lat,
		Longitude:    coords.Lon,
		DisplayName:  props.DisplayName,
		Country:      props.Country,
		State:        props.State,
		Postcode:     props.Postcode,
		City:         props.Locality,
	}
	if len(feature.Geometry.Coordinates) == 2 {
		address.Longitude = feature.Geometry.Coordinates[0]
		address.Latitude = feature.Geometry.Coordinates[1]
	}
	if address.City == "" {
		address.City = props.LocalAdmin
	}
	if address.City == "" {
		address.City = props.County
	}

	return address, nil
}
