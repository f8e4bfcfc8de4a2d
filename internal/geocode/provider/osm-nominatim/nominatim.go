// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package nominatim

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
	APIReverseEndpoint = "https://nominatim.openstreetmap.org/reverse"
	APITimeout         = time.Second * 10
	name               = "osm-nominatim"
)

type Nominatim struct {
	http     *http.Client
	lang     language.Tag
	endpoint string
}

type ReverseResult struct {
	Error       string  `json:"error"`
	APILat      string  `json:"lat"`
	APILon      string  `json:"lon"`
	Name        string  `json:"name"`
	DisplayName string  `json:"display_name"`
	Address     Address `json:"address"`
}

type Address struct {
	City     string `json:"city"`
	Town     string `json:"town"`
	Village  string `json:"village"`
	County   string `json:"county"`
	State    string `json:"state"`
	Region   string `json:"region"`
	Postcode string `json:"postcode"`
	Country  string `json:"country"`
}

func New(client *http.Client, lang language.Tag) *Nominatim {
	return &Nominatim{
		lang:     lang,
		http:     client,
		endpoint: APIReverseEndpoint,
	}
}

func (n *Nominatim) Name() string {
	return name
}

// Reverse resolves coords via the Nominatim reverse endpoint. A coordinate without a known place
// (e.g. in the middle of the ocean) returns an Address with AddressFound set to false.
func (n *Nominatim) Reverse(ctx context.Context, coords geobus.Coordinate) (geocode.Address, error) {
	var result ReverseResult
	var err error

	query := url.Values{}
	query.Set("format", "jsonv2")
	query.Set("lat", strconv.FormatFloat(coords.Lat, 'f', -1, 64))
	query.Set("lon", strconv.FormatFloat(coords.Lon, 'f', -1, 64))
	query.Set("accept-language", n.lang.String())

	status, err := n.http.GetWithTimeout(ctx, n.endpoint, &result, query, nil, APITimeout)
	if err != nil {
		return geocode.Address{}, fmt.Errorf("failed to fetch reverse address details from Nominatim API: %w", err)
	}
	if status != 200 {
		return geocode.Address{}, fmt.Errorf("nominatim API returned non-OK status: %d", status)
	}
	if result.Error != "" {
		return geocode.Address{AddressFound: false}, nil
	}

	address := geocode.Address{
		AddressFound: true,
		DisplayName:  result.DisplayName,
		Country:      result.Address.Country,
		State:        result.Address.State,
		Postcode:     result.Address.Postcode,
		City:         result.Address.City,
	}
	// city states like Berlin carry no state, some countries use regions instead
	if address.State == "" {
		address.State = result.Address.Region
	}
	if address.City == "" {
		address.City = result.Address.Town
	}
	if address.City == "" {
		address.City = result.Address.Village
	}
	address.Latitude, err = strconv.ParseFloat(result.APILat, 64)
	if err != nil {
		return geocode.Address{}, fmt.Errorf("failed to parse latitude from Nominatim API response: %w", err)
	}
	address.Longitude, err = strconv.ParseFloat(result.APILon, 64)
	if err != nil {
		return geocode.Address{}, fmt.Errorf("failed to parse longitude from Nominatim API response: %w", err)
	}

	return address, nil
}
