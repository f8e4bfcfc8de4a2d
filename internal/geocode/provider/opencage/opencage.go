// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package opencage

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"golang.org/x/text/language"

	"github.com/wneessen/waybar-location/internal/geobus"
	"github.com/wneessen/waybar-location/internal/geocode"
	"github.com/wneessen/waybar-location/internal/http"
)

const (
	APIEndpoint = "https://api.opencagedata.com/geocode/v1/json"
	APITimeout  = time.Second * 10
	name        = "opencage"
)

type OpenCage struct {
	apikey string
	http   *http.Client
	lang   language.Tag
}

type Response struct {
	Status       Status   `json:"status"`
	Results      []Result `json:"results"`
	TotalResults int      `json:"total_results"`
}

type Status struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type Result struct {
	Components  Components `json:"components"`
	DisplayName string     `json:"formatted"`
	Geometry    Geometry   `json:"geometry"`
}

type Components struct {
	NormalizedCity string `json:"_normalized_city"`
	City           string `json:"city"`
	Country        string `json:"country"`
	CountryCode    string `json:"country_code"`
	Postcode       string `json:"postcode"`
	State          string `json:"state"`
	StateCode      string `json:"state_code"`
	Region         string `json:"region"`
	Town           string `json:"town"`
	Village        string `json:"village"`
}

type Geometry struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lng"`
}

func New(client *http.Client, lang language.Tag, apikey string) *OpenCage {
	return &OpenCage{
		apikey: apikey,
		lang:   lang,
		http:   client,
	}
}

func (o *OpenCage) Name() string {
	return name
}

func (o *OpenCage) Reverse(ctx context.Context, coords geobus.Coordinate) (geocode.Address, error) {
	var response Response

	query := url.Values{}
	query.Set("key", o.apikey)
	query.Set("q", fmt.Sprintf("%f,%f", coords.Lat, coords.Lon))
	query.Set("no_annotations", "1")
	query.Set("no_record", "1")
	query.Set("limit", "1")
	query.Set("language", o.lang.String())

	status, err := o.http.GetWithTimeout(ctx, APIEndpoint, &response, query, nil, APITimeout)
	if err != nil {
		return geocode.Address{}, fmt.Errorf("failed to retrieve address details from OpenCage API: %w", err)
	}
	if status != 200 {
		return geocode.Address{}, fmt.Errorf("OpenCage API returned non-OK status: %d (%s)", status,
			response.Status.Message)
	}
	if response.TotalResults == 0 || len(response.Results) == 0 {
		return geocode.Address{AddressFound: false}, nil
	}
	if response.TotalResults > 1 {
		return geocode.Address{}, fmt.Errorf("ambiguous amount of results returned for coordinates: %d",
			response.TotalResults)
	}

	result := response.Results[0]
	components := result.Components
	address := geocode.Address{
		AddressFound: true,
		Latitude:     result.Geometry.Lat,
		Longitude:    result.Geometry.Lon,
		DisplayName:  result.DisplayName,
		Country:      components.Country,
		State:        components.State,
		Postcode:     components.Postcode,
		City:         components.NormalizedCity,
	}
	if address.State == "" {
		address.State = components.Region
	}
	if address.City == "" {
		address.City = components.City
	}
	if components.Town != "" {
		address.City = components.Town
	}
	if components.Village != "" {
		address.City = components.Village
	}

	return address, nil
}
