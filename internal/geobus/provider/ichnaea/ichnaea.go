// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package ichnaea

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mdlayher/wifi"

	"github.com/wneessen/waybar-location/internal/geobus"
	"github.com/wneessen/waybar-location/internal/http"
)

const (
	apiEndpoint   = "https://api.beacondb.net/v1/geolocate"
	lookupTimeout = time.Second * 5
	wifiScanTime  = time.Minute * 2
	name          = "ichnaea"
)

// scanner is the part of the wifi client used for access point discovery.
type scanner interface {
	Interfaces() ([]*wifi.Interface, error)
	AccessPoints(ifi *wifi.Interface) ([]*wifi.BSS, error)
}

// GeolocationICHNAEAProvider locates the device through an ICHNAEA compatible geolocation API
// (BeaconDB) using the nearby WiFi access points and the public IP address.
type GeolocationICHNAEAProvider struct {
	name     string
	http     *http.Client
	wlan     scanner
	period   time.Duration
	ttl      time.Duration
	locateFn func(ctx context.Context) (geobus.Coordinate, error)

	apLock sync.RWMutex
	aps    []WirelessNetwork
}

type APIResult struct {
	Location struct {
		Latitude  float64 `json:"lat"`
		Longitude float64 `json:"lng"`
	} `json:"location"`
	Accuracy float64 `json:"accuracy"`
	Error    *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type WirelessNetwork struct {
	LastSeen       int64  `json:"age"`
	MACAddress     string `json:"macAddress"`
	SignalStrength int32  `json:"signalStrength"`
}

type request struct {
	ConsiderIP   bool              `json:"considerIp"`
	Accesspoints []WirelessNetwork `json:"wifiAccessPoints,omitempty"`
}

func NewGeolocationICHNAEAProvider(http *http.Client) (*GeolocationICHNAEAProvider, error) {
	if http == nil {
		return nil, errors.New("http client is required")
	}
	wlan, err := wifi.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create wifi client: %w", err)
	}
	return newProvider(http, wlan), nil
}

func newProvider(http *http.Client, wlan scanner) *GeolocationICHNAEAProvider {
	provider := &GeolocationICHNAEAProvider{
		name:   name,
		http:   http,
		wlan:   wlan,
		period: time.Minute * 5,
		ttl:    time.Hour * 1,
	}
	provider.locateFn = provider.locate
	return provider
}

func (p *GeolocationICHNAEAProvider) Name() string {
	return p.name
}

// LookupStream queries the geolocation API periodically and emits every significant position
// change until ctx is cancelled.
func (p *GeolocationICHNAEAProvider) LookupStream(ctx context.Context, key string) <-chan geobus.Result {
	out := make(chan geobus.Result)
	go p.monitorWifiAccessPoints(ctx)
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

func (p *GeolocationICHNAEAProvider) createResult(key string, coord geobus.Coordinate) geobus.Result {
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

func (p *GeolocationICHNAEAProvider) monitorWifiAccessPoints(ctx context.Context) {
	firstRun := true
	for {
		if !firstRun {
			select {
			case <-ctx.Done():
				return
			case <-time.After(wifiScanTime):
			}
		}
		firstRun = false

		list, err := p.wifiAccessPoints()
		if err != nil {
			continue
		}
		p.apLock.Lock()
		p.aps = list
		p.apLock.Unlock()
	}
}

func (p *GeolocationICHNAEAProvider) wifiAccessPoints() ([]WirelessNetwork, error) {
	ifaces, err := p.wlan.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}

	var list []WirelessNetwork
	for _, iface := range ifaces {
		if iface.Type != wifi.InterfaceTypeStation {
			continue
		}
		aps, err := p.wlan.AccessPoints(iface)
		if err != nil {
			continue
		}
		list = append(list, wirelessNetworks(aps)...)
	}
	return list, nil
}

// wirelessNetworks converts scan results into API access point entries. Hidden networks and
// networks that opted out of location services ("_nomap") are skipped.
func wirelessNetworks(aps []*wifi.BSS) []WirelessNetwork {
	list := make([]WirelessNetwork, 0, len(aps))
	for _, ap := range aps {
		if ap.SSID == "" || ap.SSID[0] == '\x00' || strings.HasSuffix(ap.SSID, "_nomap") {
			continue
		}
		list = append(list, WirelessNetwork{
			SignalStrength: ap.Signal / 100,
			MACAddress:     ap.BSSID.String(),
			LastSeen:       ap.LastSeen.Milliseconds(),
		})
	}
	return list
}

func (p *GeolocationICHNAEAProvider) locate(ctx context.Context) (geobus.Coordinate, error) {
	p.apLock.RLock()
	req := request{
		ConsiderIP:   true,
		Accesspoints: p.aps,
	}
	p.apLock.RUnlock()

	body := bytes.NewBuffer(nil)
	if err := json.NewEncoder(body).Encode(req); err != nil {
		return geobus.Coordinate{}, fmt.Errorf("failed to encode wifi list to JSON: %w", err)
	}

	result := new(APIResult)
	status, err := p.http.PostWithTimeout(ctx, apiEndpoint, result, body,
		map[string]string{"Content-Type": "application/json"}, lookupTimeout)
	if err != nil {
		return geobus.Coordinate{}, fmt.Errorf("failed to get geolocation data from API: %w", err)
	}
	if result.Error != nil {
		return geobus.Coordinate{}, fmt.Errorf("geolocation API returned error %d: %s", result.Error.Code,
			result.Error.Message)
	}
	if status != 200 {
		return geobus.Coordinate{}, fmt.Errorf("geolocation API returned non-OK status: %d", status)
	}

	return geobus.Coordinate{
		Lat: geobus.Truncate(result.Location.Latitude, geobus.TruncPrecision),
		Lon: geobus.Truncate(result.Location.Longitude, geobus.TruncPrecision),
		Acc: geobus.Truncate(result.Accuracy, geobus.TruncPrecision),
	}, nil
}
