// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/language"

	"github.com/wneessen/waybar-location/internal/config"
	"github.com/wneessen/waybar-location/internal/geobus"
	"github.com/wneessen/waybar-location/internal/geobus/provider/geoapi"
	"github.com/wneessen/waybar-location/internal/geobus/provider/geoip"
	"github.com/wneessen/waybar-location/internal/geobus/provider/geolocation_file"
	"github.com/wneessen/waybar-location/internal/geobus/provider/gpsd"
	"github.com/wneessen/waybar-location/internal/geobus/provider/ichnaea"
	"github.com/wneessen/waybar-location/internal/geobus/provider/nmea_serial"
	"github.com/wneessen/waybar-location/internal/geocode"
	geocodeearth "github.com/wneessen/waybar-location/internal/geocode/provider/geocode-earth"
	"github.com/wneessen/waybar-location/internal/geocode/provider/google"
	"github.com/wneessen/waybar-location/internal/geocode/provider/opencage"
	nominatim "github.com/wneessen/waybar-location/internal/geocode/provider/osm-nominatim"
	"github.com/wneessen/waybar-location/internal/http"
	"github.com/wneessen/waybar-location/internal/logger"
)

func (s *Service) selectGeobusProviders() ([]geobus.Provider, error) {
	httpClient := http.New(s.logger)
	var provider []geobus.Provider

	if !s.config.GeoLocation.DisableGeolocationFile {
		provider = append(provider, geolocation_file.NewGeolocationFileProvider(s.config.GeoLocation.File))
	}

	if !s.config.GeoLocation.DisableGPSD {
		provider = append(provider, gpsd.NewGeolocationGPSDProvider(s.config.GeoLocation.GPSDAddress, s.logger))
	}

	if s.config.GeoLocation.NMEADevice != "" {
		provider = append(provider, nmea_serial.NewGeolocationNMEAProvider(s.config.GeoLocation.NMEADevice,
			s.config.GeoLocation.NMEABaudRate, s.logger))
	}

	if !s.config.GeoLocation.DisableGeoIP {
		provider = append(provider, geoip.NewGeolocationGeoIPProvider(httpClient))
	}

	if !s.config.GeoLocation.DisableGeoAPI {
		geoAPI, err := geoapi.NewGeolocationGeoAPIProvider(httpClient)
		if err != nil {
			s.logger.Error("failed to create GeoAPI provider", logger.Err(err))
		} else {
			provider = append(provider, geoAPI)
		}
	}

	if !s.config.GeoLocation.DisableICHNAEA {
		mls, err := ichnaea.NewGeolocationICHNAEAProvider(httpClient)
		if err != nil {
			s.logger.Error("failed to create ICHNAEA provider", logger.Err(err))
		} else {
			provider = append(provider, mls)
		}
	}
	if len(provider) == 0 {
		return nil, errors.New("no geolocation providers enabled")
	}

	return provider, nil
}

func (s *Service) selectGeocodeProvider(conf *config.Config, log *logger.Logger, lang language.Tag) (geocode.Geocoder, error) {
	var geocoder geocode.Geocoder

	switch strings.ToLower(conf.GeoCoder.Provider) {
	case "nominatim":
		geocoder = nominatim.New(http.New(log), lang)
	case "opencage":
		if conf.GeoCoder.APIKey == "" {
			return nil, errors.New("opencage geocoder requires an API key")
		}
		geocoder = opencage.New(http.New(log), lang, conf.GeoCoder.APIKey)
	case "google":
		if conf.GeoCoder.APIKey == "" {
			return nil, errors.New("google geocoder requires an API key")
		}
		coder, err := google.New(http.New(log), lang, conf.GeoCoder.APIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create google geocoder: %w", err)
		}
		geocoder = coder
	case "geocode-earth":
		if conf.GeoCoder.APIKey == "" {
			return nil, errors.New("geocode-earth geocoder requires an API key")
		}
		geocoder = geocodeearth.New(http.New(log), lang, conf.GeoCoder.APIKey)
	default:
		return nil, fmt.Errorf("unsupported geocoder type: %s", conf.GeoCoder.Provider)
	}

	return geocoder, nil
}
