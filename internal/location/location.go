// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package location holds the location state of the module: the authorization state granted by
// the user, the most recent location reading and the place it was reverse geocoded to.
package location

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/wneessen/waybar-location/internal/geobus"
)

// AuthorizationState is the permission level the user granted for location access.
type AuthorizationState int

const (
	StateUndetermined AuthorizationState = iota
	StateRestricted
	StateDenied
	StateAuthorizedAlways
	StateAuthorizedWhileInUse
	StateUnknown
)

var ErrUnknownState = errors.New("unknown authorization state")

var stateNames = map[AuthorizationState]string{
	StateUndetermined:         "undetermined",
	StateRestricted:           "restricted",
	StateDenied:               "denied",
	StateAuthorizedAlways:     "always",
	StateAuthorizedWhileInUse: "when-in-use",
	StateUnknown:              "unknown",
}

// States returns the names of all authorization states.
func States() []string {
	names := make([]string, 0, len(stateNames))
	for s := StateUndetermined; s <= StateUnknown; s++ {
		names = append(names, stateNames[s])
	}
	return names
}

func (s AuthorizationState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return stateNames[StateUnknown]
}

// IsAuthorized reports whether location updates may be delivered in this state.
func (s AuthorizationState) IsAuthorized() bool {
	return s == StateAuthorizedAlways || s == StateAuthorizedWhileInUse
}

// ParseAuthorizationState returns the state for its string form. Unknown input returns
// StateUnknown and ErrUnknownState.
func ParseAuthorizationState(value string) (AuthorizationState, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	for state, name := range stateNames {
		if name == value {
			return state, nil
		}
	}
	return StateUnknown, ErrUnknownState
}

// Reading is a single location fix. Speed is in meters per second, Altitude in meters.
type Reading struct {
	Latitude  float64
	Longitude float64
	Altitude  float64
	Speed     float64
	Accuracy  float64
	Source    string
	Timestamp time.Time
}

// Coordinate returns the position of the reading.
func (r Reading) Coordinate() geobus.Coordinate {
	return geobus.Coordinate{Lat: r.Latitude, Lon: r.Longitude, Acc: r.Accuracy}
}

// ReadingFromResult converts a geobus result into a Reading.
func ReadingFromResult(r geobus.Result) Reading {
	return Reading{
		Latitude:  r.Lat,
		Longitude: r.Lon,
		Altitude:  r.Alt,
		Speed:     r.Speed,
		Accuracy:  r.AccuracyMeters,
		Source:    r.Source,
		Timestamp: r.At,
	}
}

// Placemark is the human-readable place information for a coordinate. All fields are optional.
type Placemark struct {
	Country     string
	Area        string
	City        string
	DisplayName string
}

// Platform is the location service of the operating environment.
type Platform interface {
	// AuthorizationStatus returns the current authorization state without prompting the user.
	AuthorizationStatus() AuthorizationState
	// RequestWhenInUseAuthorization asks the user for permission. The outcome is reported
	// through Delegate.DidChangeAuthorization.
	RequestWhenInUseAuthorization()
	// StartUpdatingLocation registers delegate and starts delivering events to it until ctx
	// is cancelled.
	StartUpdatingLocation(ctx context.Context, delegate Delegate)
}

// Delegate receives the events of a Platform. Methods may be called from any goroutine.
type Delegate interface {
	DidUpdateLocations(readings []Reading)
	DidChangeAuthorization(state AuthorizationState)
}
