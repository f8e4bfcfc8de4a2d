// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package presenter

import (
	"strconv"

	"github.com/vorlif/spreak/localize"

	"github.com/wneessen/waybar-location/internal/location"
	"github.com/wneessen/waybar-location/internal/vartype"
)

// View is one of the screens the module can show.
type View int

const (
	ViewPrompt View = iota
	ViewRestricted
	ViewDenied
	ViewTracking
	ViewFallback
)

const (
	MsgRestricted localize.MsgID = "Location use is restricted."
	MsgDenied     localize.MsgID = "The app does not have location permissions. Please enable them in settings."
	MsgFallback   localize.MsgID = "Unexpected status"
	MsgAllow      localize.MsgID = "Allow to use your location"
	MsgAllowHint  localize.MsgID = "We need your permission to get your location."
	MsgWaiting    localize.MsgID = "Waiting for location"
)

// Row labels of the tracking view, in display order.
const (
	LabelLatitude  localize.MsgID = "Latitude"
	LabelLongitude localize.MsgID = "Longitude"
	LabelAltitude  localize.MsgID = "Altitude"
	LabelSpeed     localize.MsgID = "Speed"
	LabelCountry   localize.MsgID = "Country"
	LabelArea      localize.MsgID = "Area"
)

var viewNames = map[View]string{
	ViewPrompt:     "prompt",
	ViewRestricted: "restricted",
	ViewDenied:     "denied",
	ViewTracking:   "tracking",
	ViewFallback:   "fallback",
}

func (v View) String() string {
	if name, ok := viewNames[v]; ok {
		return name
	}
	return viewNames[ViewFallback]
}

// Action is a user interaction offered by a view.
type Action struct {
	Title localize.MsgID
	Hint  localize.MsgID
}

// Row is a labeled value of the tracking view.
type Row struct {
	Label localize.MsgID
	Value string
}

// Screen describes what a view shows, independent of how it is rendered.
type Screen struct {
	View    View
	Message localize.MsgID
	Actions []Action
	Rows    []Row
}

// Select returns the view for an authorization state.
func Select(state location.AuthorizationState) View {
	switch state {
	case location.StateUndetermined:
		return ViewPrompt
	case location.StateRestricted:
		return ViewRestricted
	case location.StateDenied:
		return ViewDenied
	case location.StateAuthorizedAlways, location.StateAuthorizedWhileInUse:
		return ViewTracking
	default:
		return ViewFallback
	}
}

// Build returns the screen for a controller snapshot.
func Build(snap location.Snapshot) Screen {
	screen := Screen{View: Select(snap.State)}
	switch screen.View {
	case ViewPrompt:
		screen.Actions = []Action{{Title: MsgAllow, Hint: MsgAllowHint}}
	case ViewRestricted:
		screen.Message = MsgRestricted
	case ViewDenied:
		screen.Message = MsgDenied
	case ViewTracking:
		screen.Rows = Rows(snap.Reading, snap.Placemark)
	default:
		screen.Message = MsgFallback
	}
	return screen
}

// Rows returns the six rows of the tracking view. Missing numbers show as 0, missing place
// names as empty strings.
func Rows(reading vartype.Variable[location.Reading], placemark vartype.Variable[location.Placemark]) []Row {
	r := reading.Value()
	pm := placemark.Value()
	return []Row{
		{Label: LabelLatitude, Value: formatFloat(r.Latitude)},
		{Label: LabelLongitude, Value: formatFloat(r.Longitude)},
		{Label: LabelAltitude, Value: formatFloat(r.Altitude)},
		{Label: LabelSpeed, Value: formatFloat(r.Speed)},
		{Label: LabelCountry, Value: pm.Country},
		{Label: LabelArea, Value: pm.Area},
	}
}

// formatFloat returns the shortest decimal representation of val.
func formatFloat(val float64) string {
	return strconv.FormatFloat(val, 'f', -1, 64)
}
