// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package presenter

import "github.com/vorlif/spreak/localize"

// MoonPhaseIcon is a map where moon phase names are keys and their corresponding emoji representations are values.
var MoonPhaseIcon = map[string]string{
	"New Moon":        "🌑",
	"Waxing Crescent": "🌒",
	"First Quarter":   "🌓",
	"Waxing Gibbous":  "🌔",
	"Full Moon":       "🌕",
	"Waning Gibbous":  "🌖",
	"Third Quarter":   "🌗",
	"Waning Crescent": "🌘",
}

var viewIcons = map[View]string{
	ViewPrompt:     "❔",
	ViewRestricted: "🚫",
	ViewDenied:     "🔒",
	ViewTracking:   "📍",
	ViewFallback:   "⚠️",
}

var i18nVars = map[string]localize.MsgID{
	"latitude":        LabelLatitude,
	"longitude":       LabelLongitude,
	"altitude":        LabelAltitude,
	"speed":           LabelSpeed,
	"country":         LabelCountry,
	"area":            LabelArea,
	"updated":         "Last update",
	"sunrise":         "Sunrise",
	"sunset":          "Sunset",
	"new moon":        "New moon",
	"waxing crescent": "Waxing crescent",
	"first quarter":   "First quarter",
	"waxing gibbous":  "Waxing gibbous",
	"full moon":       "Full moon",
	"waning gibbous":  "Waning gibbous",
	"third quarter":   "Third quarter",
	"waning crescent": "Waning crescent",
}
