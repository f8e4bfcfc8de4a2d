// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package presenter turns the location controller state into waybar output.
package presenter

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mattn/go-runewidth"
	"github.com/nathan-osman/go-sunrise"
	"github.com/vorlif/humanize"
	"github.com/vorlif/humanize/locale/de"
	"github.com/vorlif/spreak"
	"github.com/vorlif/spreak/localize"
	"github.com/wneessen/go-moonphase"

	"github.com/wneessen/waybar-location/internal/config"
	"github.com/wneessen/waybar-location/internal/location"
	"github.com/wneessen/waybar-location/internal/vartype"
)

// OutputClass is the CSS class every output carries.
const OutputClass = "waybar-location"

// Output is the JSON object waybar reads from a custom module.
type Output struct {
	Text    string   `json:"text"`
	Tooltip string   `json:"tooltip"`
	Alt     string   `json:"alt"`
	Class   []string `json:"class"`
}

type RowView struct {
	Label  string
	Value  string
	Padded string
}

type ActionView struct {
	Title string
	Hint  string
}

type SkyView struct {
	SunriseTime   time.Time
	SunsetTime    time.Time
	MoonPhase     string
	MoonPhaseIcon string
}

// TemplateContext is the data the text and tooltip templates are executed with.
type TemplateContext struct {
	View     string
	Icon     string
	Headline string
	Tracking bool
	Message  string
	Action   *ActionView
	Rows     []RowView

	Latitude   float64
	Longitude  float64
	Placemark  location.Placemark
	Sky        *SkyView
	UpdateTime time.Time
}

type Presenter struct {
	text      *template.Template
	tooltip   *template.Template
	localizer *spreak.Localizer
	humanizer *humanize.Humanizer
	clock     clockwork.Clock
}

// New parses the configured templates and renders them once against sample data, so broken
// templates are reported at startup.
func New(conf *config.Config, loc *spreak.Localizer, clock clockwork.Clock) (*Presenter, error) {
	if loc == nil {
		return nil, errors.New("localizer is required")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	collection, err := humanize.New(humanize.WithLocale(de.New()))
	if err != nil {
		return nil, fmt.Errorf("failed to create humanizer: %w", err)
	}
	pres := &Presenter{
		localizer: loc,
		humanizer: collection.CreateHumanizer(loc.Language()),
		clock:     clock,
	}

	pres.text, err = template.New("text").Funcs(pres.templateFuncMap()).Parse(conf.Templates.Text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse text template: %w", err)
	}
	pres.tooltip, err = template.New("tooltip").Funcs(pres.templateFuncMap()).Parse(conf.Templates.Tooltip)
	if err != nil {
		return nil, fmt.Errorf("failed to parse tooltip template: %w", err)
	}

	for _, snap := range sampleSnapshots(clock.Now()) {
		if _, err = pres.Render(snap); err != nil {
			return nil, err
		}
	}
	return pres, nil
}

// Render executes the templates for snap.
func (p *Presenter) Render(snap location.Snapshot) (Output, error) {
	tplCtx := p.BuildContext(snap)

	buf := bytes.NewBuffer(nil)
	if err := p.text.Execute(buf, tplCtx); err != nil {
		return Output{}, fmt.Errorf("failed to render text template: %w", err)
	}
	text := buf.String()

	buf.Reset()
	if err := p.tooltip.Execute(buf, tplCtx); err != nil {
		return Output{}, fmt.Errorf("failed to render tooltip template: %w", err)
	}

	return Output{
		Text:    strings.TrimSpace(text),
		Tooltip: strings.TrimSpace(buf.String()),
		Alt:     tplCtx.View,
		Class:   []string{OutputClass, tplCtx.View},
	}, nil
}

// BuildContext localizes the screen for snap and adds the tooltip extras of the tracking view.
func (p *Presenter) BuildContext(snap location.Snapshot) TemplateContext {
	screen := Build(snap)
	now := p.clock.Now()
	tplCtx := TemplateContext{
		View:       screen.View.String(),
		Icon:       viewIcons[screen.View],
		Tracking:   screen.View == ViewTracking,
		Message:    p.translate(screen.Message),
		Rows:       p.rowViews(screen.Rows),
		UpdateTime: now,
	}
	if len(screen.Actions) > 0 {
		action := screen.Actions[0]
		tplCtx.Action = &ActionView{
			Title: p.translate(action.Title),
			Hint:  p.translate(action.Hint),
		}
	}

	switch {
	case tplCtx.Tracking:
		tplCtx.Headline = p.headline(snap)
		if snap.Reading.IsSet() {
			reading := snap.Reading.Value()
			tplCtx.Latitude = reading.Latitude
			tplCtx.Longitude = reading.Longitude
			tplCtx.Placemark = snap.Placemark.Value()
			tplCtx.Sky = p.sky(reading.Latitude, reading.Longitude, now)
			if !reading.Timestamp.IsZero() {
				tplCtx.UpdateTime = reading.Timestamp
			}
		}
	case tplCtx.Action != nil:
		tplCtx.Headline = tplCtx.Action.Title
	default:
		tplCtx.Headline = tplCtx.Message
	}

	return tplCtx
}

// headline names the current place as precisely as the placemark allows.
func (p *Presenter) headline(snap location.Snapshot) string {
	if !snap.Reading.IsSet() {
		return p.localizer.Get(MsgWaiting)
	}
	pm := snap.Placemark.Value()
	for _, name := range []string{pm.City, pm.Area, pm.Country} {
		if name != "" {
			return name
		}
	}
	reading := snap.Reading.Value()
	return formatFloat(reading.Latitude) + ", " + formatFloat(reading.Longitude)
}

// translate localizes id. An empty id stays empty instead of resolving to the catalog header.
func (p *Presenter) translate(id localize.MsgID) string {
	if id == "" {
		return ""
	}
	return p.localizer.Get(id)
}

func (p *Presenter) rowViews(rows []Row) []RowView {
	if len(rows) == 0 {
		return nil
	}
	views := make([]RowView, len(rows))
	width := 0
	for i, row := range rows {
		views[i] = RowView{Label: p.translate(row.Label), Value: row.Value}
		width = max(width, runewidth.StringWidth(views[i].Label))
	}
	for i := range views {
		views[i].Padded = runewidth.FillRight(views[i].Label+":", width+1)
	}
	return views
}

func (p *Presenter) sky(lat, lon float64, now time.Time) *SkyView {
	rise, set := sunrise.SunriseSunset(lat, lon, now.Year(), now.Month(), now.Day())
	phase := moonphase.New(now).PhaseName()
	return &SkyView{
		SunriseTime:   rise.In(now.Location()),
		SunsetTime:    set.In(now.Location()),
		MoonPhase:     phase,
		MoonPhaseIcon: MoonPhaseIcon[phase],
	}
}

// sampleSnapshots covers every view, so template errors surface in New.
func sampleSnapshots(now time.Time) []location.Snapshot {
	snaps := []location.Snapshot{
		{State: location.StateUndetermined},
		{State: location.StateRestricted},
		{State: location.StateDenied},
		{State: location.StateUnknown},
		{State: location.StateAuthorizedWhileInUse},
	}
	tracking := location.Snapshot{
		State: location.StateAuthorizedAlways,
		Reading: vartype.NewVariable(location.Reading{
			Latitude:  37.7749,
			Longitude: -122.4194,
			Timestamp: now,
		}),
		Placemark: vartype.NewVariable(location.Placemark{Country: "United States", Area: "California"}),
	}
	return append(snaps, tracking)
}
