// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kkyr/fig"
)

const (
	configEnv = "WAYBARLOCATION"
	appDir    = "waybar-location"

	DefaultTextTpl    = "{{.Icon}} {{.Headline}}"
	DefaultTooltipTpl = "{{if .Tracking}}{{range .Rows}}{{.Padded}}  {{.Value}}\n{{end}}" +
		"{{with .Sky}}\n{{loc \"sunrise\"}}: {{timeFormat .SunriseTime \"15:04\"}}  " +
		"{{loc \"sunset\"}}: {{timeFormat .SunsetTime \"15:04\"}}\n{{.MoonPhaseIcon}} {{loc .MoonPhase}}\n{{end}}" +
		"{{loc \"updated\"}}: {{localizedTime .UpdateTime}}" +
		"{{else}}{{.Message}}{{with .Action}}\n\n{{.Hint}}{{end}}{{end}}"
)

// Config represents the application's configuration structure.
type Config struct {
	Locale   string     `fig:"locale"`
	LogLevel slog.Level `fig:"loglevel" default:"0"`

	Intervals struct {
		Output         time.Duration `fig:"output" default:"30s"`
		PermissionPoll time.Duration `fig:"permission_poll" default:"5s"`
	} `fig:"intervals"`

	Templates struct {
		Text    string `fig:"text"`
		Tooltip string `fig:"tooltip"`
	} `fig:"templates"`

	Permission struct {
		File string `fig:"file"`
		// Forces the "restricted" authorization state, e.g. on managed machines.
		Restricted bool `fig:"restricted"`
	} `fig:"permission"`

	GeoLocation struct {
		File                   string `fig:"file"`
		GPSDAddress            string `fig:"gpsd_address" default:"localhost:2947"`
		NMEADevice             string `fig:"nmea_device"`
		NMEABaudRate           int    `fig:"nmea_baudrate" default:"4800"`
		DisableGeoIP           bool   `fig:"disable_geoip"`
		DisableGeoAPI          bool   `fig:"disable_geoapi"`
		DisableGeolocationFile bool   `fig:"disable_geolocation_file"`
		DisableICHNAEA         bool   `fig:"disable_ichnaea"`
		DisableGPSD            bool   `fig:"disable_gpsd"`
	} `fig:"geolocation"`

	GeoCoder struct {
		// Allowed values: nominatim, opencage, google, geocode-earth
		Provider string `fig:"provider" default:"nominatim"`
		APIKey   string `fig:"apikey"`
	} `fig:"geocoder"`

	Metrics struct {
		Listen string `fig:"listen"`
	} `fig:"metrics"`
}

func NewFromFile(path, file string) (*Config, error) {
	conf := new(Config)
	_, err := os.Stat(filepath.Join(path, file))
	if err != nil {
		return conf, fmt.Errorf("failed to read config: %w", err)
	}
	if err = fig.Load(conf, fig.Dirs(path), fig.File(file), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load config: %w", err)
	}

	return conf, conf.Validate()
}

func New() (*Config, error) {
	conf := new(Config)
	if err := fig.Load(conf, fig.AllowNoFile(), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load config: %w", err)
	}

	return conf, conf.Validate()
}

func (c *Config) Validate() error {
	if c.Locale == "" {
		c.Locale = getLocale()
	}
	if c.Intervals.Output <= 0 {
		return fmt.Errorf("invalid output interval: %s", c.Intervals.Output)
	}
	if c.Intervals.PermissionPoll <= 0 {
		return fmt.Errorf("invalid permission poll interval: %s", c.Intervals.PermissionPoll)
	}
	switch strings.ToLower(c.GeoCoder.Provider) {
	case "nominatim":
	case "opencage", "google", "geocode-earth":
		if c.GeoCoder.APIKey == "" {
			return fmt.Errorf("geocoder %s requires an API key", c.GeoCoder.Provider)
		}
	default:
		return fmt.Errorf("unsupported geocoder: %s", c.GeoCoder.Provider)
	}
	if c.GeoLocation.NMEADevice != "" && c.GeoLocation.NMEABaudRate <= 0 {
		return fmt.Errorf("invalid NMEA baud rate: %d", c.GeoLocation.NMEABaudRate)
	}
	if c.Metrics.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
			return fmt.Errorf("invalid metrics listen address %q: %w", c.Metrics.Listen, err)
		}
	}
	if c.Templates.Text == "" {
		c.Templates.Text = DefaultTextTpl
	}
	if c.Templates.Tooltip == "" {
		c.Templates.Tooltip = DefaultTooltipTpl
	}

	home, _ := os.UserHomeDir()
	if c.Permission.File == "" {
		c.Permission.File = filepath.Join(home, ".config", appDir, "permission")
	}
	if c.GeoLocation.File == "" {
		c.GeoLocation.File = filepath.Join(home, ".config", appDir, "geolocation")
	}

	return nil
}

func getLocale() string {
	locale := os.Getenv("LC_MESSAGES")
	if idx := strings.Index(locale, "."); idx != -1 {
		lang := locale[:idx]
		return strings.ReplaceAll(lang, "_", "-")
	}
	return locale
}
