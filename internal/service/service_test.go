// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"testing/synctest"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/godbus/dbus/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/wneessen/waybar-location/internal/config"
	"github.com/wneessen/waybar-location/internal/geobus"
	"github.com/wneessen/waybar-location/internal/geocode"
	"github.com/wneessen/waybar-location/internal/i18n"
	"github.com/wneessen/waybar-location/internal/location"
	"github.com/wneessen/waybar-location/internal/logger"
	"github.com/wneessen/waybar-location/internal/presenter"
)

const geolocationFile = "../../testdata/geolocation"

func TestNew(t *testing.T) {
	t.Run("new service succeeds", func(t *testing.T) {
		_, err := testService(t, false)
		if err != nil {
			t.Fatalf("failed to create service: %s", err)
		}
	})
	t.Run("initializing service with different geocode providers", func(t *testing.T) {
		tests := []struct {
			name     string
			provider string
			apikey   string
			wantName string
			wantFail bool
		}{
			{"osm-nominatim", "nominatim", "", "osm-nominatim", false},
			{"opencage without api-key", "opencage", "", "opencage", true},
			{"opencage with api-key", "opencage", "abc", "opencage", false},
			{"google without api-key", "google", "", "google", true},
			{"google with api-key", "google", "abc", "google", false},
			{"geocode-earth without api-key", "geocode-earth", "", "geocode-earth", true},
			{"geocode-earth with api-key", "geocode-earth", "abc", "geocode-earth", false},
			{"unsupported provider", "invalid", "", "", true},
		}
		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				serv, err := testService(t, false)
				if err != nil {
					t.Fatalf("failed to create service: %s", err)
				}
				serv.config.GeoCoder.Provider = tc.provider
				serv.config.GeoCoder.APIKey = tc.apikey
				provider, err := serv.selectGeocodeProvider(serv.config, serv.logger, serv.t.Language())
				if tc.wantFail && err == nil {
					t.Fatal("expected geocode provider selection to fail")
				}
				if !tc.wantFail && err != nil {
					t.Fatalf("failed to select geocode provider: %s", err)
				}
				if tc.wantFail {
					return
				}
				if provider.Name() != tc.wantName {
					t.Errorf("expected geocoder name to be %q, got %q", tc.wantName, provider.Name())
				}
			})
		}
	})
	t.Run("invalid template configuration should fail", func(t *testing.T) {
		t.Setenv("WAYBARLOCATION_TEMPLATES_TEXT", "{{")
		_, err := testService(t, false)
		if err == nil {
			t.Fatal("expected service creation to fail")
		}
		wantErr := "failed to parse text template"
		if !strings.Contains(err.Error(), wantErr) {
			t.Errorf("expected error to contain %q, got %q", wantErr, err)
		}
	})
	t.Run("nil logger fails the geobus initialization", func(t *testing.T) {
		_, err := testService(t, true)
		if err == nil {
			t.Fatal("expected service creation to fail")
		}
		wantErr := "logger is required"
		if !strings.Contains(err.Error(), wantErr) {
			t.Errorf("expected error to contain %q, got %q", wantErr, err)
		}
	})
}

func TestService_Run(t *testing.T) {
	t.Run("start the service and gracefully shut it down", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			serv, err := testService(t, false)
			if err != nil {
				t.Fatalf("failed to create service: %s", err)
			}
			buf := &syncBuffer{buf: bytes.NewBuffer(nil)}
			serv.output = buf

			done := make(chan struct{})
			go func() {
				defer close(done)
				if err := serv.Run(ctx); err != nil {
					t.Errorf("failed to run service: %s", err)
				}
			}()

			synctest.Wait()
			outputs := decodeOutputs(t, buf.String())
			if len(outputs) == 0 {
				t.Fatal("expected an initial output")
			}
			if outputs[0].Alt != "prompt" {
				t.Errorf("expected initial view to be %q, got %q", "prompt", outputs[0].Alt)
			}

			cancel()
			<-done
		})
	})
	t.Run("output is refreshed periodically", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			serv, err := testService(t, false)
			if err != nil {
				t.Fatalf("failed to create service: %s", err)
			}
			buf := &syncBuffer{buf: bytes.NewBuffer(nil)}
			serv.output = buf

			done := make(chan struct{})
			go func() {
				defer close(done)
				if err := serv.Run(ctx); err != nil {
					t.Errorf("failed to run service: %s", err)
				}
			}()

			synctest.Wait()
			initial := len(decodeOutputs(t, buf.String()))
			time.Sleep(serv.config.Intervals.Output + time.Second)
			synctest.Wait()
			if got := len(decodeOutputs(t, buf.String())); got <= initial {
				t.Errorf("expected more than %d outputs after one interval, got %d", initial, got)
			}

			cancel()
			<-done
		})
	})
	t.Run("starting service fails due to invalid geocoding provider", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			serv, err := testService(t, false)
			if err != nil {
				t.Fatalf("failed to create service: %s", err)
			}
			serv.geocoder = nil
			serv.config.GeoCoder.Provider = "invalid"
			err = serv.Run(t.Context())
			if err == nil {
				t.Fatal("expected service to fail")
			}
			wantErr := `failed to create geocode provider: unsupported geocoder type: invalid`
			if !strings.Contains(err.Error(), wantErr) {
				t.Errorf("expected error to contain %q, got %q", wantErr, err)
			}
		})
	})
	t.Run("starting service fails due to invalid geobus provider", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			serv, err := testService(t, false)
			if err != nil {
				t.Fatalf("failed to create service: %s", err)
			}
			serv.config.GeoLocation.DisableGeolocationFile = true
			err = serv.Run(t.Context())
			if err == nil {
				t.Fatal("expected service to fail")
			}
			wantErr := `failed to create geobus orchestrator: no geolocation providers enabled`
			if !strings.Contains(err.Error(), wantErr) {
				t.Errorf("expected error to contain %q, got %q", wantErr, err)
			}
		})
	})
	t.Run("starting service fails due to invalid output interval", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			serv, err := testService(t, false)
			if err != nil {
				t.Fatalf("failed to create service: %s", err)
			}
			serv.config.Intervals.Output = 0
			err = serv.Run(t.Context())
			if !errors.Is(err, gocron.ErrDurationJobIntervalZero) {
				t.Fatalf("expected error to be %s, got %v", gocron.ErrDurationJobIntervalZero, err)
			}
			// The bubble only ends cleanly if the scheduler goroutine has exited
			synctest.Wait()
		})
	})
}

func TestService_printLocation(t *testing.T) {
	t.Run("print location to a buffer", func(t *testing.T) {
		t.Setenv("WAYBARLOCATION_TEMPLATES_TEXT", "text")
		t.Setenv("WAYBARLOCATION_TEMPLATES_TOOLTIP", "tooltip")

		serv, err := testService(t, false)
		if err != nil {
			t.Fatalf("failed to create service: %s", err)
		}
		buf := bytes.NewBuffer(nil)
		serv.output = buf
		serv.printLocation(location.Snapshot{State: location.StateAuthorizedAlways})

		var output presenter.Output
		if err = json.Unmarshal(buf.Bytes(), &output); err != nil {
			t.Fatalf("failed to unmarshal output: %s", err)
		}
		if output.Text != "text" {
			t.Errorf("expected Text to be %q, got %q", "text", output.Text)
		}
		if output.Tooltip != "tooltip" {
			t.Errorf("expected Tooltip to be %q, got %q", "tooltip", output.Tooltip)
		}
		if output.Alt != "tracking" {
			t.Errorf("expected Alt to be %q, got %q", "tracking", output.Alt)
		}
		if len(output.Class) != 2 || output.Class[0] != presenter.OutputClass || output.Class[1] != "tracking" {
			t.Errorf("unexpected classes: %v", output.Class)
		}
		if got := testutil.ToFloat64(serv.metrics.OutputsRendered.WithLabelValues("tracking")); got != 1 {
			t.Errorf("expected one rendered tracking output, got %f", got)
		}
	})
	t.Run("every view is printed", func(t *testing.T) {
		tests := []struct {
			state location.AuthorizationState
			view  string
		}{
			{location.StateUndetermined, "prompt"},
			{location.StateRestricted, "restricted"},
			{location.StateDenied, "denied"},
			{location.StateAuthorizedWhileInUse, "tracking"},
			{location.StateUnknown, "fallback"},
		}
		for _, tc := range tests {
			t.Run(tc.view, func(t *testing.T) {
				serv, err := testService(t, false)
				if err != nil {
					t.Fatalf("failed to create service: %s", err)
				}
				buf := bytes.NewBuffer(nil)
				serv.output = buf
				serv.printLocation(location.Snapshot{State: tc.state})

				outputs := decodeOutputs(t, buf.String())
				if len(outputs) != 1 {
					t.Fatalf("expected one output line, got %d", len(outputs))
				}
				if outputs[0].Alt != tc.view {
					t.Errorf("expected view %q, got %q", tc.view, outputs[0].Alt)
				}
			})
		}
	})
	t.Run("output is empty on failing writer", func(t *testing.T) {
		serv, err := testService(t, false)
		if err != nil {
			t.Fatalf("failed to create service: %s", err)
		}
		logBuf := bytes.NewBuffer(nil)
		serv.logger = logger.NewLogger(slog.LevelError, logBuf)
		serv.output = &failWriter{}
		serv.printLocation(location.Snapshot{State: location.StateDenied})
		if !strings.Contains(logBuf.String(), "failed to encode location output") {
			t.Errorf("expected encoding error to be logged, got %q", logBuf.String())
		}
		if got := testutil.ToFloat64(serv.metrics.OutputsRendered.WithLabelValues("denied")); got != 0 {
			t.Errorf("expected no rendered output to be counted, got %f", got)
		}
	})
}

func TestService_HandleSignals(t *testing.T) {
	t.Run("USR1 signal grants the location permission", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())

			serv, err := testService(t, false)
			if err != nil {
				t.Fatalf("failed to create service: %s", err)
			}
			buf := &syncBuffer{buf: bytes.NewBuffer(nil)}
			serv.output = buf
			if err = serv.setup(); err != nil {
				t.Fatalf("failed to set up service: %s", err)
			}
			serv.controller.Initialize(ctx)

			sigChan := make(chan os.Signal, 1)
			go serv.HandleSignals(ctx, sigChan)
			sigChan <- syscall.SIGUSR1
			synctest.Wait()

			snap := serv.controller.Snapshot()
			if snap.State != location.StateAuthorizedWhileInUse {
				t.Errorf("expected state to be %s, got %s", location.StateAuthorizedWhileInUse, snap.State)
			}
			if !snap.Reading.IsSet() {
				t.Fatal("expected a reading after authorization")
			}
			if snap.Reading.Value().Source != "geolocation_file" {
				t.Errorf("unexpected reading source: %s", snap.Reading.Value().Source)
			}
			if !snap.Placemark.IsSet() || snap.Placemark.Value().Country != "Testland" {
				t.Errorf("expected placemark to be resolved, got %+v", snap.Placemark.Value())
			}
			data, err := os.ReadFile(serv.config.Permission.File)
			if err != nil {
				t.Fatalf("failed to read permission file: %s", err)
			}
			if strings.TrimSpace(string(data)) != "when-in-use" {
				t.Errorf("unexpected permission file content: %q", data)
			}
			if outputs := decodeOutputs(t, buf.String()); len(outputs) != 1 {
				t.Errorf("expected one output after the signal, got %d", len(outputs))
			}

			cancel()
			serv.platform.Wait()
			serv.controller.Wait()
		})
	})
	t.Run("USR2 signal logs the current state", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())

			serv, err := testService(t, false)
			if err != nil {
				t.Fatalf("failed to create service: %s", err)
			}
			buf := &syncBuffer{buf: bytes.NewBuffer(nil)}
			serv.logger = logger.NewLogger(slog.LevelInfo, buf)
			if err = serv.setup(); err != nil {
				t.Fatalf("failed to set up service: %s", err)
			}

			sigChan := make(chan os.Signal, 1)
			go serv.HandleSignals(ctx, sigChan)
			sigChan <- syscall.SIGUSR2
			synctest.Wait()

			wantLog := `msg="current location state" authorization=undetermined latitude=0 longitude=0`
			if !strings.Contains(buf.String(), wantLog) {
				t.Errorf("expected log to contain %q, got %q", wantLog, buf.String())
			}
			cancel()
		})
	})
	t.Run("USR2 signal logs the best geobus fix", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())

			serv, err := testService(t, false)
			if err != nil {
				t.Fatalf("failed to create service: %s", err)
			}
			buf := &syncBuffer{buf: bytes.NewBuffer(nil)}
			serv.logger = logger.NewLogger(slog.LevelInfo, buf)
			if err = serv.setup(); err != nil {
				t.Fatalf("failed to set up service: %s", err)
			}
			serv.geobus.Publish(geobus.Result{
				Key:            DesktopID,
				Lat:            52.5129,
				Lon:            13.391,
				AccuracyMeters: 25,
				Source:         "gpsd",
				TTL:            time.Hour,
			})

			sigChan := make(chan os.Signal, 1)
			go serv.HandleSignals(ctx, sigChan)
			sigChan <- syscall.SIGUSR2
			synctest.Wait()

			wantLog := `best.latitude=52.5129 best.longitude=13.391 best.accuracy=25 best.source=gpsd`
			if !strings.Contains(buf.String(), wantLog) {
				t.Errorf("expected log to contain %q, got %q", wantLog, buf.String())
			}
			cancel()
		})
	})
}

func TestService_processSleepSignal(t *testing.T) {
	t.Run("resume refreshes the output", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			serv, err := testService(t, false)
			if err != nil {
				t.Fatalf("failed to create service: %s", err)
			}
			buf := &syncBuffer{buf: bytes.NewBuffer(nil)}
			serv.output = buf
			if err = serv.setup(); err != nil {
				t.Fatalf("failed to set up service: %s", err)
			}

			var lastResume int64
			serv.processSleepSignal(t.Context(), &dbus.Signal{Body: []any{false}}, &lastResume)
			if outputs := decodeOutputs(t, buf.String()); len(outputs) != 1 {
				t.Errorf("expected one output after resume, got %d", len(outputs))
			}
			if lastResume == 0 {
				t.Error("expected resume time to be recorded")
			}

		})
	})
	t.Run("repeated resume events are debounced", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			serv, err := testService(t, false)
			if err != nil {
				t.Fatalf("failed to create service: %s", err)
			}
			buf := &syncBuffer{buf: bytes.NewBuffer(nil)}
			serv.output = buf
			if err = serv.setup(); err != nil {
				t.Fatalf("failed to set up service: %s", err)
			}

			lastResume := time.Now().Unix()
			serv.processSleepSignal(t.Context(), &dbus.Signal{Body: []any{false}}, &lastResume)
			if buf.String() != "" {
				t.Errorf("expected repeated resume to be debounced, got %q", buf.String())
			}
		})
	})
	t.Run("going to sleep and malformed signals are ignored", func(t *testing.T) {
		tests := []struct {
			name string
			body []any
		}{
			{"sleeping", []any{true}},
			{"empty body", []any{}},
			{"wrong type", []any{"false"}},
			{"too many values", []any{false, false}},
		}
		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				serv, err := testService(t, false)
				if err != nil {
					t.Fatalf("failed to create service: %s", err)
				}
				buf := &syncBuffer{buf: bytes.NewBuffer(nil)}
				serv.output = buf
				if err = serv.setup(); err != nil {
					t.Fatalf("failed to set up service: %s", err)
				}

				var lastResume int64
				serv.processSleepSignal(t.Context(), &dbus.Signal{Body: tc.body}, &lastResume)
				if buf.String() != "" {
					t.Errorf("expected no output, got %q", buf.String())
				}
			})
		}
	})
}

func TestService_selectGeobusProviders(t *testing.T) {
	tests := []struct {
		name       string
		confFn     func(c *config.Config)
		want       int
		shouldFail bool
	}{
		{
			name:   "only geolocation file",
			confFn: func(c *config.Config) {},
			want:   1,
		},
		{
			name: "geolocation file, gpsd, geoip and geoapi",
			confFn: func(c *config.Config) {
				c.GeoLocation.DisableGPSD = false
				c.GeoLocation.DisableGeoIP = false
				c.GeoLocation.DisableGeoAPI = false
			},
			want: 4,
		},
		{
			name: "nmea device",
			confFn: func(c *config.Config) {
				c.GeoLocation.DisableGeolocationFile = true
				c.GeoLocation.NMEADevice = "/dev/ttyUSB0"
			},
			want: 1,
		},
		{
			name: "no provider fails",
			confFn: func(c *config.Config) {
				c.GeoLocation.DisableGeolocationFile = true
			},
			shouldFail: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			serv, err := testService(t, false)
			if err != nil {
				t.Fatalf("failed to create service: %s", err)
			}
			tc.confFn(serv.config)

			providers, err := serv.selectGeobusProviders()
			if !tc.shouldFail && err != nil {
				t.Fatalf("failed to select provider: %s", err)
			}
			if tc.shouldFail {
				if err == nil {
					t.Fatal("expected select provider to fail")
				}
				return
			}
			if len(providers) != tc.want {
				t.Errorf("expected %d providers, got %d", tc.want, len(providers))
			}
		})
	}
}

// testService returns a service that only uses the geolocation file provider and a mock
// geocoder, so no test touches the network or the system bus.
func testService(t *testing.T, nilLogger bool) (*Service, error) {
	t.Helper()
	conf, err := config.New()
	if err != nil {
		return nil, err
	}
	conf.Permission.File = filepath.Join(t.TempDir(), "permission")
	conf.GeoLocation.File = geolocationFile
	conf.GeoLocation.DisableGPSD = true
	conf.GeoLocation.DisableGeoIP = true
	conf.GeoLocation.DisableGeoAPI = true
	conf.GeoLocation.DisableICHNAEA = true

	var log *logger.Logger
	if !nilLogger {
		log = logger.NewLogger(conf.LogLevel, io.Discard)
	}

	lang, err := i18n.New("en")
	if err != nil {
		return nil, err
	}
	serv, err := New(conf, log, lang)
	if err != nil {
		return nil, err
	}
	serv.output = io.Discard
	serv.geocoder = &mockGeocoder{}
	serv.sleepMonitor = nil
	serv.SignalSrc = &fakeSignalSource{}

	return serv, nil
}

func decodeOutputs(t *testing.T, data string) []presenter.Output {
	t.Helper()
	var outputs []presenter.Output
	scanner := bufio.NewScanner(strings.NewReader(data))
	for scanner.Scan() {
		var output presenter.Output
		if err := json.Unmarshal(scanner.Bytes(), &output); err != nil {
			t.Fatalf("failed to unmarshal output line %q: %s", scanner.Text(), err)
		}
		outputs = append(outputs, output)
	}
	return outputs
}

type (
	failWriter       struct{}
	fakeSignalSource struct{}
	mockGeocoder     struct{ shouldFail bool }
	syncBuffer       struct {
		mu  sync.Mutex
		buf *bytes.Buffer
	}
)

func (f failWriter) Write([]byte) (int, error) { return 0, fmt.Errorf("failed to write") }

func (*fakeSignalSource) Notify(chan<- os.Signal, ...os.Signal) {}
func (*fakeSignalSource) Stop(chan<- os.Signal)                 {}

func (m *mockGeocoder) Name() string {
	return "mock geocoder"
}

func (m *mockGeocoder) Reverse(_ context.Context, coords geobus.Coordinate) (geocode.Address, error) {
	if m.shouldFail {
		return geocode.Address{}, errors.New("intentionally failing")
	}
	return geocode.Address{
		AddressFound: true,
		Latitude:     coords.Lat,
		Longitude:    coords.Lon,
		Country:      "Testland",
		State:        "Test State",
		City:         "Test City",
		DisplayName:  fmt.Sprintf("Test Location %.6f,%.6f", coords.Lat, coords.Lon),
	}, nil
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}
