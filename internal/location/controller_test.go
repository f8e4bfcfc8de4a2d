// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package location

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/wneessen/waybar-location/internal/geobus"
	"github.com/wneessen/waybar-location/internal/geocode"
	"github.com/wneessen/waybar-location/internal/logger"
	"github.com/wneessen/waybar-location/internal/observability"
)

type fakePlatform struct {
	mu       sync.Mutex
	state    AuthorizationState
	requests int
	delegate Delegate
}

func (p *fakePlatform) AuthorizationStatus() AuthorizationState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *fakePlatform) RequestWhenInUseAuthorization() {
	p.mu.Lock()
	p.requests++
	if p.state != StateUndetermined {
		p.mu.Unlock()
		return
	}
	p.state = StateAuthorizedWhileInUse
	delegate := p.delegate
	p.mu.Unlock()
	if delegate != nil {
		delegate.DidChangeAuthorization(StateAuthorizedWhileInUse)
	}
}

func (p *fakePlatform) StartUpdatingLocation(_ context.Context, delegate Delegate) {
	p.mu.Lock()
	p.delegate = delegate
	p.mu.Unlock()
}

type fakeGeocoder struct {
	fn func(coords geobus.Coordinate) (geocode.Address, error)
}

func (g *fakeGeocoder) Name() string { return "fake" }

func (g *fakeGeocoder) Reverse(_ context.Context, coords geobus.Coordinate) (geocode.Address, error) {
	return g.fn(coords)
}

func sanFrancisco(_ geobus.Coordinate) (geocode.Address, error) {
	return geocode.Address{AddressFound: true, Country: "United States", State: "California", City: "San Francisco"}, nil
}

func testController(t *testing.T, state AuthorizationState, fn func(geobus.Coordinate) (geocode.Address, error),
) (*Controller, *fakePlatform, *observability.Metrics) {
	t.Helper()
	platform := &fakePlatform{state: state}
	metrics := observability.NewMetrics()
	ctrl, err := NewController(platform, &fakeGeocoder{fn: fn}, logger.NewLogger(slog.LevelDebug, io.Discard), metrics)
	if err != nil {
		t.Fatalf("failed to create controller: %s", err)
	}
	ctrl.Initialize(t.Context())
	return ctrl, platform, metrics
}

func TestNewController(t *testing.T) {
	log := logger.NewLogger(slog.LevelDebug, io.Discard)
	geocoder := &fakeGeocoder{fn: sanFrancisco}
	t.Run("new controller succeeds", func(t *testing.T) {
		ctrl, err := NewController(&fakePlatform{}, geocoder, log, nil)
		if err != nil {
			t.Fatalf("failed to create controller: %s", err)
		}
		if ctrl.Snapshot().State != StateUndetermined {
			t.Errorf("expected initial state to be undetermined, got %s", ctrl.Snapshot().State)
		}
	})
	t.Run("missing platform fails", func(t *testing.T) {
		if _, err := NewController(nil, geocoder, log, nil); err == nil {
			t.Error("expected error for missing platform")
		}
	})
	t.Run("missing geocoder fails", func(t *testing.T) {
		if _, err := NewController(&fakePlatform{}, nil, log, nil); err == nil {
			t.Error("expected error for missing geocoder")
		}
	})
	t.Run("missing logger fails", func(t *testing.T) {
		if _, err := NewController(&fakePlatform{}, geocoder, nil, nil); err == nil {
			t.Error("expected error for missing logger")
		}
	})
}

func TestController_Initialize(t *testing.T) {
	t.Run("initial state is read from the platform", func(t *testing.T) {
		ctrl, platform, metrics := testController(t, StateDenied, sanFrancisco)
		if ctrl.Snapshot().State != StateDenied {
			t.Errorf("expected state to be denied, got %s", ctrl.Snapshot().State)
		}
		if platform.requests != 0 {
			t.Error("expected initialize to not request permission")
		}
		if platform.delegate != ctrl {
			t.Error("expected controller to be registered as delegate")
		}
		if got := testutil.ToFloat64(metrics.AuthorizationState.WithLabelValues("denied")); got != 1 {
			t.Errorf("expected denied gauge to be 1, got %f", got)
		}
	})
	t.Run("no readings before the first update", func(t *testing.T) {
		ctrl, _, _ := testController(t, StateAuthorizedAlways, sanFrancisco)
		snap := ctrl.Snapshot()
		if snap.Reading.IsSet() || snap.Placemark.IsSet() {
			t.Error("expected no reading and no placemark")
		}
	})
}

func TestController_RequestPermission(t *testing.T) {
	t.Run("undetermined state becomes authorized", func(t *testing.T) {
		ctrl, platform, _ := testController(t, StateUndetermined, sanFrancisco)
		ctrl.RequestPermission()
		if platform.requests != 1 {
			t.Errorf("expected one permission request, got %d", platform.requests)
		}
		if ctrl.Snapshot().State != StateAuthorizedWhileInUse {
			t.Errorf("expected state to be when-in-use, got %s", ctrl.Snapshot().State)
		}
	})
	t.Run("determined state does not change", func(t *testing.T) {
		ctrl, platform, _ := testController(t, StateAuthorizedAlways, sanFrancisco)
		ctrl.RequestPermission()
		if platform.requests != 1 {
			t.Errorf("expected one permission request, got %d", platform.requests)
		}
		if ctrl.Snapshot().State != StateAuthorizedAlways {
			t.Errorf("expected state to stay always, got %s", ctrl.Snapshot().State)
		}
	})
}

func TestController_DidChangeAuthorization(t *testing.T) {
	ctrl, _, metrics := testController(t, StateUndetermined, sanFrancisco)
	var got []AuthorizationState
	unsubscribe := ctrl.Subscribe(func(snap Snapshot) {
		got = append(got, snap.State)
	})

	ctrl.DidChangeAuthorization(StateDenied)
	ctrl.DidChangeAuthorization(StateDenied)
	ctrl.DidChangeAuthorization(StateRestricted)
	unsubscribe()
	ctrl.DidChangeAuthorization(StateAuthorizedAlways)

	want := []AuthorizationState{StateDenied, StateDenied, StateRestricted}
	if len(got) != len(want) {
		t.Fatalf("expected %d notifications, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("notification %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	if ctrl.Snapshot().State != StateAuthorizedAlways {
		t.Errorf("expected state to be always, got %s", ctrl.Snapshot().State)
	}
	if v := testutil.ToFloat64(metrics.AuthorizationState.WithLabelValues("restricted")); v != 0 {
		t.Errorf("expected restricted gauge to be reset, got %f", v)
	}
}

func TestController_DidUpdateLocations(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	t.Run("single reading is stored and geocoded", func(t *testing.T) {
		ctrl, _, metrics := testController(t, StateAuthorizedWhileInUse, sanFrancisco)
		ctrl.DidUpdateLocations([]Reading{{Latitude: 37.7749, Longitude: -122.4194, Timestamp: now}})
		ctrl.Wait()

		snap := ctrl.Snapshot()
		if snap.Reading.Value().Latitude != 37.7749 || snap.Reading.Value().Longitude != -122.4194 {
			t.Errorf("unexpected reading: %+v", snap.Reading.Value())
		}
		if !snap.Placemark.IsSet() {
			t.Fatal("expected placemark to be set")
		}
		if snap.Placemark.Value().Country != "United States" || snap.Placemark.Value().Area != "California" {
			t.Errorf("unexpected placemark: %+v", snap.Placemark.Value())
		}
		if v := testutil.ToFloat64(metrics.LocationUpdates); v != 1 {
			t.Errorf("expected 1 location update, got %f", v)
		}
		if v := testutil.ToFloat64(metrics.GeocodeRequests.WithLabelValues(observability.OutcomeSuccess)); v != 1 {
			t.Errorf("expected 1 successful lookup, got %f", v)
		}
	})
	t.Run("most recent reading of a batch wins", func(t *testing.T) {
		ctrl, _, _ := testController(t, StateAuthorizedWhileInUse, sanFrancisco)
		ctrl.DidUpdateLocations([]Reading{
			{Latitude: 1, Longitude: 1, Timestamp: now},
			{Latitude: 3, Longitude: 3, Timestamp: now.Add(2 * time.Second)},
			{Latitude: 2, Longitude: 2, Timestamp: now.Add(time.Second)},
		})
		ctrl.Wait()
		if got := ctrl.Snapshot().Reading.Value().Latitude; got != 3 {
			t.Errorf("expected latest reading to win, got latitude %f", got)
		}
	})
	t.Run("first reading wins on equal timestamps", func(t *testing.T) {
		ctrl, _, _ := testController(t, StateAuthorizedWhileInUse, sanFrancisco)
		ctrl.DidUpdateLocations([]Reading{
			{Latitude: 1, Longitude: 1, Timestamp: now},
			{Latitude: 2, Longitude: 2, Timestamp: now},
		})
		ctrl.Wait()
		if got := ctrl.Snapshot().Reading.Value().Latitude; got != 1 {
			t.Errorf("expected first reading to win, got latitude %f", got)
		}
	})
	t.Run("empty batch is ignored", func(t *testing.T) {
		ctrl, _, metrics := testController(t, StateAuthorizedWhileInUse, sanFrancisco)
		notified := false
		ctrl.Subscribe(func(Snapshot) { notified = true })
		ctrl.DidUpdateLocations(nil)
		ctrl.Wait()
		if notified {
			t.Error("expected no notification for empty batch")
		}
		if ctrl.Snapshot().Reading.IsSet() {
			t.Error("expected reading to stay unset")
		}
		if v := testutil.ToFloat64(metrics.LocationUpdates); v != 0 {
			t.Errorf("expected no location update, got %f", v)
		}
	})
	t.Run("invalid coordinate is not geocoded", func(t *testing.T) {
		called := false
		ctrl, _, _ := testController(t, StateAuthorizedWhileInUse, func(geobus.Coordinate) (geocode.Address, error) {
			called = true
			return geocode.Address{}, nil
		})
		ctrl.DidUpdateLocations([]Reading{{Latitude: 123, Longitude: 0, Timestamp: now}})
		ctrl.Wait()
		if called {
			t.Error("expected geocoder to not be called")
		}
		if !ctrl.Snapshot().Reading.IsSet() {
			t.Error("expected reading to be stored anyway")
		}
	})
}

func TestController_GeocodeFailures(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		fn   func(geobus.Coordinate) (geocode.Address, error)
	}{
		{
			"geocoder returns error",
			func(geobus.Coordinate) (geocode.Address, error) {
				return geocode.Address{}, errors.New("service unavailable")
			},
		},
		{
			"geocoder finds no address",
			func(geobus.Coordinate) (geocode.Address, error) {
				return geocode.Address{AddressFound: false}, nil
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			first := true
			ctrl, _, metrics := testController(t, StateAuthorizedWhileInUse, func(c geobus.Coordinate) (geocode.Address, error) {
				if first {
					first = false
					return sanFrancisco(c)
				}
				return tc.fn(c)
			})
			ctrl.DidUpdateLocations([]Reading{{Latitude: 37.7749, Longitude: -122.4194, Timestamp: now}})
			ctrl.Wait()
			ctrl.DidUpdateLocations([]Reading{{Latitude: 48.1173, Longitude: 11.5167, Timestamp: now.Add(time.Minute)}})
			ctrl.Wait()

			snap := ctrl.Snapshot()
			if snap.Reading.Value().Latitude != 48.1173 {
				t.Errorf("expected reading to be updated, got %+v", snap.Reading.Value())
			}
			if snap.Placemark.Value().Country != "United States" {
				t.Errorf("expected previous placemark to be kept, got %+v", snap.Placemark.Value())
			}
			if v := testutil.ToFloat64(metrics.GeocodeRequests.WithLabelValues(observability.OutcomeError)); v != 1 {
				t.Errorf("expected 1 failed lookup, got %f", v)
			}
		})
	}
}

func TestController_StaleGeocodeResult(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	ctrl, _, metrics := testController(t, StateAuthorizedWhileInUse, func(c geobus.Coordinate) (geocode.Address, error) {
		if c.Lat == 37.7749 {
			started <- struct{}{}
			<-release
			return geocode.Address{AddressFound: true, Country: "United States", State: "California"}, nil
		}
		return geocode.Address{AddressFound: true, Country: "Germany", State: "Bavaria"}, nil
	})

	ctrl.DidUpdateLocations([]Reading{{Latitude: 37.7749, Longitude: -122.4194, Timestamp: now}})
	<-started
	ctrl.DidUpdateLocations([]Reading{{Latitude: 48.1173, Longitude: 11.5167, Timestamp: now.Add(time.Minute)}})
	close(release)
	ctrl.Wait()

	placemark := ctrl.Snapshot().Placemark.Value()
	if placemark.Country != "Germany" || placemark.Area != "Bavaria" {
		t.Errorf("expected placemark of the latest reading, got %+v", placemark)
	}
	if v := testutil.ToFloat64(metrics.GeocodeRequests.WithLabelValues(observability.OutcomeStale)); v != 1 {
		t.Errorf("expected 1 stale lookup, got %f", v)
	}
}

func TestController_Refresh(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	t.Run("refresh without reading does nothing", func(t *testing.T) {
		called := false
		ctrl, _, _ := testController(t, StateAuthorizedWhileInUse, func(geobus.Coordinate) (geocode.Address, error) {
			called = true
			return geocode.Address{}, nil
		})
		ctrl.Refresh()
		ctrl.Wait()
		if called {
			t.Error("expected geocoder to not be called")
		}
	})
	t.Run("refresh re-resolves the current reading", func(t *testing.T) {
		country := "United States"
		ctrl, _, _ := testController(t, StateAuthorizedWhileInUse, func(geobus.Coordinate) (geocode.Address, error) {
			return geocode.Address{AddressFound: true, Country: country}, nil
		})
		ctrl.DidUpdateLocations([]Reading{{Latitude: 37.7749, Longitude: -122.4194, Timestamp: now}})
		ctrl.Wait()
		country = "USA"
		ctrl.Refresh()
		ctrl.Wait()
		if got := ctrl.Snapshot().Placemark.Value().Country; got != "USA" {
			t.Errorf("expected refreshed placemark, got %s", got)
		}
	})
}

func TestController_ConcurrentUpdates(t *testing.T) {
	ctrl, _, _ := testController(t, StateAuthorizedWhileInUse, sanFrancisco)
	ctrl.Subscribe(func(snap Snapshot) {
		r := snap.Reading.Value()
		if r.Latitude != r.Longitude {
			t.Errorf("torn reading observed: %+v", r)
		}
	})

	var wg sync.WaitGroup
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := range 50 {
		wg.Go(func() {
			v := float64(i) / 10
			ctrl.DidUpdateLocations([]Reading{{Latitude: v, Longitude: v, Timestamp: base.Add(time.Duration(i) * time.Second)}})
		})
		wg.Go(func() {
			ctrl.DidChangeAuthorization(StateAuthorizedAlways)
		})
	}
	wg.Wait()
	ctrl.Wait()

	r := ctrl.Snapshot().Reading.Value()
	if r.Latitude != r.Longitude {
		t.Errorf("torn reading stored: %+v", r)
	}
}
