// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "waybar_location"

// Geocode outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeStale   = "stale"
)

// Metrics holds the Prometheus collectors of the location module. Each Metrics instance
// uses its own registry, so multiple instances can coexist (e.g. in tests).
type Metrics struct {
	registry *prometheus.Registry

	LocationUpdates    prometheus.Counter
	AuthorizationState *prometheus.GaugeVec // labels: state
	GeocodeRequests    *prometheus.CounterVec // labels: outcome={success,error,stale}
	OutputsRendered    *prometheus.CounterVec // labels: view
}

// NewMetrics creates and registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		LocationUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "location_updates_total",
			Help:      "Location readings accepted from the platform.",
		}),
		AuthorizationState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "authorization_state",
			Help:      "1 for the current location authorization state, 0 for all others.",
		}, []string{"state"}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Reverse geocoding lookups by outcome.",
		}, []string{"outcome"}),
		OutputsRendered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outputs_rendered_total",
			Help:      "Module outputs written, by selected view.",
		}, []string{"view"}),
	}
	m.registry.MustRegister(
		m.LocationUpdates,
		m.AuthorizationState,
		m.GeocodeRequests,
		m.OutputsRendered,
	)

	return m
}

// SetAuthorizationState flags state as the current authorization state. states lists all
// known states so that the previous one is reset to zero.
func (m *Metrics) SetAuthorizationState(state string, states []string) {
	for _, s := range states {
		m.AuthorizationState.WithLabelValues(s).Set(0)
	}
	m.AuthorizationState.WithLabelValues(state).Set(1)
}

// Handler returns the HTTP handler exposing the metrics of this instance.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
