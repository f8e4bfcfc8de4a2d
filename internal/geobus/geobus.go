// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package geobus collects geolocation results from multiple providers and hands the best
// current result to its subscribers.
package geobus

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/wneessen/waybar-location/internal/logger"
)

const (
	accuracyEpsilon = 1e-6
	initialBackoff  = time.Second
	maxBackoff      = 30 * time.Second
)

const (
	AccuracyCountry = 300000
	AccuracyRegion  = 100000
	AccuracyCity    = 15000
	AccuracyZip     = 3000
	AccuracyUnknown = 1000000
	TruncPrecision  = 4
)

var ErrLoggerRequired = errors.New("logger is required")

// Provider defines an interface for geolocation service providers.
// It supports retrieving streamed results for a given key.
type Provider interface {
	Name() string
	LookupStream(ctx context.Context, key string) <-chan Result
}

// GeoBus keeps the best known result per key and broadcasts accepted results to subscribers.
type GeoBus struct {
	mu          sync.RWMutex
	logger      *logger.Logger
	best        map[string]Result
	subscribers map[string]map[chan Result]struct{}
}

// Result represents a single location fix reported by a provider.
type Result struct {
	Key            string
	Lat, Lon       float64
	Alt            float64
	Speed          float64
	AccuracyMeters float64
	Source         string
	At             time.Time
	TTL            time.Duration
}

// BetterThan reports whether r is more accurate than prev without being older.
func (r Result) BetterThan(prev Result) bool {
	if prev.Key == "" {
		return true
	}
	if r.At.Before(prev.At) {
		return false
	}
	return r.AccuracyMeters < prev.AccuracyMeters-accuracyEpsilon
}

// IsExpired checks if the Result has exceeded its time-to-live (TTL).
func (r Result) IsExpired() bool {
	return r.TTL > 0 && time.Since(r.At) > r.TTL
}

// Coordinate returns the position part of the Result.
func (r Result) Coordinate() Coordinate {
	return Coordinate{Lat: r.Lat, Lon: r.Lon, Acc: r.AccuracyMeters}
}

// New returns an empty GeoBus.
func New(log *logger.Logger) (*GeoBus, error) {
	if log == nil {
		return nil, ErrLoggerRequired
	}
	return &GeoBus{
		logger:      log,
		best:        make(map[string]Result),
		subscribers: make(map[string]map[chan Result]struct{}),
	}, nil
}

func (b *GeoBus) NewOrchestrator(provider []Provider) *Orchestrator {
	return &Orchestrator{
		Bus:       b,
		Providers: provider,
	}
}

// Subscribe adds a subscriber for results of the given key. The current best result, if any,
// is delivered right away. The returned function removes the subscription and closes the channel.
func (b *GeoBus) Subscribe(key string, size int) (<-chan Result, func()) {
	resultChan := make(chan Result, size)
	b.mu.Lock()
	if _, ok := b.subscribers[key]; !ok {
		b.subscribers[key] = make(map[chan Result]struct{})
	}

	b.subscribers[key][resultChan] = struct{}{}
	if best, ok := b.best[key]; ok && !best.IsExpired() && size > 0 {
		resultChan <- best
	}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			if subs, ok := b.subscribers[key]; ok {
				delete(subs, resultChan)
				if len(subs) == 0 {
					delete(b.subscribers, key)
				}
			}
			b.mu.Unlock()
			close(resultChan)
		})
	}

	return resultChan, unsub
}

// Publish offers r to the bus. The result is accepted and broadcast if there is no current
// result for its key, if the current one expired, if r comes from the same source as the
// current one (a live stream keeps flowing), or if r is more accurate.
func (b *GeoBus) Publish(r Result) {
	if r.AccuracyMeters == 0 {
		return
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	prev, have := b.best[r.Key]
	if have && !prev.IsExpired() && prev.Source != r.Source && !r.BetterThan(prev) {
		b.logger.Debug("discarding less accurate geolocation result", slog.String("source", r.Source),
			slog.String("current_source", prev.Source))
		return
	}

	b.best[r.Key] = r
	b.broadcastResult(r)
}

func (b *GeoBus) broadcastResult(r Result) {
	if subs, ok := b.subscribers[r.Key]; ok {
		for ch := range subs {
			select {
			case ch <- r:
			default:
			}
		}
	}
}

// Best returns the current result for key if it has not expired.
func (b *GeoBus) Best(key string) (Result, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.best[key]
	return r, ok && !r.IsExpired()
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d *= 2; d > maxBackoff {
		return maxBackoff
	}
	return d
}

// Truncate cuts x to the given number of decimal places.
func Truncate(x float64, precision int) float64 {
	p := math.Pow(10, float64(precision))
	return math.Trunc(x*p) / p
}
