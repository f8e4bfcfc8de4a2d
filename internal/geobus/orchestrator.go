// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geobus

import (
	"context"
	"log/slog"
	"sync"
)

// Orchestrator runs a set of providers and publishes their results on a GeoBus.
type Orchestrator struct {
	Bus       *GeoBus
	Providers []Provider
}

// Track runs all providers for key until ctx is cancelled. It blocks until every provider
// goroutine has returned.
func (o *Orchestrator) Track(ctx context.Context, key string) {
	var wg sync.WaitGroup
	for _, p := range o.Providers {
		wg.Go(func() {
			o.trackProvider(ctx, p, key)
		})
	}
	wg.Wait()
}

// trackProvider consumes the stream of a single provider and restarts it with exponential
// backoff whenever the stream ends.
func (o *Orchestrator) trackProvider(ctx context.Context, p Provider, key string) {
	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		stream := o.safeLookup(ctx, p, key)
		if stream != nil {
			if o.drain(ctx, stream) {
				backoff = initialBackoff
			}
		}
		if ctx.Err() != nil {
			return
		}

		o.Bus.logger.Debug("geolocation provider stream ended, restarting", slog.String("provider", p.Name()),
			slog.Duration("backoff", backoff))
		if !sleepOrDone(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff)
	}
}

// drain publishes results from stream until it closes or ctx is done. It reports whether at
// least one result was received.
func (o *Orchestrator) drain(ctx context.Context, stream <-chan Result) bool {
	received := false
	for {
		select {
		case <-ctx.Done():
			return received
		case r, ok := <-stream:
			if !ok {
				return received
			}
			received = true
			o.Bus.Publish(r)
		}
	}
}

// safeLookup invokes LookupStream and recovers from provider panics, returning nil in that case.
func (o *Orchestrator) safeLookup(ctx context.Context, provider Provider, key string) (ch <-chan Result) {
	defer func() {
		if r := recover(); r != nil {
			o.Bus.logger.Error("geolocation provider panicked", slog.String("provider", provider.Name()),
				slog.Any("panic", r))
			ch = nil
		}
	}()
	return provider.LookupStream(ctx, key)
}
