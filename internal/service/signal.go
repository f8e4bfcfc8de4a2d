// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

type signalSource interface {
	Notify(c chan<- os.Signal, sig ...os.Signal)
	Stop(c chan<- os.Signal)
}

type stdLibSignalSource struct{}

func (stdLibSignalSource) Notify(c chan<- os.Signal, sig ...os.Signal) {
	signal.Notify(c, sig...)
}

func (stdLibSignalSource) Stop(c chan<- os.Signal) {
	signal.Stop(c)
}

// HandleSignals processes user signals until ctx is cancelled. SIGUSR1 is the click on the
// permission prompt, SIGUSR2 logs the current controller state.
func (s *Service) HandleSignals(ctx context.Context, sigChan chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigChan:
			switch sig {
			case syscall.SIGUSR1:
				s.controller.RequestPermission()
				s.printCurrent(ctx)
			case syscall.SIGUSR2:
				s.logState()
			}
		}
	}
}

// logState logs the controller state and the best fix currently held by the geobus.
func (s *Service) logState() {
	snap := s.controller.Snapshot()
	reading := snap.Reading.Value()
	placemark := snap.Placemark.Value()
	attrs := []any{
		slog.String("authorization", snap.State.String()),
		slog.Float64("latitude", reading.Latitude), slog.Float64("longitude", reading.Longitude),
		slog.String("source", reading.Source), slog.String("address", placemark.DisplayName),
	}
	if best, ok := s.geobus.Best(DesktopID); ok {
		coord := best.Coordinate()
		attrs = append(attrs, slog.Group("best", slog.Float64("latitude", coord.Lat),
			slog.Float64("longitude", coord.Lon), slog.Float64("accuracy", coord.Acc),
			slog.String("source", best.Source)))
	}
	s.logger.Info("current location state", attrs...)
}
