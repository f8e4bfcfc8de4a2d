// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/vorlif/spreak"

	"github.com/wneessen/waybar-location/internal/config"
	"github.com/wneessen/waybar-location/internal/geobus"
	"github.com/wneessen/waybar-location/internal/geocode"
	"github.com/wneessen/waybar-location/internal/location"
	"github.com/wneessen/waybar-location/internal/logger"
	"github.com/wneessen/waybar-location/internal/observability"
	"github.com/wneessen/waybar-location/internal/platform"
	"github.com/wneessen/waybar-location/internal/presenter"
)

const (
	// DesktopID is the geobus key all location results are published under.
	DesktopID = "waybar-location"

	metricsShutdownTimeout = 5 * time.Second
	metricsReadTimeout     = 10 * time.Second
)

type Service struct {
	SignalSrc signalSource

	config    *config.Config
	logger    *logger.Logger
	t         *spreak.Localizer
	geobus    *geobus.GeoBus
	metrics   *observability.Metrics
	presenter *presenter.Presenter
	scheduler gocron.Scheduler

	geocoder   geocode.Geocoder
	platform   *platform.Platform
	controller *location.Controller

	// sleepMonitor watches for system resume events. It is replaceable for tests.
	sleepMonitor func(context.Context)

	outputLock sync.Mutex
	output     io.Writer
}

func New(conf *config.Config, log *logger.Logger, t *spreak.Localizer) (*Service, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	bus, err := geobus.New(log)
	if err != nil {
		return nil, fmt.Errorf("failed to create geobus: %w", err)
	}

	pres, err := presenter.New(conf, t, clockwork.NewRealClock())
	if err != nil {
		return nil, fmt.Errorf("failed to create presenter: %w", err)
	}

	service := &Service{
		SignalSrc: stdLibSignalSource{},
		config:    conf,
		logger:    log,
		t:         t,
		geobus:    bus,
		metrics:   observability.NewMetrics(),
		presenter: pres,
		scheduler: scheduler,
		output:    os.Stdout,
	}
	service.sleepMonitor = service.monitorSleepResume
	return service, nil
}

// Run starts the location service and blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if err := s.setup(); err != nil {
		return errors.Join(err, s.scheduler.Shutdown())
	}

	// Every state change of the controller is written right away
	unsubscribe := s.controller.Subscribe(s.printLocation)
	defer unsubscribe()

	// The periodic output keeps relative times in the tooltip current
	if err := s.createScheduledJob(ctx, s.config.Intervals.Output, s.printCurrent,
		"location_output_job"); err != nil {
		return errors.Join(err, s.scheduler.Shutdown())
	}
	s.scheduler.Start()

	s.controller.Initialize(ctx)

	if s.config.Metrics.Listen != "" {
		go s.serveMetrics(ctx)
	}
	if s.sleepMonitor != nil {
		go s.sleepMonitor(ctx)
	}

	sigChan := make(chan os.Signal, 1)
	s.SignalSrc.Notify(sigChan, syscall.SIGUSR1, syscall.SIGUSR2)
	go s.HandleSignals(ctx, sigChan)

	// Wait for the context to cancel
	<-ctx.Done()
	s.SignalSrc.Stop(sigChan)
	s.platform.Wait()
	s.controller.Wait()
	return s.scheduler.Shutdown()
}

// setup wires the providers, the platform and the controller.
func (s *Service) setup() error {
	if s.geocoder == nil {
		geocoder, err := s.selectGeocodeProvider(s.config, s.logger, s.t.Language())
		if err != nil {
			return fmt.Errorf("failed to create geocode provider: %w", err)
		}
		s.geocoder = geocoder
	}

	providers, err := s.selectGeobusProviders()
	if err != nil {
		return fmt.Errorf("failed to create geobus orchestrator: %w", err)
	}
	orchestrator := s.geobus.NewOrchestrator(providers)

	store := platform.NewPermissionStore(s.config.Permission.File, s.config.Permission.Restricted)
	s.platform, err = platform.New(store, s.geobus, orchestrator, s.logger, DesktopID,
		s.config.Intervals.PermissionPoll)
	if err != nil {
		return fmt.Errorf("failed to create location platform: %w", err)
	}

	s.controller, err = location.NewController(s.platform, s.geocoder, s.logger, s.metrics)
	if err != nil {
		return fmt.Errorf("failed to create location controller: %w", err)
	}
	return nil
}

func (s *Service) createScheduledJob(ctx context.Context, interval time.Duration, task func(context.Context),
	jobName string,
) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(task),
		gocron.WithContext(ctx),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName(jobName),
	)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", jobName, err)
	}
	return nil
}

// printCurrent writes the output for the current controller state.
func (s *Service) printCurrent(context.Context) {
	s.printLocation(s.controller.Snapshot())
}

// printLocation renders snap and writes it as a single JSON line to the output.
func (s *Service) printLocation(snap location.Snapshot) {
	output, err := s.presenter.Render(snap)
	if err != nil {
		s.logger.Error("failed to render output", logger.Err(err))
		return
	}

	s.outputLock.Lock()
	defer s.outputLock.Unlock()
	if err = json.NewEncoder(s.output).Encode(output); err != nil {
		s.logger.Error("failed to encode location output", logger.Err(err))
		return
	}
	s.metrics.OutputsRendered.WithLabelValues(output.Alt).Inc()
}

// serveMetrics exposes the Prometheus metrics until ctx is cancelled.
func (s *Service) serveMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics.Handler())
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: metricsReadTimeout,
	}

	listener, err := net.Listen("tcp", s.config.Metrics.Listen)
	if err != nil {
		s.logger.Error("failed to listen for metrics requests", logger.Err(err),
			slog.String("address", s.config.Metrics.Listen))
		return
	}
	context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("failed to shut down metrics server", logger.Err(err))
		}
	})

	s.logger.Debug("serving metrics", slog.String("address", listener.Addr().String()))
	if err = server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("metrics server failed", logger.Err(err))
	}
}
