package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"livecast/internal/core/ports"
	"livecast/internal/core/session"
	httphandlers "livecast/internal/handlers/http"
	"livecast/internal/infrastructure/channel"
	"livecast/internal/infrastructure/monitoring"
	"livecast/internal/infrastructure/registry"
	"livecast/internal/infrastructure/render"
	"livecast/internal/infrastructure/room"
	"livecast/pkg/config"
	"livecast/pkg/logger"
	"livecast/pkg/retry"
	"livecast/pkg/tracing"
)

func main() {
	configPath := "configs/config.yaml"
	if v := os.Getenv("LIVECAST_CONFIG"); v != "" {
		configPath = v
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "livecast-viewer",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to init tracing", "error", err)
	}

	username := os.Getenv("LIVECAST_USERNAME")
	if username == "" {
		username = "viewer"
	}

	registryClient := registry.NewClient(registry.Options{
		BaseURL:        cfg.Backend.BaseURL,
		Token:          cfg.Token,
		RequestTimeout: cfg.Backend.RequestTimeout,
		CreateRetries:  cfg.Backend.CreateRetries,
	}, log)

	channelClient := channel.NewClient(channel.Options{
		URL:          cfg.Channel.URL,
		Token:        cfg.Token,
		PingInterval: cfg.Channel.PingInterval,
		PongTimeout:  cfg.Channel.PongTimeout,
		WriteTimeout: cfg.Channel.WriteTimeout,
		Reconnect: retry.Config{
			InitialDelay: cfg.Channel.Reconnect.InitialDelay,
			MaxDelay:     cfg.Channel.Reconnect.MaxDelay,
			Multiplier:   cfg.Channel.Reconnect.Multiplier,
			Jitter:       true,
		},
	}, log)

	var iceServers []string
	for _, s := range cfg.Room.ICEServers {
		iceServers = append(iceServers, s.URLs...)
	}
	roomClient := room.NewClient(room.Options{
		ICEServers:     iceServers,
		ConnectTimeout: cfg.Room.ConnectTimeout,
	}, log)

	var sink ports.TrackSink
	if cfg.Recording.Enabled {
		sink, err = render.NewRecorder(cfg.Recording.Dir, log)
		if err != nil {
			log.Fatalw("failed to init recorder", "error", err)
		}
	} else {
		sink = render.NewPlayback(log)
	}

	var metrics session.Metrics = session.Nop
	if cfg.Monitoring.PrometheusEnabled {
		metrics = monitoring.NewPrometheusCollector()
	}

	viewer := session.NewViewer(session.ViewerConfig{
		Username:        username,
		HeartDisplay:    cfg.Hearts.DisplayDuration,
		HeartsPerSecond: cfg.Hearts.SendsPerSecond,
		HeartBurst:      cfg.Hearts.Burst,
		CoHostTTL:       cfg.CoHost.PendingTTL,
		RoomTimeout:     cfg.Room.ConnectTimeout,
	}, registryClient, channelClient, roomClient, sink, metrics, log)

	router := httphandlers.NewRouter(httphandlers.RouterOptions{
		Logger:            log,
		PrometheusEnabled: cfg.Monitoring.PrometheusEnabled,
	})
	httphandlers.NewViewerHandler(viewer).SetupRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Control.Address,
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("viewer control surface listening", "address", cfg.Control.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("control surface failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Control.ShutdownTimeout)
	defer cancel()

	if err := viewer.Leave(shutdownCtx); err != nil {
		log.Warnw("session leave during shutdown", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnw("control surface shutdown", "error", err)
	}
	if tp != nil {
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warnw("tracer shutdown", "error", err)
		}
	}
}
