package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/micro-ha/follower-watch/internal/broker"
	"github.com/micro-ha/follower-watch/internal/calibration"
	"github.com/micro-ha/follower-watch/internal/config"
	httpapi "github.com/micro-ha/follower-watch/internal/http"
	"github.com/micro-ha/follower-watch/internal/http/handlers"
	"github.com/micro-ha/follower-watch/internal/identity"
	"github.com/micro-ha/follower-watch/internal/location"
	"github.com/micro-ha/follower-watch/internal/logging"
	"github.com/micro-ha/follower-watch/internal/notify"
	"github.com/micro-ha/follower-watch/internal/oui"
	"github.com/micro-ha/follower-watch/internal/pipeline"
	"github.com/micro-ha/follower-watch/internal/scanner"
	"github.com/micro-ha/follower-watch/internal/scheduler"
	detectionservice "github.com/micro-ha/follower-watch/internal/services/detection"
	"github.com/micro-ha/follower-watch/internal/settings"
	"github.com/micro-ha/follower-watch/internal/storage"
	"github.com/micro-ha/follower-watch/internal/timeutil"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.DBDir(), 0o755); err != nil {
		logger.Error("failed to create db directory", "err", err)
		os.Exit(1)
	}

	repo, err := storage.New(ctx, cfg.DBPath, logger)
	if err != nil {
		logger.Error("failed to initialize storage", "err", err)
		os.Exit(1)
	}
	defer repo.Close()

	ouiDB, err := oui.LoadEmbedded()
	if err != nil {
		logger.Error("failed to load oui db", "err", err)
		os.Exit(1)
	}

	clock := timeutil.RealClock{}
	settingsManager := settings.NewManager(repo, clock, logging.Component(logger, "settings"))
	if _, err := settingsManager.Refresh(ctx); err != nil {
		logger.Warn("initial settings load failed; using defaults", "err", err)
	}

	tracker := location.NewTracker(clock, cfg.LocationMaxAge)
	resolver := identity.New(identity.DefaultOptions(), logging.Component(logger, "identity"))

	pipe := pipeline.New(repo, tracker, settingsManager, pipeline.Options{
		AlertCooldown:           cfg.AlertCooldown,
		ScoringWindow:           cfg.ScoringWindow,
		MovementThresholdMeters: cfg.MovementThresholdM,
		DisappearAfter:          cfg.DisappearAfter,
		Retention:               cfg.RetentionWindow,
		Clock:                   clock,
		Resolver:                resolver,
		Vendors:                 ouiDB,
	}, logging.Component(logger, "pipeline"))

	calibrator := calibration.New(repo, settingsManager, clock, calibration.DefaultOptions(), logging.Component(logger, "calibration"))
	pipe.SetCalibration(calibrator)

	hub := notify.NewHub(logging.Component(logger, "stream"))
	defer hub.Close()
	sinks := notify.Fanout{hub}

	var mqttClient mqtt.Client
	if cfg.MQTT.Enabled() {
		mqttClient, err = broker.Connect(cfg.MQTT, logging.Component(logger, "mqtt"))
		if err != nil {
			logger.Warn("mqtt unavailable; alerts stay local", "broker", cfg.MQTT.Broker, "err", err)
		} else {
			defer mqttClient.Disconnect(250)
			sinks = append(sinks, notify.NewMQTTNotifier(mqttClient, cfg.AlertTopic, logging.Component(logger, "mqtt")))
		}
	}
	pipe.SetNotifier(sinks)

	svc := detectionservice.New(repo, pipe, tracker, settingsManager, clock, logging.Component(logger, "detection"))
	svc.Start()

	jobs := scheduler.New(svc, calibrator, cfg.MaintenanceInterval, logging.Component(logger, "scheduler"))
	go jobs.Run(ctx)

	if mqttClient != nil {
		source := scanner.NewMQTTSource(mqttClient, cfg.ObservationTopic, svc, logging.Component(logger, "mqtt-source"))
		go func() {
			if err := source.Run(ctx); err != nil {
				logger.Error("mqtt observation source stopped", "err", err)
			}
		}()
	}
	if cfg.CapturePcap != "" {
		source := scanner.NewPcapSource(cfg.CapturePcap, svc, pipe, logging.Component(logger, "capture"))
		go func() {
			if err := source.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("capture replay failed", "path", cfg.CapturePcap, "err", err)
			}
		}()
	}

	api := handlers.New(svc, settingsManager, calibrator, hub, logging.Component(logger, "http"))
	httpServer := httpapi.NewServer(cfg.HTTPAddr, httpapi.NewRouter(api))

	logger.Info("server starting", "addr", httpServer.Addr)
	if err := httpapi.RunServer(ctx, httpServer, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated with error", "err", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
