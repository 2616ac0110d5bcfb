// Package main is the entry point for the observation queue server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skip2/go-qrcode"

	_ "github.com/mattn/go-sqlite3"

	"github.com/eaobservatory/ocsqueue/internal/backend"
	"github.com/eaobservatory/ocsqueue/internal/buildinfo"
	"github.com/eaobservatory/ocsqueue/internal/config"
	"github.com/eaobservatory/ocsqueue/internal/events"
	"github.com/eaobservatory/ocsqueue/internal/msbcomplete"
	"github.com/eaobservatory/ocsqueue/internal/opstate"
	"github.com/eaobservatory/ocsqueue/internal/projectdb"
	"github.com/eaobservatory/ocsqueue/internal/publisher"
	"github.com/eaobservatory/ocsqueue/internal/queue"
	"github.com/eaobservatory/ocsqueue/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if flag.NArg() > 0 {
		switch flag.Arg(0) {
		case "serve":
			runServe(logger, *configPath)
			return
		case "version":
			fmt.Println(buildinfo.String())
			for k, v := range buildinfo.BuildInfo() {
				fmt.Printf("  %-12s %s\n", k+":", v)
			}
			return
		default:
			fmt.Fprintf(os.Stderr, "unknown command: %s\n", flag.Arg(0))
			os.Exit(1)
		}
	}

	runServe(logger, *configPath)
}

func runServe(logger *slog.Logger, configPath string) {
	logger.Info("starting queueserver", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			logger.Error("invalid log_level in config", "error", err)
			os.Exit(1)
		}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: config.ReplaceLogLevelNames,
		}))
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"telescope", cfg.Telescope,
		"backend_kind", cfg.Backend.Kind,
		"simdb", cfg.SimDB,
	)

	q := queue.NewContents()

	link, variant := newLink(cfg, logger)
	be := backend.New(link, q, variant, logger)

	db := newProjectDBClient(cfg, logger)

	audit, err := msbcomplete.OpenAuditStore(cfg.AuditDBPath)
	if err != nil {
		logger.Error("failed to open audit database", "path", cfg.AuditDBPath, "error", err)
		os.Exit(1)
	}
	defer audit.Close()

	tracker := msbcomplete.NewTracker(cfg.PendingAcceptsPath, db, audit, cfg.ProjectDB.Timeout(), logger)

	bus := events.New()
	pub := publisher.New(bus, publisher.Config{
		CellWidth:    cfg.Publisher.CellWidth,
		MaxSlots:     cfg.Publisher.MaxSlots,
		HistoryLimit: cfg.Publisher.HistoryLimit,
	}, logger)

	qidStore, err := opstate.NewStore(opstatePath(cfg))
	if err != nil {
		logger.Error("failed to open queue id store", "error", err)
		os.Exit(1)
	}
	defer qidStore.Close()

	srv := server.New(cfg, q, be, tracker, pub, bus, db, qidStore, logger)

	if err := writeMonitorQRCode(cfg, logger); err != nil {
		logger.Warn("failed to write monitor QR code", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go srv.Run(ctx)

	httpServer := &http.Server{
		Addr:         cfg.CommandListen,
		Handler:      server.NewRouter(srv),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", "command_listen", cfg.CommandListen, "monitor_listen", cfg.MonitorListen)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}

	logger.Info("queueserver stopped")
}

// newLink picks the Link transport per cfg.Backend.Kind: a live MQTT
// connection to the instrument controller for "instrument"/"scuba", or an
// in-process FakeLink for "sim" (dry-run/testing, §4.9 supplement).
func newLink(cfg *config.Config, logger *slog.Logger) (backend.Link, backend.Variant) {
	switch cfg.Backend.Kind {
	case "instrument":
		link := backend.NewMQTTLink(backend.MQTTConfig{
			Broker:      cfg.Backend.MQTT.Broker,
			ClientID:    cfg.Backend.MQTT.ClientID,
			TopicPrefix: cfg.Backend.MQTT.TopicPrefix,
			Username:    cfg.Backend.MQTT.Username,
			Password:    cfg.Backend.MQTT.Password,
		}, logger)
		return link, backend.VariantInstrumentTask
	case "scuba":
		link := backend.NewMQTTLink(backend.MQTTConfig{
			Broker:      cfg.Backend.MQTT.Broker,
			ClientID:    cfg.Backend.MQTT.ClientID,
			TopicPrefix: cfg.Backend.MQTT.TopicPrefix,
			Username:    cfg.Backend.MQTT.Username,
			Password:    cfg.Backend.MQTT.Password,
		}, logger)
		return link, backend.VariantSCUBATask
	default:
		logger.Info("running against a simulated backend (no live broker)")
		return backend.NewFakeLink(64), backend.VariantInstrumentTask
	}
}

// newProjectDBClient picks the real HTTP client or the simdb dry-run
// client (§9 glossary "simdb").
func newProjectDBClient(cfg *config.Config, logger *slog.Logger) projectdb.Client {
	if cfg.SimDB {
		logger.Info("running against a simulated project database (simdb)")
		return projectdb.NewSimClient(logger)
	}
	return projectdb.NewHTTPClient(cfg.ProjectDB.BaseURL, cfg.ProjectDB.Timeout(), logger)
}

// opstatePath derives the queue-id counter's SQLite path from the audit
// database's directory, so the two small stores live side by side.
func opstatePath(cfg *config.Config) string {
	return cfg.AuditDBPath + ".opstate"
}

// writeMonitorQRCode writes a PNG QR code encoding the monitor websocket
// URL to cfg.QRCodeOutputPath, if configured, so an operator can scan it
// from a handheld device rather than typing the URL (§6 supplement).
func writeMonitorQRCode(cfg *config.Config, logger *slog.Logger) error {
	if cfg.QRCodeOutputPath == "" {
		return nil
	}
	url := fmt.Sprintf("ws://%s/monitor", cfg.MonitorListen)
	if err := qrcode.WriteFile(url, qrcode.Medium, 256, cfg.QRCodeOutputPath); err != nil {
		return fmt.Errorf("write monitor qr code: %w", err)
	}
	logger.Info("monitor QR code written", "path", cfg.QRCodeOutputPath, "url", url)
	return nil
}
