//go:build linux

// Command serial-echo reads newline or carriage-return terminated lines from
// a serial device and writes each cleaned line back to it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	serial "github.com/luhtfiimanal/go-serial-echo"
	"github.com/luhtfiimanal/go-serial-echo/internal/config"
	"github.com/luhtfiimanal/go-serial-echo/internal/logging"
	"github.com/luhtfiimanal/go-serial-echo/internal/mirror"
)

func main() {
	configPath := flag.String("config", os.Getenv("SERIAL_ECHO_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.WithDevice(logging.NewLogger(cfg.Log.Format, cfg.Log.Level, os.Stderr), cfg.Device)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("serial-echo stopped", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	opts := []serial.EchoerOption{
		serial.WithLogger(logger),
		serial.WithCapacity(cfg.BufferCapacity),
		serial.WithSuffix(cfg.Echo.Suffix),
		serial.WithSkipEmpty(cfg.Echo.SkipEmpty),
	}

	if cfg.MetricsEnabled() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts = append(opts, serial.WithMetrics(serial.NewMetrics(reg)))

		srv := serveMetrics(cfg.Metrics.Listen, cfg.Metrics.Path, reg, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	if cfg.MirrorEnabled() {
		m, err := mirror.Dial(mirror.Options{
			Broker:         cfg.Mirror.Broker,
			ClientID:       cfg.Mirror.ClientID,
			Username:       cfg.Mirror.Username,
			Password:       cfg.Mirror.Password,
			Topic:          cfg.Mirror.Topic,
			QoS:            cfg.Mirror.QoS,
			ConnectTimeout: cfg.Mirror.ConnectTimeout,
		})
		if err != nil {
			return fmt.Errorf("mirror: %w", err)
		}
		defer m.Close(250)
		logger.Info("mirroring lines", "broker", cfg.Mirror.Broker, "topic", cfg.Mirror.Topic)
		opts = append(opts, serial.WithMirror(m))
	}

	logger.Info("opening serial port", "baud", cfg.BaudRate)
	port, err := serial.Open(serial.Config{
		Device:         cfg.Device,
		BaudRate:       cfg.BaudRate,
		BufferCapacity: cfg.BufferCapacity,
	})
	if err != nil {
		return fmt.Errorf("open %s: %w", cfg.Device, err)
	}
	defer func() {
		port.Close()
		logger.Info("serial port closed")
	}()

	echoer := serial.NewEchoer(port, opts...)

	// All chunks are handled on this one goroutine, which keeps HandleChunk serialized.
	readErr := make(chan error, 1)
	go func() {
		port.ReadChunksLoop(echoer.HandleChunk, func(err error) { readErr <- err })
		close(readErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		port.Close()
		<-readErr
		return nil
	case err, ok := <-readErr:
		if !ok {
			return nil
		}
		return fmt.Errorf("read: %w", err)
	}
}

func serveMetrics(addr, path string, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("serving metrics", "addr", addr, "path", path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "err", err)
		}
	}()
	return srv
}
