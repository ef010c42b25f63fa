// Command flowrecv listens for a single flowudp sender and reconstructs
// its byte stream into a file.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/flowudp/flowudp/internal/reliudp/config"
	"github.com/flowudp/flowudp/internal/reliudp/endpoint"
	"github.com/flowudp/flowudp/internal/reliudp/harness"
	"github.com/flowudp/flowudp/internal/reliudp/metrics"
	"github.com/flowudp/flowudp/internal/reliudp/tracing"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "flowrecv:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to an optional YAML config file")
	flag.Parse()

	args := flag.Args()
	if len(args) < 2 {
		return fmt.Errorf("usage: flowrecv [--config path] <listen_port> <output_file> [packet_loss_rate]")
	}
	listenPort, outputPath := args[0], args[1]

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if len(args) >= 3 {
		rate, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return fmt.Errorf("invalid packet_loss_rate %q: %w", args[2], err)
		}
		cfg.PacketLossRate = rate
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()

	outFile, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", outputPath, err)
	}
	defer outFile.Close()

	tracer, err := tracing.New(tracing.Config{ServiceName: "flowrecv", Enabled: cfg.MetricsAddr != "", Writer: os.Stdout})
	if err != nil {
		return fmt.Errorf("building tracer: %w", err)
	}
	defer tracer.Shutdown(context.Background())

	collector := metrics.NewCollector()
	if cfg.MetricsAddr != "" {
		metricsCtx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			if err := collector.Serve(metricsCtx, cfg.MetricsAddr); err != nil {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	var lossSim *harness.LossSimulator
	if cfg.PacketLossRate > 0 {
		lossSim = harness.NewLossSimulator(cfg.PacketLossRate, cfg.LossSeed)
		logger.Info("loss simulation enabled", zap.Float64("rate", cfg.PacketLossRate))
	}

	opts := endpoint.Options{
		MaxRetries:        cfg.MaxRetries,
		HandshakeTimeout:  cfg.HandshakeTimeout,
		TeardownTimeout:   cfg.TeardownTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxWindowSegments: cfg.MaxWindowSegments,
	}

	listenAddr := net.JoinHostPort("", listenPort)
	receiver, err := endpoint.NewReceiver(listenAddr, lossSim, logger, opts)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", listenAddr, err)
	}
	defer receiver.Close()
	receiver.Metrics = collector
	receiver.Tracer = tracer

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("awaiting connection", zap.String("addr", listenAddr))
	if err := receiver.Accept(ctx); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	start := time.Now()
	if err := receiver.ReceiveStream(ctx, outFile); err != nil {
		return fmt.Errorf("transfer: %w", err)
	}
	elapsed := time.Since(start)

	stats := receiver.Statistics()
	logger.Info("transfer complete",
		zap.Duration("elapsed", elapsed),
		zap.Uint64("bytes_received", stats.BytesRecv),
		zap.Uint64("packets_received", stats.PacketsRecv),
	)
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	var lvl zap.AtomicLevel
	if err := lvl.UnmarshalText([]byte(level)); err == nil {
		cfg.Level = lvl
	}
	return cfg.Build()
}
