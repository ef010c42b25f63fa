// Command flowsend transmits a file, or a synthetic byte pattern, to a
// flowudp receiver over an unreliable UDP path.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/flowudp/flowudp/internal/reliudp/config"
	"github.com/flowudp/flowudp/internal/reliudp/endpoint"
	"github.com/flowudp/flowudp/internal/reliudp/metrics"
	"github.com/flowudp/flowudp/internal/reliudp/tracing"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "flowsend:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to an optional YAML config file")
	flag.Parse()

	// The positional syntax is <server_ip> <server_port> <file_path> or
	// <server_ip> <server_port> --synthetic <bytes>; --synthetic is parsed
	// by hand because flag.Parse stops at the first positional argument.
	args := flag.Args()
	if len(args) < 3 {
		return fmt.Errorf("usage: flowsend [--config path] <server_ip> <server_port> <file_path> | --synthetic <bytes>")
	}
	serverIP, serverPort := args[0], args[1]

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()

	var source io.Reader
	var total int64
	switch {
	case args[2] == "--synthetic" && len(args) >= 4:
		n, err := strconv.ParseInt(args[3], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid --synthetic byte count %q: %w", args[3], err)
		}
		source = io.LimitReader(&patternReader{}, n)
		total = n
	default:
		f, err := os.Open(args[2])
		if err != nil {
			return fmt.Errorf("opening %s: %w", args[2], err)
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			return err
		}
		source = f
		total = info.Size()
	}

	tracer, err := tracing.New(tracing.Config{ServiceName: "flowsend", Enabled: cfg.MetricsAddr != "", Writer: os.Stdout})
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

	opts := endpoint.Options{
		MaxRetries:        cfg.MaxRetries,
		HandshakeTimeout:  cfg.HandshakeTimeout,
		TeardownTimeout:   cfg.TeardownTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxWindowSegments: cfg.MaxWindowSegments,
	}

	remoteAddr := net.JoinHostPort(serverIP, serverPort)
	sender, err := endpoint.NewSender(remoteAddr, logger, opts)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", remoteAddr, err)
	}
	defer sender.Close()
	sender.Metrics = collector
	sender.Tracer = tracer

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("connecting", zap.String("remote", remoteAddr))
	if err := sender.Connect(ctx); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	var bar *progressbar.ProgressBar
	if total > 0 {
		bar = progressbar.DefaultBytes(total, "sending")
		source = io.TeeReader(source, bar)
	}

	start := time.Now()
	if err := sender.SendStream(ctx, source); err != nil {
		return fmt.Errorf("transfer: %w", err)
	}
	elapsed := time.Since(start)

	stats := sender.Statistics()
	logger.Info("transfer complete",
		zap.Duration("elapsed", elapsed),
		zap.Uint64("bytes_sent", stats.BytesSent),
		zap.Uint64("packets_sent", stats.PacketsSent),
	)
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if l, err := zapLevel(level); err == nil {
		cfg.Level = l
	}
	return cfg.Build()
}

func zapLevel(s string) (zap.AtomicLevel, error) {
	var lvl zap.AtomicLevel
	err := lvl.UnmarshalText([]byte(s))
	return lvl, err
}

// patternReader emits the repeating 0x00..0xFF byte pattern used by the
// synthetic-data mode, matching the reference client's synthetic payload.
type patternReader struct {
	off int // position in the pattern where the next Read resumes
}

func (r *patternReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte((r.off + i) % 256)
	}
	r.off = (r.off + len(p)) % 256
	return len(p), nil
}
