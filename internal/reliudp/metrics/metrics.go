// Package metrics exposes connection-level gauges and counters over HTTP
// in the Prometheus exposition format.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the metric instruments for one endpoint. A fresh
// registry is used per endpoint instance so concurrent sender/receiver
// processes in the same binary (as in tests) never collide on metric
// names.
type Collector struct {
	registry *prometheus.Registry

	Cwnd             prometheus.Gauge
	Ssthresh         prometheus.Gauge
	SRTT             prometheus.Gauge
	RTO              prometheus.Gauge
	AdvertisedWindow prometheus.Gauge
	BytesSent        prometheus.Counter
	BytesReceived    prometheus.Counter
	Retransmissions  prometheus.Counter
	DuplicateAcks    prometheus.Counter
	FastRetransmits  prometheus.Counter
	Timeouts         prometheus.Counter
}

// NewCollector builds and registers the full instrument set.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		Cwnd: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flowudp_cwnd_segments",
			Help: "Current congestion window, in segments.",
		}),
		Ssthresh: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flowudp_ssthresh_segments",
			Help: "Current slow-start threshold, in segments.",
		}),
		SRTT: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flowudp_srtt_seconds",
			Help: "Smoothed round-trip time.",
		}),
		RTO: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flowudp_rto_seconds",
			Help: "Current retransmission timeout.",
		}),
		AdvertisedWindow: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flowudp_advertised_window_segments",
			Help: "Advertised window in segments: the peer's last one on a sender, this endpoint's own on a receiver.",
		}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowudp_bytes_sent_total",
			Help: "Total payload bytes transmitted.",
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowudp_bytes_received_total",
			Help: "Total payload bytes delivered to the application.",
		}),
		Retransmissions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowudp_retransmissions_total",
			Help: "Total base-segment retransmissions, timeout or fast.",
		}),
		DuplicateAcks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowudp_duplicate_acks_total",
			Help: "Total duplicate cumulative ACKs observed.",
		}),
		FastRetransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowudp_fast_retransmits_total",
			Help: "Total fast retransmits triggered by the third duplicate ACK.",
		}),
		Timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowudp_timeouts_total",
			Help: "Total retransmission-timeout events.",
		}),
	}

	reg.MustRegister(
		c.Cwnd, c.Ssthresh, c.SRTT, c.RTO, c.AdvertisedWindow,
		c.BytesSent, c.BytesReceived, c.Retransmissions,
		c.DuplicateAcks, c.FastRetransmits, c.Timeouts,
	)
	return c
}

// Serve starts an HTTP server exposing /metrics on addr. It runs until ctx
// is cancelled, at which point it shuts down with a short grace period.
func (c *Collector) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
