// Package endpoint implements the connection state machine and the
// sender/receiver driver loops exposed to the application. It composes the
// lower components (protocol, rtt, congestion, reliability, transport)
// rather than inheriting from a shared base type.
package endpoint

import (
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/flowudp/flowudp/internal/reliudp/congestion"
	"github.com/flowudp/flowudp/internal/reliudp/rtt"
	"github.com/flowudp/flowudp/internal/reliudp/transport"
)

const (
	// MaxRetries is the number of consecutive base-segment retransmissions
	// tolerated before the connection is declared broken.
	MaxRetries = 10

	// HandshakeTimeout bounds the three-way handshake.
	HandshakeTimeout = 5 * time.Second

	// TeardownTimeout bounds the best-effort FIN exchange.
	TeardownTimeout = 5 * time.Second

	// IdleTimeout is how long the receiver tolerates silence mid-transfer.
	IdleTimeout = 30 * time.Second

	// MaxWindowSegments is the receiver's reassembly capacity and the
	// window each side advertises, in segments. The congestion window has
	// its own cap, congestion.MaxWindowSegments.
	MaxWindowSegments = 64
)

// Options bundles the deployment-configurable tunables for an Endpoint.
// Callers build these from a loaded config.Config rather than reaching for
// the package constants directly, so a --config file actually changes
// runtime behavior.
type Options struct {
	MaxRetries        int
	HandshakeTimeout  time.Duration
	TeardownTimeout   time.Duration
	IdleTimeout       time.Duration
	MaxWindowSegments uint32
}

// DefaultOptions returns the tunables implied directly by the wire
// specification's own constants, matching config.Default().
func DefaultOptions() Options {
	return Options{
		MaxRetries:        MaxRetries,
		HandshakeTimeout:  HandshakeTimeout,
		TeardownTimeout:   TeardownTimeout,
		IdleTimeout:       IdleTimeout,
		MaxWindowSegments: MaxWindowSegments,
	}
}

// Endpoint bundles the state shared by a Sender and a Receiver: the socket,
// the ISN, the RTT estimator, the congestion controller, the deployment
// tunables, and a correlation ID used only for logging and tracing, never
// transmitted on the wire.
type Endpoint struct {
	Conn       *transport.Conn
	RTT        *rtt.Estimator
	Congestion *congestion.Controller
	ISN        uint32
	GUID       uuid.UUID
	Logger     *zap.Logger
	State      State
	Opts       Options
}

// newISN draws the initial sequence number uniformly from [0, 100000].
func newISN() uint32 {
	return uint32(rand.Intn(100001))
}

func newShared(conn *transport.Conn, logger *zap.Logger, opts Options) *Endpoint {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.New()
	return &Endpoint{
		Conn:       conn,
		RTT:        rtt.New(),
		Congestion: congestion.New(),
		ISN:        newISN(),
		GUID:       id,
		Logger:     logger.With(zap.String("conn_id", id.String())),
		State:      StateClosed,
		Opts:       opts,
	}
}

// State names one of the five connection states (spec §4.6).
type State string

const (
	StateClosed      State = "CLOSED"
	StateSynSent     State = "SYN_SENT"
	StateSynReceived State = "SYN_RECEIVED"
	StateEstablished State = "ESTABLISHED"
	StateFinSent     State = "FIN_SENT"
)
