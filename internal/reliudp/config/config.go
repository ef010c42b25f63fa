// Package config loads the optional tunables for a flowudp endpoint.
// Every field has a sane default so a missing or absent config file still
// produces a correct, conservative endpoint.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the tunables a deployment may override. Wire-format
// constants (header size, max payload) are not here: those are protocol
// invariants, not deployment knobs.
type Config struct {
	// MaxWindowSegments is the receiver's reassembly capacity and the
	// window each endpoint advertises, in segments. It does not bound the
	// congestion window, which has its own fixed cap.
	MaxWindowSegments uint32 `yaml:"max_window_segments"`

	// MaxRetries is the number of consecutive retransmissions of the base
	// segment tolerated before the connection is declared broken.
	MaxRetries int `yaml:"max_retries"`

	// HandshakeTimeout bounds how long the client waits for a SYN-ACK and
	// the server waits for the handshake ACK.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	// TeardownTimeout bounds how long the client waits for a FIN reply.
	TeardownTimeout time.Duration `yaml:"teardown_timeout"`

	// IdleTimeout is how long the receiver tolerates silence mid-transfer
	// before closing the connection as if a FIN had arrived.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// PacketLossRate enables the receiver-side loss simulation hook when
	// non-zero; it has no effect unless the receiver CLI opts in.
	PacketLossRate float64 `yaml:"packet_loss_rate"`

	// LossSeed seeds the loss simulator's PRNG for reproducible test runs.
	LossSeed int64 `yaml:"loss_seed"`

	// MetricsAddr, if non-empty, is the address the metrics HTTP server
	// listens on.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel selects the zap level: "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration implied directly by the wire
// specification's constants.
func Default() *Config {
	return &Config{
		MaxWindowSegments: 64,
		MaxRetries:        10,
		HandshakeTimeout:  5 * time.Second,
		TeardownTimeout:   5 * time.Second,
		IdleTimeout:       30 * time.Second,
		PacketLossRate:    0,
		LossSeed:          1,
		MetricsAddr:       "",
		LogLevel:          "info",
	}
}

// Load reads a YAML config file at path, starting from Default and
// overriding only the fields present in the file. A missing file is not an
// error; Load simply returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
