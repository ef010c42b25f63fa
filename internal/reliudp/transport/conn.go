// Package transport wraps a UDP socket with the packet-level send/receive
// operations the connection state machine drives.
package transport

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/flowudp/flowudp/internal/reliudp/protocol"
)

// ErrShortDatagram names a datagram too small to carry a valid header.
// ReceiveWithTimeout does not return it: a malformed datagram is counted
// and reported as (nil, from, nil).
var ErrShortDatagram = errors.New("transport: short datagram")

// Conn owns one UDP socket for the lifetime of a connection. It is mutated
// only by the driver loop that owns it; Statistics is safe to call
// concurrently for observability.
type Conn struct {
	sock *net.UDPConn

	mu         sync.RWMutex
	remoteAddr *net.UDPAddr

	statsMu       sync.Mutex
	packetsSent   uint64
	packetsRecv   uint64
	bytesSent     uint64
	bytesRecv     uint64
	malformedDrop uint64
}

// Listen opens a UDP socket bound to the given local address, suitable for
// a receiver awaiting an inbound handshake.
func Listen(localAddr string) (*Conn, error) {
	addr, err := net.ResolveUDPAddr("udp", localAddr)
	if err != nil {
		return nil, err
	}
	sock, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	return &Conn{sock: sock}, nil
}

// Dial opens a UDP socket with an ephemeral local port and records
// remoteAddr as the peer the connection will talk to.
func Dial(remoteAddr string) (*Conn, error) {
	addr, err := net.ResolveUDPAddr("udp", remoteAddr)
	if err != nil {
		return nil, err
	}
	sock, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, err
	}
	return &Conn{sock: sock, remoteAddr: addr}, nil
}

// SetRemoteAddr fixes the peer address once it is learned (the receiver
// learns it from the first SYN's source address).
func (c *Conn) SetRemoteAddr(addr *net.UDPAddr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remoteAddr = addr
}

// RemoteAddr returns the currently known peer address, or nil before it is
// learned.
func (c *Conn) RemoteAddr() *net.UDPAddr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.remoteAddr
}

// LocalAddr returns the socket's local address.
func (c *Conn) LocalAddr() *net.UDPAddr {
	return c.sock.LocalAddr().(*net.UDPAddr)
}

// Send encodes and writes pkt to the current remote address.
func (c *Conn) Send(pkt *protocol.Packet) error {
	remote := c.RemoteAddr()
	if remote == nil {
		return errors.New("transport: no remote address set")
	}
	return c.SendTo(pkt, remote)
}

// SendTo encodes and writes pkt to an explicit address, used by the
// receiver before it has locked in a single peer.
func (c *Conn) SendTo(pkt *protocol.Packet, addr *net.UDPAddr) error {
	data := pkt.Encode()
	n, err := c.sock.WriteToUDP(data, addr)
	if err != nil {
		return err
	}
	c.statsMu.Lock()
	c.packetsSent++
	c.bytesSent += uint64(n)
	c.statsMu.Unlock()
	return nil
}

// ReceiveWithTimeout blocks for at most timeout waiting for one datagram.
// A timeout returns (nil, nil, nil). A malformed datagram (too short or an
// unknown type tag) is counted and returns (nil, from, nil) with no error,
// so callers can tell "nothing arrived" (nil from) from "garbage arrived"
// (non-nil from) while both are non-fatal.
func (c *Conn) ReceiveWithTimeout(timeout time.Duration) (*protocol.Packet, *net.UDPAddr, error) {
	buf := make([]byte, protocol.MaxPacketSize)

	if err := c.sock.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, nil, err
	}

	n, from, err := c.sock.ReadFromUDP(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, nil, nil
		}
		return nil, nil, err
	}

	c.statsMu.Lock()
	c.packetsRecv++
	c.bytesRecv += uint64(n)
	c.statsMu.Unlock()

	pkt, decodeErr := protocol.Decode(buf[:n])
	if decodeErr != nil {
		c.statsMu.Lock()
		c.malformedDrop++
		c.statsMu.Unlock()
		return nil, from, nil
	}
	return pkt, from, nil
}

// Close releases the underlying socket.
func (c *Conn) Close() error {
	return c.sock.Close()
}

// Statistics is a point-in-time snapshot of socket-level counters.
type Statistics struct {
	PacketsSent   uint64
	PacketsRecv   uint64
	BytesSent     uint64
	BytesRecv     uint64
	MalformedDrop uint64
}

// Statistics returns a snapshot safe to read concurrently with the driver
// loop.
func (c *Conn) Statistics() Statistics {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return Statistics{
		PacketsSent:   c.packetsSent,
		PacketsRecv:   c.packetsRecv,
		BytesSent:     c.bytesSent,
		BytesRecv:     c.bytesRecv,
		MalformedDrop: c.malformedDrop,
	}
}
