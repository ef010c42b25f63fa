// Package protocol implements the wire format of the reliable UDP transport.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const (
	// HeaderSize is the fixed on-wire header size in bytes.
	HeaderSize = 14

	// MaxPacketSize is the maximum size of a single datagram, header included.
	MaxPacketSize = 1024

	// MaxPayloadSize is the maximum number of payload bytes carried by one packet.
	MaxPayloadSize = MaxPacketSize - HeaderSize
)

// Type identifies the role of a packet on the wire.
type Type uint32

const (
	Data Type = iota
	Ack
	Syn
	Fin
)

func (t Type) String() string {
	switch t {
	case Data:
		return "DATA"
	case Ack:
		return "ACK"
	case Syn:
		return "SYN"
	case Fin:
		return "FIN"
	default:
		return "UNKNOWN"
	}
}

// ErrTooShort is returned when a datagram is smaller than HeaderSize.
var ErrTooShort = errors.New("protocol: datagram shorter than header")

// ErrUnknownType is returned when the type tag does not match a known Type.
var ErrUnknownType = errors.New("protocol: unknown type tag")

// Packet is the transport's only wire unit. Timestamp is attached locally on
// send or decode and never travels on the wire.
type Packet struct {
	SeqNum    uint32
	AckNum    uint32
	Type      Type
	Window    uint16
	Payload   []byte
	Timestamp time.Time
}

// New builds a packet ready for transmission; Timestamp is left zero until
// the caller stamps it at send time.
func New(seq, ack uint32, typ Type, window uint16, payload []byte) *Packet {
	return &Packet{
		SeqNum:  seq,
		AckNum:  ack,
		Type:    typ,
		Window:  window,
		Payload: payload,
	}
}

// Encode serializes the packet to big-endian wire bytes. Encoding is total:
// it never fails, even for an oversized payload (callers are expected to
// respect MaxPayloadSize before calling Encode).
func (p *Packet) Encode() []byte {
	buf := make([]byte, HeaderSize+len(p.Payload))
	binary.BigEndian.PutUint32(buf[0:4], p.SeqNum)
	binary.BigEndian.PutUint32(buf[4:8], p.AckNum)
	binary.BigEndian.PutUint32(buf[8:12], uint32(p.Type))
	binary.BigEndian.PutUint16(buf[12:14], p.Window)
	copy(buf[HeaderSize:], p.Payload)
	return buf
}

// Decode parses a datagram into a Packet, stamping Timestamp at decode time.
// A datagram shorter than HeaderSize or carrying an unrecognized type tag is
// rejected; callers must drop such datagrams silently per the transport's
// error handling policy.
func Decode(data []byte) (*Packet, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrTooShort, len(data))
	}

	typ := Type(binary.BigEndian.Uint32(data[8:12]))
	if typ > Fin {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, typ)
	}

	payload := data[HeaderSize:]
	p := &Packet{
		SeqNum:    binary.BigEndian.Uint32(data[0:4]),
		AckNum:    binary.BigEndian.Uint32(data[4:8]),
		Type:      typ,
		Window:    binary.BigEndian.Uint16(data[12:14]),
		Timestamp: time.Now(),
	}
	if len(payload) > 0 {
		p.Payload = append([]byte(nil), payload...)
	}
	return p, nil
}

func (p *Packet) String() string {
	return fmt.Sprintf("Packet{seq=%d ack=%d type=%s window=%d payload=%dB}",
		p.SeqNum, p.AckNum, p.Type, p.Window, len(p.Payload))
}
