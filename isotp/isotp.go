// Package isotp implements ISO 15765-2 segmentation and reassembly of UDS
// payloads over canbus.Frame, adapted from husk's single-frame/first-frame/
// flow-control send loop and generalized to per-endpoint tx/rx ids, block
// size and explicit deadlines.
package isotp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"candiag/canbus"

	"github.com/sirupsen/logrus"
)

// PCI frame type nibbles.
const (
	pciSingleFrame     byte = 0x0
	pciFirstFrame      byte = 0x1
	pciConsecutive     byte = 0x2
	pciFlowControl     byte = 0x3
)

// Flow status values carried in a flow-control frame's low PCI nibble.
const (
	FlowStatusContinue byte = 0x0
	FlowStatusWait     byte = 0x1
	FlowStatusOverflow byte = 0x2
)

// MaxPayload is the largest payload a first-frame length field can encode.
const MaxPayload = 0x0FFF

var (
	// ErrProtocol covers malformed/unexpected frames: short frames, bad
	// PCI types, sequence mismatches, flow-control overflow.
	ErrProtocol = errors.New("isotp: protocol error")
	// ErrTimeout covers missed deadlines waiting for flow control or the
	// next frame.
	ErrTimeout = errors.New("isotp: timeout")
	// ErrPayloadTooLarge is returned when a send's payload exceeds
	// MaxPayload.
	ErrPayloadTooLarge = errors.New("isotp: payload exceeds 4095 bytes")
)

// ProtocolError wraps ErrProtocol with detail for logging/inspection.
type ProtocolError struct {
	Detail string
}

func (e *ProtocolError) Error() string { return "isotp: protocol error: " + e.Detail }
func (e *ProtocolError) Unwrap() error { return ErrProtocol }

func protoErr(format string, args ...any) error {
	return &ProtocolError{Detail: fmt.Sprintf(format, args...)}
}

// Transport binds a CAN transport to a pair of tx/rx arbitration ids and
// performs ISO-TP segmentation/reassembly across them.
type Transport struct {
	can       canbus.Transport
	txID      uint32
	rxID      uint32
	blockSize uint8
	stMinMs   byte
	log       *logrus.Entry
}

// Option configures a Transport at construction time.
type Option func(*Transport)

// WithBlockSize sets the block size candiag advertises in its own
// flow-control frames. 0 means "no limit, send everything".
func WithBlockSize(bs uint8) Option {
	return func(t *Transport) { t.blockSize = bs }
}

// WithSeparationTimeMs sets the ST_min (in the 0x00..0x7F ms encoding)
// candiag advertises in its own flow-control frames.
func WithSeparationTimeMs(ms byte) Option {
	return func(t *Transport) { t.stMinMs = ms }
}

// WithLogger attaches a logrus entry; defaults to a standard logger with a
// component field.
func WithLogger(entry *logrus.Entry) Option {
	return func(t *Transport) { t.log = entry }
}

// New builds a Transport addressed to send on txID and receive on rxID.
func New(can canbus.Transport, txID, rxID uint32, opts ...Option) *Transport {
	t := &Transport{can: can, txID: txID, rxID: rxID, blockSize: 0, stMinMs: 0}
	for _, o := range opts {
		o(t)
	}
	if t.log == nil {
		t.log = logrus.WithFields(logrus.Fields{"component": "isotp", "tx": txID, "rx": rxID})
	}
	return t
}

// Send segments and transmits payload, observing flow control from the
// peer. deadline bounds the whole operation (each recv call re-derives its
// remaining budget from it).
func (t *Transport) Send(ctx context.Context, payload []byte, deadline time.Time) error {
	n := len(payload)
	if n > MaxPayload {
		return ErrPayloadTooLarge
	}
	if n <= 7 {
		return t.sendSingleFrame(ctx, payload)
	}
	if err := t.sendFirstFrame(ctx, payload); err != nil {
		return err
	}
	sent := 6
	seq := byte(1)
	for sent < n {
		bs, stMin, err := t.awaitFlowControl(ctx, deadline)
		if err != nil {
			return err
		}
		sent, seq, err = t.sendConsecutiveBlock(ctx, payload, sent, seq, bs, stMin)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *Transport) sendSingleFrame(ctx context.Context, payload []byte) error {
	data := make([]byte, 1+len(payload))
	data[0] = pciSingleFrame | byte(len(payload)&0x0F)
	copy(data[1:], payload)
	frame, err := canbus.NewFrame(t.txID, data)
	if err != nil {
		return err
	}
	return t.can.Send(ctx, frame)
}

func (t *Transport) sendFirstFrame(ctx context.Context, payload []byte) error {
	n := len(payload)
	data := make([]byte, 8)
	data[0] = (pciFirstFrame << 4) | byte((n>>8)&0x0F)
	data[1] = byte(n & 0xFF)
	copy(data[2:], payload[:6])
	frame, err := canbus.NewFrame(t.txID, data)
	if err != nil {
		return err
	}
	return t.can.Send(ctx, frame)
}

// sendConsecutiveBlock sends up to bs consecutive frames (or until the
// payload is exhausted, whichever comes first) and returns the updated
// sent/seq cursors.
func (t *Transport) sendConsecutiveBlock(ctx context.Context, payload []byte, sent int, seq byte, bs uint8, stMin byte) (int, byte, error) {
	n := len(payload)
	sentInBlock := uint8(0)
	for sent < n {
		chunk := 7
		if n-sent < chunk {
			chunk = n - sent
		}
		data := make([]byte, 1+chunk)
		data[0] = (pciConsecutive << 4) | (seq & 0x0F)
		copy(data[1:], payload[sent:sent+chunk])
		frame, err := canbus.NewFrame(t.txID, data)
		if err != nil {
			return sent, seq, err
		}
		if err := t.can.Send(ctx, frame); err != nil {
			return sent, seq, err
		}
		sent += chunk
		seq = (seq + 1) % 16
		sentInBlock++
		if sent >= n {
			break
		}
		if bs != 0 && sentInBlock >= bs {
			break
		}
		sleepSeparationTime(stMin)
	}
	return sent, seq, nil
}

func sleepSeparationTime(stMin byte) {
	switch {
	case stMin <= 0x7F:
		time.Sleep(time.Duration(stMin) * time.Millisecond)
	case stMin >= 0xF1 && stMin <= 0xF9:
		time.Sleep(time.Duration(100*(int(stMin)-0xF0)) * time.Microsecond)
	default:
		time.Sleep(10 * time.Millisecond)
	}
}

// awaitFlowControl blocks for a flow-control frame addressed to rxID,
// returning its block size and ST_min.
func (t *Transport) awaitFlowControl(ctx context.Context, deadline time.Time) (blockSize uint8, stMin byte, err error) {
	for {
		remaining := remainingMs(deadline)
		if remaining <= 0 {
			return 0, 0, ErrTimeout
		}
		frame, err := t.can.Recv(ctx, remaining)
		if err != nil {
			if errors.Is(err, canbus.ErrTimeout) {
				return 0, 0, ErrTimeout
			}
			return 0, 0, err
		}
		if frame.ID != t.rxID || frame.DLC < 3 {
			continue
		}
		if (frame.Data[0]&0xF0)>>4 != pciFlowControl {
			continue
		}
		fs := frame.Data[0] & 0x0F
		switch fs {
		case FlowStatusContinue:
			return frame.Data[1], frame.Data[2], nil
		case FlowStatusWait:
			continue
		case FlowStatusOverflow:
			return 0, 0, protoErr("flow control overflow")
		default:
			return 0, 0, protoErr("unknown flow status 0x%X", fs)
		}
	}
}

// Recv waits for a full ISO-TP PDU addressed to rxID, sending flow control
// as needed for multi-frame messages.
func (t *Transport) Recv(ctx context.Context, deadline time.Time) ([]byte, error) {
	for {
		remaining := remainingMs(deadline)
		if remaining <= 0 {
			return nil, ErrTimeout
		}
		frame, err := t.can.Recv(ctx, remaining)
		if err != nil {
			if errors.Is(err, canbus.ErrTimeout) {
				return nil, ErrTimeout
			}
			return nil, err
		}
		if frame.ID != t.rxID {
			continue
		}
		pciType := (frame.Data[0] & 0xF0) >> 4
		switch pciType {
		case pciSingleFrame:
			return t.recvSingleFrame(frame)
		case pciFirstFrame:
			return t.recvMultiFrame(ctx, frame, deadline)
		default:
			continue
		}
	}
}

func (t *Transport) recvSingleFrame(frame canbus.Frame) ([]byte, error) {
	n := frame.Data[0] & 0x0F
	if int(n) > int(frame.DLC)-1 {
		return nil, protoErr("single frame length %d exceeds dlc %d", n, frame.DLC)
	}
	data := make([]byte, n)
	copy(data, frame.Data[1:1+n])
	return data, nil
}

func (t *Transport) recvMultiFrame(ctx context.Context, first canbus.Frame, deadline time.Time) ([]byte, error) {
	length := (int(first.Data[0]&0x0F) << 8) | int(first.Data[1])
	if length <= 7 || length > MaxPayload {
		return nil, protoErr("invalid first-frame length %d", length)
	}
	data := make([]byte, length)
	copy(data, first.Data[2:8])
	received := 6

	if err := t.sendFlowControl(ctx, FlowStatusContinue); err != nil {
		return nil, fmt.Errorf("isotp: sending flow control: %w", err)
	}

	expectedSeq := byte(1)
	for received < length {
		remaining := remainingMs(deadline)
		if remaining <= 0 {
			return nil, ErrTimeout
		}
		frame, err := t.can.Recv(ctx, remaining)
		if err != nil {
			if errors.Is(err, canbus.ErrTimeout) {
				return nil, ErrTimeout
			}
			return nil, err
		}
		if frame.ID != t.rxID {
			continue
		}
		pciType := (frame.Data[0] & 0xF0) >> 4
		if pciType != pciConsecutive {
			return nil, protoErr("expected consecutive frame, got pci type 0x%X", pciType)
		}
		seq := frame.Data[0] & 0x0F
		if seq != expectedSeq {
			return nil, protoErr("sequence mismatch: expected %d got %d", expectedSeq, seq)
		}
		chunk := length - received
		if chunk > 7 {
			chunk = 7
		}
		if int(frame.DLC)-1 < chunk {
			return nil, protoErr("consecutive frame too short: dlc %d, need %d data bytes", frame.DLC, chunk)
		}
		copy(data[received:], frame.Data[1:1+chunk])
		received += chunk
		expectedSeq = (expectedSeq + 1) % 16
	}
	return data, nil
}

func (t *Transport) sendFlowControl(ctx context.Context, fs byte) error {
	data := [3]byte{
		(pciFlowControl << 4) | (fs & 0x0F),
		t.blockSize,
		t.stMinMs,
	}
	frame, err := canbus.NewFrame(t.txID, data[:])
	if err != nil {
		return err
	}
	return t.can.Send(ctx, frame)
}

func remainingMs(deadline time.Time) int {
	d := time.Until(deadline)
	if d <= 0 {
		return 0
	}
	ms := d.Milliseconds()
	if ms <= 0 {
		return 1
	}
	if ms > int64(^uint32(0)>>1) {
		return int(^uint32(0) >> 1)
	}
	return int(ms)
}
