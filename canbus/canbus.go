// Package canbus defines the minimal CAN transport abstraction that the
// rest of candiag builds on: one 8-byte frame, one interface for sending
// and receiving it.
package canbus

import (
	"context"
	"fmt"
)

// Frame is a single CAN data frame. DLC never exceeds 8; Data beyond DLC
// bytes is unused padding.
type Frame struct {
	ID   uint32
	DLC  uint8
	Data [8]byte
}

// String renders a frame the way the rest of the stack logs it.
func (f Frame) String() string {
	return fmt.Sprintf("ID: 0x%X, DLC: %d, Data: % X", f.ID, f.DLC, f.Data[:f.DLC])
}

// NewFrame builds a Frame from an id and up to 8 bytes of payload.
func NewFrame(id uint32, data []byte) (Frame, error) {
	if len(data) > 8 {
		return Frame{}, fmt.Errorf("canbus: frame payload too large (%d bytes)", len(data))
	}
	f := Frame{ID: id, DLC: uint8(len(data))}
	copy(f.Data[:], data)
	return f, nil
}

// Transport is the abstract CAN interface candiag consumes. Concrete
// adapters (serial-framed, SocketCAN, an in-memory mock for tests) live in
// the transport subpackages.
type Transport interface {
	// Send transmits a frame, returning once it has been accepted for
	// transmission.
	Send(ctx context.Context, frame Frame) error
	// Recv returns the next inbound frame, or ErrTimeout if none arrives
	// within timeoutMs. A timeoutMs of zero or less must return
	// immediately without blocking.
	Recv(ctx context.Context, timeoutMs int) (Frame, error)
	// Close releases the underlying resource. Idempotent.
	Close() error
}

// ErrTimeout is returned by Transport.Recv when no frame arrives in time.
var ErrTimeout = fmt.Errorf("canbus: receive timeout")
