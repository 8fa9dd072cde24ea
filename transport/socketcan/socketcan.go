//go:build linux

// Package socketcan implements a canbus.Transport over a Linux SocketCAN
// interface, grounded on samsamfire-gocanopen's Bus/BusManager split
// (bus.go): a thin adapter around a vendor CAN library feeding a
// subscriber callback, here generalized to candiag's context-aware
// Send/Recv shape instead of gocanopen's FrameHandler callback style.
package socketcan

import (
	"context"
	"fmt"
	"time"

	"github.com/brutella/can"

	"candiag/canbus"
)

// Transport adapts a github.com/brutella/can Bus to canbus.Transport.
type Transport struct {
	bus    *can.Bus
	framer chan canbus.Frame
	done   chan struct{}
}

// Open binds a Transport to the named SocketCAN interface (e.g. "can0")
// and starts receiving frames in the background.
func Open(ifname string) (*Transport, error) {
	bus, err := can.NewBusForInterfaceWithName(ifname)
	if err != nil {
		return nil, fmt.Errorf("socketcan: opening interface %s: %w", ifname, err)
	}
	t := &Transport{
		bus:    bus,
		framer: make(chan canbus.Frame, 256),
		done:   make(chan struct{}),
	}
	bus.SubscribeFunc(t.onFrame)
	go func() {
		if err := bus.ConnectAndPublish(); err != nil {
			close(t.done)
		}
	}()
	return t, nil
}

func (t *Transport) onFrame(frame can.Frame) {
	if frame.Length > 8 {
		return
	}
	f, err := canbus.NewFrame(frame.ID, frame.Data[:frame.Length])
	if err != nil {
		return
	}
	select {
	case t.framer <- f:
	default:
	}
}

// Send transmits frame on the bound interface.
func (t *Transport) Send(ctx context.Context, frame canbus.Frame) error {
	out := can.Frame{ID: frame.ID, Length: frame.DLC, Data: frame.Data}
	if err := t.bus.Publish(out); err != nil {
		return fmt.Errorf("socketcan: publishing frame: %w", err)
	}
	return nil
}

// Recv returns the next inbound frame, or ErrTimeout if none arrives
// within timeoutMs.
func (t *Transport) Recv(ctx context.Context, timeoutMs int) (canbus.Frame, error) {
	if timeoutMs <= 0 {
		select {
		case f := <-t.framer:
			return f, nil
		default:
			return canbus.Frame{}, canbus.ErrTimeout
		}
	}
	select {
	case f := <-t.framer:
		return f, nil
	case <-time.After(time.Duration(timeoutMs) * time.Millisecond):
		return canbus.Frame{}, canbus.ErrTimeout
	case <-ctx.Done():
		return canbus.Frame{}, ctx.Err()
	case <-t.done:
		return canbus.Frame{}, fmt.Errorf("socketcan: bus closed")
	}
}

// Close disconnects from the bus.
func (t *Transport) Close() error {
	return t.bus.Disconnect()
}
