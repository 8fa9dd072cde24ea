package isotp_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"candiag/canbus"
	"candiag/isotp"

	"github.com/stretchr/testify/require"
)

// pairTransport is an in-memory canbus.Transport connecting two isotp
// endpoints for round-trip tests, modeled after the channel-based
// broadcaster pattern husk used for its driver frame bus.
type pairTransport struct {
	mu   sync.Mutex
	out  chan canbus.Frame
	in   chan canbus.Frame
}

func newPair() (a, b *pairTransport) {
	ab := make(chan canbus.Frame, 64)
	ba := make(chan canbus.Frame, 64)
	a = &pairTransport{out: ab, in: ba}
	b = &pairTransport{out: ba, in: ab}
	return a, b
}

func (p *pairTransport) Send(ctx context.Context, frame canbus.Frame) error {
	select {
	case p.out <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pairTransport) Recv(ctx context.Context, timeoutMs int) (canbus.Frame, error) {
	if timeoutMs <= 0 {
		select {
		case f := <-p.in:
			return f, nil
		default:
			return canbus.Frame{}, canbus.ErrTimeout
		}
	}
	select {
	case f := <-p.in:
		return f, nil
	case <-time.After(time.Duration(timeoutMs) * time.Millisecond):
		return canbus.Frame{}, canbus.ErrTimeout
	case <-ctx.Done():
		return canbus.Frame{}, ctx.Err()
	}
}

func (p *pairTransport) Close() error { return nil }

func TestSendRecvSingleFrame(t *testing.T) {
	client, ecu := newPair()
	clientTp := isotp.New(client, 0x7E0, 0x7E8)
	ecuTp := isotp.New(ecu, 0x7E8, 0x7E0)

	payload := []byte{0x10, 0x01}
	var wg sync.WaitGroup
	wg.Add(1)
	var got []byte
	var recvErr error
	go func() {
		defer wg.Done()
		got, recvErr = ecuTp.Recv(context.Background(), time.Now().Add(time.Second))
	}()

	require.NoError(t, clientTp.Send(context.Background(), payload, time.Now().Add(time.Second)))
	wg.Wait()
	require.NoError(t, recvErr)
	require.Equal(t, payload, got)
}

func TestSendRecvMultiFrameRoundTrip(t *testing.T) {
	client, ecu := newPair()
	clientTp := isotp.New(client, 0x7E0, 0x7E8)
	ecuTp := isotp.New(ecu, 0x7E8, 0x7E0, isotp.WithBlockSize(0), isotp.WithSeparationTimeMs(0))

	payload := make([]byte, 20)
	for i := range payload {
		payload[i] = byte(i)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var got []byte
	var recvErr error
	go func() {
		defer wg.Done()
		got, recvErr = ecuTp.Recv(context.Background(), time.Now().Add(2*time.Second))
	}()

	require.NoError(t, clientTp.Send(context.Background(), payload, time.Now().Add(2*time.Second)))
	wg.Wait()
	require.NoError(t, recvErr)
	require.Equal(t, payload, got)
}

func TestRecvTimeout(t *testing.T) {
	client, _ := newPair()
	clientTp := isotp.New(client, 0x7E0, 0x7E8)
	_, err := clientTp.Recv(context.Background(), time.Now().Add(20*time.Millisecond))
	require.ErrorIs(t, err, isotp.ErrTimeout)
}

func TestSendPayloadTooLarge(t *testing.T) {
	client, _ := newPair()
	clientTp := isotp.New(client, 0x7E0, 0x7E8)
	payload := make([]byte, isotp.MaxPayload+1)
	err := clientTp.Send(context.Background(), payload, time.Now().Add(time.Second))
	require.ErrorIs(t, err, isotp.ErrPayloadTooLarge)
}
