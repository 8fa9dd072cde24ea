package uds_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"candiag/addr"
	"candiag/canbus"
	"candiag/isotp"
	"candiag/uds"
)

// busTransport is an in-memory canbus.Transport pair, modeled on
// isotp_test.go's pairTransport.
type busTransport struct {
	out chan canbus.Frame
	in  chan canbus.Frame
}

func newBus() (client, ecu *busTransport) {
	ab := make(chan canbus.Frame, 64)
	ba := make(chan canbus.Frame, 64)
	return &busTransport{out: ab, in: ba}, &busTransport{out: ba, in: ab}
}

func (b *busTransport) Send(ctx context.Context, frame canbus.Frame) error {
	select {
	case b.out <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *busTransport) Recv(ctx context.Context, timeoutMs int) (canbus.Frame, error) {
	if timeoutMs <= 0 {
		select {
		case f := <-b.in:
			return f, nil
		default:
			return canbus.Frame{}, canbus.ErrTimeout
		}
	}
	select {
	case f := <-b.in:
		return f, nil
	case <-time.After(time.Duration(timeoutMs) * time.Millisecond):
		return canbus.Frame{}, canbus.ErrTimeout
	case <-ctx.Done():
		return canbus.Frame{}, ctx.Err()
	}
}

func (b *busTransport) Close() error { return nil }

// runDTCEcu answers exactly one 0x19 sub-0x02 request with resp, a raw
// positive-response payload (service id 0x59 included).
func runDTCEcu(t *testing.T, ecuTransport *busTransport, resp []byte) {
	t.Helper()
	tx, rx, err := addr.IDs(0x01, addr.Mode11Bit)
	require.NoError(t, err)
	iso := isotp.New(ecuTransport, rx, tx)

	go func() {
		deadline := time.Now().Add(2 * time.Second)
		req, err := iso.Recv(context.Background(), deadline)
		if err != nil || len(req) != 3 || req[0] != 0x19 || req[1] != 0x02 {
			return
		}
		_ = iso.Send(context.Background(), resp, deadline)
	}()
}

func newDTCClient(t *testing.T, clientTransport *busTransport) *uds.Client {
	t.Helper()
	client, err := uds.NewClient(clientTransport, 0x01, addr.Mode11Bit)
	require.NoError(t, err)
	return client
}

// TestReadDTCsByStatusMaskParsesTriples exercises a spec-accurate
// 59 02 <mask> <hi,lo,status>... response: subfunction echo and status
// availability mask both precede the DTC record triples.
func TestReadDTCsByStatusMaskParsesTriples(t *testing.T) {
	clientTransport, ecuTransport := newBus()
	resp := []byte{0x59, 0x02, 0xFF, 0x03, 0x05, 0x09, 0x01, 0x02, 0x08}
	runDTCEcu(t, ecuTransport, resp)

	client := newDTCClient(t, clientTransport)
	triples, err := client.ReadDTCsByStatusMask(context.Background(), 0xFF)
	require.NoError(t, err)
	require.Len(t, triples, 2)
	require.Equal(t, uds.DTCTriple{Hi: 0x03, Lo: 0x05, Status: 0x09}, triples[0])
	require.Equal(t, uds.DTCTriple{Hi: 0x01, Lo: 0x02, Status: 0x08}, triples[1])
}

// TestReadDTCsByStatusMaskNoDTCs covers the zero-DTC case: the response
// still carries the subfunction echo and mask byte with no trailing
// triples, and must not be mistaken for a malformed body.
func TestReadDTCsByStatusMaskNoDTCs(t *testing.T) {
	clientTransport, ecuTransport := newBus()
	resp := []byte{0x59, 0x02, 0xFF}
	runDTCEcu(t, ecuTransport, resp)

	client := newDTCClient(t, clientTransport)
	triples, err := client.ReadDTCsByStatusMask(context.Background(), 0xFF)
	require.NoError(t, err)
	require.Empty(t, triples)
}

func TestReadDTCsByStatusMaskRejectsTrailingBytes(t *testing.T) {
	clientTransport, ecuTransport := newBus()
	resp := []byte{0x59, 0x02, 0xFF, 0x03, 0x05}
	runDTCEcu(t, ecuTransport, resp)

	client := newDTCClient(t, clientTransport)
	_, err := client.ReadDTCsByStatusMask(context.Background(), 0xFF)
	require.Error(t, err)
}
