package topology_test

import (
	"context"
	"testing"
	"time"

	"candiag/addr"
	"candiag/canbus"
	"candiag/topology"

	"github.com/stretchr/testify/require"
)

// scriptedTransport answers a fixed set of responses whenever a frame is
// sent, used to drive a full ECU-discovery run end to end.
type scriptedTransport struct {
	responses []canbus.Frame
	pending   []canbus.Frame
}

func (s *scriptedTransport) Send(ctx context.Context, frame canbus.Frame) error {
	s.pending = append(s.pending, s.responses...)
	return nil
}

func (s *scriptedTransport) Recv(ctx context.Context, timeoutMs int) (canbus.Frame, error) {
	if len(s.pending) == 0 {
		return canbus.Frame{}, canbus.ErrTimeout
	}
	f := s.pending[0]
	s.pending = s.pending[1:]
	return f, nil
}

func (s *scriptedTransport) Close() error { return nil }

func frame(id uint32, data ...byte) canbus.Frame {
	f, _ := canbus.NewFrame(id, data)
	return f
}

func TestScenario1FunctionalTwoECUs(t *testing.T) {
	tp := &scriptedTransport{responses: []canbus.Frame{
		frame(0x7E8, 0x06, 0x50, 0x01, 0x00, 0x00, 0x00, 0x00),
		frame(0x7EB, 0x06, 0x50, 0x01, 0x00, 0x00, 0x00, 0x00),
	}}
	cfg := topology.Config{
		Addressing: topology.AddressingFunctional,
		CanIDMode: addr.Mode11Bit,
		TimeoutMs: 50,
		Retries: 0,
		ProbeSession: true,
	}
	topo, err := topology.Scan(context.Background(), tp, "vcan0", cfg)
	require.NoError(t, err)
	require.Len(t, topo.Nodes, 2)
	require.Equal(t, uint8(0x00), topo.Nodes[0].ECU)
	require.Equal(t, uint8(0x03), topo.Nodes[1].ECU)
	require.True(t, topo.Nodes[0].UDSConfirmed)
	require.True(t, topo.Nodes[1].UDSConfirmed)
}

func TestScanEmptyIsNotError(t *testing.T) {
	tp := &scriptedTransport{}
	cfg := topology.Config{
		Addressing: topology.AddressingFunctional,
		CanIDMode: addr.Mode11Bit,
		TimeoutMs: 10,
		Retries: 0,
		ProbeSession: true,
	}
	topo, err := topology.Scan(context.Background(), tp, "vcan0", cfg)
	require.NoError(t, err)
	require.Empty(t, topo.Nodes)
}

func TestNodesSortedAndAddressFormula(t *testing.T) {
	tp := &scriptedTransport{responses: []canbus.Frame{
		frame(0x7EB, 0x06, 0x50, 0x01, 0x00, 0x00, 0x00, 0x00),
		frame(0x7E8, 0x06, 0x50, 0x01, 0x00, 0x00, 0x00, 0x00),
	}}
	cfg := topology.Config{Addressing: topology.AddressingFunctional, CanIDMode: addr.Mode11Bit, TimeoutMs: 50}
	topo, err := topology.Scan(context.Background(), tp, "vcan0", cfg)
	require.NoError(t, err)
	require.Len(t, topo.Nodes, 2)
	require.Less(t, topo.Nodes[0].ECU, topo.Nodes[1].ECU)
	for _, n := range topo.Nodes {
		tx, rx, _ := addr.IDs(n.ECU, addr.Mode11Bit)
		require.Equal(t, tx, n.TxID)
		require.Equal(t, rx, n.RxID)
	}
}

func TestDeadlineArithmeticSanity(t *testing.T) {
	// sanity check that the package compiles against time-based deadlines.
	require.True(t, time.Now().Before(time.Now().Add(time.Millisecond)))
}
