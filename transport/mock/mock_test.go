package mock_test

import (
	"context"
	"testing"

	"candiag/canbus"
	"candiag/transport/mock"

	"github.com/stretchr/testify/require"
)

func TestPairDeliversFramesAcrossEnds(t *testing.T) {
	a, b := mock.NewPair()
	frame, err := canbus.NewFrame(0x7E0, []byte{0x02, 0x10, 0x01})
	require.NoError(t, err)

	require.NoError(t, a.Send(context.Background(), frame))
	got, err := b.Recv(context.Background(), 100)
	require.NoError(t, err)
	require.Equal(t, frame, got)
}

func TestRecvTimesOutWithNoPendingFrame(t *testing.T) {
	a, _ := mock.NewPair()
	_, err := a.Recv(context.Background(), 10)
	require.ErrorIs(t, err, canbus.ErrTimeout)
}

func TestRecvZeroTimeoutNeverBlocks(t *testing.T) {
	a, _ := mock.NewPair()
	_, err := a.Recv(context.Background(), 0)
	require.ErrorIs(t, err, canbus.ErrTimeout)
}
