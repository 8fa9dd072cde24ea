//go:build linux

package socketcan

import (
	"testing"

	"github.com/brutella/can"
	"github.com/stretchr/testify/require"

	"candiag/canbus"
)

func TestOpenUnknownInterfaceFails(t *testing.T) {
	_, err := Open("candiag-test-nonexistent0")
	require.Error(t, err)
}

func TestOnFrameDropsInvalidDLC(t *testing.T) {
	tr := &Transport{framer: make(chan canbus.Frame, 1)}
	tr.onFrame(can.Frame{ID: 0x7E0, Length: 9})
	select {
	case <-tr.framer:
		t.Fatal("expected no frame to be queued for an invalid-length frame")
	default:
	}
}
