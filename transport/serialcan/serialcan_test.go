package serialcan

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"candiag/canbus"
)

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	frame, err := canbus.NewFrame(0x7E0, []byte{0x02, 0x10, 0x01})
	require.NoError(t, err)

	wire := encodeFrame(frame)
	require.Equal(t, byte(startMarker), wire[0])
	require.Equal(t, byte(endMarker), wire[len(wire)-1])

	tr := &Transport{reader: bufio.NewReader(bytes.NewReader(wire))}
	got, err := tr.readFrame()
	require.NoError(t, err)
	require.Equal(t, frame, got)
}

func TestCalculateCRC8IsDeterministic(t *testing.T) {
	var data [8]byte
	copy(data[:], []byte{0x02, 0x10, 0x01})
	a := calculateCRC8(3, data)
	b := calculateCRC8(3, data)
	require.Equal(t, a, b)

	data[0] = 0xFF
	c := calculateCRC8(3, data)
	require.NotEqual(t, a, c)
}

func TestEncodeFrameEscapesMarkerBytes(t *testing.T) {
	frame, err := canbus.NewFrame(0x7E0, []byte{startMarker, endMarker, escapeChar})
	require.NoError(t, err)

	wire := encodeFrame(frame)
	body := wire[1 : len(wire)-1]
	for i := 0; i+1 < len(body); i++ {
		if body[i] == escapeChar {
			require.Contains(t, []byte{0x01, 0x02, 0x03}, body[i+1])
		}
	}
}
