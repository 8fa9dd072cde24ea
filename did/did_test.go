package did_test

import (
	"testing"

	"candiag/did"

	"github.com/stretchr/testify/require"
)

func TestDecodeASCIIStripsNulls(t *testing.T) {
	spec := did.Spec{DID: 0xF190, Kind: did.KindASCII, Scale: 1.0}
	v, err := did.Decode(spec, []byte("WVWZZZ00000000001\x00\x00"))
	require.NoError(t, err)
	require.True(t, v.IsStr)
	require.Equal(t, "WVWZZZ00000000001", v.Str)
}

func TestDecodeU16BEUnscaled(t *testing.T) {
	spec := did.Spec{DID: 0x1234, Kind: did.KindU16BE, Scale: 1.0}
	v, err := did.Decode(spec, []byte{0x03, 0x52}) // 850
	require.NoError(t, err)
	require.True(t, v.IsInt)
	require.Equal(t, int64(850), v.Int)
}

func TestDecodeU16BEScaled(t *testing.T) {
	spec := did.Spec{DID: 0x1236, Kind: did.KindU16BE, Scale: 0.1}
	v, err := did.Decode(spec, []byte{0x00, 0x64}) // 100 * 0.1
	require.NoError(t, err)
	require.False(t, v.IsInt)
	require.InDelta(t, 10.0, v.Float, 0.0001)
}

func TestDecodeBytesHex(t *testing.T) {
	spec := did.Spec{DID: 0x1111, Kind: did.KindBytes, Scale: 1.0}
	v, err := did.Decode(spec, []byte{0xDE, 0xAD})
	require.NoError(t, err)
	require.Equal(t, "DE AD", v.Str)
}

func TestDefaultRegistryKnownDIDs(t *testing.T) {
	r := did.DefaultRegistry()
	vin, ok := r.Lookup(0xF190)
	require.True(t, ok)
	require.Equal(t, "VIN", vin.Name)
	_, ok = r.Lookup(0xBEEF)
	require.False(t, ok)
}

func TestParseDIDHexAndFormat(t *testing.T) {
	v, err := did.ParseDID("F190")
	require.NoError(t, err)
	require.Equal(t, uint16(0xF190), v)
	require.Equal(t, "F190", did.FormatDID(v))
}
