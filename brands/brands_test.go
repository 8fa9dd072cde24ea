package brands_test

import (
	"testing"

	"candiag/brands"

	"github.com/stretchr/testify/require"
)

func TestRegistryFallsThroughToGeneric(t *testing.T) {
	vag := brands.NewVAG(map[uint8]string{0x01: "Engine Control Module"}, map[string]string{"P0300": "Random/multiple cylinder misfire detected"})
	reg := brands.NewRegistry(vag)

	name, ok := reg.ECUName(0x01)
	require.True(t, ok)
	require.Equal(t, "Engine Control Module", name)

	_, ok = reg.ECUName(0x99)
	require.False(t, ok)

	desc, ok := reg.Describe("P0300")
	require.True(t, ok)
	require.Equal(t, "Random/multiple cylinder misfire detected", desc)

	_, ok = reg.Describe("U9999")
	require.False(t, ok)
}

func TestRegistryWithNilBrandUsesGenericOnly(t *testing.T) {
	reg := brands.NewRegistry(nil)
	_, ok := reg.Describe("P0300")
	require.False(t, ok)
}
