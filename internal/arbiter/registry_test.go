package arbiter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultRegistryHasTwelvePairs(t *testing.T) {
	reg, err := NewDefaultRegistry()
	require.NoError(t, err)
	require.Len(t, reg.entries, 12)
}

func TestLookupUnknownPair(t *testing.T) {
	reg, err := NewDefaultRegistry()
	require.NoError(t, err)
	_, err = reg.Lookup(10, 42161)
	require.ErrorIs(t, err, ErrNoArbiterForChainPair)
	require.Contains(t, err.Error(), "10-42161")
}

func TestOptimismToBaseMatchesScenario(t *testing.T) {
	reg, err := NewDefaultRegistry()
	require.NoError(t, err)
	entry, err := reg.Lookup(ChainOptimism, ChainBase)
	require.NoError(t, err)

	arbiterHex := entry.Address.Hex()
	require.True(t, strings.EqualFold(arbiterHex[:6], "0x2602"))
	require.True(t, strings.EqualFold(arbiterHex[len(arbiterHex)-4:], "F626"))

	tribunalHex := entry.Tribunal.Hex()
	require.True(t, strings.EqualFold(tribunalHex[:6], "0xfaBE"))
	require.True(t, strings.EqualFold(tribunalHex[len(tribunalHex)-4:], "6c1F"))

	require.Equal(t, "Mandate", entry.Schema.StructName)
}
