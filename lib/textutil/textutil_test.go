package textutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFirstInt(t *testing.T) {
	n, ok := FirstInt("129m\n")
	require.True(t, ok)
	require.Equal(t, 129, n)

	_, ok = FirstInt("—")
	require.False(t, ok)
}

func TestParseGroupedInt(t *testing.T) {
	n, err := ParseGroupedInt("1,099")
	require.NoError(t, err)
	require.Equal(t, 1099, n)

	n, err = ParseGroupedInt("684")
	require.NoError(t, err)
	require.Equal(t, 684, n)

	_, err = ParseGroupedInt("n/a")
	require.Error(t, err)
}

func TestParseLeadingFloat(t *testing.T) {
	f, err := ParseLeadingFloat("6.25 km")
	require.NoError(t, err)
	require.Equal(t, 6.25, f)

	f, err = ParseLeadingFloat("0 km")
	require.NoError(t, err)
	require.Zero(t, f)

	_, err = ParseLeadingFloat("km")
	require.Error(t, err)
}
