package lntypes

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestWeightVByteConversion checks that weight units round up when converted
// to virtual bytes and convert back exactly.
func TestWeightVByteConversion(t *testing.T) {
	t.Parallel()

	require.Equal(t, VByte(1), WeightUnit(1).ToVB())
	require.Equal(t, VByte(1), WeightUnit(4).ToVB())
	require.Equal(t, VByte(2), WeightUnit(5).ToVB())
	require.Equal(t, WeightUnit(724), VByte(181).ToWU())
	require.Equal(t, "724 wu", WeightUnit(724).String())
}
