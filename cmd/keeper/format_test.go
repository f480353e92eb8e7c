package main

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"rangeKeeper/internal/model"
)

func TestFormatAmount(t *testing.T) {
	require.Equal(t, "1.5", formatAmount(uint256.NewInt(1_500_000), 6))
	require.Equal(t, "0.000000000000000001", formatAmount(uint256.NewInt(1), 18))
	require.Equal(t, "42", formatAmount(uint256.NewInt(42), 0))
	require.Equal(t, "0", formatAmount(nil, 18))

	require.Equal(t, "12.5", formatDecimalString("12500", 3))
	require.Equal(t, "not-a-number", formatDecimalString("not-a-number", 3))
}

func TestFormatPPMAndLabels(t *testing.T) {
	require.Equal(t, "1.0000%", formatPPM(10_000))
	require.Equal(t, "-0.0250%", formatPPM(-250))
	require.Equal(t, "WETH", model.TokenMeta{Symbol: "WETH", Address: "0x01"}.Label())
	require.Equal(t, "0x01", model.TokenMeta{Address: "0x01"}.Label())
}
