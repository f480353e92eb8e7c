package main

import (
	"fmt"
	"io"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// formatAmount renders a raw token amount in whole units.
func formatAmount(value *uint256.Int, decimals uint8) string {
	if value == nil {
		return "0"
	}
	return decimal.NewFromBigInt(value.ToBig(), -int32(decimals)).String()
}

// formatDecimalString renders a decimal string amount as stored in events.
func formatDecimalString(value string, decimals uint8) string {
	amount, err := decimal.NewFromString(value)
	if err != nil {
		return value
	}
	return amount.Shift(-int32(decimals)).String()
}

// formatPPM renders parts per million as a percentage.
func formatPPM(ppm int64) string {
	return decimal.New(ppm, -4).StringFixed(4) + "%"
}

func printf(w io.Writer, format string, args ...interface{}) {
	_, _ = fmt.Fprintf(w, format, args...)
}
