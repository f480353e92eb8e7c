package vault

import (
	"errors"
	"fmt"
)

var (
	ErrNotOwner           = errors.New("caller is not the owner")
	ErrNotOperator        = errors.New("caller is not an operator")
	ErrOwnerAlreadySet    = errors.New("owner already set")
	ErrNotPositionManager = errors.New("notification not from the position manager")

	ErrInvalidRequest     = errors.New("invalid request")
	ErrTicksNotChanged    = errors.New("ticks not changed")
	ErrAlreadyInitialized = errors.New("a different position is already held")
	ErrNothingHeld        = errors.New("no position held")
	ErrUnsupportedSide    = errors.New("unsupported reference side")

	ErrNotFound     = errors.New("position not found")
	ErrPoolNotFound = errors.New("pool not found")

	ErrArithmeticOverflow = errors.New("arithmetic overflow")
	ErrExternalCall       = errors.New("external call failed")
	ErrSwapFailed         = errors.New("swap failed")
	ErrLossExceeded       = errors.New("loss exceeded")
	ErrZeroStartValue     = errors.New("zero start value")
	ErrSlippage           = errors.New("balance below requested minimum")
	ErrReentrant          = errors.New("reposition already in progress")
)

// Kind groups errors by how a caller should react to them.
type Kind int

const (
	KindUnknown Kind = iota
	KindAuthorization
	KindInvalidRequest
	KindNotFound
	KindArithmeticOverflow
	KindExternalCall
	KindLossExceeded
	KindZeroStartValue
	KindSlippage
	KindReentrant
)

func (k Kind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindInvalidRequest:
		return "invalid_request"
	case KindNotFound:
		return "not_found"
	case KindArithmeticOverflow:
		return "arithmetic_overflow"
	case KindExternalCall:
		return "external_call_failure"
	case KindLossExceeded:
		return "loss_exceeded"
	case KindZeroStartValue:
		return "zero_start_value"
	case KindSlippage:
		return "slippage"
	case KindReentrant:
		return "reentrant"
	default:
		return "unknown"
	}
}

var kindTable = []struct {
	kind Kind
	errs []error
}{
	{KindReentrant, []error{ErrReentrant}},
	{KindAuthorization, []error{ErrNotOwner, ErrNotOperator, ErrOwnerAlreadySet, ErrNotPositionManager}},
	{KindLossExceeded, []error{ErrLossExceeded}},
	{KindZeroStartValue, []error{ErrZeroStartValue}},
	{KindArithmeticOverflow, []error{ErrArithmeticOverflow}},
	{KindSlippage, []error{ErrSlippage}},
	{KindExternalCall, []error{ErrExternalCall, ErrSwapFailed}},
	{KindNotFound, []error{ErrNotFound, ErrPoolNotFound}},
	{KindInvalidRequest, []error{ErrInvalidRequest, ErrTicksNotChanged, ErrAlreadyInitialized, ErrNothingHeld, ErrUnsupportedSide}},
}

// KindOf classifies err. Errors from outside this package are KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for _, entry := range kindTable {
		for _, target := range entry.errs {
			if errors.Is(err, target) {
				return entry.kind
			}
		}
	}
	return KindUnknown
}

func externalErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrExternalCall, err)
}
