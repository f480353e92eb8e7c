package history

import (
	"fmt"
	"math/big"

	"rangeKeeper/internal/model"
)

// Summary folds a position's event history into running totals.
type Summary struct {
	PositionID uint64
	Events     uint64
	Transfers  uint64
	FirstBlock uint64
	LastBlock  uint64
	LastTS     uint64
	Owner      string

	Liquidity  *big.Int
	Deposited0 *big.Int
	Deposited1 *big.Int
	Withdrawn0 *big.Int
	Withdrawn1 *big.Int
	Collected0 *big.Int
	Collected1 *big.Int
}

func NewSummary(positionID uint64) *Summary {
	return &Summary{
		PositionID: positionID,
		Liquidity:  big.NewInt(0),
		Deposited0: big.NewInt(0),
		Deposited1: big.NewInt(0),
		Withdrawn0: big.NewInt(0),
		Withdrawn1: big.NewInt(0),
		Collected0: big.NewInt(0),
		Collected1: big.NewInt(0),
	}
}

// Summarize folds events of positionID in the order given.
func Summarize(positionID uint64, events []model.PositionEvent) (*Summary, error) {
	summary := NewSummary(positionID)
	for _, event := range events {
		if err := summary.AddEvent(event); err != nil {
			return nil, err
		}
	}
	return summary, nil
}

// AddEvent applies one event. Events of other positions are ignored.
func (s *Summary) AddEvent(event model.PositionEvent) error {
	if event.PositionID != s.PositionID {
		return nil
	}
	s.Events++
	if event.Timestamp >= s.LastTS {
		s.LastTS = event.Timestamp
	}
	if event.BlockNumber > s.LastBlock {
		s.LastBlock = event.BlockNumber
	}
	if s.FirstBlock == 0 || event.BlockNumber < s.FirstBlock {
		s.FirstBlock = event.BlockNumber
	}

	switch event.Event {
	case model.EventIncreaseLiquidity:
		return s.apply(event, s.Deposited0, s.Deposited1, 1)
	case model.EventDecreaseLiquidity:
		return s.apply(event, s.Withdrawn0, s.Withdrawn1, -1)
	case model.EventCollect:
		return s.apply(event, s.Collected0, s.Collected1, 0)
	case model.EventTransfer:
		s.Transfers++
		s.Owner = event.To
		return nil
	default:
		return fmt.Errorf("unknown event %q at block %d", event.Event, event.BlockNumber)
	}
}

func (s *Summary) apply(event model.PositionEvent, total0, total1 *big.Int, liquiditySign int) error {
	amount0, err := parseBigInt(event.Amount0)
	if err != nil {
		return fmt.Errorf("%s amount0: %w", event.Event, err)
	}
	amount1, err := parseBigInt(event.Amount1)
	if err != nil {
		return fmt.Errorf("%s amount1: %w", event.Event, err)
	}
	total0.Add(total0, amount0)
	total1.Add(total1, amount1)

	if liquiditySign == 0 {
		return nil
	}
	liquidity, err := parseBigInt(event.Liquidity)
	if err != nil {
		return fmt.Errorf("%s liquidity: %w", event.Event, err)
	}
	if liquiditySign < 0 {
		liquidity.Neg(liquidity)
	}
	s.Liquidity.Add(s.Liquidity, liquidity)
	return nil
}

// Fees returns what was collected beyond the withdrawn principal. Collect
// also pays out principal released by DecreaseLiquidity, so the difference
// is the fee income. Negative differences clamp to zero.
func (s *Summary) Fees() (*big.Int, *big.Int) {
	return clampedSub(s.Collected0, s.Withdrawn0), clampedSub(s.Collected1, s.Withdrawn1)
}

func clampedSub(a, b *big.Int) *big.Int {
	out := new(big.Int).Sub(a, b)
	if out.Sign() < 0 {
		return big.NewInt(0)
	}
	return out
}

func parseBigInt(value string) (*big.Int, error) {
	if value == "" {
		return big.NewInt(0), nil
	}
	parsed, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid int: %s", value)
	}
	return parsed, nil
}
