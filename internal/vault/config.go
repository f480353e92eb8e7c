package vault

import (
	"fmt"
	"strings"
	"time"
)

const (
	// PPMScale is the denominator of loss values.
	PPMScale = 1_000_000
	// BPSScale is the denominator of share values.
	BPSScale = 10_000

	mintSlippageBPS = 100
)

// Side selects the asset values are expressed in.
type Side uint8

const (
	SideToken0 Side = iota
	SideToken1
)

func (s Side) String() string {
	switch s {
	case SideToken0:
		return "token0"
	case SideToken1:
		return "token1"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

// ParseSide accepts "token0"/"0" and "token1"/"1".
func ParseSide(input string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "token0", "0":
		return SideToken0, nil
	case "token1", "1", "":
		return SideToken1, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedSide, input)
	}
}

// Config holds the vault parameters fixed at construction. MaxLossPPM is the
// initial loss bound; the owner may change it later.
type Config struct {
	// WidthTolerance bounds |new width - old width| in ticks. Zero disables the check.
	WidthTolerance int32
	// MinShare0BPS and MaxShare0BPS bound the token0 share of post-swap value.
	// The check is disabled while MaxShare0BPS is zero.
	MinShare0BPS   uint32
	MaxShare0BPS   uint32
	ReferenceSide  Side
	MaxLossPPM     uint32
	DeadlineWindow time.Duration
}

// DefaultConfig values token1, tolerates a 1% loss and gives collaborator
// calls five minutes.
func DefaultConfig() Config {
	return Config{
		ReferenceSide:  SideToken1,
		MaxLossPPM:     10_000,
		DeadlineWindow: 5 * time.Minute,
	}
}

// Validate checks the configuration for internal consistency.
func (c Config) Validate() error {
	if c.ReferenceSide != SideToken0 && c.ReferenceSide != SideToken1 {
		return fmt.Errorf("%w: %s", ErrUnsupportedSide, c.ReferenceSide)
	}
	if c.MaxLossPPM > PPMScale {
		return fmt.Errorf("%w: max loss %d ppm above %d", ErrInvalidRequest, c.MaxLossPPM, PPMScale)
	}
	if c.WidthTolerance < 0 {
		return fmt.Errorf("%w: negative width tolerance", ErrInvalidRequest)
	}
	if c.MaxShare0BPS > BPSScale || c.MinShare0BPS > c.MaxShare0BPS && c.MaxShare0BPS != 0 {
		return fmt.Errorf("%w: share bounds [%d, %d] bps", ErrInvalidRequest, c.MinShare0BPS, c.MaxShare0BPS)
	}
	if c.DeadlineWindow <= 0 {
		return fmt.Errorf("%w: deadline window must be positive", ErrInvalidRequest)
	}
	return nil
}
