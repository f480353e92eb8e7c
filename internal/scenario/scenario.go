package scenario

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"

	"rangeKeeper/internal/config"
)

// Actions understood by the runner.
const (
	ActionFund        = "fund"
	ActionMint        = "mint"
	ActionClaim       = "claim"
	ActionSetOperator = "set_operator"
	ActionSetMaxLoss  = "set_max_loss"
	ActionDeposit     = "deposit"
	ActionSetTick     = "set_tick"
	ActionAccrueFees  = "accrue_fees"
	ActionSetSlippage = "set_slippage"
	ActionAdvance     = "advance"
	ActionReposition  = "reposition"
	ActionCompound    = "compound"
	ActionWithdraw    = "withdraw"
)

var knownActions = map[string]bool{
	ActionFund: true, ActionMint: true, ActionClaim: true, ActionSetOperator: true,
	ActionSetMaxLoss: true, ActionDeposit: true, ActionSetTick: true, ActionAccrueFees: true,
	ActionSetSlippage: true, ActionAdvance: true, ActionReposition: true, ActionCompound: true,
	ActionWithdraw: true,
}

// Scenario describes a simulated market and the vault calls made against it.
type Scenario struct {
	Name      string            `yaml:"name"`
	StartTime string            `yaml:"start_time"`
	Vault     string            `yaml:"vault"`
	Accounts  map[string]string `yaml:"accounts"`
	Tokens    []TokenSpec       `yaml:"tokens"`
	Pools     []PoolSpec        `yaml:"pools"`
	Balances  []BalanceSpec     `yaml:"balances"`
	Steps     []Step            `yaml:"steps"`
}

type TokenSpec struct {
	Name     string `yaml:"name"`
	Symbol   string `yaml:"symbol"`
	Decimals uint8  `yaml:"decimals"`
}

// PoolSpec creates a pool at Tick. Reserves are minted to the pool in both
// tokens so the router can pay out swaps.
type PoolSpec struct {
	Name     string `yaml:"name"`
	TokenA   string `yaml:"token_a"`
	TokenB   string `yaml:"token_b"`
	Fee      uint32 `yaml:"fee"`
	Tick     int32  `yaml:"tick"`
	Reserves string `yaml:"reserves"`
}

type BalanceSpec struct {
	Account string `yaml:"account"`
	Token   string `yaml:"token"`
	Amount  string `yaml:"amount"`
}

// Step is one action. Only the fields the action reads need to be set.
type Step struct {
	Action      string        `yaml:"action"`
	Account     string        `yaml:"account"`
	Target      string        `yaml:"target"`
	Allowed     *bool         `yaml:"allowed"`
	Token       string        `yaml:"token"`
	Pool        string        `yaml:"pool"`
	Position    string        `yaml:"position"`
	As          string        `yaml:"as"`
	Tick        int32         `yaml:"tick"`
	TickLower   int32         `yaml:"tick_lower"`
	TickUpper   int32         `yaml:"tick_upper"`
	Liquidity   string        `yaml:"liquidity"`
	Amount      string        `yaml:"amount"`
	Amount0     string        `yaml:"amount0"`
	Amount1     string        `yaml:"amount1"`
	MinAmount0  string        `yaml:"min_amount0"`
	MinAmount1  string        `yaml:"min_amount1"`
	PPM         uint32        `yaml:"ppm"`
	BPS         uint32        `yaml:"bps"`
	Duration    time.Duration `yaml:"duration"`
	Swap        *SwapStep     `yaml:"swap"`
	ExpectError string        `yaml:"expect_error"`
}

// SwapStep builds a router instruction for a reposition.
type SwapStep struct {
	Pool     string `yaml:"pool"`
	TokenIn  string `yaml:"token_in"`
	TokenOut string `yaml:"token_out"`
	AmountIn string `yaml:"amount_in"`
	MinOut   string `yaml:"min_out"`
}

// Load reads and validates a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	sc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

// Parse decodes a YAML scenario and checks its references.
func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate checks that every name a pool, balance or step uses is declared.
func (s *Scenario) Validate() error {
	if _, err := config.ParseAddress("vault", s.Vault); err != nil {
		return err
	}
	if _, err := config.ParseTimestamp(s.StartTime); err != nil {
		return fmt.Errorf("start_time: %w", err)
	}
	for name, addr := range s.Accounts {
		if _, err := config.ParseAddress(name, addr); err != nil {
			return err
		}
	}

	tokens := make(map[string]bool, len(s.Tokens))
	for _, token := range s.Tokens {
		if token.Name == "" {
			return fmt.Errorf("token without name")
		}
		if tokens[token.Name] {
			return fmt.Errorf("duplicate token %q", token.Name)
		}
		tokens[token.Name] = true
	}

	pools := make(map[string]bool, len(s.Pools))
	for _, pool := range s.Pools {
		if pool.Name == "" || pools[pool.Name] {
			return fmt.Errorf("pool name %q missing or duplicated", pool.Name)
		}
		if !tokens[pool.TokenA] || !tokens[pool.TokenB] || pool.TokenA == pool.TokenB {
			return fmt.Errorf("pool %q: tokens %q/%q must be two declared tokens", pool.Name, pool.TokenA, pool.TokenB)
		}
		if err := checkAmount("reserves", pool.Reserves); err != nil {
			return fmt.Errorf("pool %q: %w", pool.Name, err)
		}
		pools[pool.Name] = true
	}

	for i, balance := range s.Balances {
		if !tokens[balance.Token] {
			return fmt.Errorf("balance %d: unknown token %q", i, balance.Token)
		}
		if err := checkAmount("amount", balance.Amount); err != nil {
			return fmt.Errorf("balance %d: %w", i, err)
		}
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("scenario has no steps")
	}
	for i, step := range s.Steps {
		if !knownActions[step.Action] {
			return fmt.Errorf("step %d: unknown action %q", i, step.Action)
		}
		if step.Pool != "" && !pools[step.Pool] {
			return fmt.Errorf("step %d: unknown pool %q", i, step.Pool)
		}
		if step.Token != "" && !tokens[step.Token] {
			return fmt.Errorf("step %d: unknown token %q", i, step.Token)
		}
		for _, amount := range []string{step.Liquidity, step.Amount, step.Amount0, step.Amount1, step.MinAmount0, step.MinAmount1} {
			if err := checkAmount("amount", amount); err != nil {
				return fmt.Errorf("step %d: %w", i, err)
			}
		}
		if step.Swap != nil {
			if !tokens[step.Swap.TokenIn] || !tokens[step.Swap.TokenOut] {
				return fmt.Errorf("step %d: swap tokens must be declared", i)
			}
			if step.Swap.Pool != "" && !pools[step.Swap.Pool] {
				return fmt.Errorf("step %d: unknown swap pool %q", i, step.Swap.Pool)
			}
			if err := checkAmount("amount_in", step.Swap.AmountIn); err != nil {
				return fmt.Errorf("step %d: %w", i, err)
			}
			if err := checkAmount("min_out", step.Swap.MinOut); err != nil {
				return fmt.Errorf("step %d: %w", i, err)
			}
		}
	}
	return nil
}

func checkAmount(field, value string) error {
	_, err := parseAmount(value)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	return nil
}

// parseAmount reads a decimal amount; underscores may group digits.
func parseAmount(value string) (*uint256.Int, error) {
	value = strings.ReplaceAll(strings.TrimSpace(value), "_", "")
	if value == "" {
		return new(uint256.Int), nil
	}
	return uint256.FromDecimal(value)
}

// resolveAddress maps a declared account name or a hex address.
func resolveAddress(accounts map[string]common.Address, name string) (common.Address, error) {
	if addr, ok := accounts[name]; ok {
		return addr, nil
	}
	if common.IsHexAddress(name) {
		return common.HexToAddress(name), nil
	}
	return common.Address{}, fmt.Errorf("unknown account %q", name)
}
