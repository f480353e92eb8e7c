package scenario

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"rangeKeeper/internal/clmath"
	"rangeKeeper/internal/config"
	"rangeKeeper/internal/model"
	"rangeKeeper/internal/sim"
	"rangeKeeper/internal/vault"
)

// ErrUnexpectedOutcome reports a step whose result did not match expect_error.
var ErrUnexpectedOutcome = errors.New("unexpected step outcome")

// Result records what one step did.
type Result struct {
	Step       int
	Action     string
	Err        error
	Receipt    *vault.Receipt
	PositionID uint64
	Liquidity  *uint256.Int
}

type poolRef struct {
	address common.Address
	token0  common.Address
	token1  common.Address
	fee     uint32
}

// Runner deploys a scenario's market on a simulated chain and drives a vault
// through its steps.
type Runner struct {
	scenario  *Scenario
	chain     *sim.Chain
	vault     *vault.Vault
	accounts  map[string]common.Address
	tokens    map[string]common.Address
	pools     map[string]poolRef
	positions map[string]uint64
	logger    *zap.Logger
}

// NewRunner builds the market described by sc and a vault over it. The vault
// persists into store and reports to sink.
func NewRunner(sc *Scenario, cfg vault.Config, store vault.KVStore, sink vault.EventSink, logger *zap.Logger) (*Runner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	start, err := config.ParseTimestamp(sc.StartTime)
	if err != nil {
		return nil, fmt.Errorf("start_time: %w", err)
	}
	now := time.Unix(int64(start), 0)
	if start == 0 {
		now = time.Now()
	}

	r := &Runner{
		scenario:  sc,
		chain:     sim.New(now),
		accounts:  make(map[string]common.Address, len(sc.Accounts)+1),
		tokens:    make(map[string]common.Address, len(sc.Tokens)),
		pools:     make(map[string]poolRef, len(sc.Pools)),
		positions: make(map[string]uint64),
		logger:    logger,
	}

	vaultAddress, err := config.ParseAddress("vault", sc.Vault)
	if err != nil {
		return nil, err
	}
	for name, addr := range sc.Accounts {
		r.accounts[name] = common.HexToAddress(addr)
	}
	r.accounts["vault"] = vaultAddress

	for _, token := range sc.Tokens {
		symbol := token.Symbol
		if symbol == "" {
			symbol = token.Name
		}
		r.tokens[token.Name] = r.chain.Tokens().Deploy(symbol, token.Name, token.Decimals)
	}
	for _, spec := range sc.Pools {
		if err := r.deployPool(spec); err != nil {
			return nil, err
		}
	}
	for i, balance := range sc.Balances {
		account, err := resolveAddress(r.accounts, balance.Account)
		if err != nil {
			return nil, fmt.Errorf("balance %d: %w", i, err)
		}
		amount, err := parseAmount(balance.Amount)
		if err != nil {
			return nil, fmt.Errorf("balance %d: %w", i, err)
		}
		if err := r.chain.Tokens().Mint(r.tokens[balance.Token], account, amount); err != nil {
			return nil, fmt.Errorf("balance %d: %w", i, err)
		}
	}

	v, err := vault.New(cfg, vaultAddress, r.chain.Backend(), store, sink, logger)
	if err != nil {
		return nil, err
	}
	r.chain.Manager().RegisterReceiver(vaultAddress, v)
	r.vault = v
	return r, nil
}

func (r *Runner) deployPool(spec PoolSpec) error {
	price, err := clmath.SqrtRatioAtTick(spec.Tick)
	if err != nil {
		return fmt.Errorf("pool %q: %w", spec.Name, err)
	}
	token0, token1 := sim.SortTokens(r.tokens[spec.TokenA], r.tokens[spec.TokenB])
	address, err := r.chain.Factory().CreatePool(token0, token1, spec.Fee, price)
	if err != nil {
		return fmt.Errorf("pool %q: %w", spec.Name, err)
	}
	reserves, err := parseAmount(spec.Reserves)
	if err != nil {
		return fmt.Errorf("pool %q: %w", spec.Name, err)
	}
	if !reserves.IsZero() {
		for _, token := range []common.Address{token0, token1} {
			if err := r.chain.Tokens().Mint(token, address, reserves); err != nil {
				return fmt.Errorf("pool %q: %w", spec.Name, err)
			}
		}
	}
	r.pools[spec.Name] = poolRef{address: address, token0: token0, token1: token1, fee: spec.Fee}
	return nil
}

func (r *Runner) Chain() *sim.Chain { return r.chain }
func (r *Runner) Vault() *vault.Vault { return r.vault }

// Token returns the address deployed for a declared token name.
func (r *Runner) Token(name string) common.Address { return r.tokens[name] }

// Run executes every step in order. A step that fails without a matching
// expect_error stops the run; the results so far are returned with the error.
func (r *Runner) Run(ctx context.Context) ([]Result, error) {
	results := make([]Result, 0, len(r.scenario.Steps))
	for i, step := range r.scenario.Steps {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		result, err := r.step(ctx, step)
		result.Step = i
		result.Action = step.Action
		result.Err = err

		switch {
		case step.ExpectError != "" && err == nil:
			return append(results, result), fmt.Errorf("step %d %s: %w: expected %s, got success", i, step.Action, ErrUnexpectedOutcome, step.ExpectError)
		case step.ExpectError != "" && vault.KindOf(err).String() != step.ExpectError:
			return append(results, result), fmt.Errorf("step %d %s: %w: expected %s, got %s: %v", i, step.Action, ErrUnexpectedOutcome, step.ExpectError, vault.KindOf(err), err)
		case step.ExpectError == "" && err != nil:
			return append(results, result), fmt.Errorf("step %d %s: %w", i, step.Action, err)
		}

		r.logger.Info("step done",
			zap.Int("step", i),
			zap.String("action", step.Action),
			zap.Bool("failed_as_expected", err != nil),
		)
		results = append(results, result)
	}
	return results, nil
}

func (r *Runner) step(ctx context.Context, step Step) (Result, error) {
	var result Result

	account := common.Address{}
	if step.Account != "" {
		addr, err := resolveAddress(r.accounts, step.Account)
		if err != nil {
			return result, err
		}
		account = addr
	}

	switch step.Action {
	case ActionFund:
		amount, err := parseAmount(step.Amount)
		if err != nil {
			return result, err
		}
		return result, r.chain.Tokens().Mint(r.tokens[step.Token], account, amount)

	case ActionMint:
		pool, err := r.pool(step.Pool)
		if err != nil {
			return result, err
		}
		liquidity, err := parseAmount(step.Liquidity)
		if err != nil {
			return result, err
		}
		for _, token := range []common.Address{pool.token0, pool.token1} {
			if err := r.chain.Tokens().Approve(ctx, token, account, r.chain.Manager().Address(), clmath.MaxUint256); err != nil {
				return result, err
			}
		}
		minted, err := r.chain.Manager().MintLiquidity(account, pool.token0, pool.token1, pool.fee, step.TickLower, step.TickUpper, liquidity, account)
		if err != nil {
			return result, err
		}
		if step.As != "" {
			r.positions[step.As] = minted.ID
		}
		result.PositionID = minted.ID
		result.Liquidity = minted.Liquidity
		return result, nil

	case ActionClaim:
		return result, r.vault.ClaimOwnership(ctx, account)

	case ActionSetOperator:
		target, err := resolveAddress(r.accounts, step.Target)
		if err != nil {
			return result, err
		}
		allowed := step.Allowed == nil || *step.Allowed
		return result, r.vault.SetOperator(ctx, account, target, allowed)

	case ActionSetMaxLoss:
		return result, r.vault.SetMaxLoss(ctx, account, step.PPM)

	case ActionDeposit:
		id, err := r.position(step.Position)
		if err != nil {
			return result, err
		}
		result.PositionID = id
		return result, r.chain.Manager().SafeTransferFrom(ctx, account, account, r.vault.Address(), id)

	case ActionSetTick:
		pool, err := r.pool(step.Pool)
		if err != nil {
			return result, err
		}
		return result, r.chain.Factory().SetTick(pool.address, step.Tick)

	case ActionAccrueFees:
		id, err := r.position(step.Position)
		if err != nil {
			return result, err
		}
		amount0, err := parseAmount(step.Amount0)
		if err != nil {
			return result, err
		}
		amount1, err := parseAmount(step.Amount1)
		if err != nil {
			return result, err
		}
		result.PositionID = id
		return result, r.chain.Manager().AccrueFees(id, amount0, amount1)

	case ActionSetSlippage:
		return result, r.chain.Router().SetSlippage(step.BPS)

	case ActionAdvance:
		r.chain.Advance(step.Duration)
		return result, nil

	case ActionReposition:
		req, err := r.request(step)
		if err != nil {
			return result, err
		}
		receipt, err := r.vault.Reposition(ctx, account, req)
		if err != nil {
			return result, err
		}
		result.Receipt = receipt
		result.PositionID = receipt.NewPositionID
		if step.As != "" {
			r.positions[step.As] = receipt.NewPositionID
		}
		return result, nil

	case ActionCompound:
		added, err := r.vault.Compound(ctx, account)
		result.PositionID = r.vault.HeldPosition()
		result.Liquidity = added
		return result, err

	case ActionWithdraw:
		result.PositionID = r.vault.HeldPosition()
		return result, r.vault.Withdraw(ctx, account)

	default:
		return result, fmt.Errorf("unknown action %q", step.Action)
	}
}

func (r *Runner) request(step Step) (model.RepositionRequest, error) {
	min0, err := parseAmount(step.MinAmount0)
	if err != nil {
		return model.RepositionRequest{}, err
	}
	min1, err := parseAmount(step.MinAmount1)
	if err != nil {
		return model.RepositionRequest{}, err
	}
	req := model.RepositionRequest{
		TickLower:  step.TickLower,
		TickUpper:  step.TickUpper,
		MinAmount0: min0,
		MinAmount1: min1,
	}
	if step.Swap == nil {
		return req, nil
	}

	pool, err := r.pool(step.Swap.Pool)
	if err != nil {
		return model.RepositionRequest{}, err
	}
	amountIn, err := parseAmount(step.Swap.AmountIn)
	if err != nil {
		return model.RepositionRequest{}, err
	}
	minOut, err := parseAmount(step.Swap.MinOut)
	if err != nil {
		return model.RepositionRequest{}, err
	}
	req.Swap, err = r.chain.Router().Instruction(sim.Swap{
		TokenIn:      r.tokens[step.Swap.TokenIn],
		TokenOut:     r.tokens[step.Swap.TokenOut],
		Fee:          pool.fee,
		AmountIn:     amountIn,
		AmountOutMin: minOut,
	})
	return req, err
}

// pool resolves a pool name; an empty name means the only declared pool.
func (r *Runner) pool(name string) (poolRef, error) {
	if name == "" {
		if len(r.scenario.Pools) != 1 {
			return poolRef{}, fmt.Errorf("pool name required with %d pools declared", len(r.scenario.Pools))
		}
		name = r.scenario.Pools[0].Name
	}
	pool, ok := r.pools[name]
	if !ok {
		return poolRef{}, fmt.Errorf("unknown pool %q", name)
	}
	return pool, nil
}

// position resolves a name given by a mint or reposition step, a numeric id,
// or "" / "held" for the vault's current position.
func (r *Runner) position(name string) (uint64, error) {
	if name == "" || name == "held" {
		id := r.vault.HeldPosition()
		if id == 0 {
			return 0, vault.ErrNothingHeld
		}
		return id, nil
	}
	if id, ok := r.positions[name]; ok {
		return id, nil
	}
	id, err := strconv.ParseUint(name, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unknown position %q", name)
	}
	return id, nil
}
