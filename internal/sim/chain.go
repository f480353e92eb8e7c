// Package sim is an in-memory chain implementing every collaborator a vault
// talks to: ERC20 tokens, a pool factory, pools, a position manager, a quoter
// and a swap router. State changes are journaled so a caller can snapshot and
// revert them. A Chain is not safe for concurrent use.
package sim

import (
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"rangeKeeper/internal/vault"
)

var (
	ErrUnknownToken          = errors.New("unknown token")
	ErrInsufficientBalance   = errors.New("transfer amount exceeds balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrPoolExists            = errors.New("pool already exists")
	ErrUnknownPool           = errors.New("pool does not exist")
	ErrInvalidTicks          = errors.New("invalid ticks")
	ErrExpired               = errors.New("transaction too old")
	ErrPriceSlippage         = errors.New("price slippage check")
	ErrNotApproved           = errors.New("not approved")
	ErrNotCleared            = errors.New("not cleared")
	ErrZeroLiquidity         = errors.New("zero liquidity")
	ErrTooLittleReceived     = errors.New("too little received")
	ErrUnknownTarget         = errors.New("unknown swap target")
)

// Deployer is the account that deploys the simulated contracts.
var Deployer = common.HexToAddress("0x00000000000000000000000000000000000d3910")

// Chain holds the simulated state and its journal.
type Chain struct {
	now       time.Time
	nonce     uint64
	state     state
	snapshots []state
	receivers map[common.Address]PositionReceiver
	swapHook  func() error

	approveCalls int

	tokens  *Tokens
	factory *Factory
	manager *Manager
	quoter  *Quoter
	router  *Router
}

type balanceKey struct {
	token   common.Address
	account common.Address
}

type allowanceKey struct {
	token   common.Address
	owner   common.Address
	spender common.Address
}

type poolKey struct {
	token0 common.Address
	token1 common.Address
	fee    uint32
}

type tokenInfo struct {
	symbol   string
	name     string
	decimals uint8
}

type poolState struct {
	key          poolKey
	sqrtPriceX96 uint256.Int
}

type position struct {
	owner     common.Address
	approved  common.Address
	pool      common.Address
	key       poolKey
	tickLower int32
	tickUpper int32
	liquidity uint256.Int
	owed0     uint256.Int
	owed1     uint256.Int
}

type state struct {
	tokens     map[common.Address]tokenInfo
	balances   map[balanceKey]uint256.Int
	allowances map[allowanceKey]uint256.Int
	pools      map[common.Address]poolState
	poolIndex  map[poolKey]common.Address
	positions  map[uint64]position
	nextID     uint64
}

func newState() state {
	return state{
		tokens:     make(map[common.Address]tokenInfo),
		balances:   make(map[balanceKey]uint256.Int),
		allowances: make(map[allowanceKey]uint256.Int),
		pools:      make(map[common.Address]poolState),
		poolIndex:  make(map[poolKey]common.Address),
		positions:  make(map[uint64]position),
		nextID:     1,
	}
}

func (s state) clone() state {
	out := state{
		tokens:     make(map[common.Address]tokenInfo, len(s.tokens)),
		balances:   make(map[balanceKey]uint256.Int, len(s.balances)),
		allowances: make(map[allowanceKey]uint256.Int, len(s.allowances)),
		pools:      make(map[common.Address]poolState, len(s.pools)),
		poolIndex:  make(map[poolKey]common.Address, len(s.poolIndex)),
		positions:  make(map[uint64]position, len(s.positions)),
		nextID:     s.nextID,
	}
	for k, v := range s.tokens {
		out.tokens[k] = v
	}
	for k, v := range s.balances {
		out.balances[k] = v
	}
	for k, v := range s.allowances {
		out.allowances[k] = v
	}
	for k, v := range s.pools {
		out.pools[k] = v
	}
	for k, v := range s.poolIndex {
		out.poolIndex[k] = v
	}
	for k, v := range s.positions {
		out.positions[k] = v
	}
	return out
}

// New deploys the simulated contracts with the clock set to now.
func New(now time.Time) *Chain {
	c := &Chain{
		now:       now,
		state:     newState(),
		receivers: make(map[common.Address]PositionReceiver),
	}
	c.tokens = &Tokens{chain: c}
	c.factory = &Factory{chain: c, address: c.nextAddress()}
	c.manager = &Manager{chain: c, address: c.nextAddress()}
	c.quoter = &Quoter{chain: c, address: c.nextAddress()}
	c.router = &Router{chain: c, address: c.nextAddress()}
	return c
}

func (c *Chain) nextAddress() common.Address {
	address := crypto.CreateAddress(Deployer, c.nonce)
	c.nonce++
	return address
}

func (c *Chain) Tokens() *Tokens { return c.tokens }
func (c *Chain) Factory() *Factory { return c.factory }
func (c *Chain) Manager() *Manager { return c.manager }
func (c *Chain) Quoter() *Quoter { return c.quoter }
func (c *Chain) Router() *Router { return c.router }
func (c *Chain) Now() time.Time { return c.now }
func (c *Chain) ApproveCalls() int { return c.approveCalls }
func (c *Chain) Advance(d time.Duration) { c.now = c.now.Add(d) }

// Snapshot records the current state and returns its revision id.
func (c *Chain) Snapshot() int {
	c.snapshots = append(c.snapshots, c.state.clone())
	return len(c.snapshots) - 1
}

// RevertToSnapshot restores the state recorded by Snapshot and drops every
// later revision.
func (c *Chain) RevertToSnapshot(id int) {
	if id < 0 || id >= len(c.snapshots) {
		return
	}
	c.state = c.snapshots[id]
	c.snapshots = c.snapshots[:id]
}

// DiscardSnapshot drops revision id and every later one while keeping the
// current state. Calls that snapshot for their own rollback discard on success.
func (c *Chain) DiscardSnapshot(id int) {
	if id < 0 || id >= len(c.snapshots) {
		return
	}
	c.snapshots = c.snapshots[:id]
}

// Revisions returns the number of live snapshots.
func (c *Chain) Revisions() int { return len(c.snapshots) }

// Backend binds the chain to the vault collaborator set.
func (c *Chain) Backend() vault.Backend {
	return vault.Backend{
		Positions: c.manager,
		Factory:   c.factory,
		Prices:    c.factory,
		Quoter:    c.quoter,
		Exchange:  c.router,
		Tokens:    c.tokens,
		Journal:   c,
		Clock:     c.Now,
	}
}

// OnSwap installs fn to run at the start of every router execution.
func (c *Chain) OnSwap(fn func() error) {
	c.swapHook = fn
}

func (c *Chain) balance(token, account common.Address) *uint256.Int {
	v := c.state.balances[balanceKey{token, account}]
	return &v
}

func (c *Chain) setBalance(token, account common.Address, amount *uint256.Int) {
	c.state.balances[balanceKey{token, account}] = *amount
}

func (c *Chain) allowance(token, owner, spender common.Address) *uint256.Int {
	v := c.state.allowances[allowanceKey{token, owner, spender}]
	return &v
}

func (c *Chain) transfer(token, from, to common.Address, amount *uint256.Int) error {
	if _, ok := c.state.tokens[token]; !ok {
		return ErrUnknownToken
	}
	fromBalance := c.balance(token, from)
	if fromBalance.Lt(amount) {
		return ErrInsufficientBalance
	}
	c.setBalance(token, from, new(uint256.Int).Sub(fromBalance, amount))
	c.setBalance(token, to, new(uint256.Int).Add(c.balance(token, to), amount))
	return nil
}

// transferFrom moves amount from owner to to, spending spender's allowance.
// An allowance of the maximum value is not decreased.
func (c *Chain) transferFrom(token, spender, owner, to common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	allowed := c.allowance(token, owner, spender)
	if allowed.Lt(amount) {
		return ErrInsufficientAllowance
	}
	if err := c.transfer(token, owner, to, amount); err != nil {
		return err
	}
	if !allowed.Eq(maxUint256) {
		c.state.allowances[allowanceKey{token, owner, spender}] = *new(uint256.Int).Sub(allowed, amount)
	}
	return nil
}

var maxUint256 = new(uint256.Int).SetAllOne()
