package sim

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"rangeKeeper/internal/model"
)

// Tokens is the ERC20 ledger of every token deployed on the chain.
type Tokens struct {
	chain *Chain
}

// Deploy creates a token and returns its address.
func (t *Tokens) Deploy(symbol, name string, decimals uint8) common.Address {
	address := t.chain.nextAddress()
	t.chain.state.tokens[address] = tokenInfo{symbol: symbol, name: name, decimals: decimals}
	return address
}

// Mint credits amount of token to account.
func (t *Tokens) Mint(token, account common.Address, amount *uint256.Int) error {
	if _, ok := t.chain.state.tokens[token]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	t.chain.setBalance(token, account, new(uint256.Int).Add(t.chain.balance(token, account), amount))
	return nil
}

// Meta returns the token's metadata.
func (t *Tokens) Meta(token common.Address) (model.TokenMeta, error) {
	info, ok := t.chain.state.tokens[token]
	if !ok {
		return model.TokenMeta{}, fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	return model.TokenMeta{
		Address:  token.Hex(),
		Decimals: info.decimals,
		Symbol:   info.symbol,
		Name:     info.name,
	}, nil
}

func (t *Tokens) BalanceOf(_ context.Context, token, account common.Address) (*uint256.Int, error) {
	if _, ok := t.chain.state.tokens[token]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	return t.chain.balance(token, account), nil
}

func (t *Tokens) Allowance(_ context.Context, token, owner, spender common.Address) (*uint256.Int, error) {
	if _, ok := t.chain.state.tokens[token]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	return t.chain.allowance(token, owner, spender), nil
}

// Approve sets spender's allowance over owner's balance. Every call is
// counted, including ones that leave the allowance unchanged.
func (t *Tokens) Approve(_ context.Context, token, owner, spender common.Address, amount *uint256.Int) error {
	if _, ok := t.chain.state.tokens[token]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	t.chain.approveCalls++
	t.chain.state.allowances[allowanceKey{token, owner, spender}] = *amount
	return nil
}

func (t *Tokens) Transfer(_ context.Context, token, from, to common.Address, amount *uint256.Int) error {
	if err := t.chain.transfer(token, from, to, amount); err != nil {
		return fmt.Errorf("transfer %s: %w", token.Hex(), err)
	}
	return nil
}
