package scenario

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"rangeKeeper/internal/model"
	"rangeKeeper/internal/storage"
	"rangeKeeper/internal/vault"
)

type recordingSink struct{ events []model.RepositionEvent }

func (s *recordingSink) PutRepositionEvent(_ context.Context, event model.RepositionEvent) error {
	s.events = append(s.events, event)
	return nil
}

func testVaultConfig() vault.Config {
	cfg := vault.DefaultConfig()
	cfg.DeadlineWindow = time.Minute
	return cfg
}

func TestRunRebalanceScenario(t *testing.T) {
	sc, err := Load(filepath.Join("testdata", "rebalance.yaml"))
	require.NoError(t, err)

	store := storage.NewMemoryStore()
	sink := &recordingSink{}
	runner, err := NewRunner(sc, testVaultConfig(), store, sink, nil)
	require.NoError(t, err)

	results, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, len(sc.Steps))

	first := results[0].PositionID
	require.NotZero(t, first)
	require.Equal(t, vault.KindAuthorization, vault.KindOf(results[4].Err))

	receipt := results[6].Receipt
	require.NotNil(t, receipt)
	require.Equal(t, first, receipt.OldPositionID)
	require.Equal(t, uint64(1_000), receipt.Fees0.Uint64())
	require.Equal(t, uint64(2_000), receipt.Fees1.Uint64())

	require.ErrorIs(t, results[9].Err, vault.ErrLossExceeded)
	require.Len(t, sink.events, 1)
	require.Equal(t, receipt.NewPositionID, sink.events[0].NewPositionID)

	second := receipt.NewPositionID
	require.Equal(t, second, results[12].PositionID)
	require.False(t, results[12].Liquidity.IsZero())
	require.Equal(t, second, results[13].PositionID)
	require.Zero(t, runner.Vault().HeldPosition())
	holder, err := runner.Chain().Manager().OwnerOf(second)
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress("0x0000000000000000000000000000000000000001"), holder)
	require.Equal(t, time.Unix(1_700_000_000, 0).Add(time.Hour), runner.Chain().Now())

	raw, ok, err := store.Get(context.Background(), vault.StateKey(runner.Vault().Address(), "max_loss_ppm"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "100", string(raw))
}

func TestRunStopsOnUnexpectedOutcome(t *testing.T) {
	sc, err := Load(filepath.Join("testdata", "rebalance.yaml"))
	require.NoError(t, err)
	sc.Steps[4].ExpectError = "loss_exceeded"

	runner, err := NewRunner(sc, testVaultConfig(), storage.NewMemoryStore(), nil, nil)
	require.NoError(t, err)

	results, err := runner.Run(context.Background())
	require.ErrorIs(t, err, ErrUnexpectedOutcome)
	require.Len(t, results, 5)

	sc.Steps[4].ExpectError = ""
	runner, err = NewRunner(sc, testVaultConfig(), storage.NewMemoryStore(), nil, nil)
	require.NoError(t, err)
	_, err = runner.Run(context.Background())
	require.ErrorIs(t, err, vault.ErrNotOperator)
}

func TestParseRejectsBadScenarios(t *testing.T) {
	base := `
vault: "0x000000000000000000000000000000000000a017"
tokens: [{name: a}, {name: b}]
pools: [{name: p, token_a: a, token_b: b, fee: 500}]
`
	cases := map[string]string{
		"no steps":       base,
		"unknown action": base + "steps: [{action: explode}]",
		"unknown pool":   base + "steps: [{action: set_tick, pool: q}]",
		"bad amount":     base + "steps: [{action: fund, token: a, amount: \"1.5\"}]",
		"swap token":     base + "steps: [{action: reposition, swap: {token_in: a, token_out: c}}]",
		"bad vault":      strings.Replace(base, "0x000000000000000000000000000000000000a017", "0x12", 1) + "steps: [{action: claim}]",
		"bad start":      base + "start_time: tomorrow\nsteps: [{action: claim}]",
		"same tokens":    strings.Replace(base, "token_b: b", "token_b: a", 1) + "steps: [{action: claim}]",
	}
	for name, doc := range cases {
		_, err := Parse([]byte(doc))
		require.Error(t, err, name)
	}

	sc, err := Parse([]byte(base + "steps: [{action: advance, duration: 90s}]"))
	require.NoError(t, err)
	require.Equal(t, 90*time.Second, sc.Steps[0].Duration)
}
