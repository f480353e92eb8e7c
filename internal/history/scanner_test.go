package history

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"rangeKeeper/internal/dex"
	"rangeKeeper/internal/model"
	"rangeKeeper/internal/storage"
)

var (
	manager = common.HexToAddress("0xC36442b4a4522E871399CD717aBDD847Ab11FE88")
	alice   = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	vaultAt = common.HexToAddress("0x000000000000000000000000000000000000a017")
)

type fakeSource struct {
	logs        []types.Log
	filterCalls int
	failFirst   bool
}

func (f *fakeSource) ChainID(context.Context) (*big.Int, error) { return big.NewInt(56), nil }

func (f *fakeSource) LatestBlockNumber(context.Context) (uint64, error) { return 120, nil }

func (f *fakeSource) BlockTimestamp(_ context.Context, number uint64) (uint64, error) {
	return 1_700_000_000 + number*3, nil
}

func (f *fakeSource) FilterLogs(_ context.Context, from, to uint64, addresses []common.Address, topics [][]common.Hash) ([]types.Log, error) {
	f.filterCalls++
	if f.failFirst {
		f.failFirst = false
		return nil, errors.New("429 too many requests")
	}
	var out []types.Log
	for _, log := range f.logs {
		if log.BlockNumber < from || log.BlockNumber > to || log.Address != addresses[0] {
			continue
		}
		if matches(log, topics) {
			out = append(out, log)
		}
	}
	return out, nil
}

func matches(log types.Log, topics [][]common.Hash) bool {
	if len(log.Topics) < len(topics) {
		return false
	}
	for i, allowed := range topics {
		if len(allowed) == 0 {
			continue
		}
		found := false
		for _, topic := range allowed {
			if log.Topics[i] == topic {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func liquidityLog(t *testing.T, name string, block uint64, index uint, id uint64, liquidity, amount0, amount1 int64) types.Log {
	t.Helper()
	parsed, err := dex.PositionManagerABI()
	require.NoError(t, err)
	event := parsed.Events[name]
	data, err := event.Inputs.NonIndexed().Pack(big.NewInt(liquidity), big.NewInt(amount0), big.NewInt(amount1))
	require.NoError(t, err)
	return types.Log{
		Address:     manager,
		Topics:      []common.Hash{event.ID, common.BigToHash(new(big.Int).SetUint64(id))},
		Data:        data,
		BlockNumber: block,
		Index:       index,
		TxHash:      common.BigToHash(big.NewInt(int64(block*100) + int64(index))),
	}
}

func collectLog(t *testing.T, block uint64, index uint, id uint64, recipient common.Address, amount0, amount1 int64) types.Log {
	t.Helper()
	parsed, err := dex.PositionManagerABI()
	require.NoError(t, err)
	event := parsed.Events[model.EventCollect]
	data, err := event.Inputs.NonIndexed().Pack(recipient, big.NewInt(amount0), big.NewInt(amount1))
	require.NoError(t, err)
	return types.Log{
		Address:     manager,
		Topics:      []common.Hash{event.ID, common.BigToHash(new(big.Int).SetUint64(id))},
		Data:        data,
		BlockNumber: block,
		Index:       index,
		TxHash:      common.BigToHash(big.NewInt(int64(block*100) + int64(index))),
	}
}

func transferLog(t *testing.T, block uint64, index uint, from, to common.Address, id uint64) types.Log {
	t.Helper()
	parsed, err := dex.PositionManagerABI()
	require.NoError(t, err)
	return types.Log{
		Address: manager,
		Topics: []common.Hash{
			parsed.Events[model.EventTransfer].ID,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
			common.BigToHash(new(big.Int).SetUint64(id)),
		},
		BlockNumber: block,
		Index:       index,
		TxHash:      common.BigToHash(big.NewInt(int64(block*100) + int64(index))),
	}
}

type memorySink struct{ events []model.PositionEvent }

func (m *memorySink) PutPositionEvents(_ context.Context, events []model.PositionEvent) error {
	m.events = append(m.events, events...)
	return nil
}

func TestScannerCollectsPositionEventsInOrder(t *testing.T) {
	source := &fakeSource{failFirst: true, logs: []types.Log{
		transferLog(t, 10, 1, common.Address{}, alice, 7),
		liquidityLog(t, model.EventIncreaseLiquidity, 10, 0, 7, 500, 12, 13),
		transferLog(t, 40, 0, alice, vaultAt, 7),
		liquidityLog(t, model.EventIncreaseLiquidity, 45, 0, 8, 1, 1, 1),
		liquidityLog(t, model.EventDecreaseLiquidity, 90, 2, 7, 500, 11, 12),
		collectLog(t, 90, 3, 7, vaultAt, 11, 12),
	}}
	sink := &memorySink{}
	store := storage.NewMemoryStore()
	checkpoint := NewCheckpoint(store, manager, 7)

	scanner, err := NewScanner(ScanConfig{
		PositionManager: manager,
		PositionID:      7,
		FromBlock:       1,
		BatchSize:       50,
		MaxRetries:      2,
		RetryBackoff:    time.Millisecond,
	}, source, sink, checkpoint, nil)
	require.NoError(t, err)

	written, err := scanner.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 5, written)

	var names []string
	for _, event := range sink.events {
		names = append(names, event.Event)
		require.Equal(t, uint64(7), event.PositionID)
		require.Equal(t, uint64(56), event.ChainID)
		require.Equal(t, 1_700_000_000+event.BlockNumber*3, event.Timestamp)
	}
	require.Equal(t, []string{
		model.EventIncreaseLiquidity,
		model.EventTransfer,
		model.EventTransfer,
		model.EventDecreaseLiquidity,
		model.EventCollect,
	}, names)

	require.Equal(t, "500", sink.events[0].Liquidity)
	require.Equal(t, "12", sink.events[0].Amount0)
	require.Equal(t, alice.Hex(), sink.events[2].From)
	require.Equal(t, vaultAt.Hex(), sink.events[2].To)
	require.Equal(t, vaultAt.Hex(), sink.events[4].Recipient)
	require.Equal(t, "12", sink.events[4].Amount1)

	last, ok, err := checkpoint.Load(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(120), last)
	// three batches, two topic queries each, plus the failed first attempt
	require.Equal(t, 7, source.filterCalls)
}

func TestScannerResumesFromCheckpoint(t *testing.T) {
	source := &fakeSource{logs: []types.Log{
		liquidityLog(t, model.EventIncreaseLiquidity, 10, 0, 7, 500, 12, 13),
		liquidityLog(t, model.EventDecreaseLiquidity, 90, 0, 7, 500, 11, 12),
	}}
	store := storage.NewMemoryStore()
	checkpoint := NewCheckpoint(store, manager, 7)
	require.NoError(t, checkpoint.Save(context.Background(), 50))

	path := filepath.Join(t.TempDir(), "history.jsonl")
	scanner, err := NewScanner(ScanConfig{
		PositionManager: manager,
		PositionID:      7,
		FromBlock:       1,
		ToBlock:         100,
		BatchSize:       1_000,
	}, source, storage.NewJsonlStorage(path), checkpoint, nil)
	require.NoError(t, err)

	written, err := scanner.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, written)

	written, err = scanner.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, written)
}

func TestScannerValidatesConfig(t *testing.T) {
	scanner, err := NewScanner(ScanConfig{PositionManager: manager, PositionID: 7}, &fakeSource{}, &memorySink{}, nil, nil)
	require.NoError(t, err)
	_, err = scanner.Run(context.Background())
	require.Error(t, err)

	scanner, err = NewScanner(ScanConfig{PositionID: 7, BatchSize: 10}, &fakeSource{}, &memorySink{}, nil, nil)
	require.NoError(t, err)
	_, err = scanner.Run(context.Background())
	require.Error(t, err)
}
