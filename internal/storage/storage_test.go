package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"rangeKeeper/internal/model"
)

func TestJsonlStorageAppendsAndReads(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "out", "repositions.jsonl")
	sink := NewJsonlStorage(path)

	events, err := sink.ReadRepositionEvents()
	require.NoError(t, err)
	require.Empty(t, events)

	first := model.RepositionEvent{Vault: "0xa017", OldPositionID: 1, NewPositionID: 2, StartValue: "1000", EndValue: "990", LossPPM: 10_000}
	second := model.RepositionEvent{Vault: "0xa017", OldPositionID: 2, NewPositionID: 3, LossPPM: -5, Swapped: true}
	require.NoError(t, sink.PutRepositionEvent(ctx, first))
	require.NoError(t, sink.PutRepositionEvent(ctx, second))

	events, err = sink.ReadRepositionEvents()
	require.NoError(t, err)
	require.Equal(t, []model.RepositionEvent{first, second}, events)
}

func TestJsonlStorageReportsBadLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"vault\":\"0x1\"}\n\nnot json\n"), 0o644))

	_, err := NewJsonlStorage(path).ReadRepositionEvents()
	require.ErrorContains(t, err, "line 3")
}

func TestFileStorePersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "vault.json")

	store := &FileStore{Path: path}
	_, ok, err := store.Get(ctx, "vault/0xa017/owner")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Set(ctx, "vault/0xa017/owner", []byte("0x01")))
	require.NoError(t, store.Set(ctx, "vault/0xa017/position", []byte("7")))
	require.NoError(t, store.Set(ctx, "vault/0xb0b/position", []byte("9")))

	reopened := &FileStore{Path: path}
	value, ok, err := reopened.Get(ctx, "vault/0xa017/position")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "7", string(value))

	keys, err := reopened.Keys(context.Background(), "vault/0xa017/")
	require.NoError(t, err)
	require.Equal(t, []string{"vault/0xa017/owner", "vault/0xa017/position"}, keys)

	_, err = os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(err))
}

func TestFileStoreRequiresPath(t *testing.T) {
	_, _, err := (&FileStore{}).Get(context.Background(), "k")
	require.Error(t, err)
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	value := []byte("1")
	require.NoError(t, store.Set(ctx, "vault/x/operator/0x02", value))
	value[0] = '0'

	got, ok, err := store.Get(ctx, "vault/x/operator/0x02")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", string(got))
	got[0] = '0'

	again, _, err := store.Get(ctx, "vault/x/operator/0x02")
	require.NoError(t, err)
	require.Equal(t, "1", string(again))
	keys, err := store.Keys(ctx, "vault/x/")
	require.NoError(t, err)
	require.Equal(t, []string{"vault/x/operator/0x02"}, keys)
}

type failingSink struct{ err error }

func (f failingSink) PutRepositionEvent(context.Context, model.RepositionEvent) error { return f.err }

func TestMultiSinkStopsAtFirstFailure(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.jsonl")
	jsonl := NewJsonlStorage(path)
	down := errors.New("down")

	require.NoError(t, MultiSink{nil, jsonl}.PutRepositionEvent(ctx, model.RepositionEvent{NewPositionID: 1}))

	err := MultiSink{failingSink{err: down}, jsonl}.PutRepositionEvent(ctx, model.RepositionEvent{NewPositionID: 2})
	require.ErrorIs(t, err, down)

	events, err := jsonl.ReadRepositionEvents()
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestMultiPositionSinkWritesEverySink(t *testing.T) {
	ctx := context.Background()
	first := NewJsonlStorage(filepath.Join(t.TempDir(), "a.jsonl"))
	second := NewJsonlStorage(filepath.Join(t.TempDir(), "b.jsonl"))
	events := []model.PositionEvent{
		{PositionID: 7, Event: model.EventIncreaseLiquidity, BlockNumber: 10, Liquidity: "5", Amount0: "1", Amount1: "2"},
		{PositionID: 7, Event: model.EventTransfer, BlockNumber: 11, From: "0x01", To: "0x02"},
	}

	require.NoError(t, MultiPositionSink{first, nil, second}.PutPositionEvents(ctx, events))
	require.NoError(t, first.PutPositionEvents(ctx, nil))

	for _, sink := range []*JsonlStorage{first, second} {
		got, err := sink.ReadPositionEvents()
		require.NoError(t, err)
		require.Equal(t, events, got)
	}
}
