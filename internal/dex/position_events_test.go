package dex

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"rangeKeeper/internal/model"
)

func topicFromAddress(address common.Address) common.Hash {
	return common.BytesToHash(address.Bytes())
}

func TestPositionEventDecoderLiquidity(t *testing.T) {
	decoder, err := NewPositionEventDecoder()
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	managerABI := mustABI(t, PositionManagerABI)

	data, err := managerABI.Events[model.EventDecreaseLiquidity].Inputs.NonIndexed().Pack(
		big.NewInt(5000),
		big.NewInt(123),
		big.NewInt(456),
	)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	log := types.Log{
		Address:     managerAddr,
		Topics:      []common.Hash{decoder.Topic0(model.EventDecreaseLiquidity), common.BigToHash(big.NewInt(7))},
		Data:        data,
		BlockNumber: 100,
		TxHash:      common.HexToHash("0x01"),
		Index:       4,
	}
	if !decoder.CanDecode(log) {
		t.Fatalf("expected decodable log")
	}

	event, err := decoder.Decode(log)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.Event != model.EventDecreaseLiquidity || event.PositionID != 7 {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.Liquidity != "5000" || event.Amount0 != "123" || event.Amount1 != "456" {
		t.Fatalf("amounts mismatch: %+v", event)
	}
	if event.BlockNumber != 100 || event.LogIndex != 4 || event.TxHash != log.TxHash.Hex() {
		t.Fatalf("location mismatch: %+v", event)
	}
}

func TestPositionEventDecoderCollectAndTransfer(t *testing.T) {
	decoder, err := NewPositionEventDecoder()
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	managerABI := mustABI(t, PositionManagerABI)

	data, err := managerABI.Events[model.EventCollect].Inputs.NonIndexed().Pack(token1Addr, big.NewInt(9), big.NewInt(10))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	collect, err := decoder.Decode(types.Log{
		Topics: []common.Hash{decoder.Topic0(model.EventCollect), common.BigToHash(big.NewInt(3))},
		Data:   data,
	})
	if err != nil {
		t.Fatalf("decode collect: %v", err)
	}
	if collect.Recipient != token1Addr.Hex() || collect.Amount0 != "9" || collect.Liquidity != "" {
		t.Fatalf("unexpected collect: %+v", collect)
	}

	transfer, err := decoder.Decode(types.Log{
		Topics: []common.Hash{
			decoder.Topic0(model.EventTransfer),
			topicFromAddress(token0Addr),
			topicFromAddress(token1Addr),
			common.BigToHash(big.NewInt(3)),
		},
	})
	if err != nil {
		t.Fatalf("decode transfer: %v", err)
	}
	if transfer.PositionID != 3 || transfer.From != token0Addr.Hex() || transfer.To != token1Addr.Hex() {
		t.Fatalf("unexpected transfer: %+v", transfer)
	}
}

func TestPositionEventDecoderRejects(t *testing.T) {
	decoder, err := NewPositionEventDecoder()
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	if decoder.CanDecode(types.Log{}) {
		t.Fatalf("empty log must not be decodable")
	}
	if _, err := decoder.Decode(types.Log{Topics: []common.Hash{common.HexToHash("0xdead")}}); err == nil {
		t.Fatalf("expected unsupported topic error")
	}
	if _, err := decoder.Decode(types.Log{Topics: []common.Hash{decoder.Topic0(model.EventTransfer)}}); err == nil {
		t.Fatalf("expected topic count error")
	}
}

func TestPositionTopicsSelectsID(t *testing.T) {
	decoder, err := NewPositionEventDecoder()
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	queries := decoder.PositionTopics(42)
	if len(queries) != 2 {
		t.Fatalf("expected 2 queries, got %d", len(queries))
	}
	id := common.BigToHash(big.NewInt(42))
	if len(queries[0][0]) != 3 || queries[0][1][0] != id {
		t.Fatalf("unexpected liquidity query: %v", queries[0])
	}
	if queries[1][0][0] != decoder.Topic0(model.EventTransfer) || queries[1][3][0] != id {
		t.Fatalf("unexpected transfer query: %v", queries[1])
	}
}
