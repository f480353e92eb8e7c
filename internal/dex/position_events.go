package dex

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"rangeKeeper/internal/model"
)

// PositionEventDecoder decodes NonfungiblePositionManager logs.
type PositionEventDecoder struct {
	managerABI  abi.ABI
	topicToName map[common.Hash]string
}

func NewPositionEventDecoder() (*PositionEventDecoder, error) {
	managerABI, err := PositionManagerABI()
	if err != nil {
		return nil, err
	}
	topicToName := make(map[common.Hash]string)
	for _, name := range []string{model.EventIncreaseLiquidity, model.EventDecreaseLiquidity, model.EventCollect, model.EventTransfer} {
		topicToName[managerABI.Events[name].ID] = name
	}
	return &PositionEventDecoder{managerABI: managerABI, topicToName: topicToName}, nil
}

// Topic0 returns the signature hash of the named event.
func (d *PositionEventDecoder) Topic0(name string) common.Hash {
	return d.managerABI.Events[name].ID
}

// PositionTopics builds the log filters selecting every event of position
// id: the liquidity and collect events index it first, transfers third.
func (d *PositionEventDecoder) PositionTopics(id uint64) [][][]common.Hash {
	idTopic := common.BigToHash(new(big.Int).SetUint64(id))
	return [][][]common.Hash{
		{
			{d.Topic0(model.EventIncreaseLiquidity), d.Topic0(model.EventDecreaseLiquidity), d.Topic0(model.EventCollect)},
			{idTopic},
		},
		{
			{d.Topic0(model.EventTransfer)},
			nil,
			nil,
			{idTopic},
		},
	}
}

// CanDecode checks if the log's topic0 is a position event.
func (d *PositionEventDecoder) CanDecode(log types.Log) bool {
	if len(log.Topics) == 0 {
		return false
	}
	_, ok := d.topicToName[log.Topics[0]]
	return ok
}

// Decode converts a raw log into a PositionEvent. Block timestamps are left
// for the caller to fill.
func (d *PositionEventDecoder) Decode(log types.Log) (model.PositionEvent, error) {
	if len(log.Topics) == 0 {
		return model.PositionEvent{}, fmt.Errorf("missing topics")
	}
	name, ok := d.topicToName[log.Topics[0]]
	if !ok {
		return model.PositionEvent{}, fmt.Errorf("unsupported topic0: %s", log.Topics[0].Hex())
	}
	event := d.managerABI.Events[name]
	indexed := indexedArguments(event.Inputs)
	if len(log.Topics) != len(indexed)+1 {
		return model.PositionEvent{}, fmt.Errorf("%s: expected %d topics, got %d", name, len(indexed)+1, len(log.Topics))
	}

	out := model.PositionEvent{
		Event:       name,
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash.Hex(),
		LogIndex:    uint64(log.Index),
	}

	if name == model.EventTransfer {
		var topics struct {
			From    common.Address
			To      common.Address
			TokenId *big.Int
		}
		if err := abi.ParseTopics(&topics, indexed, log.Topics[1:]); err != nil {
			return model.PositionEvent{}, fmt.Errorf("parse topics: %w", err)
		}
		out.PositionID = topics.TokenId.Uint64()
		out.From = topics.From.Hex()
		out.To = topics.To.Hex()
		return out, nil
	}

	var topics struct {
		TokenId *big.Int
	}
	if err := abi.ParseTopics(&topics, indexed, log.Topics[1:]); err != nil {
		return model.PositionEvent{}, fmt.Errorf("parse topics: %w", err)
	}
	out.PositionID = topics.TokenId.Uint64()

	values, err := event.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return model.PositionEvent{}, fmt.Errorf("unpack %s: %w", name, err)
	}
	if len(values) != 3 {
		return model.PositionEvent{}, fmt.Errorf("unexpected %s values: %d", name, len(values))
	}

	if name == model.EventCollect {
		recipient, err := asAddress(values[0])
		if err != nil {
			return model.PositionEvent{}, err
		}
		out.Recipient = recipient.Hex()
	} else {
		liquidity, err := asBigInt(values[0])
		if err != nil {
			return model.PositionEvent{}, err
		}
		out.Liquidity = liquidity.String()
	}
	amount0, err := asBigInt(values[1])
	if err != nil {
		return model.PositionEvent{}, err
	}
	amount1, err := asBigInt(values[2])
	if err != nil {
		return model.PositionEvent{}, err
	}
	out.Amount0 = amount0.String()
	out.Amount1 = amount1.String()
	return out, nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}
