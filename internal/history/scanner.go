package history

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"rangeKeeper/internal/chain"
	"rangeKeeper/internal/dex"
	"rangeKeeper/internal/model"
	"rangeKeeper/internal/storage"
)

// LogSource is the chain surface the scanner reads.
type LogSource interface {
	ChainID(ctx context.Context) (*big.Int, error)
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topics [][]common.Hash) ([]types.Log, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
}

// ScanConfig holds runtime settings for a history scan.
type ScanConfig struct {
	PositionManager common.Address
	PositionID      uint64
	FromBlock       uint64
	// ToBlock 0 means the latest block.
	ToBlock      uint64
	BatchSize    uint64
	MaxRetries   int
	RetryBackoff time.Duration
}

// Scanner streams the position manager's events for one position into a sink.
type Scanner struct {
	cfg        ScanConfig
	source     LogSource
	decoder    *dex.PositionEventDecoder
	sink       storage.PositionEventSink
	checkpoint *Checkpoint
	logger     *zap.Logger
}

func NewScanner(cfg ScanConfig, source LogSource, sink storage.PositionEventSink, checkpoint *Checkpoint, logger *zap.Logger) (*Scanner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	decoder, err := dex.NewPositionEventDecoder()
	if err != nil {
		return nil, fmt.Errorf("position event decoder: %w", err)
	}
	return &Scanner{
		cfg:        cfg,
		source:     source,
		decoder:    decoder,
		sink:       sink,
		checkpoint: checkpoint,
		logger:     logger,
	}, nil
}

// Run scans the configured block range, resuming after the checkpoint when
// one exists, and returns the number of events written.
func (s *Scanner) Run(ctx context.Context) (int, error) {
	if s.source == nil {
		return 0, fmt.Errorf("log source is nil")
	}
	if s.sink == nil {
		return 0, fmt.Errorf("event sink is nil")
	}
	if s.cfg.BatchSize == 0 {
		return 0, fmt.Errorf("batch size must be greater than zero")
	}
	if s.cfg.PositionManager == (common.Address{}) {
		return 0, fmt.Errorf("position manager address is required")
	}

	chainID, err := s.source.ChainID(ctx)
	if err != nil {
		return 0, fmt.Errorf("get chain id: %w", err)
	}
	if !chainID.IsUint64() {
		return 0, fmt.Errorf("chain id does not fit in uint64: %s", chainID)
	}

	from := s.cfg.FromBlock
	to := s.cfg.ToBlock
	if to == 0 {
		err := chain.WithRetry(ctx, s.cfg.MaxRetries, s.cfg.RetryBackoff, func(ctx context.Context) error {
			var err error
			to, err = s.source.LatestBlockNumber(ctx)
			return err
		})
		if err != nil {
			return 0, fmt.Errorf("get latest block: %w", err)
		}
	}

	last, ok, err := s.checkpoint.Load(ctx)
	if err != nil {
		return 0, err
	}
	if ok && last >= from {
		from = last + 1
		s.logger.Info("resume from checkpoint", zap.Uint64("last_processed", last), zap.Uint64("from", from))
	}
	if from > to {
		s.logger.Info("nothing to scan", zap.Uint64("from", from), zap.Uint64("to", to))
		return 0, nil
	}

	ranges, err := SplitRange(from, to, s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	written := 0
	for _, blockRange := range ranges {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		events, err := s.scanRange(ctx, chainID.Uint64(), blockRange)
		if err != nil {
			return written, err
		}
		if len(events) > 0 {
			if err := s.sink.PutPositionEvents(ctx, events); err != nil {
				return written, fmt.Errorf("store events: %w", err)
			}
		}
		if err := s.checkpoint.Save(ctx, blockRange.To); err != nil {
			return written, err
		}
		written += len(events)

		s.logger.Info("batch complete",
			zap.Uint64("position_id", s.cfg.PositionID),
			zap.Int("events", len(events)),
			zap.Uint64("from", blockRange.From),
			zap.Uint64("to", blockRange.To),
		)
	}
	return written, nil
}

func (s *Scanner) scanRange(ctx context.Context, chainID uint64, blockRange BlockRange) ([]model.PositionEvent, error) {
	var logs []types.Log
	for _, topics := range s.decoder.PositionTopics(s.cfg.PositionID) {
		batch, err := s.filterLogsWithRetry(ctx, blockRange, topics)
		if err != nil {
			return nil, fmt.Errorf("filter logs: %w", err)
		}
		logs = append(logs, batch...)
	}
	sort.Slice(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	events := make([]model.PositionEvent, 0, len(logs))
	for _, log := range logs {
		if log.Removed || !s.decoder.CanDecode(log) {
			continue
		}
		event, err := s.decoder.Decode(log)
		if err != nil {
			s.logger.Warn("skip undecodable log", zap.String("tx", log.TxHash.Hex()), zap.Uint("index", log.Index), zap.Error(err))
			continue
		}
		if event.PositionID != s.cfg.PositionID {
			continue
		}
		ts, err := s.blockTimestampWithRetry(ctx, log.BlockNumber)
		if err != nil {
			return nil, fmt.Errorf("block timestamp %d: %w", log.BlockNumber, err)
		}
		event.ChainID = chainID
		event.Timestamp = ts
		events = append(events, event)
	}
	return events, nil
}

func (s *Scanner) filterLogsWithRetry(ctx context.Context, blockRange BlockRange, topics [][]common.Hash) ([]types.Log, error) {
	var logs []types.Log
	err := chain.WithRetry(ctx, s.cfg.MaxRetries, s.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		logs, err = s.source.FilterLogs(ctx, blockRange.From, blockRange.To, []common.Address{s.cfg.PositionManager}, topics)
		if err != nil {
			s.logger.Warn("filter logs failed", zap.Error(err), zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))
		}
		return err
	})
	return logs, err
}

func (s *Scanner) blockTimestampWithRetry(ctx context.Context, blockNumber uint64) (uint64, error) {
	var ts uint64
	err := chain.WithRetry(ctx, s.cfg.MaxRetries, s.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		ts, err = s.source.BlockTimestamp(ctx, blockNumber)
		if err != nil {
			s.logger.Warn("block timestamp fetch failed", zap.Error(err), zap.Uint64("block_number", blockNumber))
		}
		return err
	})
	return ts, err
}
