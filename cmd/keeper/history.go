package main

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"sort"

	"github.com/holiman/uint256"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rangeKeeper/internal/config"
	"rangeKeeper/internal/history"
	"rangeKeeper/internal/model"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Scan and summarize the on-chain event history of a position",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync()

			if cfg.PositionID == 0 {
				return fmt.Errorf("position-id is required")
			}
			if cfg.PGDSN == "" && cfg.EventsOut == "" {
				return fmt.Errorf("pg-dsn or events-out is required")
			}
			if cfg.ToBlock != 0 && cfg.FromBlock > cfg.ToBlock {
				return fmt.Errorf("from block %d is after to block %d", cfg.FromBlock, cfg.ToBlock)
			}
			manager, err := config.ParseAddress("position manager", cfg.PositionManager)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			client, reader, err := dialReader(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer client.Close()

			st, err := openStores(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			scanner, err := history.NewScanner(history.ScanConfig{
				PositionManager: manager,
				PositionID:      cfg.PositionID,
				FromBlock:       cfg.FromBlock,
				ToBlock:         cfg.ToBlock,
				BatchSize:       cfg.BatchSize,
				MaxRetries:      cfg.MaxRetries,
				RetryBackoff:    cfg.RetryBackoff,
			}, client, st.positions, history.NewCheckpoint(st.kv, manager, cfg.PositionID), logger)
			if err != nil {
				return err
			}
			written, err := scanner.Run(ctx)
			if err != nil {
				return err
			}
			logger.Info("history scan complete", zap.Uint64("position_id", cfg.PositionID), zap.Int("events", written))

			chainID, err := client.ChainID(ctx)
			if err != nil {
				return fmt.Errorf("get chain id: %w", err)
			}
			events, err := storedPositionEvents(ctx, st, chainID.Uint64(), cfg.PositionID)
			if err != nil {
				return err
			}
			summary, err := history.Summarize(cfg.PositionID, events)
			if err != nil {
				return err
			}

			meta0, meta1 := model.TokenMeta{Symbol: "token0"}, model.TokenMeta{Symbol: "token1"}
			if pos, err := reader.Position(ctx, cfg.PositionID); err == nil {
				meta0, meta1 = tokenMetas(ctx, reader, pos)
			} else {
				logger.Warn("position unavailable, amounts shown raw", zap.Error(err))
			}
			printSummary(cmd.OutOrStdout(), summary, meta0, meta1)
			return nil
		},
	}

	addChainFlags(cmd)
	addStoreFlags(cmd)
	cmd.Flags().Uint64("position-id", 0, "position token id")
	cmd.Flags().Uint64("from", 0, "start block (inclusive)")
	cmd.Flags().Uint64("to", 0, "end block (inclusive, 0 for latest)")
	cmd.Flags().Uint64("batch-size", 2000, "block batch size")

	return cmd
}

// storedPositionEvents reads the events of id back from Postgres when
// configured, otherwise from the JSONL events file.
func storedPositionEvents(ctx context.Context, st *stores, chainID, id uint64) ([]model.PositionEvent, error) {
	if st.pg != nil {
		return st.pg.ListPositionEvents(ctx, chainID, id)
	}
	all, err := st.jsonl.ReadPositionEvents()
	if err != nil {
		return nil, err
	}
	type logKey struct {
		tx    string
		index uint64
	}
	seen := make(map[logKey]bool)
	events := make([]model.PositionEvent, 0, len(all))
	for _, event := range all {
		if event.ChainID != chainID || event.PositionID != id {
			continue
		}
		// Without a persistent checkpoint a rerun appends the same logs again.
		key := logKey{tx: event.TxHash, index: event.LogIndex}
		if seen[key] {
			continue
		}
		seen[key] = true
		events = append(events, event)
	}
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].BlockNumber != events[j].BlockNumber {
			return events[i].BlockNumber < events[j].BlockNumber
		}
		return events[i].LogIndex < events[j].LogIndex
	})
	return events, nil
}

func printSummary(out io.Writer, s *history.Summary, meta0, meta1 model.TokenMeta) {
	amounts := func(a0, a1 *big.Int) string {
		v0, _ := uint256.FromBig(a0)
		v1, _ := uint256.FromBig(a1)
		return fmt.Sprintf("%s %s / %s %s",
			formatAmount(v0, meta0.Decimals), meta0.Label(),
			formatAmount(v1, meta1.Decimals), meta1.Label())
	}
	fees0, fees1 := s.Fees()

	printf(out, "position     %d\n", s.PositionID)
	printf(out, "events       %d (%d transfers) blocks %d..%d\n", s.Events, s.Transfers, s.FirstBlock, s.LastBlock)
	if s.Owner != "" {
		printf(out, "owner        %s\n", s.Owner)
	}
	printf(out, "liquidity    %s\n", s.Liquidity.String())
	printf(out, "deposited    %s\n", amounts(s.Deposited0, s.Deposited1))
	printf(out, "withdrawn    %s\n", amounts(s.Withdrawn0, s.Withdrawn1))
	printf(out, "collected    %s\n", amounts(s.Collected0, s.Collected1))
	printf(out, "fees         %s\n", amounts(fees0, fees1))
}
