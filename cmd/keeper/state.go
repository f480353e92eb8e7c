package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"rangeKeeper/internal/config"
	"rangeKeeper/internal/model"
	"rangeKeeper/internal/vault"
)

func newStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show persisted custody state and recent repositions of vaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync()

			vaults, err := config.ParseAddresses(cfg.Vaults)
			if err != nil {
				return err
			}
			if len(vaults) == 0 {
				return fmt.Errorf("at least one vault address is required")
			}
			if cfg.PGDSN == "" && cfg.StateFile == "" {
				return fmt.Errorf("pg-dsn or state-file is required")
			}
			limit, _ := cmd.Flags().GetInt("limit")

			ctx, cancel := signalContext()
			defer cancel()

			st, err := openStores(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			out := cmd.OutOrStdout()
			for _, address := range vaults {
				if err := printVaultState(ctx, out, st, address); err != nil {
					return err
				}
				events, err := recentRepositions(ctx, st, address, limit)
				if err != nil {
					return err
				}
				for _, event := range events {
					printf(out, "  reposition %d -> %d [%d, %d] tick %d loss %s at %d\n",
						event.OldPositionID, event.NewPositionID, event.TickLower, event.TickUpper,
						event.Tick, formatPPM(event.LossPPM), event.Timestamp)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringSlice("vault", nil, "vault addresses (repeatable or comma-separated)")
	cmd.Flags().Int("limit", 10, "number of recent repositions to show per vault")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	addStoreFlags(cmd)

	return cmd
}

// printVaultState lists every custody slot stored for address.
func printVaultState(ctx context.Context, out io.Writer, st *stores, address common.Address) error {
	prefix := vault.StateKey(address)
	keys, err := st.keys.Keys(ctx, prefix)
	if err != nil {
		return err
	}
	printf(out, "vault %s\n", address.Hex())
	if len(keys) == 0 {
		printf(out, "  no custody state\n")
		return nil
	}
	for _, key := range keys {
		value, _, err := st.kv.Get(ctx, key)
		if err != nil {
			return err
		}
		printf(out, "  %-40s %s\n", strings.TrimPrefix(key, prefix), value)
	}
	return nil
}

// recentRepositions reads the newest events from Postgres when configured,
// otherwise from the JSONL events file.
func recentRepositions(ctx context.Context, st *stores, address common.Address, limit int) ([]model.RepositionEvent, error) {
	if limit <= 0 {
		return nil, nil
	}
	if st.pg != nil {
		return st.pg.ListRepositionEvents(ctx, address.Hex(), limit)
	}
	if st.jsonl == nil {
		return nil, nil
	}
	all, err := st.jsonl.ReadRepositionEvents()
	if err != nil {
		return nil, err
	}
	var matched []model.RepositionEvent
	for i := len(all) - 1; i >= 0 && len(matched) < limit; i-- {
		if strings.EqualFold(all[i].Vault, address.Hex()) {
			matched = append(matched, all[i])
		}
	}
	return matched, nil
}
