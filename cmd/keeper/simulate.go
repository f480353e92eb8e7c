package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rangeKeeper/internal/config"
	"rangeKeeper/internal/scenario"
	"rangeKeeper/internal/vault"
)

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a scenario against a vault on a simulated chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync()

			if cfg.Scenario == "" {
				return fmt.Errorf("scenario file is required")
			}
			vaultCfg, err := cfg.VaultConfig()
			if err != nil {
				return err
			}
			sc, err := scenario.Load(cfg.Scenario)
			if err != nil {
				return err
			}
			address, err := config.ParseAddress("vault", sc.Vault)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			st, err := openStores(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			// Every run starts a fresh chain, so custody left by an earlier
			// run would point at positions that no longer exist.
			if _, ok, err := st.kv.Get(ctx, vault.StateKey(address, "owner")); err != nil {
				return err
			} else if ok {
				return fmt.Errorf("store already holds custody state for vault %s", address.Hex())
			}

			runner, err := scenario.NewRunner(sc, vaultCfg, st.kv, st.sinks, logger)
			if err != nil {
				return err
			}
			logger.Info("scenario starting",
				zap.String("scenario", sc.Name),
				zap.String("vault", address.Hex()),
				zap.Int("steps", len(sc.Steps)),
			)

			results, runErr := runner.Run(ctx)
			if runErr != nil && ctx.Err() == nil && len(results) > 0 {
				// The last result is the step that stopped the run.
				results = results[:len(results)-1]
			}
			out := cmd.OutOrStdout()
			for _, result := range results {
				printResult(out, result)
			}
			if runErr != nil {
				return runErr
			}

			v := runner.Vault()
			printf(out, "owner %s held position %d max loss %s\n", v.Owner().Hex(), v.HeldPosition(), formatPPM(int64(v.MaxLossPPM())))
			return nil
		},
	}

	cmd.Flags().String("scenario", "", "scenario YAML file")
	cmd.Flags().String("reference-side", vault.DefaultConfig().ReferenceSide.String(), "asset values are expressed in (token0 or token1)")
	cmd.Flags().Uint32("max-loss-ppm", vault.DefaultConfig().MaxLossPPM, "initial loss limit in parts per million")
	cmd.Flags().Int32("width-tolerance", 0, "allowed range width change in ticks (0 disables)")
	cmd.Flags().Uint32("min-share0-bps", 0, "minimum token0 value share after a reposition (0 disables)")
	cmd.Flags().Uint32("max-share0-bps", 0, "maximum token0 value share after a reposition (0 disables)")
	cmd.Flags().Duration("deadline-window", vault.DefaultConfig().DeadlineWindow, "deadline added to the chain clock for manager and router calls")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	addStoreFlags(cmd)

	return cmd
}

func printResult(out io.Writer, result scenario.Result) {
	switch {
	case result.Err != nil:
		printf(out, "%2d %-13s failed as expected: %s\n", result.Step, result.Action, vault.KindOf(result.Err))
	case result.Receipt != nil:
		r := result.Receipt
		printf(out, "%2d %-13s %d -> %d [%d, %d] liquidity %s loss %s swapped %t\n",
			result.Step, result.Action, r.OldPositionID, r.NewPositionID,
			r.TickLower, r.TickUpper, r.Liquidity.Dec(), formatPPM(r.LossPPM), r.Swapped)
	case result.Liquidity != nil:
		printf(out, "%2d %-13s position %d liquidity %s\n", result.Step, result.Action, result.PositionID, result.Liquidity.Dec())
	case result.PositionID != 0:
		printf(out, "%2d %-13s position %d\n", result.Step, result.Action, result.PositionID)
	default:
		printf(out, "%2d %-13s ok\n", result.Step, result.Action)
	}
}
