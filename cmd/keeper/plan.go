package main

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/spf13/cobra"

	"rangeKeeper/internal/config"
	"rangeKeeper/internal/vault"
)

func newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Dry-run a reposition of a live position into a new range",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync()

			side, err := vault.ParseSide(cfg.ReferenceSide)
			if err != nil {
				return err
			}
			if cfg.TickLower >= cfg.TickUpper {
				return fmt.Errorf("tick-lower %d must be below tick-upper %d", cfg.TickLower, cfg.TickUpper)
			}
			var holder common.Address
			if len(cfg.Vaults) > 1 {
				return fmt.Errorf("plan takes at most one vault address")
			}
			if len(cfg.Vaults) == 1 {
				if holder, err = config.ParseAddress("vault", cfg.Vaults[0]); err != nil {
					return err
				}
			}

			ctx, cancel := signalContext()
			defer cancel()

			client, reader, err := dialReader(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer client.Close()

			planner := &vault.Planner{
				Positions: reader,
				Factory:   reader,
				Prices:    reader,
				Quoter:    reader,
				Balances:  reader,
				Side:      side,
				Logger:    logger,
			}
			plan, err := planner.Plan(ctx, holder, cfg.PositionID, cfg.TickLower, cfg.TickUpper)
			if err != nil {
				return err
			}

			chainTime, err := client.ChainTime(ctx)
			if err != nil {
				return fmt.Errorf("chain time: %w", err)
			}
			meta0, meta1 := tokenMetas(ctx, reader, plan.Position)
			sym0, sym1 := meta0.Label(), meta1.Label()
			pair := func(amount0, amount1 *uint256.Int) string {
				return fmt.Sprintf("%s %s / %s %s",
					formatAmount(amount0, meta0.Decimals), sym0,
					formatAmount(amount1, meta1.Decimals), sym1)
			}
			valueDecimals, valueLabel := meta1.Decimals, sym1
			if side == vault.SideToken0 {
				valueDecimals, valueLabel = meta0.Decimals, sym0
			}

			out := cmd.OutOrStdout()
			printf(out, "position     %d [%d, %d] -> [%d, %d] (width %+d)\n",
				plan.Position.ID, plan.Position.TickLower, plan.Position.TickUpper,
				cfg.TickLower, cfg.TickUpper, plan.WidthChange)
			printf(out, "pool         %s tick %d in range %t\n", plan.Pool.Address.Hex(), plan.Tick, plan.InRange)
			printf(out, "withdraw     %s\n", pair(plan.Withdraw0, plan.Withdraw1))
			if holder != (common.Address{}) {
				printf(out, "idle         %s\n", pair(plan.Idle0, plan.Idle1))
			}
			printf(out, "start value  %s %s\n", formatAmount(plan.Start.Value, valueDecimals), valueLabel)
			printf(out, "liquidity    %s\n", plan.Liquidity.Dec())
			printf(out, "deposit      %s\n", pair(plan.Mint0, plan.Mint1))
			printf(out, "minimums     %s\n", pair(plan.MintMin0, plan.MintMin1))
			printf(out, "leftover     %s\n", pair(plan.Leftover0, plan.Leftover1))
			deadline := chainTime.Add(cfg.DeadlineWindow)
			printf(out, "deadline     %d (%s)\n", deadline.Unix(), deadline.Format(time.RFC3339))
			return nil
		},
	}

	addChainFlags(cmd)
	cmd.Flags().Uint64("position-id", 0, "position token id")
	cmd.Flags().Int32("tick-lower", 0, "new lower tick")
	cmd.Flags().Int32("tick-upper", 0, "new upper tick")
	cmd.Flags().String("vault", "", "holder whose idle balances join the deposit")
	cmd.Flags().String("reference-side", vault.DefaultConfig().ReferenceSide.String(), "asset values are expressed in (token0 or token1)")
	cmd.Flags().Duration("deadline-window", vault.DefaultConfig().DeadlineWindow, "deadline added to the chain time for manager calls")

	return cmd
}
