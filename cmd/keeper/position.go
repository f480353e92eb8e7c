package main

import (
	"context"

	"github.com/spf13/cobra"

	"rangeKeeper/internal/clmath"
	"rangeKeeper/internal/dex"
	"rangeKeeper/internal/model"
	"rangeKeeper/internal/vault"
)

func newPositionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "position",
		Short: "Show a live position, its pool and its value",
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

			ctx, cancel := signalContext()
			defer cancel()

			client, reader, err := dialReader(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer client.Close()

			pos, err := vault.ReadPosition(ctx, reader, cfg.PositionID)
			if err != nil {
				return err
			}
			pool, err := vault.ReadPool(ctx, reader, reader, pos)
			if err != nil {
				return err
			}
			info, err := reader.PoolInfo(ctx, pool.Address)
			if err != nil {
				return err
			}
			owner, err := reader.OwnerOf(ctx, pos.ID)
			if err != nil {
				return err
			}
			meta0, meta1 := tokenMetas(ctx, reader, pos)

			lower, err := clmath.SqrtRatioAtTick(pos.TickLower)
			if err != nil {
				return err
			}
			upper, err := clmath.SqrtRatioAtTick(pos.TickUpper)
			if err != nil {
				return err
			}
			amount0, amount1 := clmath.AmountsForLiquidity(pool.SqrtPriceX96, lower, upper, pos.Liquidity)
			total0 := amount0.Clone().Add(amount0, pos.TokensOwed0)
			total1 := amount1.Clone().Add(amount1, pos.TokensOwed1)
			value, err := vault.CalculateValue(ctx, reader, side, pool, total0, total1)
			if err != nil {
				return err
			}

			valueDecimals := meta1.Decimals
			valueLabel := meta1.Label()
			if side == vault.SideToken0 {
				valueDecimals = meta0.Decimals
				valueLabel = meta0.Label()
			}

			out := cmd.OutOrStdout()
			printf(out, "position     %d\n", pos.ID)
			printf(out, "owner        %s\n", owner.Hex())
			printf(out, "pool         %s (%s/%s fee %d)\n", pool.Address.Hex(), meta0.Label(), meta1.Label(), pos.Fee)
			printf(out, "range        [%d, %d] width %d spacing %d\n", pos.TickLower, pos.TickUpper, pos.Width(), info.TickSpacing)
			printf(out, "tick         %d in range %t\n", info.Tick, pos.TickLower <= info.Tick && info.Tick < pos.TickUpper)
			printf(out, "liquidity    %s\n", pos.Liquidity.Dec())
			printf(out, "principal    %s %s / %s %s\n", formatAmount(amount0, meta0.Decimals), meta0.Label(), formatAmount(amount1, meta1.Decimals), meta1.Label())
			printf(out, "owed         %s %s / %s %s\n", formatAmount(pos.TokensOwed0, meta0.Decimals), meta0.Label(), formatAmount(pos.TokensOwed1, meta1.Decimals), meta1.Label())
			printf(out, "value        %s %s\n", formatAmount(value.Value, valueDecimals), valueLabel)
			return nil
		},
	}

	addChainFlags(cmd)
	cmd.Flags().Uint64("position-id", 0, "position token id")
	cmd.Flags().String("reference-side", vault.DefaultConfig().ReferenceSide.String(), "asset values are expressed in (token0 or token1)")

	return cmd
}

// tokenMetas loads both token metadata records. The reader logs failed
// fetches and still returns the address, so errors are not fatal here.
func tokenMetas(ctx context.Context, reader *dex.Reader, pos model.Position) (model.TokenMeta, model.TokenMeta) {
	meta0, _ := reader.TokenMeta(ctx, pos.Token0)
	meta1, _ := reader.TokenMeta(ctx, pos.Token1)
	return meta0, meta1
}
