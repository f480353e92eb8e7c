package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"rangeKeeper/internal/chain"
	"rangeKeeper/internal/config"
	"rangeKeeper/internal/dex"
	"rangeKeeper/internal/storage"
	"rangeKeeper/internal/storage/postgres"
	"rangeKeeper/internal/vault"
)

func main() {
	root := &cobra.Command{
		Use:          "keeper",
		Short:        "Concentrated liquidity range keeper",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	root.AddCommand(newPositionCmd())
	root.AddCommand(newPlanCmd())
	root.AddCommand(newSimulateCmd())
	root.AddCommand(newStateCmd())
	root.AddCommand(newHistoryCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// addChainFlags registers the flags every live-chain command shares.
func addChainFlags(cmd *cobra.Command) {
	cmd.Flags().String("rpc", "", "Ethereum RPC URL")
	cmd.Flags().String("position-manager", config.DefaultPositionManager, "NonfungiblePositionManager address")
	cmd.Flags().String("factory", config.DefaultFactory, "pool factory address")
	cmd.Flags().String("quoter", config.DefaultQuoter, "quoter address")
	cmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	cmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
}

// addStoreFlags registers the persistence flags.
func addStoreFlags(cmd *cobra.Command) {
	cmd.Flags().String("pg-dsn", "", "Postgres DSN for custody state and events")
	cmd.Flags().String("state-file", "", "JSON file for custody state when no Postgres DSN is set")
	cmd.Flags().String("events-out", "", "JSONL file receiving events")
}

// loadConfig reads the merged configuration and builds the logger.
func loadConfig(cmd *cobra.Command) (config.Config, *zap.Logger, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// dialReader connects to the RPC endpoint and binds the contract readers.
func dialReader(ctx context.Context, cfg config.Config, logger *zap.Logger) (*chain.Client, *dex.Reader, error) {
	if cfg.RPCURL == "" {
		return nil, nil, fmt.Errorf("rpc url is required")
	}
	manager, err := config.ParseAddress("position manager", cfg.PositionManager)
	if err != nil {
		return nil, nil, err
	}
	factory, err := config.ParseAddress("factory", cfg.Factory)
	if err != nil {
		return nil, nil, err
	}
	quoter, err := config.ParseAddress("quoter", cfg.Quoter)
	if err != nil {
		return nil, nil, err
	}

	client, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect rpc: %w", err)
	}
	reader := dex.NewReader(client, dex.Contracts{
		PositionManager: manager,
		Factory:         factory,
		Quoter:          quoter,
	}, dex.RetryConfig{MaxRetries: cfg.MaxRetries, Backoff: cfg.RetryBackoff}, logger)
	return client, reader, nil
}

// stores bundles the persistence chosen by the flags.
type stores struct {
	kv        vault.KVStore
	keys      storage.KeyLister
	sinks     storage.MultiSink
	positions storage.MultiPositionSink
	jsonl     *storage.JsonlStorage
	pg        *postgres.Store
}

func (s *stores) Close() {
	if s.pg != nil {
		s.pg.Close()
	}
}

// openStores prefers Postgres, then a state file, then process memory for
// custody state. Events go to every configured sink.
func openStores(ctx context.Context, cfg config.Config, logger *zap.Logger) (*stores, error) {
	out := &stores{}
	switch {
	case cfg.PGDSN != "":
		pg, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		out.pg = pg
		out.kv = pg
		out.keys = pg
		out.sinks = append(out.sinks, pg)
		out.positions = append(out.positions, pg)
	case cfg.StateFile != "":
		file := &storage.FileStore{Path: cfg.StateFile}
		out.kv = file
		out.keys = file
	default:
		memory := storage.NewMemoryStore()
		out.kv = memory
		out.keys = memory
		logger.Warn("custody state is kept in memory only")
	}

	if cfg.EventsOut != "" {
		out.jsonl = storage.NewJsonlStorage(cfg.EventsOut)
		out.sinks = append(out.sinks, out.jsonl)
		out.positions = append(out.positions, out.jsonl)
	}
	return out, nil
}
