package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"rangeKeeper/internal/vault"
)

// Uniswap V3 periphery on Ethereum mainnet.
const (
	DefaultPositionManager = "0xC36442b4a4522E871399CD717aBDD847Ab11FE88"
	DefaultFactory         = "0x1F98431c8aD98523631AE4a59f267346ea31F984"
	DefaultQuoter          = "0xb27308f9F90D607463bb33eA1BeBb41C27CE5AB6"
)

// Config holds configuration values loaded from flags, env, or config file.
// Each command reads the subset it needs.
type Config struct {
	RPCURL          string
	PositionManager string
	Factory         string
	Quoter          string
	Vaults          []string
	PositionID      uint64
	TickLower       int32
	TickUpper       int32

	ReferenceSide  string
	MaxLossPPM     uint32
	WidthTolerance int32
	MinShare0BPS   uint32
	MaxShare0BPS   uint32
	DeadlineWindow time.Duration

	Scenario  string
	StateFile string
	EventsOut string
	PGDSN     string

	FromBlock    uint64
	ToBlock      uint64
	BatchSize    uint64
	MaxRetries   int
	RetryBackoff time.Duration
	LogLevel     string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("KEEPER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	defaults := vault.DefaultConfig()
	v.SetDefault("position-manager", DefaultPositionManager)
	v.SetDefault("factory", DefaultFactory)
	v.SetDefault("quoter", DefaultQuoter)
	v.SetDefault("reference-side", defaults.ReferenceSide.String())
	v.SetDefault("max-loss-ppm", defaults.MaxLossPPM)
	v.SetDefault("deadline-window", defaults.DeadlineWindow)
	v.SetDefault("batch-size", uint64(2000))
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		RPCURL:          v.GetString("rpc"),
		PositionManager: v.GetString("position-manager"),
		Factory:         v.GetString("factory"),
		Quoter:          v.GetString("quoter"),
		Vaults:          getStringSlice(v, "vault"),
		PositionID:      v.GetUint64("position-id"),
		TickLower:       v.GetInt32("tick-lower"),
		TickUpper:       v.GetInt32("tick-upper"),
		ReferenceSide:   v.GetString("reference-side"),
		MaxLossPPM:      v.GetUint32("max-loss-ppm"),
		WidthTolerance:  v.GetInt32("width-tolerance"),
		MinShare0BPS:    v.GetUint32("min-share0-bps"),
		MaxShare0BPS:    v.GetUint32("max-share0-bps"),
		DeadlineWindow:  v.GetDuration("deadline-window"),
		Scenario:        v.GetString("scenario"),
		StateFile:       v.GetString("state-file"),
		EventsOut:       v.GetString("events-out"),
		PGDSN:           v.GetString("pg-dsn"),
		FromBlock:       v.GetUint64("from"),
		ToBlock:         v.GetUint64("to"),
		BatchSize:       v.GetUint64("batch-size"),
		MaxRetries:      v.GetInt("max-retries"),
		RetryBackoff:    v.GetDuration("retry-backoff"),
		LogLevel:        v.GetString("log-level"),
	}

	return cfg, nil
}

// VaultConfig converts the vault related settings and validates them.
func (c Config) VaultConfig() (vault.Config, error) {
	side, err := vault.ParseSide(c.ReferenceSide)
	if err != nil {
		return vault.Config{}, err
	}
	out := vault.Config{
		WidthTolerance: c.WidthTolerance,
		MinShare0BPS:   c.MinShare0BPS,
		MaxShare0BPS:   c.MaxShare0BPS,
		ReferenceSide:  side,
		MaxLossPPM:     c.MaxLossPPM,
		DeadlineWindow: c.DeadlineWindow,
	}
	if err := out.Validate(); err != nil {
		return vault.Config{}, err
	}
	return out, nil
}

// ParseAddress converts a hex string into common.Address.
func ParseAddress(name, input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return common.Address{}, fmt.Errorf("%s address is required", name)
	}
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("invalid %s address: %s", name, input)
	}
	return common.HexToAddress(input), nil
}

// ParseAddresses converts string addresses into common.Address.
func ParseAddresses(inputs []string) ([]common.Address, error) {
	addresses := make([]common.Address, 0, len(inputs))
	for _, input := range inputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if !common.IsHexAddress(input) {
			return nil, fmt.Errorf("invalid address: %s", input)
		}
		addresses = append(addresses, common.HexToAddress(input))
	}
	return addresses, nil
}

// ParseTimestamp parses a timestamp value (unix seconds or RFC3339).
func ParseTimestamp(input string) (uint64, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return 0, nil
	}

	if isNumeric(input) {
		return strconv.ParseUint(input, 10, 64)
	}

	tm, err := time.Parse(time.RFC3339, input)
	if err != nil {
		return 0, err
	}
	if tm.Unix() < 0 {
		return 0, fmt.Errorf("timestamp before unix epoch: %s", input)
	}
	return uint64(tm.Unix()), nil
}

func isNumeric(input string) bool {
	for _, r := range input {
		if r < '0' || r > '9' {
			return false
		}
	}
	return input != ""
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	return cleanStrings(strings.Split(input, ","))
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
