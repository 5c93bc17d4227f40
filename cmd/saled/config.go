package main

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/sunrisedotdev/sonar-sub000/core"
)

// Config is the daemon configuration as read from the config file.
// Addresses and IDs stay strings here; buildSaleConfig parses them.
type Config struct {
	Listener ListenerConfig `mapstructure:"listener"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	Journal  JournalConfig  `mapstructure:"journal"`
	Sale     SaleConfig     `mapstructure:"sale"`

	// Grants maps caller addresses to capability names, e.g.
	// "0xabc..." -> ["manage_stages", "settle"].
	Grants map[string][]string `mapstructure:"grants"`
}

type ListenerConfig struct {
	Kind       string `mapstructure:"kind"` // "tcp" or "vsock"
	Addr       string `mapstructure:"addr"`
	VsockPort  uint32 `mapstructure:"vsock_port"`
	MaxWorkers int    `mapstructure:"max_workers"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type SnapshotConfig struct {
	Path string `mapstructure:"path"`
}

type JournalConfig struct {
	Path string `mapstructure:"path"`
}

type TokenConfig struct {
	Address  string `mapstructure:"address"`
	Decimals uint8  `mapstructure:"decimals"`
}

type SaleConfig struct {
	ID                  string        `mapstructure:"id"`
	Receiver            string        `mapstructure:"receiver"`
	MaxWalletsPerEntity int           `mapstructure:"max_wallets_per_entity"`
	ClaimEnabled        bool          `mapstructure:"claim_enabled"`
	Tokens              []TokenConfig `mapstructure:"tokens"`
}

func loadConfig(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.AutomaticEnv()
	viper.SetEnvPrefix("SALED")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		return nil, errors.Wrap(err, "read config")
	}

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	return cfg, nil
}

// buildSaleConfig parses the string-typed sale section into core types.
func buildSaleConfig(cfg *SaleConfig) (core.Config, error) {
	saleID, err := uuid.Parse(cfg.ID)
	if err != nil {
		return core.Config{}, errors.Wrap(err, "parse sale id")
	}
	if !common.IsHexAddress(cfg.Receiver) {
		return core.Config{}, errors.Errorf("invalid receiver address %q", cfg.Receiver)
	}
	tokens := make([]core.PaymentToken, 0, len(cfg.Tokens))
	for _, tok := range cfg.Tokens {
		if !common.IsHexAddress(tok.Address) {
			return core.Config{}, errors.Errorf("invalid token address %q", tok.Address)
		}
		tokens = append(tokens, core.PaymentToken{
			Address:  common.HexToAddress(tok.Address),
			Decimals: tok.Decimals,
		})
	}
	return core.Config{
		SaleID:              saleID,
		Receiver:            common.HexToAddress(cfg.Receiver),
		PaymentTokens:       tokens,
		MaxWalletsPerEntity: cfg.MaxWalletsPerEntity,
		ClaimEnabled:        cfg.ClaimEnabled,
	}, nil
}
