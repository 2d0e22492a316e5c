package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

// Config is the daemon's top-level configuration.
type Config struct {
	RPCAddress  string `toml:"RPCAddress"`
	DataDir     string `toml:"DataDir"`
	Environment string `toml:"Environment"`

	Log  LogConfig  `toml:"log"`
	Pool PoolConfig `toml:"pool"`
	Fees FeesConfig `toml:"fees"`
	RPC  RPCConfig  `toml:"rpc"`
}

// LogConfig controls optional rolling-file log output.
type LogConfig struct {
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// PoolConfig fixes the deployment parameters of the hosted pool. All
// wei-denominated amounts are decimal strings so they survive TOML's
// integer range.
type PoolConfig struct {
	Creator                string   `toml:"Creator"`
	Admins                 []string `toml:"Admins"`
	CreatorFeesPerEther    string   `toml:"CreatorFeesPerEther"`
	MinContribution        string   `toml:"MinContribution"`
	MaxContribution        string   `toml:"MaxContribution"`
	MaxPoolBalance         string   `toml:"MaxPoolBalance"`
	Restricted             bool     `toml:"Restricted"`
	TotalTokenDrops        uint8    `toml:"TotalTokenDrops"`
	AutoDistributionWallet string   `toml:"AutoDistributionWallet"`
	Nonce                  uint64   `toml:"Nonce"`
}

// FeesConfig configures the fee manager the daemon hosts.
type FeesConfig struct {
	TeamMembers        []string `toml:"TeamMembers"`
	MinTeamFeePerEther string   `toml:"MinTeamFeePerEther"`
	MaxTeamFeePerEther string   `toml:"MaxTeamFeePerEther"`
}

// RPCConfig tunes the JSON-RPC host.
type RPCConfig struct {
	RequestsPerMinute int `toml:"RequestsPerMinute"`
}

// Load loads the configuration from the given path, creating a
// commented default when none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = ":8080"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./poolbase-data"
	}
	if strings.TrimSpace(c.Environment) == "" {
		c.Environment = "local"
	}
	if c.RPC.RequestsPerMinute <= 0 {
		c.RPC.RequestsPerMinute = 600
	}
}

// Validate applies the same checks the ledger engine applies at
// construction, so a bad file fails before the daemon starts serving.
func (c *Config) Validate() error {
	if _, err := parseAddress(c.Pool.Creator, true); err != nil {
		return fmt.Errorf("config: pool creator: %w", err)
	}
	for i, admin := range c.Pool.Admins {
		if _, err := parseAddress(admin, true); err != nil {
			return fmt.Errorf("config: pool admin %d: %w", i, err)
		}
	}
	if _, err := parseAddress(c.Pool.AutoDistributionWallet, false); err != nil {
		return fmt.Errorf("config: auto distribution wallet: %w", err)
	}
	for i, member := range c.Fees.TeamMembers {
		if _, err := parseAddress(member, true); err != nil {
			return fmt.Errorf("config: fee team member %d: %w", i, err)
		}
	}
	if len(c.Fees.TeamMembers) == 0 {
		return fmt.Errorf("config: at least one fee team member required")
	}
	for _, field := range []struct {
		name  string
		value string
	}{
		{"CreatorFeesPerEther", c.Pool.CreatorFeesPerEther},
		{"MinContribution", c.Pool.MinContribution},
		{"MaxContribution", c.Pool.MaxContribution},
		{"MaxPoolBalance", c.Pool.MaxPoolBalance},
		{"MinTeamFeePerEther", c.Fees.MinTeamFeePerEther},
		{"MaxTeamFeePerEther", c.Fees.MaxTeamFeePerEther},
	} {
		if _, err := parseWei(field.value); err != nil {
			return fmt.Errorf("config: %s: %w", field.name, err)
		}
	}
	return nil
}

// CreatorAddress returns the parsed pool creator.
func (c *Config) CreatorAddress() common.Address {
	addr, _ := parseAddress(c.Pool.Creator, true)
	return addr
}

// AdminAddresses returns the parsed admin set.
func (c *Config) AdminAddresses() []common.Address {
	admins := make([]common.Address, 0, len(c.Pool.Admins))
	for _, admin := range c.Pool.Admins {
		addr, _ := parseAddress(admin, true)
		admins = append(admins, addr)
	}
	return admins
}

// TeamAddresses returns the parsed fee team.
func (c *Config) TeamAddresses() []common.Address {
	team := make([]common.Address, 0, len(c.Fees.TeamMembers))
	for _, member := range c.Fees.TeamMembers {
		addr, _ := parseAddress(member, true)
		team = append(team, addr)
	}
	return team
}

// Wei parses a validated wei-denominated field. Call Validate first;
// unparseable values come back as nil.
func Wei(value string) *big.Int {
	amount, err := parseWei(value)
	if err != nil {
		return nil
	}
	return amount
}

func parseWei(value string) (*big.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("not a decimal wei amount: %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("negative wei amount: %q", value)
	}
	return amount, nil
}

func parseAddress(value string, required bool) (common.Address, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		if required {
			return common.Address{}, fmt.Errorf("address required")
		}
		return common.Address{}, nil
	}
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("not a hex address: %q", value)
	}
	return common.HexToAddress(value), nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:  ":8080",
		DataDir:     "./poolbase-data",
		Environment: "local",
		Pool: PoolConfig{
			Creator:             "0x0000000000000000000000000000000000000001",
			CreatorFeesPerEther: "0",
			MinContribution:     "0",
			MaxContribution:     "0",
			MaxPoolBalance:      "0",
		},
		Fees: FeesConfig{
			TeamMembers: []string{"0x0000000000000000000000000000000000000002"},
		},
		RPC: RPCConfig{RequestsPerMinute: 600},
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
