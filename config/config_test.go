package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleConfig = `RPCAddress = ":9090"
DataDir = "/var/lib/poolbase"
Environment = "staging"

[log]
File = "/var/log/poolbase/poold.log"
MaxSizeMB = 64

[pool]
Creator = "0x1111111111111111111111111111111111111111"
Admins = ["0x2222222222222222222222222222222222222222"]
CreatorFeesPerEther = "15000000000000000"
MinContribution = "1000000000000000000"
MaxContribution = "50000000000000000000"
MaxPoolBalance = "50000000000000000000"
Restricted = true
TotalTokenDrops = 2
Nonce = 7

[fees]
TeamMembers = ["0x3333333333333333333333333333333333333333"]
MinTeamFeePerEther = "5000000000000000"
MaxTeamFeePerEther = "10000000000000000"

[rpc]
RequestsPerMinute = 120
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadParsesFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	require.Equal(t, ":9090", cfg.RPCAddress)
	require.Equal(t, "/var/lib/poolbase", cfg.DataDir)
	require.Equal(t, "staging", cfg.Environment)
	require.Equal(t, "/var/log/poolbase/poold.log", cfg.Log.File)
	require.True(t, cfg.Pool.Restricted)
	require.Equal(t, uint8(2), cfg.Pool.TotalTokenDrops)
	require.Equal(t, uint64(7), cfg.Pool.Nonce)
	require.Equal(t, 120, cfg.RPC.RequestsPerMinute)

	require.Equal(t, "0x1111111111111111111111111111111111111111", cfg.CreatorAddress().Hex())
	require.Len(t, cfg.AdminAddresses(), 1)
	require.Len(t, cfg.TeamAddresses(), 1)
	require.Zero(t, Wei(cfg.Pool.CreatorFeesPerEther).Cmp(big.NewInt(15_000_000_000_000_000)))
	want, _ := new(big.Int).SetString("50000000000000000000", 10)
	require.Zero(t, Wei(cfg.Pool.MaxPoolBalance).Cmp(want))
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
[pool]
Creator = "0x1111111111111111111111111111111111111111"

[fees]
TeamMembers = ["0x3333333333333333333333333333333333333333"]
`))
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.RPCAddress)
	require.Equal(t, "./poolbase-data", cfg.DataDir)
	require.Equal(t, "local", cfg.Environment)
	require.Equal(t, 600, cfg.RPC.RequestsPerMinute)
	require.Zero(t, Wei(cfg.Pool.MinContribution).Sign())
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.FileExists(t, path)
	require.Equal(t, ":8080", cfg.RPCAddress)

	// The generated file loads back cleanly.
	again, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.RPCAddress, again.RPCAddress)
}

func TestValidateRejectsBadInput(t *testing.T) {
	cases := []struct {
		name     string
		contents string
	}{
		{"missing creator", `
[fees]
TeamMembers = ["0x3333333333333333333333333333333333333333"]
`},
		{"bad creator address", `
[pool]
Creator = "not-an-address"

[fees]
TeamMembers = ["0x3333333333333333333333333333333333333333"]
`},
		{"no team members", `
[pool]
Creator = "0x1111111111111111111111111111111111111111"
`},
		{"bad wei amount", `
[pool]
Creator = "0x1111111111111111111111111111111111111111"
MinContribution = "1.5 ether"

[fees]
TeamMembers = ["0x3333333333333333333333333333333333333333"]
`},
		{"negative wei amount", `
[pool]
Creator = "0x1111111111111111111111111111111111111111"
MinContribution = "-5"

[fees]
TeamMembers = ["0x3333333333333333333333333333333333333333"]
`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.contents))
			require.Error(t, err)
		})
	}
}
