package cmd

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runRoot(t *testing.T, args ...string) error {
	t.Helper()
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		_ = attestCmd.Flags().Set("asset", "")
		_ = attestCmd.Flags().Set("source", sourceSolana)
	})
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func TestAttestCommandRequiresAsset(t *testing.T) {
	err := runRoot(t, "attest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"asset"`)
}

func TestAttestCommandValidatesBridgeConfig(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("solana_core_bridge", "")
	viper.Set("solana_token_bridge", "")

	err := runRoot(t, "attest", "--asset", "So11111111111111111111111111111111111111112")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Solana core and token bridge program IDs are required")
}
