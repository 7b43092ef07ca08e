package cmd

import (
	"fmt"
	"os"
	"strings"

	dotenv "github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wormhole-demo/bridge-relay/internal/attestation"
	"github.com/wormhole-demo/bridge-relay/internal/retry"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "bridge-relay",
	Short: "Relay Wormhole token bridge transfers between Solana and EVM chains",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return readConfigFile(cmd)
	},
}

func init() {
	// Tentatively load .env file
	_ = dotenv.Load()

	flags := rootCmd.PersistentFlags()

	flags.Bool("debug", false, "Enables debug output.")
	flags.Bool("json", false, "Enables structured logging in JSON format.")
	flags.String("config", "", "Optional YAML configuration file")

	// Attestation service
	flags.String("guardian-rpc", "", "Guardian public RPC endpoint (host:port); takes precedence over --guardian-rest")
	flags.Bool("guardian-tls", true, "Use TLS for the guardian public RPC connection")
	flags.String("guardian-rest", "https://api.testnet.wormholescan.io", "Guardian REST gateway base URL")
	flags.Duration("fetch-timeout", attestation.DefaultFetchTimeout, "Timeout of a single attestation fetch")
	flags.Int("cache-size", attestation.DefaultCacheSize, "Number of signed VAAs kept in memory")

	// Retry policy
	flags.Int("max-attempts", retry.DefaultMaxAttempts, "Maximum number of attestation fetch attempts")
	flags.Int("interval-ms", int(retry.DefaultInterval.Milliseconds()), "Fixed wait between fetch attempts")
	flags.Int("backoff-base-ms", 0, "Initial wait of exponential backoff (0 keeps the fixed interval)")
	flags.Float64("backoff-factor", 2, "Exponential backoff multiplier")
	flags.Int("backoff-cap-ms", 0, "Maximum wait of exponential backoff (0 means uncapped)")
	flags.Float64("backoff-jitter", 0, "Randomization factor of exponential backoff (0 to 1)")
	flags.Int("timeout-ms", 0, "Overall deadline for fetching an attestation (0 means none)")

	// Solana
	flags.String("solana-rpc-url", "https://api.devnet.solana.com", "Solana RPC URL")
	flags.String("solana-private-key", "", "Solana payer private key (base58)")
	flags.String("solana-core-bridge", "", "Wormhole core bridge program ID on Solana")
	flags.String("solana-token-bridge", "", "Wormhole token bridge program ID on Solana")
	flags.String("solana-redeem-service-url", "", "URL of the service that posts and redeems VAAs on Solana")

	// EVM
	flags.String("evm-rpc-url", "", "EVM RPC URL")
	flags.String("evm-private-key", "", "EVM private key (hex)")
	flags.String("evm-core-bridge", "", "Wormhole core bridge contract address")
	flags.String("evm-token-bridge", "", "Wormhole token bridge contract address")
	flags.Uint16("evm-chain", 2, "Wormhole chain id of the EVM chain")

	flags.String("status-addr", "", "Address of the health and metrics server (empty disables it)")

	// Bind flags to viper for env variable and config file support
	for key, flag := range map[string]string{
		"guardian_rpc":              "guardian-rpc",
		"guardian_tls":              "guardian-tls",
		"guardian_rest":             "guardian-rest",
		"fetch_timeout":             "fetch-timeout",
		"cache_size":                "cache-size",
		"retry.max_attempts":        "max-attempts",
		"retry.interval_ms":         "interval-ms",
		"retry.backoff.base_ms":     "backoff-base-ms",
		"retry.backoff.factor":      "backoff-factor",
		"retry.backoff.cap_ms":      "backoff-cap-ms",
		"retry.backoff.jitter":      "backoff-jitter",
		"retry.timeout_ms":          "timeout-ms",
		"solana_rpc_url":            "solana-rpc-url",
		"solana_private_key":        "solana-private-key",
		"solana_core_bridge":        "solana-core-bridge",
		"solana_token_bridge":       "solana-token-bridge",
		"solana_redeem_service_url": "solana-redeem-service-url",
		"evm_rpc_url":               "evm-rpc-url",
		"evm_private_key":           "evm-private-key",
		"evm_core_bridge":           "evm-core-bridge",
		"evm_token_bridge":          "evm-token-bridge",
		"evm_chain":                 "evm-chain",
		"status_addr":               "status-addr",
	} {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", flag, err))
		}
	}

	cobra.OnInitialize(initConfig)
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("bridge_relay")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

func readConfigFile(cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return nil
	}
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return nil
}

func configureLogging(cmd *cobra.Command, _ []string) *zap.Logger {
	debug, _ := cmd.Flags().GetBool("debug")
	json, _ := cmd.Flags().GetBool("json")

	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		config.Development = true
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	if json {
		config.Encoding = "json"
	} else {
		config.Encoding = "console"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	logger, err := config.Build()
	if err != nil {
		// Fallback to a basic logger if config fails
		logger, _ = zap.NewProduction()
	}

	zap.ReplaceGlobals(logger)

	return logger
}
