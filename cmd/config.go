package cmd

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
	"github.com/spf13/viper"
	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/zap"

	"github.com/wormhole-demo/bridge-relay/internal"
	"github.com/wormhole-demo/bridge-relay/internal/attestation"
	"github.com/wormhole-demo/bridge-relay/internal/clients"
	"github.com/wormhole-demo/bridge-relay/internal/keys"
	"github.com/wormhole-demo/bridge-relay/internal/retry"
	"github.com/wormhole-demo/bridge-relay/internal/status"
	"github.com/wormhole-demo/bridge-relay/internal/submitter"
)

const (
	sourceSolana = "solana"
	sourceEVM    = "evm"
)

// messageKind selects what the destination chain does with the signed VAA.
type messageKind int

const (
	kindTransfer messageKind = iota // complete a token transfer
	kindAttest                      // register a wrapped asset
)

type Config struct {
	GuardianRPC  string        // Guardian public RPC endpoint
	GuardianTLS  bool          // Use TLS for the guardian RPC
	GuardianREST string        // Guardian REST gateway
	FetchTimeout time.Duration // Timeout of a single fetch
	CacheSize    int           // Signed VAA cache size
	Retry        retry.Config  // Attestation polling policy

	SolanaRPCURL           string // Solana RPC URL
	SolanaPrivateKey       string // Payer private key (base58)
	SolanaCoreBridge       string // Core bridge program ID
	SolanaTokenBridge      string // Token bridge program ID
	SolanaRedeemServiceURL string // Redemption service URL

	EVMRPCURL      string         // EVM RPC URL
	EVMPrivateKey  string         // EVM private key (hex)
	EVMCoreBridge  string         // Core bridge contract address
	EVMTokenBridge string         // Token bridge contract address
	EVMChain       vaaLib.ChainID // Wormhole chain id of the EVM chain

	StatusAddr string // Health and metrics server address
}

func loadConfig() Config {
	cfg := Config{
		GuardianRPC:  viper.GetString("guardian_rpc"),
		GuardianTLS:  viper.GetBool("guardian_tls"),
		GuardianREST: viper.GetString("guardian_rest"),
		FetchTimeout: viper.GetDuration("fetch_timeout"),
		CacheSize:    viper.GetInt("cache_size"),
		Retry: retry.Config{
			MaxAttempts: viper.GetInt("retry.max_attempts"),
			IntervalMs:  viper.GetInt("retry.interval_ms"),
			TimeoutMs:   viper.GetInt("retry.timeout_ms"),
		},

		SolanaRPCURL:           viper.GetString("solana_rpc_url"),
		SolanaPrivateKey:       viper.GetString("solana_private_key"),
		SolanaCoreBridge:       viper.GetString("solana_core_bridge"),
		SolanaTokenBridge:      viper.GetString("solana_token_bridge"),
		SolanaRedeemServiceURL: viper.GetString("solana_redeem_service_url"),

		EVMRPCURL:      viper.GetString("evm_rpc_url"),
		EVMPrivateKey:  viper.GetString("evm_private_key"),
		EVMCoreBridge:  viper.GetString("evm_core_bridge"),
		EVMTokenBridge: viper.GetString("evm_token_bridge"),
		EVMChain:       vaaLib.ChainID(viper.GetUint16("evm_chain")),

		StatusAddr: viper.GetString("status_addr"),
	}

	if base := viper.GetInt("retry.backoff.base_ms"); base > 0 {
		cfg.Retry.Backoff = &retry.BackoffConfig{
			BaseMs: base,
			Factor: viper.GetFloat64("retry.backoff.factor"),
			CapMs:  viper.GetInt("retry.backoff.cap_ms"),
			Jitter: viper.GetFloat64("retry.backoff.jitter"),
		}
	}

	return cfg
}

func (c Config) requireSolana() error {
	if c.SolanaCoreBridge == "" || c.SolanaTokenBridge == "" {
		return fmt.Errorf("Solana core and token bridge program IDs are required")
	}
	return nil
}

func (c Config) requireEVM() error {
	if c.EVMRPCURL == "" {
		return fmt.Errorf("EVM RPC URL is required")
	}
	if c.EVMPrivateKey == "" {
		return fmt.Errorf("EVM private key is required")
	}
	if !common.IsHexAddress(c.EVMCoreBridge) || !common.IsHexAddress(c.EVMTokenBridge) {
		return fmt.Errorf("EVM core and token bridge addresses are required")
	}
	return nil
}

// newFetcher builds the attestation fetcher with its cache. The returned
// func releases the guardian connection.
func newFetcher(logger *zap.Logger, cfg Config) (attestation.Fetcher, func(), error) {
	var (
		base    attestation.Fetcher
		release = func() {}
	)

	switch {
	case cfg.GuardianRPC != "":
		guardian, err := attestation.NewGuardianClient(logger, cfg.GuardianRPC, cfg.GuardianTLS, cfg.FetchTimeout)
		if err != nil {
			return nil, nil, err
		}
		base = guardian
		release = guardian.Close
	case cfg.GuardianREST != "":
		base = attestation.NewRESTClient(logger, cfg.GuardianREST, cfg.FetchTimeout)
	default:
		return nil, nil, fmt.Errorf("either a guardian RPC or REST endpoint is required")
	}

	cached, err := attestation.NewCachingFetcher(logger, base, cfg.CacheSize)
	if err != nil {
		release()
		return nil, nil, err
	}
	return cached, release, nil
}

// pipeline is everything a relay from one source chain needs.
type pipeline struct {
	orchestrator *internal.Orchestrator
	sourceChain  vaaLib.ChainID
	destChain    vaaLib.ChainID
	checks       map[string]status.CheckFunc
	close        func()
}

func newPipeline(logger *zap.Logger, cfg Config, source string, kind messageKind) (*pipeline, error) {
	policy, err := cfg.Retry.Policy()
	if err != nil {
		return nil, fmt.Errorf("invalid retry configuration: %w", err)
	}

	if err := cfg.requireSolana(); err != nil {
		return nil, err
	}
	if err := cfg.requireEVM(); err != nil {
		return nil, err
	}

	solanaClient, err := clients.NewSolanaClient(logger,
		cfg.SolanaRPCURL,
		cfg.SolanaPrivateKey,
		cfg.SolanaCoreBridge,
		cfg.SolanaTokenBridge,
		cfg.SolanaRedeemServiceURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create Solana client: %w", err)
	}

	evmClient, err := clients.NewEVMClient(logger, cfg.EVMRPCURL, cfg.EVMPrivateKey,
		common.HexToAddress(cfg.EVMCoreBridge), common.HexToAddress(cfg.EVMTokenBridge))
	if err != nil {
		return nil, fmt.Errorf("failed to create EVM client: %w", err)
	}

	p := &pipeline{checks: map[string]status.CheckFunc{}}

	var (
		sourceChain internal.SourceChain
		deriver     keys.Deriver
		destination submitter.Destination
	)
	switch source {
	case sourceSolana:
		if cfg.SolanaPrivateKey == "" {
			return nil, fmt.Errorf("a Solana private key is required to submit on Solana")
		}
		solanaDeriver, err := keys.NewSolanaDeriver(solanaClient.TokenBridge())
		if err != nil {
			return nil, err
		}
		sourceChain = clients.NewSolanaSource(logger, solanaClient)
		deriver = solanaDeriver
		if kind == kindAttest {
			destination = submitter.NewEVMAttestDestination(logger, evmClient, 0)
		} else {
			destination = submitter.NewEVMDestination(logger, evmClient, 0)
		}
		p.sourceChain, p.destChain = vaaLib.ChainIDSolana, cfg.EVMChain
	case sourceEVM:
		if cfg.SolanaRedeemServiceURL == "" {
			return nil, fmt.Errorf("a Solana redemption service URL is required to redeem on Solana")
		}
		sourceChain = clients.NewEVMSource(logger, evmClient)
		deriver = keys.NewEVMDeriver(cfg.EVMChain, common.HexToAddress(cfg.EVMCoreBridge), common.HexToAddress(cfg.EVMTokenBridge))
		destination = submitter.NewSolanaDestination(logger, solanaClient, 0)
		p.sourceChain, p.destChain = cfg.EVMChain, vaaLib.ChainIDSolana
		p.checks["solana_redeem_service"] = clients.NewRedeemServiceClient(logger, cfg.SolanaRedeemServiceURL).CheckHealth
	default:
		return nil, fmt.Errorf("unknown source chain %q (expected %s or %s)", source, sourceSolana, sourceEVM)
	}

	fetcher, closeFetcher, err := newFetcher(logger, cfg)
	if err != nil {
		return nil, err
	}
	p.close = closeFetcher

	p.orchestrator, err = internal.NewOrchestrator(logger, sourceChain, deriver, fetcher,
		submitter.NewRedeemer(logger, destination), policy)
	if err != nil {
		closeFetcher()
		return nil, err
	}

	p.checks["evm_rpc"] = func(ctx context.Context) error {
		_, err := evmClient.ChainID(ctx)
		return err
	}

	return p, nil
}

// parseRecipient decodes a destination address: hex (20 or 32 bytes) for
// EVM chains, base58 for Solana.
func parseRecipient(dest vaaLib.ChainID, s string) (vaaLib.Address, error) {
	if dest == vaaLib.ChainIDSolana && !strings.HasPrefix(s, "0x") {
		key, err := solana.PublicKeyFromBase58(s)
		if err != nil {
			return vaaLib.Address{}, fmt.Errorf("invalid Solana recipient %q: %w", s, err)
		}
		return vaaLib.Address(key), nil
	}

	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return vaaLib.Address{}, fmt.Errorf("invalid recipient %q: %w", s, err)
	}

	var addr vaaLib.Address
	switch len(raw) {
	case common.AddressLength:
		addr = keys.PadAddress(common.BytesToAddress(raw))
	case len(addr):
		copy(addr[:], raw)
	default:
		return vaaLib.Address{}, fmt.Errorf("invalid recipient %q: expected 20 or 32 bytes, got %d", s, len(raw))
	}
	return addr, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(logger *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-c:
			logger.Info("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(c)
	}()

	return ctx, cancel
}

// startStatusServer runs the status server in the background when an
// address is configured.
func startStatusServer(ctx context.Context, logger *zap.Logger, cfg Config, checks map[string]status.CheckFunc) {
	if cfg.StatusAddr == "" {
		return
	}

	server := status.NewServer(logger, cfg.StatusAddr)
	for name, check := range checks {
		server.AddCheck(name, check)
	}
	go func() {
		if err := server.Run(ctx); err != nil {
			logger.Error("Status server stopped with error", zap.Error(err))
		}
	}()
}
