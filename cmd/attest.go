package cmd

import (
	"github.com/spf13/cobra"

	"github.com/wormhole-demo/bridge-relay/internal/transfer"
)

var attestCmd = &cobra.Command{
	Use:   "attest",
	Short: "Attest an asset on the source chain and register its wrapped form on the destination chain",
	Long: `Publish the asset's metadata through the source token bridge, wait for
the guardians to sign it and create the wrapped asset on the destination
chain. An asset that is already registered there is reported as
already_redeemed and nothing is submitted.`,
	RunE: runAttest,
}

func init() {
	attestCmd.Flags().String("source", sourceSolana, "Source chain (solana or evm)")
	attestCmd.Flags().String("asset", "", "Asset to attest (SPL mint or ERC20 address)")
	attestCmd.Flags().Uint32("nonce", 0, "Wormhole message nonce")

	_ = attestCmd.MarkFlagRequired("asset")

	rootCmd.AddCommand(attestCmd)
}

func runAttest(cmd *cobra.Command, args []string) error {
	logger := configureLogging(cmd, args)
	defer func() { _ = logger.Sync() }()

	source, _ := cmd.Flags().GetString("source")
	asset, _ := cmd.Flags().GetString("asset")
	nonce, _ := cmd.Flags().GetUint32("nonce")

	cfg := loadConfig()
	p, err := newPipeline(logger, cfg, source, kindAttest)
	if err != nil {
		return err
	}
	defer p.close()

	ctx, cancel := signalContext(logger)
	defer cancel()
	startStatusServer(ctx, logger, cfg, p.checks)

	result, err := p.orchestrator.Attest(ctx, transfer.AttestRequest{
		SourceChain:      p.sourceChain,
		DestinationChain: p.destChain,
		Asset:            asset,
		Nonce:            nonce,
	})
	if err != nil {
		return err
	}

	printResult(cmd, result)
	return nil
}
