package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wormhole-demo/bridge-relay/internal/transfer"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Submit a token transfer on the source chain and redeem it on the destination chain",
	RunE:  runRelay,
}

func init() {
	relayCmd.Flags().String("source", sourceSolana, "Source chain (solana or evm)")
	relayCmd.Flags().String("asset", "", "Asset to transfer (SPL mint or ERC20 address)")
	relayCmd.Flags().String("recipient", "", "Recipient on the destination chain")
	relayCmd.Flags().Uint64("amount", 0, "Amount in the asset's base units")
	relayCmd.Flags().Uint32("nonce", 0, "Wormhole message nonce")

	_ = relayCmd.MarkFlagRequired("asset")
	_ = relayCmd.MarkFlagRequired("recipient")
	_ = relayCmd.MarkFlagRequired("amount")

	rootCmd.AddCommand(relayCmd)
}

func runRelay(cmd *cobra.Command, args []string) error {
	logger := configureLogging(cmd, args)
	defer func() { _ = logger.Sync() }()

	source, _ := cmd.Flags().GetString("source")
	asset, _ := cmd.Flags().GetString("asset")
	recipient, _ := cmd.Flags().GetString("recipient")
	amount, _ := cmd.Flags().GetUint64("amount")
	nonce, _ := cmd.Flags().GetUint32("nonce")

	if amount == 0 {
		return fmt.Errorf("amount must be greater than zero")
	}

	cfg := loadConfig()
	p, err := newPipeline(logger, cfg, source, kindTransfer)
	if err != nil {
		return err
	}
	defer p.close()

	recipientAddr, err := parseRecipient(p.destChain, recipient)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(logger)
	defer cancel()
	startStatusServer(ctx, logger, cfg, p.checks)

	result, err := p.orchestrator.Relay(ctx, transfer.Request{
		SourceChain:      p.sourceChain,
		DestinationChain: p.destChain,
		Asset:            asset,
		Recipient:        recipientAddr,
		Amount:           amount,
		Nonce:            nonce,
	})
	if err != nil {
		return err
	}

	printResult(cmd, result)
	return nil
}

func printResult(cmd *cobra.Command, result transfer.RedemptionResult) {
	if result.DestinationTxID != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", result.Key, result.Status, result.DestinationTxID)
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", result.Key, result.Status)
}
