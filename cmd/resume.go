package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wormhole-demo/bridge-relay/internal/transfer"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Finish a relay from its source transaction or attestation key",
	Long: `Finish a relay whose source transfer is already confirmed.

With --tx the attestation key is derived from the source transaction logs.
With --key the given chain/emitter/sequence is fetched directly. Either way
nothing is submitted on the destination chain when the transfer has already
been redeemed. Pass --attest to finish an asset attestation instead.`,
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().String("source", sourceSolana, "Source chain (solana or evm)")
	resumeCmd.Flags().String("tx", "", "Source transaction id")
	resumeCmd.Flags().String("key", "", "Attestation key as chain/emitter/sequence")
	resumeCmd.Flags().Bool("attest", false, "The source message is an asset attestation")
	resumeCmd.MarkFlagsMutuallyExclusive("tx", "key")
	resumeCmd.MarkFlagsOneRequired("tx", "key")

	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	logger := configureLogging(cmd, args)
	defer func() { _ = logger.Sync() }()

	source, _ := cmd.Flags().GetString("source")
	txID, _ := cmd.Flags().GetString("tx")
	keyStr, _ := cmd.Flags().GetString("key")
	attest, _ := cmd.Flags().GetBool("attest")

	kind := kindTransfer
	if attest {
		kind = kindAttest
	}

	cfg := loadConfig()
	p, err := newPipeline(logger, cfg, source, kind)
	if err != nil {
		return err
	}
	defer p.close()

	ctx, cancel := signalContext(logger)
	defer cancel()
	startStatusServer(ctx, logger, cfg, p.checks)

	var result transfer.RedemptionResult
	if keyStr != "" {
		key, err := transfer.ParseAttestationKey(keyStr)
		if err != nil {
			return err
		}
		if key.EmitterChain != p.sourceChain {
			return fmt.Errorf("key %s was emitted on chain %d, not on the %s source chain", key, uint16(key.EmitterChain), source)
		}
		result, err = p.orchestrator.ResumeKey(ctx, key)
		if err != nil {
			return err
		}
	} else {
		result, err = p.orchestrator.Resume(ctx, transfer.Submitted{
			Request: transfer.Request{
				SourceChain:      p.sourceChain,
				DestinationChain: p.destChain,
			},
			TxID: txID,
		})
		if err != nil {
			return err
		}
	}

	printResult(cmd, result)
	return nil
}
