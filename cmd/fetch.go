package cmd

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wormhole-demo/bridge-relay/internal/attestation"
	"github.com/wormhole-demo/bridge-relay/internal/retry"
	"github.com/wormhole-demo/bridge-relay/internal/transfer"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Poll the guardian network for a signed VAA and print it as hex",
	RunE:  runFetch,
}

func init() {
	fetchCmd.Flags().String("key", "", "Attestation key as chain/emitter/sequence")
	_ = fetchCmd.MarkFlagRequired("key")

	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	logger := configureLogging(cmd, args)
	defer func() { _ = logger.Sync() }()

	keyStr, _ := cmd.Flags().GetString("key")
	key, err := transfer.ParseAttestationKey(keyStr)
	if err != nil {
		return err
	}

	cfg := loadConfig()
	policy, err := cfg.Retry.Policy()
	if err != nil {
		return fmt.Errorf("invalid retry configuration: %w", err)
	}

	fetcher, closeFetcher, err := newFetcher(logger, cfg)
	if err != nil {
		return err
	}
	defer closeFetcher()

	ctx, cancel := signalContext(logger)
	defer cancel()

	att, err := retry.Poll(ctx, policy, attestation.PollOperation(fetcher, key),
		retry.WithNotify(func(attempt int, next time.Duration, err error) {
			logger.Info("Signed VAA not yet available",
				zap.Stringer("key", key),
				zap.Int("attempt", attempt),
				zap.Duration("nextRetry", next))
		}))
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(att.Raw))
	return nil
}
