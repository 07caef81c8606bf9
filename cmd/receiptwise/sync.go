package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quillon/receiptwise/internal/cli"
	"github.com/quillon/receiptwise/internal/common"
)

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one reconciliation pass over recent transactions",
		Long: `Fetch recent ledger transactions and extracted receipts, match them,
split charges into itemized categories, and apply or propose categorizations.

Suggestions that need your sign-off are sent as a single message; reply with
"receiptwise reply" or from your phone.`,
		RunE: runSync,
	}
}

func runSync(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	eng, err := buildEngine(store)
	if err != nil {
		return err
	}

	stats, err := eng.Sync(ctx)
	if err != nil {
		if errors.Is(err, common.ErrRunInProgress) {
			fmt.Println(cli.FormatWarning("a sync run is already in progress"))
			return nil
		}
		return err
	}

	fmt.Println(cli.FormatTitle("Sync complete"))
	fmt.Printf("  transactions: %d\n", stats.TransactionsSeen)
	fmt.Printf("  matched:      %d\n", stats.Matched)
	fmt.Printf("  auto-applied: %d\n", stats.AutoApplied)
	fmt.Printf("  asked:        %d\n", stats.AskedApproval)
	fmt.Printf("  refunds:      %d\n", stats.Refunded)
	fmt.Printf("  unmatched:    %d\n", stats.Unmatched)
	if stats.Swept > 0 {
		fmt.Printf("  swept:        %d\n", stats.Swept)
	}
	if stats.ChannelFailures > 0 {
		fmt.Println(cli.FormatWarning(fmt.Sprintf("%d channel(s) failed; see logs", stats.ChannelFailures)))
	}

	return nil
}
