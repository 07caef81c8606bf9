package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quillon/receiptwise/internal/cli"
)

func undoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "undo <transaction-id>",
		Short: "Revert an applied categorization",
		Long: `Restore a transaction's original memo and category, un-splitting it if
necessary. The transaction becomes eligible for reprocessing on the next sync.`,
		Args: cobra.ExactArgs(1),
		RunE: runUndo,
	}
}

func runUndo(cmd *cobra.Command, args []string) error {
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

	if err := eng.Undo(ctx, args[0]); err != nil {
		return err
	}

	fmt.Println(cli.FormatSuccess(fmt.Sprintf("undid categorization of %s", args[0])))
	return nil
}
