package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quillon/receiptwise/internal/cli"
)

func replyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reply <text>",
		Short: "Answer a pending suggestion",
		Long: `Process a reply to the most recent suggestion message, exactly as if it had
arrived from your phone.

Examples:

  receiptwise reply "1 yes"
  receiptwise reply "2 adjust coffee maker: Home"
  receiptwise reply "3 skip"`,
		Args: cobra.MinimumNArgs(1),
		RunE: runReply,
	}
}

func runReply(cmd *cobra.Command, args []string) error {
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

	response, err := eng.HandleReply(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}

	fmt.Println(cli.FormatSuccess(response))
	return nil
}
