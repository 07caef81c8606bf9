package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quillon/receiptwise/internal/cli"
	"github.com/quillon/receiptwise/internal/model"
)

func autonomousCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autonomous",
		Short: "Show or change autonomous mode",
		RunE:  runAutonomousStatus,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "on",
		Short: "Turn autonomous mode on",
		RunE:  runAutonomousOn,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "off",
		Short: "Turn autonomous mode off",
		RunE:  runAutonomousOff,
	})

	return cmd
}

func runAutonomousStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	cfg, err := store.GetSyncConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load sync config: %w", err)
	}

	fmt.Println(cli.FormatTitle("Autonomous mode"))
	if cfg.Autonomous {
		fmt.Println(cli.FormatSuccess("on — confident categorizations are applied automatically"))
	} else if cfg.GraduationProposed {
		fmt.Println("off — proposal sent, awaiting your reply")
	} else {
		fmt.Println("off — still earning your trust")
	}
	fmt.Printf("\n  suggestions:        %d\n", cfg.TotalSuggestions)
	fmt.Printf("  accepted as-is:     %d\n", cfg.UnmodifiedAccepts)
	fmt.Printf("  accepted adjusted:  %d\n", cfg.ModifiedAccepts)
	fmt.Printf("  skipped:            %d\n", cfg.Skips)
	if cfg.TotalSuggestions > 0 {
		fmt.Printf("  acceptance rate:    %.0f%%\n", cfg.AcceptanceRate()*100)
	}

	pending, err := store.GetSyncRecordsByStatus(ctx, model.StatusPendingApproval)
	if err != nil {
		return fmt.Errorf("failed to load pending records: %w", err)
	}
	if len(pending) > 0 {
		fmt.Println()
		fmt.Println(cli.FormatWarning(fmt.Sprintf("%d charge(s) awaiting your reply", len(pending))))
		for _, record := range pending {
			fmt.Printf("  %s  %s\n", record.TransactionID, record.Payee)
		}
	}

	return nil
}

func runAutonomousOn(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	cfg, err := store.GetSyncConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load sync config: %w", err)
	}
	if cfg.Autonomous {
		fmt.Println(cli.FormatWarning("autonomous mode is already on"))
		return nil
	}

	// Running this command is itself an explicit opt-in, so the usual
	// proposal conversation is not required.
	cfg.Autonomous = true
	cfg.GraduationProposed = true
	if err := store.SaveSyncConfig(ctx, cfg); err != nil {
		return fmt.Errorf("failed to save sync config: %w", err)
	}

	fmt.Println(cli.FormatSuccess("autonomous mode is on"))
	return nil
}

func runAutonomousOff(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	cfg, err := store.GetSyncConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load sync config: %w", err)
	}
	if !cfg.Autonomous {
		fmt.Println(cli.FormatWarning("autonomous mode is already off"))
		return nil
	}

	cfg.Autonomous = false
	if err := store.SaveSyncConfig(ctx, cfg); err != nil {
		return fmt.Errorf("failed to save sync config: %w", err)
	}

	fmt.Println(cli.FormatSuccess("autonomous mode is off"))
	return nil
}
