package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quillon/receiptwise/internal/cli"
	"github.com/quillon/receiptwise/internal/model"
)

func mappingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mappings",
		Short: "Inspect the learned item-to-category mappings",
		RunE:  runMappingsList,
	}

	cmd.Flags().Bool("vetted", false, "Show only human-vetted mappings")

	return cmd
}

func runMappingsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	vettedOnly, _ := cmd.Flags().GetBool("vetted")

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	var entries []model.MappingEntry
	if vettedOnly {
		entries, err = store.GetVettedMappings(ctx)
	} else {
		entries, err = store.GetAllMappings(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to load mappings: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println(cli.SubtleStyle.Render("no learned mappings yet"))
		return nil
	}

	fmt.Println(cli.FormatTitle(fmt.Sprintf("Learned mappings (%d)", len(entries))))
	header := fmt.Sprintf("%-40s %-20s %-16s %5s %5s", "ITEM", "CATEGORY", "PROVENANCE", "USES", "CONF")
	fmt.Println(cli.TableHeaderStyle.Render(header))

	for _, entry := range entries {
		key := entry.Key
		if len(key) > 38 {
			key = key[:38] + "…"
		}
		line := fmt.Sprintf("%-40s %-20s %-16s %5d %5.2f",
			key, entry.Category, entry.Provenance, entry.UseCount, entry.Confidence)
		fmt.Println(cli.TableCellStyle.Render(line))

		if len(entry.Corrections) > 0 {
			last := entry.Corrections[len(entry.Corrections)-1]
			note := fmt.Sprintf("    corrected %s → %s on %s",
				last.FromCategory, last.ToCategory, last.Timestamp.Format("Jan 2 2006"))
			fmt.Println(cli.SubtleStyle.Render(note))
		}
	}

	vetted := 0
	for _, entry := range entries {
		if entry.Provenance.Vetted() {
			vetted++
		}
	}
	fmt.Println()
	fmt.Println(cli.SubtleStyle.Render(fmt.Sprintf("%d of %d vetted", vetted, len(entries))))

	return nil
}
