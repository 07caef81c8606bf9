package approve

import (
	"fmt"
	"strings"
	"time"

	"github.com/quillon/receiptwise/internal/model"
)

// keycaps are the ordinal markers used in outgoing messages. Ordinals past
// ten fall back to plain numbers; a single run rarely produces that many.
var keycaps = []string{"1️⃣", "2️⃣", "3️⃣", "4️⃣", "5️⃣", "6️⃣", "7️⃣", "8️⃣", "9️⃣", "🔟"}

func ordinalMarker(n int) string {
	if n >= 1 && n <= len(keycaps) {
		return keycaps[n-1]
	}
	return fmt.Sprintf("%d.", n)
}

// FormatAmount renders minor units as a dollar string.
func FormatAmount(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}

// formatSuggestionMessage builds the consolidated approval message for all
// records pending in one run.
func formatSuggestionMessage(records []*model.SyncRecord, ordinals map[string]int) string {
	var sb strings.Builder

	if len(records) == 1 {
		sb.WriteString("📋 1 charge needs your review:\n")
	} else {
		fmt.Fprintf(&sb, "📋 %d charges need your review:\n", len(records))
	}

	for _, record := range records {
		sb.WriteString("\n")
		fmt.Fprintf(&sb, "%s %s %s (%s)",
			ordinalMarker(ordinals[record.TransactionID]),
			record.Payee,
			FormatAmount(record.Amount),
			record.Date.Format("Jan 2"))

		if len(record.Items) == 0 {
			sb.WriteString(" — unmatched charge\n")
			sb.WriteString("   What category should this be?\n")
			continue
		}

		sb.WriteString("\n")
		for _, item := range record.Items {
			category := item.Category
			if category == "" {
				category = "?"
			}
			fmt.Fprintf(&sb, "   • %s — %s → %s\n", item.Title, FormatAmount(item.Allocated), category)
		}
	}

	sb.WriteString("\nReply \"<n> yes\", \"<n> adjust <category>\", or \"<n> skip\".")

	return sb.String()
}

// FormatAutoSummary builds the post-hoc note sent after an autonomous apply.
// It is a statement, not a question, with an offer to undo.
func FormatAutoSummary(record *model.SyncRecord) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "✅ Categorized %s %s (%s) automatically:\n",
		record.Payee,
		FormatAmount(record.Amount),
		record.Date.Format("Jan 2"))

	for _, item := range record.Items {
		fmt.Fprintf(&sb, "   • %s — %s → %s\n", item.Title, FormatAmount(item.Allocated), item.Category)
	}

	fmt.Fprintf(&sb, "Reply \"undo %s\" if that's wrong.", record.TransactionID)

	return sb.String()
}

// FormatGraduationProposal builds the one-time autonomous-mode proposal.
func FormatGraduationProposal(cfg *model.SyncConfig) string {
	return fmt.Sprintf(
		"🎓 Over the last %d days you've accepted %d of %d suggestions as-is (%.0f%%). "+
			"Want me to start applying confident categorizations automatically? "+
			"I'll still send a summary, and you can undo anything or say \"autonomous off\" anytime. Reply \"yes\" to enable.",
		int(time.Since(cfg.FirstSuggestionAt).Hours()/24),
		cfg.UnmodifiedAccepts,
		cfg.TotalSuggestions,
		cfg.AcceptanceRate()*100)
}
