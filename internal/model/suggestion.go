package model

import "time"

// SuggestionEntry binds one sync record to the small ordinal it was exposed
// under in an outgoing approval message.
type SuggestionEntry struct {
	TransactionID string
	Ordinal       int
	// Manual marks a manual-categorization ask (unmatched charge) rather than
	// a split suggestion; "yes" is not a meaningful reply for these.
	Manual bool
}

// PendingSuggestion is the persisted state of one consolidated approval
// message awaiting a reply. It survives process restarts; CreatedAt drives the
// timeout sweep.
type PendingSuggestion struct {
	CreatedAt time.Time
	ID        string
	MessageID string
	Entries   []SuggestionEntry
}

// Entry returns the entry with the given ordinal, or nil.
func (p *PendingSuggestion) Entry(ordinal int) *SuggestionEntry {
	for i := range p.Entries {
		if p.Entries[i].Ordinal == ordinal {
			return &p.Entries[i]
		}
	}
	return nil
}

// Expired reports whether the suggestion has outlived the approval timeout.
func (p *PendingSuggestion) Expired(now time.Time, timeout time.Duration) bool {
	return now.Sub(p.CreatedAt) >= timeout
}
