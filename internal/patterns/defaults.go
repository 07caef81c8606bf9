package patterns

// DefaultPatterns returns the built-in non-purchase charge patterns. These
// cover recurring charges that post to the ledger without an itemized receipt.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{
			Name:       "Apple Subscription",
			Regex:      `\b(APPLE\.COM/BILL|APPLE\s*SERVICES|ITUNES)\b`,
			Category:   "Subscriptions",
			Priority:   100,
			Confidence: 0.95,
		},
		{
			Name:       "Streaming Service",
			Regex:      `\b(NETFLIX|SPOTIFY|HULU|DISNEY\s*PLUS|HBO\s*MAX|PARAMOUNT)\b`,
			Category:   "Subscriptions",
			Priority:   95,
			Confidence: 0.95,
		},
		{
			Name:       "Cloud Storage",
			Regex:      `\b(GOOGLE\s*STORAGE|GOOGLE\s*ONE|DROPBOX|ICLOUD)\b`,
			Category:   "Subscriptions",
			Priority:   90,
			Confidence: 0.90,
		},
		{
			Name:       "Amazon Digital",
			Regex:      `\b(AMZN\s*DIGITAL|KINDLE\s*SVCS|AMAZON\s*PRIME|PRIME\s*VIDEO)\b`,
			Category:   "Subscriptions",
			Priority:   90,
			Confidence: 0.90,
		},
		{
			Name:       "Gift Card Reload",
			Regex:      `\b(GIFT\s*CARD|GC\s*RELOAD|BALANCE\s*RELOAD)\b`,
			Category:   "Gifts",
			Priority:   85,
			Confidence: 0.85,
		},
		{
			Name:       "App Store Purchase",
			Regex:      `\b(GOOGLE\s*PLAY|PLAYSTATION\s*NETWORK|XBOX|STEAM\s*PURCHASE|NINTENDO)\b`,
			Category:   "Entertainment",
			Priority:   80,
			Confidence: 0.85,
		},
		{
			Name:       "Membership Fee",
			Regex:      `\b(MEMBERSHIP\s*FEE|ANNUAL\s*FEE|COSTCO\s*MEMBER|PATREON)\b`,
			Category:   "Subscriptions",
			Priority:   75,
			Confidence: 0.80,
		},
	}
}
