package patterns

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable_Match(t *testing.T) {
	table, err := NewTable(DefaultPatterns())
	require.NoError(t, err)

	tests := []struct {
		name         string
		payee        string
		memo         string
		wantCategory string
		wantMatch    bool
	}{
		{
			name:         "apple subscription billing",
			payee:        "APPLE.COM/BILL",
			wantCategory: "Subscriptions",
			wantMatch:    true,
		},
		{
			name:         "netflix lowercase",
			payee:        "netflix.com",
			wantCategory: "Subscriptions",
			wantMatch:    true,
		},
		{
			name:         "gift card reload in memo",
			payee:        "Amazon.com",
			memo:         "gift card reload",
			wantCategory: "Gifts",
			wantMatch:    true,
		},
		{
			name:      "plain marketplace order",
			payee:     "Amazon.com",
			wantMatch: false,
		},
		{
			name:      "unknown payee",
			payee:     "LOCAL HARDWARE STORE",
			wantMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match := table.Match(tt.payee, tt.memo)
			if !tt.wantMatch {
				assert.Nil(t, match)
				return
			}
			require.NotNil(t, match)
			assert.Equal(t, tt.wantCategory, match.Category)
			assert.Greater(t, match.Confidence, 0.0)
		})
	}
}

func TestTable_PriorityOrder(t *testing.T) {
	table, err := NewTable([]Pattern{
		{Name: "low", Regex: `SERVICE`, Category: "Low", Priority: 10, Confidence: 0.5},
		{Name: "high", Regex: `SERVICE`, Category: "High", Priority: 90, Confidence: 0.9},
	})
	require.NoError(t, err)

	match := table.Match("SOME SERVICE", "")
	require.NotNil(t, match)
	assert.Equal(t, "High", match.Category)
}

func TestTable_InvalidRegex(t *testing.T) {
	_, err := NewTable([]Pattern{{Name: "bad", Regex: `([`, Category: "X"}})
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patterns.yaml")
	content := `patterns:
  - name: Gym
    regex: 'PLANET\s*FITNESS'
    category: Health
    priority: 120
    confidence: 0.9
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	table, err := NewTableFromConfig(path)
	require.NoError(t, err)

	match := table.Match("PLANET FITNESS", "")
	require.NotNil(t, match)
	assert.Equal(t, "Health", match.Category)

	// Defaults still present.
	match = table.Match("NETFLIX", "")
	require.NotNil(t, match)
	assert.Equal(t, "Subscriptions", match.Category)
}
