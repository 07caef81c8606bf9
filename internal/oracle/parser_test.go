package oracle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClassification(t *testing.T) {
	tests := []struct {
		name           string
		content        string
		wantCategory   string
		wantConfidence float64
		wantErr        bool
	}{
		{
			name:           "standard format",
			content:        "Category: Groceries\nConfidence: 0.85",
			wantCategory:   "Groceries",
			wantConfidence: 0.85,
		},
		{
			name:           "percentage confidence",
			content:        "Category: Home\nConfidence: 85%",
			wantCategory:   "Home",
			wantConfidence: 0.85,
		},
		{
			name:           "lowercase labels with prose",
			content:        "Sure!\ncategory: Electronics\nconfidence: 0.9\nHope that helps.",
			wantCategory:   "Electronics",
			wantConfidence: 0.9,
		},
		{
			name:           "confidence above one clamped",
			content:        "Category: Pets\nConfidence: 1.3",
			wantCategory:   "Pets",
			wantConfidence: 1.0,
		},
		{
			name:           "garbage confidence becomes zero",
			content:        "Category: Pets\nConfidence: high",
			wantCategory:   "Pets",
			wantConfidence: 0,
		},
		{
			name:    "no category at all",
			content: "I cannot classify this item.",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseClassification(tt.content)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantCategory, got.Category)
			assert.InDelta(t, tt.wantConfidence, got.Confidence, 1e-9)
		})
	}
}

func TestResponseCache(t *testing.T) {
	cache := newResponseCache(0)

	_, found := cache.get("echo dot")
	assert.False(t, found)

	cache.set("echo dot", ClassificationResponse{Category: "Electronics", Confidence: 0.9})

	got, found := cache.get("echo dot")
	require.True(t, found)
	assert.Equal(t, "Electronics", got.Category)
}
