package oracle

import (
	"fmt"
	"strconv"
	"strings"
)

// parseClassification extracts a category and confidence from the oracle's
// reply. The expected shape is two lines:
//
//	Category: Groceries
//	Confidence: 0.85
//
// but common formatting drift (percentages, reversed order, extra prose) is
// tolerated.
func parseClassification(content string) (ClassificationResponse, error) {
	var response ClassificationResponse

	for _, line := range strings.Split(strings.TrimSpace(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		lower := strings.ToLower(line)
		switch {
		case strings.HasPrefix(lower, "category:"):
			response.Category = strings.TrimSpace(line[len("category:"):])
		case strings.HasPrefix(lower, "confidence:"):
			response.Confidence = parseScore(strings.TrimSpace(line[len("confidence:"):]))
		}
	}

	if response.Category == "" {
		return ClassificationResponse{}, fmt.Errorf("no category in oracle response: %q", content)
	}

	return response, nil
}

// parseScore converts a confidence string to a float in [0,1], recovering from
// percentages and stray characters. Unparsable scores come back as 0.
func parseScore(s string) float64 {
	if strings.HasSuffix(s, "%") {
		percent, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(s, "%")), 64)
		if err != nil {
			return 0
		}
		return clampScore(percent / 100.0)
	}

	score, err := strconv.ParseFloat(s, 64)
	if err != nil {
		clean := strings.Map(func(r rune) rune {
			if (r >= '0' && r <= '9') || r == '.' {
				return r
			}
			return -1
		}, s)
		score, err = strconv.ParseFloat(clean, 64)
		if err != nil {
			return 0
		}
	}

	return clampScore(score)
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
