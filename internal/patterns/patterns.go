// Package patterns provides the known non-purchase charge pattern table used
// when a transaction has no matching receipt (subscription fees, gift-card
// reloads, and similar recurring charges).
package patterns

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Pattern maps a recognizable charge to its default category.
type Pattern struct {
	Name       string  `yaml:"name"`
	Regex      string  `yaml:"regex"`
	Category   string  `yaml:"category"`
	Priority   int     `yaml:"priority"`
	Confidence float64 `yaml:"confidence"`
}

// compiledPattern holds a compiled regex pattern with metadata.
type compiledPattern struct {
	compiledRegex *regexp.Regexp
	Pattern
}

// Table matches transactions against known charge patterns.
type Table struct {
	patterns []compiledPattern
	mu       sync.RWMutex
}

// NewTable compiles the given patterns into a matching table. Patterns are
// checked in priority order, highest first.
func NewTable(patterns []Pattern) (*Table, error) {
	compiled := make([]compiledPattern, 0, len(patterns))

	for _, p := range patterns {
		regexStr := p.Regex
		if !strings.HasPrefix(regexStr, "(?i)") {
			regexStr = "(?i)" + regexStr // Make case-insensitive by default
		}

		regex, err := regexp.Compile(regexStr)
		if err != nil {
			return nil, fmt.Errorf("failed to compile pattern %s: %w", p.Name, err)
		}

		compiled = append(compiled, compiledPattern{
			Pattern:       p,
			compiledRegex: regex,
		})
	}

	for i := 0; i < len(compiled)-1; i++ {
		for j := i + 1; j < len(compiled); j++ {
			if compiled[j].Priority > compiled[i].Priority {
				compiled[i], compiled[j] = compiled[j], compiled[i]
			}
		}
	}

	return &Table{patterns: compiled}, nil
}

// Match is a pattern match result.
type Match struct {
	PatternName string
	Category    string
	Confidence  float64
}

// Match checks the payee and memo text against the pattern table and returns
// the highest-priority match, or nil when nothing matches.
func (t *Table) Match(payee, memo string) *Match {
	t.mu.RLock()
	defer t.mu.RUnlock()

	searchText := strings.ToLower(payee + " " + memo)

	for _, pattern := range t.patterns {
		if pattern.compiledRegex.MatchString(searchText) {
			return &Match{
				PatternName: pattern.Name,
				Category:    pattern.Category,
				Confidence:  pattern.Confidence,
			}
		}
	}

	return nil
}

// patternFile is the on-disk YAML shape for user-defined patterns.
type patternFile struct {
	Patterns []Pattern `yaml:"patterns"`
}

// LoadFile reads additional patterns from a YAML file. Loaded patterns are
// appended after the defaults, so user patterns with higher priority win.
func LoadFile(path string) ([]Pattern, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from user config
	if err != nil {
		return nil, fmt.Errorf("failed to read pattern file: %w", err)
	}

	var file patternFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse pattern file: %w", err)
	}

	return file.Patterns, nil
}

// NewTableFromConfig builds a table from the built-in defaults plus an
// optional override file.
func NewTableFromConfig(overridePath string) (*Table, error) {
	patterns := DefaultPatterns()

	if overridePath != "" {
		extra, err := LoadFile(overridePath)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, extra...)
	}

	return NewTable(patterns)
}
