package model

import "time"

// Provenance indicates how a mapping entry earned its category.
type Provenance string

const (
	// ProvenanceOracle marks a mapping seeded by the classification oracle
	// and never vetted by a human. Oracle-only guesses are never trusted for
	// autonomous application.
	ProvenanceOracle Provenance = "ORACLE_INITIAL"
	// ProvenanceApproved marks a mapping the household accepted as suggested.
	ProvenanceApproved Provenance = "USER_APPROVED"
	// ProvenanceCorrected marks a mapping the household explicitly corrected.
	ProvenanceCorrected Provenance = "USER_CORRECTED"
)

// Vetted reports whether a human has confirmed this provenance.
func (p Provenance) Vetted() bool {
	return p == ProvenanceApproved || p == ProvenanceCorrected
}

// Correction records a single category correction event on a mapping entry.
type Correction struct {
	Timestamp    time.Time
	FromCategory string
	ToCategory   string
	Context      string
}

// MappingEntry is a learned item-title to category association. Entries are
// never deleted, only superseded by later approvals or corrections.
type MappingEntry struct {
	LastUsed    time.Time
	Key         string
	Category    string
	Provenance  Provenance
	Corrections []Correction
	UseCount    int
	Confidence  float64
}
