package model

import (
	"fmt"
	"sort"
	"strings"
)

// ValidationReason explains why a raw record was rejected.
type ValidationReason string

const (
	ReasonMissingRequiredField ValidationReason = "missing_required_field"
	ReasonOutOfScope           ValidationReason = "out_of_scope"
	ReasonMalformedRecord      ValidationReason = "malformed_record"
)

// ValidationError rejects a single raw record. The record is dropped and the
// run continues.
type ValidationError struct {
	Source   Source
	SourceID string
	Reason   ValidationReason
	Field    string
}

func (e *ValidationError) Error() string {
	id := e.SourceID
	if id == "" {
		id = "<unknown>"
	}
	if e.Field != "" {
		return fmt.Sprintf("%s record %s rejected: %s (%s)", e.Source, id, e.Reason, e.Field)
	}
	return fmt.Sprintf("%s record %s rejected: %s", e.Source, id, e.Reason)
}

// MatchAmbiguityWarning reports a record that fit more than one group, or a
// join refused because both sides already held the same source.
type MatchAmbiguityWarning struct {
	RecordKey  string
	Candidates []string
	Chosen     string
	Similarity float64
	Reason     string
}

func (w *MatchAmbiguityWarning) Error() string {
	return fmt.Sprintf("ambiguous match for %s: %s (candidates %s, chose %q at %.3f)",
		w.RecordKey, w.Reason, strings.Join(w.Candidates, ","), w.Chosen, w.Similarity)
}

// MergeConflict reports sources disagreeing on an identity-critical field.
type MergeConflict struct {
	LeadUID string
	Field   string
	Values  map[Source]string
	Winner  Source
}

func (c *MergeConflict) Error() string {
	keys := make([]string, 0, len(c.Values))
	for src, v := range c.Values {
		keys = append(keys, fmt.Sprintf("%s=%s", src, v))
	}
	sort.Strings(keys)
	return fmt.Sprintf("merge conflict on %s for lead %s: %s (winner %s)",
		c.Field, c.LeadUID, strings.Join(keys, " "), c.Winner)
}

// EnrichmentUnavailable wraps an enrichment collaborator failure. Fields the
// adapter owns are left as they were.
type EnrichmentUnavailable struct {
	LeadUID string
	Adapter string
	Err     error
}

func (e *EnrichmentUnavailable) Error() string {
	return fmt.Sprintf("enrichment %s unavailable for lead %s: %v", e.Adapter, e.LeadUID, e.Err)
}

func (e *EnrichmentUnavailable) Unwrap() error { return e.Err }
