// Package vocab reconciles categorical string fields with the integer
// encoding the scorer expects.
//
// An Encoder is fitted per request over the union of the historical window's
// values and the live transaction's values, with null-ish values normalized
// to a sentinel "Unknown" category first. Classes are assigned integers in
// lexicographic order, so a value maps to the same integer whether it was
// seen in history or in the live transaction.
//
// Note: refitting per request rather than shipping a fixed, versioned
// vocabulary aligned with the scorer's training-time encoding risks
// encoding drift between training and serving. That behavior is kept
// deliberately; first-seen values are surfaced through the
// unseen_categories_total metric rather than silently remapped.
package vocab

import "sort"

// Unknown is the sentinel category for null or missing values.
const Unknown = "Unknown"

// Encoder maps categorical values of one or more fields to integers.
type Encoder struct {
	classes map[string]map[string]int // field → value → code
}

// NewEncoder creates an empty encoder; call Fit per field before Transform.
func NewEncoder() *Encoder {
	return &Encoder{classes: make(map[string]map[string]int)}
}

// Normalize maps null-ish categorical values to the Unknown sentinel.
func Normalize(v string) string {
	if v == "" || v == "None" || v == "nil" {
		return Unknown
	}
	return v
}

// Fit assigns integer codes for a field over the given values
// (historical + live, in any order). Values are normalized, deduplicated
// and sorted before assignment, so the mapping is independent of where or
// how often a value occurred.
func (e *Encoder) Fit(field string, values []string) {
	uniq := make(map[string]bool, len(values))
	for _, v := range values {
		uniq[Normalize(v)] = true
	}

	sorted := make([]string, 0, len(uniq))
	for v := range uniq {
		sorted = append(sorted, v)
	}
	sort.Strings(sorted)

	codes := make(map[string]int, len(sorted))
	for i, v := range sorted {
		codes[v] = i
	}
	e.classes[field] = codes
}

// Transform returns the integer code for a field's value. The value must
// have been included in Fit; values outside the fitted vocabulary map to
// the Unknown code when present, else 0.
func (e *Encoder) Transform(field, value string) int {
	codes, ok := e.classes[field]
	if !ok {
		return 0
	}
	if code, ok := codes[Normalize(value)]; ok {
		return code
	}
	if code, ok := codes[Unknown]; ok {
		return code
	}
	return 0
}

// Classes returns the fitted vocabulary size for a field.
func (e *Encoder) Classes(field string) int {
	return len(e.classes[field])
}
