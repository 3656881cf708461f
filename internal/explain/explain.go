// Package explain computes per-feature attributions for a single scored
// transaction and compresses them into a ranked, human-consumable summary.
//
// Attribution techniques are model-family specific, so the computation is
// abstracted behind the Attributer capability; Summarize is generic over any
// attributer's output.
package explain

import (
	"fmt"
	"math"
	"sort"
)

// OthersFeature is the synthetic entry absorbing the long tail of
// low-contribution features.
const OthersFeature = "Others"

// Attribution is one feature's signed contribution to the score.
type Attribution struct {
	Feature string
	Value   float64
}

// Contribution is one entry of the ranked summary. Percentages are
// non-negative and the full list sums to 100.
type Contribution struct {
	Feature    string  `json:"Feature"`
	Percentage float64 `json:"Percentage Contribution"`
}

// Attributer computes signed per-feature attributions of a scorer's output
// for one feature row. Implementations are scorer-family specific.
type Attributer interface {
	Attribute(row map[string]float64) ([]Attribution, error)
}

// linearModel is the scorer surface the linear attributer needs.
type linearModel interface {
	FeatureNames() []string
	Weight(name string) float64
	BaselineValue(name string) float64
}

// Linear attributes a logistic/linear scorer's output as wᵢ·(xᵢ−baselineᵢ):
// each feature's logit displacement from the training-set reference point.
type Linear struct {
	model linearModel
}

// NewLinear creates the attributer for a linear-family scorer.
func NewLinear(model linearModel) *Linear {
	return &Linear{model: model}
}

// Attribute implements Attributer. Attributions follow the model's feature
// order; non-finite inputs contribute 0.
func (l *Linear) Attribute(row map[string]float64) ([]Attribution, error) {
	names := l.model.FeatureNames()
	if len(names) == 0 {
		return nil, fmt.Errorf("attribute: model has no feature schema")
	}

	attrs := make([]Attribution, 0, len(names))
	for _, name := range names {
		x := row[name]
		if math.IsNaN(x) || math.IsInf(x, 0) {
			x = 0
		}
		attrs = append(attrs, Attribution{
			Feature: name,
			Value:   l.model.Weight(name) * (x - l.model.BaselineValue(name)),
		})
	}
	return attrs, nil
}

// Summarize turns signed attributions into the ranked percentage summary:
// absolute values normalized to sum to 100, sorted descending (stable, so
// ties keep attribution order), individual entries kept while the cumulative
// sum stays within cutoffPct, and the remaining tail collapsed into a single
// "Others" entry sized so the total is exactly 100.
func Summarize(attrs []Attribution, cutoffPct float64) []Contribution {
	total := 0.0
	for _, a := range attrs {
		total += math.Abs(a.Value)
	}
	if total == 0 {
		// Degenerate: nothing moved the score away from baseline.
		return []Contribution{{Feature: OthersFeature, Percentage: 100}}
	}

	contribs := make([]Contribution, 0, len(attrs))
	for _, a := range attrs {
		contribs = append(contribs, Contribution{
			Feature:    a.Feature,
			Percentage: round2(math.Abs(a.Value) / total * 100),
		})
	}
	sort.SliceStable(contribs, func(i, j int) bool {
		return contribs[i].Percentage > contribs[j].Percentage
	})

	var kept []Contribution
	cum := 0.0
	for _, c := range contribs {
		if cum+c.Percentage > cutoffPct {
			// Tail (including this entry) folds into Others, sized to make
			// the total exactly 100.
			kept = append(kept, Contribution{
				Feature:    OthersFeature,
				Percentage: round2(100 - cum),
			})
			return kept
		}
		cum += c.Percentage
		kept = append(kept, c)
	}
	return kept
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
