// Package scorer loads the pretrained fraud classifier and produces a fraud
// probability for a projected feature row.
//
// The model is an immutable artifact loaded once at process start and
// injected into the pipeline; it is never reloaded per request. The artifact
// carries its own ordered feature schema, and the scorer owns the projection
// of a computed feature row onto that schema (missing features fill with a
// neutral 0).
package scorer

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
)

var (
	// ErrScorerUnavailable means the model artifact could not be loaded.
	// Fatal for the process at startup; no retry.
	ErrScorerUnavailable = errors.New("scorer unavailable")
	// ErrSchemaMismatch means the artifact's feature schema is missing or
	// inconsistent with its weights. Fatal for the request.
	ErrSchemaMismatch = errors.New("scorer schema mismatch")
)

// artifact is the on-disk model format: a calibrated logistic model over the
// engineered feature schema, exported at training time.
type artifact struct {
	Version  string             `json:"version"`
	Features []string           `json:"features"` // ordered, the serving schema
	Weights  map[string]float64 `json:"weights"`
	Bias     float64            `json:"bias"`
	// Baseline is the training-set mean per feature, used by the linear
	// attribution explainer as the reference point.
	Baseline map[string]float64 `json:"baseline"`
}

// Model is the loaded, immutable classifier.
type Model struct {
	version  string
	features []string
	weights  []float64 // aligned with features
	bias     float64
	baseline []float64 // aligned with features
}

// Load reads and validates a model artifact. Call once at startup; the
// returned Model is safe for concurrent use and has no teardown.
func Load(path string) (*Model, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrScorerUnavailable, path, err)
	}

	var a artifact
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrScorerUnavailable, path, err)
	}

	if len(a.Features) == 0 {
		return nil, fmt.Errorf("%w: artifact has no feature schema", ErrSchemaMismatch)
	}

	m := &Model{
		version:  a.Version,
		features: a.Features,
		weights:  make([]float64, len(a.Features)),
		baseline: make([]float64, len(a.Features)),
		bias:     a.Bias,
	}
	for i, name := range a.Features {
		w, ok := a.Weights[name]
		if !ok {
			return nil, fmt.Errorf("%w: feature %q has no weight", ErrSchemaMismatch, name)
		}
		m.weights[i] = w
		m.baseline[i] = a.Baseline[name] // absent baseline defaults to 0
	}
	return m, nil
}

// Version returns the artifact version string.
func (m *Model) Version() string { return m.version }

// FeatureNames returns the model's expected feature schema, in order.
// Callers must not mutate the returned slice.
func (m *Model) FeatureNames() []string { return m.features }

// PredictProba returns the fraud probability in [0,1] for a feature row.
// The row is projected onto the model schema: features absent from the row
// contribute a neutral 0, and non-finite inputs are normalized to 0 before
// the dot product.
func (m *Model) PredictProba(row map[string]float64) (float64, error) {
	if len(m.features) == 0 {
		return 0, ErrSchemaMismatch
	}

	z := m.bias
	for i, name := range m.features {
		x := row[name]
		if math.IsNaN(x) || math.IsInf(x, 0) {
			x = 0
		}
		z += m.weights[i] * x
	}

	p := sigmoid(z)
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return 0, fmt.Errorf("%w: non-finite probability", ErrSchemaMismatch)
	}
	return p, nil
}

// Weight returns the coefficient for a feature name (0 if not in schema).
func (m *Model) Weight(name string) float64 {
	for i, f := range m.features {
		if f == name {
			return m.weights[i]
		}
	}
	return 0
}

// BaselineValue returns the training-set mean for a feature (0 if absent).
func (m *Model) BaselineValue(name string) float64 {
	for i, f := range m.features {
		if f == name {
			return m.baseline[i]
		}
	}
	return 0
}

// sigmoid with clamping to keep the exp finite at extreme logits.
func sigmoid(z float64) float64 {
	if z > 40 {
		return 1
	}
	if z < -40 {
		return 0
	}
	return 1 / (1 + math.Exp(-z))
}
