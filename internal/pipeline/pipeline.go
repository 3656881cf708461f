// Package pipeline orchestrates the scoring of one transaction: history load,
// feature engineering, categorical encoding, scoring, persistence, and the
// conditional explanation.
//
// Per request the stages run in a fixed order with fail-fast error wrapping:
//
//	Received → HistoryLoaded → FeaturesComputed → Encoded → Scored →
//	Persisted → [flagged] Explained → Completed
//
// A failure in any stage after the record is appended compensates with a
// delete, so no half-scored record survives (the outcome field is either
// fully committed or the whole record is gone).
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/karanmehta/fraudlens/internal/explain"
	"github.com/karanmehta/fraudlens/internal/features"
	"github.com/karanmehta/fraudlens/internal/geo"
	"github.com/karanmehta/fraudlens/internal/metrics"
	"github.com/karanmehta/fraudlens/internal/scorer"
	"github.com/karanmehta/fraudlens/internal/syncutil"
	"github.com/karanmehta/fraudlens/internal/traces"
	"github.com/karanmehta/fraudlens/internal/transaction"
	"github.com/karanmehta/fraudlens/internal/vocab"
)

// Raw model-schema feature names that are not part of the engineered vector.
const (
	nameAmount = "TransactionAmt"
)

// categoricalFields lists the string-typed model features and how to read
// them off a transaction. Names follow the model artifact schema.
var categoricalFields = []struct {
	name  string
	value func(*transaction.Transaction) string
}{
	{"ProductCD", func(t *transaction.Transaction) string { return t.ProductCategory }},
	{"Merchant", func(t *transaction.Transaction) string { return t.Merchant }},
	{"CardNumber", func(t *transaction.Transaction) string { return t.CardNumber }},
	{"BINNumber", func(t *transaction.Transaction) string { return t.BIN }},
	{"CardNetwork", func(t *transaction.Transaction) string { return t.CardNetwork }},
	{"CardTier", func(t *transaction.Transaction) string { return t.CardTier }},
	{"CardType", func(t *transaction.Transaction) string { return t.CardType }},
	{"PhoneNumbers", func(t *transaction.Transaction) string { return t.PhoneNumber }},
	{"User_Region", func(t *transaction.Transaction) string { return t.UserRegion }},
	{"Order_Region", func(t *transaction.Transaction) string { return t.OrderRegion }},
	{"Receiver_Region", func(t *transaction.Transaction) string { return t.ReceiverRegion }},
	{"Sender_email", func(t *transaction.Transaction) string { return t.SenderEmail }},
	{"Merchant_email", func(t *transaction.Transaction) string { return t.MerchantEmail }},
	{"DeviceType", func(t *transaction.Transaction) string { return t.DeviceType }},
	{"DeviceInfo", func(t *transaction.Transaction) string { return t.DeviceInfo }},
}

// Result is the outcome of scoring one transaction.
type Result struct {
	TransactionID int64
	// Probability is the fraud probability, rounded to 5 decimal places.
	Probability float64
	// IsFraud is the persisted flag (probability above the persist threshold).
	IsFraud bool
	// Distance is the derived order→receiver distance in km.
	Distance float64
	// Explanation is the ranked contribution summary; nil unless flagged.
	Explanation []explain.Contribution
	// HistorySize is how many prior transactions fed the features.
	HistorySize int
}

// Config wires a Pipeline.
type Config struct {
	Store      transaction.Store
	Model      *scorer.Model
	Attributer explain.Attributer
	Logger     *slog.Logger

	// FlagThreshold is the persist threshold: probability strictly above it
	// sets the fraud flag (and triggers the explanation).
	FlagThreshold float64
	// ExplainCutoffPct is the cumulative percentage cutoff for the
	// explanation summary's tail collapse.
	ExplainCutoffPct float64
}

// Pipeline scores transactions. Safe for concurrent use; requests for the
// same user serialize on a per-entity mutex.
type Pipeline struct {
	store      transaction.Store
	engine     *features.Engine
	model      *scorer.Model
	attributer explain.Attributer
	locks      *syncutil.EntityMutex
	logger     *slog.Logger

	flagThreshold    float64
	explainCutoffPct float64
}

// New creates a Pipeline.
func New(cfg Config) *Pipeline {
	return &Pipeline{
		store:            cfg.Store,
		engine:           features.NewEngine(),
		model:            cfg.Model,
		attributer:       cfg.Attributer,
		locks:            syncutil.NewEntityMutex(),
		logger:           cfg.Logger,
		flagThreshold:    cfg.FlagThreshold,
		explainCutoffPct: cfg.ExplainCutoffPct,
	}
}

// Process scores one transaction end to end and persists it. The input is
// mutated: Distance, Features, and IsFraud are filled in before Append.
//
// The per-user lock is held from the history read through the append, so two
// concurrent requests for one user each see the other's write or none, never
// a torn snapshot.
func (p *Pipeline) Process(ctx context.Context, txn *transaction.Transaction) (*Result, error) {
	start := time.Now()
	ctx, span := traces.StartSpan(ctx, "pipeline.process",
		traces.TxnID(txn.ID), traces.UserID(txn.UserID))
	defer span.End()
	defer func() { metrics.PipelineDuration.Observe(time.Since(start).Seconds()) }()

	unlock, err := p.locks.Lock(ctx, fmt.Sprintf("user:%d", txn.UserID))
	if err != nil {
		return nil, p.fail("lock", fmt.Errorf("acquiring entity lock: %w", err))
	}
	defer unlock()

	history, err := p.loadHistory(ctx, txn.UserID)
	if err != nil {
		return nil, p.fail("load_history", err)
	}
	span.SetAttributes(traces.HistorySize(len(history)))
	metrics.HistoryWindowSize.Observe(float64(len(history)))

	// Enrichment + feature engineering. Distance is derived before the
	// vector so it rides along into persistence.
	txn.Distance = geo.Distance(txn.OrderRegion, txn.ReceiverRegion, txn.ID)
	txn.Features = p.computeFeatures(ctx, history, txn)

	row := p.encode(ctx, history, txn)

	probability, err := p.score(ctx, row)
	if err != nil {
		return nil, p.fail("score", err)
	}
	flagged := probability > p.flagThreshold
	span.SetAttributes(traces.Probability(probability), traces.Flagged(flagged))

	if err := p.persist(ctx, txn, flagged); err != nil {
		return nil, err // persist already classified the failure
	}

	result := &Result{
		TransactionID: txn.ID,
		Probability:   round5(probability),
		IsFraud:       flagged,
		Distance:      txn.Distance,
		HistorySize:   len(history),
	}

	if flagged {
		explanation, err := p.explain(ctx, row)
		if err != nil {
			// The record is in; roll it back so no flagged transaction
			// exists without its explanation having been produced.
			p.rollback(ctx, txn.ID)
			return nil, p.fail("explain", err)
		}
		result.Explanation = explanation
	}

	outcome := "clean"
	if flagged {
		outcome = "flagged"
	}
	metrics.TransactionsScoredTotal.WithLabelValues(outcome).Inc()

	p.logger.InfoContext(ctx, "transaction scored",
		"txn_id", txn.ID,
		"user_id", txn.UserID,
		"probability", result.Probability,
		"is_fraud", flagged,
		"history_size", len(history),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

func (p *Pipeline) loadHistory(ctx context.Context, userID int64) ([]*transaction.Transaction, error) {
	ctx, span := traces.StartSpan(ctx, "pipeline.load_history")
	defer span.End()

	history, err := p.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading history for user %d: %w", userID, err)
	}
	return history, nil
}

func (p *Pipeline) computeFeatures(ctx context.Context, history []*transaction.Transaction, txn *transaction.Transaction) features.Vector {
	_, span := traces.StartSpan(ctx, "pipeline.compute_features")
	defer span.End()

	window := make([]features.Txn, len(history))
	for i, h := range history {
		window[i] = toFeatureTxn(h)
	}
	return p.engine.Compute(window, toFeatureTxn(txn))
}

// encode fits the categorical vocabulary over history + current and builds
// the model row: engineered features, raw numerics, and encoded categoricals.
func (p *Pipeline) encode(ctx context.Context, history []*transaction.Transaction, txn *transaction.Transaction) map[string]float64 {
	_, span := traces.StartSpan(ctx, "pipeline.encode")
	defer span.End()

	enc := vocab.NewEncoder()
	row := txn.Features.Values()
	row[nameAmount] = txn.Amount
	row[features.NameDistance] = txn.Distance

	for _, field := range categoricalFields {
		values := make([]string, 0, len(history)+1)
		seen := make(map[string]bool, len(history))
		for _, h := range history {
			v := vocab.Normalize(field.value(h))
			values = append(values, v)
			seen[v] = true
		}
		current := vocab.Normalize(field.value(txn))
		values = append(values, current)

		if len(history) > 0 && !seen[current] {
			metrics.UnseenCategoriesTotal.WithLabelValues(field.name).Inc()
		}

		enc.Fit(field.name, values)
		row[field.name] = float64(enc.Transform(field.name, current))
	}
	return row
}

func (p *Pipeline) score(ctx context.Context, row map[string]float64) (float64, error) {
	_, span := traces.StartSpan(ctx, "pipeline.score")
	defer span.End()

	probability, err := p.model.PredictProba(row)
	if err != nil {
		return 0, fmt.Errorf("scoring: %w", err)
	}
	return probability, nil
}

// persist appends the scored record and commits the flag as a second write.
// A flag-write failure deletes the appended row so the store never holds a
// record without its outcome.
func (p *Pipeline) persist(ctx context.Context, txn *transaction.Transaction, flagged bool) error {
	ctx, span := traces.StartSpan(ctx, "pipeline.persist")
	defer span.End()

	if err := p.store.Append(ctx, txn); err != nil {
		if errors.Is(err, transaction.ErrDuplicateID) {
			return p.fail("append", fmt.Errorf("transaction %d: %w", txn.ID, err))
		}
		return p.fail("append", fmt.Errorf("appending transaction %d: %w", txn.ID, err))
	}

	if err := p.store.SetFraudFlag(ctx, txn.ID, flagged); err != nil {
		p.rollback(ctx, txn.ID)
		return p.fail("set_flag", fmt.Errorf("committing flag on %d: %w", txn.ID, err))
	}
	txn.IsFraud = &flagged
	return nil
}

func (p *Pipeline) explain(ctx context.Context, row map[string]float64) ([]explain.Contribution, error) {
	_, span := traces.StartSpan(ctx, "pipeline.explain")
	defer span.End()

	attrs, err := p.attributer.Attribute(row)
	if err != nil {
		return nil, fmt.Errorf("attributing score: %w", err)
	}
	metrics.ExplanationsTotal.Inc()
	return explain.Summarize(attrs, p.explainCutoffPct), nil
}

// rollback removes a partially committed record. Best effort: a rollback
// failure is logged and the original error still wins.
func (p *Pipeline) rollback(ctx context.Context, id int64) {
	if err := p.store.Delete(ctx, id); err != nil && !errors.Is(err, transaction.ErrNotFound) {
		metrics.PipelineFailuresTotal.WithLabelValues("rollback").Inc()
		p.logger.ErrorContext(ctx, "rollback failed, record may be orphaned",
			"txn_id", id, "error", err)
	}
}

func (p *Pipeline) fail(stage string, err error) error {
	metrics.PipelineFailuresTotal.WithLabelValues(stage).Inc()
	return fmt.Errorf("%s: %w", stage, err)
}

func toFeatureTxn(t *transaction.Transaction) features.Txn {
	return features.Txn{
		ID:            t.ID,
		Amount:        t.Amount,
		Timestamp:     t.Timestamp,
		Merchant:      t.Merchant,
		CardNumber:    t.CardNumber,
		MerchantEmail: t.MerchantEmail,
		UserRegion:    t.UserRegion,
		OrderRegion:   t.OrderRegion,
		DeviceType:    t.DeviceType,
	}
}

func round5(f float64) float64 {
	return math.Round(f*100000) / 100000
}
