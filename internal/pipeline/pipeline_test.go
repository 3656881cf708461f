package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/karanmehta/fraudlens/internal/explain"
	"github.com/karanmehta/fraudlens/internal/scorer"
	"github.com/karanmehta/fraudlens/internal/transaction"
)

// testArtifact is a small logistic model where the amount dominates the
// logit: ~10 is clean, ~1000 is well past the persist threshold.
const testArtifact = `{
	"version": "test-1",
	"features": ["TransactionAmt", "TransactionCount_C1", "DeviceMismatch_M6", "Distance"],
	"weights": {"TransactionAmt": 0.01, "TransactionCount_C1": 0.005, "DeviceMismatch_M6": 0.2, "Distance": 0.001},
	"bias": -6,
	"baseline": {"TransactionAmt": 100}
}`

func testModel(t *testing.T) *scorer.Model {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.json")
	if err := os.WriteFile(path, []byte(testArtifact), 0o600); err != nil {
		t.Fatal(err)
	}
	model, err := scorer.Load(path)
	if err != nil {
		t.Fatalf("load test model: %v", err)
	}
	return model
}

func testPipeline(t *testing.T, store transaction.Store) *Pipeline {
	t.Helper()
	model := testModel(t)
	return New(Config{
		Store:            store,
		Model:            model,
		Attributer:       explain.NewLinear(model),
		Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		FlagThreshold:    0.01,
		ExplainCutoffPct: 90,
	})
}

func makeTxn(id, userID int64, amount float64, ts time.Time) *transaction.Transaction {
	return &transaction.Transaction{
		ID:             id,
		UserID:         userID,
		Amount:         amount,
		Timestamp:      ts,
		Merchant:       "Amazon",
		CardNumber:     "4111111111111111",
		UserRegion:     "Koramangala",
		OrderRegion:    "Koramangala",
		ReceiverRegion: "Whitefield",
		DeviceType:     "Android",
	}
}

func TestProcess_CleanTransaction(t *testing.T) {
	store := transaction.NewMemoryStore()
	p := testPipeline(t, store)
	ctx := context.Background()

	txn := makeTxn(1, 7, 10, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	result, err := p.Process(ctx, txn)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if result.IsFraud {
		t.Errorf("small amount flagged: p=%v", result.Probability)
	}
	if result.Explanation != nil {
		t.Errorf("clean transaction got an explanation: %v", result.Explanation)
	}
	if result.Probability < 0 || result.Probability > 1 {
		t.Errorf("probability = %v, want [0,1]", result.Probability)
	}
	if result.HistorySize != 0 {
		t.Errorf("HistorySize = %d, want 0 on cold start", result.HistorySize)
	}

	// The decision must be committed, not left pending.
	stored, err := store.ListByUser(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 {
		t.Fatalf("stored = %d, want 1", len(stored))
	}
	if stored[0].IsFraud == nil || *stored[0].IsFraud {
		t.Errorf("persisted IsFraud = %v, want false", stored[0].IsFraud)
	}
}

func TestProcess_FlaggedTransactionGetsExplanation(t *testing.T) {
	store := transaction.NewMemoryStore()
	p := testPipeline(t, store)
	ctx := context.Background()

	result, err := p.Process(ctx, makeTxn(1, 7, 1000, time.Now()))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if !result.IsFraud {
		t.Fatalf("large amount not flagged: p=%v", result.Probability)
	}
	if len(result.Explanation) == 0 {
		t.Fatal("flagged transaction has no explanation")
	}
	sum := 0.0
	for _, c := range result.Explanation {
		sum += c.Percentage
	}
	if math.Abs(sum-100) > 0.05 {
		t.Errorf("explanation percentages sum to %v, want 100", sum)
	}

	stored, _ := store.ListByUser(ctx, 7)
	if stored[0].IsFraud == nil || !*stored[0].IsFraud {
		t.Errorf("persisted IsFraud = %v, want true", stored[0].IsFraud)
	}
}

func TestProcess_ProbabilityRounded(t *testing.T) {
	store := transaction.NewMemoryStore()
	p := testPipeline(t, store)

	result, err := p.Process(context.Background(), makeTxn(1, 7, 437, time.Now()))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	rounded := math.Round(result.Probability*100000) / 100000
	if result.Probability != rounded {
		t.Errorf("probability %v carries more than 5 decimal places", result.Probability)
	}
}

func TestProcess_DuplicateID(t *testing.T) {
	store := transaction.NewMemoryStore()
	p := testPipeline(t, store)
	ctx := context.Background()

	if _, err := p.Process(ctx, makeTxn(1, 7, 10, time.Now())); err != nil {
		t.Fatalf("first Process: %v", err)
	}
	_, err := p.Process(ctx, makeTxn(1, 7, 10, time.Now()))
	if !errors.Is(err, transaction.ErrDuplicateID) {
		t.Errorf("second Process err = %v, want ErrDuplicateID", err)
	}
	if store.Len() != 1 {
		t.Errorf("store has %d records, want 1", store.Len())
	}
}

// failFlagStore fails the flag commit so the append must be rolled back.
type failFlagStore struct {
	transaction.Store
}

func (s *failFlagStore) SetFraudFlag(ctx context.Context, id int64, isFraud bool) error {
	return fmt.Errorf("flag write refused")
}

func TestProcess_RollbackOnFlagFailure(t *testing.T) {
	mem := transaction.NewMemoryStore()
	p := testPipeline(t, &failFlagStore{Store: mem})

	_, err := p.Process(context.Background(), makeTxn(1, 7, 10, time.Now()))
	if err == nil {
		t.Fatal("expected error when flag commit fails")
	}
	if mem.Len() != 0 {
		t.Errorf("store has %d records after failed commit, want 0 (rolled back)", mem.Len())
	}
}

// failingAttributer fails every attribution to exercise the explain-stage
// rollback.
type failingAttributer struct{}

func (failingAttributer) Attribute(row map[string]float64) ([]explain.Attribution, error) {
	return nil, fmt.Errorf("attribution unavailable")
}

func TestProcess_RollbackOnExplainFailure(t *testing.T) {
	store := transaction.NewMemoryStore()
	model := testModel(t)
	p := New(Config{
		Store:            store,
		Model:            model,
		Attributer:       failingAttributer{},
		Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		FlagThreshold:    0.01,
		ExplainCutoffPct: 90,
	})

	// Large amount → flagged → explanation required → must roll back.
	_, err := p.Process(context.Background(), makeTxn(1, 7, 1000, time.Now()))
	if err == nil {
		t.Fatal("expected error when explanation fails")
	}
	if store.Len() != 0 {
		t.Errorf("store has %d records after failed explanation, want 0", store.Len())
	}
}

func TestProcess_ConcurrentSameUserSerializes(t *testing.T) {
	store := transaction.NewMemoryStore()
	p := testPipeline(t, store)
	ctx := context.Background()

	const n = 16
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			txn := makeTxn(int64(100+i), 7, 50, base.Add(time.Duration(i)*time.Minute))
			if _, err := p.Process(ctx, txn); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent Process: %v", err)
	}

	stored, err := store.ListByUser(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != n {
		t.Fatalf("stored = %d, want %d", len(stored), n)
	}

	// All share card + region, so whichever request ran last saw every other
	// write: the per-user lock makes the max count exactly n.
	maxCount := 0
	for _, s := range stored {
		if s.Features.TxnCountC1 > maxCount {
			maxCount = s.Features.TxnCountC1
		}
	}
	if maxCount != n {
		t.Errorf("max TxnCountC1 = %d, want %d (lost update under concurrency)", maxCount, n)
	}
}

func TestProcess_HistoryFeedsFeatures(t *testing.T) {
	store := transaction.NewMemoryStore()
	p := testPipeline(t, store)
	ctx := context.Background()

	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		txn := makeTxn(int64(i+1), 7, 100, base.Add(time.Duration(i)*time.Hour))
		if _, err := p.Process(ctx, txn); err != nil {
			t.Fatalf("Process %d: %v", i, err)
		}
	}

	result, err := p.Process(ctx, makeTxn(10, 7, 100, base.Add(4*time.Hour)))
	if err != nil {
		t.Fatal(err)
	}
	if result.HistorySize != 3 {
		t.Errorf("HistorySize = %d, want 3", result.HistorySize)
	}

	stored, _ := store.ListByUser(ctx, 7)
	last := stored[len(stored)-1]
	if last.Features.TxnCountC1 != 4 {
		t.Errorf("TxnCountC1 = %d, want 4 (history + current)", last.Features.TxnCountC1)
	}
	if last.Features.AvgIntervalE5 != 2 {
		t.Errorf("AvgIntervalE5 = %v, want 2 hours since previous", last.Features.AvgIntervalE5)
	}
}

func TestProcess_DistanceDerived(t *testing.T) {
	store := transaction.NewMemoryStore()
	p := testPipeline(t, store)

	result, err := p.Process(context.Background(), makeTxn(1, 7, 10, time.Now()))
	if err != nil {
		t.Fatal(err)
	}
	// Koramangala → Whitefield is a real cross-town distance.
	if result.Distance <= 0 {
		t.Errorf("Distance = %v, want > 0", result.Distance)
	}
}
