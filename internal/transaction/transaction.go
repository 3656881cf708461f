// Package transaction defines the durable payment-transaction record and the
// read/append contract the scoring pipeline consumes.
//
// The store owns the durable record; the pipeline owns the derived features
// for the lifetime of one request. ListByUser is the history-loader contract:
// previously persisted transactions for one user, timestamp ascending, never
// including the request currently in flight.
package transaction

import (
	"context"
	"errors"
	"time"

	"github.com/karanmehta/fraudlens/internal/features"
)

// Store errors.
var (
	// ErrNotFound is returned when a transaction id does not exist.
	ErrNotFound = errors.New("transaction not found")
	// ErrDuplicateID is returned when appending a transaction whose id
	// already exists. Transaction ids are assigned monotonically by the
	// caller and must be unique.
	ErrDuplicateID = errors.New("duplicate transaction id")
)

// Transaction is one payment event plus, once scored, its derived features
// and outcome.
type Transaction struct {
	// Identity
	ID     int64
	UserID int64

	// Monetary
	Amount float64

	// Temporal
	Timestamp time.Time

	// Counterparty
	ProductCategory string
	Merchant        string
	MerchantEmail   string
	SenderEmail     string

	// Instrument
	CardNumber  string
	BIN         string
	CardNetwork string
	CardTier    string
	CardType    string
	PhoneNumber string

	// Geography
	UserRegion     string
	OrderRegion    string
	ReceiverRegion string
	Distance       float64

	// Device
	DeviceType string
	DeviceInfo string

	// Derived features, populated by the pipeline before Append.
	Features features.Vector

	// Outcome. Nil until the pipeline persists a decision.
	IsFraud *bool
}

// Store is the persistence contract for transactions.
//
// Append and SetFraudFlag are two steps of one logical write; a failure
// between them must be compensated with Delete so no record is ever left
// half-scored.
type Store interface {
	// ListByUser returns all persisted transactions for a user, ordered by
	// timestamp ascending. An empty result is a valid cold start, not an
	// error.
	ListByUser(ctx context.Context, userID int64) ([]*Transaction, error)

	// Append persists a new transaction. Returns ErrDuplicateID if the id
	// already exists.
	Append(ctx context.Context, txn *Transaction) error

	// SetFraudFlag persists the binary decision onto an existing record.
	SetFraudFlag(ctx context.Context, id int64, isFraud bool) error

	// Delete removes a transaction by id. Used to roll back a partial write.
	Delete(ctx context.Context, id int64) error
}
