package transaction

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/karanmehta/fraudlens/internal/features"
)

// PostgresStore persists transactions in PostgreSQL.
// Schema is managed by goose (see migrations/).
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed transaction store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const txnColumns = `
	id, user_id, amount, ts,
	product_category, merchant, merchant_email, sender_email,
	card_number, bin, card_network, card_tier, card_type, phone_number,
	user_region, order_region, receiver_region, distance,
	device_type, device_info,
	time_slot_e2, hour_within_slot_e3, weekday_e4, avg_interval_e5,
	amount_variance_e6, amount_ratio_e7, median_amount_e8, avg_amount_24h_e9,
	velocity_e10, timing_anomaly_e11, region_anomaly_e12, hourly_count_e13,
	days_since_last_d2, same_card_days_d3, same_address_days_d4,
	same_email_days_d10, same_device_days_d11,
	txn_count_c1, unique_merchants_c4, same_region_count_c5,
	same_device_count_c6, unique_regions_c11,
	device_match_m4, device_mismatch_m6, region_mismatch_m8, consistency_m9,
	is_fraud`

func (s *PostgresStore) ListByUser(ctx context.Context, userID int64) ([]*Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+txnColumns+`
		FROM transactions
		WHERE user_id = $1
		ORDER BY ts ASC, id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions for user %d: %w", userID, err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		result = append(result, txn)
	}
	return result, rows.Err()
}

func (s *PostgresStore) Append(ctx context.Context, txn *Transaction) error {
	v := txn.Features
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (`+txnColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		        $11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
		        $21, $22, $23, $24, $25, $26, $27, $28, $29, $30,
		        $31, $32, $33, $34, $35, $36, $37, $38, $39, $40,
		        $41, $42, $43, $44, $45, $46, $47)
	`,
		txn.ID, txn.UserID, txn.Amount, txn.Timestamp,
		txn.ProductCategory, txn.Merchant, txn.MerchantEmail, txn.SenderEmail,
		txn.CardNumber, txn.BIN, txn.CardNetwork, txn.CardTier, txn.CardType, txn.PhoneNumber,
		txn.UserRegion, txn.OrderRegion, txn.ReceiverRegion, txn.Distance,
		txn.DeviceType, txn.DeviceInfo,
		v.TimeSlotE2, v.HourWithinSlotE3, v.WeekdayE4, v.AvgIntervalE5,
		v.AmountVarianceE6, v.AmountRatioE7, v.MedianAmountE8, v.AvgAmount24hE9,
		v.VelocityE10, v.TimingAnomalyE11, v.RegionAnomalyE12, v.HourlyCountE13,
		v.DaysSinceLastD2, v.SameCardDaysD3, v.SameAddressDaysD4,
		v.SameEmailDaysD10, v.SameDeviceDaysD11,
		v.TxnCountC1, v.UniqueMerchantsC4, v.SameRegionCountC5,
		v.SameDeviceCountC6, v.UniqueRegionsC11,
		v.DeviceMatchM4, v.DeviceMismatchM6, v.RegionMismatchM8, v.ConsistencyM9,
		txn.IsFraud,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrDuplicateID
		}
		return fmt.Errorf("failed to append transaction %d: %w", txn.ID, err)
	}
	return nil
}

func (s *PostgresStore) SetFraudFlag(ctx context.Context, id int64, isFraud bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions SET is_fraud = $2 WHERE id = $1
	`, id, isFraud)
	if err != nil {
		return fmt.Errorf("failed to set fraud flag on %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete transaction %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// scanner matches both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(sc scanner) (*Transaction, error) {
	var txn Transaction
	var v features.Vector
	var isFraud sql.NullBool

	err := sc.Scan(
		&txn.ID, &txn.UserID, &txn.Amount, &txn.Timestamp,
		&txn.ProductCategory, &txn.Merchant, &txn.MerchantEmail, &txn.SenderEmail,
		&txn.CardNumber, &txn.BIN, &txn.CardNetwork, &txn.CardTier, &txn.CardType, &txn.PhoneNumber,
		&txn.UserRegion, &txn.OrderRegion, &txn.ReceiverRegion, &txn.Distance,
		&txn.DeviceType, &txn.DeviceInfo,
		&v.TimeSlotE2, &v.HourWithinSlotE3, &v.WeekdayE4, &v.AvgIntervalE5,
		&v.AmountVarianceE6, &v.AmountRatioE7, &v.MedianAmountE8, &v.AvgAmount24hE9,
		&v.VelocityE10, &v.TimingAnomalyE11, &v.RegionAnomalyE12, &v.HourlyCountE13,
		&v.DaysSinceLastD2, &v.SameCardDaysD3, &v.SameAddressDaysD4,
		&v.SameEmailDaysD10, &v.SameDeviceDaysD11,
		&v.TxnCountC1, &v.UniqueMerchantsC4, &v.SameRegionCountC5,
		&v.SameDeviceCountC6, &v.UniqueRegionsC11,
		&v.DeviceMatchM4, &v.DeviceMismatchM6, &v.RegionMismatchM8, &v.ConsistencyM9,
		&isFraud,
	)
	if err != nil {
		return nil, err
	}

	txn.Features = v
	if isFraud.Valid {
		txn.IsFraud = &isFraud.Bool
	}
	return &txn, nil
}
