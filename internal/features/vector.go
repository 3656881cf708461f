// Package features computes behavioral risk features for one transaction
// against the entity's transaction history.
//
// Four groups are produced: E (temporal/velocity), D (recency day-gaps),
// C (cardinality counts), M (consistency flags). Feature semantics are
// locked to the trained model's schema, so the series names and numbering
// are part of the serving contract and must not be renamed.
package features

import "math"

// Canonical feature names, matching the model artifact schema.
const (
	NameTimeSlotE2        = "TransactionTimeSlot_E2"
	NameHourWithinSlotE3  = "HourWithinSlot_E3"
	NameWeekdayE4         = "TransactionWeekday_E4"
	NameAvgIntervalE5     = "AvgTransactionInterval_E5"
	NameAmountVarianceE6  = "TransactionAmountVariance_E6"
	NameAmountRatioE7     = "TransactionRatio_E7"
	NameMedianAmountE8    = "MedianTransactionAmount_E8"
	NameAvgAmount24hE9    = "AvgTransactionAmt_24Hrs_E9"
	NameVelocityE10       = "TransactionVelocity_E10"
	NameTimingAnomalyE11  = "TimingAnomaly_E11"
	NameRegionAnomalyE12  = "RegionAnomaly_E12"
	NameHourlyCountE13    = "HourlyTransactionCount_E13"
	NameDaysSinceLastD2   = "DaysSinceLastTransac_D2"
	NameSameCardDaysD3    = "SameCardDaysDiff_D3"
	NameSameAddressDaysD4 = "SameAddressDaysDiff_D4"
	NameSameEmailDaysD10  = "SameReceiverEmailDaysDiff_D10"
	NameSameDeviceDaysD11 = "SameDeviceTypeDaysDiff_D11"
	NameTxnCountC1        = "TransactionCount_C1"
	NameUniqueMerchantsC4 = "UniqueMerchants_C4"
	NameSameRegionCountC5 = "SameBRegionCount_C5"
	NameSameDeviceCountC6 = "SameDeviceCount_C6"
	NameUniqueRegionsC11  = "UniqueBRegion_C11"
	NameDeviceMatchM4     = "DeviceMatching_M4"
	NameDeviceMismatchM6  = "DeviceMismatch_M6"
	NameRegionMismatchM8  = "RegionMismatch_M8"
	NameConsistencyM9     = "TransactionConsistency_M9"
	NameDistance          = "Distance"
)

// Vector is the full set of derived numeric features for one transaction.
// Immutable once built; every field is finite (the builder replaces
// NaN/Inf/undefined with 0 in a single finalization pass).
type Vector struct {
	// E series: temporal and velocity
	TimeSlotE2       int
	HourWithinSlotE3 int
	WeekdayE4        int
	AvgIntervalE5    float64 // hours since the user's previous transaction
	AmountVarianceE6 float64 // sample stddev of the user's amounts
	AmountRatioE7    float64 // amount / user mean amount
	MedianAmountE8   float64
	AvgAmount24hE9   float64
	VelocityE10      int // transactions in the user's trailing 24h window
	TimingAnomalyE11 int // 1 = slot offset never seen before for this user
	RegionAnomalyE12 int // 1 = order region never seen before for this user
	HourlyCountE13   int

	// D series: day gaps to the previous transaction sharing a key
	DaysSinceLastD2   float64
	SameCardDaysD3    float64
	SameAddressDaysD4 float64
	SameEmailDaysD10  float64
	SameDeviceDaysD11 float64

	// C series: cardinality counts
	TxnCountC1        int
	UniqueMerchantsC4 int
	SameRegionCountC5 int
	SameDeviceCountC6 int
	UniqueRegionsC11  int

	// M series: consistency flags
	DeviceMatchM4    int
	DeviceMismatchM6 int
	RegionMismatchM8 int
	ConsistencyM9    int // 0..4
}

// Values returns the vector as a name → value map in model-schema naming.
func (v Vector) Values() map[string]float64 {
	return map[string]float64{
		NameTimeSlotE2:        float64(v.TimeSlotE2),
		NameHourWithinSlotE3:  float64(v.HourWithinSlotE3),
		NameWeekdayE4:         float64(v.WeekdayE4),
		NameAvgIntervalE5:     v.AvgIntervalE5,
		NameAmountVarianceE6:  v.AmountVarianceE6,
		NameAmountRatioE7:     v.AmountRatioE7,
		NameMedianAmountE8:    v.MedianAmountE8,
		NameAvgAmount24hE9:    v.AvgAmount24hE9,
		NameVelocityE10:       float64(v.VelocityE10),
		NameTimingAnomalyE11:  float64(v.TimingAnomalyE11),
		NameRegionAnomalyE12:  float64(v.RegionAnomalyE12),
		NameHourlyCountE13:    float64(v.HourlyCountE13),
		NameDaysSinceLastD2:   v.DaysSinceLastD2,
		NameSameCardDaysD3:    v.SameCardDaysD3,
		NameSameAddressDaysD4: v.SameAddressDaysD4,
		NameSameEmailDaysD10:  v.SameEmailDaysD10,
		NameSameDeviceDaysD11: v.SameDeviceDaysD11,
		NameTxnCountC1:        float64(v.TxnCountC1),
		NameUniqueMerchantsC4: float64(v.UniqueMerchantsC4),
		NameSameRegionCountC5: float64(v.SameRegionCountC5),
		NameSameDeviceCountC6: float64(v.SameDeviceCountC6),
		NameUniqueRegionsC11:  float64(v.UniqueRegionsC11),
		NameDeviceMatchM4:     float64(v.DeviceMatchM4),
		NameDeviceMismatchM6:  float64(v.DeviceMismatchM6),
		NameRegionMismatchM8:  float64(v.RegionMismatchM8),
		NameConsistencyM9:     float64(v.ConsistencyM9),
	}
}

// finite replaces an undefined (nil) or non-finite value with 0.
// This is the single normalization pass applied at vector finalization;
// individual feature computations return nil rather than special-casing
// division by zero or empty groups inline.
func finite(v *float64) float64 {
	if v == nil {
		return 0
	}
	if math.IsNaN(*v) || math.IsInf(*v, 0) {
		return 0
	}
	return *v
}

func ptr(f float64) *float64 { return &f }
