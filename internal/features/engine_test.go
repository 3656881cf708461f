package features

import (
	"math"
	"testing"
	"time"
)

func ts(s string) time.Time {
	t, err := time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		panic(err)
	}
	return t
}

func baseTxn(id int64, amount float64, at time.Time) Txn {
	return Txn{
		ID:            id,
		Amount:        amount,
		Timestamp:     at,
		Merchant:      "Amazon",
		CardNumber:    "4111111111111111",
		MerchantEmail: "pay@amazon.in",
		UserRegion:    "Koramangala",
		OrderRegion:   "Koramangala",
		DeviceType:    "mobile",
	}
}

func TestColdStartAllDefaultsZero(t *testing.T) {
	e := NewEngine()
	v := e.Compute(nil, baseTxn(1, 250, ts("2024-03-14 11:30:00")))

	if v.AvgIntervalE5 != 0 {
		t.Errorf("AvgIntervalE5 = %v, want 0 on empty history", v.AvgIntervalE5)
	}
	if v.AmountVarianceE6 != 0 {
		t.Errorf("AmountVarianceE6 = %v, want 0 for single sample", v.AmountVarianceE6)
	}
	for name, got := range map[string]float64{
		"DaysSinceLastD2":   v.DaysSinceLastD2,
		"SameCardDaysD3":    v.SameCardDaysD3,
		"SameAddressDaysD4": v.SameAddressDaysD4,
		"SameEmailDaysD10":  v.SameEmailDaysD10,
		"SameDeviceDaysD11": v.SameDeviceDaysD11,
	} {
		if got != 0 {
			t.Errorf("%s = %v, want 0 on empty history", name, got)
		}
	}

	// No NaN/Inf anywhere in the finalized vector.
	for name, val := range v.Values() {
		if math.IsNaN(val) || math.IsInf(val, 0) {
			t.Errorf("%s is not finite: %v", name, val)
		}
	}
}

func TestAvgIntervalOneHourApart(t *testing.T) {
	e := NewEngine()
	prev := baseTxn(1, 100, ts("2024-03-14 11:00:00"))
	cur := baseTxn(2, 100, ts("2024-03-14 12:00:00"))

	v := e.Compute([]Txn{prev}, cur)
	if v.AvgIntervalE5 != 1.0 {
		t.Errorf("AvgIntervalE5 = %v, want 1.0 for transactions 1h apart", v.AvgIntervalE5)
	}
	if v.DaysSinceLastD2 != 1.0/24 {
		t.Errorf("DaysSinceLastD2 = %v, want %v", v.DaysSinceLastD2, 1.0/24)
	}
}

func TestZeroMeanAmountRatio(t *testing.T) {
	e := NewEngine()
	hist := []Txn{baseTxn(1, 0, ts("2024-03-14 10:00:00"))}
	cur := baseTxn(2, 0, ts("2024-03-14 11:00:00"))

	v := e.Compute(hist, cur)
	if v.AmountRatioE7 != 0 {
		t.Errorf("AmountRatioE7 = %v, want 0 when the user mean is 0", v.AmountRatioE7)
	}
}

func TestAmountRatioAndMedian(t *testing.T) {
	e := NewEngine()
	hist := []Txn{
		baseTxn(1, 100, ts("2024-03-14 10:00:00")),
		baseTxn(2, 200, ts("2024-03-14 11:00:00")),
	}
	cur := baseTxn(3, 300, ts("2024-03-14 12:00:00"))

	v := e.Compute(hist, cur)
	// mean = 200, ratio = 300/200
	if math.Abs(v.AmountRatioE7-1.5) > 1e-9 {
		t.Errorf("AmountRatioE7 = %v, want 1.5", v.AmountRatioE7)
	}
	if v.MedianAmountE8 != 200 {
		t.Errorf("MedianAmountE8 = %v, want 200", v.MedianAmountE8)
	}
}

func TestSampleStddev(t *testing.T) {
	e := NewEngine()
	hist := []Txn{
		baseTxn(1, 100, ts("2024-03-14 10:00:00")),
		baseTxn(2, 200, ts("2024-03-14 11:00:00")),
	}
	cur := baseTxn(3, 300, ts("2024-03-14 12:00:00"))

	v := e.Compute(hist, cur)
	// sample stddev of {100,200,300} = 100
	if math.Abs(v.AmountVarianceE6-100) > 1e-9 {
		t.Errorf("AmountVarianceE6 = %v, want 100", v.AmountVarianceE6)
	}
}

func TestRolling24hBoundary(t *testing.T) {
	e := NewEngine()
	cur := baseTxn(3, 100, ts("2024-03-15 12:00:00"))

	// Exactly 24h before current: included.
	atBoundary := baseTxn(1, 100, ts("2024-03-14 12:00:00"))
	v := e.Compute([]Txn{atBoundary}, cur)
	if v.VelocityE10 != 2 {
		t.Errorf("VelocityE10 = %d, want 2 (24h-old transaction is inside the window)", v.VelocityE10)
	}

	// 24h + 1s before current: excluded.
	outside := baseTxn(1, 100, ts("2024-03-14 11:59:59"))
	v = e.Compute([]Txn{outside}, cur)
	if v.VelocityE10 != 1 {
		t.Errorf("VelocityE10 = %d, want 1 (24h+1s-old transaction is outside)", v.VelocityE10)
	}
}

func TestRolling24hAverage(t *testing.T) {
	e := NewEngine()
	hist := []Txn{
		baseTxn(1, 50, ts("2024-03-13 12:00:00")), // 2 days old, outside
		baseTxn(2, 100, ts("2024-03-15 06:00:00")),
		baseTxn(3, 200, ts("2024-03-15 10:00:00")),
	}
	cur := baseTxn(4, 300, ts("2024-03-15 12:00:00"))

	v := e.Compute(hist, cur)
	if v.VelocityE10 != 3 {
		t.Errorf("VelocityE10 = %d, want 3", v.VelocityE10)
	}
	if math.Abs(v.AvgAmount24hE9-200) > 1e-9 {
		t.Errorf("AvgAmount24hE9 = %v, want 200", v.AvgAmount24hE9)
	}
}

func TestTimeSlots(t *testing.T) {
	cases := []struct {
		hour       int
		slot       int
		slotOffset int
	}{
		{10, 0, 0}, {13, 0, 3},
		{14, 1, 0}, {17, 1, 3},
		{18, 2, 0}, {21, 2, 3},
		{22, 3, 0}, {23, 3, 1}, {0, 3, 2}, {1, 3, 3},
		{2, 4, 0}, {5, 4, 3},
		{6, 5, 0}, {9, 5, 3},
	}
	for _, tc := range cases {
		at := time.Date(2024, 3, 14, tc.hour, 0, 0, 0, time.UTC)
		if got := timeSlot(at); got != tc.slot {
			t.Errorf("timeSlot(hour=%d) = %d, want %d", tc.hour, got, tc.slot)
		}
		if got := hourWithinSlot(at); got != tc.slotOffset {
			t.Errorf("hourWithinSlot(hour=%d) = %d, want %d", tc.hour, got, tc.slotOffset)
		}
	}
}

func TestISOWeekday(t *testing.T) {
	// 2024-03-11 is a Monday.
	for i := 0; i < 7; i++ {
		at := time.Date(2024, 3, 11+i, 12, 0, 0, 0, time.UTC)
		if got := isoWeekday(at); got != i {
			t.Errorf("isoWeekday(%s) = %d, want %d", at.Weekday(), got, i)
		}
	}
}

func TestAnomalyFlags(t *testing.T) {
	e := NewEngine()
	hist := []Txn{baseTxn(1, 100, ts("2024-03-14 11:00:00"))} // offset 1, region Koramangala

	// Same slot offset (12:00 → offset 2 vs 11:00 → offset 1): anomalous.
	cur := baseTxn(2, 100, ts("2024-03-14 12:00:00"))
	v := e.Compute(hist, cur)
	if v.TimingAnomalyE11 != 1 {
		t.Errorf("TimingAnomalyE11 = %d, want 1 for first-seen slot offset", v.TimingAnomalyE11)
	}
	if v.RegionAnomalyE12 != 0 {
		t.Errorf("RegionAnomalyE12 = %d, want 0 for seen order region", v.RegionAnomalyE12)
	}

	// Never-seen order region flips the region flag.
	cur2 := baseTxn(3, 100, ts("2024-03-14 11:30:00"))
	cur2.OrderRegion = "Whitefield"
	v = e.Compute(hist, cur2)
	if v.TimingAnomalyE11 != 0 {
		t.Errorf("TimingAnomalyE11 = %d, want 0 for seen slot offset", v.TimingAnomalyE11)
	}
	if v.RegionAnomalyE12 != 1 {
		t.Errorf("RegionAnomalyE12 = %d, want 1 for first-seen order region", v.RegionAnomalyE12)
	}
}

func TestCardinalityCounts(t *testing.T) {
	e := NewEngine()
	h1 := baseTxn(1, 100, ts("2024-03-14 10:00:00"))
	h2 := baseTxn(2, 100, ts("2024-03-14 11:00:00"))
	h2.Merchant = "Flipkart"
	h3 := baseTxn(3, 100, ts("2024-03-14 12:00:00"))
	h3.CardNumber = "4222222222222222"
	h3.UserRegion = "Jayanagar"
	h3.DeviceType = "desktop"

	cur := baseTxn(4, 100, ts("2024-03-14 13:00:00"))
	v := e.Compute([]Txn{h1, h2, h3}, cur)

	// card+order region: h1, h2 and current share card+region.
	if v.TxnCountC1 != 3 {
		t.Errorf("TxnCountC1 = %d, want 3", v.TxnCountC1)
	}
	// merchants on current card: Amazon, Flipkart.
	if v.UniqueMerchantsC4 != 2 {
		t.Errorf("UniqueMerchantsC4 = %d, want 2", v.UniqueMerchantsC4)
	}
	// user region Koramangala: h1, h2, current.
	if v.SameRegionCountC5 != 3 {
		t.Errorf("SameRegionCountC5 = %d, want 3", v.SameRegionCountC5)
	}
	// device mobile: h1, h2, current.
	if v.SameDeviceCountC6 != 3 {
		t.Errorf("SameDeviceCountC6 = %d, want 3", v.SameDeviceCountC6)
	}
	// user regions: Koramangala, Jayanagar.
	if v.UniqueRegionsC11 != 2 {
		t.Errorf("UniqueRegionsC11 = %d, want 2", v.UniqueRegionsC11)
	}
}

func TestDayGapsPerKey(t *testing.T) {
	e := NewEngine()
	h1 := baseTxn(1, 100, ts("2024-03-12 12:00:00"))
	h2 := baseTxn(2, 100, ts("2024-03-13 12:00:00"))
	h2.CardNumber = "4222222222222222"
	h2.DeviceType = "desktop"

	cur := baseTxn(3, 100, ts("2024-03-14 12:00:00"))
	v := e.Compute([]Txn{h1, h2}, cur)

	// Last same-user transaction is h2, one day ago.
	if v.DaysSinceLastD2 != 1 {
		t.Errorf("DaysSinceLastD2 = %v, want 1", v.DaysSinceLastD2)
	}
	// Last same-card transaction is h1, two days ago.
	if v.SameCardDaysD3 != 2 {
		t.Errorf("SameCardDaysD3 = %v, want 2", v.SameCardDaysD3)
	}
	// Last same-device (mobile) transaction is h1, two days ago.
	if v.SameDeviceDaysD11 != 2 {
		t.Errorf("SameDeviceDaysD11 = %v, want 2", v.SameDeviceDaysD11)
	}
}

func TestConsistencyScore(t *testing.T) {
	e := NewEngine()
	hist := []Txn{
		baseTxn(1, 100, ts("2024-03-14 10:00:00")),
		baseTxn(2, 100, ts("2024-03-14 11:00:00")),
	}

	// Same device as mode and previous, same regions, typical amount: 4/4.
	cur := baseTxn(3, 100, ts("2024-03-14 12:00:00"))
	v := e.Compute(hist, cur)
	if v.ConsistencyM9 != 4 {
		t.Errorf("ConsistencyM9 = %d, want 4 (match=%d mismatch=%d region=%d)",
			v.ConsistencyM9, v.DeviceMatchM4, v.DeviceMismatchM6, v.RegionMismatchM8)
	}

	// Different device, different order region, huge amount: 0/4.
	cur2 := baseTxn(4, 10000, ts("2024-03-14 12:00:00"))
	cur2.DeviceType = "tablet"
	cur2.OrderRegion = "Whitefield"
	v = e.Compute(hist, cur2)
	if v.DeviceMatchM4 != 0 || v.DeviceMismatchM6 != 1 || v.RegionMismatchM8 != 1 {
		t.Errorf("M flags = %d/%d/%d, want 0/1/1",
			v.DeviceMatchM4, v.DeviceMismatchM6, v.RegionMismatchM8)
	}
	if v.ConsistencyM9 != 0 {
		t.Errorf("ConsistencyM9 = %d, want 0", v.ConsistencyM9)
	}
}

func TestDeviceModeTieBreaksFirstSeen(t *testing.T) {
	e := NewEngine()
	h1 := baseTxn(1, 100, ts("2024-03-14 10:00:00"))
	h1.DeviceType = "desktop"
	h2 := baseTxn(2, 100, ts("2024-03-14 11:00:00"))
	h2.DeviceType = "mobile"

	// desktop and mobile are tied 1-1 in history; current is mobile which
	// makes mobile the mode (2-1), so DeviceMatching fires.
	cur := baseTxn(3, 100, ts("2024-03-14 12:00:00"))
	v := e.Compute([]Txn{h1, h2}, cur)
	if v.DeviceMatchM4 != 1 {
		t.Errorf("DeviceMatchM4 = %d, want 1 when current device is the mode", v.DeviceMatchM4)
	}

	// With a desktop current, desktop wins 2-2 on first-seen order.
	cur2 := baseTxn(4, 100, ts("2024-03-14 12:00:00"))
	cur2.DeviceType = "desktop"
	v = e.Compute([]Txn{h1, h2}, cur2)
	if v.DeviceMatchM4 != 1 {
		t.Errorf("DeviceMatchM4 = %d, want 1 (tie broken by first-seen)", v.DeviceMatchM4)
	}
}

func TestFirstTransactionDeviceMismatch(t *testing.T) {
	e := NewEngine()
	v := e.Compute(nil, baseTxn(1, 100, ts("2024-03-14 12:00:00")))
	if v.DeviceMismatchM6 != 1 {
		t.Errorf("DeviceMismatchM6 = %d, want 1 with no prior transaction", v.DeviceMismatchM6)
	}
}

func TestHourlyCountIncludesCurrent(t *testing.T) {
	e := NewEngine()
	hist := []Txn{
		baseTxn(1, 100, ts("2024-03-13 11:00:00")), // offset 1
		baseTxn(2, 100, ts("2024-03-14 11:30:00")), // offset 1
		baseTxn(3, 100, ts("2024-03-14 10:30:00")), // offset 0
	}
	cur := baseTxn(4, 100, ts("2024-03-14 11:45:00")) // offset 1

	v := e.Compute(hist, cur)
	if v.HourlyCountE13 != 3 {
		t.Errorf("HourlyCountE13 = %d, want 3 (two historical at offset 1 + current)", v.HourlyCountE13)
	}
}

func TestUnsortedHistoryIsSorted(t *testing.T) {
	e := NewEngine()
	// Out-of-order history: latest first.
	hist := []Txn{
		baseTxn(2, 100, ts("2024-03-14 11:00:00")),
		baseTxn(1, 100, ts("2024-03-14 10:00:00")),
	}
	cur := baseTxn(3, 100, ts("2024-03-14 12:00:00"))

	v := e.Compute(hist, cur)
	if v.AvgIntervalE5 != 1.0 {
		t.Errorf("AvgIntervalE5 = %v, want 1.0 (gap to the latest prior transaction)", v.AvgIntervalE5)
	}
}
