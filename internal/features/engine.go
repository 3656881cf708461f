package features

import (
	"math"
	"sort"
	"time"
)

// Txn is the slice of a transaction the feature engine needs. The pipeline
// maps the full persistence record down to this before calling Compute.
type Txn struct {
	ID            int64
	Amount        float64
	Timestamp     time.Time
	Merchant      string
	CardNumber    string
	MerchantEmail string
	UserRegion    string
	OrderRegion   string
	DeviceType    string
}

// Engine computes the feature vector for a transaction from the entity's
// historical window. It is stateless and safe for concurrent use; all
// aggregate state lives in the per-request fold.
type Engine struct{}

// NewEngine creates a feature engine.
func NewEngine() *Engine {
	return &Engine{}
}

// windowState is the incremental per-key aggregate state built by folding
// the historical window once. Running mean/variance use Welford's update,
// the median a sorted insert, and the 24h velocity window a pruned slice —
// no aggregate is ever recomputed from scratch per feature.
type windowState struct {
	// running amount statistics (Welford)
	count int
	mean  float64
	m2    float64

	sortedAmounts []float64 // for the running median

	last24h []Txn // trailing window, pruned as the fold advances

	prevTimestamp *time.Time // user's previous transaction
	prevDevice    *string

	// seen-sets for first-occurrence anomaly flags
	seenSlotOffsets map[int]bool
	seenOrderRegion map[string]bool

	slotOffsetCounts map[int]int

	// device histogram with first-seen tie-break for the mode
	deviceCounts    map[string]int
	deviceFirstSeen map[string]int
	nextFirstSeen   int

	// day-gap keys: previous timestamp per shared attribute
	lastByCard       map[string]time.Time
	lastByRegionPair map[string]time.Time
	lastByEmail      map[string]time.Time
	lastByDevice     map[string]time.Time

	// cardinality keys
	countCardRegion  map[string]int
	merchantsByCard  map[string]map[string]bool
	countUserRegion  map[string]int
	countDeviceType  map[string]int
	distinctURegions map[string]bool
}

func newWindowState() *windowState {
	return &windowState{
		seenSlotOffsets:  make(map[int]bool),
		seenOrderRegion:  make(map[string]bool),
		slotOffsetCounts: make(map[int]int),
		deviceCounts:     make(map[string]int),
		deviceFirstSeen:  make(map[string]int),
		lastByCard:       make(map[string]time.Time),
		lastByRegionPair: make(map[string]time.Time),
		lastByEmail:      make(map[string]time.Time),
		lastByDevice:     make(map[string]time.Time),
		countCardRegion:  make(map[string]int),
		merchantsByCard:  make(map[string]map[string]bool),
		countUserRegion:  make(map[string]int),
		countDeviceType:  make(map[string]int),
		distinctURegions: make(map[string]bool),
	}
}

// Compute derives the feature vector for current given the entity's prior
// transactions. History is sorted by timestamp ascending (stable, so the
// loader's insertion order breaks ties) and folded once; the vector reflects
// the window including current, with "first occurrence" flags judged against
// the prior transactions only. Undefined values (cold start, zero mean,
// singleton variance) become 0 in the finalization pass.
func (e *Engine) Compute(history []Txn, current Txn) Vector {
	window := make([]Txn, len(history))
	copy(window, history)
	sort.SliceStable(window, func(i, j int) bool {
		return window[i].Timestamp.Before(window[j].Timestamp)
	})

	st := newWindowState()
	for _, txn := range window {
		st.absorb(txn)
	}
	return st.vectorFor(current)
}

// absorb folds one historical transaction into the aggregate state.
func (s *windowState) absorb(txn Txn) {
	s.count++
	delta := txn.Amount - s.mean
	s.mean += delta / float64(s.count)
	s.m2 += delta * (txn.Amount - s.mean)

	idx := sort.SearchFloat64s(s.sortedAmounts, txn.Amount)
	s.sortedAmounts = append(s.sortedAmounts, 0)
	copy(s.sortedAmounts[idx+1:], s.sortedAmounts[idx:])
	s.sortedAmounts[idx] = txn.Amount

	s.last24h = append(s.last24h, txn)

	ts := txn.Timestamp
	s.prevTimestamp = &ts
	dev := txn.DeviceType
	s.prevDevice = &dev

	offset := hourWithinSlot(txn.Timestamp)
	s.seenSlotOffsets[offset] = true
	s.seenOrderRegion[txn.OrderRegion] = true
	s.slotOffsetCounts[offset]++

	if _, ok := s.deviceFirstSeen[txn.DeviceType]; !ok {
		s.deviceFirstSeen[txn.DeviceType] = s.nextFirstSeen
		s.nextFirstSeen++
	}
	s.deviceCounts[txn.DeviceType]++

	s.lastByCard[txn.CardNumber] = txn.Timestamp
	s.lastByRegionPair[txn.UserRegion+"\x1f"+txn.OrderRegion] = txn.Timestamp
	s.lastByEmail[txn.MerchantEmail] = txn.Timestamp
	s.lastByDevice[txn.DeviceType] = txn.Timestamp

	s.countCardRegion[txn.CardNumber+"\x1f"+txn.OrderRegion]++
	if s.merchantsByCard[txn.CardNumber] == nil {
		s.merchantsByCard[txn.CardNumber] = make(map[string]bool)
	}
	s.merchantsByCard[txn.CardNumber][txn.Merchant] = true
	s.countUserRegion[txn.UserRegion]++
	s.countDeviceType[txn.DeviceType]++
	s.distinctURegions[txn.UserRegion] = true
}

// vectorFor computes the current transaction's features from the folded
// prior state, then finalizes (single NaN/Inf/undefined → 0 pass).
func (s *windowState) vectorFor(cur Txn) Vector {
	slot := timeSlot(cur.Timestamp)
	offset := hourWithinSlot(cur.Timestamp)
	weekday := isoWeekday(cur.Timestamp)

	// E5: hours since the user's previous transaction.
	var avgInterval *float64
	if s.prevTimestamp != nil {
		avgInterval = ptr(cur.Timestamp.Sub(*s.prevTimestamp).Hours())
	}

	// Amount statistics over the window including current.
	n := s.count + 1
	delta := cur.Amount - s.mean
	mean := s.mean + delta/float64(n)
	m2 := s.m2 + delta*(cur.Amount-mean)

	var variance *float64
	if n > 1 {
		variance = ptr(math.Sqrt(m2 / float64(n-1))) // sample stddev
	} else {
		variance = ptr(0)
	}

	var ratio *float64
	if mean != 0 {
		ratio = ptr(cur.Amount / mean)
	}

	median := medianWith(s.sortedAmounts, cur.Amount)

	// Trailing 24h window anchored at the most recent transaction (current).
	// The boundary is inclusive: a transaction exactly 24h old counts.
	cutoff := cur.Timestamp.Add(-24 * time.Hour)
	var sum24 float64
	count24 := 1 // current
	sum24 = cur.Amount
	for _, t := range s.last24h {
		if !t.Timestamp.Before(cutoff) {
			sum24 += t.Amount
			count24++
		}
	}
	avg24 := sum24 / float64(count24)

	timingAnomaly := 0
	if !s.seenSlotOffsets[offset] {
		timingAnomaly = 1
	}
	regionAnomaly := 0
	if !s.seenOrderRegion[cur.OrderRegion] {
		regionAnomaly = 1
	}

	// D series day gaps.
	dayGap := func(last map[string]time.Time, key string) *float64 {
		if prev, ok := last[key]; ok {
			return ptr(cur.Timestamp.Sub(prev).Hours() / 24)
		}
		return nil
	}
	var d2 *float64
	if s.prevTimestamp != nil {
		d2 = ptr(cur.Timestamp.Sub(*s.prevTimestamp).Hours() / 24)
	}
	d3 := dayGap(s.lastByCard, cur.CardNumber)
	d4 := dayGap(s.lastByRegionPair, cur.UserRegion+"\x1f"+cur.OrderRegion)
	d10 := dayGap(s.lastByEmail, cur.MerchantEmail)
	d11 := dayGap(s.lastByDevice, cur.DeviceType)

	// C series counts include the current transaction.
	uniqueMerchants := len(s.merchantsByCard[cur.CardNumber])
	if !s.merchantsByCard[cur.CardNumber][cur.Merchant] {
		uniqueMerchants++
	}
	uniqueRegions := len(s.distinctURegions)
	if !s.distinctURegions[cur.UserRegion] {
		uniqueRegions++
	}

	// M series.
	deviceMatch := 0
	if cur.DeviceType == s.modeDeviceWith(cur.DeviceType) {
		deviceMatch = 1
	}
	deviceMismatch := 1 // no prior transaction counts as a mismatch
	if s.prevDevice != nil && *s.prevDevice == cur.DeviceType {
		deviceMismatch = 0
	}
	regionMismatch := 0
	if cur.OrderRegion != cur.UserRegion {
		regionMismatch = 1
	}
	amountTypical := 0
	if cur.Amount <= median*1.5 {
		amountTypical = 1
	}
	consistency := deviceMatch + (1 - deviceMismatch) + (1 - regionMismatch) + amountTypical

	return Vector{
		TimeSlotE2:       slot,
		HourWithinSlotE3: offset,
		WeekdayE4:        weekday,
		AvgIntervalE5:    finite(avgInterval),
		AmountVarianceE6: finite(variance),
		AmountRatioE7:    finite(ratio),
		MedianAmountE8:   finite(ptr(median)),
		AvgAmount24hE9:   finite(ptr(avg24)),
		VelocityE10:      count24,
		TimingAnomalyE11: timingAnomaly,
		RegionAnomalyE12: regionAnomaly,
		HourlyCountE13:   s.slotOffsetCounts[offset] + 1,

		DaysSinceLastD2:   finite(d2),
		SameCardDaysD3:    finite(d3),
		SameAddressDaysD4: finite(d4),
		SameEmailDaysD10:  finite(d10),
		SameDeviceDaysD11: finite(d11),

		TxnCountC1:        s.countCardRegion[cur.CardNumber+"\x1f"+cur.OrderRegion] + 1,
		UniqueMerchantsC4: uniqueMerchants,
		SameRegionCountC5: s.countUserRegion[cur.UserRegion] + 1,
		SameDeviceCountC6: s.countDeviceType[cur.DeviceType] + 1,
		UniqueRegionsC11:  uniqueRegions,

		DeviceMatchM4:    deviceMatch,
		DeviceMismatchM6: deviceMismatch,
		RegionMismatchM8: regionMismatch,
		ConsistencyM9:    consistency,
	}
}

// modeDeviceWith returns the most frequent device type over the window
// including the current transaction's device, ties broken by first-seen
// order (the current device is the latest-seen, so it loses ties against
// any historical device with the same count).
func (s *windowState) modeDeviceWith(curDevice string) string {
	counts := make(map[string]int, len(s.deviceCounts)+1)
	for d, c := range s.deviceCounts {
		counts[d] = c
	}
	counts[curDevice]++

	firstSeen := func(d string) int {
		if idx, ok := s.deviceFirstSeen[d]; ok {
			return idx
		}
		return s.nextFirstSeen // current device, unseen in history
	}

	var mode string
	best := -1
	for d, c := range counts {
		if c > best || (c == best && firstSeen(d) < firstSeen(mode)) {
			mode, best = d, c
		}
	}
	return mode
}

// medianWith returns the median of sorted plus one extra value.
func medianWith(sorted []float64, v float64) float64 {
	n := len(sorted) + 1
	idx := sort.SearchFloat64s(sorted, v)

	at := func(i int) float64 {
		switch {
		case i < idx:
			return sorted[i]
		case i == idx:
			return v
		default:
			return sorted[i-1]
		}
	}

	if n%2 == 1 {
		return at(n / 2)
	}
	return (at(n/2-1) + at(n/2)) / 2
}

// timeSlot buckets the hour of day into six non-overlapping slots:
// 0=[10,14) 1=[14,18) 2=[18,22) 3=[22,02) 4=[02,06) 5=[06,10).
func timeSlot(t time.Time) int {
	h := t.Hour()
	switch {
	case h >= 10 && h < 14:
		return 0
	case h >= 14 && h < 18:
		return 1
	case h >= 18 && h < 22:
		return 2
	case h >= 22 || h < 2:
		return 3
	case h >= 2 && h < 6:
		return 4
	default:
		return 5
	}
}

// hourWithinSlot is the hour offset relative to the slot start (0..3).
func hourWithinSlot(t time.Time) int {
	h := t.Hour()
	switch {
	case h >= 10 && h < 14:
		return h - 10
	case h >= 14 && h < 18:
		return h - 14
	case h >= 18 && h < 22:
		return h - 18
	case h >= 22:
		return h - 22
	case h < 2:
		return h + 2
	case h >= 2 && h < 6:
		return h - 2
	default:
		return h - 6
	}
}

// isoWeekday returns the weekday with Monday=0 .. Sunday=6.
func isoWeekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}
