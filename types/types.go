// Package types holds the plain data records exchanged between the grid
// planners, the simulator, and their callers.
package types

// Order tags. Matching never inspects the tag; it is carried through to the
// fill record so downstream analysis can attribute executions.
const (
	TagLongIEntry         = "long_ientry"
	TagLongPrimaryREntry  = "long_primary_rentry"
	TagLongSecondREntry   = "long_secondary_rentry"
	TagLongUnstuckEntry   = "long_unstuck_entry"
	TagLongNClose         = "long_nclose"
	TagLongUnstuckClose   = "long_unstuck_close"
	TagLongBankruptcy     = "long_bankruptcy"
	TagShortIEntry        = "short_ientry"
	TagShortPrimaryREntry = "short_primary_rentry"
	TagShortSecondREntry  = "short_secondary_rentry"
	TagShortUnstuckEntry  = "short_unstuck_entry"
	TagShortNClose        = "short_nclose"
	TagShortUnstuckClose  = "short_unstuck_close"
	TagShortBankruptcy    = "short_bankruptcy"
)

// Order is a single resting order. Long entries have Qty > 0 and long closes
// Qty < 0; the short side inverts both signs. The zero Order acts as the
// "no order" sentinel emitted by the planners.
type Order struct {
	Qty   float64
	Price float64
	Tag   string
}

// Tick is one trade observation. Qty == 0 is meaningful: no trade occurred at
// this timestamp, only the price carried over from the previous bucket.
type Tick struct {
	Timestamp float64 // ms since epoch
	Qty       float64
	Price     float64
}

// Fill is one execution event recorded by the simulator.
type Fill struct {
	Index     int
	Timestamp float64
	PnL       float64
	Fee       float64
	Balance   float64
	Equity    float64
	Qty       float64
	Price     float64
	PSize     float64 // position size after the fill
	PPrice    float64 // position price after the fill
	Tag       string
}

// Stat is the periodic equity snapshot appended once per simulated minute.
type Stat struct {
	Timestamp    float64
	Balance      float64
	Equity       float64
	BkrPrice     float64
	LongPSize    float64
	LongPPrice   float64
	ShortPSize   float64
	ShortPPrice  float64
	Price        float64
	ClosestBkr   float64
	BalanceLong  float64
	BalanceShort float64
	EquityLong   float64
	EquityShort  float64
}
