package grid

import (
	"math"
	"testing"

	"github.com/evdnx/gridbot/types"
)

/*
-----------------------------------------------------------------------
Initial entry, flat account: one long_ientry sized as the initial
fraction of the exposure budget, priced off the EMA band.
-----------------------------------------------------------------------
*/
func TestLongEntriesInitialFlat(t *testing.T) {
	pl := testPlanner()
	p := testParams()
	orders, err := pl.LongEntries(1000, 0, 0, 100.00, 100.00, p)
	if err != nil {
		t.Fatalf("LongEntries failed: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected one order, got %d", len(orders))
	}
	o := orders[0]
	if o.Tag != types.TagLongIEntry {
		t.Fatalf("expected %s, got %s", types.TagLongIEntry, o.Tag)
	}
	if math.Abs(o.Qty-0.15) > 1e-9 {
		t.Fatalf("initial qty = %v, want 0.15", o.Qty)
	}
	if o.Price != 100.00 {
		t.Fatalf("initial price = %v, want 100.00", o.Price)
	}
}

/*
-----------------------------------------------------------------------
Minimum-cost clamp: a tiny balance cannot buy less than min_cost worth.
-----------------------------------------------------------------------
*/
func TestLongEntriesMinCostClamp(t *testing.T) {
	pl := testPlanner()
	p := testParams()
	orders, err := pl.LongEntries(10, 0, 0, 100.00, 100.00, p)
	if err != nil {
		t.Fatalf("LongEntries failed: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected one order, got %d", len(orders))
	}
	if math.Abs(orders[0].Qty-0.050) > 1e-9 {
		t.Fatalf("clamped qty = %v, want 0.050", orders[0].Qty)
	}
}

/*
-----------------------------------------------------------------------
Exposure cap: a position already at the wallet exposure limit yields
the empty sentinel ladder.
-----------------------------------------------------------------------
*/
func TestLongEntriesAtExposureCap(t *testing.T) {
	pl := testPlanner()
	p := testParams()
	// 3 contracts at 100 on balance 1000 = exposure 0.3 == limit
	orders, err := pl.LongEntries(1000, 3, 100, 99.0, 99.0, p)
	if err != nil {
		t.Fatalf("LongEntries failed: %v", err)
	}
	if len(orders) != 1 || orders[0] != (types.Order{}) {
		t.Fatalf("expected empty sentinel order, got %+v", orders)
	}
}

func TestLongEntriesDisabledAndFlat(t *testing.T) {
	pl := testPlanner()
	p := testParams()
	p.Enabled = false
	orders, err := pl.LongEntries(1000, 0, 0, 100, 100, p)
	if err != nil {
		t.Fatalf("LongEntries failed: %v", err)
	}
	if len(orders) != 1 || orders[0] != (types.Order{}) {
		t.Fatalf("expected empty sentinel order, got %+v", orders)
	}
}

/*
-----------------------------------------------------------------------
The bid caps the initial entry price: an EMA-derived price above the
best bid is clamped down to it.
-----------------------------------------------------------------------
*/
func TestLongEntriesBidClamp(t *testing.T) {
	pl := testPlanner()
	p := testParams()
	orders, err := pl.LongEntries(1000, 0, 0, 95.00, 100.00, p)
	if err != nil {
		t.Fatalf("LongEntries failed: %v", err)
	}
	if orders[0].Price != 95.00 {
		t.Fatalf("entry price = %v, want clamp at bid 95.00", orders[0].Price)
	}
}

/*
-----------------------------------------------------------------------
Auto-unstuck entry: exposure above the threshold emits a single
corrective entry at the EMA-derived price.
-----------------------------------------------------------------------
*/
func TestLongEntriesAutoUnstuck(t *testing.T) {
	pl := testPlanner()
	p := testParams()
	p.AutoUnstuckWalletExposureThreshold = 0.5
	p.AutoUnstuckEMADist = 0.01
	// exposure 0.2 > 0.3*(1-0.5)*0.99 = 0.1485
	orders, err := pl.LongEntries(1000, 2, 100, 99.0, 98.0, p)
	if err != nil {
		t.Fatalf("LongEntries failed: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected one unstuck order, got %d", len(orders))
	}
	o := orders[0]
	if o.Tag != types.TagLongUnstuckEntry {
		t.Fatalf("expected %s, got %s", types.TagLongUnstuckEntry, o.Tag)
	}
	if o.Price != 97.02 {
		t.Fatalf("unstuck price = %v, want 97.02", o.Price)
	}
	if o.Qty <= 0 {
		t.Fatalf("unstuck qty = %v, want positive", o.Qty)
	}
}

func TestShortEntriesInitialFlat(t *testing.T) {
	pl := testPlanner()
	p := testParams()
	orders, err := pl.ShortEntries(1000, 0, 0, 100.00, 100.00, p)
	if err != nil {
		t.Fatalf("ShortEntries failed: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected one order, got %d", len(orders))
	}
	o := orders[0]
	if o.Tag != types.TagShortIEntry {
		t.Fatalf("expected %s, got %s", types.TagShortIEntry, o.Tag)
	}
	if math.Abs(o.Qty+0.15) > 1e-9 {
		t.Fatalf("initial qty = %v, want -0.15", o.Qty)
	}
}

/*
-----------------------------------------------------------------------
Regression: with a secondary allocation, the secondary tag attaches to
the ladder rung whose index is terminal in the approximated grid. Any
emitted secondary rentry must therefore be the last emitted order, and
there is never more than one.
-----------------------------------------------------------------------
*/
func TestShortEntriesSecondaryTagPlacement(t *testing.T) {
	pl := testPlanner()
	p := testParams()
	p.SecondaryAllocation = 0.2
	// position equals the primary initial quantity: balance * wel_primary *
	// (iqty/(1-sec)) / price = 1000*0.24*0.0625/100 = 0.15
	orders, err := pl.ShortEntries(1000, -0.15, 100, 101.0, 100.0, p)
	if err != nil {
		t.Fatalf("ShortEntries failed: %v", err)
	}
	if len(orders) == 0 || orders[0] == (types.Order{}) {
		t.Fatalf("expected re-entry ladder, got %+v", orders)
	}
	secondaries := 0
	for i, o := range orders {
		if o.Qty >= 0 {
			t.Fatalf("short entry %d has non-negative qty %v", i, o.Qty)
		}
		if o.Tag == types.TagShortSecondREntry {
			secondaries++
			if i != len(orders)-1 {
				t.Fatalf("secondary tag on non-terminal order %d of %d", i, len(orders))
			}
		} else if o.Tag != types.TagShortPrimaryREntry {
			t.Fatalf("unexpected tag %s", o.Tag)
		}
	}
	if secondaries > 1 {
		t.Fatalf("more than one secondary rentry: %+v", orders)
	}
}

/*
-----------------------------------------------------------------------
Re-entry ladder of a mid-grid long position: rungs sit strictly below
pprice, quantities extend the position, prices never exceed the bid.
-----------------------------------------------------------------------
*/
func TestLongEntriesReentryLadder(t *testing.T) {
	pl := testPlanner()
	p := testParams()
	orders, err := pl.LongEntries(1000, 0.15, 100, 99.50, 100.0, p)
	if err != nil {
		t.Fatalf("LongEntries failed: %v", err)
	}
	if len(orders) == 0 {
		t.Fatal("expected orders")
	}
	if orders[0] == (types.Order{}) {
		t.Fatal("expected re-entry ladder, got sentinel")
	}
	for i, o := range orders {
		if o.Qty <= 0 {
			t.Fatalf("entry %d qty %v not positive", i, o.Qty)
		}
		if o.Price > 99.50 {
			t.Fatalf("entry %d price %v exceeds bid", i, o.Price)
		}
		if i > 0 && o.Price == orders[i-1].Price {
			t.Fatalf("consecutive entries share price %v", o.Price)
		}
	}
}
