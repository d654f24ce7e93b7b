package grid

import (
	"math"
	"testing"

	"github.com/evdnx/gridbot/types"
)

/*
-----------------------------------------------------------------------
Close ladder of a flat position is the empty sentinel.
-----------------------------------------------------------------------
*/
func TestLongClosesFlat(t *testing.T) {
	pl := testPlanner()
	closes := pl.LongCloses(1000, 0, 0, 100, 100, testParams())
	if len(closes) != 1 || closes[0] != (types.Order{}) {
		t.Fatalf("expected empty sentinel, got %+v", closes)
	}
}

/*
-----------------------------------------------------------------------
Markup ladder: psize 0.3 over three close prices 101/102/103 splits
into three equal tranches of 0.1.
-----------------------------------------------------------------------
*/
func TestLongClosesEvenSplit(t *testing.T) {
	pl := testPlanner()
	p := testParams()
	closes := pl.LongCloses(1000, 0.3, 100, 100, 100, p)
	if len(closes) != 3 {
		t.Fatalf("expected 3 closes, got %d: %+v", len(closes), closes)
	}
	wantPrices := []float64{101, 102, 103}
	total := 0.0
	for i, c := range closes {
		if c.Tag != types.TagLongNClose {
			t.Fatalf("close %d tag = %s", i, c.Tag)
		}
		if c.Qty >= 0 {
			t.Fatalf("close %d qty %v not negative", i, c.Qty)
		}
		if math.Abs(c.Price-wantPrices[i]) > 1e-9 {
			t.Fatalf("close %d price = %v, want %v", i, c.Price, wantPrices[i])
		}
		total += c.Qty
	}
	if math.Abs(total+0.3) > 1e-9 {
		t.Fatalf("closes total %v, want -0.3", total)
	}
}

/*
-----------------------------------------------------------------------
A residual below the minimum close quantity folds into the previous
tranche instead of being emitted on its own.
-----------------------------------------------------------------------
*/
func TestLongClosesResidualFolding(t *testing.T) {
	pl := testPlanner()
	p := testParams()
	// 0.14 over [101 102 103]: two 0.05 tranches leave 0.04, below the
	// minimum at 103, which folds into the 102 tranche
	closes := pl.LongCloses(1000, 0.14, 100, 100, 100, p)
	if len(closes) != 2 {
		t.Fatalf("expected 2 closes after folding, got %d: %+v", len(closes), closes)
	}
	if math.Abs(closes[0].Qty+0.05) > 1e-9 || closes[0].Price != 101 {
		t.Fatalf("close 0 = %+v, want -0.05 @ 101", closes[0])
	}
	if math.Abs(closes[1].Qty+0.09) > 1e-9 || closes[1].Price != 102 {
		t.Fatalf("close 1 = %+v, want -0.09 @ 102", closes[1])
	}
	total := 0.0
	for _, c := range closes {
		total += c.Qty
	}
	if math.Abs(total+0.14) > 1e-9 {
		t.Fatalf("closes total %v, want -0.14", total)
	}
}

/*
-----------------------------------------------------------------------
Every close price below the ask collapses to one whole-position close
at the ask.
-----------------------------------------------------------------------
*/
func TestLongClosesAskFloor(t *testing.T) {
	pl := testPlanner()
	p := testParams()
	closes := pl.LongCloses(1000, 0.3, 100, 110, 100, p)
	if len(closes) != 1 {
		t.Fatalf("expected single nclose, got %+v", closes)
	}
	if closes[0].Price != 110 || math.Abs(closes[0].Qty+0.3) > 1e-9 {
		t.Fatalf("expected whole close at ask, got %+v", closes[0])
	}
}

/*
-----------------------------------------------------------------------
Short breakeven full close: a position below half the initial quantity
is closed whole at breakeven or better.
-----------------------------------------------------------------------
*/
func TestShortClosesBreakeven(t *testing.T) {
	pl := testPlanner()
	p := testParams()
	p.WalletExposureLimit = 0.3
	p.InitialQtyPct = 0.1
	// threshold = cost_to_qty(1000, 100) * 0.3 * 0.1 * 0.5 = 0.15
	closes := pl.ShortCloses(1000, -0.1, 100, 100, 100, p)
	if len(closes) != 1 {
		t.Fatalf("expected single breakeven close, got %+v", closes)
	}
	c := closes[0]
	if c.Tag != types.TagShortNClose {
		t.Fatalf("tag = %s, want %s", c.Tag, types.TagShortNClose)
	}
	if math.Abs(c.Qty-0.1) > 1e-9 {
		t.Fatalf("qty = %v, want 0.1", c.Qty)
	}
	if c.Price != 99.95 {
		t.Fatalf("price = %v, want 99.95 (breakeven markup)", c.Price)
	}
}

func TestShortClosesSpotDust(t *testing.T) {
	pl := testPlanner()
	pl.Inst.Spot = true
	closes := pl.ShortCloses(1000, -0.0004, 100, 100, 100, testParams())
	if len(closes) != 1 || closes[0] != (types.Order{}) {
		t.Fatalf("expected empty sentinel for spot dust, got %+v", closes)
	}
}

func TestShortClosesLadder(t *testing.T) {
	pl := testPlanner()
	p := testParams()
	closes := pl.ShortCloses(1000, -3, 100, 100, 100, p)
	if len(closes) == 0 {
		t.Fatal("expected closes")
	}
	total := 0.0
	for i, c := range closes {
		if c.Qty <= 0 {
			t.Fatalf("short close %d qty %v not positive", i, c.Qty)
		}
		if i > 0 && c.Price >= closes[i-1].Price {
			t.Fatalf("short close prices not descending at %d", i)
		}
		total += c.Qty
	}
	if math.Abs(total-3) > 1e-9 {
		t.Fatalf("short closes total %v, want 3", total)
	}
}
