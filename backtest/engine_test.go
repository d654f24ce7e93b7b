package backtest

import (
	"math"
	"reflect"
	"testing"

	"github.com/evdnx/gridbot/config"
	"github.com/evdnx/gridbot/exchange"
	"github.com/evdnx/gridbot/testutils"
	"github.com/evdnx/gridbot/types"
)

func testInstrument() exchange.Instrument {
	return exchange.Instrument{
		QtyStep:   0.001,
		PriceStep: 0.01,
		MinQty:    0.001,
		MinCost:   5,
		CMult:     1,
		MakerFee:  0.0002,
	}
}

func testSide() config.SideParams {
	return config.SideParams{
		Enabled:              true,
		WalletExposureLimit:  0.5,
		MaxNEntryOrders:      5,
		GridSpan:             0.2,
		EPriceExpBase:        1.618034,
		InitialQtyPct:        0.1,
		InitialEPriceEMADist: 0.0,
		EPricePPriceDiff:     0.01,
		MinMarkup:            0.005,
		MarkupRange:          0.01,
		NCloseOrders:         3,
		EMASpanMin:           1,
		EMASpanMax:           1,
	}
}

func testConfig() config.BotConfig {
	short := testSide()
	short.Enabled = false
	return config.BotConfig{
		Exchange:        testInstrument(),
		StartingBalance: 1000,
		LatencyMS:       1000,
		Long:            testSide(),
		Short:           short,
	}
}

// burnThenPath prepends a burn-in window of flat ticks to a price path.
func burnThenPath(burn int, burnPrice float64, path []types.Tick) []types.Tick {
	out := testutils.FlatTicks(0, burn, burnPrice)
	start := float64(burn) * 1000
	for i := range path {
		path[i].Timestamp = start + float64(i)*1000
	}
	return append(out, path...)
}

/*
-----------------------------------------------------------------------
Bankruptcy trip: a maximally leveraged long position is liquidated as
soon as the price drifts within 6% of the bankruptcy price. The wipe
zeroes balance and equity and terminates the run.
-----------------------------------------------------------------------
*/
func TestRunBankruptcy(t *testing.T) {
	cfg := testConfig()
	cfg.StartingBalance = 50
	cfg.LatencyMS = 0
	cfg.Long.WalletExposureLimit = 20
	cfg.Long.InitialQtyPct = 1
	cfg.Long.MaxNEntryOrders = 2

	log := testutils.NewMockLogger()
	engine, err := New(cfg, log)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	path := testutils.RampTicks(0, 10, 100, 99.1)
	ticks := burnThenPath(60, 100, path)
	res, err := engine.Run(ticks)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.Fills) != 2 {
		t.Fatalf("expected entry + bankruptcy fill, got %d: %+v", len(res.Fills), res.Fills)
	}
	if res.Fills[0].Tag != types.TagLongIEntry {
		t.Fatalf("fill 0 tag = %s, want %s", res.Fills[0].Tag, types.TagLongIEntry)
	}
	bk := res.Fills[1]
	if bk.Tag != types.TagLongBankruptcy {
		t.Fatalf("fill 1 tag = %s, want %s", bk.Tag, types.TagLongBankruptcy)
	}
	if bk.Balance != 0 || bk.Equity != 0 {
		t.Fatalf("bankruptcy fill balance/equity = %v/%v, want 0/0", bk.Balance, bk.Equity)
	}
	// the position is wiped before the record is cut; the qty field is zero
	if bk.Qty != 0 || bk.PSize != 0 || bk.PPrice != 0 {
		t.Fatalf("bankruptcy fill carries position state %+v, want zeroed", bk)
	}
	if len(res.Stats) == 0 {
		t.Fatal("expected at least one stats record before liquidation")
	}
}

/*
-----------------------------------------------------------------------
Determinism: identical ticks and parameters produce element-wise equal
fills and stats.
-----------------------------------------------------------------------
*/
func TestRunDeterminism(t *testing.T) {
	cfg := testConfig()
	down := testutils.RampTicks(0, 300, 100, 90)
	up := testutils.RampTicks(0, 300, 90, 103)
	ticks := burnThenPath(60, 100, append(down, up...))

	run := func() *Result {
		engine, err := New(cfg, testutils.NewMockLogger())
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		res, err := engine.Run(ticks)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		return res
	}
	a := run()
	b := run()
	if len(a.Fills) == 0 {
		t.Fatal("expected fills in the down-up scenario")
	}
	if !reflect.DeepEqual(a.Fills, b.Fills) {
		t.Fatal("fills differ between identical runs")
	}
	if !reflect.DeepEqual(a.Stats, b.Stats) {
		t.Fatal("stats differ between identical runs")
	}
}

/*
-----------------------------------------------------------------------
Fill discipline over a full cycle: quantities are step multiples, fees
always negative, long entries positive, long closes negative, and the
stats stream keeps its spacing and monotone bankruptcy distance.
-----------------------------------------------------------------------
*/
func TestRunFillInvariants(t *testing.T) {
	cfg := testConfig()
	down := testutils.RampTicks(0, 300, 100, 90)
	up := testutils.RampTicks(0, 300, 90, 103)
	ticks := burnThenPath(60, 100, append(down, up...))

	engine, err := New(cfg, testutils.NewMockLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	res, err := engine.Run(ticks)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	in := cfg.Exchange
	sawClose := false
	for i, f := range res.Fills {
		if math.Abs(exchange.Round(f.Qty, in.QtyStep)-f.Qty) > 1e-9 {
			t.Fatalf("fill %d qty %v not a step multiple", i, f.Qty)
		}
		if f.Fee >= 0 {
			t.Fatalf("fill %d fee %v not negative", i, f.Fee)
		}
		switch f.Tag {
		case types.TagLongIEntry, types.TagLongPrimaryREntry, types.TagLongSecondREntry, types.TagLongUnstuckEntry:
			if f.Qty <= 0 {
				t.Fatalf("long entry fill %d qty %v not positive", i, f.Qty)
			}
		case types.TagLongNClose, types.TagLongUnstuckClose:
			if f.Qty >= 0 {
				t.Fatalf("long close fill %d qty %v not negative", i, f.Qty)
			}
			sawClose = true
		}
	}
	if !sawClose {
		t.Fatal("expected at least one close fill on the way back up")
	}
	for i := 1; i < len(res.Stats); i++ {
		if res.Stats[i].Timestamp < res.Stats[i-1].Timestamp+60_000 {
			t.Fatalf("stats %d spaced %v ms after previous, want >= 60000",
				i, res.Stats[i].Timestamp-res.Stats[i-1].Timestamp)
		}
		if res.Stats[i].ClosestBkr > res.Stats[i-1].ClosestBkr {
			t.Fatalf("closest_bkr increased between stats %d and %d", i-1, i)
		}
	}
}

func TestRunDisabledSides(t *testing.T) {
	cfg := testConfig()
	cfg.Long.Enabled = false
	engine, err := New(cfg, testutils.NewMockLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	res, err := engine.Run(testutils.FlatTicks(0, 240, 100))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.Fills) != 0 {
		t.Fatalf("disabled sides produced %d fills", len(res.Fills))
	}
	if len(res.Stats) < 3 {
		t.Fatalf("expected periodic stats, got %d", len(res.Stats))
	}
}

func TestRunSpanTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.Long.EMASpanMin = 10
	cfg.Long.EMASpanMax = 10
	engine, err := New(cfg, testutils.NewMockLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	// span of 10 minutes needs 600 ticks of burn-in; feed only 100
	if _, err := engine.Run(testutils.FlatTicks(0, 100, 100)); err == nil {
		t.Fatal("expected error for ema span exceeding tick count")
	}
}

func TestRunRejectsNonFiniteTicks(t *testing.T) {
	cfg := testConfig()
	engine, err := New(cfg, testutils.NewMockLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ticks := testutils.FlatTicks(0, 240, 100)
	ticks[17].Price = math.NaN()
	if _, err := engine.Run(ticks); err == nil {
		t.Fatal("expected error for NaN tick price")
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.StartingBalance = -5
	if _, err := New(cfg, nil); err == nil {
		t.Fatal("expected error for negative starting balance")
	}
}
