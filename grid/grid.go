// Package grid derives the ladders of entry and close orders for both sides
// of a leveraged grid strategy. All computations are pure on their inputs;
// the only side channel is the injected diagnostic logger.
package grid

import (
	"errors"
	"math"

	"github.com/evdnx/gridbot/config"
	"github.com/evdnx/gridbot/exchange"
	"github.com/evdnx/gridbot/logger"
)

// Side selects between the two sign-symmetric halves of the book.
type Side int8

const (
	Long Side = iota
	Short
)

func (s Side) String() string {
	if s == Short {
		return "short"
	}
	return "long"
}

// GridNode is one rung of a computed entry ladder together with the
// cumulative position it would produce if every rung above it filled.
type GridNode struct {
	Qty            float64
	Price          float64
	PSize          float64
	PPrice         float64
	WalletExposure float64
}

// Planner bundles the instrument and the diagnostic sink. Its methods derive
// order ladders from account state and market observables.
type Planner struct {
	Inst exchange.Instrument
	Log  logger.Logger
}

// NewPlanner creates a planner. A nil log defaults to the no-op sink.
func NewPlanner(inst exchange.Instrument, log logger.Logger) *Planner {
	if log == nil {
		log = logger.Nop()
	}
	return &Planner{Inst: inst, Log: log}
}

// gridSpec carries the (possibly tranche-scaled) shape parameters of one
// ladder evaluation.
type gridSpec struct {
	span             float64
	wel              float64
	initialQtyPct    float64
	ePricePPriceDiff float64
	expBase          float64
	maxN             int
}

// linspace returns n evenly spaced values from start to end inclusive.
func linspace(start, end float64, n int) []float64 {
	if n <= 1 {
		return []float64{start}
	}
	out := make([]float64, n)
	step := (end - start) / float64(n-1)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	out[n-1] = end
	return out
}

// basespace spaces n values from start to end: linearly when base == 1,
// otherwise along a normalised geometric progression of base.
func basespace(start, end, base float64, n int) []float64 {
	if base == 1.0 {
		return linspace(start, end, n)
	}
	a := make([]float64, n)
	lo, hi := math.Inf(1), math.Inf(-1)
	for i := range a {
		a[i] = math.Pow(base, float64(i))
		lo = math.Min(lo, a[i])
		hi = math.Max(hi, a[i])
	}
	out := make([]float64, n)
	for i := range a {
		out[i] = (a[i]-lo)/(hi-lo)*(end-start) + start
	}
	return out
}

// interpolate evaluates the Lagrange polynomial through (xs, ys) at x. With
// two nodes this is plain linear interpolation.
func interpolate(x float64, xs, ys []float64) float64 {
	sum := 0.0
	for j := range xs {
		p := ys[j]
		for m := range xs {
			if m != j {
				p *= (x - xs[m]) / (xs[j] - xs[m])
			}
		}
		sum += p
	}
	return sum
}

// initialEntryQty is the quantity of the first ladder rung: the configured
// fraction of the exposure budget, but never below the instrument minimum.
func initialEntryQty(in exchange.Instrument, balance, initialEntryPrice, wel, initialQtyPct float64) float64 {
	return math.Max(
		in.MinEntryQty(initialEntryPrice),
		exchange.Round(in.CostToQty(balance*wel*initialQtyPct, initialEntryPrice), in.QtyStep),
	)
}

// longEntryQty solves the average-price drift equation analytically: the
// rung quantity that lands the new position price at the prescribed relative
// distance above the rung's entry price.
func longEntryQty(psize, pprice, entryPrice, ePricePPriceDiff float64) float64 {
	return -(psize * (entryPrice*ePricePPriceDiff + entryPrice - pprice) /
		(entryPrice * ePricePPriceDiff))
}

// shortEntryQty is the short-side counterpart of longEntryQty.
func shortEntryQty(psize, pprice, entryPrice, ePricePPriceDiff float64) float64 {
	return -((psize * (entryPrice*(ePricePPriceDiff-1) + pprice)) /
		(entryPrice * ePricePPriceDiff))
}

// evalEntryGrid builds one ladder of maxN rungs for a fixed exposure
// weighting. Prices come from eprices when supplied, otherwise from a
// basespace ladder off initialEntryPrice. prevPPrice == 0 means the initial
// rung's position price is its own entry price.
func (pl *Planner) evalEntryGrid(side Side, balance, initialEntryPrice float64, gs gridSpec, weighting float64, eprices []float64, prevPPrice float64) []GridNode {
	in := pl.Inst
	var grid []GridNode
	if eprices == nil {
		grid = make([]GridNode, gs.maxN)
		if side == Long {
			for i, p := range basespace(initialEntryPrice, initialEntryPrice*(1-gs.span), gs.expBase, gs.maxN) {
				grid[i].Price = exchange.RoundDn(p, in.PriceStep)
			}
		} else {
			for i, p := range basespace(initialEntryPrice, initialEntryPrice*(1+gs.span), gs.expBase, gs.maxN) {
				grid[i].Price = exchange.RoundUp(p, in.PriceStep)
			}
		}
	} else {
		grid = make([]GridNode, len(eprices))
		for i, p := range eprices {
			grid[i].Price = p
		}
	}

	iqty := initialEntryQty(in, balance, initialEntryPrice, gs.wel, gs.initialQtyPct)
	if side == Short {
		iqty = -iqty
	}
	grid[0].Qty = iqty
	psize := iqty
	pprice := grid[0].Price
	if prevPPrice != 0 {
		pprice = prevPPrice
	}
	grid[0].PSize, grid[0].PPrice = psize, pprice
	grid[0].WalletExposure = in.QtyToCost(psize, pprice) / balance
	for i := 1; i < len(grid); i++ {
		adjusted := gs.ePricePPriceDiff * (1 + grid[i-1].WalletExposure*weighting)
		var qty float64
		if side == Long {
			qty = exchange.Round(longEntryQty(psize, pprice, grid[i].Price, adjusted), in.QtyStep)
			if qty < in.MinEntryQty(grid[i].Price) {
				qty = 0.0
			}
		} else {
			qty = exchange.Round(shortEntryQty(psize, pprice, grid[i].Price, adjusted), in.QtyStep)
			if -qty < in.MinEntryQty(grid[i].Price) {
				qty = 0.0
			}
		}
		psize, pprice = in.NewPSizePPrice(psize, pprice, qty, grid[i].Price)
		grid[i].Qty = qty
		grid[i].PSize = psize
		grid[i].PPrice = pprice
		grid[i].WalletExposure = in.QtyToCost(psize, pprice) / balance
	}
	return grid
}

// wholeEntryGrid builds the full entry ladder: the weighting-calibrated
// primary tranche plus, when allocated, one secondary rung that takes the
// cumulative exposure exactly to the side's limit.
func (pl *Planner) wholeEntryGrid(side Side, balance, initialEntryPrice float64, p config.SideParams, eprices []float64, prevPPrice float64) ([]GridNode, error) {
	in := pl.Inst
	secondaryAllocation := p.SecondaryAllocation
	if secondaryAllocation <= 0.05 {
		// ignore secondary allocations below 5%
		secondaryAllocation = 0.0
	} else if secondaryAllocation >= 1.0 {
		return nil, errors.New("secondary_allocation cannot be >= 1.0")
	}
	primaryAllocation := 1.0 - secondaryAllocation
	gs := gridSpec{
		span:             p.GridSpan,
		wel:              p.WalletExposureLimit * primaryAllocation,
		initialQtyPct:    p.InitialQtyPct / primaryAllocation,
		ePricePPriceDiff: p.EPricePPriceDiff,
		expBase:          p.EPriceExpBase,
		maxN:             p.MaxNEntryOrders,
	}
	weighting := pl.findEPricePPriceDiffWalletExposureWeighting(side, balance, initialEntryPrice, gs, eprices, prevPPrice)
	grid := pl.evalEntryGrid(side, balance, initialEntryPrice, gs, weighting, eprices, prevPPrice)
	if secondaryAllocation > 0.0 {
		last := grid[len(grid)-1]
		var entryPrice, qty float64
		if side == Long {
			entryPrice = math.Min(
				exchange.RoundDn(last.PPrice*(1-p.SecondaryPPriceDiff), in.PriceStep), last.Price)
			qty = pl.findEntryQtyBringingWalletExposureToTarget(
				balance, last.PSize, last.PPrice, p.WalletExposureLimit, entryPrice)
		} else {
			entryPrice = math.Max(
				exchange.RoundUp(last.PPrice*(1+p.SecondaryPPriceDiff), in.PriceStep), last.Price)
			qty = -pl.findEntryQtyBringingWalletExposureToTarget(
				balance, last.PSize, last.PPrice, p.WalletExposureLimit, entryPrice)
		}
		newPSize, newPPrice := in.NewPSizePPrice(last.PSize, last.PPrice, qty, entryPrice)
		grid = append(grid, GridNode{
			Qty:            qty,
			Price:          entryPrice,
			PSize:          newPSize,
			PPrice:         newPPrice,
			WalletExposure: in.QtyToCost(newPSize, newPPrice) / balance,
		})
	}
	filtered := grid[:0]
	for _, node := range grid {
		if (side == Long && node.Qty > 0.0) || (side == Short && node.Qty < 0.0) {
			filtered = append(filtered, node)
		}
	}
	return filtered, nil
}
