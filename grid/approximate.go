package grid

import (
	"errors"
	"math"

	"github.com/evdnx/gridbot/config"
	"github.com/evdnx/gridbot/exchange"
)

// approxEval rebuilds a whole ladder from a guessed initial entry price and
// locates the rung whose cumulative size best matches a target position.
type approxEval struct {
	pl      *Planner
	side    Side
	balance float64
	params  config.SideParams
}

func (a approxEval) eval(initialPriceGuess, psize float64) ([]GridNode, float64, int, error) {
	initialPriceGuess = exchange.Round(initialPriceGuess, a.pl.Inst.PriceStep)
	grid, err := a.pl.wholeEntryGrid(a.side, a.balance, initialPriceGuess, a.params, nil, 0)
	if err != nil {
		return nil, 0, 0, err
	}
	absPSize := math.Abs(psize)
	bestDiff, bestIdx := math.Inf(1), 0
	for i := range grid {
		diff := math.Abs(math.Abs(grid[i].PSize)-absPSize) / absPSize
		if diff < bestDiff {
			bestDiff, bestIdx = diff, i
		}
	}
	return grid, bestDiff, bestIdx, nil
}

// approximateGrid reconstructs the remaining ladder for an account that
// already holds a position: it searches for the initial entry price whose
// ladder passes through the current (psize, pprice), then returns the rungs
// that have not yet filled. A position that matches no rung is treated as a
// partial fill of the first rung that exceeds it.
func (pl *Planner) approximateGrid(side Side, balance, psize, pprice float64, p config.SideParams) ([]GridNode, error) {
	in := pl.Inst
	absPSize := math.Abs(psize)
	if pprice == 0.0 {
		return nil, errors.New("cannot make grid without pprice")
	}
	if psize == 0.0 {
		return pl.wholeEntryGrid(side, balance, pprice, p, nil, 0)
	}
	ev := approxEval{pl: pl, side: side, balance: balance, params: p}

	grid, _, i, err := ev.eval(pprice, psize)
	if err != nil {
		return nil, err
	}
	var diff float64
	grid, diff, i, err = ev.eval(pprice*(pprice/grid[i].PPrice), psize)
	if err != nil {
		return nil, err
	}
	if diff < 0.01 {
		// good guess: refine once more off the ladder head
		grid, _, i, err = ev.eval(grid[0].Price*(pprice/grid[i].PPrice), psize)
		if err != nil {
			return nil, err
		}
		return grid[i+1:], nil
	}
	// no close match; assume partial fill of the first rung exceeding psize
	k := 0
	for k < len(grid)-1 && math.Abs(grid[k].PSize) <= absPSize*0.99999 {
		k++
	}
	if k == 0 {
		// position smaller than even the initial quantity: shrink rung 0
		minIQty := in.MinEntryQty(grid[0].Price)
		if side == Long {
			grid[0].Qty = math.Max(minIQty, exchange.Round(grid[0].Qty-psize, in.QtyStep))
		} else {
			grid[0].Qty = -math.Max(minIQty, exchange.Round(math.Abs(grid[0].Qty)-absPSize, in.QtyStep))
		}
		grid[0].PSize = exchange.Round(psize+grid[0].Qty, in.QtyStep)
		grid[0].WalletExposure = in.QtyToCost(grid[0].PSize, grid[0].PPrice) / balance
		return grid, nil
	}
	if math.Abs(grid[k].PSize) <= absPSize*0.99999 {
		// position has exceeded ladder capacity
		return []GridNode{}, nil
	}
	for n := 0; n < 5; n++ {
		// rebuild as if the partial fill were a full fill, until k stabilises
		remainingQty := exchange.Round(grid[k].PSize-psize, in.QtyStep)
		npsize, npprice := in.NewPSizePPrice(psize, pprice, remainingQty, grid[k].Price)
		grid, diff, i, err = ev.eval(npprice, npsize)
		if err != nil {
			return nil, err
		}
		if k >= len(grid) {
			k = len(grid) - 1
			continue
		}
		grid, diff, i, err = ev.eval(npprice*(npprice/grid[k].PPrice), npsize)
		if err != nil {
			return nil, err
		}
		k = 0
		for k < len(grid)-1 && math.Abs(grid[k].PSize) <= absPSize*0.99999 {
			k++
		}
	}
	minEntryQty := in.MinEntryQty(grid[k].Price)
	if side == Long {
		grid[k].Qty = math.Max(minEntryQty, exchange.Round(grid[k].PSize-psize, in.QtyStep))
	} else {
		grid[k].Qty = -math.Max(minEntryQty, exchange.Round(math.Abs(grid[k].PSize)-absPSize, in.QtyStep))
	}
	return grid[k:], nil
}
