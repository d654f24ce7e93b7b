package grid

import (
	"math"

	"github.com/evdnx/gridbot/exchange"
	"github.com/evdnx/gridbot/logger"
	"github.com/evdnx/gridbot/metrics"
)

// Solver bounds. Every inverter seeds two guesses, iterates linear
// interpolation at most maxSolverIters times, exits early below
// solverCloseEnough relative error, and reports a divergence diagnostic when
// the best guess misses solverDivergence.
const (
	maxSolverIters    = 15
	solverCloseEnough = 0.04
	solverDivergence  = 0.15
)

// findCloseQtyBringingWalletExposureToTarget finds the close quantity that
// brings wallet exposure down to target when executed at closePrice. Returns
// 0 when exposure is at most 0.1% above target (including any exposure below
// it); otherwise the best-seen guess. The long side expands stalled guesses more aggressively than the
// short side.
func (pl *Planner) findCloseQtyBringingWalletExposureToTarget(side Side, balance, psize, pprice, target, closePrice float64) float64 {
	in := pl.Inst
	walletExposure := in.QtyToCost(psize, pprice) / balance
	if walletExposure <= target*1.001 {
		// exposure at most 0.1% above target: nothing to close
		return 0.0
	}
	pnl := in.LongPnL
	growFactor, growSteps := 2.0, 10.0
	if side == Short {
		pnl = in.ShortPnL
		growFactor, growSteps = 1.1, 1.0
	}
	absPSize := math.Abs(psize)
	eval := func(guess float64) float64 {
		return in.QtyToCost(absPSize-guess, pprice) /
			(balance + pnl(pprice, closePrice, guess))
	}
	clamp := func(guess float64) float64 {
		return math.Min(absPSize, math.Max(0.0, exchange.Round(guess, in.QtyStep)))
	}

	guesses := make([]float64, 0, maxSolverIters+2)
	vals := make([]float64, 0, maxSolverIters+2)
	evals := make([]float64, 0, maxSolverIters+2)
	push := func(guess float64) {
		guesses = append(guesses, guess)
		vals = append(vals, eval(guess))
		evals = append(evals, math.Abs(vals[len(vals)-1]-target)/target)
	}

	push(clamp(absPSize * (target / walletExposure)))
	next := clamp(math.Max(guesses[0]*1.2, guesses[0]+in.QtyStep))
	if next == guesses[0] {
		next = clamp(math.Min(guesses[0]*0.8, guesses[0]-in.QtyStep))
	}
	push(next)
	for i := 0; i < maxSolverIters; i++ {
		n := len(guesses)
		if guesses[n-1] == guesses[n-2] || vals[n-1] == vals[n-2] {
			guesses[n-1] = math.Min(absPSize, math.Abs(exchange.Round(
				math.Max(guesses[n-2]*growFactor, guesses[n-2]+in.QtyStep*growSteps), in.QtyStep)))
			vals[n-1] = eval(guesses[n-1])
		}
		newGuess := interpolate(target, vals[n-2:], guesses[n-2:])
		if math.IsNaN(newGuess) || math.IsInf(newGuess, 0) {
			pl.Log.Warn("close qty solver: degenerate interpolation",
				logger.String("side", side.String()),
				logger.Float64("balance", balance),
				logger.Float64("psize", psize),
				logger.Float64("pprice", pprice),
				logger.Float64("target", target),
				logger.Float64("close_price", closePrice))
			newGuess = exchange.Round(absPSize/2, in.QtyStep)
		}
		push(clamp(newGuess))
		if evals[len(evals)-1] < solverCloseEnough {
			break
		}
	}

	bestEval, bestGuess := evals[0], guesses[0]
	for i := 1; i < len(evals); i++ {
		if evals[i] < bestEval {
			bestEval, bestGuess = evals[i], guesses[i]
		}
	}
	if bestEval > solverDivergence {
		metrics.SolverDivergences.WithLabelValues("close_qty_" + side.String()).Inc()
		pl.Log.Warn("close qty solver diverged",
			logger.String("side", side.String()),
			logger.Float64("balance", balance),
			logger.Float64("psize", psize),
			logger.Float64("pprice", pprice),
			logger.Float64("wallet_exposure", walletExposure),
			logger.Float64("target", target),
			logger.Float64("close_price", closePrice),
			logger.Float64("best_eval", bestEval),
			logger.Int("n_tries", len(guesses)))
	}
	return bestGuess
}

// findEntryQtyBringingWalletExposureToTarget finds the entry quantity that
// lifts wallet exposure up to target when filled at entryPrice. Returns 0
// when exposure is at most 1% below target (including any exposure above
// it); otherwise the best-seen guess.
func (pl *Planner) findEntryQtyBringingWalletExposureToTarget(balance, psize, pprice, target, entryPrice float64) float64 {
	in := pl.Inst
	walletExposure := in.QtyToCost(psize, pprice) / balance
	if walletExposure >= target*0.99 {
		// exposure already no more than 1% below target
		return 0.0
	}
	eval := func(guess float64) float64 {
		return in.WalletExposureIfFilled(balance, psize, pprice, guess, entryPrice)
	}

	guesses := make([]float64, 0, maxSolverIters+2)
	vals := make([]float64, 0, maxSolverIters+2)
	evals := make([]float64, 0, maxSolverIters+2)
	push := func(guess float64) {
		guesses = append(guesses, guess)
		vals = append(vals, eval(guess))
		evals = append(evals, math.Abs(vals[len(vals)-1]-target)/target)
	}

	push(exchange.Round(math.Abs(psize)*target/walletExposure, in.QtyStep))
	push(math.Max(0.0, exchange.Round(math.Max(guesses[0]*1.2, guesses[0]+in.QtyStep), in.QtyStep)))
	for i := 0; i < maxSolverIters; i++ {
		n := len(guesses)
		if guesses[n-1] == guesses[n-2] {
			guesses[n-1] = math.Abs(exchange.Round(
				math.Max(guesses[n-2]*1.1, guesses[n-2]+in.QtyStep), in.QtyStep))
			vals[n-1] = eval(guesses[n-1])
		}
		push(math.Max(0.0, exchange.Round(
			interpolate(target, vals[n-2:], guesses[n-2:]), in.QtyStep)))
		if evals[len(evals)-1] < solverCloseEnough {
			break
		}
	}

	bestEval, bestGuess := evals[0], guesses[0]
	for i := 1; i < len(evals); i++ {
		if evals[i] < bestEval {
			bestEval, bestGuess = evals[i], guesses[i]
		}
	}
	if bestEval > solverDivergence {
		metrics.SolverDivergences.WithLabelValues("entry_qty").Inc()
		pl.Log.Warn("entry qty solver diverged",
			logger.Float64("balance", balance),
			logger.Float64("psize", psize),
			logger.Float64("pprice", pprice),
			logger.Float64("wallet_exposure", walletExposure),
			logger.Float64("target", target),
			logger.Float64("entry_price", entryPrice),
			logger.Float64("best_eval", bestEval))
	}
	return bestGuess
}

// findEPricePPriceDiffWalletExposureWeighting picks the exposure weighting so
// that the ladder's terminal cumulative exposure hits the side's limit. It
// brackets a monotone function between weighting 0 (exposure at or above the
// limit; otherwise 0 is returned as is) and progressively 1e3/1e4/1e5 (larger
// weightings lower the exposure), interpolates once, then bisects.
func (pl *Planner) findEPricePPriceDiffWalletExposureWeighting(side Side, balance, initialEntryPrice float64, gs gridSpec, eprices []float64, prevPPrice float64) float64 {
	const (
		maxNIters      = 20
		errorTolerance = 0.01
	)
	eval := func(guess float64) float64 {
		g := pl.evalEntryGrid(side, balance, initialEntryPrice, gs, guess, eprices, prevPPrice)
		return g[len(g)-1].WalletExposure
	}

	guess := 0.0
	val := eval(guess)
	if val < gs.wel {
		return guess
	}
	tooLowGuess, tooLowVal := guess, val
	guess = 1000.0
	val = eval(guess)
	if val > gs.wel {
		guess = 10000.0
		val = eval(guess)
		if val > gs.wel {
			guess = 100000.0
			val = eval(guess)
			if val > gs.wel {
				return guess
			}
		}
	}
	tooHighGuess, tooHighVal := guess, val
	guess = interpolate(gs.wel,
		[]float64{tooLowGuess, tooHighGuess},
		[]float64{tooLowVal, tooHighVal})
	val = eval(guess)
	if val < gs.wel {
		tooHighGuess, tooHighVal = guess, val
	} else {
		tooLowGuess, tooLowVal = guess, val
	}

	oldGuess := 0.0
	bestDiff := math.Abs(val-gs.wel) / gs.wel
	bestGuess := guess
	for i := 1; ; i++ {
		diff := math.Abs(val-gs.wel) / gs.wel
		if diff < bestDiff {
			bestDiff, bestGuess = diff, guess
		}
		if diff < errorTolerance {
			return bestGuess
		}
		if i >= maxNIters || math.Abs(oldGuess-guess)/guess < errorTolerance*0.1 {
			return bestGuess
		}
		oldGuess = guess
		guess = (tooHighGuess + tooLowGuess) / 2
		val = eval(guess)
		if val < gs.wel {
			tooHighGuess, tooHighVal = guess, val
		} else {
			tooLowGuess, tooLowVal = guess, val
		}
	}
}
