// Package backtest runs the grid strategy against a historical tick series,
// reconstructing order ladders on schedule and filling them against observed
// prices. Given identical ticks and parameters the output is byte-identical
// across runs.
package backtest

import (
	"fmt"
	"math"

	"github.com/evdnx/gridbot/config"
	"github.com/evdnx/gridbot/exchange"
	"github.com/evdnx/gridbot/grid"
	"github.com/evdnx/gridbot/logger"
	"github.com/evdnx/gridbot/metrics"
	"github.com/evdnx/gridbot/types"
)

const (
	// statsIntervalMS is the spacing of equity snapshots.
	statsIntervalMS = 60 * 1000
	// gridRefreshMS is the scheduled ladder rebuild interval.
	gridRefreshMS = 1000 * 60 * 10
	// bankruptcyProximity: a tick this close to the bankruptcy price counts
	// as a liquidation.
	bankruptcyProximity = 0.06
	// equityFloor ends the run when equity falls below this fraction of the
	// starting balance.
	equityFloor = 0.2
)

// Result holds the two output sequences of a run.
type Result struct {
	Fills []types.Fill
	Stats []types.Stat
}

// Engine is a single-use, single-threaded simulator. Separate runs must use
// separate engines; nothing is shared.
type Engine struct {
	cfg     config.BotConfig
	inst    exchange.Instrument
	planner *grid.Planner
	log     logger.Logger
}

// New validates the configuration and builds an engine around it.
func New(cfg config.BotConfig, log logger.Logger) (*Engine, error) {
	if log == nil {
		log = logger.Nop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:     cfg,
		inst:    cfg.Exchange,
		planner: grid.NewPlanner(cfg.Exchange, log),
		log:     log,
	}, nil
}

func min3(v [3]float64) float64 {
	return math.Min(v[0], math.Min(v[1], v[2]))
}

func max3(v [3]float64) float64 {
	return math.Max(v[0], math.Max(v[1], v[2]))
}

func emptyLadder() []types.Order {
	return []types.Order{{}}
}

// Run simulates the configured strategy over ticks and returns every fill and
// the per-minute stats. The run ends on tick exhaustion, on equity falling
// below 20% of the starting balance, or on bankruptcy; all three return the
// accumulated output.
func (e *Engine) Run(ticks []types.Tick) (*Result, error) {
	in := e.inst
	cfg := e.cfg
	doLong, doShort := cfg.Long.Enabled, cfg.Short.Enabled

	for i := range ticks {
		if !isFinite(ticks[i].Timestamp) || !isFinite(ticks[i].Qty) || !isFinite(ticks[i].Price) {
			return nil, fmt.Errorf("non-finite tick at index %d", i)
		}
	}

	spansLong := [3]float64{1, 1, 1}
	if doLong {
		spansLong = [3]float64{
			cfg.Long.EMASpanMin * 60,
			math.Sqrt(cfg.Long.EMASpanMin*cfg.Long.EMASpanMax) * 60,
			cfg.Long.EMASpanMax * 60,
		}
	}
	spansShort := [3]float64{1, 1, 1}
	if doShort {
		spansShort = [3]float64{
			cfg.Short.EMASpanMin * 60,
			math.Sqrt(cfg.Short.EMASpanMin*cfg.Short.EMASpanMax) * 60,
			cfg.Short.EMASpanMax * 60,
		}
	}
	if max3(spansLong) >= float64(len(ticks)) {
		return nil, fmt.Errorf("long ema span (%f ticks) not smaller than tick count %d", max3(spansLong), len(ticks))
	}
	if max3(spansShort) >= float64(len(ticks)) {
		return nil, fmt.Errorf("short ema span (%f ticks) not smaller than tick count %d", max3(spansShort), len(ticks))
	}
	for j := range spansLong {
		spansLong[j] = math.Max(1, spansLong[j])
		spansShort[j] = math.Max(1, spansShort[j])
	}
	maxSpan := int(math.Round(math.Max(max3(spansLong), max3(spansShort))))

	var emasLong, emasShort [3]float64
	if doLong {
		emasLong = emasLast(ticks[:maxSpan], spansLong)
	}
	if doShort {
		emasShort = emasLast(ticks[:maxSpan], spansShort)
	}
	var alphasLong, alphasLong_, alphasShort, alphasShort_ [3]float64
	for j := 0; j < 3; j++ {
		alphasLong[j] = 2 / (spansLong[j] + 1)
		alphasLong_[j] = 1 - alphasLong[j]
		alphasShort[j] = 2 / (spansShort[j] + 1)
		alphasShort_[j] = 1 - alphasShort[j]
	}

	startingBalance := cfg.StartingBalance
	balance, balanceLong, balanceShort := startingBalance, startingBalance, startingBalance
	equity := startingBalance
	longPSize, longPPrice, shortPSize, shortPPrice := 0.0, 0.0, 0.0, 0.0
	bkrPrice := 0.0
	closestBkr := 1.0
	latency := cfg.LatencyMS

	longEntries, longCloses := emptyLadder(), emptyLadder()
	shortEntries, shortCloses := emptyLadder(), emptyLadder()

	nextEntryUpdateLong, nextEntryUpdateShort := 0.0, 0.0
	nextCloseUpdateLong, nextCloseUpdateShort := 0.0, 0.0
	nextStatsUpdate := 0.0

	longWalletExposure, shortWalletExposure := 0.0, 0.0
	longUnstuckThreshold := cfg.Long.WalletExposureLimit * 10
	if cfg.Long.AutoUnstuckWalletExposureThreshold != 0.0 {
		longUnstuckThreshold = cfg.Long.WalletExposureLimit * (1 - cfg.Long.AutoUnstuckWalletExposureThreshold)
	}
	shortUnstuckThreshold := cfg.Short.WalletExposureLimit * 10
	if cfg.Short.AutoUnstuckWalletExposureThreshold != 0.0 {
		shortUnstuckThreshold = cfg.Short.WalletExposureLimit * (1 - cfg.Short.AutoUnstuckWalletExposureThreshold)
	}

	var fills []types.Fill
	var stats []types.Stat

	for k := maxSpan; k < len(ticks); k++ {
		price := ticks[k].Price
		ts := ticks[k].Timestamp
		if doLong {
			for j := 0; j < 3; j++ {
				emasLong[j] = emasLong[j]*alphasLong_[j] + price*alphasLong[j]
			}
		}
		if doShort {
			for j := 0; j < 3; j++ {
				emasShort[j] = emasShort[j]*alphasShort_[j] + price*alphasShort[j]
			}
		}
		if ticks[k].Qty == 0.0 {
			// no trade this tick
			continue
		}

		closestBkr = math.Min(closestBkr, exchange.Diff(bkrPrice, price))

		if ts >= nextStatsUpdate {
			equity = balance + in.UPnL(longPSize, longPPrice, shortPSize, shortPPrice, price)
			equityLong := balanceLong + in.LongPnL(longPPrice, price, longPSize)
			equityShort := balanceShort + in.ShortPnL(shortPPrice, price, shortPSize)
			if equity/startingBalance < equityFloor {
				// equity exhausted; end before recording this tick
				return &Result{Fills: fills, Stats: stats}, nil
			}
			stats = append(stats, types.Stat{
				Timestamp:    ts,
				Balance:      balance,
				Equity:       equity,
				BkrPrice:     bkrPrice,
				LongPSize:    longPSize,
				LongPPrice:   longPPrice,
				ShortPSize:   shortPSize,
				ShortPPrice:  shortPPrice,
				Price:        price,
				ClosestBkr:   closestBkr,
				BalanceLong:  balanceLong,
				BalanceShort: balanceShort,
				EquityLong:   equityLong,
				EquityShort:  equityShort,
			})
			nextStatsUpdate = ts + statsIntervalMS
			metrics.BalanceGauge.Set(balance)
			metrics.EquityGauge.Set(equity)
			metrics.ClosestBankruptcy.Set(closestBkr)
		}

		if ts >= nextEntryUpdateLong {
			if doLong {
				var err error
				longEntries, err = e.planner.LongEntries(
					balance, longPSize, longPPrice, ticks[k-1].Price, min3(emasLong), cfg.Long)
				if err != nil {
					return nil, err
				}
			} else {
				longEntries = emptyLadder()
			}
			nextEntryUpdateLong = ts + gridRefreshMS
		}
		if ts >= nextEntryUpdateShort {
			if doShort {
				var err error
				shortEntries, err = e.planner.ShortEntries(
					balance, shortPSize, shortPPrice, ticks[k-1].Price, max3(emasShort), cfg.Short)
				if err != nil {
					return nil, err
				}
			} else {
				shortEntries = emptyLadder()
			}
			nextEntryUpdateShort = ts + gridRefreshMS
		}
		if ts >= nextCloseUpdateLong {
			if doLong {
				longCloses = e.planner.LongCloses(
					balance, longPSize, longPPrice, ticks[k-1].Price, max3(emasLong), cfg.Long)
			} else {
				longCloses = emptyLadder()
			}
			nextCloseUpdateLong = ts + gridRefreshMS
		}
		if ts >= nextCloseUpdateShort {
			if doShort {
				shortCloses = e.planner.ShortCloses(
					balance, shortPSize, shortPPrice, ticks[k-1].Price, min3(emasShort), cfg.Short)
			} else {
				shortCloses = emptyLadder()
			}
			nextCloseUpdateShort = ts + gridRefreshMS
		}

		if closestBkr < bankruptcyProximity {
			// liquidation: wipe both sides and stop
			if longPSize != 0.0 {
				feePaid := -in.QtyToCost(longPSize, longPPrice) * in.MakerFee
				pnl := in.LongPnL(longPPrice, price, -longPSize)
				balance, equity = 0.0, 0.0
				longPSize, longPPrice = 0.0, 0.0
				// the wipe precedes the record
				fills = append(fills, types.Fill{
					Index: k, Timestamp: ts, PnL: pnl, Fee: feePaid,
					Balance: balance, Equity: equity,
					Qty: -longPSize, Price: price, Tag: types.TagLongBankruptcy,
				})
				metrics.FillsTotal.WithLabelValues(types.TagLongBankruptcy).Inc()
			}
			if shortPSize != 0.0 {
				feePaid := -in.QtyToCost(shortPSize, shortPPrice) * in.MakerFee
				pnl := in.ShortPnL(shortPPrice, price, -shortPSize)
				balance, equity = 0.0, 0.0
				shortPSize, shortPPrice = 0.0, 0.0
				fills = append(fills, types.Fill{
					Index: k, Timestamp: ts, PnL: pnl, Fee: feePaid,
					Balance: balance, Equity: equity,
					Qty: -shortPSize, Price: price, Tag: types.TagShortBankruptcy,
				})
				metrics.FillsTotal.WithLabelValues(types.TagShortBankruptcy).Inc()
			}
			metrics.LiquidationsTotal.Inc()
			e.log.Warn("bankruptcy proximity reached, run terminated",
				logger.Float64("closest_bkr", closestBkr),
				logger.Float64("price", price))
			return &Result{Fills: fills, Stats: stats}, nil
		}

		for len(longEntries) > 0 && longEntries[0].Qty > 0.0 && price < longEntries[0].Price {
			nextEntryUpdateLong = math.Min(nextEntryUpdateLong, ts+latency)
			nextCloseUpdateLong = math.Min(nextCloseUpdateLong, ts+latency)
			longPSize, longPPrice = in.NewPSizePPrice(
				longPSize, longPPrice, longEntries[0].Qty, longEntries[0].Price)
			feePaid := -in.QtyToCost(longEntries[0].Qty, longEntries[0].Price) * in.MakerFee
			balance += feePaid
			balanceLong += feePaid
			equity = in.Equity(balance, longPSize, longPPrice, shortPSize, shortPPrice, price)
			fills = append(fills, types.Fill{
				Index: k, Timestamp: ts, Fee: feePaid,
				Balance: balance, Equity: equity,
				Qty: longEntries[0].Qty, Price: longEntries[0].Price,
				PSize: longPSize, PPrice: longPPrice, Tag: longEntries[0].Tag,
			})
			metrics.FillsTotal.WithLabelValues(longEntries[0].Tag).Inc()
			longEntries = longEntries[1:]
			bkrPrice = in.BankruptcyPrice(balance, longPSize, longPPrice, shortPSize, shortPPrice)
			longWalletExposure = in.QtyToCost(longPSize, longPPrice) / balance
		}
		for len(shortEntries) > 0 && shortEntries[0].Qty < 0.0 && price > shortEntries[0].Price {
			nextEntryUpdateShort = math.Min(nextEntryUpdateShort, ts+latency)
			nextCloseUpdateShort = math.Min(nextCloseUpdateShort, ts+latency)
			shortPSize, shortPPrice = in.NewPSizePPrice(
				shortPSize, shortPPrice, shortEntries[0].Qty, shortEntries[0].Price)
			feePaid := -in.QtyToCost(shortEntries[0].Qty, shortEntries[0].Price) * in.MakerFee
			balance += feePaid
			balanceShort += feePaid
			equity = in.Equity(balance, shortPSize, shortPPrice, shortPSize, shortPPrice, price)
			fills = append(fills, types.Fill{
				Index: k, Timestamp: ts, Fee: feePaid,
				Balance: balance, Equity: equity,
				Qty: shortEntries[0].Qty, Price: shortEntries[0].Price,
				PSize: shortPSize, PPrice: shortPPrice, Tag: shortEntries[0].Tag,
			})
			metrics.FillsTotal.WithLabelValues(shortEntries[0].Tag).Inc()
			shortEntries = shortEntries[1:]
			bkrPrice = in.BankruptcyPrice(balance, shortPSize, shortPPrice, shortPSize, shortPPrice)
			shortWalletExposure = in.QtyToCost(shortPSize, shortPPrice) / balance
		}
		for longPSize > 0.0 && len(longCloses) > 0 && longCloses[0].Qty < 0.0 && price > longCloses[0].Price {
			nextEntryUpdateLong = math.Min(nextEntryUpdateLong, ts+latency)
			nextCloseUpdateLong = math.Min(nextCloseUpdateLong, ts+latency)
			longCloseQty := longCloses[0].Qty
			newLongPSize := exchange.Round(longPSize+longCloseQty, in.QtyStep)
			if newLongPSize < 0.0 {
				e.log.Warn("long close qty greater than long psize",
					logger.Float64("psize", longPSize),
					logger.Float64("pprice", longPPrice),
					logger.Float64("close_qty", longCloses[0].Qty),
					logger.Float64("close_price", longCloses[0].Price))
				longCloseQty = -longPSize
				newLongPSize, longPPrice = 0.0, 0.0
			}
			longPSize = newLongPSize
			feePaid := -in.QtyToCost(longCloseQty, longCloses[0].Price) * in.MakerFee
			pnl := in.LongPnL(longPPrice, longCloses[0].Price, longCloseQty)
			balance += feePaid + pnl
			balanceLong += feePaid + pnl
			equity = in.Equity(balance, longPSize, longPPrice, shortPSize, shortPPrice, price)
			fills = append(fills, types.Fill{
				Index: k, Timestamp: ts, PnL: pnl, Fee: feePaid,
				Balance: balance, Equity: equity,
				Qty: longCloseQty, Price: longCloses[0].Price,
				PSize: longPSize, PPrice: longPPrice, Tag: longCloses[0].Tag,
			})
			metrics.FillsTotal.WithLabelValues(longCloses[0].Tag).Inc()
			longCloses = longCloses[1:]
			bkrPrice = in.BankruptcyPrice(balance, longPSize, longPPrice, shortPSize, shortPPrice)
			longWalletExposure = in.QtyToCost(longPSize, longPPrice) / balance
		}
		for shortPSize < 0.0 && len(shortCloses) > 0 && shortCloses[0].Qty > 0.0 && price < shortCloses[0].Price {
			nextEntryUpdateShort = math.Min(nextEntryUpdateShort, ts+latency)
			nextCloseUpdateShort = math.Min(nextCloseUpdateShort, ts+latency)
			shortCloseQty := shortCloses[0].Qty
			newShortPSize := exchange.Round(shortPSize+shortCloseQty, in.QtyStep)
			if newShortPSize > 0.0 {
				e.log.Warn("short close qty less than short psize",
					logger.Float64("psize", shortPSize),
					logger.Float64("pprice", shortPPrice),
					logger.Float64("close_qty", shortCloses[0].Qty),
					logger.Float64("close_price", shortCloses[0].Price))
				shortCloseQty = -shortPSize
				newShortPSize, shortPPrice = 0.0, 0.0
			}
			shortPSize = newShortPSize
			feePaid := -in.QtyToCost(shortCloseQty, shortCloses[0].Price) * in.MakerFee
			pnl := in.ShortPnL(shortPPrice, shortCloses[0].Price, shortCloseQty)
			balance += feePaid + pnl
			balanceShort += feePaid + pnl
			equity = in.Equity(balance, shortPSize, shortPPrice, shortPSize, shortPPrice, price)
			fills = append(fills, types.Fill{
				Index: k, Timestamp: ts, PnL: pnl, Fee: feePaid,
				Balance: balance, Equity: equity,
				Qty: shortCloseQty, Price: shortCloses[0].Price,
				PSize: shortPSize, PPrice: shortPPrice, Tag: shortCloses[0].Tag,
			})
			metrics.FillsTotal.WithLabelValues(shortCloses[0].Tag).Inc()
			shortCloses = shortCloses[1:]
			bkrPrice = in.BankruptcyPrice(balance, shortPSize, shortPPrice, shortPSize, shortPPrice)
			shortWalletExposure = in.QtyToCost(shortPSize, shortPPrice) / balance
		}

		if doLong {
			if longPSize == 0.0 {
				nextEntryUpdateLong = math.Min(nextEntryUpdateLong, ts+latency)
			} else if price > longPPrice {
				nextCloseUpdateLong = math.Min(nextCloseUpdateLong, ts+latency+2500)
			} else if longWalletExposure >= longUnstuckThreshold {
				nextCloseUpdateLong = math.Min(nextCloseUpdateLong, ts+latency+15000)
				nextEntryUpdateLong = math.Min(nextEntryUpdateLong, ts+latency+15000)
			}
		}
		if doShort {
			if shortPSize == 0.0 {
				nextEntryUpdateShort = math.Min(nextEntryUpdateShort, ts+latency)
			} else if price < shortPPrice {
				nextCloseUpdateShort = math.Min(nextCloseUpdateShort, ts+latency+2500)
			} else if shortWalletExposure >= shortUnstuckThreshold {
				nextCloseUpdateShort = math.Min(nextCloseUpdateShort, ts+latency+15000)
				nextEntryUpdateShort = math.Min(nextEntryUpdateShort, ts+latency+15000)
			}
		}
	}

	return &Result{Fills: fills, Stats: stats}, nil
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
