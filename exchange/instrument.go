package exchange

import "math"

// Instrument describes the traded contract. It is immutable for the duration
// of a simulation run.
type Instrument struct {
	QtyStep   float64 `mapstructure:"qty_step" yaml:"qty_step"`
	PriceStep float64 `mapstructure:"price_step" yaml:"price_step"`
	MinQty    float64 `mapstructure:"min_qty" yaml:"min_qty"`
	MinCost   float64 `mapstructure:"min_cost" yaml:"min_cost"`
	CMult     float64 `mapstructure:"c_mult" yaml:"c_mult"`
	MakerFee  float64 `mapstructure:"maker_fee" yaml:"maker_fee"`
	Inverse   bool    `mapstructure:"inverse" yaml:"inverse"`
	Spot      bool    `mapstructure:"spot" yaml:"spot"`
}

// CostToQty converts a cost into a contract quantity at the given price.
// A zero price yields zero instead of failing.
func (in Instrument) CostToQty(cost, price float64) float64 {
	if in.Inverse {
		return cost * price / in.CMult
	}
	if price > 0.0 {
		return cost / price
	}
	return 0.0
}

// QtyToCost converts a quantity into its absolute cost at the given price.
func (in Instrument) QtyToCost(qty, price float64) float64 {
	if in.Inverse {
		if price > 0.0 {
			return math.Abs(qty/price) * in.CMult
		}
		return 0.0
	}
	return math.Abs(qty * price)
}

// MinEntryQty is the smallest admissible entry quantity at the given price.
// Linear instruments honour both min_qty and min_cost; inverse instruments
// use min_qty alone.
func (in Instrument) MinEntryQty(price float64) float64 {
	if in.Inverse {
		return in.MinQty
	}
	costQty := 0.0
	if price > 0.0 {
		costQty = in.MinCost / price
	}
	return math.Max(in.MinQty, RoundUp(costQty, in.QtyStep))
}

// LongPnL is the realised profit of closing qty of a long at closePrice that
// was entered at entryPrice.
func (in Instrument) LongPnL(entryPrice, closePrice, qty float64) float64 {
	if in.Inverse {
		if entryPrice == 0.0 || closePrice == 0.0 {
			return 0.0
		}
		return math.Abs(qty) * in.CMult * (1.0/entryPrice - 1.0/closePrice)
	}
	return math.Abs(qty) * (closePrice - entryPrice)
}

// ShortPnL is the realised profit of closing qty of a short at closePrice.
func (in Instrument) ShortPnL(entryPrice, closePrice, qty float64) float64 {
	if in.Inverse {
		if entryPrice == 0.0 || closePrice == 0.0 {
			return 0.0
		}
		return math.Abs(qty) * in.CMult * (1.0/closePrice - 1.0/entryPrice)
	}
	return math.Abs(qty) * (entryPrice - closePrice)
}

// NewPSizePPrice returns position size and volume-weighted price after a fill
// of qty at price. A fill that zeroes the position resets the price to 0; a
// NaN pprice is treated as 0 to bootstrap the first entry.
func (in Instrument) NewPSizePPrice(psize, pprice, qty, price float64) (float64, float64) {
	if qty == 0.0 {
		return psize, pprice
	}
	newPSize := Round(psize+qty, in.QtyStep)
	if newPSize == 0.0 {
		return 0.0, 0.0
	}
	return newPSize, nanTo0(pprice)*(psize/newPSize) + price*(qty/newPSize)
}

// WalletExposureIfFilled computes the wallet exposure that would result from
// filling qty at price on top of the current position.
func (in Instrument) WalletExposureIfFilled(balance, psize, pprice, qty, price float64) float64 {
	psize = Round(math.Abs(psize), in.QtyStep)
	qty = Round(math.Abs(qty), in.QtyStep)
	newPSize, newPPrice := in.NewPSizePPrice(psize, pprice, qty, price)
	return in.QtyToCost(newPSize, newPPrice) / balance
}

// UPnL is the unrealised profit of both sides at lastPrice.
func (in Instrument) UPnL(longPSize, longPPrice, shortPSize, shortPPrice, lastPrice float64) float64 {
	return in.LongPnL(longPPrice, lastPrice, longPSize) +
		in.ShortPnL(shortPPrice, lastPrice, shortPSize)
}

// Equity is balance plus the unrealised PnL of any open position.
func (in Instrument) Equity(balance, longPSize, longPPrice, shortPSize, shortPPrice, lastPrice float64) float64 {
	equity := balance
	if longPPrice != 0.0 && longPSize != 0.0 {
		equity += in.LongPnL(longPPrice, lastPrice, longPSize)
	}
	if shortPPrice != 0.0 && shortPSize != 0.0 {
		equity += in.ShortPnL(shortPPrice, lastPrice, shortPSize)
	}
	return equity
}

// BankruptcyPrice is the price at which equity reaches zero given the hedged
// position. A degenerate denominator reports 0: this side alone can never go
// bankrupt. The result is clamped at 0 from below.
func (in Instrument) BankruptcyPrice(balance, longPSize, longPPrice, shortPSize, shortPPrice float64) float64 {
	longPPrice = nanTo0(longPPrice)
	shortPPrice = nanTo0(shortPPrice)
	longPSize *= in.CMult
	absShortPSize := math.Abs(shortPSize) * in.CMult
	var bankruptcyPrice float64
	if in.Inverse {
		shortCost := 0.0
		if shortPPrice > 0.0 {
			shortCost = absShortPSize / shortPPrice
		}
		longCost := 0.0
		if longPPrice > 0.0 {
			longCost = longPSize / longPPrice
		}
		denominator := shortCost - longCost - balance
		if denominator == 0.0 {
			return 0.0
		}
		bankruptcyPrice = (absShortPSize - longPSize) / denominator
	} else {
		denominator := longPSize - absShortPSize
		if denominator == 0.0 {
			return 0.0
		}
		bankruptcyPrice = (-balance + longPSize*longPPrice - absShortPSize*shortPPrice) / denominator
	}
	return math.Max(0.0, bankruptcyPrice)
}
