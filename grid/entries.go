package grid

import (
	"math"

	"github.com/evdnx/gridbot/config"
	"github.com/evdnx/gridbot/exchange"
	"github.com/evdnx/gridbot/logger"
	"github.com/evdnx/gridbot/types"
)

// noOrder is the sentinel ladder: a single empty order.
func noOrder() []types.Order {
	return []types.Order{{}}
}

// LongEntries derives the long entry ladder from the current account state,
// the best bid, and the lower EMA band extremum.
func (pl *Planner) LongEntries(balance, psize, pprice, highestBid, emaBandLower float64, p config.SideParams) ([]types.Order, error) {
	in := pl.Inst
	minEntryQty := in.MinEntryQty(highestBid)
	if !p.Enabled && psize <= minEntryQty {
		return noOrder(), nil
	}
	if psize == 0.0 {
		entryPrice := math.Min(highestBid,
			exchange.RoundDn(emaBandLower*(1-p.InitialEPriceEMADist), in.PriceStep))
		entryQty := initialEntryQty(in, balance, entryPrice, p.WalletExposureLimit, p.InitialQtyPct)
		return []types.Order{{Qty: entryQty, Price: entryPrice, Tag: types.TagLongIEntry}}, nil
	}
	walletExposure := in.QtyToCost(psize, pprice) / balance
	if walletExposure >= p.WalletExposureLimit {
		return noOrder(), nil
	}
	if p.AutoUnstuckWalletExposureThreshold != 0.0 {
		threshold := p.WalletExposureLimit * (1 - p.AutoUnstuckWalletExposureThreshold) * 0.99
		if walletExposure > threshold {
			unstuckPrice := math.Min(highestBid,
				exchange.RoundDn(emaBandLower*(1-p.AutoUnstuckEMADist), in.PriceStep))
			unstuckQty := pl.findEntryQtyBringingWalletExposureToTarget(
				balance, psize, pprice, p.WalletExposureLimit, unstuckPrice)
			return []types.Order{{Qty: unstuckQty, Price: unstuckPrice, Tag: types.TagLongUnstuckEntry}}, nil
		}
	}
	grid, err := pl.approximateGrid(Long, balance, psize, pprice, p)
	if err != nil {
		return nil, err
	}
	if len(grid) == 0 {
		return noOrder(), nil
	}
	if exchange.Diff(grid[0].PPrice, grid[0].Price) < 0.00001 {
		// ladder head sits on pprice: initial entry was partially filled
		entryPrice := math.Min(highestBid,
			exchange.RoundDn(emaBandLower*(1-p.InitialEPriceEMADist), in.PriceStep))
		minEntryQty = in.MinEntryQty(entryPrice)
		maxEntryQty := exchange.Round(
			in.CostToQty(balance*p.WalletExposureLimit*p.InitialQtyPct, entryPrice), in.QtyStep)
		entryQty := math.Max(minEntryQty, math.Min(maxEntryQty, grid[0].Qty))
		if in.QtyToCost(entryQty, entryPrice)/balance > p.WalletExposureLimit*1.1 {
			pl.Log.Warn("abnormally large partial initial entry",
				logger.Float64("qty", entryQty),
				logger.Float64("price", entryPrice),
				logger.Float64("balance", balance),
				logger.Float64("psize", psize),
				logger.Float64("pprice", pprice),
				logger.Float64("wallet_exposure_limit", p.WalletExposureLimit))
		}
		return []types.Order{{Qty: entryQty, Price: entryPrice, Tag: types.TagLongIEntry}}, nil
	}
	var entries []types.Order
	for i := range grid {
		if grid[i].PSize < psize*1.05 || grid[i].Price > pprice*0.9995 {
			continue
		}
		if grid[i].WalletExposure > p.WalletExposureLimit*1.01 {
			break
		}
		entryPrice := math.Min(highestBid, grid[i].Price)
		minEntryQty = in.MinEntryQty(entryPrice)
		grid[i].Price = entryPrice
		grid[i].Qty = math.Max(minEntryQty, grid[i].Qty)
		tag := types.TagLongPrimaryREntry
		if i == len(grid)-1 && p.SecondaryAllocation > 0.05 {
			tag = types.TagLongSecondREntry
		}
		if len(entries) == 0 || entries[len(entries)-1].Price != entryPrice {
			entries = append(entries, types.Order{Qty: grid[i].Qty, Price: grid[i].Price, Tag: tag})
		}
	}
	if len(entries) == 0 {
		return noOrder(), nil
	}
	return entries, nil
}

// ShortEntries derives the short entry ladder from the current account state,
// the best ask, and the upper EMA band extremum.
func (pl *Planner) ShortEntries(balance, psize, pprice, lowestAsk, emaBandUpper float64, p config.SideParams) ([]types.Order, error) {
	in := pl.Inst
	minEntryQty := in.MinEntryQty(lowestAsk)
	absPSize := math.Abs(psize)
	if !p.Enabled && absPSize <= minEntryQty {
		return noOrder(), nil
	}
	if psize == 0.0 {
		entryPrice := math.Max(lowestAsk,
			exchange.RoundUp(emaBandUpper*(1+p.InitialEPriceEMADist), in.PriceStep))
		entryQty := initialEntryQty(in, balance, entryPrice, p.WalletExposureLimit, p.InitialQtyPct)
		return []types.Order{{Qty: -entryQty, Price: entryPrice, Tag: types.TagShortIEntry}}, nil
	}
	walletExposure := in.QtyToCost(psize, pprice) / balance
	if walletExposure >= p.WalletExposureLimit {
		return noOrder(), nil
	}
	if p.AutoUnstuckWalletExposureThreshold != 0.0 {
		threshold := p.WalletExposureLimit * (1 - p.AutoUnstuckWalletExposureThreshold) * 0.99
		if walletExposure > threshold {
			unstuckPrice := math.Max(lowestAsk,
				exchange.RoundUp(emaBandUpper*(1+p.AutoUnstuckEMADist), in.PriceStep))
			unstuckQty := pl.findEntryQtyBringingWalletExposureToTarget(
				balance, psize, pprice, p.WalletExposureLimit, unstuckPrice)
			return []types.Order{{Qty: -unstuckQty, Price: unstuckPrice, Tag: types.TagShortUnstuckEntry}}, nil
		}
	}
	grid, err := pl.approximateGrid(Short, balance, psize, pprice, p)
	if err != nil {
		return nil, err
	}
	if len(grid) == 0 {
		return noOrder(), nil
	}
	if exchange.Diff(grid[0].PPrice, grid[0].Price) < 0.00001 {
		// ladder head sits on pprice: initial entry was partially filled
		entryPrice := math.Max(lowestAsk,
			exchange.RoundUp(emaBandUpper*(1+p.InitialEPriceEMADist), in.PriceStep))
		minEntryQty = in.MinEntryQty(entryPrice)
		maxEntryQty := exchange.Round(
			in.CostToQty(balance*p.WalletExposureLimit*p.InitialQtyPct, entryPrice), in.QtyStep)
		entryQty := -math.Max(minEntryQty, math.Min(maxEntryQty, math.Abs(grid[0].Qty)))
		if in.QtyToCost(entryQty, entryPrice)/balance > p.WalletExposureLimit*1.1 {
			pl.Log.Warn("abnormally large partial initial entry",
				logger.Float64("qty", entryQty),
				logger.Float64("price", entryPrice),
				logger.Float64("balance", balance),
				logger.Float64("psize", psize),
				logger.Float64("pprice", pprice),
				logger.Float64("wallet_exposure_limit", p.WalletExposureLimit))
		}
		return []types.Order{{Qty: entryQty, Price: entryPrice, Tag: types.TagShortIEntry}}, nil
	}
	var entries []types.Order
	for i := range grid {
		if grid[i].PSize > psize*1.05 || grid[i].Price < pprice*0.9995 {
			continue
		}
		entryPrice := math.Max(lowestAsk, grid[i].Price)
		minEntryQty = in.MinEntryQty(entryPrice)
		grid[i].Price = entryPrice
		grid[i].Qty = -math.Max(minEntryQty, math.Abs(grid[i].Qty))
		tag := types.TagShortPrimaryREntry
		if i == len(grid)-1 && p.SecondaryAllocation > 0.05 {
			tag = types.TagShortSecondREntry
		}
		if len(entries) == 0 || entries[len(entries)-1].Price != entryPrice {
			entries = append(entries, types.Order{Qty: grid[i].Qty, Price: grid[i].Price, Tag: tag})
		}
	}
	if len(entries) == 0 {
		return noOrder(), nil
	}
	return entries, nil
}
