package grid

import (
	"math"

	"github.com/evdnx/gridbot/config"
	"github.com/evdnx/gridbot/exchange"
	"github.com/evdnx/gridbot/types"
)

// LongCloses derives the long close ladder: markup-spaced take-profit prices
// above pprice, with an optional auto-unstuck close prepended when wallet
// exposure has crossed its threshold.
func (pl *Planner) LongCloses(balance, psize, pprice, lowestAsk, emaBandUpper float64, p config.SideParams) []types.Order {
	in := pl.Inst
	if psize == 0.0 {
		return noOrder()
	}
	minm := pprice * (1 + p.MinMarkup)
	var closePrices []float64
	for _, raw := range linspace(minm, pprice*(1+p.MinMarkup+p.MarkupRange), int(math.Round(p.NCloseOrders))) {
		price := exchange.RoundUp(raw, in.PriceStep)
		if price >= lowestAsk {
			closePrices = append(closePrices, price)
		}
	}
	psizeLeft := exchange.RoundDn(psize, in.QtyStep)
	var closes []types.Order
	if len(closePrices) == 0 {
		return []types.Order{{Qty: -psize, Price: lowestAsk, Tag: types.TagLongNClose}}
	}
	walletExposure := in.QtyToCost(psize, pprice) / balance
	threshold := p.WalletExposureLimit * (1 - p.AutoUnstuckWalletExposureThreshold)
	if p.AutoUnstuckWalletExposureThreshold != 0.0 && walletExposure > threshold {
		unstuckClosePrice := math.Max(lowestAsk,
			exchange.RoundUp(emaBandUpper*(1+p.AutoUnstuckEMADist), in.PriceStep))
		if unstuckClosePrice < closePrices[0] {
			unstuckCloseQty := pl.findCloseQtyBringingWalletExposureToTarget(
				Long, balance, psizeLeft, pprice, threshold*1.01, unstuckClosePrice)
			minEntryQty := in.MinEntryQty(unstuckClosePrice)
			if unstuckCloseQty >= minEntryQty {
				psizeLeft = exchange.Round(psizeLeft-unstuckCloseQty, in.QtyStep)
				if psizeLeft < minEntryQty {
					// close whole pos, leftovers included
					return []types.Order{{
						Qty:   -exchange.RoundDn(psize, in.QtyStep),
						Price: unstuckClosePrice,
						Tag:   types.TagLongUnstuckClose,
					}}
				}
				closes = append(closes, types.Order{
					Qty: -unstuckCloseQty, Price: unstuckClosePrice, Tag: types.TagLongUnstuckClose})
			}
		}
	}
	if len(closePrices) == 1 {
		if psizeLeft >= in.MinEntryQty(closePrices[0]) {
			closes = append(closes, types.Order{
				Qty: -psizeLeft, Price: closePrices[0], Tag: types.TagLongNClose})
		}
		return closes
	}
	defaultCloseQty := exchange.RoundDn(psizeLeft/float64(len(closePrices)), in.QtyStep)
	for _, price := range closePrices[:len(closePrices)-1] {
		minCloseQty := in.MinEntryQty(price)
		if psizeLeft < minCloseQty {
			break
		}
		closeQty := math.Min(psizeLeft, math.Max(minCloseQty, defaultCloseQty))
		closes = append(closes, types.Order{Qty: -closeQty, Price: price, Tag: types.TagLongNClose})
		psizeLeft = exchange.Round(psizeLeft-closeQty, in.QtyStep)
	}
	minCloseQty := in.MinEntryQty(closePrices[len(closePrices)-1])
	if psizeLeft >= minCloseQty {
		closes = append(closes, types.Order{
			Qty: -psizeLeft, Price: closePrices[len(closePrices)-1], Tag: types.TagLongNClose})
	} else if len(closes) > 0 {
		last := &closes[len(closes)-1]
		last.Qty = -exchange.Round(math.Abs(last.Qty)+psizeLeft, in.QtyStep)
	}
	return closes
}

// ShortCloses derives the short close ladder: markup-spaced prices below
// pprice. Dust positions on spot markets are left alone; positions below half
// the initial quantity are closed whole at breakeven or better.
func (pl *Planner) ShortCloses(balance, psize, pprice, highestBid, emaBandLower float64, p config.SideParams) []types.Order {
	in := pl.Inst
	if psize == 0.0 {
		return noOrder()
	}
	minm := pprice * (1 - p.MinMarkup)
	absPSize := math.Abs(psize)
	if in.Spot && exchange.RoundDn(absPSize, in.QtyStep) < in.MinEntryQty(minm) {
		return noOrder()
	}
	if absPSize < in.CostToQty(balance, pprice)*p.WalletExposureLimit*p.InitialQtyPct*0.5 {
		// close entire pos at breakeven or better if psize < initial_qty * 0.5;
		// assumes maker fee rate 0.001 for spot, 0.0002 for futures
		breakevenMarkup := 0.00041
		if in.Spot {
			breakevenMarkup = 0.0021
		}
		closePrice := math.Min(highestBid,
			exchange.RoundDn(pprice*(1-breakevenMarkup), in.PriceStep))
		return []types.Order{{
			Qty: exchange.Round(absPSize, in.QtyStep), Price: closePrice, Tag: types.TagShortNClose}}
	}
	var closePrices []float64
	for _, raw := range linspace(minm, pprice*(1-p.MinMarkup-p.MarkupRange), int(p.NCloseOrders)) {
		price := exchange.RoundDn(raw, in.PriceStep)
		if price <= highestBid {
			closePrices = append(closePrices, price)
		}
	}
	if len(closePrices) == 0 {
		return []types.Order{{
			Qty: exchange.Round(absPSize, in.QtyStep), Price: highestBid, Tag: types.TagShortNClose}}
	}
	if len(closePrices) == 1 {
		return []types.Order{{
			Qty: exchange.Round(absPSize, in.QtyStep), Price: closePrices[0], Tag: types.TagShortNClose}}
	}
	var shortCloses []types.Order
	walletExposure := in.QtyToCost(psize, pprice) / balance
	threshold := p.WalletExposureLimit * (1 - p.AutoUnstuckWalletExposureThreshold)
	if p.AutoUnstuckWalletExposureThreshold != 0.0 && walletExposure > threshold {
		unstuckPrice := math.Min(highestBid,
			exchange.RoundDn(emaBandLower*(1-p.AutoUnstuckEMADist), in.PriceStep))
		if unstuckPrice > closePrices[0] {
			unstuckQty := pl.findCloseQtyBringingWalletExposureToTarget(
				Short, balance, psize, pprice, threshold*1.01, unstuckPrice)
			if unstuckQty >= in.MinEntryQty(unstuckPrice) {
				shortCloses = append(shortCloses, types.Order{
					Qty: unstuckQty, Price: unstuckPrice, Tag: types.TagShortUnstuckClose})
				absPSize = math.Max(0.0, exchange.Round(absPSize-unstuckQty, in.QtyStep))
			}
		}
	}
	minCloseQty := in.MinEntryQty(closePrices[0])
	defaultQty := exchange.RoundDn(absPSize/float64(len(closePrices)), in.QtyStep)
	if defaultQty == 0.0 {
		return []types.Order{{
			Qty: exchange.Round(absPSize, in.QtyStep), Price: closePrices[0], Tag: types.TagShortNClose}}
	}
	defaultQty = math.Max(minCloseQty, defaultQty)
	remaining := exchange.Round(absPSize, in.QtyStep)
	for _, closePrice := range closePrices {
		enoughLeft := math.Max(minCloseQty, math.Max(
			in.CostToQty(balance, closePrice)*p.WalletExposureLimit*p.InitialQtyPct*0.5,
			defaultQty*0.5))
		if remaining < enoughLeft {
			break
		}
		closeQty := math.Min(remaining, math.Max(defaultQty, minCloseQty))
		shortCloses = append(shortCloses, types.Order{
			Qty: closeQty, Price: closePrice, Tag: types.TagShortNClose})
		remaining = exchange.Round(remaining-closeQty, in.QtyStep)
	}
	if remaining != 0.0 {
		if len(shortCloses) > 0 {
			last := &shortCloses[len(shortCloses)-1]
			last.Qty = exchange.Round(last.Qty+remaining, in.QtyStep)
		} else {
			shortCloses = []types.Order{{
				Qty: absPSize, Price: closePrices[0], Tag: types.TagShortNClose}}
		}
	}
	return shortCloses
}
