package testutils

import "github.com/evdnx/gridbot/types"

// FlatTicks generates n one-second ticks at a constant price, starting at
// startTS milliseconds. Every tick carries unit size so nothing is skipped as
// a no-trade bucket.
func FlatTicks(startTS float64, n int, price float64) []types.Tick {
	out := make([]types.Tick, n)
	for i := range out {
		out[i] = types.Tick{Timestamp: startTS + float64(i)*1000, Qty: 1, Price: price}
	}
	return out
}

// RampTicks generates n one-second ticks walking linearly from startPrice to
// endPrice.
func RampTicks(startTS float64, n int, startPrice, endPrice float64) []types.Tick {
	out := make([]types.Tick, n)
	step := 0.0
	if n > 1 {
		step = (endPrice - startPrice) / float64(n-1)
	}
	for i := range out {
		out[i] = types.Tick{
			Timestamp: startTS + float64(i)*1000,
			Qty:       1,
			Price:     startPrice + float64(i)*step,
		}
	}
	return out
}
