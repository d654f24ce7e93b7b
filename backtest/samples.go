package backtest

import (
	"math"

	"github.com/evdnx/gridbot/types"
)

// Samples resamples raw trades onto a uniform time grid of sampleSizeMS
// buckets. Each bucket accumulates the traded size and carries the last
// traded price; empty buckets inherit the previous bucket's price with zero
// size.
func Samples(ticks []types.Tick, sampleSizeMS float64) []types.Tick {
	if len(ticks) == 0 {
		return nil
	}
	first := math.Floor(ticks[0].Timestamp/sampleSizeMS) * sampleSizeMS
	last := math.Floor(ticks[len(ticks)-1].Timestamp/sampleSizeMS) * sampleSizeMS
	n := int((last-first)/sampleSizeMS) + 1
	samples := make([]types.Tick, n)
	for i := range samples {
		samples[i].Timestamp = first + float64(i)*sampleSizeMS
	}
	ts := samples[0].Timestamp
	i, k := 0, 0
	for {
		if ts == samples[k].Timestamp {
			samples[k].Qty += ticks[i].Qty
			samples[k].Price = ticks[i].Price
			i++
			if i >= len(ticks) {
				break
			}
			ts = math.Floor(ticks[i].Timestamp/sampleSizeMS) * sampleSizeMS
		} else {
			k++
			if k >= len(samples) {
				break
			}
			samples[k].Price = samples[k-1].Price
		}
	}
	return samples
}

// emasLast collapses the EMA recurrence over a burn-in window, returning only
// the final state for each span.
func emasLast(ticks []types.Tick, spans [3]float64) [3]float64 {
	var alphas, alphas_ [3]float64
	for j := range spans {
		alphas[j] = 2 / (spans[j] + 1)
		alphas_[j] = 1 - alphas[j]
	}
	var emas [3]float64
	for j := range emas {
		emas[j] = ticks[0].Price
	}
	for i := 1; i < len(ticks); i++ {
		for j := range emas {
			emas[j] = emas[j]*alphas_[j] + ticks[i].Price*alphas[j]
		}
	}
	return emas
}
