package render

import (
	"fmt"
	"math"
	"strings"

	"galactic/internal/ledger"
)

const (
	chartWidth  = 60
	chartHeight = 16
)

// CompareChart plots two price histories side by side on a log10 price axis,
// so a cheap stock and an expensive one stay readable on the same plot.
func CompareChart(symbolA, symbolB string, histA, histB []ledger.PricePoint) (string, error) {
	if len(histA) == 0 {
		return "", fmt.Errorf("no price history for %s", symbolA)
	}
	if len(histB) == 0 {
		return "", fmt.Errorf("no price history for %s", symbolB)
	}

	seriesA := resample(histA, chartWidth)
	seriesB := resample(histB, chartWidth)

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range append(append([]float64{}, seriesA...), seriesB...) {
		lv := math.Log10(math.Max(v, ledger.MinPrice))
		lo = math.Min(lo, lv)
		hi = math.Max(hi, lv)
	}
	if hi-lo < 1e-9 {
		hi = lo + 1e-9
	}

	grid := make([][]byte, chartHeight)
	for i := range grid {
		grid[i] = []byte(strings.Repeat(" ", chartWidth))
	}
	plot := func(series []float64, mark byte) {
		for x, v := range series {
			lv := math.Log10(math.Max(v, ledger.MinPrice))
			y := int(math.Round((hi - lv) / (hi - lo) * float64(chartHeight-1)))
			grid[y][x] = mark
		}
	}
	plot(seriesB, 'o')
	plot(seriesA, '*')

	var b strings.Builder
	fmt.Fprintf(&b, "%s (*) vs %s (o), log price axis\n", symbolA, symbolB)
	for i, row := range grid {
		label := "          "
		switch i {
		case 0:
			label = fmt.Sprintf("%9.2f ", math.Pow(10, hi))
		case chartHeight / 2:
			label = fmt.Sprintf("%9.2f ", math.Pow(10, (hi+lo)/2))
		case chartHeight - 1:
			label = fmt.Sprintf("%9.2f ", math.Pow(10, lo))
		}
		b.WriteString(label)
		b.WriteString("|")
		b.Write(row)
		b.WriteString("\n")
	}
	b.WriteString(strings.Repeat(" ", 10) + "+" + strings.Repeat("-", chartWidth))
	return b.String(), nil
}

// resample stretches or compresses a series to exactly width samples.
func resample(hist []ledger.PricePoint, width int) []float64 {
	out := make([]float64, width)
	if len(hist) == 1 {
		for i := range out {
			out[i] = hist[0].Price
		}
		return out
	}
	for x := 0; x < width; x++ {
		idx := x * (len(hist) - 1) / (width - 1)
		out[x] = hist[idx].Price
	}
	return out
}
