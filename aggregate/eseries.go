package aggregate

import (
	"fmt"
	"math"
	"strings"
)

// Series is an E-series of preferred numbers, identified by its number of
// values per decade.
type Series int

const (
	E6  Series = 6
	E12 Series = 12
	E24 Series = 24
)

var mantissas = map[Series][]float64{
	E6:  {1.0, 1.5, 2.2, 3.3, 4.7, 6.8},
	E12: {1.0, 1.2, 1.5, 1.8, 2.2, 2.7, 3.3, 3.9, 4.7, 5.6, 6.8, 8.2},
	E24: {
		1.0, 1.1, 1.2, 1.3, 1.5, 1.6, 1.8, 2.0, 2.2, 2.4, 2.7, 3.0,
		3.3, 3.6, 3.9, 4.3, 4.7, 5.1, 5.6, 6.2, 6.8, 7.5, 8.2, 9.1,
	},
}

// ParseSeries accepts "E6", "E12" or "E24" (case insensitive). Empty means E12.
func ParseSeries(name string) (Series, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "E6":
		return E6, nil
	case "", "E12":
		return E12, nil
	case "E24":
		return E24, nil
	default:
		return 0, fmt.Errorf("unknown E-series %q", name)
	}
}

func (s Series) String() string {
	return fmt.Sprintf("E%d", int(s))
}

// GridPoint is one frequency of the grid with the borders of its interval.
// Borders are geometric means with the neighbouring grid frequencies, so
// consecutive intervals share their borders.
type GridPoint struct {
	F     float64
	Left  float64
	Right float64
}

// value returns the i-th grid value counting from 1.0 (i=0).
func (s Series) value(i int) float64 {
	n := len(mantissas[s])
	decade := i / n
	idx := i % n
	if idx < 0 {
		idx += n
		decade--
	}
	return mantissas[s][idx] * math.Pow(10, float64(decade))
}

// Points returns the grid frequencies within [fMin, fMax] in ascending order.
func (s Series) Points(fMin, fMax float64) []GridPoint {
	if _, ok := mantissas[s]; !ok || !(fMin > 0) || !(fMax >= fMin) || math.IsInf(fMax, 1) {
		return nil
	}

	n := len(mantissas[s])
	i := int(math.Floor(math.Log10(fMin))) * n
	for s.value(i) < fMin {
		i++
	}
	// Rounding in Log10 can place i one decade too high.
	for s.value(i-1) >= fMin {
		i--
	}

	var points []GridPoint
	for ; s.value(i) <= fMax; i++ {
		f := s.value(i)
		points = append(points, GridPoint{
			F:     f,
			Left:  math.Sqrt(s.value(i-1) * f),
			Right: math.Sqrt(f * s.value(i+1)),
		})
	}
	return points
}
