// Package sparkline renders a numeric sequence as a compact Unicode bar
// string, a unit-height bar chart drawn with 8 block characters.
package sparkline

// bar holds the 8-level block alphabet, lowest level first.
const bar = "▁▂▃▄▅▆▇█"

// barRunes holds the runes of bar, indexable by level.
var barRunes = []rune(bar)

// Render maps each value in xs to one of 8 bar levels and concatenates them
// into a single string. fixedMin and fixedMax pin the value range used to
// compute levels; pass (-1, -1) to derive the range from xs itself.
//
// Render is a pure function: Render(xs, ...) always returns a string of
// exactly len(xs) runes drawn from the 8-rune alphabet above, and never
// mutates xs.
func Render(xs []float64, fixedMin, fixedMax float64) (effectiveMin, effectiveMax float64, s string) {
	if len(xs) == 0 {
		return 0, 0, ""
	}

	mn := fixedMin
	if fixedMin == -1 {
		mn = xs[0]
		for _, v := range xs {
			if v < mn {
				mn = v
			}
		}
	}
	mx := fixedMax
	if fixedMax == -1 {
		mx = xs[0]
		for _, v := range xs {
			if v > mx {
				mx = v
			}
		}
	}

	extent := mx - mn
	if extent < 1 {
		extent = 1
	}

	out := make([]rune, len(xs))
	for i, v := range xs {
		idx := int((v - mn) / extent * float64(len(barRunes)))
		if idx < 0 {
			idx = 0
		}
		if idx > len(barRunes)-1 {
			idx = len(barRunes) - 1
		}
		out[i] = barRunes[idx]
	}
	return mn, mx, string(out)
}
