package benchmark

import (
	"regexp"
	"strconv"
	"strings"
)

// LineClassifier extracts a hashrate sample from one line of worker output.
// Lines that carry no sample return ok == false.
type LineClassifier interface {
	Classify(line string) (hashrate float64, ok bool)
}

// MarkerClassifier reads the number that follows Marker, e.g.
//
//	Total Speed: 25.3 Sol/s Shares Accepted: 12 Rejected: 0
type MarkerClassifier struct {
	Marker string
}

// TotalSpeed matches GMiner's periodic summary line.
func TotalSpeed() MarkerClassifier {
	return MarkerClassifier{Marker: "Total Speed:"}
}

var numberAndUnit = regexp.MustCompile(`^\s*([0-9]+(?:[.,][0-9]+)?)\s*([A-Za-z/]*)`)

func (c MarkerClassifier) Classify(line string) (float64, bool) {
	i := strings.Index(line, c.Marker)
	if i < 0 {
		return 0, false
	}

	m := numberAndUnit.FindStringSubmatch(line[i+len(c.Marker):])
	if m == nil {
		return 0, false
	}

	v, err := strconv.ParseFloat(strings.Replace(m[1], ",", ".", 1), 64)
	if err != nil {
		return 0, false
	}
	return v * unitMultiplier(m[2]), true
}

var prefixes = map[string]float64{
	"":  1,
	"k": 1e3,
	"K": 1e3,
	"M": 1e6,
	"G": 1e9,
	"T": 1e12,
}

// unitMultiplier scales prefixed hash units (kH/s, MSol/s, ...). Bare units
// such as GMiner's G/s (graphs per second) are returned as-is.
func unitMultiplier(unit string) float64 {
	for _, base := range []string{"H/s", "h/s", "Sol/s", "Sols"} {
		if strings.HasSuffix(unit, base) {
			if m, ok := prefixes[strings.TrimSuffix(unit, base)]; ok {
				return m
			}
			return 1
		}
	}
	return 1
}
