package market

import "fmt"

// supportedIntervals is the exchange kline interval set, ascending by minutes.
var supportedIntervals = []struct {
	Label   string
	Minutes int
}{
	{"1m", 1},
	{"3m", 3},
	{"5m", 5},
	{"15m", 15},
	{"30m", 30},
	{"1h", 60},
	{"2h", 120},
	{"4h", 240},
	{"6h", 360},
	{"8h", 480},
	{"12h", 720},
	{"1d", 1440},
	{"3d", 4320},
	{"1w", 10080},
}

// IntervalMinutes returns the minute span of a supported interval label.
func IntervalMinutes(label string) (int, error) {
	for _, iv := range supportedIntervals {
		if iv.Label == label {
			return iv.Minutes, nil
		}
	}
	return 0, fmt.Errorf("unsupported interval: %s", label)
}

// scaleUp picks the smallest supported interval whose minutes fall inside
// [4x, 5x] of the given interval's minutes. If the window lands between two
// supported intervals it falls back to the smallest interval >= 4x.
func scaleUp(minutes int) (string, int) {
	lo, hi := minutes*4, minutes*5
	for _, iv := range supportedIntervals {
		if iv.Minutes >= lo && iv.Minutes <= hi {
			return iv.Label, iv.Minutes
		}
	}
	for _, iv := range supportedIntervals {
		if iv.Minutes >= lo {
			return iv.Label, iv.Minutes
		}
	}
	last := supportedIntervals[len(supportedIntervals)-1]
	return last.Label, last.Minutes
}

// DeriveTimeframes maps a short interval to its medium and long companions:
// medium is scaled up from short, long is scaled up from medium.
func DeriveTimeframes(short string) (medium, long string, err error) {
	m, err := IntervalMinutes(short)
	if err != nil {
		return "", "", err
	}
	medium, mm := scaleUp(m)
	long, _ = scaleUp(mm)
	return medium, long, nil
}
