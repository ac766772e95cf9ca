package market

import "testing"

func TestDeriveTimeframes(t *testing.T) {
	cases := []struct {
		short  string
		medium string
		long   string
	}{
		{"1m", "5m", "30m"},
		{"3m", "15m", "1h"},
		{"5m", "30m", "2h"},
		{"15m", "1h", "4h"},
		{"1h", "4h", "1d"},
	}

	for _, tc := range cases {
		medium, long, err := DeriveTimeframes(tc.short)
		if err != nil {
			t.Errorf("%s: unexpected error %v", tc.short, err)
			continue
		}
		if medium != tc.medium || long != tc.long {
			t.Errorf("%s: got (%s, %s), want (%s, %s)", tc.short, medium, long, tc.medium, tc.long)
		}
	}
}

func TestDeriveTimeframesSaturatesAtWeekly(t *testing.T) {
	medium, long, err := DeriveTimeframes("1w")
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if medium != "1w" || long != "1w" {
		t.Errorf("got (%s, %s), want (1w, 1w)", medium, long)
	}
}

func TestDeriveTimeframesUnsupported(t *testing.T) {
	if _, _, err := DeriveTimeframes("7m"); err == nil {
		t.Error("expected error for unsupported interval")
	}
}

func TestIntervalMinutes(t *testing.T) {
	if m, err := IntervalMinutes("4h"); err != nil || m != 240 {
		t.Errorf("4h: got (%d, %v)", m, err)
	}
	if _, err := IntervalMinutes("90m"); err == nil {
		t.Error("expected error for unknown interval")
	}
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"BTCUSDT": "BTCUSDT",
		"btc":     "BTCUSDT",
		"SOL ":    "SOLUSDT",
		"ethusdt": "ETHUSDT",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}
