package decision

import (
	"testing"
	"time"
)

func TestSortByPriorityClosesFirst(t *testing.T) {
	decisions := []Decision{
		{Symbol: "BTCUSDT", Action: "open_long"},
		{Symbol: "ETHUSDT", Action: "hold"},
		{Symbol: "SOLUSDT", Action: "close_short"},
		{Symbol: "XRPUSDT", Action: "close_long"},
		{Symbol: "DOGEUSDT", Action: "open_short"},
	}
	SortByPriority(decisions)

	want := []string{"close_short", "close_long", "open_long", "open_short", "hold"}
	for i, action := range want {
		if decisions[i].Action != action {
			t.Fatalf("position %d: got %s, want %s (order: %+v)", i, decisions[i].Action, action, decisions)
		}
	}
	// Equal priorities keep input order.
	if decisions[0].Symbol != "SOLUSDT" || decisions[1].Symbol != "XRPUSDT" {
		t.Errorf("close ordering not stable: %s, %s", decisions[0].Symbol, decisions[1].Symbol)
	}
}

func TestSortByPriorityIdempotent(t *testing.T) {
	decisions := []Decision{
		{Symbol: "A", Action: "close_long"},
		{Symbol: "B", Action: "close_short"},
		{Symbol: "C", Action: "open_long"},
		{Symbol: "D", Action: "wait"},
	}
	SortByPriority(decisions)
	first := make([]string, len(decisions))
	for i, d := range decisions {
		first[i] = d.Symbol
	}
	SortByPriority(decisions)
	for i, d := range decisions {
		if d.Symbol != first[i] {
			t.Errorf("position %d changed on resort: %s vs %s", i, d.Symbol, first[i])
		}
	}
}

func TestSortByPriorityUnknownActionsSink(t *testing.T) {
	decisions := []Decision{
		{Symbol: "A", Action: "shrug"},
		{Symbol: "B", Action: "hold"},
		{Symbol: "C", Action: "close_long"},
	}
	SortByPriority(decisions)
	if decisions[len(decisions)-1].Action != "shrug" {
		t.Errorf("unknown action should sort last: %+v", decisions)
	}
}

func TestCooldownStatus(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		ctx  Context
		want string
	}{
		{"no activity", Context{}, "ok"},
		{"recent entry", Context{LastEnterTime: now.Add(-8 * time.Minute)}, "cooling"},
		{"entry window passed", Context{LastEnterTime: now.Add(-10 * time.Minute)}, "ok"},
		{"recent stop", Context{LastStopTime: now.Add(-5 * time.Minute)}, "cooling"},
		{"stop window passed", Context{LastStopTime: now.Add(-7 * time.Minute)}, "ok"},
		{"recent take profit", Context{LastTakeProfitTime: now.Add(-2 * time.Minute)}, "cooling"},
		{"take profit window passed", Context{LastTakeProfitTime: now.Add(-4 * time.Minute)}, "ok"},
		{"any window holds", Context{
			LastEnterTime: now.Add(-20 * time.Minute),
			LastStopTime:  now.Add(-1 * time.Minute),
		}, "cooling"},
	}

	for _, tc := range cases {
		if got := tc.ctx.CooldownStatus(now); got != tc.want {
			t.Errorf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}
