package decision

import (
	"errors"
	"strings"
	"testing"
)

func TestParseReasoningAndArray(t *testing.T) {
	raw := `Market looks weak, closing the loser and staying flat otherwise.

` + "```json" + `
[
  {"symbol": "ETHUSDT", "action": "close_long", "reasoning": "trend broke"},
  {"symbol": "BTCUSDT", "action": "open_short", "leverage": 10, "position_size_usd": 2000, "stop_loss": 71000, "take_profit": 65000, "confidence": 8}
]
` + "```"

	fd, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(fd.Decisions) != 2 {
		t.Fatalf("got %d decisions, want 2", len(fd.Decisions))
	}
	if fd.Decisions[0].Action != "close_long" || fd.Decisions[0].Symbol != "ETHUSDT" {
		t.Errorf("first decision = %+v", fd.Decisions[0])
	}
	d := fd.Decisions[1]
	if d.Leverage != 10 || d.PositionSizeUSD != 2000 || d.StopLoss != 71000 || d.TakeProfit != 65000 {
		t.Errorf("second decision sizing = %+v", d)
	}
	if strings.Contains(fd.CoTTrace, "```") {
		t.Errorf("trace still carries code fence: %q", fd.CoTTrace)
	}
	if !strings.Contains(fd.CoTTrace, "Market looks weak") {
		t.Errorf("trace lost reasoning: %q", fd.CoTTrace)
	}
	if strings.Contains(fd.CoTTrace, "close_long") {
		t.Errorf("trace includes decision array: %q", fd.CoTTrace)
	}
}

func TestParseSkipsBracketNoiseInReasoning(t *testing.T) {
	raw := `[note] RSI readings were [32, 28, 41] across timeframes, so momentum is oversold.
[{"symbol": "SOLUSDT", "action": "hold"}]`

	fd, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(fd.Decisions) != 1 || fd.Decisions[0].Symbol != "SOLUSDT" {
		t.Fatalf("decisions = %+v", fd.Decisions)
	}
	if !strings.Contains(fd.CoTTrace, "[note]") {
		t.Errorf("noise brackets should stay in the trace: %q", fd.CoTTrace)
	}
}

func TestParseBracketsInsideStrings(t *testing.T) {
	raw := `Done thinking.
[{"symbol": "BTCUSDT", "action": "hold", "reasoning": "range-bound [60k, 70k] box"}]`

	fd, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got := fd.Decisions[0].Reasoning; got != "range-bound [60k, 70k] box" {
		t.Errorf("reasoning = %q", got)
	}
}

func TestParseRepairsTrailingCommas(t *testing.T) {
	raw := `[{"symbol": "ETHUSDT", "action": "wait",},]`
	fd, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(fd.Decisions) != 1 || fd.Decisions[0].Action != "wait" {
		t.Errorf("decisions = %+v", fd.Decisions)
	}
}

func TestParseNormalizesSmartQuotes(t *testing.T) {
	raw := `[{“symbol”: “BTCUSDT”, “action”: “hold”}]`
	fd, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if fd.Decisions[0].Symbol != "BTCUSDT" || fd.Decisions[0].Action != "hold" {
		t.Errorf("decisions = %+v", fd.Decisions)
	}
}

func TestParseEmptyArray(t *testing.T) {
	fd, err := Parse("Nothing to do this cycle.\n[]")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(fd.Decisions) != 0 {
		t.Errorf("decisions = %+v", fd.Decisions)
	}
}

func TestParseNoArrayKeepsTrace(t *testing.T) {
	raw := "I would rather wait for confirmation before acting."
	fd, err := Parse(raw)
	if err == nil {
		t.Fatal("expected error when no array present")
	}
	if !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("expected ErrMalformedResponse, got %v", err)
	}
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParseError, got %T", err)
	}
	if pe.Reasoning != raw {
		t.Errorf("Reasoning = %q", pe.Reasoning)
	}
	if fd == nil || fd.CoTTrace != raw {
		t.Errorf("trace should survive parse failure: %+v", fd)
	}
}

func TestParseWrongFieldTypes(t *testing.T) {
	raw := `Going long.
[{"symbol": "ETHUSDT", "action": "open_long", "leverage": "ten"}]`

	fd, err := Parse(raw)
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParseError, got %T", err)
	}
	if pe.Reasoning != "Going long." {
		t.Errorf("Reasoning = %q", pe.Reasoning)
	}
	if fd.CoTTrace != "Going long." {
		t.Errorf("CoTTrace = %q", fd.CoTTrace)
	}
}
