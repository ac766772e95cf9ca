package logger

import (
	"testing"
	"time"
)

func testRecord(cycle int, balance float64, positions []PositionSnapshot) *DecisionRecord {
	return &DecisionRecord{
		Timestamp:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(cycle) * time.Hour),
		CycleNumber: cycle,
		CoTTrace:    "thinking",
		AccountState: AccountSnapshot{
			TotalBalance:  balance,
			PositionCount: len(positions),
		},
		Positions: positions,
		Success:   true,
	}
}

func TestLogAndRetrieveRecord(t *testing.T) {
	l := NewDecisionLogger(t.TempDir())
	defer l.Close()

	if n := l.NextCycleNumber(); n != 1 {
		t.Fatalf("first cycle number = %d, want 1", n)
	}

	record := testRecord(1, 10000, nil)
	record.CandidateCoins = []string{"BTCUSDT", "ETHUSDT"}
	record.Decisions = []DecisionAction{{Action: "open_long", Symbol: "BTCUSDT", Success: true}}
	record.ConsecutiveLosses = 2
	record.LastEnterTime = time.Date(2025, 6, 1, 11, 50, 0, 0, time.UTC)

	if err := l.LogDecision(record); err != nil {
		t.Fatalf("LogDecision failed: %v", err)
	}

	got, err := l.GetLatestRecord()
	if err != nil {
		t.Fatalf("GetLatestRecord failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected a record")
	}
	if got.CycleNumber != 1 || got.CoTTrace != "thinking" {
		t.Errorf("record = %+v", got)
	}
	if len(got.CandidateCoins) != 2 || got.CandidateCoins[0] != "BTCUSDT" {
		t.Errorf("candidates = %v", got.CandidateCoins)
	}
	if len(got.Decisions) != 1 || got.Decisions[0].Action != "open_long" {
		t.Errorf("decisions = %+v", got.Decisions)
	}
	if got.ConsecutiveLosses != 2 {
		t.Errorf("consecutive losses = %d, want 2", got.ConsecutiveLosses)
	}
	if !got.LastEnterTime.Equal(record.LastEnterTime) {
		t.Errorf("last enter time = %v", got.LastEnterTime)
	}
}

func TestGetLatestRecordEmpty(t *testing.T) {
	l := NewDecisionLogger(t.TempDir())
	defer l.Close()

	got, err := l.GetLatestRecord()
	if err != nil {
		t.Fatalf("GetLatestRecord failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil on empty store, got %+v", got)
	}
}

func TestGetLatestRecordsOrder(t *testing.T) {
	l := NewDecisionLogger(t.TempDir())
	defer l.Close()

	for cycle := 1; cycle <= 3; cycle++ {
		if err := l.LogDecision(testRecord(cycle, 10000, nil)); err != nil {
			t.Fatalf("LogDecision %d failed: %v", cycle, err)
		}
	}

	records, err := l.GetLatestRecords(2)
	if err != nil {
		t.Fatalf("GetLatestRecords failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].CycleNumber != 2 || records[1].CycleNumber != 3 {
		t.Errorf("order = [%d, %d], want oldest first", records[0].CycleNumber, records[1].CycleNumber)
	}
}

func TestCycleNumberRestoredOnReopen(t *testing.T) {
	dir := t.TempDir()

	l := NewDecisionLogger(dir)
	for cycle := 1; cycle <= 3; cycle++ {
		l.NextCycleNumber()
		if err := l.LogDecision(testRecord(cycle, 10000, nil)); err != nil {
			t.Fatalf("LogDecision failed: %v", err)
		}
	}
	l.Close()

	reopened := NewDecisionLogger(dir)
	defer reopened.Close()
	if n := reopened.NextCycleNumber(); n != 4 {
		t.Errorf("cycle number after reopen = %d, want 4", n)
	}
}

func TestTraderRecordsIsolated(t *testing.T) {
	dir := t.TempDir()

	a := NewDecisionLoggerWithConfig(dir, "alpha", nil)
	defer a.Close()
	if err := a.LogDecision(testRecord(1, 5000, nil)); err != nil {
		t.Fatalf("LogDecision failed: %v", err)
	}

	b := NewDecisionLoggerWithConfig(dir, "beta", nil)
	defer b.Close()
	records, err := b.GetAllRecords()
	if err != nil {
		t.Fatalf("GetAllRecords failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("beta sees alpha's records: %+v", records)
	}
}

func TestRebindPostgresPlaceholders(t *testing.T) {
	l := &DecisionLogger{isPostgres: true}
	got := l.rebind("SELECT 1 WHERE a = ? AND b = ?")
	want := "SELECT 1 WHERE a = $1 AND b = $2"
	if got != want {
		t.Errorf("rebind = %q, want %q", got, want)
	}

	l = &DecisionLogger{}
	passthrough := "SELECT 1 WHERE a = ?"
	if got := l.rebind(passthrough); got != passthrough {
		t.Errorf("sqlite rebind changed query: %q", got)
	}
}
