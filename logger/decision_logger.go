package logger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// AccountSnapshot account state at record time
type AccountSnapshot struct {
	TotalBalance          float64 `json:"total_balance"`
	AvailableBalance      float64 `json:"available_balance"`
	TotalUnrealizedProfit float64 `json:"total_unrealized_profit"`
	PositionCount         int     `json:"position_count"`
	MarginUsedPct         float64 `json:"margin_used_pct"`
}

// PositionSnapshot one open position at record time
type PositionSnapshot struct {
	Symbol           string  `json:"symbol"`
	Side             string  `json:"side"`
	PositionAmt      float64 `json:"position_amt"`
	EntryPrice       float64 `json:"entry_price"`
	MarkPrice        float64 `json:"mark_price"`
	UnrealizedProfit float64 `json:"unrealized_profit"`
	Leverage         float64 `json:"leverage"`
	LiquidationPrice float64 `json:"liquidation_price"`
}

// DecisionAction outcome of one executed decision
type DecisionAction struct {
	Action    string    `json:"action"`
	Symbol    string    `json:"symbol"`
	Quantity  float64   `json:"quantity"`
	Leverage  int       `json:"leverage"`
	Price     float64   `json:"price"`
	OrderID   int64     `json:"order_id"`
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
	Error     string    `json:"error"`
}

// DecisionRecord one append-only record per trading cycle. The cooldown and
// streak fields carry the agent's risk memory across restarts.
type DecisionRecord struct {
	Timestamp      time.Time          `json:"timestamp"`
	CycleNumber    int                `json:"cycle_number"`
	InputPrompt    string             `json:"input_prompt"`
	CoTTrace       string             `json:"cot_trace"`
	DecisionJSON   string             `json:"decision_json"`
	AccountState   AccountSnapshot    `json:"account_state"`
	Positions      []PositionSnapshot `json:"positions"`
	CandidateCoins []string           `json:"candidate_coins"`
	Decisions      []DecisionAction   `json:"decisions"`
	ExecutionLog   []string           `json:"execution_log"`
	Success        bool               `json:"success"`
	ErrorMessage   string             `json:"error_message"`

	LastEnterTime      time.Time `json:"last_enter_time"`
	LastStopTime       time.Time `json:"last_stop_time"`
	LastTakeProfitTime time.Time `json:"last_take_profit_time"`
	ConsecutiveLosses  int       `json:"consecutive_losses"`
	DailyLossPercent   float64   `json:"daily_loss_percent"`
}

// SupabaseConfig optional cloud database storage
type SupabaseConfig struct {
	UseSupabase bool
	DatabaseURL string
	Schema      string
}

// DecisionLogger persists decision records, SQLite by default or
// PostgreSQL/Supabase when configured.
type DecisionLogger struct {
	db          *sql.DB
	traderID    string
	cycleNumber int
	isPostgres  bool
}

// NewDecisionLogger creates a SQLite-backed logger under logDir.
func NewDecisionLogger(logDir string) *DecisionLogger {
	return NewDecisionLoggerWithConfig(logDir, "", nil)
}

// NewDecisionLoggerWithConfig creates a logger, preferring Supabase when a
// working configuration is provided and falling back to SQLite otherwise.
// traderID separates records of concurrent agents sharing one database.
func NewDecisionLoggerWithConfig(logDir, traderID string, supabase *SupabaseConfig) *DecisionLogger {
	if logDir == "" {
		logDir = "decision_logs"
	}

	l := &DecisionLogger{traderID: traderID}

	if supabase != nil && supabase.UseSupabase && supabase.DatabaseURL != "" {
		connString := supabase.DatabaseURL
		if !strings.Contains(connString, "connect_timeout") {
			sep := "?"
			if strings.Contains(connString, "?") {
				sep = "&"
			}
			connString += sep + "connect_timeout=30&sslmode=require"
		}
		if db, err := sql.Open("postgres", connString); err != nil {
			log.Printf("⚠️  Failed to open Postgres database: %v, falling back to SQLite", err)
		} else if err := db.Ping(); err != nil {
			log.Printf("⚠️  Postgres connection failed: %v, falling back to SQLite", err)
			db.Close()
		} else {
			db.SetMaxOpenConns(10)
			db.SetConnMaxLifetime(10 * time.Minute)
			l.db = db
			l.isPostgres = true
			log.Printf("✅ Connected to Postgres decision store (trader_id: %s)", traderID)
		}
	}

	if l.db == nil {
		if err := os.MkdirAll(logDir, 0755); err != nil {
			log.Printf("⚠️  Failed to create log directory: %v", err)
		}
		dbPath := filepath.Join(logDir, "decisions.db")
		db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)")
		if err != nil {
			log.Printf("⚠️  Failed to open SQLite database: %v", err)
		} else if err := db.Ping(); err != nil {
			log.Printf("⚠️  SQLite connection failed: %v", err)
			db.Close()
		} else {
			l.db = db
		}
	}

	if l.db != nil {
		if err := l.initDB(); err != nil {
			log.Printf("⚠️  Failed to initialize decision store: %v", err)
		} else if err := l.restoreCycleNumber(); err != nil {
			log.Printf("ℹ️  No previous cycle number found, starting from 1")
		}
	}

	return l
}

func (l *DecisionLogger) initDB() error {
	idColumn := "id INTEGER PRIMARY KEY AUTOINCREMENT"
	if l.isPostgres {
		idColumn = "id SERIAL PRIMARY KEY"
	}
	schema := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS decisions (
		%s,
		trader_id TEXT NOT NULL DEFAULT '',
		cycle_number INTEGER NOT NULL,
		timestamp TEXT NOT NULL,
		record_json TEXT NOT NULL
	)`, idColumn)
	if _, err := l.db.Exec(schema); err != nil {
		return err
	}
	_, err := l.db.Exec(`CREATE INDEX IF NOT EXISTS idx_decisions_trader_cycle
		ON decisions (trader_id, cycle_number)`)
	return err
}

func (l *DecisionLogger) restoreCycleNumber() error {
	var max sql.NullInt64
	err := l.db.QueryRow(l.rebind(`SELECT MAX(cycle_number) FROM decisions WHERE trader_id = ?`), l.traderID).Scan(&max)
	if err != nil {
		return err
	}
	if max.Valid {
		l.cycleNumber = int(max.Int64)
		log.Printf("✓ Restored cycle number: continuing from #%d", l.cycleNumber+1)
	}
	return nil
}

// NextCycleNumber increments and returns the cycle counter.
func (l *DecisionLogger) NextCycleNumber() int {
	l.cycleNumber++
	return l.cycleNumber
}

// CycleNumber returns the current cycle counter without advancing it.
func (l *DecisionLogger) CycleNumber() int {
	return l.cycleNumber
}

// LogDecision appends one cycle record.
func (l *DecisionLogger) LogDecision(record *DecisionRecord) error {
	if l.db == nil {
		return fmt.Errorf("decision store not initialized")
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	_, err = l.db.Exec(
		l.rebind(`INSERT INTO decisions (trader_id, cycle_number, timestamp, record_json) VALUES (?, ?, ?, ?)`),
		l.traderID, record.CycleNumber, record.Timestamp.UTC().Format(time.RFC3339), string(payload))
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// GetLatestRecords returns the n most recent records, ordered oldest to
// newest.
func (l *DecisionLogger) GetLatestRecords(n int) ([]*DecisionRecord, error) {
	if l.db == nil {
		return nil, fmt.Errorf("decision store not initialized")
	}
	rows, err := l.db.Query(
		l.rebind(`SELECT record_json FROM decisions WHERE trader_id = ? ORDER BY cycle_number DESC LIMIT ?`),
		l.traderID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	// reverse newest-first to oldest-first
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// GetAllRecords returns every record, oldest to newest.
func (l *DecisionLogger) GetAllRecords() ([]*DecisionRecord, error) {
	if l.db == nil {
		return nil, fmt.Errorf("decision store not initialized")
	}
	rows, err := l.db.Query(
		l.rebind(`SELECT record_json FROM decisions WHERE trader_id = ? ORDER BY cycle_number ASC`),
		l.traderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// GetLatestRecord returns the single most recent record, or nil when the
// store is empty.
func (l *DecisionLogger) GetLatestRecord() (*DecisionRecord, error) {
	records, err := l.GetLatestRecords(1)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

func scanRecords(rows *sql.Rows) ([]*DecisionRecord, error) {
	var records []*DecisionRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var record DecisionRecord
		if err := json.Unmarshal([]byte(payload), &record); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		records = append(records, &record)
	}
	return records, rows.Err()
}

// rebind converts ? placeholders to $n for Postgres.
func (l *DecisionLogger) rebind(query string) string {
	if !l.isPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			fmt.Fprintf(&sb, "$%d", n)
			continue
		}
		sb.WriteRune(c)
	}
	return sb.String()
}

// Close releases the underlying database handle.
func (l *DecisionLogger) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}
