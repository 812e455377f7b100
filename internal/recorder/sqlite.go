package recorder

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"MarketTicker/internal/logger"
	"MarketTicker/internal/model"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLiteRecorder persists ticks and bars to a SQLite database.
type SQLiteRecorder struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL lets dashboards read while the ticker writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Info("sqlite recorder opened", zap.String("path", dbPath))
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ticks (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp   INTEGER NOT NULL,
			run_id      TEXT,
			symbol      TEXT NOT NULL,
			symbol_type TEXT,
			interval    TEXT,
			price       REAL,
			last_close  REAL,
			change_pct  REAL,
			bars        INTEGER,
			last_bar_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ticks_ts ON ticks(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_ticks_symbol ON ticks(symbol, timestamp)`,

		`CREATE TABLE IF NOT EXISTS bars (
			symbol    TEXT NOT NULL,
			interval  TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			open      REAL,
			high      REAL,
			low       REAL,
			close     REAL,
			volume    REAL,
			PRIMARY KEY (symbol, interval, timestamp)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bars_ts ON bars(timestamp)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) RecordTick(evt *TickEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var lastBarAt any
	if !evt.LastBarAt.IsZero() {
		lastBarAt = evt.LastBarAt.Unix()
	}
	_, err := r.db.Exec(`INSERT INTO ticks
		(timestamp, run_id, symbol, symbol_type, interval, price, last_close, change_pct, bars, last_bar_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		evt.FetchedAt.Unix(), evt.RunID, evt.Symbol, evt.Type, evt.Interval,
		evt.Price, evt.LastClose, evt.ChangePct, evt.Bars, lastBarAt,
	)
	return err
}

func (r *SQLiteRecorder) RecordBars(symbol, interval string, bars model.Series) error {
	if len(bars) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO bars
		(symbol, interval, timestamp, open, high, low, close, volume)
		VALUES (?,?,?,?,?,?,?,?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.Exec(symbol, interval, b.Time.Unix(), b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert bar %s: %w", b.Time.Format(time.RFC3339), err)
		}
	}
	return tx.Commit()
}

func (r *SQLiteRecorder) Prune(cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var total int64
	for _, table := range []string{"ticks", "bars"} {
		res, err := r.db.Exec(`DELETE FROM `+table+` WHERE timestamp < ?`, cutoff.Unix())
		if err != nil {
			return total, fmt.Errorf("prune %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func (r *SQLiteRecorder) Close() error {
	logger.Info("closing sqlite recorder")
	return r.db.Close()
}
