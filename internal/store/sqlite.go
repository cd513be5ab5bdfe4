package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"nudged/internal/remind"
	logx "nudged/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db   *sql.DB
	log  logx.Logger
	keep int
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, keep: cfg.historyDays()}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) DayState(ctx context.Context) (remind.DayState, error) {
	var st remind.DayState

	err := s.db.QueryRowContext(ctx, `SELECT date FROM tracked_day WHERE id = 1`).Scan(&st.Date)
	if errors.Is(err, sql.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return st, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT rule_id FROM completion WHERE date = ? ORDER BY completed_at`, st.Date)
	if err != nil {
		return st, err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return st, err
		}
		st.CompletedRuleIDs = append(st.CompletedRuleIDs, id)
	}
	return st, rows.Err()
}

func (s *sqliteStore) MarkRuleComplete(ctx context.Context, ruleID string, at time.Time) error {
	var date string
	err := s.db.QueryRowContext(ctx, `SELECT date FROM tracked_day WHERE id = 1`).Scan(&date)
	if errors.Is(err, sql.ErrNoRows) {
		// Nothing tracked yet; track the acknowledgement's own day.
		date = at.Format("2006-01-02")
		if _, err := s.db.ExecContext(ctx, `INSERT INTO tracked_day(id, date) VALUES(1, ?)`, date); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO completion(date, rule_id, completed_at) VALUES(?,?,?)
		 ON CONFLICT(date, rule_id) DO NOTHING`,
		date, ruleID, at.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) ResetForNewDay(ctx context.Context, date string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tracked_day(id, date) VALUES(1, ?)
		 ON CONFLICT(id) DO UPDATE SET date = excluded.date`,
		date,
	)
	if err != nil {
		return err
	}
	if cut := cutoffDate(date, s.keep); cut != "" {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM completion WHERE date < ?`, cut); err != nil {
			s.log.Warn("history prune failed", logx.Err(err))
		}
	}
	return nil
}

func (s *sqliteStore) History(ctx context.Context) ([]HistoryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, rule_id, completed_at FROM completion ORDER BY date, completed_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryRecord
	for rows.Next() {
		var rec HistoryRecord
		var at string
		if err := rows.Scan(&rec.Date, &rec.RuleID, &at); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, at); err == nil {
			rec.CompletedAt = t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
