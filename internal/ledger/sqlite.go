package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/ontime-cli/internal/bulkfetch"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS fetch_runs (
	id                  TEXT PRIMARY KEY,
	command             TEXT NOT NULL,
	label               TEXT NOT NULL DEFAULT '',
	status              TEXT NOT NULL DEFAULT 'running',
	planned             INTEGER NOT NULL DEFAULT 0,
	total               INTEGER NOT NULL DEFAULT 0,
	already_satisfied   INTEGER NOT NULL DEFAULT 0,
	succeeded           INTEGER NOT NULL DEFAULT 0,
	skipped_unavailable INTEGER NOT NULL DEFAULT 0,
	failed              INTEGER NOT NULL DEFAULT 0,
	bytes               INTEGER NOT NULL DEFAULT 0,
	error               TEXT,
	started_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at        DATETIME
);

CREATE TABLE IF NOT EXISTS fetch_outcomes (
	run_id      TEXT NOT NULL REFERENCES fetch_runs(id),
	period      TEXT NOT NULL,
	kind        TEXT NOT NULL,
	status_code INTEGER NOT NULL DEFAULT 0,
	size        INTEGER NOT NULL DEFAULT 0,
	reason      TEXT NOT NULL DEFAULT '',
	transient   INTEGER NOT NULL DEFAULT 0,
	recorded_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (run_id, period)
);

CREATE INDEX IF NOT EXISTS idx_fetch_runs_started_at ON fetch_runs(started_at);
CREATE INDEX IF NOT EXISTS idx_fetch_runs_status ON fetch_runs(status);
`

// Migrate creates the ledger tables.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) StartRun(ctx context.Context, rs RunSpec) (*Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fetch_runs (id, command, label, status, planned, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, rs.Command, rs.Label, string(RunStatusRunning), rs.Planned, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &Run{
		ID:        id,
		Command:   rs.Command,
		Label:     rs.Label,
		Status:    RunStatusRunning,
		Planned:   rs.Planned,
		StartedAt: now,
	}, nil
}

func (s *SQLiteStore) RecordOutcome(ctx context.Context, runID string, o bulkfetch.Outcome) error {
	period, kind, status, size, reason, transient := outcomeRecord(o)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fetch_outcomes (run_id, period, kind, status_code, size, reason, transient, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, period) DO UPDATE SET
		   kind = excluded.kind, status_code = excluded.status_code, size = excluded.size,
		   reason = excluded.reason, transient = excluded.transient, recorded_at = excluded.recorded_at`,
		runID, period, kind, status, size, reason, transient, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: record outcome %s for run %s", period, runID)
	}
	return nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, summary *bulkfetch.Summary, runErr error) error {
	if summary == nil {
		summary = &bulkfetch.Summary{}
	}
	var errText sql.NullString
	if runErr != nil {
		errText = sql.NullString{String: runErr.Error(), Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE fetch_runs SET status = ?, total = ?, already_satisfied = ?, succeeded = ?,
		   skipped_unavailable = ?, failed = ?, bytes = ?, error = ?, completed_at = ?
		 WHERE id = ?`,
		string(statusFor(summary, runErr)), summary.Total, summary.AlreadySatisfied, summary.Succeeded,
		summary.SkippedUnavailable, summary.Failed, summary.Bytes, errText, time.Now().UTC(),
		runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

const sqliteRunColumns = `id, command, label, status, planned, total, already_satisfied, succeeded,
	skipped_unavailable, failed, bytes, error, started_at, completed_at`

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteRunColumns+` FROM fetch_runs WHERE id = ?`, runID)
	r, err := scanSQLiteRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Errorf("sqlite: run not found: %s", runID)
	}
	return r, err
}

func (s *SQLiteStore) LatestRun(ctx context.Context) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteRunColumns+` FROM fetch_runs WHERE status != ? ORDER BY started_at DESC, rowid DESC LIMIT 1`,
		string(RunStatusRunning),
	)
	r, err := scanSQLiteRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteRunColumns+` FROM fetch_runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []Run
	for rows.Next() {
		r, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) Outcomes(ctx context.Context, runID string) ([]PeriodOutcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT period, kind, status_code, size, reason, transient, recorded_at
		 FROM fetch_outcomes WHERE run_id = ? ORDER BY period`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list outcomes for run %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var out []PeriodOutcome
	for rows.Next() {
		var period, kind string
		var rec PeriodOutcome
		if err := rows.Scan(&period, &kind, &rec.StatusCode, &rec.Size, &rec.Reason, &rec.Transient, &rec.RecordedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan outcome")
		}
		parsed, err := parseOutcome(runID, period, kind)
		if err != nil {
			return nil, err
		}
		rec.RunID, rec.Period, rec.Kind = parsed.RunID, parsed.Period, parsed.Kind
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list outcomes iterate")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteRun(row scannable) (*Run, error) {
	var r Run
	var errText sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(&r.ID, &r.Command, &r.Label, &r.Status, &r.Planned, &r.Total,
		&r.AlreadySatisfied, &r.Succeeded, &r.SkippedUnavailable, &r.Failed, &r.Bytes,
		&errText, &r.StartedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	r.Error = errText.String
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	return &r, nil
}
