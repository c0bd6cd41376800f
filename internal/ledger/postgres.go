package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/ontime-cli/internal/bulkfetch"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a small connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 4
	pgxCfg.MinConns = 1
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
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
	bytes               BIGINT NOT NULL DEFAULT 0,
	error               TEXT,
	started_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at        TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS fetch_outcomes (
	run_id      TEXT NOT NULL REFERENCES fetch_runs(id) ON DELETE CASCADE,
	period      TEXT NOT NULL,
	kind        TEXT NOT NULL,
	status_code INTEGER NOT NULL DEFAULT 0,
	size        BIGINT NOT NULL DEFAULT 0,
	reason      TEXT NOT NULL DEFAULT '',
	transient   BOOLEAN NOT NULL DEFAULT false,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, period)
);

CREATE INDEX IF NOT EXISTS idx_fetch_runs_started_at ON fetch_runs(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_fetch_runs_status ON fetch_runs(status);
`

// Migrate creates the ledger tables.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) StartRun(ctx context.Context, rs RunSpec) (*Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO fetch_runs (id, command, label, status, planned, started_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, rs.Command, rs.Label, string(RunStatusRunning), rs.Planned, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
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

func (s *PostgresStore) RecordOutcome(ctx context.Context, runID string, o bulkfetch.Outcome) error {
	period, kind, status, size, reason, transient := outcomeRecord(o)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO fetch_outcomes (run_id, period, kind, status_code, size, reason, transient, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (run_id, period) DO UPDATE SET
		   kind = EXCLUDED.kind, status_code = EXCLUDED.status_code, size = EXCLUDED.size,
		   reason = EXCLUDED.reason, transient = EXCLUDED.transient, recorded_at = EXCLUDED.recorded_at`,
		runID, period, kind, status, size, reason, transient, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: record outcome %s for run %s", period, runID)
	}
	return nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, summary *bulkfetch.Summary, runErr error) error {
	if summary == nil {
		summary = &bulkfetch.Summary{}
	}
	var errText *string
	if runErr != nil {
		msg := runErr.Error()
		errText = &msg
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE fetch_runs SET status = $1, total = $2, already_satisfied = $3, succeeded = $4,
		   skipped_unavailable = $5, failed = $6, bytes = $7, error = $8, completed_at = now()
		 WHERE id = $9`,
		string(statusFor(summary, runErr)), summary.Total, summary.AlreadySatisfied, summary.Succeeded,
		summary.SkippedUnavailable, summary.Failed, summary.Bytes, errText,
		runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

const postgresRunColumns = `id, command, label, status, planned, total, already_satisfied, succeeded,
	skipped_unavailable, failed, bytes, error, started_at, completed_at`

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+postgresRunColumns+` FROM fetch_runs WHERE id = $1`, runID)
	r, err := scanPostgresRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("postgres: get run: not found: %s", runID)
	}
	return r, err
}

func (s *PostgresStore) LatestRun(ctx context.Context) (*Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+postgresRunColumns+` FROM fetch_runs WHERE status <> $1 ORDER BY started_at DESC LIMIT 1`,
		string(RunStatusRunning),
	)
	r, err := scanPostgresRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+postgresRunColumns+` FROM fetch_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanPostgresRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) Outcomes(ctx context.Context, runID string) ([]PeriodOutcome, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT period, kind, status_code, size, reason, transient, recorded_at
		 FROM fetch_outcomes WHERE run_id = $1 ORDER BY period`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list outcomes for run %s", runID)
	}
	defer rows.Close()

	var out []PeriodOutcome
	for rows.Next() {
		var period, kind string
		var rec PeriodOutcome
		if err := rows.Scan(&period, &kind, &rec.StatusCode, &rec.Size, &rec.Reason, &rec.Transient, &rec.RecordedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan outcome")
		}
		parsed, err := parseOutcome(runID, period, kind)
		if err != nil {
			return nil, err
		}
		rec.RunID, rec.Period, rec.Kind = parsed.RunID, parsed.Period, parsed.Kind
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list outcomes iterate")
}

func scanPostgresRun(row pgx.Row) (*Run, error) {
	var r Run
	var status string
	var errText *string

	err := row.Scan(&r.ID, &r.Command, &r.Label, &status, &r.Planned, &r.Total,
		&r.AlreadySatisfied, &r.Succeeded, &r.SkippedUnavailable, &r.Failed, &r.Bytes,
		&errText, &r.StartedAt, &r.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan run")
	}
	r.Status = RunStatus(status)
	if errText != nil {
		r.Error = *errText
	}
	return &r, nil
}
