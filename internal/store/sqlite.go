package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/munivars/internal/model"
)

// SQLiteStore implements RunStore using modernc.org/sqlite.
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
CREATE TABLE IF NOT EXISTS pipeline_runs (
	id              TEXT PRIMARY KEY,
	municipality_id TEXT NOT NULL,
	config          TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending',
	summary         TEXT,
	draft_ids       TEXT,
	started_at      DATETIME NOT NULL,
	completed_at    DATETIME
);

CREATE TABLE IF NOT EXISTS pipeline_steps (
	run_id      TEXT NOT NULL REFERENCES pipeline_runs(id) ON DELETE CASCADE,
	seq         INTEGER NOT NULL,
	step        TEXT NOT NULL,
	status      TEXT NOT NULL,
	message     TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	details     TEXT,
	PRIMARY KEY (run_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_pipeline_runs_municipality ON pipeline_runs(municipality_id);
CREATE INDEX IF NOT EXISTS idx_pipeline_runs_status ON pipeline_runs(status);
CREATE INDEX IF NOT EXISTS idx_pipeline_runs_started_at ON pipeline_runs(started_at DESC);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.PipelineResult) error {
	cols, err := encodeRun(run)
	if err != nil {
		return eris.Wrap(err, "sqlite")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pipeline_runs (id, municipality_id, config, status, summary, draft_ids, started_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Config.MunicipalityID, string(cols.config), string(run.Status),
		string(cols.summary), string(cols.draftIDs), utc(run.StartedAt),
	)
	return eris.Wrapf(err, "sqlite: insert run %s", run.ID)
}

func (s *SQLiteStore) AppendStep(ctx context.Context, runID string, seq int, step model.StepResult) error {
	details, err := encodeDetails(step.Details)
	if err != nil {
		return eris.Wrap(err, "sqlite")
	}
	var detailsArg any
	if details != nil {
		detailsArg = string(details)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pipeline_steps (run_id, seq, step, status, message, duration_ms, details) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, seq, string(step.Step), string(step.Status), step.Message, step.DurationMS, detailsArg,
	)
	return eris.Wrapf(err, "sqlite: insert step %d for run %s", seq, runID)
}

func (s *SQLiteStore) FinishRun(ctx context.Context, run *model.PipelineResult) error {
	cols, err := encodeRun(run)
	if err != nil {
		return eris.Wrap(err, "sqlite")
	}
	var completed any
	if run.CompletedAt != nil {
		completed = utc(*run.CompletedAt)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_runs SET status = ?, summary = ?, draft_ids = ?, completed_at = ? WHERE id = ?`,
		string(run.Status), string(cols.summary), string(cols.draftIDs), completed, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", run.ID)
	}
	return checkRowsAffected(res, "run", run.ID)
}

// GetRun returns nil when the run does not exist.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.PipelineResult, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, config, status, summary, draft_ids, started_at, completed_at FROM pipeline_runs WHERE id = ?`,
		runID,
	)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	if run.Steps, err = s.steps(ctx, runID); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *SQLiteStore) steps(ctx context.Context, runID string) ([]model.StepResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT step, status, message, duration_ms, details FROM pipeline_steps WHERE run_id = ? ORDER BY seq`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list steps for run %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	steps := []model.StepResult{}
	for rows.Next() {
		var st model.StepResult
		var details sql.NullString
		if err := rows.Scan(&st.Step, &st.Status, &st.Message, &st.DurationMS, &details); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan step")
		}
		if st.Details, err = decodeDetails([]byte(details.String)); err != nil {
			return nil, eris.Wrap(err, "sqlite")
		}
		steps = append(steps, st)
	}
	return steps, eris.Wrap(rows.Err(), "sqlite: list steps iterate")
}

// ListRuns returns runs newest first, without their steps.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.PipelineResult, error) {
	query := `SELECT id, config, status, summary, draft_ids, started_at, completed_at FROM pipeline_runs WHERE 1=1`
	var args []any

	if filter.MunicipalityID != "" {
		query += ` AND municipality_id = ?`
		args = append(args, filter.MunicipalityID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limitOf(filter))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.PipelineResult
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
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

func scanRun(row scannable) (*model.PipelineResult, error) {
	var r model.PipelineResult
	var config string
	var summary, draftIDs sql.NullString
	var completed sql.NullTime
	var started time.Time

	if err := row.Scan(&r.ID, &config, &r.Status, &summary, &draftIDs, &started, &completed); err != nil {
		return nil, err
	}
	r.StartedAt = started.UTC()
	if completed.Valid {
		t := completed.Time.UTC()
		r.CompletedAt = &t
	}
	err := decodeRun(&r, runColumns{
		config:   []byte(config),
		summary:  []byte(summary.String),
		draftIDs: []byte(draftIDs.String),
	})
	return &r, err
}
