package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/munivars/internal/model"
)

// Pool is the subset of pgxpool.Pool used by PostgresStore. pgxmock
// satisfies it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements RunStore using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// queries are cached as prepared statements by pgx on first use.
var queries = map[string]string{
	"insert_run":  `INSERT INTO pipeline_runs (id, municipality_id, config, status, summary, draft_ids, started_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
	"insert_step": `INSERT INTO pipeline_steps (run_id, seq, step, status, message, duration_ms, details) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
	"finish_run":  `UPDATE pipeline_runs SET status = $1, summary = $2, draft_ids = $3, completed_at = $4 WHERE id = $5`,
	"get_run":     `SELECT id, config, status, summary, draft_ids, started_at, completed_at FROM pipeline_runs WHERE id = $1`,
	"list_steps":  `SELECT step, status, message, duration_ms, details FROM pipeline_steps WHERE run_id = $1 ORDER BY seq`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
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
CREATE TABLE IF NOT EXISTS pipeline_runs (
	id              TEXT PRIMARY KEY,
	municipality_id TEXT NOT NULL,
	config          JSONB NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending',
	summary         JSONB,
	draft_ids       JSONB,
	started_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at    TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS pipeline_steps (
	run_id      TEXT NOT NULL REFERENCES pipeline_runs(id) ON DELETE CASCADE,
	seq         INTEGER NOT NULL,
	step        TEXT NOT NULL,
	status      TEXT NOT NULL,
	message     TEXT NOT NULL DEFAULT '',
	duration_ms BIGINT NOT NULL DEFAULT 0,
	details     JSONB,
	PRIMARY KEY (run_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_pipeline_runs_municipality ON pipeline_runs(municipality_id);
CREATE INDEX IF NOT EXISTS idx_pipeline_runs_status ON pipeline_runs(status);
CREATE INDEX IF NOT EXISTS idx_pipeline_runs_started_at ON pipeline_runs(started_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, run *model.PipelineResult) error {
	cols, err := encodeRun(run)
	if err != nil {
		return eris.Wrap(err, "postgres")
	}
	_, err = s.pool.Exec(ctx, queries["insert_run"],
		run.ID, run.Config.MunicipalityID, cols.config, string(run.Status),
		cols.summary, cols.draftIDs, utc(run.StartedAt),
	)
	return eris.Wrapf(err, "postgres: insert run %s", run.ID)
}

func (s *PostgresStore) AppendStep(ctx context.Context, runID string, seq int, step model.StepResult) error {
	details, err := encodeDetails(step.Details)
	if err != nil {
		return eris.Wrap(err, "postgres")
	}
	_, err = s.pool.Exec(ctx, queries["insert_step"],
		runID, seq, string(step.Step), string(step.Status), step.Message, step.DurationMS, details,
	)
	return eris.Wrapf(err, "postgres: insert step %d for run %s", seq, runID)
}

func (s *PostgresStore) FinishRun(ctx context.Context, run *model.PipelineResult) error {
	cols, err := encodeRun(run)
	if err != nil {
		return eris.Wrap(err, "postgres")
	}
	var completed *time.Time
	if run.CompletedAt != nil {
		t := utc(*run.CompletedAt)
		completed = &t
	}
	tag, err := s.pool.Exec(ctx, queries["finish_run"],
		string(run.Status), cols.summary, cols.draftIDs, completed, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", run.ID)
	}
	return nil
}

// GetRun returns nil when the run does not exist.
func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.PipelineResult, error) {
	row := s.pool.QueryRow(ctx, queries["get_run"], runID)
	run, err := scanPgRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}

	rows, err := s.pool.Query(ctx, queries["list_steps"], runID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list steps for run %s", runID)
	}
	defer rows.Close()

	run.Steps = []model.StepResult{}
	for rows.Next() {
		var st model.StepResult
		var details []byte
		if err := rows.Scan(&st.Step, &st.Status, &st.Message, &st.DurationMS, &details); err != nil {
			return nil, eris.Wrap(err, "postgres: scan step")
		}
		if st.Details, err = decodeDetails(details); err != nil {
			return nil, eris.Wrap(err, "postgres")
		}
		run.Steps = append(run.Steps, st)
	}
	return run, eris.Wrap(rows.Err(), "postgres: list steps iterate")
}

// ListRuns returns runs newest first, without their steps.
func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.PipelineResult, error) {
	query := `SELECT id, config, status, summary, draft_ids, started_at, completed_at FROM pipeline_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.MunicipalityID != "" {
		query += fmt.Sprintf(` AND municipality_id = $%d`, argIdx)
		args = append(args, filter.MunicipalityID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY started_at DESC LIMIT $%d`, argIdx)
	args = append(args, limitOf(filter))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.PipelineResult
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func scanPgRun(row scannable) (*model.PipelineResult, error) {
	var r model.PipelineResult
	var config, summary, draftIDs []byte
	var completed *time.Time

	if err := row.Scan(&r.ID, &config, &r.Status, &summary, &draftIDs, &r.StartedAt, &completed); err != nil {
		return nil, err
	}
	r.StartedAt = r.StartedAt.UTC()
	if completed != nil {
		t := completed.UTC()
		r.CompletedAt = &t
	}
	err := decodeRun(&r, runColumns{config: config, summary: summary, draftIDs: draftIDs})
	return &r, err
}
