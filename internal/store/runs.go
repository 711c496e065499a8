package store

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/munivars/internal/config"
	"github.com/sells-group/munivars/internal/model"
)

// RunFilter specifies criteria for listing pipeline runs.
type RunFilter struct {
	MunicipalityID string               `json:"municipality_id,omitempty"`
	Status         model.PipelineStatus `json:"status,omitempty"`
	Limit          int                  `json:"limit,omitempty"`
	Offset         int                  `json:"offset,omitempty"`
}

// RunStore persists pipeline run history.
type RunStore interface {
	CreateRun(ctx context.Context, run *model.PipelineResult) error
	AppendStep(ctx context.Context, runID string, seq int, step model.StepResult) error
	FinishRun(ctx context.Context, run *model.PipelineResult) error
	GetRun(ctx context.Context, runID string) (*model.PipelineResult, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.PipelineResult, error)

	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

// OpenRunStore opens the store.driver backend and migrates it.
func OpenRunStore(ctx context.Context, cfg config.StoreConfig) (RunStore, error) {
	var (
		rs  RunStore
		err error
	)
	if cfg.Driver == "postgres" {
		rs, err = NewPostgres(ctx, cfg.DatabaseURL, nil)
	} else {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, eris.Wrap(err, "store: create data dir")
		}
		rs, err = NewSQLite(cfg.SQLitePath())
	}
	if err != nil {
		return nil, err
	}
	if err := rs.Migrate(ctx); err != nil {
		rs.Close() //nolint:errcheck
		return nil, err
	}
	return rs, nil
}

// runColumns are the encoded forms of a run's JSON fields.
type runColumns struct {
	config   []byte
	summary  []byte
	draftIDs []byte
}

func encodeRun(run *model.PipelineResult) (runColumns, error) {
	var c runColumns
	var err error
	if c.config, err = json.Marshal(run.Config); err != nil {
		return c, eris.Wrap(err, "marshal config")
	}
	if c.summary, err = json.Marshal(run.Summary); err != nil {
		return c, eris.Wrap(err, "marshal summary")
	}
	ids := run.DraftIDs
	if ids == nil {
		ids = []string{}
	}
	if c.draftIDs, err = json.Marshal(ids); err != nil {
		return c, eris.Wrap(err, "marshal draft ids")
	}
	return c, nil
}

func decodeRun(run *model.PipelineResult, c runColumns) error {
	if err := json.Unmarshal(c.config, &run.Config); err != nil {
		return eris.Wrap(err, "unmarshal config")
	}
	if len(c.summary) > 0 {
		if err := json.Unmarshal(c.summary, &run.Summary); err != nil {
			return eris.Wrap(err, "unmarshal summary")
		}
	}
	if len(c.draftIDs) > 0 {
		if err := json.Unmarshal(c.draftIDs, &run.DraftIDs); err != nil {
			return eris.Wrap(err, "unmarshal draft ids")
		}
	}
	return nil
}

func encodeDetails(d map[string]any) ([]byte, error) {
	if len(d) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(d)
	return b, eris.Wrap(err, "marshal step details")
}

func decodeDetails(b []byte) (map[string]any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var d map[string]any
	return d, eris.Wrap(json.Unmarshal(b, &d), "unmarshal step details")
}

func limitOf(f RunFilter) int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	return f.Limit
}

func utc(t time.Time) time.Time { return t.UTC() }
