package ingest

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/finscreen/internal/db"
)

// RunEntry is one row of ingest_log.
type RunEntry struct {
	ID          int64        `json:"id" csv:"id"`
	RunID       uuid.UUID    `json:"run_id" csv:"run_id"`
	Symbol      string       `json:"symbol" csv:"symbol"`
	Status      string       `json:"status" csv:"status"`
	Stage       string       `json:"stage,omitempty" csv:"stage"`
	StartedAt   time.Time    `json:"started_at" csv:"started_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty" csv:"completed_at"`
	Error       string       `json:"error,omitempty" csv:"error"`
	Summary     *ApplyResult `json:"summary,omitempty" csv:"-"`
}

// RunLog provides read/write access to the ingest_log table.
type RunLog struct {
	pool db.Querier
}

// NewRunLog creates a RunLog backed by the given pool.
func NewRunLog(pool db.Querier) *RunLog {
	return &RunLog{pool: pool}
}

// Start records the beginning of one symbol's ingest and returns its entry id.
func (l *RunLog) Start(ctx context.Context, runID uuid.UUID, symbol string) (int64, error) {
	var id int64
	err := l.pool.QueryRow(ctx,
		`INSERT INTO ingest_log (run_id, symbol, status, started_at)
		 VALUES ($1, $2, 'running', now()) RETURNING id`,
		runID.String(), symbol,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "runlog: start %s", symbol)
	}
	return id, nil
}

// Complete marks an entry as successfully ingested.
func (l *RunLog) Complete(ctx context.Context, entryID int64, res *ApplyResult) error {
	var summary []byte
	if res != nil {
		var err error
		if summary, err = json.Marshal(res); err != nil {
			return eris.Wrap(err, "runlog: marshal summary")
		}
	}

	_, err := l.pool.Exec(ctx,
		`UPDATE ingest_log
		 SET status = 'complete', completed_at = now(), summary = $1
		 WHERE id = $2`,
		summary, entryID,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: complete entry %d", entryID)
	}
	return nil
}

// Fail marks an entry as failed at stage.
func (l *RunLog) Fail(ctx context.Context, entryID int64, stage Stage, errMsg string) error {
	_, err := l.pool.Exec(ctx,
		`UPDATE ingest_log
		 SET status = 'failed', completed_at = now(), stage = $1, error = $2
		 WHERE id = $3`,
		string(stage), errMsg, entryID,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: fail entry %d", entryID)
	}
	return nil
}

// Recent returns the most recent entries, newest first. A symbol filter of
// "" matches every symbol.
func (l *RunLog) Recent(ctx context.Context, symbol string, limit int) ([]RunEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.pool.Query(ctx,
		`SELECT id, run_id, symbol, status, stage, started_at, completed_at, error, summary
		 FROM ingest_log
		 WHERE $1 = '' OR symbol = $1
		 ORDER BY started_at DESC
		 LIMIT $2`,
		symbol, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: list recent")
	}
	defer rows.Close()

	var entries []RunEntry
	for rows.Next() {
		var (
			e       RunEntry
			runID   string
			stage   *string
			errStr  *string
			summary []byte
		)
		if err := rows.Scan(&e.ID, &runID, &e.Symbol, &e.Status, &stage, &e.StartedAt, &e.CompletedAt, &errStr, &summary); err != nil {
			return nil, eris.Wrap(err, "runlog: scan entry")
		}
		if e.RunID, err = uuid.Parse(runID); err != nil {
			return nil, eris.Wrapf(err, "runlog: parse run id %q", runID)
		}
		if stage != nil {
			e.Stage = *stage
		}
		if errStr != nil {
			e.Error = *errStr
		}
		if summary != nil {
			var res ApplyResult
			if err := json.Unmarshal(summary, &res); err == nil {
				e.Summary = &res
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
