package trace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/netsblox/cloud-go/internal/errs"
	"github.com/netsblox/cloud-go/internal/postgres"
)

const traceColumns = `id, project_id, start_time, end_time`

func scanTrace(row pgx.Row) (*NetworkTrace, error) {
	var t NetworkTrace
	if err := row.Scan(&t.ID, &t.ProjectID, &t.StartTime, &t.EndTime); err != nil {
		return nil, fmt.Errorf("scan trace: %w", err)
	}
	return &t, nil
}

// PGRepository stores traces and captured messages in PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed trace repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Start opens a new recording for the project.
func (r *PGRepository) Start(ctx context.Context, projectID uuid.UUID) (*NetworkTrace, error) {
	t, err := scanTrace(r.db.QueryRow(ctx,
		`INSERT INTO network_traces (id, project_id) VALUES ($1, $2)
		 RETURNING `+traceColumns,
		uuid.New(), projectID))
	if err != nil {
		return nil, errs.Database(err)
	}
	return t, nil
}

// Stop closes the trace. Captured messages stay retrievable until the trace
// is deleted. Stopping an already stopped trace is a no-op.
func (r *PGRepository) Stop(ctx context.Context, projectID, traceID uuid.UUID) (*NetworkTrace, error) {
	t, err := scanTrace(r.db.QueryRow(ctx,
		`UPDATE network_traces
		 SET end_time = COALESCE(end_time, now())
		 WHERE id = $1 AND project_id = $2
		 RETURNING `+traceColumns,
		traceID, projectID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.New(errs.KindNetworkTraceNotFound)
		}
		return nil, errs.Database(err)
	}
	return t, nil
}

// ByID returns one trace of the project.
func (r *PGRepository) ByID(ctx context.Context, projectID, traceID uuid.UUID) (*NetworkTrace, error) {
	t, err := scanTrace(r.db.QueryRow(ctx,
		`SELECT `+traceColumns+` FROM network_traces
		 WHERE id = $1 AND project_id = $2`,
		traceID, projectID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.New(errs.KindNetworkTraceNotFound)
		}
		return nil, errs.Database(err)
	}
	return t, nil
}

// ListByProject returns every trace of the project, oldest first.
func (r *PGRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]NetworkTrace, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+traceColumns+` FROM network_traces
		 WHERE project_id = $1 ORDER BY start_time`,
		projectID)
	if err != nil {
		return nil, errs.Database(err)
	}
	defer rows.Close()

	traces := []NetworkTrace{}
	for rows.Next() {
		t, err := scanTrace(rows)
		if err != nil {
			return nil, errs.Database(err)
		}
		traces = append(traces, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Database(err)
	}
	return traces, nil
}

// Messages returns the messages captured inside the trace's window, oldest
// first. An open trace's window extends to now.
func (r *PGRepository) Messages(ctx context.Context, t *NetworkTrace) ([]SentMessage, error) {
	start, end := t.Window(time.Now())
	rows, err := r.db.Query(ctx,
		`SELECT id, project_id, recipients, sent_at, source, content
		 FROM sent_messages
		 WHERE project_id = $1 AND sent_at >= $2 AND sent_at <= $3
		 ORDER BY sent_at`,
		t.ProjectID, start, end)
	if err != nil {
		return nil, errs.Database(err)
	}
	defer rows.Close()

	messages := []SentMessage{}
	for rows.Next() {
		var m SentMessage
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.Recipients, &m.SentAt, &m.Source, &m.Content); err != nil {
			return nil, errs.Database(err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Database(err)
	}
	return messages, nil
}

// Delete removes a trace and purges the captured messages no remaining trace
// of the project can still reach.
func (r *PGRepository) Delete(ctx context.Context, projectID, traceID uuid.UUID) error {
	return postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`DELETE FROM network_traces WHERE id = $1 AND project_id = $2`,
			traceID, projectID)
		if err != nil {
			return errs.Database(err)
		}
		if tag.RowsAffected() == 0 {
			return errs.New(errs.KindNetworkTraceNotFound)
		}

		_, err = tx.Exec(ctx,
			`DELETE FROM sent_messages
			 WHERE project_id = $1
			   AND sent_at < COALESCE(
			       (SELECT min(start_time) FROM network_traces WHERE project_id = $1),
			       'infinity'::timestamptz)`,
			projectID)
		if err != nil {
			return errs.Database(err)
		}
		return nil
	})
}

// DeleteByProject removes every trace and captured message of the project.
// Called when the project itself is deleted.
func (r *PGRepository) DeleteByProject(ctx context.Context, projectID uuid.UUID) error {
	return postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM network_traces WHERE project_id = $1`, projectID); err != nil {
			return errs.Database(err)
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM sent_messages WHERE project_id = $1`, projectID); err != nil {
			return errs.Database(err)
		}
		return nil
	})
}

// RecordMessage captures a message if the project has an open trace. The
// insert is guarded so projects without a recording pay a single indexed
// existence check.
func (r *PGRepository) RecordMessage(ctx context.Context, projectID uuid.UUID, source, recipients, content json.RawMessage) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO sent_messages (id, project_id, recipients, source, content)
		 SELECT $1, $2, $3, $4, $5
		 WHERE EXISTS (
		     SELECT 1 FROM network_traces
		     WHERE project_id = $2 AND end_time IS NULL)`,
		uuid.New(), projectID, recipients, source, content)
	if err != nil {
		return errs.Database(err)
	}
	return nil
}

// Recorder captures messages in the background so message routing never
// waits on storage. Failures are logged and dropped.
type Recorder struct {
	repo *PGRepository
	log  zerolog.Logger
}

// NewRecorder creates a background message recorder.
func NewRecorder(repo *PGRepository, logger zerolog.Logger) *Recorder {
	return &Recorder{repo: repo, log: logger.With().Str("component", "trace").Logger()}
}

// Record captures a routed message asynchronously.
func (r *Recorder) Record(projectID uuid.UUID, source, recipients, content json.RawMessage) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.repo.RecordMessage(ctx, projectID, source, recipients, content); err != nil {
			r.log.Warn().Err(err).
				Str("project_id", projectID.String()).
				Msg("Message capture failed")
		}
	}()
}
