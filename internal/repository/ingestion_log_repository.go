package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/phenobatch/internal/domain"
)

type ingestionLogRepository struct {
	pool *pgxpool.Pool
}

// NewIngestionLogRepository wires a repository backed by pgxpool.
func NewIngestionLogRepository(pool *pgxpool.Pool) IngestionLogRepository {
	return &ingestionLogRepository{pool: pool}
}

func (r *ingestionLogRepository) Record(ctx context.Context, entries []domain.IngestionLogEntry) error {
	if r.pool == nil {
		return errors.New("ingestion log repository not initialized")
	}
	if len(entries) == 0 {
		return nil
	}

	_, err := r.pool.CopyFrom(
		ctx,
		pgx.Identifier{"batch_upload_error"},
		[]string{"batch_upload_id", "line", "organism_key", "code", "error_message"},
		pgx.CopyFromSlice(len(entries), func(i int) ([]any, error) {
			entry := entries[i]
			var line any
			if entry.Line != nil {
				line = int32(*entry.Line)
			}
			return []any{entry.JobID, line, entry.OrganismKey, string(entry.Code), entry.ErrorMessage}, nil
		}),
	)
	if err != nil {
		return errors.Wrap(err, "failed to record ingestion log")
	}
	return nil
}

func (r *ingestionLogRepository) List(ctx context.Context, jobID int64, limit int, offset int) ([]domain.IngestionLogEntry, error) {
	if r.pool == nil {
		return nil, errors.New("ingestion log repository not initialized")
	}

	if limit <= 0 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT id, batch_upload_id, line, organism_key, code, error_message, created_at
		 FROM batch_upload_error
		 WHERE batch_upload_id = $1
		 ORDER BY line NULLS FIRST, id
		 LIMIT $2 OFFSET $3`,
		jobID,
		limit,
		offset,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list ingestion logs")
	}
	defer rows.Close()

	logs := []domain.IngestionLogEntry{}
	for rows.Next() {
		var (
			entry       domain.IngestionLogEntry
			line        pgtype.Int4
			organismKey pgtype.Text
			code        string
			createdAt   pgtype.Timestamptz
		)
		if scanErr := rows.Scan(
			&entry.ID,
			&entry.JobID,
			&line,
			&organismKey,
			&code,
			&entry.ErrorMessage,
			&createdAt,
		); scanErr != nil {
			return nil, errors.Wrap(scanErr, "failed to scan ingestion log")
		}

		entry.Code = domain.ValidationCode(code)
		if line.Valid {
			value := int(line.Int32)
			entry.Line = &value
		}
		if organismKey.Valid {
			entry.OrganismKey = organismKey.String
		}
		if createdAt.Valid {
			entry.CreatedAt = createdAt.Time
		}

		logs = append(logs, entry)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, errors.Wrap(rowsErr, "failed to iterate ingestion logs")
	}

	return logs, nil
}
