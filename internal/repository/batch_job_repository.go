package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/phenobatch/internal/domain"
)

const uniqueViolation = "23505"

const batchJobColumns = `bu.id,
	bu.file_name,
	bu.internal_file_name,
	bu.parameters,
	bu.batch_type_id,
	COALESCE(bt.name, ''),
	bu.uploaded_by_person_id,
	COALESCE(pe.first_name || ' ' || pe.family_name, ''),
	bu.status,
	bu.batch_name,
	bu.date_submitted,
	bu.date_started,
	bu.date_completed,
	bu.logs`

const batchJobJoins = `LEFT JOIN batch_type bt ON bt.id = bu.batch_type_id
	LEFT JOIN person pe ON pe.id = bu.uploaded_by_person_id`

type batchJobRepository struct {
	pool *pgxpool.Pool
}

// NewBatchJobRepository wires a repository backed by pgxpool.
func NewBatchJobRepository(pool *pgxpool.Pool) BatchJobRepository {
	return &batchJobRepository{pool: pool}
}

func (r *batchJobRepository) Create(ctx context.Context, job domain.BatchJob) (domain.BatchJob, error) {
	var parameters any
	if len(job.Parameters) > 0 {
		parameters = []byte(job.Parameters)
	}

	var submitted pgtype.Timestamptz
	err := r.pool.QueryRow(ctx,
		`INSERT INTO batch_upload (file_name, internal_file_name, parameters, batch_type_id, uploaded_by_person_id, status, batch_name)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, date_submitted`,
		job.OriginalFileName,
		job.StoredFileName,
		parameters,
		int32(job.BatchType),
		job.SubmittedByPersonID,
		int32(domain.JobStatusSubmitted),
		job.BatchName,
	).Scan(&job.ID, &submitted)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.BatchJob{}, errors.Wrapf(ErrDuplicate, "batch file %q already submitted", job.StoredFileName)
		}
		return domain.BatchJob{}, errors.Wrap(err, "failed to create batch job")
	}

	job.Status = domain.JobStatusSubmitted
	if submitted.Valid {
		job.DateSubmitted = submitted.Time
	}
	return job, nil
}

func (r *batchJobRepository) GetByID(ctx context.Context, id int64) (domain.BatchJob, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+batchJobColumns+`
		 FROM batch_upload bu
		 `+batchJobJoins+`
		 WHERE bu.id = $1`,
		id,
	)
	job, err := scanBatchJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BatchJob{}, errors.Wrapf(ErrNotFound, "batch job %d", id)
		}
		return domain.BatchJob{}, errors.Wrap(err, "failed to get batch job")
	}
	return job, nil
}

func (r *batchJobRepository) List(ctx context.Context, limit int, offset int) ([]domain.BatchJob, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+batchJobColumns+`
		 FROM batch_upload bu
		 `+batchJobJoins+`
		 ORDER BY bu.date_submitted DESC, bu.id DESC
		 LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list batch jobs")
	}
	defer rows.Close()

	jobs := []domain.BatchJob{}
	for rows.Next() {
		job, scanErr := scanBatchJob(rows)
		if scanErr != nil {
			return nil, errors.Wrap(scanErr, "failed to scan batch job")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate batch jobs")
	}
	return jobs, nil
}

// ClaimNextSubmitted claims in a single statement. SKIP LOCKED keeps two
// scheduler instances from claiming the same row.
func (r *batchJobRepository) ClaimNextSubmitted(ctx context.Context) (*domain.BatchJob, error) {
	row := r.pool.QueryRow(ctx,
		`WITH claimed AS (
			UPDATE batch_upload
			SET status = $1, date_started = NOW()
			WHERE id = (
				SELECT id FROM batch_upload
				WHERE status = $2
				ORDER BY date_submitted ASC, id ASC
				LIMIT 1
				FOR UPDATE SKIP LOCKED
			)
			RETURNING *
		)
		SELECT `+batchJobColumns+`
		FROM claimed bu
		`+batchJobJoins,
		int32(domain.JobStatusRunning),
		int32(domain.JobStatusSubmitted),
	)
	job, err := scanBatchJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to claim batch job")
	}
	return &job, nil
}

func (r *batchJobRepository) MarkFailed(ctx context.Context, id int64, logs string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE batch_upload SET status = $2, logs = $3 WHERE id = $1 AND status = $4`,
		id,
		int32(domain.JobStatusFailed),
		logs,
		int32(domain.JobStatusRunning),
	)
	if err != nil {
		return errors.Wrap(err, "failed to mark batch job failed")
	}
	if tag.RowsAffected() == 0 {
		return errors.Errorf("batch job %d is not running", id)
	}
	return nil
}

func (r *batchJobRepository) CountByStatus(ctx context.Context, status domain.JobStatus) (int64, error) {
	var count int64
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM batch_upload WHERE status = $1`,
		int32(status),
	).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "failed to count batch jobs")
	}
	return count, nil
}

func scanBatchJob(row pgx.Row) (domain.BatchJob, error) {
	var (
		job         domain.BatchJob
		parameters  []byte
		batchType   int32
		status      int32
		submittedAt pgtype.Timestamptz
		startedAt   pgtype.Timestamptz
		completedAt pgtype.Timestamptz
		logs        pgtype.Text
	)
	if err := row.Scan(
		&job.ID,
		&job.OriginalFileName,
		&job.StoredFileName,
		&parameters,
		&batchType,
		&job.BatchTypeName,
		&job.SubmittedByPersonID,
		&job.SubmittedBy,
		&status,
		&job.BatchName,
		&submittedAt,
		&startedAt,
		&completedAt,
		&logs,
	); err != nil {
		return domain.BatchJob{}, err
	}

	job.Parameters = parameters
	job.BatchType = domain.BatchType(batchType)
	job.Status = domain.JobStatus(status)
	if submittedAt.Valid {
		job.DateSubmitted = submittedAt.Time
	}
	if startedAt.Valid {
		t := startedAt.Time
		job.DateStarted = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.DateCompleted = &t
	}
	if logs.Valid {
		value := logs.String
		job.Logs = &value
	}
	return job, nil
}
