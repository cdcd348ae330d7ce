package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/rpattn/phenobatch/internal/domain"
)

var (
	// ErrNotFound is returned when a lookup by id matches no row.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when an insert hits a unique constraint.
	ErrDuplicate = errors.New("duplicate")
)

// BatchJobRepository persists batch jobs and their status transitions.
type BatchJobRepository interface {
	Create(ctx context.Context, job domain.BatchJob) (domain.BatchJob, error)
	GetByID(ctx context.Context, id int64) (domain.BatchJob, error)
	List(ctx context.Context, limit int, offset int) ([]domain.BatchJob, error)

	// ClaimNextSubmitted moves the oldest SUBMITTED job to RUNNING and stamps
	// date_started. It returns nil, nil when nothing is pending.
	ClaimNextSubmitted(ctx context.Context) (*domain.BatchJob, error)
	MarkFailed(ctx context.Context, id int64, logs string) error
	CountByStatus(ctx context.Context, status domain.JobStatus) (int64, error)
}

// CatalogRepository reads the reference tables the engine validates against.
type CatalogRepository interface {
	// ListTemplateProperties returns non-location properties that carry a
	// template column name, ordered by that name.
	ListTemplateProperties(ctx context.Context) ([]domain.Property, error)
	SpeciesCodes(ctx context.Context) (map[string]int64, error)
	Settings(ctx context.Context) (map[string]string, error)
}

// AssociationReader answers the batched existence check used to tag property
// values as INSERT or UPDATE.
type AssociationReader interface {
	ExistingAssociations(ctx context.Context, keys []domain.OrganismPropertyKey) (map[domain.OrganismPropertyKey]bool, error)
}

// TxStore is the set of statements the apply phase issues. Implementations are
// bound to one transaction and are not safe for concurrent use.
type TxStore interface {
	FindOrganismIDs(ctx context.Context, keys []string) (map[string]int64, error)
	CreateOrganism(ctx context.Context, attrs domain.OrganismAttributes) (int64, error)
	UpdateOrganismAttributes(ctx context.Context, organismID int64, attrs domain.OrganismAttributes) error
	InsertProjectLinks(ctx context.Context, organismID int64, projectIDs []int64) error
	DeleteProjectLinks(ctx context.Context, organismID int64) error
	WritePropertyValue(ctx context.Context, value domain.PropertyValue) error
	Backup(ctx context.Context, req domain.BackupRequest) error
	Delete(ctx context.Context, req domain.DeleteRequest) error
	MarkJobCompleted(ctx context.Context, jobID int64) error
}

// TxRunner runs fn inside one transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(TxStore) error) error
}

// IngestionLogRepository stores row level failures per job.
type IngestionLogRepository interface {
	Record(ctx context.Context, entries []domain.IngestionLogEntry) error
	List(ctx context.Context, jobID int64, limit int, offset int) ([]domain.IngestionLogEntry, error)
}

// ViewRefresher rebuilds the reporting materialized views.
type ViewRefresher interface {
	RefreshViews(ctx context.Context) error
}
