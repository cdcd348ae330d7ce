package ingestion

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/rpattn/phenobatch/internal/catalog"
	"github.com/rpattn/phenobatch/internal/domain"
	"github.com/rpattn/phenobatch/internal/repository"
	"github.com/rpattn/phenobatch/internal/uploads"
)

// Dependencies are the stores a Processor works against. IngestionLog and
// Views are optional.
type Dependencies struct {
	Jobs         repository.BatchJobRepository
	Catalog      repository.CatalogRepository
	Snapshots    *catalog.Provider
	Associations repository.AssociationReader
	Tx           repository.TxRunner
	Uploads      uploads.Store
	IngestionLog repository.IngestionLogRepository
	Views        repository.ViewRefresher
}

type ProcessorOptions struct {
	// RowWorkers bounds concurrent row validation.
	RowWorkers int

	Logger *logrus.Entry
}

func (o *ProcessorOptions) setDefaults() {
	if o.RowWorkers == 0 {
		o.RowWorkers = 8
	}
	if o.Logger == nil {
		o.Logger = logrusNop()
	}
}

// Processor runs one claimed job through validation and the apply transaction.
type Processor struct {
	deps       Dependencies
	opts       ProcessorOptions
	headers    *HeaderValidator
	reconciler *RowReconciler
	engine     *ApplyEngine
	m          *metrics
}

func NewProcessor(deps Dependencies, opts ProcessorOptions) (*Processor, error) {
	switch {
	case deps.Jobs == nil:
		return nil, errors.New("ingestion: job repository is required")
	case deps.Catalog == nil:
		return nil, errors.New("ingestion: catalog repository is required")
	case deps.Snapshots == nil:
		return nil, errors.New("ingestion: catalog provider is required")
	case deps.Associations == nil:
		return nil, errors.New("ingestion: association reader is required")
	case deps.Tx == nil:
		return nil, errors.New("ingestion: transaction runner is required")
	case deps.Uploads == nil:
		return nil, errors.New("ingestion: upload store is required")
	}
	opts.setDefaults()

	return &Processor{
		deps:       deps,
		opts:       opts,
		headers:    NewHeaderValidator(deps.Catalog),
		reconciler: NewRowReconciler(deps.Associations, opts.RowWorkers),
		engine:     NewApplyEngine(opts.Logger),
		m:          getMetrics(),
	}, nil
}

// Process drives a RUNNING job to COMPLETED or FAILED. The returned error is
// the reason the job failed; nil means the job committed. A failure to record
// FAILED is joined onto the job error.
func (p *Processor) Process(ctx context.Context, job domain.BatchJob) error {
	started := time.Now()
	log := p.opts.Logger.WithFields(logrus.Fields{
		"job_id":     job.ID,
		"batch_type": job.BatchType.String(),
		"file":       job.StoredFileName,
	})
	log.Info("ingestion: processing batch job")

	applied, err := p.run(ctx, job, log)
	elapsed := time.Since(started)
	if err != nil {
		p.m.jobsTotal.WithLabelValues(job.BatchType.String(), "failed").Inc()
		p.m.jobDuration.WithLabelValues(job.BatchType.String(), "failed").Observe(elapsed.Seconds())
		return p.fail(ctx, job, err, log)
	}

	p.m.jobsTotal.WithLabelValues(job.BatchType.String(), "completed").Inc()
	p.m.jobDuration.WithLabelValues(job.BatchType.String(), "completed").Observe(elapsed.Seconds())
	p.m.rowsProcessed.WithLabelValues("applied").Add(float64(applied))
	log.WithFields(logrus.Fields{"rows": applied, "elapsed": elapsed}).Info("ingestion: batch job completed")

	p.refreshViews(ctx, log)
	return nil
}

// run returns the number of rows applied.
func (p *Processor) run(ctx context.Context, job domain.BatchJob, log *logrus.Entry) (int, error) {
	if !job.BatchType.Valid() {
		return 0, &domain.ValidationError{
			Code:    domain.CodeInvalidBatchType,
			Message: "Unknown batch type " + job.BatchType.String() + ".",
		}
	}

	var params domain.DeleteParameters
	if job.BatchType == domain.BatchTypeDelete {
		var err error
		if params, err = deleteParameters(job); err != nil {
			return 0, err
		}
	}

	snapshot := p.deps.Snapshots.Current()
	store, err := ResolveUploadStore(p.deps.Uploads, snapshot)
	if err != nil {
		return 0, err
	}

	table, closeFile, err := p.openFile(ctx, store, job.StoredFileName)
	if err != nil {
		return 0, err
	}
	defer closeFile()

	// No data row is read until the header is accepted.
	properties, err := p.headers.Validate(ctx, table.Header, job.BatchType)
	if err != nil {
		return 0, err
	}
	records, err := readRecords(table)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, &domain.ValidationError{Code: domain.CodeEmptyFile, Message: "The file contains a header row but no data rows."}
	}

	rows, err := p.reconciler.Reconcile(ctx, records, ReconcileInput{
		Snapshot:     snapshot,
		Properties:   properties,
		IdentityOnly: job.BatchType == domain.BatchTypeDelete,
	})
	if err != nil {
		return 0, err
	}
	log.WithField("rows", len(rows)).Debug("ingestion: rows validated")

	err = p.deps.Tx.WithinTx(ctx, func(tx repository.TxStore) error {
		var err error
		if job.BatchType == domain.BatchTypeDelete {
			err = p.engine.ApplyDelete(ctx, tx, job, params, rows)
		} else {
			err = p.engine.ApplyUpload(ctx, tx, job, rows)
		}
		if err != nil {
			return err
		}
		return domain.NewApplyError("mark job completed", tx.MarkJobCompleted(ctx, job.ID))
	})
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

func deleteParameters(job domain.BatchJob) (domain.DeleteParameters, error) {
	params, err := domain.ParseDeleteParameters(job.Parameters)
	if err != nil {
		return params, err
	}
	if params.Mode() == domain.DeleteNothing {
		return params, &domain.ValidationError{
			Code:    domain.CodeInvalidDeleteParameters,
			Message: "Nothing to delete: isDeleteOrganism is false and listDeleteProperties is empty.",
		}
	}
	return params, nil
}

func (p *Processor) openFile(ctx context.Context, store uploads.Store, name string) (*Table, func(), error) {
	rc, err := store.Open(ctx, name)
	if err != nil {
		if errors.Is(err, uploads.ErrNotFound) {
			return nil, nil, &domain.ValidationError{Code: domain.CodeUnreadableFile, Message: "The batch file " + name + " was not found."}
		}
		return nil, nil, errors.Wrapf(err, "failed to open batch file %s", name)
	}

	table, err := OpenTable(name, rc)
	if err != nil {
		rc.Close()
		return nil, nil, err
	}
	return table, func() {
		table.Close()
		rc.Close()
	}, nil
}

func readRecords(table *Table) ([]Record, error) {
	var records []Record
	for record, err := range table.Records() {
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// fail records FAILED outside the rolled-back transaction. The job must not
// stay RUNNING, so the write ignores cancellation of ctx.
func (p *Processor) fail(ctx context.Context, job domain.BatchJob, cause error, log *logrus.Entry) error {
	ctx = context.WithoutCancel(ctx)
	kind := domain.ClassifyFailure(cause)
	log = log.WithField("failure_kind", string(kind))
	if kind == domain.FailureInvariant {
		log.WithError(cause).Error("ingestion: batch job failed")
	} else {
		log.WithError(cause).Warn("ingestion: batch job failed")
	}

	rowErrors := validationErrors(cause)
	p.m.rowsProcessed.WithLabelValues("rejected").Add(float64(len(rowErrors)))

	if err := p.deps.Jobs.MarkFailed(ctx, job.ID, cause.Error()); err != nil {
		log.WithError(err).Error("ingestion: failed to mark batch job as failed")
		return multierror.Append(cause, errors.Wrap(err, "mark job failed"))
	}

	if p.deps.IngestionLog != nil && len(rowErrors) > 0 {
		entries := make([]domain.IngestionLogEntry, len(rowErrors))
		for i, rowErr := range rowErrors {
			entries[i] = domain.NewIngestionLogEntry(job.ID, rowErr)
		}
		if err := p.deps.IngestionLog.Record(ctx, entries); err != nil {
			log.WithError(err).Warn("ingestion: failed to record row errors")
		}
	}
	return cause
}

func validationErrors(err error) []*domain.ValidationError {
	var rows *RowValidationError
	if errors.As(err, &rows) {
		return rows.Rows()
	}
	var single *domain.ValidationError
	if errors.As(err, &single) {
		return []*domain.ValidationError{single}
	}
	return nil
}

func (p *Processor) refreshViews(ctx context.Context, log *logrus.Entry) {
	if p.deps.Views == nil {
		return
	}
	if err := p.deps.Views.RefreshViews(context.WithoutCancel(ctx)); err != nil {
		log.WithError(err).Warn("ingestion: failed to refresh materialized views")
	}
}

// ResolveUploadStore applies the upload directory setting of the snapshot, if any.
func ResolveUploadStore(base uploads.Store, snapshot *catalog.Snapshot) (uploads.Store, error) {
	dir, ok := snapshot.Setting(catalog.SettingUploadsPath)
	if !ok || dir == "" {
		return base, nil
	}
	store, err := uploads.WithDirectory(base, dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open upload directory %s", dir)
	}
	return store, nil
}
