package ingestion

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/rpattn/phenobatch/internal/domain"
	"github.com/rpattn/phenobatch/internal/repository"
)

// ApplyEngine issues the mutations of one job against a transaction. It never
// commits; the caller owns the transaction boundary.
type ApplyEngine struct {
	resolver IdentityResolver
	log      *logrus.Entry
}

func NewApplyEngine(log *logrus.Entry) *ApplyEngine {
	if log == nil {
		log = logrusNop()
	}
	return &ApplyEngine{log: log}
}

// ApplyUpload resolves organisms and writes every tagged property value.
func (e *ApplyEngine) ApplyUpload(ctx context.Context, tx repository.TxStore, job domain.BatchJob, rows []domain.ReconciledRow) error {
	if err := e.resolver.Resolve(ctx, tx, job, rows); err != nil {
		return err
	}
	for _, row := range rows {
		for _, value := range row.Values {
			if err := tx.WritePropertyValue(ctx, value); err != nil {
				step := fmt.Sprintf("write property %d of %s (%s)", value.PropertyID, value.OrganismKey, value.Operation)
				return domain.NewApplyError(step, err)
			}
		}
	}
	return nil
}

// ApplyDelete backs up and then deletes the organisms listed in rows. Every
// delete is preceded by the backup of the same rows.
func (e *ApplyEngine) ApplyDelete(ctx context.Context, tx repository.TxStore, job domain.BatchJob, params domain.DeleteParameters, rows []domain.ReconciledRow) error {
	keys := make([]string, len(rows))
	for i, row := range rows {
		keys[i] = row.Attributes.Key
	}
	backup := func(target domain.BackupTarget, propertyIDs []int64) error {
		err := tx.Backup(ctx, domain.BackupRequest{
			Target:       target,
			Operation:    domain.BackupForDelete,
			OrganismKeys: keys,
			PropertyIDs:  propertyIDs,
			PersonID:     job.SubmittedByPersonID,
			JobID:        job.ID,
		})
		return domain.NewApplyError("backup "+target.String(), err)
	}
	remove := func(req domain.DeleteRequest) error {
		req.OrganismKeys = keys
		return domain.NewApplyError("delete "+req.Target.String(), tx.Delete(ctx, req))
	}

	switch params.Mode() {
	case domain.DeleteListedProperties:
		if err := backup(domain.BackupProperties, params.ListDeleteProperties); err != nil {
			return err
		}
		return remove(domain.DeleteRequest{Target: domain.BackupProperties, PropertyIDs: params.ListDeleteProperties})

	case domain.DeleteOrganisms:
		if len(params.ListDeleteProperties) > 0 {
			e.log.WithField("job_id", job.ID).Warn("listDeleteProperties ignored because whole organisms are deleted")
		}
		steps := []func() error{
			func() error { return backup(domain.BackupProperties, nil) },
			func() error {
				return remove(domain.DeleteRequest{Target: domain.BackupProperties, AllProperties: true})
			},
			func() error { return backup(domain.BackupOrganisms, nil) },
			func() error { return backup(domain.BackupProjectOrganisms, nil) },
			func() error { return remove(domain.DeleteRequest{Target: domain.BackupProjectOrganisms}) },
			func() error { return remove(domain.DeleteRequest{Target: domain.BackupOrganisms}) },
		}
		for _, step := range steps {
			if err := step(); err != nil {
				return err
			}
		}
		return nil

	default:
		return domain.NewInvariantViolation("delete job %d reached apply with nothing selected", job.ID)
	}
}
