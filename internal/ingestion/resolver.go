package ingestion

import (
	"context"

	"github.com/rpattn/phenobatch/internal/domain"
	"github.com/rpattn/phenobatch/internal/repository"
)

// IdentityResolver maps organism keys to ids inside the apply transaction,
// creating new organisms and refreshing attributes of existing ones.
type IdentityResolver struct{}

// Resolve writes the organism part of every row and fills in OrganismID on
// each property value. Rows are handled in file order on the single tx.
func (IdentityResolver) Resolve(ctx context.Context, tx repository.TxStore, job domain.BatchJob, rows []domain.ReconciledRow) error {
	keys := make([]string, len(rows))
	for i, row := range rows {
		keys[i] = row.Attributes.Key
	}

	ids, err := tx.FindOrganismIDs(ctx, keys)
	if err != nil {
		return domain.NewApplyError("resolve organisms", err)
	}

	var relinked []string
	for _, row := range rows {
		if _, exists := ids[row.Attributes.Key]; exists && row.Attributes.HasProjects() {
			relinked = append(relinked, row.Attributes.Key)
		}
	}
	if len(relinked) > 0 {
		err := tx.Backup(ctx, domain.BackupRequest{
			Target:       domain.BackupProjectOrganisms,
			Operation:    domain.BackupForUpdate,
			OrganismKeys: relinked,
			PersonID:     job.SubmittedByPersonID,
			JobID:        job.ID,
		})
		if err != nil {
			return domain.NewApplyError("backup project links", err)
		}
	}

	for _, row := range rows {
		attrs := row.Attributes
		id, exists := ids[attrs.Key]
		if exists {
			if err := tx.UpdateOrganismAttributes(ctx, id, attrs); err != nil {
				return domain.NewApplyError("update organism "+attrs.Key, err)
			}
			if attrs.HasProjects() {
				if err := tx.DeleteProjectLinks(ctx, id); err != nil {
					return domain.NewApplyError("replace project links of "+attrs.Key, err)
				}
			}
		} else {
			if attrs.SpeciesID == nil {
				return &domain.ValidationError{
					Code:        domain.CodeIncompleteNewOrganism,
					Line:        row.Line,
					OrganismKey: attrs.Key,
					Message:     "Organism " + attrs.Key + " does not exist yet and requires a " + domain.ColumnSpecies + " value to be created.",
				}
			}
			id, err = tx.CreateOrganism(ctx, attrs)
			if err != nil {
				return domain.NewApplyError("create organism "+attrs.Key, err)
			}
			ids[attrs.Key] = id
		}
		if attrs.HasProjects() {
			if err := tx.InsertProjectLinks(ctx, id, attrs.ProjectIDs); err != nil {
				return domain.NewApplyError("link projects of "+attrs.Key, err)
			}
		}
	}

	for i := range rows {
		for j := range rows[i].Values {
			value := &rows[i].Values[j]
			id, ok := ids[value.OrganismKey]
			if !ok {
				return domain.NewInvariantViolation("organism %s has no id after resolution", value.OrganismKey)
			}
			value.OrganismID = id
		}
	}
	return nil
}
