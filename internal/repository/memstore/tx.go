package memstore

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/rpattn/phenobatch/internal/domain"
)

type transaction struct {
	store *Store
	state memoryState
	now   time.Time
}

// step records name in the journal and returns any failure injected for it.
func (t *transaction) step(name string) error {
	if err := t.store.failure(name); err != nil {
		return err
	}
	t.state.journal = append(t.state.journal, name)
	return nil
}

func (t *transaction) organismByID(id int64) (domain.Organism, bool) {
	for _, organism := range t.state.organisms {
		if organism.ID == id {
			return organism, true
		}
	}
	return domain.Organism{}, false
}

func (t *transaction) FindOrganismIDs(ctx context.Context, keys []string) (map[string]int64, error) {
	if err := t.step("FindOrganismIDs"); err != nil {
		return nil, err
	}
	ids := make(map[string]int64, len(keys))
	for _, key := range keys {
		if organism, ok := t.state.organisms[key]; ok {
			ids[key] = organism.ID
		}
	}
	return ids, nil
}

func (t *transaction) CreateOrganism(ctx context.Context, attrs domain.OrganismAttributes) (int64, error) {
	if err := t.step("CreateOrganism"); err != nil {
		return 0, err
	}
	if _, exists := t.state.organisms[attrs.Key]; exists {
		return 0, errors.Errorf("duplicate key value violates unique constraint: individual_id=%s", attrs.Key)
	}
	organism := cloneOrganism(domain.Organism{
		ID:             t.state.id(),
		IndividualID:   attrs.Key,
		SpeciesID:      attrs.SpeciesID,
		SamplingSiteID: attrs.SamplingSiteID,
	})
	t.state.organisms[attrs.Key] = organism
	return organism.ID, nil
}

func (t *transaction) UpdateOrganismAttributes(ctx context.Context, organismID int64, attrs domain.OrganismAttributes) error {
	if !attrs.HasOrganismUpdate() {
		return nil
	}
	if err := t.step("UpdateOrganismAttributes"); err != nil {
		return err
	}
	organism, ok := t.organismByID(organismID)
	if !ok {
		return errors.Errorf("organism %d not found", organismID)
	}
	if attrs.SpeciesID != nil {
		v := *attrs.SpeciesID
		organism.SpeciesID = &v
	}
	if attrs.SamplingSiteID != nil {
		v := *attrs.SamplingSiteID
		organism.SamplingSiteID = &v
	}
	t.state.organisms[organism.IndividualID] = organism
	return nil
}

func (t *transaction) InsertProjectLinks(ctx context.Context, organismID int64, projectIDs []int64) error {
	if len(projectIDs) == 0 {
		return nil
	}
	if err := t.step("InsertProjectLinks"); err != nil {
		return err
	}
	if _, ok := t.organismByID(organismID); !ok {
		return errors.Errorf("organism %d not found", organismID)
	}
	for _, projectID := range projectIDs {
		t.state.links = append(t.state.links, projectLink{id: t.state.id(), projectID: projectID, organismID: organismID})
	}
	return nil
}

func (t *transaction) DeleteProjectLinks(ctx context.Context, organismID int64) error {
	if err := t.step("DeleteProjectLinks"); err != nil {
		return err
	}
	t.state.links = slices.DeleteFunc(t.state.links, func(link projectLink) bool {
		return link.organismID == organismID
	})
	return nil
}

func (t *transaction) WritePropertyValue(ctx context.Context, value domain.PropertyValue) error {
	if value.OrganismID == 0 {
		return domain.NewInvariantViolation("organism %s was not resolved before apply", value.OrganismKey)
	}
	if err := t.step("WritePropertyValue"); err != nil {
		return err
	}
	if _, ok := t.organismByID(value.OrganismID); !ok {
		return errors.Errorf("organism %d not found", value.OrganismID)
	}

	key := propertyKey{value.OrganismID, value.PropertyID}
	_, exists := t.state.properties[key]
	switch value.Operation {
	case domain.OperationInsert:
		if exists {
			return errors.Errorf("duplicate key value violates unique constraint: organism_id=%d property_id=%d", value.OrganismID, value.PropertyID)
		}
	case domain.OperationUpdate:
		if !exists {
			return errors.Errorf("property %d of organism %s vanished before update", value.PropertyID, value.OrganismKey)
		}
	default:
		return domain.NewInvariantViolation("unknown property operation %d", int(value.Operation))
	}
	t.state.properties[key] = value.Value
	return nil
}

func (t *transaction) Backup(ctx context.Context, req domain.BackupRequest) error {
	if err := t.step("Backup:" + req.Target.String()); err != nil {
		return err
	}

	var missing []string
	organisms := make([]domain.Organism, 0, len(req.OrganismKeys))
	for _, key := range req.OrganismKeys {
		organism, ok := t.state.organisms[key]
		if !ok {
			missing = append(missing, key)
			continue
		}
		organisms = append(organisms, organism)
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return errors.Errorf("organisms not found: %s", strings.Join(missing, ", "))
	}

	row := HistoricalRow{Target: req.Target, Operation: req.Operation, PersonID: req.PersonID, JobID: req.JobID}
	for _, organism := range organisms {
		row.OrganismID = organism.ID
		row.OrganismKey = organism.IndividualID
		switch req.Target {
		case domain.BackupOrganisms:
			t.state.history = append(t.state.history, row)
		case domain.BackupProperties:
			for key, value := range t.state.properties {
				if key.organismID != organism.ID {
					continue
				}
				if req.PropertyIDs != nil && !slices.Contains(req.PropertyIDs, key.propertyID) {
					continue
				}
				entry := row
				entry.PropertyID = key.propertyID
				entry.Value = value
				t.state.history = append(t.state.history, entry)
			}
		case domain.BackupProjectOrganisms:
			for _, link := range t.state.links {
				if link.organismID != organism.ID {
					continue
				}
				entry := row
				entry.ProjectID = link.projectID
				t.state.history = append(t.state.history, entry)
			}
		default:
			return domain.NewInvariantViolation("unknown backup target %d", int(req.Target))
		}
	}
	return nil
}

func (t *transaction) Delete(ctx context.Context, req domain.DeleteRequest) error {
	if err := t.step("Delete:" + req.Target.String()); err != nil {
		return err
	}

	ids := make(map[int64]bool, len(req.OrganismKeys))
	for _, key := range req.OrganismKeys {
		if organism, ok := t.state.organisms[key]; ok {
			ids[organism.ID] = true
		}
	}

	switch req.Target {
	case domain.BackupProperties:
		for key := range t.state.properties {
			if ids[key.organismID] && (req.AllProperties || slices.Contains(req.PropertyIDs, key.propertyID)) {
				delete(t.state.properties, key)
			}
		}
	case domain.BackupProjectOrganisms:
		t.state.links = slices.DeleteFunc(t.state.links, func(link projectLink) bool {
			return ids[link.organismID]
		})
	case domain.BackupOrganisms:
		for key := range t.state.properties {
			if ids[key.organismID] {
				return errors.Errorf("organism %d still referenced by organism_property", key.organismID)
			}
		}
		for _, link := range t.state.links {
			if ids[link.organismID] {
				return errors.Errorf("organism %d still referenced by project_organism", link.organismID)
			}
		}
		for _, key := range req.OrganismKeys {
			delete(t.state.organisms, key)
		}
	default:
		return domain.NewInvariantViolation("unknown delete target %d", int(req.Target))
	}
	return nil
}

func (t *transaction) MarkJobCompleted(ctx context.Context, jobID int64) error {
	if err := t.step("MarkJobCompleted"); err != nil {
		return err
	}
	job, ok := t.state.jobs[jobID]
	if !ok || job.Status != domain.JobStatusRunning {
		return domain.NewInvariantViolation("batch job %d left RUNNING before commit", jobID)
	}
	completed := t.now
	job.Status = domain.JobStatusCompleted
	job.DateCompleted = &completed
	t.state.jobs[jobID] = job
	return nil
}
