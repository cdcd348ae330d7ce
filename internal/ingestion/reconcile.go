package ingestion

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/rpattn/phenobatch/internal/catalog"
	"github.com/rpattn/phenobatch/internal/domain"
	"github.com/rpattn/phenobatch/internal/repository"
)

const projectSeparator = ";"

// RowValidationError collects every row failure of a file.
type RowValidationError struct {
	merr *multierror.Error
}

func newRowValidationError(rows []*domain.ValidationError) *RowValidationError {
	merr := &multierror.Error{ErrorFormat: formatRowErrors}
	for _, row := range rows {
		merr = multierror.Append(merr, row)
	}
	return &RowValidationError{merr: merr}
}

func formatRowErrors(errs []error) string {
	lines := make([]string, len(errs))
	for i, err := range errs {
		lines[i] = err.Error()
	}
	return "Summary of data validation:\n" + strings.Join(lines, "\n")
}

func (e *RowValidationError) Error() string { return e.merr.Error() }

func (e *RowValidationError) Unwrap() []error { return e.merr.WrappedErrors() }

// Rows returns the individual failures in file order.
func (e *RowValidationError) Rows() []*domain.ValidationError {
	rows := make([]*domain.ValidationError, 0, len(e.merr.Errors))
	for _, err := range e.merr.Errors {
		var row *domain.ValidationError
		if errors.As(err, &row) {
			rows = append(rows, row)
		}
	}
	return rows
}

// ReconcileInput is what a file is checked against.
type ReconcileInput struct {
	Snapshot   *catalog.Snapshot
	Properties []domain.Property
	// IdentityOnly skips property columns, as DELETE files only name organisms.
	IdentityOnly bool
}

// RowReconciler turns raw records into validated rows and tags each property
// value as INSERT or UPDATE.
type RowReconciler struct {
	associations repository.AssociationReader
	workers      int
}

func NewRowReconciler(associations repository.AssociationReader, workers int) *RowReconciler {
	if workers <= 0 {
		workers = 1
	}
	return &RowReconciler{associations: associations, workers: workers}
}

type rowResult struct {
	row    domain.ReconciledRow
	errors []*domain.ValidationError
}

// Reconcile validates every record. Rows are checked concurrently but the
// result and any failures keep file order. Nothing is tagged until the whole
// file is valid.
func (r *RowReconciler) Reconcile(ctx context.Context, records []Record, input ReconcileInput) ([]domain.ReconciledRow, error) {
	results := make([]*rowResult, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, record := range records {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = reconcileRecord(record, input)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var failures []*domain.ValidationError
	firstLine := make(map[string]int, len(results))
	rows := make([]domain.ReconciledRow, 0, len(results))
	for _, result := range results {
		failures = append(failures, result.errors...)
		key := result.row.Attributes.Key
		if key == "" {
			continue
		}
		if line, seen := firstLine[key]; seen {
			failures = append(failures, &domain.ValidationError{
				Code:        domain.CodeDuplicateOrganism,
				Line:        result.row.Line,
				OrganismKey: key,
				Message:     fmt.Sprintf("Organism %s appears more than once in the file (lines %d and %d).", key, line, result.row.Line),
			})
			continue
		}
		firstLine[key] = result.row.Line
		if len(result.errors) == 0 {
			rows = append(rows, result.row)
		}
	}
	if len(failures) > 0 {
		return nil, newRowValidationError(failures)
	}

	if err := r.tagOperations(ctx, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *RowReconciler) tagOperations(ctx context.Context, rows []domain.ReconciledRow) error {
	var keys []domain.OrganismPropertyKey
	for _, row := range rows {
		for _, value := range row.Values {
			keys = append(keys, domain.OrganismPropertyKey{OrganismKey: value.OrganismKey, PropertyID: value.PropertyID})
		}
	}
	if len(keys) == 0 {
		return nil
	}

	existing, err := r.associations.ExistingAssociations(ctx, keys)
	if err != nil {
		return errors.Wrap(err, "failed to check existing property values")
	}
	for i := range rows {
		for j := range rows[i].Values {
			value := &rows[i].Values[j]
			if existing[domain.OrganismPropertyKey{OrganismKey: value.OrganismKey, PropertyID: value.PropertyID}] {
				value.Operation = domain.OperationUpdate
			} else {
				value.Operation = domain.OperationInsert
			}
		}
	}
	return nil
}

func reconcileRecord(record Record, input ReconcileInput) *rowResult {
	result := &rowResult{row: domain.ReconciledRow{Line: record.Line}}
	fail := func(code domain.ValidationCode, key, message string) {
		result.errors = append(result.errors, &domain.ValidationError{
			Code:        code,
			Line:        record.Line,
			OrganismKey: key,
			Message:     message,
		})
	}

	key, _ := record.Value(domain.ColumnOrganismID)
	if key == "" {
		fail(domain.CodeMissingIdentity, "", fmt.Sprintf("Organism ID is missing on line %d.", record.Line))
		return result
	}
	result.row.Attributes.Key = key
	if input.IdentityOnly {
		return result
	}

	if code, _ := record.Value(domain.ColumnSpecies); code != "" {
		if id, ok := input.Snapshot.SpeciesID(code); ok {
			result.row.Attributes.SpeciesID = &id
		} else {
			fail(domain.CodeInvalidSpecies, key, "Invalid species for "+key)
		}
	}

	if site, _ := record.Value(domain.ColumnSamplingSite); site != "" {
		result.row.Attributes.SamplingSiteID = &site
	}

	if raw, _ := record.Value(domain.ColumnProjects); raw != "" {
		ids, ok := parseProjectIDs(raw)
		if ok {
			result.row.Attributes.ProjectIDs = ids
		} else {
			fail(domain.CodeInvalidProjectID, key, "Invalid project IDs for "+key+". All project IDs must be integers.")
		}
	}

	var badFormat, outOfRange []string
	for _, property := range input.Properties {
		raw, ok := record.Value(property.TemplateColumnName)
		if !ok {
			continue
		}
		if !ValidateDataType(property.DataType, raw) {
			badFormat = append(badFormat, property.TemplateColumnName)
			continue
		}
		if !ValidateEnumValue(property.AllowedValues(), raw) {
			outOfRange = append(outOfRange, property.TemplateColumnName)
			continue
		}
		result.row.Values = append(result.row.Values, domain.PropertyValue{
			OrganismKey: key,
			PropertyID:  property.ID,
			Value:       raw,
		})
	}

	if len(badFormat) > 0 || len(outOfRange) > 0 {
		message := "Organism " + key + "."
		if len(badFormat) > 0 {
			message += " The format of the field(s) " + strings.Join(badFormat, ", ") + " is not correct."
		}
		if len(outOfRange) > 0 {
			message += " The value provided for " + strings.Join(outOfRange, ", ") + " is not in the range of pre-defined values."
		}
		fail(domain.CodeInvalidValue, key, message)
	}
	return result
}

// parseProjectIDs splits a PROJECTS cell. Every token must be a positive
// integer; repeats are dropped.
func parseProjectIDs(raw string) ([]int64, bool) {
	tokens := strings.Split(raw, projectSeparator)
	ids := make([]int64, 0, len(tokens))
	seen := make(map[int64]bool, len(tokens))
	for _, token := range tokens {
		id, err := strconv.ParseInt(strings.TrimSpace(token), 10, 64)
		if err != nil || id <= 0 {
			return nil, false
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, true
}
