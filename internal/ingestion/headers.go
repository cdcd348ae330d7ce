package ingestion

import (
	"context"
	"slices"
	"strings"

	"github.com/go-faster/errors"

	"github.com/rpattn/phenobatch/internal/domain"
	"github.com/rpattn/phenobatch/internal/repository"
)

// HeaderValidator checks a file header against the template catalog.
type HeaderValidator struct {
	catalog repository.CatalogRepository
}

func NewHeaderValidator(catalog repository.CatalogRepository) *HeaderValidator {
	return &HeaderValidator{catalog: catalog}
}

// Validate returns the properties named by the header, in catalog order.
// DELETE files only need the identity column, so nil is returned for them.
func (v *HeaderValidator) Validate(ctx context.Context, header []string, batchType domain.BatchType) ([]domain.Property, error) {
	if !batchType.Valid() {
		return nil, &domain.ValidationError{
			Code:    domain.CodeInvalidBatchType,
			Message: "Unknown batch type " + batchType.String() + ".",
		}
	}

	columns := make([]string, 0, len(header))
	for _, name := range header {
		if name != "" {
			columns = append(columns, name)
		}
	}

	if !slices.Contains(columns, domain.ColumnOrganismID) {
		return nil, &domain.ValidationError{
			Code:    domain.CodeMissingIdentityColumn,
			Message: "Invalid headers in the template. Required column " + domain.ColumnOrganismID + " not found.",
		}
	}

	if duplicates := duplicateHeaders(columns); len(duplicates) > 0 {
		return nil, &domain.ValidationError{
			Code:    domain.CodeDuplicateHeaders,
			Headers: duplicates,
			Message: "Duplicate headers found in the template: " + strings.Join(duplicates, ", "),
		}
	}

	if batchType == domain.BatchTypeDelete {
		return nil, nil
	}

	properties, err := v.catalog.ListTemplateProperties(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load template properties")
	}
	known := make(map[string]bool, len(properties))
	for _, property := range properties {
		known[property.TemplateColumnName] = true
	}

	var unknown []string
	for _, name := range columns {
		if !domain.IsFixedColumn(name) && !known[name] {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		return nil, &domain.ValidationError{
			Code:    domain.CodeUnknownHeaders,
			Headers: unknown,
			Message: "Invalid headers found in the template: " + strings.Join(unknown, ", "),
		}
	}

	matched := make([]domain.Property, 0, len(columns))
	for _, property := range properties {
		if slices.Contains(columns, property.TemplateColumnName) {
			matched = append(matched, property)
		}
	}
	return matched, nil
}

func duplicateHeaders(columns []string) []string {
	seen := make(map[string]int, len(columns))
	var duplicates []string
	for _, name := range columns {
		seen[name]++
		if seen[name] == 2 {
			duplicates = append(duplicates, name)
		}
	}
	return duplicates
}
