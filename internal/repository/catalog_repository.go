package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/phenobatch/internal/domain"
)

type catalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository wires a repository backed by pgxpool.
func NewCatalogRepository(pool *pgxpool.Pool) CatalogRepository {
	return &catalogRepository{pool: pool}
}

func (r *catalogRepository) ListTemplateProperties(ctx context.Context) ([]domain.Property, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT p.id, p.template_column_name, p.data_type_id, p.pre_defined_values
		 FROM property p
		 JOIN trait t ON t.id = p.trait_id AND t.is_location_associated = FALSE
		 WHERE p.template_column_name IS NOT NULL
		 ORDER BY p.template_column_name`,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list template properties")
	}
	defer rows.Close()

	properties := []domain.Property{}
	for rows.Next() {
		var (
			property   domain.Property
			dataType   int32
			predefined pgtype.Text
		)
		if err := rows.Scan(&property.ID, &property.TemplateColumnName, &dataType, &predefined); err != nil {
			return nil, errors.Wrap(err, "failed to scan property")
		}
		property.DataType = domain.DataType(dataType)
		if predefined.Valid {
			value := predefined.String
			property.PreDefinedValues = &value
		}
		properties = append(properties, property)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate properties")
	}
	return properties, nil
}

func (r *catalogRepository) SpeciesCodes(ctx context.Context) (map[string]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT internal_code, id FROM species WHERE internal_code IS NOT NULL`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load species codes")
	}
	defer rows.Close()

	codes := map[string]int64{}
	for rows.Next() {
		var (
			code string
			id   int64
		)
		if err := rows.Scan(&code, &id); err != nil {
			return nil, errors.Wrap(err, "failed to scan species code")
		}
		codes[code] = id
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate species codes")
	}
	return codes, nil
}

func (r *catalogRepository) Settings(ctx context.Context) (map[string]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT name, value FROM settings`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load settings")
	}
	defer rows.Close()

	settings := map[string]string{}
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, errors.Wrap(err, "failed to scan setting")
		}
		settings[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate settings")
	}
	return settings, nil
}
