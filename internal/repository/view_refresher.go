package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/hashicorp/go-multierror"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultMaterializedViews are the reporting views that depend on organism data.
var DefaultMaterializedViews = []string{
	"view_all_organisms_info",
	"view_project_organism",
	"view_home_species_counts",
	"view_home_traits_data_counts",
	"view_home_location_organisms_counts",
	"view_home_latest_datasets",
}

type viewRefresher struct {
	pool  *pgxpool.Pool
	views []string
}

// NewViewRefresher refreshes views in order. An empty list uses DefaultMaterializedViews.
func NewViewRefresher(pool *pgxpool.Pool, views []string) ViewRefresher {
	if len(views) == 0 {
		views = DefaultMaterializedViews
	}
	return &viewRefresher{pool: pool, views: views}
}

// RefreshViews keeps going after a failed view and reports every failure.
func (r *viewRefresher) RefreshViews(ctx context.Context) error {
	var result *multierror.Error
	for _, view := range r.views {
		statement := "REFRESH MATERIALIZED VIEW " + pgx.Identifier{view}.Sanitize()
		if _, err := r.pool.Exec(ctx, statement); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "failed to refresh %s", view))
		}
	}
	return result.ErrorOrNil()
}
