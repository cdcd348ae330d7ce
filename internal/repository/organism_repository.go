package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/phenobatch/internal/db"
	"github.com/rpattn/phenobatch/internal/domain"
)

type associationReader struct {
	pool *pgxpool.Pool
}

// NewAssociationReader wires the organism_property existence check.
func NewAssociationReader(pool *pgxpool.Pool) AssociationReader {
	return &associationReader{pool: pool}
}

func (r *associationReader) ExistingAssociations(ctx context.Context, keys []domain.OrganismPropertyKey) (map[domain.OrganismPropertyKey]bool, error) {
	existing := make(map[domain.OrganismPropertyKey]bool)
	if len(keys) == 0 {
		return existing, nil
	}

	organismKeys := make([]string, len(keys))
	propertyIDs := make([]int64, len(keys))
	for i, key := range keys {
		organismKeys[i] = key.OrganismKey
		propertyIDs[i] = key.PropertyID
	}

	rows, err := r.pool.Query(ctx,
		`SELECT o.individual_id, op.property_id
		 FROM organism_property op
		 JOIN organism o ON o.id = op.organism_id
		 JOIN unnest($1::text[], $2::bigint[]) AS k(individual_id, property_id)
		   ON k.individual_id = o.individual_id AND k.property_id = op.property_id`,
		organismKeys, propertyIDs,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to check existing organism properties")
	}
	defer rows.Close()

	for rows.Next() {
		var key domain.OrganismPropertyKey
		if err := rows.Scan(&key.OrganismKey, &key.PropertyID); err != nil {
			return nil, errors.Wrap(err, "failed to scan organism property")
		}
		existing[key] = true
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate organism properties")
	}
	return existing, nil
}

type txRunner struct {
	conn *db.Connection
}

// NewTxRunner runs apply phases on transactions from conn.
func NewTxRunner(conn *db.Connection) TxRunner {
	return &txRunner{conn: conn}
}

func (r *txRunner) WithinTx(ctx context.Context, fn func(TxStore) error) error {
	return r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(NewTxStore(tx))
	})
}

type txStore struct {
	tx pgx.Tx
}

// NewTxStore binds the apply statements to tx.
func NewTxStore(tx pgx.Tx) TxStore {
	return &txStore{tx: tx}
}

func (s *txStore) FindOrganismIDs(ctx context.Context, keys []string) (map[string]int64, error) {
	ids := make(map[string]int64, len(keys))
	if len(keys) == 0 {
		return ids, nil
	}

	rows, err := s.tx.Query(ctx, `SELECT o.id, o.individual_id FROM organism o WHERE o.individual_id = ANY($1)`, keys)
	if err != nil {
		return nil, errors.Wrap(err, "failed to look up organisms")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id  int64
			key string
		)
		if err := rows.Scan(&id, &key); err != nil {
			return nil, errors.Wrap(err, "failed to scan organism")
		}
		ids[key] = id
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate organisms")
	}
	return ids, nil
}

func (s *txStore) CreateOrganism(ctx context.Context, attrs domain.OrganismAttributes) (int64, error) {
	var id int64
	err := s.tx.QueryRow(ctx,
		`INSERT INTO organism (individual_id, species_id, sampling_site_id) VALUES ($1, $2, $3) RETURNING id`,
		attrs.Key, attrs.SpeciesID, attrs.SamplingSiteID,
	).Scan(&id)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to create organism %s", attrs.Key)
	}
	return id, nil
}

func (s *txStore) UpdateOrganismAttributes(ctx context.Context, organismID int64, attrs domain.OrganismAttributes) error {
	query, args, ok := organismUpdateStatement(organismID, attrs)
	if !ok {
		return nil
	}
	if _, err := s.tx.Exec(ctx, query, args...); err != nil {
		return errors.Wrapf(err, "failed to update organism %s", attrs.Key)
	}
	return nil
}

// organismUpdateStatement sets only the supplied columns. It reports false when
// the row carried nothing to update.
func organismUpdateStatement(organismID int64, attrs domain.OrganismAttributes) (string, []any, bool) {
	var (
		sets []string
		args []any
	)
	if attrs.SpeciesID != nil {
		args = append(args, *attrs.SpeciesID)
		sets = append(sets, fmt.Sprintf("species_id = $%d", len(args)))
	}
	if attrs.SamplingSiteID != nil {
		args = append(args, *attrs.SamplingSiteID)
		sets = append(sets, fmt.Sprintf("sampling_site_id = $%d", len(args)))
	}
	if len(sets) == 0 {
		return "", nil, false
	}
	args = append(args, organismID)
	query := fmt.Sprintf("UPDATE organism SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	return query, args, true
}

func (s *txStore) InsertProjectLinks(ctx context.Context, organismID int64, projectIDs []int64) error {
	if len(projectIDs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, projectID := range projectIDs {
		batch.Queue(`INSERT INTO project_organism (project_id, organism_id) VALUES ($1, $2)`, projectID, organismID)
	}
	if err := s.tx.SendBatch(ctx, batch).Close(); err != nil {
		return errors.Wrapf(err, "failed to link organism %d to projects", organismID)
	}
	return nil
}

func (s *txStore) DeleteProjectLinks(ctx context.Context, organismID int64) error {
	if _, err := s.tx.Exec(ctx, `DELETE FROM project_organism WHERE organism_id = $1`, organismID); err != nil {
		return errors.Wrapf(err, "failed to delete project links of organism %d", organismID)
	}
	return nil
}

// propertyValueStatement maps the operation tag to its statement. Both forms
// take (organism_id, property_id, value).
func propertyValueStatement(op domain.Operation) (string, error) {
	switch op {
	case domain.OperationInsert:
		return `INSERT INTO organism_property (organism_id, property_id, value) VALUES ($1, $2, $3)`, nil
	case domain.OperationUpdate:
		return `UPDATE organism_property SET value = $3 WHERE organism_id = $1 AND property_id = $2`, nil
	default:
		return "", domain.NewInvariantViolation("unknown property operation %d", int(op))
	}
}

func (s *txStore) WritePropertyValue(ctx context.Context, value domain.PropertyValue) error {
	if value.OrganismID == 0 {
		return domain.NewInvariantViolation("organism %s was not resolved before apply", value.OrganismKey)
	}
	query, err := propertyValueStatement(value.Operation)
	if err != nil {
		return err
	}

	tag, err := s.tx.Exec(ctx, query, value.OrganismID, value.PropertyID, value.Value)
	if err != nil {
		return errors.Wrapf(err, "failed to write property %d of organism %s", value.PropertyID, value.OrganismKey)
	}
	if value.Operation == domain.OperationUpdate && tag.RowsAffected() == 0 {
		return errors.Errorf("property %d of organism %s vanished before update", value.PropertyID, value.OrganismKey)
	}
	return nil
}

// backupStatement maps a backup target to its stored procedure call.
func backupStatement(req domain.BackupRequest) (string, []any, error) {
	args := []any{string(req.Operation), req.PersonID, req.JobID, req.OrganismKeys}
	switch req.Target {
	case domain.BackupProperties:
		return "backup_properties", append(args, req.PropertyIDs), nil
	case domain.BackupOrganisms:
		return "backup_organisms", args, nil
	case domain.BackupProjectOrganisms:
		return "backup_project_organism", args, nil
	default:
		return "", nil, domain.NewInvariantViolation("unknown backup target %d", int(req.Target))
	}
}

func (s *txStore) Backup(ctx context.Context, req domain.BackupRequest) error {
	procedure, args, err := backupStatement(req)
	if err != nil {
		return err
	}
	if _, err := s.tx.Exec(ctx, callStatement(procedure, len(args)), args...); err != nil {
		return errors.Wrapf(err, "error occurred during the creation of the backup, calling the %s stored procedure failed", procedure)
	}
	return nil
}

// deleteStatement maps a delete target to its stored procedure call.
func deleteStatement(req domain.DeleteRequest) (string, []any, error) {
	switch req.Target {
	case domain.BackupProperties:
		propertyIDs := req.PropertyIDs
		if propertyIDs == nil {
			propertyIDs = []int64{}
		}
		return "delete_properties", []any{req.OrganismKeys, propertyIDs, req.AllProperties}, nil
	case domain.BackupOrganisms:
		return "delete_organisms", []any{req.OrganismKeys}, nil
	case domain.BackupProjectOrganisms:
		return "delete_project_organism", []any{req.OrganismKeys}, nil
	default:
		return "", nil, domain.NewInvariantViolation("unknown delete target %d", int(req.Target))
	}
}

func (s *txStore) Delete(ctx context.Context, req domain.DeleteRequest) error {
	procedure, args, err := deleteStatement(req)
	if err != nil {
		return err
	}
	if _, err := s.tx.Exec(ctx, callStatement(procedure, len(args)), args...); err != nil {
		return errors.Wrapf(err, "error occurred while deleting data, calling the %s stored procedure failed", procedure)
	}
	return nil
}

func callStatement(procedure string, params int) string {
	placeholders := make([]string, params)
	for i := range placeholders {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("CALL %s(%s)", procedure, strings.Join(placeholders, ", "))
}

func (s *txStore) MarkJobCompleted(ctx context.Context, jobID int64) error {
	tag, err := s.tx.Exec(ctx,
		`UPDATE batch_upload SET status = $2, date_completed = NOW() WHERE id = $1 AND status = $3`,
		jobID,
		int32(domain.JobStatusCompleted),
		int32(domain.JobStatusRunning),
	)
	if err != nil {
		return errors.Wrap(err, "failed to mark batch job completed")
	}
	if tag.RowsAffected() == 0 {
		return domain.NewInvariantViolation("batch job %d left RUNNING before commit", jobID)
	}
	return nil
}
