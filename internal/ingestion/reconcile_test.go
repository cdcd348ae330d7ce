package ingestion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rpattn/phenobatch/internal/catalog"
	"github.com/rpattn/phenobatch/internal/domain"
)

func testSnapshot() *catalog.Snapshot {
	return catalog.NewSnapshot(map[string]int64{"SP01": 3, "SP02": 4}, nil, time.Time{})
}

func testProperties() []domain.Property {
	return []domain.Property{
		{ID: 10, TemplateColumnName: "HEIGHT", DataType: domain.DataTypeDecimal},
		{ID: 11, TemplateColumnName: "COLOUR", DataType: domain.DataTypeEnum, PreDefinedValues: ptr("red/green")},
		{ID: 12, TemplateColumnName: "SAMPLED", DataType: domain.DataTypeDate},
	}
}

func rec(line int, values map[string]string) Record {
	return Record{Line: line, Values: values}
}

func TestReconcileTagsInsertAndUpdate(t *testing.T) {
	store := catalogStore()
	store.SeedOrganism("A1", ptr(int64(3)), nil)
	store.SeedPropertyValue("A1", 10, "1.5")

	r := NewRowReconciler(store, 4)
	rows, err := r.Reconcile(context.Background(), []Record{
		rec(2, map[string]string{"ORGANISM ID": "A1", "HEIGHT": "2.5", "COLOUR": "red"}),
		rec(3, map[string]string{"ORGANISM ID": "A2", "SPECIES": "SP02", "PROJECTS": "7; 8;7"}),
	}, ReconcileInput{Snapshot: testSnapshot(), Properties: testProperties()})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.Equal(t, 2, rows[0].Line)
	require.Len(t, rows[0].Values, 2)
	require.Equal(t, domain.OperationUpdate, rows[0].Values[0].Operation)
	require.Equal(t, int64(10), rows[0].Values[0].PropertyID)
	require.Equal(t, domain.OperationInsert, rows[0].Values[1].Operation)
	require.Nil(t, rows[0].Attributes.SpeciesID)

	require.Equal(t, int64(4), *rows[1].Attributes.SpeciesID)
	require.Equal(t, []int64{7, 8}, rows[1].Attributes.ProjectIDs)
	require.Empty(t, rows[1].Values)
}

func TestReconcileCollectsEveryRowFailure(t *testing.T) {
	r := NewRowReconciler(catalogStore(), 2)
	_, err := r.Reconcile(context.Background(), []Record{
		rec(2, map[string]string{"ORGANISM ID": "A1", "SPECIES": "SP99"}),
		rec(3, map[string]string{"ORGANISM ID": "", "SPECIES": "SP01"}),
		rec(4, map[string]string{"ORGANISM ID": "A3", "PROJECTS": "1;x"}),
		rec(5, map[string]string{"ORGANISM ID": "A4", "HEIGHT": "tall", "SAMPLED": "31/02/2024", "COLOUR": "blue"}),
		rec(6, map[string]string{"ORGANISM ID": "A1"}),
	}, ReconcileInput{Snapshot: testSnapshot(), Properties: testProperties()})

	var rowErr *RowValidationError
	require.ErrorAs(t, err, &rowErr)
	rows := rowErr.Rows()
	require.Len(t, rows, 5)

	require.Equal(t, domain.CodeInvalidSpecies, rows[0].Code)
	require.Equal(t, "Invalid species for A1", rows[0].Message)
	require.Equal(t, domain.CodeMissingIdentity, rows[1].Code)
	require.Equal(t, "Invalid project IDs for A3. All project IDs must be integers.", rows[2].Message)
	require.Equal(t, "Organism A4. The format of the field(s) HEIGHT, SAMPLED is not correct. The value provided for COLOUR is not in the range of pre-defined values.", rows[3].Message)
	require.Equal(t, domain.CodeDuplicateOrganism, rows[4].Code)
	require.Equal(t, 6, rows[4].Line)

	require.True(t, errors.Is(err, domain.ErrInvalidSpecies))
	require.Contains(t, err.Error(), "Summary of data validation:\nline 2: Invalid species for A1\n")
}

func TestReconcileValidatesEmptyCells(t *testing.T) {
	props := append(testProperties(), domain.Property{ID: 13, TemplateColumnName: "NOTES", DataType: domain.DataTypeText})

	r := NewRowReconciler(catalogStore(), 1)
	rows, err := r.Reconcile(context.Background(), []Record{
		rec(2, map[string]string{"ORGANISM ID": "A1", "NOTES": ""}),
	}, ReconcileInput{Snapshot: testSnapshot(), Properties: props})
	require.NoError(t, err)
	require.Equal(t, []domain.PropertyValue{{OrganismKey: "A1", PropertyID: 13, Value: "", Operation: domain.OperationInsert}}, rows[0].Values)

	_, err = r.Reconcile(context.Background(), []Record{
		rec(2, map[string]string{"ORGANISM ID": "A1", "HEIGHT": "", "COLOUR": ""}),
	}, ReconcileInput{Snapshot: testSnapshot(), Properties: props})
	require.ErrorContains(t, err, "Organism A1. The format of the field(s) HEIGHT is not correct. The value provided for COLOUR is not in the range of pre-defined values.")
}

func TestReconcileIdentityOnlyIgnoresOtherColumns(t *testing.T) {
	store := catalogStore()
	store.FailOn("ExistingAssociations", errors.New("must not be called"))

	r := NewRowReconciler(store, 1)
	rows, err := r.Reconcile(context.Background(), []Record{
		rec(2, map[string]string{"ORGANISM ID": "A1", "SPECIES": "not a species"}),
	}, ReconcileInput{Snapshot: testSnapshot(), IdentityOnly: true})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "A1", rows[0].Attributes.Key)
	require.Nil(t, rows[0].Attributes.SpeciesID)
}

func TestReconcileSurfacesAssociationFailure(t *testing.T) {
	store := catalogStore()
	store.FailOn("ExistingAssociations", errors.New("connection reset"))

	r := NewRowReconciler(store, 1)
	_, err := r.Reconcile(context.Background(), []Record{
		rec(2, map[string]string{"ORGANISM ID": "A1", "HEIGHT": "1"}),
	}, ReconcileInput{Snapshot: testSnapshot(), Properties: testProperties()})
	require.ErrorContains(t, err, "connection reset")
}

func TestReconcileStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRowReconciler(catalogStore(), 1)
	_, err := r.Reconcile(ctx, []Record{rec(2, map[string]string{"ORGANISM ID": "A1"})}, ReconcileInput{Snapshot: testSnapshot()})
	require.ErrorIs(t, err, context.Canceled)
}

func TestParseProjectIDs(t *testing.T) {
	ids, ok := parseProjectIDs("3;1; 2")
	require.True(t, ok)
	require.Equal(t, []int64{3, 1, 2}, ids)

	for _, raw := range []string{"1;;2", "1;", "a", "1.5", "-3", "0"} {
		_, ok := parseProjectIDs(raw)
		require.False(t, ok, raw)
	}
}
