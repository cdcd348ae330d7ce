package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubSource struct {
	species  map[string]int64
	settings map[string]string
	err      error
}

func (s *stubSource) SpeciesCodes(ctx context.Context) (map[string]int64, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.species, nil
}

func (s *stubSource) Settings(ctx context.Context) (map[string]string, error) {
	return s.settings, nil
}

func TestProviderReloadSwapsSnapshot(t *testing.T) {
	source := &stubSource{
		species:  map[string]int64{"SP01": 3},
		settings: map[string]string{SettingUploadsPath: "/srv/batch"},
	}
	provider := NewProvider(source)

	_, ok := provider.Current().SpeciesID("SP01")
	require.False(t, ok)

	first, err := provider.Reload(context.Background())
	require.NoError(t, err)

	id, ok := provider.Current().SpeciesID("SP01")
	require.True(t, ok)
	require.Equal(t, int64(3), id)

	dir, ok := first.Setting(SettingUploadsPath)
	require.True(t, ok)
	require.Equal(t, "/srv/batch", dir)

	source.species["SP02"] = 4
	_, ok = first.SpeciesID("SP02")
	require.False(t, ok, "snapshot must not observe source mutation")

	_, err = provider.Reload(context.Background())
	require.NoError(t, err)
	_, ok = provider.Current().SpeciesID("SP02")
	require.True(t, ok)
	_, ok = first.SpeciesID("SP02")
	require.False(t, ok, "earlier snapshot stays unchanged after reload")
}

func TestProviderReloadKeepsPreviousSnapshotOnError(t *testing.T) {
	source := &stubSource{species: map[string]int64{"SP01": 3}}
	provider := NewProvider(source)
	_, err := provider.Reload(context.Background())
	require.NoError(t, err)

	source.err = errors.New("connection refused")
	_, err = provider.Reload(context.Background())
	require.Error(t, err)

	id, ok := provider.Current().SpeciesID("SP01")
	require.True(t, ok)
	require.Equal(t, int64(3), id)
}

func TestNilSnapshotLookups(t *testing.T) {
	var snapshot *Snapshot
	_, ok := snapshot.SpeciesID("SP01")
	require.False(t, ok)
	require.Zero(t, snapshot.SpeciesCount())
}
