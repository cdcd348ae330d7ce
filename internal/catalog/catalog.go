// Package catalog holds the reference data the batch engine reads while
// processing a job: species codes and application settings. A Snapshot is
// immutable; Provider swaps in a new one on Reload.
package catalog

import (
	"context"
	"fmt"
	"maps"
	"sync/atomic"
	"time"
)

// SettingUploadsPath names the settings row holding the batch file directory.
const SettingUploadsPath = "BATCH_FILES_DIRECTORY"

// Snapshot is a point-in-time copy of the catalog.
type Snapshot struct {
	speciesCodes map[string]int64
	settings     map[string]string
	loadedAt     time.Time
}

// NewSnapshot copies the given maps so later mutation by the caller is not observed.
func NewSnapshot(speciesCodes map[string]int64, settings map[string]string, loadedAt time.Time) *Snapshot {
	s := &Snapshot{
		speciesCodes: make(map[string]int64, len(speciesCodes)),
		settings:     make(map[string]string, len(settings)),
		loadedAt:     loadedAt,
	}
	maps.Copy(s.speciesCodes, speciesCodes)
	maps.Copy(s.settings, settings)
	return s
}

// SpeciesID translates an external species code.
func (s *Snapshot) SpeciesID(code string) (int64, bool) {
	if s == nil {
		return 0, false
	}
	id, ok := s.speciesCodes[code]
	return id, ok
}

// Setting returns a settings value by name.
func (s *Snapshot) Setting(name string) (string, bool) {
	if s == nil {
		return "", false
	}
	value, ok := s.settings[name]
	return value, ok
}

// SpeciesCount is the number of mapped species codes.
func (s *Snapshot) SpeciesCount() int {
	if s == nil {
		return 0
	}
	return len(s.speciesCodes)
}

// LoadedAt is when the snapshot was read from the store.
func (s *Snapshot) LoadedAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.loadedAt
}

// Source reads the raw catalog tables.
type Source interface {
	SpeciesCodes(ctx context.Context) (map[string]int64, error)
	Settings(ctx context.Context) (map[string]string, error)
}

// Provider hands out the current snapshot and refreshes it on demand.
type Provider struct {
	source  Source
	current atomic.Pointer[Snapshot]
	now     func() time.Time
}

// NewProvider creates a provider with an empty snapshot; call Reload before use.
func NewProvider(source Source) *Provider {
	p := &Provider{source: source, now: time.Now}
	p.current.Store(NewSnapshot(nil, nil, time.Time{}))
	return p
}

// NewStaticProvider serves a fixed snapshot. Reload is a no-op.
func NewStaticProvider(snapshot *Snapshot) *Provider {
	p := &Provider{now: time.Now}
	p.current.Store(snapshot)
	return p
}

// Current returns the snapshot in effect. Jobs capture it once at start.
func (p *Provider) Current() *Snapshot {
	return p.current.Load()
}

// Reload reads the catalog tables and atomically replaces the snapshot. On
// error the previous snapshot stays in effect.
func (p *Provider) Reload(ctx context.Context) (*Snapshot, error) {
	if p.source == nil {
		return p.Current(), nil
	}

	species, err := p.source.SpeciesCodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load species codes: %w", err)
	}
	settings, err := p.source.Settings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	snapshot := NewSnapshot(species, settings, p.now())
	p.current.Store(snapshot)
	return snapshot, nil
}
