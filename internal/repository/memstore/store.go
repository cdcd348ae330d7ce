// Package memstore is an in-memory implementation of the repository
// interfaces. Transactions run against a cloned state that replaces the live
// state only when the callback succeeds.
package memstore

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"github.com/rpattn/phenobatch/internal/domain"
	"github.com/rpattn/phenobatch/internal/repository"
)

var (
	_ repository.BatchJobRepository     = (*Store)(nil)
	_ repository.CatalogRepository      = (*Store)(nil)
	_ repository.AssociationReader      = (*Store)(nil)
	_ repository.TxRunner               = (*Store)(nil)
	_ repository.IngestionLogRepository = ingestionLog{}
	_ repository.ViewRefresher          = (*Store)(nil)
	_ repository.TxStore                = (*transaction)(nil)
)

type propertyKey struct {
	organismID int64
	propertyID int64
}

type projectLink struct {
	id         int64
	projectID  int64
	organismID int64
}

// HistoricalRow is a backed-up copy of an organism, property value or project link.
type HistoricalRow struct {
	Target      domain.BackupTarget
	Operation   domain.BackupOperation
	PersonID    int64
	JobID       int64
	OrganismID  int64
	OrganismKey string
	PropertyID  int64
	ProjectID   int64
	Value       string
}

type memoryState struct {
	nextID     int64
	jobs       map[int64]domain.BatchJob
	organisms  map[string]domain.Organism
	properties map[propertyKey]string
	links      []projectLink
	history    []HistoricalRow
	logs       []domain.IngestionLogEntry
	journal    []string
}

func newMemoryState() memoryState {
	return memoryState{
		jobs:       make(map[int64]domain.BatchJob),
		organisms:  make(map[string]domain.Organism),
		properties: make(map[propertyKey]string),
	}
}

func (s memoryState) clone() memoryState {
	c := memoryState{
		nextID:     s.nextID,
		jobs:       maps.Clone(s.jobs),
		organisms:  make(map[string]domain.Organism, len(s.organisms)),
		properties: maps.Clone(s.properties),
		links:      slices.Clone(s.links),
		history:    slices.Clone(s.history),
		logs:       slices.Clone(s.logs),
		journal:    slices.Clone(s.journal),
	}
	for k, v := range s.organisms {
		c.organisms[k] = cloneOrganism(v)
	}
	return c
}

func cloneOrganism(o domain.Organism) domain.Organism {
	if o.SpeciesID != nil {
		v := *o.SpeciesID
		o.SpeciesID = &v
	}
	if o.SamplingSiteID != nil {
		v := *o.SamplingSiteID
		o.SamplingSiteID = &v
	}
	o.ProjectIDs = slices.Clone(o.ProjectIDs)
	return o
}

func (s *memoryState) id() int64 {
	s.nextID++
	return s.nextID
}

// Store holds jobs, organism data and catalog tables in memory.
type Store struct {
	mu        sync.RWMutex
	state     memoryState
	catalog   []domain.Property
	species   map[string]int64
	settings  map[string]string
	failures  map[string]error
	refreshes int
	nowFn     func() time.Time
}

// New constructs an empty store.
func New() *Store {
	return &Store{
		state:    newMemoryState(),
		species:  make(map[string]int64),
		settings: make(map[string]string),
		failures: make(map[string]error),
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
}

// SetNow overrides the clock used for job timestamps.
func (s *Store) SetNow(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = fn
}

// FailOn makes the named step return err until cleared with a nil error.
// Transaction steps are named after their TxStore method; Backup and Delete
// steps carry the target, e.g. "Backup:organisms".
func (s *Store) FailOn(step string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, step)
		return
	}
	s.failures[step] = err
}

func (s *Store) failure(step string) error {
	return s.failures[step]
}

// SeedSpecies registers an external species code.
func (s *Store) SeedSpecies(code string, id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.species[code] = id
}

// SeedSetting stores a settings row.
func (s *Store) SeedSetting(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[name] = value
}

// SeedProperty adds a template property to the catalog.
func (s *Store) SeedProperty(property domain.Property) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog = append(s.catalog, property)
}

// SeedOrganism inserts an organism with optional project links and returns its id.
func (s *Store) SeedOrganism(key string, speciesID *int64, site *string, projectIDs ...int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.state.id()
	s.state.organisms[key] = domain.Organism{ID: id, IndividualID: key, SpeciesID: speciesID, SamplingSiteID: site}
	for _, projectID := range projectIDs {
		s.state.links = append(s.state.links, projectLink{id: s.state.id(), projectID: projectID, organismID: id})
	}
	return id
}

// SeedPropertyValue stores a persisted organism_property row.
func (s *Store) SeedPropertyValue(key string, propertyID int64, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	organism, ok := s.state.organisms[key]
	if !ok {
		panic(fmt.Sprintf("memstore: organism %s not seeded", key))
	}
	s.state.properties[propertyKey{organism.ID, propertyID}] = value
}

// Organism returns the persisted organism with its current project links.
func (s *Store) Organism(key string) (domain.Organism, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	organism, ok := s.state.organisms[key]
	if !ok {
		return domain.Organism{}, false
	}
	organism = cloneOrganism(organism)
	organism.ProjectIDs = s.state.projectIDs(organism.ID)
	return organism, true
}

// OrganismCount is the number of persisted organisms.
func (s *Store) OrganismCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.organisms)
}

// PropertyValue returns the persisted value of a property for an organism.
func (s *Store) PropertyValue(key string, propertyID int64) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	organism, ok := s.state.organisms[key]
	if !ok {
		return "", false
	}
	value, ok := s.state.properties[propertyKey{organism.ID, propertyID}]
	return value, ok
}

// PropertyRowCount is the number of persisted organism_property rows.
func (s *Store) PropertyRowCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.properties)
}

// History returns every committed backup row.
func (s *Store) History() []HistoricalRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.state.history)
}

// Journal lists the committed transaction steps in the order they ran.
func (s *Store) Journal() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.state.journal)
}

// RefreshCount is how many times RefreshViews succeeded.
func (s *Store) RefreshCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshes
}

func (s memoryState) projectIDs(organismID int64) []int64 {
	var ids []int64
	for _, link := range s.links {
		if link.organismID == organismID {
			ids = append(ids, link.projectID)
		}
	}
	return ids
}

// BatchJobRepository

func (s *Store) Create(ctx context.Context, job domain.BatchJob) (domain.BatchJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.state.jobs {
		if existing.StoredFileName == job.StoredFileName {
			return domain.BatchJob{}, errors.Wrapf(repository.ErrDuplicate, "batch file %q already submitted", job.StoredFileName)
		}
	}
	job.ID = s.state.id()
	job.Status = domain.JobStatusSubmitted
	if job.DateSubmitted.IsZero() {
		job.DateSubmitted = s.nowFn()
	}
	job.BatchTypeName = job.BatchType.String()
	s.state.jobs[job.ID] = job
	return job, nil
}

func (s *Store) GetByID(ctx context.Context, id int64) (domain.BatchJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.state.jobs[id]
	if !ok {
		return domain.BatchJob{}, errors.Wrapf(repository.ErrNotFound, "batch job %d", id)
	}
	return job, nil
}

func (s *Store) List(ctx context.Context, limit int, offset int) ([]domain.BatchJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs := slices.Collect(maps.Values(s.state.jobs))
	slices.SortFunc(jobs, func(a, b domain.BatchJob) int {
		if c := b.DateSubmitted.Compare(a.DateSubmitted); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if offset > len(jobs) {
		return []domain.BatchJob{}, nil
	}
	jobs = jobs[max(offset, 0):]
	if limit > 0 && limit < len(jobs) {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (s *Store) ClaimNextSubmitted(ctx context.Context) (*domain.BatchJob, error) {
	if err := s.injected("ClaimNextSubmitted"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var next *domain.BatchJob
	for _, job := range s.state.jobs {
		if job.Status != domain.JobStatusSubmitted {
			continue
		}
		if next == nil || job.DateSubmitted.Before(next.DateSubmitted) ||
			(job.DateSubmitted.Equal(next.DateSubmitted) && job.ID < next.ID) {
			candidate := job
			next = &candidate
		}
	}
	if next == nil {
		return nil, nil
	}
	started := s.nowFn()
	next.Status = domain.JobStatusRunning
	next.DateStarted = &started
	s.state.jobs[next.ID] = *next
	return next, nil
}

func (s *Store) MarkFailed(ctx context.Context, id int64, logs string) error {
	if err := s.injected("MarkFailed"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.state.jobs[id]
	if !ok || job.Status != domain.JobStatusRunning {
		return errors.Errorf("batch job %d is not running", id)
	}
	job.Status = domain.JobStatusFailed
	job.Logs = &logs
	s.state.jobs[id] = job
	return nil
}

func (s *Store) CountByStatus(ctx context.Context, status domain.JobStatus) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var count int64
	for _, job := range s.state.jobs {
		if job.Status == status {
			count++
		}
	}
	return count, nil
}

// CatalogRepository

func (s *Store) ListTemplateProperties(ctx context.Context) ([]domain.Property, error) {
	if err := s.injected("ListTemplateProperties"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	properties := slices.Clone(s.catalog)
	slices.SortFunc(properties, func(a, b domain.Property) int {
		return strings.Compare(a.TemplateColumnName, b.TemplateColumnName)
	})
	return properties, nil
}

func (s *Store) SpeciesCodes(ctx context.Context) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.species), nil
}

func (s *Store) Settings(ctx context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.settings), nil
}

// AssociationReader

func (s *Store) ExistingAssociations(ctx context.Context, keys []domain.OrganismPropertyKey) (map[domain.OrganismPropertyKey]bool, error) {
	if err := s.injected("ExistingAssociations"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	existing := make(map[domain.OrganismPropertyKey]bool)
	for _, key := range keys {
		organism, ok := s.state.organisms[key.OrganismKey]
		if !ok {
			continue
		}
		if _, ok := s.state.properties[propertyKey{organism.ID, key.PropertyID}]; ok {
			existing[key] = true
		}
	}
	return existing, nil
}

// IngestionLog returns the row error log view of the store.
func (s *Store) IngestionLog() repository.IngestionLogRepository {
	return ingestionLog{store: s}
}

type ingestionLog struct {
	store *Store
}

func (l ingestionLog) Record(ctx context.Context, entries []domain.IngestionLogEntry) error {
	s := l.store
	if err := s.injected("Record"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range entries {
		entry.ID = s.state.id()
		entry.CreatedAt = s.nowFn()
		s.state.logs = append(s.state.logs, entry)
	}
	return nil
}

func (l ingestionLog) List(ctx context.Context, jobID int64, limit int, offset int) ([]domain.IngestionLogEntry, error) {
	s := l.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	logs := []domain.IngestionLogEntry{}
	for _, entry := range s.state.logs {
		if entry.JobID == jobID {
			logs = append(logs, entry)
		}
	}
	if offset > len(logs) {
		return []domain.IngestionLogEntry{}, nil
	}
	logs = logs[max(offset, 0):]
	if limit > 0 && limit < len(logs) {
		logs = logs[:limit]
	}
	return logs, nil
}

// ViewRefresher

func (s *Store) RefreshViews(ctx context.Context) error {
	if err := s.injected("RefreshViews"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes++
	return nil
}

func (s *Store) injected(step string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failure(step)
}

// TxRunner

// WithinTx holds the store lock for the whole callback, so transactions are
// serialized. The callback must only use the TxStore it is given.
func (s *Store) WithinTx(ctx context.Context, fn func(repository.TxStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{store: s, state: s.state.clone(), now: s.nowFn()}
	if err := fn(tx); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}
