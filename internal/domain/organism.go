package domain

// Fixed template columns. Every other column of an upload file must name a property.
const (
	ColumnOrganismID   = "ORGANISM ID"
	ColumnSpecies      = "SPECIES"
	ColumnSamplingSite = "SAMPLING AREA"
	ColumnProjects     = "PROJECTS"
)

// IsFixedColumn reports whether a header is one of the organism identity/attribute columns.
func IsFixedColumn(header string) bool {
	switch header {
	case ColumnOrganismID, ColumnSpecies, ColumnSamplingSite, ColumnProjects:
		return true
	}
	return false
}

// Organism is the persisted identity of an individual specimen.
type Organism struct {
	ID             int64   `json:"id"`
	IndividualID   string  `json:"individual_id"`
	SpeciesID      *int64  `json:"species_id,omitempty"`
	SamplingSiteID *string `json:"sampling_site_id,omitempty"`
	ProjectIDs     []int64 `json:"project_ids,omitempty"`
}

// OrganismAttributes is the fixed-column part of one file row. Nil fields were
// not supplied and must be left untouched on existing organisms.
type OrganismAttributes struct {
	Key            string
	SpeciesID      *int64
	SamplingSiteID *string
	ProjectIDs     []int64
}

// HasOrganismUpdate reports whether the row carries species or site data.
func (a OrganismAttributes) HasOrganismUpdate() bool {
	return a.SpeciesID != nil || a.SamplingSiteID != nil
}

// HasProjects reports whether the row supplied a project list.
func (a OrganismAttributes) HasProjects() bool {
	return a.ProjectIDs != nil
}

// Operation tags a property value as a fresh insert or an overwrite.
type Operation int

const (
	OperationInsert Operation = iota + 1
	OperationUpdate
)

func (o Operation) String() string {
	if o == OperationUpdate {
		return "U"
	}
	return "I"
}

// PropertyValue is one (organism, property, value) fact. OrganismID is zero
// until the identity resolver has run.
type PropertyValue struct {
	OrganismKey string
	OrganismID  int64
	PropertyID  int64
	Value       string
	Operation   Operation
}

// OrganismPropertyKey identifies a persisted organism_property row by text key.
type OrganismPropertyKey struct {
	OrganismKey string
	PropertyID  int64
}

// ReconciledRow is the validated form of one data row.
type ReconciledRow struct {
	Line       int
	Attributes OrganismAttributes
	Values     []PropertyValue
}

// BackupTarget names the historical table a backup is written to.
type BackupTarget int

const (
	BackupProperties BackupTarget = iota + 1
	BackupOrganisms
	BackupProjectOrganisms
)

func (b BackupTarget) String() string {
	switch b {
	case BackupProperties:
		return "properties"
	case BackupOrganisms:
		return "organisms"
	case BackupProjectOrganisms:
		return "project_organisms"
	default:
		return "unknown"
	}
}

// BackupOperation is the audit code stored with each historical row.
type BackupOperation string

const (
	BackupForDelete BackupOperation = "D"
	BackupForUpdate BackupOperation = "U"
)

// BackupRequest copies rows into a historical table before they are changed.
// PropertyIDs narrows a properties backup; nil means every property.
type BackupRequest struct {
	Target       BackupTarget
	Operation    BackupOperation
	OrganismKeys []string
	PropertyIDs  []int64
	PersonID     int64
	JobID        int64
}

// DeleteRequest removes rows that have already been backed up.
type DeleteRequest struct {
	Target        BackupTarget
	OrganismKeys  []string
	PropertyIDs   []int64
	AllProperties bool
}
