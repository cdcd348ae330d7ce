package domain

import (
	"fmt"
	"strings"
)

// DataType is the declared type of a trait property, as stored in data_type.id.
type DataType int

const (
	DataTypeInteger DataType = 1
	DataTypeDecimal DataType = 2
	DataTypeText    DataType = 3
	DataTypeDate    DataType = 4
	DataTypeEnum    DataType = 5
)

func (d DataType) String() string {
	switch d {
	case DataTypeInteger:
		return "INTEGER"
	case DataTypeDecimal:
		return "DECIMAL"
	case DataTypeText:
		return "TEXT"
	case DataTypeDate:
		return "DATE"
	case DataTypeEnum:
		return "ENUM"
	default:
		return fmt.Sprintf("DataType(%d)", int(d))
	}
}

// Property is a trait-measurement field definition owned by the external catalog.
type Property struct {
	ID                 int64    `json:"id"`
	TemplateColumnName string   `json:"template_column_name"`
	DataType           DataType `json:"data_type_id"`
	PreDefinedValues   *string  `json:"pre_defined_values,omitempty"`
}

// AllowedValues splits the slash-delimited allow-list. A nil result means any
// value is permitted.
func (p Property) AllowedValues() []string {
	if p.PreDefinedValues == nil || *p.PreDefinedValues == "" {
		return nil
	}
	return strings.Split(*p.PreDefinedValues, "/")
}
