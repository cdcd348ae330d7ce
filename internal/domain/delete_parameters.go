package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// DeleteMode is the effective action of a DELETE job.
type DeleteMode int

const (
	DeleteNothing DeleteMode = iota
	DeleteListedProperties
	DeleteOrganisms
)

func (m DeleteMode) String() string {
	switch m {
	case DeleteListedProperties:
		return "listed_properties"
	case DeleteOrganisms:
		return "organisms"
	default:
		return "nothing"
	}
}

// DeleteParameters is the structured payload of a DELETE job.
type DeleteParameters struct {
	IsDeleteOrganism     bool    `json:"isDeleteOrganism"`
	ListDeleteProperties []int64 `json:"listDeleteProperties"`
}

// Mode resolves the flag/list combination. Deleting whole organisms subsumes
// any property list because every property row of the organism has to go.
func (p DeleteParameters) Mode() DeleteMode {
	switch {
	case p.IsDeleteOrganism:
		return DeleteOrganisms
	case len(p.ListDeleteProperties) > 0:
		return DeleteListedProperties
	default:
		return DeleteNothing
	}
}

var (
	deleteFlagKeys = []string{"isDeleteOrganism", "is_delete_organism"}
	deleteListKeys = []string{"listDeleteProperties", "list_delete_properties"}
)

// ParseDeleteParameters decodes the parameters column of a DELETE job. Both
// camelCase and snake_case keys are accepted. The payload may also be a JSON
// string that itself holds the object.
func ParseDeleteParameters(raw json.RawMessage) (DeleteParameters, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return DeleteParameters{}, invalidDeleteParameters("the batch process is missing the required parameters isDeleteOrganism and listDeleteProperties")
	}

	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return DeleteParameters{}, invalidDeleteParameters("parameters are not a valid JSON object: %v", err)
		}
		raw = json.RawMessage(inner)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return DeleteParameters{}, invalidDeleteParameters("parameters are not a valid JSON object: %v", err)
	}

	flagRaw, ok := lookup(fields, deleteFlagKeys)
	if !ok {
		return DeleteParameters{}, invalidDeleteParameters("parameter isDeleteOrganism is required")
	}
	listRaw, ok := lookup(fields, deleteListKeys)
	if !ok {
		return DeleteParameters{}, invalidDeleteParameters("parameter listDeleteProperties is required")
	}

	var params DeleteParameters
	if err := json.Unmarshal(flagRaw, &params.IsDeleteOrganism); err != nil {
		return DeleteParameters{}, invalidDeleteParameters("parameter isDeleteOrganism must be a boolean")
	}

	ids, err := parsePropertyIDList(listRaw)
	if err != nil {
		return DeleteParameters{}, err
	}
	params.ListDeleteProperties = ids
	return params, nil
}

func lookup(fields map[string]json.RawMessage, keys []string) (json.RawMessage, bool) {
	for _, key := range keys {
		if value, ok := fields[key]; ok {
			return value, true
		}
	}
	return nil, false
}

func parsePropertyIDList(raw json.RawMessage) ([]int64, error) {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return []int64{}, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, invalidDeleteParameters("parameter listDeleteProperties must be a list of property ids")
	}

	ids := make([]int64, 0, len(items))
	for _, item := range items {
		var number json.Number
		dec := json.NewDecoder(bytes.NewReader(item))
		dec.UseNumber()
		var value any
		if err := dec.Decode(&value); err != nil {
			return nil, invalidDeleteParameters("invalid property id %s", string(item))
		}
		switch v := value.(type) {
		case json.Number:
			number = v
		case string:
			number = json.Number(v)
		default:
			return nil, invalidDeleteParameters("invalid property id %s", string(item))
		}
		id, err := strconv.ParseInt(number.String(), 10, 64)
		if err != nil || id <= 0 {
			return nil, invalidDeleteParameters("invalid property id %s", string(item))
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func invalidDeleteParameters(format string, args ...any) error {
	return &ValidationError{
		Code:    CodeInvalidDeleteParameters,
		Message: fmt.Sprintf(format, args...),
	}
}
