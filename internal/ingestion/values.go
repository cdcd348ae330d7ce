package ingestion

import (
	"regexp"
	"slices"
	"time"

	"github.com/rpattn/phenobatch/internal/domain"
)

const dateLayout = "02/01/2006"

var (
	integerPattern = regexp.MustCompile(`^\d+$`)
	decimalPattern = regexp.MustCompile(`^\d+(\.\d+)?$`)
	datePattern    = regexp.MustCompile(`^\d{2}/\d{2}/\d{4}$`)
)

// ValidateDataType reports whether raw is a well-formed value of the declared type.
func ValidateDataType(dataType domain.DataType, raw string) bool {
	switch dataType {
	case domain.DataTypeInteger:
		return integerPattern.MatchString(raw)
	case domain.DataTypeDecimal:
		return decimalPattern.MatchString(raw)
	case domain.DataTypeDate:
		if !datePattern.MatchString(raw) {
			return false
		}
		// time.Parse rejects days past the end of the month, e.g. 31/02/2024.
		_, err := time.Parse(dateLayout, raw)
		return err == nil
	case domain.DataTypeText, domain.DataTypeEnum:
		return true
	default:
		return false
	}
}

// ValidateEnumValue reports whether raw is permitted by the allow-list. A nil
// or empty list permits any value.
func ValidateEnumValue(allowList []string, raw string) bool {
	if len(allowList) == 0 {
		return true
	}
	return slices.Contains(allowList, raw)
}
