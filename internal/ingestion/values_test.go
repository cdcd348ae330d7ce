package ingestion

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rpattn/phenobatch/internal/domain"
)

func TestValidateDataType(t *testing.T) {
	cases := []struct {
		dataType domain.DataType
		raw      string
		want     bool
	}{
		{domain.DataTypeInteger, "42", true},
		{domain.DataTypeInteger, "007", true},
		{domain.DataTypeInteger, "-1", false},
		{domain.DataTypeInteger, "4.2", false},
		{domain.DataTypeInteger, "", false},
		{domain.DataTypeDecimal, "4", true},
		{domain.DataTypeDecimal, "4.25", true},
		{domain.DataTypeDecimal, "4.", false},
		{domain.DataTypeDecimal, ".5", false},
		{domain.DataTypeDecimal, "1e3", false},
		{domain.DataTypeDate, "29/02/2024", true},
		{domain.DataTypeDate, "31/12/1999", true},
		{domain.DataTypeDate, "31/02/2024", false},
		{domain.DataTypeDate, "29/02/2023", false},
		{domain.DataTypeDate, "2024-02-01", false},
		{domain.DataTypeDate, "1/2/2024", false},
		{domain.DataTypeDate, "01/13/2024", false},
		{domain.DataTypeText, "", true},
		{domain.DataTypeText, "anything at all", true},
		{domain.DataTypeEnum, "red", true},
		{domain.DataType(0), "1", false},
		{domain.DataType(9), "1", false},
	}

	for _, tc := range cases {
		got := ValidateDataType(tc.dataType, tc.raw)
		require.Equal(t, tc.want, got, "%s %q", tc.dataType, tc.raw)
	}
}

func TestValidateEnumValue(t *testing.T) {
	allow := []string{"red", "green", "light blue"}

	require.True(t, ValidateEnumValue(allow, "red"))
	require.True(t, ValidateEnumValue(allow, "light blue"))
	require.False(t, ValidateEnumValue(allow, "Red"))
	require.False(t, ValidateEnumValue(allow, "red "))
	require.False(t, ValidateEnumValue(allow, ""))

	require.True(t, ValidateEnumValue(nil, "whatever"))
	require.True(t, ValidateEnumValue([]string{}, ""))
}
