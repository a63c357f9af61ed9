package constants

import (
	"strings"
)

// FieldType is the open enum of column types a schema field may carry.
type FieldType string

const (
	FieldTypeInteger     FieldType = "integer"
	FieldTypeFloat       FieldType = "float"
	FieldTypeString      FieldType = "string"
	FieldTypeBoolean     FieldType = "boolean"
	FieldTypeDatetime    FieldType = "datetime"
	FieldTypeCategorical FieldType = "categorical"
	FieldTypeOther       FieldType = "other"
)

var allFieldTypes = []FieldType{
	FieldTypeInteger,
	FieldTypeFloat,
	FieldTypeString,
	FieldTypeBoolean,
	FieldTypeDatetime,
	FieldTypeCategorical,
	FieldTypeOther,
}

// FieldTypesAsStrings returns the canonical type names in declaration order.
func FieldTypesAsStrings() []string {
	result := make([]string, len(allFieldTypes))
	for i, t := range allFieldTypes {
		result[i] = string(t)
	}
	return result
}

var fieldTypeSynonyms = map[string]FieldType{
	"int":       FieldTypeInteger,
	"int32":     FieldTypeInteger,
	"int64":     FieldTypeInteger,
	"bigint":    FieldTypeInteger,
	"smallint":  FieldTypeInteger,
	"long":      FieldTypeInteger,
	"double":    FieldTypeFloat,
	"decimal":   FieldTypeFloat,
	"numeric":   FieldTypeFloat,
	"real":      FieldTypeFloat,
	"number":    FieldTypeFloat,
	"float64":   FieldTypeFloat,
	"text":      FieldTypeString,
	"str":       FieldTypeString,
	"varchar":   FieldTypeString,
	"char":      FieldTypeString,
	"bool":      FieldTypeBoolean,
	"binary":    FieldTypeBoolean,
	"date":      FieldTypeDatetime,
	"time":      FieldTypeDatetime,
	"timestamp": FieldTypeDatetime,
	"enum":      FieldTypeCategorical,
	"category":  FieldTypeCategorical,
	"nominal":   FieldTypeCategorical,
	"ordinal":   FieldTypeCategorical,
}

// Canonicalize maps a free-form type label to the enum. The second return is
// false when the label is unknown; the enum is open, so callers keep the raw
// label in that case and only use FieldTypeOther for comparisons.
func Canonicalize(input string) (FieldType, bool) {
	normalized := strings.ToLower(strings.TrimSpace(input))
	if normalized == "" {
		return FieldTypeOther, false
	}
	// "varchar(255)" -> "varchar"
	if i := strings.IndexByte(normalized, '('); i > 0 {
		normalized = strings.TrimSpace(normalized[:i])
	}

	for _, t := range allFieldTypes {
		if normalized == string(t) {
			return t, true
		}
	}
	if t, ok := fieldTypeSynonyms[normalized]; ok {
		return t, true
	}
	return FieldTypeOther, false
}
