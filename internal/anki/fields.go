package anki

import (
	"errors"
	"strings"
)

// FieldSeparator joins the fields of a note in the flds column (ASCII 31)
const FieldSeparator = "\x1f"

// ErrFieldCount is returned when a note's field count differs from the
// number of fields its model declares
var ErrFieldCount = errors.New("note field count does not match its model")

// SplitFields splits a flds value into its ordered fields
func SplitFields(flds string) []string {
	return strings.Split(flds, FieldSeparator)
}

// JoinFields is the inverse of SplitFields
func JoinFields(fields []string) string {
	return strings.Join(fields, FieldSeparator)
}
