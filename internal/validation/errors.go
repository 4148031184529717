package validation

import (
	"fmt"
	"strings"

	"github.com/bookinglake/bookinglake/pkg/types"
)

// TimestampPattern is the format reported back for malformed timestamps.
const TimestampPattern = "YYYY-MM-DDTHH:MM:SS"

// MissingFieldsError names every required field absent from a message.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return "missing required fields in request body: " + strings.Join(e.Fields, ", ")
}

// TypeError reports a field whose value cannot be coerced to its declared type.
type TypeError struct {
	Field    string
	Expected types.StorageType
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("field '%s' must be of type %s", e.Field, describe(e.Expected))
}

// FormatError reports a timestamp field that does not match the expected pattern.
type FormatError struct {
	Field   string
	Pattern string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("field '%s' must be in ISO 8601 format (%s)", e.Field, e.Pattern)
}

func describe(t types.StorageType) string {
	switch t {
	case types.TypeInt16:
		return "integer (16-bit)"
	case types.TypeInt32:
		return "integer (32-bit)"
	case types.TypeFloat32:
		return "number"
	default:
		return string(t)
	}
}
