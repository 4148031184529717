package validation

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/bookinglake/bookinglake/internal/errors"
	"github.com/bookinglake/bookinglake/internal/schema"
	"github.com/bookinglake/bookinglake/pkg/types"
)

// timestampLayouts are the accepted naive ISO-8601 date-time forms. Fractional
// seconds are accepted after the seconds field by time.Parse.
var timestampLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// Validator validates messages against a schema registry.
type Validator struct {
	registry *schema.Registry
}

// New creates a validator for the given registry.
func New(registry *schema.Registry) *Validator {
	return &Validator{registry: registry}
}

// Validate checks presence of every required field, then coerces and type
// checks each declared field in order. The first type failure is returned.
// Errors are PipelineErrors in the VALIDATION category.
func (v *Validator) Validate(msg Message) (types.Record, error) {
	if err := RequireFields(msg, v.registry.RequiredFields()); err != nil {
		return types.Record{}, apperrors.NewValidationError(apperrors.CodeMissingFields, err.Error(), err)
	}

	cols := v.registry.Columns()
	rec := types.Record{
		Schema: v.registry.Name(),
		Names:  make([]string, len(cols)),
		Values: make([]types.Value, len(cols)),
	}
	for i, col := range cols {
		raw, ok := msg.Raw(col.Name)
		if !ok {
			rec.Names[i] = col.Name
			rec.Values[i] = types.NullValue(col.Type)
			continue
		}

		val, err := CoerceField(col, raw)
		if err != nil {
			code := apperrors.CodeInvalidType
			var formatErr *FormatError
			if errors.As(err, &formatErr) {
				code = apperrors.CodeInvalidFormat
			}
			return types.Record{}, apperrors.NewValidationError(code, err.Error(), err).
				WithDetails(map[string]interface{}{"field": col.Name})
		}
		rec.Names[i] = col.Name
		rec.Values[i] = val
	}
	return rec, nil
}

// RequireFields returns a MissingFieldsError naming every absent field, or nil.
func RequireFields(msg Message, required []string) error {
	var missing []string
	for _, name := range required {
		if !msg.Has(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &MissingFieldsError{Fields: missing}
	}
	return nil
}

// CoerceField converts one raw JSON value to the column's storage type.
// Numeric columns accept JSON numbers or decimal strings.
func CoerceField(col types.ColumnDef, raw json.RawMessage) (types.Value, error) {
	kind, text, err := scalar(raw)
	if err != nil {
		return types.Value{}, &TypeError{Field: col.Name, Expected: col.Type}
	}

	if kind == kindNull {
		if col.Required {
			if col.Type == types.TypeTimestamp {
				return types.Value{}, &FormatError{Field: col.Name, Pattern: TimestampPattern}
			}
			return types.Value{}, &TypeError{Field: col.Name, Expected: col.Type}
		}
		return types.NullValue(col.Type), nil
	}

	switch col.Type {
	case types.TypeString:
		if kind != kindString && kind != kindNumber {
			return types.Value{}, &TypeError{Field: col.Name, Expected: col.Type}
		}
		return types.StringValue(text), nil

	case types.TypeInt16, types.TypeInt32:
		if kind != kindString && kind != kindNumber {
			return types.Value{}, &TypeError{Field: col.Name, Expected: col.Type}
		}
		n, err := strconv.ParseInt(strings.TrimSpace(text), 10, col.Type.BitSize())
		if err != nil {
			return types.Value{}, &TypeError{Field: col.Name, Expected: col.Type}
		}
		return types.IntValue(col.Type, n), nil

	case types.TypeFloat32:
		if kind != kindString && kind != kindNumber {
			return types.Value{}, &TypeError{Field: col.Name, Expected: col.Type}
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(text), 32)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return types.Value{}, &TypeError{Field: col.Name, Expected: col.Type}
		}
		return types.FloatValue(f), nil

	case types.TypeTimestamp:
		if kind != kindString {
			return types.Value{}, &FormatError{Field: col.Name, Pattern: TimestampPattern}
		}
		t, ok := ParseTimestamp(text)
		if !ok {
			return types.Value{}, &FormatError{Field: col.Name, Pattern: TimestampPattern}
		}
		return types.TimeValue(t), nil

	default:
		return types.Value{}, apperrors.NewContractViolation("unsupported column type " + string(col.Type))
	}
}

// ParseTimestamp parses a naive ISO-8601 date-time and interprets it as UTC.
// Inputs with an explicit zone or without a time part are rejected.
func ParseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

type jsonKind int

const (
	kindNull jsonKind = iota
	kindString
	kindNumber
	kindOther
)

// scalar classifies a raw JSON value and returns its text form for strings
// and numbers.
func scalar(raw json.RawMessage) (jsonKind, string, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return kindOther, "", errEmptyValue
	}

	switch trimmed[0] {
	case 'n':
		return kindNull, "", nil
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return kindOther, "", err
		}
		return kindString, s, nil
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return kindOther, "", err
		}
		return kindNumber, n.String(), nil
	default:
		return kindOther, trimmed, nil
	}
}

var errEmptyValue = errors.New("empty JSON value")
