// Package types provides the core data types shared by the booking pipeline.
package types

import (
	"fmt"
	"time"
)

// Value is one typed field of a validated message.
// Exactly one of the payload fields is meaningful, selected by Type.
type Value struct {
	Type  StorageType
	Null  bool
	Str   string
	Int   int64
	Float float64
	Time  time.Time
}

// StringValue returns a non-null string value.
func StringValue(s string) Value { return Value{Type: TypeString, Str: s} }

// IntValue returns a non-null integer value of the given width.
func IntValue(t StorageType, n int64) Value { return Value{Type: t, Int: n} }

// FloatValue returns a non-null float32 value.
func FloatValue(f float64) Value { return Value{Type: TypeFloat32, Float: f} }

// TimeValue returns a non-null timestamp value.
func TimeValue(t time.Time) Value { return Value{Type: TypeTimestamp, Time: t} }

// NullValue returns a null value of the given type.
func NullValue(t StorageType) Value { return Value{Type: t, Null: true} }

// String renders the value for logs.
func (v Value) String() string {
	if v.Null {
		return "null"
	}
	switch v.Type {
	case TypeString:
		return v.Str
	case TypeInt16, TypeInt32:
		return fmt.Sprintf("%d", v.Int)
	case TypeFloat32:
		return fmt.Sprintf("%g", v.Float)
	case TypeTimestamp:
		return v.Time.Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("<%s>", v.Type)
	}
}

// Record is a validated message: one typed value per schema column, in
// schema order. It is produced by the validator and consumed by the row
// builder; it is never retained.
type Record struct {
	// Schema is the name of the schema the record conforms to
	Schema string

	// Names holds the column names in order
	Names []string

	// Values holds the typed values aligned with Names
	Values []Value
}

// Get returns the value for a column name.
func (r Record) Get(name string) (Value, bool) {
	for i, n := range r.Names {
		if n == name {
			return r.Values[i], true
		}
	}
	return Value{}, false
}
