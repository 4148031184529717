package types

import "fmt"

// StorageType is the on-disk type of a column.
type StorageType string

const (
	// TypeString is a UTF-8 string column.
	TypeString StorageType = "string"

	// TypeInt16 is a 16-bit signed integer column.
	TypeInt16 StorageType = "int16"

	// TypeInt32 is a 32-bit signed integer column.
	TypeInt32 StorageType = "int32"

	// TypeFloat32 is a 32-bit float column.
	TypeFloat32 StorageType = "float32"

	// TypeTimestamp is a timestamp column. Unit and zone are carried by the schema.
	TypeTimestamp StorageType = "timestamp"
)

// IsInteger reports whether the type is one of the integer widths.
func (t StorageType) IsInteger() bool {
	return t == TypeInt16 || t == TypeInt32
}

// BitSize returns the width of integer and float types, 0 otherwise.
func (t StorageType) BitSize() int {
	switch t {
	case TypeInt16:
		return 16
	case TypeInt32, TypeFloat32:
		return 32
	default:
		return 0
	}
}

// TimeUnit is the precision of timestamp columns.
type TimeUnit string

const (
	UnitMillisecond TimeUnit = "ms"
	UnitSecond      TimeUnit = "s"
)

// Schema defines the structure of a partition's data.
type Schema struct {
	// Name identifies the schema in logs and errors
	Name string `json:"name" yaml:"name"`

	// Columns defines the columns in declaration order
	Columns []ColumnDef `json:"columns" yaml:"columns"`

	// TimeUnit is the precision of every timestamp column
	TimeUnit TimeUnit `json:"time_unit" yaml:"time_unit"`

	// TimeZone is the IANA zone label of timestamp columns; empty means naive
	TimeZone string `json:"time_zone,omitempty" yaml:"time_zone,omitempty"`

	// UTCOffsetSeconds is the fixed offset of TimeZone (the zone has no DST)
	UTCOffsetSeconds int `json:"utc_offset_seconds,omitempty" yaml:"utc_offset_seconds,omitempty"`
}

// ColumnDef defines a single column in the schema.
type ColumnDef struct {
	// Name is the column name
	Name string `json:"name" yaml:"name"`

	// Type is the storage type
	Type StorageType `json:"type" yaml:"type"`

	// Required indicates the field must be present in every incoming message
	Required bool `json:"required" yaml:"required"`
}

// RequiredFields returns the names of required columns in declaration order.
func (s Schema) RequiredFields() []string {
	var names []string
	for _, c := range s.Columns {
		if c.Required {
			names = append(names, c.Name)
		}
	}
	return names
}

// Validate checks the schema definition itself.
func (s Schema) Validate() error {
	if len(s.Columns) == 0 {
		return fmt.Errorf("schema %q must have at least one column", s.Name)
	}

	seen := make(map[string]bool, len(s.Columns))
	hasTimestamp := false
	for _, c := range s.Columns {
		if c.Name == "" {
			return fmt.Errorf("schema %q: column name cannot be empty", s.Name)
		}
		if seen[c.Name] {
			return fmt.Errorf("schema %q: duplicate column name: %s", s.Name, c.Name)
		}
		seen[c.Name] = true

		switch c.Type {
		case TypeString, TypeInt16, TypeInt32, TypeFloat32:
		case TypeTimestamp:
			hasTimestamp = true
		default:
			return fmt.Errorf("schema %q: invalid column type %q for column %q", s.Name, c.Type, c.Name)
		}
	}

	if hasTimestamp && s.TimeUnit != UnitMillisecond && s.TimeUnit != UnitSecond {
		return fmt.Errorf("schema %q: invalid time unit %q (must be ms or s)", s.Name, s.TimeUnit)
	}
	return nil
}
