// Package partition converts validated records into Arrow rows and manages
// the Parquet partition objects they are appended to.
package partition

import (
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	apperrors "github.com/bookinglake/bookinglake/internal/errors"
	"github.com/bookinglake/bookinglake/internal/schema"
	"github.com/bookinglake/bookinglake/pkg/types"
)

// RowBuilder turns one validated record into a one-row Arrow record that
// conforms to the registry's schema.
type RowBuilder struct {
	registry *schema.Registry
	mem      memory.Allocator
}

// NewRowBuilder creates a row builder for the registry.
func NewRowBuilder(registry *schema.Registry, mem memory.Allocator) *RowBuilder {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	return &RowBuilder{registry: registry, mem: mem}
}

// Build converts rec into a single-row record. The caller owns the result
// and must Release it. A record that does not line up with the schema is a
// contract violation.
func (b *RowBuilder) Build(rec types.Record) (arrow.Record, error) {
	cols := b.registry.Columns()
	if rec.Schema != b.registry.Name() || len(rec.Values) != len(cols) || len(rec.Names) != len(cols) {
		return nil, apperrors.NewContractViolation(fmt.Sprintf(
			"record for schema %q with %d values does not match schema %q with %d columns",
			rec.Schema, len(rec.Values), b.registry.Name(), len(cols)))
	}

	rb := array.NewRecordBuilder(b.mem, b.registry.Arrow())
	defer rb.Release()

	for i, col := range cols {
		v := rec.Values[i]
		if rec.Names[i] != col.Name || v.Type != col.Type {
			return nil, apperrors.NewContractViolation(fmt.Sprintf(
				"column %d: got %s %s, want %s %s", i, rec.Names[i], v.Type, col.Name, col.Type))
		}
		if err := b.appendValue(rb.Field(i), v); err != nil {
			return nil, err
		}
	}

	return rb.NewRecord(), nil
}

func (b *RowBuilder) appendValue(fb array.Builder, v types.Value) error {
	if v.Null {
		fb.AppendNull()
		return nil
	}

	switch bld := fb.(type) {
	case *array.StringBuilder:
		bld.Append(v.Str)
	case *array.Int16Builder:
		bld.Append(int16(v.Int))
	case *array.Int32Builder:
		bld.Append(int32(v.Int))
	case *array.Float32Builder:
		bld.Append(float32(v.Float))
	case *array.TimestampBuilder:
		bld.Append(EncodeTimestamp(v.Time, b.registry.TimeUnit()))
	default:
		return apperrors.NewContractViolation(fmt.Sprintf("unsupported builder %T", fb))
	}
	return nil
}

// EncodeTimestamp encodes an instant at the given precision. Millisecond
// columns carry a zone label, so the stored value is the true epoch
// instant. Second columns are naive, so the UTC wall clock is stored as-is.
func EncodeTimestamp(t time.Time, unit types.TimeUnit) arrow.Timestamp {
	if unit == types.UnitSecond {
		return arrow.Timestamp(t.Unix())
	}
	return arrow.Timestamp(t.UnixMilli())
}

// DecodeTimestamp is the inverse of EncodeTimestamp, returning a UTC time.
func DecodeTimestamp(ts arrow.Timestamp, unit types.TimeUnit) time.Time {
	if unit == types.UnitSecond {
		return time.Unix(int64(ts), 0).UTC()
	}
	return time.UnixMilli(int64(ts)).UTC()
}
