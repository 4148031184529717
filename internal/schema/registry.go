// Package schema holds the immutable schema registries the pipeline writes
// against. A Registry is built once at startup and passed explicitly to the
// validator, row builder, merger, and compactor.
package schema

import (
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/bookinglake/bookinglake/pkg/types"
)

const (
	// LimaZone is the IANA zone booking timestamps are rendered in.
	LimaZone = "America/Lima"

	// LimaOffsetSeconds is the fixed UTC offset of LimaZone. Peru does not observe DST.
	LimaOffsetSeconds = -5 * 60 * 60
)

// Registry is an immutable schema plus its derived Arrow schema and zone.
type Registry struct {
	def      types.Schema
	location *time.Location
	arrow    *arrow.Schema
	index    map[string]int
}

// New validates the definition and builds a registry.
func New(def types.Schema) (*Registry, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	cols := make([]types.ColumnDef, len(def.Columns))
	copy(cols, def.Columns)
	def.Columns = cols

	loc := time.UTC
	if def.TimeZone != "" {
		loc = time.FixedZone(def.TimeZone, def.UTCOffsetSeconds)
	}

	fields := make([]arrow.Field, len(cols))
	index := make(map[string]int, len(cols))
	for i, c := range cols {
		fields[i] = arrow.Field{Name: c.Name, Type: arrowType(c.Type, def), Nullable: true}
		index[c.Name] = i
	}

	return &Registry{
		def:      def,
		location: loc,
		arrow:    arrow.NewSchema(fields, nil),
		index:    index,
	}, nil
}

// MustNew is New for static definitions; it panics on an invalid schema.
func MustNew(def types.Schema) *Registry {
	r, err := New(def)
	if err != nil {
		panic(fmt.Sprintf("schema: %v", err))
	}
	return r
}

// Name returns the schema name.
func (r *Registry) Name() string { return r.def.Name }

// Definition returns a copy of the schema definition.
func (r *Registry) Definition() types.Schema {
	def := r.def
	def.Columns = r.Columns()
	return def
}

// Columns returns a copy of the column definitions in order.
func (r *Registry) Columns() []types.ColumnDef {
	cols := make([]types.ColumnDef, len(r.def.Columns))
	copy(cols, r.def.Columns)
	return cols
}

// RequiredFields returns the required field names in declaration order.
func (r *Registry) RequiredFields() []string { return r.def.RequiredFields() }

// Arrow returns the Arrow schema used for encoding.
func (r *Registry) Arrow() *arrow.Schema { return r.arrow }

// Location returns the zone timestamps are labelled with (UTC when naive).
func (r *Registry) Location() *time.Location { return r.location }

// TimeUnit returns the timestamp precision.
func (r *Registry) TimeUnit() types.TimeUnit { return r.def.TimeUnit }

// Index returns the column position of name.
func (r *Registry) Index(name string) (int, bool) {
	i, ok := r.index[name]
	return i, ok
}

func arrowType(t types.StorageType, def types.Schema) arrow.DataType {
	switch t {
	case types.TypeString:
		return arrow.BinaryTypes.String
	case types.TypeInt16:
		return arrow.PrimitiveTypes.Int16
	case types.TypeInt32:
		return arrow.PrimitiveTypes.Int32
	case types.TypeFloat32:
		return arrow.PrimitiveTypes.Float32
	case types.TypeTimestamp:
		unit := arrow.Millisecond
		if def.TimeUnit == types.UnitSecond {
			unit = arrow.Second
		}
		return &arrow.TimestampType{Unit: unit, TimeZone: def.TimeZone}
	default:
		// Validate rejects unknown types before we get here.
		panic(fmt.Sprintf("schema: unsupported storage type %q", t))
	}
}

// BookingsDefinition is the daily-merge booking schema.
func BookingsDefinition() types.Schema {
	return types.Schema{
		Name: "bookings",
		Columns: []types.ColumnDef{
			{Name: "booking_id", Type: types.TypeString, Required: true},
			{Name: "booking_date", Type: types.TypeTimestamp, Required: true},
			{Name: "status", Type: types.TypeString, Required: true},
			{Name: "user_id", Type: types.TypeString, Required: true},
			{Name: "salon_id", Type: types.TypeInt16, Required: true},
			{Name: "payment_id", Type: types.TypeString, Required: true},
			{Name: "service_id", Type: types.TypeInt16, Required: true},
			{Name: "service_name", Type: types.TypeString, Required: true},
			{Name: "price", Type: types.TypeFloat32, Required: true},
		},
		TimeUnit:         types.UnitMillisecond,
		TimeZone:         LimaZone,
		UTCOffsetSeconds: LimaOffsetSeconds,
	}
}

// QueueEventsDefinition is the per-event schema written by the queue consumer.
// Timestamps are naive at second precision.
func QueueEventsDefinition() types.Schema {
	return types.Schema{
		Name: "queue_events",
		Columns: []types.ColumnDef{
			{Name: "booking_id", Type: types.TypeInt32, Required: true},
			{Name: "booking_date", Type: types.TypeTimestamp, Required: true},
			{Name: "status", Type: types.TypeInt32, Required: true},
			{Name: "user_id", Type: types.TypeInt32, Required: true},
			{Name: "salon_id", Type: types.TypeInt32, Required: true},
			{Name: "employee_id", Type: types.TypeInt32, Required: true},
			{Name: "payment_id", Type: types.TypeInt32, Required: true},
		},
		TimeUnit: types.UnitSecond,
	}
}

// Bookings returns the daily-merge registry.
func Bookings() *Registry { return MustNew(BookingsDefinition()) }

// QueueEvents returns the per-event registry.
func QueueEvents() *Registry { return MustNew(QueueEventsDefinition()) }

// WithZone returns a copy of def whose timestamps are labelled with zone at
// the given fixed offset. An empty zone makes timestamps naive.
func WithZone(def types.Schema, zone string, offsetSeconds int) types.Schema {
	def.TimeZone = zone
	def.UTCOffsetSeconds = offsetSeconds
	if zone == "" {
		def.UTCOffsetSeconds = 0
	}
	return def
}
