package schema

import (
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/bookinglake/bookinglake/pkg/types"
)

func TestBookingsRegistry(t *testing.T) {
	reg := Bookings()

	wantNames := []string{
		"booking_id", "booking_date", "status", "user_id", "salon_id",
		"payment_id", "service_id", "service_name", "price",
	}
	fields := reg.Arrow().Fields()
	if len(fields) != len(wantNames) {
		t.Fatalf("got %d fields, want %d", len(fields), len(wantNames))
	}
	for i, name := range wantNames {
		if fields[i].Name != name {
			t.Errorf("field %d: got %q, want %q", i, fields[i].Name, name)
		}
	}

	ts, ok := fields[1].Type.(*arrow.TimestampType)
	if !ok {
		t.Fatalf("booking_date type = %s, want timestamp", fields[1].Type)
	}
	if ts.Unit != arrow.Millisecond || ts.TimeZone != LimaZone {
		t.Errorf("booking_date = %s, want timestamp[ms, tz=America/Lima]", ts)
	}
	if fields[4].Type.ID() != arrow.INT16 {
		t.Errorf("salon_id type = %s, want int16", fields[4].Type)
	}
	if fields[8].Type.ID() != arrow.FLOAT32 {
		t.Errorf("price type = %s, want float32", fields[8].Type)
	}

	_, offset := time.Date(2024, 1, 1, 0, 0, 0, 0, reg.Location()).Zone()
	if offset != -5*3600 {
		t.Errorf("zone offset = %d, want -18000", offset)
	}
	if len(reg.RequiredFields()) != 9 {
		t.Errorf("required fields = %v", reg.RequiredFields())
	}
}

func TestQueueEventsRegistry(t *testing.T) {
	reg := QueueEvents()

	ts := reg.Arrow().Field(1).Type.(*arrow.TimestampType)
	if ts.Unit != arrow.Second || ts.TimeZone != "" {
		t.Errorf("booking_date = %s, want naive timestamp[s]", ts)
	}
	for _, f := range reg.Arrow().Fields() {
		if f.Name == "booking_date" {
			continue
		}
		if f.Type.ID() != arrow.INT32 {
			t.Errorf("%s type = %s, want int32", f.Name, f.Type)
		}
	}
	if reg.Location() != nil && reg.Location().String() != "UTC" {
		t.Errorf("naive schema location = %s, want UTC", reg.Location())
	}
}

func TestRegistryIsImmutable(t *testing.T) {
	def := BookingsDefinition()
	reg := MustNew(def)

	def.Columns[0].Name = "mutated"
	cols := reg.Columns()
	cols[1].Name = "mutated"

	if reg.Columns()[0].Name != "booking_id" || reg.Columns()[1].Name != "booking_date" {
		t.Error("registry columns changed through an outside slice")
	}
}

func TestNew_InvalidDefinitions(t *testing.T) {
	tests := []struct {
		name string
		def  types.Schema
	}{
		{"no columns", types.Schema{Name: "empty"}},
		{"duplicate column", types.Schema{Name: "dup", Columns: []types.ColumnDef{
			{Name: "a", Type: types.TypeString}, {Name: "a", Type: types.TypeInt16},
		}}},
		{"unknown type", types.Schema{Name: "bad", Columns: []types.ColumnDef{
			{Name: "a", Type: "decimal"},
		}}},
		{"timestamp without unit", types.Schema{Name: "ts", Columns: []types.ColumnDef{
			{Name: "a", Type: types.TypeTimestamp},
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.def); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestWithZone(t *testing.T) {
	reg := MustNew(WithZone(BookingsDefinition(), "", 0))
	ts := reg.Arrow().Field(1).Type.(*arrow.TimestampType)
	if ts.TimeZone != "" {
		t.Errorf("expected naive timestamp, got %s", ts)
	}

	reg = MustNew(WithZone(BookingsDefinition(), "Asia/Kolkata", 19800))
	ts = reg.Arrow().Field(1).Type.(*arrow.TimestampType)
	if ts.TimeZone != "Asia/Kolkata" {
		t.Errorf("zone label = %q, want Asia/Kolkata", ts.TimeZone)
	}
	// DST-free fixed offsets hold all year.
	for _, month := range []time.Month{time.January, time.July} {
		name, offset := time.Date(2024, month, 1, 0, 0, 0, 0, reg.Location()).Zone()
		if offset != 19800 || name != "Asia/Kolkata" {
			t.Errorf("%s: zone = %s%+d, want Asia/Kolkata+19800", month, name, offset)
		}
	}
}

func TestIndex(t *testing.T) {
	reg := Bookings()
	if i, ok := reg.Index("price"); !ok || i != 8 {
		t.Errorf("Index(price) = %d, %v", i, ok)
	}
	if _, ok := reg.Index("missing"); ok {
		t.Error("Index(missing) should be false")
	}
}
