package partition

import (
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/bookinglake/bookinglake/pkg/types"
)

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

func TestResolver_Daily(t *testing.T) {
	r := NewResolver(WithClock(fixedClock(time.Date(2024, 10, 6, 23, 59, 59, 0, time.UTC))))

	key := r.Daily()
	if key.Strategy != types.StrategyDaily {
		t.Errorf("strategy = %s", key.Strategy)
	}
	if key.Prefix != "2024-10-06" {
		t.Errorf("prefix = %q, want 2024-10-06", key.Prefix)
	}
	if key.Object != "2024-10-06_data.parquet" {
		t.Errorf("object = %q, want 2024-10-06_data.parquet", key.Object)
	}
}

func TestResolver_DailyUsesUTCDate(t *testing.T) {
	lima := time.FixedZone("America/Lima", -5*3600)
	// 21:00 in Lima is already the next UTC day.
	r := NewResolver(WithClock(fixedClock(time.Date(2024, 10, 6, 21, 0, 0, 0, lima))))

	if got := r.Daily().Object; got != "2024-10-07_data.parquet" {
		t.Errorf("object = %q, want 2024-10-07_data.parquet", got)
	}
}

func TestResolver_KeyPrefix(t *testing.T) {
	r := NewResolver(
		WithKeyPrefix("/bookings/"),
		WithClock(fixedClock(time.Date(2024, 10, 6, 8, 0, 0, 0, time.UTC))),
		WithIDGenerator(func() string { return "id-1" }),
	)

	if got := r.Daily().Object; got != "bookings/2024-10-06_data.parquet" {
		t.Errorf("daily = %q", got)
	}
	if got := r.PerEvent().Object; got != "bookings/20241006T080000Z_id-1.parquet" {
		t.Errorf("per-event = %q", got)
	}
	if got := r.Compacted(r.Now()).Object; got != "bookings/compacted/2024-10-06_events.parquet" {
		t.Errorf("compacted = %q", got)
	}
}

func TestResolver_PerEventUnique(t *testing.T) {
	r := NewResolver(WithClock(fixedClock(time.Date(2024, 10, 6, 8, 0, 0, 0, time.UTC))))

	a, b := r.PerEvent(), r.PerEvent()
	if a.Object == b.Object {
		t.Errorf("per-event keys must differ, both %q", a.Object)
	}
	if !strings.HasPrefix(a.Object, a.Prefix) {
		t.Errorf("object %q does not start with prefix %q", a.Object, a.Prefix)
	}
	if strings.HasPrefix(a.Object, r.Daily().Prefix) {
		t.Errorf("per-event key %q must not match the daily prefix", a.Object)
	}
}

func TestSelectExisting(t *testing.T) {
	key := types.PartitionKey{Prefix: "2024-10-06", Object: "2024-10-06_data.parquet"}

	tests := []struct {
		name   string
		listed []string
		want   string
		found  bool
	}{
		{"empty", nil, "", false},
		{"canonical only", []string{"2024-10-06_data.parquet"}, "2024-10-06_data.parquet", true},
		{"canonical preferred", []string{"2024-10-06_a.parquet", "2024-10-06_data.parquet"}, "2024-10-06_data.parquet", true},
		{"first lexicographic", []string{"2024-10-06_z.parquet", "2024-10-06_b.parquet"}, "2024-10-06_b.parquet", true},
		{"non parquet ignored", []string{"2024-10-06_notes.txt"}, "", false},
		{"other day ignored", []string{"2024-10-07_data.parquet"}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found := SelectExisting(key, tt.listed)
			if got != tt.want || found != tt.found {
				t.Errorf("got (%q, %v), want (%q, %v)", got, found, tt.want, tt.found)
			}
		})
	}
}

// TestProperty_DailyKeyDeterminism checks that two processing times on the
// same UTC day map to the same key and the next UTC day maps to another.
func TestProperty_DailyKeyDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	r := NewResolver()

	properties.Property("same UTC day gives the same key", prop.ForAll(
		func(dayOffset int64, s1, s2 int64) bool {
			base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, int(dayOffset))
			t1 := base.Add(time.Duration(s1) * time.Second)
			t2 := base.Add(time.Duration(s2) * time.Second)
			return r.DailyFor(t1) == r.DailyFor(t2)
		},
		gen.Int64Range(0, 3650),
		gen.Int64Range(0, 86399),
		gen.Int64Range(0, 86399),
	))

	properties.Property("next UTC day gives a different key", prop.ForAll(
		func(dayOffset int64, s1, s2 int64) bool {
			base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, int(dayOffset))
			t1 := base.Add(time.Duration(s1) * time.Second)
			t2 := base.AddDate(0, 0, 1).Add(time.Duration(s2) * time.Second)
			return r.DailyFor(t1).Object != r.DailyFor(t2).Object
		},
		gen.Int64Range(0, 3650),
		gen.Int64Range(0, 86399),
		gen.Int64Range(0, 86399),
	))

	properties.TestingRun(t)
}
