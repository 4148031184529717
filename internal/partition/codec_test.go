package partition

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	apperrors "github.com/bookinglake/bookinglake/internal/errors"
	"github.com/bookinglake/bookinglake/internal/schema"
	"github.com/bookinglake/bookinglake/pkg/types"
)

func tableOf(reg *schema.Registry, rows ...arrow.Record) arrow.Table {
	return array.NewTableFromRecords(reg.Arrow(), rows)
}

func roundTrip(t *testing.T, codec *Codec, tbl arrow.Table) arrow.Table {
	t.Helper()
	path := filepath.Join(t.TempDir(), "partition.parquet")
	if err := codec.WriteFile(path, tbl); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	out, err := codec.ReadFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	return out
}

func TestCodec_RoundTripSample(t *testing.T) {
	reg := schema.Bookings()
	codec := NewCodec(reg, nil)
	at := time.Date(2024, 10, 6, 20, 0, 0, 0, time.UTC)

	row := buildRow(t, reg, booking("1", at, 1, 2, 100.5))
	defer row.Release()
	tbl := tableOf(reg, row)
	defer tbl.Release()

	out := roundTrip(t, codec, tbl)
	defer out.Release()

	if !out.Schema().Equal(reg.Arrow()) {
		t.Errorf("schema mismatch:\n got %s\nwant %s", out.Schema(), reg.Arrow())
	}
	if out.NumRows() != 1 {
		t.Fatalf("NumRows = %d, want 1", out.NumRows())
	}

	ts := out.Column(1).Data().Chunk(0).(*array.Timestamp).Value(0)
	if int64(ts) != at.UnixMilli() {
		t.Errorf("booking_date = %d, want %d", ts, at.UnixMilli())
	}
}

func TestCodec_RowGroupPerBatch(t *testing.T) {
	reg := schema.Bookings()
	codec := NewCodec(reg, nil)
	at := time.Date(2024, 10, 6, 20, 0, 0, 0, time.UTC)

	r1 := buildRow(t, reg, booking("1", at, 1, 2, 1))
	r2 := buildRow(t, reg, booking("2", at, 1, 2, 2))
	r3 := buildRow(t, reg, booking("3", at, 1, 2, 3))
	defer r1.Release()
	defer r2.Release()
	defer r3.Release()

	tbl := tableOf(reg, r1, r2, r3)
	defer tbl.Release()

	path := filepath.Join(t.TempDir(), "partition.parquet")
	if err := codec.WriteFile(path, tbl); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	pf, err := file.OpenParquetFile(path, false)
	if err != nil {
		t.Fatalf("OpenParquetFile failed: %v", err)
	}
	defer pf.Close()

	if pf.NumRowGroups() != 3 {
		t.Errorf("row groups = %d, want 3", pf.NumRowGroups())
	}
	if pf.NumRows() != 3 {
		t.Errorf("rows = %d, want 3", pf.NumRows())
	}
}

func TestCodec_FileMetadata(t *testing.T) {
	reg := schema.Bookings()
	codec := NewCodec(reg, nil)

	row := buildRow(t, reg, booking("1", time.Now(), 1, 2, 3))
	defer row.Release()
	tbl := tableOf(reg, row)
	defer tbl.Release()

	path := filepath.Join(t.TempDir(), "meta.parquet")
	if err := codec.WriteFileWithMetadata(path, tbl, map[string]string{"sources": "a\nb"}); err != nil {
		t.Fatalf("WriteFileWithMetadata failed: %v", err)
	}

	v, ok, err := codec.ReadMetadataValue(path, "sources")
	if err != nil || !ok || v != "a\nb" {
		t.Errorf("ReadMetadataValue = %q, %v, %v", v, ok, err)
	}
	if _, ok, _ := codec.ReadMetadataValue(path, "missing"); ok {
		t.Error("expected missing key to be absent")
	}
}

func TestCodec_ConformRelabelsZone(t *testing.T) {
	// A file written against the same schema without a zone label.
	naive := schema.MustNew(schema.WithZone(schema.BookingsDefinition(), "", 0))
	at := time.Date(2024, 10, 6, 20, 0, 0, 0, time.UTC)

	rec := booking("1", at, 1, 2, 1)
	row := buildRow(t, naive, rec)
	defer row.Release()
	tbl := tableOf(naive, row)
	defer tbl.Release()

	reg := schema.Bookings()
	out, err := NewCodec(reg, nil).Conform(tbl)
	if err != nil {
		t.Fatalf("Conform failed: %v", err)
	}
	defer out.Release()

	if !out.Schema().Equal(reg.Arrow()) {
		t.Errorf("schema = %s, want %s", out.Schema(), reg.Arrow())
	}
	ts := out.Column(1).Data().Chunk(0).(*array.Timestamp).Value(0)
	if int64(ts) != at.UnixMilli() {
		t.Errorf("booking_date = %d, want %d", ts, at.UnixMilli())
	}
}

func TestCodec_ConformRescalesUnit(t *testing.T) {
	// Millisecond file conformed to a second-precision registry.
	msDef := schema.QueueEventsDefinition()
	msDef.TimeUnit = types.UnitMillisecond
	msReg := schema.MustNew(msDef)

	b := array.NewRecordBuilder(memory.DefaultAllocator, msReg.Arrow())
	defer b.Release()
	for i := 0; i < 7; i++ {
		if i == 1 {
			b.Field(i).(*array.TimestampBuilder).AppendValues([]arrow.Timestamp{1728244800999, -1}, nil)
			continue
		}
		b.Field(i).(*array.Int32Builder).AppendValues([]int32{1, 2}, nil)
	}
	rec := b.NewRecord()
	defer rec.Release()
	tbl := tableOf(msReg, rec)
	defer tbl.Release()

	out, err := NewCodec(schema.QueueEvents(), nil).Conform(tbl)
	if err != nil {
		t.Fatalf("Conform failed: %v", err)
	}
	defer out.Release()

	ts := out.Column(1).Data().Chunk(0).(*array.Timestamp)
	if ts.Value(0) != 1728244800 {
		t.Errorf("value 0 = %d, want 1728244800", ts.Value(0))
	}
	if ts.Value(1) != -1 {
		t.Errorf("value 1 = %d, want -1 (floored)", ts.Value(1))
	}
}

func TestCodec_ConformRejectsMismatch(t *testing.T) {
	reg := schema.Bookings()
	codec := NewCodec(reg, nil)

	queue := schema.QueueEvents()
	b := array.NewRecordBuilder(memory.DefaultAllocator, queue.Arrow())
	defer b.Release()
	rec := b.NewRecord()
	defer rec.Release()
	tbl := tableOf(queue, rec)
	defer tbl.Release()

	_, err := codec.Conform(tbl)
	if apperrors.GetCode(err) != apperrors.CodeCorruptPartition {
		t.Errorf("code = %s, want %s", apperrors.GetCode(err), apperrors.CodeCorruptPartition)
	}
	if apperrors.IsRetryable(err) {
		t.Error("corrupt partitions must not be retryable")
	}
}

func TestCodec_ReadFileCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.parquet")
	if err := os.WriteFile(path, []byte("definitely not parquet"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	_, err := NewCodec(schema.Bookings(), nil).ReadFile(context.Background(), path)
	if apperrors.GetCode(err) != apperrors.CodeCorruptPartition {
		t.Errorf("code = %s, want %s (%v)", apperrors.GetCode(err), apperrors.CodeCorruptPartition, err)
	}
}

// TestProperty_RoundTripPreservesValues checks that any booking written and
// read back yields the same values at the declared widths.
func TestProperty_RoundTripPreservesValues(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	reg := schema.Bookings()
	codec := NewCodec(reg, nil)
	dir := t.TempDir()
	base := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

	properties.Property("decode(encode(row)) == row", prop.ForAll(
		func(id string, offsetMs int64, salon, service int16, price float32) bool {
			at := base.Add(time.Duration(offsetMs) * time.Millisecond)
			row, err := NewRowBuilder(reg, nil).Build(booking(id, at, salon, service, price))
			if err != nil {
				return false
			}
			defer row.Release()
			tbl := tableOf(reg, row)
			defer tbl.Release()

			path := filepath.Join(dir, "p.parquet")
			if err := codec.WriteFile(path, tbl); err != nil {
				return false
			}
			out, err := codec.ReadFile(context.Background(), path)
			if err != nil {
				return false
			}
			defer out.Release()

			col := func(i int) arrow.Array { return out.Column(i).Data().Chunk(0) }
			return col(0).(*array.String).Value(0) == id &&
				int64(col(1).(*array.Timestamp).Value(0)) == at.UnixMilli() &&
				col(4).(*array.Int16).Value(0) == salon &&
				col(6).(*array.Int16).Value(0) == service &&
				col(8).(*array.Float32).Value(0) == price
		},
		gen.AlphaString(),
		gen.Int64Range(0, 40*365*24*3600*1000),
		gen.Int16(),
		gen.Int16(),
		gen.Float32Range(-1e6, 1e6),
	))

	properties.TestingRun(t)
}
