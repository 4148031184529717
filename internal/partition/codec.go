package partition

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	apperrors "github.com/bookinglake/bookinglake/internal/errors"
	"github.com/bookinglake/bookinglake/internal/schema"
)

// Codec encodes tables as Snappy-compressed Parquet and decodes stored
// partitions back into tables that conform to a registry.
type Codec struct {
	registry *schema.Registry
	mem      memory.Allocator
}

// NewCodec creates a codec for the registry.
func NewCodec(registry *schema.Registry, mem memory.Allocator) *Codec {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	return &Codec{registry: registry, mem: mem}
}

// Registry returns the schema the codec conforms to.
func (c *Codec) Registry() *schema.Registry {
	return c.registry
}

// WriteFile encodes tbl to path. Every record batch of the table becomes one
// row group, and the Arrow schema is stored in the file metadata so zone
// labels survive the round trip.
func (c *Codec) WriteFile(path string, tbl arrow.Table) error {
	return c.WriteFileWithMetadata(path, tbl, nil)
}

// WriteFileWithMetadata is WriteFile plus file-level key-value metadata.
func (c *Codec) WriteFileWithMetadata(path string, tbl arrow.Table, kv map[string]string) error {
	f, err := os.Create(path)
	if err != nil {
		return apperrors.NewScratchError("failed to create scratch file", err)
	}
	defer f.Close()

	props := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Snappy),
		parquet.WithAllocator(c.mem),
	)
	arrProps := pqarrow.NewArrowWriterProperties(
		pqarrow.WithStoreSchema(),
		pqarrow.WithAllocator(c.mem),
	)

	fw, err := pqarrow.NewFileWriter(tbl.Schema(), f, props, arrProps)
	if err != nil {
		return apperrors.NewCodecError(apperrors.CodeEncodeFailed, "failed to open parquet writer", err)
	}

	tr := array.NewTableReader(tbl, -1)
	defer tr.Release()

	for tr.Next() {
		fw.NewBufferedRowGroup()
		if err := fw.WriteBuffered(tr.Record()); err != nil {
			fw.Close()
			return apperrors.NewCodecError(apperrors.CodeEncodeFailed, "failed to write row group", err)
		}
	}
	if err := tr.Err(); err != nil {
		fw.Close()
		return apperrors.NewCodecError(apperrors.CodeEncodeFailed, "failed to iterate table", err)
	}

	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := fw.AppendKeyValueMetadata(k, kv[k]); err != nil {
			fw.Close()
			return apperrors.NewCodecError(apperrors.CodeEncodeFailed, "failed to write file metadata", err)
		}
	}

	// Closing the writer also closes f; the deferred Close is then a no-op.
	if err := fw.Close(); err != nil {
		return apperrors.NewCodecError(apperrors.CodeEncodeFailed, "failed to finalize parquet file", err)
	}
	return nil
}

// ReadFile decodes the Parquet file at path and conforms it to the
// registry. Any decode or conformance failure is CORRUPT_PARTITION.
func (c *Codec) ReadFile(ctx context.Context, path string) (arrow.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.NewScratchError("failed to open scratch file", err)
	}
	defer f.Close()

	tbl, err := pqarrow.ReadTable(ctx, f, parquet.NewReaderProperties(c.mem), pqarrow.ArrowReadProperties{}, c.mem)
	if err != nil {
		return nil, apperrors.NewCodecError(apperrors.CodeCorruptPartition, "failed to decode parquet file", err)
	}
	defer tbl.Release()

	return c.Conform(tbl)
}

// ReadMetadataValue returns the file-level metadata value stored under key.
func (c *Codec) ReadMetadataValue(path, key string) (string, bool, error) {
	pf, err := file.OpenParquetFile(path, false)
	if err != nil {
		return "", false, apperrors.NewCodecError(apperrors.CodeCorruptPartition, "failed to open parquet file", err)
	}
	defer pf.Close()

	v := pf.MetaData().KeyValueMetadata().FindValue(key)
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

// Conform checks that tbl has the registry's column names, order, and
// types. Timestamp columns that differ only in zone label or unit are
// normalised. The result is a new table owned by the caller.
func (c *Codec) Conform(tbl arrow.Table) (arrow.Table, error) {
	want := c.registry.Arrow()
	got := tbl.Schema()

	if got.NumFields() != want.NumFields() {
		return nil, corrupt(fmt.Sprintf("partition has %d columns, want %d", got.NumFields(), want.NumFields()))
	}

	cols := make([]arrow.Column, 0, want.NumFields())
	defer func() {
		for i := range cols {
			cols[i].Release()
		}
	}()

	for i, wf := range want.Fields() {
		gf := got.Field(i)
		if gf.Name != wf.Name {
			return nil, corrupt(fmt.Sprintf("column %d is %q, want %q", i, gf.Name, wf.Name))
		}

		chunks, err := c.conformColumn(tbl.Column(i).Data(), gf.Type, wf.Type)
		if err != nil {
			return nil, err
		}
		chunked := arrow.NewChunked(wf.Type, chunks)
		for _, a := range chunks {
			a.Release()
		}
		cols = append(cols, *arrow.NewColumn(wf, chunked))
		chunked.Release()
	}

	return array.NewTable(want, cols, tbl.NumRows()), nil
}

func (c *Codec) conformColumn(data *arrow.Chunked, got, want arrow.DataType) ([]arrow.Array, error) {
	out := make([]arrow.Array, 0, len(data.Chunks()))

	if arrow.TypeEqual(got, want) {
		for _, chunk := range data.Chunks() {
			chunk.Retain()
			out = append(out, chunk)
		}
		return out, nil
	}

	gotTS, ok1 := got.(*arrow.TimestampType)
	wantTS, ok2 := want.(*arrow.TimestampType)
	if !ok1 || !ok2 {
		return nil, corrupt(fmt.Sprintf("column type %s, want %s", got, want))
	}

	for _, chunk := range data.Chunks() {
		if gotTS.Unit == wantTS.Unit {
			out = append(out, relabel(chunk, wantTS))
			continue
		}
		out = append(out, c.rescale(chunk.(*array.Timestamp), gotTS.Unit, wantTS))
	}
	return out, nil
}

// relabel reuses the buffers of a timestamp array under a new zone label.
func relabel(arr arrow.Array, want *arrow.TimestampType) arrow.Array {
	src := arr.Data()
	data := array.NewData(want, src.Len(), src.Buffers(), nil, src.NullN(), src.Offset())
	defer data.Release()
	return array.MakeFromData(data)
}

// rescale converts timestamp values between units, flooring toward the
// earlier instant when precision is lost.
func (c *Codec) rescale(arr *array.Timestamp, from arrow.TimeUnit, want *arrow.TimestampType) arrow.Array {
	b := array.NewTimestampBuilder(c.mem, want)
	defer b.Release()
	b.Reserve(arr.Len())

	fromMul := int64(from.Multiplier())
	toMul := int64(want.Unit.Multiplier())

	for i := 0; i < arr.Len(); i++ {
		if arr.IsNull(i) {
			b.AppendNull()
			continue
		}
		v := int64(arr.Value(i))
		if fromMul >= toMul {
			v *= fromMul / toMul
		} else {
			v = floorDiv(v, toMul/fromMul)
		}
		b.Append(arrow.Timestamp(v))
	}
	return b.NewArray()
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func corrupt(msg string) error {
	return apperrors.NewCodecError(apperrors.CodeCorruptPartition, msg, nil)
}
