// Package destination implements the Destination contract: allocation
// of columnar buffers sized by (schema, per-partition-rows),
// per-partition column writers handed to the Dispatcher, and final
// assembly of the merged columnar result. It also hosts the default
// in-memory Arrow-like engine (ArrowDestination) built on the two
// destcolumn engines.
package destination

import (
	"context"

	"github.com/cohenjo/transportx/internal/typesystem"
)

// ColumnSchema is one projected destination column: its name, the
// source tag it was discovered with, the destination tag the Transport
// mapped it to, and whether the column accepts absent values.
type ColumnSchema struct {
	Name     string
	SrcTag   typesystem.Tag
	DstTag   typesystem.Tag
	Nullable bool
}

// Schema is the ordered destination-side projection, derived from a
// source.Schema by applying a transport.Table column-wise.
type Schema struct {
	Columns []ColumnSchema
}

// ColumnWriter is a per-partition, per-column append-only cursor into a
// destination buffer. Implementations wrap destcolumn.FixedWidth or
// destcolumn.VarLen.
type ColumnWriter interface {
	// WriteValue appends one already-converted destination-carrier
	// value (or, if absent, the nullability sentinel) and advances the
	// writer's cursor by one row.
	WriteValue(value any, absent bool) error
	// Finalize requires the cursor to have reached the partition's row
	// count.
	Finalize() error
}

// Column is one materialized output column of a RecordBatch. Values
// holds a concrete typed slice (e.g. []int64, []string); Mask is nil
// for non-nullable columns, otherwise true at every absent row
// (null-as-true).
type Column struct {
	Name   string
	Values any
	Mask   []bool
}

// RecordBatch is one partition's finished, row-ordered columnar output.
type RecordBatch struct {
	Columns []Column
	NumRows int
}

// Result is the Destination's assembled output: one RecordBatch per
// partition, in partition-index order. Global row order across batches
// is unspecified.
type Result struct {
	Batches []RecordBatch
}

// Destination allocates columnar buffers and hands out per-partition
// column writers, then assembles the finished result.
type Destination interface {
	// Allocate sizes buffers for the given schema and per-partition row
	// counts, returning one []ColumnWriter per partition (columns in
	// schema order).
	Allocate(ctx context.Context, schema Schema, perPartitionRows []int) ([][]ColumnWriter, error)
	// Finish returns the assembled columnar result. Only valid after
	// every column writer returned by Allocate has been finalized.
	Finish() (Result, error)
}
