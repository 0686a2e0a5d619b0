package destination

import (
	"context"
	"fmt"
	"sync"

	"github.com/cohenjo/transportx/internal/destcolumn"
	"github.com/rs/zerolog"
)

type partitionColumns struct {
	rows    int
	columns []columnBuilder
}

// processAllocLock is the one allocation lock shared by every
// ArrowDestination in the process.
var processAllocLock = destcolumn.NewAllocLock()

// ArrowDestination is the default in-memory columnar Destination: each
// partition's columns are backed by the FixedWidth or VarLen engines
// from internal/destcolumn, sharing the process-wide destcolumn.AllocLock
// across every variable-length column of every destination.
type ArrowDestination struct {
	opts   Options
	logger zerolog.Logger

	mu         sync.Mutex
	schema     Schema
	lock       *destcolumn.AllocLock
	partitions []partitionColumns
}

// NewArrowDestination constructs an empty destination. Call Allocate
// once the Dispatcher knows the schema and per-partition row counts.
func NewArrowDestination(opts Options, logger zerolog.Logger) *ArrowDestination {
	return &ArrowDestination{
		opts:   opts,
		logger: logger.With().Str("component", "arrow_destination").Logger(),
		lock:   processAllocLock,
	}
}

func (d *ArrowDestination) Allocate(ctx context.Context, schema Schema, perPartitionRows []int) ([][]ColumnWriter, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.schema = schema
	d.partitions = make([]partitionColumns, len(perPartitionRows))
	writers := make([][]ColumnWriter, len(perPartitionRows))

	for p, rows := range perPartitionRows {
		cols := make([]columnBuilder, len(schema.Columns))
		cw := make([]ColumnWriter, len(schema.Columns))
		for c, colSchema := range schema.Columns {
			b, err := newColumnBuilder(colSchema, rows, d.lock, d.opts)
			if err != nil {
				return nil, err
			}
			cols[c] = b
			cw[c] = b
		}
		d.partitions[p] = partitionColumns{rows: rows, columns: cols}
		writers[p] = cw
	}

	d.logger.Debug().
		Int("partitions", len(perPartitionRows)).
		Int("columns", len(schema.Columns)).
		Msg("allocated destination buffers")

	return writers, nil
}

func (d *ArrowDestination) Finish() (Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	batches := make([]RecordBatch, len(d.partitions))
	for p, part := range d.partitions {
		cols := make([]Column, len(part.columns))
		for c, b := range part.columns {
			if c >= len(d.schema.Columns) {
				return Result{}, fmt.Errorf("destination: column index %d out of range for schema of %d columns", c, len(d.schema.Columns))
			}
			cols[c] = b.snapshot(d.schema.Columns[c].Name)
		}
		batches[p] = RecordBatch{Columns: cols, NumRows: part.rows}
	}
	return Result{Batches: batches}, nil
}
