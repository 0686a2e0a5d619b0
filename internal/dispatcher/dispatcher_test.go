package dispatcher

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cohenjo/transportx/internal/destination"
	"github.com/cohenjo/transportx/internal/source"
	"github.com/cohenjo/transportx/internal/transport"
	"github.com/cohenjo/transportx/internal/typesystem"
	"github.com/cohenjo/transportx/internal/xerrors"
)

// --- fake source -----------------------------------------------------

type fakeTag struct {
	name    string
	carrier typesystem.Carrier
}

func (t fakeTag) String() string              { return t.name }
func (t fakeTag) Carrier() typesystem.Carrier { return t.carrier }
func (t fakeTag) Nullable() bool              { return true }

var tagInt = fakeTag{name: "int", carrier: typesystem.CarrierInt64}
var tagUnsupported = fakeTag{name: "geom", carrier: typesystem.CarrierBytes}

type fakeRow struct {
	values []int64
	absent []bool
}

type fakeSource struct {
	schema     source.Schema
	partitions [][]fakeRow
	declared   []int // declared row count per partition; defaults to len(partitions[i])

	created []*fakePartition
}

func (s *fakeSource) SetQueries([]string) {}

func (s *fakeSource) FetchMetadata(context.Context) (source.Schema, error) { return s.schema, nil }
func (s *fakeSource) Schema() source.Schema                                { return s.schema }

func (s *fakeSource) Partition(context.Context) ([]source.Partition, error) {
	parts := make([]source.Partition, len(s.partitions))
	for i, rows := range s.partitions {
		declared := len(rows)
		if s.declared != nil {
			declared = s.declared[i]
		}
		fp := &fakePartition{rows: rows, declared: declared}
		s.created = append(s.created, fp)
		parts[i] = fp
	}
	return parts, nil
}

type fakePartition struct {
	rows     []fakeRow
	declared int
	closed   bool
}

func (p *fakePartition) Prepare(context.Context) error { return nil }
func (p *fakePartition) NRows() int                    { return p.declared }
func (p *fakePartition) NCols() int                    { return 1 }
func (p *fakePartition) Close() error                  { p.closed = true; return nil }

func (p *fakePartition) Parser() (source.Parser, error) {
	return &fakeParser{rows: p.rows}, nil
}

type fakeParser struct {
	rows []fakeRow
	row  int
	col  int
}

func (p *fakeParser) NextCell(expected typesystem.Carrier) (any, bool, error) {
	if p.row >= len(p.rows) {
		return nil, false, io.EOF
	}
	r := p.rows[p.row]
	v, absent := r.values[p.col], r.absent[p.col]
	p.col++
	if p.col == len(r.values) {
		p.col = 0
		p.row++
	}
	return v, absent, nil
}

// --- fake destination --------------------------------------------------

type fakeColumnWriter struct {
	mu       sync.Mutex
	values   []int64
	mask     []bool
	cap      int
	finalize bool
}

func (w *fakeColumnWriter) WriteValue(v any, absent bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.values) >= w.cap {
		return assert.AnError
	}
	if absent {
		w.values = append(w.values, 0)
		w.mask = append(w.mask, true)
		return nil
	}
	w.values = append(w.values, v.(int64))
	w.mask = append(w.mask, false)
	return nil
}

func (w *fakeColumnWriter) Finalize() error {
	if len(w.values) != w.cap {
		return assert.AnError
	}
	w.finalize = true
	return nil
}

type fakeDestination struct {
	mu      sync.Mutex
	writers [][]*fakeColumnWriter
	schema  destination.Schema
}

func (d *fakeDestination) Allocate(ctx context.Context, schema destination.Schema, perPartitionRows []int) ([][]destination.ColumnWriter, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.schema = schema
	out := make([][]destination.ColumnWriter, len(perPartitionRows))
	d.writers = make([][]*fakeColumnWriter, len(perPartitionRows))
	for p, rows := range perPartitionRows {
		cols := make([]destination.ColumnWriter, len(schema.Columns))
		raw := make([]*fakeColumnWriter, len(schema.Columns))
		for c := range schema.Columns {
			cw := &fakeColumnWriter{cap: rows}
			cols[c] = cw
			raw[c] = cw
		}
		out[p] = cols
		d.writers[p] = raw
	}
	return out, nil
}

func (d *fakeDestination) Finish() (destination.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	batches := make([]destination.RecordBatch, len(d.writers))
	for p, cols := range d.writers {
		outCols := make([]destination.Column, len(cols))
		n := 0
		for c, cw := range cols {
			outCols[c] = destination.Column{Values: append([]int64(nil), cw.values...), Mask: cw.mask}
			n = len(cw.values)
		}
		batches[p] = destination.RecordBatch{Columns: outCols, NumRows: n}
	}
	return destination.Result{Batches: batches}, nil
}

func testLogger() zerolog.Logger { return zerolog.New(io.Discard) }

func identityTable() *transport.Table {
	return transport.NewTable("test", []transport.Mapping{
		{Src: tagInt, Dst: tagInt, Policy: transport.PolicyAuto},
	})
}

func TestDispatcherRunSinglePartition(t *testing.T) {
	src := &fakeSource{
		schema:     source.Schema{Columns: []source.ColumnMeta{{Name: "v", Tag: tagInt, Nullable: true}}},
		partitions: [][]fakeRow{{{values: []int64{1}, absent: []bool{false}}, {values: []int64{0}, absent: []bool{true}}}},
	}
	dst := &fakeDestination{}
	d := New(src, dst, identityTable(), testLogger(), nil)

	result, err := d.Run(context.Background(), []string{"SELECT v"})
	require.NoError(t, err)
	require.Len(t, result.Batches, 1)
	assert.Equal(t, 2, result.Batches[0].NumRows)
	assert.Equal(t, []int64{1, 0}, result.Batches[0].Columns[0].Values)
	assert.Equal(t, []bool{false, true}, result.Batches[0].Columns[0].Mask)
}

func TestDispatcherRunMultiplePartitions(t *testing.T) {
	src := &fakeSource{
		schema: source.Schema{Columns: []source.ColumnMeta{{Name: "v", Tag: tagInt, Nullable: false}}},
		partitions: [][]fakeRow{
			{{values: []int64{1}, absent: []bool{false}}},
			{{values: []int64{2}, absent: []bool{false}}, {values: []int64{3}, absent: []bool{false}}},
		},
	}
	dst := &fakeDestination{}
	d := New(src, dst, identityTable(), testLogger(), nil)

	result, err := d.Run(context.Background(), []string{"SELECT v part 1", "SELECT v part 2"})
	require.NoError(t, err)
	require.Len(t, result.Batches, 2)
	assert.Equal(t, 1, result.Batches[0].NumRows)
	assert.Equal(t, 2, result.Batches[1].NumRows)
}

func TestDispatcherUnsupportedPairFailsBeforeAnyWorker(t *testing.T) {
	src := &fakeSource{
		schema:     source.Schema{Columns: []source.ColumnMeta{{Name: "g", Tag: tagUnsupported, Nullable: true}}},
		partitions: [][]fakeRow{{{values: []int64{1}, absent: []bool{false}}}},
	}
	dst := &fakeDestination{}
	d := New(src, dst, identityTable(), testLogger(), nil)

	_, err := d.Run(context.Background(), []string{"SELECT g"})
	assert.Error(t, err)
	assert.Nil(t, dst.writers)
}

func TestDispatcherRowCountMismatchPropagates(t *testing.T) {
	src := &fakeSource{
		schema:     source.Schema{Columns: []source.ColumnMeta{{Name: "v", Tag: tagInt, Nullable: false}}},
		partitions: [][]fakeRow{{{values: []int64{1}, absent: []bool{false}}}},
		declared:   []int{2},
	}
	dst := &fakeDestination{}
	d := New(src, dst, identityTable(), testLogger(), nil)

	_, err := d.Run(context.Background(), []string{"SELECT v"})
	require.Error(t, err)
	assert.ErrorIs(t, err, xerrors.ErrRowCountMismatch)
}

func TestDispatcherSurplusRowsPropagateAsMismatch(t *testing.T) {
	src := &fakeSource{
		schema: source.Schema{Columns: []source.ColumnMeta{{Name: "v", Tag: tagInt, Nullable: false}}},
		partitions: [][]fakeRow{{
			{values: []int64{1}, absent: []bool{false}},
			{values: []int64{2}, absent: []bool{false}},
		}},
		declared: []int{1},
	}
	dst := &fakeDestination{}
	d := New(src, dst, identityTable(), testLogger(), nil)

	_, err := d.Run(context.Background(), []string{"SELECT v"})
	require.Error(t, err)
	assert.ErrorIs(t, err, xerrors.ErrRowCountMismatch)
}

func TestDispatcherConversionFailureCarriesOffendingValue(t *testing.T) {
	src := &fakeSource{
		schema: source.Schema{Columns: []source.ColumnMeta{{Name: "price", Tag: tagInt, Nullable: false}}},
		partitions: [][]fakeRow{{
			{values: []int64{1}, absent: []bool{false}},
			{values: []int64{-7}, absent: []bool{false}},
			{values: []int64{3}, absent: []bool{false}},
		}},
	}
	tbl := transport.NewTable("test", []transport.Mapping{
		{Src: tagInt, Dst: tagInt, Policy: transport.PolicyOption, Convert: func(v any) (any, error) {
			if v.(int64) < 0 {
				return nil, assert.AnError
			}
			return v, nil
		}},
	})
	dst := &fakeDestination{}
	d := New(src, dst, tbl, testLogger(), nil)

	_, err := d.Run(context.Background(), []string{"SELECT price"})
	require.Error(t, err)
	require.ErrorIs(t, err, xerrors.ErrConversionFailed)
	var ce *xerrors.ConversionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "price", ce.Column)
	assert.Equal(t, int64(-7), ce.Src)
	assert.Equal(t, 1, ce.Row)
}

func TestDispatcherClosesPartitionsOnCompletion(t *testing.T) {
	src := &fakeSource{
		schema:     source.Schema{Columns: []source.ColumnMeta{{Name: "v", Tag: tagInt, Nullable: false}}},
		partitions: [][]fakeRow{{{values: []int64{1}, absent: []bool{false}}}},
	}
	dst := &fakeDestination{}
	d := New(src, dst, identityTable(), testLogger(), nil)

	_, err := d.Run(context.Background(), []string{"SELECT v"})
	require.NoError(t, err)
	require.Len(t, src.created, 1)
	assert.True(t, src.created[0].closed)
}
