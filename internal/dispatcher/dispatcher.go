// Package dispatcher implements the orchestration algorithm of the
// transport core: fetch metadata, validate every (source, destination)
// column pair up front, partition the source, allocate destination
// buffers, then run one worker per partition pulling cells, converting
// them through the Transport table, and writing them to the
// destination's column writers. The first worker error cancels every
// other worker; partial results are discarded.
package dispatcher

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pquerna/ffjson/ffjson"
	"github.com/rs/zerolog"

	"github.com/cohenjo/transportx/internal/destination"
	"github.com/cohenjo/transportx/internal/source"
	"github.com/cohenjo/transportx/internal/telemetry"
	"github.com/cohenjo/transportx/internal/transport"
	"github.com/cohenjo/transportx/internal/typesystem"
	"github.com/cohenjo/transportx/internal/xerrors"
)

// Dispatcher wires one Source to one Destination through a Transport
// table, running one worker goroutine per partition with
// first-error-cancels semantics.
type Dispatcher struct {
	src     source.Source
	dst     destination.Destination
	table   *transport.Table
	logger  zerolog.Logger
	metrics *telemetry.Metrics
}

// New constructs a Dispatcher. metrics may be nil.
func New(src source.Source, dst destination.Destination, table *transport.Table, logger zerolog.Logger, metrics *telemetry.Metrics) *Dispatcher {
	return &Dispatcher{
		src:     src,
		dst:     dst,
		table:   table,
		logger:  logger.With().Str("component", "dispatcher").Logger(),
		metrics: metrics,
	}
}

// columnPlan is the per-column conversion triple resolved once from the
// schema before any worker starts. The worker inner loop reads it
// directly instead of interpreting type tags cell-by-cell.
type columnPlan struct {
	name    string
	carrier typesystem.Carrier
	policy  transport.Policy
	convert transport.ConvertFunc
}

type runSummary struct {
	Partitions int   `json:"partitions"`
	Columns    int   `json:"columns"`
	Rows       int   `json:"rows"`
	ElapsedMS  int64 `json:"elapsed_ms"`
}

// Run executes the full transport: fetch metadata, pre-validate,
// partition, prepare, allocate, dispatch workers, finalize, and assemble the
// result. It returns the first error encountered by any stage or
// worker.
func (d *Dispatcher) Run(ctx context.Context, queries []string) (destination.Result, error) {
	started := time.Now()
	d.src.SetQueries(queries)

	srcSchema, err := d.src.FetchMetadata(ctx)
	if err != nil {
		return destination.Result{}, fmt.Errorf("dispatcher: fetch metadata: %w", err)
	}

	dstSchema, plans, err := d.buildDestinationSchema(srcSchema)
	if err != nil {
		return destination.Result{}, err
	}

	partitions, err := d.src.Partition(ctx)
	if err != nil {
		return destination.Result{}, fmt.Errorf("dispatcher: partition: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, p := range partitions {
		if err := p.Prepare(ctx); err != nil {
			closeAll(partitions)
			return destination.Result{}, fmt.Errorf("dispatcher: prepare partition: %w", err)
		}
	}

	rowCounts := make([]int, len(partitions))
	for i, p := range partitions {
		rowCounts[i] = p.NRows()
	}

	writers, err := d.dst.Allocate(ctx, dstSchema, rowCounts)
	if err != nil {
		closeAll(partitions)
		return destination.Result{}, fmt.Errorf("dispatcher: allocate destination: %w", err)
	}

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for i, p := range partitions {
		wg.Add(1)
		go func(idx int, part source.Partition, cw []destination.ColumnWriter) {
			defer wg.Done()
			defer part.Close()
			if err := d.runPartition(ctx, idx, part, plans, cw); err != nil {
				fail(err)
			}
		}(i, p, writers[i])
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		<-done
		if firstErr == nil {
			firstErr = ctx.Err()
		}
	}

	if firstErr != nil {
		d.logError(firstErr)
		return destination.Result{}, firstErr
	}

	result, err := d.dst.Finish()
	if err != nil {
		return destination.Result{}, fmt.Errorf("dispatcher: finish: %w", err)
	}

	total := 0
	for _, n := range rowCounts {
		total += n
	}
	summary := runSummary{
		Partitions: len(partitions),
		Columns:    len(dstSchema.Columns),
		Rows:       total,
		ElapsedMS:  time.Since(started).Milliseconds(),
	}
	if buf, err := ffjson.Marshal(&summary); err == nil {
		d.logger.Info().RawJSON("summary", buf).Msg("transport complete")
	}
	return result, nil
}

// buildDestinationSchema derives the destination Schema from the source
// Schema via the Transport table and resolves the per-column conversion
// plan, failing fast if any column's (src, dst) pair has policy=none or
// no mapping at all, before any worker is started.
func (d *Dispatcher) buildDestinationSchema(srcSchema source.Schema) (destination.Schema, []columnPlan, error) {
	cols := make([]destination.ColumnSchema, len(srcSchema.Columns))
	plans := make([]columnPlan, len(srcSchema.Columns))
	for i, c := range srcSchema.Columns {
		if err := d.table.CheckColumn(c.Name, c.Tag); err != nil {
			return destination.Schema{}, nil, err
		}
		m, _ := d.table.Lookup(c.Tag)
		cols[i] = destination.ColumnSchema{
			Name:     c.Name,
			SrcTag:   c.Tag,
			DstTag:   m.Dst,
			Nullable: c.Nullable,
		}
		plans[i] = columnPlan{
			name:    c.Name,
			carrier: c.Tag.Carrier(),
			policy:  m.Policy,
			convert: m.Convert,
		}
	}
	return destination.Schema{Columns: cols}, plans, nil
}

// runPartition pulls every cell of one partition row-major, converts it
// per the pre-resolved column plan, and writes it to the partition's
// column writers, then finalizes them.
func (d *Dispatcher) runPartition(ctx context.Context, idx int, part source.Partition, plans []columnPlan, writers []destination.ColumnWriter) error {
	parser, err := part.Parser()
	if err != nil {
		return fmt.Errorf("dispatcher: partition %d parser: %w", idx, err)
	}

	declared := part.NRows()
	observed := 0
	for observed < declared {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		for col := range plans {
			p := &plans[col]
			value, absent, err := parser.NextCell(p.carrier)
			if err != nil {
				if err == io.EOF {
					return &xerrors.RowCountMismatchError{Partition: idx, Declared: declared, Observed: observed}
				}
				return &xerrors.SourceError{Op: fmt.Sprintf("partition[%d].next_cell", idx), Cause: err}
			}
			converted := value
			if !absent && p.policy == transport.PolicyOption {
				if d.metrics != nil {
					d.metrics.CellConversions.Inc()
				}
				converted, err = p.convert(value)
				if err != nil {
					if d.metrics != nil {
						d.metrics.ConversionErrors.Inc()
					}
					return &xerrors.ConversionError{Column: p.name, Row: observed, Src: value, Cause: err}
				}
			}
			if err := writers[col].WriteValue(converted, absent); err != nil {
				return &xerrors.DestinationError{Op: "write_value", Column: p.name, Cause: err}
			}
		}
		observed++
		if d.metrics != nil {
			d.metrics.RowsTransported.Inc()
		}
	}

	// The declared count has been consumed; the parser must be
	// exhausted too. A surplus row is the same mismatch as a missing
	// one, just in the other direction.
	if len(plans) > 0 {
		if _, _, err := parser.NextCell(plans[0].carrier); err != io.EOF {
			return &xerrors.RowCountMismatchError{Partition: idx, Declared: declared, Observed: declared + 1}
		}
	}

	for _, w := range writers {
		if err := w.Finalize(); err != nil {
			return &xerrors.DestinationError{Op: "finalize", Cause: err}
		}
	}
	return nil
}

// logError emits the failed run's error as a structured payload so the
// offending value in a ConversionError or the declared/observed counts
// in a RowCountMismatchError survive into the log stream.
func (d *Dispatcher) logError(runErr error) {
	payload := map[string]any{"error": runErr.Error()}
	switch e := runErr.(type) {
	case *xerrors.ConversionError:
		payload["column"] = e.Column
		payload["row"] = e.Row
		payload["value"] = fmt.Sprintf("%v", e.Src)
	case *xerrors.RowCountMismatchError:
		payload["partition"] = e.Partition
		payload["declared"] = e.Declared
		payload["observed"] = e.Observed
	}
	if buf, err := ffjson.Marshal(payload); err == nil {
		d.logger.Error().RawJSON("failure", buf).Msg("transport run failed")
	}
}

func closeAll(partitions []source.Partition) {
	for _, p := range partitions {
		_ = p.Close()
	}
}
