// Package sqlsource implements a dialect-agnostic source.Source over
// database/sql + sqlx, parameterized by a Dialect that knows how to
// turn a driver's column type name into a typesystem.Tag and how to
// decode a scanned cell into a carrier value.
//
// One query string in the Source's query plan is one partition; each
// partition opens its own connection so partitions can run
// concurrently without sharing driver-level cursors.
package sqlsource

import (
	"context"
	"fmt"
	"io"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/cohenjo/transportx/internal/source"
	"github.com/cohenjo/transportx/internal/typesystem"
	"github.com/cohenjo/transportx/internal/xerrors"
)

// Dialect bridges a SQL driver's column metadata and scanned values to
// this package's typesystem. Implementations are the only
// dialect-specific code in the sqlsource package.
type Dialect interface {
	// Name identifies the dialect for error messages and logging.
	Name() string
	// ColumnTag maps a driver-reported column type name (as returned by
	// sql.ColumnType.DatabaseTypeName()) to a source typesystem.Tag.
	ColumnTag(databaseTypeName string, nullable bool) (typesystem.Tag, error)
	// ScanCell converts a raw value produced by database/sql's generic
	// scan (already dereferenced from its *any target) into the
	// carrier-typed value and absent flag that Parser.NextCell must
	// return for tag.
	ScanCell(tag typesystem.Tag, raw any) (value any, absent bool, err error)
}

// Config configures a SQLSource's connections.
type Config struct {
	DriverName string
	DSN        string
}

// SQLSource is a generic, connection-per-partition source.Source.
type SQLSource struct {
	dialect Dialect
	cfg     Config
	logger  zerolog.Logger

	queries []string
	schema  source.Schema
}

// New constructs a SQLSource for the given dialect and connection
// configuration.
func New(dialect Dialect, cfg Config, logger zerolog.Logger) *SQLSource {
	return &SQLSource{
		dialect: dialect,
		cfg:     cfg,
		logger:  logger.With().Str("component", "sqlsource").Str("dialect", dialect.Name()).Logger(),
	}
}

func (s *SQLSource) SetQueries(queries []string) {
	s.queries = append([]string(nil), queries...)
}

func (s *SQLSource) Schema() source.Schema { return s.schema }

// FetchMetadata opens one short-lived connection, probes the first
// query's result shape with a zero-row wrapper query, and builds the
// schema from the driver's reported column types. Exact type codes
// would need the dialect's own wire client; the portable fallback is a
// LIMIT 0 probe against whatever database/sql driver is registered.
func (s *SQLSource) FetchMetadata(ctx context.Context) (source.Schema, error) {
	if len(s.queries) == 0 {
		return source.Schema{}, fmt.Errorf("sqlsource: SetQueries must be called before FetchMetadata")
	}

	db, err := sqlx.ConnectContext(ctx, s.cfg.DriverName, s.cfg.DSN)
	if err != nil {
		return source.Schema{}, &xerrors.SourceError{Dialect: s.dialect.Name(), Op: "connect", Cause: err}
	}
	defer db.Close()

	probe := fmt.Sprintf("SELECT * FROM (%s) AS transportx_probe LIMIT 0", s.queries[0])
	rows, err := db.QueryxContext(ctx, probe)
	if err != nil {
		return source.Schema{}, &xerrors.SourceError{Dialect: s.dialect.Name(), Op: "probe_metadata", Cause: err}
	}
	defer rows.Close()

	cts, err := rows.Rows.ColumnTypes()
	if err != nil {
		return source.Schema{}, &xerrors.SourceError{Dialect: s.dialect.Name(), Op: "column_types", Cause: err}
	}

	cols := make([]source.ColumnMeta, len(cts))
	for i, ct := range cts {
		nullable, _ := ct.Nullable()
		tag, err := s.dialect.ColumnTag(ct.DatabaseTypeName(), nullable)
		if err != nil {
			return source.Schema{}, &xerrors.SourceError{Dialect: s.dialect.Name(), Op: "column_tag", Cause: err}
		}
		cols[i] = source.ColumnMeta{Name: ct.Name(), Tag: tag, Nullable: nullable}
	}

	s.schema = source.Schema{Columns: cols}
	s.logger.Debug().Int("columns", len(cols)).Msg("fetched metadata")
	return s.schema, nil
}

func (s *SQLSource) Partition(ctx context.Context) ([]source.Partition, error) {
	if len(s.schema.Columns) == 0 {
		return nil, fmt.Errorf("sqlsource: FetchMetadata must be called before Partition")
	}
	parts := make([]source.Partition, len(s.queries))
	for i, q := range s.queries {
		parts[i] = &sqlPartition{src: s, query: q, index: i}
	}
	return parts, nil
}

type sqlPartition struct {
	src   *SQLSource
	query string
	index int

	db    *sqlx.DB
	rows  *sqlx.Rows
	nrows int
}

func (p *sqlPartition) Prepare(ctx context.Context) error {
	db, err := sqlx.ConnectContext(ctx, p.src.cfg.DriverName, p.src.cfg.DSN)
	if err != nil {
		return &xerrors.SourceError{Dialect: p.src.dialect.Name(), Op: fmt.Sprintf("partition[%d].connect", p.index), Cause: err}
	}
	p.db = db

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM (%s) AS transportx_count", p.query)
	if err := db.GetContext(ctx, &p.nrows, countQuery); err != nil {
		db.Close()
		return &xerrors.SourceError{Dialect: p.src.dialect.Name(), Op: fmt.Sprintf("partition[%d].count", p.index), Cause: err}
	}

	rows, err := db.QueryxContext(ctx, p.query)
	if err != nil {
		db.Close()
		return &xerrors.SourceError{Dialect: p.src.dialect.Name(), Op: fmt.Sprintf("partition[%d].query", p.index), Cause: err}
	}
	p.rows = rows
	return nil
}

func (p *sqlPartition) NRows() int { return p.nrows }
func (p *sqlPartition) NCols() int { return len(p.src.schema.Columns) }

func (p *sqlPartition) Parser() (source.Parser, error) {
	if p.rows == nil {
		return nil, fmt.Errorf("sqlsource: Prepare must be called before Parser")
	}
	return &sqlParser{partition: p, schema: p.src.schema.Columns, dialect: p.src.dialect}, nil
}

func (p *sqlPartition) Close() error {
	var err error
	if p.rows != nil {
		err = p.rows.Close()
	}
	if p.db != nil {
		if cerr := p.db.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// sqlParser buffers one row at a time (database/sql's Scan is
// inherently row-at-a-time, not cell-at-a-time) and serves cells from
// that buffer, so NextCell still presents the pull-based, per-cell
// typed-get contract without materializing the whole result set.
type sqlParser struct {
	partition *sqlPartition
	schema    []source.ColumnMeta
	dialect   Dialect

	col       int
	rowLoaded bool
	rawRow    []any
}

func (p *sqlParser) NextCell(expected typesystem.Carrier) (any, bool, error) {
	if !p.rowLoaded {
		if !p.partition.rows.Next() {
			if err := p.partition.rows.Err(); err != nil {
				return nil, false, &xerrors.SourceError{Dialect: p.dialect.Name(), Op: "scan", Cause: err}
			}
			return nil, false, io.EOF
		}
		raw := make([]any, len(p.schema))
		ptrs := make([]any, len(p.schema))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := p.partition.rows.Scan(ptrs...); err != nil {
			return nil, false, &xerrors.SourceError{Dialect: p.dialect.Name(), Op: "scan", Cause: err}
		}
		p.rawRow = raw
		p.rowLoaded = true
		p.col = 0
	}

	meta := p.schema[p.col]
	if meta.Tag.Carrier() != expected {
		return nil, false, xerrors.ErrCarrierMismatch
	}

	value, absent, err := p.dialect.ScanCell(meta.Tag, p.rawRow[p.col])
	p.col++
	if p.col == len(p.schema) {
		p.rowLoaded = false
	}
	return value, absent, err
}
