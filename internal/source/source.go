// Package source declares the Source/Partition/Parser contract: a
// pull-based, typed-cell streaming interface that avoids constructing
// intermediate row structures. Concrete dialects (internal/sqlsource,
// internal/dialect/mongo) implement it; the driver wire-protocol
// parsing underneath is an external collaborator, not part of this
// contract.
package source

import (
	"context"

	"github.com/cohenjo/transportx/internal/typesystem"
)

// ColumnMeta is one entry of a Schema: a projected column's name, its
// source type tag, and whether it may be absent.
type ColumnMeta struct {
	Name     string
	Tag      typesystem.Tag
	Nullable bool
}

// Schema is the ordered, immutable projected structure discovered by
// FetchMetadata.
type Schema struct {
	Columns []ColumnMeta
}

// NCols returns the number of projected columns.
func (s Schema) NCols() int { return len(s.Columns) }

// Source opens a query plan against one dialect and splits it into
// independent partitions.
type Source interface {
	// SetQueries records the query plan: one query string per
	// partition. Queries share the same projected schema.
	SetQueries(queries []string)
	// FetchMetadata discovers the schema. After this call, Schema
	// returns the projected structure.
	FetchMetadata(ctx context.Context) (Schema, error)
	// Schema returns the schema discovered by the most recent
	// FetchMetadata call.
	Schema() Schema
	// Partition returns one Partition per independent shard. Row
	// counts may be unknown until each Partition's Prepare runs.
	Partition(ctx context.Context) ([]Partition, error)
}

// Partition is a mutually exclusive, row-disjoint shard of the overall
// result set.
type Partition interface {
	// Prepare executes the underlying query. After this call, NRows
	// and NCols are defined.
	Prepare(ctx context.Context) error
	NRows() int
	NCols() int
	// Parser consumes the partition and returns a row-ordered cursor.
	// Calling Parser before Prepare is a programming error.
	Parser() (Parser, error)
	// Close releases any resources (connections, cursors) held by the
	// partition, whether or not Prepare succeeded.
	Close() error
}

// Parser is a stateful, forward-only cursor over one partition's cells,
// delivered row-major: within a row, cells are pulled in column order;
// after NCols pulls it wraps to the next row.
type Parser interface {
	// NextCell pulls the next cell and advances the cursor by one
	// column. expected is the carrier type the caller's schema
	// declares for the current column; a mismatch is a fatal
	// CarrierMismatch, since the caller made a typed request the
	// parser's data cannot satisfy. absent reports whether the cell is
	// a SQL/driver-level NULL (only meaningful for nullable columns).
	NextCell(expected typesystem.Carrier) (value any, absent bool, err error)
}
