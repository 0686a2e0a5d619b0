package sqlsource

import (
	"context"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cohenjo/transportx/internal/typesystem"
)

type noopDialect struct{}

func (noopDialect) Name() string { return "noop" }
func (noopDialect) ColumnTag(string, bool) (typesystem.Tag, error) {
	return nil, nil
}
func (noopDialect) ScanCell(typesystem.Tag, any) (any, bool, error) {
	return nil, false, nil
}

func testLogger() zerolog.Logger { return zerolog.New(io.Discard) }

func TestFetchMetadataRequiresQueries(t *testing.T) {
	s := New(noopDialect{}, Config{DriverName: "mysql", DSN: "dsn"}, testLogger())
	_, err := s.FetchMetadata(context.Background())
	assert.ErrorContains(t, err, "SetQueries")
}

func TestPartitionRequiresMetadata(t *testing.T) {
	s := New(noopDialect{}, Config{DriverName: "mysql", DSN: "dsn"}, testLogger())
	s.SetQueries([]string{"SELECT 1"})
	_, err := s.Partition(context.Background())
	assert.ErrorContains(t, err, "FetchMetadata")
}

func TestSetQueriesCopiesInput(t *testing.T) {
	s := New(noopDialect{}, Config{}, testLogger())
	qs := []string{"SELECT a", "SELECT b"}
	s.SetQueries(qs)
	qs[0] = "mutated"
	require.Len(t, s.queries, 2)
	assert.Equal(t, "SELECT a", s.queries[0])
}

func TestParserRequiresPrepare(t *testing.T) {
	p := &sqlPartition{src: New(noopDialect{}, Config{}, testLogger())}
	_, err := p.Parser()
	assert.ErrorContains(t, err, "Prepare")
}
