// Package transport implements the declarative source-to-destination
// type mapping table: one Table binds a source typesystem.System to a
// destination typesystem.System and answers, per source Tag, the
// destination Tag and conversion policy to use. A Table is built once
// at construction and never re-interpreted per cell; callers resolve a
// Mapping per column and run it over the row loop.
package transport

import (
	"fmt"

	"github.com/cohenjo/transportx/internal/typesystem"
	"github.com/cohenjo/transportx/internal/xerrors"
)

// Policy describes how a (SrcTag, DstTag) pair is bridged.
type Policy int

const (
	// PolicyNone means the pair is not supported; using it is a fatal
	// configuration error.
	PolicyNone Policy = iota
	// PolicyAuto means the source and destination carriers are
	// identical; conversion is the identity function.
	PolicyAuto
	// PolicyOption means a user-supplied Convert function bridges the
	// carriers; it may fail per cell.
	PolicyOption
)

func (p Policy) String() string {
	switch p {
	case PolicyAuto:
		return "auto"
	case PolicyOption:
		return "option"
	default:
		return "none"
	}
}

// ConvertFunc converts one cell's value from the source carrier to the
// destination carrier. It is only invoked for PolicyOption mappings.
type ConvertFunc func(src any) (dst any, err error)

// Mapping is one row of a Table: what a single source Tag maps to.
type Mapping struct {
	Src     typesystem.Tag
	Dst     typesystem.Tag
	Policy  Policy
	Convert ConvertFunc // nil unless Policy == PolicyOption
}

// Table is the compile/load-time dispatch table for one (Source,
// Destination) pair. It is immutable after NewTable returns and is safe
// to share across worker goroutines without synchronization.
//
// Mappings are keyed by Tag.String(), not by Go struct equality: a
// dialect's Tag implementation (e.g. the mysql package's) typically
// embeds per-column nullability alongside its type identity, and two
// Tag values for the "same" source type but different nullability must
// still resolve to the same mapping row.
type Table struct {
	Name     string
	mappings map[string]Mapping
}

// NewTable builds a Table from an ordered list of mappings. A mapping
// with Policy == PolicyOption and a nil Convert is a programming error
// and panics immediately; this is a load-time declaration, not a
// runtime input.
func NewTable(name string, mappings []Mapping) *Table {
	t := &Table{Name: name, mappings: make(map[string]Mapping, len(mappings))}
	for _, m := range mappings {
		if m.Policy == PolicyOption && m.Convert == nil {
			panic(fmt.Sprintf("transport %s: mapping %s -> %s declares policy=option with no Convert func", name, m.Src, m.Dst))
		}
		t.mappings[m.Src.String()] = m
	}
	return t
}

// Lookup returns the declared mapping for a source tag, if any.
func (t *Table) Lookup(src typesystem.Tag) (Mapping, bool) {
	m, ok := t.mappings[src.String()]
	return m, ok
}

// CheckColumn reports ErrUnsupportedPair (wrapped with the column name)
// if src has no mapping or its policy is PolicyNone. The Dispatcher
// calls this for every schema column before spawning any worker.
func (t *Table) CheckColumn(column string, src typesystem.Tag) error {
	m, ok := t.mappings[src.String()]
	if !ok || m.Policy == PolicyNone {
		dst := m.Dst
		return &xerrors.UnsupportedPairError{Column: column, Src: src, Dst: dst}
	}
	return nil
}

// Convert applies the declared mapping to a single cell value. Callers
// select the Mapping once per column (via Lookup) and should prefer
// calling Mapping's own dispatch in a tight per-row loop; Convert is the
// convenience one-shot form used by tests and simple call sites.
func (t *Table) Convert(column string, src typesystem.Tag, value any, absent bool) (any, error) {
	m, ok := t.mappings[src.String()]
	if !ok || m.Policy == PolicyNone {
		return nil, &xerrors.UnsupportedPairError{Column: column, Src: src, Dst: m.Dst}
	}
	if absent {
		return nil, nil
	}
	switch m.Policy {
	case PolicyAuto:
		return value, nil
	case PolicyOption:
		dst, err := m.Convert(value)
		if err != nil {
			return nil, &xerrors.ConversionError{Column: column, Src: value, Cause: err}
		}
		return dst, nil
	default:
		return nil, &xerrors.UnsupportedPairError{Column: column, Src: src, Dst: m.Dst}
	}
}
