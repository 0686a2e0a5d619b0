// Package xerrors holds the error kinds shared by every transport layer
// (source, destination, dispatcher). Sentinel errors are compared with
// errors.Is; structured wrappers carry the operation-specific detail
// that a bare sentinel can't.
package xerrors

import (
	"errors"
	"fmt"
)

// Design-level error kinds. Callers compare with errors.Is; structured
// wrapper types below implement Unwrap to these.
var (
	ErrUnsupportedPair     = errors.New("unsupported source/destination type pair")
	ErrCarrierMismatch     = errors.New("parser carrier does not match column's declared carrier")
	ErrNullInNonNullable   = errors.New("absent value written to a non-nullable column")
	ErrRowCountMismatch    = errors.New("declared row count disagrees with rows delivered")
	ErrAllocLockPoisoned   = errors.New("foreign allocation lock is poisoned")
	ErrFinalizeIncomplete  = errors.New("column writer finalized before reaching its row count")
	ErrConversionFailed    = errors.New("type conversion failed")
	ErrWriteAfterFinalize  = errors.New("write attempted on a finalized column writer")
	ErrWriteBeyondCapacity = errors.New("write attempted beyond the column's partition row count")
)

// SourceError wraps a failure surfaced by a Source/Partition/Parser.
type SourceError struct {
	Dialect string
	Op      string
	Cause   error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source(%s): %s: %v", e.Dialect, e.Op, e.Cause)
}

func (e *SourceError) Unwrap() error { return e.Cause }

// DestinationError wraps a failure surfaced by a Destination/ColumnWriter.
type DestinationError struct {
	Dialect string
	Op      string
	Column  string
	Cause   error
}

func (e *DestinationError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("destination(%s): %s column %q: %v", e.Dialect, e.Op, e.Column, e.Cause)
	}
	return fmt.Sprintf("destination(%s): %s: %v", e.Dialect, e.Op, e.Cause)
}

func (e *DestinationError) Unwrap() error { return e.Cause }

// ConversionError reports a failed policy=option conversion for a
// specific cell, carrying the offending source value for diagnostics.
type ConversionError struct {
	Column string
	Row    int
	Src    any
	Cause  error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("conversion failed for column %q row %d (value %v): %v", e.Column, e.Row, e.Src, e.Cause)
}

func (e *ConversionError) Unwrap() error { return ErrConversionFailed }

// UnsupportedPairError names the column whose (src,dst) mapping has
// policy=none.
type UnsupportedPairError struct {
	Column string
	Src    fmt.Stringer
	Dst    fmt.Stringer
}

func (e *UnsupportedPairError) Error() string {
	return fmt.Sprintf("column %q: unsupported pair %s -> %s", e.Column, e.Src, e.Dst)
}

func (e *UnsupportedPairError) Unwrap() error { return ErrUnsupportedPair }

// RowCountMismatchError names the partition whose declared and observed
// row counts disagree.
type RowCountMismatchError struct {
	Partition int
	Declared  int
	Observed  int
}

func (e *RowCountMismatchError) Error() string {
	return fmt.Sprintf("partition %d: declared %d rows, delivered %d", e.Partition, e.Declared, e.Observed)
}

func (e *RowCountMismatchError) Unwrap() error { return ErrRowCountMismatch }
