package destcolumn

import "github.com/cohenjo/transportx/internal/xerrors"

// FixedWidth is the masked fixed-width column writer engine: a
// contiguous values slice plus an optional validity mask, with a
// monotonic write cursor. Boolean masks encode null-as-true: mask[i]
// == true means the value at i is absent and data[i] must never be
// inspected by a caller.
type FixedWidth[T any] struct {
	data      []T
	mask      []bool
	cursor    int
	nullable  bool
	finalized bool
}

// NewFixedWidth allocates a writer over exactly rows elements. The
// mask is only allocated when nullable is true.
func NewFixedWidth[T any](rows int, nullable bool) *FixedWidth[T] {
	w := &FixedWidth[T]{
		data:     make([]T, rows),
		nullable: nullable,
	}
	if nullable {
		w.mask = make([]bool, rows)
	}
	return w
}

// Write appends one value, advancing the cursor by one row. absent
// writes the nullability sentinel into the mask (nullable columns) or
// fails with ErrNullInNonNullable (non-nullable columns); the backing
// data slot for an absent row is left at its zero value and must not be
// read by callers.
func (w *FixedWidth[T]) Write(value T, absent bool) error {
	if w.finalized {
		return xerrors.ErrWriteAfterFinalize
	}
	if w.cursor >= len(w.data) {
		return xerrors.ErrWriteBeyondCapacity
	}
	if absent {
		if !w.nullable {
			return xerrors.ErrNullInNonNullable
		}
		w.mask[w.cursor] = true
	} else {
		if w.nullable {
			w.mask[w.cursor] = false
		}
		w.data[w.cursor] = value
	}
	w.cursor++
	return nil
}

// Finalize requires the cursor to have reached the partition's row
// count and transitions the writer to the finalized state. Every
// writer goes through this call; there is no skip path for the
// fixed-width engine.
func (w *FixedWidth[T]) Finalize() error {
	if w.cursor != len(w.data) {
		return xerrors.ErrFinalizeIncomplete
	}
	w.finalized = true
	return nil
}

// Data returns the backing values slice. Entries at positions where
// Mask (if present) is true are unspecified.
func (w *FixedWidth[T]) Data() []T { return w.data }

// Mask returns the validity mask, or nil if the column is not nullable.
func (w *FixedWidth[T]) Mask() []bool { return w.mask }
