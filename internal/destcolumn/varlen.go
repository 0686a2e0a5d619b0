package destcolumn

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/cohenjo/transportx/internal/xerrors"
)

// absentLen is the sentinel pushed onto the lengths queue for an absent
// value: a present value's byte length can never legitimately equal it,
// since a single value is bounded by available memory.
const absentLen = int(^uint(0) >> 1) // math.MaxInt without importing math for one constant

// ForeignHandle is an opaque reference into a destination's foreign
// object heap: a Python object, a cgo handle, or (for the in-process
// Arrow-like destination in internal/destination) a plain local
// allocation. The Dispatcher and Transport layers never inspect it;
// only the owning Destination's assembly code does.
type ForeignHandle any

// ForeignHeap models the destination runtime's own allocator for
// variable-length objects. Allocation is not safe to call
// concurrently, so every method below is only ever called while
// holding (or, for WritePlaceholder, having just released) an
// AllocLock.
type ForeignHeap interface {
	// AllocPlaceholder reserves a handle sized for n bytes without
	// copying any payload. Must only be called while the caller holds
	// the AllocLock.
	AllocPlaceholder(n int) (ForeignHandle, error)
	// WritePlaceholder copies payload into a handle obtained from
	// AllocPlaceholder. Safe to call without the AllocLock held: the
	// handle is freshly allocated and not yet visible to any other
	// goroutine.
	WritePlaceholder(h ForeignHandle, payload []byte) error
	// AbsentHandle returns the runtime's null/None singleton handle.
	// May be called with or without the lock held.
	AbsentHandle() ForeignHandle
}

// VarLen is the variable-length (string/bytes) column writer engine:
// values are buffered locally and materialized into the foreign heap
// in batches, two-phase (allocate under the lock, copy payload after
// releasing it) to shorten the critical section.
type VarLen struct {
	heap          ForeignHeap
	lock          *AllocLock
	data          []ForeignHandle
	nextWrite     int
	buf           []byte
	lengths       []int
	threshold     int
	softHalfFlush bool
	finalized     bool
	onFlush       func(trigger string)
	onLockWait    func(d time.Duration)
}

// SetFlushObserver installs a callback invoked after every successful
// flush with "forced" or "opportunistic", letting a caller (e.g.
// internal/telemetry) count flush triggers without this package
// depending on a metrics library.
func (w *VarLen) SetFlushObserver(fn func(trigger string)) {
	w.onFlush = fn
}

// SetLockWaitObserver installs a callback invoked with the time a
// forced flush spent blocked acquiring the allocation lock.
func (w *VarLen) SetLockWaitObserver(fn func(d time.Duration)) {
	w.onLockWait = fn
}

// NewVarLen allocates a writer over exactly rows destination handles.
// threshold is the soft high-water mark for the local payload buffer in
// bytes (bytes columns default to 16 MiB, string columns to 4 MiB).
// softHalfFlush enables the optional non-blocking half-threshold
// opportunistic flush; it changes contention, never observable results,
// and callers should only set it for string columns.
func NewVarLen(heap ForeignHeap, lock *AllocLock, rows, threshold int, softHalfFlush bool) *VarLen {
	capHint := threshold + threshold/10 // pre-size to ~110% to dodge geometric regrowth on slight overshoot
	if capHint <= 0 {
		capHint = 0
	}
	return &VarLen{
		heap:          heap,
		lock:          lock,
		data:          make([]ForeignHandle, rows),
		buf:           make([]byte, 0, capHint),
		threshold:     threshold,
		softHalfFlush: softHalfFlush,
	}
}

// Write queues one value. absent=true records the sentinel length with
// no bytes entering the buffer (ABSENT vs. a genuine empty value: the
// latter pushes length 0 and later materializes a zero-length foreign
// object). Every write may trigger a flush.
func (w *VarLen) Write(payload []byte, absent bool) error {
	if w.finalized {
		return xerrors.ErrWriteAfterFinalize
	}
	if w.nextWrite+len(w.lengths) >= len(w.data) {
		return xerrors.ErrWriteBeyondCapacity
	}
	if absent {
		w.lengths = append(w.lengths, absentLen)
	} else {
		w.buf = append(w.buf, payload...)
		w.lengths = append(w.lengths, len(payload))
	}
	return w.tryFlush()
}

// WriteRune queues one single-character value as its UTF-8 encoding,
// at most four bytes.
func (w *VarLen) WriteRune(r rune) error {
	var buf [utf8.UTFMax]byte
	n := utf8.EncodeRune(buf[:], r)
	return w.Write(buf[:n], false)
}

func (w *VarLen) tryFlush() error {
	if len(w.buf) >= w.threshold {
		return w.flush(true)
	}
	if w.softHalfFlush && w.threshold > 0 && len(w.buf) >= w.threshold/2 {
		return w.flush(false)
	}
	return nil
}

// flush materializes every queued value into the foreign heap. With
// force=false it is a no-op if the allocation lock is contended, rather
// than blocking (the opportunistic nbstr path).
func (w *VarLen) flush(force bool) error {
	n := len(w.lengths)
	if n == 0 {
		return nil
	}

	if force {
		waitStart := time.Now()
		if err := w.lock.Lock(); err != nil {
			return err
		}
		if w.onLockWait != nil {
			w.onLockWait(time.Since(waitStart))
		}
	} else {
		ok, err := w.lock.TryLock()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}

	type pending struct {
		start, end int
		handle     ForeignHandle
	}
	placeholders := make([]pending, 0, n)
	start := 0
	for k, length := range w.lengths {
		if length == absentLen {
			w.data[w.nextWrite+k] = w.heap.AbsentHandle()
			continue
		}
		end := start + length
		h, err := w.heap.AllocPlaceholder(length)
		if err != nil {
			w.lock.Unlock()
			return err
		}
		w.data[w.nextWrite+k] = h
		placeholders = append(placeholders, pending{start, end, h})
		start = end
	}
	// Release the lock before the copy pass: each handle is freshly
	// allocated and not yet visible to any other goroutine, so copying
	// payload bytes into it needs no synchronization.
	w.lock.Unlock()

	for _, p := range placeholders {
		if err := w.heap.WritePlaceholder(p.handle, w.buf[p.start:p.end]); err != nil {
			return err
		}
	}

	w.buf = w.buf[:0]
	w.lengths = w.lengths[:0]
	w.nextWrite += n
	if w.onFlush != nil {
		trigger := "opportunistic"
		if force {
			trigger = "forced"
		}
		w.onFlush(trigger)
	}
	return nil
}

// Finalize flushes any residual buffered values and requires that every
// destination row has been written.
func (w *VarLen) Finalize() error {
	if err := w.flush(true); err != nil {
		return err
	}
	if w.nextWrite != len(w.data) {
		return xerrors.ErrFinalizeIncomplete
	}
	w.finalized = true
	return nil
}

// Split partitions the writer row-wise into disjoint sub-writers over
// the same backing handle slice. Each sub-writer inherits the
// threshold and flush mode and starts with an empty payload buffer.
// Only valid before any Write; the row counts must sum to the writer's
// capacity.
func (w *VarLen) Split(rowCounts []int) ([]*VarLen, error) {
	if w.nextWrite != 0 || len(w.lengths) != 0 {
		return nil, fmt.Errorf("destcolumn: cannot split a writer that has accepted writes")
	}
	total := 0
	for _, n := range rowCounts {
		total += n
	}
	if total != len(w.data) {
		return nil, fmt.Errorf("destcolumn: split row counts sum to %d, writer holds %d rows", total, len(w.data))
	}
	out := make([]*VarLen, len(rowCounts))
	off := 0
	for i, n := range rowCounts {
		sub := NewVarLen(w.heap, w.lock, 0, w.threshold, w.softHalfFlush)
		sub.data = w.data[off : off+n : off+n]
		out[i] = sub
		off += n
	}
	return out, nil
}

// Data returns the backing handle slice.
func (w *VarLen) Data() []ForeignHandle { return w.data }
