package destcolumn

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cohenjo/transportx/internal/xerrors"
)

// fakeHeap is an in-process ForeignHeap used only to exercise VarLen's
// two-phase allocate/copy protocol in tests; it has no analog to a real
// foreign runtime's GIL.
type fakeHeap struct {
	mu       sync.Mutex
	allocs   int
	absentID ForeignHandle
}

type fakeHandle struct {
	buf []byte
}

func newFakeHeap() *fakeHeap {
	return &fakeHeap{absentID: &fakeHandle{buf: nil}}
}

func (h *fakeHeap) AllocPlaceholder(n int) (ForeignHandle, error) {
	h.mu.Lock()
	h.allocs++
	h.mu.Unlock()
	return &fakeHandle{buf: make([]byte, n)}, nil
}

func (h *fakeHeap) WritePlaceholder(handle ForeignHandle, payload []byte) error {
	fh := handle.(*fakeHandle)
	if len(fh.buf) != len(payload) {
		return fmt.Errorf("placeholder sized %d, payload %d", len(fh.buf), len(payload))
	}
	copy(fh.buf, payload)
	return nil
}

func (h *fakeHeap) AbsentHandle() ForeignHandle { return h.absentID }

func strOf(t *testing.T, h ForeignHandle) (string, bool) {
	t.Helper()
	fh, ok := h.(*fakeHandle)
	require.True(t, ok)
	if fh.buf == nil {
		return "", true
	}
	return string(fh.buf), false
}

func TestVarLenUTF8Boundary(t *testing.T) {
	heap := newFakeHeap()
	lock := NewAllocLock()
	w := NewVarLen(heap, lock, 3, 1<<20, false)

	require.NoError(t, w.Write([]byte("héllo"), false))
	require.NoError(t, w.Write([]byte("\U0001F600"), false)) // 4-byte code point
	require.NoError(t, w.Write(nil, true))
	require.NoError(t, w.Finalize())

	s0, absent0 := strOf(t, w.Data()[0])
	assert.False(t, absent0)
	assert.Equal(t, "héllo", s0)

	s1, absent1 := strOf(t, w.Data()[1])
	assert.False(t, absent1)
	assert.Equal(t, "\U0001F600", s1)

	_, absent2 := strOf(t, w.Data()[2])
	assert.True(t, absent2)
}

func TestVarLenEmptyVsAbsent(t *testing.T) {
	heap := newFakeHeap()
	lock := NewAllocLock()
	w := NewVarLen(heap, lock, 2, 1<<20, false)

	require.NoError(t, w.Write([]byte{}, false)) // present, zero-length
	require.NoError(t, w.Write(nil, true))       // absent
	require.NoError(t, w.Finalize())

	s0, absent0 := strOf(t, w.Data()[0])
	assert.False(t, absent0)
	assert.Equal(t, "", s0)

	_, absent1 := strOf(t, w.Data()[1])
	assert.True(t, absent1)
}

func TestVarLenZeroThresholdFlushesEveryWrite(t *testing.T) {
	heap := newFakeHeap()
	lock := NewAllocLock()
	w := NewVarLen(heap, lock, 3, 0, false)

	require.NoError(t, w.Write([]byte("a"), false))
	assert.Equal(t, 1, w.nextWrite, "threshold=0 forces a flush on every write")
	require.NoError(t, w.Write([]byte("bb"), false))
	assert.Equal(t, 2, w.nextWrite)
	require.NoError(t, w.Write([]byte("ccc"), false))
	require.NoError(t, w.Finalize())

	s0, _ := strOf(t, w.Data()[0])
	s1, _ := strOf(t, w.Data()[1])
	s2, _ := strOf(t, w.Data()[2])
	assert.Equal(t, []string{"a", "bb", "ccc"}, []string{s0, s1, s2})
}

func TestVarLenForcedFlushIsIdempotent(t *testing.T) {
	heap := newFakeHeap()
	lock := NewAllocLock()
	w := NewVarLen(heap, lock, 1, 1<<20, false)
	require.NoError(t, w.Write([]byte("x"), false))

	require.NoError(t, w.flush(true))
	allocsAfterFirst := heap.allocs

	require.NoError(t, w.flush(true))
	assert.Equal(t, allocsAfterFirst, heap.allocs, "second forced flush must allocate nothing")
	assert.Equal(t, 1, w.nextWrite)
}

func TestVarLenThresholdBoundaryFlushesOnCrossingWrite(t *testing.T) {
	heap := newFakeHeap()
	lock := NewAllocLock()
	w := NewVarLen(heap, lock, 2, 4, false) // threshold exactly equals first value's length

	require.NoError(t, w.Write([]byte("abcd"), false)) // len == threshold, flush triggers
	assert.Equal(t, 1, w.nextWrite)
	require.NoError(t, w.Write([]byte("e"), false))
	require.NoError(t, w.Finalize())
	assert.Equal(t, 2, w.nextWrite)
}

func TestVarLenZeroRowsFinalizesImmediately(t *testing.T) {
	heap := newFakeHeap()
	lock := NewAllocLock()
	w := NewVarLen(heap, lock, 0, 1<<20, false)
	require.NoError(t, w.Finalize())
	assert.Equal(t, 0, heap.allocs)
}

// 1000 rows of mixed present/absent values whose running total crosses
// the threshold on exactly one write: that write forces a flush, and
// Finalize flushes the residual afterwards.
func TestVarLenSingleForcedFlushAtThresholdCrossing(t *testing.T) {
	heap := newFakeHeap()
	lock := NewAllocLock()
	const rows = 1000
	const threshold = 640
	w := NewVarLen(heap, lock, rows, threshold, false)

	var forced int
	w.SetFlushObserver(func(trigger string) {
		require.Equal(t, "forced", trigger)
		forced++
	})

	payload := []byte("x")
	buffered := 0
	crossed := false
	for i := 0; i < rows; i++ {
		if i%3 == 2 {
			require.NoError(t, w.Write(nil, true))
			continue
		}
		require.NoError(t, w.Write(payload, false))
		buffered++
		if !crossed && buffered >= threshold {
			crossed = true
			assert.Equal(t, 1, forced, "flush fires on the crossing write")
			assert.Equal(t, i+1, w.nextWrite, "everything queued so far is drained")
			buffered = 0
		}
	}
	require.NoError(t, w.Finalize())
	assert.Equal(t, rows, w.nextWrite)

	// one flush per threshold crossing plus the finalize residual
	totalPresent := 0
	for i := 0; i < rows; i++ {
		if i%3 != 2 {
			totalPresent++
		}
	}
	assert.Equal(t, totalPresent/threshold+1, forced)

	for i := 0; i < rows; i++ {
		s, absent := strOf(t, w.Data()[i])
		if i%3 == 2 {
			assert.True(t, absent, "row %d", i)
		} else {
			assert.Equal(t, "x", s, "row %d", i)
		}
	}
}

func TestVarLenWriteRuneEncodesUTF8(t *testing.T) {
	heap := newFakeHeap()
	lock := NewAllocLock()
	w := NewVarLen(heap, lock, 3, 1<<20, false)

	require.NoError(t, w.WriteRune('a'))
	require.NoError(t, w.WriteRune('é'))
	require.NoError(t, w.WriteRune('\U0001F600'))
	require.NoError(t, w.Finalize())

	s0, _ := strOf(t, w.Data()[0])
	s1, _ := strOf(t, w.Data()[1])
	s2, _ := strOf(t, w.Data()[2])
	assert.Equal(t, "a", s0)
	assert.Equal(t, "é", s1)
	assert.Equal(t, "\U0001F600", s2)
}

func TestVarLenWriteAfterFinalizeIsFatal(t *testing.T) {
	heap := newFakeHeap()
	lock := NewAllocLock()
	w := NewVarLen(heap, lock, 1, 1<<20, false)
	require.NoError(t, w.Write([]byte("x"), false))
	require.NoError(t, w.Finalize())
	assert.ErrorIs(t, w.Write([]byte("y"), false), xerrors.ErrWriteAfterFinalize)
}

func TestVarLenWriteBeyondCapacity(t *testing.T) {
	heap := newFakeHeap()
	lock := NewAllocLock()
	w := NewVarLen(heap, lock, 1, 1<<20, false)
	require.NoError(t, w.Write([]byte("x"), false))
	assert.ErrorIs(t, w.Write([]byte("y"), false), xerrors.ErrWriteBeyondCapacity)
}

func TestVarLenSoftHalfFlushDrainsWhenLockFree(t *testing.T) {
	heap := newFakeHeap()
	lock := NewAllocLock()
	w := NewVarLen(heap, lock, 4, 8, true)

	var triggers []string
	w.SetFlushObserver(func(trigger string) { triggers = append(triggers, trigger) })

	require.NoError(t, w.Write([]byte("abcd"), false)) // crosses threshold/2, lock free
	assert.Equal(t, []string{"opportunistic"}, triggers)
	assert.Equal(t, 1, w.nextWrite)
}

func TestVarLenSoftHalfFlushSkipsWhenLockContended(t *testing.T) {
	heap := newFakeHeap()
	lock := NewAllocLock()
	w := NewVarLen(heap, lock, 1, 8, true)

	require.NoError(t, lock.Lock())
	require.NoError(t, w.Write([]byte("abcd"), false)) // half threshold, contended: skip
	assert.Equal(t, 0, w.nextWrite)
	lock.Unlock()

	require.NoError(t, w.Finalize()) // forced flush drains the skipped value
	assert.Equal(t, 1, w.nextWrite)
}

func TestVarLenSplitYieldsRowDisjointSubWriters(t *testing.T) {
	heap := newFakeHeap()
	lock := NewAllocLock()
	w := NewVarLen(heap, lock, 5, 1<<20, false)

	subs, err := w.Split([]int{2, 3})
	require.NoError(t, err)
	require.Len(t, subs, 2)

	require.NoError(t, subs[0].Write([]byte("a"), false))
	require.NoError(t, subs[0].Write(nil, true))
	require.NoError(t, subs[0].Finalize())

	require.NoError(t, subs[1].Write([]byte("b"), false))
	require.NoError(t, subs[1].Write([]byte("c"), false))
	require.NoError(t, subs[1].Write([]byte("d"), false))
	require.NoError(t, subs[1].Finalize())

	want := []struct {
		s      string
		absent bool
	}{{"a", false}, {"", true}, {"b", false}, {"c", false}, {"d", false}}
	for i, expect := range want {
		s, absent := strOf(t, w.Data()[i])
		assert.Equal(t, expect.absent, absent, "row %d", i)
		if !expect.absent {
			assert.Equal(t, expect.s, s, "row %d", i)
		}
	}
}

func TestVarLenSplitRejectsMismatchedRowCounts(t *testing.T) {
	heap := newFakeHeap()
	lock := NewAllocLock()
	w := NewVarLen(heap, lock, 5, 1<<20, false)
	_, err := w.Split([]int{2, 2})
	assert.Error(t, err)
}

func TestVarLenSplitRejectsStartedWriter(t *testing.T) {
	heap := newFakeHeap()
	lock := NewAllocLock()
	w := NewVarLen(heap, lock, 5, 1<<20, false)
	require.NoError(t, w.Write([]byte("x"), false))
	_, err := w.Split([]int{2, 3})
	assert.Error(t, err)
}

func TestVarLenAllocLockPoisonedIsFatal(t *testing.T) {
	heap := newFakeHeap()
	lock := NewAllocLock()
	lock.Poison()
	w := NewVarLen(heap, lock, 1, 1<<20, false)
	err := w.Write([]byte("x"), false)
	assert.NoError(t, err) // below threshold, no flush attempted yet
	err = w.Finalize()
	assert.ErrorContains(t, err, "poisoned")
}
