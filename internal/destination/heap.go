package destination

import "github.com/cohenjo/transportx/internal/destcolumn"

// localHeap is the in-process stand-in for a foreign object heap: since
// ArrowDestination lives entirely inside this Go process, "allocating a
// foreign object" is just allocating a local byte slice. It still
// implements destcolumn.ForeignHeap's two-phase contract faithfully
// (placeholder sizing under the lock, payload copy released from it) so
// a future cgo/Python-backed Destination can drop in without touching
// destcolumn.
type localHeap struct{}

type localHandle struct {
	data   []byte
	absent bool
}

func (localHeap) AllocPlaceholder(n int) (destcolumn.ForeignHandle, error) {
	return &localHandle{data: make([]byte, n)}, nil
}

func (localHeap) WritePlaceholder(h destcolumn.ForeignHandle, payload []byte) error {
	lh := h.(*localHandle)
	copy(lh.data, payload)
	return nil
}

func (localHeap) AbsentHandle() destcolumn.ForeignHandle {
	return &localHandle{absent: true}
}
