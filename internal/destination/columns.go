package destination

import (
	"fmt"
	"time"

	"github.com/cohenjo/transportx/internal/destcolumn"
	"github.com/cohenjo/transportx/internal/telemetry"
	"github.com/cohenjo/transportx/internal/xerrors"
)

// Default flush thresholds for variable-length columns.
const (
	bytesColumnThreshold  = 16 << 20
	stringColumnThreshold = 4 << 20
)

// columnBuilder is a ColumnWriter that additionally knows how to
// snapshot itself into a finished Column. It is the Destination
// package's private bridge between destcolumn's engines and the
// exported ColumnWriter/Column types.
type columnBuilder interface {
	ColumnWriter
	snapshot(name string) Column
}

type fixedWidthBuilder[T any] struct {
	w *destcolumn.FixedWidth[T]
}

func (b *fixedWidthBuilder[T]) WriteValue(v any, absent bool) error {
	if absent {
		var zero T
		return b.w.Write(zero, true)
	}
	tv, ok := v.(T)
	if !ok {
		return xerrors.ErrCarrierMismatch
	}
	return b.w.Write(tv, false)
}

func (b *fixedWidthBuilder[T]) Finalize() error { return b.w.Finalize() }

func (b *fixedWidthBuilder[T]) snapshot(name string) Column {
	return Column{
		Name:   name,
		Values: append([]T(nil), b.w.Data()...),
		Mask:   b.w.Mask(),
	}
}

type varlenBuilder struct {
	w        *destcolumn.VarLen
	nullable bool
	toBytes  func(any) ([]byte, error)
	decode   func([]destcolumn.ForeignHandle) any
}

func (b *varlenBuilder) WriteValue(v any, absent bool) error {
	if absent {
		if !b.nullable {
			return xerrors.ErrNullInNonNullable
		}
		return b.w.Write(nil, true)
	}
	payload, err := b.toBytes(v)
	if err != nil {
		return err
	}
	return b.w.Write(payload, false)
}

func (b *varlenBuilder) Finalize() error { return b.w.Finalize() }

func (b *varlenBuilder) snapshot(name string) Column {
	handles := b.w.Data()
	if !b.nullable {
		return Column{Name: name, Values: b.decode(handles)}
	}
	mask := make([]bool, len(handles))
	for i, h := range handles {
		if h.(*localHandle).absent {
			mask[i] = true
		}
	}
	return Column{Name: name, Values: b.decode(handles), Mask: mask}
}

func decodeStrings(handles []destcolumn.ForeignHandle) any {
	out := make([]string, len(handles))
	for i, h := range handles {
		lh := h.(*localHandle)
		if !lh.absent {
			out[i] = string(lh.data)
		}
	}
	return out
}

func decodeBytes(handles []destcolumn.ForeignHandle) any {
	out := make([][]byte, len(handles))
	for i, h := range handles {
		lh := h.(*localHandle)
		if !lh.absent {
			out[i] = append([]byte(nil), lh.data...)
		}
	}
	return out
}

func stringToBytes(v any) ([]byte, error) {
	s, ok := v.(string)
	if !ok {
		return nil, xerrors.ErrCarrierMismatch
	}
	return []byte(s), nil
}

func bytesToBytes(v any) ([]byte, error) {
	b, ok := v.([]byte)
	if !ok {
		return nil, xerrors.ErrCarrierMismatch
	}
	return b, nil
}

// Options configures the per-column writers an ArrowDestination builds.
type Options struct {
	// BytesThreshold overrides the default 16 MiB flush threshold for
	// LargeBinary columns. Zero or a negative value uses the default.
	BytesThreshold int
	// StringThreshold overrides the default 4 MiB flush threshold for
	// LargeUtf8 columns.
	StringThreshold int
	// NonBlockingHalfFlush enables the opportunistic half-threshold
	// flush for string columns only (the "nbstr" feature toggle).
	NonBlockingHalfFlush bool
	// Metrics, if set, receives a RecordFlush call for every
	// variable-length column flush.
	Metrics *telemetry.Metrics
}

func (o Options) bytesThreshold() int {
	if o.BytesThreshold > 0 {
		return o.BytesThreshold
	}
	return bytesColumnThreshold
}

func (o Options) stringThreshold() int {
	if o.StringThreshold > 0 {
		return o.StringThreshold
	}
	return stringColumnThreshold
}

func newColumnBuilder(cs ColumnSchema, rows int, lock *destcolumn.AllocLock, opts Options) (columnBuilder, error) {
	tag, ok := cs.DstTag.(ArrowTag)
	if !ok {
		return nil, fmt.Errorf("destination: unsupported destination tag type %T for column %q", cs.DstTag, cs.Name)
	}
	switch tag {
	case ArrowInt64:
		return &fixedWidthBuilder[int64]{w: destcolumn.NewFixedWidth[int64](rows, cs.Nullable)}, nil
	case ArrowFloat64:
		return &fixedWidthBuilder[float64]{w: destcolumn.NewFixedWidth[float64](rows, cs.Nullable)}, nil
	case ArrowBoolean:
		return &fixedWidthBuilder[bool]{w: destcolumn.NewFixedWidth[bool](rows, cs.Nullable)}, nil
	case ArrowDate32, ArrowDate64:
		return &fixedWidthBuilder[time.Time]{w: destcolumn.NewFixedWidth[time.Time](rows, cs.Nullable)}, nil
	case ArrowTime64:
		return &fixedWidthBuilder[time.Duration]{w: destcolumn.NewFixedWidth[time.Duration](rows, cs.Nullable)}, nil
	case ArrowLargeUtf8:
		w := destcolumn.NewVarLen(localHeap{}, lock, rows, opts.stringThreshold(), opts.NonBlockingHalfFlush)
		if opts.Metrics != nil {
			w.SetFlushObserver(opts.Metrics.RecordFlush)
			w.SetLockWaitObserver(opts.Metrics.ObserveAllocLockWait)
		}
		return &varlenBuilder{w: w, nullable: cs.Nullable, toBytes: stringToBytes, decode: decodeStrings}, nil
	case ArrowLargeBinary:
		w := destcolumn.NewVarLen(localHeap{}, lock, rows, opts.bytesThreshold(), false)
		if opts.Metrics != nil {
			w.SetFlushObserver(opts.Metrics.RecordFlush)
			w.SetLockWaitObserver(opts.Metrics.ObserveAllocLockWait)
		}
		return &varlenBuilder{w: w, nullable: cs.Nullable, toBytes: bytesToBytes, decode: decodeBytes}, nil
	default:
		return nil, fmt.Errorf("destination: unsupported destination tag %s for column %q", tag, cs.Name)
	}
}
