// Package typesystem defines the closed carrier-type enumeration shared
// by every source and destination dialect, and the Tag interface a
// dialect-specific type enum must satisfy to participate in a Transport
// mapping.
package typesystem

import "fmt"

// Carrier enumerates the physical Go value shapes a Parser can produce
// for a cell, or a destination column can store. A Tag always resolves
// to exactly one Carrier; the pair (SrcTag, DstTag) in a Transport
// mapping is only valid when a declared conversion bridges their
// carriers (see internal/transport).
type Carrier int

const (
	CarrierInvalid Carrier = iota
	CarrierBool
	CarrierInt64
	CarrierFloat64
	CarrierString
	CarrierBytes
	CarrierDate32
	CarrierDate64
	CarrierTime64
)

func (c Carrier) String() string {
	switch c {
	case CarrierBool:
		return "Bool"
	case CarrierInt64:
		return "Int64"
	case CarrierFloat64:
		return "Float64"
	case CarrierString:
		return "String"
	case CarrierBytes:
		return "Bytes"
	case CarrierDate32:
		return "Date32"
	case CarrierDate64:
		return "Date64"
	case CarrierTime64:
		return "Time64"
	default:
		return fmt.Sprintf("Carrier(%d)", int(c))
	}
}

// Tag identifies one member of a source or destination dialect's closed
// type enumeration. Nullability is orthogonal to the carrier: a nullable
// tag's carrier gains an "absent" sentinel at the value-transport layer
// rather than at the type layer (see destcolumn and source.Parser).
type Tag interface {
	fmt.Stringer
	// Carrier reports the physical type the tag's values are produced
	// or stored as.
	Carrier() Carrier
	// Nullable reports whether a cell declared with this tag may be
	// absent.
	Nullable() bool
}

// System is a finite enumeration of Tags belonging to one dialect. It is
// immutable after construction and may be shared freely across worker
// goroutines.
type System interface {
	// Name identifies the dialect, e.g. "mysql" or "arrow".
	Name() string
	// Tags returns every Tag the dialect declares.
	Tags() []Tag
}
