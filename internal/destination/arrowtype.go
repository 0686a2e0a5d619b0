package destination

import "github.com/cohenjo/transportx/internal/typesystem"

// ArrowTag is the destination typesystem.Tag enumeration: a closed set
// of Arrow-flavored logical types backing this package's in-memory
// columnar engine.
type ArrowTag struct {
	name    string
	carrier typesystem.Carrier
}

func (t ArrowTag) String() string { return t.name }

func (t ArrowTag) Carrier() typesystem.Carrier { return t.carrier }

// Nullable reports the tag's declared default. Whether a specific
// schema column actually accepts absent values is controlled by
// ColumnSchema.Nullable, set from the source metadata; this flag exists
// for symmetry with source type systems whose tags may decline
// nullability outright.
func (t ArrowTag) Nullable() bool { return true }

// The closed Arrow destination tag set.
var (
	ArrowInt64       = ArrowTag{name: "Int64", carrier: typesystem.CarrierInt64}
	ArrowFloat64     = ArrowTag{name: "Float64", carrier: typesystem.CarrierFloat64}
	ArrowBoolean     = ArrowTag{name: "Boolean", carrier: typesystem.CarrierBool}
	ArrowDate32      = ArrowTag{name: "Date32", carrier: typesystem.CarrierDate32}
	ArrowDate64      = ArrowTag{name: "Date64", carrier: typesystem.CarrierDate64}
	ArrowTime64      = ArrowTag{name: "Time64", carrier: typesystem.CarrierTime64}
	ArrowLargeUtf8   = ArrowTag{name: "LargeUtf8", carrier: typesystem.CarrierString}
	ArrowLargeBinary = ArrowTag{name: "LargeBinary", carrier: typesystem.CarrierBytes}
)

// ArrowTypeSystem enumerates every ArrowTag.
type ArrowTypeSystem struct{}

func (ArrowTypeSystem) Name() string { return "arrow" }

func (ArrowTypeSystem) Tags() []typesystem.Tag {
	return []typesystem.Tag{
		ArrowInt64, ArrowFloat64, ArrowBoolean,
		ArrowDate32, ArrowDate64, ArrowTime64,
		ArrowLargeUtf8, ArrowLargeBinary,
	}
}
