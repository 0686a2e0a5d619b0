// Package mysql implements the MySQL source typesystem, its
// sqlsource.Dialect, and the MySQL to Arrow transport.Table:
// Double maps to Float64, Long/LongLong to Int64, Date to Date32,
// Time to Time64, Datetime to Date64, Decimal to Float64 via a
// fallible string parse, VarChar to LargeUtf8, and Char is declared
// but unsupported (policy=none).
package mysql

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/cohenjo/transportx/internal/destination"
	"github.com/cohenjo/transportx/internal/transport"
	"github.com/cohenjo/transportx/internal/typesystem"
	"github.com/cohenjo/transportx/internal/xerrors"
)

// DriverName is the database/sql driver name this dialect's sqlsource
// connections should open with, registered by the blank import above.
const DriverName = "mysql"

// Tag enumerates MySQL's source-side carrier tags.
type Tag int

const (
	TagInvalid Tag = iota
	TagDouble
	TagLong
	TagLongLong
	TagDate
	TagTime
	TagDatetime
	TagDecimal
	TagVarChar
	TagChar
)

func (t Tag) String() string {
	switch t {
	case TagDouble:
		return "Double"
	case TagLong:
		return "Long"
	case TagLongLong:
		return "LongLong"
	case TagDate:
		return "Date"
	case TagTime:
		return "Time"
	case TagDatetime:
		return "Datetime"
	case TagDecimal:
		return "Decimal"
	case TagVarChar:
		return "VarChar"
	case TagChar:
		return "Char"
	default:
		return "Invalid"
	}
}

func (t Tag) Carrier() typesystem.Carrier {
	switch t {
	case TagDouble:
		return typesystem.CarrierFloat64
	case TagLong, TagLongLong:
		return typesystem.CarrierInt64
	case TagDate:
		return typesystem.CarrierDate32
	case TagTime:
		return typesystem.CarrierTime64
	case TagDatetime:
		return typesystem.CarrierDate64
	// Decimal carries the driver's exact string form; the fallible
	// parse to float64 belongs to the transport-layer conversion, not
	// the parser.
	case TagDecimal, TagVarChar, TagChar:
		return typesystem.CarrierString
	default:
		return typesystem.CarrierInvalid
	}
}

// mysqlTag wraps Tag with its per-column nullability so it satisfies
// typesystem.Tag, whose Nullable query the source schema demands
// per-column, not per-type.
type mysqlTag struct {
	tag      Tag
	nullable bool
}

func (t mysqlTag) String() string              { return t.tag.String() }
func (t mysqlTag) Carrier() typesystem.Carrier { return t.tag.Carrier() }
func (t mysqlTag) Nullable() bool              { return t.nullable }

// TypeSystem is the typesystem.System for MySQL's source tags.
type TypeSystem struct{}

func (TypeSystem) Name() string { return "mysql" }

func (TypeSystem) Tags() []typesystem.Tag {
	return []typesystem.Tag{
		mysqlTag{tag: TagDouble}, mysqlTag{tag: TagLong}, mysqlTag{tag: TagLongLong},
		mysqlTag{tag: TagDate}, mysqlTag{tag: TagTime}, mysqlTag{tag: TagDatetime},
		mysqlTag{tag: TagDecimal}, mysqlTag{tag: TagVarChar}, mysqlTag{tag: TagChar},
	}
}

// Dialect implements sqlsource.Dialect for the go-sql-driver/mysql
// driver.
type Dialect struct{}

func (Dialect) Name() string { return "mysql" }

func (Dialect) ColumnTag(databaseTypeName string, nullable bool) (typesystem.Tag, error) {
	var tag Tag
	switch strings.ToUpper(databaseTypeName) {
	case "DOUBLE", "FLOAT":
		tag = TagDouble
	case "INT", "MEDIUMINT", "SMALLINT", "TINYINT":
		tag = TagLong
	case "BIGINT":
		tag = TagLongLong
	case "DATE":
		tag = TagDate
	case "TIME":
		tag = TagTime
	case "DATETIME", "TIMESTAMP":
		tag = TagDatetime
	case "DECIMAL":
		tag = TagDecimal
	case "VARCHAR", "TEXT", "LONGTEXT", "MEDIUMTEXT", "TINYTEXT":
		tag = TagVarChar
	case "CHAR":
		tag = TagChar
	default:
		return nil, fmt.Errorf("mysql: unrecognized column type %q", databaseTypeName)
	}
	return mysqlTag{tag: tag, nullable: nullable}, nil
}

func (Dialect) ScanCell(tag typesystem.Tag, raw any) (any, bool, error) {
	mt, ok := tag.(mysqlTag)
	if !ok {
		return nil, false, fmt.Errorf("mysql: unexpected tag type %T", tag)
	}
	if raw == nil {
		return nil, true, nil
	}

	switch mt.tag {
	case TagDouble:
		f, err := asFloat64(raw)
		return f, false, err
	case TagLong, TagLongLong:
		n, err := asInt64(raw)
		return n, false, err
	case TagDate, TagDatetime:
		t, err := asTime(raw)
		return t, false, err
	case TagTime:
		d, err := asDuration(raw)
		return d, false, err
	case TagDecimal, TagVarChar, TagChar:
		s, err := asString(raw)
		return s, false, err
	default:
		return nil, false, fmt.Errorf("mysql: unsupported tag %s", mt.tag)
	}
}

func asFloat64(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case []byte:
		return strconv.ParseFloat(string(v), 64)
	case string:
		return strconv.ParseFloat(v, 64)
	default:
		return 0, fmt.Errorf("mysql: cannot convert %T to float64", raw)
	}
}

func asInt64(raw any) (int64, error) {
	switch v := raw.(type) {
	case int64:
		return v, nil
	case []byte:
		return strconv.ParseInt(string(v), 10, 64)
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("mysql: cannot convert %T to int64", raw)
	}
}

func asString(raw any) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return "", fmt.Errorf("mysql: cannot convert %T to string", raw)
	}
}

func asTime(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case time.Time:
		return v, nil
	case []byte:
		return parseMySQLTime(string(v))
	case string:
		return parseMySQLTime(v)
	default:
		return time.Time{}, fmt.Errorf("mysql: cannot convert %T to time.Time", raw)
	}
}

func parseMySQLTime(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("mysql: cannot parse time value %q", s)
}

func asDuration(raw any) (time.Duration, error) {
	switch v := raw.(type) {
	case time.Duration:
		return v, nil
	case []byte:
		return parseMySQLDuration(string(v))
	case string:
		return parseMySQLDuration(v)
	default:
		return 0, fmt.Errorf("mysql: cannot convert %T to duration", raw)
	}
}

func parseMySQLDuration(s string) (time.Duration, error) {
	var h, m, sec int
	if _, err := fmt.Sscanf(s, "%d:%d:%d", &h, &m, &sec); err != nil {
		return 0, fmt.Errorf("mysql: cannot parse time-of-day value %q: %w", s, err)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second, nil
}

// NewTransportTable builds the MySQL to Arrow transport.Table:
// Double/Decimal map to Float64 (Decimal via a fallible conversion
// from the driver's decimal string form), Long/LongLong to Int64,
// Date to Date32, Time to Time64, Datetime to Date64, VarChar to
// LargeUtf8 as an identity copy, and Char to LargeUtf8 declared
// unsupported (policy=none).
func NewTransportTable() *transport.Table {
	mappings := []transport.Mapping{
		{Src: mysqlTag{tag: TagDouble}, Dst: destination.ArrowFloat64, Policy: transport.PolicyAuto},
		{Src: mysqlTag{tag: TagLong}, Dst: destination.ArrowInt64, Policy: transport.PolicyAuto},
		{Src: mysqlTag{tag: TagLongLong}, Dst: destination.ArrowInt64, Policy: transport.PolicyAuto},
		{Src: mysqlTag{tag: TagDate}, Dst: destination.ArrowDate32, Policy: transport.PolicyAuto},
		{Src: mysqlTag{tag: TagTime}, Dst: destination.ArrowTime64, Policy: transport.PolicyAuto},
		{Src: mysqlTag{tag: TagDatetime}, Dst: destination.ArrowDate64, Policy: transport.PolicyAuto},
		{Src: mysqlTag{tag: TagDecimal}, Dst: destination.ArrowFloat64, Policy: transport.PolicyOption, Convert: decimalToFloat64},
		{Src: mysqlTag{tag: TagVarChar}, Dst: destination.ArrowLargeUtf8, Policy: transport.PolicyAuto},
		{Src: mysqlTag{tag: TagChar}, Dst: destination.ArrowLargeUtf8, Policy: transport.PolicyNone},
	}
	return transport.NewTable("mysql_to_arrow", mappings)
}

func decimalToFloat64(src any) (any, error) {
	s, ok := src.(string)
	if !ok {
		return nil, xerrors.ErrConversionFailed
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("mysql: decimal %q not representable as float64: %w", s, err)
	}
	return f, nil
}
