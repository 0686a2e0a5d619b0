// Package mongo implements a document-flavored source.Source over
// go.mongodb.org/mongo-driver. Unlike SQL, a MongoDB collection
// carries no declared column schema, so the schema here is supplied by
// the caller as a fixed projection of (field name, BSON type) pairs:
// the same role a relational source's projected schema plays, just
// sourced from configuration instead of driver metadata.
package mongo

import (
	"context"
	"fmt"
	"io"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/cohenjo/transportx/internal/source"
	"github.com/cohenjo/transportx/internal/typesystem"
	"github.com/cohenjo/transportx/internal/xerrors"
)

// Tag enumerates the BSON field shapes this dialect bridges.
type Tag int

const (
	TagInvalid Tag = iota
	TagInt64
	TagDouble
	TagString
	TagBool
	TagDateTime
	TagObjectID
)

func (t Tag) String() string {
	switch t {
	case TagInt64:
		return "Int64"
	case TagDouble:
		return "Double"
	case TagString:
		return "String"
	case TagBool:
		return "Bool"
	case TagDateTime:
		return "DateTime"
	case TagObjectID:
		return "ObjectID"
	default:
		return "Invalid"
	}
}

func (t Tag) Carrier() typesystem.Carrier {
	switch t {
	case TagInt64:
		return typesystem.CarrierInt64
	case TagDouble:
		return typesystem.CarrierFloat64
	case TagString, TagObjectID:
		return typesystem.CarrierString
	case TagBool:
		return typesystem.CarrierBool
	case TagDateTime:
		return typesystem.CarrierDate64
	default:
		return typesystem.CarrierInvalid
	}
}

type mongoTag struct {
	tag      Tag
	nullable bool
}

func (t mongoTag) String() string              { return t.tag.String() }
func (t mongoTag) Carrier() typesystem.Carrier { return t.tag.Carrier() }
func (t mongoTag) Nullable() bool              { return t.nullable }

// TypeSystem is the typesystem.System for Mongo's source tags.
type TypeSystem struct{}

func (TypeSystem) Name() string { return "mongo" }
func (TypeSystem) Tags() []typesystem.Tag {
	return []typesystem.Tag{
		mongoTag{tag: TagInt64}, mongoTag{tag: TagDouble}, mongoTag{tag: TagString},
		mongoTag{tag: TagBool}, mongoTag{tag: TagDateTime}, mongoTag{tag: TagObjectID},
	}
}

// FieldSpec declares one projected field of the fixed document schema.
type FieldSpec struct {
	Name     string
	Tag      Tag
	Nullable bool
}

// Config configures a Source's connection and fixed projection.
type Config struct {
	URI        string
	Database   string
	Collection string
	Fields     []FieldSpec
}

// Source is a document-flavored source.Source: one partition per
// query string, where a query string is a filter document in MongoDB
// Extended JSON, parsed and passed to the collection's Find (an empty
// string matches every document).
type Source struct {
	cfg     Config
	queries []string
	schema  source.Schema
}

func New(cfg Config) *Source { return &Source{cfg: cfg} }

func (s *Source) SetQueries(queries []string) { s.queries = append([]string(nil), queries...) }

func (s *Source) Schema() source.Schema { return s.schema }

func (s *Source) FetchMetadata(context.Context) (source.Schema, error) {
	cols := make([]source.ColumnMeta, len(s.cfg.Fields))
	for i, f := range s.cfg.Fields {
		cols[i] = source.ColumnMeta{Name: f.Name, Tag: mongoTag{tag: f.Tag, nullable: f.Nullable}, Nullable: f.Nullable}
	}
	s.schema = source.Schema{Columns: cols}
	return s.schema, nil
}

func (s *Source) Partition(context.Context) ([]source.Partition, error) {
	if len(s.schema.Columns) == 0 {
		return nil, fmt.Errorf("mongo: FetchMetadata must be called before Partition")
	}
	parts := make([]source.Partition, len(s.queries))
	for i, q := range s.queries {
		parts[i] = &mongoPartition{src: s, filterJSON: q}
	}
	return parts, nil
}

type mongoPartition struct {
	src        *Source
	filterJSON string

	client *mongo.Client
	cursor *mongo.Cursor
	nrows  int
}

func (p *mongoPartition) Prepare(ctx context.Context) error {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(p.src.cfg.URI))
	if err != nil {
		return &xerrors.SourceError{Dialect: "mongo", Op: "connect", Cause: err}
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return &xerrors.SourceError{Dialect: "mongo", Op: "ping", Cause: err}
	}
	p.client = client

	var filter bson.M
	if p.filterJSON == "" {
		filter = bson.M{}
	} else if err := bson.UnmarshalExtJSON([]byte(p.filterJSON), true, &filter); err != nil {
		client.Disconnect(ctx)
		return &xerrors.SourceError{Dialect: "mongo", Op: "parse_filter", Cause: err}
	}

	coll := client.Database(p.src.cfg.Database).Collection(p.src.cfg.Collection)
	n, err := coll.CountDocuments(ctx, filter)
	if err != nil {
		client.Disconnect(ctx)
		return &xerrors.SourceError{Dialect: "mongo", Op: "count", Cause: err}
	}
	p.nrows = int(n)

	cur, err := coll.Find(ctx, filter)
	if err != nil {
		client.Disconnect(ctx)
		return &xerrors.SourceError{Dialect: "mongo", Op: "find", Cause: err}
	}
	p.cursor = cur
	return nil
}

func (p *mongoPartition) NRows() int { return p.nrows }
func (p *mongoPartition) NCols() int { return len(p.src.schema.Columns) }

func (p *mongoPartition) Parser() (source.Parser, error) {
	if p.cursor == nil {
		return nil, fmt.Errorf("mongo: Prepare must be called before Parser")
	}
	return &mongoParser{partition: p, fields: p.src.cfg.Fields}, nil
}

func (p *mongoPartition) Close() error {
	ctx := context.Background()
	var err error
	if p.cursor != nil {
		err = p.cursor.Close(ctx)
	}
	if p.client != nil {
		if derr := p.client.Disconnect(ctx); err == nil {
			err = derr
		}
	}
	return err
}

// mongoParser flattens one bson.M document at a time into the fixed
// field projection, the document analogue of sqlsource's one-row
// buffer.
type mongoParser struct {
	partition *mongoPartition
	fields    []FieldSpec

	col       int
	rowLoaded bool
	doc       bson.M
}

func (p *mongoParser) NextCell(expected typesystem.Carrier) (any, bool, error) {
	if !p.rowLoaded {
		ctx := context.Background()
		if !p.partition.cursor.Next(ctx) {
			if err := p.partition.cursor.Err(); err != nil {
				return nil, false, &xerrors.SourceError{Dialect: "mongo", Op: "cursor_next", Cause: err}
			}
			return nil, false, io.EOF
		}
		var doc bson.M
		if err := p.partition.cursor.Decode(&doc); err != nil {
			return nil, false, &xerrors.SourceError{Dialect: "mongo", Op: "decode", Cause: err}
		}
		p.doc = doc
		p.rowLoaded = true
		p.col = 0
	}

	field := p.fields[p.col]
	if field.Tag.Carrier() != expected {
		return nil, false, xerrors.ErrCarrierMismatch
	}

	raw, present := p.doc[field.Name]
	p.col++
	if p.col == len(p.fields) {
		p.rowLoaded = false
	}
	if !present || raw == nil {
		return nil, true, nil
	}
	value, err := decodeField(field.Tag, raw)
	return value, false, err
}

func decodeField(tag Tag, raw any) (any, error) {
	switch tag {
	case TagInt64:
		switch v := raw.(type) {
		case int32:
			return int64(v), nil
		case int64:
			return v, nil
		case float64:
			return int64(v), nil
		default:
			return nil, fmt.Errorf("mongo: cannot convert %T to int64", raw)
		}
	case TagDouble:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case int32:
			return float64(v), nil
		case int64:
			return float64(v), nil
		default:
			return nil, fmt.Errorf("mongo: cannot convert %T to float64", raw)
		}
	case TagString:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("mongo: cannot convert %T to string", raw)
		}
		return s, nil
	case TagBool:
		b, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("mongo: cannot convert %T to bool", raw)
		}
		return b, nil
	case TagDateTime:
		v, ok := raw.(primitive.DateTime)
		if !ok {
			return nil, fmt.Errorf("mongo: cannot convert %T to time", raw)
		}
		return v.Time(), nil
	case TagObjectID:
		v, ok := raw.(primitive.ObjectID)
		if !ok {
			return nil, fmt.Errorf("mongo: cannot convert %T to ObjectID string", raw)
		}
		return v.Hex(), nil
	default:
		return nil, fmt.Errorf("mongo: unsupported tag %s", tag)
	}
}
