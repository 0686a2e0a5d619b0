// Package essink implements a destination.Destination that bulk-indexes
// a finished columnar result into Elasticsearch, one esapi.IndexRequest
// per row of every finished RecordBatch.
package essink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	elasticsearch "github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/pquerna/ffjson/ffjson"
	"github.com/rs/zerolog"

	"github.com/cohenjo/transportx/internal/destination"
)

// Config configures the Elasticsearch client and target index.
type Config struct {
	Host  string
	Port  int
	Index string
}

// Destination buffers a partition's columns exactly like
// internal/destination.ArrowDestination, then on Finish walks every
// finished row and indexes it as a document, one esapi.IndexRequest
// per row.
type Destination struct {
	cfg    Config
	es     *elasticsearch.Client
	inner  *destination.ArrowDestination
	logger zerolog.Logger
}

// New dials an elasticsearch.Client with bounded dial and
// response-header timeouts.
func New(cfg Config, opts destination.Options, logger zerolog.Logger) (*Destination, error) {
	ecfg := elasticsearch.Config{
		Addresses: []string{fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)},
		Transport: &http.Transport{
			MaxIdleConnsPerHost:   10,
			ResponseHeaderTimeout: 10 * time.Second,
			DialContext:           (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		},
	}

	es, err := elasticsearch.NewClient(ecfg)
	if err != nil {
		return nil, fmt.Errorf("essink: new client: %w", err)
	}

	return &Destination{
		cfg:    cfg,
		es:     es,
		inner:  destination.NewArrowDestination(opts, logger),
		logger: logger.With().Str("component", "essink").Str("index", cfg.Index).Logger(),
	}, nil
}

func (d *Destination) Allocate(ctx context.Context, schema destination.Schema, perPartitionRows []int) ([][]destination.ColumnWriter, error) {
	return d.inner.Allocate(ctx, schema, perPartitionRows)
}

// Finish materializes the inner ArrowDestination's columnar result,
// flattens each batch back into per-row documents, and indexes one
// esapi.IndexRequest per row. Row IDs are synthesized from
// partition/row position since the transported schema declares no
// primary key column.
func (d *Destination) Finish() (destination.Result, error) {
	result, err := d.inner.Finish()
	if err != nil {
		return destination.Result{}, err
	}

	for p, batch := range result.Batches {
		for row := 0; row < batch.NumRows; row++ {
			doc := make(map[string]any, len(batch.Columns))
			for _, col := range batch.Columns {
				if col.Mask != nil && row < len(col.Mask) && col.Mask[row] {
					doc[col.Name] = nil
					continue
				}
				doc[col.Name] = columnValueAt(col, row)
			}

			body, err := ffjson.Marshal(doc)
			if err != nil {
				return destination.Result{}, fmt.Errorf("essink: marshal partition %d row %d: %w", p, row, err)
			}

			docID := strconv.Itoa(p) + "-" + strconv.Itoa(row)
			req := esapi.IndexRequest{
				Index:      d.cfg.Index,
				DocumentID: docID,
				Body:       bytes.NewReader(body),
				Refresh:    "true",
			}
			res, err := req.Do(context.Background(), d.es)
			if err != nil {
				return destination.Result{}, fmt.Errorf("essink: index partition %d row %d: %w", p, row, err)
			}
			if res.IsError() {
				res.Body.Close()
				return destination.Result{}, fmt.Errorf("essink: index partition %d row %d: status %s", p, row, res.Status())
			}
			var ack map[string]any
			if err := json.NewDecoder(res.Body).Decode(&ack); err != nil {
				res.Body.Close()
				return destination.Result{}, fmt.Errorf("essink: decode response for partition %d row %d: %w", p, row, err)
			}
			res.Body.Close()
			d.logger.Debug().Str("id", docID).Interface("result", ack["result"]).Msg("indexed row")
		}
	}
	return result, nil
}

func columnValueAt(col destination.Column, row int) any {
	switch v := col.Values.(type) {
	case []int64:
		return v[row]
	case []float64:
		return v[row]
	case []bool:
		return v[row]
	case []string:
		return v[row]
	case [][]byte:
		return v[row]
	case []time.Time:
		return v[row]
	case []time.Duration:
		return v[row].String()
	default:
		return nil
	}
}
