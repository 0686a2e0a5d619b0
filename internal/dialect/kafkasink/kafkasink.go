// Package kafkasink implements a destination.Destination that buffers
// a partition's columns exactly like internal/destination.ArrowDestination,
// then on Finish transposes each finished RecordBatch back to
// row-shaped JSON documents and publishes one Kafka message per row
// via a sarama.SyncProducer.
package kafkasink

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/pquerna/ffjson/ffjson"
	"github.com/rs/zerolog"

	"github.com/cohenjo/transportx/internal/destination"
)

// Config configures the producer and target topic.
type Config struct {
	Brokers []string
	Topic   string
}

// Destination publishes finished record batches to Kafka, one message
// per row, reusing ArrowDestination for buffering and validation.
type Destination struct {
	cfg      Config
	producer sarama.SyncProducer
	inner    *destination.ArrowDestination
	logger   zerolog.Logger
}

// New dials a sarama.SyncProducer with strong-consistency settings:
// WaitForAll acks, bounded retries, and successes returned so
// SendMessage can report partition/offset.
func New(cfg Config, opts destination.Options, logger zerolog.Logger) (*Destination, error) {
	scfg := sarama.NewConfig()
	scfg.Producer.RequiredAcks = sarama.WaitForAll
	scfg.Producer.Retry.Max = 10
	scfg.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, scfg)
	if err != nil {
		return nil, fmt.Errorf("kafkasink: new producer: %w", err)
	}

	return &Destination{
		cfg:      cfg,
		producer: producer,
		inner:    destination.NewArrowDestination(opts, logger),
		logger:   logger.With().Str("component", "kafkasink").Str("topic", cfg.Topic).Logger(),
	}, nil
}

func (d *Destination) Allocate(ctx context.Context, schema destination.Schema, perPartitionRows []int) ([][]destination.ColumnWriter, error) {
	return d.inner.Allocate(ctx, schema, perPartitionRows)
}

// Finish materializes the inner ArrowDestination's columnar result,
// transposes each batch back into row-shaped documents, and publishes
// one Kafka message per row. The returned Result is the same columnar
// shape every other Destination returns, so a caller can inspect what
// was published without re-reading Kafka.
func (d *Destination) Finish() (destination.Result, error) {
	result, err := d.inner.Finish()
	if err != nil {
		return destination.Result{}, err
	}

	for _, batch := range result.Batches {
		for row := 0; row < batch.NumRows; row++ {
			doc := make(map[string]any, len(batch.Columns))
			for _, col := range batch.Columns {
				if col.Mask != nil && row < len(col.Mask) && col.Mask[row] {
					doc[col.Name] = nil
					continue
				}
				doc[col.Name] = columnValueAt(col, row)
			}
			data, err := ffjson.Marshal(doc)
			if err != nil {
				return destination.Result{}, fmt.Errorf("kafkasink: marshal row %d: %w", row, err)
			}
			partition, offset, err := d.producer.SendMessage(&sarama.ProducerMessage{
				Topic: d.cfg.Topic,
				Value: sarama.ByteEncoder(data),
			})
			if err != nil {
				return destination.Result{}, fmt.Errorf("kafkasink: send row %d: %w", row, err)
			}
			d.logger.Debug().Int("partition", int(partition)).Int64("offset", offset).Msg("published row")
		}
	}
	return result, nil
}

// Close releases the underlying Kafka producer.
func (d *Destination) Close() error {
	return d.producer.Close()
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
