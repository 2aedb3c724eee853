// Package ingest is the durable, partitioned queue between the gateway and
// the persistence worker.
package ingest

import (
	"context"
	"time"

	"github.com/vovakirdan/ltchat/internal/core"
)

const (
	DefaultPartitions = 10
	DefaultAttempts   = 10
	DefaultBackoff    = 2 * time.Second

	// DuplicateWindow is how long a submitted nonce is remembered.
	DuplicateWindow = 2 * time.Minute
)

// Partition maps a channel to its partition. All envelopes of a channel land
// on the same partition.
func Partition(channelID int64, partitions int) int {
	if partitions <= 0 {
		partitions = DefaultPartitions
	}
	p := channelID % int64(partitions)
	if p < 0 {
		p += int64(partitions)
	}
	return int(p)
}

// Delivery is one queued record held by a consumer until it is acked or
// negatively acked.
type Delivery interface {
	Data() []byte
	// Attempt is 1 on first delivery and grows with every redelivery.
	Attempt() uint64
	Ack(ctx context.Context) error
	// Nak returns the record to the head of its partition after delay.
	Nak(ctx context.Context, delay time.Duration) error
	// Term drops a record that can never be processed.
	Term(ctx context.Context) error
}

// Consumer pulls records of one partition. At most one record of a partition
// is outstanding at a time, across all consumers of that partition.
type Consumer interface {
	// Next blocks until a record is available or ctx is done.
	Next(ctx context.Context) (Delivery, error)
	Close() error
}

// Queue is the producer and consumer side of the ingest queue.
type Queue interface {
	core.Producer
	Partitions() int
	Consumer(ctx context.Context, partition int) (Consumer, error)
	Close() error
}
