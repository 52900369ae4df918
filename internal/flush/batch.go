package flush

import (
	"context"
	"log/slog"

	"github.com/hyperengineering/vitalsync/internal/types"
	"golang.org/x/sync/errgroup"
)

// Defaults for BatchOptions fields left at zero.
const (
	DefaultChunkSize   = 100
	DefaultConcurrency = 3
)

// Upserter writes one record under its idempotency key.
type Upserter interface {
	UpsertOne(ctx context.Context, key string, record types.RemoteRecord) types.UpsertResult
}

// BatchOptions configures a Batch.
type BatchOptions struct {
	ChunkSize   int
	Concurrency int
}

// Batch runs the upsert protocol over many queue items: fixed-size chunks
// processed sequentially, bounded parallelism inside a chunk, and one extra
// pass over only the failures of each chunk.
type Batch struct {
	upserter    Upserter
	provenance  Provenance
	chunkSize   int
	concurrency int
}

// NewBatch creates a Batch.
func NewBatch(u Upserter, p Provenance, opts BatchOptions) *Batch {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Batch{
		upserter:    u,
		provenance:  p,
		chunkSize:   opts.ChunkSize,
		concurrency: opts.Concurrency,
	}
}

// Flush upserts items and returns results keyed by idempotency key.
// It fails only when ctx is done before the first chunk starts; a
// cancellation later returns the results gathered so far. Items of
// unstarted chunks, and items whose call was cut short by the
// cancellation, have no entry.
func (b *Batch) Flush(ctx context.Context, items []types.QueueItem) (map[string]types.UpsertResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := make(map[string]types.UpsertResult, len(items))
	for start := 0; start < len(items); start += b.chunkSize {
		if start > 0 && ctx.Err() != nil {
			slog.Warn("flush interrupted between chunks",
				"component", "flush",
				"processed", start,
				"total", len(items),
			)
			break
		}
		end := min(start+b.chunkSize, len(items))
		b.flushChunk(ctx, items[start:end], results)
	}
	return results, nil
}

func (b *Batch) flushChunk(ctx context.Context, chunk []types.QueueItem, results map[string]types.UpsertResult) {
	first := b.pass(ctx, chunk)

	var retry []types.QueueItem
	for i, res := range first {
		if res.Canceled {
			continue
		}
		if !res.OK {
			retry = append(retry, chunk[i])
		}
		results[chunk[i].IdempotencyKey] = res
	}
	if len(retry) == 0 || ctx.Err() != nil {
		return
	}

	slog.Debug("retrying failed items",
		"component", "flush",
		"failed", len(retry),
		"chunk", len(chunk),
	)
	second := b.pass(ctx, retry)
	for i, res := range second {
		if res.Canceled {
			continue
		}
		key := retry[i].IdempotencyKey
		res.Attempts += results[key].Attempts
		results[key] = res
	}
}

// pass upserts every item once with at most b.concurrency calls in flight.
func (b *Batch) pass(ctx context.Context, items []types.QueueItem) []types.UpsertResult {
	out := make([]types.UpsertResult, len(items))

	var g errgroup.Group
	g.SetLimit(b.concurrency)
	for i, item := range items {
		g.Go(func() error {
			record, err := ToRecord(item, b.provenance)
			if err != nil {
				out[i] = types.UpsertResult{Error: err.Error(), Attempts: 1}
				return nil
			}
			out[i] = b.upserter.UpsertOne(ctx, item.IdempotencyKey, record)
			return nil
		})
	}
	_ = g.Wait()
	return out
}
