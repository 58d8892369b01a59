package core

import (
	"context"
	"sync"

	"github.com/oceanbase/scopemem-go/pkg/storage"
)

// maxBatchConcurrency bounds the concurrent ingestions of IngestBatch.
const maxBatchConcurrency = 10

// BatchItemResult is the outcome of one candidate of a batch.
type BatchItemResult struct {
	Index  int
	Result *IngestResult
	Error  error
}

// IngestBatch ingests candidates concurrently. Results are returned in
// input order; a failing candidate does not stop the others.
func (c *Client) IngestBatch(ctx context.Context, candidates []*Candidate) []BatchItemResult {
	results := make([]BatchItemResult, len(candidates))
	sem := make(chan struct{}, maxBatchConcurrency)
	var wg sync.WaitGroup

	for i, cand := range candidates {
		wg.Add(1)
		go func(i int, cand *Candidate) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[i] = BatchItemResult{Index: i, Error: NewMemoryError("IngestBatch", ctx.Err())}
				return
			}
			result, err := c.IngestCandidate(ctx, cand)
			results[i] = BatchItemResult{Index: i, Result: result, Error: err}
		}(i, cand)
	}

	wg.Wait()
	return results
}

// StreamingResult contains a batch of memories from StreamVisible.
type StreamingResult struct {
	// Memories is a batch of visible memories.
	Memories []*Memory

	// BatchIndex is the index of this batch (0-based).
	BatchIndex int

	// IsLastBatch indicates whether this is the last batch.
	IsLastBatch bool

	// Error contains any error that occurred during streaming.
	Error error
}

// StreamVisible streams every open memory the caller may see, in ID order,
// in batches of batchSize. Pages are read with keyset pagination so large
// scopes are never loaded at once. Each streamed memory gets an accessed
// audit event.
//
// The channel is closed when all memories have been sent, an error occurs or
// ctx is done.
//
// Example:
//
//	for batch := range client.StreamVisible(ctx, caller, 100) {
//	    if batch.Error != nil {
//	        log.Fatal(batch.Error)
//	    }
//	    for _, m := range batch.Memories {
//	        export(m)
//	    }
//	}
func (c *Client) StreamVisible(ctx context.Context, caller *CallerContext, batchSize int) <-chan *StreamingResult {
	if batchSize <= 0 {
		batchSize = 100
	}
	resultChan := make(chan *StreamingResult, 1)

	go func() {
		defer close(resultChan)

		send := func(r *StreamingResult) bool {
			select {
			case resultChan <- r:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if caller == nil || caller.UserID == "" {
			send(&StreamingResult{IsLastBatch: true, Error: invalidInput("StreamVisible", "caller is required")})
			return
		}

		var afterID int64
		anchors := c.resolver.AnchorKeys(caller)
		for index := 0; ; index++ {
			page, err := c.store.ListMemories(ctx, &storage.ListOptions{
				AnchorKeys:  anchors,
				OwnerUserID: caller.UserID,
				OpenOnly:    true,
				AfterID:     afterID,
				Limit:       batchSize,
				Order:       storage.OrderByID,
			})
			if err != nil {
				send(&StreamingResult{BatchIndex: index, IsLastBatch: true, Error: NewMemoryError("StreamVisible", err)})
				return
			}
			if len(page) > 0 {
				afterID = page[len(page)-1].ID
			}

			visible := c.resolver.Filter(ctx, page, caller)
			if len(visible) > 0 {
				now := c.now()
				events := make([]*storage.AuditEvent, len(visible))
				for i, m := range visible {
					events[i] = accessedEvent(m, caller.UserID, "streamed", now)
				}
				c.audit(ctx, events...)
			}

			last := len(page) < batchSize
			if !send(&StreamingResult{
				Memories:    visible,
				BatchIndex:  index,
				IsLastBatch: last,
			}) || last {
				return
			}
		}
	}()

	return resultChan
}
