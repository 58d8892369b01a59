package core

import (
	"context"
	"sync"
	"time"
)

// AsyncClient provides asynchronous engine operations.
//
// It wraps the synchronous Client and executes operations in separate
// goroutines. All async methods return channels that receive the result when
// the operation completes. Wait blocks until every operation has finished.
//
// Example:
//
//	asyncClient, _ := core.NewAsyncClient(ctx, config)
//	defer asyncClient.Close()
//
//	resultChan := asyncClient.IngestCandidateAsync(ctx, candidate)
//	result := <-resultChan
//	if result.Error != nil {
//	    log.Fatal(result.Error)
//	}
type AsyncClient struct {
	*Client
	wg sync.WaitGroup
}

// NewAsyncClient creates a new asynchronous client.
func NewAsyncClient(ctx context.Context, cfg *Config, opts ...ClientOption) (*AsyncClient, error) {
	client, err := NewClient(ctx, cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &AsyncClient{Client: client}, nil
}

// IngestCandidateAsync ingests a candidate asynchronously.
func (ac *AsyncClient) IngestCandidateAsync(ctx context.Context, cand *Candidate) <-chan *MemoryResult {
	resultChan := make(chan *MemoryResult, 1)
	ac.wg.Add(1)

	go func() {
		defer ac.wg.Done()
		result, err := ac.IngestCandidate(ctx, cand)
		resultChan <- &MemoryResult{Result: result, Error: err}
		close(resultChan)
	}()

	return resultChan
}

// AssembleContextAsync assembles context asynchronously.
func (ac *AsyncClient) AssembleContextAsync(ctx context.Context, caller *CallerContext, query string, tokenBudget int,
	profile ScoringProfile, opts ...AssembleOption) <-chan *ContextResultAsync {
	resultChan := make(chan *ContextResultAsync, 1)
	ac.wg.Add(1)

	go func() {
		defer ac.wg.Done()
		result, err := ac.AssembleContext(ctx, caller, query, tokenBudget, profile, opts...)
		resultChan <- &ContextResultAsync{Result: result, Error: err}
		close(resultChan)
	}()

	return resultChan
}

// RunDecayPassAsync runs a decay pass asynchronously.
func (ac *AsyncClient) RunDecayPassAsync(ctx context.Context, now time.Time, opts ...DecayOption) <-chan *DecayResult {
	resultChan := make(chan *DecayResult, 1)
	ac.wg.Add(1)

	go func() {
		defer ac.wg.Done()
		report, err := ac.RunDecayPass(ctx, now, opts...)
		resultChan <- &DecayResult{Report: report, Error: err}
		close(resultChan)
	}()

	return resultChan
}

// Wait waits for all asynchronous operations to complete.
func (ac *AsyncClient) Wait() {
	ac.wg.Wait()
	ac.Client.Wait()
}

// Close waits for pending operations, then closes the client.
func (ac *AsyncClient) Close() error {
	ac.wg.Wait()
	return ac.Client.Close()
}
