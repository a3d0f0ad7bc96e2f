package core

import (
	"context"
	"sync"
)

// ProcessOutcome is delivered on the channel returned by ProcessAsync.
type ProcessOutcome struct {
	Result *ProcessResult
	Error  error
}

// AsyncClient runs pipeline work on goroutines.
//
// It wraps the synchronous Client; per-user ordering is still enforced by the
// client, so messages of one user submitted together are serialized while
// other users proceed in parallel. Wait blocks until every submitted message
// has finished.
//
// Example:
//
//	asyncClient, _ := core.NewAsyncClient(config)
//	defer asyncClient.Close()
//
//	outcome := <-asyncClient.ProcessAsync(ctx, msg)
//	if outcome.Error != nil {
//	    log.Fatal(outcome.Error)
//	}
type AsyncClient struct {
	*Client
	wg sync.WaitGroup
}

// NewAsyncClient creates a new asynchronous impression client.
func NewAsyncClient(cfg *Config, opts ...Option) (*AsyncClient, error) {
	client, err := NewClient(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &AsyncClient{Client: client}, nil
}

// WrapAsync returns an AsyncClient sharing client.
func WrapAsync(client *Client) *AsyncClient {
	return &AsyncClient{Client: client}
}

// ProcessAsync processes msg in a separate goroutine.
//
// Returns a buffered channel that receives exactly one outcome and is then closed.
func (ac *AsyncClient) ProcessAsync(ctx context.Context, msg Message) <-chan *ProcessOutcome {
	resultChan := make(chan *ProcessOutcome, 1)
	ac.wg.Add(1)

	go func() {
		defer ac.wg.Done()
		result, err := ac.Process(ctx, msg)
		resultChan <- &ProcessOutcome{
			Result: result,
			Error:  err,
		}
		close(resultChan)
	}()

	return resultChan
}

// Wait waits for all async operations to complete.
func (ac *AsyncClient) Wait() {
	ac.wg.Wait()
}

// Close waits for pending operations and closes the client.
func (ac *AsyncClient) Close() error {
	ac.Wait()
	return ac.Client.Close()
}
