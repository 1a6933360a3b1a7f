package engine

import (
	"context"
	"sync"

	"github.com/jabbala/tenantfair/request"
)

// PendingResult is the caller's handle on a submitted request. It
// resolves exactly once with the pipeline result, ErrQueueTimeout, or
// ErrCancelled.
type PendingResult struct {
	req  *request.ScheduledRequest
	done chan struct{}

	once   sync.Once
	result []byte
	err    error
}

func newPendingResult(req *request.ScheduledRequest) *PendingResult {
	return &PendingResult{
		req:  req,
		done: make(chan struct{}),
	}
}

// Request returns the request as it was admitted. The scheduler works
// on its own copies; fields here never change after Submit.
func (p *PendingResult) Request() *request.ScheduledRequest { return p.req }

// Done returns a channel closed when the result is available.
func (p *PendingResult) Done() <-chan struct{} { return p.done }

// Wait blocks until the request resolves or ctx is done. A ctx error
// here does not cancel the request; use Engine.Cancel for that.
func (p *PendingResult) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// resolve records the terminal outcome. Later calls are no-ops.
func (p *PendingResult) resolve(result []byte, err error) {
	p.once.Do(func() {
		p.result = result
		p.err = err
		close(p.done)
	})
}
