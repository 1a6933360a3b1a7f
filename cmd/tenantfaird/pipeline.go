package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jabbala/tenantfair/request"
)

// maxPipelineResponse caps how much of a pipeline response is read
// back to the caller.
const maxPipelineResponse = 4 << 20

// httpPipeline forwards dispatched requests to the downstream
// model-serving endpoint as HTTP POSTs. The response body is the
// result delivered to the waiting caller.
type httpPipeline struct {
	url    string
	client *http.Client
}

func newHTTPPipeline(url string) *httpPipeline {
	return &httpPipeline{
		url: url,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// Invoke implements worker.Pipeline.
func (p *httpPipeline) Invoke(ctx context.Context, req *request.ScheduledRequest) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(req.Payload))
	if err != nil {
		return nil, fmt.Errorf("build pipeline request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", req.ID.String())
	httpReq.Header.Set("X-Tenant-ID", req.TenantID)
	httpReq.Header.Set("X-Tenant-Tier", req.Tier.String())

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("invoke pipeline: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPipelineResponse))
	if err != nil {
		return nil, fmt.Errorf("read pipeline response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("pipeline returned %d: %s", resp.StatusCode, body)
	}
	return body, nil
}
