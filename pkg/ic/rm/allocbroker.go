package rm

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// AllocBrokerClient talks to the external node-allocation broker that
// actually adds nodes to a running job's Slurm allocation, a
// capability the Slurm REST API itself does not expose for a job
// already running. This is a sidecar HTTP
// service reached with a short, bounded timeout so a hung broker can
// never stall a C5 drain cycle.
type AllocBrokerClient struct {
	client  *resty.Client
	baseURL string
}

// growRequest is the request body the broker expects.
type growRequest struct {
	JobID  uint32 `json:"job_id"`
	NNodes uint32 `json:"n_nodes"`
}

// growResponse is the broker's response body.
type growResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// NewAllocBrokerClient builds a client bound to baseURL with
// timeoutMs as both the per-request and overall client timeout.
func NewAllocBrokerClient(baseURL string, timeoutMs int) *AllocBrokerClient {
	client := resty.New()
	client.SetTimeout(time.Duration(timeoutMs) * time.Millisecond)
	client.SetRetryCount(2)
	client.SetRetryWaitTime(100 * time.Millisecond)
	return &AllocBrokerClient{client: client, baseURL: baseURL}
}

// Grow asks the broker to add nNodes nodes to jobID's allocation. It
// blocks until the broker responds or ctx's deadline elapses.
func (b *AllocBrokerClient) Grow(ctx context.Context, jobID uint32, nNodes uint32) error {
	var out growResponse
	resp, err := b.client.R().
		SetContext(ctx).
		SetBody(growRequest{JobID: jobID, NNodes: nNodes}).
		SetResult(&out).
		Post(b.baseURL + "/v1/grow")
	if err != nil {
		return fmt.Errorf("rm: alloc broker request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("rm: alloc broker returned status %d", resp.StatusCode())
	}
	if !out.OK {
		return fmt.Errorf("rm: alloc broker rejected grow: %s", out.Message)
	}
	return nil
}
