package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// envelope mirrors the {retcode, message, payload} shape every IC HTTP
// endpoint responds with.
type envelope struct {
	RetCode int             `json:"retcode"`
	Message string          `json:"message"`
	Payload json.RawMessage `json:"payload"`
}

type clientRow struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	JobID        uint32 `json:"job_id"`
	NProcs       int32  `json:"nprocs"`
	CallbackAddr string `json:"callback_addr"`
}

type iosetSnapshot struct {
	Sets []struct {
		SetID    int     `json:"set_id"`
		Priority float64 `json:"priority"`
		InPhase  bool    `json:"in_phase"`
	} `json:"sets"`
	AnyWriterRunning bool `json:"any_writer_running"`
}

type malleabilitySnapshot struct {
	State           string `json:"state"`
	DeadLetterQueue *struct {
		TotalMessages int `json:"total_messages"`
	} `json:"dead_letter_queue,omitempty"`
}

// statusClient polls an IC's admin API over HTTP.
type statusClient struct {
	rc *resty.Client
}

func newStatusClient(baseURL string, timeout time.Duration) *statusClient {
	rc := resty.New().SetBaseURL(baseURL).SetTimeout(timeout)
	return &statusClient{rc: rc}
}

func (c *statusClient) fetch(ctx context.Context, path string, out interface{}) error {
	var env envelope
	resp, err := c.rc.R().SetContext(ctx).SetResult(&env).Get(path)
	if err != nil {
		return fmt.Errorf("icstatus: request %s failed: %w", path, err)
	}
	if resp.IsError() {
		return fmt.Errorf("icstatus: %s returned status %d", path, resp.StatusCode())
	}
	if env.RetCode != 0 {
		return fmt.Errorf("icstatus: %s: %s", path, env.Message)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(env.Payload, out)
}

func (c *statusClient) clients(ctx context.Context) ([]clientRow, error) {
	var rows []clientRow
	if err := c.fetch(ctx, "/status/clients", &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *statusClient) iosets(ctx context.Context) (iosetSnapshot, error) {
	var snap iosetSnapshot
	if err := c.fetch(ctx, "/status/iosets", &snap); err != nil {
		return iosetSnapshot{}, err
	}
	return snap, nil
}

func (c *statusClient) malleability(ctx context.Context) (malleabilitySnapshot, error) {
	var snap malleabilitySnapshot
	if err := c.fetch(ctx, "/status/malleability", &snap); err != nil {
		return malleabilitySnapshot{}, err
	}
	return snap, nil
}
