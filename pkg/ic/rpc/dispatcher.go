package rpc

import (
	"context"
	"fmt"

	"github.com/admire-eurohpc/ic/pkg/common"
	"github.com/admire-eurohpc/ic/pkg/common/workerpool"
	"github.com/admire-eurohpc/ic/pkg/ic/ioset"
	"github.com/admire-eurohpc/ic/pkg/ic/model"
	"github.com/admire-eurohpc/ic/pkg/ic/rm"
	"github.com/admire-eurohpc/ic/pkg/ic/store"
	"github.com/admire-eurohpc/ic/pkg/ic/wire"
	"github.com/admire-eurohpc/ic/pkg/jsonutil"
)

// Waker is the malleability coordinator's wake-up signal, as seen by the
// dispatcher: client_register and client_deregister stamp a job ID onto
// it without blocking. Declared here rather than imported from
// pkg/ic/malleability so this package never needs to depend on C5's
// internals, only on the one verb it calls.
type Waker interface {
	Wake(jobID uint32)
}

// entry is one row of the dispatch table: a request factory, and a
// handler that receives the decoded request and must return an encodable
// response plus the RC to report (independent of what, if anything, the
// response body itself also carries).
type entry struct {
	newRequest func() interface{}
	handle     func(ctx context.Context, h store.Handle, req interface{}) (resp interface{}, rc model.RC)
}

// Dispatcher is the C3 RPC dispatcher: a name -> entry table executed
// through a worker pool so every call runs with a worker-private store
// handle, never a shared one.
type Dispatcher struct {
	pool    *workerpool.WorkerPool
	store   store.Store
	log     *common.Logger
	schemas *jsonutil.SchemaLoader

	rm    rm.Adapter
	ioset *ioset.Controller
	waker Waker

	table map[string]entry
}

// registerSchemas documents every request/response pair's shape in
// d.schemas, reachable through Schemas. This is documentation, not wire
// validation: the wire path always uses pkg/ic/wire, never JSON.
func (d *Dispatcher) registerSchemas() {
	pairs := map[string][2]interface{}{
		"client_register":     {ClientRegisterReq{}, ClientRegisterResp{}},
		"client_deregister":   {ClientDeregisterReq{}, ClientDeregisterResp{}},
		"test":                {TestReq{}, TestResp{}},
		"jobclean":            {JobCleanReq{}, JobCleanResp{}},
		"jobmon_submit":       {JobMonSubmitReq{}, JobMonSubmitResp{}},
		"jobmon_exit":         {JobMonExitReq{}, JobMonExitResp{}},
		"adhoc_nodes":         {AdhocNodesReq{}, AdhocNodesResp{}},
		"resallocdone":        {ResAllocDoneReq{}, ResAllocDoneResp{}},
		"malleability_avail":  {MalleabilityAvailReq{}, MalleabilityAvailResp{}},
		"malleability_region": {MalleabilityRegionReq{}, MalleabilityRegionResp{}},
		"hint_io_begin":       {HintIOBeginReq{}, HintIOBeginResp{}},
		"hint_io_end":         {HintIOEndReq{}, HintIOEndResp{}},
	}
	for name, rr := range pairs {
		_ = d.schemas.AddSchemaFromStruct(name+"_req", rr[0])
		_ = d.schemas.AddSchemaFromStruct(name+"_resp", rr[1])
	}
}

// Schemas exposes the registered documentation schemas.
func (d *Dispatcher) Schemas() *jsonutil.SchemaLoader { return d.schemas }

// New builds a Dispatcher with the full fixed RPC table wired to st
// (the registry store adapter). Callers add the remaining collaborators
// (resource manager, I/O-set controller, malleability waker) via the
// With* setters before the first Dispatch call; none of them are
// required for RPCs that do not touch them.
func New(pool *workerpool.WorkerPool, st store.Store, log *common.Logger) *Dispatcher {
	d := &Dispatcher{
		pool:    pool,
		store:   st,
		log:     log,
		schemas: jsonutil.NewSchemaLoader(),
		table:   make(map[string]entry),
	}
	d.registerCoreHandlers()
	d.registerSchemas()
	return d
}

// Names returns the registered RPC names, in no particular order.
func (d *Dispatcher) Names() []string {
	names := make([]string, 0, len(d.table))
	for name := range d.table {
		names = append(names, name)
	}
	return names
}

// Dispatch implements the full C3 protocol for one inbound call: it
// submits decode->handle->encode as a single workerpool.Task so the
// whole sequence runs with one worker's store handle, then blocks the
// caller (the connection's read loop, not a worker) until that task
// completes and returns the encoded response bytes ready to send.
//
// Steps 1 (deserialize) and 6 (release) never suspend: decoding and
// handle release are both pure in-memory operations with no I/O or lock
// acquisition that can block indefinitely.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, payload []byte) ([]byte, error) {
	e, ok := d.table[name]
	if !ok {
		return nil, fmt.Errorf("rpc: unknown call %q", name)
	}

	req := e.newRequest()
	if err := wire.Decode(payload, req); err != nil {
		return nil, fmt.Errorf("rpc: decode %s: %w", name, err)
	}

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)

	task := workerpool.TaskFunc(func(taskCtx context.Context) error {
		workerID, _ := workerpool.WorkerIDFromContext(taskCtx)
		handle := d.store.Handle(workerID)

		resp, rc := e.handle(taskCtx, handle, req)
		setRC(resp, rc)

		data, err := wire.Encode(resp)
		done <- result{data: data, err: err}
		return err
	})

	if err := d.pool.Submit(task); err != nil {
		return nil, fmt.Errorf("rpc: submit %s: %w", name, err)
	}

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("rpc: encode %s: %w", name, r.err)
		}
		return r.data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// setRC writes rc into the response's RC field. Every response struct in
// this package declares RC int32 as its first field by convention, so a
// type switch covering them is mechanical. There is no reflective
// fallback: a response type missing from this switch compiles and keeps
// its RC field at zero (success).
func setRC(resp interface{}, rc model.RC) {
	switch r := resp.(type) {
	case *ClientRegisterResp:
		r.RC = int32(rc)
	case *ClientDeregisterResp:
		r.RC = int32(rc)
	case *TestResp:
		r.RC = int32(rc)
	case *JobCleanResp:
		r.RC = int32(rc)
	case *JobMonSubmitResp:
		r.RC = int32(rc)
	case *JobMonExitResp:
		r.RC = int32(rc)
	case *AdhocNodesResp:
		r.RC = int32(rc)
	case *ResAllocResp:
		r.RC = int32(rc)
	case *ResAllocDoneResp:
		r.RC = int32(rc)
	case *ReconfigureResp:
		r.RC = int32(rc)
	case *MalleabilityAvailResp:
		r.RC = int32(rc)
	case *MalleabilityRegionResp:
		r.RC = int32(rc)
	case *HintIOBeginResp:
		r.RC = int32(rc)
	case *HintIOEndResp:
		r.RC = int32(rc)
	}
}
