package rpc

import (
	"context"

	"github.com/google/uuid"

	"github.com/admire-eurohpc/ic/pkg/ic/ioset"
	"github.com/admire-eurohpc/ic/pkg/ic/model"
	"github.com/admire-eurohpc/ic/pkg/ic/rm"
	"github.com/admire-eurohpc/ic/pkg/ic/store"
)

// WithResourceManager attaches the C2 adapter jobclean consults. Safe to call once, before the first Dispatch.
func (d *Dispatcher) WithResourceManager(adapter rm.Adapter) *Dispatcher {
	d.rm = adapter
	return d
}

// WithIOSetController attaches the C4 admission controller hint_io_begin
// and hint_io_end dispatch into.
func (d *Dispatcher) WithIOSetController(c *ioset.Controller) *Dispatcher {
	d.ioset = c
	return d
}

// WithWaker attaches the C5 coordinator's wake signal, stamped by
// client_register and client_deregister.
func (d *Dispatcher) WithWaker(w Waker) *Dispatcher {
	d.waker = w
	return d
}

func (d *Dispatcher) registerCoreHandlers() {
	d.table["client_register"] = entry{
		newRequest: func() interface{} { return &ClientRegisterReq{} },
		handle:     d.handleClientRegister,
	}
	d.table["client_deregister"] = entry{
		newRequest: func() interface{} { return &ClientDeregisterReq{} },
		handle:     d.handleClientDeregister,
	}
	d.table["test"] = entry{
		newRequest: func() interface{} { return &TestReq{} },
		handle:     d.handleTest,
	}
	d.table["jobclean"] = entry{
		newRequest: func() interface{} { return &JobCleanReq{} },
		handle:     d.handleJobClean,
	}
	d.table["jobmon_submit"] = entry{
		newRequest: func() interface{} { return &JobMonSubmitReq{} },
		handle:     d.handleJobMonSubmit,
	}
	d.table["jobmon_exit"] = entry{
		newRequest: func() interface{} { return &JobMonExitReq{} },
		handle:     d.handleJobMonExit,
	}
	d.table["adhoc_nodes"] = entry{
		newRequest: func() interface{} { return &AdhocNodesReq{} },
		handle:     d.handleAdhocNodes,
	}
	d.table["resallocdone"] = entry{
		newRequest: func() interface{} { return &ResAllocDoneReq{} },
		handle:     d.handleResAllocDone,
	}
	d.table["malleability_avail"] = entry{
		newRequest: func() interface{} { return &MalleabilityAvailReq{} },
		handle:     d.handleMalleabilityAvail,
	}
	d.table["malleability_region"] = entry{
		newRequest: func() interface{} { return &MalleabilityRegionReq{} },
		handle:     d.handleMalleabilityRegion,
	}
	d.table["hint_io_begin"] = entry{
		newRequest: func() interface{} { return &HintIOBeginReq{} },
		handle:     d.handleHintIOBegin,
	}
	d.table["hint_io_end"] = entry{
		newRequest: func() interface{} { return &HintIOEndReq{} },
		handle:     d.handleHintIOEnd,
	}

	// resalloc and reconfigure are outbound-only (the coordinator issues
	// them to clients); their message types live in this package for the
	// encoder, but they are never registered as inbound handlers here.
}

func (d *Dispatcher) handleClientRegister(_ context.Context, h store.Handle, reqv interface{}) (interface{}, model.RC) {
	req := reqv.(*ClientRegisterReq)
	resp := &ClientRegisterResp{}

	kind := model.ClientKind(req.Kind)
	if !model.ValidClientKind(kind) {
		d.log.Warning("client_register: rejecting unknown kind %q", req.Kind)
		return resp, model.RpcInvalidParam
	}

	// Carry the caller-supplied client ID (spec §3: a stable 128-bit
	// identifier); only mint one when the caller has none of its own.
	id := req.ClientID
	if id == "" {
		id = uuid.NewString()
	}
	client := model.Client{
		ID:               id,
		Kind:             kind,
		CallbackAddr:     req.CallbackAddr,
		ProviderTag:      int(req.ProviderTag),
		JobID:            req.JobID,
		JobNCPUs:         req.JobNCPUs,
		JobNNodes:        req.JobNNodes,
		NProcs:           req.NProcs,
		Sink:             model.ReconfigureSinkKind(req.SinkKind),
		SinkDatagramAddr: req.SinkAddr,
	}

	if res := h.SetClient(client); res != store.Ok {
		d.log.Error("client_register: store failed for %s", id)
		return resp, model.RpcFailure
	}

	resp.ClientID = id
	d.log.Info("client_register: %s kind=%s job=%d", id, kind, req.JobID)
	d.wake(req.JobID)
	return resp, model.RpcSuccess
}

func (d *Dispatcher) handleClientDeregister(_ context.Context, h store.Handle, reqv interface{}) (interface{}, model.RC) {
	req := reqv.(*ClientDeregisterReq)
	resp := &ClientDeregisterResp{}

	jobID, res := h.DeleteClient(req.ClientID)
	switch res {
	case store.Ok:
		d.log.Info("client_deregister: %s job=%d", req.ClientID, jobID)
		d.wake(jobID)
		return resp, model.RpcSuccess
	case store.NotFound:
		// Idempotent: deregistering an already-gone client is success.
		return resp, model.RpcSuccess
	default:
		return resp, model.RpcFailure
	}
}

func (d *Dispatcher) handleTest(_ context.Context, _ store.Handle, reqv interface{}) (interface{}, model.RC) {
	req := reqv.(*TestReq)
	d.log.Debug("test: %d", req.Number)
	return &TestResp{}, model.RpcSuccess
}

func (d *Dispatcher) handleJobClean(ctx context.Context, h store.Handle, reqv interface{}) (interface{}, model.RC) {
	req := reqv.(*JobCleanReq)
	resp := &JobCleanResp{}

	if d.rm == nil {
		return resp, model.RpcFailure
	}

	state, errKind := d.rm.JobState(ctx, req.JobID)
	if errKind != model.ErrNone {
		return resp, errKind.ToRC()
	}

	if state == model.JobPending || state == model.JobRunning {
		d.log.Debug("jobclean: job %d still %s, ignoring", req.JobID, state)
		return resp, model.RpcFailure
	}

	if res := h.DeleteJob(req.JobID); res == store.Err {
		return resp, model.RpcFailure
	}
	d.log.Info("jobclean: job %d purged (state=%s)", req.JobID, state)
	return resp, model.RpcSuccess
}

func (d *Dispatcher) handleJobMonSubmit(_ context.Context, h store.Handle, reqv interface{}) (interface{}, model.RC) {
	req := reqv.(*JobMonSubmitReq)
	resp := &JobMonSubmitResp{}

	job, res := h.GetJob(req.JobID)
	if res == store.Err {
		return resp, model.RpcFailure
	}
	job.ID = req.JobID
	job.NNodes = req.NNodes
	if res := h.SetJob(job); res != store.Ok {
		return resp, model.RpcFailure
	}
	d.log.Info("jobmon_submit: job=%d step=%d nnodes=%d", req.JobID, req.Step, req.NNodes)
	return resp, model.RpcSuccess
}

func (d *Dispatcher) handleJobMonExit(_ context.Context, _ store.Handle, reqv interface{}) (interface{}, model.RC) {
	req := reqv.(*JobMonExitReq)
	d.log.Info("jobmon_exit: job=%d step=%d", req.JobID, req.Step)
	return &JobMonExitResp{}, model.RpcSuccess
}

func (d *Dispatcher) handleAdhocNodes(_ context.Context, _ store.Handle, reqv interface{}) (interface{}, model.RC) {
	req := reqv.(*AdhocNodesReq)
	d.log.Info("adhoc_nodes: job=%d nnodes=%d adhoc_nnodes=%d", req.JobID, req.NNodes, req.AdhocNNodes)
	return &AdhocNodesResp{}, model.RpcSuccess
}

func (d *Dispatcher) handleResAllocDone(_ context.Context, h store.Handle, reqv interface{}) (interface{}, model.RC) {
	req := reqv.(*ResAllocDoneReq)
	resp := &ResAllocDoneResp{}

	hosts, err := rm.ParseHostlist(req.Hostlist)
	if err != nil {
		d.log.Warning("resallocdone: malformed hostlist for job %d: %v", req.JobID, err)
		return resp, model.RpcInvalidParam
	}

	job, res := h.GetJob(req.JobID)
	if res == store.Err {
		return resp, model.RpcFailure
	}
	job.ID = req.JobID
	job.NCPUs = req.NCPUs
	if res := h.SetJob(job); res != store.Ok {
		return resp, model.RpcFailure
	}

	d.log.Info("resallocdone: job=%d ncpus=%d hosts=%d", req.JobID, req.NCPUs, len(hosts))
	return resp, model.RpcSuccess
}

func (d *Dispatcher) handleMalleabilityAvail(_ context.Context, h store.Handle, reqv interface{}) (interface{}, model.RC) {
	req := reqv.(*MalleabilityAvailReq)
	resp := &MalleabilityAvailResp{}

	offer := model.MalleabilityOffer{
		JobID:    req.JobID,
		Kind:     model.ClientKind(req.Kind),
		PortName: req.PortName,
		NNodes:   req.NNodes,
	}
	if res := h.SetMalleabilityOffer(offer); res != store.Ok {
		return resp, model.RpcFailure
	}
	d.log.Info("malleability_avail: job=%d kind=%s nnodes=%d", req.JobID, req.Kind, req.NNodes)
	return resp, model.RpcSuccess
}

func (d *Dispatcher) handleMalleabilityRegion(_ context.Context, _ store.Handle, reqv interface{}) (interface{}, model.RC) {
	req := reqv.(*MalleabilityRegionReq)
	d.log.Info("malleability_region: client=%s action=%s", req.ClientID, model.RegionAction(req.Action))
	return &MalleabilityRegionResp{}, model.RpcSuccess
}

func (d *Dispatcher) handleHintIOBegin(_ context.Context, _ store.Handle, reqv interface{}) (interface{}, model.RC) {
	req := reqv.(*HintIOBeginReq)
	resp := &HintIOBeginResp{}

	if d.ioset == nil {
		return resp, model.RpcFailure
	}
	nslices, rc := d.ioset.HintIOBegin(req.ClientID, req.WIterMs, req.PhaseFlag)
	resp.NSlices = nslices
	return resp, rc
}

func (d *Dispatcher) handleHintIOEnd(_ context.Context, _ store.Handle, reqv interface{}) (interface{}, model.RC) {
	req := reqv.(*HintIOEndReq)
	resp := &HintIOEndResp{}

	if d.ioset == nil {
		return resp, model.RpcFailure
	}
	rc := d.ioset.HintIOEnd(req.ClientID, req.WIterMs, req.PhaseFlag, req.NBytes)
	return resp, rc
}

// wake stamps jobID onto the malleability coordinator's wake signal
// without blocking; it is a no-op until WithWaker is called, which lets
// this dispatcher be unit-tested without standing up C5.
func (d *Dispatcher) wake(jobID uint32) {
	if d.waker != nil {
		d.waker.Wake(jobID)
	}
}
