// Package rpc implements the C3 RPC dispatcher: a fixed table of named
// calls, each bound to a request type, a response type, and a handler,
// dispatched over pkg/common/workerpool with a per-worker store handle
// with its own decoded request/response types.
package rpc

// Every request/response pair below is declared with fixed-width fields
// first and strings last, the order pkg/ic/wire puts them on the wire
// (the codec moves string fields after the fixed-width ones whatever the
// declaration order).

// ClientRegisterReq is client_register's payload. ClientID carries the
// caller-supplied stable 128-bit client identifier (string form); an
// empty ClientID falls back to a server-generated one, for callers that
// have none of their own. NProcs, JobNCPUs, and JobNNodes mirror the
// client's process count and its job's allocation at registration time.
type ClientRegisterReq struct {
	ProviderTag int32
	JobID       uint32
	NProcs      int32
	JobNCPUs    uint32
	JobNNodes   uint32
	Kind        string
	CallbackAddr string
	SinkKind    string
	SinkAddr    string
	ClientID    string
}

// ClientRegisterResp carries the assigned client ID back to the caller
// alongside the rc field every response has.
type ClientRegisterResp struct {
	RC       int32
	ClientID string
}

// ClientDeregisterReq is client_deregister's payload.
type ClientDeregisterReq struct {
	ClientID string
}

type ClientDeregisterResp struct {
	RC int32
}

// TestReq is the "test" RPC's payload: an arbitrary number the handler
// logs and echoes back success for, used to probe liveness.
type TestReq struct {
	Number int64
}

type TestResp struct {
	RC int32
}

// JobCleanReq is jobclean's payload.
type JobCleanReq struct {
	JobID uint32
}

type JobCleanResp struct {
	RC int32
}

// JobMonSubmitReq is jobmon_submit's payload.
type JobMonSubmitReq struct {
	JobID  uint32
	Step   uint32
	NNodes uint32
}

type JobMonSubmitResp struct {
	RC int32
}

// JobMonExitReq is jobmon_exit's payload.
type JobMonExitReq struct {
	JobID uint32
	Step  uint32
}

type JobMonExitResp struct {
	RC int32
}

// AdhocNodesReq is adhoc_nodes's payload.
type AdhocNodesReq struct {
	JobID        uint32
	NNodes       uint32
	AdhocNNodes  uint32
}

type AdhocNodesResp struct {
	RC int32
}

// ResAllocReq is resalloc's payload (client-side: the core never
// receives this on the wire, but the type still exists so the
// coordinator can encode it when it is the caller).
type ResAllocReq struct {
	Shrink bool
	NCPUs  uint32
}

type ResAllocResp struct {
	RC int32
}

// ResAllocDoneReq is resallocdone's payload.
type ResAllocDoneReq struct {
	JobID    uint32
	NCPUs    uint32
	Hostlist string
}

type ResAllocDoneResp struct {
	RC int32
}

// ReconfigureReq is reconfigure's payload (client-side, FlexMPI).
type ReconfigureReq struct {
	MaxProcs uint32
	Hostlist string
}

type ReconfigureResp struct {
	RC int32
}

// MalleabilityAvailReq is malleability_avail's payload.
type MalleabilityAvailReq struct {
	JobID    uint32
	NNodes   uint32
	Kind     string
	PortName string
}

type MalleabilityAvailResp struct {
	RC int32
}

// MalleabilityRegionReq is malleability_region's payload. Action is
// wire-encoded as a single byte (see model.RegionAction) rather than a
// string, since it is a closed two-value enum.
type MalleabilityRegionReq struct {
	Action   uint8
	ClientID string
}

type MalleabilityRegionResp struct {
	RC int32
}

// HintIOBeginReq is hint_io_begin's payload.
type HintIOBeginReq struct {
	JobID     uint32
	Step      uint32
	WIterMs   int64
	PhaseFlag bool
	ClientID  string
}

// HintIOBeginResp additionally carries the admitted slice budget.
type HintIOBeginResp struct {
	RC      int32
	NSlices int64
}

// HintIOEndReq is hint_io_end's payload.
type HintIOEndReq struct {
	JobID     uint32
	Step      uint32
	WIterMs   int64
	PhaseFlag bool
	NBytes    uint64
	ClientID  string
}

type HintIOEndResp struct {
	RC int32
}
