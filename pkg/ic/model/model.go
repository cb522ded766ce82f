// Package model defines the entities the registry store persists and the
// RPC dispatcher exchanges with clients: clients, jobs, malleability
// offers, and the small enums that classify them.
package model

import "fmt"

// ClientKind classifies a registered client. The set is closed; unknown
// values on the wire are rejected rather than passed through.
type ClientKind string

const (
	KindMPI       ClientKind = "mpi"
	KindFlexMPI   ClientKind = "flexmpi"
	KindJobMon    ClientKind = "jobmonitor"
	KindJobClean  ClientKind = "jobcleaner"
	KindAdhocCLI  ClientKind = "adhoc"
	KindIOSets    ClientKind = "iosets"
	KindReconfig2 ClientKind = "reconfig2"
)

// ValidClientKind reports whether k is one of the closed set of kinds.
func ValidClientKind(k ClientKind) bool {
	switch k {
	case KindMPI, KindFlexMPI, KindJobMon, KindJobClean, KindAdhocCLI, KindIOSets, KindReconfig2:
		return true
	default:
		return false
	}
}

// ReconfigureSinkKind selects how the malleability coordinator delivers an
// outbound reconfigure/resalloc call to a given client: an explicit
// transport choice in place of a dlopen-loaded callback entry point.
type ReconfigureSinkKind string

const (
	SinkInProcessFunction ReconfigureSinkKind = "in_process"
	SinkDatagramSocket    ReconfigureSinkKind = "datagram"
	SinkRpcForward        ReconfigureSinkKind = "rpc_forward"
)

// Client is a process registered with the controller. Created on
// client_register, destroyed on client_deregister.
type Client struct {
	// ID is a stable 128-bit client identifier in string (UUID) form.
	ID string `json:"id"`
	// Kind is the client's role.
	Kind ClientKind `json:"kind"`
	// CallbackAddr is the opaque transport address the coordinator uses
	// to reach this client for outbound reconfigure/resalloc calls.
	CallbackAddr string `json:"callback_addr"`
	// ProviderTag is a small integer selecting the client's Mercury-style
	// provider instance. It is stored as given; the core does not use it
	// to select a log level.
	ProviderTag int `json:"provider_tag"`
	// JobID is the owning job's ID, or 0 if the client is not associated
	// with any job (e.g. an ad-hoc CLI).
	JobID uint32 `json:"job_id"`
	// JobNCPUs and JobNNodes mirror the job's allocation at registration
	// time; nothing updates them after registration.
	JobNCPUs  uint32 `json:"job_ncpus"`
	JobNNodes uint32 `json:"job_nnodes"`
	// NProcs is the client's current process count, mutated by IncrNProcs.
	NProcs int32 `json:"nprocs"`
	// Sink selects the outbound delivery mechanism chosen at registration.
	Sink ReconfigureSinkKind `json:"sink"`
	// SinkDatagramAddr is populated only when Sink == SinkDatagramSocket.
	SinkDatagramAddr string `json:"sink_datagram_addr,omitempty"`
}

// Key returns the string used to address this client in the store.
func (c Client) Key() string { return c.ID }

// JobState is the live state of a resource-manager job as reported by C2.
type JobState int

const (
	JobPending JobState = iota
	JobRunning
	JobOther
)

func (s JobState) String() string {
	switch s {
	case JobPending:
		return "Pending"
	case JobRunning:
		return "Running"
	case JobOther:
		return "Other"
	default:
		return "Unknown"
	}
}

// Job is the implicit entity indexed by job ID; queried on demand from
// both the store (for the core's bookkeeping copy) and the resource
// manager (for live scheduler state).
type Job struct {
	ID    uint32 `json:"id"`
	NCPUs uint32 `json:"ncpus"`
	NNodes uint32 `json:"nnodes"`
}

// MalleabilityOffer is created by malleability_avail and keyed by job ID.
// At most one live offer exists per job ID; a later offer overwrites an
// earlier one (last-writer-wins).
type MalleabilityOffer struct {
	JobID     uint32     `json:"job_id"`
	Kind      ClientKind `json:"kind"`
	PortName  string     `json:"port_name"`
	NNodes    uint32     `json:"nnodes"`
}

// Host is one entry of an expanded hostlist, per hostlist().
type Host struct {
	Name string
	CPUs uint32
}

func (h Host) String() string { return fmt.Sprintf("%s:%d", h.Name, h.CPUs) }
