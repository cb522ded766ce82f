package rm

import (
	"context"
	"sync"

	"github.com/admire-eurohpc/ic/pkg/ic/model"
)

// FakeAdapter is an in-memory Adapter used by tests for the packages
// that depend on C2 (C5's malleability coordinator, C3's dispatcher)
// without reaching a real Slurm cluster or allocation broker.
type FakeAdapter struct {
	mu        sync.Mutex
	states    map[uint32]model.JobState
	hostlists map[uint32][]model.Host
	allocs    []FakeAllocCall
}

// FakeAllocCall records one call made through Alloc, for assertions.
type FakeAllocCall struct {
	JobID  uint32
	NNodes uint32
	Shrink bool
}

// NewFakeAdapter returns an adapter with no jobs registered; every
// JobState/Hostlist lookup returns model.JobOther/nil until seeded.
func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{
		states:    make(map[uint32]model.JobState),
		hostlists: make(map[uint32][]model.Host),
	}
}

// SetJobState seeds the state JobState will report for jobID.
func (f *FakeAdapter) SetJobState(jobID uint32, state model.JobState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[jobID] = state
}

// SetHostlist seeds the hosts Hostlist will report for jobID.
func (f *FakeAdapter) SetHostlist(jobID uint32, hosts []model.Host) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hostlists[jobID] = hosts
}

// JobState implements Adapter.
func (f *FakeAdapter) JobState(_ context.Context, jobID uint32) (model.JobState, model.InternalErrorKind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.states[jobID]
	if !ok {
		return model.JobOther, model.ErrRmInvalidJob
	}
	return state, model.ErrNone
}

// Hostlist implements Adapter.
func (f *FakeAdapter) Hostlist(_ context.Context, jobID uint32) ([]model.Host, model.InternalErrorKind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hostlists[jobID], model.ErrNone
}

// Alloc implements Adapter, recording every call for inspection and
// honoring the same shrink-is-unimplemented contract as SlurmAdapter.
func (f *FakeAdapter) Alloc(_ context.Context, jobID uint32, nNodes uint32, shrink bool) model.InternalErrorKind {
	f.mu.Lock()
	f.allocs = append(f.allocs, FakeAllocCall{JobID: jobID, NNodes: nNodes, Shrink: shrink})
	f.mu.Unlock()
	if shrink {
		return model.ErrRmNotImplemented
	}
	return model.ErrNone
}

// Allocs returns every call made through Alloc so far, in order.
func (f *FakeAdapter) Allocs() []FakeAllocCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FakeAllocCall, len(f.allocs))
	copy(out, f.allocs)
	return out
}
