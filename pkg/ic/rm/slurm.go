package rm

import (
	"context"
	"fmt"
	"strconv"

	slurm "github.com/jontk/slurm-client"
	slurmapi "github.com/jontk/slurm-client/api"

	"github.com/admire-eurohpc/ic/pkg/common"
	"github.com/admire-eurohpc/ic/pkg/ic/model"
)

// slurmStates maps the subset of Slurm's job_state values the
// controller cares about onto model.JobState. Every other known state
// (completed, failed, cancelled, and the rest) folds into
// model.JobOther, since C5 only distinguishes "still schedulable",
// "running now", and "don't wait on this job".
var slurmStates = map[slurmapi.JobState]model.JobState{
	slurmapi.JobStatePending:  model.JobPending,
	slurmapi.JobStateRunning:  model.JobRunning,
	slurmapi.JobStateResizing: model.JobRunning,
}

// SlurmAdapter implements Adapter against a live Slurm REST API via
// github.com/jontk/slurm-client, and delegates the grow/shrink call to
// a separate allocation broker reached over HTTP with resty, mirroring
// the allocation-broker split this package relies on.
type SlurmAdapter struct {
	client slurm.SlurmClient
	broker *AllocBrokerClient
	log    *common.Logger
}

// NewSlurmAdapter builds an Adapter backed by Slurm's REST API at
// baseURL (authenticated with token) and an allocation broker at
// brokerURL. token may be empty, which disables authentication: only
// appropriate for development clusters that have it open.
func NewSlurmAdapter(ctx context.Context, baseURL, token, brokerURL string, timeoutMs int, log *common.Logger) (*SlurmAdapter, error) {
	opts := []slurm.ClientOption{slurm.WithBaseURL(baseURL)}
	if token != "" {
		opts = append(opts, slurm.WithToken(token))
	} else {
		opts = append(opts, slurm.WithNoAuth())
	}

	client, err := slurm.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("rm: connect to slurm rest api at %s: %w", baseURL, err)
	}

	return &SlurmAdapter{
		client: client,
		broker: NewAllocBrokerClient(brokerURL, timeoutMs),
		log:    log,
	}, nil
}

// JobState implements Adapter.
func (a *SlurmAdapter) JobState(ctx context.Context, jobID uint32) (model.JobState, model.InternalErrorKind) {
	job, err := a.client.Jobs().Get(ctx, strconv.FormatUint(uint64(jobID), 10))
	if err != nil {
		a.log.Debug("rm: job_state lookup failed for job %d: %v", jobID, err)
		return model.JobOther, model.ErrRmInvalidJob
	}
	if job == nil || len(job.JobState) == 0 {
		return model.JobOther, model.ErrRmInvalidJob
	}
	if state, ok := slurmStates[job.JobState[0]]; ok {
		return state, model.ErrNone
	}
	return model.JobOther, model.ErrNone
}

// Hostlist implements Adapter. It prefers the per-node CPU detail in
// JobResources (one allocation entry per node, read directly) and falls
// back to parsing Job.Nodes with ParseHostlist when a scheduler does not
// report resources for a pending job.
func (a *SlurmAdapter) Hostlist(ctx context.Context, jobID uint32) ([]model.Host, model.InternalErrorKind) {
	job, err := a.client.Jobs().Get(ctx, strconv.FormatUint(uint64(jobID), 10))
	if err != nil || job == nil {
		a.log.Debug("rm: hostlist lookup failed for job %d: %v", jobID, err)
		return nil, model.ErrRmInvalidJob
	}

	if job.JobResources != nil && job.JobResources.Nodes != nil {
		allocation := job.JobResources.Nodes.Allocation
		if len(allocation) > 0 {
			hosts := make([]model.Host, 0, len(allocation))
			for _, node := range allocation {
				var cpus uint32
				if node.CPUs != nil && node.CPUs.Count != nil {
					cpus = uint32(*node.CPUs.Count)
				}
				hosts = append(hosts, model.Host{Name: node.Name, CPUs: cpus})
			}
			return hosts, model.ErrNone
		}
	}

	if job.Nodes == nil || *job.Nodes == "" {
		return nil, model.ErrNone
	}
	hosts, parseErr := ParseHostlist(*job.Nodes)
	if parseErr != nil {
		a.log.Warning("rm: unparsable hostlist for job %d: %v", jobID, parseErr)
		return nil, model.ErrRmInvalidJob
	}
	return hosts, model.ErrNone
}

// Alloc implements Adapter by delegating to the allocation broker.
// shrink requests are rejected here, before any network call, per
// the allocation broker only grows allocations.
func (a *SlurmAdapter) Alloc(ctx context.Context, jobID uint32, nNodes uint32, shrink bool) model.InternalErrorKind {
	if shrink {
		return model.ErrRmNotImplemented
	}
	if err := a.broker.Grow(ctx, jobID, nNodes); err != nil {
		a.log.Error("rm: alloc broker grow failed for job %d: %v", jobID, err)
		return model.ErrRmInvalidJob
	}
	return model.ErrNone
}
