// Package rm implements the C2 Resource-Manager adapter: job-state lookup
// and hostlist retrieval against Slurm, plus the grow/shrink allocation
// call, which is routed through a separate allocation
// broker rather than Slurm itself.
package rm

import (
	"context"

	"github.com/admire-eurohpc/ic/pkg/ic/model"
)

// Adapter is the C2 contract every handler in pkg/ic/rpc depends on.
// Implementations must never block the calling worker indefinitely:
// alloc honors ctx's deadline.
type Adapter interface {
	// JobState reports a job's coarse state. An unknown job ID is not an
	// error: it yields model.JobOther with a RmInvalidJob internal error
	// by convention.
	JobState(ctx context.Context, jobID uint32) (model.JobState, model.InternalErrorKind)

	// Hostlist resolves a job's allocated nodes, expanding Slurm's
	// "(count,reps)" repetition encoding into one model.Host per node.
	Hostlist(ctx context.Context, jobID uint32) ([]model.Host, model.InternalErrorKind)

	// Alloc requests a grow (shrink=false) or shrink (shrink=true)
	// reallocation of nNodes nodes for jobID. Shrink is not implemented
	// by the reference allocation broker and must return
	// RmNotImplemented cleanly.
	Alloc(ctx context.Context, jobID uint32, nNodes uint32, shrink bool) model.InternalErrorKind
}
