package store

import "github.com/admire-eurohpc/ic/pkg/ic/model"

// Handle is one worker's private view of the registry store. It is bound
// to a worker identity the first time Store.Handle is called for it and
// must never be shared across goroutines.
type Handle interface {
	SetClient(c model.Client) Result
	GetClient(id string) (model.Client, Result)
	// ListClients returns a page matching filter starting at cursor, plus
	// the cursor to resume from (0 means iteration is complete). The
	// returned page is a best-effort snapshot: duplicates are acceptable,
	// misses are acceptable only for items inserted after the scan began.
	ListClients(filter ClientFilter, cursor uint64, pageSize int) (page []model.Client, next uint64, res Result)
	// DeleteClient removes the client and returns its job ID (0 if none)
	// so callers can stamp the malleability coordinator's wake signal.
	// Idempotent: deleting an already-absent client returns NotFound
	// without mutating anything.
	DeleteClient(id string) (jobID uint32, res Result)

	SetJob(j model.Job) Result
	GetJob(id uint32) (model.Job, Result)
	DeleteJob(id uint32) Result

	// IncrNProcs adds delta (which may be negative) to a client's process
	// count and returns the resulting value.
	IncrNProcs(clientID string, delta int32) (newValue int32, res Result)

	SetMalleabilityOffer(o model.MalleabilityOffer) Result
	GetMalleabilityOffer(jobID uint32) (model.MalleabilityOffer, Result)

	// Close releases this handle. It does not close the underlying
	// shared database; the pool owns that lifetime.
	Close() error
}

// Store owns the shared bbolt database and the audit ledger, and vends
// per-worker Handles.
type Store interface {
	// Handle returns the persistent handle bound to workerID, creating it
	// on first use. The same workerID always returns the same Handle.
	Handle(workerID int) Handle
	// Close shuts down the underlying database(s). Safe to call once,
	// after all handles are done.
	Close() error
}
