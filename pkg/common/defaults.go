package common

import "time"

// Timeout defaults for RPC and malleability operations.
const (
	// DefaultRPCTimeout bounds a single dispatcher round trip.
	DefaultRPCTimeout = 30 * time.Second

	// DefaultOutboundTimeout is the per-client timeout for outbound
	// reconfigure/resalloc calls the malleability coordinator makes
	// (spec default: 2000ms).
	DefaultOutboundTimeout = 2000 * time.Millisecond

	// DefaultShutdownTimeout is the graceful shutdown timeout.
	DefaultShutdownTimeout = 10 * time.Second
)

// Database path defaults.
const (
	DefaultRegistryDBPath = "ic_registry.db"
	DefaultDLQDBPath      = "ic_dlq.db"
	DefaultAuditDBPath    = "ic_audit.db"
	DefaultIOSetCSVPath   = "iosets_out.csv"
)

// Pagination and drain defaults.
const (
	DefaultPageSize    = 100
	MaxPageSize        = 1000
	DefaultWorkerCount = 4

	// DefaultDrainPageSize is MalleabilityConfig.DrainPageSize's default;
	// it equals the coordinator's own fixed drain page size.
	DefaultDrainPageSize = 4
	// DefaultDrainPageCeiling is MalleabilityConfig.DrainPageCeiling's
	// default; it equals the coordinator's own fixed per-pass ceiling.
	DefaultDrainPageCeiling = 1024
)

// Address-file bootstrap defaults.
const (
	DefaultAddressFileName = "icc.addr"
)
