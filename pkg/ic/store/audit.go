package store

import (
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/admire-eurohpc/ic/pkg/ic/model"
)

// AuditLedger records a best-effort history of registry events to a
// secondary sqlite database through gorm, with tables created by
// AutoMigrate. It is never the source of truth: the live bbolt registry
// is. A failed audit write is silently ignored, never surfaced as an RPC
// failure.
type AuditLedger struct {
	db *gorm.DB
}

// JobDeletionRecord is one row of the audit ledger's job_deletions table.
type JobDeletionRecord struct {
	gorm.Model
	JobID uint32 `gorm:"index"`
}

// OfferRecord is one row of the audit ledger's malleability_offers table,
// kept even after a later offer supersedes it in the live registry so an
// operator can see the history of offers for a job.
type OfferRecord struct {
	gorm.Model
	JobID    uint32 `gorm:"index"`
	Kind     string
	PortName string
	NNodes   uint32
}

// AllocationRecord is one row of the audit ledger's allocations table,
// written by RecordAllocation.
type AllocationRecord struct {
	gorm.Model
	JobID    uint32 `gorm:"index"`
	NCPUs    uint32
	Hostlist string
}

// OpenAuditLedger opens (or creates) a sqlite database at dsn and
// migrates its tables. A nil *AuditLedger is a valid, inert choice for
// callers that pass dsn == "".
func OpenAuditLedger(dsn string) (*AuditLedger, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&JobDeletionRecord{}, &OfferRecord{}, &AllocationRecord{}); err != nil {
		return nil, err
	}
	return &AuditLedger{db: db}, nil
}

// RecordJobDeleted appends a job-deletion row. Errors are swallowed: the
// ledger is reporting surface, never a correctness gate.
func (a *AuditLedger) RecordJobDeleted(jobID uint32) {
	if a == nil {
		return
	}
	a.db.Create(&JobDeletionRecord{JobID: jobID})
}

// RecordOfferSuperseded appends an offer row every time set_malleability_offer
// is called, even though the live registry only ever keeps the latest.
func (a *AuditLedger) RecordOfferSuperseded(o model.MalleabilityOffer) {
	if a == nil {
		return
	}
	a.db.Create(&OfferRecord{JobID: o.JobID, Kind: string(o.Kind), PortName: o.PortName, NNodes: o.NNodes})
}

// RecordAllocation appends an allocation-outcome row. No RPC handler
// calls it: resallocdone updates only the job record in bbolt.
func (a *AuditLedger) RecordAllocation(jobID uint32, ncpus uint32, hostlist string) {
	if a == nil {
		return
	}
	a.db.Create(&AllocationRecord{JobID: jobID, NCPUs: ncpus, Hostlist: hostlist})
}

// RecentAllocations returns up to limit most recent allocation records
// for jobID, newest first. Used by icreport.
func (a *AuditLedger) RecentAllocations(jobID uint32, limit int) ([]AllocationRecord, error) {
	if a == nil {
		return nil, nil
	}
	var out []AllocationRecord
	err := a.db.Where("job_id = ?", jobID).Order("created_at desc").Limit(limit).Find(&out).Error
	return out, err
}

// Close releases the underlying sqlite connection.
func (a *AuditLedger) Close() error {
	if a == nil {
		return nil
	}
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
