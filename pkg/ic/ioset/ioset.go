// Package ioset implements the C4 I/O-set admission controller: it
// buckets applications into priority classes by characteristic I/O
// period and admits at most one concurrent writer across the system and
// one per class.
package ioset

import (
	"fmt"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/admire-eurohpc/ic/pkg/ic/model"
	"github.com/admire-eurohpc/ic/pkg/ic/store"
)

// ioSet is one priority class, created lazily on first HintIOBegin with a
// given set ID.
type ioSet struct {
	id       int
	priority float64
	mu       sync.Mutex
	cond     *sync.Cond
	inPhase  bool

	// inPhaseFlag mirrors inPhase for lock-free reads: the slice-budget
	// computation in HintIOBegin runs while globalMu is already held, and
	// leaf-lock discipline (§5) requires per-set locks be acquired before
	// the global one, never the other way around, so that computation
	// must not also take mu for every set while holding globalMu. Every
	// write to inPhase under mu is mirrored here in the same critical
	// section.
	inPhaseFlag atomic.Bool
}

// openCall tracks one client's in-flight IOBegin..IOEnd bracket, used to
// compute the iosets_out.csv timing columns.
type openCall struct {
	clientID  string
	setID     int
	witerMs   int64
	waitStart int64
	ioStart   int64
}

// Controller is the C4 admission controller. One instance is shared by
// the whole server; every RPC worker calls into it concurrently, so all
// state is protected by the two-phase lock in setlock.go.
type Controller struct {
	setsLock *setMapLock
	sets     map[int]*ioSet

	globalMu         sync.Mutex
	globalCond       *sync.Cond
	anyWriterRunning bool

	openMu sync.Mutex
	open   map[string]*openCall

	epoch time.Time

	csvMu   sync.Mutex
	csvFile *os.File

	audit *store.AuditLedger
}

// NewController creates a controller that appends release events to
// csvPath (created with the standard header if the file
// is new). audit, which may be nil, is kept on the controller, but no
// release event is written to it.
func NewController(csvPath string, audit *store.AuditLedger) (*Controller, error) {
	c := &Controller{
		setsLock: newSetMapLock(),
		sets:     make(map[int]*ioSet),
		open:     make(map[string]*openCall),
		epoch:    time.Now(),
		audit:    audit,
	}
	c.globalCond = sync.NewCond(&c.globalMu)

	needsHeader := false
	if _, err := os.Stat(csvPath); os.IsNotExist(err) {
		needsHeader = true
	}
	f, err := os.OpenFile(csvPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open iosets csv: %w", err)
	}
	if needsHeader {
		if _, err := f.WriteString("\"appid\",witer,waitstart,iostart,ioend,nbytes\n"); err != nil {
			f.Close()
			return nil, err
		}
	}
	c.csvFile = f
	return c, nil
}

// SetID computes the set identification rule this controller uses:
// round(log10(witer_ms / 1000)).
func SetID(witerMs int64) int {
	seconds := float64(witerMs) / 1000.0
	return int(math.Round(math.Log10(seconds)))
}

// Priority returns 10^setID for a given set ID.
func Priority(setID int) float64 {
	return math.Pow(10, float64(setID))
}

func (c *Controller) nanosSinceEpoch() int64 {
	return time.Since(c.epoch).Nanoseconds()
}

// getOrCreateSet locates the set for setID, creating it under the map's
// writer lock only when absent.
func (c *Controller) getOrCreateSet(setID int) *ioSet {
	c.setsLock.RLock()
	s, ok := c.sets[setID]
	c.setsLock.RUnlock()
	if ok {
		return s
	}

	c.setsLock.WLock()
	defer c.setsLock.WUnlock()
	if s, ok := c.sets[setID]; ok {
		return s
	}
	s = &ioSet{id: setID, priority: Priority(setID)}
	s.cond = sync.NewCond(&s.mu)
	c.sets[setID] = s
	return s
}

// HintIOBegin implements the hint_io_begin RPC's effect. witerMs == 0 is
// rejected as an invalid request.
func (c *Controller) HintIOBegin(clientID string, witerMs int64, phaseFlag bool) (nslices int64, rc model.RC) {
	if witerMs <= 0 {
		return 0, model.RpcFailure
	}

	waitStart := c.nanosSinceEpoch()
	setID := SetID(witerMs)
	set := c.getOrCreateSet(setID)

	// Phase-local gate: at most one application per set in phase.
	if phaseFlag {
		set.mu.Lock()
		for set.inPhase {
			set.cond.Wait()
		}
		set.inPhase = true
		set.inPhaseFlag.Store(true)
		set.mu.Unlock()
	}

	// Global gate: at most one writer across the whole system.
	c.globalMu.Lock()
	for c.anyWriterRunning {
		c.globalCond.Wait()
	}
	c.anyWriterRunning = true

	ioStart := c.nanosSinceEpoch()

	// Compute the slice budget under a read lock on the set map: scale is
	// the reciprocal of the smallest priority among currently in-phase
	// sets (monopoly case: scale = 1/p when this set is the only one).
	// globalMu is already held here, so this must not also acquire any
	// set's mu (leaf-lock order is per-set then global, never the
	// reverse); priority is invariant once a set exists and inPhaseFlag
	// is kept in sync with inPhase under mu, so both are safe to read
	// without it.
	c.setsLock.RLock()
	minPriority := set.priority
	for _, s := range c.sets {
		if s.inPhaseFlag.Load() && s.priority < minPriority {
			minPriority = s.priority
		}
	}
	c.setsLock.RUnlock()

	scale := 1.0 / minPriority
	slices := math.Ceil(set.priority * scale)
	if slices < 1 {
		slices = 1
	}

	// Release the global admission mutex before responding; the token is
	// held implicitly by the caller until hint_io_end.
	c.globalMu.Unlock()

	c.openMu.Lock()
	c.open[clientID] = &openCall{clientID: clientID, setID: setID, witerMs: witerMs, waitStart: waitStart, ioStart: ioStart}
	c.openMu.Unlock()

	return int64(slices), model.RpcSuccess
}

// HintIOEnd implements the hint_io_end RPC's effect, releasing both
// gates and appending the iosets_out.csv row.
func (c *Controller) HintIOEnd(clientID string, witerMs int64, phaseFlag bool, nbytes uint64) model.RC {
	c.globalMu.Lock()
	c.anyWriterRunning = false
	c.globalCond.Signal()
	c.globalMu.Unlock()

	setID := SetID(witerMs)
	if phaseFlag {
		set := c.getOrCreateSet(setID)
		set.mu.Lock()
		set.inPhase = false
		set.inPhaseFlag.Store(false)
		set.cond.Signal()
		set.mu.Unlock()
	}

	ioEnd := c.nanosSinceEpoch()

	c.openMu.Lock()
	call, ok := c.open[clientID]
	if ok {
		delete(c.open, clientID)
	}
	c.openMu.Unlock()

	if !ok {
		// No matching IOBegin: nothing to report, but still a clean
		// success: handlers must tolerate a client that calls IOEnd
		// defensively.
		return model.RpcSuccess
	}

	c.appendCSVRow(call, ioEnd, nbytes)
	return model.RpcSuccess
}

func (c *Controller) appendCSVRow(call *openCall, ioEnd int64, nbytes uint64) {
	c.csvMu.Lock()
	defer c.csvMu.Unlock()
	fmt.Fprintf(c.csvFile, "%q,%d,%d,%d,%d,%d\n", call.clientID, call.witerMs, call.waitStart, call.ioStart, ioEnd, nbytes)
}

// SetSnapshot is a read-only view of one priority class, for the admin
// API's /status/iosets endpoint.
type SetSnapshot struct {
	SetID    int     `json:"set_id"`
	Priority float64 `json:"priority"`
	InPhase  bool    `json:"in_phase"`
}

// Snapshot reports every priority class seen so far and whether the
// global admission gate currently has a writer in flight.
func (c *Controller) Snapshot() (sets []SetSnapshot, anyWriterRunning bool) {
	c.setsLock.RLock()
	sets = make([]SetSnapshot, 0, len(c.sets))
	for _, s := range c.sets {
		s.mu.Lock()
		sets = append(sets, SetSnapshot{SetID: s.id, Priority: s.priority, InPhase: s.inPhase})
		s.mu.Unlock()
	}
	c.setsLock.RUnlock()

	c.globalMu.Lock()
	anyWriterRunning = c.anyWriterRunning
	c.globalMu.Unlock()
	return sets, anyWriterRunning
}

// Close flushes and closes the underlying CSV file.
func (c *Controller) Close() error {
	return c.csvFile.Close()
}
