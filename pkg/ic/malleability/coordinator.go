// Package malleability implements the C5 malleability coordinator: the
// Idle/Armed/Working loop that reacts to client registration churn by
// recomputing each affected job's process-count target and pushing
// reconfigure/resalloc calls out to clients.
package malleability

import (
	"context"
	"fmt"
	"sync"
	"time"

	gotaskflow "github.com/noneback/go-taskflow"

	"github.com/admire-eurohpc/ic/pkg/common"
	"github.com/admire-eurohpc/ic/pkg/ic/fsm"
	"github.com/admire-eurohpc/ic/pkg/ic/model"
	"github.com/admire-eurohpc/ic/pkg/ic/reliability"
	"github.com/admire-eurohpc/ic/pkg/ic/rm"
	"github.com/admire-eurohpc/ic/pkg/ic/rpc"
	"github.com/admire-eurohpc/ic/pkg/ic/store"
	"github.com/admire-eurohpc/ic/pkg/ic/wire"
)

// The three coordinator states. Transitions: Idle->Armed on wake,
// Armed->Working once a drain cycle actually starts, Working->Idle when
// it finishes (whether or not anything needed resizing).
const (
	StateIdle    = "Idle"
	StateArmed   = "Armed"
	StateWorking = "Working"
)

const (
	wakeChanCapacity       = 64
	drainPageSize          = 4
	drainCeiling           = 1024
	defaultOutboundTimeout = 2 * time.Second

	// defaultResizeSettleDelay is how long the coordinator waits between
	// the grow and shrink legs of an MPI client's resalloc pair, giving
	// the resource manager's transient allocation state time to settle.
	defaultResizeSettleDelay = 20 * time.Second
)

func validTransition(from, to interface{}) error {
	f, _ := from.(string)
	t, _ := to.(string)
	switch {
	case f == StateIdle && t == StateArmed,
		f == StateArmed && t == StateWorking,
		f == StateArmed && t == StateIdle,
		f == StateWorking && t == StateIdle:
		return nil
	default:
		return fmt.Errorf("malleability: illegal transition %s -> %s", f, t)
	}
}

// Coordinator is the C5 component. One instance per server; Wake is
// called by the RPC dispatcher's client_register/client_deregister
// handlers and must never block the caller.
type Coordinator struct {
	st       store.Store
	workerID int
	rmAdapter rm.Adapter
	sink     Sink
	log      *common.Logger
	breakers *reliability.CircuitBreakerManager
	dlq      *reliability.DeadLetterQueue

	machine *fsm.BaseFSM
	wake    chan uint32
	timeout time.Duration

	resizeSettleDelay time.Duration

	executor gotaskflow.Executor

	quit chan struct{}
	wg   sync.WaitGroup
}

// Config collects Coordinator's tunables; zero values fall back to the
// documented defaults.
type Config struct {
	WorkerID          int
	OutboundTimeout   time.Duration
	TaskflowWorkers   uint
	ResizeSettleDelay time.Duration
}

// New builds an idle Coordinator. Call Start to begin processing wake
// signals.
func New(st store.Store, rmAdapter rm.Adapter, sink Sink, log *common.Logger, dlq *reliability.DeadLetterQueue, cfg Config) *Coordinator {
	timeout := cfg.OutboundTimeout
	if timeout <= 0 {
		timeout = defaultOutboundTimeout
	}
	workers := cfg.TaskflowWorkers
	if workers == 0 {
		workers = 4
	}
	settleDelay := cfg.ResizeSettleDelay
	if settleDelay <= 0 {
		settleDelay = defaultResizeSettleDelay
	}

	return &Coordinator{
		st:                st,
		workerID:          cfg.WorkerID,
		rmAdapter:         rmAdapter,
		sink:              sink,
		log:               log,
		breakers:          reliability.NewCircuitBreakerManager(reliability.CircuitBreakerConfig{FailureThreshold: 3, SuccessThreshold: 1, Timeout: 30 * time.Second}),
		dlq:               dlq,
		machine:           fsm.NewBaseFSM(StateIdle, nil, validTransition),
		wake:              make(chan uint32, wakeChanCapacity),
		timeout:           timeout,
		resizeSettleDelay: settleDelay,
		executor:          gotaskflow.NewExecutor(workers),
		quit:              make(chan struct{}),
	}
}

// State returns the coordinator's current Idle/Armed/Working state.
func (c *Coordinator) State() string {
	return c.machine.GetState().(string)
}

// DLQ exposes the dead-letter queue backing failed outbound deliveries,
// for the admin API's /status/malleability endpoint. May be nil.
func (c *Coordinator) DLQ() *reliability.DeadLetterQueue {
	return c.dlq
}

// Wake stamps jobID onto the coordinator's wake signal without blocking.
// A full channel means a drain cycle is already due to run soon, so the
// signal is dropped rather than queued; the next cycle's full registry
// scan picks up every pending change regardless of which job woke it.
func (c *Coordinator) Wake(jobID uint32) {
	select {
	case c.wake <- jobID:
	default:
		c.log.Debug("malleability: wake channel full, dropping signal for job %d", jobID)
	}
}

// Start runs the coordinator's loop in a background goroutine until ctx
// is done or Stop is called.
func (c *Coordinator) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.quit:
				return
			case jobID := <-c.wake:
				c.runCycle(ctx, jobID)
			}
		}
	}()
}

// Stop signals the loop to exit and waits for it.
func (c *Coordinator) Stop() {
	close(c.quit)
	c.wg.Wait()
}

// runCycle performs one Idle->Armed->Working->Idle pass: it drains the
// client registry, computes each client's process-count delta, and
// delivers every nonzero delta via the taskflow fan-out below.
func (c *Coordinator) runCycle(ctx context.Context, wokenBy uint32) {
	if err := c.machine.Transition(StateArmed, "wake", ""); err != nil {
		c.log.Debug("malleability: %v", err)
		return
	}
	// Collapse a burst of wake signals queued behind this one into this
	// pass: the registry scan below covers every job whichever woke it.
	for drained := false; !drained; {
		select {
		case <-c.wake:
		default:
			drained = true
		}
	}
	if err := c.machine.Transition(StateWorking, "drain-start", ""); err != nil {
		c.log.Error("malleability: %v", err)
		_ = c.machine.Transition(StateIdle, "recover", "")
		return
	}
	defer func() {
		if err := c.machine.Transition(StateIdle, "drain-done", ""); err != nil {
			c.log.Error("malleability: %v", err)
		}
	}()

	clients, err := c.drainClients(ctx)
	if err != nil {
		c.log.Error("malleability: drain failed (woken by job %d): %v", wokenBy, err)
		return
	}
	if len(clients) == 0 {
		return
	}

	deltas := c.computeDeltas(ctx, clients)
	if len(deltas) == 0 {
		return
	}

	c.deliverAll(ctx, deltas)
}

// drainClients pages through the whole client registry in groups of
// drainPageSize, stopping at drainCeiling clients even if more remain,
// a bound against one pathologically large registry starving every
// other wake cycle.
func (c *Coordinator) drainClients(ctx context.Context) ([]model.Client, error) {
	h := c.st.Handle(c.workerID)

	var all []model.Client
	var cursor uint64
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		page, next, res := h.ListClients(store.ClientFilter{}, cursor, drainPageSize)
		if res == store.Err {
			return nil, fmt.Errorf("list_clients failed at cursor %d", cursor)
		}
		all = append(all, page...)
		if next == 0 || len(all) >= drainCeiling {
			break
		}
		cursor = next
	}
	if len(all) > drainCeiling {
		all = all[:drainCeiling]
	}
	return all, nil
}

// delta pairs a client with the process-count change it needs and the
// job it belongs to.
type delta struct {
	client model.Client
	job    model.Job
	amount int32 // positive = grow, negative = shrink
}

// computeDeltas groups the drained clients by job and, for each job with
// a known registry entry, computes delta_procs = job.cpus/nclients -
// client.nprocs per client. Results that would
// overflow int32 are logged and dropped rather than silently wrapping.
func (c *Coordinator) computeDeltas(ctx context.Context, clients []model.Client) []delta {
	byJob := make(map[uint32][]model.Client)
	for _, cl := range clients {
		if cl.JobID == 0 {
			continue // ad-hoc clients are not tied to a malleable job
		}
		byJob[cl.JobID] = append(byJob[cl.JobID], cl)
	}

	h := c.st.Handle(c.workerID)
	var out []delta
	for jobID, group := range byJob {
		job, res := h.GetJob(jobID)
		if res != store.Ok {
			continue
		}
		nclients := int64(len(group))
		if nclients == 0 {
			continue
		}
		target := int64(job.NCPUs) / nclients

		for _, cl := range group {
			d := target - int64(cl.NProcs)
			if d == 0 {
				continue
			}
			if d > int64(1<<31-1) || d < -int64(1<<31) {
				c.log.Critical("malleability: delta_procs overflow for client %s (job %d): %d", cl.ID, jobID, d)
				continue
			}
			out = append(out, delta{client: cl, job: job, amount: int32(d)})
		}
	}
	_ = ctx
	return out
}

// deliverAll fans every delta out through go-taskflow, one task per
// client. FlexMPI clients get a single reconfigure call; MPI clients run
// their own self-contained resalloc grow/settle/shrink cycle inside
// deliverOne, so no cross-task ordering is needed between them.
func (c *Coordinator) deliverAll(ctx context.Context, deltas []delta) {
	tf := gotaskflow.NewTaskFlow("malleability-cycle")

	for i := range deltas {
		d := deltas[i]
		label := fmt.Sprintf("deliver-%s", d.client.ID)
		tf.NewTask(label, func() {
			c.deliverOne(ctx, d)
		})
	}

	c.executor.Run(tf).Wait()
}

// deliverOne delivers a single client's resize through its circuit
// breaker, with a bounded timeout, never holding any coordinator lock
// while the outbound call is in flight (there is none to hold here: all
// state this function touches is either immutable per-call or private
// to the breaker/store, both already safe for concurrent use).
func (c *Coordinator) deliverOne(ctx context.Context, d delta) {
	// The MPI resalloc pair brackets a tens-of-seconds settle wait, far
	// longer than the default per-call outbound timeout, so it runs
	// against the cycle's own ctx rather than a short callCtx; each leg
	// still gets its own bounded timeout inside sendResizeMPI.
	var err error
	if d.client.Kind == model.KindMPI {
		err = c.breakers.Call(d.client.ID, func() error {
			return c.sendResizeMPI(ctx, d)
		})
	} else {
		err = c.breakers.Call(d.client.ID, func() error {
			callCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			return c.sendResize(callCtx, d)
		})
	}
	if err != nil {
		c.log.Warning("malleability: delivery to %s failed: %v", d.client.ID, err)
		c.deadLetter(d, err)
		return
	}

	// The resalloc demo pair nets back to the client's starting process
	// count, so nprocs persistence only applies to the FlexMPI
	// reconfigure path, matching the original jobmon/icdb behavior.
	if d.client.Kind != model.KindFlexMPI {
		return
	}
	h := c.st.Handle(c.workerID)
	if _, res := h.IncrNProcs(d.client.ID, d.amount); res != store.Ok {
		c.log.Warning("malleability: store update for %s failed after successful delivery", d.client.ID)
	}
}

func (c *Coordinator) sendResize(ctx context.Context, d delta) error {
	hosts, errKind := c.rmAdapter.Hostlist(ctx, d.job.ID)
	if errKind != model.ErrNone {
		return fmt.Errorf("hostlist lookup failed: %s", errKind.ToRC())
	}
	newProcs := d.client.NProcs + d.amount
	if newProcs < 0 {
		newProcs = 0
	}
	return c.sink.Reconfigure(ctx, d.client, uint32(newProcs), rm.FormatHostlist(hosts))
}

// sendResizeMPI issues the documented resalloc demonstration pair for a
// rigid MPI client: grow by the computed node delta, wait long enough
// for the resource manager's transient allocation state to settle, then
// shrink back down by the same count. It is a fixed demo cycle, not a
// persistent resize: the job's node count is unchanged once both legs
// land, so no store update follows it.
func (c *Coordinator) sendResizeMPI(ctx context.Context, d delta) error {
	nNodes := uint32(d.amount)
	if d.amount < 0 {
		nNodes = uint32(-d.amount)
	}
	if nNodes == 0 {
		nNodes = 1
	}

	if err := c.resallocLeg(ctx, d, nNodes, false); err != nil {
		return fmt.Errorf("resalloc grow leg: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.resizeSettleDelay):
	}

	if err := c.resallocLeg(ctx, d, nNodes, true); err != nil {
		return fmt.Errorf("resalloc shrink leg: %w", err)
	}
	return nil
}

// resallocLeg sends one half of the resalloc pair, bounded by the
// coordinator's ordinary outbound timeout.
func (c *Coordinator) resallocLeg(ctx context.Context, d delta, nNodes uint32, shrink bool) error {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if errKind := c.rmAdapter.Alloc(callCtx, d.job.ID, nNodes, shrink); errKind != model.ErrNone {
		return fmt.Errorf("resource manager alloc failed: %s", errKind.ToRC())
	}
	return c.sink.ResAlloc(callCtx, d.client, shrink, nNodes)
}

// deadLetter persists the failed attempt so an operator can inspect and
// replay it; the DLQ is optional (nil in tests that don't exercise it).
func (c *Coordinator) deadLetter(d delta, cause error) {
	if c.dlq == nil {
		return
	}

	var name string
	var req interface{}
	if d.client.Kind == model.KindFlexMPI {
		name = "reconfigure"
		newProcs := d.client.NProcs + d.amount
		if newProcs < 0 {
			newProcs = 0
		}
		req = &rpc.ReconfigureReq{MaxProcs: uint32(newProcs)}
	} else {
		name = "resalloc"
		shrink := d.amount < 0
		nNodes := d.amount
		if shrink {
			nNodes = -nNodes
		}
		req = &rpc.ResAllocReq{Shrink: shrink, NCPUs: uint32(nNodes)}
	}

	payload, err := wire.Encode(req)
	if err != nil {
		c.log.Error("malleability: failed to encode dead-lettered call for %s: %v", d.client.ID, err)
		return
	}

	messageID := fmt.Sprintf("%d-%s-%d", d.job.ID, d.client.ID, time.Now().UnixNano())
	call := reliability.OutboundCall{ClientID: d.client.ID, JobID: d.job.ID, RPCName: name, Payload: payload}
	if err := c.dlq.Add(messageID, call, cause.Error()); err != nil {
		c.log.Error("malleability: failed to dead-letter call for %s: %v", d.client.ID, err)
	}
}
