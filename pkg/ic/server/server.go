// Package server wires the C1-C5 components into one running IC: a
// registry store, a resource-manager adapter, the I/O-set admission
// controller, the RPC dispatcher and its listener, and the malleability
// coordinator, plus the address-file bootstrap clients use to find it.
package server

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/admire-eurohpc/ic/pkg/common"
	"github.com/admire-eurohpc/ic/pkg/common/workerpool"
	"github.com/admire-eurohpc/ic/pkg/ic/ioset"
	"github.com/admire-eurohpc/ic/pkg/ic/malleability"
	"github.com/admire-eurohpc/ic/pkg/ic/reliability"
	"github.com/admire-eurohpc/ic/pkg/ic/rm"
	"github.com/admire-eurohpc/ic/pkg/ic/rpc"
	"github.com/admire-eurohpc/ic/pkg/ic/store"
)

// dlqMaxSize bounds the dead-letter queue's retained entries; once it is
// reached, Add rejects further records with an error.
const dlqMaxSize = 10000

// Server owns every C1-C5 collaborator for one running IC instance.
// Callers build one with New, call Start, and Stop it on shutdown.
type Server struct {
	cfg *common.Config
	log *common.Logger

	store       store.Store
	auditLedger *store.AuditLedger
	rmAdapter   rm.Adapter
	ioset       *ioset.Controller
	pool        *workerpool.WorkerPool
	dispatcher  *rpc.Dispatcher
	coordinator *malleability.Coordinator
	sink        *malleability.CompositeSink
	dlq         *reliability.DeadLetterQueue

	rpcServer *rpc.Server
	addrFile  string
}

// New constructs every collaborator from cfg but does not yet bind a
// listener or start the coordinator; call Start for that.
func New(cfg *common.Config, log *common.Logger) (*Server, error) {
	s := &Server{cfg: cfg, log: log}

	if cfg.Store.AuditDSN != "" {
		ledger, err := store.OpenAuditLedger(cfg.Store.AuditDSN)
		if err != nil {
			return nil, fmt.Errorf("server: open audit ledger: %w", err)
		}
		s.auditLedger = ledger
	}

	st, err := store.Open(cfg.Store.BoltPath, s.auditLedger)
	if err != nil {
		return nil, fmt.Errorf("server: open registry store: %w", err)
	}
	s.store = st

	ioCtl, err := ioset.NewController(cfg.IOSet.OutputCSVPath, s.auditLedger)
	if err != nil {
		return nil, fmt.Errorf("server: open ioset controller: %w", err)
	}
	s.ioset = ioCtl

	s.rmAdapter, err = newRMAdapter(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("server: build resource-manager adapter: %w", err)
	}

	dlq, err := reliability.NewDeadLetterQueue(cfg.Malleability.DLQPath, dlqMaxSize)
	if err != nil {
		return nil, fmt.Errorf("server: open dead-letter queue: %w", err)
	}
	s.dlq = dlq

	s.sink = malleability.NewCompositeSink(common.DefaultRPCTimeout)

	workerCount := cfg.Server.WorkerCount
	if workerCount < 2 {
		workerCount = common.DefaultWorkerCount
	}
	s.pool = workerpool.NewWorkerPool(&workerpool.Config{
		InitialSize: workerCount,
		MinSize:     workerCount,
		MaxSize:     workerCount,
		QueueSize:   workerCount * 10,
	})

	s.coordinator = malleability.New(s.store, s.rmAdapter, s.sink, log, s.dlq, malleability.Config{
		WorkerID:        0,
		OutboundTimeout: millis(cfg.Malleability.OutboundTimeoutMs, common.DefaultOutboundTimeout),
	})

	s.dispatcher = rpc.New(s.pool, s.store, log).
		WithResourceManager(s.rmAdapter).
		WithIOSetController(s.ioset).
		WithWaker(s.coordinator)

	return s, nil
}

func newRMAdapter(cfg *common.Config, log *common.Logger) (rm.Adapter, error) {
	if cfg.RM.SlurmRestURL == "" {
		log.Warning("server: rm.slurm_rest_url unset, using fake resource-manager adapter")
		return rm.NewFakeAdapter(), nil
	}
	return rm.NewSlurmAdapter(
		context.Background(),
		cfg.RM.SlurmRestURL,
		cfg.RM.SlurmRestToken,
		cfg.RM.AllocBrokerURL,
		cfg.RM.AllocTimeoutMs,
		log,
	)
}

func millis(ms int, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

// Dispatcher exposes the RPC dispatcher, including its registered names
// and documentation schemas.
func (s *Server) Dispatcher() *rpc.Dispatcher { return s.dispatcher }

// IOSetController exposes C4 for the admin API's /status/iosets endpoint.
func (s *Server) IOSetController() *ioset.Controller { return s.ioset }

// Coordinator exposes C5 for the admin API's /status/malleability endpoint.
func (s *Server) Coordinator() *malleability.Coordinator { return s.coordinator }

// Store exposes C1 for the admin API's /status/clients endpoint.
func (s *Server) Store() store.Store { return s.store }

// Addr returns the RPC listener's bound address. Valid only after Start.
func (s *Server) Addr() net.Addr {
	if s.rpcServer == nil {
		return nil
	}
	return s.rpcServer.Addr()
}

// Start binds the RPC listener, writes the bootstrap address file, and
// begins serving RPCs and running the malleability coordinator. It
// returns once the listener is bound; Serve runs in a background
// goroutine until Stop is called.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Address)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.cfg.Server.Address, err)
	}

	s.rpcServer = rpc.NewServer(ln, s.dispatcher, s.log)

	addrFile, err := writeAddressFile(s.cfg.Server.AddressFileOverride, ln.Addr().String())
	if err != nil {
		ln.Close()
		return fmt.Errorf("server: write address file: %w", err)
	}
	s.addrFile = addrFile

	s.coordinator.Start(ctx)

	go func() {
		if err := s.rpcServer.Serve(); err != nil {
			s.log.Error("server: rpc listener stopped: %v", err)
		}
	}()

	s.log.Info("server: listening on %s (bootstrap file %s)", ln.Addr(), addrFile)
	return nil
}

// Stop drains in-flight RPCs, stops the coordinator, removes the
// bootstrap address file, and closes every owned resource. Safe to call
// once, after Start.
func (s *Server) Stop() error {
	if s.rpcServer != nil {
		_ = s.rpcServer.Close()
	}
	s.coordinator.Stop()
	s.pool.Close()

	if s.addrFile != "" {
		_ = os.Remove(s.addrFile)
	}

	s.dlq.Close()
	s.store.Close()
	if s.auditLedger != nil {
		s.auditLedger.Close()
	}
	return nil
}

// writeAddressFile picks the bootstrap path (override, $ADMIRE_DIR,
// $HOME, or the working directory, in that order) and writes addr to it.
func writeAddressFile(override, addr string) (string, error) {
	path := override
	if path == "" {
		path = bootstrapPath()
	}
	if err := os.WriteFile(path, []byte(addr), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func bootstrapPath() string {
	if dir := os.Getenv("ADMIRE_DIR"); dir != "" {
		return filepath.Join(dir, common.DefaultAddressFileName)
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, common.DefaultAddressFileName)
	}
	return common.DefaultAddressFileName
}
