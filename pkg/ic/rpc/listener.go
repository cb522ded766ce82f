package rpc

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/admire-eurohpc/ic/pkg/common"
)

// Server accepts connections and runs the dispatch protocol over each:
// frame in, submit to the dispatcher, frame the response back out.
// Every connection is independent; a slow or stalled client only ever
// blocks its own connection's goroutine, never the worker pool (the
// dispatcher's workers are shared across all connections).
type Server struct {
	ln   net.Listener
	d    *Dispatcher
	log  *common.Logger
	wg   sync.WaitGroup
	quit chan struct{}
}

// NewServer wraps ln, dispatching every accepted connection's frames
// through d.
func NewServer(ln net.Listener, d *Dispatcher, log *common.Logger) *Server {
	return &Server{ln: ln, d: d, log: log, quit: make(chan struct{})}
}

// Addr returns the listener's bound address, for writing the
// icc.addr bootstrap file.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Serve accepts connections until Close is called or the listener
// returns a non-transient error.
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return nil
			default:
			}
			return err
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// Close stops accepting new connections, then waits for every open
// connection's read loop to end, which happens when its client closes the
// connection or a read fails. Close does not close open connections
// itself, and does not wait for calls already handed to the dispatcher.
func (s *Server) Close() error {
	close(s.quit)
	err := s.ln.Close()
	s.wg.Wait()
	return err
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	var writeMu sync.Mutex

	for {
		name, payload, err := ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug("rpc: connection %s closed: %v", conn.RemoteAddr(), err)
			}
			return
		}

		// Each call runs on its own goroutine so one client's slow
		// handler never delays another frame already queued on the same
		// connection; responses are still written under writeMu so two
		// concurrent calls on one connection never interleave their
		// frame bytes.
		go func(name string, payload []byte) {
			resp, err := s.d.Dispatch(context.Background(), name, payload)
			if err != nil {
				s.log.Warning("rpc: dispatch %s failed: %v", name, err)
				return
			}
			writeMu.Lock()
			defer writeMu.Unlock()
			if err := WriteFrame(conn, name, resp); err != nil {
				s.log.Debug("rpc: write response for %s failed: %v", name, err)
			}
		}(name, payload)
	}
}
