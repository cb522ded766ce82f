package malleability

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/admire-eurohpc/ic/pkg/ic/model"
	"github.com/admire-eurohpc/ic/pkg/ic/rpc"
	"github.com/admire-eurohpc/ic/pkg/ic/wire"
)

// Sink is how the coordinator delivers an outbound reconfigure/resalloc
// call to a given client. Three transports exist because a registered
// client's Sink field selects, at registration time, which one fits its
// own runtime (an in-process test double, a lightweight datagram
// listener, or a full RPC peer), see model.ReconfigureSinkKind.
type Sink interface {
	Reconfigure(ctx context.Context, c model.Client, maxProcs uint32, hostlist string) error
	ResAlloc(ctx context.Context, c model.Client, shrink bool, ncpus uint32) error
}

// InProcessHandler lets a client living in the same process (used for
// tests, and for single-binary deployments that embed their own FlexMPI
// runtime) receive calls as direct function invocations instead of over
// a socket.
type InProcessHandler interface {
	Reconfigure(ctx context.Context, maxProcs uint32, hostlist string) error
	ResAlloc(ctx context.Context, shrink bool, ncpus uint32) error
}

// CompositeSink dispatches to the transport a client's Sink field
// selects. Datagram and RPC-forward both reuse pkg/ic/rpc's wire framing
// so a reconfigure/resalloc call looks the same on the wire whether a
// client or the coordinator originates it.
type CompositeSink struct {
	inProcess map[string]InProcessHandler
	dialTimeout time.Duration
}

// NewCompositeSink creates a sink with no in-process handlers registered
// yet; RegisterInProcess adds them as clients of that kind connect.
func NewCompositeSink(dialTimeout time.Duration) *CompositeSink {
	if dialTimeout <= 0 {
		dialTimeout = 2 * time.Second
	}
	return &CompositeSink{inProcess: make(map[string]InProcessHandler), dialTimeout: dialTimeout}
}

// RegisterInProcess associates a client ID with a handler living in this
// process. Clients of SinkInProcessFunction kind must be registered
// before their first reconfigure/resalloc delivery.
func (s *CompositeSink) RegisterInProcess(clientID string, h InProcessHandler) {
	s.inProcess[clientID] = h
}

// UnregisterInProcess removes a handler, called on client_deregister.
func (s *CompositeSink) UnregisterInProcess(clientID string) {
	delete(s.inProcess, clientID)
}

func (s *CompositeSink) Reconfigure(ctx context.Context, c model.Client, maxProcs uint32, hostlist string) error {
	switch c.Sink {
	case model.SinkInProcessFunction:
		h, ok := s.inProcess[c.ID]
		if !ok {
			return fmt.Errorf("malleability: no in-process handler registered for %s", c.ID)
		}
		return h.Reconfigure(ctx, maxProcs, hostlist)
	case model.SinkDatagramSocket:
		return s.sendDatagram(ctx, c.SinkDatagramAddr, "reconfigure", &rpc.ReconfigureReq{MaxProcs: maxProcs, Hostlist: hostlist})
	case model.SinkRpcForward:
		return s.forward(ctx, c.CallbackAddr, "reconfigure", &rpc.ReconfigureReq{MaxProcs: maxProcs, Hostlist: hostlist})
	default:
		return fmt.Errorf("malleability: unknown sink kind %q", c.Sink)
	}
}

func (s *CompositeSink) ResAlloc(ctx context.Context, c model.Client, shrink bool, ncpus uint32) error {
	switch c.Sink {
	case model.SinkInProcessFunction:
		h, ok := s.inProcess[c.ID]
		if !ok {
			return fmt.Errorf("malleability: no in-process handler registered for %s", c.ID)
		}
		return h.ResAlloc(ctx, shrink, ncpus)
	case model.SinkDatagramSocket:
		return s.sendDatagram(ctx, c.SinkDatagramAddr, "resalloc", &rpc.ResAllocReq{Shrink: shrink, NCPUs: ncpus})
	case model.SinkRpcForward:
		return s.forward(ctx, c.CallbackAddr, "resalloc", &rpc.ResAllocReq{Shrink: shrink, NCPUs: ncpus})
	default:
		return fmt.Errorf("malleability: unknown sink kind %q", c.Sink)
	}
}

// sendDatagram fires a single UDP frame and does not wait for a reply:
// the client-side resalloc/reconfigure handler is not expected to
// respond on this path: delivery is fire-and-forget by design.
func (s *CompositeSink) sendDatagram(ctx context.Context, addr string, name string, req interface{}) error {
	if addr == "" {
		return fmt.Errorf("malleability: empty datagram address")
	}
	payload, err := wire.Encode(req)
	if err != nil {
		return err
	}

	d := net.Dialer{Timeout: s.dialTimeout}
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return fmt.Errorf("malleability: dial datagram %s: %w", addr, err)
	}
	defer conn.Close()

	return rpc.WriteFrame(conn, name, payload)
}

// forward dials the client's own RPC listener and waits for its
// response frame, so a delivery failure (rc != Success, or a transport
// error) is observable to the caller and can be retried or dead-lettered.
func (s *CompositeSink) forward(ctx context.Context, addr string, name string, req interface{}) error {
	if addr == "" {
		return fmt.Errorf("malleability: empty callback address")
	}
	payload, err := wire.Encode(req)
	if err != nil {
		return err
	}

	d := net.Dialer{Timeout: s.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("malleability: dial %s: %w", addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := rpc.WriteFrame(conn, name, payload); err != nil {
		return err
	}
	_, respPayload, err := rpc.ReadFrame(conn)
	if err != nil {
		return fmt.Errorf("malleability: read response from %s: %w", addr, err)
	}

	var rc int32
	if len(respPayload) >= 4 {
		rc = int32(respPayload[0])<<24 | int32(respPayload[1])<<16 | int32(respPayload[2])<<8 | int32(respPayload[3])
	}
	if model.RC(rc) != model.RpcSuccess {
		return fmt.Errorf("malleability: %s rejected by %s: rc=%d", name, addr, rc)
	}
	return nil
}
