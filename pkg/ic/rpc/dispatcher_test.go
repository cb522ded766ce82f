package rpc

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/admire-eurohpc/ic/pkg/common"
	"github.com/admire-eurohpc/ic/pkg/common/workerpool"
	"github.com/admire-eurohpc/ic/pkg/ic/model"
	"github.com/admire-eurohpc/ic/pkg/ic/rm"
	"github.com/admire-eurohpc/ic/pkg/ic/store"
	"github.com/admire-eurohpc/ic/pkg/ic/wire"
)

type wakeRecorder struct {
	jobIDs []uint32
}

func (w *wakeRecorder) Wake(jobID uint32) { w.jobIDs = append(w.jobIDs, jobID) }

func newTestDispatcher(t *testing.T) (*Dispatcher, *wakeRecorder) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "registry.db")
	st, err := store.Open(dbPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	pool := workerpool.NewWorkerPool(&workerpool.Config{InitialSize: 2, MinSize: 1, MaxSize: 4, QueueSize: 16})
	t.Cleanup(func() { pool.Close() })

	log := common.NewLogger(testDiscard{}, common.CriticalLevel)
	d := New(pool, st, log)

	waker := &wakeRecorder{}
	d.WithWaker(waker).WithResourceManager(rm.NewFakeAdapter())
	return d, waker
}

type testDiscard struct{}

func (testDiscard) Write(p []byte) (int, error) { return len(p), nil }

func dispatchDecoded(t *testing.T, d *Dispatcher, name string, req interface{}, resp interface{}) {
	t.Helper()
	payload, err := wire.Encode(req)
	require.NoError(t, err)

	out, err := d.Dispatch(context.Background(), name, payload)
	require.NoError(t, err)
	require.NoError(t, wire.Decode(out, resp))
}

func TestDispatch_ClientRegisterDeregisterWakesCoordinator(t *testing.T) {
	d, waker := newTestDispatcher(t)

	var regResp ClientRegisterResp
	dispatchDecoded(t, d, "client_register", &ClientRegisterReq{
		ProviderTag: 1, JobID: 7, Kind: string(model.KindMPI), CallbackAddr: "tcp://x:1",
	}, &regResp)
	require.Equal(t, int32(model.RpcSuccess), regResp.RC)
	require.NotEmpty(t, regResp.ClientID)
	require.Equal(t, []uint32{7}, waker.jobIDs)

	var deregResp ClientDeregisterResp
	dispatchDecoded(t, d, "client_deregister", &ClientDeregisterReq{ClientID: regResp.ClientID}, &deregResp)
	require.Equal(t, int32(model.RpcSuccess), deregResp.RC)
	require.Equal(t, []uint32{7, 7}, waker.jobIDs)
}

// TestDispatch_RegisterDeregisterRoundTrip exercises scenario S1
// literally: a caller-supplied client ID must be the one persisted and
// later deleted, and NProcs/JobNCPUs/JobNNodes must be recorded from the
// request rather than left at zero.
func TestDispatch_RegisterDeregisterRoundTrip(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var regResp ClientRegisterResp
	dispatchDecoded(t, d, "client_register", &ClientRegisterReq{
		ClientID: "a", Kind: string(model.KindMPI), CallbackAddr: "tcp://x:1",
		ProviderTag: 0, JobID: 42, JobNCPUs: 4, JobNNodes: 1, NProcs: 4,
	}, &regResp)
	require.Equal(t, int32(model.RpcSuccess), regResp.RC)
	require.Equal(t, "a", regResp.ClientID)

	stored, res := d.store.Handle(0).GetClient("a")
	require.Equal(t, store.Ok, res)
	require.EqualValues(t, 4, stored.NProcs)
	require.EqualValues(t, 4, stored.JobNCPUs)
	require.EqualValues(t, 1, stored.JobNNodes)

	page, _, res := d.store.Handle(0).ListClients(store.ClientFilter{JobID: 42}, 0, 100)
	require.Equal(t, store.Ok, res)
	require.Len(t, page, 1)
	require.Equal(t, "a", page[0].ID)

	var deregResp ClientDeregisterResp
	dispatchDecoded(t, d, "client_deregister", &ClientDeregisterReq{ClientID: "a"}, &deregResp)
	require.Equal(t, int32(model.RpcSuccess), deregResp.RC)

	page, _, res = d.store.Handle(0).ListClients(store.ClientFilter{JobID: 42}, 0, 100)
	require.Equal(t, store.Ok, res)
	require.Empty(t, page)
}

func TestDispatch_ClientRegisterRejectsUnknownKind(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var resp ClientRegisterResp
	dispatchDecoded(t, d, "client_register", &ClientRegisterReq{Kind: "bogus"}, &resp)
	require.Equal(t, int32(model.RpcInvalidParam), resp.RC)
}

func TestDispatch_ClientDeregisterUnknownIsIdempotent(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var resp ClientDeregisterResp
	dispatchDecoded(t, d, "client_deregister", &ClientDeregisterReq{ClientID: "does-not-exist"}, &resp)
	require.Equal(t, int32(model.RpcSuccess), resp.RC)
}

func TestDispatch_Test(t *testing.T) {
	d, _ := newTestDispatcher(t)
	var resp TestResp
	dispatchDecoded(t, d, "test", &TestReq{Number: 42}, &resp)
	require.Equal(t, int32(model.RpcSuccess), resp.RC)
}

func TestDispatch_JobCleanPurgesFinishedJob(t *testing.T) {
	d, _ := newTestDispatcher(t)
	fake := d.rm.(*rm.FakeAdapter)
	fake.SetJobState(99, model.JobOther)

	st := d.store.Handle(0)
	require.Equal(t, store.Ok, st.SetJob(model.Job{ID: 99, NCPUs: 4}))

	var resp JobCleanResp
	dispatchDecoded(t, d, "jobclean", &JobCleanReq{JobID: 99}, &resp)
	require.Equal(t, int32(model.RpcSuccess), resp.RC)

	_, res := st.GetJob(99)
	require.Equal(t, store.NotFound, res)
}

func TestDispatch_JobCleanKeepsRunningJob(t *testing.T) {
	d, _ := newTestDispatcher(t)
	fake := d.rm.(*rm.FakeAdapter)
	fake.SetJobState(100, model.JobRunning)

	st := d.store.Handle(0)
	require.Equal(t, store.Ok, st.SetJob(model.Job{ID: 100, NCPUs: 4}))

	var resp JobCleanResp
	dispatchDecoded(t, d, "jobclean", &JobCleanReq{JobID: 100}, &resp)
	require.Equal(t, int32(model.RpcFailure), resp.RC)

	_, res := st.GetJob(100)
	require.Equal(t, store.Ok, res)
}

func TestDispatch_MalleabilityAvailStoresOffer(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var resp MalleabilityAvailResp
	dispatchDecoded(t, d, "malleability_avail", &MalleabilityAvailReq{
		JobID: 5, NNodes: 2, Kind: string(model.KindFlexMPI), PortName: "port-a",
	}, &resp)
	require.Equal(t, int32(model.RpcSuccess), resp.RC)

	offer, res := d.store.Handle(0).GetMalleabilityOffer(5)
	require.Equal(t, store.Ok, res)
	require.Equal(t, uint32(2), offer.NNodes)
	require.Equal(t, "port-a", offer.PortName)
}

func TestDispatch_UnknownRPCErrors(t *testing.T) {
	d, _ := newTestDispatcher(t)
	_, err := d.Dispatch(context.Background(), "not_a_real_rpc", nil)
	require.Error(t, err)
}

func TestDispatch_HintIOBeginWithoutControllerFails(t *testing.T) {
	d, _ := newTestDispatcher(t)
	var resp HintIOBeginResp
	dispatchDecoded(t, d, "hint_io_begin", &HintIOBeginReq{WIterMs: 1000, ClientID: "c1"}, &resp)
	require.Equal(t, int32(model.RpcFailure), resp.RC)
}
