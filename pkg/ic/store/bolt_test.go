package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/admire-eurohpc/ic/pkg/ic/model"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "registry.db")
	s, err := Open(dbPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestClientRoundTrip(t *testing.T) {
	s := newTestStore(t)
	h := s.Handle(0)

	c := model.Client{ID: "a", Kind: model.KindMPI, CallbackAddr: "tcp://x:1", JobID: 42, JobNCPUs: 4, JobNNodes: 1, NProcs: 4}
	require.Equal(t, Ok, h.SetClient(c))

	got, res := h.GetClient("a")
	require.Equal(t, Ok, res)
	require.Equal(t, c, got)
}

// TestRegisterDeregisterRegister checks the round-trip property:
// register -> deregister -> register of the same client
// ID yields a state equal to a single register.
func TestRegisterDeregisterRegister(t *testing.T) {
	s := newTestStore(t)
	h := s.Handle(0)

	c := model.Client{ID: "a", Kind: model.KindMPI, JobID: 42, NProcs: 4}
	require.Equal(t, Ok, h.SetClient(c))

	jobID, res := h.DeleteClient("a")
	require.Equal(t, Ok, res)
	require.Equal(t, uint32(42), jobID)

	require.Equal(t, Ok, h.SetClient(c))
	got, res := h.GetClient("a")
	require.Equal(t, Ok, res)
	require.Equal(t, c, got)
}

// TestDeleteIsIdempotent checks that a second
// delete returns NotFound without mutation.
func TestDeleteIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	h := s.Handle(0)

	c := model.Client{ID: "a", Kind: model.KindMPI}
	require.Equal(t, Ok, h.SetClient(c))

	_, res := h.DeleteClient("a")
	require.Equal(t, Ok, res)

	_, res = h.DeleteClient("a")
	require.Equal(t, NotFound, res)
}

func TestListClientsFiltersByJobID(t *testing.T) {
	s := newTestStore(t)
	h := s.Handle(0)

	require.Equal(t, Ok, h.SetClient(model.Client{ID: "a", Kind: model.KindFlexMPI, JobID: 42}))
	require.Equal(t, Ok, h.SetClient(model.Client{ID: "b", Kind: model.KindFlexMPI, JobID: 43}))

	page, _, res := h.ListClients(ClientFilter{JobID: 42}, 0, 100)
	require.Equal(t, Ok, res)
	require.Len(t, page, 1)
	require.Equal(t, "a", page[0].ID)
}

// TestListClientsAfterDelete checks that after
// deregistering, list_clients(jobid=X) returns empty.
func TestListClientsAfterDelete(t *testing.T) {
	s := newTestStore(t)
	h := s.Handle(0)

	require.Equal(t, Ok, h.SetClient(model.Client{ID: "a", Kind: model.KindMPI, JobID: 42}))
	_, res := h.DeleteClient("a")
	require.Equal(t, Ok, res)

	page, _, res := h.ListClients(ClientFilter{JobID: 42}, 0, 100)
	require.Equal(t, Ok, res)
	require.Empty(t, page)
}

func TestIncrNProcs(t *testing.T) {
	s := newTestStore(t)
	h := s.Handle(0)

	require.Equal(t, Ok, h.SetClient(model.Client{ID: "a", NProcs: 4}))

	v, res := h.IncrNProcs("a", -1)
	require.Equal(t, Ok, res)
	require.EqualValues(t, 3, v)

	_, res = h.IncrNProcs("missing", 1)
	require.Equal(t, NotFound, res)
}

// TestMalleabilityOfferLastWriterWins checks that two offers for the
// same job leave the store holding the later one's values.
func TestMalleabilityOfferLastWriterWins(t *testing.T) {
	s := newTestStore(t)
	h := s.Handle(0)

	require.Equal(t, Ok, h.SetMalleabilityOffer(model.MalleabilityOffer{JobID: 7, Kind: model.KindFlexMPI, NNodes: 2}))
	require.Equal(t, Ok, h.SetMalleabilityOffer(model.MalleabilityOffer{JobID: 7, Kind: model.KindFlexMPI, NNodes: 5}))

	got, res := h.GetMalleabilityOffer(7)
	require.Equal(t, Ok, res)
	require.EqualValues(t, 5, got.NNodes)
}

func TestJobRoundTrip(t *testing.T) {
	s := newTestStore(t)
	h := s.Handle(0)

	require.Equal(t, Ok, h.SetJob(model.Job{ID: 99, NCPUs: 8, NNodes: 2}))
	j, res := h.GetJob(99)
	require.Equal(t, Ok, res)
	require.EqualValues(t, 8, j.NCPUs)

	require.Equal(t, Ok, h.DeleteJob(99))
	require.Equal(t, NotFound, h.DeleteJob(99))
}

// TestListClientsPagesAcrossCursor checks that a non-zero cursor resumes
// iteration instead of restarting it: paging through with pageSize=1
// must visit every client exactly once.
func TestListClientsPagesAcrossCursor(t *testing.T) {
	s := newTestStore(t)
	h := s.Handle(0)

	ids := []string{"11111111-1111-1111-1111-111111111111", "22222222-2222-2222-2222-222222222222", "33333333-3333-3333-3333-333333333333"}
	for _, id := range ids {
		require.Equal(t, Ok, h.SetClient(model.Client{ID: id, Kind: model.KindMPI}))
	}

	seen := map[string]bool{}
	var cursor uint64
	for {
		page, next, res := h.ListClients(ClientFilter{}, cursor, 1)
		require.Equal(t, Ok, res)
		for _, c := range page {
			seen[c.ID] = true
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	require.Len(t, seen, len(ids))
	for _, id := range ids {
		require.True(t, seen[id], "missing %s", id)
	}
}

func TestHandlePerWorkerIdentity(t *testing.T) {
	s := newTestStore(t)
	h0 := s.Handle(0)
	h1 := s.Handle(0)
	h2 := s.Handle(1)

	require.Same(t, h0, h1)
	require.NotSame(t, h0, h2)
}
