package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/admire-eurohpc/ic/pkg/ic/model"
)

// Bucket names, following the same fixed-bucket-per-kind
// layout: one bucket per entity kind, JSON-encoded values, byte-slice keys.
var (
	bucketClients  = []byte("clients")
	bucketJobs     = []byte("jobs")
	bucketOffers   = []byte("malleability_offers")
)

// BoltStore is the bbolt-backed Store implementation. The underlying
// *bolt.DB is goroutine-safe for concurrent transactions, but per-worker
// Handles are still handed out one-per-identity so callers never need to
// reason about store concurrency beyond "my handle is mine alone", the
// same single-threaded-handle contract a connection-pooled key-value
// store would offer.
type BoltStore struct {
	db *bolt.DB

	mu      sync.Mutex
	handles map[int]*boltHandle

	audit *AuditLedger // nil if no audit DSN configured
}

// Open creates or opens a bbolt database at path and ensures its buckets
// exist. auditLedger may be nil to disable the best-effort audit ledger.
func Open(path string, auditLedger *AuditLedger) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketClients, bucketJobs, bucketOffers} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, handles: make(map[int]*boltHandle), audit: auditLedger}, nil
}

// Handle returns the persistent handle bound to workerID.
func (s *BoltStore) Handle(workerID int) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.handles[workerID]; ok {
		return h
	}
	h := &boltHandle{db: s.db, audit: s.audit, workerID: workerID}
	s.handles[workerID] = h
	return h
}

// Close shuts down the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// boltHandle is one worker's private accessor into the shared bbolt
// database. It holds no transaction state between calls; "handle" here
// means "identity", not "open cursor": each operation opens its own
// short-lived transaction, matching bbolt's intended usage.
type boltHandle struct {
	db       *bolt.DB
	audit    *AuditLedger
	workerID int

	cursorMu   sync.Mutex
	cursorSeq  uint64
	cursorKeys map[uint64][]byte
}

func (h *boltHandle) Close() error { return nil }

// issueCursor hands out an opaque token for resumeKey, so ListClients
// callers never need to know that client IDs are variable-length UUID
// strings rather than something that fits in a uint64 directly.
func (h *boltHandle) issueCursor(resumeKey []byte) uint64 {
	h.cursorMu.Lock()
	defer h.cursorMu.Unlock()
	if h.cursorKeys == nil {
		h.cursorKeys = make(map[uint64][]byte)
	}
	h.cursorSeq++
	token := h.cursorSeq
	h.cursorKeys[token] = append([]byte(nil), resumeKey...)
	return token
}

// resolveCursor looks up and consumes a cursor token, returning the key to
// resume from. An unknown token (expired, or from another handle) falls
// back to starting over, matching the best-effort iteration contract.
func (h *boltHandle) resolveCursor(token uint64) ([]byte, bool) {
	h.cursorMu.Lock()
	defer h.cursorMu.Unlock()
	key, ok := h.cursorKeys[token]
	if ok {
		delete(h.cursorKeys, token)
	}
	return key, ok
}

func clientKey(id string) []byte { return []byte(id) }

func jobKey(id uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, id)
	return b
}

func (h *boltHandle) SetClient(c model.Client) Result {
	err := h.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(c)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketClients).Put(clientKey(c.ID), data)
	})
	if err != nil {
		return Err
	}
	return Ok
}

func (h *boltHandle) GetClient(id string) (model.Client, Result) {
	var c model.Client
	var found bool
	err := h.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketClients).Get(clientKey(id))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &c)
	})
	if err != nil {
		return model.Client{}, Err
	}
	if !found {
		return model.Client{}, NotFound
	}
	return c, Ok
}

// ListClients implements cursor-paginated iteration using bbolt's native
// cursor. The cursor value is an opaque token (see issueCursor) naming
// the key to resume from; 0 (empty cursor) both starts and ends iteration. Because
// bbolt's cursor reflects a point-in-time snapshot of a read transaction,
// concurrent inserts/deletes across separate List calls naturally give
// the best-effort semantics this registry offers: duplicates
// tolerated, misses tolerated only for post-scan-start inserts.
func (h *boltHandle) ListClients(filter ClientFilter, cursor uint64, pageSize int) ([]model.Client, uint64, Result) {
	if pageSize <= 0 {
		pageSize = 100
	}

	var page []model.Client
	var next uint64

	err := h.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketClients).Cursor()

		var k, v []byte
		if cursor == 0 {
			k, v = c.First()
		} else if resumeKey, ok := h.resolveCursor(cursor); ok {
			k, v = c.Seek(resumeKey)
		} else {
			// Unknown/expired token: best-effort contract allows
			// restarting the scan rather than failing the caller.
			k, v = c.First()
		}

		collected := 0
		for ; k != nil; k, v = c.Next() {
			var cl model.Client
			if err := json.Unmarshal(v, &cl); err != nil {
				continue
			}
			if filter.Kind != "" && string(cl.Kind) != filter.Kind {
				continue
			}
			if filter.JobID != 0 && cl.JobID != filter.JobID {
				continue
			}
			page = append(page, cl)
			collected++
			if collected >= pageSize {
				nk, _ := c.Next()
				if nk != nil {
					next = h.issueCursor(nk)
				}
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, Err
	}
	return page, next, Ok
}

func (h *boltHandle) DeleteClient(id string) (uint32, Result) {
	var jobID uint32
	var found bool
	err := h.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketClients)
		data := b.Get(clientKey(id))
		if data == nil {
			return nil
		}
		found = true
		var c model.Client
		if err := json.Unmarshal(data, &c); err == nil {
			jobID = c.JobID
		}
		return b.Delete(clientKey(id))
	})
	if err != nil {
		return 0, Err
	}
	if !found {
		return 0, NotFound
	}
	return jobID, Ok
}

func (h *boltHandle) SetJob(j model.Job) Result {
	err := h.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(j)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketJobs).Put(jobKey(j.ID), data)
	})
	if err != nil {
		return Err
	}
	return Ok
}

func (h *boltHandle) GetJob(id uint32) (model.Job, Result) {
	var j model.Job
	var found bool
	err := h.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketJobs).Get(jobKey(id))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &j)
	})
	if err != nil {
		return model.Job{}, Err
	}
	if !found {
		return model.Job{}, NotFound
	}
	return j, Ok
}

func (h *boltHandle) DeleteJob(id uint32) Result {
	var existed bool
	err := h.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		if b.Get(jobKey(id)) != nil {
			existed = true
		}
		return b.Delete(jobKey(id))
	})
	if err != nil {
		return Err
	}
	if !existed {
		return NotFound
	}
	if h.audit != nil {
		h.audit.RecordJobDeleted(id)
	}
	return Ok
}

func (h *boltHandle) IncrNProcs(clientID string, delta int32) (int32, Result) {
	var newValue int32
	var found bool
	err := h.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketClients)
		data := b.Get(clientKey(clientID))
		if data == nil {
			return nil
		}
		found = true
		var c model.Client
		if err := json.Unmarshal(data, &c); err != nil {
			return err
		}
		c.NProcs += delta
		newValue = c.NProcs
		out, err := json.Marshal(c)
		if err != nil {
			return err
		}
		return b.Put(clientKey(clientID), out)
	})
	if err != nil {
		return 0, Err
	}
	if !found {
		return 0, NotFound
	}
	return newValue, Ok
}

func (h *boltHandle) SetMalleabilityOffer(o model.MalleabilityOffer) Result {
	err := h.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(o)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketOffers).Put(jobKey(o.JobID), data)
	})
	if err != nil {
		return Err
	}
	if h.audit != nil {
		h.audit.RecordOfferSuperseded(o)
	}
	return Ok
}

func (h *boltHandle) GetMalleabilityOffer(jobID uint32) (model.MalleabilityOffer, Result) {
	var o model.MalleabilityOffer
	var found bool
	err := h.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketOffers).Get(jobKey(jobID))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &o)
	})
	if err != nil {
		return model.MalleabilityOffer{}, Err
	}
	if !found {
		return model.MalleabilityOffer{}, NotFound
	}
	return o, Ok
}
