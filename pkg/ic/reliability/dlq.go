package reliability

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

// DeadLetterQueue holds outbound reconfigure/resalloc calls the
// malleability coordinator (C5) could not deliver to a client. The
// coordinator does not retry: a call is recorded here on its first
// failed attempt, so an operator can inspect and replay
// them instead of silently dropping a resize.
type DeadLetterQueue struct {
	mu         sync.RWMutex
	db         *bbolt.DB
	maxSize    int
	bucketName string
}

// OutboundCall is the payload a failed reconfigure/resalloc attempt
// carries into the DLQ: enough to rebuild and resend the wire call
// without needing the coordinator's in-memory state.
type OutboundCall struct {
	ClientID string `json:"client_id"`
	JobID    uint32 `json:"job_id"`
	RPCName  string `json:"rpc_name"` // "reconfigure" or "resalloc"
	Payload  []byte `json:"payload"`  // wire.Encode'd request body
}

// DLQMessage is one dead-lettered outbound call plus its failure and
// retry bookkeeping.
type DLQMessage struct {
	MessageID     string       `json:"message_id"`
	Call          OutboundCall `json:"call"`
	FailureReason string       `json:"failure_reason"`
	FailureTime   time.Time    `json:"failure_time"`
	RetryCount    int          `json:"retry_count"`
	LastRetryTime time.Time    `json:"last_retry_time,omitempty"`
}

// NewDeadLetterQueue creates a dead letter queue backed by its own bbolt
// database at dbPath, separate from the registry store's database so a
// DLQ full of stuck deliveries never contends with the live registry.
func NewDeadLetterQueue(dbPath string, maxSize int) (*DeadLetterQueue, error) {
	if maxSize <= 0 {
		maxSize = 10000
	}

	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open DLQ database: %w", err)
	}

	dlq := &DeadLetterQueue{
		db:         db,
		maxSize:    maxSize,
		bucketName: "dead_letters",
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(dlq.bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create DLQ bucket: %w", err)
	}

	return dlq, nil
}

// Add dead-letters a failed outbound call, keyed by messageID (the
// coordinator mints one per delivery attempt, e.g. "<jobID>-<clientID>-<unix nanos>").
func (dlq *DeadLetterQueue) Add(messageID string, call OutboundCall, reason string) error {
	dlq.mu.Lock()
	defer dlq.mu.Unlock()

	dlqMsg := &DLQMessage{
		MessageID:     messageID,
		Call:          call,
		FailureReason: reason,
		FailureTime:   time.Now(),
	}

	data, err := json.Marshal(dlqMsg)
	if err != nil {
		return fmt.Errorf("failed to serialize DLQ message: %w", err)
	}

	return dlq.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(dlq.bucketName))
		if bucket == nil {
			return fmt.Errorf("DLQ bucket not found")
		}

		stats := bucket.Stats()
		if stats.KeyN >= dlq.maxSize {
			return fmt.Errorf("DLQ is full (size: %d)", stats.KeyN)
		}

		return bucket.Put([]byte(messageID), data)
	})
}

// Get retrieves one dead-lettered call.
func (dlq *DeadLetterQueue) Get(messageID string) (*DLQMessage, error) {
	dlq.mu.RLock()
	defer dlq.mu.RUnlock()

	var dlqMsg *DLQMessage
	err := dlq.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(dlq.bucketName))
		if bucket == nil {
			return fmt.Errorf("DLQ bucket not found")
		}
		data := bucket.Get([]byte(messageID))
		if data == nil {
			return fmt.Errorf("message not found in DLQ")
		}
		dlqMsg = &DLQMessage{}
		return json.Unmarshal(data, dlqMsg)
	})
	if err != nil {
		return nil, err
	}
	return dlqMsg, nil
}

// List returns a page of dead-lettered calls in key order.
func (dlq *DeadLetterQueue) List(offset, limit int) ([]*DLQMessage, error) {
	dlq.mu.RLock()
	defer dlq.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	messages := make([]*DLQMessage, 0, limit)
	err := dlq.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(dlq.bucketName))
		if bucket == nil {
			return fmt.Errorf("DLQ bucket not found")
		}

		cursor := bucket.Cursor()
		count, skipped := 0, 0
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			if skipped < offset {
				skipped++
				continue
			}
			if count >= limit {
				break
			}
			var dlqMsg DLQMessage
			if err := json.Unmarshal(v, &dlqMsg); err != nil {
				continue
			}
			messages = append(messages, &dlqMsg)
			count++
		}
		return nil
	})
	return messages, err
}

// Replay returns the original call for re-delivery and bumps its retry
// bookkeeping; it does not remove the entry, callers remove it via
// Remove only once delivery actually succeeds.
func (dlq *DeadLetterQueue) Replay(messageID string) (*OutboundCall, error) {
	dlq.mu.Lock()
	defer dlq.mu.Unlock()

	var call *OutboundCall
	err := dlq.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(dlq.bucketName))
		if bucket == nil {
			return fmt.Errorf("DLQ bucket not found")
		}
		data := bucket.Get([]byte(messageID))
		if data == nil {
			return fmt.Errorf("message not found in DLQ")
		}

		var dlqMsg DLQMessage
		if err := json.Unmarshal(data, &dlqMsg); err != nil {
			return fmt.Errorf("failed to unmarshal DLQ message: %w", err)
		}

		call = &dlqMsg.Call
		dlqMsg.RetryCount++
		dlqMsg.LastRetryTime = time.Now()

		updated, err := json.Marshal(dlqMsg)
		if err != nil {
			return fmt.Errorf("failed to marshal updated DLQ message: %w", err)
		}
		return bucket.Put([]byte(messageID), updated)
	})
	if err != nil {
		return nil, err
	}
	return call, nil
}

// Remove drops a dead-lettered call, e.g. after a successful replay.
func (dlq *DeadLetterQueue) Remove(messageID string) error {
	dlq.mu.Lock()
	defer dlq.mu.Unlock()

	return dlq.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(dlq.bucketName))
		if bucket == nil {
			return fmt.Errorf("DLQ bucket not found")
		}
		return bucket.Delete([]byte(messageID))
	})
}

// Count returns the number of dead-lettered calls.
func (dlq *DeadLetterQueue) Count() (int, error) {
	dlq.mu.RLock()
	defer dlq.mu.RUnlock()

	var count int
	err := dlq.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(dlq.bucketName))
		if bucket == nil {
			return fmt.Errorf("DLQ bucket not found")
		}
		count = bucket.Stats().KeyN
		return nil
	})
	return count, err
}

// Clear removes every dead-lettered call.
func (dlq *DeadLetterQueue) Clear() error {
	dlq.mu.Lock()
	defer dlq.mu.Unlock()

	return dlq.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket([]byte(dlq.bucketName)); err != nil {
			return err
		}
		_, err := tx.CreateBucket([]byte(dlq.bucketName))
		return err
	})
}

// Close closes the underlying database.
func (dlq *DeadLetterQueue) Close() error {
	return dlq.db.Close()
}

// DLQStats summarizes the dead letter queue for the admin API.
type DLQStats struct {
	TotalMessages  int       `json:"total_messages"`
	OldestMessage  time.Time `json:"oldest_message,omitempty"`
	NewestMessage  time.Time `json:"newest_message,omitempty"`
	MaxRetries     int       `json:"max_retries"`
	AverageRetries float64   `json:"average_retries"`
}

// GetStats computes summary statistics over the current queue contents.
func (dlq *DeadLetterQueue) GetStats() (*DLQStats, error) {
	dlq.mu.RLock()
	defer dlq.mu.RUnlock()

	stats := &DLQStats{}
	err := dlq.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(dlq.bucketName))
		if bucket == nil {
			return fmt.Errorf("DLQ bucket not found")
		}

		bucketStats := bucket.Stats()
		stats.TotalMessages = bucketStats.KeyN
		if bucketStats.KeyN == 0 {
			return nil
		}

		cursor := bucket.Cursor()
		totalRetries := 0
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var dlqMsg DLQMessage
			if err := json.Unmarshal(v, &dlqMsg); err != nil {
				continue
			}
			if stats.OldestMessage.IsZero() || dlqMsg.FailureTime.Before(stats.OldestMessage) {
				stats.OldestMessage = dlqMsg.FailureTime
			}
			if stats.NewestMessage.IsZero() || dlqMsg.FailureTime.After(stats.NewestMessage) {
				stats.NewestMessage = dlqMsg.FailureTime
			}
			if dlqMsg.RetryCount > stats.MaxRetries {
				stats.MaxRetries = dlqMsg.RetryCount
			}
			totalRetries += dlqMsg.RetryCount
		}
		if stats.TotalMessages > 0 {
			stats.AverageRetries = float64(totalRetries) / float64(stats.TotalMessages)
		}
		return nil
	})
	return stats, err
}
