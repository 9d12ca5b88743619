package bucketing

import (
	"hash"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spaolacci/murmur3"
)

// Manager assigns deterministic buckets to users and events. Buckets key
// Kafka partitions and ClickHouse partitions so one user's activity lands
// together without exposing the raw identifier.
type Manager struct {
	userBuckets  int
	eventBuckets int
	hasherPool   sync.Pool
}

func NewManager(userBuckets, eventBuckets int) *Manager {
	if userBuckets <= 0 {
		userBuckets = 64
	}
	if eventBuckets <= 0 {
		eventBuckets = 16
	}

	m := &Manager{
		userBuckets:  userBuckets,
		eventBuckets: eventBuckets,
	}

	// Pool of hash states to avoid per-event allocations.
	m.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return m
}

// UserBucket returns a stable bucket in [0, userBuckets) for a user.
func (m *Manager) UserBucket(userID uuid.UUID) int {
	return m.bucket(userID.String(), m.userBuckets)
}

// EventBucket returns a stable bucket in [0, eventBuckets) for an
// arbitrary identifier (device id, phone hash, ...).
func (m *Manager) EventBucket(identifier string) int {
	return m.bucket(identifier, m.eventBuckets)
}

// TimeBucket truncates now to a window boundary, in unix seconds.
func (m *Manager) TimeBucket(window time.Duration) int64 {
	w := int64(window / time.Second)
	if w <= 0 {
		w = 60
	}
	return time.Now().Unix() / w * w
}

func (m *Manager) bucket(id string, buckets int) int {
	h := m.hasherPool.Get().(hash.Hash64)
	defer m.hasherPool.Put(h)

	h.Reset()
	_, _ = h.Write([]byte(id))

	return int(h.Sum64() % uint64(buckets))
}
