// Package bucketing maps keys onto fixed buckets with murmur3.
package bucketing

import (
	"hash"
	"sync"

	"github.com/spaolacci/murmur3"
)

// BucketingManager hashes identifiers into a fixed number of buckets and
// holds one mutex per bucket, so per-key critical sections need no
// per-key allocation.
type BucketingManager struct {
	buckets    int
	locks      []sync.Mutex
	hasherPool sync.Pool
}

func NewBucketingManager(buckets int) *BucketingManager {
	if buckets < 1 {
		buckets = 1
	}
	return &BucketingManager{
		buckets: buckets,
		locks:   make([]sync.Mutex, buckets),
		hasherPool: sync.Pool{
			New: func() interface{} {
				return murmur3.New64()
			},
		},
	}
}

// Bucket returns a stable bucket in [0, Buckets()).
func (bm *BucketingManager) Bucket(key string) int {
	return int(bm.hash(key) % uint64(bm.buckets))
}

func (bm *BucketingManager) Buckets() int {
	return bm.buckets
}

// Lock acquires the mutex for key's bucket and returns its release func.
// Keys sharing a bucket serialise against each other.
func (bm *BucketingManager) Lock(key string) (unlock func()) {
	mu := &bm.locks[bm.Bucket(key)]
	mu.Lock()
	return mu.Unlock
}

func (bm *BucketingManager) hash(key string) uint64 {
	h := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(h)

	h.Reset()
	_, _ = h.Write([]byte(key))
	return h.Sum64()
}
