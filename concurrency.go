// Copyright 2023 Sneller, Inc.
// Copyright 2025 Roman Atachiants
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

package s3transfer

import (
	"context"
	"sync"
)

// ConcurrencyAdmission bounds the number of concurrent S3 calls that
// target any one bucket to K = concurrentTaskLimit, so that many
// transfers sharing a bucket never starve the underlying HTTP connection
// pool (§4.1). Concurrency across distinct buckets is unbounded by this
// gate.
//
// A bucket's queue is created lazily on first use and discarded once it
// has no active holders and no waiters, keeping steady-state memory
// proportional to buckets currently in flight, not buckets ever seen.
type ConcurrencyAdmission struct {
	limit int

	mu      sync.Mutex
	buckets map[string]*bucketQueue
}

// bucketQueue is the per-bucket admission state described in §3. All
// mutation happens while ConcurrencyAdmission.mu is held; waiters block on
// their own channel outside the lock.
type bucketQueue struct {
	active  int
	waiters []chan struct{}
}

// NewConcurrencyAdmission constructs a gate admitting at most limit
// concurrent callers per bucket. A non-positive limit is treated as 1,
// since a gate that admits nothing can never drain.
func NewConcurrencyAdmission(limit int) *ConcurrencyAdmission {
	if limit <= 0 {
		limit = 1
	}
	return &ConcurrencyAdmission{
		limit:   limit,
		buckets: make(map[string]*bucketQueue),
	}
}

// WithBucketPermission acquires a permit for bucket, runs op, and releases
// the permit on every exit path of op, including panics and context
// cancellation while waiting for the permit.
func WithBucketPermission[T any](ctx context.Context, ca *ConcurrencyAdmission, bucket string, op func(ctx context.Context) (T, error)) (T, error) {
	if err := ca.acquire(ctx, bucket); err != nil {
		var zero T
		return zero, err
	}
	defer ca.release(bucket)
	return op(ctx)
}

func (ca *ConcurrencyAdmission) acquire(ctx context.Context, bucket string) error {
	ca.mu.Lock()
	q, ok := ca.buckets[bucket]
	if !ok {
		q = &bucketQueue{}
		ca.buckets[bucket] = q
	}
	if q.active < ca.limit {
		q.active++
		ca.mu.Unlock()
		return nil
	}
	wake := make(chan struct{})
	q.waiters = append(q.waiters, wake)
	ca.mu.Unlock()

	select {
	case <-wake:
		return nil
	case <-ctx.Done():
		ca.removeWaiter(bucket, wake)
		return ctx.Err()
	}
}

// removeWaiter drops a waiter that gave up due to cancellation. If the
// waiter had already been woken (its channel closed) between the select
// firing ctx.Done and this call acquiring the lock, the acquired permit is
// released back to the queue so it is not leaked.
func (ca *ConcurrencyAdmission) removeWaiter(bucket string, wake chan struct{}) {
	ca.mu.Lock()
	q, ok := ca.buckets[bucket]
	if !ok {
		ca.mu.Unlock()
		return
	}
	for i, w := range q.waiters {
		if w == wake {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			ca.mu.Unlock()
			return
		}
	}
	// Not found among waiters: it was already popped and granted a
	// permit concurrently with our cancellation. Give that permit back.
	ca.mu.Unlock()
	ca.release(bucket)
}

func (ca *ConcurrencyAdmission) release(bucket string) {
	ca.mu.Lock()
	q, ok := ca.buckets[bucket]
	if !ok {
		ca.mu.Unlock()
		return
	}
	if len(q.waiters) > 0 {
		wake := q.waiters[0]
		q.waiters = q.waiters[1:]
		ca.mu.Unlock()
		close(wake)
		return
	}
	q.active--
	if q.active == 0 && len(q.waiters) == 0 {
		delete(ca.buckets, bucket)
	}
	ca.mu.Unlock()
}

// Active reports the current number of active holders for bucket, for
// tests and for Manager.Stats.
func (ca *ConcurrencyAdmission) Active(bucket string) int {
	ca.mu.Lock()
	defer ca.mu.Unlock()
	q, ok := ca.buckets[bucket]
	if !ok {
		return 0
	}
	return q.active
}

// Waiters reports the current number of queued waiters for bucket.
func (ca *ConcurrencyAdmission) Waiters(bucket string) int {
	ca.mu.Lock()
	defer ca.mu.Unlock()
	q, ok := ca.buckets[bucket]
	if !ok {
		return 0
	}
	return len(q.waiters)
}

// Idle reports whether no bucket currently holds an active permit or a
// waiter, i.e. whether the admission controller is fully drained.
func (ca *ConcurrencyAdmission) Idle() bool {
	ca.mu.Lock()
	defer ca.mu.Unlock()
	return len(ca.buckets) == 0
}
