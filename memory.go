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

// MemoryAdmission bounds the total bytes buffered in RAM across every
// concurrent transfer sharing it (§4.2). Without this bound, N
// simultaneous downloads of P-byte batches would consume N*P memory with
// no ceiling.
type MemoryAdmission struct {
	max int64

	mu      sync.Mutex
	inUse   int64
	waiters []*memWaiter
}

type memWaiter struct {
	bytes int64
	wake  chan struct{}
}

// NewMemoryAdmission constructs a ledger with the given byte budget. A
// non-positive max is treated as unbounded (reserve always succeeds
// immediately), which is useful for tests that don't care about memory
// pressure.
func NewMemoryAdmission(maxBytes int64) *MemoryAdmission {
	return &MemoryAdmission{max: maxBytes}
}

// Reserve blocks until in_use+bytes <= max (or until bytes is the sole
// outstanding reservation, per §4.2's single-reservation exception), then
// atomically adds bytes to in_use. Reserve never times out internally;
// the only way it returns early is ctx cancellation, in which case no
// bytes are reserved.
func (m *MemoryAdmission) Reserve(ctx context.Context, bytes int64) error {
	if m.max <= 0 {
		return nil
	}
	m.mu.Lock()
	if m.fits(bytes) {
		m.inUse += bytes
		m.mu.Unlock()
		return nil
	}
	w := &memWaiter{bytes: bytes, wake: make(chan struct{})}
	m.waiters = append(m.waiters, w)
	m.mu.Unlock()

	select {
	case <-w.wake:
		return nil
	case <-ctx.Done():
		m.cancelWaiter(w)
		return ctx.Err()
	}
}

// fits reports whether bytes can be reserved right now. The single
// reservation exception: if nothing else is currently in use, any size
// reservation is admitted outright so a lone oversized request cannot
// deadlock against itself.
func (m *MemoryAdmission) fits(bytes int64) bool {
	if m.inUse == 0 {
		return true
	}
	return m.inUse+bytes <= m.max
}

// cancelWaiter removes w from the wait list if it is still there. If w
// was already granted its reservation concurrently with the caller giving
// up, the bytes are released back to the ledger so they are never leaked.
func (m *MemoryAdmission) cancelWaiter(w *memWaiter) {
	m.mu.Lock()
	for i, other := range m.waiters {
		if other == w {
			m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
			m.mu.Unlock()
			return
		}
	}
	m.mu.Unlock()
	m.Release(w.bytes)
}

// Release returns bytes to the ledger and wakes the oldest waiter if its
// request now fits; later waiters are not considered. Reserve/Release are both infallible per §4.2;
// callers are responsible for releasing exactly once per successful
// Reserve.
func (m *MemoryAdmission) Release(bytes int64) {
	if m.max <= 0 {
		return
	}
	m.mu.Lock()
	m.inUse -= bytes
	if m.inUse < 0 {
		m.inUse = 0
	}
	if len(m.waiters) > 0 && m.fits(m.waiters[0].bytes) {
		w := m.waiters[0]
		m.waiters = m.waiters[1:]
		m.inUse += w.bytes
		m.mu.Unlock()
		close(w.wake)
		return
	}
	m.mu.Unlock()
}

// InUse reports the current number of reserved bytes, for tests and
// Manager.Stats.
func (m *MemoryAdmission) InUse() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inUse
}

// Idle reports whether the ledger has returned to zero with no pending
// waiters.
func (m *MemoryAdmission) Idle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inUse == 0 && len(m.waiters) == 0
}
