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

import "sync"

// ObjectProgress is an immutable, value-typed snapshot of a single
// object transfer's progress (§3).
type ObjectProgress struct {
	TransferredBytes int64
	TotalBytes       int64 // 0 with TotalKnown false means not yet known
	TotalKnown       bool
}

// DirectoryProgress is an immutable, value-typed snapshot of a directory
// operation's progress (§3). TotalFiles always equals Succeeded+Failed at
// any snapshot instant, so it grows as per-file operations finish;
// discovered entries are reported separately via ObjectDiscovered.
type DirectoryProgress struct {
	Succeeded  int
	Failed     int
	TotalFiles int
}

// ObjectListener receives the four hook points described in §4.6. Every
// method must be fast and non-blocking; heavy work should be deferred to
// a user-managed channel. Hooks return no error and are invoked directly,
// with no recover: a panic inside a hook is not caught by this package.
type ObjectListener interface {
	Initiated(bucket, key string)
	BytesTransferred(snapshot ObjectProgress)
	Complete(snapshot ObjectProgress)
	Failed(err error)
}

// NopObjectListener implements ObjectListener with no-ops, so callers who
// don't care about progress don't need to write their own stub.
type NopObjectListener struct{}

func (NopObjectListener) Initiated(string, string)       {}
func (NopObjectListener) BytesTransferred(ObjectProgress) {}
func (NopObjectListener) Complete(ObjectProgress)         {}
func (NopObjectListener) Failed(error)                    {}

// progressReporter is the serialized transferred-bytes accumulator for a
// single operation (§4.6, §5). It is safe to update concurrently from any
// worker task; every update publishes an immutable snapshot to the
// listener synchronously from the calling goroutine.
type progressReporter struct {
	mu         sync.Mutex
	transferred int64
	total       int64
	totalKnown  bool

	listener      ObjectListener
	completedOnce bool
	failedOnce    bool
}

func newProgressReporter(listener ObjectListener) *progressReporter {
	if listener == nil {
		listener = NopObjectListener{}
	}
	return &progressReporter{listener: listener}
}

func (p *progressReporter) initiated(bucket, key string) {
	p.listener.Initiated(bucket, key)
}

func (p *progressReporter) setTotal(total int64) {
	p.mu.Lock()
	p.total = total
	p.totalKnown = true
	p.mu.Unlock()
}

// add advances the transferred-byte counter by delta and publishes a
// snapshot; delta must be non-negative so snapshots stay monotonically
// non-decreasing (§5).
func (p *progressReporter) add(delta int64) {
	if delta == 0 {
		return
	}
	p.mu.Lock()
	p.transferred += delta
	snap := ObjectProgress{TransferredBytes: p.transferred, TotalBytes: p.total, TotalKnown: p.totalKnown}
	p.mu.Unlock()
	p.listener.BytesTransferred(snap)
}

func (p *progressReporter) snapshot() ObjectProgress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return ObjectProgress{TransferredBytes: p.transferred, TotalBytes: p.total, TotalKnown: p.totalKnown}
}

// complete fires the terminal success hook exactly once.
func (p *progressReporter) complete() {
	p.mu.Lock()
	if p.completedOnce || p.failedOnce {
		p.mu.Unlock()
		return
	}
	p.completedOnce = true
	snap := ObjectProgress{TransferredBytes: p.transferred, TotalBytes: p.total, TotalKnown: p.totalKnown}
	p.mu.Unlock()
	p.listener.Complete(snap)
}

// failed fires the terminal failure hook exactly once.
func (p *progressReporter) failed(err error) {
	p.mu.Lock()
	if p.completedOnce || p.failedOnce {
		p.mu.Unlock()
		return
	}
	p.failedOnce = true
	p.mu.Unlock()
	p.listener.Failed(err)
}

// DirectoryListener receives progress hooks for a directory operation.
type DirectoryListener interface {
	ObjectDiscovered(totalFiles int)
	ObjectSucceeded(snapshot DirectoryProgress)
	ObjectFailed(snapshot DirectoryProgress, err error)
	Complete(snapshot DirectoryProgress)
}

// NopDirectoryListener implements DirectoryListener with no-ops.
type NopDirectoryListener struct{}

func (NopDirectoryListener) ObjectDiscovered(int)                    {}
func (NopDirectoryListener) ObjectSucceeded(DirectoryProgress)       {}
func (NopDirectoryListener) ObjectFailed(DirectoryProgress, error)   {}
func (NopDirectoryListener) Complete(DirectoryProgress)              {}

// directoryTally is the shared, serialized success/failure counter used
// by UploadDirectory and DownloadBucket (§4.9, §4.10).
type directoryTally struct {
	mu         sync.Mutex
	succeeded  int
	failed     int
	discovered int

	listener DirectoryListener
}

func newDirectoryTally(listener DirectoryListener) *directoryTally {
	if listener == nil {
		listener = NopDirectoryListener{}
	}
	return &directoryTally{listener: listener}
}

func (t *directoryTally) discover() {
	t.mu.Lock()
	t.discovered++
	n := t.discovered
	t.mu.Unlock()
	t.listener.ObjectDiscovered(n)
}

func (t *directoryTally) succeed() DirectoryProgress {
	t.mu.Lock()
	t.succeeded++
	snap := DirectoryProgress{Succeeded: t.succeeded, Failed: t.failed, TotalFiles: t.succeeded + t.failed}
	t.mu.Unlock()
	t.listener.ObjectSucceeded(snap)
	return snap
}

func (t *directoryTally) fail(err error) DirectoryProgress {
	t.mu.Lock()
	t.failed++
	snap := DirectoryProgress{Succeeded: t.succeeded, Failed: t.failed, TotalFiles: t.succeeded + t.failed}
	t.mu.Unlock()
	t.listener.ObjectFailed(snap, err)
	return snap
}

func (t *directoryTally) snapshot() DirectoryProgress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return DirectoryProgress{Succeeded: t.succeeded, Failed: t.failed, TotalFiles: t.succeeded + t.failed}
}

func (t *directoryTally) complete() {
	snap := t.snapshot()
	t.listener.Complete(snap)
}
