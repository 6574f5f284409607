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

import "context"

// Manager is the public surface of this package (§4.11): it owns the
// process-wide ConcurrencyAdmission and MemoryAdmission instances shared
// by every operation it starts, and exposes the four user-visible
// operations described in §1.
type Manager struct {
	client S3Client
	cfg    Config
	ca     *ConcurrencyAdmission
	ma     *MemoryAdmission
}

// New constructs a Manager around client, applying opts over the
// documented defaults (§6). The returned Manager owns its admission
// controllers for its entire lifetime; there is no separate teardown
// step since they hold no resources beyond in-process state.
func New(client S3Client, opts ...Option) *Manager {
	cfg := NewConfig(opts...)
	return &Manager{
		client: client,
		cfg:    cfg,
		ca:     NewConcurrencyAdmission(cfg.ConcurrentTaskLimitPerBucket),
		ma:     NewMemoryAdmission(cfg.MaxInMemoryBytes),
	}
}

// Handle is the live, cancelable result of an operation started by
// Manager (§4.11, §9): work begins immediately in the background; Wait
// blocks until it finishes, and Cancel requests cooperative early exit.
type Handle[T any] struct {
	cancel context.CancelFunc
	done   chan struct{}
	result T
	err    error
}

// Wait blocks until the operation finishes and returns its result.
// Calling Wait more than once returns the same value every time.
func (h *Handle[T]) Wait() (T, error) {
	<-h.done
	return h.result, h.err
}

// Cancel requests cooperative cancellation of the operation. It does not
// block; call Wait afterward to observe the resulting error.
func (h *Handle[T]) Cancel() {
	h.cancel()
}

func spawn[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) *Handle[T] {
	cctx, cancel := context.WithCancel(ctx)
	h := &Handle[T]{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		defer cancel()
		h.result, h.err = fn(cctx)
	}()
	return h
}

func (m *Manager) configWith(opts []Option) Config {
	cfg := m.cfg
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// UploadObject uploads req as a single PUT or a multipart upload
// depending on payload size (§4.4).
func (m *Manager) UploadObject(ctx context.Context, req UploadObjectRequest, opts ...Option) *Handle[UploadObjectResult] {
	cfg := m.configWith(opts)
	return spawn(ctx, func(ctx context.Context) (UploadObjectResult, error) {
		return uploadObject(ctx, m.client, m.ca, m.ma, cfg, req)
	})
}

// DownloadObject downloads req into its sink using the configured
// strategy (§4.5).
func (m *Manager) DownloadObject(ctx context.Context, req DownloadObjectRequest, opts ...Option) *Handle[DownloadObjectResult] {
	cfg := m.configWith(opts)
	return spawn(ctx, func(ctx context.Context) (DownloadObjectResult, error) {
		return downloadObject(ctx, m.client, m.ca, m.ma, cfg, req)
	})
}

// UploadDirectory fans out one UploadObject per file under req.SourceRoot
// (§4.9).
func (m *Manager) UploadDirectory(ctx context.Context, req UploadDirectoryRequest, opts ...Option) *Handle[UploadDirectoryResult] {
	cfg := m.configWith(opts)
	return spawn(ctx, func(ctx context.Context) (UploadDirectoryResult, error) {
		return uploadDirectory(ctx, m.client, m.ca, m.ma, cfg, req)
	})
}

// DownloadBucket fans out one DownloadObject per object discovered under
// req.Prefix (§4.10).
func (m *Manager) DownloadBucket(ctx context.Context, req DownloadBucketRequest, opts ...Option) *Handle[DownloadBucketResult] {
	cfg := m.configWith(opts)
	return spawn(ctx, func(ctx context.Context) (DownloadBucketResult, error) {
		return downloadBucket(ctx, m.client, m.ca, m.ma, cfg, req)
	})
}

// Stats is a process-wide, read-only snapshot of this Manager's
// admission controller occupancy (§8's drain-to-zero properties), handy
// for tests and an operator dashboard.
type Stats struct {
	MemoryInUseBytes int64
	MemoryIdle       bool
	ConcurrencyIdle  bool
}

// Stats returns a snapshot of the current admission controller
// occupancy.
func (m *Manager) Stats() Stats {
	return Stats{
		MemoryInUseBytes: m.ma.InUse(),
		MemoryIdle:       m.ma.Idle(),
		ConcurrencyIdle:  m.ca.Idle(),
	}
}
