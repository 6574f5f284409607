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
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/kelindar/s3transfer/internal/fsutil"
)

// UploadDirectoryRequest describes a local source tree to fan out as
// per-file uploads (§4.9).
type UploadDirectoryRequest struct {
	SourceRoot string
	Bucket     string
	Listener   DirectoryListener
}

// UploadDirectoryResult tallies a completed directory upload.
type UploadDirectoryResult struct {
	ObjectsUploaded int
	ObjectsFailed   int
}

// uploadDirectory drains the local traverser's lazy stream through a
// bounded window of at most cfg.MaxConcurrency concurrent UploadObject
// tasks, applying cfg.FailurePolicy to each per-file failure (§4.9).
func uploadDirectory(
	ctx context.Context,
	client S3Client,
	ca *ConcurrencyAdmission,
	ma *MemoryAdmission,
	cfg Config,
	req UploadDirectoryRequest,
) (UploadDirectoryResult, error) {
	if info, err := os.Stat(req.SourceRoot); err != nil {
		return UploadDirectoryResult{}, &InvalidSourceURLError{Detail: err.Error()}
	} else if !info.IsDir() {
		return UploadDirectoryResult{}, &InvalidSourceURLError{Detail: req.SourceRoot + " is not a directory"}
	}

	tally := newDirectoryTally(req.Listener)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.MaxConcurrency)

	walkErr := fsutil.Traverse(gctx, req.SourceRoot, fsutil.Options{
		Recursive:      cfg.Recursive,
		FollowSymlinks: cfg.FollowSymlinks,
	}, func(entry fsutil.Entry) error {
		rel, err := relativeTo(req.SourceRoot, entry.Path)
		if err != nil {
			return err
		}
		key, err := pathToKey(rel, cfg.S3Prefix, cfg.S3Delimiter)
		if err != nil {
			return err
		}
		if cfg.Filter != nil && !cfg.Filter(key) {
			return nil
		}
		tally.discover()

		g.Go(func() error {
			return uploadOneDirectoryEntry(gctx, client, ca, ma, cfg, req, tally, entry.Path, key)
		})
		return nil
	})

	waitErr := g.Wait()

	if walkErr != nil {
		return UploadDirectoryResult{}, walkErr
	}
	if waitErr != nil && cfg.FailurePolicy == FailurePolicyRethrow {
		return UploadDirectoryResult{}, waitErr
	}

	snap := tally.snapshot()
	tally.complete()
	return UploadDirectoryResult{ObjectsUploaded: snap.Succeeded, ObjectsFailed: snap.Failed}, nil
}

func uploadOneDirectoryEntry(
	ctx context.Context,
	client S3Client,
	ca *ConcurrencyAdmission,
	ma *MemoryAdmission,
	cfg Config,
	req UploadDirectoryRequest,
	tally *directoryTally,
	path, key string,
) error {
	f, err := os.Open(path)
	if err != nil {
		wrapped := &FailedToUploadAnObjectError{Original: err, Bucket: req.Bucket, Key: key}
		tally.fail(wrapped)
		if cfg.FailurePolicy == FailurePolicyRethrow {
			return wrapped
		}
		return nil
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		wrapped := &FailedToUploadAnObjectError{Original: err, Bucket: req.Bucket, Key: key}
		tally.fail(wrapped)
		if cfg.FailurePolicy == FailurePolicyRethrow {
			return wrapped
		}
		return nil
	}

	body := NewSeekableStreamFromReaderAt(f, info.Size())
	_, err = uploadObject(ctx, client, ca, ma, cfg, UploadObjectRequest{
		Body:     body,
		Bucket:   req.Bucket,
		Key:      key,
		Listener: NopObjectListener{},
	})
	if err != nil {
		wrapped := &FailedToUploadAnObjectError{Original: err, Bucket: req.Bucket, Key: key}
		tally.fail(wrapped)
		if cfg.FailurePolicy == FailurePolicyRethrow {
			return wrapped
		}
		return nil
	}

	tally.succeed()
	return nil
}
