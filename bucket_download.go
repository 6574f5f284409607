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
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/errgroup"
)

// DownloadBucketRequest describes a bucket/prefix to fan out as
// per-object downloads into a local destination directory (§4.10).
type DownloadBucketRequest struct {
	Bucket          string
	Prefix          string
	DestinationRoot string
	Listener        DirectoryListener
}

// DownloadBucketResult tallies a completed bucket download.
type DownloadBucketResult struct {
	ObjectsDownloaded int
	ObjectsFailed     int
}

// downloadBucket paginates ListObjectsV2 while concurrently downloading
// each discovered object through the same bounded fan-out window as
// uploadDirectory, finalizing each file atomically on success and
// sweeping every known temp file before surfacing a rethrow failure
// (§4.10).
func downloadBucket(
	ctx context.Context,
	client S3Client,
	ca *ConcurrencyAdmission,
	ma *MemoryAdmission,
	cfg Config,
	req DownloadBucketRequest,
) (DownloadBucketResult, error) {
	if err := prepareDestinationRoot(req.DestinationRoot); err != nil {
		return DownloadBucketResult{}, err
	}

	tally := newDirectoryTally(req.Listener)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.MaxConcurrency)

	var tempMu sync.Mutex
	var tempPaths []string
	trackTemp := func(p string) {
		tempMu.Lock()
		tempPaths = append(tempPaths, p)
		tempMu.Unlock()
	}

	stripPrefix := cfg.S3Prefix
	if stripPrefix == "" {
		stripPrefix = req.Prefix
	}

	listErr := paginateObjects(gctx, client, ca, req.Bucket, req.Prefix, func(key string, size int64) error {
		relPath, ok, err := keyToPath(key, stripPrefix, cfg.S3Delimiter)
		if err != nil || !ok {
			return err
		}
		if cfg.Filter != nil && !cfg.Filter(key) {
			return nil
		}

		finalPath := filepath.Join(req.DestinationRoot, relPath)
		if err := ensureParentDir(finalPath); err != nil {
			return err
		}
		tempPath, err := constructTempPath(finalPath)
		if err != nil {
			return err
		}
		trackTemp(tempPath)
		tally.discover()

		g.Go(func() error {
			return downloadOneBucketEntry(gctx, client, ca, ma, cfg, req, tally, key, tempPath, finalPath)
		})
		return nil
	})

	waitErr := g.Wait()

	if listErr != nil {
		sweepTempFiles(tempPaths)
		return DownloadBucketResult{}, listErr
	}
	if waitErr != nil && cfg.FailurePolicy == FailurePolicyRethrow {
		sweepTempFiles(tempPaths)
		return DownloadBucketResult{}, waitErr
	}

	snap := tally.snapshot()
	tally.complete()
	return DownloadBucketResult{ObjectsDownloaded: snap.Succeeded, ObjectsFailed: snap.Failed}, nil
}

func prepareDestinationRoot(root string) error {
	info, err := os.Stat(root)
	if err == nil {
		if !info.IsDir() {
			return ErrProvidedDestinationIsNotADirectory
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", ErrFailedToCreateDestinationDirectory, err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrFailedToCreateDestinationDirectory, err)
	}
	return nil
}

func sweepTempFiles(paths []string) {
	for _, p := range paths {
		os.Remove(p)
	}
}

// paginateObjects drains every page of ListObjectsV2(prefix), invoking
// sink for each object key in listing order (§4.10). Listing and
// downloading proceed concurrently because sink spawns its own fan-out
// task rather than blocking the next page fetch.
func paginateObjects(
	ctx context.Context,
	client S3Client,
	ca *ConcurrencyAdmission,
	bucket, prefix string,
	sink func(key string, size int64) error,
) error {
	var token *string
	for {
		out, err := WithBucketPermission(ctx, ca, bucket, func(ctx context.Context) (*s3.ListObjectsV2Output, error) {
			in := &s3.ListObjectsV2Input{Bucket: aws.String(bucket)}
			if prefix != "" {
				in.Prefix = aws.String(prefix)
			}
			if token != nil {
				in.ContinuationToken = token
			}
			return client.ListObjectsV2(ctx, in)
		})
		if err != nil {
			return fmt.Errorf("s3transfer: ListObjectsV2 s3://%s: %w", bucket, err)
		}
		for _, obj := range out.Contents {
			if err := sink(aws.ToString(obj.Key), aws.ToInt64(obj.Size)); err != nil {
				return err
			}
		}
		if !aws.ToBool(out.IsTruncated) || out.NextContinuationToken == nil {
			return nil
		}
		token = out.NextContinuationToken
	}
}

func downloadOneBucketEntry(
	ctx context.Context,
	client S3Client,
	ca *ConcurrencyAdmission,
	ma *MemoryAdmission,
	cfg Config,
	req DownloadBucketRequest,
	tally *directoryTally,
	key, tempPath, finalPath string,
) error {
	sink, err := newFileSink(tempPath)
	if err != nil {
		wrapped := &FailedToDownloadAnObjectError{Original: err, Bucket: req.Bucket, Key: key}
		tally.fail(wrapped)
		if cfg.FailurePolicy == FailurePolicyRethrow {
			return wrapped
		}
		return nil
	}

	_, downloadErr := downloadObject(ctx, client, ca, ma, cfg, DownloadObjectRequest{
		Bucket:   req.Bucket,
		Key:      key,
		Sink:     sink,
		Listener: NopObjectListener{},
	})
	sink.Close()

	if downloadErr != nil {
		finalizeTempFile(tempPath, finalPath, downloadErr)
		wrapped := &FailedToDownloadAnObjectError{Original: downloadErr, Bucket: req.Bucket, Key: key}
		tally.fail(wrapped)
		if cfg.FailurePolicy == FailurePolicyRethrow {
			return wrapped
		}
		return nil
	}

	if err := finalizeTempFile(tempPath, finalPath, nil); err != nil {
		tally.fail(err)
		if cfg.FailurePolicy == FailurePolicyRethrow {
			return err
		}
		return nil
	}

	tally.succeed()
	return nil
}
