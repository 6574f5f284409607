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
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/sync/errgroup"
)

// UploadObjectRequest describes a single object to upload (§3).
type UploadObjectRequest struct {
	Body   BodySource
	Bucket string
	Key    string

	// ContentType, if non-empty, is sent as the object's Content-Type.
	ContentType string
	// Metadata is attached as user metadata on the object.
	Metadata map[string]string

	// WholeObjectChecksumValue, if non-empty, is a caller-supplied
	// whole-object checksum (any supported algorithm, named by
	// WholeObjectChecksumAlgorithm). Supplying one switches the MPU's
	// checksum type to fullObject instead of composite (§4.4).
	WholeObjectChecksumAlgorithm ChecksumAlgorithm
	WholeObjectChecksumValue     string

	Listener ObjectListener
}

// UploadObjectResult is the terminal result of a successful UploadObject
// (§4.4).
type UploadObjectResult struct {
	Bucket string
	Key    string
	ETag   string
	// UploadID is non-empty only if a multipart upload was used.
	UploadID string
}

// UploadPlan is the derived part-sizing plan for a multipart upload (§3).
type UploadPlan struct {
	PayloadSize int64
	PartSize    int64
	NumParts    int64
}

// computeUploadPlan derives an UploadPlan honoring S3's 10,000-part cap:
// part_size = max(target_part_size, ceil(payload_size/10_000)),
// num_parts = ceil(payload_size/part_size).
func computeUploadPlan(payloadSize, targetPartSize int64) UploadPlan {
	floor := ceilDiv(payloadSize, maxPartsPerUpload)
	partSize := targetPartSize
	if floor > partSize {
		partSize = floor
	}
	if partSize <= 0 {
		partSize = 1
	}
	numParts := ceilDiv(payloadSize, partSize)
	if numParts < 1 {
		numParts = 1
	}
	return UploadPlan{PayloadSize: payloadSize, PartSize: partSize, NumParts: numParts}
}

func ceilDiv(a, b int64) int64 {
	if b <= 0 {
		return 0
	}
	if a%b == 0 {
		return a / b
	}
	return a/b + 1
}

// completedPartResult is what a single part upload task reports back.
type completedPartResult struct {
	partNumber int32
	part       s3types.CompletedPart
	size       int64
}

// uploadObject drives the state machine in §4.4: resolve payload size,
// decide single-PUT vs MPU, fan out parts in bucket-sized batches, and
// commit or abort.
func uploadObject(
	ctx context.Context,
	client S3Client,
	ca *ConcurrencyAdmission,
	ma *MemoryAdmission,
	cfg Config,
	req UploadObjectRequest,
) (UploadObjectResult, error) {
	progress := newProgressReporter(req.Listener)
	progress.initiated(req.Bucket, req.Key)

	size, ok := req.Body.Length()
	if !ok {
		err := ErrStreamOfUnknownLength
		progress.failed(err)
		return UploadObjectResult{}, err
	}
	progress.setTotal(size)

	if size < cfg.MultipartUploadThresholdBytes {
		res, err := uploadSinglePut(ctx, client, ca, ma, progress, req, size)
		if err != nil {
			progress.failed(err)
			return UploadObjectResult{}, err
		}
		progress.complete()
		return res, nil
	}

	res, err := uploadMultipart(ctx, client, ca, ma, cfg, progress, req, size)
	if err != nil {
		progress.failed(err)
		return UploadObjectResult{}, err
	}
	progress.complete()
	return res, nil
}

func uploadSinglePut(
	ctx context.Context,
	client S3Client,
	ca *ConcurrencyAdmission,
	ma *MemoryAdmission,
	progress *progressReporter,
	req UploadObjectRequest,
	size int64,
) (UploadObjectResult, error) {
	if err := ma.Reserve(ctx, size); err != nil {
		return UploadObjectResult{}, err
	}
	defer ma.Release(size)

	body, err := req.Body.ReadPart(ctx, 0, size)
	if err != nil {
		return UploadObjectResult{}, err
	}

	out, err := WithBucketPermission(ctx, ca, req.Bucket, func(ctx context.Context) (*s3.PutObjectOutput, error) {
		in := &s3.PutObjectInput{
			Bucket:   aws.String(req.Bucket),
			Key:      aws.String(req.Key),
			Body:     bytes.NewReader(body),
			Metadata: req.Metadata,
		}
		if req.ContentType != "" {
			in.ContentType = aws.String(req.ContentType)
		}
		return client.PutObject(ctx, in)
	})
	if err != nil {
		return UploadObjectResult{}, fmt.Errorf("s3transfer: PutObject s3://%s/%s: %w", req.Bucket, req.Key, err)
	}
	progress.add(size)
	return UploadObjectResult{
		Bucket: req.Bucket,
		Key:    req.Key,
		ETag:   aws.ToString(out.ETag),
	}, nil
}

func uploadMultipart(
	ctx context.Context,
	client S3Client,
	ca *ConcurrencyAdmission,
	ma *MemoryAdmission,
	cfg Config,
	progress *progressReporter,
	req UploadObjectRequest,
	size int64,
) (res UploadObjectResult, err error) {
	plan := computeUploadPlan(size, cfg.TargetPartSizeBytes)
	alg := cfg.resolvedChecksumAlgorithm()
	if req.WholeObjectChecksumAlgorithm != ChecksumAlgorithmUnspecified {
		alg = req.WholeObjectChecksumAlgorithm
	}
	_, checksumHeaderAlg := newChecksumHash(alg)
	checksumType := checksumTypeFor(req.WholeObjectChecksumValue != "")

	createOut, err := WithBucketPermission(ctx, ca, req.Bucket, func(ctx context.Context) (*s3.CreateMultipartUploadOutput, error) {
		in := &s3.CreateMultipartUploadInput{
			Bucket:            aws.String(req.Bucket),
			Key:               aws.String(req.Key),
			Metadata:          req.Metadata,
			ChecksumAlgorithm: checksumHeaderAlg,
			ChecksumType:      checksumType,
		}
		if req.ContentType != "" {
			in.ContentType = aws.String(req.ContentType)
		}
		return client.CreateMultipartUpload(ctx, in)
	})
	if err != nil {
		return UploadObjectResult{}, fmt.Errorf("%w: %v", ErrFailedToCreateMPU, err)
	}
	uploadID := aws.ToString(createOut.UploadId)

	completed, uploadErr := uploadPartsConcurrently(ctx, client, ca, ma, cfg, progress, req, plan, uploadID, alg)
	if uploadErr != nil {
		abortErr := abortMultipartUpload(context.Background(), client, ca, req.Bucket, req.Key, uploadID)
		if abortErr != nil {
			return UploadObjectResult{}, &AbortFailedError{Original: uploadErr, AbortErr: abortErr}
		}
		return UploadObjectResult{}, uploadErr
	}

	if int64(len(completed)) != plan.NumParts {
		err := &IncorrectNumberOfUploadedPartsError{Expected: int(plan.NumParts), Actual: len(completed)}
		abortErr := abortMultipartUpload(context.Background(), client, ca, req.Bucket, req.Key, uploadID)
		if abortErr != nil {
			return UploadObjectResult{}, &AbortFailedError{Original: err, AbortErr: abortErr}
		}
		return UploadObjectResult{}, err
	}

	sort.Slice(completed, func(i, j int) bool { return completed[i].partNumber < completed[j].partNumber })
	parts := make([]s3types.CompletedPart, len(completed))
	for i, c := range completed {
		parts[i] = c.part
	}

	completeOut, err := WithBucketPermission(ctx, ca, req.Bucket, func(ctx context.Context) (*s3.CompleteMultipartUploadOutput, error) {
		return client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:          aws.String(req.Bucket),
			Key:             aws.String(req.Key),
			UploadId:        aws.String(uploadID),
			MultipartUpload: &s3types.CompletedMultipartUpload{Parts: parts},
		})
	})
	if err != nil {
		abortErr := abortMultipartUpload(context.Background(), client, ca, req.Bucket, req.Key, uploadID)
		wrapped := fmt.Errorf("s3transfer: CompleteMultipartUpload s3://%s/%s: %w", req.Bucket, req.Key, err)
		if abortErr != nil {
			return UploadObjectResult{}, &AbortFailedError{Original: wrapped, AbortErr: abortErr}
		}
		return UploadObjectResult{}, wrapped
	}

	return UploadObjectResult{
		Bucket:   req.Bucket,
		Key:      req.Key,
		ETag:     aws.ToString(completeOut.ETag),
		UploadID: uploadID,
	}, nil
}

// uploadPartsConcurrently partitions [1..NumParts] into contiguous
// batches of size K = concurrentTaskLimitPerBucket and drives each batch
// to completion with an errgroup before starting the next (§4.4).
func uploadPartsConcurrently(
	ctx context.Context,
	client S3Client,
	ca *ConcurrencyAdmission,
	ma *MemoryAdmission,
	cfg Config,
	progress *progressReporter,
	req UploadObjectRequest,
	plan UploadPlan,
	uploadID string,
	alg ChecksumAlgorithm,
) ([]completedPartResult, error) {
	batchSize := cfg.ConcurrentTaskLimitPerBucket
	if batchSize <= 0 {
		batchSize = 1
	}

	var mu sync.Mutex
	results := make([]completedPartResult, 0, plan.NumParts)

	for start := int64(1); start <= plan.NumParts; start += int64(batchSize) {
		end := start + int64(batchSize) - 1
		if end > plan.NumParts {
			end = plan.NumParts
		}

		g, gctx := errgroup.WithContext(ctx)
		for partNum := start; partNum <= end; partNum++ {
			partNum := partNum
			g.Go(func() error {
				cr, err := uploadOnePart(gctx, client, ca, ma, progress, req, plan, uploadID, partNum, alg)
				if err != nil {
					return err
				}
				mu.Lock()
				results = append(results, cr)
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}
	return results, nil
}

func uploadOnePart(
	ctx context.Context,
	client S3Client,
	ca *ConcurrencyAdmission,
	ma *MemoryAdmission,
	progress *progressReporter,
	req UploadObjectRequest,
	plan UploadPlan,
	uploadID string,
	partNum int64,
	alg ChecksumAlgorithm,
) (completedPartResult, error) {
	offset := (partNum - 1) * plan.PartSize
	size := plan.PartSize
	if partNum == plan.NumParts {
		size = plan.PayloadSize - offset
	}

	if err := ma.Reserve(ctx, size); err != nil {
		return completedPartResult{}, err
	}
	defer ma.Release(size)

	data, err := req.Body.ReadPart(ctx, offset, size)
	if err != nil {
		return completedPartResult{}, err
	}
	if int64(len(data)) != size {
		return completedPartResult{}, &PartShortReadError{Expected: size, Actual: int64(len(data))}
	}
	sum := checksumPart(alg, data)

	out, err := WithBucketPermission(ctx, ca, req.Bucket, func(ctx context.Context) (*s3.UploadPartOutput, error) {
		in := &s3.UploadPartInput{
			Bucket:     aws.String(req.Bucket),
			Key:        aws.String(req.Key),
			UploadId:   aws.String(uploadID),
			PartNumber: aws.Int32(int32(partNum)),
			Body:       bytes.NewReader(data),
		}
		applyChecksumField(in, alg, sum)
		return client.UploadPart(ctx, in)
	})
	if err != nil {
		return completedPartResult{}, fmt.Errorf("s3transfer: UploadPart %d s3://%s/%s: %w", partNum, req.Bucket, req.Key, err)
	}

	progress.add(size)

	part := s3types.CompletedPart{
		ETag:       out.ETag,
		PartNumber: aws.Int32(int32(partNum)),
	}
	applyChecksumOnCompletedPart(&part, alg, sum)
	return completedPartResult{partNumber: int32(partNum), part: part, size: size}, nil
}

func abortMultipartUpload(ctx context.Context, client S3Client, ca *ConcurrencyAdmission, bucket, key, uploadID string) error {
	_, err := WithBucketPermission(ctx, ca, bucket, func(ctx context.Context) (*s3.AbortMultipartUploadOutput, error) {
		return client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(bucket),
			Key:      aws.String(key),
			UploadId: aws.String(uploadID),
		})
	})
	return err
}

func applyChecksumField(in *s3.UploadPartInput, alg ChecksumAlgorithm, value string) {
	switch alg {
	case ChecksumCRC32C:
		in.ChecksumCRC32C = aws.String(value)
	case ChecksumSHA1:
		in.ChecksumSHA1 = aws.String(value)
	case ChecksumSHA256:
		in.ChecksumSHA256 = aws.String(value)
	case ChecksumCRC64NVME:
		in.ChecksumCRC64NVME = aws.String(value)
	default:
		in.ChecksumCRC32 = aws.String(value)
	}
}

func applyChecksumOnCompletedPart(part *s3types.CompletedPart, alg ChecksumAlgorithm, value string) {
	switch alg {
	case ChecksumCRC32C:
		part.ChecksumCRC32C = aws.String(value)
	case ChecksumSHA1:
		part.ChecksumSHA1 = aws.String(value)
	case ChecksumSHA256:
		part.ChecksumSHA256 = aws.String(value)
	case ChecksumCRC64NVME:
		part.ChecksumCRC64NVME = aws.String(value)
	default:
		part.ChecksumCRC32 = aws.String(value)
	}
}
