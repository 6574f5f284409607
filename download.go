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
	"io"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// DownloadObjectRequest describes a single object to download (§3).
type DownloadObjectRequest struct {
	Bucket string
	Key    string
	Sink   ByteSink

	// PartNumber, if non-zero, requests a single S3 multipart part
	// directly (strategy precedence rule 1 in §4.5) and bypasses triage
	// and concurrent fan-out entirely.
	PartNumber int32

	// Range, if non-empty, must be of the form "bytes=<start>-<end>" or
	// "bytes=<start>-" and restricts the download to that byte span.
	Range string

	VersionID string
	Listener  ObjectListener
}

// DownloadObjectResult is the terminal result of a successful
// DownloadObject.
type DownloadObjectResult struct {
	Bucket     string
	Key        string
	ETag       string
	TotalBytes int64
}

// segment is one fetched byte range, buffered until it can be written to
// the sink in strictly ascending offset order (§4.5: a reorder buffer
// guards against out-of-order arrival from concurrent fetches).
type segment struct {
	index  int
	offset int64
	data   []byte
}

// downloadObject drives the §4.5 state machine: resolve a strategy,
// triage the object to learn its size and ETag validator (and, for the
// by-part strategy, its part count), then fetch the remainder concurrently
// in bucket-sized, memory-bounded batches, draining into the sink in
// order.
func downloadObject(
	ctx context.Context,
	client S3Client,
	ca *ConcurrencyAdmission,
	ma *MemoryAdmission,
	cfg Config,
	req DownloadObjectRequest,
) (DownloadObjectResult, error) {
	progress := newProgressReporter(req.Listener)
	progress.initiated(req.Bucket, req.Key)

	if req.PartNumber > 0 {
		res, err := downloadSinglePart(ctx, client, ca, progress, req)
		if err != nil {
			progress.failed(err)
			return DownloadObjectResult{}, err
		}
		progress.complete()
		return res, nil
	}

	if req.Range != "" && cfg.MultipartDownloadType == ByPart {
		res, err := downloadExplicitRangeByPart(ctx, client, ca, progress, req)
		if err != nil {
			progress.failed(err)
			return DownloadObjectResult{}, err
		}
		progress.complete()
		return res, nil
	}

	res, err := downloadConcurrent(ctx, client, ca, ma, cfg, progress, req)
	if err != nil {
		progress.failed(err)
		return DownloadObjectResult{}, err
	}
	progress.complete()
	return res, nil
}

func downloadSinglePart(
	ctx context.Context,
	client S3Client,
	ca *ConcurrencyAdmission,
	progress *progressReporter,
	req DownloadObjectRequest,
) (DownloadObjectResult, error) {
	out, err := WithBucketPermission(ctx, ca, req.Bucket, func(ctx context.Context) (*s3.GetObjectOutput, error) {
		in := &s3.GetObjectInput{
			Bucket:     aws.String(req.Bucket),
			Key:        aws.String(req.Key),
			PartNumber: aws.Int32(req.PartNumber),
		}
		if req.VersionID != "" {
			in.VersionId = aws.String(req.VersionID)
		}
		return client.GetObject(ctx, in)
	})
	if err != nil {
		return DownloadObjectResult{}, fmt.Errorf("s3transfer: GetObject part %d s3://%s/%s: %w", req.PartNumber, req.Bucket, req.Key, err)
	}
	defer out.Body.Close()

	total := aws.ToInt64(out.ContentLength)
	progress.setTotal(total)

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return DownloadObjectResult{}, fmt.Errorf("%w: %v", ErrFailedToReadResponseBody, err)
	}
	if err := req.Sink.WriteAt(ctx, data, 0); err != nil {
		return DownloadObjectResult{}, fmt.Errorf("%w: %v", ErrFailedToWriteSink, err)
	}
	progress.add(int64(len(data)))

	return DownloadObjectResult{
		Bucket:     req.Bucket,
		Key:        req.Key,
		ETag:       aws.ToString(out.ETag),
		TotalBytes: total,
	}, nil
}

// downloadExplicitRangeByPart handles the precedence table's fall-through
// row (§4.5: "explicit range, ByPart ⇒ single GET with that range"): under
// the ByPart strategy an explicit caller range is never triaged or split,
// it is served as exactly one GetObject covering the whole requested span.
func downloadExplicitRangeByPart(
	ctx context.Context,
	client S3Client,
	ca *ConcurrencyAdmission,
	progress *progressReporter,
	req DownloadObjectRequest,
) (DownloadObjectResult, error) {
	reqStart, _, _, err := parseRequestRange(req.Range)
	if err != nil {
		return DownloadObjectResult{}, err
	}

	out, err := WithBucketPermission(ctx, ca, req.Bucket, func(ctx context.Context) (*s3.GetObjectOutput, error) {
		in := &s3.GetObjectInput{
			Bucket: aws.String(req.Bucket),
			Key:    aws.String(req.Key),
			Range:  aws.String(req.Range),
		}
		if req.VersionID != "" {
			in.VersionId = aws.String(req.VersionID)
		}
		return client.GetObject(ctx, in)
	})
	if err != nil {
		return DownloadObjectResult{}, fmt.Errorf("s3transfer: GetObject range %s s3://%s/%s: %w", req.Range, req.Bucket, req.Key, err)
	}
	defer out.Body.Close()

	total, err := resolveTotalBytes(out)
	if err != nil {
		return DownloadObjectResult{}, err
	}
	progress.setTotal(total)

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return DownloadObjectResult{}, fmt.Errorf("%w: %v", ErrFailedToReadResponseBody, err)
	}
	if err := writeSegment(ctx, req.Sink, progress, reqStart, data); err != nil {
		return DownloadObjectResult{}, err
	}

	return DownloadObjectResult{
		Bucket:     req.Bucket,
		Key:        req.Key,
		ETag:       aws.ToString(out.ETag),
		TotalBytes: total,
	}, nil
}

// triageResult is what the first request of a concurrent download learns
// before any fan-out begins (§4.5).
type triageResult struct {
	totalBytes  int64
	partsCount  int32 // 0 when the object was not uploaded as an MPU
	etag        string
	firstOffset int64
	firstData   []byte
}

func downloadConcurrent(
	ctx context.Context,
	client S3Client,
	ca *ConcurrencyAdmission,
	ma *MemoryAdmission,
	cfg Config,
	progress *progressReporter,
	req DownloadObjectRequest,
) (DownloadObjectResult, error) {
	reqStart, reqEnd, hasExplicitRange, err := parseRequestRange(req.Range)
	if err != nil {
		return DownloadObjectResult{}, err
	}

	triage, err := triageDownload(ctx, client, ca, cfg, req, reqStart, reqEnd, hasExplicitRange)
	if err != nil {
		return DownloadObjectResult{}, err
	}
	progress.setTotal(triage.totalBytes)

	rangeEnd := triage.totalBytes - 1
	if hasExplicitRange && reqEnd >= 0 && reqEnd < rangeEnd {
		rangeEnd = reqEnd
	}

	if err := writeSegment(ctx, req.Sink, progress, triage.firstOffset, triage.firstData); err != nil {
		return DownloadObjectResult{}, err
	}

	plan := buildRemainingPlan(cfg, triage, triage.firstOffset+int64(len(triage.firstData)), rangeEnd)
	segmentsWritten := 1

	if len(plan) > 0 {
		n, err := fetchRemaining(ctx, client, ca, ma, cfg, progress, req, triage.etag, plan)
		if err != nil {
			return DownloadObjectResult{}, err
		}
		segmentsWritten += n
	}

	expectedSegments := len(plan) + 1
	if segmentsWritten != expectedSegments {
		return DownloadObjectResult{}, &UnexpectedNumberOfSegmentsDownloadedError{Expected: expectedSegments, Actual: segmentsWritten}
	}

	return DownloadObjectResult{
		Bucket:     req.Bucket,
		Key:        req.Key,
		ETag:       triage.etag,
		TotalBytes: triage.totalBytes,
	}, nil
}

// planSegment is one not-yet-fetched byte range or part to retrieve
// concurrently after triage.
type planSegment struct {
	index  int
	offset int64
	length int64
	part   int32 // non-zero for the by-part strategy
}

// buildRemainingPlan computes every segment still needed after the
// triage fetch, per the §4.5 strategy's segment size (a part for ByPart,
// cfg.TargetPartSizeBytes for ByRange), clamped to rangeEnd.
func buildRemainingPlan(cfg Config, triage triageResult, nextOffset, rangeEnd int64) []planSegment {
	var plan []planSegment
	idx := 0

	if cfg.MultipartDownloadType == ByPart && triage.partsCount > 1 {
		for part := int32(2); part <= triage.partsCount; part++ {
			plan = append(plan, planSegment{index: idx, part: part})
			idx++
		}
		return plan
	}

	segSize := cfg.TargetPartSizeBytes
	if segSize <= 0 {
		segSize = defaultTargetPartSizeBytes
	}
	for offset := nextOffset; offset <= rangeEnd; offset += segSize {
		end := offset + segSize - 1
		if end > rangeEnd {
			end = rangeEnd
		}
		plan = append(plan, planSegment{index: idx, offset: offset, length: end - offset + 1})
		idx++
	}
	return plan
}

// triageDownload issues the first request of a concurrent download: a
// by-part GetObject?partNumber=1 or a ranged GetObject covering the first
// segment, from which totalBytes, the object's part count (if any), and
// its ETag are all learned (§4.5). Content-Range is parsed as
// "bytes start-end/total", taking the segment after the final "/"; see
// parseContentRange.
func triageDownload(
	ctx context.Context,
	client S3Client,
	ca *ConcurrencyAdmission,
	cfg Config,
	req DownloadObjectRequest,
	reqStart, reqEnd int64,
	hasExplicitRange bool,
) (triageResult, error) {
	useByPart := cfg.MultipartDownloadType == ByPart && !hasExplicitRange

	out, err := WithBucketPermission(ctx, ca, req.Bucket, func(ctx context.Context) (*s3.GetObjectOutput, error) {
		in := &s3.GetObjectInput{
			Bucket: aws.String(req.Bucket),
			Key:    aws.String(req.Key),
		}
		if req.VersionID != "" {
			in.VersionId = aws.String(req.VersionID)
		}
		switch {
		case useByPart:
			in.PartNumber = aws.Int32(1)
		case hasExplicitRange:
			in.Range = aws.String(formatRange(reqStart, firstSegmentEnd(reqStart, reqEnd, cfg.TargetPartSizeBytes)))
		default:
			in.Range = aws.String(formatRange(0, cfg.TargetPartSizeBytes-1))
		}
		return client.GetObject(ctx, in)
	})
	if err != nil {
		return triageResult{}, fmt.Errorf("s3transfer: triage GetObject s3://%s/%s: %w", req.Bucket, req.Key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return triageResult{}, fmt.Errorf("%w: %v", ErrFailedToReadResponseBody, err)
	}

	total, err := resolveTotalBytes(out)
	if err != nil {
		return triageResult{}, err
	}

	return triageResult{
		totalBytes:  total,
		partsCount:  aws.ToInt32(out.PartsCount),
		etag:        aws.ToString(out.ETag),
		firstOffset: reqStart,
		firstData:   data,
	}, nil
}

// resolveTotalBytes learns the object's full size from Content-Range when
// present (a ranged or by-part request), falling back to ContentLength
// for an unranged whole-object response.
func resolveTotalBytes(out *s3.GetObjectOutput) (int64, error) {
	if cr := aws.ToString(out.ContentRange); cr != "" {
		_, _, total, err := parseContentRange(cr)
		if err != nil {
			return 0, err
		}
		return total, nil
	}
	if out.ContentLength != nil {
		return aws.ToInt64(out.ContentLength), nil
	}
	return 0, ErrFailedToDetermineObjectSize
}

// parseContentRange parses a "bytes start-end/total" Content-Range header
// value. total may be "*" for an unknown size, which is reported as
// ErrFailedToDetermineObjectSize.
func parseContentRange(header string) (start, end, total int64, err error) {
	if !strings.HasPrefix(header, "bytes ") {
		return 0, 0, 0, &InvalidRangeFormatError{Detail: header}
	}
	header = strings.TrimPrefix(header, "bytes ")
	slash := strings.LastIndex(header, "/")
	if slash < 0 {
		return 0, 0, 0, &InvalidRangeFormatError{Detail: header}
	}
	span, totalStr := header[:slash], header[slash+1:]
	if totalStr == "*" {
		return 0, 0, 0, ErrFailedToDetermineObjectSize
	}
	total, err = strconv.ParseInt(totalStr, 10, 64)
	if err != nil {
		return 0, 0, 0, &InvalidRangeFormatError{Detail: header}
	}
	dash := strings.Index(span, "-")
	if dash < 0 {
		return 0, 0, 0, &InvalidRangeFormatError{Detail: header}
	}
	start, err = strconv.ParseInt(span[:dash], 10, 64)
	if err != nil {
		return 0, 0, 0, &InvalidRangeFormatError{Detail: header}
	}
	end, err = strconv.ParseInt(span[dash+1:], 10, 64)
	if err != nil {
		return 0, 0, 0, &InvalidRangeFormatError{Detail: header}
	}
	return start, end, total, nil
}

// parseRequestRange parses a caller-supplied "bytes=start-end" or
// "bytes=start-" range. An empty input reports hasRange=false.
func parseRequestRange(r string) (start, end int64, hasRange bool, err error) {
	if r == "" {
		return 0, -1, false, nil
	}
	if !strings.HasPrefix(r, "bytes=") {
		return 0, 0, false, &InvalidRangeFormatError{Detail: r}
	}
	r = strings.TrimPrefix(r, "bytes=")
	dash := strings.Index(r, "-")
	if dash < 0 {
		return 0, 0, false, &InvalidRangeFormatError{Detail: r}
	}
	start, err = strconv.ParseInt(r[:dash], 10, 64)
	if err != nil {
		return 0, 0, false, &InvalidRangeFormatError{Detail: r}
	}
	if r[dash+1:] == "" {
		return start, -1, true, nil
	}
	end, err = strconv.ParseInt(r[dash+1:], 10, 64)
	if err != nil {
		return 0, 0, false, &InvalidRangeFormatError{Detail: r}
	}
	return start, end, true, nil
}

func formatRange(start, end int64) string {
	return fmt.Sprintf("bytes=%d-%d", start, end)
}

func firstSegmentEnd(start, explicitEnd int64, targetPartSize int64) int64 {
	if targetPartSize <= 0 {
		targetPartSize = defaultTargetPartSizeBytes
	}
	candidate := start + targetPartSize - 1
	if explicitEnd >= 0 && explicitEnd < candidate {
		return explicitEnd
	}
	return candidate
}

// fetchRemaining fetches every segment in plan concurrently, in
// memory-bounded batches sized to min(maxInMemoryBytes/segmentSize,
// concurrentTaskLimitPerBucket), and drains each batch into the sink in
// strictly ascending offset order before starting the next (§4.5).
func fetchRemaining(
	ctx context.Context,
	client S3Client,
	ca *ConcurrencyAdmission,
	ma *MemoryAdmission,
	cfg Config,
	progress *progressReporter,
	req DownloadObjectRequest,
	validatorTag string,
	plan []planSegment,
) (int, error) {
	segSize := cfg.TargetPartSizeBytes
	if segSize <= 0 {
		segSize = defaultTargetPartSizeBytes
	}
	batchSize := cfg.ConcurrentTaskLimitPerBucket
	if cfg.MaxInMemoryBytes > 0 {
		if byMemory := int(cfg.MaxInMemoryBytes / segSize); byMemory < batchSize {
			batchSize = byMemory
		}
	}
	if batchSize <= 0 {
		batchSize = 1
	}

	written := 0
	for start := 0; start < len(plan); start += batchSize {
		end := start + batchSize
		if end > len(plan) {
			end = len(plan)
		}
		batch := plan[start:end]

		segs, err := fetchBatch(ctx, client, ca, ma, req, validatorTag, batch)
		if err != nil {
			return written, err
		}
		sortSegments(segs)
		for _, s := range segs {
			if err := writeSegment(ctx, req.Sink, progress, s.offset, s.data); err != nil {
				return written, err
			}
			written++
		}
	}
	return written, nil
}

func fetchBatch(
	ctx context.Context,
	client S3Client,
	ca *ConcurrencyAdmission,
	ma *MemoryAdmission,
	req DownloadObjectRequest,
	validatorTag string,
	batch []planSegment,
) ([]segment, error) {
	results := make([]segment, len(batch))
	errCh := make(chan error, len(batch))
	var wg sync.WaitGroup

	gctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for i, ps := range batch {
		i, ps := i, ps
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := fetchOneSegment(gctx, client, ca, ma, req, validatorTag, ps)
			if err != nil {
				errCh <- err
				cancel()
				return
			}
			results[i] = s
		}()
	}
	wg.Wait()
	close(errCh)
	if err, ok := <-errCh; ok {
		return nil, err
	}
	return results, nil
}

func fetchOneSegment(
	ctx context.Context,
	client S3Client,
	ca *ConcurrencyAdmission,
	ma *MemoryAdmission,
	req DownloadObjectRequest,
	validatorTag string,
	ps planSegment,
) (segment, error) {
	size := ps.length
	if ps.part != 0 {
		// Part size is not known until the fetch completes; reserve
		// defaultTargetPartSizeBytes as an estimate. The reservation is
		// not adjusted to the part's actual size.
		size = defaultTargetPartSizeBytes
	}
	if err := ma.Reserve(ctx, size); err != nil {
		return segment{}, err
	}
	defer ma.Release(size)

	out, err := WithBucketPermission(ctx, ca, req.Bucket, func(ctx context.Context) (*s3.GetObjectOutput, error) {
		in := &s3.GetObjectInput{
			Bucket: aws.String(req.Bucket),
			Key:    aws.String(req.Key),
		}
		if req.VersionID != "" {
			in.VersionId = aws.String(req.VersionID)
		}
		if validatorTag != "" {
			in.IfMatch = aws.String(validatorTag)
		}
		if ps.part != 0 {
			in.PartNumber = aws.Int32(ps.part)
		} else {
			in.Range = aws.String(formatRange(ps.offset, ps.offset+ps.length-1))
		}
		return client.GetObject(ctx, in)
	})
	if err != nil {
		return segment{}, fmt.Errorf("s3transfer: GetObject segment s3://%s/%s: %w", req.Bucket, req.Key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return segment{}, fmt.Errorf("%w: %v", ErrFailedToReadResponseBody, err)
	}

	offset := ps.offset
	if ps.part != 0 {
		if cr := aws.ToString(out.ContentRange); cr != "" {
			start, _, _, err := parseContentRange(cr)
			if err == nil {
				offset = start
			}
		}
	}

	return segment{index: ps.index, offset: offset, data: data}, nil
}

func sortSegments(segs []segment) {
	for i := 1; i < len(segs); i++ {
		for j := i; j > 0 && segs[j].index < segs[j-1].index; j-- {
			segs[j], segs[j-1] = segs[j-1], segs[j]
		}
	}
}

// writeSegment writes one fetched segment to the sink, retrying a failed
// WriteAt up to three times with a 1-10ms jittered pause between attempts
// (§4.5, §5); if every attempt fails it surfaces ErrFailedToWriteSink.
func writeSegment(ctx context.Context, sink ByteSink, progress *progressReporter, offset int64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	const maxAttempts = 3
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			jitter := time.Duration(1+rand.Intn(10)) * time.Millisecond
			select {
			case <-time.After(jitter):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := sink.WriteAt(ctx, data, offset); err != nil {
			lastErr = err
			continue
		}
		progress.add(int64(len(data)))
		return nil
	}
	return fmt.Errorf("%w: %v", ErrFailedToWriteSink, lastErr)
}
