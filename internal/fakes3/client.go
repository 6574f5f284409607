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

// Package fakes3 is an in-memory fake implementing this module's
// S3Client capability, for tests that don't want to speak the S3
// REST/XML wire protocol. It keeps the teacher's modeling of a mock
// object store (MockObject / MockMultipartUpload / error injection) but
// implements the Go interface boundary directly instead of running an
// httptest server.
package fakes3

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

func readAll(r io.Reader) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	return io.ReadAll(r)
}

func readCloserOf(data []byte) io.ReadCloser {
	return io.NopCloser(bytes.NewReader(data))
}

// MockObject is a single stored object.
type MockObject struct {
	Data        []byte
	ETag        string
	ContentType string
	Metadata    map[string]string
}

// MockMultipartUpload is an in-progress or completed multipart upload.
type MockMultipartUpload struct {
	ID       string
	Bucket   string
	Key      string
	Parts    map[int32][]byte
	Metadata map[string]string
}

// ErrorSimulation lets a test inject a failure for the Nth call to a
// named operation (e.g. "UploadPart"), matching the teacher mock
// server's error-injection hooks.
type ErrorSimulation struct {
	Op       string
	OnCall   int
	Err      error
}

// Client is an in-memory S3Client. Construct one with New; the zero
// value has no maps and is not usable.
type Client struct {
	mu sync.Mutex

	objects      map[string]map[string]*MockObject
	uploads      map[string]*MockMultipartUpload
	uploadSeq    int
	callCounts   map[string]int
	Errors       []ErrorSimulation
	Requests     []string // operation names, in call order, for assertions
}

// New returns an empty fake client.
func New() *Client {
	return &Client{
		objects:    make(map[string]map[string]*MockObject),
		uploads:    make(map[string]*MockMultipartUpload),
		callCounts: make(map[string]int),
	}
}

func (c *Client) record(op string) error {
	c.Requests = append(c.Requests, op)
	c.callCounts[op]++
	for _, sim := range c.Errors {
		if sim.Op == op && sim.OnCall == c.callCounts[op] {
			return sim.Err
		}
	}
	return nil
}

func etagFor(data []byte) string {
	sum := md5.Sum(data)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

func (c *Client) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record("PutObject"); err != nil {
		return nil, err
	}
	data, err := readAll(in.Body)
	if err != nil {
		return nil, err
	}
	obj := &MockObject{Data: data, ETag: etagFor(data), Metadata: in.Metadata}
	if in.ContentType != nil {
		obj.ContentType = *in.ContentType
	}
	c.putObject(aws.ToString(in.Bucket), aws.ToString(in.Key), obj)
	return &s3.PutObjectOutput{ETag: aws.String(obj.ETag)}, nil
}

func (c *Client) putObject(bucket, key string, obj *MockObject) {
	if c.objects[bucket] == nil {
		c.objects[bucket] = make(map[string]*MockObject)
	}
	c.objects[bucket][key] = obj
}

func (c *Client) CreateMultipartUpload(_ context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record("CreateMultipartUpload"); err != nil {
		return nil, err
	}
	c.uploadSeq++
	id := "upload-" + strconv.Itoa(c.uploadSeq)
	c.uploads[id] = &MockMultipartUpload{
		ID:       id,
		Bucket:   aws.ToString(in.Bucket),
		Key:      aws.ToString(in.Key),
		Parts:    make(map[int32][]byte),
		Metadata: in.Metadata,
	}
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String(id)}, nil
}

func (c *Client) UploadPart(_ context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record("UploadPart"); err != nil {
		return nil, err
	}
	upload, ok := c.uploads[aws.ToString(in.UploadId)]
	if !ok {
		return nil, fmt.Errorf("fakes3: no such upload %q", aws.ToString(in.UploadId))
	}
	data, err := readAll(in.Body)
	if err != nil {
		return nil, err
	}
	upload.Parts[aws.ToInt32(in.PartNumber)] = data
	return &s3.UploadPartOutput{ETag: aws.String(etagFor(data))}, nil
}

func (c *Client) CompleteMultipartUpload(_ context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record("CompleteMultipartUpload"); err != nil {
		return nil, err
	}
	upload, ok := c.uploads[aws.ToString(in.UploadId)]
	if !ok {
		return nil, fmt.Errorf("fakes3: no such upload %q", aws.ToString(in.UploadId))
	}

	parts := in.MultipartUpload.Parts
	sorted := append([]types.CompletedPart(nil), parts...)
	sort.Slice(sorted, func(i, j int) bool { return aws.ToInt32(sorted[i].PartNumber) < aws.ToInt32(sorted[j].PartNumber) })

	var full []byte
	for i, p := range sorted {
		num := aws.ToInt32(p.PartNumber)
		if int32(i+1) != num {
			return nil, fmt.Errorf("fakes3: non-contiguous part list: position %d has part_number %d", i+1, num)
		}
		data, ok := upload.Parts[num]
		if !ok {
			return nil, fmt.Errorf("fakes3: missing uploaded data for part %d", num)
		}
		full = append(full, data...)
	}

	obj := &MockObject{Data: full, ETag: etagFor(full), Metadata: upload.Metadata}
	c.putObject(upload.Bucket, upload.Key, obj)
	delete(c.uploads, upload.ID)

	return &s3.CompleteMultipartUploadOutput{
		Bucket: aws.String(upload.Bucket),
		Key:    aws.String(upload.Key),
		ETag:   aws.String(obj.ETag),
	}, nil
}

func (c *Client) AbortMultipartUpload(_ context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record("AbortMultipartUpload"); err != nil {
		return nil, err
	}
	delete(c.uploads, aws.ToString(in.UploadId))
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (c *Client) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record("GetObject"); err != nil {
		return nil, err
	}
	bucket := aws.ToString(in.Bucket)
	key := aws.ToString(in.Key)
	objs, ok := c.objects[bucket]
	if !ok {
		return nil, fmt.Errorf("fakes3: no such bucket %q", bucket)
	}
	obj, ok := objs[key]
	if !ok {
		return nil, fmt.Errorf("fakes3: no such key %q", key)
	}
	if ifMatch := aws.ToString(in.IfMatch); ifMatch != "" && ifMatch != obj.ETag {
		return nil, fmt.Errorf("fakes3: if-match precondition failed for %q", key)
	}

	total := int64(len(obj.Data))

	if in.PartNumber != nil {
		return c.getObjectByPart(obj, total, aws.ToInt32(in.PartNumber))
	}
	if in.Range != nil {
		return c.getObjectByRange(obj, total, aws.ToString(in.Range))
	}
	return &s3.GetObjectOutput{
		Body:          readCloserOf(obj.Data),
		ContentLength: aws.Int64(total),
		ETag:          aws.String(obj.ETag),
	}, nil
}

// fakePartSize is the fixed per-part chunk size this fake uses to carve
// a whole object into addressable "parts" for partNumber-style GETs,
// independent of whatever part size the original upload used.
const fakePartSize = 5 * 1024 * 1024

func (c *Client) getObjectByPart(obj *MockObject, total int64, part int32) (*s3.GetObjectOutput, error) {
	numParts := int32((total + fakePartSize - 1) / fakePartSize)
	if numParts == 0 {
		numParts = 1
	}
	if part < 1 || part > numParts {
		return nil, fmt.Errorf("fakes3: part number %d out of range (1..%d)", part, numParts)
	}
	start := int64(part-1) * fakePartSize
	end := start + fakePartSize - 1
	if end > total-1 {
		end = total - 1
	}
	data := obj.Data[start : end+1]
	return &s3.GetObjectOutput{
		Body:          readCloserOf(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentRange:  aws.String(fmt.Sprintf("bytes %d-%d/%d", start, end, total)),
		PartsCount:    aws.Int32(numParts),
		ETag:          aws.String(obj.ETag),
	}, nil
}

func (c *Client) getObjectByRange(obj *MockObject, total int64, rangeHeader string) (*s3.GetObjectOutput, error) {
	spec := strings.TrimPrefix(rangeHeader, "bytes=")
	dash := strings.Index(spec, "-")
	if dash < 0 {
		return nil, fmt.Errorf("fakes3: invalid range %q", rangeHeader)
	}
	start, err := strconv.ParseInt(spec[:dash], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("fakes3: invalid range %q", rangeHeader)
	}
	end := total - 1
	if spec[dash+1:] != "" {
		end, err = strconv.ParseInt(spec[dash+1:], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("fakes3: invalid range %q", rangeHeader)
		}
	}
	if end > total-1 {
		end = total - 1
	}
	if start > end {
		return nil, fmt.Errorf("fakes3: unsatisfiable range %q for object of size %d", rangeHeader, total)
	}
	data := obj.Data[start : end+1]
	return &s3.GetObjectOutput{
		Body:          readCloserOf(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentRange:  aws.String(fmt.Sprintf("bytes %d-%d/%d", start, end, total)),
		ETag:          aws.String(obj.ETag),
	}, nil
}

func (c *Client) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record("ListObjectsV2"); err != nil {
		return nil, err
	}
	bucket := aws.ToString(in.Bucket)
	prefix := aws.ToString(in.Prefix)

	var keys []string
	for key := range c.objects[bucket] {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	startAfter := aws.ToString(in.ContinuationToken)
	pageSize := int(aws.ToInt32(in.MaxKeys))
	if pageSize <= 0 {
		pageSize = 1000
	}

	var page []types.Object
	nextToken := ""
	for _, key := range keys {
		if key <= startAfter {
			continue
		}
		if len(page) == pageSize {
			nextToken = aws.ToString(page[len(page)-1].Key)
			break
		}
		obj := c.objects[bucket][key]
		page = append(page, types.Object{
			Key:  aws.String(key),
			ETag: aws.String(obj.ETag),
			Size: aws.Int64(int64(len(obj.Data))),
		})
	}

	out := &s3.ListObjectsV2Output{
		Contents:    page,
		IsTruncated: aws.Bool(nextToken != ""),
	}
	if nextToken != "" {
		out.NextContinuationToken = aws.String(nextToken)
	}
	return out, nil
}

// PutRaw seeds the fake store directly, bypassing PutObject, for tests
// that want to set up download fixtures without an upload round-trip.
func (c *Client) PutRaw(bucket, key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.putObject(bucket, key, &MockObject{Data: data, ETag: etagFor(data)})
}

// CallCount reports how many times op has been invoked so far.
func (c *Client) CallCount(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callCounts[op]
}
