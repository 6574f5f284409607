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

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Client is the external collaborator this package consumes. It is
// intentionally small: signing, retrying individual HTTP calls, and
// endpoint resolution belong to whatever builds one of these, not to this
// package (see doc.go). The signature of every method matches
// *github.com/aws/aws-sdk-go-v2/service/s3.Client exactly, so a real SDK
// client satisfies S3Client without an adapter; internal/s3api.New and
// internal/s3api.FromConfig exist only to make that relationship explicit
// and to provide a seam for mocking in tests that don't want to depend on
// aws-sdk-go-v2 directly.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// BodySource is the capability set an upload body offers: a known length
// and the ability to read an arbitrary [offset, offset+size) slice of
// itself. InMemoryBody and SeekableStreamBody are the two supported
// variants (§3); streaming sources that cannot report a length up front
// are rejected with ErrStreamOfUnknownLength before any S3 call is made.
type BodySource interface {
	// Length returns the total size of the body, or (-1, false) if the
	// length is not known up front.
	Length() (int64, bool)

	// ReadPart returns exactly size bytes starting at offset. A short
	// read that is not legitimate end-of-input is reported as
	// *PartShortReadError.
	ReadPart(ctx context.Context, offset, size int64) ([]byte, error)
}

// ByteSink is the capability an object download writes into: a file, an
// in-memory buffer, or a caller-owned buffer (§9). WriteAt must tolerate
// short writes internally and only return an error when nothing further
// can be done.
type ByteSink interface {
	// WriteAt writes len(p) bytes starting at the given absolute offset
	// within the destination. Implementations must loop internally on
	// short underlying writes; see filesystem.go's fileSink for the
	// reference loop.
	WriteAt(ctx context.Context, p []byte, offset int64) error
}
