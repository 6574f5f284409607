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
	"errors"
	"fmt"
)

// Sentinel errors for conditions that carry no extra data.
var (
	// ErrStreamOfUnknownLength is returned when an upload body source
	// cannot report its length up front. Streaming uploads of unknown
	// length are a declared Non-goal.
	ErrStreamOfUnknownLength = errors.New("s3transfer: upload body of unknown length is not supported")

	// ErrFailedToCreateMPU is returned when CreateMultipartUpload fails.
	ErrFailedToCreateMPU = errors.New("s3transfer: failed to create multipart upload")

	// ErrFailedToReadResponseBody is returned when reading a GetObject
	// response body fails.
	ErrFailedToReadResponseBody = errors.New("s3transfer: failed to read response body")

	// ErrFailedToWriteSink is returned when a ByteSink write fails hard
	// (as opposed to a tolerated transient short write).
	ErrFailedToWriteSink = errors.New("s3transfer: failed to write to sink")

	// ErrFailedToDetermineObjectSize is returned when triage cannot learn
	// the object's total size (missing Content-Range and Content-Length).
	ErrFailedToDetermineObjectSize = errors.New("s3transfer: failed to determine object size")

	// ErrProvidedDestinationIsNotADirectory is returned when a directory
	// operation's destination exists but is not a directory.
	ErrProvidedDestinationIsNotADirectory = errors.New("s3transfer: destination exists and is not a directory")

	// ErrFailedToCreateDestinationDirectory is returned when the root
	// destination directory for a DownloadBucket cannot be created.
	ErrFailedToCreateDestinationDirectory = errors.New("s3transfer: failed to create destination directory")
)

// PartShortReadError reports that a PartReader returned fewer bytes than
// requested without reaching legitimate end of input, i.e. a corrupted or
// truncated upload body.
type PartShortReadError struct {
	Expected int64
	Actual   int64
}

func (e *PartShortReadError) Error() string {
	return fmt.Sprintf("s3transfer: short read assembling upload part: expected %d bytes, got %d", e.Expected, e.Actual)
}

// IncorrectNumberOfUploadedPartsError reports that the completed-part
// tally did not match the planned part count before CompleteMultipartUpload.
type IncorrectNumberOfUploadedPartsError struct {
	Expected int
	Actual   int
}

func (e *IncorrectNumberOfUploadedPartsError) Error() string {
	return fmt.Sprintf("s3transfer: incorrect number of uploaded parts: expected %d, got %d", e.Expected, e.Actual)
}

// AbortFailedError wraps a failure that occurred during upload together
// with a failure that then occurred while trying to abort the in-flight
// multipart upload. The original error must never be masked by the abort
// error.
type AbortFailedError struct {
	Original error
	AbortErr error
}

func (e *AbortFailedError) Error() string {
	return fmt.Sprintf("s3transfer: upload failed (%v) and abort of multipart upload also failed (%v)", e.Original, e.AbortErr)
}

func (e *AbortFailedError) Unwrap() error { return e.Original }

// InvalidRangeFormatError reports a Range or Content-Range header that this
// package cannot parse (anything not of the form "bytes=<start>-<end>" or
// "bytes=<start>-", or a Content-Range not of the form "bytes X-Y/Z").
type InvalidRangeFormatError struct {
	Detail string
}

func (e *InvalidRangeFormatError) Error() string {
	return fmt.Sprintf("s3transfer: invalid range format: %s", e.Detail)
}

// UnexpectedNumberOfSegmentsDownloadedError reports a durability violation:
// the downloader received a different number of segments than the triage
// step computed it would need.
type UnexpectedNumberOfSegmentsDownloadedError struct {
	Expected int
	Actual   int
}

func (e *UnexpectedNumberOfSegmentsDownloadedError) Error() string {
	return fmt.Sprintf("s3transfer: unexpected number of segments downloaded: expected %d, got %d", e.Expected, e.Actual)
}

// FailedToCreateNestedDestinationDirectoryError reports that an
// intermediate directory could not be created while materializing a
// download destination path.
type FailedToCreateNestedDestinationDirectoryError struct {
	At  string
	Err error
}

func (e *FailedToCreateNestedDestinationDirectoryError) Error() string {
	return fmt.Sprintf("s3transfer: failed to create nested destination directory %q: %v", e.At, e.Err)
}

func (e *FailedToCreateNestedDestinationDirectoryError) Unwrap() error { return e.Err }

// InvalidSourceURLError reports a malformed local source root passed to
// UploadDirectory.
type InvalidSourceURLError struct {
	Detail string
}

func (e *InvalidSourceURLError) Error() string {
	return fmt.Sprintf("s3transfer: invalid source url: %s", e.Detail)
}

// InvalidFileNameError reports a key or path that cannot be translated
// between the S3 key space and the local filesystem (§4.7).
type InvalidFileNameError struct {
	Detail string
}

func (e *InvalidFileNameError) Error() string {
	return fmt.Sprintf("s3transfer: invalid file name: %s", e.Detail)
}

// FailedToDownloadAnObjectError wraps a per-object download failure,
// surfacing the offending input to a FailurePolicy.
type FailedToDownloadAnObjectError struct {
	Original error
	Bucket   string
	Key      string
}

func (e *FailedToDownloadAnObjectError) Error() string {
	return fmt.Sprintf("s3transfer: failed to download s3://%s/%s: %v", e.Bucket, e.Key, e.Original)
}

func (e *FailedToDownloadAnObjectError) Unwrap() error { return e.Original }

// FailedToUploadAnObjectError wraps a per-object upload failure, surfacing
// the offending input to a FailurePolicy.
type FailedToUploadAnObjectError struct {
	Original error
	Bucket   string
	Key      string
}

func (e *FailedToUploadAnObjectError) Error() string {
	return fmt.Sprintf("s3transfer: failed to upload s3://%s/%s: %v", e.Bucket, e.Key, e.Original)
}

func (e *FailedToUploadAnObjectError) Unwrap() error { return e.Original }

// FailedToRenameTemporaryFileError reports that the atomic rename from a
// temp file to its final destination path failed.
type FailedToRenameTemporaryFileError struct {
	Path string
	Err  error
}

func (e *FailedToRenameTemporaryFileError) Error() string {
	return fmt.Sprintf("s3transfer: failed to rename temporary file to %q: %v", e.Path, e.Err)
}

func (e *FailedToRenameTemporaryFileError) Unwrap() error { return e.Err }
