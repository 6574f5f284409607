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

// Package s3transfer is a high-level object-transfer engine layered on top
// of a generic S3 request client.
//
// It moves bytes between a local filesystem and an S3-compatible object
// store at high throughput while preserving durability and bounded resource
// usage. Four operations compose the public surface: UploadObject,
// DownloadObject, UploadDirectory, and DownloadBucket. Request signing,
// retries of individual HTTP calls, and endpoint resolution are not this
// package's concern; callers supply an S3Client capability (see client.go),
// typically backed by the real AWS SDK for Go v2 client via
// internal/s3api.New or internal/s3api.FromConfig.
package s3transfer
