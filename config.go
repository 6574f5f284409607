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

// MultipartDownloadType selects the strategy DownloadObject uses to split
// a large object into concurrent requests (§4.5).
type MultipartDownloadType int

const (
	// ByPart splits a download using the partNumber query parameter,
	// matching how the object was originally uploaded as a multipart
	// upload. This is the default.
	ByPart MultipartDownloadType = iota
	// ByRange splits a download using HTTP byte-range requests,
	// independent of how the object was uploaded.
	ByRange
)

func (t MultipartDownloadType) String() string {
	if t == ByRange {
		return "ByRange"
	}
	return "ByPart"
}

// ChecksumAlgorithm identifies a supported per-part / whole-object
// checksum algorithm (§4.4).
type ChecksumAlgorithm int

const (
	ChecksumAlgorithmUnspecified ChecksumAlgorithm = iota
	ChecksumCRC32C
	ChecksumCRC32
	ChecksumCRC64NVME
	ChecksumSHA1
	ChecksumSHA256
)

// checksumPriority is the fixed fallback order used when the caller does
// not explicitly select an algorithm: CRC32C > CRC32 > CRC64NVME > SHA1 >
// SHA256, defaulting to CRC32 when nothing else applies (§4.4).
var checksumPriority = []ChecksumAlgorithm{
	ChecksumCRC32C, ChecksumCRC32, ChecksumCRC64NVME, ChecksumSHA1, ChecksumSHA256,
}

// ChecksumCalculationMode controls when this package attaches a checksum
// to outgoing requests.
type ChecksumCalculationMode int

const (
	ChecksumWhenSupported ChecksumCalculationMode = iota
	ChecksumRequired
)

// FailurePolicy decides what a directory operation does when one of its
// per-file child operations fails (§4.9, §4.10, GLOSSARY).
type FailurePolicy int

const (
	// FailurePolicyRethrow fails the whole directory operation as soon as
	// one child fails, cancelling all still-running siblings. Default.
	FailurePolicyRethrow FailurePolicy = iota
	// FailurePolicyIgnore tallies the failure and continues processing
	// remaining files.
	FailurePolicyIgnore
)

const (
	// defaultTargetPartSizeBytes is the part-size floor for MPU uploads
	// and the segment size for concurrent downloads (§6).
	defaultTargetPartSizeBytes = 8 * 1024 * 1024
	// defaultMultipartUploadThresholdBytes is the payload size below
	// which UploadObject uses a single PUT instead of an MPU (§6).
	defaultMultipartUploadThresholdBytes = 16 * 1024 * 1024
	// defaultConcurrentTaskLimitPerBucket mirrors a conservative HTTP
	// connection pool size (§4.1).
	defaultConcurrentTaskLimitPerBucket = 8
	// maxPartsPerUpload is S3's hard multipart cap (§3).
	maxPartsPerUpload = 10_000

	// defaultMaxInMemoryBytesDesktop is the default MemoryAdmission
	// budget for desktop/server class processes (§4.2).
	defaultMaxInMemoryBytesDesktop = 6 * 1024 * 1024 * 1024
	// defaultMaxInMemoryBytesMobile is the default budget for mobile
	// class processes (§4.2).
	defaultMaxInMemoryBytesMobile = 1 * 1024 * 1024 * 1024
	// defaultMaxInMemoryBytesConstrained is the default budget for a
	// constrained-watch class process (§4.2).
	defaultMaxInMemoryBytesConstrained = 100 * 1024 * 1024

	// defaultMaxDirectoryConcurrency bounds how many per-file operations
	// a directory transfer keeps in flight at once (§4.9, §4.10).
	defaultMaxDirectoryConcurrency = 16

	// defaultS3Delimiter is the S3 "folder" separator (§4.7, §6).
	defaultS3Delimiter = "/"
)

// Config collects the tunables shared by every operation in this package
// (§6). The zero value is not directly usable; construct one with
// NewConfig, which applies the documented defaults, then layer Option
// values on top.
type Config struct {
	TargetPartSizeBytes           int64
	MultipartUploadThresholdBytes int64
	MultipartDownloadType         MultipartDownloadType
	RequestChecksumCalculation    ChecksumCalculationMode
	ResponseChecksumValidation    ChecksumCalculationMode
	ChecksumAlgorithm             ChecksumAlgorithm // explicit override; unspecified means follow checksumPriority
	MaxInMemoryBytes              int64
	ConcurrentTaskLimitPerBucket  int

	// Directory-operation-only fields (§6). NewConfig replaces an empty
	// S3Delimiter and a non-positive MaxConcurrency with their defaults.
	Recursive       bool
	FollowSymlinks  bool
	S3Prefix        string
	S3Delimiter     string
	Filter          func(key string) bool
	FailurePolicy   FailurePolicy
	MaxConcurrency  int
}

// Option mutates a Config. Functional options match the idiom used by the
// AWS SDK v2 transfer manager and by this pack's
// input-output-hk-catalyst-forge-libs s3types.UploadConfig.
type Option func(*Config)

// NewConfig returns a Config with every documented default applied, then
// layers opts on top in order.
func NewConfig(opts ...Option) Config {
	c := Config{
		TargetPartSizeBytes:           defaultTargetPartSizeBytes,
		MultipartUploadThresholdBytes: defaultMultipartUploadThresholdBytes,
		MultipartDownloadType:         ByPart,
		RequestChecksumCalculation:    ChecksumWhenSupported,
		ResponseChecksumValidation:    ChecksumWhenSupported,
		MaxInMemoryBytes:              defaultMaxInMemoryBytesDesktop,
		ConcurrentTaskLimitPerBucket:  defaultConcurrentTaskLimitPerBucket,
		FollowSymlinks:                false,
		S3Delimiter:                  defaultS3Delimiter,
		FailurePolicy:                FailurePolicyRethrow,
		MaxConcurrency:               defaultMaxDirectoryConcurrency,
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.S3Delimiter == "" {
		c.S3Delimiter = defaultS3Delimiter
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = defaultMaxDirectoryConcurrency
	}
	if c.ConcurrentTaskLimitPerBucket <= 0 {
		c.ConcurrentTaskLimitPerBucket = defaultConcurrentTaskLimitPerBucket
	}
	return c
}

func WithTargetPartSize(bytes int64) Option {
	return func(c *Config) { c.TargetPartSizeBytes = bytes }
}

func WithMultipartUploadThreshold(bytes int64) Option {
	return func(c *Config) { c.MultipartUploadThresholdBytes = bytes }
}

func WithMultipartDownloadType(t MultipartDownloadType) Option {
	return func(c *Config) { c.MultipartDownloadType = t }
}

func WithMaxInMemoryBytes(bytes int64) Option {
	return func(c *Config) { c.MaxInMemoryBytes = bytes }
}

func WithConcurrentTaskLimitPerBucket(n int) Option {
	return func(c *Config) { c.ConcurrentTaskLimitPerBucket = n }
}

// WithPerObjectChecksumAlgorithm overrides the §4.4 priority-order
// fallback with an explicit algorithm for every part of an upload.
func WithPerObjectChecksumAlgorithm(alg ChecksumAlgorithm) Option {
	return func(c *Config) { c.ChecksumAlgorithm = alg }
}

func WithRecursive(recursive bool) Option {
	return func(c *Config) { c.Recursive = recursive }
}

func WithFollowSymlinks(follow bool) Option {
	return func(c *Config) { c.FollowSymlinks = follow }
}

func WithS3Prefix(prefix string) Option {
	return func(c *Config) { c.S3Prefix = prefix }
}

func WithS3Delimiter(delim string) Option {
	return func(c *Config) { c.S3Delimiter = delim }
}

func WithFilter(fn func(key string) bool) Option {
	return func(c *Config) { c.Filter = fn }
}

func WithFailurePolicy(p FailurePolicy) Option {
	return func(c *Config) { c.FailurePolicy = p }
}

func WithMaxConcurrency(n int) Option {
	return func(c *Config) { c.MaxConcurrency = n }
}

// resolvedChecksumAlgorithm returns the explicit override if one was
// configured, otherwise the highest-priority supported algorithm (§4.4).
func (c Config) resolvedChecksumAlgorithm() ChecksumAlgorithm {
	if c.ChecksumAlgorithm != ChecksumAlgorithmUnspecified {
		return c.ChecksumAlgorithm
	}
	return checksumPriority[0]
}
