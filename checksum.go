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
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"hash"
	"hash/crc32"
	"hash/crc64"

	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// crc64NVMETable is the lookup table for the CRC-64/NVME polynomial (the
// reflected form of 0xad93d23594c93659), which the S3 checksum family
// uses and which has no exposed constant in hash/crc64 (only ISO and
// ECMA are predefined there). No third-party CRC64-NVME implementation
// appears anywhere in the retrieval pack, and aws-sdk-go-v2's own
// implementation lives under an internal package path this module cannot
// import (service/internal/checksum) — see DESIGN.md for the stdlib
// justification.
var crc64NVMETable = crc64.MakeTable(0x9a6c9329ac4bc9b5)

// newChecksumHash returns a fresh hash.Hash for alg, along with the
// matching s3types.ChecksumAlgorithm wire value.
func newChecksumHash(alg ChecksumAlgorithm) (hash.Hash, s3types.ChecksumAlgorithm) {
	switch alg {
	case ChecksumCRC32C:
		return crc32.New(crc32.MakeTable(crc32.Castagnoli)), s3types.ChecksumAlgorithmCrc32c
	case ChecksumCRC64NVME:
		return crc64.New(crc64NVMETable), "CRC64NVME"
	case ChecksumSHA1:
		return sha1.New(), s3types.ChecksumAlgorithmSha1
	case ChecksumSHA256:
		return sha256.New(), s3types.ChecksumAlgorithmSha256
	default: // ChecksumCRC32 and ChecksumAlgorithmUnspecified both default to CRC32
		return crc32.NewIEEE(), s3types.ChecksumAlgorithmCrc32
	}
}

// checksumPart computes the base64-encoded checksum of data using alg,
// ready to attach to an UploadPart request's matching checksum field.
func checksumPart(alg ChecksumAlgorithm, data []byte) string {
	h, _ := newChecksumHash(alg)
	h.Write(data)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// checksumTypeFor returns ChecksumTypeFullObject when the caller supplied
// a whole-object checksum (any algorithm), else ChecksumTypeComposite
// (§4.4).
func checksumTypeFor(wholeObjectChecksumSupplied bool) s3types.ChecksumType {
	if wholeObjectChecksumSupplied {
		return s3types.ChecksumTypeFullObject
	}
	return s3types.ChecksumTypeComposite
}
