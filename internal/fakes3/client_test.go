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

package fakes3

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutThenGetObjectRoundTrips(t *testing.T) {
	c := New()
	ctx := context.Background()

	_, err := c.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String("b"),
		Key:    aws.String("k"),
		Body:   bytes.NewReader([]byte("hello world")),
	})
	require.NoError(t, err)

	out, err := c.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String("b"), Key: aws.String("k")})
	require.NoError(t, err)
	data, err := io.ReadAll(out.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestMultipartUploadRoundTrips(t *testing.T) {
	c := New()
	ctx := context.Background()

	created, err := c.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String("b"), Key: aws.String("k"),
	})
	require.NoError(t, err)
	uploadID := aws.ToString(created.UploadId)

	_, err = c.UploadPart(ctx, &s3.UploadPartInput{
		Bucket: aws.String("b"), Key: aws.String("k"), UploadId: aws.String(uploadID),
		PartNumber: aws.Int32(1), Body: bytes.NewReader([]byte("abc")),
	})
	require.NoError(t, err)
	_, err = c.UploadPart(ctx, &s3.UploadPartInput{
		Bucket: aws.String("b"), Key: aws.String("k"), UploadId: aws.String(uploadID),
		PartNumber: aws.Int32(2), Body: bytes.NewReader([]byte("def")),
	})
	require.NoError(t, err)

	_, err = c.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket: aws.String("b"), Key: aws.String("k"), UploadId: aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: []types.CompletedPart{
			{PartNumber: aws.Int32(1)},
			{PartNumber: aws.Int32(2)},
		}},
	})
	require.NoError(t, err)

	out, err := c.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String("b"), Key: aws.String("k")})
	require.NoError(t, err)
	data, _ := io.ReadAll(out.Body)
	assert.Equal(t, "abcdef", string(data))
}

func TestErrorSimulationFiresOnNthCall(t *testing.T) {
	c := New()
	c.Errors = []ErrorSimulation{{Op: "UploadPart", OnCall: 2, Err: assert.AnError}}
	ctx := context.Background()

	created, err := c.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{Bucket: aws.String("b"), Key: aws.String("k")})
	require.NoError(t, err)

	_, err = c.UploadPart(ctx, &s3.UploadPartInput{
		Bucket: aws.String("b"), Key: aws.String("k"), UploadId: created.UploadId,
		PartNumber: aws.Int32(1), Body: bytes.NewReader([]byte("a")),
	})
	require.NoError(t, err)

	_, err = c.UploadPart(ctx, &s3.UploadPartInput{
		Bucket: aws.String("b"), Key: aws.String("k"), UploadId: created.UploadId,
		PartNumber: aws.Int32(2), Body: bytes.NewReader([]byte("b")),
	})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestListObjectsV2FiltersByPrefix(t *testing.T) {
	c := New()
	c.PutRaw("b", "a/1.txt", []byte("x"))
	c.PutRaw("b", "a/2.txt", []byte("y"))
	c.PutRaw("b", "z/3.txt", []byte("z"))

	out, err := c.ListObjectsV2(context.Background(), &s3.ListObjectsV2Input{
		Bucket: aws.String("b"), Prefix: aws.String("a/"),
	})
	require.NoError(t, err)
	assert.Len(t, out.Contents, 2)
}
