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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kelindar/s3transfer/internal/fakes3"
)

func TestManagerUploadObjectWaitReturnsResult(t *testing.T) {
	client := fakes3.New()
	mgr := New(client)

	h := mgr.UploadObject(context.Background(), UploadObjectRequest{
		Body:   InMemoryBody{Bytes: bytes.Repeat([]byte{'m'}, 10)},
		Bucket: "b",
		Key:    "k",
	})
	res, err := h.Wait()
	require.NoError(t, err)
	assert.NotEmpty(t, res.ETag)

	// Wait is idempotent: calling it again returns the same result.
	res2, err2 := h.Wait()
	assert.Equal(t, res, res2)
	assert.NoError(t, err2)
}

func TestManagerStatsReflectsDrainedState(t *testing.T) {
	client := fakes3.New()
	mgr := New(client)

	h := mgr.UploadObject(context.Background(), UploadObjectRequest{
		Body:   InMemoryBody{Bytes: bytes.Repeat([]byte{'s'}, 10)},
		Bucket: "b",
		Key:    "k",
	})
	_, err := h.Wait()
	require.NoError(t, err)

	stats := mgr.Stats()
	assert.True(t, stats.MemoryIdle)
	assert.True(t, stats.ConcurrencyIdle)
	assert.Equal(t, int64(0), stats.MemoryInUseBytes)
}
