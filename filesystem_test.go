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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyToPathRejectsTraversalEscape(t *testing.T) {
	for _, key := range []string{"../x", "a/../../b"} {
		_, _, err := keyToPath(key, "", "/")
		assert.Error(t, err, "key %q should be rejected as a traversal escape", key)
	}
}

func TestKeyToPathAcceptsSafeRelativePaths(t *testing.T) {
	for _, key := range []string{"a/../b/c", "a.txt"} {
		path, ok, err := keyToPath(key, "", "/")
		require.NoError(t, err, "key %q should be accepted", key)
		assert.True(t, ok)
		assert.NotEmpty(t, path)
	}
}

func TestKeyToPathSkipsFolderPlaceholders(t *testing.T) {
	_, ok, err := keyToPath("dir/", "", "/")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKeyToPathStripsConfiguredPrefix(t *testing.T) {
	path, ok, err := keyToPath("backups/2024/a.txt", "backups/", "/")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, filepath.Join("2024", "a.txt"), path)
}

func TestPathToKeyPrependsPrefixAndReplacesSeparator(t *testing.T) {
	rel := filepath.Join("sub", "file.txt")
	key, err := pathToKey(rel, "uploads", "/")
	require.NoError(t, err)
	assert.Equal(t, "uploads/sub/file.txt", key)
}

func TestPathToKeyRejectsBasenameContainingNonDefaultDelimiter(t *testing.T) {
	_, err := pathToKey("a#b.txt", "", "#")
	require.Error(t, err)
	var invalid *InvalidFileNameError
	assert.ErrorAs(t, err, &invalid)
}

func TestTempPathRoundTrip(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "object.bin")

	temp, err := constructTempPath(final)
	require.NoError(t, err)
	assert.Contains(t, temp, tempMarker)

	back, err := deconstructTempPath(temp)
	require.NoError(t, err)
	assert.Equal(t, final, back)
}

func TestTempPathRoundTripPreservesExtension(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "report.csv")

	temp, err := constructTempPath(final)
	require.NoError(t, err)
	assert.Equal(t, ".csv", filepath.Ext(temp))

	back, err := deconstructTempPath(temp)
	require.NoError(t, err)
	assert.Equal(t, final, back)
}

func TestDeconstructTempPathRejectsNonTempName(t *testing.T) {
	_, err := deconstructTempPath(filepath.Join(t.TempDir(), "plain.txt"))
	require.Error(t, err)
	var invalid *InvalidFileNameError
	assert.ErrorAs(t, err, &invalid)
}

func TestFinalizeTempFileRenamesOnSuccess(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "out.bin")
	temp, err := constructTempPath(final)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(temp, []byte("data"), 0o644))

	require.NoError(t, finalizeTempFile(temp, final, nil))
	_, err = os.Stat(final)
	assert.NoError(t, err)
	_, err = os.Stat(temp)
	assert.True(t, os.IsNotExist(err))
}

func TestFinalizeTempFileRemovesTempOnFailure(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "out.bin")
	temp, err := constructTempPath(final)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(temp, []byte("data"), 0o644))

	cause := assert.AnError
	err = finalizeTempFile(temp, final, cause)
	assert.ErrorIs(t, err, cause)
	_, statErr := os.Stat(temp)
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(final)
	assert.True(t, os.IsNotExist(statErr))
}

func TestFileSinkWritesAtArbitraryOffsets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sink.bin")
	sink, err := newFileSink(path)
	require.NoError(t, err)

	require.NoError(t, sink.WriteAt(context.Background(), []byte("world"), 5))
	require.NoError(t, sink.WriteAt(context.Background(), []byte("hello"), 0))
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "helloworld", string(data))
}

func TestEnsureParentDirCreatesNestedDirectories(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "a", "b", "c", "file.txt")
	require.NoError(t, ensureParentDir(target))
	info, err := os.Stat(filepath.Join(root, "a", "b", "c"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
