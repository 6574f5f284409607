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

package fsutil

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files []string) {
	t.Helper()
	for _, f := range files {
		full := filepath.Join(root, f)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(f), 0o644))
	}
}

func TestTraverseNonRecursiveOnlyYieldsTopLevel(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, []string{"a.txt", "b.txt", "sub/c.txt"})

	var got []string
	err := Traverse(context.Background(), root, Options{Recursive: false}, func(e Entry) error {
		got = append(got, filepath.Base(e.Path))
		return nil
	})
	require.NoError(t, err)
	sort.Strings(got)
	assert.Equal(t, []string{"a.txt", "b.txt"}, got)
}

func TestTraverseRecursiveYieldsNestedFiles(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, []string{"a.txt", "sub/c.txt", "sub/deep/d.txt"})

	var got []string
	err := Traverse(context.Background(), root, Options{Recursive: true}, func(e Entry) error {
		got = append(got, filepath.Base(e.Path))
		return nil
	})
	require.NoError(t, err)
	sort.Strings(got)
	assert.Equal(t, []string{"a.txt", "c.txt", "d.txt"}, got)
}

func TestTraverseSkipsSymlinksWhenNotFollowing(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks require elevated privileges on windows")
	}
	root := t.TempDir()
	writeTree(t, root, []string{"a.txt"})
	require.NoError(t, os.Symlink(filepath.Join(root, "a.txt"), filepath.Join(root, "link.txt")))

	var got []string
	err := Traverse(context.Background(), root, Options{Recursive: true, FollowSymlinks: false}, func(e Entry) error {
		got = append(got, filepath.Base(e.Path))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, got)
}

func TestTraverseFollowsSymlinksAndPreventsCycles(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks require elevated privileges on windows")
	}
	root := t.TempDir()
	writeTree(t, root, []string{"real/file.txt"})
	// A symlink cycle: cycle points back at root.
	require.NoError(t, os.Symlink(root, filepath.Join(root, "cycle")))

	var got []string
	err := Traverse(context.Background(), root, Options{Recursive: true, FollowSymlinks: true}, func(e Entry) error {
		got = append(got, filepath.Base(e.Path))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"file.txt"}, got)
}
