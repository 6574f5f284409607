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

// Package fsutil traverses a local directory tree for UploadDirectory,
// streaming discovered files lazily instead of collecting them all
// up front.
package fsutil

import (
	"context"
	"os"
	"path/filepath"
)

// Entry is one file discovered by a Traverse call.
type Entry struct {
	// Path is the path to the file as observed during traversal: it
	// preserves the name of any symlinked directory on the way down
	// rather than the resolved target's name.
	Path string
	Info os.FileInfo
}

// Options controls how Traverse walks the tree.
type Options struct {
	Recursive      bool
	FollowSymlinks bool
}

// Traverse streams the files under root in breadth-first order on sink,
// honoring opts.Recursive and opts.FollowSymlinks (§4.8). It returns once
// the whole tree has been walked; sink is called synchronously from
// the calling goroutine's walk loop, so Traverse itself is not
// concurrent — callers fan out work per Entry themselves.
//
// A symlink is skipped when !opts.FollowSymlinks. When following
// symlinks, each resolved absolute path is recorded in a visited set so
// a cycle (or two links converging on one target) yields the file at
// most once.
func Traverse(ctx context.Context, root string, opts Options, sink func(Entry) error) error {
	visited := make(map[string]bool)

	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	visited[rootAbs] = true

	queue := []string{root}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		dir := queue[0]
		queue = queue[1:]

		children, err := os.ReadDir(dir)
		if err != nil {
			return err
		}
		for _, child := range children {
			if err := ctx.Err(); err != nil {
				return err
			}
			childPath := filepath.Join(dir, child.Name())

			info, isLink, err := resolveEntry(childPath, child)
			if err != nil {
				return err
			}
			if isLink && !opts.FollowSymlinks {
				continue
			}
			if isLink {
				real, err := filepath.EvalSymlinks(childPath)
				if err != nil {
					return err
				}
				realAbs, err := filepath.Abs(real)
				if err != nil {
					return err
				}
				if visited[realAbs] {
					continue
				}
				visited[realAbs] = true
			}

			if info.IsDir() {
				if opts.Recursive {
					queue = append(queue, childPath)
				}
				continue
			}

			if err := sink(Entry{Path: childPath, Info: info}); err != nil {
				return err
			}
		}
	}
	return nil
}

// resolveEntry stats childPath, following a symlink once to learn
// whether it ultimately names a file or a directory, while reporting
// isLink based on the original directory entry (so the caller can decide
// whether to honor FollowSymlinks before doing anything else).
func resolveEntry(childPath string, child os.DirEntry) (os.FileInfo, bool, error) {
	isLink := child.Type()&os.ModeSymlink != 0
	if !isLink {
		info, err := child.Info()
		return info, false, err
	}
	info, err := os.Stat(childPath)
	if err != nil {
		return nil, true, err
	}
	return info, true, nil
}
