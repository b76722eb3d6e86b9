// Copyright 2011 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package nin

import (
	"errors"
	"os"
	"path/filepath"
	"syscall"
)

// FileReader is the narrow interface the manifest/dyndep/depfile parsers
// need: read a whole file into memory. Production code gets one backed by
// RealDiskInterface; tests substitute an in-memory VirtualFileSystem.
type FileReader interface {
	ReadFile(path string) ([]byte, error)
}

// DiskInterface abstracts every filesystem operation the build core
// performs, so that it can be driven against an in-memory fake in tests
// without touching the real disk.
type DiskInterface interface {
	FileReader

	// Stat returns the path's mtime, or 0 if it doesn't exist. A non-nil
	// error indicates a stat failure other than "not found".
	Stat(path string) (TimeStamp, error)

	// WriteFile writes contents to path, creating or truncating it.
	WriteFile(path, contents string) bool

	// MakeDir creates a single directory level; returns true on success or
	// if it already existed.
	MakeDir(path string) bool

	// RemoveFile removes path. Returns 0 on success, 1 if it didn't exist,
	// and -1 on any other error.
	RemoveFile(path string) int
}

// MakeDirs creates every missing parent directory of path (a file path, not
// itself a directory to create), analogous to "mkdir -p $(dirname path)".
func MakeDirs(di DiskInterface, path string) bool {
	dir := filepath.Dir(path)
	if dir == "." || dir == "/" || dir == "" {
		return true
	}
	if ts, err := di.Stat(dir); err == nil && ts > 0 {
		// Already exists.
		return true
	}
	if !MakeDirs(di, dir) {
		return false
	}
	return di.MakeDir(dir)
}

// RealDiskInterface implements DiskInterface against the host filesystem.
type RealDiskInterface struct{}

// NewRealDiskInterface creates a DiskInterface backed by the OS.
func NewRealDiskInterface() *RealDiskInterface {
	return &RealDiskInterface{}
}

// Stat implements DiskInterface.
func (d *RealDiskInterface) Stat(path string) (TimeStamp, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) || errors.Is(err, syscall.ENOTDIR) {
			return 0, nil
		}
		return -1, err
	}
	mtime := info.ModTime().Unix()
	if mtime == 0 {
		// Some filesystems (e.g. inside certain containers) report a zero
		// mtime for files that do exist; treat that as "exists, unknown
		// time" rather than "missing", which a literal 0 would mean here.
		mtime = 1
	}
	return TimeStamp(mtime), nil
}

// WriteFile implements DiskInterface.
func (d *RealDiskInterface) WriteFile(path, contents string) bool {
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		return false
	}
	return true
}

// MakeDir implements DiskInterface.
func (d *RealDiskInterface) MakeDir(path string) bool {
	if err := os.Mkdir(path, 0o777); err != nil && !os.IsExist(err) {
		return false
	}
	return true
}

// ReadFile implements FileReader/DiskInterface. The returned slice has a
// trailing NUL byte appended: the manifest lexer strips it, and the
// generated depfile parser uses it as its end-of-input sentinel.
func (d *RealDiskInterface) ReadFile(path string) ([]byte, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return append(contents, 0), nil
}

// RemoveFile implements DiskInterface.
func (d *RealDiskInterface) RemoveFile(path string) int {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 1
		}
		return -1
	}
	if info.IsDir() {
		return -1
	}
	if err := os.Remove(path); err != nil {
		return -1
	}
	return 0
}
