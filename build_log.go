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
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/renameio"
)

const buildLogFileSignature = "# ninja log v%d\n"
const buildLogOldestSupportedVersion = 4
const buildLogCurrentVersion = 5

// LogEntry is one recorded build command's outcome: when it ran, the hash of
// the command line that produced it, and the output's mtime right after.
//
// 1) lets a rebuild be triggered when the command line for an existing
//    output changes
// 2) carries timing information for reports
// 3) backs restat
type LogEntry struct {
	Output      string
	CommandHash uint64
	StartTime   int32
	EndTime     int32
	Mtime       TimeStamp
}

// BuildLogUser answers whether a path is still reachable from the current
// manifest, so Recompact can drop log entries for outputs that no longer
// exist in it.
type BuildLogUser interface {
	IsPathDead(path string) bool
}

// BuildLog is the append-only, plain-text record of "this output was last
// produced by this command, starting/ending at these times, leaving this
// mtime".
type BuildLog struct {
	entries           map[string]*LogEntry
	file              *os.File
	w                 *bufio.Writer
	filePath          string
	needsRecompaction bool
}

// NewBuildLog creates an empty, unopened build log.
func NewBuildLog() *BuildLog {
	return &BuildLog{entries: map[string]*LogEntry{}}
}

// Entries exposes the in-memory table, e.g. for "-t recompact"/"-t restat".
func (b *BuildLog) Entries() map[string]*LogEntry {
	return b.entries
}

// OpenForWrite prepares path for appending; the file itself is only opened
// lazily on the first write. Recompacts first if Load flagged it.
func (b *BuildLog) OpenForWrite(path string, user BuildLogUser) error {
	if b.needsRecompaction {
		if err := b.Recompact(path, user); err != nil {
			return err
		}
	}
	b.filePath = path
	return nil
}

// RecordCommand records edge's command line, run from start to end,
// against every one of its outputs, which ended up at mtime.
func (b *BuildLog) RecordCommand(edge *Edge, start, end int32, mtime TimeStamp) error {
	command := edge.EvaluateCommand(true)
	hash := HashCommand(command)
	for _, out := range edge.Outputs {
		path := out.Path
		entry := b.entries[path]
		if entry == nil {
			entry = &LogEntry{Output: path}
			b.entries[path] = entry
		}
		entry.CommandHash = hash
		entry.StartTime = start
		entry.EndTime = end
		entry.Mtime = mtime

		if err := b.openForWriteIfNeeded(); err != nil {
			return err
		}
		if b.w != nil {
			if err := b.writeEntry(entry); err != nil {
				return err
			}
			if err := b.w.Flush(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close flushes and closes the underlying file, creating it even if nothing
// was ever recorded.
func (b *BuildLog) Close() error {
	if err := b.openForWriteIfNeeded(); err != nil {
		return err
	}
	if b.file == nil {
		return nil
	}
	err := b.file.Close()
	b.file = nil
	b.w = nil
	return err
}

func (b *BuildLog) openForWriteIfNeeded() error {
	if b.file != nil || b.filePath == "" {
		return nil
	}
	f, err := os.OpenFile(b.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	b.file = f
	b.w = bufio.NewWriter(f)
	if info.Size() == 0 {
		if _, err := fmt.Fprintf(b.w, buildLogFileSignature, buildLogCurrentVersion); err != nil {
			return err
		}
		if err := b.w.Flush(); err != nil {
			return err
		}
	}
	return nil
}

// Load reads path's existing entries into the log. A version older than
// what's supported is discarded wholesale rather than misread: the next
// build simply re-records everything, which is safe, just slower once.
func (b *BuildLog) Load(path string) (LoadStatus, error) {
	defer metricRecord(".ninja_log load")()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return LoadNotFound, nil
		}
		return LoadError, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64<<10), 1<<24)

	logVersion := 0
	uniqueEntryCount := 0
	totalEntryCount := 0
	sawLine := false

	for scanner.Scan() {
		line := scanner.Text()
		sawLine = true
		if logVersion == 0 {
			fmt.Sscanf(line, buildLogFileSignature, &logVersion)
			if logVersion != 0 {
				if logVersion < buildLogOldestSupportedVersion {
					f.Close()
					os.Remove(path)
					// An empty build log just means everything rebuilds once.
					return LoadSuccess, nil
				}
				continue
			}
		}

		fields := strings.SplitN(line, "\t", 5)
		if len(fields) != 5 {
			continue
		}
		startTime, err1 := strconv.Atoi(fields[0])
		endTime, err2 := strconv.Atoi(fields[1])
		mtime, err3 := strconv.ParseInt(fields[2], 10, 64)
		output := fields[3]
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}

		entry := b.entries[output]
		if entry == nil {
			entry = &LogEntry{Output: output}
			b.entries[output] = entry
			uniqueEntryCount++
		}
		totalEntryCount++

		entry.StartTime = int32(startTime)
		entry.EndTime = int32(endTime)
		entry.Mtime = TimeStamp(mtime)
		if logVersion >= 5 {
			hash, err := strconv.ParseUint(fields[4], 16, 64)
			if err != nil {
				continue
			}
			entry.CommandHash = hash
		} else {
			entry.CommandHash = HashCommand(fields[4])
		}
	}
	if err := scanner.Err(); err != nil {
		return LoadError, err
	}

	if !sawLine {
		return LoadSuccess, nil
	}

	const minCompactionEntryCount = 100
	const compactionRatio = 3
	if logVersion < buildLogCurrentVersion {
		b.needsRecompaction = true
	} else if totalEntryCount > minCompactionEntryCount && totalEntryCount > uniqueEntryCount*compactionRatio {
		b.needsRecompaction = true
	}

	return LoadSuccess, nil
}

// LookupByOutput returns the recorded entry for path, or nil.
func (b *BuildLog) LookupByOutput(path string) *LogEntry {
	return b.entries[path]
}

func (b *BuildLog) writeEntry(e *LogEntry) error {
	_, err := fmt.Fprintf(b.w, "%d\t%d\t%d\t%s\t%x\n", e.StartTime, e.EndTime, e.Mtime, e.Output, e.CommandHash)
	return err
}

// Recompact rewrites the log, dropping entries for outputs user reports as
// dead, and atomically replaces path with the result.
func (b *BuildLog) Recompact(path string, user BuildLogUser) error {
	defer metricRecord(".ninja_log recompact")()

	if err := b.Close(); err != nil {
		return err
	}

	var buf strings.Builder
	fmt.Fprintf(&buf, buildLogFileSignature, buildLogCurrentVersion)

	var deadOutputs []string
	for output, e := range b.entries {
		if user != nil && user.IsPathDead(output) {
			deadOutputs = append(deadOutputs, output)
			continue
		}
		fmt.Fprintf(&buf, "%d\t%d\t%d\t%s\t%x\n", e.StartTime, e.EndTime, e.Mtime, output, e.CommandHash)
	}
	for _, output := range deadOutputs {
		delete(b.entries, output)
	}

	if err := renameio.WriteFile(path, []byte(buf.String()), 0o644); err != nil {
		return err
	}
	b.needsRecompaction = false
	return nil
}

// Restat re-stats every logged output (or just those named in outputs, if
// non-empty) and rewrites their recorded mtime, for "-t restat".
func (b *BuildLog) Restat(path string, di DiskInterface, outputs ...string) error {
	defer metricRecord(".ninja_log restat")()

	if err := b.Close(); err != nil {
		return err
	}

	var buf strings.Builder
	fmt.Fprintf(&buf, buildLogFileSignature, buildLogCurrentVersion)
	for output, e := range b.entries {
		skip := len(outputs) > 0
		for _, o := range outputs {
			if o == output {
				skip = false
				break
			}
		}
		if !skip {
			mtime, err := di.Stat(output)
			if err != nil {
				return err
			}
			e.Mtime = mtime
		}
		fmt.Fprintf(&buf, "%d\t%d\t%d\t%s\t%x\n", e.StartTime, e.EndTime, e.Mtime, output, e.CommandHash)
	}

	return renameio.WriteFile(path, []byte(buf.String()), 0o644)
}

// HashCommand returns the stable 64-bit hash of a command line, as recorded
// in (and compared against) the build log.
func HashCommand(command string) uint64 {
	return murmurHash64A([]byte(command))
}

// murmurHash64A is Austin Appleby's MurmurHash2, 64-bit variant A. The
// constants are load-bearing: they must match every other ninja
// implementation's so build logs stay portable across them.
func murmurHash64A(data []byte) uint64 {
	const m = 0xc6a4a7935bd1e995
	const r = 47
	const seed = 0xDECAFBADDECAFBAD

	h := uint64(seed) ^ (uint64(len(data)) * m)

	n := len(data) / 8
	for i := 0; i < n; i++ {
		k := uint64(data[i*8]) | uint64(data[i*8+1])<<8 | uint64(data[i*8+2])<<16 | uint64(data[i*8+3])<<24 |
			uint64(data[i*8+4])<<32 | uint64(data[i*8+5])<<40 | uint64(data[i*8+6])<<48 | uint64(data[i*8+7])<<56
		k *= m
		k ^= k >> r
		k *= m
		h ^= k
		h *= m
	}

	tail := data[n*8:]
	switch len(tail) {
	case 7:
		h ^= uint64(tail[6]) << 48
		fallthrough
	case 6:
		h ^= uint64(tail[5]) << 40
		fallthrough
	case 5:
		h ^= uint64(tail[4]) << 32
		fallthrough
	case 4:
		h ^= uint64(tail[3]) << 24
		fallthrough
	case 3:
		h ^= uint64(tail[2]) << 16
		fallthrough
	case 2:
		h ^= uint64(tail[1]) << 8
		fallthrough
	case 1:
		h ^= uint64(tail[0])
		h *= m
	}

	h ^= h >> r
	h *= m
	h ^= h >> r
	return h
}
