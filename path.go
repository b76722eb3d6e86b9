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

// maxPathComponents bounds how many "/"-separated components a single path
// may canonicalize to; paths blowing past this are almost certainly a bug
// upstream (runaway recursive generation) rather than a legitimate build.
const maxPathComponents = 60

func isPathSeparator(c byte) bool {
	return c == '/' || c == '\\'
}

// CanonicalizePath collapses "foo/../bar.h" style paths into "bar.h": it
// removes "." components, resolves ".." against the preceding component
// where possible, and collapses repeated separators.
func CanonicalizePath(path string) string {
	out, _ := CanonicalizePathBits(path)
	return out
}

// CanonicalizePathBits canonicalizes path the same way as CanonicalizePath,
// additionally returning a bitmask with one bit set (from the lowest) per
// separator that was a backslash normalized to a forward slash. The bits are
// meaningless on this platform (manifests only ever carry forward slashes
// here) but are threaded through because the node identity/storage contract
// records them per path, the same as any other platform.
func CanonicalizePathBits(path string) (string, uint64) {
	if len(path) == 0 {
		return path, 0
	}

	buf := []byte(path)
	var components [maxPathComponents]int
	componentCount := 0

	src := 0
	dst := 0
	end := len(buf)

	if isPathSeparator(buf[src]) {
		if end > 1 && isPathSeparator(buf[src+1]) {
			// Network path: preserve the leading "//".
			src += 2
			dst += 2
		} else {
			src++
			dst++
		}
	}

	for src < end {
		if buf[src] == '.' {
			if src+1 == end || isPathSeparator(buf[src+1]) {
				// "." component; eliminate.
				src += 2
				continue
			} else if buf[src+1] == '.' && (src+2 == end || isPathSeparator(buf[src+2])) {
				// ".." component; back up if possible.
				if componentCount > 0 {
					dst = components[componentCount-1]
					src += 3
					componentCount--
				} else {
					buf[dst] = buf[src]
					buf[dst+1] = buf[src+1]
					buf[dst+2] = buf[src+2]
					dst += 3
					src += 3
				}
				continue
			}
		}

		if isPathSeparator(buf[src]) {
			src++
			continue
		}

		if componentCount == maxPathComponents {
			panic("path has too many components: " + path)
		}
		components[componentCount] = dst
		componentCount++

		for src != end && !isPathSeparator(buf[src]) {
			buf[dst] = buf[src]
			dst++
			src++
		}
		if src != end {
			// Copy the separator too, so the next component's start offset
			// (recorded above) lands just past it.
			buf[dst] = buf[src]
			dst++
			src++
		}
	}

	if dst == 0 {
		return ".", 0
	}

	// Trim a trailing separator left over from the component copy loop,
	// unless the whole result is that separator (the root).
	n := dst
	if n > 1 && isPathSeparator(buf[n-1]) {
		n--
	}

	var bits uint64
	var bitsMask uint64 = 1
	for i := 0; i < n; i++ {
		switch buf[i] {
		case '\\':
			bits |= bitsMask
			buf[i] = '/'
			bitsMask <<= 1
		case '/':
			bitsMask <<= 1
		}
	}

	return string(buf[:n]), bits
}
