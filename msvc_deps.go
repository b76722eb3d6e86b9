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
	"os/exec"
	"strings"
)

// kDepsPrefixEnglish is cl.exe's default /showIncludes prefix, used when an
// edge doesn't override it via the msvc_deps_prefix binding (localized
// builds of cl.exe print a different string).
const kDepsPrefixEnglish = "Note: including file: "

// filterShowIncludes matches a single line of captured command output
// against the /showIncludes prefix and, if it matches, returns the included
// path with the prefix and any leading spaces stripped. Returns "" if line
// isn't a /showIncludes line.
func filterShowIncludes(line, depsPrefix string) string {
	prefix := depsPrefix
	if prefix == "" {
		prefix = kDepsPrefixEnglish
	}
	if !strings.HasPrefix(line, prefix) {
		return ""
	}
	return strings.TrimLeft(line[len(prefix):], " ")
}

// isSystemInclude reports whether path looks like a system header, so it
// can be dropped from the dependency list the way ninja's MSVC deps mode
// does to keep the dependency set small.
func isSystemInclude(path string) bool {
	lower := strings.ToLower(path)
	return strings.Contains(lower, "program files") || strings.Contains(lower, "microsoft visual studio")
}

// parseMSVCShowIncludes splits a command's captured stdout into the text
// that should still be shown to the user (filteredOutput) and the list of
// headers the compiler reported via /showIncludes, in the order seen,
// skipping system includes. It generalizes the teacher's Windows-only
// CLParser::Parse to any compiler that emits an equivalent include-logging
// line, keyed on depsPrefix (the edge's msvc_deps_prefix binding, or the
// English default).
func parseMSVCShowIncludes(output, depsPrefix string) (filteredOutput string, includes []string) {
	var out strings.Builder
	lines := strings.Split(output, "\n")
	for i, line := range lines {
		line = strings.TrimSuffix(line, "\r")
		if include := filterShowIncludes(line, depsPrefix); include != "" {
			if !isSystemInclude(include) {
				includes = append(includes, include)
			}
			continue
		}
		out.WriteString(line)
		if i != len(lines)-1 {
			out.WriteString("\n")
		}
	}
	return out.String(), includes
}

// EscapeForDepfile escapes a path the way a Makefile-style depfile requires:
// spaces are significant separators there, so any space in a path must be
// backslash-escaped.
func EscapeForDepfile(path string) string {
	if !strings.Contains(path, " ") {
		return path
	}
	var out strings.Builder
	for _, c := range path {
		if c == ' ' {
			out.WriteByte('\\')
		}
		out.WriteRune(c)
	}
	return out.String()
}

// CLWrapper runs a subprocess the way cl.exe needs to be invoked to collect
// its combined output for /showIncludes scraping: a fresh environment block
// and stdout only, since some compilers write unrelated chatter to stderr.
// On POSIX this just shells out; the interesting platform-specific bits
// (env block parsing, binary-mode stdout) only matter on Windows.
type CLWrapper struct {
	envBlock []string
}

// SetEnvBlock installs the environment the wrapped command should run
// with, overriding the caller's environment. block is a Windows-style
// double-null-terminated sequence of NUL-separated "k=v" pairs.
func (c *CLWrapper) SetEnvBlock(block string) {
	c.envBlock = nil
	for _, kv := range strings.Split(strings.TrimSuffix(block, "\x00"), "\x00") {
		if kv != "" {
			c.envBlock = append(c.envBlock, kv)
		}
	}
}

// Run executes command via the platform shell and returns its exit code,
// with stdout (not stderr) appended to *output.
func (c *CLWrapper) Run(command string, output *string) int {
	cmd := exec.Command("/bin/sh", "-c", command)
	if c.envBlock != nil {
		cmd.Env = c.envBlock
	}
	var out strings.Builder
	cmd.Stdout = &out
	err := cmd.Run()
	*output += out.String()
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return 1
}
