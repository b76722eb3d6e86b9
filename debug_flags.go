// Copyright 2012 Google Inc. All Rights Reserved.
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
	"fmt"

	"github.com/sirupsen/logrus"
)

var (
	g_explaining             = false
	g_keep_depfile           = false
	g_keep_rsp               = false
	g_experimental_statcache = true
)

// EXPLAIN records a reason a node or edge was judged dirty. It's a no-op
// unless -d explain is active, in which case it's routed through logrus at
// debug level so it interleaves correctly with any other -v/-d output.
func EXPLAIN(f string, i ...interface{}) {
	if g_explaining {
		logrus.Debug(fmt.Sprintf(f, i...))
	}
}

// Info prints an informational message to stderr, prefixed like the rest of
// the tool's diagnostics.
func Info(msg string, i ...interface{}) {
	logrus.Infof(msg, i...)
}

// Warning prints a "ninja: warning:"-style message to stderr.
func Warning(msg string, i ...interface{}) {
	logrus.Warnf(msg, i...)
}

// Error prints a "ninja: error:"-style message to stderr. Unlike Fatal, the
// caller keeps running; this is used for errors which don't abort the whole
// build (e.g. one failed edge with -k).
func Error(msg string, i ...interface{}) {
	logrus.Errorf(msg, i...)
}

// Fatal prints a "ninja: fatal:"-style message to stderr and terminates the
// process with a non-zero exit code.
func Fatal(msg string, i ...interface{}) {
	logrus.Fatalf(msg, i...)
}
