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

//go:build !windows
// +build !windows

package nin

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// createCmd builds the exec.Cmd for one edge's command line. ninja always
// runs commands through a shell, since manifests rely on shell redirection
// and quoting; unlike the C++ implementation's system(), this pins the
// shell to /bin/sh rather than whatever $SHELL names.
func createCmd(c string, useConsole bool) *exec.Cmd {
	cmd := exec.Command("/bin/sh", "-c", c)
	// Outside the console pool, put the child in its own process group so
	// a ctrl-c delivered to ninja doesn't also race the child's own signal
	// handling; it's killed explicitly via its group in killProcessGroup.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: !useConsole}
	return cmd
}

// killProcessGroup delivers sig to every process in cmd's process group,
// which for a non-console subprocess is distinct from ninja's own.
func killProcessGroup(cmd *exec.Cmd, sig syscall.Signal) {
	if cmd.Process == nil {
		return
	}
	unix.Kill(-cmd.Process.Pid, sig)
}
