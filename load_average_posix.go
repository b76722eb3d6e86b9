// Copyright 2013 Google Inc. All Rights Reserved.
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

import "golang.org/x/sys/unix"

// GetLoadAverage returns the system's 1-minute load average, or -1 if it
// can't be determined (used by -l to throttle starting new jobs).
func GetLoadAverage() float64 {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return -1
	}
	// Sysinfo's Loads are in the kernel's fixed-point format, scaled by
	// 1<<16 (see include/linux/sched/loadavg.h).
	return float64(info.Loads[0]) / 65536.0
}
