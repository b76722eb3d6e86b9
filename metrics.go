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
	"fmt"
	"os"
	"sort"
	"time"
)

// Metric is a single named timing counter, like "depfile load time".
type Metric struct {
	Name  string
	Count int
	Sum   time.Duration
}

// Metrics is the process-wide collection of named timings, enabled by -d
// stats.
type Metrics struct {
	metrics map[string]*Metric
	order   []string
}

var gMetrics *Metrics

// metricRecord starts timing name and returns a func to call (usually via
// defer) when the measured scope ends.
func metricRecord(name string) func() {
	if gMetrics == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		gMetrics.add(name, time.Since(start))
	}
}

func (m *Metrics) add(name string, d time.Duration) {
	metric := m.metrics[name]
	if metric == nil {
		metric = &Metric{Name: name}
		m.metrics[name] = metric
		m.order = append(m.order, name)
	}
	metric.Count++
	metric.Sum += d
}

// EnableMetrics turns on recording for metricRecord; by default it's a
// no-op so normal builds pay nothing for it.
func EnableMetrics() {
	gMetrics = &Metrics{metrics: map[string]*Metric{}}
}

// Report prints a summary table to stdout, sorted by total time descending.
func (m *Metrics) Report() {
	names := append([]string{}, m.order...)
	sort.Slice(names, func(i, j int) bool {
		return m.metrics[names[i]].Sum > m.metrics[names[j]].Sum
	})

	width := len("metric")
	for _, name := range names {
		if len(name) > width {
			width = len(name)
		}
	}

	fmt.Fprintf(os.Stdout, "%-*s\t%-6s\t%-9s\t%s\n", width, "metric", "count", "avg (us)", "total (ms)")
	for _, name := range names {
		metric := m.metrics[name]
		avgMicros := float64(metric.Sum.Microseconds()) / float64(metric.Count)
		totalMillis := float64(metric.Sum.Microseconds()) / 1000
		fmt.Fprintf(os.Stdout, "%-*s\t%-6d\t%-8.1f\t%.1f\n", width, metric.Name, metric.Count, avgMicros, totalMillis)
	}
}

// GetTimeMillis returns the current time in milliseconds since the Unix
// epoch, for build-log start/end timestamps.
func GetTimeMillis() int64 {
	return time.Now().UnixNano() / int64(time.Millisecond)
}
