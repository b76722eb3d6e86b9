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
	"os"
	"testing"
)

const testBuildLogFilename = "BuildLogTest-tempfile"

// alwaysAliveUser reports every path as still reachable, so Recompact keeps
// every entry.
type alwaysAliveUser struct{}

func (alwaysAliveUser) IsPathDead(string) bool { return false }

// deadPathUser reports dead as unreachable; used to exercise Recompact.
type deadPathUser struct{ dead string }

func (d deadPathUser) IsPathDead(path string) bool { return path == d.dead }

// fixedMtimeDisk is a DiskInterface that reports a constant mtime for every
// path; used to drive BuildLog.Restat deterministically.
type fixedMtimeDisk struct{ mtime TimeStamp }

func (f fixedMtimeDisk) Stat(string) (TimeStamp, error)  { return f.mtime, nil }
func (f fixedMtimeDisk) WriteFile(string, string) bool   { panic("not used") }
func (f fixedMtimeDisk) MakeDir(string) bool             { panic("not used") }
func (f fixedMtimeDisk) ReadFile(string) ([]byte, error) { panic("not used") }
func (f fixedMtimeDisk) RemoveFile(string) int           { panic("not used") }

func TestBuildLog_WriteRead(t *testing.T) {
	CreateTempDirAndEnter(t)
	st := NewStateTestWithBuiltinRules(t)
	st.AssertParse(&st.state, "build out: cat mid\nbuild mid: cat in\n", ManifestParserOptions{})

	log1 := NewBuildLog()
	if err := log1.OpenForWrite(testBuildLogFilename, alwaysAliveUser{}); err != nil {
		t.Fatal(err)
	}
	if err := log1.RecordCommand(st.state.Edges[0], 15, 18, 1); err != nil {
		t.Fatal(err)
	}
	if err := log1.RecordCommand(st.state.Edges[1], 20, 25, 1); err != nil {
		t.Fatal(err)
	}
	if err := log1.Close(); err != nil {
		t.Fatal(err)
	}

	log2 := NewBuildLog()
	if _, err := log2.Load(testBuildLogFilename); err != nil {
		t.Fatal(err)
	}

	if len(log1.Entries()) != 2 {
		t.Fatalf("log1 entries = %d, want 2", len(log1.Entries()))
	}
	if len(log2.Entries()) != 2 {
		t.Fatalf("log2 entries = %d, want 2", len(log2.Entries()))
	}
	e1 := log1.LookupByOutput("out")
	e2 := log2.LookupByOutput("out")
	if e1 == nil || e2 == nil {
		t.Fatal("expected both logs to have an entry for \"out\"")
	}
	if *e1 != *e2 {
		t.Errorf("e1 = %+v, e2 = %+v", *e1, *e2)
	}
	if e1.StartTime != 15 {
		t.Errorf("StartTime = %d, want 15", e1.StartTime)
	}
	if e1.Output != "out" {
		t.Errorf("Output = %q, want out", e1.Output)
	}
}

func TestBuildLog_FirstWriteAddsSignature(t *testing.T) {
	CreateTempDirAndEnter(t)
	const wantVersion = "# ninja log v5\n"

	log := NewBuildLog()
	if err := log.OpenForWrite(testBuildLogFilename, alwaysAliveUser{}); err != nil {
		t.Fatal(err)
	}
	if err := log.Close(); err != nil {
		t.Fatal(err)
	}

	contents, err := os.ReadFile(testBuildLogFilename)
	if err != nil {
		t.Fatal(err)
	}
	if string(contents) != wantVersion {
		t.Fatalf("contents = %q, want %q", contents, wantVersion)
	}

	// Opening the file anew shouldn't add a second version string.
	if err := log.OpenForWrite(testBuildLogFilename, alwaysAliveUser{}); err != nil {
		t.Fatal(err)
	}
	if err := log.Close(); err != nil {
		t.Fatal(err)
	}
	contents, err = os.ReadFile(testBuildLogFilename)
	if err != nil {
		t.Fatal(err)
	}
	if string(contents) != wantVersion {
		t.Fatalf("contents after reopen = %q, want %q", contents, wantVersion)
	}
}

func TestBuildLog_DoubleEntry(t *testing.T) {
	CreateTempDirAndEnter(t)
	content := "# ninja log v4\n" +
		"0\t1\t2\tout\tcommand abc\n" +
		"3\t4\t5\tout\tcommand def\n"
	if err := os.WriteFile(testBuildLogFilename, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	log := NewBuildLog()
	if _, err := log.Load(testBuildLogFilename); err != nil {
		t.Fatal(err)
	}
	e := log.LookupByOutput("out")
	if e == nil {
		t.Fatal("expected entry for \"out\"")
	}
	if e.CommandHash != HashCommand("command def") {
		t.Error("the later entry should win")
	}
}

func TestBuildLog_ObsoleteOldVersion(t *testing.T) {
	CreateTempDirAndEnter(t)
	content := "# ninja log v3\n" + "123 456 0 out command\n"
	if err := os.WriteFile(testBuildLogFilename, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	log := NewBuildLog()
	status, err := log.Load(testBuildLogFilename)
	if err != nil {
		t.Fatal(err)
	}
	if status != LoadSuccess {
		t.Fatalf("status = %v, want LoadSuccess (old logs are discarded, not an error)", status)
	}
	if len(log.Entries()) != 0 {
		t.Error("an obsolete version's entries should be discarded")
	}
}

func TestBuildLog_SpacesInOutputV4(t *testing.T) {
	CreateTempDirAndEnter(t)
	content := "# ninja log v4\n" + "123\t456\t456\tout with space\tcommand\n"
	if err := os.WriteFile(testBuildLogFilename, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	log := NewBuildLog()
	if _, err := log.Load(testBuildLogFilename); err != nil {
		t.Fatal(err)
	}
	e := log.LookupByOutput("out with space")
	if e == nil {
		t.Fatal("expected entry for \"out with space\"")
	}
	if e.StartTime != 123 || e.EndTime != 456 || e.Mtime != 456 {
		t.Errorf("entry = %+v", *e)
	}
	if e.CommandHash != HashCommand("command") {
		t.Error("command hash mismatch")
	}
}

func TestBuildLog_DuplicateVersionHeader(t *testing.T) {
	CreateTempDirAndEnter(t)
	// Old versions of ninja accidentally wrote multiple version headers on
	// Windows; this shouldn't crash, and the second header is ignored as a
	// malformed record line.
	content := "# ninja log v4\n" +
		"123\t456\t456\tout\tcommand\n" +
		"# ninja log v4\n" +
		"456\t789\t789\tout2\tcommand2\n"
	if err := os.WriteFile(testBuildLogFilename, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	log := NewBuildLog()
	if _, err := log.Load(testBuildLogFilename); err != nil {
		t.Fatal(err)
	}

	e := log.LookupByOutput("out")
	if e == nil || e.StartTime != 123 || e.EndTime != 456 || e.Mtime != 456 {
		t.Errorf("out entry = %+v", e)
	}
	e2 := log.LookupByOutput("out2")
	if e2 == nil || e2.StartTime != 456 || e2.EndTime != 789 || e2.Mtime != 789 {
		t.Errorf("out2 entry = %+v", e2)
	}
}

func TestBuildLog_Restat(t *testing.T) {
	CreateTempDirAndEnter(t)
	content := "# ninja log v4\n" + "1\t2\t3\tout\tcommand\n"
	if err := os.WriteFile(testBuildLogFilename, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	log := NewBuildLog()
	if _, err := log.Load(testBuildLogFilename); err != nil {
		t.Fatal(err)
	}
	e := log.LookupByOutput("out")
	if e.Mtime != 3 {
		t.Fatalf("Mtime = %d, want 3", e.Mtime)
	}

	disk := fixedMtimeDisk{mtime: 4}

	// A filter that doesn't match "out" leaves its mtime untouched.
	if err := log.Restat(testBuildLogFilename, disk, "out2"); err != nil {
		t.Fatal(err)
	}
	e = log.LookupByOutput("out")
	if e.Mtime != 3 {
		t.Errorf("Mtime after non-matching filter = %d, want 3", e.Mtime)
	}

	// No filter restats everything.
	if err := log.Restat(testBuildLogFilename, disk); err != nil {
		t.Fatal(err)
	}
	e = log.LookupByOutput("out")
	if e.Mtime != 4 {
		t.Errorf("Mtime after restat = %d, want 4", e.Mtime)
	}
}

func TestBuildLog_MultiTargetEdge(t *testing.T) {
	st := NewStateTestWithBuiltinRules(t)
	st.AssertParse(&st.state, "build out out.d: cat\n", ManifestParserOptions{})

	log := NewBuildLog()
	if err := log.RecordCommand(st.state.Edges[0], 21, 22, 1); err != nil {
		t.Fatal(err)
	}

	if len(log.Entries()) != 2 {
		t.Fatalf("entries = %d, want 2", len(log.Entries()))
	}
	e1 := log.LookupByOutput("out")
	e2 := log.LookupByOutput("out.d")
	if e1 == nil || e2 == nil {
		t.Fatal("expected entries for both outputs")
	}
	if e1.Output != "out" || e2.Output != "out.d" {
		t.Errorf("e1.Output=%q e2.Output=%q", e1.Output, e2.Output)
	}
	if e1.StartTime != 21 || e2.StartTime != 21 || e2.EndTime != 22 {
		t.Errorf("e1=%+v e2=%+v", *e1, *e2)
	}
}

func TestBuildLog_Recompact(t *testing.T) {
	CreateTempDirAndEnter(t)
	st := NewStateTestWithBuiltinRules(t)
	st.AssertParse(&st.state, "build out: cat in\nbuild out2: cat in\n", ManifestParserOptions{})

	log1 := NewBuildLog()
	if err := log1.OpenForWrite(testBuildLogFilename, alwaysAliveUser{}); err != nil {
		t.Fatal(err)
	}
	// Record the same edge several times, to trigger recompaction the next
	// time the log is opened.
	for i := 0; i < 200; i++ {
		if err := log1.RecordCommand(st.state.Edges[0], 15, int32(18+i), 1); err != nil {
			t.Fatal(err)
		}
	}
	if err := log1.RecordCommand(st.state.Edges[1], 21, 22, 1); err != nil {
		t.Fatal(err)
	}
	if err := log1.Close(); err != nil {
		t.Fatal(err)
	}

	log2 := NewBuildLog()
	if _, err := log2.Load(testBuildLogFilename); err != nil {
		t.Fatal(err)
	}
	if len(log2.Entries()) != 2 {
		t.Fatalf("entries = %d, want 2", len(log2.Entries()))
	}
	if log2.LookupByOutput("out") == nil || log2.LookupByOutput("out2") == nil {
		t.Fatal("expected entries for out and out2")
	}

	// Force a recompaction, with "out2" reported as dead.
	if err := log2.OpenForWrite(testBuildLogFilename, deadPathUser{dead: "out2"}); err != nil {
		t.Fatal(err)
	}
	if err := log2.Close(); err != nil {
		t.Fatal(err)
	}

	log3 := NewBuildLog()
	if _, err := log3.Load(testBuildLogFilename); err != nil {
		t.Fatal(err)
	}
	if len(log3.Entries()) != 1 {
		t.Fatalf("entries after recompact = %d, want 1", len(log3.Entries()))
	}
	if log3.LookupByOutput("out") == nil {
		t.Error("\"out\" should have survived recompaction")
	}
	if log3.LookupByOutput("out2") != nil {
		t.Error("\"out2\" should have been dropped as dead")
	}
}
