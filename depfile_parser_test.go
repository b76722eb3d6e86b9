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

import "testing"

// parseDepfile runs DepfileParser.Parse on input, appending the terminating
// zero byte Parse requires. Parse mutates its argument in place, so each
// call gets a fresh copy.
func parseDepfile(t *testing.T, input string) *DepfileParser {
	t.Helper()
	content := append([]byte(input), 0)
	p := &DepfileParser{}
	if err := p.Parse(content); err != nil {
		t.Fatalf("Parse(%q): %v", input, err)
	}
	return p
}

func wantStrings(t *testing.T, name string, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s = %q, want %q", name, got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("%s[%d] = %q, want %q", name, i, got[i], want[i])
		}
	}
}

func TestDepfileParser_Basic(t *testing.T) {
	p := parseDepfile(t, "build/ninja.o: ninja.cc ninja.h eval_env.h manifest_parser.h\n")
	wantStrings(t, "outs", p.outs, "build/ninja.o")
	if len(p.ins) != 4 {
		t.Fatalf("ins = %q, want 4 entries", p.ins)
	}
}

func TestDepfileParser_EarlyNewlineAndWhitespace(t *testing.T) {
	parseDepfile(t, " \\\n  out: in\n")
}

func TestDepfileParser_Continuation(t *testing.T) {
	p := parseDepfile(t, "foo.o: \\\n  bar.h baz.h\n")
	wantStrings(t, "outs", p.outs, "foo.o")
	wantStrings(t, "ins", p.ins, "bar.h", "baz.h")
}

func TestDepfileParser_CarriageReturnContinuation(t *testing.T) {
	p := parseDepfile(t, "foo.o: \\\r\n  bar.h baz.h\r\n")
	wantStrings(t, "outs", p.outs, "foo.o")
	wantStrings(t, "ins", p.ins, "bar.h", "baz.h")
}

func TestDepfileParser_BackSlashes(t *testing.T) {
	p := parseDepfile(t, "Project\\Dir\\Build\\Release8\\Foo\\Foo.res : \\\n"+
		"  Dir\\Library\\Foo.rc \\\n"+
		"  Dir\\Library\\Version\\Bar.h \\\n"+
		"  Dir\\Library\\Foo.ico \\\n"+
		"  Project\\Thing\\Bar.tlb \\\n")
	wantStrings(t, "outs", p.outs, "Project\\Dir\\Build\\Release8\\Foo\\Foo.res")
	if len(p.ins) != 4 {
		t.Fatalf("ins = %q, want 4 entries", p.ins)
	}
}

func TestDepfileParser_Spaces(t *testing.T) {
	p := parseDepfile(t, "a\\ bc\\ def:   a\\ b c d")
	wantStrings(t, "outs", p.outs, "a bc def")
	wantStrings(t, "ins", p.ins, "a b", "c", "d")
}

func TestDepfileParser_MultipleBackslashes(t *testing.T) {
	// Successive 2N+1 backslashes followed by space are replaced by N >= 0
	// backslashes and the space. A single backslash before a hash sign is
	// removed. Other backslashes remain untouched.
	p := parseDepfile(t, "a\\ b\\#c.h: \\\\\\\\\\  \\\\\\\\ \\\\share\\info\\\\#1")
	wantStrings(t, "outs", p.outs, "a b#c.h")
	wantStrings(t, "ins", p.ins, "\\\\ ", "\\\\\\\\", "\\\\share\\info\\#1")
}

func TestDepfileParser_Escapes(t *testing.T) {
	// Put backslashes before a variety of characters, see which ones make it
	// through.
	p := parseDepfile(t, "\\!\\@\\#$$\\%\\^\\&\\[\\]\\\\:")
	wantStrings(t, "outs", p.outs, "\\!\\@#$\\%\\^\\&\\[\\]\\\\")
	if len(p.ins) != 0 {
		t.Fatalf("ins = %q, want none", p.ins)
	}
}

func TestDepfileParser_EscapedColons(t *testing.T) {
	// Depfiles produced on Windows by Clang, GCC pre-10, and GCC 10.
	p := parseDepfile(t, "c\\:\\gcc\\x86_64-w64-mingw32\\include\\stddef.o: \\\n"+
		" c:\\gcc\\x86_64-w64-mingw32\\include\\stddef.h \n")
	wantStrings(t, "outs", p.outs, "c:\\gcc\\x86_64-w64-mingw32\\include\\stddef.o")
	wantStrings(t, "ins", p.ins, "c:\\gcc\\x86_64-w64-mingw32\\include\\stddef.h")
}

func TestDepfileParser_EscapedTargetColon(t *testing.T) {
	p := parseDepfile(t, "foo1\\: x\n"+"foo1\\:\n"+"foo1\\:\r\n"+"foo1\\:\t\n"+"foo1\\:")
	wantStrings(t, "outs", p.outs, "foo1\\")
	wantStrings(t, "ins", p.ins, "x")
}

func TestDepfileParser_SpecialChars(t *testing.T) {
	// See filenames like istreambuf.iterator_op!= in
	// https://github.com/google/libcxx/tree/master/test/iterators/stream.iterators/istreambuf.iterator/
	p := parseDepfile(t, "C:/Program\\ Files\\ (x86)/Microsoft\\ crtdefs.h: \\\n"+
		" en@quot.header~ t+t-x!=1 \\\n"+
		" openldap/slapd.d/cn=config/cn=schema/cn={0}core.ldif\\\n"+
		" Fu\303\244ball\\\n"+
		" a[1]b@2%c")
	wantStrings(t, "outs", p.outs, "C:/Program Files (x86)/Microsoft crtdefs.h")
	wantStrings(t, "ins", p.ins,
		"en@quot.header~", "t+t-x!=1",
		"openldap/slapd.d/cn=config/cn=schema/cn={0}core.ldif",
		"Fu\303\244ball", "a[1]b@2%c")
}

func TestDepfileParser_UnifyMultipleOutputs(t *testing.T) {
	// Multiple duplicate targets are properly unified.
	p := parseDepfile(t, "foo foo: x y z")
	wantStrings(t, "outs", p.outs, "foo")
	wantStrings(t, "ins", p.ins, "x", "y", "z")
}

func TestDepfileParser_MultipleDifferentOutputs(t *testing.T) {
	p := parseDepfile(t, "foo bar: x y z")
	wantStrings(t, "outs", p.outs, "foo", "bar")
	wantStrings(t, "ins", p.ins, "x", "y", "z")
}

func TestDepfileParser_MultipleEmptyRules(t *testing.T) {
	p := parseDepfile(t, "foo: x\n"+"foo: \n"+"foo:\n")
	wantStrings(t, "outs", p.outs, "foo")
	wantStrings(t, "ins", p.ins, "x")
}

func TestDepfileParser_UnifyMultipleRulesLF(t *testing.T) {
	p := parseDepfile(t, "foo: x\n"+"foo: y\n"+"foo \\\n"+"foo: z\n")
	wantStrings(t, "outs", p.outs, "foo")
	wantStrings(t, "ins", p.ins, "x", "y", "z")
}

func TestDepfileParser_UnifyMultipleRulesCRLF(t *testing.T) {
	p := parseDepfile(t, "foo: x\r\n"+"foo: y\r\n"+"foo \\\r\n"+"foo: z\r\n")
	wantStrings(t, "outs", p.outs, "foo")
	wantStrings(t, "ins", p.ins, "x", "y", "z")
}

func TestDepfileParser_UnifyMixedRulesLF(t *testing.T) {
	p := parseDepfile(t, "foo: x\\\n"+"     y\n"+"foo \\\n"+"foo: z\n")
	wantStrings(t, "outs", p.outs, "foo")
	wantStrings(t, "ins", p.ins, "x", "y", "z")
}

func TestDepfileParser_UnifyMixedRulesCRLF(t *testing.T) {
	p := parseDepfile(t, "foo: x\\\r\n"+"     y\r\n"+"foo \\\r\n"+"foo: z\r\n")
	wantStrings(t, "outs", p.outs, "foo")
	wantStrings(t, "ins", p.ins, "x", "y", "z")
}

func TestDepfileParser_IndentedRulesLF(t *testing.T) {
	p := parseDepfile(t, " foo: x\n"+" foo: y\n"+" foo: z\n")
	wantStrings(t, "outs", p.outs, "foo")
	wantStrings(t, "ins", p.ins, "x", "y", "z")
}

func TestDepfileParser_IndentedRulesCRLF(t *testing.T) {
	p := parseDepfile(t, " foo: x\r\n"+" foo: y\r\n"+" foo: z\r\n")
	wantStrings(t, "outs", p.outs, "foo")
	wantStrings(t, "ins", p.ins, "x", "y", "z")
}

func TestDepfileParser_TolerateMP(t *testing.T) {
	p := parseDepfile(t, "foo: x y z\n"+"x:\n"+"y:\n"+"z:\n")
	wantStrings(t, "outs", p.outs, "foo")
	wantStrings(t, "ins", p.ins, "x", "y", "z")
}

func TestDepfileParser_MultipleRulesTolerateMP(t *testing.T) {
	p := parseDepfile(t, "foo: x\n"+"x:\n"+"foo: y\n"+"y:\n"+"foo: z\n"+"z:\n")
	wantStrings(t, "outs", p.outs, "foo")
	wantStrings(t, "ins", p.ins, "x", "y", "z")
}

func TestDepfileParser_MultipleRulesDifferentOutputs(t *testing.T) {
	// Multiple different outputs accepted across multiple rules.
	p := parseDepfile(t, "foo: x y\n"+"bar: y z\n")
	wantStrings(t, "outs", p.outs, "foo", "bar")
	wantStrings(t, "ins", p.ins, "x", "y", "z")
}

func TestDepfileParser_BuggyMP(t *testing.T) {
	content := append([]byte("foo: x y z\n"+"x: alsoin\n"+"y:\n"+"z:\n"), 0)
	p := &DepfileParser{}
	err := p.Parse(content)
	if err == nil {
		t.Fatal("expected error for input that also has inputs for an input")
	}
	if err.Error() != "inputs may not also have inputs" {
		t.Fatalf("err = %v", err)
	}
}
