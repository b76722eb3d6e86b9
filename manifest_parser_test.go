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

type parserTestFixture struct {
	t     *testing.T
	state State
	fs    VirtualFileSystem
}

func newParserTestFixture(t *testing.T) *parserTestFixture {
	return &parserTestFixture{t: t, state: NewState(), fs: NewVirtualFileSystem()}
}

func (p *parserTestFixture) assertParse(input string) {
	p.t.Helper()
	parser := NewManifestParser(&p.state, &p.fs, ParseManifestOpts{})
	err := ""
	if !parser.parseTest(input, &err) {
		p.t.Fatal(err)
	}
	if err != "" {
		p.t.Fatal(err)
	}
	VerifyGraph(p.t, &p.state)
}

func TestManifestParser_Empty(t *testing.T) {
	newParserTestFixture(t).assertParse("")
}

func TestManifestParser_Rules(t *testing.T) {
	p := newParserTestFixture(t)
	p.assertParse("rule cat\n  command = cat $in > $out\n\nrule date\n  command = date > $out\n\nbuild result: cat in_1.cc in-2.O\n")

	if got := len(p.state.Bindings.Rules); got != 3 {
		t.Fatalf("len(Rules) = %d, want 3", got)
	}
	rule := p.state.Bindings.LookupRule("cat")
	if rule == nil {
		t.Fatal("rule cat not found")
	}
	if got := rule.GetBinding("command").Serialize(); got != "[cat ][$in][ > ][$out]" {
		t.Errorf("command = %q", got)
	}
}

func TestManifestParser_RuleAttributes(t *testing.T) {
	// Check that all of the allowed rule attributes are parsed ok.
	newParserTestFixture(t).assertParse("rule cat\n  command = a\n  depfile = a\n  deps = a\n  description = a\n  generator = a\n  restat = a\n  rspfile = a\n  rspfile_content = a\n")
}

func TestManifestParser_IgnoreIndentedComments(t *testing.T) {
	p := newParserTestFixture(t)
	p.assertParse("  #indented comment\nrule cat\n  command = cat $in > $out\n  #generator = 1\n  restat = 1 # comment\n  #comment\nbuild result: cat in_1.cc in-2.O\n  #comment\n")

	if got := len(p.state.Bindings.Rules); got != 2 {
		t.Fatalf("len(Rules) = %d, want 2", got)
	}
	edge := p.state.GetNode("result", 0).InEdge
	if !edge.GetBindingBool("restat") {
		t.Error("restat should be true (the trailing # is part of the value)")
	}
	if edge.GetBindingBool("generator") {
		t.Error("generator should be false (commented out)")
	}
}

func TestManifestParser_IgnoreIndentedBlankLines(t *testing.T) {
	p := newParserTestFixture(t)
	// The indented blanks used to cause parse errors.
	p.assertParse("  \nrule cat\n  command = cat $in > $out\n  \nbuild result: cat in_1.cc in-2.O\n  \nvariable=1\n")

	// The variable must be in the top level environment.
	if got := p.state.Bindings.LookupVariable("variable"); got != "1" {
		t.Errorf("variable = %q, want 1", got)
	}
}

func TestManifestParser_ResponseFiles(t *testing.T) {
	p := newParserTestFixture(t)
	p.assertParse("rule cat_rsp\n  command = cat $rspfile > $out\n  rspfile = $rspfile\n  rspfile_content = $in\n\nbuild out: cat_rsp in\n  rspfile=out.rsp\n")

	if got := len(p.state.Bindings.Rules); got != 2 {
		t.Fatalf("len(Rules) = %d, want 2", got)
	}
	rule := p.state.Bindings.LookupRule("cat_rsp")
	if rule == nil {
		t.Fatal("rule cat_rsp not found")
	}
	if got := rule.GetBinding("command").Serialize(); got != "[cat ][$rspfile][ > ][$out]" {
		t.Errorf("command = %q", got)
	}
	if got := rule.GetBinding("rspfile").Serialize(); got != "[$rspfile]" {
		t.Errorf("rspfile = %q", got)
	}
	if got := rule.GetBinding("rspfile_content").Serialize(); got != "[$in]" {
		t.Errorf("rspfile_content = %q", got)
	}
}

func TestManifestParser_InNewline(t *testing.T) {
	p := newParserTestFixture(t)
	p.assertParse("rule cat_rsp\n  command = cat $in_newline > $out\n\nbuild out: cat_rsp in in2\n  rspfile=out.rsp\n")

	rule := p.state.Bindings.LookupRule("cat_rsp")
	if rule == nil {
		t.Fatal("rule cat_rsp not found")
	}
	if got := rule.GetBinding("command").Serialize(); got != "[cat ][$in_newline][ > ][$out]" {
		t.Errorf("command = %q", got)
	}

	edge := p.state.Edges[0]
	if got := edge.EvaluateCommand(false); got != "cat in\nin2 > out" {
		t.Errorf("EvaluateCommand = %q", got)
	}
}

func TestManifestParser_Variables(t *testing.T) {
	p := newParserTestFixture(t)
	p.assertParse("l = one-letter-test\nrule link\n  command = ld $l $extra $with_under -o $out $in\n\nextra = -pthread\nwith_under = -under\nbuild a: link b c\nnested1 = 1\nnested2 = $nested1/2\nbuild supernested: link x\n  extra = $nested2/3\n")

	if got := len(p.state.Edges); got != 2 {
		t.Fatalf("len(Edges) = %d, want 2", got)
	}
	if got := p.state.Edges[0].EvaluateCommand(false); got != "ld one-letter-test -pthread -under -o a b c" {
		t.Errorf("edge[0] command = %q", got)
	}
	if got := p.state.Bindings.LookupVariable("nested2"); got != "1/2" {
		t.Errorf("nested2 = %q", got)
	}
	if got := p.state.Edges[1].EvaluateCommand(false); got != "ld one-letter-test 1/2/3 -under -o supernested x" {
		t.Errorf("edge[1] command = %q", got)
	}
}

func TestManifestParser_VariableScope(t *testing.T) {
	p := newParserTestFixture(t)
	// Extra newline after the build line tickles a regression.
	p.assertParse("foo = bar\nrule cmd\n  command = cmd $foo $in $out\n\nbuild inner: cmd a\n  foo = baz\nbuild outer: cmd b\n\n")

	if got := len(p.state.Edges); got != 2 {
		t.Fatalf("len(Edges) = %d, want 2", got)
	}
	if got := p.state.Edges[0].EvaluateCommand(false); got != "cmd baz a inner" {
		t.Errorf("edge[0] command = %q", got)
	}
	if got := p.state.Edges[1].EvaluateCommand(false); got != "cmd bar b outer" {
		t.Errorf("edge[1] command = %q", got)
	}
}

func TestManifestParser_Continuation(t *testing.T) {
	p := newParserTestFixture(t)
	p.assertParse("rule link\n  command = foo bar $\n    baz\n\nbuild a: link c $\n d e f\n")

	if got := len(p.state.Bindings.Rules); got != 2 {
		t.Fatalf("len(Rules) = %d, want 2", got)
	}
	rule := p.state.Bindings.LookupRule("link")
	if rule == nil {
		t.Fatal("rule link not found")
	}
	if got := rule.GetBinding("command").Serialize(); got != "[foo bar baz]" {
		t.Errorf("command = %q", got)
	}
}

func TestManifestParser_Backslash(t *testing.T) {
	p := newParserTestFixture(t)
	p.assertParse("foo = bar\\baz\nfoo2 = bar\\ baz\n")
	if got := p.state.Bindings.LookupVariable("foo"); got != "bar\\baz" {
		t.Errorf("foo = %q", got)
	}
	if got := p.state.Bindings.LookupVariable("foo2"); got != "bar\\ baz" {
		t.Errorf("foo2 = %q", got)
	}
}

func TestManifestParser_Comment(t *testing.T) {
	p := newParserTestFixture(t)
	p.assertParse("# this is a comment\nfoo = not # a comment\n")
	if got := p.state.Bindings.LookupVariable("foo"); got != "not # a comment" {
		t.Errorf("foo = %q", got)
	}
}

func TestManifestParser_Dollars(t *testing.T) {
	p := newParserTestFixture(t)
	p.assertParse("rule foo\n  command = ${out}bar$$baz$$$\nblah\nx = $$dollar\nbuild $x: foo y\n")
	if got := p.state.Bindings.LookupVariable("x"); got != "$dollar" {
		t.Errorf("x = %q", got)
	}
	if got := p.state.Edges[0].EvaluateCommand(false); got != "$dollarbar$baz$blah" {
		t.Errorf("command = %q", got)
	}
}

func TestManifestParser_EscapeSpaces(t *testing.T) {
	p := newParserTestFixture(t)
	p.assertParse("rule spaces\n  command = something\nbuild foo$ bar: spaces $$one two$$$ three\n")
	if n := p.state.LookupNode("foo bar"); n == nil {
		t.Error("node \"foo bar\" not found")
	}
	if got := p.state.Edges[0].Outputs[0].Path; got != "foo bar" {
		t.Errorf("output path = %q", got)
	}
	if got := p.state.Edges[0].Inputs[0].Path; got != "$one" {
		t.Errorf("input[0] path = %q", got)
	}
	if got := p.state.Edges[0].Inputs[1].Path; got != "two$ three" {
		t.Errorf("input[1] path = %q", got)
	}
	if got := p.state.Edges[0].EvaluateCommand(false); got != "something" {
		t.Errorf("command = %q", got)
	}
}
