// Copyright 2015 Google Inc. All Rights Reserved.
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

import "fmt"

// dyndepParser parses the small build-statement-only grammar of a dyndep
// file: a version declaration followed by "build <out>: dyndep | <ins>"
// statements patching previously-parsed edges.
type dyndepParser struct {
	state       *State
	fr          FileReader
	dyndepFile  DyndepFile
	lexer       lexer
	env         *BindingEnv
}

// parseTest parses a literal string, for tests.
func (d *dyndepParser) parseTest(input string) error {
	return d.parse("input", []byte(input))
}

func (d *dyndepParser) parse(filename string, input []byte) error {
	if err := d.lexer.Start(filename, input); err != nil {
		return err
	}
	d.env = NewBindingEnv(nil)

	// Require a supported ninja_dyndep_version value immediately so we can
	// exit before encountering any syntactic surprises.
	haveDyndepVersion := false

	for {
		token := d.lexer.ReadToken()
		switch token {
		case BUILD:
			if !haveDyndepVersion {
				return d.lexer.Error("expected 'ninja_dyndep_version = ...'")
			}
			if err := d.parseEdge(); err != nil {
				return err
			}
		case IDENT:
			d.lexer.UnreadToken()
			if haveDyndepVersion {
				return d.lexer.Error("unexpected " + token.String())
			}
			if err := d.parseDyndepVersion(); err != nil {
				return err
			}
			haveDyndepVersion = true
		case ERROR:
			return d.lexer.Error(d.lexer.DescribeLastError())
		case TEOF:
			if !haveDyndepVersion {
				return d.lexer.Error("expected 'ninja_dyndep_version = ...'")
			}
			return nil
		case NEWLINE:
		default:
			return d.lexer.Error("unexpected " + token.String())
		}
	}
}

func (d *dyndepParser) parseDyndepVersion() error {
	name, value, err := d.parseLet()
	if err != nil {
		return err
	}
	if name != "ninja_dyndep_version" {
		return d.lexer.Error("expected 'ninja_dyndep_version = ...'")
	}
	version := value.Evaluate(d.env)
	major, minor := ParseVersion(version)
	if major != 1 || minor != 0 {
		return d.lexer.Error(fmt.Sprintf("unsupported 'ninja_dyndep_version = %s'", version))
	}
	return nil
}

func (d *dyndepParser) parseLet() (string, EvalString, error) {
	key := d.lexer.readIdent()
	if key == "" {
		return "", EvalString{}, d.lexer.Error("expected variable name")
	}
	if err := d.expectToken(EQUALS); err != nil {
		return "", EvalString{}, err
	}
	value, err := d.lexer.readEvalString(false)
	return key, value, err
}

func (d *dyndepParser) expectToken(expected Token) error {
	if token := d.lexer.ReadToken(); token != expected {
		return d.lexer.Error("expected " + expected.String() + ", got " + token.String() + expected.errorHint())
	}
	return nil
}

func (d *dyndepParser) parseEdge() error {
	// Parse one explicit output; it must already have an edge. Its
	// dynamically-discovered dependency information gets recorded here.
	out0, err := d.lexer.readEvalString(true)
	if err != nil {
		return err
	}
	if len(out0.Parsed) == 0 {
		return d.lexer.Error("expected path")
	}
	path := out0.Evaluate(d.env)
	if path == "" {
		return d.lexer.Error("empty path")
	}
	path = CanonicalizePath(path)
	node := d.state.lookupNode(path)
	if node == nil || node.InEdge == nil {
		return d.lexer.Error(fmt.Sprintf("no build statement exists for '%s'", path))
	}
	edge := node.InEdge
	if _, ok := d.dyndepFile[edge]; ok {
		return d.lexer.Error(fmt.Sprintf("multiple statements for '%s'", path))
	}
	dyndeps := &Dyndeps{}
	d.dyndepFile[edge] = dyndeps

	// Disallow explicit outputs.
	out, err := d.lexer.readEvalString(true)
	if err != nil {
		return err
	}
	if len(out.Parsed) != 0 {
		return d.lexer.Error("explicit outputs not supported")
	}

	// Parse implicit outputs, if any.
	var outs []EvalString
	if d.lexer.PeekToken(PIPE) {
		for {
			ev, err := d.lexer.readEvalString(true)
			if err != nil {
				return err
			}
			if len(ev.Parsed) == 0 {
				break
			}
			outs = append(outs, ev)
		}
	}

	if err := d.expectToken(COLON); err != nil {
		return err
	}

	ruleName := d.lexer.readIdent()
	if ruleName != "dyndep" {
		return d.lexer.Error("expected build command name 'dyndep'")
	}

	// Disallow explicit inputs.
	in, err := d.lexer.readEvalString(true)
	if err != nil {
		return err
	}
	if len(in.Parsed) != 0 {
		return d.lexer.Error("explicit inputs not supported")
	}

	// Parse implicit inputs, if any.
	var ins []EvalString
	if d.lexer.PeekToken(PIPE) {
		for {
			ev, err := d.lexer.readEvalString(true)
			if err != nil {
				return err
			}
			if len(ev.Parsed) == 0 {
				break
			}
			ins = append(ins, ev)
		}
	}

	// Disallow order-only inputs.
	if d.lexer.PeekToken(PIPE2) {
		return d.lexer.Error("order-only inputs not supported")
	}

	if err := d.expectToken(NEWLINE); err != nil {
		return err
	}

	if d.lexer.PeekToken(INDENT) {
		key, val, err := d.parseLet()
		if err != nil {
			return err
		}
		if key != "restat" {
			return d.lexer.Error("binding is not 'restat'")
		}
		dyndeps.Restat = val.Evaluate(d.env) != ""
	}

	dyndeps.ImplicitInputs = make([]*Node, 0, len(ins))
	for _, i := range ins {
		path := i.Evaluate(d.env)
		if path == "" {
			return d.lexer.Error("empty path")
		}
		path, slashBits := CanonicalizePathBits(path)
		dyndeps.ImplicitInputs = append(dyndeps.ImplicitInputs, d.state.GetNode(path, slashBits))
	}

	dyndeps.ImplicitOutputs = make([]*Node, 0, len(outs))
	for _, o := range outs {
		path := o.Evaluate(d.env)
		if path == "" {
			return d.lexer.Error("empty path")
		}
		path, slashBits := CanonicalizePathBits(path)
		dyndeps.ImplicitOutputs = append(dyndeps.ImplicitOutputs, d.state.GetNode(path, slashBits))
	}

	return nil
}
