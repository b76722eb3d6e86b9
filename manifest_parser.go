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

import "fmt"

// ParseManifestConcurrency selects between the serial and concurrent
// manifest parser backends.
type ParseManifestConcurrency int32

const (
	// ParseManifestSerial parses build statements, pools, rules and
	// subninjas one at a time, in file order.
	ParseManifestSerial ParseManifestConcurrency = iota
	// ParseManifestConcurrent overlaps reading and lexing build statements
	// across goroutines; subninja files are read as soon as they're named,
	// then processed once the current file is fully parsed.
	ParseManifestConcurrent
)

// ParseManifestOpts controls how strictly a manifest is parsed.
type ParseManifestOpts struct {
	// ErrOnDupeEdge makes a second build edge producing the same output an
	// error rather than a warning.
	ErrOnDupeEdge bool
	// ErrOnPhonyCycle makes a phony rule depending on itself an error rather
	// than a warning (ninja's legacy behavior keeps this a warning).
	ErrOnPhonyCycle bool
	// Quiet suppresses the warnings ErrOnDupeEdge/ErrOnPhonyCycle would
	// otherwise print when not erroring.
	Quiet bool
	// Concurrency selects the serial or concurrent parsing backend.
	Concurrency ParseManifestConcurrency
}

// ManifestParserOptions is the name nin's tests historically used for
// ParseManifestOpts; kept as an alias so both spellings work.
type ManifestParserOptions = ParseManifestOpts

// subninja is the result of asynchronously reading a file named in a
// "subninja" statement, handed back over a channel once read so the
// reader goroutine doesn't block on lexing/processing.
type subninja struct {
	filename string
	input    []byte
	err      error
	ls       lexerState
}

// readSubninjaAsync reads filename and posts the result (including any
// read error) to ch; it does no parsing of its own.
func readSubninjaAsync(fr FileReader, filename string, ch chan subninja, ls lexerState) {
	input, err := fr.ReadFile(filename)
	ch <- subninja{filename: filename, input: input, err: err, ls: ls}
}

// ManifestParser parses a root .ninja file (and everything it includes or
// references via subninja) into a State, using either the serial or
// concurrent backend depending on opts.Concurrency.
type ManifestParser struct {
	state   *State
	fr      FileReader
	options ParseManifestOpts
}

// NewManifestParser returns a parser that populates state, reading included
// and subninja files via fr.
func NewManifestParser(state *State, fr FileReader, opts ParseManifestOpts) ManifestParser {
	return ManifestParser{state: state, fr: fr, options: opts}
}

// Load reads filename via fr and parses it into state. parent, if non-nil,
// is reserved for pointing a diagnostic at an including file's position;
// nin only ever passes nil here since the root manifest has no includer.
func (m *ManifestParser) Load(filename string, errOut *string, parent *lexer) bool {
	if m.fr == nil {
		*errOut = "no file reader configured to load '" + filename + "'"
		return false
	}
	input, err := m.fr.ReadFile(filename)
	if err != nil {
		*errOut = fmt.Sprintf("loading '%s': %s", filename, err)
		return false
	}
	if err := m.parse(filename, input); err != nil {
		*errOut = err.Error()
		return false
	}
	return true
}

// parseTest parses a literal string directly into state, for tests; it
// never touches fr.
func (m *ManifestParser) parseTest(input string, errOut *string) bool {
	if err := m.parse("input", []byte(input)); err != nil {
		*errOut = err.Error()
		return false
	}
	return true
}

func (m *ManifestParser) parse(filename string, input []byte) error {
	if m.options.Concurrency == ParseManifestSerial {
		p := manifestParserSerial{fr: m.fr, options: m.options, state: m.state, env: m.state.Bindings}
		return p.parse(filename, input)
	}
	p := manifestParserConcurrent{fr: m.fr, options: m.options, state: m.state, env: m.state.Bindings}
	return p.parse(filename, input)
}
