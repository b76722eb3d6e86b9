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
	"sort"
)

// TimeStamp mirrors the three-valued mtime convention used throughout the
// graph: -1 means "not yet examined", 0 means "examined, file missing", and
// any positive value is the file's actual modification time.
type TimeStamp int64

// existenceStatus records whether a Node's StatIfNecessary has run yet, and
// if so, what it found.
type existenceStatus int

const (
	existenceStatusUnknown existenceStatus = iota
	existenceStatusMissing
	existenceStatusExists
)

// Node is a file (or directory) referenced by the build graph: an input,
// output, or both. Nodes are interned by path in State.Paths so that every
// reference to the same path shares one Node.
type Node struct {
	Path      string
	SlashBits uint64

	existence existenceStatus
	Mtime     TimeStamp

	Dirty         bool
	DyndepPending bool

	InEdge   *Edge
	OutEdges []*Edge

	// ID is a dense index assigned by the deps log; -1 until then.
	ID int32
}

// NewNode creates a node for path, with mtime/existence unknown.
func NewNode(path string, slashBits uint64) *Node {
	return &Node{Path: path, SlashBits: slashBits, Mtime: -1, ID: -1}
}

// Exists reports whether the node is known to refer to a file on disk.
func (n *Node) Exists() bool {
	return n.existence == existenceStatusExists
}

// StatusKnown reports whether StatIfNecessary has already run for this node.
func (n *Node) StatusKnown() bool {
	return n.existence != existenceStatusUnknown
}

// ResetState marks the node as not-yet-stat'ed and not dirty, keeping its
// graph edges untouched. Used between independent build invocations sharing
// one in-memory graph (tests, long-running tools).
func (n *Node) ResetState() {
	n.Mtime = -1
	n.existence = existenceStatusUnknown
	n.Dirty = false
}

// MarkMissing marks the node as already-stat'ed and absent.
func (n *Node) MarkMissing() {
	if n.Mtime == -1 {
		n.Mtime = 0
	}
	n.existence = existenceStatusMissing
}

// MarkDirty marks the node's file as out of date relative to its inputs.
func (n *Node) MarkDirty() {
	n.Dirty = true
}

// AddOutEdge records edge as one that consumes this node as an input.
func (n *Node) AddOutEdge(edge *Edge) {
	n.OutEdges = append(n.OutEdges, edge)
}

// UpdatePhonyMtime propagates the newest input mtime onto a phony node that
// doesn't exist on disk, so that dependents see a meaningful timestamp.
func (n *Node) UpdatePhonyMtime(mtime TimeStamp) {
	if !n.Exists() && mtime > n.Mtime {
		n.Mtime = mtime
	}
}

// StatIfNecessary stats the node via di unless it has already been examined
// this invocation.
func (n *Node) StatIfNecessary(di DiskInterface) error {
	if n.StatusKnown() {
		return nil
	}
	return n.Stat(di)
}

// Stat unconditionally (re-)stats the node via di.
func (n *Node) Stat(di DiskInterface) error {
	mtime, err := di.Stat(n.Path)
	if err != nil {
		return err
	}
	n.Mtime = mtime
	if mtime != 0 {
		n.existence = existenceStatusExists
	} else {
		n.existence = existenceStatusMissing
	}
	return nil
}

// PathDecanonicalized renders the node's path with backslashes restored at
// the positions SlashBits recorded, undoing CanonicalizePathBits' forward
// slash normalization.
func (n *Node) PathDecanonicalized() string {
	return PathDecanonicalized(n.Path, n.SlashBits)
}

// PathDecanonicalized is the free-function form, usable before a Node exists.
func PathDecanonicalized(path string, slashBits uint64) string {
	if slashBits == 0 {
		return path
	}
	buf := []byte(path)
	mask := uint64(1)
	for i := range buf {
		if buf[i] == '/' {
			if slashBits&mask != 0 {
				buf[i] = '\\'
			}
			mask <<= 1
		}
	}
	return string(buf)
}

// VisitMark is the tri-state color used by the cycle-detecting DFS in
// DependencyScan.RecomputeDirty.
type VisitMark int

const (
	VisitNone VisitMark = iota
	VisitInStack
	VisitDone
)

// Edge is one "build" statement: a Rule applied to a set of inputs to
// produce a set of outputs.
type Edge struct {
	Rule        *Rule
	Pool        *Pool
	Inputs      []*Node
	Outputs     []*Node
	Validations []*Node
	Dyndep      *Node
	Env         *BindingEnv

	Mark                 VisitMark
	ID                   int32
	OutputsReady         bool
	DepsLoaded           bool
	DepsMissing          bool
	GeneratedByDepLoader bool

	ImplicitDeps  int32
	OrderOnlyDeps int32
	ImplicitOuts  int32

	// CriticalPathWeight is the key Pool.DelayEdge orders its delayed queue
	// by. Nothing in this package assigns it, so it stays 0 and delayed edges
	// are released in the order they were queued.
	CriticalPathWeight int64
}

// IsOrderOnly reports whether Inputs[index] is an order-only dependency.
func (e *Edge) IsOrderOnly(index int) bool {
	return index >= len(e.Inputs)-int(e.OrderOnlyDeps)
}

// IsImplicit reports whether Inputs[index] is an implicit (not order-only)
// dependency.
func (e *Edge) IsImplicit(index int) bool {
	return index >= len(e.Inputs)-int(e.OrderOnlyDeps)-int(e.ImplicitDeps) && !e.IsOrderOnly(index)
}

// IsImplicitOut reports whether Outputs[index] is an implicit output.
func (e *Edge) IsImplicitOut(index int) bool {
	return index >= len(e.Outputs)-int(e.ImplicitOuts)
}

// IsPhony reports whether this edge is bound to the builtin "phony" rule.
func (e *Edge) IsPhony() bool {
	return e.Rule == PhonyRule
}

// Weight is the pool-admission cost of running this edge concurrently with
// others; always 1 today, but kept as a method (rather than a constant) so a
// future per-edge weight hook has somewhere to live.
func (e *Edge) Weight() int {
	return 1
}

func (e *Edge) explicitDeps() []*Node {
	n := len(e.Inputs) - int(e.ImplicitDeps) - int(e.OrderOnlyDeps)
	return e.Inputs[:n]
}

func (e *Edge) implicitDeps() []*Node {
	n := len(e.Inputs) - int(e.ImplicitDeps) - int(e.OrderOnlyDeps)
	return e.Inputs[n : n+int(e.ImplicitDeps)]
}

func (e *Edge) orderOnlyDeps() []*Node {
	n := len(e.Inputs) - int(e.OrderOnlyDeps)
	return e.Inputs[n:]
}

func (e *Edge) explicitOutputs() []*Node {
	n := len(e.Outputs) - int(e.ImplicitOuts)
	return e.Outputs[:n]
}

func (e *Edge) implicitOutputs() []*Node {
	n := len(e.Outputs) - int(e.ImplicitOuts)
	return e.Outputs[n:]
}

// AllInputsReady reports whether every input of this edge that is itself
// produced by another edge has had that edge's outputs declared ready.
func (e *Edge) AllInputsReady() bool {
	for _, i := range e.Inputs {
		if i.InEdge != nil && !i.InEdge.OutputsReady {
			return false
		}
	}
	return true
}

// maybePhonycycleDiagnostic reports whether this edge is a plain phony edge
// (the only kind CMake's old generators are known to have written a
// self-referencing input for).
func (e *Edge) maybePhonycycleDiagnostic() bool {
	return e.IsPhony() && e.ImplicitDeps == 0 && e.ImplicitOuts == 0
}

// UseConsole reports whether this edge should get exclusive access to the
// terminal (the "console" pool), which also disables its status output.
func (e *Edge) UseConsole() bool {
	return e.Pool == ConsolePool
}

// GetBinding evaluates key against this edge's rule/environment, with the
// magic $in/$out/$in_newline substitutions applied and shell-escaped.
func (e *Edge) GetBinding(key string) string {
	env := newEdgeEnv(e, escapeShell)
	return env.LookupVariable(key)
}

// GetBindingBool evaluates key as a ninja boolean: present and non-empty.
func (e *Edge) GetBindingBool(key string) bool {
	return e.GetBinding(key) != ""
}

// GetUnescapedDyndep returns the edge's "dyndep" binding without shell
// escaping, since it names a path to be used internally, not passed to $in.
func (e *Edge) GetUnescapedDyndep() string {
	env := newEdgeEnv(e, escapeNone)
	return env.LookupVariable("dyndep")
}

// GetUnescapedDepfile returns the edge's "depfile" binding without shell
// escaping, since it names a path to be read, not passed to $in.
func (e *Edge) GetUnescapedDepfile() string {
	env := newEdgeEnv(e, escapeNone)
	return env.LookupVariable("depfile")
}

// GetUnescapedRspfile returns the edge's "rspfile" binding without shell
// escaping, since it names a path to be written, not passed to $in.
func (e *Edge) GetUnescapedRspfile() string {
	env := newEdgeEnv(e, escapeNone)
	return env.LookupVariable("rspfile")
}

// EvaluateCommand renders the edge's "command" binding. When inclRspFile is
// true and the rule uses an rspfile, the rspfile content is appended (this
// is what build-log hashing uses, so a response-file-only change still
// triggers a rebuild).
func (e *Edge) EvaluateCommand(inclRspFile bool) string {
	command := e.GetBinding("command")
	if inclRspFile {
		if rspfile := e.GetBinding("rspfile_content"); rspfile != "" {
			command += ";rspfile=" + rspfile
		}
	}
	return command
}

func (e *Edge) String() string {
	outs := make([]string, len(e.Outputs))
	for i, o := range e.Outputs {
		outs[i] = o.Path
	}
	name := "<phony>"
	if e.Rule != nil {
		name = e.Rule.Name
	}
	return fmt.Sprintf("build %v: %s", outs, name)
}

type escapeKind int

const (
	escapeShell escapeKind = iota
	escapeNone
)

// edgeEnv is the Env seen by an edge's own command-line template: it
// supplies $in/$out/$in_newline and otherwise defers to the edge's rule and
// binding scope.
type edgeEnv struct {
	edge        *Edge
	escapeInOut escapeKind
}

func newEdgeEnv(edge *Edge, escape escapeKind) *edgeEnv {
	return &edgeEnv{edge: edge, escapeInOut: escape}
}

func (e *edgeEnv) LookupVariable(name string) string {
	switch name {
	case "in", "in_newline":
		sep := byte(' ')
		if name == "in_newline" {
			sep = '\n'
		}
		return e.makePathList(e.edge.explicitDeps(), sep)
	case "out":
		return e.makePathList(e.edge.explicitOutputs(), ' ')
	}
	if e.edge.Env == nil {
		return ""
	}
	var eval *EvalString
	if e.edge.Rule != nil {
		eval = e.edge.Rule.GetBinding(name)
	}
	return e.edge.Env.LookupWithFallback(name, eval, e)
}

func (e *edgeEnv) makePathList(nodes []*Node, sep byte) string {
	var buf []byte
	for i, n := range nodes {
		if i > 0 {
			buf = append(buf, sep)
		}
		if e.escapeInOut == escapeShell {
			buf = append(buf, shellEscape(n.Path)...)
		} else {
			buf = append(buf, n.Path...)
		}
	}
	return string(buf)
}

// Pool bounds how many edges of a given weight may run concurrently. Edges
// that would push current use over depth are queued (delayed) until enough
// running edges finish. A depth of 0 means unbounded.
type Pool struct {
	Name    string
	Depth   int
	current int
	delayed []*Edge
}

// NewPool creates a pool of the given depth (0 == unbounded).
func NewPool(name string, depth int) *Pool {
	return &Pool{Name: name, Depth: depth}
}

// IsValid reports whether this pool can admit any edges at all.
func (p *Pool) IsValid() bool {
	return p.Depth >= 0
}

// CurrentUse is the combined weight of edges this pool currently has
// running.
func (p *Pool) CurrentUse() int {
	return p.current
}

// ShouldDelayEdge reports whether this pool might ever need to queue an
// edge rather than let it start immediately.
func (p *Pool) ShouldDelayEdge() bool {
	return p.Depth != 0
}

// EdgeScheduled records that edge has committed to running, charging its
// weight against the pool.
func (p *Pool) EdgeScheduled(edge *Edge) {
	if p.Depth != 0 {
		p.current += edge.Weight()
	}
}

// EdgeFinished releases edge's weight back to the pool.
func (p *Pool) EdgeFinished(edge *Edge) {
	if p.Depth != 0 {
		p.current -= edge.Weight()
	}
}

// DelayEdge queues edge, which cannot run yet because the pool is full. The
// queue is kept stably ordered by descending CriticalPathWeight. Plan's
// ready set is not ordered this way: FindWork takes edges first in, first
// out.
func (p *Pool) DelayEdge(edge *Edge) {
	p.delayed = append(p.delayed, edge)
	sort.SliceStable(p.delayed, func(i, j int) bool {
		return p.delayed[i].CriticalPathWeight > p.delayed[j].CriticalPathWeight
	})
}

// RetrieveReadyEdges moves as many queued edges as now fit into ready,
// charging each one's weight against the pool as it's released.
func (p *Pool) RetrieveReadyEdges(ready *edgeSet) {
	i := 0
	for i < len(p.delayed) {
		edge := p.delayed[i]
		if p.current+edge.Weight() > p.Depth {
			break
		}
		ready.insert(edge)
		p.EdgeScheduled(edge)
		i++
	}
	p.delayed = p.delayed[i:]
}

// edgeSet is a set of edges that remembers insertion order, used where the
// pool and plan hand edges back and forth.
type edgeSet struct {
	order []*Edge
	has   map[*Edge]struct{}
}

func newEdgeSet() *edgeSet {
	return &edgeSet{has: map[*Edge]struct{}{}}
}

func (s *edgeSet) insert(e *Edge) {
	if _, ok := s.has[e]; ok {
		return
	}
	s.has[e] = struct{}{}
	s.order = append(s.order, e)
}

// State owns every Node, Edge, Pool and Rule/binding parsed for one build:
// the in-memory dependency graph plus its default/console pools and phony
// rule.
type State struct {
	// Paths interns every path seen into its Node.
	Paths map[string]*Node

	// Pools holds every pool declared in the manifest, plus the builtin ""
	// (default, unbounded) and "console" (depth 1) pools.
	Pools map[string]*Pool

	// Edges holds every edge in declaration order; Edge.ID indexes into it.
	Edges []*Edge

	Bindings *BindingEnv
	Defaults []*Node
}

// DefaultPool is the builtin unbounded pool every edge starts in.
var DefaultPool = &Pool{Name: "", Depth: 0}

// ConsolePool is the builtin depth-1 pool that gives its edge exclusive
// access to the terminal.
var ConsolePool = &Pool{Name: "console", Depth: 1}

// PhonyRule is the builtin rule used by "build x: phony ..." statements: it
// has no command and is never actually run.
var PhonyRule = NewRule("phony")

// NewState creates an empty graph seeded with the builtin phony rule and
// default/console pools.
func NewState() State {
	s := State{
		Paths:    map[string]*Node{},
		Pools:    map[string]*Pool{},
		Bindings: NewBindingEnv(nil),
	}
	s.Bindings.AddRule(PhonyRule)
	s.Pools[DefaultPool.Name] = DefaultPool
	s.Pools[ConsolePool.Name] = ConsolePool
	return s
}

func (s *State) addEdge(rule *Rule) *Edge {
	edge := &Edge{Rule: rule, Pool: DefaultPool, Env: s.Bindings, ID: int32(len(s.Edges))}
	s.Edges = append(s.Edges, edge)
	return edge
}

// GetNode interns path, creating a fresh Node the first time it's seen.
func (s *State) GetNode(path string, slashBits uint64) *Node {
	if n, ok := s.Paths[path]; ok {
		return n
	}
	n := NewNode(path, slashBits)
	s.Paths[path] = n
	return n
}

func (s *State) lookupNode(path string) *Node {
	return s.Paths[path]
}

// LookupNode returns the already-interned node for path, or nil if the
// manifest never mentioned it.
func (s *State) LookupNode(path string) *Node {
	return s.lookupNode(path)
}

// SpellcheckNode suggests the closest known path to an unrecognized one, for
// "unknown target" error messages.
func (s *State) SpellcheckNode(path string) *Node {
	const allowReplacements = true
	const maxValidEditDistance = 3

	minDistance := maxValidEditDistance + 1
	var result *Node
	for p, n := range s.Paths {
		distance := editDistance(p, path, allowReplacements, maxValidEditDistance)
		if distance < minDistance && n != nil {
			minDistance = distance
			result = n
		}
	}
	return result
}

func (s *State) addIn(edge *Edge, path string, slashBits uint64) {
	node := s.GetNode(path, slashBits)
	edge.Inputs = append(edge.Inputs, node)
	node.AddOutEdge(edge)
}

func (s *State) addOut(edge *Edge, path string, slashBits uint64) bool {
	node := s.GetNode(path, slashBits)
	if node.InEdge != nil {
		return false
	}
	edge.Outputs = append(edge.Outputs, node)
	node.InEdge = edge
	return true
}

func (s *State) addValidation(edge *Edge, path string, slashBits uint64) {
	node := s.GetNode(path, slashBits)
	edge.Validations = append(edge.Validations, node)
	node.AddOutEdge(edge)
}

func (s *State) addDefault(path string) error {
	node := s.lookupNode(path)
	if node == nil {
		return fmt.Errorf("unknown target '%s'", path)
	}
	s.Defaults = append(s.Defaults, node)
	return nil
}

// RootNodes returns every node with no out-edges: the "leaves" at the top
// of the graph, i.e. the targets nothing else in this manifest depends on.
func (s *State) RootNodes() ([]*Node, error) {
	var roots []*Node
	for _, e := range s.Edges {
		for _, out := range e.Outputs {
			if len(out.OutEdges) == 0 {
				roots = append(roots, out)
			}
		}
	}
	if len(s.Edges) > 0 && len(roots) == 0 {
		return nil, fmt.Errorf("could not determine root nodes of build graph")
	}
	return roots, nil
}

// DefaultNodes returns the "default" targets: those named by "default"
// statements, or every root node if none were named.
func (s *State) DefaultNodes() ([]*Node, error) {
	if len(s.Defaults) == 0 {
		return s.RootNodes()
	}
	return s.Defaults, nil
}

// Reset restores every node/edge to "not yet examined", keeping the graph
// shape. Used between independent RecomputeDirty passes over one State.
func (s *State) Reset() {
	for _, n := range s.Paths {
		n.ResetState()
	}
	for _, e := range s.Edges {
		e.OutputsReady = false
		e.DepsLoaded = false
		e.Mark = VisitNone
	}
}
