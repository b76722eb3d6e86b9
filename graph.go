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

	"github.com/pkg/errors"
)

// ImplicitDepLoader attaches implicit dependencies discovered after the
// manifest was parsed: either from a prior run's deps log entry (deps =
// gcc/msvc) or straight from a depfile on disk.
type ImplicitDepLoader struct {
	state         *State
	diskInterface DiskInterface
	depsLog       *DepsLog
}

// NewImplicitDepLoader creates a loader sharing state/diskInterface/depsLog
// with the rest of the scan.
func NewImplicitDepLoader(state *State, depsLog *DepsLog, di DiskInterface) ImplicitDepLoader {
	return ImplicitDepLoader{state: state, diskInterface: di, depsLog: depsLog}
}

// DepsLog returns the deps log this loader reads from, if any.
func (i *ImplicitDepLoader) DepsLog() *DepsLog {
	return i.depsLog
}

// LoadDeps attaches edge's implicit deps, from whichever source its rule
// declares. Returning false without an error means the deps could not be
// recovered (EXPLAIN has already recorded why): the caller should treat the
// edge as dirty so the deps get regenerated, not fail the build.
func (i *ImplicitDepLoader) LoadDeps(edge *Edge) (bool, error) {
	depsType := edge.GetBinding("deps")
	if depsType != "" {
		return i.loadDepsFromLog(edge)
	}
	depfile := edge.GetBinding("depfile")
	if depfile != "" {
		return i.loadDepFile(edge, depfile)
	}
	edge.DepsMissing = false
	return true, nil
}

func (i *ImplicitDepLoader) loadDepsFromLog(edge *Edge) (bool, error) {
	// Deps are only recorded for single-output edges.
	output := edge.Outputs[0]
	var deps *Deps
	if i.depsLog != nil {
		deps = i.depsLog.GetDeps(output)
	}
	if deps == nil {
		EXPLAIN("deps for '%s' are missing", output.Path)
		return false, nil
	}

	if output.Mtime > deps.Mtime {
		EXPLAIN("stored deps info out of date for '%s' (%d vs %d)", output.Path, deps.Mtime, output.Mtime)
		return false, nil
	}

	insertAt := i.preallocateSpace(edge, len(deps.Nodes))
	for j, node := range deps.Nodes {
		edge.Inputs[insertAt+j] = node
		node.AddOutEdge(edge)
	}
	return true, nil
}

func (i *ImplicitDepLoader) loadDepFile(edge *Edge, path string) (bool, error) {
	content, err := i.diskInterface.ReadFile(path)
	if err != nil {
		EXPLAIN("opening %s: %s", path, err)
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.Wrapf(err, "loading %s", path)
	}
	if len(content) == 0 {
		return true, nil
	}

	var parser DepfileParser
	if err := parser.Parse(content); err != nil {
		return false, errors.Wrapf(err, "%s", path)
	}

	if len(parser.outs) == 0 {
		return false, fmt.Errorf("%s: no outputs declared", path)
	}

	primaryOut := CanonicalizePath(parser.outs[0])
	firstOutput := edge.Outputs[0]
	if firstOutput.Path != primaryOut {
		EXPLAIN("expected depfile '%s' to mention '%s', got '%s'", path, firstOutput.Path, primaryOut)
		return false, nil
	}

	insertAt := i.preallocateSpace(edge, len(parser.ins))
	for j, in := range parser.ins {
		canon, slashBits := CanonicalizePathBits(in)
		node := i.state.GetNode(canon, slashBits)
		edge.Inputs[insertAt+j] = node
		node.AddOutEdge(edge)
	}
	return true, nil
}

// preallocateSpace opens count nil slots in edge.Inputs immediately before
// the order-only deps (discovered deps are implicit, never order-only), and
// returns the index of the first new slot.
func (i *ImplicitDepLoader) preallocateSpace(edge *Edge, count int) int {
	insertAt := len(edge.Inputs) - int(edge.OrderOnlyDeps)
	edge.Inputs = append(edge.Inputs, make([]*Node, count)...)
	copy(edge.Inputs[insertAt+count:], edge.Inputs[insertAt:len(edge.Inputs)-count])
	for k := insertAt; k < insertAt+count; k++ {
		edge.Inputs[k] = nil
	}
	edge.ImplicitDeps += int32(count)
	return insertAt
}

// DependencyScan walks the graph from a target, stat'ing files and loading
// deps/dyndep information as needed to decide what's dirty.
type DependencyScan struct {
	buildLog      *BuildLog
	diskInterface DiskInterface
	depLoader     ImplicitDepLoader
	dyndepLoader  DyndepLoader
}

// NewDependencyScan creates a scan sharing state with the rest of the build.
func NewDependencyScan(state *State, buildLog *BuildLog, depsLog *DepsLog, di DiskInterface) *DependencyScan {
	return &DependencyScan{
		buildLog:      buildLog,
		diskInterface: di,
		depLoader:     NewImplicitDepLoader(state, depsLog, di),
		dyndepLoader:  NewDyndepLoader(state, di),
	}
}

// BuildLog returns the build log consulted for restat/command-hash history.
func (d *DependencyScan) BuildLog() *BuildLog {
	return d.buildLog
}

// SetBuildLog swaps in a different build log (used once it's loaded, since
// the scan may start before the log finishes loading).
func (d *DependencyScan) SetBuildLog(log *BuildLog) {
	d.buildLog = log
}

// DepsLog returns the deps log the implicit dep loader reads from.
func (d *DependencyScan) DepsLog() *DepsLog {
	return d.depLoader.DepsLog()
}

// RecomputeDirty determines whether node (and everything it transitively
// depends on) needs to be rebuilt, populating Node.Dirty and Edge.OutputsReady
// along the way.
func (d *DependencyScan) RecomputeDirty(node *Node) error {
	var stack []*Node
	return d.recomputeDirty(node, &stack)
}

func (d *DependencyScan) recomputeDirty(node *Node, stack *[]*Node) error {
	edge := node.InEdge
	if edge == nil {
		// A leaf node with no producing edge is dirty only if it's missing.
		if node.StatusKnown() {
			return nil
		}
		if err := node.StatIfNecessary(d.diskInterface); err != nil {
			return err
		}
		if !node.Exists() {
			EXPLAIN("%s has no in-edge and is missing", node.Path)
		}
		node.Dirty = !node.Exists()
		return nil
	}

	if edge.Mark == VisitDone {
		return nil
	}

	if err := d.verifyDAG(node, *stack, edge); err != nil {
		return err
	}

	edge.Mark = VisitInStack
	*stack = append(*stack, node)

	dirty := false
	edge.OutputsReady = true
	edge.DepsMissing = false

	if !edge.DepsLoaded {
		if edge.Dyndep != nil && edge.Dyndep.DyndepPending {
			if err := d.recomputeDirty(edge.Dyndep, stack); err != nil {
				return err
			}
			if edge.Dyndep.InEdge == nil || edge.Dyndep.InEdge.OutputsReady {
				if err := d.LoadDyndeps(edge.Dyndep); err != nil {
					return err
				}
			}
		}
	}

	for _, o := range edge.Outputs {
		if err := o.StatIfNecessary(d.diskInterface); err != nil {
			return err
		}
	}

	if !edge.DepsLoaded {
		edge.DepsLoaded = true
		ok, err := d.depLoader.LoadDeps(edge)
		if err != nil {
			return err
		}
		if !ok {
			dirty = true
			edge.DepsMissing = true
		}
	}

	var mostRecentInput *Node
	for idx, in := range edge.Inputs {
		if err := d.recomputeDirty(in, stack); err != nil {
			return err
		}
		if inEdge := in.InEdge; inEdge != nil {
			if !inEdge.OutputsReady {
				edge.OutputsReady = false
			}
		}
		if !edge.IsOrderOnly(idx) {
			if in.Dirty {
				EXPLAIN("%s is dirty", in.Path)
				dirty = true
			} else if mostRecentInput == nil || in.Mtime > mostRecentInput.Mtime {
				mostRecentInput = in
			}
		}
	}

	if !dirty {
		var err error
		dirty, err = d.recomputeOutputsDirty(edge, mostRecentInput)
		if err != nil {
			return err
		}
	}

	if dirty {
		for _, o := range edge.Outputs {
			o.MarkDirty()
		}
	}

	if dirty && !(edge.IsPhony() && len(edge.Inputs) == 0) {
		edge.OutputsReady = false
	}

	edge.Mark = VisitDone
	*stack = (*stack)[:len(*stack)-1]
	return nil
}

func (d *DependencyScan) verifyDAG(node *Node, stack []*Node, edge *Edge) error {
	if edge.Mark != VisitInStack {
		return nil
	}

	start := 0
	for start < len(stack) && stack[start].InEdge != edge {
		start++
	}

	msg := "dependency cycle: "
	for i := start; i < len(stack); i++ {
		msg += stack[i].Path + " -> "
	}
	msg += node.Path
	if start == len(stack)-1 && edge.maybePhonycycleDiagnostic() {
		msg += " [-w phonycycle=err]"
	}
	return errors.New(msg)
}

func (d *DependencyScan) recomputeOutputsDirty(edge *Edge, mostRecentInput *Node) (bool, error) {
	command := edge.EvaluateCommand(true)
	for _, o := range edge.Outputs {
		dirty, err := d.recomputeOutputDirty(edge, mostRecentInput, command, o)
		if err != nil {
			return false, err
		}
		if dirty {
			return true, nil
		}
	}
	return false, nil
}

func (d *DependencyScan) recomputeOutputDirty(edge *Edge, mostRecentInput *Node, command string, output *Node) (bool, error) {
	if edge.IsPhony() {
		if len(edge.Inputs) == 0 && !output.Exists() {
			EXPLAIN("output %s of phony edge with no inputs doesn't exist", output.Path)
			return true, nil
		}
		if mostRecentInput != nil {
			output.UpdatePhonyMtime(mostRecentInput.Mtime)
		}
		return false, nil
	}

	if !output.Exists() {
		EXPLAIN("output %s doesn't exist", output.Path)
		return true, nil
	}

	var entry *LogEntry
	outputMtime := output.Mtime
	usedRestat := false
	if mostRecentInput != nil && output.Mtime < mostRecentInput.Mtime {
		if edge.GetBindingBool("restat") && d.buildLog != nil {
			entry = d.buildLog.LookupByOutput(output.Path)
			if entry != nil {
				outputMtime = entry.Mtime
				usedRestat = true
			}
		}
		if outputMtime < mostRecentInput.Mtime {
			prefix := ""
			if usedRestat {
				prefix = "restat of "
			}
			EXPLAIN("%soutput %s older than most recent input %s (%d vs %d)", prefix, output.Path, mostRecentInput.Path, outputMtime, mostRecentInput.Mtime)
			return true, nil
		}
	}

	if d.buildLog != nil {
		generator := edge.GetBindingBool("generator")
		if entry == nil {
			entry = d.buildLog.LookupByOutput(output.Path)
		}
		if entry != nil {
			if !generator && HashCommand(command) != entry.CommandHash {
				EXPLAIN("command line changed for %s", output.Path)
				return true, nil
			}
			if mostRecentInput != nil && entry.Mtime < mostRecentInput.Mtime {
				EXPLAIN("recorded mtime of %s older than most recent input %s (%d vs %d)", output.Path, mostRecentInput.Path, entry.Mtime, mostRecentInput.Mtime)
				return true, nil
			}
		}
		if entry == nil && !generator {
			EXPLAIN("command line not found in log for %s", output.Path)
			return true, nil
		}
	}

	return false, nil
}

// LoadDyndeps loads and applies node's dyndep file to the graph.
func (d *DependencyScan) LoadDyndeps(node *Node) error {
	return d.dyndepLoader.LoadDyndeps(node, nil)
}

// LoadDyndepsInto loads node's dyndep file and also stores the parsed
// records in ddf, for the builder, which needs the parsed form.
func (d *DependencyScan) LoadDyndepsInto(node *Node, ddf DyndepFile) error {
	return d.dyndepLoader.LoadDyndeps(node, ddf)
}
