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

// Dyndeps is the dynamically-discovered dependency information for one
// edge, as recorded in a dyndep file.
type Dyndeps struct {
	used            bool
	Restat          bool
	ImplicitInputs  []*Node
	ImplicitOutputs []*Node
}

// DyndepFile maps an edge to the dynamically-discovered dependency
// information loaded for it from one dyndep file.
type DyndepFile map[*Edge]*Dyndeps

// DyndepLoader loads dynamically discovered dependencies, as referenced via
// the "dyndep" binding on a build edge.
type DyndepLoader struct {
	state         *State
	diskInterface DiskInterface
}

// NewDyndepLoader creates a loader sharing state/diskInterface with the
// rest of the scan.
func NewDyndepLoader(state *State, di DiskInterface) DyndepLoader {
	return DyndepLoader{state: state, diskInterface: di}
}

// LoadDyndeps loads node's dyndep file and patches the graph with what it
// says. If ddf is non-nil, the parsed contents are also stored there for a
// caller that needs the raw per-edge records (the builder passes one).
func (d *DyndepLoader) LoadDyndeps(node *Node, ddf DyndepFile) error {
	node.DyndepPending = false

	if ddf == nil {
		ddf = DyndepFile{}
	}
	if err := d.loadDyndepFile(node, ddf); err != nil {
		return err
	}

	// Update each edge that named this node as its dyndep binding.
	for _, edge := range node.OutEdges {
		if edge.Dyndep != node {
			continue
		}
		dyndeps, ok := ddf[edge]
		if !ok {
			return fmt.Errorf("'%s' not mentioned in its dyndep file '%s'", edge.Outputs[0].Path, node.Path)
		}
		dyndeps.used = true
		if err := d.updateEdge(edge, dyndeps); err != nil {
			return err
		}
	}

	// Reject extra outputs in the dyndep file that no edge claimed.
	for edge, dyndeps := range ddf {
		if !dyndeps.used {
			return fmt.Errorf("dyndep file '%s' mentions output '%s' whose build statement does not have a dyndep binding for the file", node.Path, edge.Outputs[0].Path)
		}
	}

	return nil
}

func (d *DyndepLoader) updateEdge(edge *Edge, dyndeps *Dyndeps) error {
	// The edge already has its own binding scope since it declared a
	// "dyndep" binding.
	if dyndeps.Restat {
		edge.Env.AddBinding("restat", "1")
	}

	edge.Outputs = append(edge.Outputs, dyndeps.ImplicitOutputs...)
	edge.ImplicitOuts += int32(len(dyndeps.ImplicitOutputs))

	for _, out := range dyndeps.ImplicitOutputs {
		if oldInEdge := out.InEdge; oldInEdge != nil {
			// This node already has a producing edge. That's only allowed if
			// it was a placeholder edge generated by ImplicitDepLoader, which
			// we now replace with the real producer.
			if !oldInEdge.GeneratedByDepLoader {
				return fmt.Errorf("multiple rules generate %s", out.Path)
			}
			oldInEdge.Outputs = nil
		}
		out.InEdge = edge
	}

	insertAt := len(edge.Inputs) - int(edge.OrderOnlyDeps)
	edge.Inputs = append(edge.Inputs, make([]*Node, len(dyndeps.ImplicitInputs))...)
	copy(edge.Inputs[insertAt+len(dyndeps.ImplicitInputs):], edge.Inputs[insertAt:len(edge.Inputs)-len(dyndeps.ImplicitInputs)])
	copy(edge.Inputs[insertAt:], dyndeps.ImplicitInputs)
	edge.ImplicitDeps += int32(len(dyndeps.ImplicitInputs))

	for _, in := range dyndeps.ImplicitInputs {
		in.AddOutEdge(edge)
	}

	return nil
}

func (d *DyndepLoader) loadDyndepFile(file *Node, ddf DyndepFile) error {
	EXPLAIN("loading dyndep file '%s'", file.Path)
	content, err := d.diskInterface.ReadFile(file.Path)
	if err != nil {
		return fmt.Errorf("loading %s: %w", file.Path, err)
	}
	parser := dyndepParser{state: d.state, dyndepFile: ddf}
	return parser.parse(file.Path, content)
}
