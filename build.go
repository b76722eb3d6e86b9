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
)

// Want enumerates the possible goals Plan has for one edge.
type Want int

const (
	// kWantNothing means we don't want to build the edge, but we might want
	// to build one of its dependents.
	kWantNothing Want = iota
	// kWantToStart means we want to build the edge but haven't scheduled it.
	kWantToStart
	// kWantToFinish means we want to build the edge, have scheduled it, and
	// are waiting for it to complete.
	kWantToFinish
)

// EdgeResult is the outcome Plan.EdgeFinished is told about.
type EdgeResult int

const (
	kEdgeFailed EdgeResult = iota
	kEdgeSucceeded
)

// Plan tracks which edges still need to run and which are ready to start.
type Plan struct {
	// want records, for every edge we care about, whether we still need to
	// start it, are waiting on it, or only want one of its dependents. An
	// edge absent from this map is of no interest to the plan at all.
	want map[*Edge]Want

	ready *edgeSet

	builder *Builder

	// commandEdges is the total number of non-phony edges in the plan.
	commandEdges int
	// wantedEdges is the total remaining number of wanted edges.
	wantedEdges int
}

// NewPlan creates an empty plan belonging to builder (nil in tests that
// never touch dyndep).
func NewPlan(builder *Builder) Plan {
	return Plan{want: map[*Edge]Want{}, ready: newEdgeSet(), builder: builder}
}

// moreToDo reports whether there's more work to be done.
func (p *Plan) moreToDo() bool {
	return p.wantedEdges > 0 && p.commandEdges > 0
}

// commandEdgeCount returns the number of edges with commands left to run.
func (p *Plan) commandEdgeCount() int {
	return p.commandEdges
}

// Reset clears the want and ready sets.
func (p *Plan) Reset() {
	p.commandEdges = 0
	p.wantedEdges = 0
	p.want = map[*Edge]Want{}
	p.ready = newEdgeSet()
}

// AddTarget adds target (and everything it depends on) to the plan. Returns
// false if target doesn't need to be built; err is filled in on failure.
func (p *Plan) AddTarget(target *Node, err *string) bool {
	return p.AddSubTarget(target, nil, err, nil)
}

func (p *Plan) AddSubTarget(node, dependent *Node, err *string, dyndepWalk map[*Edge]struct{}) bool {
	edge := node.InEdge
	if edge == nil {
		// Leaf node.
		if node.Dirty {
			referenced := ""
			if dependent != nil {
				referenced = ", needed by '" + dependent.Path + "',"
			}
			*err = "'" + node.Path + "'" + referenced + " missing and no known rule to make it"
		}
		return false
	}

	if edge.OutputsReady {
		return false
	}

	want, alreadyTracked := p.want[edge]
	if !alreadyTracked {
		want = kWantNothing
		p.want[edge] = want
	}

	if dyndepWalk != nil && want == kWantToFinish {
		return false
	}

	if node.Dirty && want == kWantNothing {
		want = kWantToStart
		p.want[edge] = want
		p.EdgeWanted(edge)
		if dyndepWalk == nil && edge.AllInputsReady() {
			p.ScheduleWork(edge)
		}
	}

	if dyndepWalk != nil {
		dyndepWalk[edge] = struct{}{}
	}

	if alreadyTracked {
		// We've already processed the inputs.
		return true
	}

	for _, in := range edge.Inputs {
		if !p.AddSubTarget(in, node, err, dyndepWalk) && *err != "" {
			return false
		}
	}

	return true
}

// EdgeWanted records that edge newly became wanted.
func (p *Plan) EdgeWanted(edge *Edge) {
	p.wantedEdges++
	if !edge.IsPhony() {
		p.commandEdges++
	}
}

// FindWork pops a ready edge off the queue, or nil if there's none.
func (p *Plan) FindWork() *Edge {
	if len(p.ready.order) == 0 {
		return nil
	}
	edge := p.ready.order[0]
	delete(p.ready.has, edge)
	p.ready.order = p.ready.order[1:]
	return edge
}

// ScheduleWork submits edge, already marked kWantToStart, as a candidate for
// execution: it may be delayed, for example if its pool is full.
func (p *Plan) ScheduleWork(edge *Edge) {
	want := p.want[edge]
	if want == kWantToFinish {
		// Already scheduled; this can happen if an edge and one of its
		// dependencies share an order-only input, or a node duplicates an
		// out edge. Avoid scheduling the work twice.
		return
	}
	if want != kWantToStart {
		panic("ninja: ScheduleWork on an edge not wanting to start")
	}
	p.want[edge] = kWantToFinish

	pool := edge.Pool
	if pool.ShouldDelayEdge() {
		pool.DelayEdge(edge)
		pool.RetrieveReadyEdges(p.ready)
	} else {
		pool.EdgeScheduled(edge)
		p.ready.insert(edge)
	}
}

// EdgeFinished marks edge as done building. If any of its outputs are a
// dyndep binding of their dependents, this loads dynamic dependencies from
// the nodes' paths. Returns false if loading dyndep info fails.
func (p *Plan) EdgeFinished(edge *Edge, result EdgeResult, err *string) bool {
	want, ok := p.want[edge]
	if !ok {
		panic("ninja: EdgeFinished on an untracked edge")
	}
	directlyWanted := want != kWantNothing

	// See if this job frees up any delayed jobs.
	if directlyWanted {
		edge.Pool.EdgeFinished(edge)
	}
	edge.Pool.RetrieveReadyEdges(p.ready)

	// The rest only applies to successful commands.
	if result != kEdgeSucceeded {
		return true
	}

	if directlyWanted {
		p.wantedEdges--
	}
	delete(p.want, edge)
	edge.OutputsReady = true

	for _, o := range edge.Outputs {
		if !p.NodeFinished(o, err) {
			return false
		}
	}
	return true
}

// NodeFinished updates the plan with the knowledge that node is up to date.
// If node is a dyndep binding on any of its dependents, this loads dynamic
// dependencies from the node's path. Returns false if loading dyndep info
// fails.
func (p *Plan) NodeFinished(node *Node, err *string) bool {
	if node.DyndepPending {
		if p.builder == nil {
			panic("ninja: dyndep requires Plan to have a Builder")
		}
		return p.builder.LoadDyndeps(node, err)
	}

	for _, oe := range node.OutEdges {
		if _, ok := p.want[oe]; !ok {
			continue
		}
		if !p.EdgeMaybeReady(oe, err) {
			return false
		}
	}
	return true
}

// EdgeMaybeReady schedules edge, or marks it finished if it's not actually
// wanted, now that all its inputs might be ready.
func (p *Plan) EdgeMaybeReady(edge *Edge, err *string) bool {
	if edge.AllInputsReady() {
		if p.want[edge] != kWantNothing {
			p.ScheduleWork(edge)
		} else if !p.EdgeFinished(edge, kEdgeSucceeded, err) {
			return false
		}
	}
	return true
}

// CleanNode cleans node during the build, propagating a just-discovered
// clean state to its consuming edges. Returns false on error.
func (p *Plan) CleanNode(scan *DependencyScan, node *Node, err *string) bool {
	node.Dirty = false

	for _, oe := range node.OutEdges {
		want, ok := p.want[oe]
		if !ok || want == kWantNothing {
			continue
		}

		if oe.DepsMissing {
			continue
		}

		end := len(oe.Inputs) - int(oe.OrderOnlyDeps)
		allClean := true
		for _, in := range oe.Inputs[:end] {
			if in.Dirty {
				allClean = false
				break
			}
		}
		if !allClean {
			continue
		}

		var mostRecentInput *Node
		for _, in := range oe.Inputs[:end] {
			if mostRecentInput == nil || in.Mtime > mostRecentInput.Mtime {
				mostRecentInput = in
			}
		}

		outputsDirty, err2 := scan.recomputeOutputsDirty(oe, mostRecentInput)
		if err2 != nil {
			*err = err2.Error()
			return false
		}
		if !outputsDirty {
			for _, o := range oe.Outputs {
				if !p.CleanNode(scan, o, err) {
					return false
				}
			}

			p.want[oe] = kWantNothing
			p.wantedEdges--
			if !oe.IsPhony() {
				p.commandEdges--
			}
		}
	}
	return true
}

// DyndepsLoaded updates the plan to account for graph modifications made by
// information loaded from node's dyndep file.
func (p *Plan) DyndepsLoaded(scan *DependencyScan, node *Node, ddf DyndepFile, err *string) bool {
	if !p.RefreshDyndepDependents(scan, node, err) {
		return false
	}

	var dyndepRoots []*Edge
	for edge := range ddf {
		if edge.OutputsReady {
			continue
		}
		if _, ok := p.want[edge]; !ok {
			continue
		}
		dyndepRoots = append(dyndepRoots, edge)
	}

	dyndepWalk := map[*Edge]struct{}{}
	for _, edge := range dyndepRoots {
		info := ddf[edge]
		for _, in := range info.ImplicitInputs {
			if !p.AddSubTarget(in, edge.Outputs[0], err, dyndepWalk) && *err != "" {
				return false
			}
		}
	}

	for _, oe := range node.OutEdges {
		if _, ok := p.want[oe]; !ok {
			continue
		}
		dyndepWalk[oe] = struct{}{}
	}

	for edge := range dyndepWalk {
		if _, ok := p.want[edge]; !ok {
			continue
		}
		if !p.EdgeMaybeReady(edge, err) {
			return false
		}
	}

	return true
}

func (p *Plan) RefreshDyndepDependents(scan *DependencyScan, node *Node, err *string) bool {
	dependents := map[*Node]struct{}{}
	p.UnmarkDependents(node, dependents)

	for n := range dependents {
		if e := scan.RecomputeDirty(n); e != nil {
			*err = e.Error()
			return false
		}
		if !n.Dirty {
			continue
		}

		edge := n.InEdge
		if edge == nil || edge.OutputsReady {
			panic("ninja: dyndep dependent has no pending producing edge")
		}
		want, ok := p.want[edge]
		if !ok {
			panic("ninja: dyndep dependent's edge untracked")
		}
		if want == kWantNothing {
			p.want[edge] = kWantToStart
			p.EdgeWanted(edge)
		}
	}
	return true
}

// UnmarkDependents walks node's transitive out-edges that the plan already
// knows about, resetting their visit mark and collecting every output into
// dependents.
func (p *Plan) UnmarkDependents(node *Node, dependents map[*Node]struct{}) {
	for _, edge := range node.OutEdges {
		if _, ok := p.want[edge]; !ok {
			continue
		}

		if edge.Mark != VisitNone {
			edge.Mark = VisitNone
			for _, o := range edge.Outputs {
				if _, seen := dependents[o]; !seen {
					dependents[o] = struct{}{}
					p.UnmarkDependents(o, dependents)
				}
			}
		}
	}
}

// Dump prints the current state of the plan, for -d stats/debugging.
func (p *Plan) Dump() {
	fmt.Printf("pending: %d\n", len(p.want))
	for edge, want := range p.want {
		if want != kWantNothing {
			fmt.Print("want ")
		}
		fmt.Println(edge.String())
	}
	fmt.Printf("ready: %d\n", len(p.ready.order))
}

// Result is the outcome of waiting for one command to finish.
type Result struct {
	Edge   *Edge
	Status ExitStatus
	Output string
}

func (r *Result) success() bool {
	return r.Status == ExitSuccess
}

// CommandRunner wraps running the build's subcommands, so tests can swap in
// a fake that never actually execs anything.
type CommandRunner interface {
	CanRunMore() bool
	StartCommand(edge *Edge) bool
	// WaitForCommand blocks for a command to finish, filling in result.
	// Returns false if there are no more commands to wait for.
	WaitForCommand(result *Result) bool
	GetActiveEdges() []*Edge
	Abort()
}

// Verbosity controls how much a Builder prints while building.
type Verbosity int

const (
	QUIET           Verbosity = iota // No output at all; used for testing.
	NO_STATUS_UPDATE                 // Regular output but suppress the status line.
	NORMAL                           // Regular output and status updates.
	VERBOSE
)

// BuildConfig holds the options (verbosity, parallelism, ...) a build runs
// under.
type BuildConfig struct {
	verbosity        Verbosity
	dry_run          bool
	parallelism      int
	failures_allowed int
	// max_load_average is the load average we must not exceed; a
	// non-positive value means no limit.
	max_load_average float64
}

// NewBuildConfig returns a BuildConfig with ninja's defaults.
func NewBuildConfig() BuildConfig {
	return BuildConfig{
		verbosity:        NORMAL,
		parallelism:      1,
		failures_allowed: 1,
		max_load_average: -0.0,
	}
}

// DryRunCommandRunner is a CommandRunner that records commands without ever
// running them, used for -n.
type DryRunCommandRunner struct {
	finished []*Edge
}

func (d *DryRunCommandRunner) CanRunMore() bool { return true }

func (d *DryRunCommandRunner) StartCommand(edge *Edge) bool {
	d.finished = append(d.finished, edge)
	return true
}

func (d *DryRunCommandRunner) WaitForCommand(result *Result) bool {
	if len(d.finished) == 0 {
		return false
	}
	result.Status = ExitSuccess
	result.Edge = d.finished[0]
	d.finished = d.finished[1:]
	return true
}

func (d *DryRunCommandRunner) GetActiveEdges() []*Edge { return nil }
func (d *DryRunCommandRunner) Abort()                  {}

// RealCommandRunner runs edges' commands as real subprocesses, bounded by
// the configured parallelism and load average.
type RealCommandRunner struct {
	config        *BuildConfig
	subprocs      SubprocessSet
	subprocToEdge map[Subprocess]*Edge
}

// NewRealCommandRunner creates a runner that launches subprocesses per
// config's parallelism/load-average limits.
func NewRealCommandRunner(config *BuildConfig) *RealCommandRunner {
	return &RealCommandRunner{
		config:        config,
		subprocs:      NewSubprocessSet(),
		subprocToEdge: map[Subprocess]*Edge{},
	}
}

func (r *RealCommandRunner) GetActiveEdges() []*Edge {
	edges := make([]*Edge, 0, len(r.subprocToEdge))
	for _, e := range r.subprocToEdge {
		edges = append(edges, e)
	}
	return edges
}

func (r *RealCommandRunner) Abort() {
	r.subprocs.Clear()
}

func (r *RealCommandRunner) CanRunMore() bool {
	subprocNumber := r.subprocs.Running() + r.subprocs.Finished()
	if subprocNumber >= r.config.parallelism {
		return false
	}
	if r.subprocs.Running() == 0 || r.config.max_load_average <= 0.0 {
		return true
	}
	return GetLoadAverage() < r.config.max_load_average
}

func (r *RealCommandRunner) StartCommand(edge *Edge) bool {
	command := edge.EvaluateCommand(false)
	subproc := r.subprocs.Add(command, edge.UseConsole())
	if subproc == nil {
		return false
	}
	r.subprocToEdge[subproc] = edge
	return true
}

func (r *RealCommandRunner) WaitForCommand(result *Result) bool {
	var subproc Subprocess
	for {
		subproc = r.subprocs.NextFinished()
		if subproc != nil {
			break
		}
		if r.subprocs.DoWork() {
			return false
		}
	}

	result.Status = subproc.Finish()
	result.Output = subproc.GetOutput()

	result.Edge = r.subprocToEdge[subproc]
	delete(r.subprocToEdge, subproc)
	return true
}

// RunningEdgeMap records the millisecond timestamp each currently-running
// edge started at, relative to the build's start.
type RunningEdgeMap map[*Edge]int64

// Builder wraps the whole build process: scanning, starting commands, and
// updating the build/deps logs and status as they finish.
type Builder struct {
	state         *State
	config        *BuildConfig
	plan          Plan
	commandRunner CommandRunner
	status        Status

	runningEdges    RunningEdgeMap
	startTimeMillis int64

	diskInterface DiskInterface
	scan          *DependencyScan
}

// NewBuilder creates a Builder driving state through config, recording to
// buildLog/depsLog, reporting to status.
func NewBuilder(state *State, config *BuildConfig, buildLog *BuildLog, depsLog *DepsLog, di DiskInterface, status Status, startTimeMillis int64) *Builder {
	b := &Builder{
		state:           state,
		config:          config,
		status:          status,
		startTimeMillis: startTimeMillis,
		diskInterface:   di,
		runningEdges:    RunningEdgeMap{},
		scan:            NewDependencyScan(state, buildLog, depsLog, di),
	}
	b.plan = NewPlan(b)
	return b
}

// SetBuildLog swaps in a different build log (tests only).
func (b *Builder) SetBuildLog(log *BuildLog) {
	b.scan.SetBuildLog(log)
}

// Cleanup deletes output files left behind by commands that were still
// running when the build was interrupted.
func (b *Builder) Cleanup() {
	if b.commandRunner == nil {
		return
	}
	activeEdges := b.commandRunner.GetActiveEdges()
	b.commandRunner.Abort()

	for _, e := range activeEdges {
		depfile := e.GetUnescapedDepfile()
		for _, o := range e.Outputs {
			// Only delete an output if it was actually modified. This matters
			// for things like a generator rule, where we don't want to delete
			// the manifest if we can avoid it; but a rule using a depfile is
			// always deleted, since the command may have touched the depfile
			// but been interrupted before touching the output.
			newMtime, err := b.diskInterface.Stat(o.Path)
			if err != nil {
				b.status.Error("%s", err)
			}
			if depfile != "" || o.Mtime != newMtime {
				b.diskInterface.RemoveFile(o.Path)
			}
		}
		if depfile != "" {
			b.diskInterface.RemoveFile(depfile)
		}
	}
}

// AddTargetName adds target by name to the build, scanning its
// dependencies. Returns nil on error, with err filled in.
func (b *Builder) AddTargetName(name string, err *string) *Node {
	node := b.state.LookupNode(name)
	if node == nil {
		*err = "unknown target: '" + name + "'"
		return nil
	}
	if !b.AddTarget(node, err) {
		return nil
	}
	return node
}

// AddTarget adds target to the build, scanning its dependencies. Returns
// false on error.
func (b *Builder) AddTarget(target *Node, err *string) bool {
	if e := b.scan.RecomputeDirty(target); e != nil {
		*err = e.Error()
		return false
	}

	if inEdge := target.InEdge; inEdge != nil {
		if inEdge.OutputsReady {
			return true // Nothing to do.
		}
	}

	return b.plan.AddTarget(target, err)
}

// AlreadyUpToDate reports whether the build targets are already up to date.
func (b *Builder) AlreadyUpToDate() bool {
	return !b.plan.moreToDo()
}

// Build runs the build. It is an error to call this when AlreadyUpToDate is
// true. Returns false on error, with err filled in.
func (b *Builder) Build(err *string) bool {
	if b.AlreadyUpToDate() {
		panic("ninja: Build called with nothing to do")
	}

	b.status.PlanHasTotalEdges(b.plan.commandEdgeCount())
	pendingCommands := 0
	failuresAllowed := b.config.failures_allowed

	if b.commandRunner == nil {
		if b.config.dry_run {
			b.commandRunner = &DryRunCommandRunner{}
		} else {
			b.commandRunner = NewRealCommandRunner(b.config)
		}
	}

	b.status.BuildStarted()

	// This main loop runs the entire build process: first, start as many
	// commands as the command runner will allow; then wait for and reap the
	// next finished command.
	for b.plan.moreToDo() {
		if failuresAllowed > 0 && b.commandRunner.CanRunMore() {
			if edge := b.plan.FindWork(); edge != nil {
				if edge.GetBindingBool("generator") {
					if log := b.scan.BuildLog(); log != nil {
						log.Close()
					}
				}

				if !b.StartEdge(edge, err) {
					b.Cleanup()
					b.status.BuildFinished()
					return false
				}

				if edge.IsPhony() {
					if !b.plan.EdgeFinished(edge, kEdgeSucceeded, err) {
						b.Cleanup()
						b.status.BuildFinished()
						return false
					}
				} else {
					pendingCommands++
				}

				continue
			}
		}

		if pendingCommands > 0 {
			var result Result
			if !b.commandRunner.WaitForCommand(&result) || result.Status == ExitInterrupted {
				b.Cleanup()
				b.status.BuildFinished()
				*err = "interrupted by user"
				return false
			}

			pendingCommands--
			if !b.FinishCommand(&result, err) {
				b.Cleanup()
				b.status.BuildFinished()
				return false
			}

			if !result.success() && failuresAllowed > 0 {
				failuresAllowed--
			}

			continue
		}

		// We cannot make any more progress.
		b.status.BuildFinished()
		switch {
		case failuresAllowed == 0:
			if b.config.failures_allowed > 1 {
				*err = "subcommands failed"
			} else {
				*err = "subcommand failed"
			}
		case failuresAllowed < b.config.failures_allowed:
			*err = "cannot make progress due to previous errors"
		default:
			*err = "stuck [this is a bug]"
		}
		return false
	}

	b.status.BuildFinished()
	return true
}

// StartEdge starts running edge's command (creating output directories and
// any rspfile first). Returns false on error.
func (b *Builder) StartEdge(edge *Edge, err *string) bool {
	defer metricRecord("StartEdge")()
	if edge.IsPhony() {
		return true
	}

	startTimeMillis := GetTimeMillis() - b.startTimeMillis
	b.runningEdges[edge] = startTimeMillis

	b.status.BuildEdgeStarted(edge, startTimeMillis)

	// Create directories necessary for outputs.
	for _, o := range edge.Outputs {
		if !MakeDirs(b.diskInterface, o.Path) {
			return false
		}
	}

	// Create response file, if needed.
	if rspfile := edge.GetUnescapedRspfile(); rspfile != "" {
		content := edge.GetBinding("rspfile_content")
		if !b.diskInterface.WriteFile(rspfile, content) {
			return false
		}
	}

	if !b.commandRunner.StartCommand(edge) {
		*err = "command '" + edge.EvaluateCommand(false) + "' failed."
		return false
	}

	return true
}

// FinishCommand updates status and the build/deps logs following one
// command's termination. Returns false if the build can't proceed further
// due to a fatal error.
func (b *Builder) FinishCommand(result *Result, err *string) bool {
	defer metricRecord("FinishCommand")()

	edge := result.Edge

	// Try to extract dependencies from the result first: this filters the
	// command's output (even on failure) and can itself fail the command.
	var depsNodes []*Node
	depsType := edge.GetBinding("deps")
	if depsType != "" {
		var extractErr string
		if !b.ExtractDeps(result, depsType, &depsNodes, &extractErr) && result.success() {
			if result.Output != "" {
				result.Output += "\n"
			}
			result.Output += extractErr
			result.Status = ExitFailure
		}
	}

	startTimeMillis := b.runningEdges[edge]
	endTimeMillis := GetTimeMillis() - b.startTimeMillis
	delete(b.runningEdges, edge)

	b.status.BuildEdgeFinished(edge, endTimeMillis, result.success(), result.Output)

	// The rest only applies to successful commands.
	if !result.success() {
		return b.plan.EdgeFinished(edge, kEdgeFailed, err)
	}

	// Restat the edge outputs.
	var outputMtime TimeStamp
	restat := edge.GetBindingBool("restat")
	if !b.config.dry_run {
		nodeCleaned := false

		for _, o := range edge.Outputs {
			newMtime, statErr := b.diskInterface.Stat(o.Path)
			if statErr != nil {
				*err = statErr.Error()
				return false
			}
			if newMtime > outputMtime {
				outputMtime = newMtime
			}
			if o.Mtime == newMtime && restat {
				// The rule did not change the output; propagate the clean state
				// through the graph. This also applies to nonexistent outputs
				// (mtime == 0).
				if !b.plan.CleanNode(b.scan, o, err) {
					return false
				}
				nodeCleaned = true
			}
		}

		if nodeCleaned {
			var restatMtime TimeStamp
			end := len(edge.Inputs) - int(edge.OrderOnlyDeps)
			for _, in := range edge.Inputs[:end] {
				inputMtime, statErr := b.diskInterface.Stat(in.Path)
				if statErr != nil {
					*err = statErr.Error()
					return false
				}
				if inputMtime > restatMtime {
					restatMtime = inputMtime
				}
			}

			depfile := edge.GetUnescapedDepfile()
			if restatMtime != 0 && depsType == "" && depfile != "" {
				depfileMtime, statErr := b.diskInterface.Stat(depfile)
				if statErr != nil {
					*err = statErr.Error()
					return false
				}
				if depfileMtime > restatMtime {
					restatMtime = depfileMtime
				}
			}

			// The total number of edges in the plan may have changed.
			b.status.PlanHasTotalEdges(b.plan.commandEdgeCount())

			outputMtime = restatMtime
		}
	}

	if !b.plan.EdgeFinished(edge, kEdgeSucceeded, err) {
		return false
	}

	// Delete any leftover response file.
	if rspfile := edge.GetUnescapedRspfile(); rspfile != "" && !g_keep_rsp {
		b.diskInterface.RemoveFile(rspfile)
	}

	if log := b.scan.BuildLog(); log != nil {
		if e := log.RecordCommand(edge, int32(startTimeMillis), int32(endTimeMillis), outputMtime); e != nil {
			*err = "writing to build log: " + e.Error()
			return false
		}
	}

	if depsType != "" && !b.config.dry_run {
		if len(edge.Outputs) == 0 {
			panic("ninja: deps edge with no outputs should have been rejected by the parser")
		}
		for _, o := range edge.Outputs {
			depsMtime, statErr := b.diskInterface.Stat(o.Path)
			if statErr != nil {
				*err = statErr.Error()
				return false
			}
			if _, e := b.scan.DepsLog().RecordDeps(o, depsMtime, depsNodes); e != nil {
				*err = "writing to deps log: " + e.Error()
				return false
			}
		}
	}
	return true
}

// ExtractDeps reads the implicit dependencies a just-finished command
// declared, populating depsNodes. deps = gcc reads them from a depfile;
// deps = msvc scrapes them out of the command's captured stdout (cl.exe's
// /showIncludes, or an equivalent line prefix set via msvc_deps_prefix),
// rewriting result.Output to drop the scraped lines.
func (b *Builder) ExtractDeps(result *Result, depsType string, depsNodes *[]*Node, err *string) bool {
	if depsType == "msvc" {
		depsPrefix := result.Edge.GetBinding("msvc_deps_prefix")
		filtered, includes := parseMSVCShowIncludes(result.Output, depsPrefix)
		result.Output = filtered
		for _, in := range includes {
			canon, slashBits := CanonicalizePathBits(in)
			*depsNodes = append(*depsNodes, b.state.GetNode(canon, slashBits))
		}
		return true
	}

	if depsType != "gcc" {
		Fatal("unknown deps type '%s'", depsType)
		return false
	}

	depfile := result.Edge.GetUnescapedDepfile()
	if depfile == "" {
		*err = "edge with deps=gcc but no depfile makes no sense"
		return false
	}

	content, readErr := b.diskInterface.ReadFile(depfile)
	if readErr != nil {
		if !os.IsNotExist(readErr) {
			*err = readErr.Error()
			return false
		}
		content = nil
	}
	if len(content) == 0 {
		return true
	}

	var deps DepfileParser
	if e := deps.Parse(content); e != nil {
		*err = e.Error()
		return false
	}

	// XXX check depfile matches expected output.
	for _, in := range deps.ins {
		canon, slashBits := CanonicalizePathBits(in)
		*depsNodes = append(*depsNodes, b.state.GetNode(canon, slashBits))
	}

	if !g_keep_depfile {
		if b.diskInterface.RemoveFile(depfile) < 0 {
			*err = "deleting depfile: " + depfile
			return false
		}
	}

	return true
}

// LoadDyndeps loads the dyndep information node provides and applies it to
// the plan.
func (b *Builder) LoadDyndeps(node *Node, err *string) bool {
	b.status.BuildLoadDyndeps()

	ddf := DyndepFile{}
	if loadErr := b.scan.LoadDyndepsInto(node, ddf); loadErr != nil {
		*err = loadErr.Error()
		return false
	}

	if !b.plan.DyndepsLoaded(b.scan, node, ddf, err) {
		return false
	}

	// New command edges may have been added to the plan.
	b.status.PlanHasTotalEdges(b.plan.commandEdgeCount())

	return true
}
