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
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"runtime/pprof"
	"runtime/trace"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// options holds the parsed command-line flags.
type options struct {
	// inputFile is the build file to load.
	inputFile string

	// workingDir is the directory to change into before running, if any.
	workingDir string

	// tool names a "-t" subtool to run instead of building, or "" for a
	// normal build.
	tool string

	dupeEdgesShouldErr   bool
	phonyCycleShouldErr  bool

	cpuprofile string
	memprofile string
	trace      string
}

// ninjaMain holds every piece of state a build or a "-t" subtool needs to
// poke at: the loaded graph, the two on-disk logs, and the disk interface.
type ninjaMain struct {
	ninjaCommand string
	config       *BuildConfig

	state         State
	diskInterface RealDiskInterface

	buildDir string

	buildLog *BuildLog
	depsLog  DepsLog

	startTimeMillis int64
}

func newNinjaMain(ninjaCommand string, config *BuildConfig) ninjaMain {
	return ninjaMain{
		ninjaCommand:    ninjaCommand,
		config:          config,
		state:           NewState(),
		buildLog:        NewBuildLog(),
		startTimeMillis: GetTimeMillis(),
	}
}

func (n *ninjaMain) Close() error {
	err1 := n.depsLog.Close()
	err2 := n.buildLog.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// IsPathDead implements BuildLogUser: a path is dead (safe to drop from the
// build log on recompaction) if it's not an output of the current manifest
// and doesn't exist on disk.
func (n *ninjaMain) IsPathDead(s string) bool {
	nd := n.state.LookupNode(s)
	if nd != nil && nd.InEdge != nil {
		return false
	}
	mtime, err := n.diskInterface.Stat(s)
	if err != nil {
		Error("%s", err)
	}
	return mtime == 0
}

// usage prints command-line help.
func usage() {
	fmt.Fprintf(os.Stderr, "usage: nin [options] [targets...]\n\n")
	fmt.Fprintf(os.Stderr, "if targets are unspecified, builds the 'default' target (see manual).\n\n")
	flag.PrintDefaults()
}

// guessParallelism chooses a default value for -j.
func guessParallelism() int {
	switch processors := runtime.NumCPU(); processors {
	case 0, 1:
		return 2
	case 2:
		return 3
	default:
		return processors + 2
	}
}

// RebuildManifest rebuilds the build manifest, if it's out of date, and
// reports whether it did.
func (n *ninjaMain) RebuildManifest(inputFile string, errOut *string, status Status) bool {
	if inputFile == "" {
		*errOut = "empty path"
		return false
	}
	node := n.state.LookupNode(CanonicalizePath(inputFile))
	if node == nil {
		return false
	}

	builder := NewBuilder(&n.state, n.config, n.buildLog, &n.depsLog, &n.diskInterface, status, n.startTimeMillis)
	if !builder.AddTarget(node, errOut) {
		return false
	}

	if builder.AlreadyUpToDate() {
		return false
	}

	if !builder.Build(errOut) {
		return false
	}

	if !node.Dirty {
		// Reset the state to prevent problems like
		// https://github.com/ninja-build/ninja/issues/874
		n.state.Reset()
		return false
	}
	return true
}

// CollectTarget resolves a command-line path to a Node, handling the
// "foo.cc^" first-dependent syntax and spelling suggestions.
func (n *ninjaMain) CollectTarget(cpath string, errOut *string) *Node {
	if cpath == "" {
		*errOut = "empty path"
		return nil
	}
	path, slashBits := CanonicalizePathBits(cpath)

	firstDependent := false
	if path != "" && path[len(path)-1] == '^' {
		path = path[:len(path)-1]
		firstDependent = true
	}

	node := n.state.LookupNode(path)
	if node != nil {
		if firstDependent {
			if len(node.OutEdges) == 0 {
				revDeps := n.depsLog.GetFirstReverseDepsNode(node)
				if revDeps == nil {
					*errOut = "'" + path + "' has no out edge"
					return nil
				}
				node = revDeps
			} else {
				edge := node.OutEdges[0]
				if len(edge.Outputs) == 0 {
					Fatal("edge has no outputs")
				}
				node = edge.Outputs[0]
			}
		}
		return node
	}

	*errOut = "unknown target '" + PathDecanonicalized(path, slashBits) + "'"
	if path == "clean" {
		*errOut += ", did you mean 'nin -t clean'?"
	} else if path == "help" {
		*errOut += ", did you mean 'nin -h'?"
	} else if suggestion := n.state.SpellcheckNode(path); suggestion != nil {
		*errOut += ", did you mean '" + suggestion.Path + "'?"
	}
	return nil
}

// CollectTargetsFromArgs resolves every command-line argument to a Node, or
// the manifest's default targets if none were given.
func (n *ninjaMain) CollectTargetsFromArgs(args []string, targets *[]*Node, errOut *string) bool {
	if len(args) == 0 {
		nodes, err := n.state.DefaultNodes()
		if err != nil {
			*errOut = err.Error()
			return false
		}
		*targets = nodes
		return true
	}

	for _, arg := range args {
		node := n.CollectTarget(arg, errOut)
		if node == nil {
			return false
		}
		*targets = append(*targets, node)
	}
	return true
}

// toolRules implements "-t rules": list every rule name known to the
// manifest, optionally with its description.
func toolRules(n *ninjaMain, args []string) int {
	printDescription := false
	for i := 0; i < len(args); i++ {
		if args[i] == "-d" {
			printDescription = true
			copy(args[i:], args[i+1:])
			args = args[:len(args)-1]
			break
		}
	}

	rules := n.state.Bindings.Rules
	names := make([]string, 0, len(rules))
	for name := range rules {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		fmt.Printf("%s", name)
		if printDescription {
			if d, ok := rules[name].Bindings["description"]; ok {
				fmt.Printf(": %s", d.Unparse())
			}
		}
		fmt.Printf("\n")
	}
	return 0
}

type printCommandMode bool

const (
	pcmSingle printCommandMode = false
	pcmAll    printCommandMode = true
)

func printCommands(edge *Edge, seen map[*Edge]struct{}, mode printCommandMode) {
	if edge == nil {
		return
	}
	if _, ok := seen[edge]; ok {
		return
	}
	seen[edge] = struct{}{}

	if mode == pcmAll {
		for _, in := range edge.Inputs {
			printCommands(in.InEdge, seen, mode)
		}
	}

	if edge.Rule != PhonyRule {
		fmt.Printf("%s\n", edge.EvaluateCommand(false))
	}
}

// toolCommands implements "-t commands": print the full chain of commands
// (or, with -s, just the last one) needed to build the given targets.
func toolCommands(n *ninjaMain, args []string) int {
	mode := pcmAll
	for i := 0; i < len(args); i++ {
		if args[i] == "-s" {
			mode = pcmSingle
			copy(args[i:], args[i+1:])
			args = args[:len(args)-1]
			break
		}
	}

	var nodes []*Node
	errOut := ""
	if !n.CollectTargetsFromArgs(args, &nodes, &errOut) {
		Error("%s", errOut)
		return 1
	}

	seen := map[*Edge]struct{}{}
	for _, node := range nodes {
		printCommands(node.InEdge, seen, mode)
	}
	return 0
}

// toolDeps implements "-t deps": dump the deps log entries for the given
// targets, or all live entries if none are given.
func toolDeps(n *ninjaMain, args []string) int {
	var nodes []*Node
	if len(args) == 0 {
		for _, node := range n.state.Paths {
			if node != nil && n.depsLog.GetDeps(node) != nil {
				nodes = append(nodes, node)
			}
		}
	} else {
		errOut := ""
		if !n.CollectTargetsFromArgs(args, &nodes, &errOut) {
			Error("%s", errOut)
			return 1
		}
	}

	for _, node := range nodes {
		deps := n.depsLog.GetDeps(node)
		if deps == nil {
			fmt.Printf("%s: deps not found\n", node.Path)
			continue
		}

		mtime, err := n.diskInterface.Stat(node.Path)
		if err != nil {
			Error("%s", err)
		}
		state := "VALID"
		if mtime == 0 || mtime > deps.Mtime {
			state = "STALE"
		}
		fmt.Printf("%s: #deps %d, deps mtime %d (%s)\n", node.Path, len(deps.Nodes), deps.Mtime, state)
		for _, d := range deps.Nodes {
			fmt.Printf("    %s\n", d.Path)
		}
		fmt.Printf("\n")
	}
	return 0
}

// toolRecompact implements "-t recompact": force both logs through their
// recompaction pass without doing a build.
func toolRecompact(n *ninjaMain, args []string) int {
	if !n.EnsureBuildDirExists() {
		return 1
	}
	if !n.OpenBuildLog(true) || !n.OpenDepsLog(true) {
		return 1
	}
	return 0
}

// toolRestat implements "-t restat": refresh the build log's recorded
// mtimes for the given outputs (or all of them) without rerunning commands.
func (n *ninjaMain) toolRestat(args []string) int {
	if !n.EnsureBuildDirExists() {
		return 1
	}

	logPath := ".ninja_log"
	if n.buildDir != "" {
		logPath = filepath.Join(n.buildDir, logPath)
	}

	status, err := n.buildLog.Load(logPath)
	if status == LoadError {
		Error("loading build log %s: %s", logPath, err)
		return 1
	}
	if status == LoadNotFound {
		return 0
	}
	if err != nil {
		Warning("%s", err)
	}

	if err := n.buildLog.Restat(logPath, &n.diskInterface, args...); err != nil {
		Error("failed recompaction: %s", err)
		return 1
	}

	if !n.config.dry_run {
		if err := n.buildLog.OpenForWrite(logPath, n); err != nil {
			Error("opening build log: %s", err)
			return 1
		}
	}
	return 0
}

// toolBrowse implements "-t browse": it runs python3 with browsePy as the
// script on stdin, passing ninjaCommand, inputFile and args as arguments.
// browsePy is empty, so python3 exits at once and no server is started.
func toolBrowse(n *ninjaMain, ninjaCommand, inputFile string, args []string) int {
	cmd := exec.Command("python3", "-", "--ninja-command", ninjaCommand, "-f", inputFile)
	cmd.Args = append(cmd.Args, args...)
	cmd.Stderr = os.Stderr
	cmd.Stdout = os.Stdout
	cmd.Stdin = strings.NewReader(browsePy)
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode()
		}
		Error("running browse server: %s", err)
		return 1
	}
	return 0
}

// browsePy is the script toolBrowse feeds to python3. It is empty: nin
// carries no browser UI server script, so -t browse does nothing useful.
const browsePy = ""

// unsupportedTool implements every "-t" subtool the CLI surface knowingly
// leaves out: graph dumps, query, targets listing, the JSON compilation
// database, clean, cleandead and the Windows-only wincodepage/msvc
// helpers. These need a real Cleaner/GraphViz/MissingDependencyScanner,
// none of which this build has a use for outside of the CLI itself.
func unsupportedTool(name string) int {
	Error("tool '%s' is not supported by this build of nin", name)
	return 1
}

// runTool dispatches "-t name args..." to its implementation, or reports
// it as unsupported.
func runTool(n *ninjaMain, name, inputFile string, args []string) int {
	switch name {
	case "rules":
		return toolRules(n, args)
	case "commands":
		return toolCommands(n, args)
	case "deps":
		return toolDeps(n, args)
	case "recompact":
		return toolRecompact(n, args)
	case "restat":
		return n.toolRestat(args)
	case "browse":
		return toolBrowse(n, n.ninjaCommand, inputFile, args)
	case "list":
		fmt.Printf("nin subtools:\n")
		fmt.Printf("%11s  %s\n", "rules", "list all rules")
		fmt.Printf("%11s  %s\n", "commands", "list all commands required to rebuild given targets")
		fmt.Printf("%11s  %s\n", "deps", "show dependencies stored in the deps log")
		fmt.Printf("%11s  %s\n", "recompact", "recompacts nin-internal data structures")
		fmt.Printf("%11s  %s\n", "restat", "restats all outputs in the build log")
		return 0
	default:
		return unsupportedTool(name)
	}
}

// debugEnable turns on a "-d" debugging mode. Returns false if nin should
// exit instead of continuing (e.g. "-d list").
func debugEnable(name string) bool {
	switch name {
	case "list":
		fmt.Printf("debugging modes:\n  stats        print operation counts/timing info\n  explain      explain what caused a command to execute\n  keepdepfile  don't delete depfiles after they're read by nin\n  keeprsp      don't delete @response files on success\nmultiple modes can be enabled via -d FOO -d BAR\n")
		return false
	case "stats":
		EnableMetrics()
		return true
	case "explain":
		g_explaining = true
		// EXPLAIN logs at debug level; lower the threshold so it is shown.
		logrus.SetLevel(logrus.DebugLevel)
		return true
	case "keepdepfile":
		g_keep_depfile = true
		return true
	case "keeprsp":
		g_keep_rsp = true
		return true
	default:
		Error("unknown debug setting '%s'", name)
		return false
	}
}

// warningEnable sets a "-w" warning flag. Returns false if nin should exit
// instead of continuing (e.g. "-w list").
func warningEnable(name string, opts *options) bool {
	switch name {
	case "list":
		fmt.Printf("warning flags:\n  phonycycle={err,warn}  phony build statement references itself\n")
		return false
	case "dupbuild=err":
		opts.dupeEdgesShouldErr = true
		return true
	case "dupbuild=warn":
		opts.dupeEdgesShouldErr = false
		return true
	case "phonycycle=err":
		opts.phonyCycleShouldErr = true
		return true
	case "phonycycle=warn":
		opts.phonyCycleShouldErr = false
		return true
	default:
		Error("unknown warning flag '%s'", name)
		return false
	}
}

// OpenBuildLog loads the build log, then (unless recompactOnly or dry_run)
// opens it for appending.
func (n *ninjaMain) OpenBuildLog(recompactOnly bool) bool {
	logPath := ".ninja_log"
	if n.buildDir != "" {
		logPath = filepath.Join(n.buildDir, logPath)
	}

	status, err := n.buildLog.Load(logPath)
	if status == LoadError {
		Error("loading build log %s: %s", logPath, err)
		return false
	}
	if err != nil {
		Warning("%s", err)
	}

	if recompactOnly {
		if status == LoadNotFound {
			return true
		}
		if err := n.buildLog.Recompact(logPath, n); err != nil {
			Error("failed recompaction: %s", err)
			return false
		}
		return true
	}

	if !n.config.dry_run {
		if err := n.buildLog.OpenForWrite(logPath, n); err != nil {
			Error("opening build log: %s", err)
			return false
		}
	}
	return true
}

// OpenDepsLog loads the deps log, then (unless recompactOnly or dry_run)
// opens it for appending.
func (n *ninjaMain) OpenDepsLog(recompactOnly bool) bool {
	path := ".ninja_deps"
	if n.buildDir != "" {
		path = filepath.Join(n.buildDir, path)
	}

	status, err := n.depsLog.Load(path, &n.state)
	if status == LoadError {
		Error("loading deps log %s: %s", path, err)
		return false
	}
	if err != nil {
		Warning("%s", err)
	}

	if recompactOnly {
		if status == LoadNotFound {
			return true
		}
		if err := n.depsLog.Recompact(path); err != nil {
			Error("failed recompaction: %s", err)
			return false
		}
		return true
	}

	if !n.config.dry_run {
		if err := n.depsLog.OpenForWrite(path); err != nil {
			Error("opening deps log: %s", err)
			return false
		}
	}
	return true
}

// DumpMetrics prints the output requested by "-d stats".
func (n *ninjaMain) DumpMetrics() {
	gMetrics.Report()
}

// EnsureBuildDirExists creates the build directory named by the manifest's
// "builddir" binding, if any.
func (n *ninjaMain) EnsureBuildDirExists() bool {
	n.buildDir = n.state.Bindings.LookupVariable("builddir")
	if n.buildDir != "" && !n.config.dry_run {
		if !MakeDirs(&n.diskInterface, filepath.Join(n.buildDir, ".")) {
			Error("creating build directory %s", n.buildDir)
			return false
		}
	}
	return true
}

// RunBuild builds the targets named on the command line (or the manifest's
// defaults) and returns a process exit code.
func (n *ninjaMain) RunBuild(args []string, status Status) int {
	errOut := ""
	var targets []*Node
	if !n.CollectTargetsFromArgs(args, &targets, &errOut) {
		status.Error("%s", errOut)
		return 1
	}

	builder := NewBuilder(&n.state, n.config, n.buildLog, &n.depsLog, &n.diskInterface, status, n.startTimeMillis)
	for _, target := range targets {
		if !builder.AddTarget(target, &errOut) {
			if errOut != "" {
				status.Error("%s", errOut)
				return 1
			}
			// Added a target that is already up-to-date; not an error.
		}
	}

	if builder.AlreadyUpToDate() {
		status.Info("no work to do.")
		return 0
	}

	if !builder.Build(&errOut) {
		status.Info("build stopped: %s.", errOut)
		if strings.Contains(errOut, "interrupted by user") {
			return 2
		}
		return 1
	}
	return 0
}

// readFlags parses argv into opts/config. Returns an exit code, or -1 if
// nin should continue running.
func readFlags(opts *options, config *BuildConfig) int {
	flag.StringVar(&opts.inputFile, "f", "build.ninja", "specify input build file")
	flag.StringVar(&opts.workingDir, "C", "", "change to DIR before doing anything else")
	opts.dupeEdgesShouldErr = true
	flag.StringVar(&opts.cpuprofile, "cpuprofile", "", "activate the CPU sampling profiler")
	flag.StringVar(&opts.memprofile, "memprofile", "", "snapshot a heap dump at the end")
	flag.StringVar(&opts.trace, "trace", "", "capture a runtime trace")

	flag.IntVar(&config.parallelism, "j", guessParallelism(), "run N jobs in parallel (0 means infinity)")
	flag.IntVar(&config.failures_allowed, "k", 1, "keep going until N jobs fail (0 means infinity)")
	flag.Float64Var(&config.max_load_average, "l", 0, "do not start new jobs if the load average is greater than N")
	flag.BoolVar(&config.dry_run, "n", false, "dry run (don't run commands but act like they succeeded)")

	t := flag.String("t", "", "run a subtool (use '-t list' to list subtools)")
	dbgEnable := flag.String("d", "", "enable debugging (use '-d list' to list modes)")
	verbose := flag.Bool("v", false, "show all command lines while building")
	flag.BoolVar(verbose, "verbose", false, "show all command lines while building")
	quiet := flag.Bool("quiet", false, "don't show progress status, just command output")
	warning := flag.String("w", "", "adjust warnings (use '-w list' to list warnings)")
	version := flag.Bool("version", false, fmt.Sprintf("print nin version (%q)", NinjaVersion))

	flag.Usage = usage
	flag.Parse()

	if *verbose && *quiet {
		fmt.Fprintf(os.Stderr, "can't use both -v and --quiet\n")
		return 2
	}
	if *verbose {
		config.verbosity = VERBOSE
	}
	if *quiet {
		config.verbosity = NO_STATUS_UPDATE
	}
	if *warning != "" {
		if !warningEnable(*warning, opts) {
			return 1
		}
	}
	if *dbgEnable != "" {
		if !debugEnable(*dbgEnable) {
			return 1
		}
	}
	if *version {
		fmt.Printf("%s\n", NinjaVersion)
		return 0
	}
	if *t != "" {
		opts.tool = *t
	}

	i := 0
	if opts.cpuprofile != "" {
		i++
	}
	if opts.memprofile != "" {
		i++
	}
	if opts.trace != "" {
		i++
	}
	if i > 1 {
		fmt.Fprintf(os.Stderr, "can only use one of -cpuprofile, -memprofile or -trace at a time.\n")
		return 2
	}

	return -1
}

// Main is the entry point shared by cmd/nin; it returns a process exit
// code rather than calling os.Exit itself, so callers can run cleanup
// (flushing profiles, etc.) first.
func Main() int {
	config := NewBuildConfig()
	opts := options{}

	ninjaCommand := os.Args[0]
	exitCode := readFlags(&opts, &config)
	if exitCode >= 0 {
		return exitCode
	}

	// Disable GC; nin is a short-lived batch process, and a full collection
	// mid-build only adds latency no one benefits from.
	debug.SetGCPercent(-1)

	if opts.cpuprofile != "" {
		f, err := os.Create(opts.cpuprofile)
		if err != nil {
			log.Fatal("could not create CPU profile: ", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal("could not start CPU profile: ", err)
		}
		defer pprof.StopCPUProfile()
	}

	if opts.memprofile != "" {
		runtime.MemProfileRate = 1
		defer func() {
			f, err := os.Create(opts.memprofile)
			if err != nil {
				log.Fatal("could not create memory profile: ", err)
			}
			defer f.Close()
			if err := pprof.Lookup("heap").WriteTo(f, 0); err != nil {
				log.Fatal("could not write memory profile: ", err)
			}
		}()
	} else {
		runtime.MemProfileRate = 0
	}
	if opts.trace != "" {
		f, err := os.Create(opts.trace)
		if err != nil {
			log.Fatal("could not create trace: ", err)
		}
		defer f.Close()
		if err := trace.Start(f); err != nil {
			log.Fatal("could not start trace: ", err)
		}
		defer trace.Stop()
	}

	args := flag.Args()

	statusPrinter := NewStatusPrinter(&config)
	status := &statusPrinter
	if opts.workingDir != "" {
		// The funny quotes let Emacs recognize that the cwd changed for
		// subsequent commands. Don't print this for a tool, so tool output
		// can be piped to a file without this string showing up.
		if opts.tool == "" && config.verbosity != NO_STATUS_UPDATE {
			status.Info("Entering directory `%s'", opts.workingDir)
		}
		if err := os.Chdir(opts.workingDir); err != nil {
			Fatal("chdir to '%s' - %s", opts.workingDir, err)
		}
	}

	// Limit the number of manifest-rebuild cycles, to prevent infinite loops.
	const cycleLimit = 100
	for cycle := 1; cycle <= cycleLimit; cycle++ {
		ninja := newNinjaMain(ninjaCommand, &config)

		parserOpts := ParseManifestOpts{}
		if opts.dupeEdgesShouldErr {
			parserOpts.ErrOnDupeEdge = true
		}
		if opts.phonyCycleShouldErr {
			parserOpts.ErrOnPhonyCycle = true
		}
		parser := NewManifestParser(&ninja.state, &ninja.diskInterface, parserOpts)
		errOut := ""
		if !parser.Load(opts.inputFile, &errOut, nil) {
			status.Error("%s", errOut)
			return 1
		}

		if opts.tool != "" {
			return runTool(&ninja, opts.tool, opts.inputFile, args)
		}

		if !ninja.EnsureBuildDirExists() {
			return 1
		}

		if !ninja.OpenBuildLog(false) || !ninja.OpenDepsLog(false) {
			return 1
		}

		// Attempt to rebuild the manifest before building anything else.
		if ninja.RebuildManifest(opts.inputFile, &errOut, status) {
			if config.dry_run {
				// Regeneration in dry-run mode never actually changes the
				// manifest, so looping would spin forever; stop here instead.
				return 0
			}
			continue
		} else if errOut != "" {
			status.Error("rebuilding '%s': %s", opts.inputFile, errOut)
			return 1
		}

		result := ninja.RunBuild(args, status)
		if gMetrics != nil {
			ninja.DumpMetrics()
		}
		return result
	}

	status.Error("manifest '%s' still dirty after %d tries", opts.inputFile, cycleLimit)
	return 1
}
