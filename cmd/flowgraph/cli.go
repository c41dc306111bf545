package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flowgraph/pregelflow/internal/app/dto"
	"github.com/flowgraph/pregelflow/internal/config"
	"github.com/flowgraph/pregelflow/internal/core/checkpoint"
	"github.com/flowgraph/pregelflow/pkg/flowgraph"
	"github.com/flowgraph/pregelflow/pkg/loader"
	"github.com/flowgraph/pregelflow/pkg/validation"
)

// Exit codes.
const (
	exitOK          = 0
	exitFailure     = 1
	exitUsage       = 2
	exitInterrupted = 3
)

// usageError is reported with exit code 2.
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

const usage = `pregelflow - run graph definitions as Pregel supersteps

Usage:
  flowgraph <command> [options] [FILE...]

Commands:
  version    print build information
  validate   check definition files
  inspect    describe a definition
  run        run or resume a thread of a definition
  history    list the checkpoints of a thread
`

type command struct {
	name string
	run  func(ctx context.Context, args []string, stdout io.Writer) error
}

func commands() []command {
	return []command{
		{"version", cmdVersion},
		{"validate", cmdValidate},
		{"inspect", cmdInspect},
		{"run", cmdRun},
		{"history", cmdHistory},
	}
}

// run executes the command named by args[0] and returns the exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		fmt.Fprint(stdout, usage)
		return exitOK
	}
	for _, c := range commands() {
		if c.name != args[0] {
			continue
		}
		err := c.run(ctx, args[1:], stdout)
		var ue *usageError
		switch {
		case err == nil:
			return exitOK
		case errors.Is(err, flag.ErrHelp):
			return exitOK
		case errors.As(err, &ue):
			fmt.Fprintf(stderr, "flowgraph %s: %v\n", c.name, err)
			return exitUsage
		case errors.Is(err, errInterrupted):
			return exitInterrupted
		default:
			fmt.Fprintf(stderr, "flowgraph %s: %v\n", c.name, err)
			return exitFailure
		}
	}
	fmt.Fprintf(stderr, "flowgraph: unknown command %q\n\n%s", args[0], usage)
	return exitUsage
}

var errInterrupted = errors.New("run interrupted")

func newFlags(name string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return &usageError{msg: err.Error()}
	}
	return nil
}

func cmdVersion(_ context.Context, _ []string, stdout io.Writer) error {
	fmt.Fprintf(stdout, "pregelflow %s (commit: %s, built: %s)\n", Version, Commit, BuildTime)
	return nil
}

func cmdValidate(_ context.Context, args []string, stdout io.Writer) error {
	fs := newFlags("validate", stdout)
	lenient := fs.Bool("lenient", false, "accept unregistered node and route names")
	if err := parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return &usageError{msg: "expected at least one definition file"}
	}
	reg := registry(*lenient)
	failed := 0
	for _, path := range fs.Args() {
		if _, err := loader.LoadGraph(path, reg); err != nil {
			failed++
			fmt.Fprintf(stdout, "FAIL %s\n", path)
			printProblems(stdout, err)
			continue
		}
		fmt.Fprintf(stdout, "ok   %s\n", path)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d definitions invalid", failed, fs.NArg())
	}
	return nil
}

func printProblems(w io.Writer, err error) {
	var verrs validation.ValidationErrors
	if errors.As(err, &verrs) {
		for _, v := range verrs {
			fmt.Fprintf(w, "  %s: %s\n", v.Field, v.Message)
		}
		return
	}
	for _, line := range strings.Split(err.Error(), "\n") {
		fmt.Fprintf(w, "  %s\n", line)
	}
}

func registry(lenient bool) *loader.Registry {
	if lenient {
		return loader.NewRegistry(loader.Lenient())
	}
	return loader.NewRegistry()
}

func cmdInspect(_ context.Context, args []string, stdout io.Writer) error {
	fs := newFlags("inspect", stdout)
	if err := parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return &usageError{msg: "expected one definition file"}
	}
	def, err := loader.Load(fs.Arg(0))
	if err != nil {
		return err
	}
	if _, err := def.Compile(registry(true)); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "graph %s (entry %s)\n", def.Name, def.Entry)
	if def.Description != "" {
		fmt.Fprintf(stdout, "  %s\n", def.Description)
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nCHANNEL\tKIND\tTYPE\tOPERATOR")
	for _, c := range def.Channels {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Name, c.Kind, dash(c.Type), dash(c.Operator))
	}
	fmt.Fprintln(tw, "\nNODE\tRUN\tREADS\tWRITES")
	for _, n := range def.Nodes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", n.ID, n.Run, list(n.Reads), list(n.Writes))
	}
	if len(def.Edges)+len(def.Branches) > 0 {
		fmt.Fprintln(tw, "\nFROM\tTO\tROUTE\t")
		for _, e := range def.Edges {
			fmt.Fprintf(tw, "%s\t%s\t-\t\n", e.From, e.To)
		}
		for _, b := range def.Branches {
			fmt.Fprintf(tw, "%s\t%s\t%s\t\n", b.From, list(b.Targets), b.Route)
		}
	}
	if len(def.InterruptBefore)+len(def.InterruptAfter) > 0 {
		fmt.Fprintf(tw, "\ninterrupt before: %s\tafter: %s\t\t\n", list(def.InterruptBefore), list(def.InterruptAfter))
	}
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func list(s []string) string {
	if len(s) == 0 {
		return "-"
	}
	return strings.Join(s, ",")
}

// setFlag collects repeated key=value pairs. Values are YAML scalars.
type setFlag map[string]any

func (s setFlag) String() string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}

func (s setFlag) Set(kv string) error {
	k, raw, ok := strings.Cut(kv, "=")
	if !ok || k == "" {
		return fmt.Errorf("want key=value, got %q", kv)
	}
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
		return fmt.Errorf("value of %s: %w", k, err)
	}
	s[k] = v
	return nil
}

type runtimeFlags struct {
	configPath string
	thread     string
	namespace  string
}

func (f *runtimeFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.configPath, "config", "", "configuration file")
	fs.StringVar(&f.thread, "thread", "default", "thread id")
	fs.StringVar(&f.namespace, "ns", "", "checkpoint namespace")
}

// open builds a runtime holding only the graph defined at path.
func (f *runtimeFlags) open(ctx context.Context, path string) (*flowgraph.Runtime, string, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, "", err
	}
	cfg.Log.Apply()
	cfg.Graphs = nil
	rt, err := flowgraph.New(ctx, cfg, nil)
	if err != nil {
		return nil, "", err
	}
	def, err := loader.Load(path)
	if err == nil {
		err = rt.LoadDefinitions(ctx, path)
	}
	if err != nil {
		_ = rt.Close()
		return nil, "", err
	}
	return rt, def.Name, nil
}

func cmdRun(ctx context.Context, args []string, stdout io.Writer) error {
	fs := newFlags("run", stdout)
	var rf runtimeFlags
	rf.register(fs)
	input := setFlag{}
	fs.Var(input, "set", "input channel value as key=value (repeatable)")
	resume := fs.Bool("resume", false, "resume the latest checkpoint instead of starting a run")
	from := fs.String("checkpoint", "", "start from this checkpoint id")
	timeout := fs.Duration("timeout", 0, "interrupt the run after this long")
	if err := parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return &usageError{msg: "expected one definition file"}
	}
	rt, name, err := rf.open(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	defer rt.Close()

	resp, runErr := rt.Run(ctx, &flowgraph.RunRequest{
		Graph:        name,
		ThreadID:     rf.thread,
		Namespace:    rf.namespace,
		CheckpointID: *from,
		Input:        input,
		Resume:       *resume,
		Timeout:      *timeout,
	})
	if resp == nil {
		return runErr
	}
	if err := printJSON(stdout, resp); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}
	if resp.Status == dto.RunStatusInterrupted {
		return errInterrupted
	}
	return nil
}

func cmdHistory(ctx context.Context, args []string, stdout io.Writer) error {
	fs := newFlags("history", stdout)
	var rf runtimeFlags
	rf.register(fs)
	limit := fs.Int("limit", 0, "maximum number of checkpoints")
	source := fs.String("source", "", "only checkpoints written by input, loop, update or fork")
	node := fs.String("node", "", "only checkpoints written by this node")
	if err := parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return &usageError{msg: "expected one definition file"}
	}
	rt, name, err := rf.open(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	defer rt.Close()

	req := &flowgraph.HistoryRequest{
		StateRequest: flowgraph.StateRequest{Graph: name, ThreadID: rf.thread, Namespace: rf.namespace},
		Limit:        *limit,
	}
	if *source != "" || *node != "" {
		req.Filter = &checkpoint.Filter{Source: checkpoint.Source(*source), Node: *node}
	}
	views, err := rt.History(ctx, req)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tSOURCE\tNODE\tCHECKPOINT\tNEXT\tCREATED")
	for _, v := range views {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			v.Metadata.Step, v.Metadata.Source, dash(v.Metadata.Node), v.CheckpointID, list(v.Next), v.CreatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
