package main

import (
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strings"
	"time"

	"vmcore/pkg/config"
	"vmcore/pkg/constprop"
	"vmcore/pkg/frontend"
	"vmcore/pkg/gc"
	"vmcore/pkg/heap"
	"vmcore/pkg/il"
	"vmcore/pkg/parser"
)

var (
	evalExpr   = flag.String("e", "", "Optimize IL given on the command line")
	goSource   = flag.Bool("go", false, "Input is Go source instead of textual IL")
	branches   = flag.Bool("branches", false, "Also eliminate branches whose targets converge")
	showBefore = flag.Bool("before", false, "Print each function before optimizing it")
	dotOutput  = flag.Bool("dot", false, "Write Graphviz output instead of textual IL")
	configFile = flag.String("config", "", "YAML options file")
	gcDemo     = flag.Int("gc-demo", 0, "Run a concurrent collection over a heap of this many objects")
	verbose    = flag.Bool("v", false, "Verbose output")
)

func main() {
	opts := config.Default()
	opts.RegisterFlags(flag.CommandLine)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "vmcore - SSA constant propagation and concurrent heap marking\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options] [file]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s program.il                # Optimize textual IL\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -go -before prog.go       # Lower Go source and optimize it\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -dot program.il | dot -Tsvg # Render the optimized graph\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -gc-demo 100000 -v        # Exercise the collector\n", os.Args[0])
	}
	flag.Parse()

	if *configFile != "" {
		if err := opts.LoadFile(*configFile, flag.CommandLine); err != nil {
			fmt.Fprintf(os.Stderr, "Error loading options: %v\n", err)
			os.Exit(1)
		}
	} else if err := opts.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid options: %v\n", err)
		os.Exit(1)
	}
	opts.Logger = config.NewLogger(os.Stderr, *verbose)

	if *gcDemo > 0 {
		runCollector(opts, *gcDemo)
		return
	}

	input, name, err := readInput()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
		os.Exit(1)
	}
	if strings.TrimSpace(input) == "" {
		fmt.Fprintf(os.Stderr, "No input\n")
		os.Exit(1)
	}

	var graphs []*il.FlowGraph
	if *goSource {
		graphs, err = frontend.BuildSource(name, input)
	} else {
		graphs, err = parser.ParseFunctions(input)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Parse error: %v\n", err)
		os.Exit(1)
	}
	if len(graphs) == 0 {
		fmt.Fprintf(os.Stderr, "No functions to process\n")
		os.Exit(1)
	}

	for _, g := range graphs {
		g.Logger = opts.Log()
		if *showBefore {
			fmt.Printf(";; %s before constant propagation\n", g.Name)
			emit(os.Stdout, g)
		}
		if err := optimize(g, opts); err != nil {
			fmt.Fprintf(os.Stderr, "Error optimizing %s: %v\n", g.Name, err)
			os.Exit(1)
		}
		emit(os.Stdout, g)
	}
}

func readInput() (input, name string, err error) {
	if *evalExpr != "" {
		return *evalExpr, "expr.go", nil
	}
	if flag.NArg() > 0 {
		name = flag.Arg(0)
		data, err := os.ReadFile(name)
		return string(data), name, err
	}
	data, err := io.ReadAll(os.Stdin)
	return string(data), "stdin.go", err
}

// optimize runs constant propagation, turning invariant violations into
// errors
func optimize(g *il.FlowGraph, opts *config.Options) (err error) {
	defer func() {
		if r := recover(); r != nil {
			ie, ok := r.(*il.InvariantError)
			if !ok {
				panic(r)
			}
			err = ie
		}
	}()
	if *branches {
		return constprop.OptimizeBranches(g, opts)
	}
	return constprop.Optimize(g, opts)
}

func emit(w io.Writer, g *il.FlowGraph) {
	if *dotOutput {
		il.WriteDot(w, g)
		return
	}
	il.Fprint(w, g)
}

// runCollector builds a random object graph, rewires it while a
// concurrent mark is in flight and reports what the cycle found
func runCollector(opts *config.Options, n int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	h := heap.New(opts)
	th := h.NewThread()
	c := gc.New(h, opts)

	objs := make([]*heap.Object, n)
	for i := range objs {
		kind := heap.KindArray
		switch rng.Intn(16) {
		case 0:
			kind = heap.KindWeakProperty
		case 1:
			kind = heap.KindWeakReference
		}
		objs[i] = th.Allocate(kind, heap.OldSpace, 2)
	}
	for _, o := range objs {
		for s := 0; s < o.NumSlots(); s++ {
			th.StorePointer(o, s, objs[rng.Intn(n)])
		}
	}
	for _, o := range objs[:1+n/100] {
		h.NewHandle(o)
	}
	finalized := 0
	table := h.NewWeakTable(func(uint32, any) { finalized++ })
	for _, o := range objs[:n/10] {
		table.Set(o, o.ID)
	}

	start := time.Now()
	c.StartConcurrentMarking(gc.ReasonExternal)
	for i := 0; i < n; i++ {
		src := objs[rng.Intn(n)]
		young := th.Allocate(heap.KindArray, heap.NewSpace, 1)
		th.InitPointer(young, 0, objs[rng.Intn(n)])
		th.StorePointer(src, rng.Intn(src.NumSlots()), young)
	}
	scavenged := c.Scavenge()
	c.WaitForMarkerTasks()

	stats := c.LastMarkStats()
	sweep := c.LastSweep()
	fmt.Printf("objects:        %d (promoted %d, freed young %d)\n", n, scavenged.Promoted, scavenged.Freed)
	fmt.Printf("marked words:   %d in %dus (%.1f words/us)\n", stats.MarkedWords, stats.MarkedMicros, stats.WordsPerMicro)
	fmt.Printf("workers:        %d (mean %.1f words/us, stddev %.1f)\n", stats.Workers, stats.WorkerMean, stats.WorkerStdDev)
	fmt.Printf("weak:           %+v\n", stats.Weak)
	fmt.Printf("swept:          %d objects, %d words\n", sweep.FreedObjects, sweep.FreedWords)
	fmt.Printf("finalized:      %d\n", finalized)
	fmt.Printf("old space:      %d words after %v\n", h.UsedWords(heap.OldSpace), time.Since(start))
}
