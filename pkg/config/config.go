// Package config holds the options shared by the optimizer, the marker
// and the collection driver. Options are passed explicitly; there is no
// global state.
package config

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Options configures one compiler or heap instance
type Options struct {
	// Compiler
	RemoveRedundantPhis      bool `yaml:"remove_redundant_phis"`
	TraceConstantPropagation bool `yaml:"trace_constant_propagation"`
	VerifyGraph              bool `yaml:"verify_graph"`
	// PhiVisitMultiplier bounds phi visits to this many times the input
	// count before constant propagation gives up with an invariant error
	PhiVisitMultiplier int `yaml:"phi_visit_multiplier"`

	// Marker
	MarkerTasks    int  `yaml:"marker_tasks"`
	ConcurrentMark bool `yaml:"concurrent_mark"`
	MarkWhenIdle   bool `yaml:"mark_when_idle"`
	TraceMarker    bool `yaml:"trace_marker"`

	// Heap
	OldSpaceSoftLimitWords int `yaml:"old_space_soft_limit_words"`
	OldSpaceHardLimitWords int `yaml:"old_space_hard_limit_words"`

	Logger *slog.Logger `yaml:"-"`
}

const maxDefaultMarkerTasks = 8

// Default returns the default options
func Default() *Options {
	tasks := runtime.NumCPU()
	if tasks > maxDefaultMarkerTasks {
		tasks = maxDefaultMarkerTasks
	}
	return &Options{
		RemoveRedundantPhis:    true,
		PhiVisitMultiplier:     5,
		MarkerTasks:            tasks,
		ConcurrentMark:         true,
		OldSpaceSoftLimitWords: 1 << 20,
		OldSpaceHardLimitWords: 1 << 22,
	}
}

// Log returns the configured logger, or one that discards everything
func (o *Options) Log() *slog.Logger {
	if o == nil || o.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o.Logger
}

// NewLogger creates a text logger, at debug level when verbose
func NewLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// RegisterFlags binds the options to command line flags. Flag defaults
// are the current option values.
func (o *Options) RegisterFlags(fs *flag.FlagSet) {
	fs.BoolVar(&o.RemoveRedundantPhis, "remove-redundant-phis", o.RemoveRedundantPhis, "Replace phis left with a single live input")
	fs.BoolVar(&o.TraceConstantPropagation, "trace-constant-propagation", o.TraceConstantPropagation, "Log constant propagation decisions")
	fs.BoolVar(&o.VerifyGraph, "verify-graph", o.VerifyGraph, "Verify the flow graph after each edit phase")
	fs.IntVar(&o.PhiVisitMultiplier, "phi-visit-multiplier", o.PhiVisitMultiplier, "Maximum phi visits per input")
	fs.IntVar(&o.MarkerTasks, "marker-tasks", o.MarkerTasks, "Number of concurrent marking tasks")
	fs.BoolVar(&o.ConcurrentMark, "concurrent-mark", o.ConcurrentMark, "Mark old space concurrently with the mutator")
	fs.BoolVar(&o.MarkWhenIdle, "mark-when-idle", o.MarkWhenIdle, "Contribute marking work when the mutator is idle")
	fs.BoolVar(&o.TraceMarker, "trace-marker", o.TraceMarker, "Log marker statistics")
	fs.IntVar(&o.OldSpaceSoftLimitWords, "old-space-soft-limit", o.OldSpaceSoftLimitWords, "Old space size in words that starts concurrent marking")
	fs.IntVar(&o.OldSpaceHardLimitWords, "old-space-hard-limit", o.OldSpaceHardLimitWords, "Old space size in words that forces a full collection")
}

// Decode overlays YAML options read from r. Unknown keys are an error.
func (o *Options) Decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(o); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decoding options: %w", err)
	}
	return nil
}

// Load reads options from a YAML file on top of the defaults
func Load(path string) (*Options, error) {
	o := Default()
	if err := o.LoadFile(path, nil); err != nil {
		return nil, err
	}
	return o, nil
}

// LoadFile overlays the YAML file at path. Flags explicitly set on fs
// keep their command line values.
func (o *Options) LoadFile(path string, fs *flag.FlagSet) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading options: %w", err)
	}
	explicit := make(map[string]string)
	if fs != nil {
		fs.Visit(func(f *flag.Flag) { explicit[f.Name] = f.Value.String() })
	}
	if err := o.Decode(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	for name, val := range explicit {
		if err := fs.Set(name, val); err != nil {
			return err
		}
	}
	return o.Validate()
}

// Validate checks option ranges
func (o *Options) Validate() error {
	if o.PhiVisitMultiplier < 1 {
		return fmt.Errorf("phi_visit_multiplier must be at least 1, got %d", o.PhiVisitMultiplier)
	}
	if o.MarkerTasks < 1 {
		return fmt.Errorf("marker_tasks must be at least 1, got %d", o.MarkerTasks)
	}
	if o.OldSpaceSoftLimitWords < 0 || o.OldSpaceHardLimitWords < 0 {
		return errors.New("old space limits must not be negative")
	}
	if o.OldSpaceHardLimitWords > 0 && o.OldSpaceSoftLimitWords > o.OldSpaceHardLimitWords {
		return fmt.Errorf("old_space_soft_limit_words %d exceeds old_space_hard_limit_words %d",
			o.OldSpaceSoftLimitWords, o.OldSpaceHardLimitWords)
	}
	return nil
}
