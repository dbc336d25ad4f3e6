package config

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	o := Default()
	if err := o.Validate(); err != nil {
		t.Fatalf("default options invalid: %v", err)
	}
	if !o.RemoveRedundantPhis || o.PhiVisitMultiplier != 5 {
		t.Errorf("unexpected compiler defaults: %+v", o)
	}
	if o.MarkerTasks < 1 || o.MarkerTasks > maxDefaultMarkerTasks {
		t.Errorf("MarkerTasks = %d", o.MarkerTasks)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Options)
		want   string
	}{
		{"multiplier", func(o *Options) { o.PhiVisitMultiplier = 0 }, "phi_visit_multiplier"},
		{"tasks", func(o *Options) { o.MarkerTasks = 0 }, "marker_tasks"},
		{"negative", func(o *Options) { o.OldSpaceSoftLimitWords = -1 }, "negative"},
		{"soft above hard", func(o *Options) { o.OldSpaceSoftLimitWords = o.OldSpaceHardLimitWords + 1 }, "exceeds"},
	}
	for _, tt := range tests {
		o := Default()
		tt.modify(o)
		err := o.Validate()
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%s: error = %v, want %q", tt.name, err, tt.want)
		}
	}
}

func TestDecode(t *testing.T) {
	o := Default()
	err := o.Decode(strings.NewReader("phi_visit_multiplier: 9\nconcurrent_mark: false\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.PhiVisitMultiplier != 9 || o.ConcurrentMark {
		t.Errorf("decoded options = %+v", o)
	}
	if !o.RemoveRedundantPhis {
		t.Error("keys absent from the document keep their values")
	}
	if err := o.Decode(strings.NewReader("")); err != nil {
		t.Errorf("empty document: %v", err)
	}
}

func TestDecodeRejectsUnknownKeys(t *testing.T) {
	o := Default()
	err := o.Decode(strings.NewReader("no_such_option: 1\n"))
	if err == nil {
		t.Error("unknown keys should be rejected")
	}
}

func TestLoadFileFlagsWin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opts.yaml")
	if err := os.WriteFile(path, []byte("marker_tasks: 3\nphi_visit_multiplier: 7\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	o := Default()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	o.RegisterFlags(fs)
	if err := fs.Parse([]string{"-marker-tasks=2"}); err != nil {
		t.Fatal(err)
	}
	if err := o.LoadFile(path, fs); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if o.MarkerTasks != 2 {
		t.Errorf("MarkerTasks = %d, command line value should win", o.MarkerTasks)
	}
	if o.PhiVisitMultiplier != 7 {
		t.Errorf("PhiVisitMultiplier = %d, want 7 from the file", o.PhiVisitMultiplier)
	}

	loaded, err := Load(path)
	if err != nil || loaded.MarkerTasks != 3 {
		t.Errorf("Load = %+v, %v", loaded, err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file should fail")
	}
}

func TestLoggers(t *testing.T) {
	var o *Options
	o.Log().Info("discarded")

	var buf bytes.Buffer
	l := NewLogger(&buf, false)
	l.Debug("hidden")
	l.Info("shown", "k", 1)
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("unexpected log output %q", buf.String())
	}
	buf.Reset()
	NewLogger(&buf, true).Debug("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Error("verbose logger should emit debug records")
	}
}
