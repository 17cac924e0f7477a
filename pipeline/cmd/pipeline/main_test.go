package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/pipewatch/pipewatch/pipeline/internal/config"
)

func TestListJobs(t *testing.T) {
	var buf bytes.Buffer
	err := listJobs(&buf, config.PipelineConfig{Jobs: []config.JobConfig{
		{Name: "collector", Schedule: "0 17 * * 1-5"},
		{Name: "dq-checker"},
	}})
	if err != nil {
		t.Fatalf("listJobs: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 7 {
		t.Fatalf("got %d lines, want one per job:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "collector") || !strings.HasSuffix(lines[0], "0 17 * * 1-5") {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.Contains(buf.String(), "(trigger only)") {
		t.Errorf("dq-checker without schedule should be trigger only:\n%s", buf.String())
	}
	if !strings.Contains(buf.String(), "(not configured)") {
		t.Errorf("missing jobs should be reported:\n%s", buf.String())
	}
}

func TestBuildCLI(t *testing.T) {
	root := buildCLI()
	if f := root.PersistentFlags().ShorthandLookup("c"); f == nil || f.Name != "config" {
		t.Fatalf("expected -c/--config persistent flag")
	}
	for _, name := range []string{"serve", "run", "jobs"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("subcommand %q not found: %v", name, err)
		}
	}
	run, _, _ := root.Find([]string{"run"})
	if run.Flags().Lookup("date") == nil {
		t.Error("run has no --date flag")
	}
	if err := run.Args(run, nil); err == nil {
		t.Error("run without a job name should be rejected")
	}
}
