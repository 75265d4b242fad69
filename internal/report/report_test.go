package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gridrun/gridrun/internal/aggregate"
	"github.com/gridrun/gridrun/internal/matrix"
	"github.com/gridrun/gridrun/internal/mode"
)

func result(state aggregate.State, exitCode int) aggregate.Result {
	return aggregate.Result{
		Cell:     matrix.Cell{OS: "ubuntu-latest", Version: "3.8"},
		Config:   mode.RunConfig{Mode: mode.Unit, Tag: "38"},
		State:    state,
		Stage:    "test",
		ExitCode: exitCode,
	}
}

func TestInvocation_Passed(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf, false)
	r.Invocation(result(aggregate.StateCompleted, 0))

	got := buf.String()
	if !strings.Contains(got, "✓") || !strings.Contains(got, "ubuntu-latest/3.8") {
		t.Errorf("output = %q, want pass line with cell", got)
	}
	if strings.Contains(got, "\x1b[") {
		t.Errorf("output = %q, want no ANSI codes for non-tty writer", got)
	}
}

func TestInvocation_AbortedDistinctFromFailed(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf, false)
	r.Invocation(result(aggregate.StateCompleted, 1))
	r.Invocation(result(aggregate.StateAborted, aggregate.ExitAborted))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	if !strings.Contains(lines[0], "failed") || strings.Contains(lines[0], "aborted") {
		t.Errorf("failed line = %q", lines[0])
	}
	if !strings.Contains(lines[1], "aborted") {
		t.Errorf("aborted line = %q", lines[1])
	}
}

func TestInvocation_VerboseStderr(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf, true)
	res := result(aggregate.StateCompleted, 1)
	res.Stderr = "assertion failed"
	r.Invocation(res)

	if !strings.Contains(buf.String(), "assertion failed") {
		t.Errorf("output = %q, want stderr shown in verbose mode", buf.String())
	}
}

func TestSuite_Incomplete(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf, false)
	r.Suite(aggregate.Outcome{Incomplete: true, Expected: 6, Recorded: 2})

	if !strings.Contains(buf.String(), "incomplete") {
		t.Errorf("output = %q, want incomplete notice", buf.String())
	}
	if strings.Contains(buf.String(), "matrix passed") {
		t.Error("incomplete outcome must not print a pass verdict")
	}
}

func TestSuite_Verdicts(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf, false)
	r.Suite(aggregate.Outcome{OverallSuccess: true, Expected: 6, Recorded: 6, Passed: 6})
	if !strings.Contains(buf.String(), "matrix passed") {
		t.Errorf("output = %q, want pass verdict", buf.String())
	}

	buf.Reset()
	failed := result(aggregate.StateCompleted, 1)
	r.Suite(aggregate.Outcome{Expected: 6, Recorded: 6, Passed: 5, Failed: []aggregate.Result{failed}})
	if !strings.Contains(buf.String(), "matrix failed") {
		t.Errorf("output = %q, want fail verdict", buf.String())
	}
}

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	aborted := result(aggregate.StateAborted, aggregate.ExitAborted)
	aborted.Err = errors.New("killed")

	out := aggregate.Outcome{
		Expected: 2,
		Recorded: 2,
		Passed:   1,
		Aborted:  1,
		Failed:   []aggregate.Result{aborted},
		Results:  []aggregate.Result{result(aggregate.StateCompleted, 0), aborted},
	}
	if err := WriteJSON(path, out); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var rep struct {
		OverallSuccess bool `json:"overall_success"`
		Aborted        int  `json:"aborted"`
		Invocations    []struct {
			State    string `json:"state"`
			ExitCode int    `json:"exit_code"`
			Error    string `json:"error"`
		} `json:"invocations"`
	}
	if err := json.Unmarshal(data, &rep); err != nil {
		t.Fatalf("invalid JSON report: %v", err)
	}
	if rep.Aborted != 1 || len(rep.Invocations) != 2 {
		t.Errorf("report = %+v, want 2 invocations with 1 aborted", rep)
	}
	if rep.Invocations[1].State != "aborted" || rep.Invocations[1].Error != "killed" {
		t.Errorf("aborted invocation = %+v", rep.Invocations[1])
	}
}

func TestWriteJSON_ReplacesExistingReport(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.json")
	if err := os.WriteFile(path, []byte("{\"stale\": true, trunca"), 0o644); err != nil {
		t.Fatal(err)
	}

	out := aggregate.Outcome{Expected: 1, Recorded: 1, Passed: 1, OverallSuccess: true,
		Results: []aggregate.Result{result(aggregate.StateCompleted, 0)}}
	if err := WriteJSON(path, out); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var rep map[string]any
	if err := json.Unmarshal(data, &rep); err != nil {
		t.Fatalf("report not valid JSON after rewrite: %v", err)
	}
	if _, ok := rep["stale"]; ok {
		t.Error("old report content survived the rewrite")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Name() != "report.json" {
			t.Errorf("leftover file %q, want the report alone", e.Name())
		}
	}
}
