package orchestrator

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gridrun/gridrun/internal/aggregate"
	"github.com/gridrun/gridrun/internal/config"
	"github.com/gridrun/gridrun/internal/mode"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Matrix: config.Matrix{
			OS:       []string{"ubuntu-latest", "macos-latest"},
			Versions: []config.Version{"3.6", "3.7", "3.8"},
		},
		Marker:     "RUN_INTEGRATION",
		ProfileEnv: "TOXENV",
		Commands: config.Commands{
			Test: "true",
		},
		Options: config.Options{
			MaxParallel: 2,
			WorkDir:     t.TempDir(),
		},
	}
}

// Scenario: full matrix, no integration marker. Six unit invocations tagged
// by version, all passing.
func TestRun_UnitMatrix(t *testing.T) {
	cfg := testConfig(t)
	cfg.Commands.Test = "echo $TOXENV >> tags"

	o := New(cfg, testLogger())
	outcome, err := o.Run(context.Background(), Options{MarkerPresent: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !outcome.OverallSuccess {
		t.Errorf("outcome = %+v, want success", outcome)
	}
	if outcome.Expected != 6 || outcome.Passed != 6 {
		t.Errorf("expected/passed = %d/%d, want 6/6", outcome.Expected, outcome.Passed)
	}

	data, err := os.ReadFile(cfg.Options.WorkDir + "/tags")
	if err != nil {
		t.Fatal(err)
	}
	tags := strings.Fields(string(data))
	sort.Strings(tags)
	want := []string{"36", "36", "37", "37", "38", "38"}
	if len(tags) != len(want) {
		t.Fatalf("tags = %v, want %v", tags, want)
	}
	for i := range want {
		if tags[i] != want[i] {
			t.Fatalf("tags = %v, want %v", tags, want)
		}
	}
}

// Scenario: integration marker set. Each cell installs then runs the fixed
// integration profile; the install step failing on macOS/3.7 fails that cell
// only.
func TestRun_IntegrationWithOneInstallFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.Commands.Install = `if [ "{{.OS}}/{{.Version}}" = "macos-latest/3.7" ]; then echo boom >&2; exit 1; fi`
	cfg.Commands.Test = "echo $TOXENV >> tags"

	o := New(cfg, testLogger())
	outcome, err := o.Run(context.Background(), Options{MarkerPresent: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if outcome.OverallSuccess {
		t.Error("expected overall failure")
	}
	if outcome.Passed != 5 {
		t.Errorf("passed = %d, want 5", outcome.Passed)
	}
	if len(outcome.Failed) != 1 {
		t.Fatalf("failed = %d, want 1", len(outcome.Failed))
	}
	failed := outcome.Failed[0]
	if failed.Cell.OS != "macos-latest" || failed.Cell.Version != "3.7" {
		t.Errorf("failed cell = %s, want macos-latest/3.7", failed.Cell)
	}
	if failed.Stage != "install" {
		t.Errorf("failed stage = %q, want install", failed.Stage)
	}

	// Integration uses one fixed profile, not per-version tags.
	data, err := os.ReadFile(cfg.Options.WorkDir + "/tags")
	if err != nil {
		t.Fatal(err)
	}
	for _, tag := range strings.Fields(string(data)) {
		if tag != "integration" {
			t.Errorf("tag = %q, want integration", tag)
		}
	}
}

// Scenario: the invoker is killed mid-run; the result is aborted,
// distinguishable from a normal non-zero exit.
func TestRun_AbortedInvocation(t *testing.T) {
	cfg := testConfig(t)
	cfg.Matrix.OS = []string{"ubuntu-latest"}
	cfg.Matrix.Versions = []config.Version{"3.8"}
	cfg.Commands.Test = "sleep 10"
	cfg.Options.InvokeTimeout = "100ms"

	o := New(cfg, testLogger())
	outcome, err := o.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if outcome.OverallSuccess {
		t.Error("expected overall failure")
	}
	if outcome.Aborted != 1 {
		t.Errorf("aborted = %d, want 1", outcome.Aborted)
	}
	if outcome.Failed[0].ExitCode != aggregate.ExitAborted {
		t.Errorf("exit code = %d, want sentinel %d", outcome.Failed[0].ExitCode, aggregate.ExitAborted)
	}
}

func TestRun_PrepFailureIsolatedToCell(t *testing.T) {
	cfg := testConfig(t)
	cfg.Commands.Requirements = `if [ "{{.Version}}" = "3.7" ]; then exit 1; fi`

	o := New(cfg, testLogger())
	outcome, err := o.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if outcome.OverallSuccess {
		t.Error("expected overall failure")
	}
	if outcome.Passed != 4 {
		t.Errorf("passed = %d, want 4 (both 3.7 cells fail preparation)", outcome.Passed)
	}
	for _, f := range outcome.Failed {
		if f.State != aggregate.StatePrepFailed {
			t.Errorf("failed state = %q, want prep_failed", f.State)
		}
		if f.Cell.Version != "3.7" {
			t.Errorf("failed cell = %s, want a 3.7 cell", f.Cell)
		}
	}
}

func TestRun_CancelDuringPrepareRecordsAborted(t *testing.T) {
	cfg := testConfig(t)
	cfg.Matrix.OS = []string{"ubuntu-latest"}
	cfg.Matrix.Versions = []config.Version{"3.8"}
	cfg.Commands.Requirements = "sleep 10"

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	o := New(cfg, testLogger())
	outcome, err := o.Run(ctx, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(outcome.Failed) != 1 {
		t.Fatalf("failed = %d, want 1", len(outcome.Failed))
	}
	got := outcome.Failed[0]
	if got.State != aggregate.StateAborted {
		t.Errorf("state = %q, want aborted, not a preparation failure", got.State)
	}
	if got.ExitCode != aggregate.ExitAborted {
		t.Errorf("exit code = %d, want sentinel %d", got.ExitCode, aggregate.ExitAborted)
	}
	if got.Stage != "prepare" {
		t.Errorf("stage = %q, want prepare", got.Stage)
	}
}

func TestRun_BothModesOrderedWithinCell(t *testing.T) {
	cfg := testConfig(t)
	cfg.Matrix.OS = []string{"ubuntu-latest"}
	cfg.Matrix.Versions = []config.Version{"3.8"}
	cfg.Commands.Install = "echo install >> trace"
	cfg.Commands.Test = "echo {{.Mode}} >> trace"

	o := New(cfg, testLogger())
	outcome, err := o.Run(context.Background(), Options{
		Modes: []mode.Mode{mode.Unit, mode.Integration},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Expected != 2 || !outcome.OverallSuccess {
		t.Fatalf("outcome = %+v, want 2 passing invocations", outcome)
	}

	data, err := os.ReadFile(cfg.Options.WorkDir + "/trace")
	if err != nil {
		t.Fatal(err)
	}
	got := strings.Fields(string(data))
	want := []string{"unit", "install", "integration"}
	if len(got) != len(want) {
		t.Fatalf("trace = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("trace = %v, want %v", got, want)
		}
	}
}

func TestRun_EmptyMatrixIsConfigurationError(t *testing.T) {
	cfg := testConfig(t)
	cfg.Matrix.Versions = nil

	o := New(cfg, testLogger())
	if _, err := o.Run(context.Background(), Options{}); err == nil {
		t.Error("expected configuration error before any cell runs")
	}
}

func TestRun_CancelledRecordsAborted(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := New(cfg, testLogger())
	outcome, err := o.Run(ctx, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if outcome.Incomplete {
		t.Error("cancelled run must still record every expected invocation")
	}
	if outcome.OverallSuccess {
		t.Error("expected overall failure")
	}
	if outcome.Aborted != outcome.Expected {
		t.Errorf("aborted = %d, want all %d", outcome.Aborted, outcome.Expected)
	}
}

func TestRun_OnResultCompletionOrder(t *testing.T) {
	cfg := testConfig(t)

	var mu sync.Mutex
	var seen int
	o := New(cfg, testLogger())
	outcome, err := o.Run(context.Background(), Options{
		OnResult: func(r aggregate.Result) {
			mu.Lock()
			seen++
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen != outcome.Expected {
		t.Errorf("OnResult calls = %d, want %d", seen, outcome.Expected)
	}
}

func TestRun_DryRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.Commands.Upgrade = "exit 1"      // would fail if executed
	cfg.Commands.Test = "exit 1"         // would fail if executed
	cfg.Commands.Requirements = "exit 1" // would fail if executed

	o := New(cfg, testLogger())
	outcome, err := o.Run(context.Background(), Options{DryRun: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.OverallSuccess {
		t.Errorf("outcome = %+v, want success for dry run", outcome)
	}
}
