package prepare

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gridrun/gridrun/internal/execx"
	"github.com/gridrun/gridrun/internal/matrix"
)

// The package manager's local cache and index are shared by every colocated
// cell, so preparation commands run one writer at a time.
var commandsMu sync.Mutex

// Error is a dependency preparation failure. It is fatal to its cell only;
// sibling cells keep running.
type Error struct {
	Cell   matrix.Cell
	Step   string // "upgrade" or "requirements"
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("preparing %s: %s step: %v", e.Cell, e.Step, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Opts configures preparation for one cell. Upgrade and Requirements are
// command templates; either may be empty to skip that step.
type Opts struct {
	Upgrade      string
	Requirements string
	WorkDir      string
	Timeout      time.Duration
}

// Prepared marks a cell whose dependencies are installed. Downstream
// invocations run inside Dir.
type Prepared struct {
	Cell matrix.Cell
	Dir  string
}

// Prepare runs the package-manager upgrade and then the requirements
// install for a cell. Idempotent: a sentinel file under <workdir>/.gridrun
// marks a prepared cell, and re-preparing one is a no-op.
func Prepare(ctx context.Context, cell matrix.Cell, opts Opts) (*Prepared, error) {
	prepared := &Prepared{Cell: cell, Dir: opts.WorkDir}

	sentinel := sentinelPath(opts.WorkDir, cell)
	if _, err := os.Stat(sentinel); err == nil {
		return prepared, nil
	}

	commandsMu.Lock()
	defer commandsMu.Unlock()

	data := execx.Data{OS: cell.OS, Version: cell.Version}

	steps := []struct{ name, tmpl string }{
		{"upgrade", opts.Upgrade},
		{"requirements", opts.Requirements},
	}
	for _, step := range steps {
		if step.tmpl == "" {
			continue
		}

		command, err := execx.Render(step.tmpl, data)
		if err != nil {
			return nil, &Error{Cell: cell, Step: step.name, Err: err}
		}

		result, err := execx.Run(ctx, execx.Opts{
			Command: command,
			Dir:     opts.WorkDir,
			Timeout: opts.Timeout,
		})
		if err != nil {
			return nil, &Error{Cell: cell, Step: step.name, Stderr: result.Stderr, Err: err}
		}
		if result.ExitCode != 0 {
			return nil, &Error{
				Cell:   cell,
				Step:   step.name,
				Stderr: result.Stderr,
				Err:    fmt.Errorf("exit code %d", result.ExitCode),
			}
		}
	}

	if err := writeSentinel(sentinel); err != nil {
		return nil, &Error{Cell: cell, Step: "sentinel", Err: err}
	}

	return prepared, nil
}

func sentinelPath(workDir string, cell matrix.Cell) string {
	return filepath.Join(workDir, ".gridrun", "prepared-"+cell.Slug())
}

func writeSentinel(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(time.Now().Format(time.RFC3339)+"\n"), 0o644)
}
