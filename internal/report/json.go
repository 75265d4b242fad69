package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gridrun/gridrun/internal/aggregate"
)

const durationPrecision = time.Millisecond

type jsonReport struct {
	OverallSuccess bool             `json:"overall_success"`
	Incomplete     bool             `json:"incomplete"`
	Expected       int              `json:"expected"`
	Recorded       int              `json:"recorded"`
	Passed         int              `json:"passed"`
	Aborted        int              `json:"aborted"`
	DurationMs     int64            `json:"duration_ms"`
	Invocations    []jsonInvocation `json:"invocations"`
}

type jsonInvocation struct {
	OS         string `json:"os"`
	Version    string `json:"version"`
	Mode       string `json:"mode"`
	Tag        string `json:"tag"`
	State      string `json:"state"`
	Stage      string `json:"stage,omitempty"`
	ExitCode   int    `json:"exit_code"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// WriteJSON saves the outcome as a machine-readable report.
func WriteJSON(path string, out aggregate.Outcome) error {
	rep := jsonReport{
		OverallSuccess: out.OverallSuccess,
		Incomplete:     out.Incomplete,
		Expected:       out.Expected,
		Recorded:       out.Recorded,
		Passed:         out.Passed,
		Aborted:        out.Aborted,
		DurationMs:     out.Duration.Milliseconds(),
	}
	for _, r := range out.Results {
		inv := jsonInvocation{
			OS:         r.Cell.OS,
			Version:    r.Cell.Version,
			Mode:       string(r.Config.Mode),
			Tag:        r.Config.Tag,
			State:      string(r.State),
			Stage:      r.Stage,
			ExitCode:   r.ExitCode,
			DurationMs: r.Duration.Milliseconds(),
		}
		if r.Err != nil {
			inv.Error = r.Err.Error()
		}
		rep.Invocations = append(rep.Invocations, inv)
	}

	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	return writeFileAtomic(path, append(data, '\n'))
}

// writeFileAtomic replaces path in one rename so a reader never sees a
// half-written report.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing report: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing report: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}
