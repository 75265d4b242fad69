package notify

import (
	"bytes"
	"fmt"
	"strconv"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"

	"github.com/gridrun/gridrun/internal/aggregate"
)

const durationPrecision = time.Second

// TemplateData holds all data available to notification templates.
type TemplateData struct {
	Suite    map[string]string
	Failures []map[string]string
}

// BuildTemplateData constructs template data from an aggregate outcome.
func BuildTemplateData(out aggregate.Outcome) TemplateData {
	status := "passed"
	switch {
	case out.Incomplete:
		status = "incomplete"
	case !out.OverallSuccess:
		status = "failed"
	}

	suite := map[string]string{
		"status":       status,
		"status_emoji": statusEmoji(status),
		"passed":       strconv.Itoa(out.Passed),
		"failed":       strconv.Itoa(len(out.Failed)),
		"aborted":      strconv.Itoa(out.Aborted),
		"expected":     strconv.Itoa(out.Expected),
		"duration":     out.Duration.Round(durationPrecision).String(),
	}

	failures := make([]map[string]string, 0, len(out.Failed))
	for _, f := range out.Failed {
		failures = append(failures, map[string]string{
			"cell":      f.Cell.String(),
			"mode":      string(f.Config.Mode),
			"stage":     f.Stage,
			"exit_code": strconv.Itoa(f.ExitCode),
		})
	}

	return TemplateData{Suite: suite, Failures: failures}
}

func statusEmoji(status string) string {
	switch status {
	case "passed":
		return "\U0001f7e2" // 🟢
	case "failed":
		return "\U0001f534" // 🔴
	default:
		return "❓" // ❓
	}
}

// Render executes a Go text/template string with Sprig functions and the
// custom accessor functions (suite, failures).
func Render(tmplStr string, data TemplateData) (string, error) {
	funcMap := sprig.TxtFuncMap()

	// Register accessor functions so {{suite.status}} works:
	// "suite" returns the suite map, then ".status" accesses a key.
	funcMap["suite"] = func() map[string]string { return data.Suite }
	funcMap["failures"] = func() []map[string]string { return data.Failures }

	t, err := template.New("notify").Funcs(funcMap).Parse(tmplStr)
	if err != nil {
		return "", fmt.Errorf("parsing template: %w", err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("executing template: %w", err)
	}

	return buf.String(), nil
}
