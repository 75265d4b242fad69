package execx

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// Data holds the fields available to command templates.
type Data struct {
	OS      string
	Version string
	Tag     string
	Mode    string
}

// Render executes a command template string with Sprig functions and the
// cell fields in scope, e.g. "tox -e py{{.Tag}}" or
// "docker run --rm {{.OS}}:latest ...".
func Render(tmplStr string, data Data) (string, error) {
	t, err := template.New("command").Funcs(sprig.TxtFuncMap()).Parse(tmplStr)
	if err != nil {
		return "", fmt.Errorf("parsing command template: %w", err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("executing command template: %w", err)
	}

	return buf.String(), nil
}
