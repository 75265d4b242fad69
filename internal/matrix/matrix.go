package matrix

import (
	"fmt"
	"strings"
)

// Cell is one (operating system, interpreter version) pairing of the matrix.
// Cells are immutable once enumerated; identity is the pair.
type Cell struct {
	OS      string
	Version string
}

func (c Cell) String() string {
	return c.OS + "/" + c.Version
}

// Slug returns a filesystem-safe identifier for the cell, used for
// per-cell state such as the prepared sentinel.
func (c Cell) Slug() string {
	return sanitize(c.OS) + "-" + sanitize(c.Version)
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('-')
		}
	}
	return b.String()
}

// Enumerate produces the full cross-product of operating systems and
// interpreter versions. Order is deterministic: operating systems in input
// order, versions in input order within each. Either axis being empty is a
// configuration error; no cells have been handed out at that point.
func Enumerate(oses, versions []string) ([]Cell, error) {
	if len(oses) == 0 {
		return nil, fmt.Errorf("matrix: no operating systems configured")
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("matrix: no interpreter versions configured")
	}

	cells := make([]Cell, 0, len(oses)*len(versions))
	for _, os := range oses {
		for _, v := range versions {
			cells = append(cells, Cell{OS: os, Version: v})
		}
	}
	return cells, nil
}
