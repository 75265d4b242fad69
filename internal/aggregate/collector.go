package aggregate

import (
	"sync"
	"time"
)

// Collector accumulates invocation results in arrival order. Safe for
// concurrent Record calls; cells complete in whatever order they finish.
type Collector struct {
	mu      sync.Mutex
	start   time.Time
	results []Result
}

func NewCollector() *Collector {
	return &Collector{start: time.Now()}
}

// Record appends a terminal result.
func (c *Collector) Record(r Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, r)
}

// Recorded returns the number of results recorded so far.
func (c *Collector) Recorded() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.results)
}

// Outcome is the aggregate verdict over every expected invocation.
type Outcome struct {
	OverallSuccess bool
	Incomplete     bool
	Expected       int
	Recorded       int
	Passed         int
	Aborted        int
	Failed         []Result // arrival order
	Results        []Result // arrival order, all of them
	Duration       time.Duration
}

// Finalize produces the aggregate outcome. The caller supplies the expected
// invocation count (cells × modes); finalizing before every expected result
// has arrived yields Incomplete=true and never a success.
func (c *Collector) Finalize(expected int) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := Outcome{
		Expected: expected,
		Recorded: len(c.results),
		Results:  append([]Result(nil), c.results...),
		Duration: time.Since(c.start),
	}

	for _, r := range c.results {
		switch {
		case r.Passed():
			out.Passed++
		default:
			if r.Aborted() {
				out.Aborted++
			}
			out.Failed = append(out.Failed, r)
		}
	}

	out.Incomplete = out.Recorded < expected
	out.OverallSuccess = !out.Incomplete && len(out.Failed) == 0
	return out
}
