// Package explore maintains the per-session exploration index: which
// explorers were expected, which reported back, and the aggregated
// key files, patterns, and constraints they surfaced.
package explore

// Explorer is one recorded exploration summary.
type Explorer struct {
	ID      string `json:"id"`
	Hint    string `json:"hint,omitempty"`
	File    string `json:"file,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// Context aggregates explorer output for a session.
type Context struct {
	ExpectedExplorers   []string   `json:"expected_explorers"`
	Explorers           []Explorer `json:"explorers"`
	KeyFiles            []string   `json:"key_files"`
	Patterns            []string   `json:"patterns"`
	Constraints         []string   `json:"constraints"`
	ExplorationComplete bool       `json:"exploration_complete"`
}

// NewContext returns an empty context with all collections allocated so the
// stored document carries [] rather than null.
func NewContext() Context {
	return Context{
		ExpectedExplorers: []string{},
		Explorers:         []Explorer{},
		KeyFiles:          []string{},
		Patterns:          []string{},
		Constraints:       []string{},
	}
}

// explorerIDs returns the set of stored explorer ids.
func (c *Context) explorerIDs() map[string]bool {
	ids := make(map[string]bool, len(c.Explorers))
	for _, e := range c.Explorers {
		ids[e.ID] = true
	}
	return ids
}

// recomputeComplete applies the completion rule: every expected id has
// reported and at least one id was expected.
func (c *Context) recomputeComplete() {
	if len(c.ExpectedExplorers) == 0 {
		c.ExplorationComplete = false
		return
	}
	have := c.explorerIDs()
	for _, id := range c.ExpectedExplorers {
		if !have[id] {
			c.ExplorationComplete = false
			return
		}
	}
	c.ExplorationComplete = true
}

// mergeSet appends the additions that are not already present, preserving
// first-seen order.
func mergeSet(dst, add []string) []string {
	seen := make(map[string]struct{}, len(dst))
	for _, v := range dst {
		seen[v] = struct{}{}
	}
	for _, v := range add {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		dst = append(dst, v)
	}
	return dst
}
