package schemas

import (
	"context"
)

// -- Port Interfaces --

// Fetcher performs HTTP(S) requests using a single trust-store platform.
// Implementations must be safe for concurrent use.
type Fetcher interface {
	// Fetch requests rawURL and returns the final status code and body. A
	// transport-level failure is returned as an error; HTTP error statuses are not
	// errors.
	Fetch(ctx context.Context, rawURL string) (*Page, error)
	// Platform names the trust-store profile the fetcher is bound to.
	Platform() string
}

// Ruleset is the view of a parsed rewrite ruleset used by the checker.
type Ruleset interface {
	Name() string
	FilePath() string
	// DisabledReason returns the default_off value, or "" for enabled rulesets.
	DisabledReason() string
	// Platforms returns the trust-store platforms the ruleset requires.
	Platforms() []string
	// Apply rewrites rawURL. URLs that no rule matches are returned unchanged.
	Apply(rawURL string) (string, error)
	// Excludes reports whether rawURL matches one of the ruleset's exclusions.
	Excludes(rawURL string) bool
	// TestURLs returns the explicit and implicit test URLs, in document order.
	TestURLs() []string
	// CoverageProblems describes rules, exclusions and targets not exercised by tests.
	CoverageProblems() []string
}

// Metric computes a normalized distance between two page bodies.
type Metric interface {
	Name() string
	// Distance returns a value in [0,1]; larger means more different.
	Distance(a, b []byte) float64
}

// Disabler marks a ruleset file as disabled, listing the problems that caused it.
type Disabler interface {
	// Disable reports whether the file was changed.
	Disable(path string, problems []Problem) (bool, error)
}

// ResultSink receives the result of every processed task. Implementations must be
// safe for concurrent use.
type ResultSink interface {
	Record(ctx context.Context, result *RulesetResult) error
}
