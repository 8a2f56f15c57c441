package schemas

import (
	"time"
)

// -- Task Schemas --

// ComparisonTask groups every URL of a single ruleset with the two fetchers
// needed to compare them. A task is immutable once it has been enqueued and is
// handled by exactly one worker.
type ComparisonTask struct {
	// URLs are the plain (unrewritten) URLs to compare, in evaluation order.
	URLs []string
	// FetcherPlain fetches the URLs as given.
	FetcherPlain Fetcher
	// FetcherRewriting fetches the rewritten URLs, on the trust-store platform
	// selected for the ruleset.
	FetcherRewriting Fetcher
	// Ruleset provides the rewrite function.
	Ruleset Ruleset
	// RuleFile is the path of the file backing the ruleset.
	RuleFile string
}

// Problem is a human readable description of one detected mismatch between a
// plain and a rewritten fetch.
type Problem string

// -- Fetch Schemas --

// Page is the outcome of a successful fetch.
type Page struct {
	// URL is the URL that was requested.
	URL string `json:"url"`
	// FinalURL is the URL the response was served from after redirects.
	FinalURL   string `json:"final_url"`
	StatusCode int    `json:"status_code"`
	Body       []byte `json:"-"`
}

// Is2xx reports whether the page was served with a success status.
func (p *Page) Is2xx() bool {
	return p != nil && p.StatusCode/100 == 2
}

// -- Result Schemas --

// Warning records a non-fatal observation, such as a large content distance.
type Warning struct {
	PlainURL     string  `json:"plain_url"`
	RewrittenURL string  `json:"rewritten_url"`
	Distance     float64 `json:"distance"`
	PlainSize    int     `json:"plain_size"`
	RewriteSize  int     `json:"rewritten_size"`
}

// RulesetResult summarizes the processing of one ComparisonTask.
type RulesetResult struct {
	Ruleset      string        `json:"ruleset"`
	RuleFile     string        `json:"rule_file"`
	URLsTested   int           `json:"urls_tested"`
	Problems     []Problem     `json:"problems,omitempty"`
	Warnings     []Warning     `json:"warnings,omitempty"`
	Disabled     bool          `json:"disabled"`
	DisableError string        `json:"disable_error,omitempty"`
	Duration     time.Duration `json:"duration"`
	FinishedAt   time.Time     `json:"finished_at"`
}

// HasProblems reports whether any problem was recorded.
func (r *RulesetResult) HasProblems() bool {
	return len(r.Problems) > 0
}

// RunSummary aggregates the outcome of one checker run.
type RunSummary struct {
	RunID                string        `json:"run_id"`
	Started              time.Time     `json:"started"`
	Elapsed              time.Duration `json:"elapsed"`
	RulesetFiles         int           `json:"ruleset_files"`
	RulesetsLoaded       int           `json:"rulesets_loaded"`
	RulesetsSkipped      int           `json:"rulesets_skipped"`
	ParseErrors          int           `json:"parse_errors"`
	URLPairs             int           `json:"url_pairs"`
	RulesetsWithProblems int           `json:"rulesets_with_problems"`
	CoverageProblems     bool          `json:"coverage_problems"`
}
