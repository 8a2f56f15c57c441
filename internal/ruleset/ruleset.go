// internal/ruleset/ruleset.go
package ruleset

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/dlclark/regexp2"

	"github.com/xkilldash9x/rulecheck/api/schemas"
)

// Target is a host pattern the ruleset applies to. A pattern may carry a single
// leading "*." or trailing ".*" wildcard.
type Target struct {
	Host string
}

// IsWildcard reports whether the target host contains a wildcard label.
func (t Target) IsWildcard() bool {
	return strings.Contains(t.Host, "*")
}

// Matches reports whether host falls under the target pattern.
func (t Target) Matches(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	pattern := strings.ToLower(t.Host)

	switch {
	case strings.HasPrefix(pattern, "*."):
		suffix := pattern[1:]
		return len(host) > len(suffix) && strings.HasSuffix(host, suffix)
	case strings.HasSuffix(pattern, ".*"):
		prefix := pattern[:len(pattern)-1]
		rest := strings.TrimPrefix(host, prefix)
		return rest != host && rest != "" && !strings.Contains(rest, ".")
	default:
		return host == pattern
	}
}

// Rule is a single from/to rewrite.
type Rule struct {
	From string
	To   string
	re   *regexp2.Regexp
}

// Exclusion is a pattern whose matching URLs are never rewritten.
type Exclusion struct {
	Pattern string
	re      *regexp2.Regexp
}

// Ruleset is a parsed rewrite ruleset backed by one file.
type Ruleset struct {
	name       string
	filePath   string
	defaultOff string
	platforms  []string
	targets    []Target
	rules      []Rule
	exclusions []Exclusion
	tests      []string
}

var _ schemas.Ruleset = (*Ruleset)(nil)

func (r *Ruleset) Name() string           { return r.name }
func (r *Ruleset) FilePath() string       { return r.filePath }
func (r *Ruleset) DisabledReason() string { return r.defaultOff }

// Platforms returns the whitespace separated tokens of the platform attribute.
func (r *Ruleset) Platforms() []string {
	out := make([]string, len(r.platforms))
	copy(out, r.platforms)
	return out
}

// Targets returns the host patterns the ruleset applies to.
func (r *Ruleset) Targets() []Target {
	out := make([]Target, len(r.targets))
	copy(out, r.targets)
	return out
}

// Rules returns the rewrite rules in document order.
func (r *Ruleset) Rules() []Rule {
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// Apply rewrites rawURL with the first rule that matches it. Excluded URLs and
// URLs that no rule matches are returned unchanged.
func (r *Ruleset) Apply(rawURL string) (string, error) {
	if r.Excludes(rawURL) {
		return rawURL, nil
	}
	for _, rule := range r.rules {
		ok, err := rule.re.MatchString(rawURL)
		if err != nil {
			return rawURL, fmt.Errorf("rule %q: %w", rule.From, err)
		}
		if !ok {
			continue
		}
		rewritten, err := rule.re.Replace(rawURL, rule.To, -1, 1)
		if err != nil {
			return rawURL, fmt.Errorf("rule %q: %w", rule.From, err)
		}
		return rewritten, nil
	}
	return rawURL, nil
}

// Excludes reports whether rawURL matches one of the exclusion patterns.
// A pattern that fails to evaluate is treated as not matching.
func (r *Ruleset) Excludes(rawURL string) bool {
	for _, ex := range r.exclusions {
		if ok, err := ex.re.MatchString(rawURL); err == nil && ok {
			return true
		}
	}
	return false
}

// TestURLs returns the explicit test URLs followed by an implicit root URL for
// every non-wildcard target, in document order and without duplicates.
func (r *Ruleset) TestURLs() []string {
	out := make([]string, len(r.tests))
	copy(out, r.tests)
	return out
}

// AppliesTo reports whether the ruleset targets the host of rawURL.
func (r *Ruleset) AppliesTo(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	for _, t := range r.targets {
		if t.Matches(u.Hostname()) {
			return true
		}
	}
	return false
}

// CoverageProblems lists every rule and exclusion that no test URL exercises and
// every wildcard target that no test URL falls under.
func (r *Ruleset) CoverageProblems() []string {
	var problems []string

	for _, rule := range r.rules {
		if !r.anyTestMatches(rule.re) {
			problems = append(problems, fmt.Sprintf("%s: No tests for rule %s", r.filePath, rule.From))
		}
	}
	for _, ex := range r.exclusions {
		if !r.anyTestMatches(ex.re) {
			problems = append(problems, fmt.Sprintf("%s: No tests for exclusion %s", r.filePath, ex.Pattern))
		}
	}
	for _, t := range r.targets {
		if !t.IsWildcard() {
			continue
		}
		covered := false
		for _, test := range r.tests {
			if u, err := url.Parse(test); err == nil && t.Matches(u.Hostname()) {
				covered = true
				break
			}
		}
		if !covered {
			problems = append(problems, fmt.Sprintf("%s: No tests for target %s", r.filePath, t.Host))
		}
	}
	return problems
}

func (r *Ruleset) anyTestMatches(re *regexp2.Regexp) bool {
	for _, test := range r.tests {
		if ok, err := re.MatchString(test); err == nil && ok {
			return true
		}
	}
	return false
}
