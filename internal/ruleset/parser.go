// internal/ruleset/parser.go
package ruleset

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/dlclark/regexp2"
)

var (
	// ErrNotRuleset is returned when a document's root element is not <ruleset>.
	ErrNotRuleset = errors.New("root element is not <ruleset>")
	// ErrNoTargets is returned for rulesets without a single <target>.
	ErrNoTargets = errors.New("ruleset declares no targets")
)

// matchTimeout bounds a single regex evaluation, guarding against catastrophic
// backtracking in hand written rules.
const matchTimeout = 2 * time.Second

// ParseFile reads and parses the ruleset at path.
func ParseFile(path string) (*Ruleset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ruleset: %w", err)
	}
	rs, err := Parse(data, path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rs, nil
}

// Parse builds a Ruleset from an XML document. filePath is recorded as the
// backing file of the ruleset.
func Parse(data []byte, filePath string) (*Ruleset, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("failed to parse XML: %w", err)
	}

	root := doc.Root()
	if root == nil || root.Tag != "ruleset" {
		return nil, ErrNotRuleset
	}

	rs := &Ruleset{
		name:       root.SelectAttrValue("name", ""),
		filePath:   filePath,
		defaultOff: root.SelectAttrValue("default_off", ""),
		platforms:  strings.Fields(root.SelectAttrValue("platform", "")),
	}

	var explicitTests []string
	for _, el := range root.ChildElements() {
		switch el.Tag {
		case "target":
			host := strings.TrimSpace(el.SelectAttrValue("host", ""))
			if host == "" {
				return nil, errors.New("<target> without host")
			}
			rs.targets = append(rs.targets, Target{Host: host})

		case "rule":
			from := el.SelectAttrValue("from", "")
			re, err := compile(from)
			if err != nil {
				return nil, fmt.Errorf("invalid rule pattern %q: %w", from, err)
			}
			rs.rules = append(rs.rules, Rule{From: from, To: el.SelectAttrValue("to", ""), re: re})

		case "exclusion":
			pattern := el.SelectAttrValue("pattern", "")
			re, err := compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("invalid exclusion pattern %q: %w", pattern, err)
			}
			rs.exclusions = append(rs.exclusions, Exclusion{Pattern: pattern, re: re})

		case "test":
			if u := strings.TrimSpace(el.SelectAttrValue("url", "")); u != "" {
				explicitTests = append(explicitTests, u)
			}

		case "securecookie":
			// Cookie rules do not affect fetched content.
		}
	}

	if len(rs.targets) == 0 {
		return nil, ErrNoTargets
	}
	if rs.name == "" {
		rs.name = rs.targets[0].Host
	}

	rs.tests = buildTests(explicitTests, rs.targets)
	return rs, nil
}

func compile(pattern string) (*regexp2.Regexp, error) {
	if pattern == "" {
		return nil, errors.New("empty pattern")
	}
	re, err := regexp2.Compile(pattern, regexp2.ECMAScript)
	if err != nil {
		return nil, err
	}
	re.MatchTimeout = matchTimeout
	return re, nil
}

func buildTests(explicit []string, targets []Target) []string {
	seen := make(map[string]struct{}, len(explicit)+len(targets))
	tests := make([]string, 0, len(explicit)+len(targets))
	add := func(u string) {
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		tests = append(tests, u)
	}

	for _, u := range explicit {
		add(u)
	}
	for _, t := range targets {
		if !t.IsWildcard() {
			add("http://" + t.Host + "/")
		}
	}
	return tests
}
