// internal/autodisable/disable.go
package autodisable

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/rulecheck/api/schemas"
)

// Reason is the default_off value written to disabled rulesets.
const Reason = "failed ruleset test"

const commentHeader = "Disabled by rulecheck because:"

var (
	// defaultOffAttr finds a default_off attribute on the <ruleset> start tag.
	defaultOffAttr = regexp.MustCompile(`<ruleset\b[^>]*\bdefault_off\s*=`)
	// rulesetStartTag captures the attributes of the first <ruleset> start tag and
	// any self-closing slash so the marker lands before it.
	rulesetStartTag = regexp.MustCompile(`(<ruleset\b[^>]*?)(\s*/?)>`)
)

// IsDisabled reports whether contents already declare the ruleset disabled.
func IsDisabled(contents string) bool {
	return defaultOffAttr.MatchString(contents)
}

// MarkDisabled adds default_off to the first <ruleset> start tag. Contents
// without a ruleset start tag are returned unchanged.
func MarkDisabled(contents string) string {
	loc := rulesetStartTag.FindStringSubmatchIndex(contents)
	if loc == nil {
		return contents
	}
	attrs := contents[loc[2]:loc[3]]
	closing := contents[loc[4]:loc[5]]
	replacement := attrs + " default_off='" + Reason + "'" + closing + ">"
	return contents[:loc[0]] + replacement + contents[loc[1]:]
}

// SanitizeProblem splits every "--" so the text can sit inside an XML comment.
// Runs of dashes are split pairwise until none remain adjacent.
func SanitizeProblem(problem string) string {
	for strings.Contains(problem, "--") {
		problem = strings.ReplaceAll(problem, "--", "- -")
	}
	return problem
}

// EnsureLeadingComment prepends an empty comment when contents do not start with one.
func EnsureLeadingComment(contents string) string {
	if strings.HasPrefix(contents, "<!--") {
		return contents
	}
	return "<!--\n-->\n" + contents
}

// InsertProblemComment writes the header and one sanitized problem per line at
// the start of the leading comment. Contents must already start with "<!--".
func InsertProblemComment(contents string, problems []schemas.Problem) string {
	lines := make([]string, len(problems))
	for i, p := range problems {
		lines[i] = SanitizeProblem(string(p))
	}
	statement := "<!--\n" + commentHeader + "\n" + strings.Join(lines, "\n") + "\n"
	return statement + strings.TrimPrefix(contents, "<!--")
}

// Patch returns contents marked as disabled with problems listed in the leading
// comment. Already disabled contents are returned unchanged with changed false.
func Patch(contents string, problems []schemas.Problem) (patched string, changed bool) {
	if IsDisabled(contents) {
		return contents, false
	}
	patched = MarkDisabled(contents)
	patched = EnsureLeadingComment(patched)
	patched = InsertProblemComment(patched, problems)
	return patched, true
}

// FileDisabler rewrites ruleset files in place.
type FileDisabler struct {
	logger *zap.Logger
}

var _ schemas.Disabler = (*FileDisabler)(nil)

// New creates a FileDisabler.
func New(logger *zap.Logger) *FileDisabler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileDisabler{logger: logger.Named("autodisable")}
}

// Disable reads the whole file at path, patches it, and overwrites it keeping its
// permissions. A file that is already disabled is left untouched.
func (d *FileDisabler) Disable(path string, problems []schemas.Problem) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, fmt.Errorf("failed to stat ruleset file: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("failed to read ruleset file: %w", err)
	}

	patched, changed := Patch(string(data), problems)
	if !changed {
		d.logger.Debug("Ruleset already disabled, leaving it untouched.", zap.String("rule_file", path))
		return false, nil
	}

	d.logger.Info("Disabling ruleset", zap.String("rule_file", path), zap.Int("problems", len(problems)))
	if err := os.WriteFile(path, []byte(patched), info.Mode().Perm()); err != nil {
		return false, fmt.Errorf("failed to write ruleset file: %w", err)
	}
	return true, nil
}
