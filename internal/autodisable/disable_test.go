// internal/autodisable/disable_test.go
package autodisable

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/rulecheck/api/schemas"
)

const plainRuleset = `<ruleset name="Example">
	<target host="example.com" />
	<rule from="^http:" to="https:" />
</ruleset>
`

const commentedRuleset = `<!--
	Maintainer notes.
-->
<ruleset name="Example" platform="cacert">
	<target host="example.com" />
	<rule from="^http:" to="https:" />
</ruleset>
`

// -- Helper Function Tests --

func TestIsDisabled(t *testing.T) {
	testCases := []struct {
		name     string
		contents string
		want     bool
	}{
		{"enabled", plainRuleset, false},
		{"disabled", `<ruleset name="x" default_off="broken">`, true},
		{"disabled with spaces", `<ruleset default_off = 'x' name="y">`, true},
		{"similar attribute", `<ruleset name="x" my_default_off="y">`, false},
		{"only in a comment", "<!-- default_off= -->\n" + plainRuleset, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsDisabled(tc.contents))
		})
	}
}

func TestMarkDisabled(t *testing.T) {
	assert.Equal(t,
		`<ruleset name="x" default_off='failed ruleset test'><target host="a"/></ruleset>`,
		MarkDisabled(`<ruleset name="x"><target host="a"/></ruleset>`))

	assert.Equal(t,
		`<ruleset name="x" default_off='failed ruleset test' />`,
		MarkDisabled(`<ruleset name="x" />`), "the marker lands before a self-closing slash")

	assert.Equal(t, "<other/>", MarkDisabled("<other/>"))

	// Only the first ruleset start tag is touched.
	marked := MarkDisabled(`<ruleset a="1"><!-- <ruleset b="2"> --></ruleset>`)
	assert.Equal(t, 1, strings.Count(marked, "default_off"))
}

func TestSanitizeProblem(t *testing.T) {
	testCases := map[string]string{
		"no dashes":           "no dashes",
		"a--b":                "a- -b",
		"---":                 "- - -",
		"----":                "- - - -",
		"Fetch error: x -> y": "Fetch error: x -> y",
	}
	for in, want := range testCases {
		got := SanitizeProblem(in)
		assert.Equal(t, want, got)
		assert.NotContains(t, got, "--")
	}
}

func TestEnsureLeadingComment(t *testing.T) {
	assert.Equal(t, "<!--\n-->\n"+plainRuleset, EnsureLeadingComment(plainRuleset))
	assert.Equal(t, commentedRuleset, EnsureLeadingComment(commentedRuleset))
}

func TestInsertProblemComment(t *testing.T) {
	got := InsertProblemComment("<!--\n-->\n<ruleset/>", []schemas.Problem{"first--problem", "second"})
	assert.Equal(t, "<!--\nDisabled by rulecheck because:\nfirst- -problem\nsecond\n\n-->\n<ruleset/>", got)
}

// -- Patch Tests --

func TestPatch(t *testing.T) {
	problems := []schemas.Problem{
		"Non-2xx HTTP code: http://example.com/ (200) => https://example.com/ (404)",
		"Fetch error: http://example.com/a => https://example.com/a: tls: handshake failure -- retry",
	}

	t.Run("without existing comment", func(t *testing.T) {
		patched, changed := Patch(plainRuleset, problems)
		require.True(t, changed)

		assert.True(t, strings.HasPrefix(patched, "<!--\nDisabled by rulecheck because:\n"))
		assert.Contains(t, patched, string(problems[0]))
		assert.Contains(t, patched, "handshake failure - - retry")
		assert.Contains(t, patched, `<ruleset name="Example" default_off='failed ruleset test'>`)
		assertWellFormed(t, patched)
	})

	t.Run("with existing comment", func(t *testing.T) {
		patched, changed := Patch(commentedRuleset, problems)
		require.True(t, changed)

		assert.Equal(t, 1, strings.Count(patched, "<!--"), "the existing comment is reused")
		assert.Contains(t, patched, "\n\tMaintainer notes.\n-->")
		assert.Contains(t, patched, `platform="cacert" default_off='failed ruleset test'>`)
		assertWellFormed(t, patched)
	})

	t.Run("idempotent", func(t *testing.T) {
		once, changed := Patch(plainRuleset, problems)
		require.True(t, changed)

		twice, changed := Patch(once, []schemas.Problem{"another"})
		assert.False(t, changed)
		assert.Equal(t, once, twice)
	})
}

// assertWellFormed parses the document and checks the root carries the marker.
func assertWellFormed(t *testing.T, contents string) {
	t.Helper()
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(contents))
	require.NotNil(t, doc.Root())
	assert.Equal(t, Reason, doc.Root().SelectAttrValue("default_off", ""))
}

// -- FileDisabler Tests --

func TestFileDisabler_Disable(t *testing.T) {
	// -- Setup --
	path := filepath.Join(t.TempDir(), "Example.xml")
	require.NoError(t, os.WriteFile(path, []byte(plainRuleset), 0o640))

	core, logs := observer.New(zapcore.DebugLevel)
	disabler := New(zap.New(core))
	problems := []schemas.Problem{"Non-2xx HTTP code: http://example.com/ (200) => https://example.com/ (503)"}

	// -- Execution --
	changed, err := disabler.Disable(path, problems)

	// -- Assertions --
	require.NoError(t, err)
	assert.True(t, changed)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), string(problems[0]))
	assertWellFormed(t, string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm(), "file mode is preserved")
	assert.Equal(t, 1, logs.FilterMessage("Disabling ruleset").Len())

	// A second run leaves the file untouched.
	changed, err = disabler.Disable(path, []schemas.Problem{"later"})
	require.NoError(t, err)
	assert.False(t, changed)

	again, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestFileDisabler_Errors(t *testing.T) {
	disabler := New(nil)

	_, err := disabler.Disable(filepath.Join(t.TempDir(), "missing.xml"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to stat ruleset file")

	if os.Geteuid() == 0 {
		t.Skip("write permissions are not enforced for root")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "ro.xml")
	require.NoError(t, os.WriteFile(path, []byte(plainRuleset), 0o444))

	_, err = disabler.Disable(path, []schemas.Problem{"x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to write ruleset file")
}

// -- Fuzz Tests --

// FuzzPatch checks that any problem text leaves the patched document well formed
// and free of "--" outside the comment delimiters.
func FuzzPatch(f *testing.F) {
	f.Add([]byte("Fetch error: a -- b"))
	f.Add([]byte("----"))

	f.Fuzz(func(t *testing.T, data []byte) {
		consumer := fuzz.NewConsumer(data)
		var raw []string
		if err := consumer.CreateSlice(&raw); err != nil {
			return
		}

		problems := make([]schemas.Problem, 0, len(raw))
		for _, p := range raw {
			// Problems are single lines of text in practice.
			if !isPrintable(p) {
				return
			}
			problems = append(problems, schemas.Problem(p))
		}

		patched, changed := Patch(commentedRuleset, problems)
		require.True(t, changed)

		comment := patched[len("<!--"):strings.Index(patched, "-->")]
		assert.NotContains(t, comment, "--")
		assert.True(t, IsDisabled(patched))

		again, changed := Patch(patched, problems)
		assert.False(t, changed)
		assert.Equal(t, patched, again)
	})
}

func isPrintable(s string) bool {
	for _, r := range s {
		if r < 0x20 || r == 0x7f || r == '>' || r == '<' || r == '&' {
			return false
		}
	}
	return true
}
