// internal/similarity/markup.go
package similarity

import (
	"bytes"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
	"golang.org/x/net/html"
)

// Markup compares the tag structure of two HTML documents, ignoring text and
// attributes. Bodies without any tags fall back to a character comparison.
type Markup struct {
	dmp  *diffmatchpatch.DiffMatchPatch
	text *Text
}

// NewMarkup creates a Markup metric.
func NewMarkup() *Markup {
	return &Markup{dmp: newDiffer(), text: NewText()}
}

func (m *Markup) Name() string { return "markup" }

// Distance returns the edit distance between the tag sequences of a and b,
// normalized by the longer sequence.
func (m *Markup) Distance(a, b []byte) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	if len(a) == 0 || len(b) == 0 {
		return 1
	}

	// Both documents share one alphabet so equal tags map to equal runes.
	alphabet := make(map[string]rune)
	tagsA := tagSequence(a, alphabet)
	tagsB := tagSequence(b, alphabet)

	if len(tagsA) == 0 && len(tagsB) == 0 {
		return m.text.Distance(a, b)
	}
	return normalizedEditDistance(m.dmp, tagsA, tagsB)
}

// privateUseBase is the start of the Unicode private use area. Tags are encoded
// as runes from there on.
const privateUseBase = 0xE000

func tagSequence(doc []byte, alphabet map[string]rune) []rune {
	var seq []rune
	z := html.NewTokenizer(bytes.NewReader(doc))
	for {
		tt := z.Next()
		var key string
		switch tt {
		case html.ErrorToken:
			return seq
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			key = strings.ToLower(string(name))
		case html.EndTagToken:
			name, _ := z.TagName()
			key = "/" + strings.ToLower(string(name))
		default:
			continue
		}

		r, ok := alphabet[key]
		if !ok {
			r = rune(privateUseBase + len(alphabet))
			alphabet[key] = r
		}
		seq = append(seq, r)
	}
}
