// internal/similarity/text.go
package similarity

import (
	"github.com/sergi/go-diff/diffmatchpatch"
)

// Text compares bodies character by character.
type Text struct {
	dmp *diffmatchpatch.DiffMatchPatch
}

// NewText creates a Text metric.
func NewText() *Text {
	return &Text{dmp: newDiffer()}
}

func (m *Text) Name() string { return "text" }

// Distance returns the character level edit distance normalized by the longer body.
func (m *Text) Distance(a, b []byte) float64 {
	return normalizedEditDistance(m.dmp, []rune(string(a)), []rune(string(b)))
}
