// internal/similarity/similarity.go
package similarity

import (
	"errors"
	"fmt"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/xkilldash9x/rulecheck/api/schemas"
)

// ErrUnknownMetric is returned by ByName for names it does not recognize.
var ErrUnknownMetric = errors.New("unknown similarity metric")

// diffTimeout caps a single diff computation. Past it the diff degrades to a
// coarser but still valid edit script.
const diffTimeout = 2 * time.Second

// ByName returns the metric registered under name.
func ByName(name string) (schemas.Metric, error) {
	switch name {
	case "markup":
		return NewMarkup(), nil
	case "text":
		return NewText(), nil
	case "json":
		return NewJSON(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMetric, name)
	}
}

func newDiffer() *diffmatchpatch.DiffMatchPatch {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = diffTimeout
	return dmp
}

// normalizedEditDistance diffs two rune sequences and returns the Levenshtein
// distance divided by the longer length.
func normalizedEditDistance(dmp *diffmatchpatch.DiffMatchPatch, a, b []rune) float64 {
	switch {
	case len(a) == 0 && len(b) == 0:
		return 0
	case len(a) == 0 || len(b) == 0:
		return 1
	}

	diffs := dmp.DiffMainRunes(a, b, false)
	distance := float64(dmp.DiffLevenshtein(diffs)) / float64(max(len(a), len(b)))
	return clamp(distance)
}

func clamp(d float64) float64 {
	switch {
	case d < 0:
		return 0
	case d > 1:
		return 1
	default:
		return d
	}
}
