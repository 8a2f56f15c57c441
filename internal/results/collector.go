// internal/results/collector.go
package results

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/xkilldash9x/rulecheck/api/schemas"
)

// Collector keeps every recorded result in memory. It is safe for concurrent use.
type Collector struct {
	mu      sync.Mutex
	results []schemas.RulesetResult
}

var _ schemas.ResultSink = (*Collector)(nil)

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Record stores a copy of result.
func (c *Collector) Record(_ context.Context, result *schemas.RulesetResult) error {
	if result == nil {
		return errors.New("result cannot be nil")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, *result)
	return nil
}

// Results returns the recorded results ordered by rule file.
func (c *Collector) Results() []schemas.RulesetResult {
	c.mu.Lock()
	out := make([]schemas.RulesetResult, len(c.results))
	copy(out, c.results)
	c.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].RuleFile < out[j].RuleFile })
	return out
}

// Totals counts tested URL pairs and the rulesets that had problems.
func (c *Collector) Totals() (urlPairs, withProblems, disabled int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.results {
		urlPairs += c.results[i].URLsTested
		if c.results[i].HasProblems() {
			withProblems++
		}
		if c.results[i].Disabled {
			disabled++
		}
	}
	return urlPairs, withProblems, disabled
}

// Multi fans a result out to several sinks. Every sink is tried; their errors are joined.
type Multi []schemas.ResultSink

var _ schemas.ResultSink = Multi(nil)

func (m Multi) Record(ctx context.Context, result *schemas.RulesetResult) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Record(ctx, result); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
