// internal/compare/comparator.go
package compare

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/rulecheck/api/schemas"
	"github.com/xkilldash9x/rulecheck/internal/config"
	"github.com/xkilldash9x/rulecheck/internal/engine"
)

// Comparator fetches the plain and rewritten variant of every URL of a task and
// judges whether the rewrite broke the page.
//
// A URL yields a Problem when the plain page was served with a 2xx status and the
// rewritten one was not, or when either fetch failed. Otherwise the bodies are
// compared and a distance at or above the threshold is reported as a Warning.
// Only Problems lead to a ruleset being disabled.
type Comparator struct {
	metric      schemas.Metric
	threshold   float64
	autoDisable bool
	urlTimeout  time.Duration
	disabler    schemas.Disabler
	sink        schemas.ResultSink
	logger      *zap.Logger
}

var _ engine.Processor = (*Comparator)(nil)

// New creates a Comparator. disabler is required only when auto-disable is
// enabled; sink may be nil.
func New(cfg config.Interface, metric schemas.Metric, disabler schemas.Disabler, sink schemas.ResultSink, logger *zap.Logger) (*Comparator, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if metric == nil {
		return nil, errors.New("metric cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	autoDisable := cfg.Rulesets().AutoDisable
	if autoDisable && disabler == nil {
		return nil, errors.New("auto-disable requires a disabler")
	}

	return &Comparator{
		metric:      metric,
		threshold:   cfg.Thresholds().MaxDistance,
		autoDisable: autoDisable,
		urlTimeout:  cfg.Engine().URLTimeout,
		disabler:    disabler,
		sink:        sink,
		logger:      logger.Named("comparator"),
	}, nil
}

// Process evaluates the URLs of task in order. An error is returned only when
// the run is cancelled or disabling the ruleset failed.
func (c *Comparator) Process(ctx context.Context, task *schemas.ComparisonTask) error {
	if task == nil || task.Ruleset == nil || task.FetcherPlain == nil || task.FetcherRewriting == nil {
		return errors.New("incomplete comparison task")
	}
	logger := c.logger.With(zap.String("rule_file", task.RuleFile))
	start := time.Now()

	result := &schemas.RulesetResult{
		Ruleset:  task.Ruleset.Name(),
		RuleFile: task.RuleFile,
	}
	for _, plainURL := range task.URLs {
		problem, warning := c.compareURL(ctx, logger, task, plainURL)
		result.URLsTested++
		if problem != "" {
			result.Problems = append(result.Problems, problem)
		}
		if warning != nil {
			result.Warnings = append(result.Warnings, *warning)
		}
	}

	// Fetch errors caused by shutdown say nothing about the ruleset.
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("comparison of %s interrupted: %w", task.RuleFile, err)
	}

	var disableErr error
	if result.HasProblems() {
		for _, p := range result.Problems {
			logger.Error(fmt.Sprintf("%s: %s", task.RuleFile, p))
		}
		if c.autoDisable {
			changed, err := c.disabler.Disable(task.RuleFile, result.Problems)
			if err != nil {
				disableErr = fmt.Errorf("failed to disable %s: %w", task.RuleFile, err)
				result.DisableError = err.Error()
			}
			result.Disabled = changed
		}
	}

	result.Duration = time.Since(start)
	result.FinishedAt = time.Now()
	if c.sink != nil {
		if err := c.sink.Record(ctx, result); err != nil {
			logger.Error("Failed to record ruleset result", zap.Error(err))
		}
	}
	return disableErr
}

// compareURL runs the comparison protocol for a single plain URL.
func (c *Comparator) compareURL(ctx context.Context, logger *zap.Logger, task *schemas.ComparisonTask, plainURL string) (schemas.Problem, *schemas.Warning) {
	rewrittenURL, err := task.Ruleset.Apply(plainURL)
	if err != nil {
		return schemas.Problem(fmt.Sprintf("Rewrite error: %s: %s", plainURL, err)), nil
	}
	defer logger.Info(fmt.Sprintf("Finished comparing %s -> %s. Rulefile: %s.", plainURL, rewrittenURL, task.RuleFile))

	if c.urlTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.urlTimeout)
		defer cancel()
	}

	logger.Debug("Fetching plain page", zap.String("url", plainURL))
	plain, err := task.FetcherPlain.Fetch(ctx, plainURL)
	if err != nil {
		return fetchError(plainURL, rewrittenURL, err), nil
	}
	logger.Debug("Fetching transformed page",
		zap.String("url", rewrittenURL),
		zap.String("platform", task.FetcherRewriting.Platform()))
	rewritten, err := task.FetcherRewriting.Fetch(ctx, rewrittenURL)
	if err != nil {
		return fetchError(plainURL, rewrittenURL, err), nil
	}

	// Only a 2xx plain page that turns non-2xx counts. 1xx codes are not judged.
	if plain.Is2xx() && !rewritten.Is2xx() {
		return schemas.Problem(fmt.Sprintf("Non-2xx HTTP code: %s (%d) => %s (%d)",
			plainURL, plain.StatusCode, rewrittenURL, rewritten.StatusCode)), nil
	}

	distance := c.metric.Distance(plain.Body, rewritten.Body)
	logger.Debug("Compared pages",
		zap.Float64("distance", distance),
		zap.String("plain_url", plainURL),
		zap.Int("plain_size", len(plain.Body)),
		zap.String("rewritten_url", rewrittenURL),
		zap.Int("rewritten_size", len(rewritten.Body)))

	if distance < c.threshold {
		return "", nil
	}
	logger.Warn(fmt.Sprintf("Big distance %0.4f: %s (%d) -> %s (%d)",
		distance, plainURL, len(plain.Body), rewrittenURL, len(rewritten.Body)))
	return "", &schemas.Warning{
		PlainURL:     plainURL,
		RewrittenURL: rewrittenURL,
		Distance:     distance,
		PlainSize:    len(plain.Body),
		RewriteSize:  len(rewritten.Body),
	}
}

func fetchError(plainURL, rewrittenURL string, err error) schemas.Problem {
	return schemas.Problem(fmt.Sprintf("Fetch error: %s => %s: %s", plainURL, rewrittenURL, err))
}
