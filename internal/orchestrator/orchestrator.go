// internal/orchestrator/orchestrator.go
// Description: Drives a checker run: loads rulesets, builds the per-platform
// fetchers, feeds one comparison task per ruleset to the worker pool and
// reports the outcome.

package orchestrator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/rulecheck/api/schemas"
	"github.com/xkilldash9x/rulecheck/internal/autodisable"
	"github.com/xkilldash9x/rulecheck/internal/certs"
	"github.com/xkilldash9x/rulecheck/internal/compare"
	"github.com/xkilldash9x/rulecheck/internal/config"
	"github.com/xkilldash9x/rulecheck/internal/engine"
	"github.com/xkilldash9x/rulecheck/internal/network"
	"github.com/xkilldash9x/rulecheck/internal/reporting"
	"github.com/xkilldash9x/rulecheck/internal/results"
	"github.com/xkilldash9x/rulecheck/internal/ruleset"
	"github.com/xkilldash9x/rulecheck/internal/similarity"
)

// RunRecorder persists the results of a run. *store.Store implements it.
type RunRecorder interface {
	schemas.ResultSink
	BeginRun(ctx context.Context, runID string, started time.Time) error
	FinishRun(ctx context.Context, summary *schemas.RunSummary) error
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder persists every result of the run through r.
func WithRecorder(r RunRecorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithToolVersion sets the version written into reports.
func WithToolVersion(v string) Option {
	return func(o *Orchestrator) { o.version = v }
}

// Orchestrator manages the lifecycle of a checker run.
type Orchestrator struct {
	cfg      config.Interface
	root     *zap.Logger
	logger   *zap.Logger
	recorder RunRecorder
	version  string

	collector *results.Collector
}

// New creates an Orchestrator.
func New(cfg config.Interface, logger *zap.Logger, opts ...Option) (*Orchestrator, error) {
	if cfg == nil || logger == nil {
		return nil, errors.New("cannot initialize orchestrator with nil dependencies")
	}
	o := &Orchestrator{
		cfg:       cfg,
		root:      logger,
		logger:    logger.Named("orchestrator"),
		version:   config.Version,
		collector: results.NewCollector(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Results returns what the workers recorded during the last run.
func (o *Orchestrator) Results() []schemas.RulesetResult {
	return o.collector.Results()
}

// ExitCode maps a run summary to the process exit status. Only coverage
// problems fail a run; comparison problems are reported but do not.
func (o *Orchestrator) ExitCode(summary *schemas.RunSummary) int {
	if summary != nil && o.cfg.Rulesets().CheckCoverage && summary.CoverageProblems {
		return 1
	}
	return 0
}

// Run checks the rulesets in files, or every *.xml under the rules directory
// when files is empty. A returned error means the run could not be carried out.
func (o *Orchestrator) Run(ctx context.Context, files []string) (*schemas.RunSummary, error) {
	summary := &schemas.RunSummary{
		RunID:   uuid.NewString(),
		Started: time.Now(),
	}
	logger := o.logger.With(zap.String("run_id", summary.RunID))

	platformNames, err := certs.DiscoverPlatforms(o.cfg.Certificates().BaseDir)
	if err != nil {
		return nil, err
	}
	logger.Debug("Loaded certificate platforms", zap.Strings("platforms", platformNames))

	metric, err := similarity.ByName(o.cfg.Thresholds().Metric)
	if err != nil {
		return nil, err
	}

	if len(files) == 0 {
		if o.cfg.Rulesets().RulesDir == "" {
			return nil, errors.New("no ruleset files given and rulesets.rules_dir is empty")
		}
		files, err = filepath.Glob(filepath.Join(o.cfg.Rulesets().RulesDir, "*.xml"))
		if err != nil {
			return nil, fmt.Errorf("failed to list rulesets: %w", err)
		}
	}
	summary.RulesetFiles = len(files)

	rulesets, index := o.loadRulesets(ctx, logger, files, summary)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !o.cfg.HTTP().Enabled {
		logger.Info("HTTP checks disabled, not fetching any pages",
			zap.Int("rulesets_loaded", summary.RulesetsLoaded))
		summary.Elapsed = time.Since(summary.Started)
		return summary, o.writeReport(summary)
	}

	if err := o.compareAll(ctx, logger, rulesets, index, platformNames, metric, summary); err != nil {
		return nil, err
	}

	_, summary.RulesetsWithProblems, _ = o.collector.Totals()
	summary.Elapsed = time.Since(summary.Started)
	logger.Info(fmt.Sprintf("Finished in %.2f seconds. Loaded rulesets: %d, URL pairs: %d.",
		summary.Elapsed.Seconds(), summary.RulesetsLoaded, summary.URLPairs))

	var errs []error
	if o.recorder != nil {
		if err := o.recorder.FinishRun(ctx, summary); err != nil {
			errs = append(errs, fmt.Errorf("failed to store run: %w", err))
		}
	}
	if err := o.writeReport(summary); err != nil {
		errs = append(errs, err)
	}
	return summary, errors.Join(errs...)
}

// loadRulesets parses files concurrently, then filters and indexes them in
// file order. Unparseable files are logged and skipped.
func (o *Orchestrator) loadRulesets(ctx context.Context, logger *zap.Logger, files []string, summary *schemas.RunSummary) ([]*ruleset.Ruleset, *ruleset.Index) {
	parsed := make([]*ruleset.Ruleset, len(files))
	parseErrs := make([]error, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Rulesets().ParseConcurrency)
	for i, file := range files {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			logger.Debug("Parsing ruleset", zap.String("rule_file", file))
			parsed[i], parseErrs[i] = ruleset.ParseFile(file)
			return nil
		})
	}
	_ = g.Wait()

	rulesCfg := o.cfg.Rulesets()
	index := ruleset.NewIndex()
	var loaded []*ruleset.Ruleset
	for i, rs := range parsed {
		if parseErrs[i] != nil {
			summary.ParseErrors++
			logger.Error("Failed to parse ruleset", zap.String("rule_file", files[i]), zap.Error(parseErrs[i]))
			continue
		}
		if rs == nil {
			continue
		}
		if reason := rs.DisabledReason(); reason != "" && !rulesCfg.IncludeDefaultOff {
			summary.RulesetsSkipped++
			logger.Debug("Skipping disabled ruleset", zap.String("ruleset", rs.Name()), zap.String("reason", reason))
			continue
		}
		if rulesCfg.CheckCoverage {
			for _, problem := range rs.CoverageProblems() {
				summary.CoverageProblems = true
				logger.Error(problem)
			}
		}
		index.Add(rs)
		loaded = append(loaded, rs)
	}
	summary.RulesetsLoaded = len(loaded)
	return loaded, index
}

// compareAll runs the worker pool over one task per ruleset and waits for it to drain.
func (o *Orchestrator) compareAll(ctx context.Context, logger *zap.Logger, rulesets []*ruleset.Ruleset, index *ruleset.Index, platformNames []string, metric schemas.Metric, summary *schemas.RunSummary) error {
	httpCfg := o.cfg.HTTP()

	pools, err := certs.LoadPlatforms(o.cfg.Certificates().BaseDir, platformNames)
	if err != nil {
		return fmt.Errorf("failed to load certificate platforms: %w", err)
	}

	urlList, err := readURLList(httpCfg.URLList)
	if err != nil {
		return err
	}

	// One limiter paces both sides of every pair.
	limiter := network.NewHostLimiter(httpCfg.RequestsPerSecond)
	fetchers := make(map[string]schemas.Fetcher, len(pools))
	for name, pool := range pools {
		fetchers[name] = network.NewFetcher(httpCfg, name, pool, network.FetcherOptions{
			Rewriter: index,
			Limiter:  limiter,
			Logger:   o.root,
		})
	}
	fetcherPlain := network.NewFetcher(httpCfg, certs.DefaultPlatform, pools[certs.DefaultPlatform], network.FetcherOptions{
		Limiter: limiter,
		Logger:  o.root,
	})

	sink := results.Multi{o.collector}
	if o.recorder != nil {
		if err := o.recorder.BeginRun(ctx, summary.RunID, summary.Started); err != nil {
			return fmt.Errorf("failed to store run: %w", err)
		}
		sink = append(sink, o.recorder)
	}

	comparator, err := compare.New(o.cfg, metric, autodisable.New(o.root), sink, o.root)
	if err != nil {
		return err
	}
	pool, err := engine.New(o.cfg, comparator, o.root)
	if err != nil {
		return err
	}
	pool.Start(ctx)
	defer pool.Stop()

	for _, rs := range rulesets {
		urls := taskURLs(logger, rs, urlList)
		summary.URLPairs += len(urls)
		task := &schemas.ComparisonTask{
			URLs:             urls,
			FetcherPlain:     fetcherPlain,
			FetcherRewriting: selectFetcher(fetchers, rs.Platforms()),
			Ruleset:          rs,
			RuleFile:         rs.FilePath(),
		}
		if err := pool.Enqueue(ctx, task); err != nil {
			return fmt.Errorf("failed to enqueue %s: %w", rs.FilePath(), err)
		}
	}

	return pool.Wait(ctx)
}

// taskURLs picks the URLs to compare for rs: the entries of a fixed list that
// the ruleset targets, or otherwise its own test URLs. Landing pages the ruleset
// excludes are skipped.
func taskURLs(logger *zap.Logger, rs *ruleset.Ruleset, urlList []string) []string {
	candidates := rs.TestURLs()
	if len(urlList) > 0 {
		candidates = candidates[:0]
		for _, u := range urlList {
			if rs.AppliesTo(u) {
				candidates = append(candidates, u)
			}
		}
	}

	urls := make([]string, 0, len(candidates))
	for _, u := range candidates {
		if rs.Excludes(u) {
			logger.Debug("Skipping landing page", zap.String("url", u), zap.String("rule_file", rs.FilePath()))
			continue
		}
		urls = append(urls, u)
	}
	return urls
}

// selectFetcher returns the fetcher of the first platform the ruleset names
// that has a trust store, falling back to the default platform.
func selectFetcher(fetchers map[string]schemas.Fetcher, platforms []string) schemas.Fetcher {
	for _, p := range platforms {
		if f, ok := fetchers[p]; ok {
			return f
		}
	}
	return fetchers[certs.DefaultPlatform]
}

// readURLList reads one URL per line, ignoring blank lines and # comments.
func readURLList(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open URL list: %w", err)
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read URL list: %w", err)
	}
	return urls, nil
}

func (o *Orchestrator) writeReport(summary *schemas.RunSummary) error {
	output := o.cfg.Report().Output
	if output == "" {
		return nil
	}
	reporter, err := reporting.New(output)
	if err != nil {
		return err
	}
	writeErr := reporter.Write(&reporting.Report{
		Tool:    "rulecheck",
		Version: o.version,
		Summary: *summary,
		Results: o.collector.Results(),
	})
	return errors.Join(writeErr, reporter.Close())
}
