// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/rulecheck/api/schemas"
	"github.com/xkilldash9x/rulecheck/internal/config"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

// --- Getters ---

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Engine() config.EngineConfig {
	args := m.Called()
	return args.Get(0).(config.EngineConfig)
}

func (m *MockConfig) Rulesets() config.RulesetsConfig {
	args := m.Called()
	return args.Get(0).(config.RulesetsConfig)
}

func (m *MockConfig) Certificates() config.CertificatesConfig {
	args := m.Called()
	return args.Get(0).(config.CertificatesConfig)
}

func (m *MockConfig) HTTP() config.HTTPConfig {
	args := m.Called()
	return args.Get(0).(config.HTTPConfig)
}

func (m *MockConfig) Thresholds() config.ThresholdsConfig {
	args := m.Called()
	return args.Get(0).(config.ThresholdsConfig)
}

func (m *MockConfig) Database() config.DatabaseConfig {
	args := m.Called()
	return args.Get(0).(config.DatabaseConfig)
}

func (m *MockConfig) Report() config.ReportConfig {
	args := m.Called()
	return args.Get(0).(config.ReportConfig)
}

// --- Setters ---

// Engine Setters
func (m *MockConfig) SetEngineWorkerConcurrency(w int) {
	m.Called(w)
}

// Ruleset Setters
func (m *MockConfig) SetRulesetsAutoDisable(b bool) {
	m.Called(b)
}

func (m *MockConfig) SetRulesetsIncludeDefaultOff(b bool) {
	m.Called(b)
}

func (m *MockConfig) SetRulesetsCheckCoverage(b bool) {
	m.Called(b)
}

// HTTP Setters
func (m *MockConfig) SetHTTPEnabled(b bool) {
	m.Called(b)
}

func (m *MockConfig) SetHTTPURLList(p string) {
	m.Called(p)
}

// -- Fetcher Mock --

// MockFetcher mocks schemas.Fetcher.
type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) Fetch(ctx context.Context, rawURL string) (*schemas.Page, error) {
	args := m.Called(ctx, rawURL)
	var page *schemas.Page
	if p := args.Get(0); p != nil {
		page = p.(*schemas.Page)
	}
	return page, args.Error(1)
}

func (m *MockFetcher) Platform() string {
	return m.Called().String(0)
}

// -- Ruleset Mock --

// MockRuleset mocks schemas.Ruleset.
type MockRuleset struct {
	mock.Mock
}

func (m *MockRuleset) Name() string           { return m.Called().String(0) }
func (m *MockRuleset) FilePath() string       { return m.Called().String(0) }
func (m *MockRuleset) DisabledReason() string { return m.Called().String(0) }

func (m *MockRuleset) Platforms() []string {
	args := m.Called()
	if v := args.Get(0); v != nil {
		return v.([]string)
	}
	return nil
}

func (m *MockRuleset) Apply(rawURL string) (string, error) {
	args := m.Called(rawURL)
	return args.String(0), args.Error(1)
}

func (m *MockRuleset) Excludes(rawURL string) bool {
	return m.Called(rawURL).Bool(0)
}

func (m *MockRuleset) TestURLs() []string {
	args := m.Called()
	if v := args.Get(0); v != nil {
		return v.([]string)
	}
	return nil
}

func (m *MockRuleset) CoverageProblems() []string {
	args := m.Called()
	if v := args.Get(0); v != nil {
		return v.([]string)
	}
	return nil
}

// -- Metric Mock --

// MockMetric mocks schemas.Metric.
type MockMetric struct {
	mock.Mock
}

func (m *MockMetric) Name() string { return m.Called().String(0) }

func (m *MockMetric) Distance(a, b []byte) float64 {
	return m.Called(a, b).Get(0).(float64)
}

// -- Disabler Mock --

// MockDisabler mocks schemas.Disabler.
type MockDisabler struct {
	mock.Mock
}

func (m *MockDisabler) Disable(path string, problems []schemas.Problem) (bool, error) {
	args := m.Called(path, problems)
	return args.Bool(0), args.Error(1)
}

// -- Result Sink Mock --

// MockResultSink mocks schemas.ResultSink.
type MockResultSink struct {
	mock.Mock
}

func (m *MockResultSink) Record(ctx context.Context, result *schemas.RulesetResult) error {
	return m.Called(ctx, result).Error(0)
}
