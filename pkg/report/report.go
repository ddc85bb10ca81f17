// Package report writes the metadata files a test report generator picks
// up from the results directory: environment.properties, executor.json and
// categories.json.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/entrhq/authharness/pkg/config"
	"github.com/entrhq/authharness/pkg/logging"
)

// File names inside the results directory.
const (
	EnvironmentFile = "environment.properties"
	ExecutorFile    = "executor.json"
	CategoriesFile  = "categories.json"
)

// Environment is the key/value block shown on the report overview.
type Environment struct {
	BaseURL   string
	Browser   string
	Env       string
	GoVersion string
	RPCURL    string
}

// Executor describes who ran the suite.
type Executor struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	BuildName string `json:"buildName"`
	BuildURL  string `json:"buildUrl,omitempty"`
	ReportURL string `json:"reportUrl,omitempty"`
}

// Category groups failures by message.
type Category struct {
	Name         string `json:"name"`
	MessageRegex string `json:"messageRegex"`
}

// DefaultCategories classify the failures this harness commonly sees.
var DefaultCategories = []Category{
	{Name: "Network issues", MessageRegex: "ECONNRESET|ETIMEDOUT|ENOTFOUND|connection refused"},
	{Name: "Auth failures", MessageRegex: "401|403|Session expired|missing credentials"},
}

// Writer writes metadata into one results directory.
type Writer struct {
	outputDir string
	getenv    func(string) string
}

// NewWriter returns a writer for outputDir. CI details come from the
// process environment.
func NewWriter(outputDir string) *Writer {
	return &Writer{outputDir: outputDir, getenv: os.Getenv}
}

// EnvironmentFromConfig fills an Environment from cfg.
func EnvironmentFromConfig(cfg *config.Config) Environment {
	browser := "chromium"
	if cfg.Browser.Channel != "" {
		browser = cfg.Browser.Channel
	}
	return Environment{
		BaseURL:   cfg.BaseURL,
		Browser:   browser,
		Env:       cfg.Env,
		GoVersion: runtime.Version(),
		RPCURL:    cfg.RPC.URL,
	}
}

// WriteAll writes every metadata file, creating the directory first.
func (w *Writer) WriteAll(env Environment, ci bool) error {
	if err := os.MkdirAll(w.outputDir, 0o750); err != nil {
		return fmt.Errorf("failed to create results directory: %w", err)
	}
	if err := w.WriteEnvironment(env); err != nil {
		return err
	}
	if err := w.WriteExecutor(w.executor(ci)); err != nil {
		return err
	}
	return w.WriteCategories(DefaultCategories)
}

// WriteEnvironment writes environment.properties.
func (w *Writer) WriteEnvironment(env Environment) error {
	lines := []string{
		"BASE_URL=" + env.BaseURL,
		"BROWSER=" + env.Browser,
		"ENV=" + env.Env,
		"GO_VERSION=" + env.GoVersion,
		"RPC_URL=" + env.RPCURL,
	}
	path := filepath.Join(w.outputDir, EnvironmentFile)
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", EnvironmentFile, err)
	}
	return nil
}

// WriteExecutor writes executor.json.
func (w *Writer) WriteExecutor(e Executor) error {
	return w.writeJSON(ExecutorFile, e)
}

// WriteCategories writes categories.json.
func (w *Writer) WriteCategories(categories []Category) error {
	return w.writeJSON(CategoriesFile, categories)
}

func (w *Writer) writeJSON(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	if err := os.WriteFile(filepath.Join(w.outputDir, name), data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

func (w *Writer) executor(ci bool) Executor {
	e := Executor{
		Name:      "Local",
		Type:      "go-test",
		BuildName: w.getenv("GITHUB_RUN_NUMBER"),
	}
	if ci {
		e.Name = "GitHub Actions"
	}
	if e.BuildName == "" {
		e.BuildName = "local-" + logging.GetRunID()
	}
	if server := w.getenv("GITHUB_SERVER_URL"); server != "" {
		e.BuildURL = fmt.Sprintf("%s/%s/actions/runs/%s",
			server, w.getenv("GITHUB_REPOSITORY"), w.getenv("GITHUB_RUN_ID"))
	}
	return e
}

// Label environment variables read by the report adapter.
const (
	LabelEpic     = "ALLURE_LABEL_epic"
	LabelFeature  = "ALLURE_LABEL_feature"
	LabelOwner    = "ALLURE_LABEL_owner"
	LabelSeverity = "ALLURE_LABEL_severity"
)

// ApplyDefaultLabels exports the configured labels for every label
// variable that is unset or empty. It returns the variables it set.
func ApplyDefaultLabels(labels config.ReportConfig) ([]string, error) {
	defaults := []struct{ key, value string }{
		{LabelEpic, labels.Epic},
		{LabelFeature, labels.Feature},
		{LabelOwner, labels.Owner},
		{LabelSeverity, labels.Severity},
	}

	var set []string
	for _, d := range defaults {
		if d.value == "" || os.Getenv(d.key) != "" {
			continue
		}
		if err := os.Setenv(d.key, d.value); err != nil {
			return set, fmt.Errorf("failed to set %s: %w", d.key, err)
		}
		set = append(set, d.key)
	}
	return set, nil
}
