// Package rules loads allow/deny rule files from rules.d directories and
// merges them with the inline config lists into one rule set.
package rules

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cmdgate/internal/domain"

	"gopkg.in/yaml.v3"
)

// File is the schema of a single rules.d YAML file.
type File struct {
	Description string   `yaml:"description,omitempty"`
	Allow       []string `yaml:"allow,omitempty"`
	Deny        []string `yaml:"deny,omitempty"`
}

// Result is the merged outcome of a load. SearchedPaths and LoadedFiles
// exist so `cmdgate rules list` and `cmdgate doctor` can show where
// rules came from.
type Result struct {
	Rules         domain.RuleSet
	SearchedPaths []string
	LoadedFiles   []string
}

// Load merges rules from the inline lists, the global rules.d directory,
// and the workspace rules.d directory, in that order. Later sources can
// only add entries; duplicates keep their first occurrence. Unreadable
// or malformed files are logged and skipped so one bad file cannot take
// down the gateway.
func Load(inline domain.RuleSet, globalDir, workspaceDir string, logger *slog.Logger) Result {
	if logger == nil {
		logger = slog.Default()
	}

	res := Result{}
	res.Rules.Allow = append(res.Rules.Allow, inline.Allow...)
	res.Rules.Deny = append(res.Rules.Deny, inline.Deny...)

	for _, dir := range []string{globalDir, workspaceDir} {
		if dir == "" {
			continue
		}
		res.SearchedPaths = append(res.SearchedPaths, dir)
		loadDir(dir, &res, logger)
	}

	res.Rules.Allow = dedupe(res.Rules.Allow)
	res.Rules.Deny = dedupe(res.Rules.Deny)
	return res
}

func loadDir(dir string, res *Result, logger *slog.Logger) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logger.Debug("rules directory does not exist, skipping", "dir", dir)
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Warn("cannot read rules dir", "dir", dir, "err", err)
		return
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		names = append(names, name)
	}
	// Deterministic merge order regardless of directory listing order.
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(dir, name)
		file, err := parseFile(path)
		if err != nil {
			logger.Warn("skipping rules file", "path", path, "err", err)
			continue
		}

		res.Rules.Allow = append(res.Rules.Allow, file.Allow...)
		res.Rules.Deny = append(res.Rules.Deny, file.Deny...)
		res.LoadedFiles = append(res.LoadedFiles, path)
		logger.Info("loaded rules file", "path", path, "allow", len(file.Allow), "deny", len(file.Deny))
	}
}

func parseFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return &file, nil
}

func dedupe(entries []string) []string {
	seen := make(map[string]bool, len(entries))
	out := entries[:0]
	for _, e := range entries {
		key := strings.TrimSpace(e)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return out
}
