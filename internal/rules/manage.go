package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// managedFile is where CLI-added rules land inside a rules.d directory.
// Hand-written rule files in the same directory are never touched.
const managedFile = "custom.yaml"

// Add appends a pattern to the managed rules file in dir. kind is
// "allow" or "deny". Adding an existing pattern is a no-op.
func Add(dir, kind, pattern string) error {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return fmt.Errorf("empty pattern")
	}
	if kind != "allow" && kind != "deny" {
		return fmt.Errorf("rule kind must be allow or deny, got %q", kind)
	}

	file, path, err := readManaged(dir)
	if err != nil {
		return err
	}

	list := &file.Allow
	if kind == "deny" {
		list = &file.Deny
	}
	for _, e := range *list {
		if strings.TrimSpace(e) == pattern {
			return nil
		}
	}
	*list = append(*list, pattern)

	return writeManaged(path, file)
}

// Remove deletes a pattern from both lists of the managed rules file.
// It reports whether anything was removed.
func Remove(dir, pattern string) (bool, error) {
	pattern = strings.TrimSpace(pattern)

	file, path, err := readManaged(dir)
	if err != nil {
		return false, err
	}

	removed := false
	file.Allow, removed = removeEntry(file.Allow, pattern, removed)
	file.Deny, removed = removeEntry(file.Deny, pattern, removed)
	if !removed {
		return false, nil
	}

	return true, writeManaged(path, file)
}

func removeEntry(list []string, pattern string, removed bool) ([]string, bool) {
	out := list[:0]
	for _, e := range list {
		if strings.TrimSpace(e) == pattern {
			removed = true
			continue
		}
		out = append(out, e)
	}
	return out, removed
}

func readManaged(dir string) (*File, string, error) {
	path := filepath.Join(dir, managedFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &File{Description: "rules managed by cmdgate"}, path, nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", path, err)
	}
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, "", fmt.Errorf("parse %s: %w", path, err)
	}
	return &file, path, nil
}

func writeManaged(path string, file *File) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create rules dir: %w", err)
	}
	data, err := yaml.Marshal(file)
	if err != nil {
		return fmt.Errorf("marshal rules: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
