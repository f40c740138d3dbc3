package registry

import (
	"os"
	"path/filepath"
	"strings"
)

// starterTemplate is the bundle materialized into an empty space root.
// Paths use forward slashes; directories end with a slash.
var starterTemplate = []struct {
	Path    string
	Content string
}{
	{Path: "notes/", Content: ""},
	{Path: "projects/", Content: ""},
	{Path: ".templates/", Content: ""},
	{Path: "README.md", Content: "# Welcome\n\nThis space was just created. Drop markdown files anywhere\nunder this folder and they will be indexed on the next rebuild.\n"},
	{Path: "notes/getting-started.md", Content: "---\ntags: help, onboarding\n---\n\n# Getting Started\n\nUse folders to organize documents. Titles come from the first\nheading of each markdown file.\n"},
	{Path: ".templates/meeting-notes.md", Content: "---\ntags: meeting\n---\n\n# Meeting Notes\n\n## Attendees\n\n## Decisions\n\n## Action Items\n"},
}

// seedIfEmpty materializes the starter template when the root has no visible
// entries. A root containing any visible entry is left untouched (no merge).
func seedIfEmpty(root string) (bool, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), ".") {
			return false, nil
		}
	}

	for _, item := range starterTemplate {
		target := filepath.Join(root, filepath.FromSlash(strings.TrimSuffix(item.Path, "/")))
		if strings.HasSuffix(item.Path, "/") {
			if err := os.MkdirAll(target, 0755); err != nil {
				return false, err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return false, err
		}
		if err := os.WriteFile(target, []byte(item.Content), 0644); err != nil {
			return false, err
		}
	}
	return true, nil
}

// EnsureTemplatesDir guarantees <root>/.templates exists with at least one
// sample file, creating both on first access.
func EnsureTemplatesDir(root string) (string, error) {
	dir := filepath.Join(root, ".templates")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		sample := filepath.Join(dir, "sample.md")
		content := "# Sample Template\n\nCopy this file to start a new document.\n"
		if err := os.WriteFile(sample, []byte(content), 0644); err != nil {
			return "", err
		}
	}
	return dir, nil
}
