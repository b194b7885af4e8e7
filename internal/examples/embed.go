package examples

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Embed example workflows into the binary for offline availability
//
//go:embed *.yaml
var embeddedFS embed.FS

// Example represents metadata about an embedded example workflow
type Example struct {
	Name        string `json:"name"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	FilePath    string `json:"file"`
}

// List returns all available embedded examples sorted by name.
func List() ([]Example, error) {
	entries, err := embeddedFS.ReadDir(".")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded examples: %w", err)
	}

	var examples []Example
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}

		name := strings.TrimSuffix(entry.Name(), ".yaml")
		ex := Example{Name: name, FilePath: entry.Name()}

		// Only the header fields are needed for a listing
		var header struct {
			Name        string `yaml:"name"`
			Description string `yaml:"description"`
		}
		if content, err := embeddedFS.ReadFile(entry.Name()); err == nil {
			if yaml.Unmarshal(content, &header) == nil {
				ex.Title = header.Name
				ex.Description = header.Description
			}
		}
		examples = append(examples, ex)
	}

	sort.Slice(examples, func(i, j int) bool { return examples[i].Name < examples[j].Name })
	return examples, nil
}

// Get returns the content of a specific example by name
func Get(name string) ([]byte, error) {
	content, err := embeddedFS.ReadFile(name + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("example %q not found: %w", name, err)
	}
	return content, nil
}

// Exists checks if an example with the given name exists
func Exists(name string) bool {
	_, err := embeddedFS.ReadFile(name + ".yaml")
	return err == nil
}

// CopyTo writes an example to the filesystem at the specified destination.
// An existing file is left alone unless overwrite is set.
func CopyTo(name, destPath string, overwrite bool) error {
	content, err := Get(name)
	if err != nil {
		return err
	}

	if !overwrite {
		if _, err := os.Stat(destPath); err == nil {
			return fmt.Errorf("%s already exists", destPath)
		}
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	if err := os.WriteFile(destPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write example file: %w", err)
	}
	return nil
}
