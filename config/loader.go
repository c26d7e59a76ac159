package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadPipeline reads and validates one pipeline definition.
func LoadPipeline(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("reading pipeline %s: %w", path, err)
	}
	return ParsePipeline(data)
}

// ParsePipeline parses and validates a pipeline definition from YAML bytes.
func ParsePipeline(data []byte) (*Pipeline, error) {
	var p Pipeline
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPipeline, err)
	}
	if err := ValidatePipeline(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadPipelineDir loads every *.yaml and *.yml file in dir, sorted by file
// name. Pipeline names must be unique across the directory.
func LoadPipelineDir(dir string) ([]*Pipeline, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading pipelines dir %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	seen := make(map[string]string, len(names))
	pipelines := make([]*Pipeline, 0, len(names))
	for _, name := range names {
		p, err := LoadPipeline(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("pipeline %s: %w", name, err)
		}
		if prev, dup := seen[p.Name]; dup {
			return nil, fmt.Errorf("%w: pipeline %q defined in both %s and %s", ErrInvalidPipeline, p.Name, prev, name)
		}
		seen[p.Name] = name
		pipelines = append(pipelines, p)
	}
	return pipelines, nil
}
