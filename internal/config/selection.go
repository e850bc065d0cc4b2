package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/openmined/artifactsync/internal/artifact"
	"github.com/openmined/artifactsync/internal/sync"
	"gopkg.in/yaml.v3"
)

// SelectionFile lists the artifacts of a sync, either as kind:id patterns or
// grouped by kind:
//
//	artifacts:
//	  - plugin:geo-*
//	recipes:
//	  - PROJ.compute_*
//	libraries:
//	  - PROJ
type SelectionFile struct {
	Artifacts []string `yaml:"artifacts"`
	Recipes   []string `yaml:"recipes"`
	Plugins   []string `yaml:"plugins"`
	Libraries []string `yaml:"libraries"`
}

// Patterns flattens the file into validated kind:id patterns.
func (f *SelectionFile) Patterns() ([]string, error) {
	patterns := append([]string{}, f.Artifacts...)
	for _, group := range []struct {
		kind artifact.Kind
		ids  []string
	}{
		{artifact.KindRecipe, f.Recipes},
		{artifact.KindPlugin, f.Plugins},
		{artifact.KindLibrary, f.Libraries},
	} {
		for _, id := range group.ids {
			patterns = append(patterns, string(group.kind)+":"+id)
		}
	}

	for _, p := range patterns {
		if _, err := sync.ParsePattern(p); err != nil {
			return nil, err
		}
	}
	return patterns, nil
}

// LoadSelection reads a selection file. Unknown keys are rejected.
func LoadSelection(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read selection: %w", err)
	}

	var file SelectionFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse selection %s: %w", path, err)
	}

	patterns, err := file.Patterns()
	if err != nil {
		return nil, fmt.Errorf("selection %s: %w", path, err)
	}
	return patterns, nil
}
