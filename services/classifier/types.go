// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package classifier

import (
	"fmt"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

// Confidence is the strength of a single pattern match.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

func (c *Confidence) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	switch Confidence(s) {
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
		*c = Confidence(s)
		return nil
	default:
		return fmt.Errorf("invalid confidence %q", s)
	}
}

// PatternFile is the top-level shape of patterns.yaml.
type PatternFile struct {
	Detectors []Detector `yaml:"detectors"`
}

// Detector is one named data type the Classifier recognizes (e.g.
// "email", "ssn"); it owns one or more regex Patterns.
type Detector struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Priority    int       `yaml:"priority"`
	Patterns    []Pattern `yaml:"patterns"`
}

// Pattern is a single compiled detection rule within a Detector.
type Pattern struct {
	ID          string     `yaml:"id"`
	Regex       string     `yaml:"regex"`
	Confidence  Confidence `yaml:"confidence"`
	compiled    *regexp.Regexp
}

// compileAll compiles every pattern's regex in place, failing fast on
// the first invalid expression.
func (f *PatternFile) compileAll() error {
	for i := range f.Detectors {
		for j := range f.Detectors[i].Patterns {
			p := &f.Detectors[i].Patterns[j]
			re, err := regexp.Compile(p.Regex)
			if err != nil {
				return fmt.Errorf("compile pattern %s/%s: %w", f.Detectors[i].Name, p.ID, err)
			}
			p.compiled = re
		}
	}
	return nil
}

// sortByPriority orders detectors highest-priority first, matching the
// reference policy engine's own SortByPriority convention.
func (f *PatternFile) sortByPriority() {
	sort.Slice(f.Detectors, func(i, j int) bool {
		return f.Detectors[i].Priority > f.Detectors[j].Priority
	})
}

// loadPatternFile parses and compiles the embedded detector bundle.
func loadPatternFile(raw []byte) (*PatternFile, error) {
	var f PatternFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("unmarshal detector patterns: %w", err)
	}
	if err := f.compileAll(); err != nil {
		return nil, err
	}
	f.sortByPriority()
	return &f, nil
}
