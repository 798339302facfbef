// Package rules loads and validates the reply rule table.
package rules

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"

	"greetbot/internal/domain"
)

// DefaultGreeting is the canned reply to hi/hello.
const DefaultGreeting = "👋 Привет! Я активен."

// Defaults returns the built-in greeting rules.
func Defaults() []domain.ReplyRule {
	return []domain.ReplyRule{
		{MatchText: "hi", ResponseText: DefaultGreeting},
		{MatchText: "hello", ResponseText: DefaultGreeting},
	}
}

// Fold returns the Unicode case-folded form of s used for matching.
// A Caser is stateful, so one is built per call.
func Fold(s string) string {
	return cases.Fold().String(s)
}

// File is the on-disk layout of a rules file.
type File struct {
	Rules []domain.ReplyRule `yaml:"rules"`
}

// LoadFile reads a YAML rule table. The order in the file is the match order.
func LoadFile(path string) ([]domain.ReplyRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	if err := Validate(f.Rules); err != nil {
		return nil, fmt.Errorf("rules file %s: %w", path, err)
	}
	return f.Rules, nil
}

// SaveFile writes rules as YAML.
func SaveFile(path string, rs []domain.ReplyRule) error {
	data, err := yaml.Marshal(File{Rules: rs})
	if err != nil {
		return fmt.Errorf("marshal rules: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate rejects empty rules and duplicate matches; a later duplicate
// could never fire.
func Validate(rs []domain.ReplyRule) error {
	var errs []string
	seen := make(map[string]int, len(rs))
	for i, r := range rs {
		if r.MatchText == "" {
			errs = append(errs, fmt.Sprintf("rule %d: match is empty", i))
			continue
		}
		if r.ResponseText == "" {
			errs = append(errs, fmt.Sprintf("rule %d (%q): response is empty", i, r.MatchText))
		}
		key := Fold(r.MatchText)
		if prev, ok := seen[key]; ok {
			errs = append(errs, fmt.Sprintf("rule %d (%q): shadowed by rule %d", i, r.MatchText, prev))
			continue
		}
		seen[key] = i
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid rules:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
