package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cognicore/wordharvest/pkg/wordharvest/internalerr"
	"github.com/cognicore/wordharvest/pkg/wordharvest/textnorm"
)

// Normalizer represents the text normalizer configuration file.
//
// StopWords replaces the built-in list when present; ExtraStopWords is added
// on top of whichever list is in effect.
type Normalizer struct {
	MinLength      int      `yaml:"min_length"`
	ContextLength  int      `yaml:"context_length"`
	StopWords      []string `yaml:"stop_words"`
	ExtraStopWords []string `yaml:"extra_stop_words"`
}

// LoadNormalizer loads normalizer settings from a YAML file
func LoadNormalizer(path string) (*Normalizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var n Normalizer
	if err := yaml.Unmarshal(data, &n); err != nil {
		return nil, err
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}

	return &n, nil
}

// Validate rejects negative sizes.
func (n *Normalizer) Validate() error {
	if n.MinLength < 0 {
		return fmt.Errorf("min_length %d: %w", n.MinLength, internalerr.ErrInvalidConfig)
	}
	if n.ContextLength < 0 {
		return fmt.Errorf("context_length %d: %w", n.ContextLength, internalerr.ErrInvalidConfig)
	}
	return nil
}

// TextConfig converts the file settings into a textnorm.Config.
func (n *Normalizer) TextConfig() textnorm.Config {
	cfg := textnorm.DefaultConfig()
	if n == nil {
		return cfg
	}
	if n.MinLength > 0 {
		cfg.MinLength = n.MinLength
	}
	if n.ContextLength > 0 {
		cfg.ContextLength = n.ContextLength
	}
	if n.StopWords != nil {
		cfg.StopWords = normalizeTerms(n.StopWords)
	}
	cfg.StopWords = append(cfg.StopWords, normalizeTerms(n.ExtraStopWords)...)
	return cfg
}

// NormalizerConfig returns the normalizer configuration at path, or the
// defaults when path is empty.
func NormalizerConfig(path string) (textnorm.Config, error) {
	if path == "" {
		return textnorm.DefaultConfig(), nil
	}
	n, err := LoadNormalizer(path)
	if err != nil {
		return textnorm.Config{}, fmt.Errorf("load normalizer config: %w", err)
	}
	return n.TextConfig(), nil
}

func normalizeTerms(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
