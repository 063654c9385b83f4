// Package pricing loads the per-model token price catalog used to estimate
// turn cost when the provider does not report one itself.
package pricing

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/debatearena/arena-gateway/internal/turn"
)

// Entry describes pricing for one model, in USD per million tokens.
type Entry struct {
	Model            string  `yaml:"model"`
	Provider         string  `yaml:"provider,omitempty"`
	PromptPerMTok    float64 `yaml:"prompt_per_mtok"`
	CompletePerMTok  float64 `yaml:"completion_per_mtok"`
	ReasoningPerMTok float64 `yaml:"reasoning_per_mtok,omitempty"`
}

type catalog struct {
	Models []Entry `yaml:"models"`
}

// Store holds the loaded catalog with lookups keyed by lowercased model id.
type Store struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewStore returns an empty store; Cost reports (0, false) until Load.
func NewStore() *Store {
	return &Store{entries: make(map[string]Entry)}
}

// Load replaces the catalog from a YAML file. Returns the number of entries.
func (s *Store) Load(path string) (int, error) {
	if strings.TrimSpace(path) == "" {
		return 0, errors.New("pricing: empty path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return s.LoadBytes(b)
}

// LoadBytes replaces the catalog from raw YAML.
func (s *Store) LoadBytes(b []byte) (int, error) {
	var c catalog
	if err := yaml.Unmarshal(b, &c); err != nil {
		return 0, fmt.Errorf("pricing: parse catalog: %w", err)
	}
	entries := make(map[string]Entry, len(c.Models))
	for _, e := range c.Models {
		key := strings.ToLower(strings.TrimSpace(e.Model))
		if key == "" {
			continue
		}
		entries[key] = e
	}
	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()
	return len(entries), nil
}

// Cost computes the USD cost of the given usage for a model. The second
// return is false when the model is not in the catalog.
func (s *Store) Cost(model string, usage turn.Usage) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[strings.ToLower(strings.TrimSpace(model))]
	if !ok {
		return 0, false
	}
	cost := float64(usage.PromptTokens)*e.PromptPerMTok/1e6 +
		float64(usage.CompletionTokens)*e.CompletePerMTok/1e6
	return cost, true
}
