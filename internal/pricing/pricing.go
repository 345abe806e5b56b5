// Package pricing loads per-model token rates used for cost rollups.
// Rates ship as embedded YAML so deployments without a pricing override
// still produce cost estimates.
package pricing

import (
	"embed"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed config/*.yaml
var configFiles embed.FS

// ModelRate holds one model's USD rates per million tokens.
type ModelRate struct {
	Model         string  `yaml:"model"`
	InputPerMTok  float64 `yaml:"input_per_mtok"`
	OutputPerMTok float64 `yaml:"output_per_mtok"`
}

type rateFile struct {
	Models []ModelRate `yaml:"models"`
}

// Registry resolves per-model token rates. Implements the metrics service's
// PriceTable interface.
type Registry struct {
	rates map[string]ModelRate
	mu    sync.RWMutex
}

// NewRegistry creates a pricing registry from the embedded rate table.
func NewRegistry() (*Registry, error) {
	data, err := configFiles.ReadFile("config/pricing.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded pricing table: %w", err)
	}
	return newFromYAML(data)
}

// NewRegistryFromFile creates a pricing registry from an external YAML file,
// overriding the embedded defaults entirely.
func NewRegistryFromFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing table %s: %w", path, err)
	}
	return newFromYAML(data)
}

func newFromYAML(data []byte) (*Registry, error) {
	var file rateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("unmarshal pricing table: %w", err)
	}

	rates := make(map[string]ModelRate, len(file.Models))
	for _, rate := range file.Models {
		if rate.Model == "" {
			return nil, fmt.Errorf("pricing table entry missing model id")
		}
		rates[rate.Model] = rate
	}

	return &Registry{rates: rates}, nil
}

// Rates returns the input and output USD-per-token rates for a model.
// ok is false for models absent from the table.
func (r *Registry) Rates(model string) (input, output float64, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rate, ok := r.rates[model]
	if !ok {
		return 0, 0, false
	}
	return rate.InputPerMTok / 1_000_000, rate.OutputPerMTok / 1_000_000, true
}

// Len reports how many models the table covers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rates)
}

// SetRate inserts or replaces a model's rate at runtime.
func (r *Registry) SetRate(rate ModelRate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rates[rate.Model] = rate
}
