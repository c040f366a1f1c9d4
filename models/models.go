// Package models is a static catalog of chat model metadata plus a
// cheap token-count heuristic. It involves no network calls; unknown
// models fall back to conservative defaults.
package models

import (
	"github.com/samber/lo"
)

// Info describes a chat model.
type Info struct {
	ID            string
	ContextWindow int
	// Prices are USD per million tokens.
	InputPricePer1M  float64
	OutputPricePer1M float64
}

// DefaultContextWindow is assumed for models not in the catalog.
const DefaultContextWindow = 8192

var catalog = []Info{
	{ID: "gpt-4o", ContextWindow: 128000, InputPricePer1M: 2.50, OutputPricePer1M: 10.00},
	{ID: "gpt-4o-mini", ContextWindow: 128000, InputPricePer1M: 0.15, OutputPricePer1M: 0.60},
	{ID: "gpt-4-turbo", ContextWindow: 128000, InputPricePer1M: 10.00, OutputPricePer1M: 30.00},
	{ID: "gpt-4", ContextWindow: 8192, InputPricePer1M: 30.00, OutputPricePer1M: 60.00},
	{ID: "gpt-3.5-turbo", ContextWindow: 16385, InputPricePer1M: 0.50, OutputPricePer1M: 1.50},
	{ID: "o1-mini", ContextWindow: 128000, InputPricePer1M: 1.10, OutputPricePer1M: 4.40},
}

// Lookup returns the catalog entry for a model id.
func Lookup(id string) (Info, bool) {
	return lo.Find(catalog, func(m Info) bool { return m.ID == id })
}

// ContextWindow returns the model's context window, or the default for
// unknown models.
func ContextWindow(id string) int {
	if m, ok := Lookup(id); ok {
		return m.ContextWindow
	}
	return DefaultContextWindow
}

// IDs returns the catalog's model ids.
func IDs() []string {
	return lo.Map(catalog, func(m Info, _ int) string { return m.ID })
}

// EstimateTokens estimates the token count of a text as length/4,
// rounded up. It is a sizing heuristic, not a tokenizer.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// Cost computes the USD cost of a completion for a known model. Unknown
// models cost zero.
func Cost(id string, promptTokens, completionTokens int) float64 {
	m, ok := Lookup(id)
	if !ok {
		return 0
	}
	return float64(promptTokens)/1e6*m.InputPricePer1M +
		float64(completionTokens)/1e6*m.OutputPricePer1M
}
