package llm

import "BiblioScanner/internal/config"

// Pricing maps model names to per-million-token rates.
type Pricing map[string]config.ModelPrice

// Cost returns inputRate*prompt + outputRate*completion for a model; unknown models cost nothing.
func (p Pricing) Cost(model string, promptTokens, completionTokens int) float64 {
	price, ok := p[model]
	if !ok {
		return 0
	}
	return (float64(promptTokens)*price.Input + float64(completionTokens)*price.Output) / 1_000_000
}
