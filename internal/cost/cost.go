// Package cost accumulates the monetary cost of metered provider calls.
package cost

import (
	"math"
	"sort"
)

// Provider names used as ledger keys.
const (
	ProviderClassifier = "classifier"
	ProviderSocial     = "social"
)

// Usage is the token usage reported by one completion.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// PriceTable holds USD prices per million tokens for one provider.
type PriceTable struct {
	InputPerMillion  float64 `json:"input_per_million"`
	OutputPerMillion float64 `json:"output_per_million"`
}

// Cost returns the USD cost of the given usage.
func (p PriceTable) Cost(u Usage) float64 {
	return (float64(u.InputTokens)*p.InputPerMillion + float64(u.OutputTokens)*p.OutputPerMillion) / 1_000_000
}

// Ledger is an immutable accumulation of cost fragments keyed by provider.
// Add and Merge return new ledgers and never mutate the receiver.
type Ledger struct {
	ByProvider map[string]float64 `json:"by_provider,omitempty"`
}

// Add returns a ledger with amount added under provider.
// Zero and negative amounts are ignored.
func (l Ledger) Add(provider string, amount float64) Ledger {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return l
	}
	out := l.clone()
	out.ByProvider[provider] += amount
	return out
}

// Charge prices usage with table and adds it under provider.
func (l Ledger) Charge(provider string, table PriceTable, u Usage) Ledger {
	return l.Add(provider, table.Cost(u))
}

// Merge returns the sum of both ledgers.
func (l Ledger) Merge(other Ledger) Ledger {
	if len(other.ByProvider) == 0 {
		return l
	}
	out := l.clone()
	for p, amount := range other.ByProvider {
		out.ByProvider[p] += amount
	}
	return out
}

// Total returns the sum across providers, rounded to micro-dollars.
func (l Ledger) Total() float64 {
	var sum float64
	for _, p := range l.Providers() {
		sum += l.ByProvider[p]
	}
	return Round(sum)
}

// For returns the amount charged to one provider.
func (l Ledger) For(provider string) float64 {
	return Round(l.ByProvider[provider])
}

// Providers returns the provider keys in sorted order.
func (l Ledger) Providers() []string {
	keys := make([]string, 0, len(l.ByProvider))
	for p := range l.ByProvider {
		keys = append(keys, p)
	}
	sort.Strings(keys)
	return keys
}

// IsZero reports whether nothing has been charged.
func (l Ledger) IsZero() bool {
	return len(l.ByProvider) == 0
}

func (l Ledger) clone() Ledger {
	out := Ledger{ByProvider: make(map[string]float64, len(l.ByProvider)+1)}
	for p, amount := range l.ByProvider {
		out.ByProvider[p] = amount
	}
	return out
}

// Round rounds a USD amount to six decimal places.
func Round(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
