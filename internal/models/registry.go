package models

import "strings"

// Tier classifies a configured model by cost/latency.
type Tier string

const (
	TierFast     Tier = "fast"
	TierStandard Tier = "standard"
)

// Config describes one configured model: the identifier discussions refer to,
// the display name shown in transcripts, and the provider-qualified model id.
type Config struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Model       string `json:"model"` // provider-qualified, e.g. "openai/gpt-4o-mini"
	Tier        Tier   `json:"tier"`
}

// Provider returns the provider prefix of the model id ("openai/gpt-4o-mini"
// -> "openai"). Empty when the id carries no prefix.
func (c Config) Provider() string {
	provider, _, ok := strings.Cut(c.Model, "/")
	if !ok {
		return ""
	}
	return provider
}

// Registry holds the configured models, keyed by identifier, preserving
// configuration order.
type Registry struct {
	byID  map[string]Config
	order []string
}

// NewRegistry creates a registry from the configured models. Later duplicates
// of an identifier overwrite earlier ones.
func NewRegistry(configs []Config) *Registry {
	r := &Registry{byID: make(map[string]Config, len(configs))}
	for _, c := range configs {
		if _, seen := r.byID[c.ID]; !seen {
			r.order = append(r.order, c.ID)
		}
		r.byID[c.ID] = c
	}
	return r
}

// Get looks up a model by its configured identifier.
func (r *Registry) Get(id string) (Config, bool) {
	c, ok := r.byID[id]
	return c, ok
}

// All returns the configured models in configuration order.
func (r *Registry) All() []Config {
	out := make([]Config, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// PreferTier returns the first model of the given tier, falling back to the
// first configured model of any tier. ok is false only when the registry is
// empty.
func (r *Registry) PreferTier(tier Tier) (Config, bool) {
	for _, id := range r.order {
		if r.byID[id].Tier == tier {
			return r.byID[id], true
		}
	}
	if len(r.order) == 0 {
		return Config{}, false
	}
	return r.byID[r.order[0]], true
}

// DefaultConfigs returns a fallback set of known free OpenRouter models so the
// CLI works out of the box with just an API key.
func DefaultConfigs() []Config {
	return []Config{
		{ID: "qwen3", DisplayName: "Qwen3 235B", Model: "qwen/qwen3-235b-a22b:free", Tier: TierStandard},
		{ID: "gemma", DisplayName: "Gemma 3n 2B", Model: "google/gemma-3n-e2b-it:free", Tier: TierFast},
		{ID: "nemotron", DisplayName: "Nemotron Nano 9B", Model: "nvidia/nemotron-nano-9b-v2:free", Tier: TierFast},
		{ID: "gpt-oss", DisplayName: "GPT OSS 120B", Model: "openai/gpt-oss-120b:free", Tier: TierStandard},
	}
}
