package models

import "testing"

func sampleConfigs() []Config {
	return []Config{
		{ID: "gpt", DisplayName: "GPT-4o", Model: "openai/gpt-4o", Tier: TierStandard},
		{ID: "flash", DisplayName: "Gemini Flash", Model: "google/gemini-2.0-flash", Tier: TierFast},
		{ID: "claude", DisplayName: "Claude", Model: "anthropic/claude-sonnet-4", Tier: TierStandard},
	}
}

func TestRegistryGet(t *testing.T) {
	r := NewRegistry(sampleConfigs())

	c, ok := r.Get("flash")
	if !ok {
		t.Fatal("expected flash to be configured")
	}
	if c.DisplayName != "Gemini Flash" {
		t.Errorf("expected 'Gemini Flash', got %q", c.DisplayName)
	}
	if _, ok := r.Get("missing"); ok {
		t.Error("expected missing identifier to be absent")
	}
}

func TestRegistryAllPreservesOrder(t *testing.T) {
	r := NewRegistry(sampleConfigs())
	all := r.All()
	if len(all) != 3 {
		t.Fatalf("expected 3 models, got %d", len(all))
	}
	if all[0].ID != "gpt" || all[2].ID != "claude" {
		t.Errorf("configuration order not preserved: %+v", all)
	}
}

func TestPreferTier(t *testing.T) {
	r := NewRegistry(sampleConfigs())
	c, ok := r.PreferTier(TierFast)
	if !ok || c.ID != "flash" {
		t.Errorf("expected fast-tier flash, got %+v ok=%v", c, ok)
	}

	// No fast tier configured: fall back to first.
	r = NewRegistry(sampleConfigs()[:1])
	c, ok = r.PreferTier(TierFast)
	if !ok || c.ID != "gpt" {
		t.Errorf("expected fallback to gpt, got %+v ok=%v", c, ok)
	}

	empty := NewRegistry(nil)
	if _, ok := empty.PreferTier(TierFast); ok {
		t.Error("expected ok=false for empty registry")
	}
}

func TestProvider(t *testing.T) {
	tests := []struct {
		model string
		want  string
	}{
		{"openai/gpt-4o", "openai"},
		{"anthropic/claude-sonnet-4", "anthropic"},
		{"local-model", ""},
	}
	for _, tt := range tests {
		c := Config{Model: tt.model}
		if got := c.Provider(); got != tt.want {
			t.Errorf("Provider(%q) = %q, want %q", tt.model, got, tt.want)
		}
	}
}
