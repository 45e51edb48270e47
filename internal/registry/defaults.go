package registry

// DefaultEntries is the built-in price table the registry is built from;
// nothing in this repository replaces it at runtime. Rates are
// per-1000-token prices in USD, matching the provider's published pricing
// at the time this table was curated.
func DefaultEntries() []Entry {
	return []Entry{
		{ModelID: "gpt-4o", Provider: "openai", InputPricePer1K: 0.005, OutputPricePer1K: 0.015, Currency: "USD", ContextWindow: 128000, Capabilities: []string{"chat", "vision", "function_calling"}},
		{ModelID: "gpt-4o-mini", Provider: "openai", InputPricePer1K: 0.00015, OutputPricePer1K: 0.0006, Currency: "USD", ContextWindow: 128000, Capabilities: []string{"chat", "vision", "function_calling"}},
		{ModelID: "gpt-4-turbo", Provider: "openai", InputPricePer1K: 0.01, OutputPricePer1K: 0.03, Currency: "USD", ContextWindow: 128000, Capabilities: []string{"chat", "function_calling"}},
		{ModelID: "claude-3-opus-20240229", Provider: "anthropic", InputPricePer1K: 0.015, OutputPricePer1K: 0.075, Currency: "USD", ContextWindow: 200000, Capabilities: []string{"chat", "vision"}},
		{ModelID: "claude-3-5-sonnet-20241022", Provider: "anthropic", InputPricePer1K: 0.003, OutputPricePer1K: 0.015, Currency: "USD", ContextWindow: 200000, Capabilities: []string{"chat", "vision", "function_calling"}},
		{ModelID: "gemini-1.5-pro", Provider: "google", InputPricePer1K: 0.00125, OutputPricePer1K: 0.005, Currency: "USD", ContextWindow: 2000000, Capabilities: []string{"chat", "vision"}},
		{ModelID: "gemini-1.5-flash", Provider: "google", InputPricePer1K: 0.000075, OutputPricePer1K: 0.0003, Currency: "USD", ContextWindow: 1000000, Capabilities: []string{"chat", "vision"}},
	}
}

// DefaultAliases maps friendly or legacy model names to their canonical id.
func DefaultAliases() map[string]string {
	return map[string]string{
		"gpt-4o-latest":  "gpt-4o",
		"gpt-4-turbo-preview": "gpt-4-turbo",
		"claude-3-opus":  "claude-3-opus-20240229",
		"claude-3.5-sonnet": "claude-3-5-sonnet-20241022",
		"gemini-pro":     "gemini-1.5-pro",
		"gemini-flash":   "gemini-1.5-flash",
	}
}
