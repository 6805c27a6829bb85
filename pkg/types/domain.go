package types

// Feature identifies the calling feature of the host application. The router
// forwards it opaquely to the active backend, which may use it to apply
// feature-specific guardrails or prompt scaffolding.
type Feature string

const (
	FeatureChat       Feature = "chat"
	FeatureSummarize  Feature = "summarize"
	FeatureTranslate  Feature = "translate"
	FeatureExtraction Feature = "extraction"
)

// Model represents a downloaded local model on disk.
type Model struct {
	// Stable identifier for the model.
	ID string `json:"id"`
	// Human-friendly name.
	Name string `json:"name"`
	// Absolute path to the model file on disk.
	Path string `json:"path"`
	// Quantization level or variant string (e.g. Q4_K_M, int8, f16).
	Quant string `json:"quant,omitempty"`
	// Optional family (e.g. llama, mistral, phi).
	Family string `json:"family,omitempty"`
	// File size in MB, used for memory requirement estimates.
	SizeMB int `json:"size_mb,omitempty"`
	// Context window length in tokens; 0 means unknown.
	ContextLength int `json:"context_length,omitempty"`
	// Whether the model accepts image input.
	Multimodal bool `json:"multimodal,omitempty"`
}

// GenerateConfig is the set of recognized tuning knobs forwarded opaquely to
// the active backend. The router does not interpret any of them.
type GenerateConfig struct {
	// Maximum number of new tokens to generate.
	MaxTokens int `json:"max_tokens,omitempty"`
	// Sampling temperature (higher = more random).
	Temperature float64 `json:"temperature,omitempty"`
	// Nucleus sampling probability.
	TopP float64 `json:"top_p,omitempty"`
	// Top-K sampling: limit candidates to top K tokens.
	TopK int `json:"top_k,omitempty"`
	// Optional stop sequences. Generation stops when any sequence is matched.
	Stop []string `json:"stop,omitempty"`
	// Random seed for reproducibility; 0 lets the backend choose.
	Seed int64 `json:"seed,omitempty"`
	// Repeat penalty applied by some runtimes.
	RepeatPenalty float64 `json:"repeat_penalty,omitempty"`
}

// GenerationResult summarizes one completed generation.
type GenerationResult struct {
	// Full generated text.
	Text string `json:"text"`
	// Number of tokens produced.
	TokenCount int `json:"token_count"`
	// Wall-clock duration of the generation in milliseconds.
	DurationMS int64 `json:"duration_ms"`
	// Why generation stopped (e.g. stop, length, cancelled).
	FinishReason string `json:"finish_reason"`
}

// MemoryStats is a point-in-time view of system memory.
type MemoryStats struct {
	TotalMB     int     `json:"total_mb"`
	AvailableMB int     `json:"available_mb"`
	UsedMB      int     `json:"used_mb"`
	UsedPercent float64 `json:"used_percent"`
	// Current pressure classification: normal, warning, or critical.
	Pressure string `json:"pressure"`
}
