package types

// GenerateRequest represents a generation request payload.
type GenerateRequest struct {
	// Calling feature; defaults to "chat" when empty.
	Feature string `json:"feature,omitempty"`
	// Required prompt text to generate a completion for.
	Prompt string `json:"prompt"`
	// If true, stream results as NDJSON events.
	Stream bool `json:"stream,omitempty"`
	// Emit coalesced text chunks instead of raw tokens (stream mode only).
	Buffered bool `json:"buffered,omitempty"`
	// Tuning knobs, forwarded opaquely to the active backend.
	Config GenerateConfig `json:"config,omitempty"`
}

// GenerateResponse wraps the result of a blocking generation.
type GenerateResponse struct {
	Result GenerationResult `json:"result"`
	// Engine that served the request, e.g. "platform" or "local:generic-cpu".
	Engine string `json:"engine"`
}

// SwitchRequest selects a local model to switch to.
type SwitchRequest struct {
	ModelID string `json:"model_id"`
}

// PreferredEngineRequest sets the preferred engine kind.
type PreferredEngineRequest struct {
	// "platform" or "local".
	Type string `json:"type"`
	// Local candidate backend id (e.g. "generic-cpu"); empty for platform.
	ID string `json:"id,omitempty"`
}

// ModelsResponse wraps the list of downloaded models.
type ModelsResponse struct {
	Models []Model `json:"models"`
}

// CancelResponse reports whether an in-flight generation was cancelled.
type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// EngineStatus summarizes the router's engine selection for /status.
type EngineStatus struct {
	// Current engine, e.g. "platform", "local:generic-cpu", "none".
	Current string `json:"current"`
	// How the current engine was chosen: auto, forced-platform, forced-local.
	Mode string `json:"mode"`
	// Model id behind the current engine, when local.
	ModelID string `json:"model_id,omitempty"`
	// Engines available on this device.
	Available []string `json:"available"`
	// Whether a model is loaded and ready to serve.
	ModelReady bool `json:"model_ready"`
	// Whether the active handle accepts image input.
	Multimodal bool `json:"multimodal"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Engine EngineStatus `json:"engine"`
	// System memory snapshot; omitted when the probe is unavailable.
	Memory *MemoryStats `json:"memory,omitempty"`
	// Downloaded models known to the catalog.
	Models []Model `json:"models"`
	// Uptime of the daemon in seconds.
	UptimeSeconds int64 `json:"uptime_seconds"`
	// Server time in unix seconds.
	ServerTimeUnix int64 `json:"server_time_unix"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	Error string `json:"error"`
	// Machine-readable error kind (e.g. model_not_downloaded).
	Kind string `json:"kind,omitempty"`
	// HTTP status code.
	Code int `json:"code"`
}
