package engine

// KindType discriminates the closed set of engine kinds.
type KindType string

const (
	KindNone     KindType = "none"
	KindPlatform KindType = "platform"
	KindLocal    KindType = "local"
)

// Well-known local candidate backend ids.
const (
	LocalGenericCPU  = "generic-cpu"
	LocalGPU         = "gpu-accelerated"
	LocalNeuralAccel = "neural-accelerator"
)

// Kind identifies one engine slot: the privileged platform engine provided by
// the host environment, a pluggable local candidate by id, or none.
// Kind is comparable; construct values with None, Platform, or Local.
type Kind struct {
	Type KindType
	// Backend id for local kinds (e.g. "generic-cpu"); empty otherwise.
	ID string
}

func None() Kind             { return Kind{Type: KindNone} }
func Platform() Kind         { return Kind{Type: KindPlatform} }
func Local(id string) Kind   { return Kind{Type: KindLocal, ID: id} }
func (k Kind) IsNone() bool  { return k.Type == KindNone || k.Type == "" }
func (k Kind) IsLocal() bool { return k.Type == KindLocal }

func (k Kind) IsPlatform() bool { return k.Type == KindPlatform }

func (k Kind) String() string {
	switch k.Type {
	case KindPlatform:
		return "platform"
	case KindLocal:
		return "local:" + k.ID
	default:
		return "none"
	}
}

// Policy records how the current engine selection was made.
type Policy string

const (
	PolicyAuto           Policy = "auto"
	PolicyForcedPlatform Policy = "forced-platform"
	PolicyForcedLocal    Policy = "forced-local"
)

// Mode is the router's selection mode. It is set only as the result of a
// completed switch, never optimistically before the switch succeeds.
type Mode struct {
	Policy Policy
	// Model id pinned by a forced-local switch; empty otherwise.
	ModelID string
}

func AutoMode() Mode                  { return Mode{Policy: PolicyAuto} }
func ForcedPlatformMode() Mode        { return Mode{Policy: PolicyForcedPlatform} }
func ForcedLocalMode(id string) Mode  { return Mode{Policy: PolicyForcedLocal, ModelID: id} }
func (m Mode) String() string {
	if m.Policy == PolicyForcedLocal {
		return string(m.Policy) + ":" + m.ModelID
	}
	if m.Policy == "" {
		return string(PolicyAuto)
	}
	return string(m.Policy)
}
