package memory

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hyodotdev/locanara/pkg/types"
)

// Level is a coarse classification of system memory scarcity.
type Level string

const (
	LevelNormal   Level = "normal"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// EventType discriminates monitor events.
type EventType string

const (
	// EventPressureChanged fires on every actual level transition.
	EventPressureChanged EventType = "pressure_changed"
	// EventLowMemoryWarning fires when the level rises to warning, and on
	// RequestCleanup.
	EventLowMemoryWarning EventType = "low_memory_warning"
	// EventCriticalMemory fires when the level reaches critical.
	EventCriticalMemory EventType = "critical_memory"
)

// Event is delivered to subscribers.
type Event struct {
	Type     EventType
	Previous Level
	Level    Level
	Stats    types.MemoryStats
}

// Sampler reports total and available system memory in MB.
type Sampler func() (totalMB, availableMB int, err error)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultWarningPercent  = 70.0
	defaultCriticalPercent = 85.0
	defaultSampleInterval  = 5 * time.Second

	// minInferenceMB is the floor below which inference is refused.
	minInferenceMB = 500
	// safetyFactor pads memory requirement checks by 20%.
	safetyFactor = 1.2
	// runtimeOverheadMB is a fixed allowance for the inference runtime.
	runtimeOverheadMB = 200
	// kvBytesPerToken approximates KV-cache cost per context token.
	kvBytesPerToken = 4 * 1024
)

// Config tunes a Monitor.
type Config struct {
	WarningPercent  float64
	CriticalPercent float64
	SampleInterval  time.Duration
	// Sampler overrides the per-OS probe; used by tests.
	Sampler Sampler
	Logger  zerolog.Logger
}

// Monitor samples system memory, classifies pressure, and publishes
// level-change events. Its state is read-many/write-one: only the internal
// handler mutates the level.
type Monitor struct {
	cfg Config
	log zerolog.Logger

	mu    sync.Mutex
	level Level
	subs  []func(Event)

	stopOnce sync.Once
	done     chan struct{}
	loopDone chan struct{}
}

// New returns a Monitor at normal pressure. Call Start to begin sampling.
func New(cfg Config) *Monitor {
	if cfg.WarningPercent <= 0 {
		cfg.WarningPercent = defaultWarningPercent
	}
	if cfg.CriticalPercent <= 0 {
		cfg.CriticalPercent = defaultCriticalPercent
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = defaultSampleInterval
	}
	if cfg.Sampler == nil {
		cfg.Sampler = probe
	}
	return &Monitor{
		cfg:   cfg,
		log:   cfg.Logger,
		level: LevelNormal,
		done:  make(chan struct{}),
	}
}

// Subscribe registers a callback for monitor events. Callbacks must be
// lightweight; they run on the handler's goroutine.
func (m *Monitor) Subscribe(fn func(Event)) {
	m.mu.Lock()
	m.subs = append(m.subs, fn)
	m.mu.Unlock()
}

// Level returns the current pressure classification.
func (m *Monitor) Level() Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// Stats probes system memory on demand.
func (m *Monitor) Stats() (types.MemoryStats, error) {
	totalMB, availMB, err := m.cfg.Sampler()
	if err != nil {
		return types.MemoryStats{}, err
	}
	used := totalMB - availMB
	if used < 0 {
		used = 0
	}
	s := types.MemoryStats{
		TotalMB:     totalMB,
		AvailableMB: availMB,
		UsedMB:      used,
		Pressure:    string(m.Level()),
	}
	if totalMB > 0 {
		s.UsedPercent = float64(used) / float64(totalMB) * 100.0
	}
	return s, nil
}

// Start begins periodic sampling. Stop ends it; Start must not be called
// twice.
func (m *Monitor) Start() {
	m.loopDone = make(chan struct{})
	go m.loop()
}

// Stop halts the sampling loop.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.done) })
	if m.loopDone != nil {
		<-m.loopDone
	}
}

func (m *Monitor) loop() {
	defer close(m.loopDone)
	ticker := time.NewTicker(m.cfg.SampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.Sample()
		}
	}
}

// Sample performs one sampling pass: probe, classify, and publish a change
// if the level moved.
func (m *Monitor) Sample() {
	stats, err := m.Stats()
	if err != nil {
		m.log.Debug().Err(err).Msg("memory probe failed")
		return
	}
	m.handle(m.classify(stats.UsedPercent), stats)
}

// NotifyLowMemory is the OS low-memory notification path. It funnels into
// the same handler as sampling, forcing at least warning pressure.
func (m *Monitor) NotifyLowMemory() {
	stats, err := m.Stats()
	if err != nil {
		stats = types.MemoryStats{}
	}
	level := m.classify(stats.UsedPercent)
	if level == LevelNormal {
		level = LevelWarning
	}
	m.handle(level, stats)
}

func (m *Monitor) classify(usedPercent float64) Level {
	switch {
	case usedPercent >= m.cfg.CriticalPercent:
		return LevelCritical
	case usedPercent >= m.cfg.WarningPercent:
		return LevelWarning
	default:
		return LevelNormal
	}
}

// handle is the single internal handler both notification paths funnel into.
// It fires pressureChanged only on an actual level change.
func (m *Monitor) handle(level Level, stats types.MemoryStats) {
	m.mu.Lock()
	prev := m.level
	if level == prev {
		m.mu.Unlock()
		return
	}
	m.level = level
	subs := make([]func(Event), len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	stats.Pressure = string(level)
	m.log.Info().Str("from", string(prev)).Str("to", string(level)).
		Int("available_mb", stats.AvailableMB).Msg("memory pressure changed")

	m.publish(subs, Event{Type: EventPressureChanged, Previous: prev, Level: level, Stats: stats})
	switch level {
	case LevelWarning:
		m.publish(subs, Event{Type: EventLowMemoryWarning, Previous: prev, Level: level, Stats: stats})
	case LevelCritical:
		m.publish(subs, Event{Type: EventCriticalMemory, Previous: prev, Level: level, Stats: stats})
	}
}

func (m *Monitor) publish(subs []func(Event), e Event) {
	for _, fn := range subs {
		fn(e)
	}
}

// HasEnoughMemory reports whether available memory exceeds requiredMB plus a
// 20% safety buffer. Degrades open (true) when the probe is unavailable.
func (m *Monitor) HasEnoughMemory(requiredMB int) bool {
	stats, err := m.Stats()
	if err != nil {
		m.log.Debug().Err(err).Msg("memory probe failed, skipping check")
		return true
	}
	return float64(stats.AvailableMB) > float64(requiredMB)*safetyFactor
}

// CanRunInference reports whether pressure is below critical and at least
// 500MB is available.
func (m *Monitor) CanRunInference() bool {
	if m.Level() == LevelCritical {
		return false
	}
	stats, err := m.Stats()
	if err != nil {
		return true
	}
	return stats.AvailableMB >= minInferenceMB
}

// EstimateRequirement estimates the MB needed to load and run a model:
// file size, quantization-dependent overhead, a KV-cache allowance scaled by
// context length, and a fixed runtime overhead.
func (m *Monitor) EstimateRequirement(mdl types.Model) int {
	size := mdl.SizeMB
	overhead := int(float64(size) * quantOverhead(mdl.Quant))
	kvMB := mdl.ContextLength * kvBytesPerToken / (1024 * 1024)
	return size + overhead + kvMB + runtimeOverheadMB
}

// quantOverhead returns the runtime overhead fraction for a quantization.
func quantOverhead(quant string) float64 {
	q := strings.ToLower(quant)
	switch {
	case strings.Contains(q, "q4") || strings.Contains(q, "int4"):
		return 0.25
	case strings.Contains(q, "q8") || strings.Contains(q, "int8"):
		return 0.33
	case strings.Contains(q, "f16") || strings.Contains(q, "fp16") || strings.Contains(q, "float16"):
		return 0.50
	case strings.Contains(q, "f32") || strings.Contains(q, "float32"):
		return 1.00
	default:
		return 0.50
	}
}

// RequestCleanup fires a low-memory warning to all subscribers so they may
// release caches. It never unloads anything itself; eviction policy belongs
// to the subscriber.
func (m *Monitor) RequestCleanup() {
	m.mu.Lock()
	level := m.level
	subs := make([]func(Event), len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	stats, _ := m.Stats()
	m.publish(subs, Event{Type: EventLowMemoryWarning, Previous: level, Level: level, Stats: stats})
}
