package memory

import (
	"errors"
	"testing"

	"github.com/hyodotdev/locanara/pkg/types"
)

// fixedSampler returns a settable total/available pair.
type fixedSampler struct {
	totalMB int
	availMB int
	err     error
}

func (s *fixedSampler) sample() (int, int, error) {
	return s.totalMB, s.availMB, s.err
}

func newTestMonitor(s *fixedSampler) *Monitor {
	return New(Config{Sampler: s.sample})
}

func TestClassifyBoundaries(t *testing.T) {
	// 1000MB total: 700 used is exactly the warning threshold, 850 the
	// critical one, 699 stays normal.
	s := &fixedSampler{totalMB: 1000, availMB: 301} // 699 used
	m := newTestMonitor(s)
	m.Sample()
	if got := m.Level(); got != LevelNormal {
		t.Fatalf("699/1000 level=%s", got)
	}

	s.availMB = 300 // 700 used
	m.Sample()
	if got := m.Level(); got != LevelWarning {
		t.Fatalf("700/1000 level=%s", got)
	}

	s.availMB = 150 // 850 used
	m.Sample()
	if got := m.Level(); got != LevelCritical {
		t.Fatalf("850/1000 level=%s", got)
	}

	s.availMB = 151 // 849 used
	m.Sample()
	if got := m.Level(); got != LevelWarning {
		t.Fatalf("849/1000 level=%s", got)
	}
}

func TestTransitionEventsDeduped(t *testing.T) {
	s := &fixedSampler{totalMB: 1000, availMB: 500}
	m := newTestMonitor(s)
	var events []Event
	m.Subscribe(func(e Event) { events = append(events, e) })

	m.Sample() // normal -> normal, no event
	if len(events) != 0 {
		t.Fatalf("events on no-op sample: %+v", events)
	}

	s.availMB = 250 // warning
	m.Sample()
	m.Sample() // same level again, deduped
	if len(events) != 2 {
		t.Fatalf("expected pressure_changed + low_memory_warning, got %+v", events)
	}
	if events[0].Type != EventPressureChanged || events[0].Previous != LevelNormal || events[0].Level != LevelWarning {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[1].Type != EventLowMemoryWarning {
		t.Fatalf("unexpected second event: %+v", events[1])
	}

	events = events[:0]
	s.availMB = 100 // critical
	m.Sample()
	if len(events) != 2 || events[1].Type != EventCriticalMemory {
		t.Fatalf("expected critical pair, got %+v", events)
	}

	events = events[:0]
	s.availMB = 600 // back to normal
	m.Sample()
	if len(events) != 1 || events[0].Type != EventPressureChanged || events[0].Level != LevelNormal {
		t.Fatalf("expected single pressure_changed on recovery, got %+v", events)
	}
}

func TestNotifyLowMemoryForcesWarning(t *testing.T) {
	s := &fixedSampler{totalMB: 1000, availMB: 900} // well into normal
	m := newTestMonitor(s)
	var events []Event
	m.Subscribe(func(e Event) { events = append(events, e) })

	m.NotifyLowMemory()
	if got := m.Level(); got != LevelWarning {
		t.Fatalf("level=%s after notify", got)
	}
	if len(events) != 2 || events[1].Type != EventLowMemoryWarning {
		t.Fatalf("events: %+v", events)
	}

	// When usage already classifies higher, the notification keeps it.
	s.availMB = 100
	m.NotifyLowMemory()
	if got := m.Level(); got != LevelCritical {
		t.Fatalf("level=%s", got)
	}
}

func TestHasEnoughMemorySafetyBuffer(t *testing.T) {
	s := &fixedSampler{totalMB: 8000, availMB: 1200}
	m := newTestMonitor(s)

	// 1000 * 1.2 = 1200; strictly-greater is required.
	if m.HasEnoughMemory(1000) {
		t.Fatalf("1200 available should not satisfy 1000 required")
	}
	s.availMB = 1201
	if !m.HasEnoughMemory(1000) {
		t.Fatalf("1201 available should satisfy 1000 required")
	}
}

func TestHasEnoughMemoryDegradesOpenOnProbeError(t *testing.T) {
	s := &fixedSampler{err: errors.New("no probe")}
	m := newTestMonitor(s)
	if !m.HasEnoughMemory(100000) {
		t.Fatalf("probe failure should not block loads")
	}
	if !m.CanRunInference() {
		t.Fatalf("probe failure should not block inference")
	}
}

func TestCanRunInference(t *testing.T) {
	s := &fixedSampler{totalMB: 8000, availMB: 499}
	m := newTestMonitor(s)
	if m.CanRunInference() {
		t.Fatalf("499MB available must refuse inference")
	}
	s.availMB = 500
	if !m.CanRunInference() {
		t.Fatalf("500MB available must allow inference")
	}

	// Critical pressure refuses regardless of the absolute floor.
	s.availMB = 600
	s.totalMB = 1000 // 400 used -> normal; force critical via sample
	s.availMB = 100
	m.Sample()
	s.availMB = 600
	if m.CanRunInference() {
		t.Fatalf("critical pressure must refuse inference")
	}
}

func TestEstimateRequirement(t *testing.T) {
	m := newTestMonitor(&fixedSampler{totalMB: 8000, availMB: 4000})
	cases := []struct {
		model types.Model
		want  int
	}{
		// 4KB per context token is 4MB per 1024 tokens.
		{types.Model{SizeMB: 1000, Quant: "Q4_K_M", ContextLength: 1024}, 1000 + 250 + 4 + 200},
		{types.Model{SizeMB: 1000, Quant: "int8", ContextLength: 0}, 1000 + 330 + 200},
		{types.Model{SizeMB: 1000, Quant: "f16", ContextLength: 2048}, 1000 + 500 + 8 + 200},
		{types.Model{SizeMB: 1000, Quant: "f32", ContextLength: 0}, 1000 + 1000 + 200},
		// Unknown quantization assumes the f16 overhead.
		{types.Model{SizeMB: 1000, Quant: "", ContextLength: 0}, 1000 + 500 + 200},
	}
	for _, tc := range cases {
		if got := m.EstimateRequirement(tc.model); got != tc.want {
			t.Fatalf("estimate(%+v) = %d, want %d", tc.model, got, tc.want)
		}
	}
}

func TestRequestCleanupNotifiesWithoutLevelChange(t *testing.T) {
	s := &fixedSampler{totalMB: 1000, availMB: 900}
	m := newTestMonitor(s)
	var events []Event
	m.Subscribe(func(e Event) { events = append(events, e) })

	m.RequestCleanup()
	if len(events) != 1 || events[0].Type != EventLowMemoryWarning {
		t.Fatalf("events: %+v", events)
	}
	if got := m.Level(); got != LevelNormal {
		t.Fatalf("cleanup changed level to %s", got)
	}
}

func TestStatsComputesUsage(t *testing.T) {
	s := &fixedSampler{totalMB: 2000, availMB: 500}
	m := newTestMonitor(s)
	stats, err := m.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.UsedMB != 1500 || stats.UsedPercent != 75.0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.Pressure != string(LevelNormal) {
		t.Fatalf("pressure: %q", stats.Pressure)
	}
}

func TestStartStop(t *testing.T) {
	s := &fixedSampler{totalMB: 1000, availMB: 800}
	m := newTestMonitor(s)
	m.Start()
	m.Stop()
	// Stop twice must not panic or hang.
	m.Stop()
}
