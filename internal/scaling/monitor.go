// Package scaling implements the closed-loop autoscaling controller of
// spec.md §4.7, grounded on original_source/core/scaling_monitor.py
// and the teacher's own adaptive-pool sizing in
// internal/gateway/dispatcher.go: a 2-second tick compares each
// class's windowed average wait time against scale-up/scale-down
// thresholds, gated by a per-class cooldown and MIN/MAX bounds.
package scaling

import (
	"log/slog"
	"sync"
	"time"

	"reqsim/internal/protocol"
)

// tickInterval matches original_source/core/scaling_monitor.py's
// _monitor_loop poll of 2.0s.
const tickInterval = 2 * time.Second

// Thresholds configures the scale-up/scale-down decision for one run.
type Thresholds struct {
	ScaleUpAvgWait   float64 // avg wait above this triggers scale-up
	ScaleDownAvgWait float64 // avg wait below this triggers scale-down
	Cooldown         time.Duration
	MinPerClass      int
	MaxPerClass      int
}

// MetricsFunc returns the current windowed average wait time for class.
type MetricsFunc func(class protocol.Class) float64

// ScaleFunc scales a class's processor pool up or down by one.
type ScaleFunc func(class protocol.Class)

// Monitor runs the autoscaling tick loop against one queue tier.
type Monitor struct {
	getAvgWait MetricsFunc
	scaleUp    ScaleFunc
	scaleDown  ScaleFunc
	thresholds Thresholds
	logger     *slog.Logger
	now        func() time.Time

	mu             sync.Mutex
	processorCount map[protocol.Class]int
	lastScaleTime  map[protocol.Class]time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Monitor. initialCounts seeds each class's known
// processor count (spec.md starts every class at 1).
func New(getAvgWait MetricsFunc, scaleUp, scaleDown ScaleFunc, thresholds Thresholds, initialCounts map[protocol.Class]int, logger *slog.Logger) *Monitor {
	return NewWithClock(getAvgWait, scaleUp, scaleDown, thresholds, initialCounts, logger, time.Now)
}

// NewWithClock is New with an injectable clock, for deterministic tests.
func NewWithClock(getAvgWait MetricsFunc, scaleUp, scaleDown ScaleFunc, thresholds Thresholds, initialCounts map[protocol.Class]int, logger *slog.Logger, now func() time.Time) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	counts := make(map[protocol.Class]int, len(initialCounts))
	last := make(map[protocol.Class]time.Time, len(initialCounts))
	epoch := now().Add(-24 * time.Hour) // far enough in the past that the first tick is never blocked by cooldown
	for class, n := range initialCounts {
		counts[class] = n
		last[class] = epoch
	}
	return &Monitor{
		getAvgWait:     getAvgWait,
		scaleUp:        scaleUp,
		scaleDown:      scaleDown,
		thresholds:     thresholds,
		logger:         logger,
		now:            now,
		processorCount: counts,
		lastScaleTime:  last,
		stopCh:         make(chan struct{}),
	}
}

// Start launches the tick loop in the background.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.loop()
	m.logger.Info("scaling monitor started")
}

func (m *Monitor) loop() {
	defer m.wg.Done()
	t := time.NewTicker(tickInterval)
	defer t.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-t.C:
			m.Tick()
		}
	}
}

// Tick evaluates every tracked class once. Exported so tests (and a
// deterministic harness) can drive the controller without waiting on
// the wall clock.
func (m *Monitor) Tick() {
	m.mu.Lock()
	classes := make([]protocol.Class, 0, len(m.processorCount))
	for class := range m.processorCount {
		classes = append(classes, class)
	}
	m.mu.Unlock()

	now := m.now()
	for _, class := range classes {
		m.tickClass(class, now)
	}
}

// tickClass evaluates one class, recovering from any panic raised by
// the getAvgWait/scaleUp/scaleDown callbacks so a single bad callback
// cannot kill the monitor's tick loop.
func (m *Monitor) tickClass(class protocol.Class, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("scaling tick panicked, swallowing", "class", class.String(), "panic", r)
		}
	}()
	avgWait := m.getAvgWait(class)
	m.evaluate(class, avgWait, now)
}

func (m *Monitor) evaluate(class protocol.Class, avgWait float64, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sinceLast := now.Sub(m.lastScaleTime[class])
	if sinceLast < m.thresholds.Cooldown {
		return
	}

	switch {
	case avgWait > m.thresholds.ScaleUpAvgWait:
		if m.processorCount[class] >= m.thresholds.MaxPerClass {
			m.logger.Warn("cannot scale up, at max", "class", class.String(), "max", m.thresholds.MaxPerClass)
			return
		}
		m.logger.Info("scaling up", "class", class.String(), "avg_wait", avgWait, "threshold", m.thresholds.ScaleUpAvgWait)
		m.scaleUp(class)
		m.processorCount[class]++
		m.lastScaleTime[class] = now

	case avgWait < m.thresholds.ScaleDownAvgWait:
		if m.processorCount[class] <= m.thresholds.MinPerClass {
			return
		}
		m.logger.Info("scaling down", "class", class.String(), "avg_wait", avgWait, "threshold", m.thresholds.ScaleDownAvgWait)
		m.scaleDown(class)
		m.processorCount[class]--
		m.lastScaleTime[class] = now
	}
}

// Status reports the current known processor count per class, used
// for the result artifact.
func (m *Monitor) Status() map[protocol.Class]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[protocol.Class]int, len(m.processorCount))
	for k, v := range m.processorCount {
		out[k] = v
	}
	return out
}

// Stop halts the tick loop.
func (m *Monitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
	m.logger.Info("scaling monitor stopped")
}
