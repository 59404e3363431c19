// Package diagnostics samples host resource pressure so the container
// runtime can decide whether to admit another worker slot.
package diagnostics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// ResourceSnapshot captures host resource state at a point in time.
type ResourceSnapshot struct {
	Timestamp      time.Time `json:"timestamp"`
	CPUPercent     float64   `json:"cpu_percent"`
	MemUsedPercent float64   `json:"mem_used_percent"`
	MemAvailableMB float64   `json:"mem_available_mb"`
}

// HealthWarning represents a single resource concern.
type HealthWarning struct {
	Level   string
	Type    string
	Message string
	Value   float64
	Limit   float64
}

// ResourceMonitor tracks host CPU/memory usage over time and gates worker
// admission when thresholds are exceeded.
type ResourceMonitor struct {
	interval          time.Duration
	cpuThreshold      float64
	memThresholdPct   float64
	historySize       int
	logger            *slog.Logger

	mu      sync.RWMutex
	history []ResourceSnapshot

	stopCh  chan struct{}
	once    sync.Once
	started time.Time
}

// NewResourceMonitor creates a new resource monitor.
func NewResourceMonitor(interval time.Duration, cpuThresholdPercent, memThresholdPercent float64, historySize int, logger *slog.Logger) *ResourceMonitor {
	if historySize <= 0 {
		historySize = 120
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &ResourceMonitor{
		interval:        interval,
		cpuThreshold:    cpuThresholdPercent,
		memThresholdPct: memThresholdPercent,
		historySize:     historySize,
		logger:          logger,
		history:         make([]ResourceSnapshot, 0, historySize),
		stopCh:          make(chan struct{}),
		started:         time.Now(),
	}
}

// Start begins periodic host resource sampling.
func (m *ResourceMonitor) Start(ctx context.Context) {
	go func() {
		m.recordSnapshot(m.TakeSnapshot())
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				snap := m.TakeSnapshot()
				m.recordSnapshot(snap)
				for _, w := range m.checkHealth(snap) {
					if m.logger != nil {
						m.logger.Warn("resource warning", "type", w.Type, "level", w.Level, "value", w.Value, "limit", w.Limit)
					}
				}
			}
		}
	}()
}

// Stop halts the monitoring loop.
func (m *ResourceMonitor) Stop() {
	m.once.Do(func() { close(m.stopCh) })
}

// TakeSnapshot samples current host CPU and memory usage.
func (m *ResourceMonitor) TakeSnapshot() ResourceSnapshot {
	snap := ResourceSnapshot{Timestamp: time.Now()}
	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		snap.CPUPercent = pcts[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		snap.MemUsedPercent = vm.UsedPercent
		snap.MemAvailableMB = float64(vm.Available) / 1024 / 1024
	}
	return snap
}

func (m *ResourceMonitor) recordSnapshot(s ResourceSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, s)
	if len(m.history) > m.historySize {
		m.history = m.history[len(m.history)-m.historySize:]
	}
}

// GetLatest returns the most recent snapshot, sampling fresh if history is empty.
func (m *ResourceMonitor) GetLatest() ResourceSnapshot {
	m.mu.RLock()
	n := len(m.history)
	var latest ResourceSnapshot
	if n > 0 {
		latest = m.history[n-1]
	}
	m.mu.RUnlock()
	if n == 0 {
		return m.TakeSnapshot()
	}
	return latest
}

// AdmitWorker reports whether a new worker container should be admitted
// given current host pressure. Thresholds of 0 disable the corresponding check.
func (m *ResourceMonitor) AdmitWorker() (bool, string) {
	snap := m.GetLatest()
	if m.cpuThreshold > 0 && snap.CPUPercent > m.cpuThreshold {
		return false, fmt.Sprintf("host CPU at %.1f%% exceeds admission threshold %.1f%%", snap.CPUPercent, m.cpuThreshold)
	}
	if m.memThresholdPct > 0 && snap.MemUsedPercent > m.memThresholdPct {
		return false, fmt.Sprintf("host memory at %.1f%% exceeds admission threshold %.1f%%", snap.MemUsedPercent, m.memThresholdPct)
	}
	return true, ""
}

func (m *ResourceMonitor) checkHealth(snap ResourceSnapshot) []HealthWarning {
	var warnings []HealthWarning
	if m.cpuThreshold > 0 && snap.CPUPercent > m.cpuThreshold {
		warnings = append(warnings, HealthWarning{Level: "warning", Type: "cpu", Message: "host CPU pressure", Value: snap.CPUPercent, Limit: m.cpuThreshold})
	}
	if m.memThresholdPct > 0 && snap.MemUsedPercent > m.memThresholdPct {
		warnings = append(warnings, HealthWarning{Level: "warning", Type: "memory", Message: "host memory pressure", Value: snap.MemUsedPercent, Limit: m.memThresholdPct})
	}
	return warnings
}

// Uptime returns how long the monitor has been running.
func (m *ResourceMonitor) Uptime() time.Duration {
	return time.Since(m.started)
}

// GetHistory returns a copy of the retained snapshot history, oldest first.
func (m *ResourceMonitor) GetHistory() []ResourceSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ResourceSnapshot, len(m.history))
	copy(out, m.history)
	return out
}
