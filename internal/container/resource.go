package container

import (
	"sync"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/hugo-lorenzo-mato/quorum-ai/internal/core"
)

// ResourceMonitor samples host CPU/memory pressure, grounded on the
// teacher's diagnostics.SystemMetricsCollector (cpu.Times delta-based
// percent, mem.VirtualMemory), pared down to the two gauges the Container
// Runtime needs to decide admission — the teacher's GPU/disk/load-average
// collection has no corresponding spec component.
type ResourceMonitor struct {
	mu           sync.Mutex
	lastCPUTotal float64
	lastCPUIdle  float64
}

// NewResourceMonitor constructs a monitor with no prior sample, so its
// first Sample call reports zero CPU usage (no delta to compute against yet).
func NewResourceMonitor() *ResourceMonitor {
	return &ResourceMonitor{}
}

// Sample returns the current host CPU/memory utilization.
func (m *ResourceMonitor) Sample() core.ResourceSample {
	m.mu.Lock()
	defer m.mu.Unlock()

	var sample core.ResourceSample

	if vm, err := mem.VirtualMemory(); err == nil {
		sample.MemoryPercent = vm.UsedPercent
	}

	if times, err := cpu.Times(false); err == nil && len(times) > 0 {
		t := times[0]
		total := t.User + t.Nice + t.System + t.Idle + t.Iowait + t.Irq + t.Softirq + t.Steal
		idle := t.Idle + t.Iowait

		if m.lastCPUTotal > 0 {
			totalDelta := total - m.lastCPUTotal
			idleDelta := idle - m.lastCPUIdle
			if totalDelta > 0 {
				sample.CPUPercent = (1 - idleDelta/totalDelta) * 100
			}
		}
		m.lastCPUTotal = total
		m.lastCPUIdle = idle
	}

	return sample
}

// Admitter gates new container starts against configured resource caps
// (spec §4.5 "resource caps (optional)"): when either cap is non-zero and
// the latest sample exceeds it, admission is refused so the Scheduler
// leaves the worker idle rather than starting a container that will
// immediately starve alongside its siblings.
type Admitter struct {
	monitor       *ResourceMonitor
	maxCPUPercent float64
	maxMemPercent float64
}

// NewAdmitter constructs an Admitter. A zero threshold disables that check.
func NewAdmitter(monitor *ResourceMonitor, maxCPUPercent, maxMemPercent float64) *Admitter {
	return &Admitter{monitor: monitor, maxCPUPercent: maxCPUPercent, maxMemPercent: maxMemPercent}
}

// Admit reports whether a new container may be started right now, and the
// sample the decision was based on.
func (a *Admitter) Admit() (bool, core.ResourceSample) {
	sample := a.monitor.Sample()
	if a.maxCPUPercent > 0 && sample.CPUPercent > a.maxCPUPercent {
		return false, sample
	}
	if a.maxMemPercent > 0 && sample.MemoryPercent > a.maxMemPercent {
		return false, sample
	}
	return true, sample
}
