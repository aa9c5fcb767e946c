package admission

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/procfs"
)

// ResourceMonitor samples this process's CPU and memory usage from procfs and
// fails closed when either crosses its ceiling. On platforms without procfs
// the monitor disables itself and always reports healthy.
type ResourceMonitor struct {
	cpuMaxPercent float64
	memMaxPercent float64

	mu          sync.Mutex
	enabled     bool
	proc        procfs.Proc
	memTotalKB  uint64
	lastCPUTime float64
	lastSample  time.Time
	now         func() time.Time
}

// NewResourceMonitor builds a monitor with the given percentage ceilings.
func NewResourceMonitor(cpuMaxPercent, memMaxPercent float64) *ResourceMonitor {
	m := &ResourceMonitor{
		cpuMaxPercent: cpuMaxPercent,
		memMaxPercent: memMaxPercent,
		now:           time.Now,
	}
	proc, err := procfs.Self()
	if err != nil {
		return m
	}
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return m
	}
	mi, err := fs.Meminfo()
	if err != nil || mi.MemTotal == nil || *mi.MemTotal == 0 {
		return m
	}
	m.proc = proc
	m.memTotalKB = *mi.MemTotal
	m.enabled = true
	return m
}

// Check returns an *OverloadError when the process exceeds a resource
// ceiling. The first call after startup establishes the CPU baseline and
// always passes the CPU check.
func (m *ResourceMonitor) Check() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enabled {
		return nil
	}
	stat, err := m.proc.Stat()
	if err != nil {
		// Sampling failure is not overload; let the request through.
		return nil
	}

	memPct := float64(stat.ResidentMemory()) / (float64(m.memTotalKB) * 1024.0) * 100.0
	if memPct > m.memMaxPercent {
		return &OverloadError{Reason: fmt.Sprintf("memory %.1f%% exceeds %.0f%% ceiling", memPct, m.memMaxPercent)}
	}

	now := m.now()
	cpuTime := stat.CPUTime()
	if !m.lastSample.IsZero() {
		wall := now.Sub(m.lastSample).Seconds()
		if wall > 0 {
			cpuPct := (cpuTime - m.lastCPUTime) / wall * 100.0
			if cpuPct > m.cpuMaxPercent {
				m.lastCPUTime = cpuTime
				m.lastSample = now
				return &OverloadError{Reason: fmt.Sprintf("cpu %.1f%% exceeds %.0f%% ceiling", cpuPct, m.cpuMaxPercent)}
			}
		}
	}
	m.lastCPUTime = cpuTime
	m.lastSample = now
	return nil
}

// Enabled reports whether procfs sampling is available.
func (m *ResourceMonitor) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}
