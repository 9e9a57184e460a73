// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package memprofiler records traces of the memory usage of each device, sampled at points chosen by
// the caller (e.g. after each operator), to find the peak memory of a program.
package memprofiler

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/shardrt/pkg/core/device"
	"github.com/gomlx/shardrt/pkg/runtime/memorypool"
)

// Sample is the memory usage of a device at one point, labeled with a tag.
type Sample struct {
	Used, Reserved int64
	Tag            string
}

// Stats is the trace of memory samples of one device.
type Stats struct {
	Traces      []Sample
	MaxTraceIdx int
}

// MaxInfo summarizes the peak of a device's memory trace.
type MaxInfo struct {
	MaxUsed, MaxReserved int64

	// PeakTraceIdx is the index of the sample with the largest Used memory.
	PeakTraceIdx int
	NumTraces    int
}

// Profiler records memory traces for all devices, sampling them from the memory pools.
type Profiler struct {
	pools     *memorypool.Pools
	profiling atomic.Bool

	mu    sync.Mutex
	stats map[device.Device]*Stats
}

// New creates a Profiler sampling the given memory pools. Profiling starts disabled.
func New(pools *memorypool.Pools) *Profiler {
	return &Profiler{pools: pools, stats: make(map[device.Device]*Stats)}
}

// SetProfiling enables or disables recording.
func (p *Profiler) SetProfiling(profiling bool) {
	p.profiling.Store(profiling)
}

// IsProfiling returns whether recording is enabled.
func (p *Profiler) IsProfiling() bool {
	return p.profiling.Load()
}

// Record samples the current memory usage of dev under tag. It is a no-op if profiling is disabled.
func (p *Profiler) Record(dev device.Device, tag string) {
	if !p.IsProfiling() {
		return
	}
	used, reserved := p.pools.Pool(dev).PoolSize()
	p.mu.Lock()
	defer p.mu.Unlock()
	stats, found := p.stats[dev]
	if !found {
		stats = &Stats{}
		p.stats[dev] = stats
	}
	stats.Traces = append(stats.Traces, Sample{Used: used, Reserved: reserved, Tag: tag})
	if used > stats.Traces[stats.MaxTraceIdx].Used {
		stats.MaxTraceIdx = len(stats.Traces) - 1
	}
}

// Reset drops all traces.
func (p *Profiler) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats = make(map[device.Device]*Stats)
}

// MaxMemoryInfo returns the peak memory usage recorded for dev. It is all zeros if nothing was recorded.
func (p *Profiler) MaxMemoryInfo(dev device.Device) MaxInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	stats, found := p.stats[dev]
	if !found || len(stats.Traces) == 0 {
		return MaxInfo{}
	}
	info := MaxInfo{PeakTraceIdx: stats.MaxTraceIdx, NumTraces: len(stats.Traces)}
	for _, sample := range stats.Traces {
		info.MaxUsed = max(info.MaxUsed, sample.Used)
		info.MaxReserved = max(info.MaxReserved, sample.Reserved)
	}
	return info
}

var (
	headerStyle = lipgloss.NewStyle().Reverse(true).Padding(0, 2, 0, 2).Align(lipgloss.Center)
	rowStyle    = lipgloss.NewStyle().PaddingLeft(1).PaddingRight(1)
	peakStyle   = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "9", Dark: "9"}).
			Bold(true).
			PaddingLeft(1).PaddingRight(1)
)

// Trace renders the memory trace of dev as a table, with the peak row highlighted.
func (p *Profiler) Trace(dev device.Device) string {
	p.mu.Lock()
	var traces []Sample
	peak := -1
	if stats, found := p.stats[dev]; found {
		traces = append(traces, stats.Traces...)
		peak = stats.MaxTraceIdx
	}
	p.mu.Unlock()

	var sb strings.Builder
	fmt.Fprintf(&sb, "Memory trace of %s (%d samples)\n", dev, len(traces))
	if len(traces) == 0 {
		return sb.String()
	}
	table := lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		Headers("#", "Tag", "Used", "Reserved").
		StyleFunc(func(row, col int) lipgloss.Style {
			var s lipgloss.Style
			switch {
			case row < 0:
				return headerStyle
			case row == peak:
				s = peakStyle
			default:
				s = rowStyle
			}
			if col == 1 {
				return s.Align(lipgloss.Left)
			}
			return s.Align(lipgloss.Right)
		})
	for ii, sample := range traces {
		table.Row(fmt.Sprint(ii), sample.Tag,
			humanize.IBytes(uint64(sample.Used)), humanize.IBytes(uint64(sample.Reserved)))
	}
	sb.WriteString(table.Render())
	sb.WriteString("\n")
	return sb.String()
}
