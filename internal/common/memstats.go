package common

import (
	"fmt"
	"runtime"
	"time"
)

// MemoryStats is the subset of runtime memory statistics worth reporting
// for a long-running frame stream.
type MemoryStats struct {
	Alloc      uint64 `json:"alloc_bytes"`
	TotalAlloc uint64 `json:"total_alloc_bytes"`
	Sys        uint64 `json:"sys_bytes"`
	HeapInuse  uint64 `json:"heap_inuse_bytes"`
	NumGC      uint32 `json:"num_gc"`
	Goroutines int    `json:"goroutines"`
}

// GetMemoryStats returns current memory statistics.
func GetMemoryStats() MemoryStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemoryStats{
		Alloc:      m.Alloc,
		TotalAlloc: m.TotalAlloc,
		Sys:        m.Sys,
		HeapInuse:  m.HeapInuse,
		NumGC:      m.NumGC,
		Goroutines: runtime.NumGoroutine(),
	}
}

// String returns a formatted string representation of memory stats.
func (m MemoryStats) String() string {
	return fmt.Sprintf("Alloc: %d KB, Total: %d KB, Sys: %d KB, GC: %d",
		m.Alloc/1024,
		m.TotalAlloc/1024,
		m.Sys/1024,
		m.NumGC)
}

// RunStats summarizes a batch of analyzed frames.
type RunStats struct {
	Name         string
	Duration     time.Duration
	Frames       int
	Decoded      int
	MemoryBefore MemoryStats
	MemoryAfter  MemoryStats
}

// String returns a formatted string representation of the run.
func (rs RunStats) String() string {
	if rs.Frames == 0 {
		return fmt.Sprintf("%s: no frames", rs.Name)
	}
	avg := rs.Duration / time.Duration(rs.Frames)
	memDiff := int64(rs.MemoryAfter.TotalAlloc) - int64(rs.MemoryBefore.TotalAlloc) //nolint:gosec // G115: display only
	return fmt.Sprintf("%s: %d frames, %d decoded, avg: %v, total: %v, alloc: +%d KB",
		rs.Name, rs.Frames, rs.Decoded, avg, rs.Duration, memDiff/1024)
}
