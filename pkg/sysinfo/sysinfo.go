package sysinfo

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// Snapshot is a point-in-time view of the host and the process.
type Snapshot struct {
	MemUsed    uint64
	MemTotal   uint64
	MemPercent float64

	DiskFree  uint64
	DiskTotal uint64

	Goroutines int
	Uptime     time.Duration
}

var started = time.Now()

// Collect gathers memory usage and disk usage of the filesystem holding path.
func Collect(ctx context.Context, path string) (Snapshot, error) {
	s := Snapshot{
		Goroutines: runtime.NumGoroutine(),
		Uptime:     time.Since(started),
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return s, fmt.Errorf("reading memory stats: %w", err)
	}
	s.MemUsed = vm.Used
	s.MemTotal = vm.Total
	s.MemPercent = vm.UsedPercent

	du, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return s, fmt.Errorf("reading disk usage: %w", err)
	}
	s.DiskFree = du.Free
	s.DiskTotal = du.Total

	return s, nil
}

// FormatBytes renders a byte count with a binary unit.
func FormatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
