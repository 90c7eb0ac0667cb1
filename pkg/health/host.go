package health

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostSource reads CPU, memory, disk and load of the local machine.
type HostSource struct {
	name      string
	mountPath string
}

// NewHostSource creates a host reader; mountPath selects the filesystem for "disk".
func NewHostSource(name, mountPath string) *HostSource {
	if mountPath == "" {
		mountPath = "/"
	}
	return &HostSource{name: name, mountPath: mountPath}
}

// Name implements Source.
func (h *HostSource) Name() string { return h.name }

// Poll implements Source. cpu and memory are required, disk and load are best effort.
func (h *HostSource) Poll(ctx context.Context) (Readings, error) {
	out := make(Readings, 4)

	// zero interval compares against the previous call instead of sleeping
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return nil, fmt.Errorf("reading cpu usage: %w", err)
	}
	if len(percents) > 0 {
		out["cpu"] = percents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading memory usage: %w", err)
	}
	out["memory"] = vm.UsedPercent

	if usage, err := disk.UsageWithContext(ctx, h.mountPath); err == nil {
		out["disk"] = usage.UsedPercent
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		out["load1"] = avg.Load1
	}
	return out, nil
}

// RuntimeSource reports the memory footprint of the monitoring process itself.
type RuntimeSource struct {
	name string
}

// NewRuntimeSource creates a source reading runtime.MemStats.
func NewRuntimeSource(name string) *RuntimeSource {
	return &RuntimeSource{name: name}
}

// Name implements Source.
func (r *RuntimeSource) Name() string { return r.name }

// Poll implements Source. Values are in MiB, goroutines as a count.
func (r *RuntimeSource) Poll(ctx context.Context) (Readings, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	const mib = 1024 * 1024
	return Readings{
		"process_sys_mb":  float64(ms.Sys) / mib,
		"process_heap_mb": float64(ms.HeapAlloc) / mib,
		"goroutines":      float64(runtime.NumGoroutine()),
	}, nil
}
