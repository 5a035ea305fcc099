package sysinfo

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

type Disk struct {
	Label   string
	Percent float64
	UsedGB  float64
	TotalGB float64
}

type Snapshot struct {
	Latency time.Duration
	Uptime  time.Duration
	CPU     float64
	RAM     float64
	Disks   []Disk
}

type Probe struct {
	CPUPercent func(ctx context.Context) (float64, error)
	RAMPercent func(ctx context.Context) (float64, error)
	Disks      func(ctx context.Context) ([]Disk, error)

	started time.Time
	logger  *zap.Logger
}

func NewProbe(started time.Time, logger *zap.Logger) *Probe {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Probe{
		CPUPercent: cpuPercent,
		RAMPercent: ramPercent,
		Disks:      diskUsage,
		started:    started,
		logger:     logger,
	}
}

// A failed probe leaves its value at zero.
func (p *Probe) Snapshot(ctx context.Context, latency time.Duration, now time.Time) Snapshot {
	snap := Snapshot{Latency: latency, Uptime: now.Sub(p.started).Truncate(time.Second)}
	var err error
	if snap.CPU, err = p.CPUPercent(ctx); err != nil {
		p.logger.Debug("cpu probe failed", zap.Error(err))
	}
	if snap.RAM, err = p.RAMPercent(ctx); err != nil {
		p.logger.Debug("memory probe failed", zap.Error(err))
	}
	if snap.Disks, err = p.Disks(ctx); err != nil {
		p.logger.Debug("disk probe failed", zap.Error(err))
	}
	return snap
}

func cpuPercent(ctx context.Context) (float64, error) {
	values, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, fmt.Errorf("cpu: no samples")
	}
	return values[0], nil
}

func ramPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

const gib = 1 << 30

func diskUsage(ctx context.Context) ([]Disk, error) {
	parts, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return nil, err
	}
	var out []Disk
	for _, part := range usablePartitions(parts) {
		usage, err := disk.UsageWithContext(ctx, part.Mountpoint)
		if err != nil || usage.Total == 0 {
			continue
		}
		label := part.Device
		if label == "" {
			label = part.Mountpoint
		}
		out = append(out, Disk{
			Label:   label,
			Percent: usage.UsedPercent,
			UsedGB:  round2(float64(usage.Used) / gib),
			TotalGB: round2(float64(usage.Total) / gib),
		})
	}
	return out, nil
}

func usablePartitions(parts []disk.PartitionStat) []disk.PartitionStat {
	var out []disk.PartitionStat
	seen := make(map[string]bool)
	for _, part := range parts {
		if part.Fstype == "" || slices.Contains(part.Opts, "cdrom") || seen[part.Device] {
			continue
		}
		seen[part.Device] = true
		out = append(out, part)
	}
	return out
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

func FormatUptime(d time.Duration) string {
	d = d.Truncate(time.Second)
	if d < 0 {
		d = 0
	}
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	s := (d - m*time.Minute) / time.Second
	if days > 0 {
		return fmt.Sprintf("%dd %02d:%02d:%02d", days, h, m, s)
	}
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
