// Package support builds the diagnostic report shown to licensed users when
// they ask for help.
package support

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"text/tabwriter"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"

	"ldgate/internal/entitlement/models"
)

const (
	DocsURL    = "https://logicdriver.com/docs/"
	DiscordURL = "https://logicdriver.com/discord/"
)

const unknown = "unknown"

// Collector abstracts system information gathering for testability.
type Collector interface {
	HostInfo(ctx context.Context) (*host.InfoStat, error)
	CPUInfo(ctx context.Context) ([]cpu.InfoStat, error)
	CPUCount(ctx context.Context) (int, error)
	VirtualMemory(ctx context.Context) (*mem.VirtualMemoryStat, error)
}

// NewDefaultCollector returns a Collector backed by gopsutil.
func NewDefaultCollector() Collector {
	return defaultCollector{}
}

type defaultCollector struct{}

func (defaultCollector) HostInfo(ctx context.Context) (*host.InfoStat, error) {
	return host.InfoWithContext(ctx)
}

func (defaultCollector) CPUInfo(ctx context.Context) ([]cpu.InfoStat, error) {
	return cpu.InfoWithContext(ctx)
}

func (defaultCollector) CPUCount(ctx context.Context) (int, error) {
	return cpu.CountsWithContext(ctx, true)
}

func (defaultCollector) VirtualMemory(ctx context.Context) (*mem.VirtualMemoryStat, error) {
	return mem.VirtualMemoryWithContext(ctx)
}

// Report is a point-in-time snapshot of the user's environment.
type Report struct {
	Product         string
	Version         string
	OS              string
	Platform        string
	PlatformVersion string
	KernelVersion   string
	Arch            string
	CPUModel        string
	CPUCount        int
	MemoryTotal     uint64
	GoVersion       string
	DocsURL         string
	DiscordURL      string
	GeneratedAt     time.Time

	// Warnings lists probes that failed; their fields read "unknown".
	Warnings []string
}

type Option func(*options)

type options struct {
	collector Collector
	product   models.ProductIdentity
	now       func() time.Time
}

func WithCollector(c Collector) Option {
	return func(o *options) {
		if c != nil {
			o.collector = c
		}
	}
}

func WithProduct(p models.ProductIdentity) Option {
	return func(o *options) {
		o.product = p
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// Collect gathers the report. Individual probe failures are recorded as
// warnings rather than failing the whole report.
func Collect(ctx context.Context, version string, opts ...Option) (*Report, error) {
	o := options{
		collector: NewDefaultCollector(),
		product:   models.DefaultProduct,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r := &Report{
		Product:         o.product.Name(),
		Version:         version,
		OS:              runtime.GOOS,
		Platform:        unknown,
		PlatformVersion: unknown,
		KernelVersion:   unknown,
		Arch:            runtime.GOARCH,
		CPUModel:        unknown,
		GoVersion:       runtime.Version(),
		DocsURL:         DocsURL,
		DiscordURL:      DiscordURL,
		GeneratedAt:     o.now().UTC(),
	}

	if info, err := o.collector.HostInfo(ctx); err != nil {
		r.warn("host", err)
	} else {
		r.OS = info.OS
		r.Platform = orUnknown(info.Platform)
		r.PlatformVersion = orUnknown(info.PlatformVersion)
		r.KernelVersion = orUnknown(info.KernelVersion)
		if info.KernelArch != "" {
			r.Arch = info.KernelArch
		}
	}

	if cpus, err := o.collector.CPUInfo(ctx); err != nil {
		r.warn("cpu", err)
	} else if len(cpus) > 0 {
		r.CPUModel = orUnknown(cpus[0].ModelName)
	}

	if n, err := o.collector.CPUCount(ctx); err != nil {
		r.warn("cpu count", err)
	} else {
		r.CPUCount = n
	}

	if vm, err := o.collector.VirtualMemory(ctx); err != nil {
		r.warn("memory", err)
	} else {
		r.MemoryTotal = vm.Total
	}

	return r, nil
}

func (r *Report) warn(probe string, err error) {
	r.Warnings = append(r.Warnings, fmt.Sprintf("%s: %v", probe, err))
}

// Render writes the report as aligned key/value lines.
func (r *Report) Render(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	rows := [][2]string{
		{"Product", r.Product},
		{"Version", r.Version},
		{"OS", fmt.Sprintf("%s (%s)", r.OS, r.Arch)},
		{"Platform", fmt.Sprintf("%s %s", r.Platform, r.PlatformVersion)},
		{"Kernel", r.KernelVersion},
		{"CPU", fmt.Sprintf("%s x%d", r.CPUModel, r.CPUCount)},
		{"Memory", formatBytes(r.MemoryTotal)},
		{"Go", r.GoVersion},
		{"Generated", r.GeneratedAt.Format(time.RFC3339)},
		{"Docs", r.DocsURL},
		{"Discord", r.DiscordURL},
	}
	for _, row := range rows {
		if _, err := fmt.Fprintf(tw, "%s:\t%s\n", row[0], row[1]); err != nil {
			return err
		}
	}
	for _, warning := range r.Warnings {
		if _, err := fmt.Fprintf(tw, "Warning:\t%s\n", warning); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func orUnknown(s string) string {
	if s == "" {
		return unknown
	}
	return s
}

func formatBytes(n uint64) string {
	if n == 0 {
		return unknown
	}
	const gib = 1 << 30
	return fmt.Sprintf("%.1f GiB", float64(n)/gib)
}
