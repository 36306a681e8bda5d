package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

var (
	cpuPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "cpu_percent",
			Help:      "CPU usage percentage of the server process.",
		}, []string{"profile"},
	)
	memoryRSS = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "memory_rss_bytes",
			Help:      "Resident memory of the server process.",
		}, []string{"profile"},
	)
	numThreads = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "num_threads",
			Help:      "Thread count of the server process.",
		}, []string{"profile"},
	)
)

// Sample is one resource reading of a server process.
type Sample struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	RSSBytes   uint64    `json:"rss_bytes"`
	NumThreads int32     `json:"num_threads"`
	At         time.Time `json:"at"`
}

// Sampler periodically reads CPU and memory of running servers.
type Sampler struct {
	interval time.Duration
	mu       sync.RWMutex
	latest   map[string]Sample
	procs    map[int32]*process.Process
}

// NewSampler returns a sampler; interval defaults to 5s.
func NewSampler(interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Sampler{interval: interval, latest: map[string]Sample{}, procs: map[int32]*process.Process{}}
}

// Run samples until ctx is done. pids returns profile name -> pid of the
// currently running servers.
func (s *Sampler) Run(ctx context.Context, pids func() map[string]int) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.SampleOnce(pids())
		}
	}
}

// SampleOnce takes one reading for each pid and drops state for profiles
// that are no longer listed.
func (s *Sampler) SampleOnce(pids map[string]int) {
	now := time.Now()
	fresh := make(map[string]Sample, len(pids))
	for name, pid := range pids {
		if pid <= 0 {
			continue
		}
		smp, err := s.read(int32(pid), now)
		if err != nil {
			slog.Debug("resource sample failed", "profile", name, "pid", pid, "error", err)
			continue
		}
		fresh[name] = smp
		if regOK.Load() {
			cpuPercent.WithLabelValues(name).Set(smp.CPUPercent)
			memoryRSS.WithLabelValues(name).Set(float64(smp.RSSBytes))
			numThreads.WithLabelValues(name).Set(float64(smp.NumThreads))
		}
	}
	s.mu.Lock()
	for name := range s.latest {
		if _, ok := fresh[name]; !ok && regOK.Load() {
			cpuPercent.DeleteLabelValues(name)
			memoryRSS.DeleteLabelValues(name)
			numThreads.DeleteLabelValues(name)
		}
	}
	live := make(map[int32]*process.Process, len(fresh))
	for _, smp := range fresh {
		if p, ok := s.procs[smp.PID]; ok {
			live[smp.PID] = p
		}
	}
	s.procs = live
	s.latest = fresh
	s.mu.Unlock()
}

func (s *Sampler) read(pid int32, now time.Time) (Sample, error) {
	// Handles are kept between ticks so CPUPercent measures the interval.
	s.mu.Lock()
	proc, ok := s.procs[pid]
	if !ok {
		p, err := process.NewProcess(pid)
		if err != nil {
			s.mu.Unlock()
			return Sample{}, fmt.Errorf("open process: %w", err)
		}
		proc = p
		s.procs[pid] = p
	}
	s.mu.Unlock()

	mem, err := proc.MemoryInfo()
	if err != nil {
		return Sample{}, fmt.Errorf("memory info: %w", err)
	}
	cpu, err := proc.Percent(0)
	if err != nil {
		cpu = 0
	}
	threads, err := proc.NumThreads()
	if err != nil {
		threads = 0
	}
	return Sample{PID: pid, CPUPercent: cpu, RSSBytes: mem.RSS, NumThreads: threads, At: now}, nil
}

// Latest returns the last reading for a profile.
func (s *Sampler) Latest(profile string) (Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	smp, ok := s.latest[profile]
	return smp, ok
}
