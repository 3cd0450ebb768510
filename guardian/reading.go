package guardian

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Reading is one immutable sample of host resource usage. A new Reading
// supersedes the previous one on every sampling tick.
type Reading struct {
	Timestamp      time.Time `json:"timestamp"`
	RAMPercent     float64   `json:"ram_pct"`
	CPUPercent     float64   `json:"cpu_pct"`
	TempC          float64   `json:"temp_c"`
	BatteryPercent float64   `json:"battery_pct"`
}

// Sampler produces readings for the guardian. Implementations must be safe
// for use from the guardian's ticking goroutine.
type Sampler interface {
	Sample(ctx context.Context) (Reading, error)
}

// HostSampler reads memory and CPU usage from /proc, with a Go-runtime
// fallback on platforms without procfs. Temperature and battery are optional
// probes; zero when unavailable.
type HostSampler struct {
	mu sync.Mutex

	// previous /proc/stat counters for CPU delta computation
	lastTotal, lastIdle uint64

	// TempProbe and BatteryProbe, when set, supply the optional channels.
	TempProbe    func() (float64, bool)
	BatteryProbe func() (float64, bool)
}

// NewHostSampler returns a sampler reading live host metrics.
func NewHostSampler() *HostSampler {
	return &HostSampler{}
}

// Sample implements Sampler.
func (s *HostSampler) Sample(_ context.Context) (Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := Reading{Timestamp: time.Now()}

	ram, err := readMemPercent()
	if err != nil {
		// No procfs: fall back to process heap pressure so the guardian
		// still has a signal instead of failing the sample outright.
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		if ms.Sys == 0 {
			return Reading{}, fmt.Errorf("sample memory: %w", err)
		}
		ram = float64(ms.HeapAlloc) / float64(ms.Sys) * 100
	}
	r.RAMPercent = ram

	if total, idle, err := readCPUCounters(); err == nil {
		if s.lastTotal > 0 && total > s.lastTotal {
			dTotal := total - s.lastTotal
			dIdle := idle - s.lastIdle
			r.CPUPercent = 100 * float64(dTotal-dIdle) / float64(dTotal)
		}
		s.lastTotal, s.lastIdle = total, idle
	}

	if s.TempProbe != nil {
		if t, ok := s.TempProbe(); ok {
			r.TempC = t
		}
	}
	if s.BatteryProbe != nil {
		if b, ok := s.BatteryProbe(); ok {
			r.BatteryPercent = b
		}
	}
	return r, nil
}

func readMemPercent() (float64, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var total, available float64
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total = v
		case "MemAvailable:":
			available = v
		}
	}
	if err := sc.Err(); err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, fmt.Errorf("meminfo: MemTotal missing")
	}
	return (total - available) / total * 100, nil
}

func readCPUCounters() (total, idle uint64, err error) {
	data, err := os.ReadFile("/proc/stat")
	if err != nil {
		return 0, 0, err
	}
	line, _, _ := strings.Cut(string(data), "\n")
	fields := strings.Fields(line)
	if len(fields) < 5 || fields[0] != "cpu" {
		return 0, 0, fmt.Errorf("proc/stat: unexpected format")
	}
	for i, f := range fields[1:] {
		v, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return 0, 0, err
		}
		total += v
		if i == 3 { // idle column
			idle = v
		}
	}
	return total, idle, nil
}
