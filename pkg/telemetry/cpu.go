// Package telemetry samples host CPU utilisation for round heartbeats.
package telemetry

import (
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
)

// DefaultInterval is the minimum time between two OS reads
const DefaultInterval = 200 * time.Millisecond

// Sampler caches per-CPU utilisation percentages. The lock is held only
// while refreshing or copying the cache.
type Sampler struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	samples  []float64
	read     func() ([]float64, error)
	now      func() time.Time
}

// NewSampler creates a sampler backed by the OS counters
func NewSampler(interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sampler{
		interval: interval,
		read: func() ([]float64, error) {
			return cpu.Percent(0, true)
		},
		now: time.Now,
	}
}

// Sample returns the latest per-CPU utilisation, refreshing it when the
// cached value is older than the interval. A failed read keeps the
// previous samples.
func (s *Sampler) Sample() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.samples == nil || now.Sub(s.last) >= s.interval {
		if samples, err := s.read(); err == nil {
			s.samples = samples
			s.last = now
		}
	}

	out := make([]float64, len(s.samples))
	copy(out, s.samples)
	return out
}

// Average returns the mean of a sample set
func Average(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		sum += v
	}
	return sum / float64(len(samples))
}
