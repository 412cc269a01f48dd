package testutil

import (
	"slices"
	"sync"
)

// Probe instruments handlers running on many goroutines.
//
// Handlers call Enter with a key (usually the entity's name) and defer the
// returned func. The probe records the peak number of simultaneous holders
// per key and overall, and an ordered log of values per key.
//
// Thread-safety: all methods are safe for concurrent use.
type Probe struct {
	mu      sync.Mutex
	active  map[string]int
	peak    map[string]int
	total   int
	maxAll  int
	records map[string][]string
}

// NewProbe creates an empty probe.
func NewProbe() *Probe {
	return &Probe{
		active:  make(map[string]int),
		peak:    make(map[string]int),
		records: make(map[string][]string),
	}
}

// Enter marks key as active until the returned func is called.
func (p *Probe) Enter(key string) (exit func()) {
	p.mu.Lock()
	p.active[key]++
	p.total++
	p.peak[key] = max(p.peak[key], p.active[key])
	p.maxAll = max(p.maxAll, p.total)
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		p.active[key]--
		p.total--
		p.mu.Unlock()
	}
}

// Record appends value to key's log.
func (p *Probe) Record(key, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records[key] = append(p.records[key], value)
}

// Records returns a copy of key's log in call order.
func (p *Probe) Records(key string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.records[key])
}

// Peak returns the most simultaneous holders key ever had.
func (p *Probe) Peak(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peak[key]
}

// PeakOverall returns the most simultaneous holders across all keys.
func (p *Probe) PeakOverall() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxAll
}

// Overlapping returns the keys that were ever held more than once at the
// same time, sorted.
func (p *Probe) Overlapping() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for k, n := range p.peak {
		if n > 1 {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}
