package smp

import (
	"fmt"
	"sync"
)

// Topology is the set of processors in a system.
type Topology struct {
	mu sync.RWMutex

	cpus    []*CPU
	present Mask
	online  Mask
}

// NewTopology creates n possible CPUs, all present. Only CPU 0 starts online.
func NewTopology(n int) (*Topology, error) {
	if n <= 0 || n > MaxCPUs {
		return nil, fmt.Errorf("smp: cpu count %d out of range [1,%d]", n, MaxCPUs)
	}
	t := &Topology{cpus: make([]*CPU, n)}
	for i := range t.cpus {
		t.cpus[i] = newCPU(i)
		t.present = t.present.Set(i)
	}
	t.online = MaskOf(0)
	return t, nil
}

// CPU returns the handle for processor id, or nil if it does not exist.
func (t *Topology) CPU(id int) *CPU {
	if id < 0 || id >= len(t.cpus) {
		return nil
	}
	return t.cpus[id]
}

// Boot returns the boot processor.
func (t *Topology) Boot() *CPU { return t.cpus[0] }

// NumPossible returns the number of CPUs the system can have.
func (t *Topology) NumPossible() int { return len(t.cpus) }

// Possible returns the mask of all CPUs.
func (t *Topology) Possible() Mask {
	var m Mask
	for i := range t.cpus {
		m = m.Set(i)
	}
	return m
}

// Present returns the mask of CPUs physically present.
func (t *Topology) Present() Mask {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.present
}

// Online returns the mask of CPUs that completed bring-up.
func (t *Topology) Online() Mask {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.online
}

// SetOnline marks a CPU online or offline.
func (t *Topology) SetOnline(id int, online bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if online {
		t.online = t.online.Set(id)
	} else {
		t.online = t.online.Clear(id)
	}
}

// SetPresent marks a CPU present or absent (hotplug).
func (t *Topology) SetPresent(id int, present bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if present {
		t.present = t.present.Set(id)
	} else {
		t.present = t.present.Clear(id)
		t.online = t.online.Clear(id)
	}
}
