// Package smp models the processor set seen by interrupt-controller code:
// CPU masks, the present/online topology and the per-CPU local interrupt
// enable state that the kernel keeps in the processor status register.
package smp

import (
	"fmt"
	"math/bits"
	"strings"
	"sync/atomic"
)

// MaxCPUs bounds the CPU indices a Mask can carry.
const MaxCPUs = 64

// Mask is a set of CPU indices.
type Mask uint64

// MaskOf builds a mask from individual CPU indices.
func MaskOf(cpus ...int) Mask {
	var m Mask
	for _, cpu := range cpus {
		m = m.Set(cpu)
	}
	return m
}

// Set returns m with cpu added.
func (m Mask) Set(cpu int) Mask {
	if cpu < 0 || cpu >= MaxCPUs {
		return m
	}
	return m | 1<<uint(cpu)
}

// Clear returns m with cpu removed.
func (m Mask) Clear(cpu int) Mask {
	if cpu < 0 || cpu >= MaxCPUs {
		return m
	}
	return m &^ (1 << uint(cpu))
}

// Has reports whether cpu is in the mask.
func (m Mask) Has(cpu int) bool {
	return cpu >= 0 && cpu < MaxCPUs && m&(1<<uint(cpu)) != 0
}

// First returns the lowest CPU in the mask, or MaxCPUs when it is empty.
func (m Mask) First() int {
	return bits.TrailingZeros64(uint64(m))
}

// Weight returns the number of CPUs in the mask.
func (m Mask) Weight() int {
	return bits.OnesCount64(uint64(m))
}

// Empty reports whether no CPU is set.
func (m Mask) Empty() bool { return m == 0 }

// Bits returns the raw bitmap.
func (m Mask) Bits() uint64 { return uint64(m) }

// Each calls fn for every CPU in ascending order.
func (m Mask) Each(fn func(cpu int)) {
	for v := uint64(m); v != 0; v &= v - 1 {
		fn(bits.TrailingZeros64(v))
	}
}

func (m Mask) String() string {
	if m == 0 {
		return "{}"
	}
	var parts []string
	m.Each(func(cpu int) { parts = append(parts, fmt.Sprint(cpu)) })
	return "{" + strings.Join(parts, ",") + "}"
}

var fence atomic.Uint64

// Barrier orders every store issued by the calling CPU before any store that
// follows it, as seen by other CPUs. It stands in for dsb() ahead of an
// inter-processor signal.
func Barrier() {
	fence.Add(1)
}
