// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package executor implements the fragment dispatcher of spec.md
// §4.5: it enumerates a table's fragments, skips whichever simple
// quals' min/max statistics rule out, dispatches the rest onto a
// device pool, invokes the compiled rowexec.Kernel, and reduces the
// per-fragment partial results under a mutex.
package executor

import "sync"

// slotKind distinguishes a CPU worker slot from an accelerator device
// slot in the pool's bookkeeping.
type slotKind uint8

const (
	slotCPU slotKind = iota
	slotAccelerator
)

type slot struct {
	kind slotKind
	id   int // accelerator id; unused for CPU slots
}

// DevicePool hands out CPU/accelerator execution slots to in-flight
// fragment tasks, condvar-signaled the way tenant/dcache.Cache
// serializes its own fill slots (lock+cond, no channel-based
// semaphore): a released slot Broadcasts so every waiter re-checks
// availability, rather than handing the slot to a single waiter,
// which keeps the pool correct under spurious wakeups and avoids
// picking an ordering among waiters.
type DevicePool struct {
	mu   sync.Mutex
	cond sync.Cond

	cpuFree int
	accFree map[int]bool
}

// NewDevicePool creates a pool with cpuSlots CPU worker slots and one
// slot per accelerator id in acceleratorIDs.
func NewDevicePool(cpuSlots int, acceleratorIDs []int) *DevicePool {
	p := &DevicePool{cpuFree: cpuSlots, accFree: map[int]bool{}}
	for _, id := range acceleratorIDs {
		p.accFree[id] = true
	}
	p.cond.L = &p.mu
	return p
}

// AcquireCPU blocks until a CPU slot is free, then reserves it.
// Release must be called exactly once with the returned token.
func (p *DevicePool) AcquireCPU() slot {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.cpuFree == 0 {
		p.cond.Wait()
	}
	p.cpuFree--
	return slot{kind: slotCPU}
}

// AcquireAny blocks until either a CPU slot or any accelerator slot is
// free, preferring an accelerator slot when both are available (a
// fragment whose kernel requires the CPU should call AcquireCPU
// directly instead).
func (p *DevicePool) AcquireAny() slot {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		for id, free := range p.accFree {
			if free {
				p.accFree[id] = false
				return slot{kind: slotAccelerator, id: id}
			}
		}
		if p.cpuFree > 0 {
			p.cpuFree--
			return slot{kind: slotCPU}
		}
		p.cond.Wait()
	}
}

// Release returns s to the pool and wakes every waiter, mirroring
// dcache.Cache.release's Broadcast-on-release.
func (p *DevicePool) Release(s slot) {
	p.mu.Lock()
	switch s.kind {
	case slotCPU:
		p.cpuFree++
	case slotAccelerator:
		p.accFree[s.id] = true
	}
	p.mu.Unlock()
	p.cond.Broadcast()
}
