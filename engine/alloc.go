package engine

import (
	"github.com/tetratelabs/wazero/experimental"

	scripthost "github.com/wippyai/script-host"
)

// accountingAllocator plugs the memory policy into wazero's custom allocator
// hook. One allocator backs exactly one linear memory, because one engine
// owns exactly one instance.
type accountingAllocator struct {
	policy scripthost.MemoryPolicy
}

func (a *accountingAllocator) Allocate(cap, max uint64) experimental.LinearMemory {
	return &accountedMemory{policy: a.policy, max: max}
}

// accountedMemory is the linear memory whose every size change is approved by
// the policy before being committed. A refusal returns nil, which the engine
// turns into its own grow-failure path (memory.grow yields -1), keeping the
// refusal a script-visible out-of-memory rather than a host fault.
type accountedMemory struct {
	policy   scripthost.MemoryPolicy
	buf      []byte
	approved uint64
	max      uint64
}

func (m *accountedMemory) Reallocate(size uint64) []byte {
	if size > m.max {
		return nil
	}

	switch {
	case size > m.approved:
		if err := m.policy.Reallocate(m.approved, size); err != nil {
			debugf("memory grow refused: %v", err)
			return nil
		}
		if uint64(cap(m.buf)) < size {
			grown := make([]byte, size)
			copy(grown, m.buf)
			m.buf = grown
		} else {
			m.buf = m.buf[:size]
		}
		m.approved = size

	case size < m.approved:
		// wazero never shrinks today; keep the books straight if it starts to.
		if err := m.policy.Reallocate(m.approved, size); err == nil {
			m.approved = size
			m.buf = m.buf[:size]
		}
	}

	return m.buf[:size]
}

func (m *accountedMemory) Free() {
	if m.approved > 0 {
		m.policy.Free(m.approved)
	}
	m.approved = 0
	m.buf = nil
}

// Compile-time checks against wazero's experimental allocator contracts
var (
	_ experimental.MemoryAllocator = (*accountingAllocator)(nil)
	_ experimental.LinearMemory    = (*accountedMemory)(nil)
)
