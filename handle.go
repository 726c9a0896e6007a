package taskgraph

import "fmt"

// ref is a generational slot reference. The generation starts at 1, so
// the zero ref never addresses a live slot.
type ref struct {
	index      uint32
	generation uint32
}

func (r ref) valid() bool { return r.generation != 0 }

// ImageHandle is an opaque, generational reference to a tracked image.
// Handles are stable across scheduling rounds and cheap to copy; they do
// not own the underlying memory.
type ImageHandle struct {
	ref ref
}

// Valid reports whether the handle was ever issued. It does not check
// whether the resource still exists; table lookups do that.
func (h ImageHandle) Valid() bool { return h.ref.valid() }

// BufferHandle is an opaque, generational reference to a tracked buffer.
type BufferHandle struct {
	ref ref
}

// Valid reports whether the handle was ever issued.
func (h BufferHandle) Valid() bool { return h.ref.valid() }

// SamplerHandle is an opaque, generational reference to a tracked sampler.
type SamplerHandle struct {
	ref ref
}

// Valid reports whether the handle was ever issued.
func (h SamplerHandle) Valid() bool { return h.ref.valid() }

// resKind discriminates the resource union key.
type resKind uint8

const (
	kindImage resKind = iota
	kindBuffer
	kindSampler
)

func (k resKind) String() string {
	switch k {
	case kindImage:
		return "image"
	case kindBuffer:
		return "buffer"
	case kindSampler:
		return "sampler"
	}
	return "unknown"
}

// resKey is the internal union over all handle kinds. Comparable, so it
// serves directly as a map key in the scheduler and the temporary cache.
type resKey struct {
	kind resKind
	ref  ref
}

func (k resKey) String() string {
	return fmt.Sprintf("%s(%d.%d)", k.kind, k.ref.index, k.ref.generation)
}

func keyOfImage(h ImageHandle) resKey   { return resKey{kind: kindImage, ref: h.ref} }
func keyOfBuffer(h BufferHandle) resKey { return resKey{kind: kindBuffer, ref: h.ref} }
func keyOfSampler(h SamplerHandle) resKey {
	return resKey{kind: kindSampler, ref: h.ref}
}

// arenaSlot holds one value plus the generation that validates refs into
// it.
type arenaSlot[T any] struct {
	generation uint32
	live       bool
	value      T
}

// arena is a generational slot map: insertion returns a ref whose
// generation must match the slot on every access, which turns dangling
// handles into lookup misses instead of aliased reads.
type arena[T any] struct {
	slots []arenaSlot[T]
	free  []uint32
}

// insert stores v and returns its ref.
func (a *arena[T]) insert(v T) ref {
	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		slot := &a.slots[idx]
		slot.generation++
		slot.live = true
		slot.value = v
		return ref{index: idx, generation: slot.generation}
	}
	a.slots = append(a.slots, arenaSlot[T]{generation: 1, live: true, value: v})
	return ref{index: uint32(len(a.slots) - 1), generation: 1}
}

// get returns a pointer to the value for r, or nil if r is stale.
func (a *arena[T]) get(r ref) *T {
	if int(r.index) >= len(a.slots) {
		return nil
	}
	slot := &a.slots[r.index]
	if !slot.live || slot.generation != r.generation {
		return nil
	}
	return &slot.value
}

// remove frees the slot for r and returns its value.
func (a *arena[T]) remove(r ref) (T, bool) {
	var zero T
	if int(r.index) >= len(a.slots) {
		return zero, false
	}
	slot := &a.slots[r.index]
	if !slot.live || slot.generation != r.generation {
		return zero, false
	}
	v := slot.value
	slot.live = false
	slot.value = zero
	a.free = append(a.free, r.index)
	return v, true
}

// each calls fn for every live slot in index order.
func (a *arena[T]) each(fn func(r ref, v *T)) {
	for i := range a.slots {
		slot := &a.slots[i]
		if slot.live {
			fn(ref{index: uint32(i), generation: slot.generation}, &slot.value)
		}
	}
}

// len returns the number of live slots.
func (a *arena[T]) len() int {
	return len(a.slots) - len(a.free)
}
