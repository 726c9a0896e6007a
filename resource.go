package taskgraph

import (
	"fmt"

	"github.com/gogpu/taskgraph/cache"
	"github.com/gogpu/taskgraph/driver"
)

// ownState is the queue-family ownership state of one resource.
type ownState uint8

const (
	// ownUninitialised: freshly created, no queue family has touched it.
	ownUninitialised ownState = iota

	// ownOwned: exactly one queue family owns the resource.
	ownOwned

	// ownReleased: a release barrier has been recorded; the matching
	// acquire is pending. This state never survives a scheduling round.
	ownReleased
)

// ownership tracks which queue family may touch a resource.
type ownership struct {
	state     ownState
	owner     uint32 // family, when owned
	srcFamily uint32 // transfer endpoints, when released
	dstFamily uint32
}

// resImage is the authoritative state of one tracked image.
type resImage struct {
	image driver.Image
	desc  driver.ImageDesc
	name  string

	own    ownership
	mask   driver.AccessMask
	layout driver.ImageLayout
	stage  driver.PipelineStage

	// guard marks the most recent submission scheduled against the
	// image. Zero when idle.
	guard Guard
}

// resBuffer is the authoritative state of one tracked buffer.
type resBuffer struct {
	buffer driver.Buffer
	desc   driver.BufferDesc
	name   string

	own   ownership
	mask  driver.AccessMask
	stage driver.PipelineStage

	guard Guard
}

// resSampler is one tracked sampler. Samplers carry no mutable device
// state and are never synchronised.
type resSampler struct {
	sampler driver.Sampler
	name    string
}

// ImageState is the externally visible scheduling state of an image.
type ImageState struct {
	Access      driver.AccessMask
	Layout      driver.ImageLayout
	Initialised bool
	OwnerFamily uint32 // valid only when Initialised
	Guard       Guard
}

// BufferState is the externally visible scheduling state of a buffer.
type BufferState struct {
	Access      driver.AccessMask
	Initialised bool
	OwnerFamily uint32
	Guard       Guard
}

// Resources is the authoritative table of all live images, buffers and
// samplers, addressed by generational handles. Reads always observe the
// most recent update: the table records the last *scheduled* operation
// against each resource even while the device is still executing it,
// which is what lets the scheduler find hazards by plain comparison.
//
// Resources is driven from the scheduling goroutine only.
type Resources struct {
	alloc driver.Allocator

	images   arena[resImage]
	buffers  arena[resBuffer]
	samplers arena[resSampler]

	// tmp ages transient resources by scheduling round.
	tmp *cache.Clock[resKey]
}

func newResources(alloc driver.Allocator) *Resources {
	return &Resources{
		alloc: alloc,
		tmp:   cache.New[resKey](),
	}
}

// Image resolves a handle to its device memory.
func (r *Resources) Image(h ImageHandle) (driver.Image, error) {
	img := r.images.get(h.ref)
	if img == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchResource, keyOfImage(h))
	}
	return img.image, nil
}

// Buffer resolves a handle to its device memory.
func (r *Resources) Buffer(h BufferHandle) (driver.Buffer, error) {
	buf := r.buffers.get(h.ref)
	if buf == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchResource, keyOfBuffer(h))
	}
	return buf.buffer, nil
}

// Sampler resolves a handle to its device sampler.
func (r *Resources) Sampler(h SamplerHandle) (driver.Sampler, error) {
	smp := r.samplers.get(h.ref)
	if smp == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchResource, keyOfSampler(h))
	}
	return smp.sampler, nil
}

// ImageState returns the current recorded state of an image.
func (r *Resources) ImageState(h ImageHandle) (ImageState, error) {
	img := r.images.get(h.ref)
	if img == nil {
		return ImageState{}, fmt.Errorf("%w: %s", ErrNoSuchResource, keyOfImage(h))
	}
	return ImageState{
		Access:      img.mask,
		Layout:      img.layout,
		Initialised: img.own.state != ownUninitialised,
		OwnerFamily: img.own.owner,
		Guard:       img.guard,
	}, nil
}

// BufferState returns the current recorded state of a buffer.
func (r *Resources) BufferState(h BufferHandle) (BufferState, error) {
	buf := r.buffers.get(h.ref)
	if buf == nil {
		return BufferState{}, fmt.Errorf("%w: %s", ErrNoSuchResource, keyOfBuffer(h))
	}
	return BufferState{
		Access:      buf.mask,
		Initialised: buf.own.state != ownUninitialised,
		OwnerFamily: buf.own.owner,
		Guard:       buf.guard,
	}, nil
}

// addImage starts tracking freshly allocated image memory.
func (r *Resources) addImage(image driver.Image, name string) ImageHandle {
	return ImageHandle{ref: r.images.insert(resImage{
		image:  image,
		desc:   image.Desc(),
		name:   name,
		layout: driver.LayoutUndefined,
	})}
}

// addBuffer starts tracking freshly allocated buffer memory.
func (r *Resources) addBuffer(buffer driver.Buffer, name string) BufferHandle {
	return BufferHandle{ref: r.buffers.insert(resBuffer{
		buffer: buffer,
		desc:   buffer.Desc(),
		name:   name,
	})}
}

// addSampler starts tracking a sampler.
func (r *Resources) addSampler(sampler driver.Sampler, name string) SamplerHandle {
	return SamplerHandle{ref: r.samplers.insert(resSampler{sampler: sampler, name: name})}
}

// removeImage stops tracking and destroys the image. The caller is
// responsible for making sure the image's guard has finished.
func (r *Resources) removeImage(h ImageHandle) error {
	img, ok := r.images.remove(h.ref)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchResource, keyOfImage(h))
	}
	r.tmp.Forget(keyOfImage(h))
	img.image.Destroy()
	return nil
}

// removeBuffer stops tracking and destroys the buffer.
func (r *Resources) removeBuffer(h BufferHandle) error {
	buf, ok := r.buffers.remove(h.ref)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchResource, keyOfBuffer(h))
	}
	r.tmp.Forget(keyOfBuffer(h))
	buf.buffer.Destroy()
	return nil
}

// removeSampler stops tracking and destroys the sampler.
func (r *Resources) removeSampler(h SamplerHandle) error {
	smp, ok := r.samplers.remove(h.ref)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchResource, keyOfSampler(h))
	}
	smp.sampler.Destroy()
	return nil
}

// registerTemp begins aging a resource in the temporary cache.
// timeout is in epochs; zero selects cache.DefaultTimeout.
func (r *Resources) registerTemp(key resKey, timeout uint64) error {
	if err := r.tmp.Register(key, timeout); err != nil {
		return fmt.Errorf("%w: %s", ErrResourceExists, key)
	}
	return nil
}

// acquireTempImage scans for a tracked temporary image that matches the
// description and whose guard has finished. First match in handle order
// wins; there is no best-fit search. A hit refreshes the entry's age.
func (r *Resources) acquireTempImage(desc AttachmentDescription, finished func(Guard) bool) (ImageHandle, bool) {
	want := desc.imageDesc()
	var found ImageHandle
	r.images.each(func(ref ref, img *resImage) {
		if found.Valid() {
			return
		}
		key := resKey{kind: kindImage, ref: ref}
		if !r.tmp.Tracked(key) {
			return
		}
		if img.desc != want {
			return
		}
		if img.guard.pending() && !finished(img.guard) {
			return
		}
		found = ImageHandle{ref: ref}
		r.tmp.Touch(key)
	})
	if !found.Valid() {
		return ImageHandle{}, false
	}
	Logger().Debug("temporary image reused", "image", keyOfImage(found))
	return found, true
}

// tickTemp advances the temporary cache by one epoch and destroys every
// evicted resource whose guard has finished. Entries still guarded by
// in-flight work are re-registered with a short timeout and retried on a
// later tick instead of being freed under the device.
func (r *Resources) tickTemp(finished func(Guard) bool) int {
	destroyed := 0
	for _, key := range r.tmp.Tick() {
		if !r.destroyIfIdle(key, finished) {
			// Still in flight; come back next round.
			_ = r.tmp.Register(key, 1)
			continue
		}
		destroyed++
		Logger().Debug("temporary resource evicted", "resource", key)
	}
	return destroyed
}

// destroyIfIdle frees the resource behind key unless a pending guard
// still covers it. Returns true when the resource is gone.
func (r *Resources) destroyIfIdle(key resKey, finished func(Guard) bool) bool {
	switch key.kind {
	case kindImage:
		img := r.images.get(key.ref)
		if img == nil {
			return true
		}
		if img.guard.pending() && !finished(img.guard) {
			return false
		}
		res, _ := r.images.remove(key.ref)
		res.image.Destroy()
	case kindBuffer:
		buf := r.buffers.get(key.ref)
		if buf == nil {
			return true
		}
		if buf.guard.pending() && !finished(buf.guard) {
			return false
		}
		res, _ := r.buffers.remove(key.ref)
		res.buffer.Destroy()
	case kindSampler:
		smp, ok := r.samplers.remove(key.ref)
		if ok {
			smp.sampler.Destroy()
		}
	}
	return true
}

// destroyAll releases every tracked resource. Close calls this after
// waiting out all in-flight work.
func (r *Resources) destroyAll() {
	r.images.each(func(_ ref, img *resImage) { img.image.Destroy() })
	r.buffers.each(func(_ ref, buf *resBuffer) { buf.buffer.Destroy() })
	r.samplers.each(func(_ ref, smp *resSampler) { smp.sampler.Destroy() })
	r.images = arena[resImage]{}
	r.buffers = arena[resBuffer]{}
	r.samplers = arena[resSampler]{}
	r.tmp = cache.New[resKey]()
}
