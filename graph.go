package taskgraph

import (
	"context"
	"fmt"

	"github.com/gogpu/taskgraph/driver"
)

// Graph schedules dependency-ordered work across a device's queues. It
// owns the resource table, one execution track per distinct queue
// capability set, and the temporary-resource cache.
//
// A Graph is confined to one goroutine. Execute, resource creation and
// deletion must all be called from the same place; guards returned by
// Execute may be queried from anywhere via the underlying timelines.
type Graph struct {
	dev    driver.Device
	tracks *tracks
	res    *Resources

	policy      CapabilityPolicy
	tempTimeout uint64
}

// New builds a graph on top of a device.
func New(dev driver.Device, opts ...Option) (*Graph, error) {
	g := &Graph{
		dev:    dev,
		policy: DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(g)
	}
	ts, err := newTracks(dev)
	if err != nil {
		return nil, err
	}
	if len(ts.order) == 0 {
		return nil, fmt.Errorf("taskgraph: device exposes no usable queues")
	}
	g.tracks = ts
	g.res = newResources(dev)
	Logger().Info("graph created", "tracks", len(ts.order))
	return g, nil
}

// Resources exposes the resource table, e.g. for task Record bodies.
func (g *Graph) Resources() *Resources { return g.res }

// NewImage allocates an image and starts tracking it. The usage set must
// declare at least one use; an image nothing can bind to or render into
// is unschedulable.
func (g *Graph) NewImage(desc driver.ImageDesc, name string) (ImageHandle, error) {
	if desc.Usage == 0 {
		return ImageHandle{}, fmt.Errorf("%w: image %q declares no usage", ErrUsageFlags, name)
	}
	img, err := g.dev.CreateImage(desc)
	if err != nil {
		return ImageHandle{}, fmt.Errorf("taskgraph: allocating image %q: %w", name, err)
	}
	h := g.res.addImage(img, name)
	Logger().Debug("image created", "image", keyOfImage(h), "name", name)
	return h, nil
}

// NewBuffer allocates a buffer and starts tracking it.
func (g *Graph) NewBuffer(desc driver.BufferDesc, name string) (BufferHandle, error) {
	if desc.Usage == 0 {
		return BufferHandle{}, fmt.Errorf("%w: buffer %q declares no usage", ErrUsageFlags, name)
	}
	buf, err := g.dev.CreateBuffer(desc)
	if err != nil {
		return BufferHandle{}, fmt.Errorf("taskgraph: allocating buffer %q: %w", name, err)
	}
	h := g.res.addBuffer(buf, name)
	Logger().Debug("buffer created", "buffer", keyOfBuffer(h), "name", name)
	return h, nil
}

// NewSampler creates a sampler and starts tracking it.
func (g *Graph) NewSampler(desc driver.SamplerDesc, name string) (SamplerHandle, error) {
	smp, err := g.dev.CreateSampler(desc)
	if err != nil {
		return SamplerHandle{}, fmt.Errorf("taskgraph: creating sampler %q: %w", name, err)
	}
	return g.res.addSampler(smp, name), nil
}

// DeleteImage destroys an image. The caller must make sure no pending
// guard still covers it, typically via GuardFinished or WaitGuard.
func (g *Graph) DeleteImage(h ImageHandle) error {
	return g.res.removeImage(h)
}

// DeleteBuffer destroys a buffer. Same guard caveat as DeleteImage.
func (g *Graph) DeleteBuffer(h BufferHandle) error {
	return g.res.removeBuffer(h)
}

// DeleteSampler destroys a sampler.
func (g *Graph) DeleteSampler(h SamplerHandle) error {
	return g.res.removeSampler(h)
}

// Execute runs one scheduling round over the given tasks: it resolves
// their declared accesses, splits them over the device's tracks,
// synthesizes every needed barrier and submits at most one submission
// per track. It returns one guard per participating track.
//
// The round is atomic: on any validation error nothing was submitted and
// the device is untouched.
func (g *Graph) Execute(tasks ...Task) (map[TrackID]Guard, error) {
	for _, t := range g.tracks.byID {
		t.tick()
	}
	g.res.tickTemp(g.tracks.guardFinished)

	if len(tasks) == 0 {
		return map[TrackID]Guard{}, nil
	}

	p, err := g.buildPlan(tasks)
	if err != nil {
		return nil, err
	}
	return g.executePlan(p)
}

// GuardFinished reports whether the submission behind g has completed.
// The zero Guard is always finished.
func (g *Graph) GuardFinished(guard Guard) bool {
	return g.tracks.guardFinished(guard)
}

// WaitGuard blocks until the guard's submission completes or ctx is
// done.
func (g *Graph) WaitGuard(ctx context.Context, guard Guard) error {
	if !guard.pending() {
		return nil
	}
	t, ok := g.tracks.byID[guard.track]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchResource, guard.track)
	}
	return t.timeline.Wait(ctx, guard.target)
}

// Close waits for all in-flight work and destroys every tracked
// resource. The graph must not be used afterwards.
func (g *Graph) Close(ctx context.Context) error {
	for _, id := range g.tracks.order {
		if err := g.tracks.byID[id].waitIdle(ctx); err != nil {
			return fmt.Errorf("taskgraph: draining %s: %w", id, err)
		}
	}
	g.res.destroyAll()
	Logger().Info("graph closed")
	return nil
}
