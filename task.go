package taskgraph

import (
	"github.com/gogpu/gputypes"

	"github.com/gogpu/taskgraph/driver"
)

// Task is one unit of device work, registered for exactly one scheduling
// round. A task declares which resources it touches and how, then records
// opaque commands once the scheduler has put every declared access in
// place. Task values are not retained past the round; implementations may
// live longer and re-register each round.
//
// Record must not mutate shared resource state directly. Every visible
// state transition is mediated by the scheduler inserting barriers before
// the task executes.
type Task interface {
	// Name identifies the task in logs and errors.
	Name() string

	// Caps returns the minimum queue capabilities the task needs.
	Caps() driver.QueueCaps

	// Register declares every resource access of this round.
	Register(reg *ResourceRegistry)

	// Record emits the task's commands into sink. All declared accesses
	// are already satisfied: images are in their requested layouts and
	// ownership has been transferred to the executing track.
	Record(sink driver.CommandSink, res *Resources) error
}

// PreRecorder is implemented by tasks that need a hook after access
// resolution (attachments resolved to concrete handles) but before any
// recording starts. Typical use: patching per-resource indices into the
// task's private state.
type PreRecorder interface {
	PreRecord(res *Resources) error
}

// PostRecorder is implemented by tasks that want their round's guard
// after submission, e.g. to rotate double-buffered state or to expose
// completion to their owner.
type PostRecorder interface {
	PostRecord(res *Resources, guard Guard)
}

// AttachmentDescription is a deferred, shape-only image request. The
// concrete handle is not chosen until scheduling time: the temporary
// cache either revives a matching idle image or a fresh one is
// allocated.
type AttachmentDescription struct {
	// Format is the requested texel format.
	Format gputypes.TextureFormat

	// Size is the requested extent.
	Size gputypes.Extent3D

	// Usage is the requested usage set.
	Usage gputypes.TextureUsage
}

// imageDesc converts the attachment request into an allocation request.
func (d AttachmentDescription) imageDesc() driver.ImageDesc {
	return driver.ImageDesc{Format: d.Format, Size: d.Size, Usage: d.Usage}
}

// Attachment is a pending attachment request. Its handle becomes valid
// once the scheduler has resolved the description, before PreRecord and
// Record run.
type Attachment struct {
	desc   AttachmentDescription
	stage  driver.PipelineStage
	access driver.AccessMask
	layout driver.ImageLayout

	handle ImageHandle
}

// Handle returns the resolved image handle. Only valid during and after
// the round's pre-record phase.
func (a *Attachment) Handle() ImageHandle { return a.handle }

// resourceAccess is one declared access of a task.
type resourceAccess struct {
	key    resKey
	stage  driver.PipelineStage
	access driver.AccessMask
	layout driver.ImageLayout // images only
}

// ResourceRegistry collects the declared accesses of one task for one
// round.
type ResourceRegistry struct {
	accesses    []resourceAccess
	attachments []*Attachment

	// foreignSignals are extra timeline points the submission must
	// signal, e.g. a presentation engine's semaphore.
	foreignSignals []driver.TimelinePoint
}

func newRegistry() *ResourceRegistry {
	return &ResourceRegistry{}
}

// UseImage declares an image access with the stage, access mask and
// layout the task requires.
func (r *ResourceRegistry) UseImage(h ImageHandle, stage driver.PipelineStage, access driver.AccessMask, layout driver.ImageLayout) {
	r.accesses = append(r.accesses, resourceAccess{
		key:    keyOfImage(h),
		stage:  stage,
		access: access,
		layout: layout,
	})
}

// UseBuffer declares a buffer access.
func (r *ResourceRegistry) UseBuffer(h BufferHandle, stage driver.PipelineStage, access driver.AccessMask) {
	r.accesses = append(r.accesses, resourceAccess{
		key:    keyOfBuffer(h),
		stage:  stage,
		access: access,
	})
}

// UseSampler declares a sampler use. Samplers are stateless; they are
// kept alive for the round but never synchronised.
func (r *ResourceRegistry) UseSampler(h SamplerHandle) {
	r.accesses = append(r.accesses, resourceAccess{key: keyOfSampler(h)})
}

// RequestAttachment declares a deferred image access. The returned
// Attachment yields the concrete handle once resolved.
func (r *ResourceRegistry) RequestAttachment(desc AttachmentDescription, stage driver.PipelineStage, access driver.AccessMask, layout driver.ImageLayout) *Attachment {
	att := &Attachment{desc: desc, stage: stage, access: access, layout: layout}
	r.attachments = append(r.attachments, att)
	return att
}

// SignalForeign registers an extra timeline point the task's submission
// signals on completion.
func (r *ResourceRegistry) SignalForeign(point driver.TimelinePoint) {
	r.foreignSignals = append(r.foreignSignals, point)
}
