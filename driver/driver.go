// Package driver defines the boundary contracts between the taskgraph
// scheduler and a concrete device backend.
//
// The scheduler never talks to a graphics API directly. It requires only
// that a backend can enumerate queues, hand out monotonically increasing
// timeline counters, accept opaque recorded commands plus barrier
// descriptions through a command sink, and allocate resource memory.
// Backends register themselves via Register() and are selected by name,
// mirroring how render backends plug into gogpu.
package driver

import (
	"context"
	"errors"

	"github.com/gogpu/gputypes"
)

// Common driver errors.
var (
	// ErrDriverNotAvailable is returned when a requested driver is not registered.
	ErrDriverNotAvailable = errors.New("driver: not available")

	// ErrDeviceLost is returned when the device stopped responding and all
	// outstanding work must be considered gone.
	ErrDeviceLost = errors.New("driver: device lost")
)

// QueueCaps is a bitmask of capabilities a device queue supports.
type QueueCaps uint32

// Queue capability flags.
const (
	// QueueGraphics marks queues that can execute draw commands.
	QueueGraphics QueueCaps = 1 << 0

	// QueueCompute marks queues that can execute dispatch commands.
	QueueCompute QueueCaps = 1 << 1

	// QueueTransfer marks queues that can execute copy commands.
	QueueTransfer QueueCaps = 1 << 2

	// QueueRayTracing marks queues that can execute ray-tracing dispatches.
	QueueRayTracing QueueCaps = 1 << 3

	// QueueSparseBinding, QueueProtected, QueueVideoDecode and
	// QueueVideoEncode exist on some devices but never influence
	// scheduling. Track identity masks them out.
	QueueSparseBinding QueueCaps = 1 << 4
	QueueProtected     QueueCaps = 1 << 5
	QueueVideoDecode   QueueCaps = 1 << 6
	QueueVideoEncode   QueueCaps = 1 << 7
)

// IgnoredCaps are the capability bits that do not participate in track
// identity or track selection.
const IgnoredCaps = QueueSparseBinding | QueueProtected | QueueVideoDecode | QueueVideoEncode

// Masked returns the capability set with all scheduling-irrelevant bits
// removed.
func (c QueueCaps) Masked() QueueCaps {
	return c &^ IgnoredCaps
}

// Contains reports whether every bit of sub is set in c.
func (c QueueCaps) Contains(sub QueueCaps) bool {
	return c&sub == sub
}

// String returns a "graphics|compute" style rendering of the set bits.
func (c QueueCaps) String() string {
	if c == 0 {
		return "none"
	}
	names := []struct {
		bit  QueueCaps
		name string
	}{
		{QueueGraphics, "graphics"},
		{QueueCompute, "compute"},
		{QueueTransfer, "transfer"},
		{QueueRayTracing, "raytracing"},
		{QueueSparseBinding, "sparse"},
		{QueueProtected, "protected"},
		{QueueVideoDecode, "videodecode"},
		{QueueVideoEncode, "videoencode"},
	}
	var s string
	for _, n := range names {
		if c&n.bit == 0 {
			continue
		}
		if s != "" {
			s += "|"
		}
		s += n.name
	}
	return s
}

// AccessMask is a bitmask describing how a resource is accessed.
type AccessMask uint32

// Access flags.
const (
	AccessShaderRead           AccessMask = 1 << 0
	AccessShaderWrite          AccessMask = 1 << 1
	AccessTransferRead         AccessMask = 1 << 2
	AccessTransferWrite        AccessMask = 1 << 3
	AccessColorAttachmentRead  AccessMask = 1 << 4
	AccessColorAttachmentWrite AccessMask = 1 << 5
	AccessHostRead             AccessMask = 1 << 6
	AccessHostWrite            AccessMask = 1 << 7
)

// writeBits covers every access flag with write semantics.
const writeBits = AccessShaderWrite | AccessTransferWrite | AccessColorAttachmentWrite | AccessHostWrite

// IsWrite reports whether the mask contains any write access.
func (m AccessMask) IsWrite() bool {
	return m&writeBits != 0
}

// ImageLayout describes the memory arrangement an image must be in for a
// given access.
type ImageLayout uint32

// Image layouts.
const (
	// LayoutUndefined is the layout of a freshly allocated image. Content
	// is not preserved when transitioning away from it.
	LayoutUndefined ImageLayout = iota

	// LayoutGeneral supports all access types at reduced efficiency.
	LayoutGeneral

	// LayoutShaderReadOnly is required for sampled reads.
	LayoutShaderReadOnly

	// LayoutAttachment is required for render-target access.
	LayoutAttachment

	// LayoutTransferSrc is required for copy/blit sources.
	LayoutTransferSrc

	// LayoutTransferDst is required for copy/blit destinations.
	LayoutTransferDst

	// LayoutPresent is required for presentation engine hand-off.
	LayoutPresent
)

// PipelineStage is a bitmask of pipeline stages used to scope barriers.
type PipelineStage uint32

// Pipeline stages.
const (
	StageTop           PipelineStage = 1 << 0
	StageTransfer      PipelineStage = 1 << 1
	StageComputeShader PipelineStage = 1 << 2
	StageAllGraphics   PipelineStage = 1 << 3
	StageBottom        PipelineStage = 1 << 4

	// StageAllCommands scopes a barrier against every stage.
	StageAllCommands PipelineStage = 1<<5 - 1
)

// FamilyIgnored marks a barrier that performs no queue-family ownership
// transfer.
const FamilyIgnored uint32 = ^uint32(0)

// ImageDesc describes image memory to allocate.
type ImageDesc struct {
	// Format is the texel format.
	Format gputypes.TextureFormat

	// Size is the image extent. DepthOrArrayLayers is 1 for 2D images.
	Size gputypes.Extent3D

	// Usage declares every way the image will be used.
	Usage gputypes.TextureUsage

	// Levels is the mip level count. Zero means 1.
	Levels uint32

	// Layers is the array layer count. Zero means 1.
	Layers uint32
}

// BufferDesc describes buffer memory to allocate.
type BufferDesc struct {
	// Size is the buffer size in bytes.
	Size uint64

	// Usage declares every way the buffer will be used.
	Usage gputypes.BufferUsage
}

// Image is opaque backend image memory.
type Image interface {
	// Desc returns the descriptor the image was created with.
	Desc() ImageDesc

	// Destroy releases the memory. The image must not be in use.
	Destroy()
}

// Buffer is opaque backend buffer memory.
type Buffer interface {
	// Desc returns the descriptor the buffer was created with.
	Desc() BufferDesc

	// Destroy releases the memory. The buffer must not be in use.
	Destroy()
}

// SamplerDesc describes a texture sampler.
type SamplerDesc struct {
	// Linear selects linear filtering; false means nearest.
	Linear bool

	// Repeat selects repeat addressing; false means clamp-to-edge.
	Repeat bool
}

// Sampler is an opaque backend sampler. Samplers carry no mutable state
// and never participate in ownership transfer.
type Sampler interface {
	Desc() SamplerDesc
	Destroy()
}

// Allocator creates and destroys concrete resource memory on behalf of
// the resource table.
type Allocator interface {
	CreateImage(desc ImageDesc) (Image, error)
	CreateBuffer(desc BufferDesc) (Buffer, error)
	CreateSampler(desc SamplerDesc) (Sampler, error)
}

// Timeline is a monotonically increasing completion counter. The device
// advances it as submissions signal; the host observes or blocks on it.
type Timeline interface {
	// Value returns the latest counter value the device has signaled.
	Value() uint64

	// Wait blocks until the counter reaches target or ctx is done.
	Wait(ctx context.Context, target uint64) error
}

// ImageBarrier describes a memory/layout/ownership barrier on one image.
type ImageBarrier struct {
	Image     Image
	SrcAccess AccessMask
	DstAccess AccessMask
	OldLayout ImageLayout
	NewLayout ImageLayout
	SrcStage  PipelineStage
	DstStage  PipelineStage

	// SrcFamily/DstFamily are FamilyIgnored unless the barrier transfers
	// queue-family ownership.
	SrcFamily uint32
	DstFamily uint32
}

// BufferBarrier describes a memory/ownership barrier on one buffer.
type BufferBarrier struct {
	Buffer    Buffer
	SrcAccess AccessMask
	DstAccess AccessMask
	SrcStage  PipelineStage
	DstStage  PipelineStage
	SrcFamily uint32
	DstFamily uint32
}

// CommandSink accepts opaque recorded commands and barrier descriptions
// for one submission on one queue family.
type CommandSink interface {
	// ImageBarriers records image barriers at the current position.
	ImageBarriers(barriers ...ImageBarrier)

	// BufferBarriers records buffer barriers at the current position.
	BufferBarriers(barriers ...BufferBarrier)

	// Record appends one opaque command.
	Record(cmd Command)
}

// TimelinePoint pairs a timeline with a target value for submission
// wait/signal sets.
type TimelinePoint struct {
	Timeline Timeline
	Value    uint64
}

// Submission is one unit of work handed to a queue: a recorded sink, the
// timeline points it must wait for, and the points it signals when done.
type Submission struct {
	Sink    CommandSink
	Waits   []TimelinePoint
	Signals []TimelinePoint
}

// Queue describes one device queue.
type Queue struct {
	// Family is the queue-family index used for ownership transfer.
	Family uint32

	// Caps are the capabilities the queue supports.
	Caps QueueCaps
}

// Device is the full backend contract the scheduler runs against.
type Device interface {
	Allocator

	// Queues returns all queues the device exposes. The slice is stable
	// for the lifetime of the device.
	Queues() []Queue

	// NewTimeline creates a counter starting at initial.
	NewTimeline(initial uint64) (Timeline, error)

	// NewSink opens a command sink targeting the given queue family.
	NewSink(family uint32) (CommandSink, error)

	// Submit enqueues sub on the given family. The submission's signal
	// points advance once all commands complete on the device.
	Submit(family uint32, sub Submission) error
}
