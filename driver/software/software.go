// Package software provides a pure-Go, in-memory implementation of the
// driver contracts. It executes the recorded command set on host byte
// slices and signals timelines either synchronously on submit or under
// manual control, which makes it the device double for tests, examples
// and headless environments.
package software

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/taskgraph/driver"
)

// ErrWaitUnsignaled is returned when a submission waits on a timeline
// point that no prior submission will ever signal. On real hardware this
// is a deadlock; the software device turns it into a hard error so
// scheduling bugs surface in tests.
var ErrWaitUnsignaled = errors.New("software: wait on unsignaled timeline point")

func init() {
	driver.Register("software", func() (driver.Device, error) {
		return New(), nil
	})
}

// Option configures a Device during creation.
type Option func(*Device)

// WithQueues replaces the default queue layout.
func WithQueues(queues []driver.Queue) Option {
	return func(d *Device) {
		d.queues = append([]driver.Queue(nil), queues...)
	}
}

// WithManualSignal defers command execution until Flush is called.
// Submissions pile up in order; timelines stay put. Tests use this to
// observe guards before and after completion.
func WithManualSignal() Option {
	return func(d *Device) {
		d.manual = true
	}
}

// Device is an in-memory driver.Device.
type Device struct {
	queues []driver.Queue
	manual bool

	mu      sync.Mutex
	pending []pendingSub
}

type pendingSub struct {
	family uint32
	sub    driver.Submission
}

// New creates a software device. The default queue layout mimics a
// discrete GPU: one general family, one compute family, one transfer
// family.
func New(opts ...Option) *Device {
	d := &Device{
		queues: []driver.Queue{
			{Family: 0, Caps: driver.QueueGraphics | driver.QueueCompute | driver.QueueTransfer},
			{Family: 1, Caps: driver.QueueCompute | driver.QueueTransfer},
			{Family: 2, Caps: driver.QueueTransfer},
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Queues implements driver.Device.
func (d *Device) Queues() []driver.Queue { return d.queues }

// NewTimeline implements driver.Device.
func (d *Device) NewTimeline(initial uint64) (driver.Timeline, error) {
	return newTimeline(initial), nil
}

// NewSink implements driver.Device.
func (d *Device) NewSink(family uint32) (driver.CommandSink, error) {
	for _, q := range d.queues {
		if q.Family == family {
			return &Sink{family: family}, nil
		}
	}
	return nil, fmt.Errorf("software: no queue family %d", family)
}

// Submit implements driver.Device. In the default mode the submission
// executes immediately on the calling goroutine and its signal points
// advance before Submit returns. In manual mode it is queued for Flush.
func (d *Device) Submit(family uint32, sub driver.Submission) error {
	if d.manual {
		d.mu.Lock()
		d.pending = append(d.pending, pendingSub{family: family, sub: sub})
		d.mu.Unlock()
		return nil
	}
	return execute(sub)
}

// Flush executes all pending submissions in submission order and signals
// their timeline points. Only meaningful with WithManualSignal.
func (d *Device) Flush() error {
	d.mu.Lock()
	pending := d.pending
	d.pending = nil
	d.mu.Unlock()

	for _, p := range pending {
		if err := execute(p.sub); err != nil {
			return err
		}
	}
	return nil
}

func execute(sub driver.Submission) error {
	for _, w := range sub.Waits {
		if w.Timeline.Value() < w.Value {
			return fmt.Errorf("%w: want %d, have %d", ErrWaitUnsignaled, w.Value, w.Timeline.Value())
		}
	}

	sink, ok := sub.Sink.(*Sink)
	if !ok {
		return errors.New("software: foreign command sink")
	}
	for _, cmd := range sink.commands {
		if err := run(cmd); err != nil {
			return err
		}
	}

	for _, s := range sub.Signals {
		s.Timeline.(*timeline).signal(s.Value)
	}
	return nil
}

func run(cmd driver.Command) error {
	switch c := cmd.(type) {
	case driver.WriteBuffer:
		dst := c.Buffer.(*BufferMem)
		if c.Offset+uint64(len(c.Data)) > uint64(len(dst.data)) {
			return fmt.Errorf("software: WriteBuffer out of range (%d+%d > %d)", c.Offset, len(c.Data), len(dst.data))
		}
		copy(dst.data[c.Offset:], c.Data)
	case driver.WriteImage:
		dst := c.Image.(*ImageMem)
		if len(c.Data) > len(dst.data) {
			return fmt.Errorf("software: WriteImage out of range (%d > %d)", len(c.Data), len(dst.data))
		}
		copy(dst.data, c.Data)
	case driver.CopyBuffer:
		src := c.Src.(*BufferMem)
		dst := c.Dst.(*BufferMem)
		if c.SrcOffset+c.Size > uint64(len(src.data)) || c.DstOffset+c.Size > uint64(len(dst.data)) {
			return errors.New("software: CopyBuffer out of range")
		}
		copy(dst.data[c.DstOffset:c.DstOffset+c.Size], src.data[c.SrcOffset:])
	case driver.CopyBufferToImage:
		src := c.Src.(*BufferMem)
		dst := c.Dst.(*ImageMem)
		n := uint64(len(dst.data))
		if c.SrcOffset+n > uint64(len(src.data)) {
			return errors.New("software: CopyBufferToImage out of range")
		}
		copy(dst.data, src.data[c.SrcOffset:c.SrcOffset+n])
	case driver.Blit:
		blit(c.Src.(*ImageMem), c.Dst.(*ImageMem))
	case driver.Dispatch:
		// Compute kernels have no host-side meaning here.
	default:
		return fmt.Errorf("software: unknown command %T", cmd)
	}
	return nil
}

// blit copies src into dst with nearest-neighbour scaling when the
// extents differ. Formats must share the texel size.
func blit(src, dst *ImageMem) {
	sw, sh := int(src.desc.Size.Width), int(src.desc.Size.Height)
	dw, dh := int(dst.desc.Size.Width), int(dst.desc.Size.Height)
	bpp := texelSize(src.desc.Format)
	if sw == dw && sh == dh && bpp == texelSize(dst.desc.Format) {
		copy(dst.data, src.data)
		return
	}
	for y := 0; y < dh; y++ {
		sy := y * sh / dh
		for x := 0; x < dw; x++ {
			sx := x * sw / dw
			di := (y*dw + x) * bpp
			si := (sy*sw + sx) * bpp
			copy(dst.data[di:di+bpp], src.data[si:si+bpp])
		}
	}
}

func texelSize(format gputypes.TextureFormat) int {
	switch format {
	case gputypes.TextureFormatR8Unorm:
		return 1
	default:
		// All other supported formats are 32-bit.
		return 4
	}
}

// CreateImage implements driver.Allocator.
func (d *Device) CreateImage(desc driver.ImageDesc) (driver.Image, error) {
	if desc.Size.Width == 0 || desc.Size.Height == 0 {
		return nil, errors.New("software: zero image extent")
	}
	depth := desc.Size.DepthOrArrayLayers
	if depth == 0 {
		depth = 1
	}
	size := int(desc.Size.Width) * int(desc.Size.Height) * int(depth) * texelSize(desc.Format)
	return &ImageMem{desc: desc, data: make([]byte, size)}, nil
}

// CreateBuffer implements driver.Allocator.
func (d *Device) CreateBuffer(desc driver.BufferDesc) (driver.Buffer, error) {
	if desc.Size == 0 {
		return nil, errors.New("software: zero buffer size")
	}
	return &BufferMem{desc: desc, data: make([]byte, desc.Size)}, nil
}

// CreateSampler implements driver.Allocator.
func (d *Device) CreateSampler(desc driver.SamplerDesc) (driver.Sampler, error) {
	return &SamplerMem{desc: desc}, nil
}

// ImageMem is software image memory.
type ImageMem struct {
	desc driver.ImageDesc
	data []byte
}

// Desc implements driver.Image.
func (m *ImageMem) Desc() driver.ImageDesc { return m.desc }

// Destroy implements driver.Image.
func (m *ImageMem) Destroy() { m.data = nil }

// Bytes exposes the backing store for readback in tests and examples.
func (m *ImageMem) Bytes() []byte { return m.data }

// BufferMem is software buffer memory.
type BufferMem struct {
	desc driver.BufferDesc
	data []byte
}

// Desc implements driver.Buffer.
func (m *BufferMem) Desc() driver.BufferDesc { return m.desc }

// Destroy implements driver.Buffer.
func (m *BufferMem) Destroy() { m.data = nil }

// Bytes exposes the backing store for readback in tests and examples.
func (m *BufferMem) Bytes() []byte { return m.data }

// SamplerMem is a software sampler.
type SamplerMem struct {
	desc driver.SamplerDesc
}

// Desc implements driver.Sampler.
func (m *SamplerMem) Desc() driver.SamplerDesc { return m.desc }

// Destroy implements driver.Sampler.
func (m *SamplerMem) Destroy() {}

// Sink records commands and barriers for one queue family.
type Sink struct {
	family         uint32
	imageBarriers  []driver.ImageBarrier
	bufferBarriers []driver.BufferBarrier
	commands       []driver.Command
}

// ImageBarriers implements driver.CommandSink. Barriers have no memory
// effect on the software device but are retained for inspection.
func (s *Sink) ImageBarriers(barriers ...driver.ImageBarrier) {
	s.imageBarriers = append(s.imageBarriers, barriers...)
}

// BufferBarriers implements driver.CommandSink.
func (s *Sink) BufferBarriers(barriers ...driver.BufferBarrier) {
	s.bufferBarriers = append(s.bufferBarriers, barriers...)
}

// Record implements driver.CommandSink.
func (s *Sink) Record(cmd driver.Command) {
	s.commands = append(s.commands, cmd)
}

// Family returns the queue family the sink targets.
func (s *Sink) Family() uint32 { return s.family }

// Commands returns the recorded command list.
func (s *Sink) Commands() []driver.Command { return s.commands }

// RecordedImageBarriers returns all image barriers recorded so far.
func (s *Sink) RecordedImageBarriers() []driver.ImageBarrier { return s.imageBarriers }

// RecordedBufferBarriers returns all buffer barriers recorded so far.
func (s *Sink) RecordedBufferBarriers() []driver.BufferBarrier { return s.bufferBarriers }
