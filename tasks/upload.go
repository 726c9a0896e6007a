// Package tasks provides ready-made building blocks for common graph
// work: host-to-device uploads, image blits and compute dispatches.
package tasks

import (
	"github.com/gogpu/taskgraph"
	"github.com/gogpu/taskgraph/driver"
)

// UploadBuffer copies host bytes into a tracked buffer. The task can be
// reused across rounds; Guard reports the most recent round's
// completion point so callers know when the data has landed.
type UploadBuffer struct {
	Dst    taskgraph.BufferHandle
	Offset uint64
	Data   []byte

	guard taskgraph.Guard
}

// NewUploadBuffer uploads data to dst at offset zero.
func NewUploadBuffer(dst taskgraph.BufferHandle, data []byte) *UploadBuffer {
	return &UploadBuffer{Dst: dst, Data: data}
}

func (u *UploadBuffer) Name() string { return "UploadBuffer" }

func (u *UploadBuffer) Caps() driver.QueueCaps { return driver.QueueTransfer }

func (u *UploadBuffer) Register(reg *taskgraph.ResourceRegistry) {
	reg.UseBuffer(u.Dst, driver.StageTransfer, driver.AccessTransferWrite)
}

func (u *UploadBuffer) Record(sink driver.CommandSink, res *taskgraph.Resources) error {
	buf, err := res.Buffer(u.Dst)
	if err != nil {
		return err
	}
	sink.Record(driver.WriteBuffer{Buffer: buf, Offset: u.Offset, Data: u.Data})
	return nil
}

func (u *UploadBuffer) PostRecord(res *taskgraph.Resources, guard taskgraph.Guard) {
	u.guard = guard
}

// Guard returns the completion point of the last round this task ran in.
func (u *UploadBuffer) Guard() taskgraph.Guard { return u.guard }

// UploadImage copies host texel data into a tracked image.
type UploadImage struct {
	Dst  taskgraph.ImageHandle
	Data []byte

	guard taskgraph.Guard
}

// NewUploadImage uploads data covering the full image extent.
func NewUploadImage(dst taskgraph.ImageHandle, data []byte) *UploadImage {
	return &UploadImage{Dst: dst, Data: data}
}

func (u *UploadImage) Name() string { return "UploadImage" }

func (u *UploadImage) Caps() driver.QueueCaps { return driver.QueueTransfer }

func (u *UploadImage) Register(reg *taskgraph.ResourceRegistry) {
	reg.UseImage(u.Dst, driver.StageTransfer, driver.AccessTransferWrite, driver.LayoutTransferDst)
}

func (u *UploadImage) Record(sink driver.CommandSink, res *taskgraph.Resources) error {
	img, err := res.Image(u.Dst)
	if err != nil {
		return err
	}
	sink.Record(driver.WriteImage{Image: img, Data: u.Data})
	return nil
}

func (u *UploadImage) PostRecord(res *taskgraph.Resources, guard taskgraph.Guard) {
	u.guard = guard
}

// Guard returns the completion point of the last round this task ran in.
func (u *UploadImage) Guard() taskgraph.Guard { return u.guard }
