package tasks

import (
	"github.com/gogpu/taskgraph"
	"github.com/gogpu/taskgraph/driver"
)

// Blit copies one image onto another, scaling if the extents differ.
// Typical use: moving a rendered frame onto a presentable image.
type Blit struct {
	Src taskgraph.ImageHandle
	Dst taskgraph.ImageHandle
}

// NewBlit blits src onto dst.
func NewBlit(src, dst taskgraph.ImageHandle) *Blit {
	return &Blit{Src: src, Dst: dst}
}

func (b *Blit) Name() string { return "Blit" }

// Caps requires graphics: blits with format conversion and scaling are a
// graphics-queue operation on most hardware.
func (b *Blit) Caps() driver.QueueCaps { return driver.QueueGraphics }

func (b *Blit) Register(reg *taskgraph.ResourceRegistry) {
	reg.UseImage(b.Src, driver.StageTransfer, driver.AccessTransferRead, driver.LayoutTransferSrc)
	reg.UseImage(b.Dst, driver.StageTransfer, driver.AccessTransferWrite, driver.LayoutTransferDst)
}

func (b *Blit) Record(sink driver.CommandSink, res *taskgraph.Resources) error {
	src, err := res.Image(b.Src)
	if err != nil {
		return err
	}
	dst, err := res.Image(b.Dst)
	if err != nil {
		return err
	}
	sink.Record(driver.Blit{Src: src, Dst: dst})
	return nil
}
