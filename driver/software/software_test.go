package software

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/taskgraph/driver"
)

func TestTimelineWaitSignal(t *testing.T) {
	tl := newTimeline(0)
	if tl.Value() != 0 {
		t.Fatalf("initial value = %d", tl.Value())
	}

	done := make(chan error, 1)
	go func() {
		done <- tl.Wait(context.Background(), 3)
	}()

	tl.signal(2)
	select {
	case err := <-done:
		t.Fatalf("Wait(3) returned %v at value 2", err)
	case <-time.After(10 * time.Millisecond):
	}

	tl.signal(3)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Wait(3): %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait(3) never returned after signal")
	}
}

func TestTimelineWaitContext(t *testing.T) {
	tl := newTimeline(0)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- tl.Wait(ctx, 1)
	}()
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait = %v, want context.Canceled", err)
	}
}

func TestTimelineSignalMonotonic(t *testing.T) {
	tl := newTimeline(5)
	tl.signal(3)
	if tl.Value() != 5 {
		t.Fatalf("value regressed to %d", tl.Value())
	}
}

func TestSubmitExecutesCommands(t *testing.T) {
	dev := New()
	buf, err := dev.CreateBuffer(driver.BufferDesc{Size: 8, Usage: gputypes.BufferUsageCopyDst})
	if err != nil {
		t.Fatal(err)
	}
	sink, err := dev.NewSink(0)
	if err != nil {
		t.Fatal(err)
	}
	sink.Record(driver.WriteBuffer{Buffer: buf, Offset: 2, Data: []byte{1, 2, 3}})

	tl, _ := dev.NewTimeline(0)
	err = dev.Submit(0, driver.Submission{
		Sink:    sink,
		Signals: []driver.TimelinePoint{{Timeline: tl, Value: 1}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if tl.Value() != 1 {
		t.Fatalf("timeline = %d after submit, want 1", tl.Value())
	}
	want := []byte{0, 0, 1, 2, 3, 0, 0, 0}
	if got := buf.(*BufferMem).Bytes(); !bytes.Equal(got, want) {
		t.Fatalf("buffer = %v, want %v", got, want)
	}
}

func TestSubmitWaitUnsignaled(t *testing.T) {
	dev := New()
	sink, _ := dev.NewSink(0)
	tl, _ := dev.NewTimeline(0)
	err := dev.Submit(0, driver.Submission{
		Sink:  sink,
		Waits: []driver.TimelinePoint{{Timeline: tl, Value: 1}},
	})
	if !errors.Is(err, ErrWaitUnsignaled) {
		t.Fatalf("Submit = %v, want ErrWaitUnsignaled", err)
	}
}

func TestManualFlush(t *testing.T) {
	dev := New(WithManualSignal())
	buf, _ := dev.CreateBuffer(driver.BufferDesc{Size: 4, Usage: gputypes.BufferUsageCopyDst})
	sink, _ := dev.NewSink(0)
	sink.Record(driver.WriteBuffer{Buffer: buf, Data: []byte{9}})

	tl, _ := dev.NewTimeline(0)
	if err := dev.Submit(0, driver.Submission{
		Sink:    sink,
		Signals: []driver.TimelinePoint{{Timeline: tl, Value: 1}},
	}); err != nil {
		t.Fatal(err)
	}
	if tl.Value() != 0 {
		t.Fatal("submission executed before Flush")
	}
	if err := dev.Flush(); err != nil {
		t.Fatal(err)
	}
	if tl.Value() != 1 {
		t.Fatalf("timeline = %d after Flush, want 1", tl.Value())
	}
	if got := buf.(*BufferMem).Bytes()[0]; got != 9 {
		t.Fatalf("buffer[0] = %d, want 9", got)
	}
}

func TestCopyBufferToImage(t *testing.T) {
	dev := New()
	src, _ := dev.CreateBuffer(driver.BufferDesc{Size: 16, Usage: gputypes.BufferUsageCopySrc})
	img, err := dev.CreateImage(driver.ImageDesc{
		Format: gputypes.TextureFormatRGBA8Unorm,
		Size:   gputypes.Extent3D{Width: 2, Height: 2, DepthOrArrayLayers: 1},
		Usage:  gputypes.TextureUsageCopyDst,
	})
	if err != nil {
		t.Fatal(err)
	}
	for i := range src.(*BufferMem).Bytes() {
		src.(*BufferMem).Bytes()[i] = byte(i)
	}

	sink, _ := dev.NewSink(0)
	sink.Record(driver.CopyBufferToImage{Src: src, Dst: img})
	if err := dev.Submit(0, driver.Submission{Sink: sink}); err != nil {
		t.Fatal(err)
	}
	if got := img.(*ImageMem).Bytes(); !bytes.Equal(got, src.(*BufferMem).Bytes()) {
		t.Fatalf("image = %v, want buffer contents", got)
	}
}

func TestBlitScalesNearest(t *testing.T) {
	dev := New()
	src, _ := dev.CreateImage(driver.ImageDesc{
		Format: gputypes.TextureFormatR8Unorm,
		Size:   gputypes.Extent3D{Width: 1, Height: 1, DepthOrArrayLayers: 1},
		Usage:  gputypes.TextureUsageCopySrc,
	})
	dst, _ := dev.CreateImage(driver.ImageDesc{
		Format: gputypes.TextureFormatR8Unorm,
		Size:   gputypes.Extent3D{Width: 2, Height: 2, DepthOrArrayLayers: 1},
		Usage:  gputypes.TextureUsageCopyDst,
	})
	src.(*ImageMem).Bytes()[0] = 0x7f

	sink, _ := dev.NewSink(0)
	sink.Record(driver.Blit{Src: src, Dst: dst})
	if err := dev.Submit(0, driver.Submission{Sink: sink}); err != nil {
		t.Fatal(err)
	}
	for i, b := range dst.(*ImageMem).Bytes() {
		if b != 0x7f {
			t.Fatalf("dst[%d] = %#x, want 0x7f", i, b)
		}
	}
}

func TestRegistryOpen(t *testing.T) {
	dev, err := driver.Open("software")
	if err != nil {
		t.Fatalf("Open(software): %v", err)
	}
	if len(dev.Queues()) == 0 {
		t.Fatal("software device exposes no queues")
	}
	if _, err := driver.Open("missing"); !errors.Is(err, driver.ErrDriverNotAvailable) {
		t.Fatalf("Open(missing) = %v, want ErrDriverNotAvailable", err)
	}
}
