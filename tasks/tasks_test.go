package tasks_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/taskgraph"
	"github.com/gogpu/taskgraph/driver"
	"github.com/gogpu/taskgraph/driver/software"
	"github.com/gogpu/taskgraph/tasks"
)

func TestUploadBlitRound(t *testing.T) {
	g, err := taskgraph.New(software.New())
	if err != nil {
		t.Fatal(err)
	}
	defer g.Close(context.Background())

	src, err := g.NewImage(driver.ImageDesc{
		Format: gputypes.TextureFormatR8Unorm,
		Size:   gputypes.Extent3D{Width: 2, Height: 2, DepthOrArrayLayers: 1},
		Usage:  gputypes.TextureUsageCopyDst | gputypes.TextureUsageCopySrc,
	}, "src")
	if err != nil {
		t.Fatal(err)
	}
	dst, err := g.NewImage(driver.ImageDesc{
		Format: gputypes.TextureFormatR8Unorm,
		Size:   gputypes.Extent3D{Width: 2, Height: 2, DepthOrArrayLayers: 1},
		Usage:  gputypes.TextureUsageCopyDst,
	}, "dst")
	if err != nil {
		t.Fatal(err)
	}

	texels := []byte{10, 20, 30, 40}
	upload := tasks.NewUploadImage(src, texels)
	blit := tasks.NewBlit(src, dst)

	guards, err := g.Execute(upload, blit)
	if err != nil {
		t.Fatal(err)
	}
	if !upload.Guard().Track().Caps().Contains(driver.QueueTransfer) {
		t.Errorf("upload ran on %v", upload.Guard().Track())
	}
	for _, guard := range guards {
		if err := g.WaitGuard(context.Background(), guard); err != nil {
			t.Fatal(err)
		}
	}

	mem, err := g.Resources().Image(dst)
	if err != nil {
		t.Fatal(err)
	}
	if got := mem.(*software.ImageMem).Bytes(); !bytes.Equal(got, texels) {
		t.Fatalf("blit target = %v, want %v", got, texels)
	}
}

func TestUploadThenDispatch(t *testing.T) {
	g, err := taskgraph.New(software.New())
	if err != nil {
		t.Fatal(err)
	}
	defer g.Close(context.Background())

	buf, err := g.NewBuffer(driver.BufferDesc{
		Size:  32,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst,
	}, "particles")
	if err != nil {
		t.Fatal(err)
	}

	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i)
	}
	upload := tasks.NewUploadBuffer(buf, seed)
	sim := &tasks.Dispatch{
		TaskName: "Simulate",
		Buffers:  []tasks.BufferUse{{Buffer: buf, Access: driver.AccessShaderRead | driver.AccessShaderWrite}},
		GroupsX:  1, GroupsY: 1, GroupsZ: 1,
	}

	guards, err := g.Execute(upload, sim)
	if err != nil {
		t.Fatal(err)
	}
	// Upload lands on the transfer queue, the dispatch on the compute
	// queue; the round must span both tracks.
	if len(guards) != 2 {
		t.Fatalf("round used %d tracks, want 2: %v", len(guards), guards)
	}
	if upload.Guard().TargetValue() == 0 {
		t.Fatal("upload guard not delivered")
	}

	mem, err := g.Resources().Buffer(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got := mem.(*software.BufferMem).Bytes(); !bytes.Equal(got, seed) {
		t.Fatalf("buffer = %v, want %v", got, seed)
	}
}
