// Command tgdemo runs one scheduling round on the software device: it
// uploads texel data, runs a compute pass over a buffer and blits the
// image to a larger target, then reads the results back.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/taskgraph"
	"github.com/gogpu/taskgraph/driver"
	"github.com/gogpu/taskgraph/driver/software"
	"github.com/gogpu/taskgraph/tasks"
)

func main() {
	verbose := flag.Bool("v", false, "debug logging")
	policyPath := flag.String("policy", "", "capability policy YAML file")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	taskgraph.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := run(*policyPath); err != nil {
		fmt.Fprintln(os.Stderr, "tgdemo:", err)
		os.Exit(1)
	}
}

func run(policyPath string) error {
	dev, err := driver.OpenDefault()
	if err != nil {
		return err
	}

	var opts []taskgraph.Option
	if policyPath != "" {
		data, err := os.ReadFile(policyPath)
		if err != nil {
			return err
		}
		policy, err := taskgraph.PolicyFromYAML(data)
		if err != nil {
			return err
		}
		opts = append(opts, taskgraph.WithPolicy(policy))
	}

	g, err := taskgraph.New(dev, opts...)
	if err != nil {
		return err
	}
	ctx := context.Background()
	defer g.Close(ctx)

	src, err := g.NewImage(driver.ImageDesc{
		Format: gputypes.TextureFormatRGBA8Unorm,
		Size:   gputypes.Extent3D{Width: 2, Height: 2, DepthOrArrayLayers: 1},
		Usage:  gputypes.TextureUsageCopyDst | gputypes.TextureUsageCopySrc,
	}, "source")
	if err != nil {
		return err
	}
	dst, err := g.NewImage(driver.ImageDesc{
		Format: gputypes.TextureFormatRGBA8Unorm,
		Size:   gputypes.Extent3D{Width: 4, Height: 4, DepthOrArrayLayers: 1},
		Usage:  gputypes.TextureUsageCopyDst,
	}, "target")
	if err != nil {
		return err
	}
	buf, err := g.NewBuffer(driver.BufferDesc{
		Size:  64,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst,
	}, "particles")
	if err != nil {
		return err
	}

	texels := []byte{
		0xff, 0x00, 0x00, 0xff, 0x00, 0xff, 0x00, 0xff,
		0x00, 0x00, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	}
	upload := tasks.NewUploadImage(src, texels)
	seed := tasks.NewUploadBuffer(buf, make([]byte, 64))
	sim := &tasks.Dispatch{
		TaskName: "Simulate",
		Buffers:  []tasks.BufferUse{{Buffer: buf, Access: driver.AccessShaderRead | driver.AccessShaderWrite}},
		GroupsX:  1, GroupsY: 1, GroupsZ: 1,
	}
	blit := tasks.NewBlit(src, dst)

	guards, err := g.Execute(upload, seed, sim, blit)
	if err != nil {
		return err
	}
	for track, guard := range guards {
		if err := g.WaitGuard(ctx, guard); err != nil {
			return err
		}
		fmt.Printf("%s finished at %s\n", track, guard)
	}

	img, err := g.Resources().Image(dst)
	if err != nil {
		return err
	}
	fmt.Printf("target bytes: % x\n", img.(*software.ImageMem).Bytes()[:16])
	return nil
}
