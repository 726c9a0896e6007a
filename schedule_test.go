package taskgraph

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/taskgraph/driver"
	"github.com/gogpu/taskgraph/driver/software"
)

// testTask is a Task assembled from closures.
type testTask struct {
	name     string
	caps     driver.QueueCaps
	register func(reg *ResourceRegistry)
	record   func(sink driver.CommandSink, res *Resources) error
}

func (t *testTask) Name() string           { return t.name }
func (t *testTask) Caps() driver.QueueCaps { return t.caps }

func (t *testTask) Register(reg *ResourceRegistry) {
	if t.register != nil {
		t.register(reg)
	}
}

func (t *testTask) Record(sink driver.CommandSink, res *Resources) error {
	if t.record != nil {
		return t.record(sink, res)
	}
	return nil
}

func newTestGraph(t *testing.T, opts ...Option) *Graph {
	t.Helper()
	g, err := New(software.New(), opts...)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func testBuffer(t *testing.T, g *Graph) BufferHandle {
	t.Helper()
	h, err := g.NewBuffer(driver.BufferDesc{Size: 64, Usage: gputypes.BufferUsageStorage}, "test")
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func testImage(t *testing.T, g *Graph) ImageHandle {
	t.Helper()
	h, err := g.NewImage(driver.ImageDesc{
		Format: gputypes.TextureFormatRGBA8Unorm,
		Size:   gputypes.Extent3D{Width: 4, Height: 4, DepthOrArrayLayers: 1},
		Usage:  gputypes.TextureUsageCopyDst | gputypes.TextureUsageCopySrc,
	}, "test")
	if err != nil {
		t.Fatal(err)
	}
	return h
}

// lastSink returns the sink of the newest in-flight submission on a
// track.
func lastSink(t *testing.T, g *Graph, id TrackID) *software.Sink {
	t.Helper()
	tr, ok := g.tracks.byID[id]
	if !ok || len(tr.inflight) == 0 {
		t.Fatalf("no submission on %v", id)
	}
	return tr.inflight[len(tr.inflight)-1].sink.(*software.Sink)
}

func TestFirstTouchInitBarrier(t *testing.T) {
	g := newTestGraph(t)
	buf := testBuffer(t, g)

	guards, err := g.Execute(&testTask{
		name: "reader",
		caps: driver.QueueCompute,
		register: func(reg *ResourceRegistry) {
			reg.UseBuffer(buf, driver.StageComputeShader, driver.AccessShaderRead)
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(guards) != 1 {
		t.Fatalf("got %d guards, want 1", len(guards))
	}

	var id TrackID
	for id = range guards {
	}
	barriers := lastSink(t, g, id).RecordedBufferBarriers()
	if len(barriers) != 1 {
		t.Fatalf("got %d barriers, want 1 init barrier", len(barriers))
	}
	b := barriers[0]
	if b.SrcAccess != 0 || b.DstAccess != driver.AccessShaderRead {
		t.Errorf("init barrier access %v -> %v", b.SrcAccess, b.DstAccess)
	}
	if b.SrcFamily != driver.FamilyIgnored || b.DstFamily != driver.FamilyIgnored {
		t.Errorf("init barrier transfers ownership: %d -> %d", b.SrcFamily, b.DstFamily)
	}
}

func TestNoBarrierWhenStateMatches(t *testing.T) {
	g := newTestGraph(t)
	buf := testBuffer(t, g)

	read := &testTask{
		name: "reader",
		caps: driver.QueueCompute,
		register: func(reg *ResourceRegistry) {
			reg.UseBuffer(buf, driver.StageComputeShader, driver.AccessShaderRead)
		},
	}
	guards, err := g.Execute(read)
	if err != nil {
		t.Fatal(err)
	}
	var id TrackID
	for id = range guards {
	}

	// Second round, identical access: recorded state already matches, so
	// the submission carries no barrier at all.
	if _, err := g.Execute(read); err != nil {
		t.Fatal(err)
	}
	sink := lastSink(t, g, id)
	if n := len(sink.RecordedBufferBarriers()); n != 0 {
		t.Fatalf("repeat read produced %d barriers, want 0", n)
	}
}

func TestWriteThenReadBarrier(t *testing.T) {
	g := newTestGraph(t)
	buf := testBuffer(t, g)

	writer := &testTask{
		name: "writer",
		caps: driver.QueueCompute,
		register: func(reg *ResourceRegistry) {
			reg.UseBuffer(buf, driver.StageComputeShader, driver.AccessShaderWrite)
		},
	}
	reader := &testTask{
		name: "reader",
		caps: driver.QueueCompute,
		register: func(reg *ResourceRegistry) {
			reg.UseBuffer(buf, driver.StageComputeShader, driver.AccessShaderRead)
		},
	}
	guards, err := g.Execute(writer, reader)
	if err != nil {
		t.Fatal(err)
	}
	if len(guards) != 1 {
		t.Fatalf("same-caps tasks split over %d tracks", len(guards))
	}
	var id TrackID
	for id = range guards {
	}

	barriers := lastSink(t, g, id).RecordedBufferBarriers()
	if len(barriers) != 2 {
		t.Fatalf("got %d barriers, want init + read", len(barriers))
	}
	b := barriers[1]
	if b.SrcAccess != driver.AccessShaderWrite || b.DstAccess != driver.AccessShaderRead {
		t.Errorf("hazard barrier access %v -> %v", b.SrcAccess, b.DstAccess)
	}
}

func TestSameRoundWriteWriteBarrier(t *testing.T) {
	g := newTestGraph(t)
	buf := testBuffer(t, g)

	write := func(name string) *testTask {
		return &testTask{
			name: name,
			caps: driver.QueueCompute,
			register: func(reg *ResourceRegistry) {
				reg.UseBuffer(buf, driver.StageComputeShader, driver.AccessShaderWrite)
			},
		}
	}
	guards, err := g.Execute(write("w1"), write("w2"))
	if err != nil {
		t.Fatal(err)
	}
	var id TrackID
	for id = range guards {
	}

	// Identical masks, but both writes land in one submission: the
	// second needs an execution barrier even though the state matches.
	if n := len(lastSink(t, g, id).RecordedBufferBarriers()); n != 2 {
		t.Fatalf("got %d barriers, want init + write-write", n)
	}
}

func TestCrossTrackTransfer(t *testing.T) {
	g := newTestGraph(t)
	buf := testBuffer(t, g)

	upload := &testTask{
		name: "upload",
		caps: driver.QueueTransfer,
		register: func(reg *ResourceRegistry) {
			reg.UseBuffer(buf, driver.StageTransfer, driver.AccessTransferWrite)
		},
	}
	consume := &testTask{
		name: "consume",
		caps: driver.QueueCompute,
		register: func(reg *ResourceRegistry) {
			reg.UseBuffer(buf, driver.StageComputeShader, driver.AccessShaderRead)
		},
	}
	guards, err := g.Execute(upload, consume)
	if err != nil {
		t.Fatal(err)
	}
	if len(guards) != 2 {
		t.Fatalf("got %d guards, want one per track", len(guards))
	}

	transferID := TrackID(driver.QueueTransfer)
	computeID := TrackID(driver.QueueCompute | driver.QueueTransfer)
	srcFam := g.tracks.familyOf(transferID)
	dstFam := g.tracks.familyOf(computeID)

	rel := lastSink(t, g, transferID).RecordedBufferBarriers()
	if len(rel) == 0 {
		t.Fatal("no barriers on releasing track")
	}
	release := rel[len(rel)-1]
	if release.SrcFamily != srcFam || release.DstFamily != dstFam {
		t.Errorf("release families %d -> %d, want %d -> %d", release.SrcFamily, release.DstFamily, srcFam, dstFam)
	}

	acq := lastSink(t, g, computeID).RecordedBufferBarriers()
	if len(acq) != 1 {
		t.Fatalf("got %d acquire barriers, want 1", len(acq))
	}
	if acq[0] != release {
		t.Errorf("acquire barrier %+v does not mirror release %+v", acq[0], release)
	}

	state, err := g.res.BufferState(buf)
	if err != nil {
		t.Fatal(err)
	}
	if !state.Initialised || state.OwnerFamily != dstFam {
		t.Errorf("ownership ended at family %d, want %d", state.OwnerFamily, dstFam)
	}
}

func TestTrackCycleFails(t *testing.T) {
	g := newTestGraph(t)
	b1 := testBuffer(t, g)
	b2 := testBuffer(t, g)

	use := func(name string, caps driver.QueueCaps, h BufferHandle, access driver.AccessMask) *testTask {
		return &testTask{
			name: name,
			caps: caps,
			register: func(reg *ResourceRegistry) {
				reg.UseBuffer(h, driver.StageComputeShader, access)
			},
		}
	}

	// Round 1: b1 lands on the graphics track, b2 on the compute track.
	_, err := g.Execute(
		use("initA", driver.QueueGraphics, b1, driver.AccessShaderWrite),
		use("initB", driver.QueueCompute, b2, driver.AccessShaderWrite),
	)
	if err != nil {
		t.Fatal(err)
	}

	before1, err := g.res.BufferState(b1)
	if err != nil {
		t.Fatal(err)
	}
	before2, err := g.res.BufferState(b2)
	if err != nil {
		t.Fatal(err)
	}

	// Round 2: each track needs the other's buffer. Both submissions
	// would wait on each other's round guard.
	_, err = g.Execute(
		use("swapA", driver.QueueGraphics, b2, driver.AccessShaderRead),
		use("swapB", driver.QueueCompute, b1, driver.AccessShaderRead),
	)
	if !errors.Is(err, ErrDependencyCycle) {
		t.Fatalf("Execute = %v, want ErrDependencyCycle", err)
	}

	// The failed round must leave no trace: recorded ownership, access
	// and guards are exactly as round 1 left them.
	after1, err := g.res.BufferState(b1)
	if err != nil {
		t.Fatal(err)
	}
	after2, err := g.res.BufferState(b2)
	if err != nil {
		t.Fatal(err)
	}
	if after1 != before1 {
		t.Errorf("b1 state changed by failed round: %+v vs %+v", after1, before1)
	}
	if after2 != before2 {
		t.Errorf("b2 state changed by failed round: %+v vs %+v", after2, before2)
	}

	// A well-formed follow-up round still works: the transfer to the
	// compute track schedules a real release/acquire pair.
	if _, err := g.Execute(use("handoff", driver.QueueCompute, b1, driver.AccessShaderRead)); err != nil {
		t.Fatalf("round after failed round: %v", err)
	}
	state, err := g.res.BufferState(b1)
	if err != nil {
		t.Fatal(err)
	}
	computeFam := g.tracks.familyOf(TrackID(driver.QueueCompute | driver.QueueTransfer))
	if state.OwnerFamily != computeFam {
		t.Errorf("b1 owned by family %d after handoff, want %d", state.OwnerFamily, computeFam)
	}
}

func TestLayoutConflict(t *testing.T) {
	g := newTestGraph(t)
	img := testImage(t, g)

	_, err := g.Execute(&testTask{
		name: "confused",
		caps: driver.QueueGraphics,
		register: func(reg *ResourceRegistry) {
			reg.UseImage(img, driver.StageTransfer, driver.AccessTransferRead, driver.LayoutTransferSrc)
			reg.UseImage(img, driver.StageTransfer, driver.AccessTransferWrite, driver.LayoutTransferDst)
		},
	})
	if !errors.Is(err, ErrLayoutConflict) {
		t.Fatalf("Execute = %v, want ErrLayoutConflict", err)
	}
}

func TestDuplicateAccessesMerge(t *testing.T) {
	g := newTestGraph(t)
	buf := testBuffer(t, g)

	guards, err := g.Execute(&testTask{
		name: "readwrite",
		caps: driver.QueueCompute,
		register: func(reg *ResourceRegistry) {
			reg.UseBuffer(buf, driver.StageComputeShader, driver.AccessShaderRead)
			reg.UseBuffer(buf, driver.StageComputeShader, driver.AccessShaderWrite)
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	var id TrackID
	for id = range guards {
	}
	barriers := lastSink(t, g, id).RecordedBufferBarriers()
	if len(barriers) != 1 {
		t.Fatalf("got %d barriers, want 1 merged init", len(barriers))
	}
	want := driver.AccessShaderRead | driver.AccessShaderWrite
	if barriers[0].DstAccess != want {
		t.Errorf("merged access = %v, want %v", barriers[0].DstAccess, want)
	}
}

func TestNoFittingTrack(t *testing.T) {
	g := newTestGraph(t)
	_, err := g.Execute(&testTask{name: "rt", caps: driver.QueueRayTracing})
	if !errors.Is(err, ErrNoFittingTrack) {
		t.Fatalf("Execute = %v, want ErrNoFittingTrack", err)
	}
}

func TestUnknownHandleFails(t *testing.T) {
	g := newTestGraph(t)
	buf := testBuffer(t, g)
	if err := g.DeleteBuffer(buf); err != nil {
		t.Fatal(err)
	}
	_, err := g.Execute(&testTask{
		name: "stale",
		caps: driver.QueueCompute,
		register: func(reg *ResourceRegistry) {
			reg.UseBuffer(buf, driver.StageComputeShader, driver.AccessShaderRead)
		},
	})
	if !errors.Is(err, ErrNoSuchResource) {
		t.Fatalf("Execute = %v, want ErrNoSuchResource", err)
	}
}

func TestOwnershipStateMachine(t *testing.T) {
	key := resKey{kind: kindBuffer}

	own := ownership{state: ownUninitialised}
	if err := releaseRes(&own, key, 1); !errors.Is(err, ErrReleaseUninitialised) {
		t.Errorf("release uninitialised = %v", err)
	}

	own = ownership{state: ownOwned, owner: 0}
	if err := acquireRes(&own, key, 1); !errors.Is(err, ErrAcquireRecord) {
		t.Errorf("acquire owned = %v", err)
	}

	own = ownership{state: ownOwned, owner: 0}
	if err := releaseRes(&own, key, 1); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := releaseRes(&own, key, 2); !errors.Is(err, ErrReleaseRecord) {
		t.Errorf("double release = %v", err)
	}
	if err := acquireRes(&own, key, 2); !errors.Is(err, ErrReleaseRecord) {
		t.Errorf("acquire by wrong family = %v", err)
	}
	if err := acquireRes(&own, key, 1); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if own.state != ownOwned || own.owner != 1 {
		t.Fatalf("final ownership %+v", own)
	}
}
