package taskgraph

import (
	"fmt"

	"github.com/gogpu/taskgraph/driver"
)

// taskRecord is one registered task inside a scheduling round.
type taskRecord struct {
	index int // registration order
	task  Task
	reg   *ResourceRegistry

	// accesses is the merged, conflict-checked access list.
	accesses []resourceAccess

	track TrackID
}

// scheduledTask is a task plus the in-track barriers that must precede
// it.
type scheduledTask struct {
	rec            *taskRecord
	imageBarriers  []driver.ImageBarrier
	bufferBarriers []driver.BufferBarrier
}

// trackPlan is everything one track submits this round: acquire barriers
// up front, tasks with their pre-barriers, release barriers at the end,
// one wait value per producing track, and the round guard it signals.
type trackPlan struct {
	id    TrackID
	guard Guard

	acquireImage  []driver.ImageBarrier
	acquireBuffer []driver.BufferBarrier

	tasks []scheduledTask

	releaseImage  []driver.ImageBarrier
	releaseBuffer []driver.BufferBarrier

	// waits folds every guard the submission depends on into at most
	// one value per track.
	waits map[TrackID]uint64

	foreignSignals []driver.TimelinePoint
}

// addWait folds a guard into the wait set. Same-track guards are
// dropped: queue submission order already serialises them, and waiting
// on the track's own round guard would deadlock it.
func (tp *trackPlan) addWait(g Guard) {
	if !g.pending() || g.track == tp.id {
		return
	}
	if v := tp.waits[g.track]; g.target > v {
		tp.waits[g.track] = g.target
	}
}

// plan is a complete, validated submission plan for one round.
type plan struct {
	records []*taskRecord
	tracks  map[TrackID]*trackPlan
	order   []TrackID // submission order
	guards  map[TrackID]Guard
}

// scheduler is the per-round scheduling context. It carries no state
// across rounds; everything long-lived lives on the Graph.
type scheduler struct {
	g     *Graph
	plans map[TrackID]*trackPlan
}

// buildPlan runs registration, track assignment, dependency analysis and
// barrier synthesis for one round. It mutates the resource table (the
// table records scheduled state, not executed state) but submits
// nothing; on error the round is aborted before any device work.
func (g *Graph) buildPlan(tasks []Task) (*plan, error) {
	s := &scheduler{g: g, plans: make(map[TrackID]*trackPlan)}

	records, err := s.register(tasks)
	if err != nil {
		return nil, err
	}
	if err := s.assign(records); err != nil {
		return nil, err
	}

	order, err := s.sortTasks(records)
	if err != nil {
		return nil, err
	}

	// Validate accesses and order the tracks before synthesis touches
	// any state: a failure here leaves the resource table and the track
	// watermarks exactly as they were.
	trackOrder, err := s.prepareTracks(order, records)
	if err != nil {
		return nil, err
	}

	for _, idx := range order {
		if err := s.scheduleTask(records[idx]); err != nil {
			return nil, err
		}
	}

	submitOrder := make([]TrackID, 0, len(s.plans))
	for _, id := range trackOrder {
		if _, ok := s.plans[id]; ok {
			submitOrder = append(submitOrder, id)
		}
	}

	guards := make(map[TrackID]Guard, len(s.plans))
	for id, tp := range s.plans {
		guards[id] = tp.guard
	}
	return &plan{records: records, tracks: s.plans, order: submitOrder, guards: guards}, nil
}

// register runs every task's registration step, resolves attachment
// requests through the temporary cache and merges duplicate accesses.
// Pre-record hooks run at the end, once every handle is concrete.
func (s *scheduler) register(tasks []Task) ([]*taskRecord, error) {
	records := make([]*taskRecord, 0, len(tasks))
	for i, task := range tasks {
		reg := newRegistry()
		task.Register(reg)

		for _, att := range reg.attachments {
			h, err := s.resolveAttachment(att)
			if err != nil {
				return nil, fmt.Errorf("task %q: %w", task.Name(), err)
			}
			att.handle = h
			reg.accesses = append(reg.accesses, resourceAccess{
				key:    keyOfImage(h),
				stage:  att.stage,
				access: att.access,
				layout: att.layout,
			})
		}

		accesses, err := mergeAccesses(reg.accesses)
		if err != nil {
			return nil, fmt.Errorf("task %q: %w", task.Name(), err)
		}

		records = append(records, &taskRecord{
			index:    i,
			task:     task,
			reg:      reg,
			accesses: accesses,
		})
	}

	for _, rec := range records {
		if pre, ok := rec.task.(PreRecorder); ok {
			if err := pre.PreRecord(s.g.res); err != nil {
				return nil, fmt.Errorf("task %q: pre-record: %w", rec.task.Name(), err)
			}
		}
	}
	return records, nil
}

// resolveAttachment turns a deferred image request into a concrete
// handle, reusing an idle temporary when one matches.
func (s *scheduler) resolveAttachment(att *Attachment) (ImageHandle, error) {
	if h, ok := s.g.res.acquireTempImage(att.desc, s.g.tracks.guardFinished); ok {
		return h, nil
	}
	img, err := s.g.dev.CreateImage(att.desc.imageDesc())
	if err != nil {
		return ImageHandle{}, fmt.Errorf("allocating attachment: %w", err)
	}
	name := fmt.Sprintf("attachment %dx%d", att.desc.Size.Width, att.desc.Size.Height)
	h := s.g.res.addImage(img, name)
	if err := s.g.res.registerTemp(keyOfImage(h), s.g.tempTimeout); err != nil {
		return ImageHandle{}, err
	}
	Logger().Debug("attachment allocated", "image", keyOfImage(h), "name", name)
	return h, nil
}

// mergeAccesses folds duplicate declarations of the same resource into
// one access and rejects a task that wants one image in two layouts at
// once.
func mergeAccesses(accesses []resourceAccess) ([]resourceAccess, error) {
	merged := make([]resourceAccess, 0, len(accesses))
	byKey := make(map[resKey]int, len(accesses))
	for _, a := range accesses {
		i, ok := byKey[a.key]
		if !ok {
			byKey[a.key] = len(merged)
			merged = append(merged, a)
			continue
		}
		prev := &merged[i]
		if a.key.kind == kindImage && prev.layout != a.layout {
			return nil, fmt.Errorf("%w: %s wants %d and %d", ErrLayoutConflict, a.key, prev.layout, a.layout)
		}
		prev.access |= a.access
		prev.stage |= a.stage
	}
	return merged, nil
}

// assign picks the track for every task via the capability policy.
func (s *scheduler) assign(records []*taskRecord) error {
	for _, rec := range records {
		id, ok := s.g.tracks.trackForUsage(s.g.policy, rec.task.Caps())
		if !ok {
			return fmt.Errorf("%w: task %q needs %s", ErrNoFittingTrack, rec.task.Name(), rec.task.Caps())
		}
		rec.track = id
	}
	return nil
}

// sortTasks builds the dependency edges from the declared accesses and
// returns a stable topological order (ties broken by registration
// order).
//
// Edges: last writer before next accessor, and every reader before the
// next writer. Two reads never order against each other.
func (s *scheduler) sortTasks(records []*taskRecord) ([]int, error) {
	n := len(records)
	adj := make([][]int, n)
	indeg := make([]int, n)
	seen := make(map[[2]int]struct{})
	addEdge := func(from, to int) {
		if from == to {
			return
		}
		if _, dup := seen[[2]int{from, to}]; dup {
			return
		}
		seen[[2]int{from, to}] = struct{}{}
		adj[from] = append(adj[from], to)
		indeg[to]++
	}

	type resUse struct {
		lastWriter int
		readers    []int
	}
	uses := make(map[resKey]*resUse)
	for i, rec := range records {
		for _, a := range rec.accesses {
			if a.key.kind == kindSampler {
				continue
			}
			u, ok := uses[a.key]
			if !ok {
				u = &resUse{lastWriter: -1}
				uses[a.key] = u
			}
			if a.access.IsWrite() {
				if u.lastWriter >= 0 {
					addEdge(u.lastWriter, i)
				}
				for _, rd := range u.readers {
					addEdge(rd, i)
				}
				u.lastWriter = i
				u.readers = u.readers[:0]
			} else {
				if u.lastWriter >= 0 {
					addEdge(u.lastWriter, i)
				}
				u.readers = append(u.readers, i)
			}
		}
	}

	// Kahn's algorithm, always picking the lowest ready registration
	// index so the schedule is deterministic.
	order := make([]int, 0, n)
	done := make([]bool, n)
	for len(order) < n {
		next := -1
		for i := 0; i < n; i++ {
			if !done[i] && indeg[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			return nil, fmt.Errorf("%w between tasks", ErrDependencyCycle)
		}
		done[next] = true
		order = append(order, next)
		for _, to := range adj[next] {
			indeg[to]--
		}
	}
	return order, nil
}

// planFor returns the plan for a track, creating it (and allocating the
// track's round guard) on first participation.
func (s *scheduler) planFor(id TrackID) *trackPlan {
	if tp, ok := s.plans[id]; ok {
		return tp
	}
	tp := &trackPlan{
		id:    id,
		guard: s.g.tracks.byID[id].nextGuard(),
		waits: make(map[TrackID]uint64),
	}
	s.plans[id] = tp
	return tp
}

// scheduleTask synthesizes the barriers for one task and appends it to
// its track's plan.
func (s *scheduler) scheduleTask(rec *taskRecord) error {
	tp := s.planFor(rec.track)
	st := scheduledTask{rec: rec}
	for _, a := range rec.accesses {
		if err := s.requestAccess(tp, &st, a); err != nil {
			return fmt.Errorf("task %q: %w", rec.task.Name(), err)
		}
	}
	tp.tasks = append(tp.tasks, st)
	tp.foreignSignals = append(tp.foreignSignals, rec.reg.foreignSignals...)
	return nil
}

// requestAccess brings one resource into the state the access requires,
// synthesizing init, in-track or cross-track barriers as needed and
// updating the resource table to the newly scheduled state.
func (s *scheduler) requestAccess(tp *trackPlan, st *scheduledTask, a resourceAccess) error {
	switch a.key.kind {
	case kindImage:
		img := s.g.res.images.get(a.key.ref)
		if img == nil {
			return fmt.Errorf("%w: %s", ErrNoSuchResource, a.key)
		}
		return s.requestImage(tp, st, a, img)
	case kindBuffer:
		buf := s.g.res.buffers.get(a.key.ref)
		if buf == nil {
			return fmt.Errorf("%w: %s", ErrNoSuchResource, a.key)
		}
		return s.requestBuffer(tp, st, a, buf)
	case kindSampler:
		if s.g.res.samplers.get(a.key.ref) == nil {
			return fmt.Errorf("%w: %s", ErrNoSuchResource, a.key)
		}
		// Stateless; nothing to synchronise.
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNoSuchResource, a.key)
}

func (s *scheduler) requestImage(tp *trackPlan, st *scheduledTask, a resourceAccess, img *resImage) error {
	family := s.g.tracks.familyOf(tp.id)

	switch img.own.state {
	case ownUninitialised:
		// First touch anywhere: initialise on this track.
		tp.acquireImage = append(tp.acquireImage, driver.ImageBarrier{
			Image:     img.image,
			SrcAccess: 0,
			DstAccess: a.access,
			OldLayout: img.layout,
			NewLayout: a.layout,
			SrcStage:  driver.StageTop,
			DstStage:  stageOr(a.stage),
			SrcFamily: driver.FamilyIgnored,
			DstFamily: driver.FamilyIgnored,
		})
		tp.addWait(img.guard)
		img.own = ownership{state: ownOwned, owner: family}

	case ownOwned:
		if img.own.owner == family {
			if imageNeedsBarrier(img, a, tp.guard) {
				st.imageBarriers = append(st.imageBarriers, driver.ImageBarrier{
					Image:     img.image,
					SrcAccess: img.mask,
					DstAccess: a.access,
					OldLayout: img.layout,
					NewLayout: a.layout,
					SrcStage:  stageOr(img.stage),
					DstStage:  stageOr(a.stage),
					SrcFamily: driver.FamilyIgnored,
					DstFamily: driver.FamilyIgnored,
				})
			}
			tp.addWait(img.guard)
		} else {
			// Cross-track: release on the owner, acquire here. Both
			// halves complete within this pass; the resource is never
			// left released across rounds.
			srcID, ok := s.g.tracks.trackOfFamily(img.own.owner)
			if !ok {
				return fmt.Errorf("%w: %s owned by unknown family %d", ErrAcquireRecord, a.key, img.own.owner)
			}
			src := s.planFor(srcID)
			barrier := driver.ImageBarrier{
				Image:     img.image,
				SrcAccess: img.mask,
				DstAccess: a.access,
				OldLayout: img.layout,
				NewLayout: a.layout,
				SrcStage:  stageOr(img.stage),
				DstStage:  stageOr(a.stage),
				SrcFamily: img.own.owner,
				DstFamily: family,
			}
			if err := releaseRes(&img.own, a.key, family); err != nil {
				return err
			}
			src.releaseImage = append(src.releaseImage, barrier)
			src.addWait(img.guard)
			if err := acquireRes(&img.own, a.key, family); err != nil {
				return err
			}
			tp.acquireImage = append(tp.acquireImage, barrier)
			tp.addWait(src.guard)
			Logger().Debug("ownership transfer", "resource", a.key, "from", srcID, "to", tp.id)
		}

	case ownReleased:
		// A release that survived a scheduling pass is an accounting
		// bug; the matching acquire must have happened in the same pass.
		return fmt.Errorf("%w: %s stuck released (%d -> %d)", ErrReleaseRecord, a.key, img.own.srcFamily, img.own.dstFamily)
	}

	img.mask = a.access
	img.layout = a.layout
	img.stage = a.stage
	img.guard = tp.guard
	return nil
}

func (s *scheduler) requestBuffer(tp *trackPlan, st *scheduledTask, a resourceAccess, buf *resBuffer) error {
	family := s.g.tracks.familyOf(tp.id)

	switch buf.own.state {
	case ownUninitialised:
		tp.acquireBuffer = append(tp.acquireBuffer, driver.BufferBarrier{
			Buffer:    buf.buffer,
			SrcAccess: 0,
			DstAccess: a.access,
			SrcStage:  driver.StageTop,
			DstStage:  stageOr(a.stage),
			SrcFamily: driver.FamilyIgnored,
			DstFamily: driver.FamilyIgnored,
		})
		tp.addWait(buf.guard)
		buf.own = ownership{state: ownOwned, owner: family}

	case ownOwned:
		if buf.own.owner == family {
			if bufferNeedsBarrier(buf, a, tp.guard) {
				st.bufferBarriers = append(st.bufferBarriers, driver.BufferBarrier{
					Buffer:    buf.buffer,
					SrcAccess: buf.mask,
					DstAccess: a.access,
					SrcStage:  stageOr(buf.stage),
					DstStage:  stageOr(a.stage),
					SrcFamily: driver.FamilyIgnored,
					DstFamily: driver.FamilyIgnored,
				})
			}
			tp.addWait(buf.guard)
		} else {
			srcID, ok := s.g.tracks.trackOfFamily(buf.own.owner)
			if !ok {
				return fmt.Errorf("%w: %s owned by unknown family %d", ErrAcquireRecord, a.key, buf.own.owner)
			}
			src := s.planFor(srcID)
			barrier := driver.BufferBarrier{
				Buffer:    buf.buffer,
				SrcAccess: buf.mask,
				DstAccess: a.access,
				SrcStage:  stageOr(buf.stage),
				DstStage:  stageOr(a.stage),
				SrcFamily: buf.own.owner,
				DstFamily: family,
			}
			if err := releaseRes(&buf.own, a.key, family); err != nil {
				return err
			}
			src.releaseBuffer = append(src.releaseBuffer, barrier)
			src.addWait(buf.guard)
			if err := acquireRes(&buf.own, a.key, family); err != nil {
				return err
			}
			tp.acquireBuffer = append(tp.acquireBuffer, barrier)
			tp.addWait(src.guard)
			Logger().Debug("ownership transfer", "resource", a.key, "from", srcID, "to", tp.id)
		}

	case ownReleased:
		return fmt.Errorf("%w: %s stuck released (%d -> %d)", ErrReleaseRecord, a.key, buf.own.srcFamily, buf.own.dstFamily)
	}

	buf.mask = a.access
	buf.stage = a.stage
	buf.guard = tp.guard
	return nil
}

// releaseRes transitions a resource into the released half of an
// ownership transfer.
func releaseRes(own *ownership, key resKey, dstFamily uint32) error {
	switch own.state {
	case ownOwned:
		own.state = ownReleased
		own.srcFamily = own.owner
		own.dstFamily = dstFamily
		return nil
	case ownReleased:
		return fmt.Errorf("%w: %s already released (%d -> %d)", ErrReleaseRecord, key, own.srcFamily, own.dstFamily)
	default:
		return fmt.Errorf("%w: %s", ErrReleaseUninitialised, key)
	}
}

// acquireRes completes an ownership transfer on the destination family.
func acquireRes(own *ownership, key resKey, dstFamily uint32) error {
	switch own.state {
	case ownReleased:
		if own.dstFamily != dstFamily {
			return fmt.Errorf("%w: %s released to family %d, acquired by %d", ErrReleaseRecord, key, own.dstFamily, dstFamily)
		}
		own.state = ownOwned
		own.owner = dstFamily
		return nil
	case ownOwned:
		return fmt.Errorf("%w: %s still owned by family %d", ErrAcquireRecord, key, own.owner)
	default:
		return fmt.Errorf("%w: %s", ErrReleaseUninitialised, key)
	}
}

// imageNeedsBarrier decides whether a same-track access needs a barrier:
// any access/layout mismatch, or a write hazard against work already
// scheduled in this round's submission (same guard, no semaphore between
// them).
func imageNeedsBarrier(img *resImage, a resourceAccess, round Guard) bool {
	if img.mask != a.access || img.layout != a.layout {
		return true
	}
	return img.guard == round && (img.mask.IsWrite() || a.access.IsWrite())
}

func bufferNeedsBarrier(buf *resBuffer, a resourceAccess, round Guard) bool {
	if buf.mask != a.access {
		return true
	}
	return buf.guard == round && (buf.mask.IsWrite() || a.access.IsWrite())
}

// stageOr widens an unspecified stage to the conservative default.
func stageOr(stage driver.PipelineStage) driver.PipelineStage {
	if stage == 0 {
		return driver.StageAllCommands
	}
	return stage
}

// prepareTracks validates every declared access against the resource
// table and derives the round's track-level submission order, all
// before synthesis mutates anything. Ownership transfers are the only
// same-round cross-track edges, so simulating the owner per resource
// along the task order yields the full track dependency graph. A cycle
// means two tracks would each wait on the other's round guard —
// undischargeable with one submission per track per round — and the
// round fails with the table untouched.
func (s *scheduler) prepareTracks(order []int, records []*taskRecord) ([]TrackID, error) {
	owner := make(map[resKey]TrackID)
	deps := make(map[TrackID]map[TrackID]struct{})
	involved := make(map[TrackID]struct{})

	for _, idx := range order {
		rec := records[idx]
		involved[rec.track] = struct{}{}
		for _, a := range rec.accesses {
			src, held, err := s.currentOwner(owner, a.key)
			if err != nil {
				return nil, fmt.Errorf("task %q: %w", rec.task.Name(), err)
			}
			if a.key.kind == kindSampler {
				continue
			}
			if held && src != rec.track {
				involved[src] = struct{}{}
				d := deps[rec.track]
				if d == nil {
					d = make(map[TrackID]struct{})
					deps[rec.track] = d
				}
				d[src] = struct{}{}
			}
			owner[a.key] = rec.track
		}
	}

	trackOrder := make([]TrackID, 0, len(involved))
	done := make(map[TrackID]bool, len(involved))
	for len(trackOrder) < len(involved) {
		progressed := false
		for _, id := range s.g.tracks.order {
			if _, in := involved[id]; !in || done[id] {
				continue
			}
			ready := true
			for dep := range deps[id] {
				if !done[dep] {
					ready = false
					break
				}
			}
			if !ready {
				continue
			}
			done[id] = true
			trackOrder = append(trackOrder, id)
			progressed = true
		}
		if !progressed {
			return nil, fmt.Errorf("%w between tracks", ErrDependencyCycle)
		}
	}
	return trackOrder, nil
}

// currentOwner resolves which track holds a resource at this point of
// the simulated round: the last track to touch it this round, else the
// owner recorded in the resource table. Stale handles and impossible
// ownership states are rejected here, before any mutation.
func (s *scheduler) currentOwner(owner map[resKey]TrackID, key resKey) (TrackID, bool, error) {
	if id, ok := owner[key]; ok {
		return id, true, nil
	}
	switch key.kind {
	case kindImage:
		img := s.g.res.images.get(key.ref)
		if img == nil {
			return 0, false, fmt.Errorf("%w: %s", ErrNoSuchResource, key)
		}
		return s.heldBy(img.own, key)
	case kindBuffer:
		buf := s.g.res.buffers.get(key.ref)
		if buf == nil {
			return 0, false, fmt.Errorf("%w: %s", ErrNoSuchResource, key)
		}
		return s.heldBy(buf.own, key)
	case kindSampler:
		if s.g.res.samplers.get(key.ref) == nil {
			return 0, false, fmt.Errorf("%w: %s", ErrNoSuchResource, key)
		}
		return 0, false, nil
	}
	return 0, false, fmt.Errorf("%w: %s", ErrNoSuchResource, key)
}

func (s *scheduler) heldBy(own ownership, key resKey) (TrackID, bool, error) {
	switch own.state {
	case ownOwned:
		id, ok := s.g.tracks.trackOfFamily(own.owner)
		if !ok {
			return 0, false, fmt.Errorf("%w: %s owned by unknown family %d", ErrAcquireRecord, key, own.owner)
		}
		return id, true, nil
	case ownReleased:
		return 0, false, fmt.Errorf("%w: %s stuck released (%d -> %d)", ErrReleaseRecord, key, own.srcFamily, own.dstFamily)
	}
	return 0, false, nil
}
