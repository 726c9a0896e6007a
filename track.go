package taskgraph

import (
	"context"
	"fmt"
	"sort"

	"github.com/gogpu/taskgraph/driver"
)

// TrackID identifies one execution track by its masked queue capability
// bitset. Two queues with the same masked capabilities share a track.
type TrackID driver.QueueCaps

// Caps returns the capability bitset the track supports.
func (id TrackID) Caps() driver.QueueCaps { return driver.QueueCaps(id) }

func (id TrackID) String() string {
	return fmt.Sprintf("Track(%s)", driver.QueueCaps(id))
}

// Guard marks a point on one track's timeline. It is satisfied once the
// track's observed completion counter reaches the target value, and is
// the only handle through which the host learns that asynchronous device
// work has finished.
//
// The zero Guard refers to no submission and is always finished.
type Guard struct {
	track  TrackID
	target uint64
}

// Track returns the track the guard points into.
func (g Guard) Track() TrackID { return g.track }

// TargetValue returns the timeline value the guard waits for.
func (g Guard) TargetValue() uint64 { return g.target }

// pending reports whether the guard refers to an actual submission.
func (g Guard) pending() bool { return g.target != 0 }

// Max combines two guards on the same track into the later one. Two
// pending guards on different tracks have no single-guard upper bound;
// ok is false and both guards must be queried separately.
func (g Guard) Max(other Guard) (_ Guard, ok bool) {
	if !g.pending() {
		return other, true
	}
	if !other.pending() {
		return g, true
	}
	if other.track != g.track {
		return Guard{}, false
	}
	if other.target > g.target {
		return other, true
	}
	return g, true
}

func (g Guard) String() string {
	return fmt.Sprintf("Guard(%s@%d)", g.track, g.target)
}

// execution is one in-flight submission on a track.
type execution struct {
	guard Guard
	// sink keeps the recorded commands (and everything they reference)
	// reachable until the device is done with them.
	sink driver.CommandSink
}

// track is one execution lane: a queue family plus its timeline.
type track struct {
	id       TrackID
	family   uint32
	caps     driver.QueueCaps
	timeline driver.Timeline

	// latestSignaled is the highest timeline value handed out to a
	// submission. Advanced optimistically at guard allocation; the
	// device catches up as work completes.
	latestSignaled uint64

	inflight []execution
}

// nextGuard allocates the track's next timeline point.
func (t *track) nextGuard() Guard {
	t.latestSignaled++
	return Guard{track: t.id, target: t.latestSignaled}
}

// tick retires every in-flight execution the device has completed.
func (t *track) tick() {
	finished := t.timeline.Value()
	kept := t.inflight[:0]
	for _, exec := range t.inflight {
		if exec.guard.target > finished {
			kept = append(kept, exec)
		}
	}
	t.inflight = kept
}

// waitIdle blocks until every in-flight execution has completed.
func (t *track) waitIdle(ctx context.Context) error {
	var max uint64
	for _, exec := range t.inflight {
		if exec.guard.target > max {
			max = exec.guard.target
		}
	}
	if max == 0 {
		return nil
	}
	if err := t.timeline.Wait(ctx, max); err != nil {
		return err
	}
	t.inflight = t.inflight[:0]
	return nil
}

// tracks owns one track per distinct masked capability combination the
// device exposes. The order slice fixes iteration order so that track
// selection is deterministic.
type tracks struct {
	byID  map[TrackID]*track
	order []TrackID
}

// newTracks discovers the device's queues and creates one track per
// distinct masked capability set. The first queue of each set wins.
func newTracks(dev driver.Device) (*tracks, error) {
	ts := &tracks{byID: make(map[TrackID]*track)}
	for _, q := range dev.Queues() {
		id := TrackID(q.Caps.Masked())
		if _, ok := ts.byID[id]; ok {
			continue
		}
		timeline, err := dev.NewTimeline(0)
		if err != nil {
			return nil, fmt.Errorf("taskgraph: creating timeline for %s: %w", id, err)
		}
		ts.byID[id] = &track{
			id:       id,
			family:   q.Family,
			caps:     q.Caps,
			timeline: timeline,
		}
		ts.order = append(ts.order, id)
		Logger().Info("track created", "track", id, "family", q.Family)
	}
	sort.Slice(ts.order, func(i, j int) bool { return ts.order[i] < ts.order[j] })
	return ts, nil
}

// guardFinished reports whether the guard's target value has been
// reached. A guard for an unknown track is reported unfinished: claiming
// completion for work we cannot observe would green-light a
// use-after-free.
func (ts *tracks) guardFinished(g Guard) bool {
	if !g.pending() {
		return true
	}
	t, ok := ts.byID[g.track]
	if !ok {
		Logger().Warn("guard queried for unknown track", "track", g.track)
		return false
	}
	return t.timeline.Value() >= g.target
}

// trackForUsage returns the track whose capability bitset is the minimal
// superset of usage, widening through the policy's precedence list. An
// exact match wins immediately, keeping specialised queues busy with the
// work they are specialised for.
func (ts *tracks) trackForUsage(policy CapabilityPolicy, usage driver.QueueCaps) (TrackID, bool) {
	usage = usage.Masked()
	for _, addOn := range policy.Precedence {
		target := usage | addOn
		for _, id := range ts.order {
			if driver.QueueCaps(id) == target {
				Logger().Debug("track selected", "usage", usage, "track", id)
				return id, true
			}
		}
	}
	Logger().Debug("no fitting track", "usage", usage)
	return 0, false
}

// familyOf returns the queue family behind a track.
func (ts *tracks) familyOf(id TrackID) uint32 {
	return ts.byID[id].family
}

// trackOfFamily maps a queue family back to its track.
func (ts *tracks) trackOfFamily(family uint32) (TrackID, bool) {
	for _, id := range ts.order {
		if ts.byID[id].family == family {
			return id, true
		}
	}
	return 0, false
}
