package taskgraph

import (
	"fmt"

	"github.com/gogpu/taskgraph/driver"
)

// executePlan records and submits every track plan in dependency order.
// Post-record hooks run after all submissions, in registration order.
//
// Validation happened during planning, so the only failures left here
// are device failures. A device error still aborts the round, but by
// then the resource table already reflects the planned state; callers
// should treat the device as lost (every driver error that reaches this
// point wraps driver.ErrDeviceLost semantics).
func (g *Graph) executePlan(p *plan) (map[TrackID]Guard, error) {
	for _, id := range p.order {
		tp := p.tracks[id]
		if err := g.submitTrack(tp); err != nil {
			return nil, err
		}
	}

	for _, rec := range p.records {
		if post, ok := rec.task.(PostRecorder); ok {
			post.PostRecord(g.res, p.guards[rec.track])
		}
	}
	return p.guards, nil
}

// submitTrack records one track's submission and hands it to the queue.
func (g *Graph) submitTrack(tp *trackPlan) error {
	t := g.tracks.byID[tp.id]

	sink, err := g.dev.NewSink(t.family)
	if err != nil {
		return fmt.Errorf("taskgraph: opening sink for %s: %w", tp.id, err)
	}

	if len(tp.acquireImage) > 0 {
		sink.ImageBarriers(tp.acquireImage...)
	}
	if len(tp.acquireBuffer) > 0 {
		sink.BufferBarriers(tp.acquireBuffer...)
	}

	for _, st := range tp.tasks {
		if len(st.imageBarriers) > 0 {
			sink.ImageBarriers(st.imageBarriers...)
		}
		if len(st.bufferBarriers) > 0 {
			sink.BufferBarriers(st.bufferBarriers...)
		}
		if err := st.rec.task.Record(sink, g.res); err != nil {
			return fmt.Errorf("taskgraph: task %q: record: %w", st.rec.task.Name(), err)
		}
	}

	if len(tp.releaseImage) > 0 {
		sink.ImageBarriers(tp.releaseImage...)
	}
	if len(tp.releaseBuffer) > 0 {
		sink.BufferBarriers(tp.releaseBuffer...)
	}

	waits := make([]driver.TimelinePoint, 0, len(tp.waits))
	for trackID, value := range tp.waits {
		waits = append(waits, driver.TimelinePoint{
			Timeline: g.tracks.byID[trackID].timeline,
			Value:    value,
		})
	}
	signals := make([]driver.TimelinePoint, 0, 1+len(tp.foreignSignals))
	signals = append(signals, driver.TimelinePoint{Timeline: t.timeline, Value: tp.guard.target})
	signals = append(signals, tp.foreignSignals...)

	sub := driver.Submission{Sink: sink, Waits: waits, Signals: signals}
	if err := g.dev.Submit(t.family, sub); err != nil {
		return fmt.Errorf("taskgraph: submitting to %s: %w", tp.id, err)
	}
	t.inflight = append(t.inflight, execution{guard: tp.guard, sink: sink})
	Logger().Debug("submitted", "track", tp.id, "guard", tp.guard, "tasks", len(tp.tasks), "waits", len(waits))
	return nil
}
